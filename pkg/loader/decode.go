// Package loader validates tabular rows into typed records.
//
// Sources hand Decode an Arrow record stream; Decode checks every row against
// the configured Schema and either returns a complete RecordSet or reports all
// rows that failed, never a silently truncated set.
package loader

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/hashicorp/go-multierror"

	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/models"
)

// Options controls how malformed rows are handled.
type Options struct {
	// SkipMalformed keeps valid rows and lists the rejected ones in the
	// LoadReport instead of failing the whole load.
	SkipMalformed bool
}

// Decode reads every batch from reader and validates each row against schema.
// The reader is not released.
func Decode(reader array.RecordReader, schema models.Schema, opts Options) (*models.RecordSet, models.LoadReport, error) {
	start := time.Now()
	var report models.LoadReport

	if err := schema.Validate(); err != nil {
		return nil, report, errors.Wrap(err, errors.CodeInvalidRequest, "invalid schema")
	}

	columns := columnNames(reader.Schema())
	index, err := resolveColumns(columns, schema)
	if err != nil {
		return nil, report, err
	}

	set := &models.RecordSet{
		Schema:  schema,
		Columns: columns,
		Records: []models.Record{},
	}

	var rowErrs []models.RowError
	var merr *multierror.Error
	seen := make(map[int64]int)
	row := 0

	for reader.Next() {
		batch := reader.Record()
		for i := 0; i < int(batch.NumRows()); i++ {
			row++
			rec, problems := decodeRow(batch, i, row, columns, index)
			if len(problems) == 0 {
				if first, dup := seen[rec.ID]; dup {
					problems = append(problems, models.RowError{
						Row:    row,
						Column: schema.ID,
						Value:  strconv.FormatInt(rec.ID, 10),
						Reason: "duplicate id, first seen at row " + strconv.Itoa(first),
					})
				}
			}
			if len(problems) > 0 {
				for j := range problems {
					merr = multierror.Append(merr, &problems[j])
				}
				rowErrs = append(rowErrs, problems...)
				continue
			}
			seen[rec.ID] = row
			set.Records = append(set.Records, rec)
		}
	}

	report.RowsRead = row
	if err := reader.Err(); err != nil {
		if errors.GetCode(err) == errors.CodeInternal {
			err = errors.Wrap(err, errors.CodeSourceUnavailable, "failed to read source")
		}
		return nil, report, err
	}

	if merr != nil && !opts.SkipMalformed {
		report.Duration = time.Since(start)
		return nil, report, errors.Wrapf(merr.ErrorOrNil(), errors.CodeMalformedRecord,
			"%d malformed field(s) in %d row(s)", len(rowErrs), distinctRows(rowErrs)).
			WithDetail("rows", rowErrs)
	}

	report.Skipped = rowErrs
	report.Loaded = len(set.Records)
	report.Duration = time.Since(start)
	return set, report, nil
}

func columnNames(s *arrow.Schema) []string {
	names := make([]string, s.NumFields())
	for i, f := range s.Fields() {
		names[i] = f.Name
	}
	return names
}

// fieldIndex holds the column position of every logical field.
type fieldIndex struct {
	id, name, category, groupKey, lat, lon int
}

func resolveColumns(columns []string, schema models.Schema) (fieldIndex, error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := pos[c]; !dup {
			pos[c] = i
		}
	}

	var missing []string
	lookup := func(column string) int {
		i, ok := pos[column]
		if !ok {
			missing = append(missing, column)
			return -1
		}
		return i
	}

	idx := fieldIndex{
		id:       lookup(schema.ID),
		name:     lookup(schema.Name),
		category: lookup(schema.Category),
		groupKey: lookup(schema.GroupKey),
		lat:      lookup(schema.Latitude),
		lon:      lookup(schema.Longitude),
	}
	if len(missing) > 0 {
		return idx, errors.Newf(errors.CodeMalformedRecord, "source is missing required column(s): %s", strings.Join(missing, ", ")).
			WithDetail("missing_columns", missing)
	}
	return idx, nil
}

func decodeRow(batch arrow.Record, i, row int, columns []string, idx fieldIndex) (models.Record, []models.RowError) {
	fields := make(map[string]string, len(columns))
	for c, name := range columns {
		if _, dup := fields[name]; dup {
			continue
		}
		fields[name] = cellText(batch.Column(c), i)
	}

	var problems []models.RowError
	fail := func(col int, reason string) {
		problems = append(problems, models.RowError{
			Row:    row,
			Column: columns[col],
			Value:  fields[columns[col]],
			Reason: reason,
		})
	}

	rec := models.Record{
		Name:     fields[columns[idx.name]],
		Category: fields[columns[idx.category]],
		GroupKey: fields[columns[idx.groupKey]],
		Row:      row,
		Fields:   fields,
	}

	id, err := strconv.ParseInt(strings.TrimSpace(fields[columns[idx.id]]), 10, 64)
	if err != nil {
		fail(idx.id, "id is not an integer")
	}
	rec.ID = id

	if strings.TrimSpace(rec.Name) == "" {
		fail(idx.name, "name is empty")
	}

	lat, ok := parseCoordinate(fields[columns[idx.lat]], 90)
	if !ok {
		fail(idx.lat, "latitude must be a number in [-90, 90]")
	}
	lon, ok := parseCoordinate(fields[columns[idx.lon]], 180)
	if !ok {
		fail(idx.lon, "longitude must be a number in [-180, 180]")
	}
	rec.Location = models.GeoPoint{Latitude: lat, Longitude: lon}

	return rec, problems
}

func parseCoordinate(text string, limit float64) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, v >= -limit && v <= limit
}

// cellText renders a cell as source text; nulls become the empty string.
func cellText(col arrow.Array, i int) string {
	if col.IsNull(i) {
		return ""
	}
	switch c := col.(type) {
	case *array.String:
		return c.Value(i)
	case *array.LargeString:
		return c.Value(i)
	case *array.Float64:
		return strconv.FormatFloat(c.Value(i), 'f', -1, 64)
	case *array.Float32:
		return strconv.FormatFloat(float64(c.Value(i)), 'f', -1, 32)
	default:
		return col.ValueStr(i)
	}
}

func distinctRows(errs []models.RowError) int {
	n, last := 0, 0
	for _, e := range errs {
		if e.Row != last {
			n++
			last = e.Row
		}
	}
	return n
}
