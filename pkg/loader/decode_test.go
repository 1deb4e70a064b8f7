package loader

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/models"
)

var plantColumns = []string{"Plant_Code", "Plant_Name", "PrimSource", "StateName", "Latitude", "Longitude", "County"}

// newReader builds an all-text reader; an empty cell becomes a null.
func newReader(t *testing.T, columns []string, batches ...[][]string) array.RecordReader {
	t.Helper()

	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = arrow.Field{Name: c, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	var recs []arrow.Record
	for _, rows := range batches {
		b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
		for _, row := range rows {
			for c, v := range row {
				sb := b.Field(c).(*array.StringBuilder)
				if v == "" {
					sb.AppendNull()
				} else {
					sb.Append(v)
				}
			}
		}
		recs = append(recs, b.NewRecord())
		b.Release()
	}

	reader, err := array.NewRecordReader(schema, recs)
	require.NoError(t, err)
	for _, r := range recs {
		r.Release()
	}
	t.Cleanup(reader.Release)
	return reader
}

func TestDecode_Valid(t *testing.T) {
	reader := newReader(t, plantColumns,
		[][]string{
			{"2", "Bankhead Dam", "hydroelectric", "Alabama", "33.458665", "-87.356823", "Tuscaloosa"},
			{"3", "Barry", "natural gas", "Alabama", "31.0069", "-88.0103", ""},
		},
		[][]string{
			{"4", "Walter Bouldin Dam", "hydroelectric", "Alabama", "32.583889", "-86.283056", "Elmore"},
		},
	)

	set, report, err := Decode(reader, models.DefaultSchema(), Options{})
	require.NoError(t, err)

	require.Equal(t, 3, set.Len())
	assert.Equal(t, plantColumns, set.Columns)
	assert.Equal(t, 3, report.RowsRead)
	assert.Equal(t, 3, report.Loaded)
	assert.Empty(t, report.Skipped)

	first := set.Records[0]
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, "Bankhead Dam", first.Name)
	assert.Equal(t, "hydroelectric", first.Category)
	assert.Equal(t, "Alabama", first.GroupKey)
	assert.InDelta(t, 33.458665, first.Location.Latitude, 1e-9)
	assert.InDelta(t, -87.356823, first.Location.Longitude, 1e-9)
	assert.Equal(t, 1, first.Row)
	assert.Equal(t, "Tuscaloosa", first.Fields["County"])

	assert.Equal(t, "", set.Records[1].Fields["County"], "nulls read as empty text")
	assert.Equal(t, int64(4), set.Records[2].ID)
	assert.Equal(t, 3, set.Records[2].Row, "row numbers continue across batches")
}

func TestDecode_MalformedRowsAreAllReported(t *testing.T) {
	rows := [][]string{
		{"2", "Bankhead Dam", "hydroelectric", "Alabama", "33.458665", "-87.356823", ""},
		{"x7", "Bad Id", "solar", "Arizona", "33.1", "-112.0", ""},
		{"8", "Bad Coordinates", "solar", "Arizona", "133.1", "north", ""},
		{"2", "Duplicate", "hydroelectric", "Alabama", "33.4", "-87.3", ""},
		{"9", "", "wind", "Texas", "31.0", "-100.0", ""},
	}

	t.Run("strict", func(t *testing.T) {
		set, report, err := Decode(newReader(t, plantColumns, rows), models.DefaultSchema(), Options{})
		require.Error(t, err)
		assert.Nil(t, set)
		assert.True(t, pkgerrors.IsMalformed(err))
		assert.Equal(t, 5, report.RowsRead)

		var accessErr *pkgerrors.AccessError
		require.True(t, errors.As(err, &accessErr))
		rowErrs := accessErr.Details["rows"].([]models.RowError)
		require.Len(t, rowErrs, 5)

		assert.Equal(t, models.RowError{Row: 2, Column: "Plant_Code", Value: "x7", Reason: "id is not an integer"}, rowErrs[0])
		assert.Equal(t, 3, rowErrs[1].Row)
		assert.Equal(t, "Latitude", rowErrs[1].Column)
		assert.Equal(t, "Longitude", rowErrs[2].Column)
		assert.Equal(t, 4, rowErrs[3].Row)
		assert.Contains(t, rowErrs[3].Reason, "first seen at row 1")
		assert.Equal(t, "Plant_Name", rowErrs[4].Column)
		assert.Contains(t, err.Error(), "5 malformed field(s) in 4 row(s)")
	})

	t.Run("skip", func(t *testing.T) {
		set, report, err := Decode(newReader(t, plantColumns, rows), models.DefaultSchema(), Options{SkipMalformed: true})
		require.NoError(t, err)
		require.Equal(t, 1, set.Len())
		assert.Equal(t, int64(2), set.Records[0].ID)
		assert.Equal(t, 1, report.Loaded)
		assert.Len(t, report.Skipped, 5)
	})
}

func TestDecode_MissingColumn(t *testing.T) {
	reader := newReader(t, []string{"Plant_Code", "Plant_Name", "StateName"},
		[][]string{{"2", "Bankhead Dam", "Alabama"}})

	_, _, err := Decode(reader, models.DefaultSchema(), Options{SkipMalformed: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsMalformed(err), "a missing column fails even when rows may be skipped")
	assert.Contains(t, err.Error(), "PrimSource, Latitude, Longitude")
}

func TestDecode_InvalidSchema(t *testing.T) {
	schema := models.DefaultSchema()
	schema.ID = ""

	_, _, err := Decode(newReader(t, plantColumns), schema, Options{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalidRequest(err))
}

func TestDecode_CustomSchemaAndTypedColumns(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "code", Type: arrow.PrimitiveTypes.Int64},
		{Name: "title", Type: arrow.BinaryTypes.String},
		{Name: "kind", Type: arrow.BinaryTypes.String},
		{Name: "region", Type: arrow.BinaryTypes.String},
		{Name: "lat", Type: arrow.PrimitiveTypes.Float64},
		{Name: "lon", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{10, 11}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"North", "South"}, nil)
	b.Field(2).(*array.StringBuilder).AppendValues([]string{"wind", "solar"}, nil)
	b.Field(3).(*array.StringBuilder).AppendValues([]string{"Iowa", "Iowa"}, nil)
	b.Field(4).(*array.Float64Builder).AppendValues([]float64{42.5, 41.25}, nil)
	b.Field(5).(*array.Float64Builder).AppendValues([]float64{-93.5, -91}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	reader, err := array.NewRecordReader(schema, []arrow.Record{rec})
	require.NoError(t, err)
	defer reader.Release()

	set, _, err := Decode(reader, models.Schema{
		ID: "code", Name: "title", Category: "kind", GroupKey: "region", Latitude: "lat", Longitude: "lon",
	}, Options{})
	require.NoError(t, err)

	require.Equal(t, 2, set.Len())
	assert.Equal(t, int64(11), set.Records[1].ID)
	assert.Equal(t, "11", set.Records[1].Fields["code"])
	assert.Equal(t, "-91", set.Records[1].Fields["lon"])
	assert.Equal(t, 41.25, set.Records[1].Location.Latitude)
}

func TestDecode_Empty(t *testing.T) {
	set, report, err := Decode(newReader(t, plantColumns), models.DefaultSchema(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
	assert.NotNil(t, set.Records)
	assert.Equal(t, 0, report.RowsRead)
}
