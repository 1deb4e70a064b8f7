// Package dataset answers queries against a loaded record set.
//
// Every function here is pure: it never performs I/O and never mutates the
// set it is given. Results preserve source order.
package dataset

import (
	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/models"
)

// Paginate returns records [size*(page-1), size*page) of set.
//
// Page numbers are 1-indexed. A page number that is zero, negative or past the
// last page yields an empty page; PageInfo is always accurate. Only a
// non-positive size is an error.
func Paginate(set *models.RecordSet, pageNumber, pageSize int) (models.Page, error) {
	if pageSize <= 0 {
		return models.Page{}, errors.Newf(errors.CodeInvalidRequest, "page size must be positive, got %d", pageSize).
			WithDetail("page_size", pageSize)
	}

	total := set.Len()
	info := models.NewPageInfo(total, pageNumber, pageSize)
	// Decide emptiness before computing the offset so huge page numbers
	// cannot overflow back into range.
	if !info.InRange() {
		return models.Page{Records: []models.Record{}, Info: info}, nil
	}

	start := pageSize * (pageNumber - 1)
	end := start + pageSize
	if end > total || end < start {
		end = total
	}

	return models.Page{Records: set.Records[start:end:end], Info: info}, nil
}

// FindByID returns the record with the given id. When the source contains
// duplicates the first occurrence wins, although loaders reject them.
func FindByID(set *models.RecordSet, id int64) (models.Record, error) {
	for i := 0; i < set.Len(); i++ {
		if set.Records[i].ID == id {
			return set.Records[i], nil
		}
	}
	return models.Record{}, errors.Newf(errors.CodeNotFound, "record %d not found", id).WithDetail("id", id)
}

// FindByField returns every record whose field equals value exactly.
//
// field is either a logical name (id, name, category, group_key, latitude,
// longitude) or a raw source column. Comparison is on the raw source text with
// no case folding. No match yields an empty, non-nil slice; a field that is
// not a column of the set is an INVALID_REQUEST error.
func FindByField(set *models.RecordSet, field, value string) ([]models.Record, error) {
	if set == nil {
		return []models.Record{}, nil
	}

	column := set.Schema.Column(field)
	if !hasColumn(set, column) {
		return nil, errors.Newf(errors.CodeInvalidRequest, "unknown field %q", field).WithDetail("field", field)
	}

	matches := []models.Record{}
	for _, rec := range set.Records {
		if v, ok := rec.Value(column); ok && v == value {
			matches = append(matches, rec)
		}
	}
	return matches, nil
}

// Points projects records onto their coordinates for map rendering.
func Points(records []models.Record) []Point {
	points := make([]Point, len(records))
	for i, rec := range records {
		points[i] = Point{
			ID:       rec.ID,
			Name:     rec.Name,
			Category: rec.Category,
			Location: rec.Location,
		}
	}
	return points
}

// Point is the minimal shape a map widget needs.
type Point struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Location models.GeoPoint `json:"location"`
}

func hasColumn(set *models.RecordSet, column string) bool {
	for _, c := range set.Columns {
		if c == column {
			return true
		}
	}
	return false
}
