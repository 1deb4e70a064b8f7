// Package models provides data structures used throughout plantatlas.
package models

import (
	"strconv"
	"time"
)

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Record is one facility row, validated against a Schema.
type Record struct {
	ID       int64             `json:"id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	GroupKey string            `json:"group_key"`
	Location GeoPoint          `json:"location"`
	Row      int               `json:"row"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Value returns the raw source text of a column.
func (r Record) Value(column string) (string, bool) {
	v, ok := r.Fields[column]
	return v, ok
}

// SourceVersion identifies one revision of a static source on disk.
type SourceVersion struct {
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
}

// Equal reports whether two versions describe the same file contents.
func (v SourceVersion) Equal(other SourceVersion) bool {
	return v.Path == other.Path && v.Size == other.Size && v.ModTime.Equal(other.ModTime)
}

// String renders the version for logs and cache keys.
func (v SourceVersion) String() string {
	return v.Path + "@" + strconv.FormatInt(v.ModTime.UnixNano(), 10) + ":" + strconv.FormatInt(v.Size, 10)
}

// RecordSet is an ordered, read-only sequence of records in source order.
type RecordSet struct {
	Records  []Record      `json:"records"`
	Schema   Schema        `json:"schema"`
	Columns  []string      `json:"columns"`
	Version  SourceVersion `json:"version"`
	LoadedAt time.Time     `json:"loaded_at"`
}

// Len returns the number of records.
func (s *RecordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// RowError describes why a single source row was rejected.
type RowError struct {
	Row    int    `json:"row"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *RowError) Error() string {
	if e.Column == "" {
		return "row " + strconv.Itoa(e.Row) + ": " + e.Reason
	}
	return "row " + strconv.Itoa(e.Row) + ", column " + e.Column + " (" + strconv.Quote(e.Value) + "): " + e.Reason
}

// LoadReport summarises a load. Skipped is non-empty only when malformed rows are tolerated.
type LoadReport struct {
	RowsRead int           `json:"rows_read"`
	Loaded   int           `json:"loaded"`
	Skipped  []RowError    `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}
