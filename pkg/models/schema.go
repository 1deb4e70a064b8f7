package models

import "fmt"

// Logical field names understood by every query.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldCategory  = "category"
	FieldGroupKey  = "group_key"
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
)

// Schema maps logical fields to source column names.
type Schema struct {
	ID        string `json:"id" mapstructure:"id"`
	Name      string `json:"name" mapstructure:"name"`
	Category  string `json:"category" mapstructure:"category"`
	GroupKey  string `json:"group_key" mapstructure:"group_key"`
	Latitude  string `json:"latitude" mapstructure:"latitude"`
	Longitude string `json:"longitude" mapstructure:"longitude"`
}

// DefaultSchema matches the EIA power plant CSV used by the tutorial.
func DefaultSchema() Schema {
	return Schema{
		ID:        "Plant_Code",
		Name:      "Plant_Name",
		Category:  "PrimSource",
		GroupKey:  "StateName",
		Latitude:  "Latitude",
		Longitude: "Longitude",
	}
}

// Fields returns the logical field -> column pairs in a stable order.
func (s Schema) Fields() [][2]string {
	return [][2]string{
		{FieldID, s.ID},
		{FieldName, s.Name},
		{FieldCategory, s.Category},
		{FieldGroupKey, s.GroupKey},
		{FieldLatitude, s.Latitude},
		{FieldLongitude, s.Longitude},
	}
}

// Validate rejects empty or repeated column names.
func (s Schema) Validate() error {
	seen := make(map[string]string, 6)
	for _, f := range s.Fields() {
		if f[1] == "" {
			return fmt.Errorf("schema: column for field %q is empty", f[0])
		}
		if other, ok := seen[f[1]]; ok {
			return fmt.Errorf("schema: column %q mapped to both %q and %q", f[1], other, f[0])
		}
		seen[f[1]] = f[0]
	}
	return nil
}

// Column resolves a logical field name to its source column. Names that are
// not logical fields are returned unchanged so raw columns can be queried.
func (s Schema) Column(field string) string {
	for _, f := range s.Fields() {
		if f[0] == field {
			return f[1]
		}
	}
	return field
}
