// Package repositories defines interfaces for reading facility record sources.
package repositories

import (
	"context"

	"github.com/TFMV/plantatlas/pkg/models"
)

// RecordRepository loads a complete record set from a static source.
type RecordRepository interface {
	// LoadAll reads and validates every row of the source in source order.
	LoadAll(ctx context.Context) (*models.RecordSet, error)
	// Version returns the current on-disk revision of the source.
	Version(ctx context.Context) (models.SourceVersion, error)
	// Path returns the source location, used as the cache key.
	Path() string
	// Close releases any resources held by the repository.
	Close() error
}

// SourceConfig describes a file source and how its rows are validated.
type SourceConfig struct {
	Path          string
	Schema        models.Schema
	SkipMalformed bool
	BatchSize     int
}
