// Package services contains business logic implementations.
package services

import (
	"context"
	"time"

	"github.com/TFMV/plantatlas/pkg/dataset"
	"github.com/TFMV/plantatlas/pkg/models"
)

// FacilityService answers facility queries against the configured source.
type FacilityService interface {
	// List returns one page of all facilities in source order.
	List(ctx context.Context, req models.PageRequest) (*models.Page, error)
	// Get returns the facility with the given id.
	Get(ctx context.Context, id int64) (*models.Record, error)
	// ByField returns every facility whose field equals value exactly.
	ByField(ctx context.Context, field, value string) ([]models.Record, error)
	// ByGroup returns every facility in the given group, e.g. a state.
	ByGroup(ctx context.Context, group string) ([]models.Record, error)
	// Points returns map coordinates, optionally filtered by field and value.
	Points(ctx context.Context, field, value string) ([]dataset.Point, error)
	// Snapshot returns the whole loaded record set.
	Snapshot(ctx context.Context) (*models.RecordSet, error)
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}
