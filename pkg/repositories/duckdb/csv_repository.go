// Package duckdb provides a DuckDB-backed record repository for CSV sources.
package duckdb

import (
	"context"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/infrastructure/converter"
	"github.com/TFMV/plantatlas/pkg/infrastructure/pool"
	"github.com/TFMV/plantatlas/pkg/loader"
	"github.com/TFMV/plantatlas/pkg/models"
	"github.com/TFMV/plantatlas/pkg/repositories"
)

// csvRepository implements repositories.RecordRepository over a CSV file.
type csvRepository struct {
	pool      pool.ConnectionPool
	allocator memory.Allocator
	config    repositories.SourceConfig
	logger    zerolog.Logger
}

// NewCSVRepository creates a repository that reads config.Path with DuckDB's
// CSV reader. Every column is read as text; typing happens in loader.Decode.
func NewCSVRepository(pool pool.ConnectionPool, allocator memory.Allocator, config repositories.SourceConfig, logger zerolog.Logger) repositories.RecordRepository {
	return &csvRepository{
		pool:      pool,
		allocator: allocator,
		config:    config,
		logger:    logger.With().Str("source", config.Path).Logger(),
	}
}

// LoadAll reads the whole file in source order.
func (r *csvRepository) LoadAll(ctx context.Context) (*models.RecordSet, error) {
	version, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}

	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSourceUnavailable, "failed to get connection from pool")
	}

	query := readCSVQuery(r.config.Path)
	r.logger.Debug().Str("query", query).Msg("Loading CSV source")

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSourceUnavailable, "failed to read CSV source %s", r.config.Path)
	}

	reader, err := converter.NewBatchReader(r.allocator, rows, r.logger)
	if err != nil {
		return nil, err
	}
	defer reader.Release()
	if r.config.BatchSize > 0 {
		reader.SetBatchSize(r.config.BatchSize)
	}

	set, report, err := loader.Decode(reader, r.config.Schema, loader.Options{SkipMalformed: r.config.SkipMalformed})
	if err != nil {
		r.logger.Error().Err(err).Int("rows_read", report.RowsRead).Msg("CSV source failed validation")
		return nil, err
	}

	set.Version = version
	set.LoadedAt = time.Now()
	repositories.LogReport(r.logger, report)

	return set, nil
}

// Version returns the file's modification time and size.
func (r *csvRepository) Version(_ context.Context) (models.SourceVersion, error) {
	return repositories.StatSource(r.config.Path)
}

// Path returns the CSV file path.
func (r *csvRepository) Path() string {
	return r.config.Path
}

// Close is a no-op; the pool is owned by the caller.
func (r *csvRepository) Close() error {
	return nil
}

// readCSVQuery builds the table-function query for path. The path is embedded
// as a string literal because table function arguments cannot be bound.
func readCSVQuery(path string) string {
	return "SELECT * FROM read_csv(" + quoteLiteral(path) + ", header = true, all_varchar = true)"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
