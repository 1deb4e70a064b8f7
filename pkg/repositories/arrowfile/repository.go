// Package arrowfile reads and writes record sets as Arrow IPC stream files.
package arrowfile

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/loader"
	"github.com/TFMV/plantatlas/pkg/models"
	"github.com/TFMV/plantatlas/pkg/repositories"
)

const defaultBatchSize = 1024

// repository implements repositories.RecordRepository over an Arrow IPC stream.
type repository struct {
	allocator memory.Allocator
	config    repositories.SourceConfig
	logger    zerolog.Logger
}

// NewRepository creates a repository that reads config.Path as an Arrow IPC stream.
func NewRepository(allocator memory.Allocator, config repositories.SourceConfig, logger zerolog.Logger) repositories.RecordRepository {
	return &repository{
		allocator: allocator,
		config:    config,
		logger:    logger.With().Str("source", config.Path).Logger(),
	}
}

// LoadAll decodes every batch of the stream in order.
func (r *repository) LoadAll(ctx context.Context) (*models.RecordSet, error) {
	version, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(r.config.Path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSourceUnavailable, "failed to open Arrow source %s", r.config.Path)
	}
	defer f.Close()

	reader, err := ipc.NewReader(f, ipc.WithAllocator(r.allocator))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSourceUnavailable, "failed to read Arrow stream %s", r.config.Path)
	}
	defer reader.Release()

	set, report, err := loader.Decode(reader, r.config.Schema, loader.Options{SkipMalformed: r.config.SkipMalformed})
	if err != nil {
		r.logger.Error().Err(err).Int("rows_read", report.RowsRead).Msg("Arrow source failed validation")
		return nil, err
	}

	set.Version = version
	set.LoadedAt = time.Now()
	repositories.LogReport(r.logger, report)

	return set, nil
}

// Version returns the file's modification time and size.
func (r *repository) Version(_ context.Context) (models.SourceVersion, error) {
	return repositories.StatSource(r.config.Path)
}

// Path returns the stream file path.
func (r *repository) Path() string {
	return r.config.Path
}

// Close is a no-op.
func (r *repository) Close() error {
	return nil
}

// Write encodes set as an Arrow IPC stream with one nullable Utf8 column per
// source column, in source order. Empty values are written as nulls.
func Write(w io.Writer, set *models.RecordSet, allocator memory.Allocator, batchSize int) error {
	if set == nil {
		return errors.New(errors.CodeInvalidRequest, "record set is nil")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	fields := make([]arrow.Field, len(set.Columns))
	for i, c := range set.Columns {
		fields[i] = arrow.Field{Name: c, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(allocator))

	builder := array.NewRecordBuilder(allocator, schema)
	defer builder.Release()

	flush := func() error {
		rec := builder.NewRecord()
		defer rec.Release()
		return writer.Write(rec)
	}

	for n, rec := range set.Records {
		for i, c := range set.Columns {
			b := builder.Field(i).(*array.StringBuilder)
			if v := rec.Fields[c]; v != "" {
				b.Append(v)
			} else {
				b.AppendNull()
			}
		}
		if (n+1)%batchSize == 0 {
			if err := flush(); err != nil {
				writer.Close()
				return errors.Wrap(err, errors.CodeInternal, "failed to write record batch")
			}
		}
	}
	if len(set.Records)%batchSize != 0 {
		if err := flush(); err != nil {
			writer.Close()
			return errors.Wrap(err, errors.CodeInternal, "failed to write record batch")
		}
	}

	if err := writer.Close(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to close Arrow stream")
	}
	return nil
}

// WriteFile writes set to path, replacing any existing file.
func WriteFile(path string, set *models.RecordSet, allocator memory.Allocator) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create %s", path)
	}
	if err := Write(f, set, allocator, defaultBatchSize); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to close %s", path)
	}
	return nil
}
