// Package converter turns SQL result rows into Arrow record batches.
package converter

import (
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/errors"
)

const defaultBatchSize = 1024

// BatchReader reads text-valued SQL rows and emits nullable Utf8 record
// batches. Sources are queried with every column cast to VARCHAR so that
// typing and validation happen in one place, after the read.
//
// BatchReader implements array.RecordReader.
type BatchReader struct {
	refCount  atomic.Int64
	schema    *arrow.Schema
	rows      *sql.Rows
	record    arrow.Record
	builder   *array.RecordBuilder
	err       error
	rowDest   []interface{}
	logger    zerolog.Logger
	batchSize int
	rowsRead  int64
}

var _ array.RecordReader = (*BatchReader)(nil)

// NewBatchReader creates a batch reader over rows. The reader takes ownership
// of rows and closes them on Release or on error.
func NewBatchReader(allocator memory.Allocator, rows *sql.Rows, logger zerolog.Logger) (*BatchReader, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.Wrap(err, errors.CodeSourceUnavailable, "failed to read result columns")
	}

	fields := make([]arrow.Field, len(cols))
	rowDest := make([]interface{}, len(cols))
	for i, name := range cols {
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
		rowDest[i] = &sql.NullString{}
	}

	schema := arrow.NewSchema(fields, nil)
	r := &BatchReader{
		schema:    schema,
		rows:      rows,
		builder:   array.NewRecordBuilder(allocator, schema),
		rowDest:   rowDest,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
	r.refCount.Store(1)

	return r, nil
}

// SetBatchSize sets the number of rows to read per batch.
func (r *BatchReader) SetBatchSize(size int) {
	if size > 0 {
		r.batchSize = size
	}
}

// Schema returns the Arrow schema.
func (r *BatchReader) Schema() *arrow.Schema {
	return r.schema
}

// Retain increases the reference count.
func (r *BatchReader) Retain() {
	r.refCount.Add(1)
}

// Release decreases the reference count and cleans up when it reaches 0.
func (r *BatchReader) Release() {
	if r.refCount.Add(-1) == 0 {
		r.cleanup()
	}
}

func (r *BatchReader) cleanup() {
	if r.rows != nil {
		r.rows.Close()
		r.rows = nil
	}
	if r.record != nil {
		r.record.Release()
		r.record = nil
	}
	if r.builder != nil {
		r.builder.Release()
		r.builder = nil
	}
}

// Record returns the current record batch. It is valid until the next call to Next.
func (r *BatchReader) Record() arrow.Record {
	return r.record
}

// Err returns any error that occurred during reading.
func (r *BatchReader) Err() error {
	return r.err
}

// RowsRead returns the number of rows converted so far.
func (r *BatchReader) RowsRead() int64 {
	return r.rowsRead
}

// Next reads the next batch of rows.
func (r *BatchReader) Next() bool {
	if r.record != nil {
		r.record.Release()
		r.record = nil
	}
	if r.rows == nil || r.err != nil {
		return false
	}

	rows := 0
	start := time.Now()

	for rows < r.batchSize && r.rows.Next() {
		if err := r.rows.Scan(r.rowDest...); err != nil {
			r.err = errors.Wrap(err, errors.CodeSourceUnavailable, "failed to scan row")
			return false
		}

		for i, dest := range r.rowDest {
			fb := r.builder.Field(i).(*array.StringBuilder)
			if v := dest.(*sql.NullString); v.Valid {
				fb.Append(v.String)
			} else {
				fb.AppendNull()
			}
		}
		rows++
	}

	if err := r.rows.Err(); err != nil {
		r.err = errors.Wrap(err, errors.CodeSourceUnavailable, "rows iteration error")
		return false
	}

	if rows == 0 {
		return false
	}

	r.rowsRead += int64(rows)
	r.record = r.builder.NewRecord()
	r.logger.Debug().
		Int("rows", rows).
		Dur("duration", time.Since(start)).
		Msg("Read batch")

	return true
}
