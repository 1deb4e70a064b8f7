package benchmark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/dataset"
	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/infrastructure/memory"
	"github.com/TFMV/plantatlas/pkg/infrastructure/pool"
	"github.com/TFMV/plantatlas/pkg/models"
	"github.com/TFMV/plantatlas/pkg/repositories"
	"github.com/TFMV/plantatlas/pkg/repositories/arrowfile"
	"github.com/TFMV/plantatlas/pkg/repositories/duckdb"
)

// Config holds configuration for a load benchmark.
type Config struct {
	Rows       int     `json:"rows"`
	Iterations int     `json:"iterations"`
	BatchSize  int     `json:"batch_size"`
	Seed       float64 `json:"seed"`
	// Dir receives the generated files. Empty uses a temporary directory that
	// is removed afterwards.
	Dir string `json:"dir,omitempty"`
}

// Result holds a single benchmark measurement.
type Result struct {
	Name       string        `json:"name"`
	N          int           `json:"iterations"`
	NsPerOp    time.Duration `json:"ns_per_op"`
	BytesPerOp int64         `json:"bytes_per_op"`
	Records    int           `json:"records"`
}

// Run generates a CSV of cfg.Rows plants, converts it to Arrow and times
// loading each format plus the in-memory queries over the loaded set.
func Run(ctx context.Context, cfg Config, connPool pool.ConnectionPool, logger zerolog.Logger) ([]Result, error) {
	if cfg.Rows <= 0 {
		return nil, errors.New(errors.CodeInvalidRequest, "rows must be positive")
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1
	}

	dir := cfg.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "plantatlas-bench-")
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to create work directory")
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	db, err := connPool.Get(ctx)
	if err != nil {
		return nil, err
	}

	csvPath := filepath.Join(dir, "plants.csv")
	logger.Info().Int("rows", cfg.Rows).Str("path", csvPath).Msg("Generating source")
	if err := Generate(ctx, db, csvPath, cfg.Rows, cfg.Seed); err != nil {
		return nil, err
	}

	alloc := memory.NewTrackedAllocator(nil)
	src := repositories.SourceConfig{
		Path:      csvPath,
		Schema:    models.DefaultSchema(),
		BatchSize: cfg.BatchSize,
	}
	repoLogger := logger.Level(zerolog.WarnLevel)

	var results []Result
	csvResult, set, err := measureLoad(ctx, "load_csv", duckdb.NewCSVRepository(connPool, alloc, src, repoLogger), cfg.Iterations)
	if err != nil {
		return nil, err
	}
	results = append(results, csvResult)

	src.Path = filepath.Join(dir, "plants.arrows")
	if err := arrowfile.WriteFile(src.Path, set, alloc); err != nil {
		return nil, err
	}
	arrowResult, _, err := measureLoad(ctx, "load_arrow", arrowfile.NewRepository(alloc, src, repoLogger), cfg.Iterations)
	if err != nil {
		return nil, err
	}
	results = append(results, arrowResult)

	lastID := int64(cfg.Rows)
	queries := []struct {
		name string
		fn   func() (int, error)
	}{
		{"paginate", func() (int, error) {
			page, err := dataset.Paginate(set, (set.Len()+19)/20, 20)
			return len(page.Records), err
		}},
		{"find_by_id", func() (int, error) {
			_, err := dataset.FindByID(set, lastID)
			return 1, err
		}},
		{"find_by_field", func() (int, error) {
			recs, err := dataset.FindByField(set, models.FieldGroupKey, States[0])
			return len(recs), err
		}},
	}
	for _, q := range queries {
		r, err := measure(q.name, cfg.Iterations, q.fn)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	if used := alloc.BytesUsed(); used != 0 {
		logger.Warn().Int64("bytes", used).Msg("Arrow buffers still allocated after benchmark")
	}
	return results, nil
}

func measureLoad(ctx context.Context, name string, repo repositories.RecordRepository, n int) (Result, *models.RecordSet, error) {
	var set *models.RecordSet
	r, err := measure(name, n, func() (int, error) {
		var err error
		set, err = repo.LoadAll(ctx)
		if err != nil {
			return 0, err
		}
		return set.Len(), nil
	})
	return r, set, err
}

func measure(name string, n int, fn func() (int, error)) (Result, error) {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	records := 0
	start := time.Now()
	for i := 0; i < n; i++ {
		count, err := fn()
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", name, err)
		}
		records = count
	}
	elapsed := time.Since(start)
	runtime.ReadMemStats(&after)

	return Result{
		Name:       name,
		N:          n,
		NsPerOp:    elapsed / time.Duration(n),
		BytesPerOp: int64(after.TotalAlloc-before.TotalAlloc) / int64(n),
		Records:    records,
	}, nil
}
