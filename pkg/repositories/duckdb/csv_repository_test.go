package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/plantatlas/pkg/errors"
	"github.com/TFMV/plantatlas/pkg/infrastructure/pool"
	"github.com/TFMV/plantatlas/pkg/models"
	"github.com/TFMV/plantatlas/pkg/repositories"
)

const fixture = "../../../testdata/powerplants.csv"

func newRepo(t *testing.T, cfg repositories.SourceConfig) repositories.RecordRepository {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	p, err := pool.New(pool.Config{DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	if cfg.Schema == (models.Schema{}) {
		cfg.Schema = models.DefaultSchema()
	}
	repo := NewCSVRepository(p, memory.NewGoAllocator(), cfg, logger)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plants.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVRepository_LoadAll(t *testing.T) {
	repo := newRepo(t, repositories.SourceConfig{Path: fixture, BatchSize: 3})

	set, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, set.Len())

	assert.Equal(t, []string{
		"OBJECTID", "Plant_Code", "Plant_Name", "Utility_Name", "City", "County",
		"StateName", "PrimSource", "Install_MW", "Latitude", "Longitude",
	}, set.Columns)

	first := set.Records[0]
	assert.Equal(t, int64(2), first.ID)
	assert.Equal(t, "Bankhead Dam", first.Name)
	assert.Equal(t, "hydroelectric", first.Category)
	assert.Equal(t, "Alabama", first.GroupKey)
	assert.InDelta(t, 33.458665, first.Location.Latitude, 1e-9)
	assert.Equal(t, "53.9", first.Fields["Install_MW"], "numeric columns keep their source text")

	assert.Equal(t, "Valley, Lake", set.Records[6].Name)

	var ids []int64
	for _, r := range set.Records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 3, 7, 8, 9, 10, 26, 34, 46, 47}, ids, "source order is preserved")

	assert.Equal(t, fixture, set.Version.Path)
	assert.False(t, set.LoadedAt.IsZero())
}

func TestCSVRepository_LoadTwiceIsEqual(t *testing.T) {
	repo := newRepo(t, repositories.SourceConfig{Path: fixture})

	first, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	second, err := repo.LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
	assert.True(t, first.Version.Equal(second.Version))
}

func TestCSVRepository_SourceUnavailable(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "missing file", path: filepath.Join(t.TempDir(), "missing.csv")},
		{name: "directory", path: t.TempDir()},
		{name: "empty path", path: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newRepo(t, repositories.SourceConfig{Path: tt.path})

			_, err := repo.LoadAll(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsSourceUnavailable(err), "got %v", err)

			_, err = repo.Version(context.Background())
			assert.True(t, errors.IsSourceUnavailable(err))
		})
	}
}

func TestCSVRepository_Malformed(t *testing.T) {
	path := writeCSV(t, "Plant_Code,Plant_Name,PrimSource,StateName,Latitude,Longitude\n"+
		"2,Bankhead Dam,hydroelectric,Alabama,33.458665,-87.356823\n"+
		"abc,Broken,solar,Arizona,33.1,-112.0\n"+
		"5,Far North,wind,Alaska,95.0,-150.0\n")

	t.Run("strict", func(t *testing.T) {
		repo := newRepo(t, repositories.SourceConfig{Path: path})
		_, err := repo.LoadAll(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsMalformed(err))
		assert.Contains(t, err.Error(), "2 malformed field(s) in 2 row(s)")
	})

	t.Run("skip", func(t *testing.T) {
		repo := newRepo(t, repositories.SourceConfig{Path: path, SkipMalformed: true})
		set, err := repo.LoadAll(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, set.Len())
		assert.Equal(t, "Bankhead Dam", set.Records[0].Name)
	})
}

func TestCSVRepository_MissingColumn(t *testing.T) {
	path := writeCSV(t, "Plant_Code,Plant_Name\n2,Bankhead Dam\n")
	repo := newRepo(t, repositories.SourceConfig{Path: path})

	_, err := repo.LoadAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsMalformed(err))
}

func TestCSVRepository_QuotedPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "o'brien")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "plants.csv")
	require.NoError(t, os.WriteFile(path, []byte("Plant_Code,Plant_Name,PrimSource,StateName,Latitude,Longitude\n1,A,solar,Utah,40,-111\n"), 0o644))

	repo := newRepo(t, repositories.SourceConfig{Path: path})
	set, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, path, repo.Path())
}

func TestReadCSVQuery(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM read_csv('a''b.csv', header = true, all_varchar = true)",
		readCSVQuery("a'b.csv"))
}
