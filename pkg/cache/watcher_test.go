package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_InvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "plants.csv")
	require.NoError(t, os.WriteFile(path, []byte("Plant_Code\n1\n"), 0o644))

	cache := NewMemoryCache(nil)
	require.NoError(t, cache.Put(ctx, path, testSet(path, 1)))
	require.NoError(t, cache.Put(ctx, "untouched", testSet("untouched", 1)))

	w, err := NewWatcher(cache, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch(path, path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("Plant_Code\n1\n2\n"), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := cache.Get(ctx, path)
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := cache.Get(ctx, "untouched")
	assert.True(t, ok)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := NewWatcher(NewMemoryCache(nil), zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	err = w.Watch(filepath.Join(t.TempDir(), "nope", "plants.csv"), "k")
	assert.Error(t, err)
}

func TestWatcher_CloseTwice(t *testing.T) {
	w, err := NewWatcher(NewMemoryCache(nil), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
