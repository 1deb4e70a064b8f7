package cache

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/TFMV/plantatlas/pkg/errors"
)

// Watcher invalidates cache entries as soon as their source file changes on
// disk, instead of waiting for the next version check.
type Watcher struct {
	cache   Cache
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu    sync.Mutex
	files map[string]string // cleaned absolute path -> cache key
	dirs  map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching for changes. Call Watch for each source.
func NewWatcher(cache Cache, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create file watcher")
	}

	w := &Watcher{
		cache:   cache,
		watcher: fw,
		logger:  logger.With().Str("component", "cache_watcher").Logger(),
		files:   make(map[string]string),
		dirs:    make(map[string]bool),
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Watch invalidates key whenever path is written, replaced, or removed.
// The parent directory is watched so that editors which replace the file
// by rename are still observed.
func (w *Watcher) Watch(path, key string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidRequest, "invalid watch path %s", path)
	}
	abs = filepath.Clean(abs)
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirs[dir] {
		if err := w.watcher.Add(dir); err != nil {
			return errors.Wrapf(err, errors.CodeSourceUnavailable, "failed to watch %s", dir)
		}
		w.dirs[dir] = true
	}
	w.files[abs] = key

	w.logger.Info().Str("path", abs).Str("key", key).Msg("Watching source for changes")
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&changeOps == 0 {
		return
	}

	w.mu.Lock()
	key, ok := w.files[filepath.Clean(event.Name)]
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.cache.Invalidate(context.Background(), key); err != nil {
		w.logger.Error().Err(err).Str("key", key).Msg("Failed to invalidate cache entry")
		return
	}
	w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Source changed, cache entry invalidated")
}
