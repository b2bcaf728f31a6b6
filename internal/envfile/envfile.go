package envfile

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultDebounce = 250 * time.Millisecond

// Load reads a dotenv file into a map.
func Load(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return env, nil
}

// Merge returns a new map holding base overlaid with overlay.
func Merge(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	maps.Copy(out, base)
	maps.Copy(out, overlay)
	return out
}

// Watcher reloads an env file whenever it changes on disk.
type Watcher struct {
	path     string
	onChange func(map[string]string)
	logger   *zap.Logger
	debounce time.Duration

	started   chan struct{}
	startOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the quiet period between the last event and a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a Watcher for path. onChange receives every snapshot
// that loads successfully.
func NewWatcher(path string, onChange func(map[string]string), logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("resolve env file path: %w", err)
	}
	w := &Watcher{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		debounce: defaultDebounce,
		started:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run blocks until ctx is cancelled. The parent directory is watched so that
// editors which replace the file by rename are still observed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.startOnce.Do(func() { close(w.started) })

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("env file watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	env, err := Load(w.path)
	if err != nil {
		w.logger.Warn("env file reload failed, keeping previous snapshot",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("env file reloaded",
		zap.String("path", w.path),
		zap.Int("variables", len(env)),
	)
	w.onChange(env)
}
