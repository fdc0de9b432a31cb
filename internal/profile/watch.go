package profile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a watcher waits after the last change in the
// profile directory before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Live holds the current registry and lets it be replaced while requests
// are reading it. A request keeps the *Profile it resolved even if the
// registry is swapped underneath it.
type Live struct {
	cur atomic.Pointer[Registry]
}

// NewLive wraps r.
func NewLive(r *Registry) *Live {
	l := &Live{}
	l.cur.Store(r)
	return l
}

// Registry returns the current registry.
func (l *Live) Registry() *Registry { return l.cur.Load() }

// Store replaces the current registry.
func (l *Live) Store(r *Registry) { l.cur.Store(r) }

// Get resolves name against the current registry.
func (l *Live) Get(name string) (*Profile, error) { return l.cur.Load().Get(name) }

// Names returns the profile names of the current registry.
func (l *Live) Names() []string { return l.cur.Load().Names() }

// Catalog returns the rule catalog of the current registry.
func (l *Live) Catalog() Catalog { return l.cur.Load().Catalog() }

// Watcher reloads a profile directory into a Live registry whenever a file
// in it changes. A directory that fails to load leaves the previous
// registry in place.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	live     *Live
	logger   *slog.Logger
	debounce time.Duration
	reloads  chan error
}

// NewWatcher starts watching dir. Run must be called to process events.
func NewWatcher(dir string, live *Live, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher:  fw,
		dir:      dir,
		live:     live,
		logger:   logger,
		debounce: DefaultDebounce,
		reloads:  make(chan error, 1),
	}, nil
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Reloads reports the result of every reload attempt. Results are dropped
// when nobody reads them.
func (w *Watcher) Reloads() <-chan error { return w.reloads }

// Reload loads the directory now and swaps it in on success.
func (w *Watcher) Reload() error {
	r, err := LoadDir(w.dir)
	if err == nil {
		w.live.Store(r)
	}
	select {
	case w.reloads <- err:
	default:
	}
	return err
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, func() {
				if err := w.Reload(); err != nil {
					w.logger.Error("profile reload failed, keeping previous profiles", "dir", w.dir, "error", err)
					return
				}
				w.logger.Info("profiles reloaded", "dir", w.dir, "profiles", w.live.Names())
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("profile watcher error", "error", err)
		}
	}
}

func relevant(e fsnotify.Event) bool {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Remove) && !e.Has(fsnotify.Rename) {
		return false
	}
	ext := filepath.Ext(e.Name)
	return ext == ".yaml" || ext == ".yml"
}
