package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent describes a config file edit that produced a different Config.
type ChangeEvent struct {
	Path    string
	OldHash string
	NewHash string
	Changed []string
	Config  *Config
	Time    time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce duration for file change events.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher monitors a config file and reports edits. It watches the containing
// directory so atomic saves and ConfigMap symlink swaps are seen. The running
// service never applies a new Config itself; callers decide what to do.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	last      *Config

	mu       sync.Mutex
	pending  bool
	lastSeen time.Time
}

// NewWatcher creates a Watcher for the config file at path. current is the
// configuration in effect; onChange receives every later change.
func NewWatcher(path string, current *Config, onChange func(ChangeEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
		last:     current,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the config file's directory for changes.
func (w *Watcher) Start() error {
	if w.last == nil {
		cfg, err := Load(w.path)
		if err != nil {
			return fmt.Errorf("config watcher: initial load: %w", err)
		}
		w.last = cfg
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the background goroutine to exit.
// It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Any write, create or rename in the directory may replace the
			// file. The hash comparison filters unrelated events.
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = true
				w.lastSeen = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	ready := w.pending && time.Since(w.lastSeen) >= w.debounce
	if ready {
		w.pending = false
	}
	w.mu.Unlock()

	if ready {
		w.processChange()
	}
}

// processChange reloads the file and calls onChange if the resulting Config
// differs from the last one seen.
func (w *Watcher) processChange() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	oldHash, newHash := w.last.Hash(), cfg.Hash()
	if oldHash == newHash {
		w.logger.Debug("config watcher: content unchanged, skipping", "path", w.path)
		return
	}

	changed := Diff(w.last, cfg)
	w.last = cfg

	w.logger.Info("config changed", "path", w.path, "old_hash", oldHash[:8], "new_hash", newHash[:8], "sections", changed)

	w.onChange(ChangeEvent{
		Path:    w.path,
		OldHash: oldHash,
		NewHash: newHash,
		Changed: changed,
		Config:  cfg,
		Time:    time.Now(),
	})
}
