package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives a successfully reloaded config together with its diff
// against the previous one.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// snapshot is one validated read of the config file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// readSnapshot reads path, expands environment references and validates the
// result. The checksum covers the raw bytes so that a changed environment
// alone does not count as an edit.
func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(expandEnv(raw)))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(raw), mtime: info.ModTime()}, nil
}

// Watcher polls a config file and hands every valid edit to a [ChangeFunc].
// An edit that fails validation is logged and skipped.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	mu   sync.Mutex
	last snapshot

	cancel  context.CancelFunc
	stopped chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. The default is slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher reads path once, failing if it is not a valid config, and then
// keeps polling it until Stop.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	first, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
		last:     first,
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("component", "config_watcher", "path", path)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends polling and waits for the loop to exit. Repeated calls are
// harmless.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.stopped
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("cannot stat config file", "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	next, err := readSnapshot(w.path)
	if err != nil {
		w.log.Warn("ignoring invalid config edit", "err", err)
		return
	}

	w.mu.Lock()
	prev := w.last
	w.last = next
	w.mu.Unlock()

	if next.sum == prev.sum {
		return
	}

	diff := Diff(prev.cfg, next.cfg)
	w.log.Info("configuration reloaded",
		"hot_reloaded", diff.Changed(),
		"restart_required", diff.RestartRequired,
	)
	// Called unlocked: the callback may read Current.
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg, diff)
	}
}
