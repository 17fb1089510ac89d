// Package signals turns files in the state directory into control signals
// for a running foreman: a "pause" file pauses dispatch until it is removed
// and a "stop" file requests shutdown.
package signals

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/foreman/internal/logging"
)

// Signal file names.
const (
	PauseFile = "pause"
	StopFile  = "stop"
)

// DefaultPollInterval is the fallback rescan interval.
const DefaultPollInterval = time.Second

// Controller receives pause transitions.
type Controller interface {
	Pause()
	Resume()
}

// Watcher applies signal files to a Controller.
type Watcher struct {
	dir      string
	ctrl     Controller
	onStop   func()
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger
	notify   bool

	mu      sync.Mutex
	paused  bool
	stopped bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithOnStop sets the callback run once when a stop file appears.
func WithOnStop(fn func()) Option {
	return func(w *Watcher) { w.onStop = fn }
}

// WithClock sets the time source for the polling fallback.
func WithClock(c clockwork.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logging.OrDiscard(l, "signals") }
}

// WithPollingOnly disables the fsnotify watcher.
func WithPollingOnly() Option {
	return func(w *Watcher) { w.notify = false }
}

// New creates the signals directory and removes a stale stop file left by
// a previous run. A leftover pause file is honoured.
func New(dir string, ctrl Controller, opts ...Option) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, StopFile)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clear stale stop signal: %w", err)
	}

	w := &Watcher{
		dir:      dir,
		ctrl:     ctrl,
		onStop:   func() {},
		clock:    clockwork.NewRealClock(),
		interval: DefaultPollInterval,
		logger:   logging.Discard(),
		notify:   true,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run applies the current signal files, then reacts to changes until ctx
// is cancelled. fsnotify events apply changes immediately; the poll ticker
// catches anything the watcher misses and is the only source when the
// watcher cannot start.
func (w *Watcher) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.notify {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.logger.Warn("file watcher unavailable, polling signals", "error", err)
		} else if err := fw.Add(w.dir); err != nil {
			fw.Close()
			w.logger.Warn("cannot watch signals dir, polling", "dir", w.dir, "error", err)
		} else {
			defer fw.Close()
			events, errs = fw.Events, fw.Errors
		}
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sync()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			base := filepath.Base(ev.Name)
			if base == PauseFile || base == StopFile {
				w.Sync()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("signal watcher error", "error", err)
		case <-ticker.Chan():
			w.Sync()
		}
	}
}

// Sync reads the signal files and applies any transition.
func (w *Watcher) Sync() {
	pause := w.exists(PauseFile)
	stop := w.exists(StopFile)

	w.mu.Lock()
	pauseChanged := pause != w.paused
	w.paused = pause
	stopNow := stop && !w.stopped
	if stopNow {
		w.stopped = true
	}
	w.mu.Unlock()

	if pauseChanged {
		if pause {
			w.logger.Info("pause signal received")
			w.ctrl.Pause()
		} else {
			w.logger.Info("pause signal cleared")
			w.ctrl.Resume()
		}
	}
	if stopNow {
		w.logger.Info("stop signal received")
		w.onStop()
	}
}

func (w *Watcher) exists(name string) bool {
	return fileExists(w.dir, name)
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// Pending reports which signal files are present in dir.
func Pending(dir string) (pause, stop bool) {
	return fileExists(dir, PauseFile), fileExists(dir, StopFile)
}

// Paused reports whether a pause file is currently applied.
func (w *Watcher) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// SendPause creates the pause file in dir.
func SendPause(dir string) error {
	return writeSignal(dir, PauseFile)
}

// SendResume removes the pause file from dir.
func SendResume(dir string) error {
	err := os.Remove(filepath.Join(dir, PauseFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear pause signal: %w", err)
	}
	return nil
}

// SendStop creates the stop file in dir.
func SendStop(dir string) error {
	return writeSignal(dir, StopFile)
}

func writeSignal(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		return fmt.Errorf("write %s signal: %w", name, err)
	}
	return nil
}
