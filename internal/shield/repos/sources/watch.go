package sources

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	"github.com/haukened/rr-shield/internal/shield/common/log"
)

const defaultDebounce = 500 * time.Millisecond

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Path     string        // sources file to watch, required
	Debounce time.Duration // quiet period before OnChange fires, 0 selects the default
	OnChange func()        // required
	// options to inject for testing purposes
	Clock  clock.Clock
	Logger log.Logger
}

// Watcher calls OnChange after the sources file is written, created or
// replaced. Bursts of events within the debounce window collapse into one call.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func()
	clock    clock.Clock
	logger   log.Logger

	mu      sync.Mutex
	pending clock.Timer
}

// NewWatcher validates opts and returns an idle Watcher.
func NewWatcher(opts WatchOptions) (*Watcher, error) {
	if opts.Path == "" {
		return nil, errors.New("watch path is required")
	}
	if opts.OnChange == nil {
		return nil, errors.New("watch callback is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	return &Watcher{
		path:     filepath.Clean(opts.Path),
		debounce: opts.Debounce,
		onChange: opts.OnChange,
		clock:    opts.Clock,
		logger:   log.Component(opts.Logger, "sources-watch"),
	}, nil
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that save by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.logger.Info(map[string]any{"path": w.path}, "watching sources file")
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(map[string]any{"path": w.path, "error": err}, "sources watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.logger.Debug(map[string]any{"path": ev.Name, "op": ev.Op.String()}, "sources file event")

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = w.clock.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
	w.logger.Info(map[string]any{"path": w.path}, "sources file changed")
	w.onChange()
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
}
