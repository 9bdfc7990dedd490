// Package shield owns the lifecycle of the active filter engine: acquiring it
// once, enabling it on sessions, and periodically rebuilding and swapping it.
package shield

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/engine"
)

// DefaultUpdateInterval is how often lists are refreshed when Options leaves
// UpdateInterval unset.
const DefaultUpdateInterval = 6 * time.Hour

const (
	flightAcquire = "acquire"
	flightRebuild = "rebuild"
)

// Options configures a Manager.
type Options struct {
	Compiler       Compiler    // required
	Cache          EngineCache // required
	Sources        domain.RuleSourceSet
	UpdateInterval time.Duration
	// options to inject for testing purposes
	Clock  clock.Clock
	Logger log.Logger
}

// Manager acquires a single engine on first use, enables it on sessions and
// keeps it fresh. All methods are safe for concurrent use.
//
// Acquisition and rebuilds run on the manager's own context so that one
// caller giving up does not abort work other callers are waiting on.
type Manager struct {
	compiler Compiler
	cache    EngineCache
	clock    clock.Clock
	logger   log.Logger
	interval time.Duration
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc
	flight singleflight.Group
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	current    *engine.Engine
	sources    domain.RuleSourceSet
	timer      clock.Timer
	scheduled  bool
	closed     bool
	lastUpdate time.Time
	lastErr    error
}

// NewManager validates opts and returns an idle manager. Nothing is loaded or
// fetched until the first Enable.
func NewManager(opts Options) (*Manager, error) {
	if opts.Compiler == nil {
		return nil, errors.New("shield manager requires a compiler")
	}
	if opts.Cache == nil {
		return nil, errors.New("shield manager requires an engine cache")
	}
	if err := opts.Sources.Validate(); err != nil {
		return nil, fmt.Errorf("shield manager sources: %w", err)
	}
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		compiler: opts.Compiler,
		cache:    opts.Cache,
		clock:    opts.Clock,
		logger:   log.Component(opts.Logger, "shield"),
		interval: opts.UpdateInterval,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		sources:  append(domain.RuleSourceSet(nil), opts.Sources...),
	}, nil
}

// Enable turns on filtering for s, acquiring the engine first if needed.
// Enabling a session that is already enabled does nothing. When acquisition
// fails the session is left untouched and the error wraps
// ErrAcquisitionFailed.
func (m *Manager) Enable(ctx context.Context, s domain.Session) error {
	if _, err := m.ensureEngine(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.registry.Lookup(s); ok {
		return nil
	}
	// m.current, not the engine ensureEngine returned: a rebuild may have
	// swapped it since.
	cur := m.current
	if err := cur.EnableOn(s); err != nil {
		return fmt.Errorf("enable filtering: %w", err)
	}
	id, _ := m.registry.Add(s)
	m.logger.Info(map[string]any{"session": uint64(id), "engine": cur.ID()}, "filtering enabled")
	return nil
}

// ensureEngine returns the active engine, acquiring it once if necessary.
// Concurrent callers share one acquisition. ctx only bounds how long this
// caller waits.
func (m *Manager) ensureEngine(ctx context.Context) (*engine.Engine, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if cur := m.current; cur != nil {
		m.mu.Unlock()
		return cur, nil
	}
	m.mu.Unlock()

	ch := m.flight.DoChan(flightAcquire, func() (any, error) {
		return m.acquire()
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*engine.Engine), nil
	}
}

func (m *Manager) acquire() (*engine.Engine, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	// a previous flight may have finished between the caller's check and now
	if cur := m.current; cur != nil {
		m.mu.Unlock()
		return cur, nil
	}
	m.wg.Add(1)
	defer m.wg.Done()
	m.state = StateAcquiring
	sources := m.sources
	m.mu.Unlock()

	e, ok := m.cache.Load()
	if !ok {
		m.logger.Info(map[string]any{"sources": len(sources)}, "no cached engine, compiling")
		compiled, err := m.compiler.Compile(m.ctx, sources)
		if err != nil {
			m.mu.Lock()
			if m.state == StateAcquiring {
				m.state = StateUninitialized
			}
			m.lastErr = err
			m.mu.Unlock()
			m.logger.Error(map[string]any{"error": err}, "engine acquisition failed")
			return nil, fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
		}
		m.cache.Save(compiled)
		e = compiled
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.state = StateUninitialized
		return nil, ErrClosed
	}
	m.install(e)
	m.scheduleAutoUpdate()
	m.logger.Info(map[string]any{"engine": e.ID(), "cached": ok}, "engine ready")
	return e, nil
}

// install makes e the active engine. Callers hold m.mu.
func (m *Manager) install(e *engine.Engine) {
	m.current = e
	m.state = StateReady
	m.lastUpdate = m.clock.Now()
	m.lastErr = nil
}

// scheduleAutoUpdate arms the refresh timer once. Later calls are no-ops.
// Callers hold m.mu.
func (m *Manager) scheduleAutoUpdate() {
	if m.scheduled || m.closed {
		return
	}
	m.scheduled = true
	m.timer = m.clock.AfterFunc(m.interval, m.tick)
	m.logger.Debug(map[string]any{"interval": m.interval.String()}, "auto-update scheduled")
}

// tick runs one refresh and re-arms the timer only after it has settled, so
// slow rebuilds never overlap.
func (m *Manager) tick() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	err := m.UpdateListsNow(m.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotReady):
		m.logger.Debug(nil, "auto-update skipped, no active engine")
	case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
	default:
		m.logger.Warn(map[string]any{"error": err}, "auto-update failed, keeping current engine")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.timer = m.clock.AfterFunc(m.interval, m.tick)
	}
}

// UpdateListsNow rebuilds the engine from the current sources and swaps it
// into every enabled session. A refresh already in progress is joined rather
// than repeated. On failure the previous engine stays active.
func (m *Manager) UpdateListsNow(ctx context.Context) error {
	ch := m.flight.DoChan(flightRebuild, func() (any, error) {
		return nil, m.rebuild()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) rebuild() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.current == nil {
		m.mu.Unlock()
		return ErrNotReady
	}
	m.wg.Add(1)
	defer m.wg.Done()
	m.state = StateRebuilding
	sources := m.sources
	m.mu.Unlock()

	next, err := m.compiler.Compile(m.ctx, sources)
	if err != nil {
		m.mu.Lock()
		if m.state == StateRebuilding {
			m.state = StateReady
		}
		m.lastErr = err
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrRebuildFailed, err)
	}
	m.cache.Save(next)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.state = StateReady
		return ErrClosed
	}
	old := m.current
	swapped := 0
	m.registry.ForEach(func(id SessionID, s domain.Session) {
		if m.swap(id, s, old, next) {
			swapped++
		}
	})
	m.install(next)
	m.logger.Info(map[string]any{
		"old":      old.ID(),
		"engine":   next.ID(),
		"sessions": swapped,
	}, "engine updated")
	return nil
}

// swap moves session s from old to next and reports whether next ended up
// attached. Sessions that support it are swapped atomically; others are
// detached from old and then attached to next. Closed sessions are
// invalidated.
func (m *Manager) swap(id SessionID, s domain.Session, old, next *engine.Engine) bool {
	fields := map[string]any{"session": uint64(id)}

	if sw, ok := s.(domain.FilterSwapper); ok {
		err := sw.ReplaceFilter(old, next)
		if err == nil {
			return true
		}
		if errors.Is(err, domain.ErrSessionClosed) {
			m.dropSession(id)
			return false
		}
		fields["error"] = err
		m.logger.Warn(fields, "atomic swap failed, falling back to detach and attach")
	}

	if err := old.DisableOn(s); err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			m.dropSession(id)
			return false
		}
		m.logger.Warn(map[string]any{"session": uint64(id), "error": err}, "disable old engine failed")
	}
	if err := next.EnableOn(s); err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			m.dropSession(id)
			return false
		}
		m.logger.Error(map[string]any{"session": uint64(id), "error": err}, "enable new engine failed")
		return false
	}
	return true
}

func (m *Manager) dropSession(id SessionID) {
	m.registry.Invalidate(id)
	m.logger.Info(map[string]any{"session": uint64(id)}, "session closed, no longer tracked")
}

// SetSources replaces the rule sources used by the next compile. The active
// engine is not rebuilt; call UpdateListsNow for that.
func (m *Manager) SetSources(set domain.RuleSourceSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sources = append(domain.RuleSourceSet(nil), set...)
	m.logger.Info(map[string]any{"sources": len(set)}, "rule sources updated")
	return nil
}

// Sources returns the rule sources the next compile will use.
func (m *Manager) Sources() domain.RuleSourceSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(domain.RuleSourceSet(nil), m.sources...)
}

// Current returns the active engine, or nil before acquisition.
func (m *Manager) Current() *engine.Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:      m.state,
		Sessions:   m.registry.Len(),
		Scheduled:  m.scheduled && !m.closed,
		LastUpdate: m.lastUpdate,
		Closed:     m.closed,
	}
	if m.current != nil {
		st.EngineID = m.current.ID()
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// Close stops the refresh timer, cancels in-flight acquisition or rebuild
// work and waits for it to return. Sessions keep whatever filter they have.
// Close is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info(nil, "shield manager closed")
	return nil
}
