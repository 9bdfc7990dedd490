package shield

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/engine"
)

const (
	testInterval = 6 * time.Hour
	blockedURL   = "https://ads.example.com/banner.js"
)

var testStart = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

var testSources = domain.SourcesFromURLs("https://lists.example/easylist.txt")

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	r, err := domain.NewSuffixBlockRule("ads.example.com", "https://lists.example/easylist.txt", testStart)
	require.NoError(t, err)
	e, err := engine.New([]domain.BlockRule{r}, testSources.URLs(), testStart, engine.Options{})
	require.NoError(t, err)
	return e
}

func blockedReq(t *testing.T) domain.Request {
	t.Helper()
	r, err := domain.NewRequest(blockedURL, "")
	require.NoError(t, err)
	return r
}

// fakeCompiler builds a new engine per call. When gate is set, Compile waits
// for it to close (or for ctx, unless ignoreCtx) before returning.
type fakeCompiler struct {
	t *testing.T

	mu        sync.Mutex
	calls     int
	errs      []error
	gate      chan struct{}
	ignoreCtx bool
	started   chan struct{}
	lastSrc   domain.RuleSourceSet
	built     []*engine.Engine
}

func newFakeCompiler(t *testing.T) *fakeCompiler {
	return &fakeCompiler{t: t, started: make(chan struct{}, 64)}
}

func (f *fakeCompiler) Compile(ctx context.Context, sources domain.RuleSourceSet) (*engine.Engine, error) {
	f.mu.Lock()
	f.calls++
	f.lastSrc = sources
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	gate := f.gate
	done := ctx.Done()
	if f.ignoreCtx {
		done = nil
	}
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-done:
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	e := newTestEngine(f.t)
	f.mu.Lock()
	f.built = append(f.built, e)
	f.mu.Unlock()
	return e, nil
}

func (f *fakeCompiler) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCompiler) Last() *engine.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func (f *fakeCompiler) setGate(ch chan struct{}) {
	f.mu.Lock()
	f.gate = ch
	f.mu.Unlock()
}

func (f *fakeCompiler) failNext(errs ...error) {
	f.mu.Lock()
	f.errs = append(f.errs, errs...)
	f.mu.Unlock()
}

func (f *fakeCompiler) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("compile did not start")
	}
}

// memCache is an EngineCache that keeps the last saved engine in memory.
type memCache struct {
	mu     sync.Mutex
	stored *engine.Engine
	loads  int
	saves  int
}

func (c *memCache) Load() (*engine.Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	return c.stored, c.stored != nil
}

func (c *memCache) Save(e *engine.Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	c.stored = e
}

func (c *memCache) Saves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func (c *memCache) Stored() *engine.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored
}

type mockCache struct {
	mock.Mock
}

func (c *mockCache) Load() (*engine.Engine, bool) {
	args := c.Called()
	e, _ := args.Get(0).(*engine.Engine)
	return e, args.Bool(1)
}

func (c *mockCache) Save(e *engine.Engine) {
	c.Called(e)
}

// recordingSession supports only attach and detach, and records each call.
type recordingSession struct {
	mu     sync.Mutex
	ops    []string
	closed bool
}

func (s *recordingSession) AttachFilter(f domain.RequestFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.ops = append(s.ops, "attach "+f.(*engine.Engine).ID())
	return nil
}

func (s *recordingSession) DetachFilter(f domain.RequestFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.ops = append(s.ops, "detach "+f.(*engine.Engine).ID())
	return nil
}

func (s *recordingSession) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

type harness struct {
	m        *Manager
	compiler *fakeCompiler
	cache    *memCache
	clock    *clock.MockClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		compiler: newFakeCompiler(t),
		cache:    &memCache{},
		clock:    &clock.MockClock{CurrentTime: testStart},
	}
	m, err := NewManager(Options{
		Compiler:       h.compiler,
		Cache:          h.cache,
		Sources:        testSources,
		UpdateInterval: testInterval,
		Clock:          h.clock,
		Logger:         log.NewNoopLogger(),
	})
	require.NoError(t, err)
	h.m = m
	t.Cleanup(func() { _ = m.Close() })
	return h
}
