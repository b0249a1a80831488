package query

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/jonwraymond/querycache/cache"
	"github.com/jonwraymond/querycache/resilience"
)

var (
	errTest       = errors.New("x")
	ignoreFetchFn = cmpopts.IgnoreFields(cache.Entry{}, "FetchFn")
)

// fakeScheduler records scheduled retries and runs them on demand.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	queue   []*fakeTask
	stopped bool
}

type fakeTask struct {
	s    *fakeScheduler
	fn   func()
	done bool
}

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) resilience.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTask{s: s, fn: fn}
	if s.stopped {
		t.done = true
		return t
	}
	s.delays = append(s.delays, delay)
	s.queue = append(s.queue, t)
	return t
}

func (t *fakeTask) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Delays returns every delay scheduled so far.
func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// RunNext runs the oldest pending task on the calling goroutine.
func (s *fakeScheduler) RunNext() bool {
	s.mu.Lock()
	var next *fakeTask
	for len(s.queue) > 0 {
		t := s.queue[0]
		s.queue = s.queue[1:]
		if !t.done {
			t.done = true
			next = t
			break
		}
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	next.fn()
	return true
}

func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.queue {
		if !t.done {
			n++
		}
	}
	return n
}

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.queue {
		t.done = true
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	client *Client
	sched  *fakeScheduler
	clock  *fakeClock
}

func newTestEnv(t *testing.T, cfg Config) testEnv {
	t.Helper()
	sched := &fakeScheduler{}
	clock := newFakeClock()
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Now
	}

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return testEnv{client: client, sched: sched, clock: clock}
}

// counter is a producer call counter safe for concurrent use.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
