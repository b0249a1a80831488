package resilience

import (
	"sync"
	"time"
)

// Handle controls a scheduled task.
type Handle interface {
	// Stop cancels the task. It returns false if the task already ran or
	// was already stopped.
	Stop() bool
}

// Scheduler runs tasks after a delay.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Schedule must not block; the task runs on its own goroutine.
// - A task re-enters its operation from the top; nothing is resumed mid-way.
type Scheduler interface {
	Schedule(delay time.Duration, task func()) Handle
}

// TimerScheduler schedules tasks with time.AfterFunc and tracks the ones that
// have not fired yet so they can be cancelled on shutdown.
type TimerScheduler struct {
	mu      sync.Mutex
	pending map[*timerHandle]struct{}
	stopped bool
}

// NewTimerScheduler creates a new timer-backed scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[*timerHandle]struct{})}
}

type timerHandle struct {
	s     *TimerScheduler
	timer *time.Timer
}

// Schedule runs task after delay. After Stop, tasks are dropped and the
// returned handle is inert.
func (s *TimerScheduler) Schedule(delay time.Duration, task func()) Handle {
	h := &timerHandle{s: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return h
	}

	s.pending[h] = struct{}{}
	h.timer = time.AfterFunc(delay, func() {
		if !s.release(h) {
			return
		}
		task()
	})
	return h
}

// Pending returns the number of tasks waiting to fire.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task and rejects new ones.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	pending := s.pending
	s.pending = make(map[*timerHandle]struct{})
	s.mu.Unlock()

	for h := range pending {
		h.timer.Stop()
	}
}

func (s *TimerScheduler) release(h *timerHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[h]; !ok {
		return false
	}
	delete(s.pending, h)
	return true
}

func (h *timerHandle) Stop() bool {
	if h.timer == nil {
		return false
	}
	if !h.s.release(h) {
		return false
	}
	h.timer.Stop()
	return true
}

var _ Scheduler = (*TimerScheduler)(nil)
