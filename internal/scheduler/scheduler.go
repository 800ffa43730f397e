package scheduler

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc matches time.AfterFunc, it is replaced in tests to fire tasks by hand.
type AfterFunc func(d time.Duration, f func()) Timer

type Config struct {
	AfterFunc AfterFunc
}

// Scheduler keeps at most one pending delayed task per key. Scheduling a new task for a key
// replaces the previous one, and a replaced or canceled task never runs its callback.
type Scheduler struct {
	afterFunc AfterFunc

	mu    sync.Mutex
	tasks map[int64]*task
}

type task struct {
	key   int64
	timer Timer
}

func New(c Config) *Scheduler {
	af := c.AfterFunc
	if af == nil {
		af = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	return &Scheduler{
		afterFunc: af,
		tasks:     make(map[int64]*task),
	}
}

// Schedule runs fn after d unless the task is canceled or replaced first.
func (s *Scheduler) Schedule(key int64, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(key)

	t := &task{key: key}
	s.tasks[key] = t
	t.timer = s.afterFunc(d, func() { s.fire(t, fn) })
}

func (s *Scheduler) fire(t *task, fn func()) {
	s.mu.Lock()
	if s.tasks[t.key] != t {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, t.key)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: task panic",
				"key", t.key,
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	fn()
}

// Cancel renders the pending task of key inert. It is a no-op when nothing is pending.
func (s *Scheduler) Cancel(key int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(key)
}

func (s *Scheduler) cancelLocked(key int64) {
	if t, ok := s.tasks[key]; ok {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}

// Pending reports whether key has a task waiting to fire.
func (s *Scheduler) Pending(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.tasks[key]
	return ok
}

// Stop cancels every pending task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.tasks {
		s.cancelLocked(key)
	}
}
