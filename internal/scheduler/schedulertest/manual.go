// Package schedulertest provides a hand-driven timer source for scheduler users' tests.
package schedulertest

import (
	"sort"
	"sync"
	"time"

	"github.com/victornm/livequiz/internal/scheduler"
)

// Manual collects scheduled callbacks and fires them only when asked to.
type Manual struct {
	mu      sync.Mutex
	seq     int
	pending []*timer
}

type timer struct {
	m       *Manual
	seq     int
	d       time.Duration
	f       func()
	stopped bool
}

func (t *timer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

func New() *Manual {
	return &Manual{}
}

// AfterFunc is the scheduler.AfterFunc to inject.
func (m *Manual) AfterFunc(d time.Duration, f func()) scheduler.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &timer{m: m, seq: m.seq, d: d, f: f}
	m.pending = append(m.pending, t)
	return t
}

// Pending returns the delays of the timers that have neither fired nor been stopped.
func (m *Manual) Pending() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ds []time.Duration
	for _, t := range m.pending {
		if !t.stopped {
			ds = append(ds, t.d)
		}
	}
	return ds
}

// FireNext runs the earliest scheduled live timer and reports whether one existed.
// Timers stopped before firing are discarded without running.
func (m *Manual) FireNext() bool {
	m.mu.Lock()
	sort.SliceStable(m.pending, func(i, j int) bool { return m.pending[i].seq < m.pending[j].seq })

	var next *timer
	for len(m.pending) > 0 {
		t := m.pending[0]
		m.pending = m.pending[1:]
		if !t.stopped {
			t.stopped = true
			next = t
			break
		}
	}
	m.mu.Unlock()

	if next == nil {
		return false
	}

	next.f()
	return true
}

// FireStale runs a callback even though its timer was stopped, which is what happens when
// a timer fires concurrently with Stop.
func (m *Manual) FireStale() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	t := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()

	t.f()
	return true
}
