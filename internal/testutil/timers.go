package testutil

import (
	"sort"
	"sync"
	"time"
)

// ManualTimers is a virtual timer source. Time only moves when the test calls
// Advance; FireAll jumps to the latest deadline.
//
// Thread-safety: safe for concurrent use. Callbacks run on the caller's
// goroutine, outside the lock.
type ManualTimers struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id       int
	deadline time.Duration
	f        func()
}

// NewManualTimers creates a timer source at virtual time zero.
func NewManualTimers() *ManualTimers {
	return &ManualTimers{timers: make(map[int]*manualTimer)}
}

// AfterFunc arms f to run d after the current virtual time.
func (m *ManualTimers) AfterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.timers[id] = &manualTimer{id: id, deadline: m.now + d, f: f}

	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.timers[id]; !ok {
			return false
		}
		delete(m.timers, id)
		return true
	}
}

// Now returns the virtual time.
func (m *ManualTimers) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Armed returns the number of timers that have not fired or been stopped.
func (m *ManualTimers) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves virtual time forward by d and fires every timer whose
// deadline has passed, in deadline order. Returns the number fired.
func (m *ManualTimers) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now += d
	now := m.now
	m.mu.Unlock()
	return m.fireUntil(now)
}

// FireAll fires every armed timer, advancing virtual time to the last deadline.
func (m *ManualTimers) FireAll() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.timers) == 0 {
			m.mu.Unlock()
			return n
		}
		latest := m.now
		for _, t := range m.timers {
			if t.deadline > latest {
				latest = t.deadline
			}
		}
		m.now = latest
		m.mu.Unlock()

		n += m.fireUntil(latest)
	}
}

func (m *ManualTimers) fireUntil(now time.Duration) int {
	m.mu.Lock()
	var due []*manualTimer
	for id, t := range m.timers {
		if t.deadline <= now {
			due = append(due, t)
			delete(m.timers, id)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].id < due[j].id
	})
	for _, t := range due {
		t.f()
	}
	return len(due)
}
