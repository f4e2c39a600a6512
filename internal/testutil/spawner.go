package testutil

import "sync"

// ManualSpawner collects tasks instead of running them, so a test decides
// when (and in which order) fetches complete. This is how out-of-order
// responses are produced deterministically.
//
// Thread-safety: safe for concurrent use via internal mutex. Tasks run on
// the caller's goroutine, outside the lock.
type ManualSpawner struct {
	mu    sync.Mutex
	tasks []func()
}

// NewManualSpawner creates an empty spawner.
func NewManualSpawner() *ManualSpawner {
	return &ManualSpawner{}
}

// Go records the task.
func (s *ManualSpawner) Go(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Pending returns the number of recorded tasks not yet run.
func (s *ManualSpawner) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run runs and removes the i-th pending task (0 is the oldest).
// Returns false if there is no such task.
func (s *ManualSpawner) Run(i int) bool {
	s.mu.Lock()
	if i < 0 || i >= len(s.tasks) {
		s.mu.Unlock()
		return false
	}
	task := s.tasks[i]
	s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
	s.mu.Unlock()

	task()
	return true
}

// RunNext runs the oldest pending task.
func (s *ManualSpawner) RunNext() bool {
	return s.Run(0)
}

// RunLast runs the newest pending task.
func (s *ManualSpawner) RunLast() bool {
	return s.Run(s.Pending() - 1)
}

// RunAll runs pending tasks oldest first until none remain, including tasks
// recorded while running. Returns the number run.
func (s *ManualSpawner) RunAll() int {
	n := 0
	for s.RunNext() {
		n++
	}
	return n
}

// Discard drops every pending task without running it.
func (s *ManualSpawner) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = nil
}

// SyncSpawner runs every task immediately on the caller's goroutine.
type SyncSpawner struct{}

// Go runs the task.
func (SyncSpawner) Go(task func()) {
	task()
}
