package engine

import (
	"sort"
	"time"
)

// scheduler coalesces bursts of triggers per key: collect until quiet, then
// run once. Every Schedule call issues a new token and re-arms the key's
// timer; only an expiry carrying the latest token runs the job.
//
// The scheduler belongs to the loop. Timer callbacks never touch it; they
// enqueue an EventTimer that the loop hands to fire.
type scheduler struct {
	delay   time.Duration
	timers  Timers
	tokens  *Clock
	enqueue func(Event) bool

	pending map[string]*pendingJob
}

type pendingJob struct {
	token int64
	stop  func() bool
	run   func()
}

func newScheduler(delay time.Duration, timers Timers, tokens *Clock, enqueue func(Event) bool) *scheduler {
	return &scheduler{
		delay:   delay,
		timers:  timers,
		tokens:  tokens,
		enqueue: enqueue,
		pending: make(map[string]*pendingJob),
	}
}

// Schedule (re)arms key. With no delay the job is only marked pending and
// runs when the loop flushes at the end of the current event.
func (s *scheduler) Schedule(key string, run func()) {
	job, ok := s.pending[key]
	if ok && job.stop != nil {
		job.stop()
	}
	if !ok {
		job = &pendingJob{}
		s.pending[key] = job
	}
	job.token = s.tokens.Next()
	job.run = run
	job.stop = nil

	if s.delay <= 0 {
		return
	}
	token := job.token
	job.stop = s.timers.AfterFunc(s.delay, func() {
		s.enqueue(Event{Type: EventTimer, timer: &timerFire{key: key, token: token}})
	})
}

// Fire runs key's job if token is still the latest; it reports whether it ran.
func (s *scheduler) Fire(key string, token int64) bool {
	job, ok := s.pending[key]
	if !ok || job.token != token {
		return false
	}
	delete(s.pending, key)
	job.run()
	return true
}

// Immediate reports whether jobs run at the end of each event rather than on a timer.
func (s *scheduler) Immediate() bool {
	return s.delay <= 0
}

// Flush runs every pending job now, in key order, and disarms their timers.
// It returns the number of jobs run.
func (s *scheduler) Flush() int {
	n := 0
	for len(s.pending) > 0 {
		keys := make([]string, 0, len(s.pending))
		for k := range s.pending {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			job, ok := s.pending[k]
			if !ok {
				continue
			}
			if job.stop != nil {
				job.stop()
			}
			delete(s.pending, k)
			job.run()
			n++
		}
	}
	return n
}

// Pending returns the number of armed keys.
func (s *scheduler) Pending() int {
	return len(s.pending)
}

// Stop disarms every timer without running jobs.
func (s *scheduler) Stop() {
	for k, job := range s.pending {
		if job.stop != nil {
			job.stop()
		}
		delete(s.pending, k)
	}
}
