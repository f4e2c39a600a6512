package engine

import "time"

// Spawner runs fetch tasks off the loop. Tasks only talk back to the engine
// by enqueueing completion events.
type Spawner interface {
	Go(task func())
}

// Timers arms debounce timers. The callback only enqueues an event.
type Timers interface {
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// goSpawner runs each task on its own goroutine.
type goSpawner struct{}

func (goSpawner) Go(task func()) {
	go task()
}

// wallTimers arms real timers.
type wallTimers struct{}

func (wallTimers) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
