package engine

import (
	"sync"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventSetValue sets a field's value (or a multiselect's values).
	EventSetValue EventType = iota + 1
	// EventAddRow instantiates a new row in a group.
	EventAddRow
	// EventRemoveRow hard-removes a never-persisted row.
	EventRemoveRow
	// EventToggleDeleted sets or clears a row's soft-delete flag.
	EventToggleDeleted
	// EventLoadRow instantiates a pre-existing row with values.
	EventLoadRow
	// EventFetchDone delivers a reference-data completion back to the loop.
	EventFetchDone
	// EventTimer delivers a debounce timer expiry back to the loop.
	EventTimer
	// EventSubmit flushes pending recomputations and replies with a report.
	EventSubmit
)

var eventTypeNames = map[EventType]string{
	EventSetValue:      "set_value",
	EventAddRow:        "add_row",
	EventRemoveRow:     "remove_row",
	EventToggleDeleted: "toggle_deleted",
	EventLoadRow:       "load_row",
	EventFetchDone:     "fetch_done",
	EventTimer:         "timer",
	EventSubmit:        "submit",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one unit of work for the loop. Which fields are set depends on Type.
type Event struct {
	Type EventType

	// Path is a field path for EventSetValue and a group path for row events.
	Path string

	// Index is the stable row index for EventRemoveRow and EventToggleDeleted.
	Index int

	Value   string
	Values  []string
	Multi   bool // Values is authoritative
	Deleted bool

	// Row carries field values and persistence for EventLoadRow.
	Row       map[string]string
	Persisted bool

	fetch *fetchResult
	timer *timerFire
	reply chan *SubmitReport
}

// fetchResult is a resolver completion. Payload and Err are mutually exclusive.
type fetchResult struct {
	field   *Field
	token   int64
	payload *refdata.Payload
	err     error
}

// timerFire is a debounce expiry for one scheduler key.
type timerFire struct {
	key   string
	token int64
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded: inputs from the host, fetch completions from
// spawned tasks and timer expiries all land here and are applied one at a
// time by the single-writer loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Release the slot's pointers (payloads, reply channels) for GC.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
