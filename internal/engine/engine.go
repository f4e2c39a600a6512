package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
)

// DefaultDebounce is the quiet period before aggregates are recomputed.
const DefaultDebounce = 150 * time.Millisecond

// ErrClosed is returned by inputs after Close.
var ErrClosed = errors.New("engine closed")

// Engine is the single-writer loop that owns one Document.
//
// Inputs (SetValue, AddRow, ...) only enqueue events. The loop applies them
// one at a time: resolvers issue fetches through the Spawner, the allocation
// guard and aggregate propagator run synchronously, and debounced
// recomputations come back as timer events. Completions from fetches re-enter
// the same queue, so every state mutation happens on the loop.
//
// Thread-safety model:
//   - inputs, Snapshot, Close: safe from any goroutine
//   - Run or Drain: exactly one goroutine at a time
type Engine struct {
	mu sync.Mutex

	doc    *Document
	client *refdata.Client
	queue  *eventQueue
	seq    *Clock // change log sequence
	tokens *Clock // resolution and scheduler tokens

	spawner    Spawner
	timers     Timers
	debounce   time.Duration
	maxCascade int
	observer   observers
	logger     *slog.Logger

	sched *scheduler

	// dependents maps a source field to the fields wired to it.
	dependents map[*Field][]*Field

	cur         *cascade
	recomputing bool

	ctx     context.Context // cancelled by Close; bounds spawned fetches
	cancel  context.CancelFunc
	running atomic.Bool
	closed  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDebounce sets the aggregate coalescing window. Zero recomputes at the
// end of every event.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		e.debounce = d
	}
}

// WithSpawner sets where fetch tasks run.
func WithSpawner(s Spawner) Option {
	return func(e *Engine) {
		e.spawner = s
	}
}

// WithTimers sets the debounce timer source.
func WithTimers(t Timers) Option {
	return func(e *Engine) {
		e.timers = t
	}
}

// WithMaxCascade sets the per-input cascade budget.
//
// Default: 1000 steps (DefaultMaxCascade)
func WithMaxCascade(n int) Option {
	return func(e *Engine) {
		e.maxCascade = n
	}
}

// WithSeqStart continues the change log after seq: the first emitted change
// is stamped seq+1.
func WithSeqStart(seq int64) Option {
	return func(e *Engine) {
		e.seq = NewClockAt(seq)
	}
}

// WithObserver adds an observer of the change log. May be given more than once.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = append(e.observer, o)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New takes ownership of doc, wires every row and runs the initial
// resolution pass. Fetches issued by that pass complete through the queue.
func New(doc *Document, client *refdata.Client, opts ...Option) (*Engine, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}
	if client == nil {
		return nil, fmt.Errorf("nil reference data client")
	}
	if doc.root.State != RowNew {
		return nil, fmt.Errorf("document %s is already owned by an engine", doc.ID)
	}

	e := &Engine{
		doc:        doc,
		client:     client,
		queue:      newEventQueue(),
		seq:        NewClock(),
		tokens:     NewClock(),
		spawner:    goSpawner{},
		timers:     wallTimers{},
		debounce:   DefaultDebounce,
		maxCascade: DefaultMaxCascade,
		logger:     slog.Default(),
		dependents: make(map[*Field][]*Field),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.sched = newScheduler(e.debounce, e.timers, e.tokens, e.queue.Enqueue)

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.begin(Event{})
	e.recordInitial(doc.root, nil)
	e.wireRow(doc.root)
	e.settle(c)

	e.logger.Info("document wired",
		"document", doc.ID,
		"name", doc.Spec.Name,
		"hash", doc.Hash,
		"fields", len(doc.fields),
	)
	return e, nil
}

// Document returns the owned document. Read it only through Snapshot while
// the loop may be running.
func (e *Engine) Document() *Document {
	return e.doc
}

// Enqueue submits an input event. Thread-safe.
func (e *Engine) Enqueue(ev Event) error {
	if !e.queue.Enqueue(ev) {
		return ErrClosed
	}
	return nil
}

// SetValue sets the value of the field at path. For a multiselect the value
// is a comma-separated list.
func (e *Engine) SetValue(path, value string) error {
	return e.Enqueue(Event{Type: EventSetValue, Path: path, Value: value})
}

// SetValues sets the values of the multiselect field at path.
func (e *Engine) SetValues(path string, values []string) error {
	return e.Enqueue(Event{Type: EventSetValue, Path: path, Values: values, Multi: true})
}

// AddRow appends a new row to the group at groupPath.
func (e *Engine) AddRow(groupPath string) error {
	return e.Enqueue(Event{Type: EventAddRow, Path: groupPath})
}

// RemoveRow hard-removes the never-persisted row with the given index.
func (e *Engine) RemoveRow(groupPath string, index int) error {
	return e.Enqueue(Event{Type: EventRemoveRow, Path: groupPath, Index: index})
}

// ToggleDeleted sets or clears the soft-delete flag of a row.
func (e *Engine) ToggleDeleted(groupPath string, index int, deleted bool) error {
	return e.Enqueue(Event{Type: EventToggleDeleted, Path: groupPath, Index: index, Deleted: deleted})
}

// LoadRow appends a pre-existing row with the given field values.
func (e *Engine) LoadRow(groupPath string, values map[string]string, persisted bool) error {
	return e.Enqueue(Event{Type: EventLoadRow, Path: groupPath, Row: values, Persisted: persisted})
}

// Run starts the event loop. Blocks until ctx is cancelled or Close is called.
//
// ERROR HANDLING: rejected inputs and failed fetches are logged and reported
// to observers; the loop never stops on them.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}
	defer e.running.Store(false)

	e.logger.Info("engine starting", "document", e.doc.ID)

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled", "document", e.doc.ID)
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue.
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: closed", "document", e.doc.ID)
				return nil
			}
		}
	}
}

// Drain applies queued events on the calling goroutine until the queue is
// empty and returns how many were applied. Events enqueued while draining
// (fetch completions from a synchronous spawner, for example) are applied too.
// Must not be used while Run is active.
func (e *Engine) Drain() int {
	n := 0
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.process(ev)
		n++
	}
}

// SubmitReport is the state handed to the host's form submission.
type SubmitReport struct {
	Snapshot *Snapshot `json:"snapshot"`

	// Flushed is the number of debounced recomputations run by the submit.
	Flushed int `json:"flushed"`

	// Pending lists fields whose resolution is still in flight.
	Pending []string `json:"pending,omitempty"`
}

// Submit flushes every pending debounced recomputation and returns the
// resulting state. Inputs enqueued before Submit are applied first. Without
// an active Run loop the queue is drained on the calling goroutine.
func (e *Engine) Submit(ctx context.Context) (*SubmitReport, error) {
	reply := make(chan *SubmitReport, 1)
	if err := e.Enqueue(Event{Type: EventSubmit, reply: reply}); err != nil {
		return nil, err
	}
	if !e.running.Load() {
		e.Drain()
	}
	select {
	case report := <-reply:
		return report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the document scope: disposes every row's wiring, disarms
// timers, cancels in-flight fetches and clears the reference cache.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	e.queue.Close()
	e.sched.Stop()
	e.cancel()
	if e.doc.root.dispose != nil {
		e.doc.root.dispose()
	}
	e.client.Clear()

	e.logger.Info("document closed", "document", e.doc.ID)
	return nil
}

// process applies one event under the engine lock.
func (e *Engine) process(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	eventsProcessed.WithLabelValues(ev.Type.String()).Inc()
	e.logger.Debug("processing event", "type", ev.Type.String(), "path", ev.Path, "index", ev.Index)

	c := e.begin(ev)

	var err error
	switch ev.Type {
	case EventSetValue:
		err = e.applySetValue(ev)
	case EventAddRow:
		err = e.addRow(ev.Path)
	case EventRemoveRow:
		err = e.removeRow(ev.Path, ev.Index)
	case EventToggleDeleted:
		err = e.toggleDeleted(ev.Path, ev.Index, ev.Deleted)
	case EventLoadRow:
		err = e.loadRow(ev.Path, ev.Row, ev.Persisted)
	case EventFetchDone:
		if ev.fetch != nil {
			e.completeFetch(ev.fetch)
		}
	case EventTimer:
		if ev.timer != nil && !e.sched.Fire(ev.timer.key, ev.timer.token) {
			e.logger.Debug("discarding superseded timer", "key", ev.timer.key, "token", ev.timer.token)
		}
	case EventSubmit:
		c.flush = true
		e.settle(c)
		flushed := c.flushed
		report := &SubmitReport{
			Snapshot: e.snapshot(),
			Flushed:  flushed,
			Pending:  e.pendingResolutions(),
		}
		e.logger.Info("submit flushed", "document", e.doc.ID, "flushed", flushed, "pending", len(report.Pending))
		if ev.reply != nil {
			ev.reply <- report
		}
		return
	default:
		err = fmt.Errorf("unknown event type: %d", ev.Type)
	}

	if err != nil {
		e.reject(ev, err)
	}
	e.settle(c)
}

func (e *Engine) reject(ev Event, err error) {
	code := "UNKNOWN"
	var re *RuntimeError
	var le *LimitError
	switch {
	case errors.As(err, &re):
		code = string(re.Code)
	case errors.As(err, &le):
		code = string(ErrCodeRowLimit)
	}
	rejectedInputs.WithLabelValues(code).Inc()

	e.logger.Warn("input rejected",
		"document", e.doc.ID,
		"type", ev.Type.String(),
		"path", ev.Path,
		"error", err,
	)
	e.observer.InputRejected(ev, err)
}

func (e *Engine) pendingResolutions() []string {
	var pending []string
	e.doc.walk(func(r *Row) {
		for _, f := range r.fields {
			if f.State == StateLoading {
				pending = append(pending, f.Path)
			}
		}
	})
	return pending
}
