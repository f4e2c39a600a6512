package harness

import "github.com/Adrian3strada/djappiffy-railway-sub000/internal/engine"

// Trace event types.
const (
	EventStep     = "step"     // a scenario step began
	EventChange   = "change"   // the engine emitted a field change
	EventRejected = "rejected" // the engine rejected an input
)

// TraceEvent is one entry of a scenario trace: the steps as they were
// applied, interleaved with the changes and rejections they caused.
type TraceEvent struct {
	Type   string   `json:"type"`
	Step   int      `json:"step"`
	Op     string   `json:"op,omitempty"`
	Path   string   `json:"path,omitempty"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
	Cause  string   `json:"cause,omitempty"`
	Error  string   `json:"error,omitempty"`
	Seq    int64    `json:"seq,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step and assertion held.
	Pass bool `json:"pass"`

	// Trace contains steps, changes and rejections in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the document state after the last step.
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`

	// Submitted is the report of the last submit step, if any.
	Submitted *engine.SubmitReport `json:"submitted,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace records the start of a step.
func (r *Result) AddStepTrace(step int, op, path string) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventStep, Step: step, Op: op, Path: path})
}

// AddChangeTrace records an emitted change.
func (r *Result) AddChangeTrace(step int, c engine.Change) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   EventChange,
		Step:   step,
		Path:   c.Path,
		Value:  c.Value,
		Values: c.Values,
		Cause:  string(c.Cause),
		Seq:    c.Seq,
	})
}

// AddRejectedTrace records a rejected input.
func (r *Result) AddRejectedTrace(step int, path string, err error) {
	r.Trace = append(r.Trace, TraceEvent{Type: EventRejected, Step: step, Path: path, Error: err.Error()})
}

// Changes returns the change events of the trace.
func (r *Result) Changes() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventChange {
			out = append(out, ev)
		}
	}
	return out
}

// Rejections returns the rejection events of the trace.
func (r *Result) Rejections() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventRejected {
			out = append(out, ev)
		}
	}
	return out
}
