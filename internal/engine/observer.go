package engine

import "sync"

// Cause says why a field value changed.
type Cause string

const (
	CauseInput     Cause = "input"     // host SetValue/SetValues
	CauseLoad      Cause = "load"      // LoadRow values
	CauseInitial   Cause = "initial"   // declared initial value at wiring
	CauseReset     Cause = "reset"     // selection no longer valid; reverted to placeholder
	CauseLookup    Cause = "lookup"    // lookup attribute resolved
	CauseDerive    Cause = "derive"    // row or document formula
	CauseAggregate Cause = "aggregate" // group roll-up
	CauseConflict  Cause = "conflict"  // pool value already held by a sibling
)

// Change is one emitted field value change. The ordered stream of changes is
// the document's change log.
type Change struct {
	Seq    int64    `json:"seq" yaml:"seq"`
	Path   string   `json:"path" yaml:"path"`
	Value  string   `json:"value" yaml:"value"`
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	Cause  Cause    `json:"cause" yaml:"cause"`
}

// Observer receives the change log and rejected inputs. Calls happen on the
// loop goroutine while the engine lock is held; implementations must not call
// back into the engine.
type Observer interface {
	FieldChanged(c Change)
	InputRejected(ev Event, err error)
}

// Recorder is an Observer that keeps everything it sees.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	changes  []Change
	rejected []error
}

// FieldChanged implements Observer.
func (r *Recorder) FieldChanged(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

// InputRejected implements Observer.
func (r *Recorder) InputRejected(_ Event, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, err)
}

// Changes returns a copy of the recorded changes.
func (r *Recorder) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

// ChangesFor returns the recorded changes of one path.
func (r *Recorder) ChangesFor(path string) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Change
	for _, c := range r.changes {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Rejected returns a copy of the recorded rejections.
func (r *Recorder) Rejected() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.rejected))
	copy(out, r.rejected)
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
	r.rejected = nil
}

type observers []Observer

func (o observers) FieldChanged(c Change) {
	for _, obs := range o {
		obs.FieldChanged(c)
	}
}

func (o observers) InputRejected(ev Event, err error) {
	for _, obs := range o {
		obs.InputRejected(ev, err)
	}
}
