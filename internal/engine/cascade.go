package engine

import (
	"slices"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// cascade tracks the propagation started by one event: changed fields still
// to be propagated and whether aggregates need a recomputation.
type cascade struct {
	ev        Event
	input     string
	quota     *QuotaEnforcer
	work      []*Field
	recompute bool
	halted    bool

	// flush runs scheduled jobs inline instead of arming timers; set by
	// submit so no recomputation is left pending when the report is taken.
	flush   bool
	flushed int
}

func (e *Engine) begin(ev Event) *cascade {
	input := "init"
	if ev.Type != 0 {
		input = ev.Type.String()
		if ev.Path != "" {
			input += ":" + ev.Path
		}
	}
	c := &cascade{ev: ev, input: input, quota: NewQuotaEnforcer(e.maxCascade)}
	e.cur = c
	return c
}

// settle propagates queued changes breadth first until the cascade is quiet,
// then schedules (or, without debounce or while flushing, runs) the
// aggregate recomputation. A recomputation may change fields that in turn
// request another one, so running jobs loops until nothing is pending.
func (e *Engine) settle(c *cascade) {
	for {
		for len(c.work) > 0 && !c.halted {
			f := c.work[0]
			c.work[0] = nil
			c.work = c.work[1:]

			if !e.fansOut(f) {
				continue
			}
			if err := c.quota.Check(c.input); err != nil {
				c.halted = true
				c.work = nil
				cascadeExceeded.Inc()
				e.logger.Error("cascade quota exceeded",
					"document", e.doc.ID,
					"input", c.input,
					"steps", c.quota.Current(),
					"limit", c.quota.MaxSteps(),
					"event", "cascade_exceeded",
				)
				e.observer.InputRejected(c.ev, err)
				break
			}
			e.propagate(f)
		}
		if c.halted {
			return
		}

		if c.recompute {
			c.recompute = false
			e.sched.Schedule(aggregateKey, e.recompute)
		}
		if (c.flush || e.sched.Immediate()) && e.sched.Pending() > 0 {
			c.flushed += e.sched.Flush()
			if len(c.work) > 0 || c.recompute {
				continue
			}
		}
		return
	}
}

// propagate hands one changed field to everything wired to it.
func (e *Engine) propagate(f *Field) {
	for _, d := range e.dependents[f] {
		if d.row.State == RowDetached {
			continue
		}
		if vw := d.Spec.VisibleWhen; vw != nil && vw.Field == f.Spec.Name {
			e.applyVisibility(d)
		}
		if src := d.Spec.Source; src != nil && slices.Contains(src.FieldRefs(), f.Spec.Name) {
			e.resolve(d)
		}
	}
	if g := f.row.group; g != nil && g.Spec.Pool == f.Spec.Name {
		e.guard(g)
	}
}

// fansOut reports whether a change to f reaches anything. Only those
// changes count against the cascade quota.
func (e *Engine) fansOut(f *Field) bool {
	if len(e.dependents[f]) > 0 {
		return true
	}
	g := f.row.group
	return g != nil && g.Spec.Pool == f.Spec.Name
}

// assign sets a single value and emits a change if it differs.
func (e *Engine) assign(f *Field, value string, cause Cause) bool {
	if f.Spec.Kind == ir.KindMultiSelect {
		return e.assignValues(f, splitValues(value), cause)
	}
	if f.Value == value {
		return false
	}
	f.Value = value
	e.emit(f, cause)
	return true
}

// assignValues sets a multiselect's values and emits a change if they differ.
func (e *Engine) assignValues(f *Field, values []string, cause Cause) bool {
	if slices.Equal(f.Values, values) {
		return false
	}
	f.Values = slices.Clone(values)
	e.emit(f, cause)
	return true
}

// emit records the change and queues it for propagation.
func (e *Engine) emit(f *Field, cause Cause) {
	e.record(f, cause)
	c := e.cur
	if c == nil || c.halted {
		return
	}
	c.work = append(c.work, f)
	if !e.recomputing {
		c.recompute = true
	}
}

// record notifies observers without propagating. Used for values that are
// already in place when a row is wired.
func (e *Engine) record(f *Field, cause Cause) {
	ch := Change{
		Seq:   e.seq.Next(),
		Path:  f.Path,
		Value: f.Value,
		Cause: cause,
	}
	if f.Spec.Kind == ir.KindMultiSelect {
		ch.Value = f.text()
		ch.Values = slices.Clone(f.Values)
	}
	e.logger.Debug("field changed", "path", ch.Path, "value", ch.Value, "cause", string(cause), "seq", ch.Seq)
	e.observer.FieldChanged(ch)
}

func (e *Engine) requestRecompute() {
	if e.cur != nil && !e.recomputing {
		e.cur.recompute = true
	}
}
