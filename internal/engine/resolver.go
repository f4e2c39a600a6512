package engine

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/numeric"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
)

// resolve issues a new resolution for a dependent field.
//
// Source values are captured now, on the loop; the fetch chain runs on the
// spawner and reports back through EventFetchDone. Each call takes a fresh
// token, which supersedes every resolution still in flight for the field.
func (e *Engine) resolve(f *Field) {
	src := f.Spec.Source
	if src == nil {
		return
	}

	values := make(map[string]string)
	missing := false
	for _, name := range src.FieldRefs() {
		v := ""
		if ref, ok := f.row.lookup(name); ok {
			v = ref.text()
		}
		values[name] = v
		if v == "" {
			missing = true
		}
	}

	if missing && src.RequireAll {
		f.token = e.tokens.Next()
		e.logger.Debug("source incomplete, clearing", "path", f.Path)
		e.clearResolution(f, StateEmpty, nil)
		return
	}

	if f.State == StatePopulated {
		f.State = StateStale
		e.logger.Debug("field stale", "path", f.Path)
	}

	token := e.tokens.Next()
	f.token = token
	f.State = StateLoading

	steps := src.Steps
	ctx := e.ctx
	e.logger.Debug("resolution issued", "path", f.Path, "token", token)

	e.spawner.Go(func() {
		payload, err := e.fetchChain(ctx, steps, values)
		e.queue.Enqueue(Event{
			Type:  EventFetchDone,
			fetch: &fetchResult{field: f, token: token, payload: payload, err: err},
		})
	})
}

// fetchChain runs the resolver's request steps in order. A later step may
// bind "prev:<attr>" parameters to the previous step's object; only the final
// payload is returned. Runs off the loop and touches only its arguments and
// the thread-safe client.
func (e *Engine) fetchChain(ctx context.Context, steps []ir.RequestStep, values map[string]string) (*refdata.Payload, error) {
	var prev refdata.Record
	for i, step := range steps {
		req, err := buildRequest(step, values, prev)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		payload, err := e.client.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		if i == len(steps)-1 {
			return payload, nil
		}
		prev = payload.Object()
		if prev == nil {
			return nil, fmt.Errorf("step %d (%s): no object to chain from", i, req.Key())
		}
	}
	return nil, fmt.Errorf("resolver has no steps")
}

// buildRequest binds a step's parameters. A parameter whose name appears as
// "{name}" in the endpoint fills that path segment instead of the query.
func buildRequest(step ir.RequestStep, values map[string]string, prev refdata.Record) (refdata.Request, error) {
	endpoint := step.Endpoint
	req := refdata.Request{}
	for _, p := range step.Params {
		var v string
		switch p.Kind {
		case ir.ParamLiteral:
			v = p.Value
		case ir.ParamField:
			v = values[p.Value]
		case ir.ParamPrev:
			if prev == nil {
				return refdata.Request{}, fmt.Errorf("parameter %s: no previous step", p.Name)
			}
			v = prev.Text(p.Value)
		default:
			return refdata.Request{}, fmt.Errorf("parameter %s: unknown kind %q", p.Name, p.Kind)
		}
		placeholder := "{" + p.Name + "}"
		if strings.Contains(endpoint, placeholder) {
			endpoint = strings.ReplaceAll(endpoint, placeholder, url.PathEscape(v))
			continue
		}
		req.Params = append(req.Params, refdata.Param{Name: p.Name, Value: v})
	}
	req.Endpoint = endpoint
	return req, nil
}

// completeFetch applies a resolution outcome if its token is still current.
func (e *Engine) completeFetch(r *fetchResult) {
	f := r.field
	if f.row.State == RowDetached || r.token != f.token {
		staleCompletions.Inc()
		e.logger.Debug("discarding stale completion",
			"path", f.Path,
			"error", newStaleCompletion(f.Path, r.token, f.token),
		)
		return
	}

	if r.err != nil {
		fetchFailures.Inc()
		ferr := NewFetchError(f.Path, r.err)
		e.logger.Warn("resolution failed",
			"document", e.doc.ID,
			"path", f.Path,
			"timeout", refdata.IsTimeout(r.err),
			"error", ferr,
		)
		e.clearResolution(f, StateError, ferr)
		return
	}

	f.Err = nil
	if f.Spec.Kind == ir.KindLookup {
		e.applyLookup(f, r.payload)
		return
	}
	e.applyOptions(f, optionsFrom(f, r.payload))
}

// clearResolution drops resolved data: options fall back to the placeholder
// and any selection or lookup value is cleared (emitting a change).
func (e *Engine) clearResolution(f *Field, state FieldState, err error) {
	f.State = state
	f.Err = err
	if f.Spec.Kind.HasOptions() {
		f.Options = []Option{f.placeholder()}
	}
	switch f.Spec.Kind {
	case ir.KindMultiSelect:
		e.assignValues(f, nil, CauseReset)
	case ir.KindLookup:
		e.assign(f, "", CauseLookup)
	default:
		e.assign(f, "", CauseReset)
	}
	if g := f.row.group; g != nil && g.Spec.Pool == f.Spec.Name {
		e.guard(g)
	}
}

// applyOptions installs a new option list. A selection still present is kept
// silently; otherwise the field reverts to the placeholder and emits once.
func (e *Engine) applyOptions(f *Field, opts []Option) {
	f.Options = opts
	f.State = StatePopulated

	switch f.Spec.Kind {
	case ir.KindMultiSelect:
		kept := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			if f.hasOption(v) {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			kept = nil
		}
		e.assignValues(f, kept, CauseReset)
	default:
		if f.Value != "" && !f.hasOption(f.Value) {
			e.assign(f, "", CauseReset)
		}
	}

	if g := f.row.group; g != nil && g.Spec.Pool == f.Spec.Name {
		e.guard(g)
	}
}

// applyChoices installs a field's static option list.
func (e *Engine) applyChoices(f *Field) {
	opts := make([]Option, 0, len(f.Spec.Choices)+1)
	opts = append(opts, f.placeholder())
	seen := map[string]bool{"": true}
	for _, c := range f.Spec.Choices {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		label := c.Label
		if label == "" {
			label = c.ID
		}
		opts = append(opts, Option{ID: c.ID, Label: label})
	}
	e.applyOptions(f, opts)
}

// applyLookup stores one numeric attribute of the resolved object.
// A missing or non-numeric attribute leaves the field empty (zero in formulas).
func (e *Engine) applyLookup(f *Field, p *refdata.Payload) {
	f.State = StatePopulated
	value := ""
	if obj := p.Object(); obj != nil {
		if d, ok := numeric.Parse(obj.Text(f.Spec.Source.Attribute)); ok {
			value = d.Text('f')
		}
	}
	e.assign(f, value, CauseLookup)
}

// optionsFrom converts a payload into an option list: placeholder first,
// reference order preserved, ids unique (first occurrence wins).
func optionsFrom(f *Field, p *refdata.Payload) []Option {
	src := f.Spec.Source
	records := p.List()
	opts := make([]Option, 0, len(records)+1)
	opts = append(opts, f.placeholder())
	seen := map[string]bool{"": true}
	for _, rec := range records {
		id := rec.Text(src.IDKey())
		if seen[id] {
			continue
		}
		seen[id] = true
		label := rec.Text(src.LabelKey())
		if label == "" {
			label = id
		}
		opts = append(opts, Option{ID: id, Label: label})
	}
	return slices.Clip(opts)
}
