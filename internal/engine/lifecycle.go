package engine

import (
	"fmt"
	"slices"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// wireRow connects a new row (and its nested rows) to the resolver, the
// allocation guard and the aggregate propagator, then runs its initial pass.
// The edges it registers are remembered by the disposer stored on the row,
// which is the only way they are ever removed.
func (e *Engine) wireRow(r *Row) {
	type edge struct{ src, dep *Field }
	var edges []edge

	for _, f := range r.fields {
		for _, name := range f.Spec.Dependencies() {
			src, ok := r.lookup(name)
			if !ok {
				e.logger.Warn("unresolved field reference", "path", f.Path, "ref", name)
				continue
			}
			e.dependents[src] = append(e.dependents[src], f)
			edges = append(edges, edge{src, f})
		}
	}
	if r.State == RowNew {
		r.State = RowWired
	}

	for _, g := range r.groups {
		for _, child := range g.rows {
			e.wireRow(child)
		}
	}

	r.dispose = func() {
		for _, g := range r.groups {
			for _, child := range g.rows {
				if child.dispose != nil {
					child.dispose()
				}
			}
		}
		for _, ed := range edges {
			e.dependents[ed.src] = slices.DeleteFunc(e.dependents[ed.src], func(d *Field) bool {
				return d == ed.dep
			})
			if len(e.dependents[ed.src]) == 0 {
				delete(e.dependents, ed.src)
			}
		}
		for _, f := range r.fields {
			delete(e.dependents, f)
			// Invalidate anything still in flight for this row.
			f.token = e.tokens.Next()
		}
		r.State = RowDetached
		r.dispose = nil
	}

	for _, f := range r.fields {
		if f.Spec.Kind.HasOptions() && len(f.Spec.Choices) > 0 {
			e.applyChoices(f)
		}
		e.applyVisibility(f)
	}
	for _, f := range r.fields {
		if f.Spec.Source != nil {
			e.resolve(f)
		}
	}
	for _, g := range r.groups {
		e.guard(g)
	}
	e.requestRecompute()
}

// recordInitial logs the values a fresh row starts with: loaded values as
// CauseLoad, declared initial values as CauseInitial.
func (e *Engine) recordInitial(r *Row, loaded map[string]string) {
	for _, f := range r.fields {
		if _, ok := loaded[f.Spec.Name]; ok {
			e.record(f, CauseLoad)
			continue
		}
		if f.Spec.Initial != "" {
			e.record(f, CauseInitial)
		}
	}
	for _, g := range r.groups {
		for _, child := range g.rows {
			e.recordInitial(child, nil)
		}
	}
}

func (e *Engine) group(path string) (*Group, error) {
	g, ok := e.doc.Group(path)
	if !ok {
		return nil, NewUnknownPathError(path, "group")
	}
	return g, nil
}

func (e *Engine) row(groupPath string, index int) (*Group, *Row, error) {
	g, err := e.group(groupPath)
	if err != nil {
		return nil, nil, err
	}
	r, ok := g.Row(index)
	if !ok {
		return nil, nil, NewUnknownPathError(rowPath(groupPath, index), "row")
	}
	return g, r, nil
}

// canGrow checks max_rows and that the owning row is live.
func (e *Engine) canGrow(g *Group) error {
	if g.owner.excluded() {
		return NewInvalidStateError(g.Path, "owner row is soft-deleted")
	}
	if limit := g.Spec.MaxRows; limit > 0 {
		if live := len(g.LiveRows()); live >= limit {
			return &LimitError{Group: g.Path, Op: "add", Rows: live, Limit: limit}
		}
	}
	return nil
}

// canShrink checks min_rows before a live row leaves the group.
func (e *Engine) canShrink(g *Group, r *Row, op string) error {
	if r.State == RowDeleted {
		return nil
	}
	if limit := g.Spec.MinRows; limit > 0 {
		if live := len(g.LiveRows()); live <= limit {
			return &LimitError{Group: g.Path, Op: op, Rows: live, Limit: limit}
		}
	}
	return nil
}

func (e *Engine) addRow(groupPath string) error {
	g, err := e.group(groupPath)
	if err != nil {
		return err
	}
	if err := e.canGrow(g); err != nil {
		return err
	}
	r := e.doc.appendRow(g)
	e.recordInitial(r, nil)
	e.wireRow(r)
	e.logger.Debug("row added", "document", e.doc.ID, "row", r.Path)
	return nil
}

// loadRow appends a pre-existing row. Values are installed before wiring, so
// resolvers see them and keep them when they are still valid options.
func (e *Engine) loadRow(groupPath string, values map[string]string, persisted bool) error {
	g, err := e.group(groupPath)
	if err != nil {
		return err
	}
	for name := range values {
		spec, ok := fieldSpec(g.Spec.Fields, name)
		if !ok {
			return NewUnknownPathError(joinPath(groupPath, name), "field")
		}
		if spec.Kind.IsComputed() {
			return NewInvalidStateError(joinPath(groupPath, name), "computed field cannot be loaded")
		}
	}
	if err := e.canGrow(g); err != nil {
		return err
	}

	r := e.doc.appendRow(g)
	r.Persisted = persisted
	for _, f := range r.fields {
		v, ok := values[f.Spec.Name]
		if !ok {
			continue
		}
		if f.Spec.Kind == ir.KindMultiSelect {
			f.Values = splitValues(v)
		} else {
			f.Value = v
		}
	}
	e.recordInitial(r, values)
	e.wireRow(r)
	e.claimPool(g, r)
	e.guard(g)
	e.logger.Debug("row loaded", "document", e.doc.ID, "row", r.Path, "persisted", persisted)
	return nil
}

// removeRow hard-removes a row that was never persisted.
func (e *Engine) removeRow(groupPath string, index int) error {
	g, r, err := e.row(groupPath, index)
	if err != nil {
		return err
	}
	if r.Persisted {
		return NewInvalidStateError(r.Path, "persisted rows can only be soft-deleted")
	}
	if err := e.canShrink(g, r, "remove"); err != nil {
		return err
	}

	if r.dispose != nil {
		r.dispose()
	}
	g.rows = slices.DeleteFunc(g.rows, func(x *Row) bool { return x == r })
	e.doc.forget(r)

	e.guard(g)
	e.requestRecompute()
	e.logger.Debug("row removed", "document", e.doc.ID, "row", r.Path)
	return nil
}

// toggleDeleted soft-deletes or restores a row. A restored row reclaims its
// pool value unless a sibling took it meanwhile.
func (e *Engine) toggleDeleted(groupPath string, index int, deleted bool) error {
	g, r, err := e.row(groupPath, index)
	if err != nil {
		return err
	}
	if r.Deleted() == deleted {
		return nil
	}
	if deleted {
		if err := e.canShrink(g, r, "delete"); err != nil {
			return err
		}
		r.State = RowDeleted
	} else {
		if limit := g.Spec.MaxRows; limit > 0 && len(g.LiveRows()) >= limit {
			return &LimitError{Group: g.Path, Op: "add", Rows: len(g.LiveRows()), Limit: limit}
		}
		r.State = RowWired
		e.claimPool(g, r)
	}

	e.guard(g)
	e.requestRecompute()
	e.logger.Debug("row deletion toggled", "document", e.doc.ID, "row", r.Path, "deleted", deleted)
	return nil
}

// applySetValue validates and applies a host value change.
func (e *Engine) applySetValue(ev Event) error {
	f, ok := e.doc.Field(ev.Path)
	if !ok {
		return NewUnknownPathError(ev.Path, "field")
	}
	if f.Spec.Kind.IsComputed() {
		return NewInvalidStateError(f.Path, "computed field is not user-editable")
	}
	if f.row.excluded() {
		return NewInvalidStateError(f.Path, "row is soft-deleted")
	}

	switch f.Spec.Kind {
	case ir.KindMultiSelect:
		values := ev.Values
		if !ev.Multi {
			values = splitValues(ev.Value)
		}
		values = dedupe(values)
		for _, v := range values {
			if err := e.checkOption(f, v); err != nil {
				return err
			}
		}
		e.assignValues(f, values, CauseInput)
		return nil

	case ir.KindSelect:
		if err := e.checkOption(f, ev.Value); err != nil {
			return err
		}
		if g := f.row.group; g != nil && g.Spec.Pool == f.Spec.Name {
			if holder, held := e.heldBySibling(g, f.row, ev.Value); held {
				return NewInvalidStateError(f.Path, fmt.Sprintf("value %q is held by %s", ev.Value, holder.Path))
			}
		}

	case ir.KindBoolean:
		switch ev.Value {
		case "", "true", "false":
		default:
			return NewInvalidStateError(f.Path, fmt.Sprintf("boolean value %q", ev.Value))
		}
	}

	e.assign(f, ev.Value, CauseInput)
	return nil
}

// checkOption accepts any value while options are unresolved; once populated
// the value must be an enabled option. The placeholder is always accepted.
func (e *Engine) checkOption(f *Field, value string) error {
	if value == "" || f.State != StatePopulated {
		return nil
	}
	opt, ok := f.option(value)
	if !ok {
		return NewInvalidStateError(f.Path, fmt.Sprintf("%q is not an option", value))
	}
	if opt.Disabled && value != f.Value {
		return NewInvalidStateError(f.Path, fmt.Sprintf("option %q is disabled", value))
	}
	return nil
}

func fieldSpec(fields []ir.FieldSpec, name string) (*ir.FieldSpec, bool) {
	for i := range fields {
		if fields[i].Name == name {
			return &fields[i], true
		}
	}
	return nil, false
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
