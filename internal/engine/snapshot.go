package engine

import "slices"

// FieldView is what the host renders for one field.
type FieldView struct {
	Value   string   `json:"value"`
	Values  []string `json:"values,omitempty"`
	Options []Option `json:"options,omitempty"`
	// Disabled marks the whole control read-only: computed fields and
	// fields of soft-deleted rows.
	Disabled bool       `json:"disabled,omitempty"`
	Hidden   bool       `json:"hidden,omitempty"`
	State    FieldState `json:"state"`
	Error    string     `json:"error,omitempty"`
}

// RowView describes one attached row.
type RowView struct {
	Index     int      `json:"index"`
	Path      string   `json:"path"`
	State     RowState `json:"state"`
	Persisted bool     `json:"persisted,omitempty"`
}

// Snapshot is a consistent copy of the document state.
type Snapshot struct {
	DocumentID string               `json:"document_id"`
	Fields     map[string]FieldView `json:"fields"`
	Groups     map[string][]RowView `json:"groups"`

	// Order lists field paths in document order.
	Order []string `json:"order"`
}

// Snapshot copies the current state. Safe from any goroutine.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Engine) snapshot() *Snapshot {
	s := &Snapshot{
		DocumentID: e.doc.ID,
		Fields:     make(map[string]FieldView, len(e.doc.fields)),
		Groups:     make(map[string][]RowView, len(e.doc.groups)),
	}
	e.doc.walk(func(r *Row) {
		excluded := r.excluded()
		for _, f := range r.fields {
			view := FieldView{
				Value:    f.Value,
				Values:   slices.Clone(f.Values),
				Options:  slices.Clone(f.Options),
				Disabled: excluded || f.Spec.Kind.IsComputed(),
				Hidden:   f.Hidden,
				State:    f.State,
			}
			if f.Err != nil {
				view.Error = f.Err.Error()
			}
			s.Fields[f.Path] = view
			s.Order = append(s.Order, f.Path)
		}
		for _, g := range r.groups {
			rows := make([]RowView, 0, len(g.rows))
			for _, child := range g.rows {
				rows = append(rows, RowView{
					Index:     child.Index,
					Path:      child.Path,
					State:     child.State,
					Persisted: child.Persisted,
				})
			}
			s.Groups[g.Path] = rows
		}
	})
	return s
}

// Field returns the view of one path.
func (s *Snapshot) Field(path string) (FieldView, bool) {
	v, ok := s.Fields[path]
	return v, ok
}

// EnabledOptions returns the ids of enabled, non-placeholder options.
func (v FieldView) EnabledOptions() []string {
	var ids []string
	for _, o := range v.Options {
		if o.ID != "" && !o.Disabled {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// DisabledOptions returns the ids of disabled options.
func (v FieldView) DisabledOptions() []string {
	var ids []string
	for _, o := range v.Options {
		if o.Disabled {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
