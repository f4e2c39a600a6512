package engine

import (
	"fmt"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

// FieldState is the resolution state of a field.
type FieldState string

const (
	// StateEmpty: no options resolved yet (or a required source is empty).
	StateEmpty FieldState = "empty"
	// StateLoading: a resolution is in flight.
	StateLoading FieldState = "loading"
	// StatePopulated: options (or a lookup value) reflect the current sources.
	StatePopulated FieldState = "populated"
	// StateStale: a source changed while populated; a new resolution is about to be issued.
	StateStale FieldState = "stale"
	// StateError: the latest resolution failed. Options hold only the placeholder.
	StateError FieldState = "error"
)

// RowState is the lifecycle state of a row.
type RowState string

const (
	RowNew      RowState = "new"
	RowWired    RowState = "wired"
	RowDeleted  RowState = "deleted"
	RowDetached RowState = "detached"
)

// DefaultPlaceholder is the label of the "no selection" option.
const DefaultPlaceholder = "---------"

// Option is one entry of a field's option list. The placeholder has an empty ID.
type Option struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Field is the runtime state of one field instance.
//
// Options are written only by the resolver and the allocation guard. Value is
// written by inputs, the resolver (reset to placeholder, lookup values) and
// the aggregate propagator (derived values).
type Field struct {
	Spec *ir.FieldSpec
	Path string

	Value  string
	Values []string // multiselect only

	Options []Option
	State   FieldState
	Hidden  bool
	Err     error // last resolution failure, cleared on success

	row   *Row
	token int64 // latest issued resolution token
}

// Row returns the row (or document root) that owns the field.
func (f *Field) Row() *Row {
	return f.row
}

// text is the value as seen by request parameters and visibility rules.
func (f *Field) text() string {
	if f.Spec.Kind == ir.KindMultiSelect {
		return strings.Join(f.Values, ",")
	}
	return f.Value
}

func (f *Field) placeholder() Option {
	label := f.Spec.Placeholder
	if label == "" {
		label = DefaultPlaceholder
	}
	return Option{Label: label}
}

func (f *Field) hasOption(id string) bool {
	for _, o := range f.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (f *Field) option(id string) (Option, bool) {
	for _, o := range f.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Row is one record instance of a group. The document's top-level scope is
// also a Row, with no group and an empty path.
type Row struct {
	Index     int
	State     RowState
	Persisted bool
	Path      string

	group  *Group
	fields []*Field
	byName map[string]*Field
	groups []*Group

	dispose func()
}

// Group returns the group containing the row, nil for the document root.
func (r *Row) Group() *Group {
	return r.group
}

// Field returns the row's own field by name.
func (r *Row) Field(name string) (*Field, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Fields returns the row's fields in declaration order.
func (r *Row) Fields() []*Field {
	return r.fields
}

// Groups returns the row's nested groups in declaration order.
func (r *Row) Groups() []*Group {
	return r.groups
}

// Deleted reports whether the row is soft-deleted.
func (r *Row) Deleted() bool {
	return r.State == RowDeleted
}

// excluded reports whether the row or any enclosing row is soft-deleted.
func (r *Row) excluded() bool {
	for cur := r; cur != nil && cur.group != nil; cur = cur.group.owner {
		if cur.State == RowDeleted {
			return true
		}
	}
	return false
}

// lookup resolves a field reference in this row first, then in enclosing scopes.
func (r *Row) lookup(name string) (*Field, bool) {
	for cur := r; cur != nil; {
		if f, ok := cur.byName[name]; ok {
			return f, true
		}
		if cur.group == nil {
			break
		}
		cur = cur.group.owner
	}
	return nil, false
}

// Group is an ordered sequence of rows under one owner scope.
type Group struct {
	Spec *ir.GroupSpec
	Path string

	owner     *Row
	rows      []*Row
	nextIndex int
}

// Owner returns the row (or document root) that owns the group.
func (g *Group) Owner() *Row {
	return g.owner
}

// Rows returns attached rows in creation order, soft-deleted ones included.
func (g *Group) Rows() []*Row {
	return g.rows
}

// Row returns the attached row with the given stable index.
func (g *Group) Row(index int) (*Row, bool) {
	for _, r := range g.rows {
		if r.Index == index {
			return r, true
		}
	}
	return nil, false
}

// LiveRows returns rows that are not soft-deleted.
func (g *Group) LiveRows() []*Row {
	live := make([]*Row, 0, len(g.rows))
	for _, r := range g.rows {
		if r.State != RowDeleted {
			live = append(live, r)
		}
	}
	return live
}

func (g *Group) poolField(r *Row) *Field {
	if g.Spec.Pool == "" {
		return nil
	}
	return r.byName[g.Spec.Pool]
}

// Document is the top-level scope: its own fields plus groups of rows.
//
// A Document is built by NewDocument and then owned by exactly one Engine,
// whose loop is the only writer.
type Document struct {
	ID   string
	Spec *ir.DocumentSpec
	Hash string

	root   *Row
	fields map[string]*Field
	groups map[string]*Group
}

// DocumentOption configures NewDocument.
type DocumentOption func(*documentConfig)

type documentConfig struct {
	ids IDGenerator
}

// WithIDGenerator sets the generator for the document ID.
func WithIDGenerator(g IDGenerator) DocumentOption {
	return func(c *documentConfig) {
		c.ids = g
	}
}

// NewDocument instantiates the document scope from a compiled definition.
// Groups receive their min_rows empty rows. Nothing is wired until the
// document is handed to New.
func NewDocument(spec *ir.DocumentSpec, opts ...DocumentOption) (*Document, error) {
	if spec == nil {
		return nil, fmt.Errorf("nil document spec")
	}
	cfg := documentConfig{ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	hash, err := ir.DocumentHash(*spec)
	if err != nil {
		return nil, fmt.Errorf("hash document %s: %w", spec.Name, err)
	}

	d := &Document{
		ID:     cfg.ids.Generate(),
		Spec:   spec,
		Hash:   hash,
		fields: make(map[string]*Field),
		groups: make(map[string]*Group),
	}
	d.root = d.newRow(nil, spec.Fields, spec.Groups, "", 0)
	return d, nil
}

// Root returns the document's top-level scope.
func (d *Document) Root() *Row {
	return d.root
}

// Field returns the field at path.
func (d *Document) Field(path string) (*Field, bool) {
	f, ok := d.fields[path]
	return f, ok
}

// Group returns the group at path.
func (d *Document) Group(path string) (*Group, bool) {
	g, ok := d.groups[path]
	return g, ok
}

// newRow instantiates a row and its nested groups from a template. The row
// and everything under it start in RowNew.
func (d *Document) newRow(g *Group, fields []ir.FieldSpec, groups []ir.GroupSpec, path string, index int) *Row {
	r := &Row{
		Index:  index,
		State:  RowNew,
		Path:   path,
		group:  g,
		byName: make(map[string]*Field, len(fields)),
	}
	for i := range fields {
		spec := &fields[i]
		f := &Field{
			Spec:  spec,
			Path:  joinPath(path, spec.Name),
			Value: spec.Initial,
			State: StateEmpty,
			row:   r,
		}
		if spec.Kind == ir.KindMultiSelect && spec.Initial != "" {
			f.Value = ""
			f.Values = splitValues(spec.Initial)
		}
		if spec.Kind.HasOptions() {
			f.Options = []Option{f.placeholder()}
		}
		r.fields = append(r.fields, f)
		r.byName[spec.Name] = f
		d.fields[f.Path] = f
	}
	for i := range groups {
		gs := &groups[i]
		child := &Group{
			Spec:  gs,
			Path:  joinPath(path, gs.Name),
			owner: r,
		}
		r.groups = append(r.groups, child)
		d.groups[child.Path] = child
		for n := 0; n < gs.MinRows; n++ {
			d.appendRow(child)
		}
	}
	return r
}

// appendRow instantiates the next row of g with the next stable index.
func (d *Document) appendRow(g *Group) *Row {
	index := g.nextIndex
	g.nextIndex++
	r := d.newRow(g, g.Spec.Fields, g.Spec.Groups, rowPath(g.Path, index), index)
	g.rows = append(g.rows, r)
	return r
}

// forget removes a detached row's fields and groups from the path index.
func (d *Document) forget(r *Row) {
	for _, f := range r.fields {
		delete(d.fields, f.Path)
	}
	for _, g := range r.groups {
		for _, child := range g.rows {
			d.forget(child)
		}
		delete(d.groups, g.Path)
	}
}

// walk visits every row depth first, document root first.
func (d *Document) walk(visit func(*Row)) {
	var rec func(*Row)
	rec = func(r *Row) {
		visit(r)
		for _, g := range r.groups {
			for _, child := range g.rows {
				rec(child)
			}
		}
	}
	rec(d.root)
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func rowPath(groupPath string, index int) string {
	return fmt.Sprintf("%s[%d]", groupPath, index)
}

func splitValues(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
