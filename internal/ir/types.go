package ir

// FieldKind identifies how a field is edited and rendered.
type FieldKind string

const (
	KindSelect      FieldKind = "select"
	KindMultiSelect FieldKind = "multiselect"
	KindNumeric     FieldKind = "numeric"
	KindBoolean     FieldKind = "boolean"
	KindText        FieldKind = "text"

	// KindLookup holds one numeric attribute of a resolved reference object.
	// It is never user-editable.
	KindLookup FieldKind = "lookup"

	// KindDerived holds the result of a formula or aggregate contract.
	// It is never user-editable.
	KindDerived FieldKind = "derived"
)

// ValidKinds lists the accepted field kinds.
var ValidKinds = map[FieldKind]bool{
	KindSelect:      true,
	KindMultiSelect: true,
	KindNumeric:     true,
	KindBoolean:     true,
	KindText:        true,
	KindLookup:      true,
	KindDerived:     true,
}

// HasOptions reports whether fields of this kind carry an option list.
func (k FieldKind) HasOptions() bool {
	return k == KindSelect || k == KindMultiSelect
}

// IsComputed reports whether the engine, not the user, owns the value.
func (k FieldKind) IsComputed() bool {
	return k == KindLookup || k == KindDerived
}

// DefaultPrecision is the truncation precision for derived values when none is declared.
const DefaultPrecision = 2

// DocumentSpec is a compiled document definition: the top-level scope.
type DocumentSpec struct {
	Name   string      `json:"name"`
	Fields []FieldSpec `json:"fields"`
	Groups []GroupSpec `json:"groups,omitempty"`
}

// GroupSpec declares a repeating group of rows.
type GroupSpec struct {
	Name string `json:"name"`

	// Pool names the select field rows allocate from exclusively. Empty means no pool.
	Pool string `json:"pool,omitempty"`

	MinRows int `json:"min_rows,omitempty"`
	MaxRows int `json:"max_rows,omitempty"` // 0 means unbounded

	// Fields and Groups form the row template.
	Fields []FieldSpec `json:"fields"`
	Groups []GroupSpec `json:"groups,omitempty"`

	// Aggregates roll row-level fields into derived fields of the owner scope.
	Aggregates []AggregateSpec `json:"aggregates,omitempty"`
}

// FieldSpec declares one field of a document or row template.
type FieldSpec struct {
	Name        string    `json:"name"`
	Kind        FieldKind `json:"kind"`
	Label       string    `json:"label,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Precision   *int      `json:"precision,omitempty"` // nil means DefaultPrecision
	Initial     string    `json:"initial,omitempty"`

	// Choices is a static option list. Option fields declare either Choices or Source.
	Choices []ChoiceSpec `json:"choices,omitempty"`

	Source      *SourceSpec     `json:"source,omitempty"`
	Derive      *FormulaSpec    `json:"derive,omitempty"`
	VisibleWhen *VisibilitySpec `json:"visible_when,omitempty"`
}

// EffectivePrecision returns the declared precision or DefaultPrecision.
func (f FieldSpec) EffectivePrecision() int {
	if f.Precision != nil && *f.Precision >= 0 {
		return *f.Precision
	}
	return DefaultPrecision
}

// PrecisionOf returns a precision for FieldSpec.Precision.
func PrecisionOf(n int) *int {
	return &n
}

// Dependencies returns the field names this field re-resolves or re-derives from,
// in declaration order, without duplicates.
func (f FieldSpec) Dependencies() []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			deps = append(deps, name)
		}
	}
	if f.Source != nil {
		for _, name := range f.Source.FieldRefs() {
			add(name)
		}
	}
	if f.Derive != nil {
		for _, name := range f.Derive.FieldRefs() {
			add(name)
		}
	}
	if f.VisibleWhen != nil {
		add(f.VisibleWhen.Field)
	}
	return deps
}

// ChoiceSpec is one static option.
type ChoiceSpec struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// SourceSpec declares how a dependent field's options (or lookup value) are resolved.
type SourceSpec struct {
	// Steps are fetched in order. Later steps may reference attributes of the
	// previous step's object result with "prev:<attr>" parameters.
	Steps []RequestStep `json:"steps"`

	OptionID    string `json:"option_id,omitempty"`    // default "id"
	OptionLabel string `json:"option_label,omitempty"` // default "name"

	// Attribute selects the numeric attribute of the final object for lookup fields.
	Attribute string `json:"attribute,omitempty"`

	// RequireAll skips fetching and clears the field while any referenced source field is empty.
	RequireAll bool `json:"require_all,omitempty"`
}

// FieldRefs returns every field referenced by the source's request parameters.
func (s SourceSpec) FieldRefs() []string {
	var refs []string
	for _, step := range s.Steps {
		for _, p := range step.Params {
			if p.Kind == ParamField {
				refs = append(refs, p.Value)
			}
		}
	}
	return refs
}

// IDKey returns the attribute used as option id.
func (s SourceSpec) IDKey() string {
	if s.OptionID == "" {
		return "id"
	}
	return s.OptionID
}

// LabelKey returns the attribute used as option label.
func (s SourceSpec) LabelKey() string {
	if s.OptionLabel == "" {
		return "name"
	}
	return s.OptionLabel
}

// RequestStep is one request of a (possibly chained) resolver.
type RequestStep struct {
	Endpoint string         `json:"endpoint"`
	Params   []ParamBinding `json:"params,omitempty"` // ordered by name
}

// ParamKind says where a request parameter's value comes from.
type ParamKind string

const (
	ParamLiteral ParamKind = "literal"
	ParamField   ParamKind = "field"
	ParamPrev    ParamKind = "prev"
)

// ParamBinding binds one query parameter.
type ParamBinding struct {
	Name  string    `json:"name"`
	Kind  ParamKind `json:"kind"`
	Value string    `json:"value"` // literal text, field name, or previous-step attribute
}

// FormulaOp is a pure arithmetic operator over decimal operands.
type FormulaOp string

const (
	OpSum FormulaOp = "sum"
	OpSub FormulaOp = "sub"
	OpMul FormulaOp = "mul"
	OpDiv FormulaOp = "div"
	OpMin FormulaOp = "min"
	OpMax FormulaOp = "max"
)

// ValidFormulaOps lists the accepted formula operators.
var ValidFormulaOps = map[FormulaOp]bool{
	OpSum: true, OpSub: true, OpMul: true, OpDiv: true, OpMin: true, OpMax: true,
}

// FormulaSpec is a derivation: Op applied left to right over Args.
type FormulaSpec struct {
	Op   FormulaOp `json:"op"`
	Args []Operand `json:"args"`
}

// FieldRefs returns every field referenced by the formula, depth first.
func (f FormulaSpec) FieldRefs() []string {
	var refs []string
	for _, a := range f.Args {
		switch {
		case a.Field != "":
			refs = append(refs, a.Field)
		case a.Formula != nil:
			refs = append(refs, a.Formula.FieldRefs()...)
		}
	}
	return refs
}

// Operand is exactly one of a field reference, a decimal constant, or a nested formula.
type Operand struct {
	Field   string       `json:"field,omitempty"`
	Const   string       `json:"const,omitempty"`
	Formula *FormulaSpec `json:"formula,omitempty"`
}

// AggregateOp is how row values roll up into the owner scope.
type AggregateOp string

const (
	AggSum   AggregateOp = "sum"
	AggCount AggregateOp = "count"
)

// AggregateSpec rolls the row field Field of every live row into the owner field Into.
type AggregateSpec struct {
	Field string      `json:"field,omitempty"` // unused by count
	Into  string      `json:"into"`
	Op    AggregateOp `json:"op"`
}

// VisibilitySpec shows a field only while Field's value is one of In.
type VisibilitySpec struct {
	Field string   `json:"field"`
	In    []string `json:"in"`
}

// Allows reports whether value makes the guarded field visible.
func (v VisibilitySpec) Allows(value string) bool {
	for _, candidate := range v.In {
		if candidate == value {
			return true
		}
	}
	return false
}
