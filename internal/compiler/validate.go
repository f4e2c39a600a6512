package compiler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/numeric"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	// Document structure (E101-E109)
	ErrDocumentEmpty   = "E101" // no fields and no groups
	ErrDuplicateName   = "E102" // duplicate field/group name within a scope
	ErrInvalidKind     = "E103" // unknown field kind
	ErrInvalidName     = "E104" // name is not an identifier
	ErrInvalidLimits   = "E105" // bad min_rows/max_rows/precision
	ErrOptionsRequired = "E106" // option field without source or choices

	// References and edges (E110-E119)
	ErrUnknownReference = "E110" // field reference does not resolve
	ErrInvalidSource    = "E111" // malformed resolver
	ErrInvalidFormula   = "E112" // malformed derivation
	ErrInvalidPool      = "E113" // pool is not a select field of the row
	ErrInvalidAggregate = "E114" // malformed aggregate contract
	ErrInvalidVisible   = "E115" // malformed visible_when
	ErrAncestorDerived  = "E116" // row formula reads an enclosing derived field
	ErrDependencyCycle  = "E117" // cyclic dependency between fields
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// endpointPlaceholder matches "{name}" path segments in an endpoint.
var endpointPlaceholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled document against the wiring rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *ir.DocumentSpec:
		return validateDocument(spec)
	case ir.DocumentSpec:
		return validateDocument(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// scope is one level of the template tree: the document or a group's row.
type scope struct {
	path   string
	fields map[string]*ir.FieldSpec
	parent *scope
}

// lookup resolves name in this scope first, then in enclosing scopes.
func (s *scope) lookup(name string) (*ir.FieldSpec, *scope, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if f, ok := cur.fields[name]; ok {
			return f, cur, true
		}
	}
	return nil, nil, false
}

type validator struct {
	errs []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func validateDocument(spec *ir.DocumentSpec) []ValidationError {
	v := &validator{}

	if len(spec.Fields) == 0 && len(spec.Groups) == 0 {
		v.add("document", ErrDocumentEmpty, "document %q declares no fields or groups", spec.Name)
		return v.errs
	}

	root := v.scopeOf(spec.Name, spec.Fields, spec.Groups, nil)
	v.validateScope(root, spec.Fields, spec.Groups)

	for _, c := range AnalyzeCycles(spec) {
		v.add(strings.Join(c.Path, " -> "), ErrDependencyCycle, "%s", c.Message)
	}
	return v.errs
}

// scopeOf indexes a template's fields and reports duplicate names. Fields and
// groups share one namespace so that paths stay unambiguous.
func (v *validator) scopeOf(path string, fields []ir.FieldSpec, groups []ir.GroupSpec, parent *scope) *scope {
	s := &scope{path: path, fields: make(map[string]*ir.FieldSpec, len(fields)), parent: parent}
	seen := make(map[string]bool)
	for i := range fields {
		f := &fields[i]
		at := path + "." + f.Name
		if !identPattern.MatchString(f.Name) {
			v.add(at, ErrInvalidName, "field name %q is not an identifier", f.Name)
		}
		if seen[f.Name] {
			v.add(at, ErrDuplicateName, "duplicate name %q", f.Name)
			continue
		}
		seen[f.Name] = true
		s.fields[f.Name] = f
	}
	for _, g := range groups {
		at := path + "." + g.Name
		if !identPattern.MatchString(g.Name) {
			v.add(at, ErrInvalidName, "group name %q is not an identifier", g.Name)
		}
		if seen[g.Name] {
			v.add(at, ErrDuplicateName, "duplicate name %q", g.Name)
		}
		seen[g.Name] = true
	}
	return s
}

func (v *validator) validateScope(s *scope, fields []ir.FieldSpec, groups []ir.GroupSpec) {
	aggregated := make(map[string]bool)
	for _, g := range groups {
		for _, agg := range g.Aggregates {
			aggregated[agg.Into] = true
		}
	}

	for i := range fields {
		v.validateField(s, &fields[i], aggregated[fields[i].Name])
	}

	targets := make(map[string]string)
	for i := range groups {
		g := &groups[i]
		child := v.scopeOf(s.path+"."+g.Name, g.Fields, g.Groups, s)
		v.validateGroup(s, child, g, targets)
		v.validateScope(child, g.Fields, g.Groups)
	}
}

func (v *validator) validateField(s *scope, f *ir.FieldSpec, aggregated bool) {
	at := s.path + "." + f.Name

	if !ir.ValidKinds[f.Kind] {
		v.add(at+".kind", ErrInvalidKind, "unknown field kind %q", f.Kind)
		return
	}
	if f.Precision != nil && *f.Precision < 0 {
		v.add(at+".precision", ErrInvalidLimits, "precision must not be negative, got %d", *f.Precision)
	}

	switch {
	case f.Kind.HasOptions():
		if f.Source == nil && len(f.Choices) == 0 {
			v.add(at, ErrOptionsRequired, "%s field needs a source or choices", f.Kind)
		}
		if f.Source != nil && len(f.Choices) > 0 {
			v.add(at, ErrOptionsRequired, "declare either a source or choices, not both")
		}
		if f.Source != nil && f.Source.Attribute != "" {
			v.add(at+".source.attribute", ErrInvalidSource, "attribute is only valid on lookup fields")
		}
	case len(f.Choices) > 0:
		v.add(at+".choices", ErrOptionsRequired, "%s fields have no options", f.Kind)
	}

	switch f.Kind {
	case ir.KindLookup:
		if f.Source == nil || f.Source.Attribute == "" {
			v.add(at+".source", ErrInvalidSource, "lookup field needs a source with an attribute")
		}
	case ir.KindDerived:
		if f.Source != nil {
			v.add(at+".source", ErrInvalidSource, "derived fields are not resolved")
		}
		switch {
		case f.Derive != nil && aggregated:
			v.add(at, ErrInvalidAggregate, "field is both a formula and an aggregate target")
		case f.Derive == nil && !aggregated:
			v.add(at, ErrInvalidFormula, "derived field needs a formula or an aggregate")
		}
	default:
		if f.Derive != nil {
			v.add(at+".derive", ErrInvalidFormula, "only derived fields take a formula")
		}
	}

	if f.Kind == ir.KindBoolean && f.Initial != "" && f.Initial != "true" && f.Initial != "false" {
		v.add(at+".initial", ErrInvalidKind, "boolean initial must be true or false, got %q", f.Initial)
	}

	if f.Source != nil {
		v.validateSource(s, at+".source", f.Source)
	}
	if f.Derive != nil {
		v.validateFormula(s, at+".derive", f.Derive)
	}
	if vw := f.VisibleWhen; vw != nil {
		if _, _, ok := s.lookup(vw.Field); !ok {
			v.add(at+".visible_when.field", ErrUnknownReference, "unknown field %q", vw.Field)
		}
		if vw.Field == f.Name {
			v.add(at+".visible_when.field", ErrInvalidVisible, "a field cannot control its own visibility")
		}
		if len(vw.In) == 0 {
			v.add(at+".visible_when.in", ErrInvalidVisible, "visible_when needs at least one value")
		}
	}
}

func (v *validator) validateSource(s *scope, at string, src *ir.SourceSpec) {
	if len(src.Steps) == 0 {
		v.add(at+".steps", ErrInvalidSource, "source needs at least one step")
		return
	}
	for i, step := range src.Steps {
		stepAt := fmt.Sprintf("%s.steps[%d]", at, i)
		if !strings.HasPrefix(step.Endpoint, "/") {
			v.add(stepAt+".endpoint", ErrInvalidSource, "endpoint must be an absolute path, got %q", step.Endpoint)
		}

		bound := make(map[string]bool)
		for _, p := range step.Params {
			pAt := stepAt + ".params." + p.Name
			if bound[p.Name] {
				v.add(pAt, ErrInvalidSource, "duplicate parameter %q", p.Name)
			}
			bound[p.Name] = true

			switch p.Kind {
			case ir.ParamField:
				if _, _, ok := s.lookup(p.Value); !ok {
					v.add(pAt, ErrUnknownReference, "unknown field %q", p.Value)
				}
			case ir.ParamPrev:
				if i == 0 {
					v.add(pAt, ErrInvalidSource, "prev: parameters need a previous step")
				}
				if p.Value == "" {
					v.add(pAt, ErrInvalidSource, "prev: parameter needs an attribute name")
				}
			case ir.ParamLiteral:
			default:
				v.add(pAt, ErrInvalidSource, "unknown parameter kind %q", p.Kind)
			}
		}

		for _, m := range endpointPlaceholder.FindAllStringSubmatch(step.Endpoint, -1) {
			if !bound[m[1]] {
				v.add(stepAt+".endpoint", ErrInvalidSource, "placeholder {%s} has no parameter", m[1])
			}
		}
	}
}

func (v *validator) validateFormula(s *scope, at string, formula *ir.FormulaSpec) {
	if !ir.ValidFormulaOps[formula.Op] {
		v.add(at+".op", ErrInvalidFormula, "unknown operator %q", formula.Op)
	}
	if len(formula.Args) == 0 {
		v.add(at+".args", ErrInvalidFormula, "formula needs at least one argument")
	}
	for i, arg := range formula.Args {
		argAt := fmt.Sprintf("%s.args[%d]", at, i)
		set := 0
		if arg.Field != "" {
			set++
		}
		if arg.Const != "" {
			set++
		}
		if arg.Formula != nil {
			set++
		}
		if set != 1 {
			v.add(argAt, ErrInvalidFormula, "operand must be exactly one of field, const or formula")
			continue
		}

		switch {
		case arg.Const != "":
			if _, ok := numeric.Parse(arg.Const); !ok {
				v.add(argAt, ErrInvalidFormula, "constant %q is not a decimal", arg.Const)
			}
		case arg.Formula != nil:
			v.validateFormula(s, argAt, arg.Formula)
		default:
			ref, owner, ok := s.lookup(arg.Field)
			if !ok {
				v.add(argAt, ErrUnknownReference, "unknown field %q", arg.Field)
				continue
			}
			switch ref.Kind {
			case ir.KindNumeric, ir.KindLookup, ir.KindDerived, ir.KindBoolean:
			default:
				v.add(argAt, ErrInvalidFormula, "field %q of kind %s is not numeric", arg.Field, ref.Kind)
			}
			// Enclosing derived values settle after their rows, so a row
			// formula would read last round's value.
			if owner != s && ref.Kind == ir.KindDerived {
				v.add(argAt, ErrAncestorDerived, "row formula reads enclosing derived field %q", arg.Field)
			}
		}
	}
}

func (v *validator) validateGroup(owner, row *scope, g *ir.GroupSpec, targets map[string]string) {
	at := row.path

	if g.MinRows < 0 || g.MaxRows < 0 {
		v.add(at, ErrInvalidLimits, "row limits must not be negative")
	}
	if g.MaxRows > 0 && g.MinRows > g.MaxRows {
		v.add(at, ErrInvalidLimits, "min_rows %d exceeds max_rows %d", g.MinRows, g.MaxRows)
	}

	if g.Pool != "" {
		f, ok := row.fields[g.Pool]
		switch {
		case !ok:
			v.add(at+".pool", ErrInvalidPool, "pool field %q is not a field of the row", g.Pool)
		case f.Kind != ir.KindSelect:
			v.add(at+".pool", ErrInvalidPool, "pool field %q must be a select, got %s", g.Pool, f.Kind)
		}
	}

	for i, agg := range g.Aggregates {
		aggAt := fmt.Sprintf("%s.aggregates[%d]", at, i)
		switch agg.Op {
		case ir.AggSum:
			f, ok := row.fields[agg.Field]
			if !ok {
				v.add(aggAt+".field", ErrUnknownReference, "unknown row field %q", agg.Field)
				break
			}
			switch f.Kind {
			case ir.KindNumeric, ir.KindLookup, ir.KindDerived, ir.KindBoolean:
			default:
				v.add(aggAt+".field", ErrInvalidAggregate, "field %q of kind %s cannot be summed", agg.Field, f.Kind)
			}
		case ir.AggCount:
			if agg.Field != "" {
				v.add(aggAt+".field", ErrInvalidAggregate, "count takes no field")
			}
		default:
			v.add(aggAt+".op", ErrInvalidAggregate, "unknown aggregate op %q", agg.Op)
		}

		into, ok := owner.fields[agg.Into]
		switch {
		case !ok:
			v.add(aggAt+".into", ErrUnknownReference, "unknown owner field %q", agg.Into)
		case into.Kind != ir.KindDerived:
			v.add(aggAt+".into", ErrInvalidAggregate, "aggregate target %q must be derived, got %s", agg.Into, into.Kind)
		}
		key := owner.path + "." + agg.Into
		if prev, dup := targets[key]; dup {
			v.add(aggAt+".into", ErrInvalidAggregate, "%q is already the target of %s", agg.Into, prev)
		}
		targets[key] = aggAt
	}
}
