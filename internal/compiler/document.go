package compiler

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/cockroachdb/apd/v3"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/numeric"
)

// Parameter value prefixes inside source.params.
const (
	fieldPrefix = "field:"
	prevPrefix  = "prev:"
)

// CompileDocument parses a CUE value into a DocumentSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the document struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`document: receiving: { fields: {...} }`)
//	spec, err := CompileDocument(v.LookupPath(cue.ParsePath("document.receiving")))
//
// CompileDocument only checks shape. Call Validate for reference and cycle checks.
func CompileDocument(v cue.Value) (*ir.DocumentSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.DocumentSpec{}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].Unquoted()
	}

	var err error
	spec.Fields, err = parseFields(v, spec.Name)
	if err != nil {
		return nil, err
	}
	spec.Groups, err = parseGroups(v, spec.Name)
	if err != nil {
		return nil, err
	}
	if len(spec.Fields) == 0 && len(spec.Groups) == 0 {
		return nil, &CompileError{
			Field:   "fields",
			Message: "a document needs at least one field or group",
			Pos:     v.Pos(),
		}
	}
	return spec, nil
}

// parseFields reads the "fields" struct in declaration order.
func parseFields(v cue.Value, scope string) ([]ir.FieldSpec, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, nil
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var fields []ir.FieldSpec
	for iter.Next() {
		f, err := parseField(iter.Label(), iter.Value(), scope+"."+iter.Label())
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseField(name string, v cue.Value, where string) (ir.FieldSpec, error) {
	f := ir.FieldSpec{Name: name}

	kind, err := requiredString(v, "kind", where)
	if err != nil {
		return f, err
	}
	f.Kind = ir.FieldKind(kind)
	if !ir.ValidKinds[f.Kind] {
		return f, &CompileError{
			Field:   where + ".kind",
			Message: fmt.Sprintf("unknown field kind %q", kind),
			Pos:     v.LookupPath(cue.ParsePath("kind")).Pos(),
		}
	}

	if f.Label, err = optionalString(v, "label"); err != nil {
		return f, err
	}
	if f.Placeholder, err = optionalString(v, "placeholder"); err != nil {
		return f, err
	}

	if p := v.LookupPath(cue.ParsePath("precision")); p.Exists() {
		n, err := p.Int64()
		if err != nil {
			return f, formatCUEError(err)
		}
		f.Precision = ir.PrecisionOf(int(n))
	}

	if initial := v.LookupPath(cue.ParsePath("initial")); initial.Exists() {
		if f.Initial, err = scalarText(initial, where+".initial"); err != nil {
			return f, err
		}
	}

	if choices := v.LookupPath(cue.ParsePath("choices")); choices.Exists() {
		if f.Choices, err = parseChoices(choices, where+".choices"); err != nil {
			return f, err
		}
	}

	if src := v.LookupPath(cue.ParsePath("source")); src.Exists() {
		if f.Source, err = parseSource(src, where+".source"); err != nil {
			return f, err
		}
	}

	if d := v.LookupPath(cue.ParsePath("derive")); d.Exists() {
		if f.Derive, err = parseFormula(d, where+".derive"); err != nil {
			return f, err
		}
	}

	if vw := v.LookupPath(cue.ParsePath("visible_when")); vw.Exists() {
		if f.VisibleWhen, err = parseVisibility(vw, where+".visible_when"); err != nil {
			return f, err
		}
	}

	return f, nil
}

// parseChoices accepts a list of ids or of {id, label} structs.
func parseChoices(v cue.Value, where string) ([]ir.ChoiceSpec, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var choices []ir.ChoiceSpec
	for iter.Next() {
		item := iter.Value()
		if item.IncompleteKind() == cue.StructKind {
			id, err := requiredScalar(item, "id", where)
			if err != nil {
				return nil, err
			}
			label, err := optionalString(item, "label")
			if err != nil {
				return nil, err
			}
			choices = append(choices, ir.ChoiceSpec{ID: id, Label: label})
			continue
		}
		id, err := scalarText(item, where)
		if err != nil {
			return nil, err
		}
		choices = append(choices, ir.ChoiceSpec{ID: id})
	}
	return choices, nil
}

// parseSource reads a resolver. A source with "endpoint" and no "steps" is a
// single-step shorthand.
func parseSource(v cue.Value, where string) (*ir.SourceSpec, error) {
	src := &ir.SourceSpec{}
	var err error

	stepsVal := v.LookupPath(cue.ParsePath("steps"))
	switch {
	case stepsVal.Exists():
		iter, err := stepsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			step, err := parseStep(iter.Value(), fmt.Sprintf("%s.steps[%d]", where, i))
			if err != nil {
				return nil, err
			}
			src.Steps = append(src.Steps, step)
		}
	case v.LookupPath(cue.ParsePath("endpoint")).Exists():
		step, err := parseStep(v, where)
		if err != nil {
			return nil, err
		}
		src.Steps = []ir.RequestStep{step}
	default:
		return nil, &CompileError{
			Field:   where,
			Message: "source needs an endpoint or steps",
			Pos:     v.Pos(),
		}
	}

	if src.OptionID, err = optionalString(v, "option_id"); err != nil {
		return nil, err
	}
	if src.OptionLabel, err = optionalString(v, "option_label"); err != nil {
		return nil, err
	}
	if src.Attribute, err = optionalString(v, "attribute"); err != nil {
		return nil, err
	}
	if ra := v.LookupPath(cue.ParsePath("require_all")); ra.Exists() {
		if src.RequireAll, err = ra.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	return src, nil
}

func parseStep(v cue.Value, where string) (ir.RequestStep, error) {
	var step ir.RequestStep
	endpoint, err := requiredString(v, "endpoint", where)
	if err != nil {
		return step, err
	}
	step.Endpoint = endpoint

	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if !paramsVal.Exists() {
		return step, nil
	}
	iter, err := paramsVal.Fields()
	if err != nil {
		return step, formatCUEError(err)
	}
	for iter.Next() {
		raw, err := scalarText(iter.Value(), where+".params."+iter.Label())
		if err != nil {
			return step, err
		}
		step.Params = append(step.Params, parseParam(iter.Label(), raw))
	}
	sort.SliceStable(step.Params, func(i, j int) bool {
		return step.Params[i].Name < step.Params[j].Name
	})
	return step, nil
}

// parseParam splits "field:<name>", "prev:<attr>" or a literal.
func parseParam(name, raw string) ir.ParamBinding {
	switch {
	case strings.HasPrefix(raw, fieldPrefix):
		return ir.ParamBinding{Name: name, Kind: ir.ParamField, Value: strings.TrimPrefix(raw, fieldPrefix)}
	case strings.HasPrefix(raw, prevPrefix):
		return ir.ParamBinding{Name: name, Kind: ir.ParamPrev, Value: strings.TrimPrefix(raw, prevPrefix)}
	default:
		return ir.ParamBinding{Name: name, Kind: ir.ParamLiteral, Value: raw}
	}
}

func parseFormula(v cue.Value, where string) (*ir.FormulaSpec, error) {
	op, err := requiredString(v, "op", where)
	if err != nil {
		return nil, err
	}
	formula := &ir.FormulaSpec{Op: ir.FormulaOp(op)}

	argsVal := v.LookupPath(cue.ParsePath("args"))
	if !argsVal.Exists() {
		return nil, &CompileError{Field: where + ".args", Message: "formula args are required", Pos: v.Pos()}
	}
	iter, err := argsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		arg, err := parseOperand(iter.Value(), fmt.Sprintf("%s.args[%d]", where, i))
		if err != nil {
			return nil, err
		}
		formula.Args = append(formula.Args, arg)
	}
	return formula, nil
}

// parseOperand reads a field name, a decimal constant, or a nested formula.
// A string that parses as a decimal is a constant.
func parseOperand(v cue.Value, where string) (ir.Operand, error) {
	switch v.IncompleteKind() {
	case cue.StructKind:
		nested, err := parseFormula(v, where)
		if err != nil {
			return ir.Operand{}, err
		}
		return ir.Operand{Formula: nested}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return ir.Operand{}, formatCUEError(err)
		}
		if d, ok := numeric.Parse(s); ok {
			return ir.Operand{Const: d.Text('f')}, nil
		}
		return ir.Operand{Field: s}, nil
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		text, err := decimalText(v)
		if err != nil {
			return ir.Operand{}, err
		}
		return ir.Operand{Const: text}, nil
	default:
		return ir.Operand{}, &CompileError{
			Field:   where,
			Message: fmt.Sprintf("operand must be a field name, number or formula, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func parseVisibility(v cue.Value, where string) (*ir.VisibilitySpec, error) {
	field, err := requiredString(v, "field", where)
	if err != nil {
		return nil, err
	}
	vw := &ir.VisibilitySpec{Field: field}

	inVal := v.LookupPath(cue.ParsePath("in"))
	if !inVal.Exists() {
		return nil, &CompileError{Field: where + ".in", Message: "visible_when needs an \"in\" list", Pos: v.Pos()}
	}
	iter, err := inVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, err := scalarText(iter.Value(), where+".in")
		if err != nil {
			return nil, err
		}
		vw.In = append(vw.In, s)
	}
	return vw, nil
}

// parseGroups reads the "groups" struct in declaration order.
func parseGroups(v cue.Value, scope string) ([]ir.GroupSpec, error) {
	groupsVal := v.LookupPath(cue.ParsePath("groups"))
	if !groupsVal.Exists() {
		return nil, nil
	}
	iter, err := groupsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var groups []ir.GroupSpec
	for iter.Next() {
		g, err := parseGroup(iter.Label(), iter.Value(), scope+"."+iter.Label())
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func parseGroup(name string, v cue.Value, where string) (ir.GroupSpec, error) {
	g := ir.GroupSpec{Name: name}
	var err error

	if g.Pool, err = optionalString(v, "pool"); err != nil {
		return g, err
	}
	if g.MinRows, err = optionalInt(v, "min_rows"); err != nil {
		return g, err
	}
	if g.MaxRows, err = optionalInt(v, "max_rows"); err != nil {
		return g, err
	}
	if g.Fields, err = parseFields(v, where); err != nil {
		return g, err
	}
	if len(g.Fields) == 0 {
		return g, &CompileError{Field: where + ".fields", Message: "a group needs at least one field", Pos: v.Pos()}
	}
	if g.Groups, err = parseGroups(v, where); err != nil {
		return g, err
	}

	aggVal := v.LookupPath(cue.ParsePath("aggregates"))
	if aggVal.Exists() {
		iter, err := aggVal.List()
		if err != nil {
			return g, formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			at := fmt.Sprintf("%s.aggregates[%d]", where, i)
			item := iter.Value()
			into, err := requiredString(item, "into", at)
			if err != nil {
				return g, err
			}
			op, err := requiredString(item, "op", at)
			if err != nil {
				return g, err
			}
			field, err := optionalString(item, "field")
			if err != nil {
				return g, err
			}
			g.Aggregates = append(g.Aggregates, ir.AggregateSpec{Field: field, Into: into, Op: ir.AggregateOp(op)})
		}
	}
	return g, nil
}

func requiredString(v cue.Value, key, where string) (string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return "", &CompileError{
			Field:   where + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredScalar(v cue.Value, key, where string) (string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return "", &CompileError{
			Field:   where + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	return scalarText(val, where+"."+key)
}

func optionalString(v cue.Value, key string) (string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, key string) (int, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return 0, nil
	}
	n, err := val.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

// scalarText renders a concrete string, number or bool as field text.
func scalarText(v cue.Value, where string) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return "", formatCUEError(err)
		}
		return s, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return "", formatCUEError(err)
		}
		if b {
			return "true", nil
		}
		return "false", nil
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		return decimalText(v)
	default:
		return "", &CompileError{
			Field:   where,
			Message: fmt.Sprintf("expected a string, number or bool, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// decimalText renders a CUE number exactly, without going through float64.
func decimalText(v cue.Value) (string, error) {
	mant := new(big.Int)
	exp, err := v.MantExp(mant)
	if err != nil {
		return "", formatCUEError(err)
	}
	d := apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(mant), int32(exp))
	return d.Text('f'), nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
