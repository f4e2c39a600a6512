package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

func selectField(name, endpoint string, params ...ir.ParamBinding) ir.FieldSpec {
	return ir.FieldSpec{
		Name:   name,
		Kind:   ir.KindSelect,
		Source: &ir.SourceSpec{Steps: []ir.RequestStep{{Endpoint: endpoint, Params: params}}},
	}
}

func ref(name, field string) ir.ParamBinding {
	return ir.ParamBinding{Name: name, Kind: ir.ParamField, Value: field}
}

func formula(op ir.FormulaOp, fields ...string) *ir.FormulaSpec {
	f := &ir.FormulaSpec{Op: op}
	for _, name := range fields {
		f.Args = append(f.Args, ir.Operand{Field: name})
	}
	return f
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func validDocument() *ir.DocumentSpec {
	return &ir.DocumentSpec{
		Name: "receiving",
		Fields: []ir.FieldSpec{
			selectField("product", "/api/products"),
			selectField("variety", "/api/varieties", ref("product", "product")),
			{Name: "total", Kind: ir.KindDerived},
		},
		Groups: []ir.GroupSpec{{
			Name:    "pallets",
			Pool:    "pallet",
			MaxRows: 5,
			Fields: []ir.FieldSpec{
				selectField("pallet", "/api/pallets", ref("variety", "variety")),
				{Name: "gross", Kind: ir.KindNumeric},
				{Name: "tare", Kind: ir.KindNumeric},
				{Name: "net", Kind: ir.KindDerived, Derive: formula(ir.OpSub, "gross", "tare")},
			},
			Aggregates: []ir.AggregateSpec{{Field: "net", Into: "total", Op: ir.AggSum}},
		}},
	}
}

func TestValidate_ValidDocument(t *testing.T) {
	assert.Empty(t, Validate(validDocument()))
	assert.Empty(t, Validate(*validDocument()), "value form is accepted")
}

func TestValidate_UnsupportedType(t *testing.T) {
	errs := Validate("nope")
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedIRType, errs[0].Code)
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *ir.DocumentSpec)
		code   string
	}{
		{
			name:   "empty document",
			mutate: func(d *ir.DocumentSpec) { d.Fields, d.Groups = nil, nil },
			code:   ErrDocumentEmpty,
		},
		{
			name: "duplicate field",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields = append(d.Fields, ir.FieldSpec{Name: "product", Kind: ir.KindText})
			},
			code: ErrDuplicateName,
		},
		{
			name: "field and group share a name",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields = append(d.Fields, ir.FieldSpec{Name: "pallets", Kind: ir.KindText})
			},
			code: ErrDuplicateName,
		},
		{
			name: "bad identifier",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields = append(d.Fields, ir.FieldSpec{Name: "net weight", Kind: ir.KindText})
			},
			code: ErrInvalidName,
		},
		{
			name:   "unknown kind",
			mutate: func(d *ir.DocumentSpec) { d.Fields[0].Kind = "date" },
			code:   ErrInvalidKind,
		},
		{
			name:   "select without options",
			mutate: func(d *ir.DocumentSpec) { d.Fields[0].Source = nil },
			code:   ErrOptionsRequired,
		},
		{
			name: "select with source and choices",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields[0].Choices = []ir.ChoiceSpec{{ID: "a"}}
			},
			code: ErrOptionsRequired,
		},
		{
			name:   "unknown source reference",
			mutate: func(d *ir.DocumentSpec) { d.Fields[1].Source.Steps[0].Params[0].Value = "crop" },
			code:   ErrUnknownReference,
		},
		{
			name: "prev in first step",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields[1].Source.Steps[0].Params = []ir.ParamBinding{{Name: "p", Kind: ir.ParamPrev, Value: "id"}}
			},
			code: ErrInvalidSource,
		},
		{
			name:   "unbound endpoint placeholder",
			mutate: func(d *ir.DocumentSpec) { d.Fields[1].Source.Steps[0].Endpoint = "/api/varieties/{id}" },
			code:   ErrInvalidSource,
		},
		{
			name:   "relative endpoint",
			mutate: func(d *ir.DocumentSpec) { d.Fields[0].Source.Steps[0].Endpoint = "api/products" },
			code:   ErrInvalidSource,
		},
		{
			name: "lookup without attribute",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields = append(d.Fields, ir.FieldSpec{
					Name:   "capacity",
					Kind:   ir.KindLookup,
					Source: &ir.SourceSpec{Steps: []ir.RequestStep{{Endpoint: "/api/x"}}},
				})
			},
			code: ErrInvalidSource,
		},
		{
			name:   "unknown formula op",
			mutate: func(d *ir.DocumentSpec) { d.Groups[0].Fields[3].Derive.Op = "pow" },
			code:   ErrInvalidFormula,
		},
		{
			name: "non-numeric operand",
			mutate: func(d *ir.DocumentSpec) {
				d.Groups[0].Fields[3].Derive.Args[1] = ir.Operand{Field: "pallet"}
			},
			code: ErrInvalidFormula,
		},
		{
			name: "bad constant",
			mutate: func(d *ir.DocumentSpec) {
				d.Groups[0].Fields[3].Derive.Args[1] = ir.Operand{Const: "1e"}
			},
			code: ErrInvalidFormula,
		},
		{
			name: "operand with two forms",
			mutate: func(d *ir.DocumentSpec) {
				d.Groups[0].Fields[3].Derive.Args[1] = ir.Operand{Field: "tare", Const: "1"}
			},
			code: ErrInvalidFormula,
		},
		{
			name: "derived without formula or aggregate",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields = append(d.Fields, ir.FieldSpec{Name: "orphan", Kind: ir.KindDerived})
			},
			code: ErrInvalidFormula,
		},
		{
			name: "aggregate target with formula",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields[2].Derive = &ir.FormulaSpec{Op: ir.OpSum, Args: []ir.Operand{{Const: "1"}}}
			},
			code: ErrInvalidAggregate,
		},
		{
			name:   "pool field missing",
			mutate: func(d *ir.DocumentSpec) { d.Groups[0].Pool = "bay" },
			code:   ErrInvalidPool,
		},
		{
			name:   "pool field not a select",
			mutate: func(d *ir.DocumentSpec) { d.Groups[0].Pool = "gross" },
			code:   ErrInvalidPool,
		},
		{
			name:   "aggregate into unknown",
			mutate: func(d *ir.DocumentSpec) { d.Groups[0].Aggregates[0].Into = "grand_total" },
			code:   ErrUnknownReference,
		},
		{
			name: "aggregate into non-derived",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields[2].Kind = ir.KindNumeric
			},
			code: ErrInvalidAggregate,
		},
		{
			name: "aggregate into twice",
			mutate: func(d *ir.DocumentSpec) {
				d.Groups[0].Aggregates = append(d.Groups[0].Aggregates,
					ir.AggregateSpec{Field: "gross", Into: "total", Op: ir.AggSum})
			},
			code: ErrInvalidAggregate,
		},
		{
			name: "count with field",
			mutate: func(d *ir.DocumentSpec) {
				d.Groups[0].Aggregates[0].Op = ir.AggCount
			},
			code: ErrInvalidAggregate,
		},
		{
			name:   "min above max",
			mutate: func(d *ir.DocumentSpec) { d.Groups[0].MinRows = 6 },
			code:   ErrInvalidLimits,
		},
		{
			name:   "negative precision",
			mutate: func(d *ir.DocumentSpec) { d.Fields[2].Precision = ir.PrecisionOf(-1) },
			code:   ErrInvalidLimits,
		},
		{
			name: "visible_when without values",
			mutate: func(d *ir.DocumentSpec) {
				d.Groups[0].Fields[2].VisibleWhen = &ir.VisibilitySpec{Field: "pallet"}
			},
			code: ErrInvalidVisible,
		},
		{
			name: "row formula reads enclosing derived",
			mutate: func(d *ir.DocumentSpec) {
				d.Groups[0].Fields[3].Derive.Args[1] = ir.Operand{Field: "total"}
			},
			code: ErrAncestorDerived,
		},
		{
			name: "boolean initial",
			mutate: func(d *ir.DocumentSpec) {
				d.Fields = append(d.Fields, ir.FieldSpec{Name: "ok", Kind: ir.KindBoolean, Initial: "yes"})
			},
			code: ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument()
			tt.mutate(doc)
			errs := Validate(doc)
			require.NotEmpty(t, errs)
			assert.Contains(t, codes(errs), tt.code, "errors: %v", errs)
		})
	}
}

func TestValidate_RowScopeSeesEnclosingFields(t *testing.T) {
	doc := validDocument()
	// pallet resolves against the document-level variety.
	assert.Equal(t, "variety", doc.Groups[0].Fields[0].Source.Steps[0].Params[0].Value)
	assert.Empty(t, Validate(doc))
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	doc := validDocument()
	doc.Fields[0].Kind = "date"
	doc.Groups[0].Pool = "bay"
	doc.Groups[0].MinRows = -1

	errs := Validate(doc)
	assert.Subset(t, codes(errs), []string{ErrInvalidKind, ErrInvalidPool, ErrInvalidLimits})
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "receiving.pallets.pool", Code: ErrInvalidPool, Message: "bad"}
	assert.Equal(t, "[E113] receiving.pallets.pool: bad", err.Error())

	err.Line = 12
	assert.Equal(t, "[E113] line 12: receiving.pallets.pool: bad", err.Error())
}
