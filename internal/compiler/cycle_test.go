package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

func TestAnalyzeCycles_DAG(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(validDocument()))
}

func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(&ir.DocumentSpec{Name: "empty"}))
}

func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	doc := &ir.DocumentSpec{
		Name: "d",
		Fields: []ir.FieldSpec{
			{Name: "a", Kind: ir.KindDerived, Derive: formula(ir.OpSum, "a")},
		},
	}
	cycles := AnalyzeCycles(doc)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"d.a", "d.a"}, cycles[0].Path)
	assert.Contains(t, cycles[0].Message, "depends on itself")
}

func TestAnalyzeCycles_ResolverCycle(t *testing.T) {
	doc := &ir.DocumentSpec{
		Name: "d",
		Fields: []ir.FieldSpec{
			selectField("a", "/api/a", ref("b", "b")),
			selectField("b", "/api/b", ref("c", "c")),
			selectField("c", "/api/c", ref("a", "a")),
		},
	}
	cycles := AnalyzeCycles(doc)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"d.a", "d.c", "d.b", "d.a"}, cycles[0].Path)

	errs := Validate(doc)
	assert.Contains(t, codes(errs), ErrDependencyCycle)
}

func TestAnalyzeCycles_ThroughAggregate(t *testing.T) {
	doc := validDocument()
	// net reads the group total, and the total sums net.
	doc.Groups[0].Fields[3].Derive.Args[1] = ir.Operand{Field: "total"}

	cycles := AnalyzeCycles(doc)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []string{"receiving.pallets.net", "receiving.total"}, cycles[0].Path[:2])
}

func TestAnalyzeCycles_VisibilityEdge(t *testing.T) {
	doc := &ir.DocumentSpec{
		Name: "d",
		Fields: []ir.FieldSpec{
			{Name: "a", Kind: ir.KindBoolean, VisibleWhen: &ir.VisibilitySpec{Field: "b", In: []string{"true"}}},
			{Name: "b", Kind: ir.KindBoolean, VisibleWhen: &ir.VisibilitySpec{Field: "a", In: []string{"true"}}},
		},
	}
	require.Len(t, AnalyzeCycles(doc), 1)
}

func TestAnalyzeCycles_RowShadowsEnclosingName(t *testing.T) {
	doc := &ir.DocumentSpec{
		Name: "d",
		Fields: []ir.FieldSpec{
			{Name: "x", Kind: ir.KindNumeric},
			{Name: "sum_y", Kind: ir.KindDerived},
		},
		Groups: []ir.GroupSpec{{
			Name: "rows",
			Fields: []ir.FieldSpec{
				{Name: "x", Kind: ir.KindNumeric},
				{Name: "y", Kind: ir.KindDerived, Derive: formula(ir.OpSum, "x")},
			},
			Aggregates: []ir.AggregateSpec{{Field: "y", Into: "sum_y", Op: ir.AggSum}},
		}},
	}
	assert.Empty(t, AnalyzeCycles(doc))
	assert.Empty(t, Validate(doc))
}
