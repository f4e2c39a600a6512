package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
)

func fillPallet(r *rig, index, boxKind, quantity, gross, platform string) {
	r.t.Helper()
	prefix := "pallets[" + index + "]."
	r.set(prefix+"box_kind", boxKind)
	r.set(prefix+"quantity", quantity)
	r.set(prefix+"gross", gross)
	r.set(prefix+"platform_tare", platform)
}

func TestAggregate_TareAndNetScenario(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()

	fillPallet(r, "0", "3", "4", "50", "1.2")
	r.settle()

	assert.Equal(t, "2.5", r.field("pallets[0].capacity").Value)
	assert.Equal(t, "10.000", r.field("pallets[0].tare").Value)
	assert.Equal(t, "38.800", r.field("pallets[0].net").Value)
	assert.Equal(t, "38.800", r.field("total_net").Value)
	assert.Equal(t, "1", r.field("pallet_count").Value)
}

func TestAggregate_InvalidLeafCountsAsZero(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()

	fillPallet(r, "0", "3", "abc", "50", "1.2")
	fillPallet(r, "1", "3", "2", "30", "1")
	r.settle()

	assert.Equal(t, "abc", r.field("pallets[0].quantity").Value, "input is kept as typed")
	assert.Equal(t, "0.000", r.field("pallets[0].tare").Value)
	assert.Equal(t, "48.800", r.field("pallets[0].net").Value)
	assert.Equal(t, "24.000", r.field("pallets[1].net").Value)
	assert.Equal(t, "72.800", r.field("total_net").Value)
	assert.Empty(t, r.recorder.Rejected())
}

func TestAggregate_NonNumericLookupCountsAsZero(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()

	fillPallet(r, "0", "4", "10", "20", "0")
	r.settle()

	assert.Equal(t, "", r.field("pallets[0].capacity").Value)
	assert.Equal(t, "0.000", r.field("pallets[0].tare").Value)
	assert.Equal(t, "20.000", r.field("total_net").Value)
}

func TestAggregate_TruncatesNeverRounds(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()

	fillPallet(r, "0", "3", "1.3333", "10.9999", "0")
	r.settle()

	// 1.3333 * 2.5 = 3.33325
	assert.Equal(t, "3.333", r.field("pallets[0].tare").Value)
	assert.Equal(t, "7.666", r.field("pallets[0].net").Value)
}

func TestAggregate_SoftDeleteExclusion(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()
	fillPallet(r, "0", "3", "4", "50", "1.2")
	fillPallet(r, "1", "3", "2", "30", "1")
	r.settle()
	require.Equal(t, "62.800", r.field("total_net").Value)
	require.Equal(t, "2", r.field("pallet_count").Value)

	require.NoError(t, r.eng.ToggleDeleted("pallets", 1, true))
	r.settle()
	assert.Equal(t, "38.800", r.field("total_net").Value)
	assert.Equal(t, "1", r.field("pallet_count").Value)
	assert.True(t, r.field("pallets[1].gross").Disabled)

	r.set("pallets[1].gross", "99")
	r.settle()
	assert.True(t, IsInvalidStateError(r.recorder.Rejected()[0]), "soft-deleted rows are read-only")

	require.NoError(t, r.eng.ToggleDeleted("pallets", 1, false))
	r.settle()
	assert.Equal(t, "62.800", r.field("total_net").Value)
	assert.Equal(t, "2", r.field("pallet_count").Value)
}

func TestAggregate_DebounceCoalescesBurst(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()
	r.recorder.Reset()

	for _, q := range []string{"1", "12", "123"} {
		r.set("pallets[0].gross", q)
	}
	r.apply()
	assert.Equal(t, 1, r.timers.Armed(), "one pending recomputation per burst")
	assert.Equal(t, "0.000", r.field("pallets[0].net").Value, "nothing recomputed before the quiet period")

	r.timers.Advance(testDebounce / 2)
	r.apply()
	r.set("pallets[0].gross", "124")
	r.apply()
	r.timers.Advance(testDebounce / 2)
	r.apply()
	assert.Equal(t, "0.000", r.field("pallets[0].net").Value, "a new edit restarts the window")

	r.timers.Advance(testDebounce)
	r.apply()
	assert.Equal(t, "124.000", r.field("pallets[0].net").Value)
	assert.Len(t, r.recorder.ChangesFor("pallets[0].net"), 1)
	assert.Len(t, r.recorder.ChangesFor("total_net"), 1)
}

func TestAggregate_SubmitFlushes(t *testing.T) {
	r := newRig(t, receivingSpec())
	require.NoError(t, r.eng.AddRow("pallets"))
	r.settle()

	r.set("pallets[0].gross", "60")
	report, err := r.eng.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Flushed)
	assert.Equal(t, "60.000", report.Snapshot.Fields["total_net"].Value)
	assert.Equal(t, 0, r.timers.Armed())
	assert.Empty(t, report.Pending)
}

func TestAggregate_SubmitFlushesUntilQuiet(t *testing.T) {
	// bonus becomes visible only once the flushed recomputation sets
	// subtotal, which requests one more recomputation of total.
	spec := &ir.DocumentSpec{
		Name: "invoice",
		Fields: []ir.FieldSpec{
			num("amount"),
			derived("subtotal", 2, ir.OpSum, "amount"),
			{
				Name:        "bonus",
				Kind:        ir.KindNumeric,
				VisibleWhen: &ir.VisibilitySpec{Field: "subtotal", In: []string{"5.00"}},
			},
			derived("total", 2, ir.OpSum, "amount", "bonus"),
		},
	}
	r := newRig(t, spec)
	r.settle()
	require.True(t, r.field("bonus").Hidden)

	r.set("bonus", "10")
	r.set("amount", "5")
	report, err := r.eng.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "5.00", report.Snapshot.Fields["subtotal"].Value)
	assert.False(t, report.Snapshot.Fields["bonus"].Hidden)
	assert.Equal(t, "15.00", report.Snapshot.Fields["total"].Value)
	assert.Equal(t, 2, report.Flushed)
	assert.Equal(t, 0, r.timers.Armed(), "nothing may stay scheduled after submit")
}

func TestAggregate_SubmitReportsPendingResolutions(t *testing.T) {
	r := newRig(t, receivingSpec())
	r.settle()
	r.set("product", "1")

	report, err := r.eng.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"variety"}, report.Pending)
}

func TestAggregate_ZeroDebounceRecomputesPerEvent(t *testing.T) {
	r := newRig(t, receivingSpec(), WithDebounce(0))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.apply()
	r.set("pallets[0].gross", "5")
	r.apply()

	assert.Equal(t, "5.000", r.field("total_net").Value)
	assert.Equal(t, 0, r.timers.Armed())
}

func TestAggregate_NestedGroups(t *testing.T) {
	spec := &ir.DocumentSpec{
		Name: "shipment",
		Fields: []ir.FieldSpec{
			derived("boxes_total", 0, ""),
			derived("weight_total", 2, ""),
		},
		Groups: []ir.GroupSpec{{
			Name: "pallets",
			Fields: []ir.FieldSpec{
				derived("boxes", 0, ""),
				derived("weight", 2, ""),
			},
			Groups: []ir.GroupSpec{{
				Name: "lines",
				Fields: []ir.FieldSpec{
					num("count"),
					num("unit_weight"),
					derived("line_weight", 2, ir.OpMul, "count", "unit_weight"),
				},
				Aggregates: []ir.AggregateSpec{
					{Field: "count", Into: "boxes", Op: ir.AggSum},
					{Field: "line_weight", Into: "weight", Op: ir.AggSum},
				},
			}},
			Aggregates: []ir.AggregateSpec{
				{Field: "boxes", Into: "boxes_total", Op: ir.AggSum},
				{Field: "weight", Into: "weight_total", Op: ir.AggSum},
			},
		}},
	}
	r := newRig(t, spec)
	require.NoError(t, r.eng.AddRow("pallets"))
	require.NoError(t, r.eng.AddRow("pallets"))
	r.apply()
	require.NoError(t, r.eng.AddRow("pallets[0].lines"))
	require.NoError(t, r.eng.AddRow("pallets[0].lines"))
	require.NoError(t, r.eng.AddRow("pallets[1].lines"))
	r.apply()

	r.set("pallets[0].lines[0].count", "10")
	r.set("pallets[0].lines[0].unit_weight", "1.255")
	r.set("pallets[0].lines[1].count", "5")
	r.set("pallets[0].lines[1].unit_weight", "2")
	r.set("pallets[1].lines[0].count", "3")
	r.set("pallets[1].lines[0].unit_weight", "0.333")
	r.settle()

	assert.Equal(t, "12.55", r.field("pallets[0].lines[0].line_weight").Value)
	assert.Equal(t, "15", r.field("pallets[0].boxes").Value)
	assert.Equal(t, "22.55", r.field("pallets[0].weight").Value)
	assert.Equal(t, "0.99", r.field("pallets[1].weight").Value)
	assert.Equal(t, "18", r.field("boxes_total").Value)
	assert.Equal(t, "23.54", r.field("weight_total").Value)

	// Deleting a line rolls through both levels in one pass.
	require.NoError(t, r.eng.ToggleDeleted("pallets[0].lines", 1, true))
	r.settle()
	assert.Equal(t, "10", r.field("pallets[0].boxes").Value)
	assert.Equal(t, "13", r.field("boxes_total").Value)
	assert.Equal(t, "13.54", r.field("weight_total").Value)

	// Deleting a pallet hides its lines too; they are read-only.
	require.NoError(t, r.eng.ToggleDeleted("pallets", 1, true))
	r.settle()
	assert.Equal(t, "10", r.field("boxes_total").Value)
	assert.True(t, r.field("pallets[1].lines[0].count").Disabled)
	require.NoError(t, r.eng.AddRow("pallets[1].lines"))
	r.settle()
	assert.True(t, IsInvalidStateError(r.recorder.Rejected()[0]))
}

func TestAggregate_FormulaOperators(t *testing.T) {
	spec := &ir.DocumentSpec{
		Name: "formulas",
		Fields: []ir.FieldSpec{
			num("a"),
			num("b"),
			derived("sum", 2, ir.OpSum, "a", "b"),
			derived("div", 2, ir.OpDiv, "a", "b"),
			derived("min", 2, ir.OpMin, "a", "b"),
			derived("max", 2, ir.OpMax, "a", "b"),
			// Declared before its input to exercise ordering.
			derived("double_sum", 2, ir.OpMul, "sum", "two"),
			{Name: "two", Kind: ir.KindNumeric, Initial: "2"},
			{
				Name:      "nested",
				Kind:      ir.KindDerived,
				Precision: ir.PrecisionOf(3),
				Derive: &ir.FormulaSpec{Op: ir.OpSub, Args: []ir.Operand{
					{Const: "100"},
					{Formula: &ir.FormulaSpec{Op: ir.OpMul, Args: []ir.Operand{{Field: "a"}, {Const: "0.5"}}}},
				}},
			},
		},
	}
	r := newRig(t, spec, WithDebounce(0))
	r.set("a", "10")
	r.set("b", "3")
	r.apply()

	assert.Equal(t, "13.00", r.field("sum").Value)
	assert.Equal(t, "3.33", r.field("div").Value)
	assert.Equal(t, "3.00", r.field("min").Value)
	assert.Equal(t, "10.00", r.field("max").Value)
	assert.Equal(t, "26.00", r.field("double_sum").Value)
	assert.Equal(t, "95.000", r.field("nested").Value)

	r.set("b", "0")
	r.apply()
	assert.Equal(t, "0.00", r.field("div").Value, "division by zero yields zero")
}
