package engine

import (
	"github.com/cockroachdb/apd/v3"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"
	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/numeric"
)

// aggregateKey is the scheduler key shared by every aggregate trigger.
const aggregateKey = "aggregates"

// recompute walks the document bottom-up: each row's nested groups first,
// then the group aggregates into the row, then the row's own formulas.
// Derived values are truncated to their precision before they are stored.
func (e *Engine) recompute() {
	e.recomputing = true
	defer func() { e.recomputing = false }()

	recomputations.Inc()
	e.recomputeRow(e.doc.root)
}

func (e *Engine) recomputeRow(r *Row) {
	for _, g := range r.groups {
		for _, child := range g.rows {
			e.recomputeRow(child)
		}
	}

	for _, g := range r.groups {
		live := g.LiveRows()
		for _, agg := range g.Spec.Aggregates {
			target, ok := r.byName[agg.Into]
			if !ok {
				continue
			}
			prec := target.Spec.EffectivePrecision()
			total := numeric.Zero()
			switch agg.Op {
			case ir.AggCount:
				total.SetInt64(int64(len(live)))
			default:
				for _, row := range live {
					total = numeric.Add(total, numericValue(row.byName[agg.Field]))
				}
			}
			e.assign(target, numeric.Format(total, prec), CauseAggregate)
		}
	}

	for _, f := range formulaOrder(r) {
		prec := f.Spec.EffectivePrecision()
		v := evalFormula(r, f.Spec.Derive, prec)
		e.assign(f, numeric.Format(v, prec), CauseDerive)
	}
}

// evalFormula applies the operator left to right over its operands. Each
// (nested) result is truncated to prec.
func evalFormula(r *Row, spec *ir.FormulaSpec, prec int) *apd.Decimal {
	var acc *apd.Decimal
	for _, arg := range spec.Args {
		v := operandValue(r, arg, prec)
		if acc == nil {
			acc = v
			continue
		}
		switch spec.Op {
		case ir.OpSum:
			acc = numeric.Add(acc, v)
		case ir.OpSub:
			acc = numeric.Sub(acc, v)
		case ir.OpMul:
			acc = numeric.Mul(acc, v)
		case ir.OpDiv:
			acc = numeric.Div(acc, v)
		case ir.OpMin:
			acc = numeric.Min(acc, v)
		case ir.OpMax:
			acc = numeric.Max(acc, v)
		}
	}
	if acc == nil {
		return numeric.Zero()
	}
	return numeric.Truncate(acc, prec)
}

func operandValue(r *Row, arg ir.Operand, prec int) *apd.Decimal {
	switch {
	case arg.Formula != nil:
		return evalFormula(r, arg.Formula, prec)
	case arg.Field != "":
		f, _ := r.lookup(arg.Field)
		return numericValue(f)
	default:
		return numeric.ParseOrZero(arg.Const)
	}
}

// numericValue is a field's contribution to arithmetic. Missing, hidden and
// invalid values count as zero; a true boolean counts as one.
func numericValue(f *Field) *apd.Decimal {
	if f == nil || f.Hidden {
		return numeric.Zero()
	}
	switch f.Spec.Kind {
	case ir.KindBoolean:
		if f.Value == "true" {
			return numeric.ParseOrZero("1")
		}
		return numeric.Zero()
	case ir.KindMultiSelect:
		return numeric.Zero()
	default:
		return numeric.ParseOrZero(f.Value)
	}
}

// formulaOrder returns r's formula fields so that each comes after the
// same-row formula fields it references.
func formulaOrder(r *Row) []*Field {
	var order []*Field
	state := make(map[*Field]int) // 1 visiting, 2 done
	var visit func(f *Field)
	visit = func(f *Field) {
		if state[f] != 0 {
			return
		}
		state[f] = 1
		for _, name := range f.Spec.Derive.FieldRefs() {
			if dep, ok := r.byName[name]; ok && dep.Spec.Derive != nil {
				visit(dep)
			}
		}
		state[f] = 2
		order = append(order, f)
	}
	for _, f := range r.fields {
		if f.Spec.Derive != nil {
			visit(f)
		}
	}
	return order
}
