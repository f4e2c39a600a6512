package engine

import "github.com/Adrian3strada/djappiffy-railway-sub000/internal/ir"

// applyVisibility re-evaluates a field's visible_when rule. A hidden field
// keeps its value but contributes zero to formulas and aggregates.
func (e *Engine) applyVisibility(f *Field) {
	vw := f.Spec.VisibleWhen
	if vw == nil {
		return
	}
	hidden := true
	if src, ok := f.row.lookup(vw.Field); ok {
		hidden = !visibleFor(vw, src)
	}
	if hidden == f.Hidden {
		return
	}
	f.Hidden = hidden
	e.logger.Debug("visibility changed", "path", f.Path, "hidden", hidden)
	e.requestRecompute()
}

func visibleFor(vw *ir.VisibilitySpec, src *Field) bool {
	if src.Spec.Kind == ir.KindMultiSelect {
		for _, v := range src.Values {
			if vw.Allows(v) {
				return true
			}
		}
		return false
	}
	return vw.Allows(src.Value)
}
