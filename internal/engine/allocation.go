package engine

// guard recomputes the disabled flags of every row's pool options in g.
//
// An option is disabled in a row's list while another live row holds it. The
// placeholder and the row's own current value are never disabled, and the
// option order is left as resolved.
func (e *Engine) guard(g *Group) {
	if g.Spec.Pool == "" {
		return
	}
	held := e.holders(g)
	for _, r := range g.rows {
		pf := g.poolField(r)
		if pf == nil {
			continue
		}
		for i := range pf.Options {
			o := &pf.Options[i]
			if o.ID == "" || o.ID == pf.Value {
				o.Disabled = false
				continue
			}
			holder, ok := held[o.ID]
			o.Disabled = ok && holder != r
		}
	}
}

// holders maps each pool value to the first live row holding it.
func (e *Engine) holders(g *Group) map[string]*Row {
	held := make(map[string]*Row)
	for _, r := range g.rows {
		if r.State == RowDeleted {
			continue
		}
		pf := g.poolField(r)
		if pf == nil || pf.Value == "" {
			continue
		}
		if _, dup := held[pf.Value]; !dup {
			held[pf.Value] = r
		}
	}
	return held
}

// heldBySibling returns the live row other than r that holds value.
func (e *Engine) heldBySibling(g *Group, r *Row, value string) (*Row, bool) {
	if g == nil || g.Spec.Pool == "" || value == "" {
		return nil, false
	}
	for _, other := range g.rows {
		if other == r || other.State == RowDeleted {
			continue
		}
		if pf := g.poolField(other); pf != nil && pf.Value == value {
			return other, true
		}
	}
	return nil, false
}

// claimPool runs when r becomes live again (restored or loaded). If a sibling
// took r's pool value in the meantime, r gives it up.
func (e *Engine) claimPool(g *Group, r *Row) {
	pf := g.poolField(r)
	if pf == nil || pf.Value == "" {
		return
	}
	if holder, ok := e.heldBySibling(g, r, pf.Value); ok {
		e.logger.Warn("pool value already held, clearing",
			"document", e.doc.ID,
			"path", pf.Path,
			"value", pf.Value,
			"holder", holder.Path,
		)
		e.assign(pf, "", CauseConflict)
	}
}
