package exec

import (
	"context"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
)

// evalKeys materializes a plan Node's Keys expression into the literal
// []ir.Value list a driver.Operation carries. keyExpr is always one of
// the shapes the planner's key-filter extraction and OR-rewrite produce: a List of
// literals or Records (plain key-filter extraction), or an Any whose
// Base is that same List (the canonical OR-rewrite form, where the
// predicate template is for the driver's per-value lookup, not
// needed again once the values themselves are in hand).
func evalKeys(ev *Evaluator, keyExpr ir.Expr) ([]ir.Value, error) {
	switch n := keyExpr.(type) {
	case *ir.List:
		out := make([]ir.Value, len(n.Elements))
		for i, el := range n.Elements {
			v, err := ev.Eval(el, nil, nil)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *ir.Any:
		return evalKeys(ev, n.Base)
	default:
		v, err := ev.Eval(keyExpr, nil, nil)
		if err != nil {
			return nil, err
		}
		return []ir.Value{v}, nil
	}
}

// collectKeys drains an upstream stream (e.g. FindPkByIndex's discovered
// primary keys) into the literal key list a following GetByKey/
// UpdateByKey/DeleteByKey node needs when it has no Keys expression of
// its own.
func collectKeys(ctx context.Context, s *ir.Stream) ([]ir.Value, error) {
	if s == nil {
		return nil, ormerr.Bugf("exec: no key source for keyed operation")
	}
	return s.Collect(ctx)
}
