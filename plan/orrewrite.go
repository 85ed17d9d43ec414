package plan

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
)

// rewriteOr handles backends that can't express OR in a key condition:
// it flattens filter to disjunctive normal form, groups
// branches by shape (literals replaced with Arg placeholders), and
// produces a canonical Any(Map(values, shape)) when every branch shares
// one shape. Returns an error (UnsupportedFeature) when branches disagree
// in shape, an explicit failure rather than a silent fan-out.
func rewriteOr(filter ir.Expr) (ir.Expr, error) {
	branches := toDNF(filter)
	if len(branches) <= 1 {
		return filter, nil
	}

	shape, values, ok := shapeOf(branches[0])
	if !ok {
		return nil, ormerr.New(ormerr.UnsupportedFeature, "OR-rewrite: branch has no literal to parameterize")
	}
	valueLists := [][]ir.Expr{values}

	for _, b := range branches[1:] {
		s, vs, ok := shapeOf(b)
		if !ok || !exprEqual(s, shape) {
			return nil, ormerr.New(ormerr.UnsupportedFeature, "OR-rewrite: branches have incompatible shapes")
		}
		valueLists = append(valueLists, vs)
	}

	n := len(values)
	rows := make([]ir.Expr, len(valueLists))
	for i, vs := range valueLists {
		if len(vs) != n {
			return nil, ormerr.New(ormerr.UnsupportedFeature, "OR-rewrite: branches have differing argument counts")
		}
		if n == 1 {
			rows[i] = vs[0]
		} else {
			rows[i] = &ir.Record{Elements: vs}
		}
	}

	any := &ir.Any{Base: &ir.List{Elements: rows}, Pred: shape}
	if ir.ContainsOr(any) {
		return nil, ormerr.Bugf("OR-rewrite: produced Any(Map(...)) still contains Or")
	}
	return any, nil
}

// toDNF flattens e into its disjunctive-normal-form branches: AND
// distributes over OR, and AND with an existing Any(Map) operand
// distributes its remaining conjuncts into the map's predicate (those
// conjuncts never reference the map's bound Arg, so this is valid).
func toDNF(e ir.Expr) []ir.Expr {
	switch v := e.(type) {
	case *ir.Or:
		var out []ir.Expr
		for _, op := range v.Operands {
			out = append(out, toDNF(op)...)
		}
		return out
	case *ir.And:
		branches := []ir.Expr{nil}
		for _, op := range v.Operands {
			opBranches := toDNF(op)
			var next []ir.Expr
			for _, b := range branches {
				for _, ob := range opBranches {
					next = append(next, andOrNil(b, ob))
				}
			}
			branches = next
		}
		return branches
	default:
		return []ir.Expr{e}
	}
}

func andOrNil(a, b ir.Expr) ir.Expr {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if any, ok := b.(*ir.Any); ok {
		return &ir.Any{Base: any.Base, Pred: ir.AndOf(any.Pred, shiftArgNestingCopy(a, 1))}
	}
	if any, ok := a.(*ir.Any); ok {
		return &ir.Any{Base: any.Base, Pred: ir.AndOf(shiftArgNestingCopy(b, 1), any.Pred)}
	}
	return ir.AndOf(a, b)
}

// shiftArgNestingCopy nudges every Arg's nesting by delta, used when a
// conjunct from the outer scope is distributed into a Map/Any predicate
// one level deeper.
func shiftArgNestingCopy(e ir.Expr, delta int) ir.Expr {
	shifter := &argShifter{delta: delta}
	shifter.Self = shifter
	out, err := ir.Walk(e, shifter)
	if err != nil {
		return e
	}
	return out
}

type argShifter struct {
	ir.BaseVisitor
	delta int
}

func (a *argShifter) VisitArg(e *ir.Arg) (ir.Expr, error) {
	shifted := *e
	shifted.Nesting += a.delta
	return &shifted, nil
}

// shapeOf replaces every literal in branch with a fresh Arg(i), returning
// the parameterized shape and the literal values extracted in order.
func shapeOf(branch ir.Expr) (ir.Expr, []ir.Expr, bool) {
	extractor := &literalExtractor{}
	extractor.Self = extractor
	shape, err := ir.Walk(branch, extractor)
	if err != nil || len(extractor.values) == 0 {
		return nil, nil, false
	}
	return shape, extractor.values, true
}

type literalExtractor struct {
	ir.BaseVisitor
	values []ir.Expr
}

func (l *literalExtractor) VisitLiteral(e *ir.Literal) (ir.Expr, error) {
	pos := len(l.values)
	l.values = append(l.values, e)
	return &ir.Arg{Position: pos}, nil
}

// exprEqual is a structural equality check over the small subset of Expr
// shapes the OR-rewrite ever compares (Binary/And/Or/Reference/Arg), used
// to decide whether two branches share one shape.
func exprEqual(a, b ir.Expr) bool {
	switch av := a.(type) {
	case *ir.Arg:
		bv, ok := b.(*ir.Arg)
		return ok && av.Position == bv.Position && av.Nesting == bv.Nesting
	case *ir.Reference:
		bv, ok := b.(*ir.Reference)
		return ok && av.Kind == bv.Kind && av.Nesting == bv.Nesting && av.Index == bv.Index && av.Table == bv.Table && av.Column == bv.Column
	case *ir.Binary:
		bv, ok := b.(*ir.Binary)
		return ok && av.Op == bv.Op && exprEqual(av.Left, bv.Left) && exprEqual(av.Right, bv.Right)
	case *ir.And:
		bv, ok := b.(*ir.And)
		return ok && exprSliceEqual(av.Operands, bv.Operands)
	case *ir.Or:
		bv, ok := b.(*ir.Or)
		return ok && exprSliceEqual(av.Operands, bv.Operands)
	default:
		return false
	}
}

func exprSliceEqual(a, b []ir.Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !exprEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
