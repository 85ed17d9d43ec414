// Package simplify canonicalizes and normalizes a statement tree before
// lowering. It is idempotent: Simplify(Simplify(s)) == Simplify(s).
package simplify

import (
	"github.com/latticeorm/lattice/ir"
)

// exprSimplifier performs the expression-level rewrites: constant
// folding, in-list simplification, and typed-id comparison unwrapping.
// Statement-level rewrites (association expansion, path-to-FK lifting,
// set-op flattening, empty-query detection) live in statement.go and
// drive this visitor over each sub-expression they touch.
type exprSimplifier struct {
	ir.BaseVisitor
}

func newExprSimplifier() *exprSimplifier {
	s := &exprSimplifier{}
	s.Self = s
	return s
}

// simplifyExpr runs one post-order simplification pass over e.
func simplifyExpr(e ir.Expr) (ir.Expr, error) {
	return ir.Walk(e, newExprSimplifier())
}

func (s *exprSimplifier) VisitAnd(e *ir.And) (ir.Expr, error) {
	rebuilt, err := ir.RecurseAnd(e, s.Self)
	if err != nil {
		return nil, err
	}
	and := rebuilt.(*ir.And)

	if len(and.Operands) == 0 {
		return ir.Lit(ir.BoolValue(true)), nil
	}

	allLiteral := true
	var kept []ir.Expr
	for _, op := range and.Operands {
		if lit, ok := op.(*ir.Literal); ok {
			b, isBool := lit.Value.AsBool()
			if isBool && !b {
				return ir.Lit(ir.BoolValue(false)), nil // short circuit: false
			}
			if isBool && b {
				continue // drop literal true operands
			}
		}
		allLiteral = false
		kept = append(kept, op)
	}
	if allLiteral {
		return ir.Lit(ir.BoolValue(true)), nil
	}
	if len(kept) == 0 {
		return ir.Lit(ir.BoolValue(true)), nil
	}
	if len(kept) == 1 {
		return kept[0], nil
	}
	return &ir.And{Operands: kept}, nil
}

func (s *exprSimplifier) VisitOr(e *ir.Or) (ir.Expr, error) {
	rebuilt, err := ir.RecurseOr(e, s.Self)
	if err != nil {
		return nil, err
	}
	or := rebuilt.(*ir.Or)

	if len(or.Operands) == 0 {
		return ir.Lit(ir.BoolValue(false)), nil
	}

	var kept []ir.Expr
	for _, op := range or.Operands {
		if lit, ok := op.(*ir.Literal); ok {
			b, isBool := lit.Value.AsBool()
			if isBool && b {
				return ir.Lit(ir.BoolValue(true)), nil
			}
			if isBool && !b {
				continue
			}
		}
		kept = append(kept, op)
	}
	if len(kept) == 0 {
		return ir.Lit(ir.BoolValue(false)), nil
	}
	if len(kept) == 1 {
		return kept[0], nil
	}
	return &ir.Or{Operands: kept}, nil
}

func (s *exprSimplifier) VisitNot(e *ir.Not) (ir.Expr, error) {
	rebuilt, err := ir.RecurseNot(e, s.Self)
	if err != nil {
		return nil, err
	}
	not := rebuilt.(*ir.Not)
	if lit, ok := not.Operand.(*ir.Literal); ok {
		if b, isBool := lit.Value.AsBool(); isBool {
			return ir.Lit(ir.BoolValue(!b)), nil
		}
	}
	if inner, ok := not.Operand.(*ir.Not); ok {
		return inner.Operand, nil // double negation
	}
	return not, nil
}

func (s *exprSimplifier) VisitBinary(e *ir.Binary) (ir.Expr, error) {
	rebuilt, err := ir.RecurseBinary(e, s.Self)
	if err != nil {
		return nil, err
	}
	bin := rebuilt.(*ir.Binary)

	leftLit, lok := bin.Left.(*ir.Literal)
	rightLit, rok := bin.Right.(*ir.Literal)
	if lok && rok {
		folded, ok := foldBinary(bin.Op, leftLit.Value, rightLit.Value)
		if ok {
			return ir.Lit(folded), nil
		}
	}

	// Type propagation for ids: Cast(x, Id(M)) = typed-id literal unwraps
	// to comparing the underlying scalar directly.
	if bin.Op == ir.OpEq || bin.Op == ir.OpNeq {
		if unwrapped, ok := unwrapTypedIDComparison(bin); ok {
			return unwrapped, nil
		}
	}

	return bin, nil
}

func (s *exprSimplifier) VisitIsNull(e *ir.IsNull) (ir.Expr, error) {
	rebuilt, err := ir.RecurseIsNull(e, s.Self)
	if err != nil {
		return nil, err
	}
	isNull := rebuilt.(*ir.IsNull)
	if lit, ok := isNull.Operand.(*ir.Literal); ok {
		return ir.Lit(ir.BoolValue(lit.Value.IsNull())), nil
	}
	return isNull, nil
}

func (s *exprSimplifier) VisitInList(e *ir.InList) (ir.Expr, error) {
	rebuilt, err := ir.RecurseInList(e, s.Self)
	if err != nil {
		return nil, err
	}
	il := rebuilt.(*ir.InList)

	list, ok := il.List.(*ir.List)
	if !ok {
		return il, nil
	}
	if len(list.Elements) == 0 {
		return ir.Lit(ir.BoolValue(false)), nil
	}
	if len(list.Elements) == 1 {
		return &ir.Binary{Op: ir.OpEq, Left: il.Target, Right: list.Elements[0]}, nil
	}
	return il, nil
}

func foldBinary(op ir.BinaryOp, l, r ir.Value) (ir.Value, bool) {
	switch op {
	case ir.OpEq:
		return ir.BoolValue(l.Equal(r)), true
	case ir.OpNeq:
		return ir.BoolValue(!l.Equal(r)), true
	}
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if !lok || !rok {
		return ir.Value{}, false
	}
	switch op {
	case ir.OpLt:
		return ir.BoolValue(lf < rf), true
	case ir.OpLte:
		return ir.BoolValue(lf <= rf), true
	case ir.OpGt:
		return ir.BoolValue(lf > rf), true
	case ir.OpGte:
		return ir.BoolValue(lf >= rf), true
	case ir.OpAdd:
		return combineNumeric(l, r, lf+rf), true
	case ir.OpSub:
		return combineNumeric(l, r, lf-rf), true
	case ir.OpMul:
		return combineNumeric(l, r, lf*rf), true
	case ir.OpDiv:
		if rf == 0 {
			return ir.Value{}, false
		}
		return combineNumeric(l, r, lf/rf), true
	}
	return ir.Value{}, false
}

func numeric(v ir.Value) (float64, bool) {
	switch v.Kind {
	case ir.ValueInt64:
		return float64(v.Int), true
	case ir.ValueFloat64:
		return v.Float, true
	default:
		return 0, false
	}
}

func combineNumeric(l, r ir.Value, result float64) ir.Value {
	if l.Kind == ir.ValueInt64 && r.Kind == ir.ValueInt64 {
		return ir.Int64Value(int64(result))
	}
	return ir.Float64Value(result)
}

// unwrapTypedIDComparison implements "Cast(x, Id(M)) compared with a
// typed-id literal unwraps to the underlying string-or-number
// comparison".
func unwrapTypedIDComparison(bin *ir.Binary) (ir.Expr, bool) {
	cast, castOnLeft := bin.Left.(*ir.Cast)
	other := bin.Right
	if !castOnLeft {
		var ok bool
		cast, ok = bin.Right.(*ir.Cast)
		other = bin.Left
		if !ok {
			return nil, false
		}
	}
	if cast.Target.Kind != ir.TID {
		return nil, false
	}
	lit, ok := other.(*ir.Literal)
	if !ok || lit.Value.Kind != ir.ValueTypedID {
		return nil, false
	}
	underlying := ir.Lit(*lit.Value.IDValue)
	if castOnLeft {
		return &ir.Binary{Op: bin.Op, Left: cast.Base, Right: underlying}, true
	}
	return &ir.Binary{Op: bin.Op, Left: underlying, Right: cast.Base}, true
}
