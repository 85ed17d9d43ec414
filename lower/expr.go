package lower

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// lowerExprWithModels rewrites every Reference{Field}/Reference{Model} in
// e against models, a stack of model names indexed by nesting depth
// (models[0] is nesting 0, the innermost scope). A nil e is passed
// through unchanged.
func lowerExprWithModels(e ir.Expr, models []string, s *schema.Schema) (ir.Expr, error) {
	if e == nil {
		return nil, nil
	}
	lv := &lowerVisitor{models: models, schema: s}
	lv.Self = lv
	return ir.Walk(e, lv)
}

type lowerVisitor struct {
	ir.BaseVisitor
	models []string
	schema *schema.Schema
}

func (lv *lowerVisitor) VisitReference(e *ir.Reference) (ir.Expr, error) {
	if e.Kind == ir.RefColumn {
		return e, nil
	}
	if e.Kind == ir.RefRelation {
		return nil, ormerr.Bugf("lower: relation reference %q survived simplification", e.Relation)
	}
	if e.Nesting < 0 || e.Nesting >= len(lv.models) {
		return nil, ormerr.Bugf("lower: reference nesting %d has no enclosing model scope", e.Nesting)
	}
	modelName := lv.models[e.Nesting]
	mapping, err := lv.schema.Mapping(modelName)
	if err != nil {
		return nil, err
	}

	switch e.Kind {
	case ir.RefField:
		tmpl, err := mapping.FieldExprForIndex(e.Index)
		if err != nil {
			return nil, err
		}
		return shiftNesting(tmpl, e.Nesting), nil
	case ir.RefModel:
		elements := make([]ir.Expr, len(mapping.FieldMappings))
		for i, fm := range mapping.FieldMappings {
			tmpl, err := mapping.FieldExprForIndex(fm.FieldIndex)
			if err != nil {
				return nil, err
			}
			elements[i] = shiftNesting(tmpl, e.Nesting)
		}
		return &ir.Record{Elements: elements}, nil
	default:
		return nil, ormerr.Bugf("lower: unhandled reference kind %v", e.Kind)
	}
}

func (lv *lowerVisitor) VisitInSubquery(e *ir.InSubquery) (ir.Expr, error) {
	target, err := ir.Walk(e.Target, lv.Self)
	if err != nil {
		return nil, err
	}
	sub, err := lowerSubquery(e.Subquery, lv.models, lv.schema)
	if err != nil {
		return nil, err
	}
	return &ir.InSubquery{Target: target, Subquery: sub}, nil
}

func (lv *lowerVisitor) VisitStmtExpr(e *ir.StmtExpr) (ir.Expr, error) {
	if q, ok := e.Statement.(*ir.Query); ok {
		sub, err := lowerSubquery(q, lv.models, lv.schema)
		if err != nil {
			return nil, err
		}
		return &ir.StmtExpr{Statement: sub}, nil
	}
	inner, err := Lower(e.Statement, lv.schema)
	if err != nil {
		return nil, err
	}
	return &ir.StmtExpr{Statement: inner}, nil
}

// shiftNesting adds delta to every Reference/Arg nesting level in e.
// Mapping templates (ModelToTable/TableToModel) are always built
// assuming nesting 0, so substituting one in at nesting N requires
// shifting every reference inside it by N.
func shiftNesting(e ir.Expr, delta int) ir.Expr {
	if delta == 0 {
		return e
	}
	shifter := &nestingShifter{delta: delta}
	shifter.Self = shifter
	out, err := ir.Walk(e, shifter)
	if err != nil {
		// mapping templates never fail to walk; fall back to the
		// original expression rather than panic on an internal helper.
		return e
	}
	return out
}

type nestingShifter struct {
	ir.BaseVisitor
	delta int
}

func (ns *nestingShifter) VisitReference(e *ir.Reference) (ir.Expr, error) {
	shifted := *e
	shifted.Nesting += ns.delta
	return &shifted, nil
}

func (ns *nestingShifter) VisitArg(e *ir.Arg) (ir.Expr, error) {
	shifted := *e
	shifted.Nesting += ns.delta
	return &shifted, nil
}
