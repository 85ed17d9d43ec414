package simplify

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// Simplify canonicalizes stmt: constant folding, association expansion,
// path-to-foreign-key lifting, in-list simplification, and empty-query
// detection. It is idempotent: running it twice on its own output is a
// no-op beyond the first pass.
func Simplify(stmt ir.Statement, s *schema.Schema) (ir.Statement, error) {
	switch st := stmt.(type) {
	case *ir.Query:
		return simplifyQuery(st, s)
	case *ir.Insert:
		return simplifyInsert(st, s)
	case *ir.Update:
		return simplifyUpdate(st, s)
	case *ir.Delete:
		return simplifyDelete(st, s)
	default:
		return nil, ormerr.Bugf("simplify: unhandled statement type %T", stmt)
	}
}

func simplifyQuery(q *ir.Query, s *schema.Schema) (*ir.Query, error) {
	ctes := make([]ir.CTE, len(q.CTEs))
	for i, cte := range q.CTEs {
		body, err := simplifyExprSet(cte.Body, constTarget(), s)
		if err != nil {
			return nil, err
		}
		ctes[i] = ir.CTE{Name: cte.Name, Body: body}
	}

	body, err := simplifyExprSet(q.Body, constTarget(), s)
	if err != nil {
		return nil, err
	}

	// A select over a CTE that is a provably-empty row set can never
	// produce rows; the whole body collapses and order/limit clear with
	// it.
	if selectsEmptyCTE(body, ctes) {
		return &ir.Query{CTEs: ctes, Body: &ir.Values{Rows: nil}}, nil
	}

	orderBy := make([]ir.OrderTerm, len(q.OrderBy))
	for i, term := range q.OrderBy {
		e, err := simplifyExpr(orderTermExpr(term))
		if err != nil {
			return nil, err
		}
		orderBy[i] = rebuildOrderTerm(term, e)
	}

	return &ir.Query{
		CTEs:    ctes,
		Body:    body,
		OrderBy: orderBy,
		Limit:   q.Limit,
		Single:  q.Single,
		Locks:   q.Locks,
	}, nil
}

func selectsEmptyCTE(body ir.ExprSet, ctes []ir.CTE) bool {
	sel, ok := body.(*ir.Select)
	if !ok {
		return false
	}
	for _, cte := range ctes {
		if cte.Name != sel.Source.Name {
			continue
		}
		if values, ok := cte.Body.(*ir.Values); ok && len(values.Rows) == 0 {
			return true
		}
	}
	// An inner join against an empty CTE is just as empty.
	for _, j := range sel.Source.Joins {
		if j.Kind != ir.JoinInner {
			continue
		}
		for _, cte := range ctes {
			if cte.Name != j.Right.Name {
				continue
			}
			if values, ok := cte.Body.(*ir.Values); ok && len(values.Rows) == 0 {
				return true
			}
		}
	}
	return false
}

// orderTermExpr and rebuildOrderTerm exist because OrderTerm wraps its
// Expr/Desc pair in an unexported descExpr type.
func orderTermExpr(t ir.OrderTerm) ir.Expr {
	return t.Expr.Expr
}

func rebuildOrderTerm(orig ir.OrderTerm, e ir.Expr) ir.OrderTerm {
	if orig.Expr.Desc {
		return ir.Desc(e)
	}
	return ir.Asc(e)
}

func simplifyExprSet(es ir.ExprSet, target exprTarget, s *schema.Schema) (ir.ExprSet, error) {
	if es == nil {
		return nil, nil
	}
	switch v := es.(type) {
	case *ir.Select:
		return simplifySelect(v, s)
	case *ir.Values:
		rows := make([]ir.Expr, len(v.Rows))
		for i, row := range v.Rows {
			r, err := simplifyExpr(row)
			if err != nil {
				return nil, err
			}
			rows[i] = r
		}
		return &ir.Values{Rows: rows}, nil
	case *ir.SetOp:
		left, err := simplifyExprSet(v.Left, target, s)
		if err != nil {
			return nil, err
		}
		right, err := simplifyExprSet(v.Right, target, s)
		if err != nil {
			return nil, err
		}
		return collapseSetOp(v.Op, left, right), nil
	case *ir.StmtResult:
		inner, err := Simplify(v.Statement, s)
		if err != nil {
			return nil, err
		}
		return &ir.StmtResult{Statement: inner}, nil
	default:
		return nil, ormerr.Bugf("simplify: unhandled expr-set type %T", es)
	}
}

// collapseSetOp folds a set operation whose operands are already-
// simplified row sets: an empty Values is Union's identity and
// annihilates Intersect/Except, and a Union of two literal Values merges
// into one multi-row Values (the shape insert batching relies on).
func collapseSetOp(op ir.SetOpKind, left, right ir.ExprSet) ir.ExprSet {
	lv, lok := left.(*ir.Values)
	rv, rok := right.(*ir.Values)

	switch op {
	case ir.SetOpUnion:
		if lok && len(lv.Rows) == 0 {
			return right
		}
		if rok && len(rv.Rows) == 0 {
			return left
		}
		if lok && rok {
			rows := make([]ir.Expr, 0, len(lv.Rows)+len(rv.Rows))
			rows = append(rows, lv.Rows...)
			rows = append(rows, rv.Rows...)
			return &ir.Values{Rows: rows}
		}
	case ir.SetOpIntersect:
		if (lok && len(lv.Rows) == 0) || (rok && len(rv.Rows) == 0) {
			return &ir.Values{Rows: nil}
		}
	case ir.SetOpExcept:
		if lok && len(lv.Rows) == 0 {
			return &ir.Values{Rows: nil}
		}
		if rok && len(rv.Rows) == 0 {
			return left
		}
	}
	return &ir.SetOp{Op: op, Left: left, Right: right}
}

func sourceTarget(src ir.Source) exprTarget {
	if src.Kind == ir.SourceModel {
		return modelTarget(src.Name)
	}
	return constTarget()
}

// simplifySelect expands every association join into an explicit
// right source and On predicate, folds the filter and returning expressions, and collapses
// the whole select to an empty Values source when its filter provably
// never matches.
func simplifySelect(sel *ir.Select, s *schema.Schema) (ir.ExprSet, error) {
	target := sourceTarget(sel.Source)

	joins := make([]ir.Join, len(sel.Source.Joins))
	for i, j := range sel.Source.Joins {
		ej, err := expandJoin(j, target, s)
		if err != nil {
			return nil, err
		}
		joins[i] = ej
	}
	source := sel.Source
	source.Joins = joins

	filter, err := canonicalizeExpr(sel.Filter, target, s)
	if err != nil {
		return nil, err
	}

	if isLiteralFalse(filter) {
		return &ir.Values{Rows: nil}, nil
	}

	returning, err := simplifyReturning(sel.Returning, target, s)
	if err != nil {
		return nil, err
	}

	includes := make([]ir.IncludeSpec, len(sel.Includes))
	for i, inc := range sel.Includes {
		incFilter, err := simplifyExpr(inc.Filter)
		if err != nil {
			return nil, err
		}
		includes[i] = ir.IncludeSpec{Path: inc.Path, Filter: incFilter, OrderBy: inc.OrderBy, Limit: inc.Limit, Offset: inc.Offset}
	}

	return &ir.Select{
		Source:    source,
		Filter:    filter,
		Returning: returning,
		Includes:  includes,
		Distinct:  sel.Distinct,
	}, nil
}

func simplifyReturning(r ir.Returning, target exprTarget, s *schema.Schema) (ir.Returning, error) {
	if r.Star {
		return r, nil
	}
	e, err := canonicalizeExpr(r.Expression, target, s)
	if err != nil {
		return ir.Returning{}, err
	}
	return ir.Returning{Expression: e}, nil
}

func isLiteralFalse(e ir.Expr) bool {
	lit, ok := e.(*ir.Literal)
	if !ok {
		return false
	}
	b, isBool := lit.Value.AsBool()
	return isBool && !b
}

// expandJoin resolves a Join's Via shorthand into an explicit Right
// source and On predicate using the relation's foreign-key pairs, so
// downstream passes never need to consult the schema again for join
// shape.
func expandJoin(j ir.Join, target exprTarget, s *schema.Schema) (ir.Join, error) {
	if j.Via == "" {
		return j, nil
	}
	rel, ok := target.relation(s, j.Via)
	if !ok {
		return ir.Join{}, ormerr.New(ormerr.InvalidSchema, "no relation %q on model %q", j.Via, target.model)
	}

	var pairs []schema.FKPair
	switch r := rel.(type) {
	case *schema.BelongsTo:
		pairs = r.ResolvedPair
	case *schema.HasMany:
		pairs = r.TargetFKPairs
	case *schema.HasOne:
		pairs = r.TargetFKPairs
	default:
		return ir.Join{}, ormerr.Bugf("expandJoin: unhandled relation type %T", rel)
	}
	if len(pairs) == 0 {
		return ir.Join{}, ormerr.New(ormerr.InvalidSchema, "relation %q has no resolved key pairs", j.Via)
	}

	eqs := make([]ir.Expr, len(pairs))
	for i, p := range pairs {
		eqs[i] = ir.Eq(ir.Field(1, p.SourceField), ir.Field(0, p.TargetField))
	}
	on := ir.Expr(ir.AndOf(eqs...))
	if len(eqs) == 1 {
		on = eqs[0]
	}

	return ir.Join{
		Kind:  j.Kind,
		Right: ir.Source{Kind: ir.SourceModel, Name: rel.TargetModelName(), Alias: j.Via},
		On:    on,
	}, nil
}

// canonicalizeExpr runs the scope-aware rewrites (relation lifting, path
// lifting) and then one expression-simplification pass over e.
func canonicalizeExpr(e ir.Expr, target exprTarget, s *schema.Schema) (ir.Expr, error) {
	e, err := liftRelations(e, target, s)
	if err != nil {
		return nil, err
	}
	return simplifyExpr(liftPaths(e))
}

// liftPaths collapses Project(Reference{Model}, fieldIndex) into a
// direct Reference{Field} when the projected path is just a scalar
// field of the current model, avoiding a needless record projection
// that lowering would otherwise have to special-case.
func liftPaths(e ir.Expr) ir.Expr {
	if e == nil {
		return nil
	}
	lifter := &pathLifter{}
	lifter.Self = lifter
	out, err := ir.Walk(e, lifter)
	if err != nil {
		return e
	}
	return out
}

type pathLifter struct {
	ir.BaseVisitor
}

func (p *pathLifter) VisitProject(e *ir.Project) (ir.Expr, error) {
	rebuilt, err := ir.RecurseProject(e, p.Self)
	if err != nil {
		return nil, err
	}
	proj := rebuilt.(*ir.Project)
	if ref, ok := proj.Base.(*ir.Reference); ok && ref.Kind == ir.RefModel {
		return ir.Field(ref.Nesting, proj.Path), nil
	}
	return proj, nil
}

func mutationTarget(t ir.MutationTarget) exprTarget {
	if t.Kind == ir.TargetModel {
		return modelTarget(t.Name)
	}
	return constTarget()
}

func simplifyInsert(ins *ir.Insert, s *schema.Schema) (*ir.Insert, error) {
	target := mutationTarget(ins.Target)

	source, err := simplifyExprSet(ins.Source, target, s)
	if err != nil {
		return nil, err
	}

	var returning *ir.Returning
	if ins.Returning != nil {
		r, err := simplifyReturning(*ins.Returning, target, s)
		if err != nil {
			return nil, err
		}
		returning = &r
	}

	return &ir.Insert{Target: ins.Target, Source: source, Returning: returning, Conflict: ins.Conflict}, nil
}

func simplifyUpdate(upd *ir.Update, s *schema.Schema) (*ir.Update, error) {
	target := mutationTarget(upd.Target)

	assignments := make([]ir.Assignment, len(upd.Assignments))
	for i, a := range upd.Assignments {
		v, err := canonicalizeExpr(a.Value, target, s)
		if err != nil {
			return nil, err
		}
		assignments[i] = ir.Assignment{TargetKind: a.TargetKind, FieldIndex: a.FieldIndex, Column: a.Column, Op: a.Op, Value: v}
	}

	filter, err := canonicalizeExpr(upd.Filter, target, s)
	if err != nil {
		return nil, err
	}
	var condition ir.Expr
	if upd.Condition != nil {
		condition, err = canonicalizeExpr(upd.Condition, target, s)
		if err != nil {
			return nil, err
		}
	}

	var returning *ir.Returning
	if upd.Returning != nil {
		r, err := simplifyReturning(*upd.Returning, target, s)
		if err != nil {
			return nil, err
		}
		returning = &r
	}

	return &ir.Update{Target: upd.Target, Assignments: assignments, Filter: filter, Condition: condition, Returning: returning}, nil
}

func simplifyDelete(del *ir.Delete, s *schema.Schema) (*ir.Delete, error) {
	target := constTarget()
	if sel, ok := del.Source.(*ir.Select); ok {
		target = sourceTarget(sel.Source)
	}

	source, err := simplifyExprSet(del.Source, target, s)
	if err != nil {
		return nil, err
	}

	filter, err := canonicalizeExpr(del.Filter, target, s)
	if err != nil {
		return nil, err
	}

	var returning *ir.Returning
	if del.Returning != nil {
		r, err := simplifyReturning(*del.Returning, target, s)
		if err != nil {
			return nil, err
		}
		returning = &r
	}

	return &ir.Delete{Source: source, Filter: filter, Returning: returning}, nil
}
