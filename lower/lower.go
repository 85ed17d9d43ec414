// Package lower rewrites a simplified, model-scoped statement into a
// table-scoped one: every Reference{Field}/Reference{Model} and every
// SourceModel is erased in favor of Reference{Column}/SourceTable, using
// the schema's Mapping templates.
package lower

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// Lower erases every model-level reference in stmt, replacing it with
// its table-level equivalent via the schema's per-model Mapping.
func Lower(stmt ir.Statement, s *schema.Schema) (ir.Statement, error) {
	switch st := stmt.(type) {
	case *ir.Query:
		return lowerQuery(st, s)
	case *ir.Insert:
		return lowerInsert(st, s)
	case *ir.Update:
		return lowerUpdate(st, s)
	case *ir.Delete:
		return lowerDelete(st, s)
	default:
		return nil, ormerr.Bugf("lower: unhandled statement type %T", stmt)
	}
}

func tableNameFor(modelName string, s *schema.Schema) (string, error) {
	table, err := s.Table(modelName)
	if err != nil {
		return "", err
	}
	return table.Name, nil
}

func lowerQuery(q *ir.Query, s *schema.Schema) (*ir.Query, error) {
	topModels := topModelStack(q.Body)

	ctes := make([]ir.CTE, len(q.CTEs))
	for i, cte := range q.CTEs {
		body, err := lowerExprSet(cte.Body, nil, s)
		if err != nil {
			return nil, err
		}
		ctes[i] = ir.CTE{Name: cte.Name, Body: body}
	}

	body, err := lowerExprSet(q.Body, nil, s)
	if err != nil {
		return nil, err
	}

	orderBy := make([]ir.OrderTerm, len(q.OrderBy))
	for i, term := range q.OrderBy {
		e, err := lowerExprWithModels(termExpr(term), topModels, s)
		if err != nil {
			return nil, err
		}
		orderBy[i] = rebuildTerm(term, e)
	}

	return &ir.Query{CTEs: ctes, Body: body, OrderBy: orderBy, Limit: q.Limit, Single: q.Single, Locks: q.Locks}, nil
}

// topModelStack recovers the pre-lowering model-scope stack of a
// statement's top-level source, used to lower statement-level clauses
// (ORDER BY) that sit alongside, rather than inside, the ExprSet.
func topModelStack(es ir.ExprSet) []string {
	sel, ok := es.(*ir.Select)
	if !ok || sel.Source.Kind != ir.SourceModel {
		return nil
	}
	return []string{sel.Source.Name}
}

func termExpr(t ir.OrderTerm) ir.Expr { return t.Expr.Expr }

func rebuildTerm(orig ir.OrderTerm, e ir.Expr) ir.OrderTerm {
	if orig.Expr.Desc {
		return ir.Desc(e)
	}
	return ir.Asc(e)
}

func lowerExprSet(es ir.ExprSet, models []string, s *schema.Schema) (ir.ExprSet, error) {
	if es == nil {
		return nil, nil
	}
	switch v := es.(type) {
	case *ir.Select:
		return lowerSelect(v, s)
	case *ir.Values:
		rows := make([]ir.Expr, len(v.Rows))
		for i, row := range v.Rows {
			r, err := lowerExprWithModels(row, models, s)
			if err != nil {
				return nil, err
			}
			rows[i] = r
		}
		return &ir.Values{Rows: rows}, nil
	case *ir.SetOp:
		left, err := lowerExprSet(v.Left, models, s)
		if err != nil {
			return nil, err
		}
		right, err := lowerExprSet(v.Right, models, s)
		if err != nil {
			return nil, err
		}
		return &ir.SetOp{Op: v.Op, Left: left, Right: right}, nil
	case *ir.StmtResult:
		inner, err := Lower(v.Statement, s)
		if err != nil {
			return nil, err
		}
		return &ir.StmtResult{Statement: inner}, nil
	default:
		return nil, ormerr.Bugf("lower: unhandled expr-set type %T", es)
	}
}

func lowerSelect(sel *ir.Select, s *schema.Schema) (*ir.Select, error) {
	return lowerSelectWith(sel, nil, s)
}

// lowerSelectWith lowers sel with outer as the enclosing model stack, so
// a correlated subquery's escaping references (nesting >= 1) resolve
// against the scopes that surround it.
func lowerSelectWith(sel *ir.Select, outer []string, s *schema.Schema) (*ir.Select, error) {
	var models []string
	if sel.Source.Kind == ir.SourceModel {
		models = append([]string{sel.Source.Name}, outer...)
	} else {
		models = outer
	}

	source, err := lowerSource(sel.Source, s)
	if err != nil {
		return nil, err
	}

	filter, err := lowerExprWithModels(sel.Filter, models, s)
	if err != nil {
		return nil, err
	}

	returning, err := lowerReturning(sel.Returning, models, s)
	if err != nil {
		return nil, err
	}

	includes := make([]ir.IncludeSpec, len(sel.Includes))
	for i, inc := range sel.Includes {
		filter, incModels, err := includeFilter(sel.Source, inc, s)
		if err != nil {
			return nil, err
		}
		f, err := lowerExprWithModels(filter, incModels, s)
		if err != nil {
			return nil, err
		}
		includes[i] = ir.IncludeSpec{Path: inc.Path, Filter: f, OrderBy: inc.OrderBy, Limit: inc.Limit, Offset: inc.Offset}
	}

	return &ir.Select{Source: source, Filter: filter, Returning: returning, Includes: includes, Distinct: sel.Distinct}, nil
}

// includeFilter resolves the model scope an include's filter lowers
// against (the relation's target model) and folds the relation's scope
// predicate in, so a scoped has-many/has-one only ever loads the target
// rows its scope admits.
func includeFilter(src ir.Source, inc ir.IncludeSpec, s *schema.Schema) (ir.Expr, []string, error) {
	if src.Kind != ir.SourceModel {
		return inc.Filter, nil, nil
	}
	root, err := s.Root(src.Name)
	if err != nil {
		return nil, nil, err
	}
	rel, ok := root.Relations[inc.Path]
	if !ok {
		return nil, nil, ormerr.New(ormerr.InvalidSchema, "model %s: no relation %q to include", src.Name, inc.Path)
	}

	filter := inc.Filter
	var scope ir.Expr
	switch r := rel.(type) {
	case *schema.HasMany:
		scope = r.Scope
	case *schema.HasOne:
		scope = r.Scope
	}
	if scope != nil {
		if filter == nil {
			filter = scope
		} else {
			filter = ir.AndOf(filter, scope)
		}
	}
	return filter, []string{rel.TargetModelName()}, nil
}

// lowerSubquery lowers a query nested inside an expression (InSubquery,
// StmtExpr), threading the enclosing model stack through so correlated
// references still resolve.
func lowerSubquery(q *ir.Query, outer []string, s *schema.Schema) (*ir.Query, error) {
	sel, ok := q.Body.(*ir.Select)
	if !ok {
		return lowerQuery(q, s)
	}
	body, err := lowerSelectWith(sel, outer, s)
	if err != nil {
		return nil, err
	}

	models := outer
	if sel.Source.Kind == ir.SourceModel {
		models = append([]string{sel.Source.Name}, outer...)
	}
	orderBy := make([]ir.OrderTerm, len(q.OrderBy))
	for i, term := range q.OrderBy {
		e, err := lowerExprWithModels(termExpr(term), models, s)
		if err != nil {
			return nil, err
		}
		orderBy[i] = rebuildTerm(term, e)
	}
	return &ir.Query{CTEs: q.CTEs, Body: body, OrderBy: orderBy, Limit: q.Limit, Single: q.Single, Locks: q.Locks}, nil
}

// lowerSource replaces a model-level source (and every join hanging off
// it) with its table-level equivalent. Each join's On predicate is
// lowered against a two-entry stack: nesting 0 is the join's own right
// side, nesting 1 is src itself; join chains deeper than one hop still
// lower correctly because lowerSource recurses into the right side's own
// Joins with its own fresh two-entry stack.
func lowerSource(src ir.Source, s *schema.Schema) (ir.Source, error) {
	name := src.Name
	if src.Kind == ir.SourceModel {
		tn, err := tableNameFor(src.Name, s)
		if err != nil {
			return ir.Source{}, err
		}
		name = tn
	}

	joins := make([]ir.Join, len(src.Joins))
	for i, j := range src.Joins {
		onModels := []string{j.Right.Name, src.Name}
		onExpr, err := lowerExprWithModels(j.On, onModels, s)
		if err != nil {
			return ir.Source{}, err
		}
		rightSource, err := lowerSource(j.Right, s)
		if err != nil {
			return ir.Source{}, err
		}
		joins[i] = ir.Join{Kind: j.Kind, Right: rightSource, On: onExpr}
	}

	return ir.Source{Kind: ir.SourceTable, Name: name, Alias: src.Alias, Joins: joins}, nil
}

func lowerReturning(r ir.Returning, models []string, s *schema.Schema) (ir.Returning, error) {
	if r.Star {
		return r, nil
	}
	e, err := lowerExprWithModels(r.Expression, models, s)
	if err != nil {
		return ir.Returning{}, err
	}
	return ir.Returning{Expression: e}, nil
}

func mutationModels(t ir.MutationTarget) []string {
	if t.Kind == ir.TargetModel {
		return []string{t.Name}
	}
	return nil
}

func lowerMutationTarget(t ir.MutationTarget, s *schema.Schema) (ir.MutationTarget, error) {
	if t.Kind != ir.TargetModel {
		return t, nil
	}
	tn, err := tableNameFor(t.Name, s)
	if err != nil {
		return ir.MutationTarget{}, err
	}
	return ir.MutationTarget{Kind: ir.TargetTable, Name: tn}, nil
}

func lowerInsert(ins *ir.Insert, s *schema.Schema) (*ir.Insert, error) {
	models := mutationModels(ins.Target)

	target, err := lowerMutationTarget(ins.Target, s)
	if err != nil {
		return nil, err
	}
	source, err := lowerExprSet(ins.Source, models, s)
	if err != nil {
		return nil, err
	}

	var returning *ir.Returning
	if ins.Returning != nil {
		r, err := lowerReturning(*ins.Returning, models, s)
		if err != nil {
			return nil, err
		}
		returning = &r
	}

	return &ir.Insert{Target: target, Source: source, Returning: returning, Conflict: ins.Conflict}, nil
}

func lowerUpdate(upd *ir.Update, s *schema.Schema) (*ir.Update, error) {
	models := mutationModels(upd.Target)
	if len(models) == 0 {
		return nil, ormerr.Bugf("lower: update target must be model-scoped before lowering")
	}

	target, err := lowerMutationTarget(upd.Target, s)
	if err != nil {
		return nil, err
	}
	mapping, err := s.Mapping(models[0])
	if err != nil {
		return nil, err
	}

	assignments := make([]ir.Assignment, len(upd.Assignments))
	for i, a := range upd.Assignments {
		if a.TargetKind != ir.AssignField {
			assignments[i] = a
			continue
		}
		col, err := mapping.ColumnForField(a.FieldIndex)
		if err != nil {
			return nil, err
		}
		v, err := lowerExprWithModels(a.Value, models, s)
		if err != nil {
			return nil, err
		}
		assignments[i] = ir.Assignment{TargetKind: ir.AssignColumn, Column: col, Op: a.Op, Value: v}
	}

	filter, err := lowerExprWithModels(upd.Filter, models, s)
	if err != nil {
		return nil, err
	}
	var condition ir.Expr
	if upd.Condition != nil {
		condition, err = lowerExprWithModels(upd.Condition, models, s)
		if err != nil {
			return nil, err
		}
	}

	var returning *ir.Returning
	if upd.Returning != nil {
		r, err := lowerReturning(*upd.Returning, models, s)
		if err != nil {
			return nil, err
		}
		returning = &r
	}

	return &ir.Update{Target: target, Assignments: assignments, Filter: filter, Condition: condition, Returning: returning}, nil
}

func lowerDelete(del *ir.Delete, s *schema.Schema) (*ir.Delete, error) {
	var models []string
	if sel, ok := del.Source.(*ir.Select); ok && sel.Source.Kind == ir.SourceModel {
		models = []string{sel.Source.Name}
	}

	source, err := lowerExprSet(del.Source, models, s)
	if err != nil {
		return nil, err
	}

	filter, err := lowerExprWithModels(del.Filter, models, s)
	if err != nil {
		return nil, err
	}

	var returning *ir.Returning
	if del.Returning != nil {
		r, err := lowerReturning(*del.Returning, models, s)
		if err != nil {
			return nil, err
		}
		returning = &r
	}

	return &ir.Delete{Source: source, Filter: filter, Returning: returning}, nil
}
