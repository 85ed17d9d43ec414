package simplify

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// relationLifter erases Reference{Relation} nodes: a comparison
// against a belongs-to relation becomes the equivalent comparison on each foreign-key source field,
// and membership of a belongs-to/has-one relation in a subquery becomes
// an InSubquery over the paired foreign-key field with the subquery's
// returning narrowed to the pair's target field. Lowering rejects any
// Reference{Relation} that survives this pass.
type relationLifter struct {
	ir.BaseVisitor
	target exprTarget
	schema *schema.Schema
}

func liftRelations(e ir.Expr, target exprTarget, s *schema.Schema) (ir.Expr, error) {
	if e == nil || target.kind != targetModel {
		return e, nil
	}
	lifter := &relationLifter{target: target, schema: s}
	lifter.Self = lifter
	return ir.Walk(e, lifter)
}

func (rl *relationLifter) relationOf(e ir.Expr) (*ir.Reference, schema.Relation, bool) {
	ref, ok := e.(*ir.Reference)
	if !ok || ref.Kind != ir.RefRelation {
		return nil, nil, false
	}
	rel, ok := rl.target.relation(rl.schema, ref.Relation)
	if !ok {
		return nil, nil, false
	}
	return ref, rel, true
}

func (rl *relationLifter) VisitBinary(e *ir.Binary) (ir.Expr, error) {
	rebuilt, err := ir.RecurseBinary(e, rl.Self)
	if err != nil {
		return nil, err
	}
	bin := rebuilt.(*ir.Binary)
	if bin.Op != ir.OpEq && bin.Op != ir.OpNeq {
		return bin, nil
	}

	ref, rel, ok := rl.relationOf(bin.Left)
	other := bin.Right
	if !ok {
		ref, rel, ok = rl.relationOf(bin.Right)
		other = bin.Left
		if !ok {
			return bin, nil
		}
	}

	bt, isBelongsTo := rel.(*schema.BelongsTo)
	if !isBelongsTo {
		return nil, ormerr.New(ormerr.UnsupportedFeature,
			"simplify: relation %q is not a belongs-to; compare its fields directly", ref.Relation)
	}
	pairs := bt.ResolvedPair
	if len(pairs) == 0 {
		return nil, ormerr.New(ormerr.InvalidSchema, "simplify: relation %q has no resolved key pairs", ref.Relation)
	}

	eqs := make([]ir.Expr, len(pairs))
	for i, p := range pairs {
		eqs[i] = &ir.Binary{
			Op:    ir.OpEq,
			Left:  ir.Field(ref.Nesting, p.SourceField),
			Right: pairElement(other, i, len(pairs)),
		}
	}
	lifted := eqs[0]
	if len(eqs) > 1 {
		lifted = ir.AndOf(eqs...)
	}
	if bin.Op == ir.OpNeq {
		lifted = ir.NotOf(lifted)
	}
	return lifted, nil
}

// pairElement picks the i-th key component out of the compared value: a
// single-column foreign key compares against the value as-is, a
// composite key projects into it.
func pairElement(other ir.Expr, i, total int) ir.Expr {
	if total == 1 {
		return other
	}
	if lit, ok := other.(*ir.Literal); ok && lit.Value.Kind == ir.ValueRecord && i < len(lit.Value.Fields) {
		return ir.Lit(lit.Value.Fields[i])
	}
	if rec, ok := other.(*ir.Record); ok && i < len(rec.Elements) {
		return rec.Elements[i]
	}
	return &ir.Project{Base: other, Path: i}
}

func (rl *relationLifter) VisitInSubquery(e *ir.InSubquery) (ir.Expr, error) {
	ref, rel, ok := rl.relationOf(e.Target)
	if !ok {
		return e, nil
	}

	var pairs []schema.FKPair
	switch r := rel.(type) {
	case *schema.BelongsTo:
		pairs = r.ResolvedPair
	case *schema.HasOne:
		pairs = r.TargetFKPairs
	default:
		return nil, ormerr.New(ormerr.UnsupportedFeature,
			"simplify: relation %q cannot appear in a subquery membership test", ref.Relation)
	}
	if len(pairs) != 1 {
		return nil, ormerr.New(ormerr.UnsupportedFeature,
			"simplify: composite-key relation %q cannot be lifted into an InSubquery", ref.Relation)
	}

	sub := *e.Subquery
	sel, ok := sub.Body.(*ir.Select)
	if !ok {
		return nil, ormerr.New(ormerr.UnsupportedFeature,
			"simplify: relation subquery body %T is not a select", sub.Body)
	}
	narrowed := *sel
	narrowed.Returning = ir.Returning{Expression: ir.Field(0, pairs[0].TargetField)}
	sub.Body = &narrowed

	return &ir.InSubquery{
		Target:   ir.Field(ref.Nesting, pairs[0].SourceField),
		Subquery: &sub,
	}, nil
}
