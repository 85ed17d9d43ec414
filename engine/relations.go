package engine

import (
	"context"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// Link associates the identified child rows with the parent row by
// writing the relation's foreign-key fields. A child already linked to
// another parent is reassigned.
func (e *Engine) Link(ctx context.Context, parentModel, relation string, parentKey ir.Value, childKeys ...ir.Value) error {
	lr, err := e.resolveLink(parentModel, relation, parentKey)
	if err != nil {
		return err
	}

	assignments := make([]ir.Assignment, len(lr.pairs))
	for i, p := range lr.pairs {
		assignments[i] = ir.Assignment{
			TargetKind: ir.AssignField, FieldIndex: p.TargetField,
			Op: ir.AssignSet, Value: ir.Lit(lr.parentComponents[i]),
		}
	}
	upd := &ir.Update{
		Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: lr.childModel},
		Filter:      lr.childKeyFilter(childKeys),
		Assignments: assignments,
	}
	_, err = e.runCounted(ctx, upd)
	return err
}

// Unlink dissociates the identified child rows from the parent. A child
// whose foreign key is nullable has it cleared; a child whose foreign
// key is required cannot exist unowned and is deleted instead. Only
// children currently linked to this parent qualify; asking to unlink a
// child linked elsewhere (or not at all) is a NotFound error.
func (e *Engine) Unlink(ctx context.Context, parentModel, relation string, parentKey ir.Value, childKeys ...ir.Value) error {
	lr, err := e.resolveLink(parentModel, relation, parentKey)
	if err != nil {
		return err
	}

	linked := []ir.Expr{lr.childKeyFilter(childKeys)}
	for i, p := range lr.pairs {
		linked = append(linked, ir.Eq(ir.Field(0, p.TargetField), ir.Lit(lr.parentComponents[i])))
	}
	filter := ir.AndOf(linked...)

	var n int64
	if lr.nullableFK {
		assignments := make([]ir.Assignment, len(lr.pairs))
		for i, p := range lr.pairs {
			assignments[i] = ir.Assignment{
				TargetKind: ir.AssignField, FieldIndex: p.TargetField,
				Op: ir.AssignSet, Value: ir.Lit(ir.NullValue),
			}
		}
		n, err = e.runCounted(ctx, &ir.Update{
			Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: lr.childModel},
			Filter:      filter,
			Assignments: assignments,
		})
	} else {
		n, err = e.runCounted(ctx, &ir.Delete{
			Source: &ir.Select{Source: ir.Source{Kind: ir.SourceModel, Name: lr.childModel}},
			Filter: filter,
		})
	}
	if err != nil {
		return err
	}
	if n < int64(len(childKeys)) {
		return ormerr.New(ormerr.NotFound, "engine: %d of %d rows are not linked to this %s via %q",
			int64(len(childKeys))-n, len(childKeys), parentModel, relation)
	}
	return nil
}

// linkResolution is the per-call context Link/Unlink share: the child
// model, the foreign-key pairs, the parent key split per pair, and
// whether the child's foreign key admits null.
type linkResolution struct {
	childModel       string
	childPKField     int
	pairs            []schema.FKPair
	parentComponents []ir.Value
	nullableFK       bool
}

func (lr *linkResolution) childKeyFilter(childKeys []ir.Value) ir.Expr {
	elements := make([]ir.Expr, len(childKeys))
	for i, k := range childKeys {
		elements[i] = ir.Lit(k)
	}
	return &ir.InList{Target: ir.Field(0, lr.childPKField), List: &ir.List{Elements: elements}}
}

func (e *Engine) resolveLink(parentModel, relation string, parentKey ir.Value) (*linkResolution, error) {
	root, err := e.schema.Root(parentModel)
	if err != nil {
		return nil, err
	}
	rel, ok := root.Relations[relation]
	if !ok {
		return nil, ormerr.New(ormerr.InvalidSchema, "model %s: no relation %q", parentModel, relation)
	}

	var pairs []schema.FKPair
	switch r := rel.(type) {
	case *schema.HasMany:
		pairs = r.TargetFKPairs
	case *schema.HasOne:
		pairs = r.TargetFKPairs
	default:
		return nil, ormerr.New(ormerr.UnsupportedFeature, "engine: relation %q is not a has-many/has-one; assign the foreign key directly", relation)
	}
	if len(pairs) == 0 {
		return nil, ormerr.New(ormerr.InvalidSchema, "relation %q has no resolved key pairs", relation)
	}

	childRoot, err := e.schema.Root(rel.TargetModelName())
	if err != nil {
		return nil, err
	}
	if len(childRoot.PrimaryKey.FieldIndices) != 1 {
		return nil, ormerr.New(ormerr.UnsupportedFeature, "engine: link/unlink needs a single-column child primary key")
	}

	components := make([]ir.Value, len(pairs))
	if len(pairs) == 1 {
		components[0] = parentKey
	} else {
		if parentKey.Kind != ir.ValueRecord || len(parentKey.Fields) != len(pairs) {
			return nil, ormerr.New(ormerr.UnsupportedFeature, "engine: composite relation key needs a matching record parent key")
		}
		copy(components, parentKey.Fields)
	}

	nullable := true
	for _, p := range pairs {
		f, ferr := childRoot.GetField(p.TargetField)
		if ferr != nil {
			return nil, ormerr.Wrap(ormerr.InvalidSchema, ferr, "relation %q foreign key", relation)
		}
		if !f.Nullable {
			nullable = false
		}
	}

	return &linkResolution{
		childModel:       childRoot.Name,
		childPKField:     childRoot.PrimaryKey.FieldIndices[0],
		pairs:            pairs,
		parentComponents: components,
		nullableFK:       nullable,
	}, nil
}
