package simplify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/schema"
)

func buildUserTodoSchema(t *testing.T) *schema.Schema {
	t.Helper()
	user := &schema.RootModel{
		ID:   1,
		Name: "User",
		Fields: []schema.Field{
			{Name: "id", Type: ir.Scalar(ir.TInt64)},
			{Name: "name", Type: ir.Scalar(ir.TString)},
		},
		PrimaryKey: schema.PrimaryKey{FieldIndices: []int{0}},
		Relations: map[string]schema.Relation{
			"todos": &schema.HasMany{Target: "Todo", PairFieldID: 0, SingularName: "todo"},
		},
	}
	todo := &schema.RootModel{
		ID:   2,
		Name: "Todo",
		Fields: []schema.Field{
			{Name: "id", Type: ir.Scalar(ir.TInt64)},
			{Name: "userId", Type: ir.Scalar(ir.TInt64)},
			{Name: "title", Type: ir.Scalar(ir.TString)},
		},
		PrimaryKey: schema.PrimaryKey{FieldIndices: []int{0}},
		Relations: map[string]schema.Relation{
			"user": &schema.BelongsTo{Target: "User", Pairs: []schema.FKPair{{SourceField: 1, TargetField: 0}}},
		},
	}
	s, err := schema.NewBuilder().AddModel(user).AddModel(todo).Build()
	require.NoError(t, err)
	return s
}

func TestConstantFoldingCollapsesAndOr(t *testing.T) {
	e := ir.AndOf(ir.Lit(ir.BoolValue(true)), ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))))
	out, err := simplifyExpr(e)
	require.NoError(t, err)
	bin, ok := out.(*ir.Binary)
	require.True(t, ok, "expected And with a literal-true operand to collapse to its sole remaining operand")
	assert.Equal(t, ir.OpEq, bin.Op)
}

func TestConstantFoldingShortCircuitsOrOnLiteralTrue(t *testing.T) {
	e := ir.OrOf(ir.Lit(ir.BoolValue(true)), ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))))
	out, err := simplifyExpr(e)
	require.NoError(t, err)
	lit, ok := out.(*ir.Literal)
	require.True(t, ok)
	b, _ := lit.Value.AsBool()
	assert.True(t, b)
}

func TestBinaryFoldingComputesArithmetic(t *testing.T) {
	e := &ir.Binary{Op: ir.OpAdd, Left: ir.Lit(ir.Int64Value(2)), Right: ir.Lit(ir.Int64Value(3))}
	out, err := simplifyExpr(e)
	require.NoError(t, err)
	lit := out.(*ir.Literal)
	assert.Equal(t, int64(5), lit.Value.Int)
}

func TestInListWithSingleElementBecomesEquality(t *testing.T) {
	e := &ir.InList{Target: ir.Field(0, 0), List: &ir.List{Elements: []ir.Expr{ir.Lit(ir.Int64Value(7))}}}
	out, err := simplifyExpr(e)
	require.NoError(t, err)
	bin, ok := out.(*ir.Binary)
	require.True(t, ok)
	assert.Equal(t, ir.OpEq, bin.Op)
}

func TestInListWithEmptyListIsLiteralFalse(t *testing.T) {
	e := &ir.InList{Target: ir.Field(0, 0), List: &ir.List{}}
	out, err := simplifyExpr(e)
	require.NoError(t, err)
	lit := out.(*ir.Literal)
	b, _ := lit.Value.AsBool()
	assert.False(t, b)
}

func TestEmptyQueryDetectionCollapsesSelectToValues(t *testing.T) {
	s := buildUserTodoSchema(t)
	sel := &ir.Select{
		Source: ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter: ir.Lit(ir.BoolValue(false)),
	}
	q := &ir.Query{Body: sel}
	out, err := Simplify(q, s)
	require.NoError(t, err)
	query := out.(*ir.Query)
	_, isValues := query.Body.(*ir.Values)
	assert.True(t, isValues, "a provably-false filter should collapse its select to an empty values source")
}

func TestAssociationExpansionResolvesHasManyJoin(t *testing.T) {
	s := buildUserTodoSchema(t)
	sel := &ir.Select{
		Source: ir.Source{
			Kind: ir.SourceModel,
			Name: "User",
			Joins: []ir.Join{
				{Via: "todos", Kind: ir.JoinInner},
			},
		},
		Filter: ir.Lit(ir.BoolValue(true)),
	}
	q := &ir.Query{Body: sel}
	out, err := Simplify(q, s)
	require.NoError(t, err)
	query := out.(*ir.Query)
	resultSel := query.Body.(*ir.Select)
	require.Len(t, resultSel.Source.Joins, 1)
	join := resultSel.Source.Joins[0]
	assert.Equal(t, "", join.Via)
	assert.Equal(t, "Todo", join.Right.Name)
	assert.NotNil(t, join.On)
}

func TestAssociationExpansionResolvesBelongsToJoin(t *testing.T) {
	s := buildUserTodoSchema(t)
	sel := &ir.Select{
		Source: ir.Source{
			Kind: ir.SourceModel,
			Name: "Todo",
			Joins: []ir.Join{
				{Via: "user", Kind: ir.JoinInner},
			},
		},
		Filter: ir.Lit(ir.BoolValue(true)),
	}
	q := &ir.Query{Body: sel}
	out, err := Simplify(q, s)
	require.NoError(t, err)
	query := out.(*ir.Query)
	resultSel := query.Body.(*ir.Select)
	join := resultSel.Source.Joins[0]
	assert.Equal(t, "User", join.Right.Name)
}

func TestSimplifyIsIdempotent(t *testing.T) {
	s := buildUserTodoSchema(t)
	sel := &ir.Select{
		Source: ir.Source{
			Kind: ir.SourceModel,
			Name: "User",
			Joins: []ir.Join{
				{Via: "todos", Kind: ir.JoinInner},
			},
		},
		Filter: ir.AndOf(ir.Lit(ir.BoolValue(true)), ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1)))),
	}
	q := &ir.Query{Body: sel}

	once, err := Simplify(q, s)
	require.NoError(t, err)
	twice, err := Simplify(once, s)
	require.NoError(t, err)

	onceSel := once.(*ir.Query).Body.(*ir.Select)
	twiceSel := twice.(*ir.Query).Body.(*ir.Select)
	assert.Equal(t, onceSel.Source.Joins[0].Right.Name, twiceSel.Source.Joins[0].Right.Name)
	assert.Equal(t, onceSel.Filter, twiceSel.Filter)
}

func TestUnionWithEmptyValuesCollapsesToOtherSide(t *testing.T) {
	s := buildUserTodoSchema(t)
	sel := &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Returning: ir.Returning{Star: true},
	}
	q := &ir.Query{Body: &ir.SetOp{Op: ir.SetOpUnion, Left: &ir.Values{}, Right: sel}}

	out, err := Simplify(q, s)
	require.NoError(t, err)
	_, isSelect := out.(*ir.Query).Body.(*ir.Select)
	assert.True(t, isSelect, "a union with an empty values operand should collapse to the other operand")
}

func TestUnionOfLiteralValuesMergesRows(t *testing.T) {
	s := buildUserTodoSchema(t)
	row := func(id int64) ir.Expr {
		return &ir.Record{Elements: []ir.Expr{ir.Lit(ir.Int64Value(id)), ir.Lit(ir.StringValue("n"))}}
	}
	q := &ir.Query{Body: &ir.SetOp{
		Op:    ir.SetOpUnion,
		Left:  &ir.Values{Rows: []ir.Expr{row(1)}},
		Right: &ir.Values{Rows: []ir.Expr{row(2)}},
	}}

	out, err := Simplify(q, s)
	require.NoError(t, err)
	values, ok := out.(*ir.Query).Body.(*ir.Values)
	require.True(t, ok)
	assert.Len(t, values.Rows, 2)
}

func TestIntersectWithEmptyValuesIsEmpty(t *testing.T) {
	s := buildUserTodoSchema(t)
	sel := &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Returning: ir.Returning{Star: true},
	}
	q := &ir.Query{Body: &ir.SetOp{Op: ir.SetOpIntersect, Left: sel, Right: &ir.Values{}}}

	out, err := Simplify(q, s)
	require.NoError(t, err)
	values, ok := out.(*ir.Query).Body.(*ir.Values)
	require.True(t, ok)
	assert.Empty(t, values.Rows)
}

func TestSelectFromEmptyValuesCTECollapses(t *testing.T) {
	s := buildUserTodoSchema(t)
	limit := 5
	q := &ir.Query{
		CTEs: []ir.CTE{{Name: "seed", Body: &ir.Values{}}},
		Body: &ir.Select{
			Source:    ir.Source{Kind: ir.SourceTable, Name: "seed"},
			Returning: ir.Returning{Star: true},
		},
		OrderBy: []ir.OrderTerm{ir.Asc(ir.Field(0, 0))},
		Limit:   &limit,
	}
	out, err := Simplify(q, s)
	require.NoError(t, err)
	query := out.(*ir.Query)
	values, ok := query.Body.(*ir.Values)
	require.True(t, ok, "a select over an empty-values CTE can never match")
	assert.Empty(t, values.Rows)
	assert.Empty(t, query.OrderBy)
	assert.Nil(t, query.Limit)
}

func TestMergeInsertsCollapsesCompatibleAdjacentInserts(t *testing.T) {
	row := func(id int64) ir.Expr {
		return &ir.Record{Elements: []ir.Expr{ir.Lit(ir.Int64Value(id)), ir.Lit(ir.StringValue("n"))}}
	}
	mk := func(id int64) *ir.Insert {
		return &ir.Insert{
			Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
			Source: &ir.Values{Rows: []ir.Expr{row(id)}},
		}
	}

	out := MergeInserts([]ir.Statement{mk(1), mk(2)})
	require.Len(t, out, 1)
	merged := out[0].(*ir.Insert)
	assert.Len(t, merged.Source.(*ir.Values).Rows, 2)
}

func TestMergeInsertsKeepsDifferentTargetsApart(t *testing.T) {
	a := &ir.Insert{
		Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Source: &ir.Values{Rows: []ir.Expr{ir.Lit(ir.Int64Value(1))}},
	}
	b := &ir.Insert{
		Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "Todo"},
		Source: &ir.Values{Rows: []ir.Expr{ir.Lit(ir.Int64Value(2))}},
	}
	out := MergeInserts([]ir.Statement{a, b})
	assert.Len(t, out, 2)
}

func TestBelongsToComparisonLiftsToForeignKeyField(t *testing.T) {
	s := buildUserTodoSchema(t)
	sel := &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "Todo"},
		Filter:    ir.Eq(ir.Rel(0, "user"), ir.Lit(ir.Int64Value(7))),
		Returning: ir.Returning{Star: true},
	}
	out, err := Simplify(&ir.Query{Body: sel}, s)
	require.NoError(t, err)

	bin := out.(*ir.Query).Body.(*ir.Select).Filter.(*ir.Binary)
	ref, ok := bin.Left.(*ir.Reference)
	require.True(t, ok, "a belongs-to comparison should lift to its foreign-key source field")
	assert.Equal(t, ir.RefField, ref.Kind)
	assert.Equal(t, 1, ref.Index) // Todo.userId
}

func TestBelongsToInSubqueryLiftsTargetAndNarrowsReturning(t *testing.T) {
	s := buildUserTodoSchema(t)
	sub := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 1), ir.Lit(ir.StringValue("Alice"))),
		Returning: ir.Returning{Star: true},
	}}
	sel := &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "Todo"},
		Filter:    &ir.InSubquery{Target: ir.Rel(0, "user"), Subquery: sub},
		Returning: ir.Returning{Star: true},
	}
	out, err := Simplify(&ir.Query{Body: sel}, s)
	require.NoError(t, err)

	in := out.(*ir.Query).Body.(*ir.Select).Filter.(*ir.InSubquery)
	ref := in.Target.(*ir.Reference)
	assert.Equal(t, ir.RefField, ref.Kind)
	assert.Equal(t, 1, ref.Index) // Todo.userId

	subSel := in.Subquery.Body.(*ir.Select)
	require.False(t, subSel.Returning.Star)
	retRef, ok := subSel.Returning.Expression.(*ir.Reference)
	require.True(t, ok)
	assert.Equal(t, 0, retRef.Index) // User.id, the pair's target field
}

func TestPathLiftingCollapsesModelProjectionToFieldReference(t *testing.T) {
	s := buildUserTodoSchema(t)
	proj := &ir.Project{Base: ir.ModelRef(0), Path: 1}
	del := &ir.Delete{
		Source: &ir.Select{Source: ir.Source{Kind: ir.SourceModel, Name: "User"}},
		Filter: ir.Eq(proj, ir.Lit(ir.StringValue("x"))),
	}
	out, err := Simplify(del, s)
	require.NoError(t, err)
	bin := out.(*ir.Delete).Filter.(*ir.Binary)
	ref, ok := bin.Left.(*ir.Reference)
	require.True(t, ok, "Project(ModelRef, path) should lift to a direct field Reference")
	assert.Equal(t, ir.RefField, ref.Kind)
	assert.Equal(t, 1, ref.Index)
}
