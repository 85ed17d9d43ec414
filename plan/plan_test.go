package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/lower"
	"github.com/latticeorm/lattice/schema"
	"github.com/latticeorm/lattice/simplify"
)

func buildUserTodoSchema(t *testing.T) *schema.Schema {
	t.Helper()
	user := &schema.RootModel{
		ID:   1,
		Name: "User",
		Fields: []schema.Field{
			{Name: "id", Type: ir.Scalar(ir.TInt64)},
			{Name: "email", Type: ir.Scalar(ir.TString)},
			{Name: "name", Type: ir.Scalar(ir.TString)},
		},
		PrimaryKey: schema.PrimaryKey{FieldIndices: []int{0}},
		Indices: []schema.AppIndex{
			{Name: "users_email_idx", FieldIndices: []int{1}, Unique: true},
		},
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

// prepare runs Simplify then Lower, mirroring what the planner actually
// receives in the real pipeline.
func prepare(t *testing.T, stmt ir.Statement, s *schema.Schema) ir.Statement {
	t.Helper()
	out, err := simplify.Simplify(stmt, s)
	require.NoError(t, err)
	out, err = lower.Lower(out, s)
	require.NoError(t, err)
	return out
}

func fullCap() driver.Capability {
	return driver.Capability{ORInIndex: true, CompositeKey: true, ReturningFromMutation: true}
}

func TestPlanSelectByPrimaryKeyProducesGetByKey(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(42))),
		Returning: ir.Returning{Star: true},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpGetByKey, g.Nodes[0].Op)
	assert.Equal(t, "users", g.Nodes[0].Table)
	assert.True(t, g.Nodes[0].Index.PrimaryKey)
}

func TestPlanSelectBySecondaryIndexProducesFindThenGet(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 1), ir.Lit(ir.StringValue("a@example.com"))),
		Returning: ir.Returning{Star: true},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, OpFindPkByIndex, g.Nodes[0].Op)
	assert.False(t, g.Nodes[0].Index.PrimaryKey)
	assert.Equal(t, OpGetByKey, g.Nodes[1].Op)
	assert.True(t, g.Nodes[1].Index.PrimaryKey)
	assert.Equal(t, 1, g.Nodes[0].UseCount)
}

func TestPlanSelectWithNoCoveringIndexFallsBackToExecStatement(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 2), ir.Lit(ir.StringValue("alice"))),
		Returning: ir.Returning{Star: true},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpExecStatement, g.Nodes[0].Op)
}

func TestPlanSelectRewritesOrWhenDriverLacksORInIndex(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source: ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter: ir.OrOf(
			ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
			ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(2))),
		),
		Returning: ir.Returning{Star: true},
	}}
	stmt := prepare(t, q, s)

	noOr := driver.Capability{CompositeKey: true, ReturningFromMutation: true}
	g, err := New(s, noOr).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpGetByKey, g.Nodes[0].Op)
	any, ok := g.Nodes[0].Keys.(*ir.Any)
	require.True(t, ok, "expected OR-rewrite to produce Any(Map(...)) keys")
	assert.False(t, ir.ContainsOr(any))
}

func TestPlanSelectWithORCapabilityKeepsKeyListForm(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source: ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter: ir.OrOf(
			ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
			ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(2))),
		),
		Returning: ir.Returning{Star: true},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpGetByKey, g.Nodes[0].Op)
	list, ok := g.Nodes[0].Keys.(*ir.List)
	require.True(t, ok, "a driver with ORInIndex should get the plain key list, not the Any(Map) rewrite")
	assert.Len(t, list.Elements, 2)
}

func TestPlanSelectReturningIdentityElidesProjectNode(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Returning: ir.Returning{Expression: ir.Field(0, 1)},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)
	for _, n := range g.Nodes {
		assert.NotEqual(t, OpProject, n.Op, "identity returning shape must not emit a Project node")
	}
}

func TestPlanUpdateByPrimaryKeyProducesUpdateByKey(t *testing.T) {
	s := buildUserTodoSchema(t)
	upd := &ir.Update{
		Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Filter:      ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Assignments: []ir.Assignment{{TargetKind: ir.AssignField, FieldIndex: 2, Op: ir.AssignSet, Value: ir.Lit(ir.StringValue("bob"))}},
	}
	stmt := prepare(t, upd, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpUpdateByKey, g.Nodes[0].Op)
	assert.True(t, g.Nodes[0].Index.PrimaryKey)
}

func TestPlanUpdateWithoutCoveringIndexDiscoversThenUpdates(t *testing.T) {
	s := buildUserTodoSchema(t)
	upd := &ir.Update{
		Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Filter:      ir.Eq(ir.Field(0, 2), ir.Lit(ir.StringValue("alice"))),
		Assignments: []ir.Assignment{{TargetKind: ir.AssignField, FieldIndex: 2, Op: ir.AssignSet, Value: ir.Lit(ir.StringValue("bob"))}},
	}
	stmt := prepare(t, upd, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, OpFindPkByIndex, g.Nodes[0].Op)
	assert.Equal(t, OpUpdateByKey, g.Nodes[1].Op)
	assert.Equal(t, []int{g.Nodes[0].OutputVar}, g.Nodes[1].Inputs)
}

func TestPlanUpdateWithConditionUsesReadModifyWrite(t *testing.T) {
	s := buildUserTodoSchema(t)
	upd := &ir.Update{
		Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Filter:      ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Condition:   ir.Eq(ir.Field(0, 2), ir.Lit(ir.StringValue("alice"))),
		Assignments: []ir.Assignment{{TargetKind: ir.AssignField, FieldIndex: 2, Op: ir.AssignSet, Value: ir.Lit(ir.StringValue("bob"))}},
	}
	stmt := prepare(t, upd, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpReadModifyWrite, g.Nodes[0].Op)
}

func TestPlanDeleteByPrimaryKeyProducesDeleteByKey(t *testing.T) {
	s := buildUserTodoSchema(t)
	del := &ir.Delete{
		Source: &ir.Select{Source: ir.Source{Kind: ir.SourceModel, Name: "User"}},
		Filter: ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
	}
	stmt := prepare(t, del, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpDeleteByKey, g.Nodes[0].Op)
}

// buildPartitionedSchema models a document/KV layout: Note rows are
// addressed by a composite key whose first column routes to a partition
// and whose second orders rows within it.
func buildPartitionedSchema(t *testing.T) *schema.Schema {
	t.Helper()
	note := &schema.RootModel{
		ID:   1,
		Name: "Note",
		Fields: []schema.Field{
			{Name: "userId", Type: ir.Scalar(ir.TString)},
			{Name: "id", Type: ir.Scalar(ir.TInt64)},
			{Name: "title", Type: ir.Scalar(ir.TString)},
		},
		PrimaryKey: schema.PrimaryKey{FieldIndices: []int{0, 1}},
	}
	s, err := schema.NewBuilder().AddModel(note).Build()
	require.NoError(t, err)
	return s
}

func kvCap() driver.Capability {
	return driver.Capability{CompositeKey: true, PartitionKeyStorage: true}
}

func TestPlanSelectByPartitionKeyProducesQueryPk(t *testing.T) {
	s := buildPartitionedSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "Note"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.StringValue("alice"))),
		Returning: ir.Returning{Star: true},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, kvCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpQueryPk, g.Nodes[0].Op)
	assert.True(t, g.Nodes[0].Index.PrimaryKey)
	keys, ok := g.Nodes[0].Keys.(*ir.List)
	require.True(t, ok)
	assert.Len(t, keys.Elements, 1)
}

func TestPlanPartitionScopedUpdateDiscoversKeysThenUpdates(t *testing.T) {
	s := buildPartitionedSchema(t)
	upd := &ir.Update{
		Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: "Note"},
		Filter:      ir.Eq(ir.Field(0, 0), ir.Lit(ir.StringValue("alice"))),
		Assignments: []ir.Assignment{{TargetKind: ir.AssignField, FieldIndex: 2, Op: ir.AssignSet, Value: ir.Lit(ir.StringValue("x"))}},
	}
	stmt := prepare(t, upd, s)

	g, err := New(s, kvCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2, "partition-scoped update is exactly two driver calls: discovery then keyed update")
	scan := g.Nodes[0]
	assert.Equal(t, OpQueryPk, scan.Op)
	require.NotNil(t, scan.Returning)
	rec, ok := scan.Returning.Expression.(*ir.Record)
	require.True(t, ok)
	assert.Len(t, rec.Elements, 2, "discovery scan returns both primary-key columns")

	mut := g.Nodes[1]
	assert.Equal(t, OpUpdateByKey, mut.Op)
	assert.Equal(t, []int{scan.OutputVar}, mut.Inputs)
	require.Len(t, mut.Assignments, 1)
	assert.Equal(t, "title", mut.Assignments[0].Column)
}

func TestPlanPartitionScopedDeleteDiscoversKeysThenDeletes(t *testing.T) {
	s := buildPartitionedSchema(t)
	del := &ir.Delete{
		Source: &ir.Select{Source: ir.Source{Kind: ir.SourceModel, Name: "Note"}},
		Filter: ir.Eq(ir.Field(0, 0), ir.Lit(ir.StringValue("alice"))),
	}
	stmt := prepare(t, del, s)

	g, err := New(s, kvCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, OpQueryPk, g.Nodes[0].Op)
	assert.Equal(t, OpDeleteByKey, g.Nodes[1].Op)
}

func TestPlanBatchEmitsSingleBatchWriteForMultipleInserts(t *testing.T) {
	s := buildUserTodoSchema(t)
	mk := func(id int64) ir.Statement {
		ins := &ir.Insert{
			Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
			Source: &ir.Values{Rows: []ir.Expr{&ir.Record{Elements: []ir.Expr{
				ir.Lit(ir.Int64Value(id)), ir.Lit(ir.StringValue("e")), ir.Lit(ir.StringValue("n")),
			}}}},
		}
		return prepare(t, ins, s)
	}

	g, err := New(s, fullCap()).PlanBatch([]ir.Statement{mk(1), mk(2)})
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpBatchWrite, g.Nodes[0].Op)
	assert.Len(t, g.Nodes[0].Statements, 2)
}

func TestPlanBatchWithSingleStatementStaysIndividual(t *testing.T) {
	s := buildUserTodoSchema(t)
	ins := &ir.Insert{
		Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Source: &ir.Values{Rows: []ir.Expr{&ir.Record{Elements: []ir.Expr{
			ir.Lit(ir.Int64Value(1)), ir.Lit(ir.StringValue("e")), ir.Lit(ir.StringValue("n")),
		}}}},
	}
	g, err := New(s, fullCap()).PlanBatch([]ir.Statement{prepare(t, ins, s)})
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpExecStatement, g.Nodes[0].Op)
}

func TestPlanAggregateReturningGoesStraightToBackend(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Returning: ir.Returning{Expression: &ir.Aggregate{Fn: ir.AggCount}},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, OpExecStatement, g.Nodes[0].Op)
}

func TestPlanSelectWithIncludeProducesNestedMerge(t *testing.T) {
	s := buildUserTodoSchema(t)
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Returning: ir.Returning{Star: true},
		Includes:  []ir.IncludeSpec{{Path: "todos"}},
	}}
	stmt := prepare(t, q, s)

	g, err := New(s, fullCap()).Plan(stmt)
	require.NoError(t, err)

	last := g.Nodes[len(g.Nodes)-1]
	assert.Equal(t, OpNestedMerge, last.Op)
	require.Len(t, last.NestedMerge.Root.Nested, 1)
	assert.False(t, last.NestedMerge.Root.Nested[0].Single)
	assert.NotNil(t, last.NestedMerge.Root.Nested[0].Qualification)
}
