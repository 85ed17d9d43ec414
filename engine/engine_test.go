package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// recordingDriver captures every Operation the engine submits and
// answers from a canned response queue, so tests assert on the exact
// driver-call sequence a statement produces.
type recordingDriver struct {
	cap       driver.Capability
	ops       []driver.Operation
	responses []driver.Response
	began     int
	committed int
	rolled    int
}

func (d *recordingDriver) Capability() driver.Capability                          { return d.cap }
func (d *recordingDriver) RegisterSchema(ctx context.Context, s *schema.Schema) error { return nil }
func (d *recordingDriver) ResetDB(ctx context.Context) error                      { return nil }
func (d *recordingDriver) Close() error                                           { return nil }

func (d *recordingDriver) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	d.ops = append(d.ops, op)
	if len(d.responses) == 0 {
		return driver.Response{Body: driver.CountRows(1)}, nil
	}
	resp := d.responses[0]
	d.responses = d.responses[1:]
	return resp, nil
}

func (d *recordingDriver) Begin(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	d.began++
	return &recordingTx{d: d}, nil
}

type recordingTx struct {
	d *recordingDriver
}

func (t *recordingTx) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	return t.d.Exec(ctx, op)
}
func (t *recordingTx) Commit(ctx context.Context) error   { t.d.committed++; return nil }
func (t *recordingTx) Rollback(ctx context.Context) error { t.d.rolled++; return nil }
func (t *recordingTx) Savepoint(ctx context.Context, name string) error {
	return ormerr.New(ormerr.UnsupportedFeature, "recordingTx: no savepoints")
}
func (t *recordingTx) ReleaseSavepoint(ctx context.Context, name string) error {
	return ormerr.New(ormerr.UnsupportedFeature, "recordingTx: no savepoints")
}
func (t *recordingTx) RollbackToSavepoint(ctx context.Context, name string) error {
	return ormerr.New(ormerr.UnsupportedFeature, "recordingTx: no savepoints")
}

func buildUserSchema(t *testing.T) *schema.Schema {
	t.Helper()
	user := &schema.RootModel{
		ID:   1,
		Name: "User",
		Fields: []schema.Field{
			{Name: "id", Type: ir.Scalar(ir.TInt64)},
			{Name: "name", Type: ir.Scalar(ir.TString)},
			{Name: "age", Type: ir.Scalar(ir.TInt64)},
		},
		PrimaryKey: schema.PrimaryKey{FieldIndices: []int{0}},
	}
	s, err := schema.NewBuilder().AddModel(user).Build()
	require.NoError(t, err)
	return s
}

func userInsert(id int64, name string) *ir.Insert {
	return &ir.Insert{
		Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Source: &ir.Values{Rows: []ir.Expr{&ir.Record{Elements: []ir.Expr{
			ir.Lit(ir.Int64Value(id)), ir.Lit(ir.StringValue(name)), ir.Lit(ir.Int64Value(30)),
		}}}},
	}
}

func TestExecuteRunsInsertThroughPipeline(t *testing.T) {
	s := buildUserSchema(t)
	d := &recordingDriver{cap: driver.Capability{ORInIndex: true, CompositeKey: true}}
	e := New(s, d)

	stream, err := e.Execute(context.Background(), userInsert(1, "Alice"))
	require.NoError(t, err)
	rows, err := stream.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Int)

	require.Len(t, d.ops, 1)
	assert.Equal(t, driver.OpInsert, d.ops[0].Kind)
	assert.Equal(t, ir.TargetTable, d.ops[0].Insert.Target.Kind)
	assert.Equal(t, "users", d.ops[0].Insert.Target.Name)
}

func TestExecuteManyCollapsesCompatibleInsertsToOneStatement(t *testing.T) {
	s := buildUserSchema(t)
	d := &recordingDriver{cap: driver.Capability{ORInIndex: true, CompositeKey: true}}
	e := New(s, d)

	_, err := e.ExecuteMany(context.Background(), []ir.Statement{
		userInsert(1, "Alice"),
		userInsert(2, "Bob"),
	})
	require.NoError(t, err)

	require.Len(t, d.ops, 1, "two compatible single-row inserts must collapse into one driver call")
	assert.Equal(t, driver.OpInsert, d.ops[0].Kind)
	values := d.ops[0].Insert.Source.(*ir.Values)
	assert.Len(t, values.Rows, 2)
}

func TestCreateManyCountsAcrossMergedInserts(t *testing.T) {
	s := buildUserSchema(t)
	d := &recordingDriver{
		cap:       driver.Capability{ORInIndex: true, CompositeKey: true},
		responses: []driver.Response{{Body: driver.CountRows(2)}},
	}
	e := New(s, d)

	n, err := e.CreateMany(context.Background(), []*ir.Insert{
		userInsert(1, "Alice"),
		userInsert(2, "Bob"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, d.ops, 1)
}

func TestCountSubmitsAggregateAndReadsScalar(t *testing.T) {
	s := buildUserSchema(t)
	d := &recordingDriver{
		cap:       driver.Capability{ORInIndex: true, CompositeKey: true},
		responses: []driver.Response{{Body: driver.StreamRows(ir.NewStream([]ir.Value{ir.Int64Value(3)}))}},
	}
	e := New(s, d)

	n, err := e.Count(context.Background(), "User", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.Len(t, d.ops, 1)
	require.Equal(t, driver.OpQuerySql, d.ops[0].Kind)
	q := d.ops[0].Statement.(*ir.Query)
	sel := q.Body.(*ir.Select)
	agg, ok := sel.Returning.Expression.(*ir.Aggregate)
	require.True(t, ok)
	assert.Equal(t, ir.AggCount, agg.Fn)
}

// buildLinkSchema pairs User with Todo through a has-many whose foreign
// key is nullable or required per the argument, the axis that decides
// whether unlinking clears the key or deletes the child.
func buildLinkSchema(t *testing.T, nullableFK bool) *schema.Schema {
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
			{Name: "userId", Type: ir.Scalar(ir.TInt64), Nullable: nullableFK},
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

func TestLinkWritesForeignKeyByChildKey(t *testing.T) {
	s := buildLinkSchema(t, true)
	d := &recordingDriver{cap: driver.Capability{ORInIndex: true, CompositeKey: true}}
	e := New(s, d)

	err := e.Link(context.Background(), "User", "todos", ir.Int64Value(1), ir.Int64Value(10))
	require.NoError(t, err)

	require.Len(t, d.ops, 1)
	op := d.ops[0]
	assert.Equal(t, driver.OpUpdateByKey, op.Kind)
	assert.Equal(t, []ir.Value{ir.Int64Value(10)}, op.Keys)
	require.Len(t, op.Assignments, 1)
	assert.Equal(t, "userId", op.Assignments[0].Column)
}

func TestUnlinkNullableClearsForeignKeyScopedToParent(t *testing.T) {
	s := buildLinkSchema(t, true)
	d := &recordingDriver{cap: driver.Capability{ORInIndex: true, CompositeKey: true}}
	e := New(s, d)

	err := e.Unlink(context.Background(), "User", "todos", ir.Int64Value(1), ir.Int64Value(10))
	require.NoError(t, err)

	require.Len(t, d.ops, 1)
	op := d.ops[0]
	assert.Equal(t, driver.OpUpdateByKey, op.Kind)
	require.NotNil(t, op.Filter, "unlink must stay scoped to children currently linked to this parent")
	require.Len(t, op.Assignments, 1)
	lit := op.Assignments[0].Value.(*ir.Literal)
	assert.True(t, lit.Value.IsNull())
}

func TestUnlinkReportsNotFoundForUnlinkedChild(t *testing.T) {
	s := buildLinkSchema(t, true)
	d := &recordingDriver{
		cap:       driver.Capability{ORInIndex: true, CompositeKey: true},
		responses: []driver.Response{{Body: driver.CountRows(0)}},
	}
	e := New(s, d)

	err := e.Unlink(context.Background(), "User", "todos", ir.Int64Value(1), ir.Int64Value(99))
	require.Error(t, err)
	assert.True(t, ormerr.Is(err, ormerr.NotFound))
}

func TestUnlinkRequiredForeignKeyDeletesChild(t *testing.T) {
	s := buildLinkSchema(t, false)
	d := &recordingDriver{cap: driver.Capability{ORInIndex: true, CompositeKey: true}}
	e := New(s, d)

	err := e.Unlink(context.Background(), "User", "todos", ir.Int64Value(1), ir.Int64Value(10))
	require.NoError(t, err)

	require.Len(t, d.ops, 1)
	assert.Equal(t, driver.OpDeleteByKey, d.ops[0].Kind)
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	s := buildUserSchema(t)
	d := &recordingDriver{cap: driver.Capability{ORInIndex: true, CompositeKey: true}}
	e := New(s, d)

	err := e.Transaction(context.Background(), driver.TxOptions{}, func(txe *Engine) error {
		_, err := txe.Execute(context.Background(), userInsert(1, "Alice"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, d.began)
	assert.Equal(t, 1, d.committed)
	assert.Equal(t, 0, d.rolled)
	require.Len(t, d.ops, 1)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := buildUserSchema(t)
	d := &recordingDriver{cap: driver.Capability{ORInIndex: true, CompositeKey: true}}
	e := New(s, d)

	boom := ormerr.New(ormerr.TransactionRollback, "caller asked to roll back")
	err := e.Transaction(context.Background(), driver.TxOptions{}, func(txe *Engine) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, d.rolled)
	assert.Equal(t, 0, d.committed)
}
