package exec

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/lower"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/plan"
	"github.com/latticeorm/lattice/schema"
	"github.com/latticeorm/lattice/simplify"
)

// fakeDriver is a minimal in-memory backend fixture exercising the
// Operation shapes the planner produces, instead of standing up a real
// database in unit tests.
type fakeDriver struct {
	mu     sync.Mutex
	cap    driver.Capability
	db     *schema.DbSchema
	tables map[string][]ir.Value // table name -> rows (Record matching Table.Columns order)
	nextID int64
	kinds  []driver.OperationKind // every Exec call, in order
}

func newFakeDriver(db *schema.DbSchema, cap driver.Capability) *fakeDriver {
	return &fakeDriver{cap: cap, db: db, tables: make(map[string][]ir.Value), nextID: 1}
}

func (d *fakeDriver) Capability() driver.Capability { return d.cap }
func (d *fakeDriver) RegisterSchema(ctx context.Context, s *schema.Schema) error { return nil }
func (d *fakeDriver) ResetDB(ctx context.Context) error                         { d.tables = make(map[string][]ir.Value); return nil }
func (d *fakeDriver) Close() error                                              { return nil }
func (d *fakeDriver) Begin(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) { return nil, ormerr.New(ormerr.UnsupportedFeature, "fakeDriver: no transactions") }

func (d *fakeDriver) indexColumnPositions(table string, idx *schema.DbIndex) ([]int, error) {
	t, err := d.db.Table(table)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(idx.Columns))
	for i, c := range idx.Columns {
		pos, err := columnPosition(t, c.Column)
		if err != nil {
			return nil, err
		}
		out[i] = pos
	}
	return out, nil
}

func columnPosition(t *schema.Table, name string) (int, error) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i, nil
		}
	}
	return 0, ormerr.Bugf("fakeDriver: table %s has no column %q", t.Name, name)
}

func keyOf(row ir.Value, positions []int) ir.Value {
	if len(positions) == 1 {
		return row.Fields[positions[0]]
	}
	fields := make([]ir.Value, len(positions))
	for i, p := range positions {
		fields[i] = row.Fields[p]
	}
	return ir.RecordValue(fields...)
}

func (d *fakeDriver) matchRows(table string, idx *schema.DbIndex, keys []ir.Value) ([]ir.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows := d.tables[table]
	if idx == nil || keys == nil {
		return append([]ir.Value(nil), rows...), nil
	}
	positions, err := d.indexColumnPositions(table, idx)
	if err != nil {
		return nil, err
	}
	var out []ir.Value
	for _, row := range rows {
		k := keyOf(row, positions)
		for _, want := range keys {
			if k.Equal(want) {
				out = append(out, row)
				break
			}
		}
	}
	return out, nil
}

// matchPartition matches rows on just the partition-scoped columns of
// idx, the way a partition scan addresses a key range rather than one
// full key.
func (d *fakeDriver) matchPartition(table string, idx *schema.DbIndex, keys []ir.Value) ([]ir.Value, error) {
	if idx == nil || keys == nil {
		return d.matchRows(table, idx, keys)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.db.Table(table)
	if err != nil {
		return nil, err
	}
	var positions []int
	for _, c := range idx.Columns {
		if c.Scope != schema.ScopePartition {
			continue
		}
		pos, err := columnPosition(t, c.Column)
		if err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	var out []ir.Value
	for _, row := range d.tables[table] {
		k := keyOf(row, positions)
		for _, want := range keys {
			if k.Equal(want) {
				out = append(out, row)
				break
			}
		}
	}
	return out, nil
}

// projectReturning narrows full rows to the column subset a discovery
// scan's returning names.
func (d *fakeDriver) projectReturning(table string, rows []ir.Value, ret *ir.Returning) ([]ir.Value, error) {
	t, err := d.db.Table(table)
	if err != nil {
		return nil, err
	}
	exprs := []ir.Expr{ret.Expression}
	if rec, ok := ret.Expression.(*ir.Record); ok {
		exprs = rec.Elements
	}
	positions := make([]int, len(exprs))
	for i, e := range exprs {
		ref, ok := e.(*ir.Reference)
		if !ok || ref.Kind != ir.RefColumn {
			return nil, ormerr.Bugf("fakeDriver: returning expression %T is not a column", e)
		}
		pos, err := columnPosition(t, ref.Column)
		if err != nil {
			return nil, err
		}
		positions[i] = pos
	}
	out := make([]ir.Value, len(rows))
	for i, row := range rows {
		out[i] = keyOf(row, positions)
	}
	return out, nil
}

func (d *fakeDriver) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	d.mu.Lock()
	d.kinds = append(d.kinds, op.Kind)
	d.mu.Unlock()
	ev := NewEvaluator(d.db)
	switch op.Kind {
	case driver.OpGetByKey, driver.OpQueryPk, driver.OpFindPkByIndex:
		var rows []ir.Value
		var err error
		if op.Kind == driver.OpQueryPk {
			rows, err = d.matchPartition(op.Table, op.Index, op.Keys)
		} else {
			rows, err = d.matchRows(op.Table, op.Index, op.Keys)
		}
		if err != nil {
			return driver.Response{}, err
		}
		if op.Filter != nil {
			rows, err = filterRows(ev, rows, op.Filter)
			if err != nil {
				return driver.Response{}, err
			}
		}
		if op.Kind == driver.OpQueryPk && op.Returning != nil && !op.Returning.Star {
			projected, err := d.projectReturning(op.Table, rows, op.Returning)
			if err != nil {
				return driver.Response{}, err
			}
			return driver.Response{Body: driver.StreamRows(ir.NewStream(projected))}, nil
		}
		if op.Kind == driver.OpFindPkByIndex {
			t, err := d.db.Table(op.Table)
			if err != nil {
				return driver.Response{}, err
			}
			pk, err := t.PrimaryKeyIndex()
			if err != nil {
				return driver.Response{}, err
			}
			positions, err := d.indexColumnPositions(op.Table, pk)
			if err != nil {
				return driver.Response{}, err
			}
			keys := make([]ir.Value, len(rows))
			for i, r := range rows {
				keys[i] = keyOf(r, positions)
			}
			return driver.Response{Body: driver.StreamRows(ir.NewStream(keys))}, nil
		}
		return driver.Response{Body: driver.StreamRows(ir.NewStream(rows))}, nil

	case driver.OpUpdateByKey:
		rows, err := d.matchRows(op.Table, op.Index, op.Keys)
		if err != nil {
			return driver.Response{}, err
		}
		if op.Filter != nil {
			rows, err = filterRows(ev, rows, op.Filter)
			if err != nil {
				return driver.Response{}, err
			}
		}
		d.mu.Lock()
		t, err := d.db.Table(op.Table)
		if err != nil {
			d.mu.Unlock()
			return driver.Response{}, err
		}
		updated := make([]ir.Value, 0, len(rows))
		for _, row := range rows {
			if op.Condition != nil {
				ok, err := ev.Eval(op.Condition, []ir.Value{row}, nil)
				if err != nil {
					d.mu.Unlock()
					return driver.Response{}, err
				}
				if ok.Kind != ir.ValueBool || !ok.Bool {
					d.mu.Unlock()
					return driver.Response{}, ormerr.New(ormerr.ConstraintViolation, "optimistic condition failed")
				}
			}
			newRow := applyAssignments(ev, t, row, op.Assignments)
			replaceRow(d.tables, op.Table, row, newRow, t, ev)
			updated = append(updated, newRow)
		}
		d.mu.Unlock()
		if op.Returning != nil {
			return driver.Response{Body: driver.StreamRows(ir.NewStream(updated))}, nil
		}
		return driver.Response{Body: driver.CountRows(int64(len(updated)))}, nil

	case driver.OpDeleteByKey:
		rows, err := d.matchRows(op.Table, op.Index, op.Keys)
		if err != nil {
			return driver.Response{}, err
		}
		if op.Filter != nil {
			rows, err = filterRows(ev, rows, op.Filter)
			if err != nil {
				return driver.Response{}, err
			}
		}
		d.mu.Lock()
		kept := d.tables[op.Table][:0:0]
		removed := make([]ir.Value, 0, len(rows))
		for _, row := range d.tables[op.Table] {
			match := false
			for _, r := range rows {
				if r.Equal(row) {
					match = true
					break
				}
			}
			if match {
				removed = append(removed, row)
			} else {
				kept = append(kept, row)
			}
		}
		d.tables[op.Table] = kept
		d.mu.Unlock()
		if op.Returning != nil {
			return driver.Response{Body: driver.StreamRows(ir.NewStream(removed))}, nil
		}
		return driver.Response{Body: driver.CountRows(int64(len(removed)))}, nil

	case driver.OpInsert:
		return d.execInsert(ev, op.Insert)

	case driver.OpQuerySql:
		q, ok := op.Statement.(*ir.Query)
		if !ok {
			return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "fakeDriver: statement %T", op.Statement)
		}
		sel, ok := q.Body.(*ir.Select)
		if !ok {
			return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "fakeDriver: query body %T", q.Body)
		}
		rows, err := d.matchRows(sel.Source.Name, nil, nil)
		if err == nil && sel.Filter != nil {
			rows, err = filterRows(ev, rows, sel.Filter)
		}
		if err != nil {
			return driver.Response{}, err
		}
		return driver.Response{Body: driver.StreamRows(ir.NewStream(rows))}, nil

	default:
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "fakeDriver: unsupported operation kind %v", op.Kind)
	}
}

func filterRows(ev *Evaluator, rows []ir.Value, filter ir.Expr) ([]ir.Value, error) {
	out := rows[:0:0]
	for _, row := range rows {
		v, err := ev.Eval(filter, []ir.Value{row}, nil)
		if err != nil {
			return nil, err
		}
		if v.Kind == ir.ValueBool && v.Bool {
			out = append(out, row)
		}
	}
	return out, nil
}

func applyAssignments(ev *Evaluator, t *schema.Table, row ir.Value, assigns []ir.Assignment) ir.Value {
	fields := append([]ir.Value(nil), row.Fields...)
	for _, a := range assigns {
		pos, err := columnPosition(t, a.Column)
		if err != nil {
			continue
		}
		v, err := ev.Eval(a.Value, []ir.Value{row}, nil)
		if err != nil {
			continue
		}
		fields[pos] = v
	}
	return ir.RecordValue(fields...)
}

func replaceRow(tables map[string][]ir.Value, table string, old, newRow ir.Value, t *schema.Table, ev *Evaluator) {
	rows := tables[table]
	for i, r := range rows {
		if r.Equal(old) {
			rows[i] = newRow
			return
		}
	}
}

func (d *fakeDriver) execInsert(ev *Evaluator, ins *ir.Insert) (driver.Response, error) {
	table := ins.Target.Name
	t, err := d.db.Table(table)
	if err != nil {
		return driver.Response{}, err
	}
	values, ok := ins.Source.(*ir.Values)
	if !ok {
		return driver.Response{}, ormerr.Bugf("fakeDriver: insert source is not Values")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var inserted []ir.Value
	for _, rowExpr := range values.Rows {
		v, err := ev.Eval(rowExpr, nil, nil)
		if err != nil {
			return driver.Response{}, err
		}
		if v.Kind != ir.ValueRecord {
			return driver.Response{}, ormerr.Bugf("fakeDriver: insert row is not a record")
		}
		fields := append([]ir.Value(nil), v.Fields...)
		for i, c := range t.Columns {
			if c.AutoIncrement && fields[i].IsNull() {
				fields[i] = ir.Int64Value(d.nextID)
				d.nextID++
			}
		}
		row := ir.RecordValue(fields...)
		d.tables[table] = append(d.tables[table], row)
		inserted = append(inserted, row)
	}
	if ins.Returning != nil {
		return driver.Response{Body: driver.StreamRows(ir.NewStream(inserted))}, nil
	}
	return driver.Response{Body: driver.CountRows(int64(len(inserted)))}, nil
}

// --- fixtures shared with plan's own tests, rebuilt here to keep exec's
// test package independent ---

func buildUserTodoSchema(t *testing.T) *schema.Schema {
	t.Helper()
	user := &schema.RootModel{
		ID:   1,
		Name: "User",
		Fields: []schema.Field{
			{Name: "id", Type: ir.Scalar(ir.TInt64)},
			{Name: "email", Type: ir.Scalar(ir.TString)},
			{Name: "name", Type: ir.Scalar(ir.TString)},
			{Name: "age", Type: ir.Scalar(ir.TInt64)},
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

func TestBasicCRUDRoundTrip(t *testing.T) {
	s := buildUserTodoSchema(t)
	cap := driver.Capability{ORInIndex: true, CompositeKey: true, ReturningFromMutation: true}
	d := newFakeDriver(s.DbSchema(), cap)
	ctx := context.Background()

	// Create.
	insStmt := &ir.Insert{
		Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Source: &ir.Values{Rows: []ir.Expr{&ir.Record{Elements: []ir.Expr{
			ir.Lit(ir.Int64Value(1)), ir.Lit(ir.StringValue("alice@example.com")), ir.Lit(ir.StringValue("Alice")), ir.Lit(ir.Int64Value(30)),
		}}}},
	}
	out, err := simplify.Simplify(insStmt, s)
	require.NoError(t, err)
	out, err = lower.Lower(out, s)
	require.NoError(t, err)
	g, err := plan.New(s, cap).Plan(out)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, plan.OpExecStatement, g.Nodes[0].Op)

	ex := New(s, d)
	stream, err := ex.Run(ctx, g)
	require.NoError(t, err)
	rows, err := stream.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].Int) // Rows::Count(1)

	require.Len(t, d.tables["users"], 1)

	// Get by id.
	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Returning: ir.Returning{Star: true},
	}}
	out, err = simplify.Simplify(q, s)
	require.NoError(t, err)
	out, err = lower.Lower(out, s)
	require.NoError(t, err)
	g, err = plan.New(s, cap).Plan(out)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, plan.OpGetByKey, g.Nodes[0].Op)

	stream, err = New(s, d).Run(ctx, g)
	require.NoError(t, err)
	rows, err = stream.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].Fields[2].Str)

	// Update age.
	upd := &ir.Update{
		Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
		Assignments: []ir.Assignment{{TargetKind: ir.AssignField, FieldIndex: 3, Op: ir.AssignSet, Value: ir.Lit(ir.Int64Value(31))}},
		Filter:      ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
	}
	out, err = simplify.Simplify(upd, s)
	require.NoError(t, err)
	out, err = lower.Lower(out, s)
	require.NoError(t, err)
	g, err = plan.New(s, cap).Plan(out)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, plan.OpUpdateByKey, g.Nodes[0].Op)

	stream, err = New(s, d).Run(ctx, g)
	require.NoError(t, err)
	_, err = stream.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(31), d.tables["users"][0].Fields[3].Int)

	// Delete.
	del := &ir.Delete{
		Source: &ir.Select{Source: ir.Source{Kind: ir.SourceModel, Name: "User"}, Returning: ir.Returning{Star: true}},
		Filter: ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
	}
	out, err = simplify.Simplify(del, s)
	require.NoError(t, err)
	out, err = lower.Lower(out, s)
	require.NoError(t, err)
	g, err = plan.New(s, cap).Plan(out)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, plan.OpDeleteByKey, g.Nodes[0].Op)

	stream, err = New(s, d).Run(ctx, g)
	require.NoError(t, err)
	_, err = stream.Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, d.tables["users"])
}

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

func TestPartitionScopedUpdateIsExactlyTwoDriverCalls(t *testing.T) {
	s := buildPartitionedSchema(t)
	cap := driver.Capability{CompositeKey: true, PartitionKeyStorage: true}
	d := newFakeDriver(s.DbSchema(), cap)
	ctx := context.Background()

	d.tables["notes"] = []ir.Value{
		ir.RecordValue(ir.StringValue("alice"), ir.Int64Value(1), ir.StringValue("old")),
		ir.RecordValue(ir.StringValue("alice"), ir.Int64Value(2), ir.StringValue("old")),
		ir.RecordValue(ir.StringValue("bob"), ir.Int64Value(3), ir.StringValue("old")),
	}

	upd := &ir.Update{
		Target:      ir.MutationTarget{Kind: ir.TargetModel, Name: "Note"},
		Filter:      ir.Eq(ir.Field(0, 0), ir.Lit(ir.StringValue("alice"))),
		Assignments: []ir.Assignment{{TargetKind: ir.AssignField, FieldIndex: 2, Op: ir.AssignSet, Value: ir.Lit(ir.StringValue("x"))}},
	}
	out, err := simplify.Simplify(upd, s)
	require.NoError(t, err)
	out, err = lower.Lower(out, s)
	require.NoError(t, err)
	g, err := plan.New(s, cap).Plan(out)
	require.NoError(t, err)

	stream, err := New(s, d).Run(ctx, g)
	require.NoError(t, err)
	_, err = stream.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, []driver.OperationKind{driver.OpQueryPk, driver.OpUpdateByKey}, d.kinds)
	assert.Equal(t, "x", d.tables["notes"][0].Fields[2].Str)
	assert.Equal(t, "x", d.tables["notes"][1].Fields[2].Str)
	assert.Equal(t, "old", d.tables["notes"][2].Fields[2].Str, "rows outside the partition stay untouched")
}

func TestBatchWriteIssuesEachStatementAndSumsCounts(t *testing.T) {
	s := buildUserTodoSchema(t)
	cap := driver.Capability{ORInIndex: true, CompositeKey: true, ReturningFromMutation: true}
	d := newFakeDriver(s.DbSchema(), cap)
	ctx := context.Background()

	mk := func(id int64) ir.Statement {
		ins := &ir.Insert{
			Target: ir.MutationTarget{Kind: ir.TargetModel, Name: "User"},
			Source: &ir.Values{Rows: []ir.Expr{&ir.Record{Elements: []ir.Expr{
				ir.Lit(ir.Int64Value(id)), ir.Lit(ir.StringValue("e")), ir.Lit(ir.StringValue("n")), ir.Lit(ir.Int64Value(20)),
			}}}},
		}
		out, err := simplify.Simplify(ins, s)
		require.NoError(t, err)
		out, err = lower.Lower(out, s)
		require.NoError(t, err)
		return out
	}

	g, err := plan.New(s, cap).PlanBatch([]ir.Statement{mk(1), mk(2)})
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	require.Equal(t, plan.OpBatchWrite, g.Nodes[0].Op)

	stream, err := New(s, d).Run(ctx, g)
	require.NoError(t, err)
	rows, err := stream.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Int)
	assert.Len(t, d.tables["users"], 2)
}

func TestEvaluatorVariantCheckMatchesStoredEnums(t *testing.T) {
	contact := &schema.RootModel{
		ID:   1,
		Name: "Contact",
		Fields: []schema.Field{
			{Name: "id", Type: ir.Scalar(ir.TInt64)},
			{Name: "info", Type: ir.EnumType("ContactInfo")},
		},
		PrimaryKey: schema.PrimaryKey{FieldIndices: []int{0}},
	}
	s, err := schema.NewBuilder().AddModel(contact).Build()
	require.NoError(t, err)

	rows := []ir.Value{
		ir.RecordValue(ir.Int64Value(1), ir.EnumPayloadValue(1, ir.StringValue("a@example.com"))),
		ir.RecordValue(ir.Int64Value(2), ir.EnumPayloadValue(2, ir.StringValue("555-1234"))),
		ir.RecordValue(ir.Int64Value(3), ir.EnumPayloadValue(1, ir.StringValue("c@example.com"))),
	}

	ev := NewEvaluator(s.DbSchema())
	pred := ir.IsVariant(ir.Col(0, "contacts", "info"), 1)

	var matched []ir.Value
	for _, row := range rows {
		v, err := ev.Eval(pred, []ir.Value{row}, nil)
		require.NoError(t, err)
		if v.Bool {
			matched = append(matched, row)
		}
	}
	require.Len(t, matched, 2, "variant-only filtering keeps every row of that variant regardless of payload")
	assert.Equal(t, int64(1), matched[0].Fields[0].Int)
	assert.Equal(t, int64(3), matched[1].Fields[0].Int)
}

func TestHasManyIncludeProducesMergedRows(t *testing.T) {
	s := buildUserTodoSchema(t)
	cap := driver.Capability{ORInIndex: true, CompositeKey: true, ReturningFromMutation: true}
	d := newFakeDriver(s.DbSchema(), cap)
	ctx := context.Background()

	d.tables["users"] = []ir.Value{
		ir.RecordValue(ir.Int64Value(1), ir.StringValue("a@example.com"), ir.StringValue("Alice"), ir.Int64Value(30)),
	}
	d.tables["todos"] = []ir.Value{
		ir.RecordValue(ir.Int64Value(10), ir.Int64Value(1), ir.StringValue("buy milk")),
		ir.RecordValue(ir.Int64Value(11), ir.Int64Value(1), ir.StringValue("walk dog")),
		ir.RecordValue(ir.Int64Value(12), ir.Int64Value(2), ir.StringValue("someone else's todo")),
	}

	q := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: "User"},
		Filter:    ir.Eq(ir.Field(0, 0), ir.Lit(ir.Int64Value(1))),
		Returning: ir.Returning{Star: true},
		Includes:  []ir.IncludeSpec{{Path: "todos"}},
	}}
	out, err := simplify.Simplify(q, s)
	require.NoError(t, err)
	out, err = lower.Lower(out, s)
	require.NoError(t, err)
	g, err := plan.New(s, cap).Plan(out)
	require.NoError(t, err)

	ex := New(s, d)
	stream, err := ex.Run(ctx, g)
	require.NoError(t, err)
	rows, err := stream.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	user := rows[0]
	require.Equal(t, ir.ValueRecord, user.Kind)
	todosField := user.Fields[len(user.Fields)-1]
	require.Equal(t, ir.ValueList, todosField.Kind)
	assert.Len(t, todosField.Fields, 2)
}
