// Package sqlcore is the shared `database/sql`-backed driver.Driver
// implementation the relational backends (sqlite, mysql, postgresql)
// each wrap with their own sqltext.Dialect and connection-string
// handling: schema registration, operation dispatch, transaction
// pinning, and row scanning live here exactly once.
package sqlcore

import (
	"context"
	"database/sql"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/drivers/sqltext"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/logger"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// querier is the common subset of *sql.DB and *sql.Tx this package needs,
// so one execOn implementation serves both the pooled and pinned-to-
// transaction cases: a connection is pinned for the life of a
// transaction, and drawn from the pool per operation outside one.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DB is the pooled, not-currently-transacting driver.Driver.
type DB struct {
	conn    *sql.DB
	dialect sqltext.Dialect
	cap     driver.Capability
	schema  *schema.Schema
}

// New wraps an already-opened *sql.DB for dialect under cap. Backends
// call this from their own registry-registered factory after resolving
// the dialect-specific DSN and `sql.Open` driver name.
func New(conn *sql.DB, dialect sqltext.Dialect, cap driver.Capability) *DB {
	return &DB{conn: conn, dialect: dialect, cap: cap}
}

func (d *DB) Capability() driver.Capability { return d.cap }

func (d *DB) RegisterSchema(ctx context.Context, s *schema.Schema) error {
	d.schema = s
	for _, name := range s.ModelNames() {
		t, err := s.Table(name)
		if err != nil {
			continue // embedded models have no table of their own
		}
		t = applyStorageBounds(t, d.cap.Storage)
		if _, err := d.conn.ExecContext(ctx, sqltext.BuildCreateTable(d.dialect, t)); err != nil {
			return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: create table %s", t.Name)
		}
		for _, idx := range t.Indices {
			if stmt := sqltext.BuildCreateIndex(d.dialect, t, idx); stmt != "" {
				if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
					return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: create index %s", idx.Name)
				}
			}
		}
	}
	return nil
}

func (d *DB) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	return execOn(ctx, d.conn, d.dialect, d.schema, op)
}

// applyStorageBounds rewrites a table's column storage to fit the
// backend's declared bounds before DDL renders it: over-wide VARCHARs
// clamp to the backend maximum, and UUID/timestamp columns substitute
// the backend's declared storage when it has no native type for them.
func applyStorageBounds(t *schema.Table, bounds driver.StorageBounds) *schema.Table {
	zero := schema.StorageType{}
	if bounds.MaxVarchar == 0 && bounds.UUID == zero && bounds.Timestamp == zero {
		return t
	}
	adjusted := *t
	adjusted.Columns = append([]schema.Column(nil), t.Columns...)
	for i := range adjusted.Columns {
		st := &adjusted.Columns[i].Storage
		if bounds.MaxVarchar > 0 && st.Kind == schema.StoreVarchar && st.Length > bounds.MaxVarchar {
			st.Length = bounds.MaxVarchar
		}
		if bounds.UUID != zero && st.Kind == schema.StoreUUID {
			*st = bounds.UUID
		}
		if bounds.Timestamp != zero && st.Kind == schema.StoreTimestamp {
			*st = bounds.Timestamp
		}
	}
	return &adjusted
}

// ResetDB drops and recreates every table, test-only.
func (d *DB) ResetDB(ctx context.Context) error {
	if d.schema == nil {
		return ormerr.Bugf("sqlcore: ResetDB called before RegisterSchema")
	}
	for _, t := range d.schema.DbSchema().Tables {
		if _, err := d.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+d.dialect.Quote(t.Name)); err != nil {
			return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: drop table %s", t.Name)
		}
	}
	return d.RegisterSchema(ctx, d.schema)
}

func (d *DB) Begin(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	tx, err := d.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: isolationFor(opts.Isolation),
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: begin transaction")
	}
	return &Tx{tx: tx, dialect: d.dialect, schema: d.schema}, nil
}

func isolationFor(lvl driver.IsolationLevel) sql.IsolationLevel {
	switch lvl {
	case driver.IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case driver.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case driver.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case driver.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

func (d *DB) Close() error { return d.conn.Close() }

// Tx is a connection pinned to one active transaction.
type Tx struct {
	tx      *sql.Tx
	dialect sqltext.Dialect
	schema  *schema.Schema
}

func (t *Tx) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	return execOn(ctx, t.tx, t.dialect, t.schema, op)
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: commit")
	}
	return nil
}

// Rollback spawns no background work; a *sql.Tx's own Rollback already
// releases the pinned connection synchronously, so there is nothing to
// defer here.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: rollback")
	}
	return nil
}

// Savepoint/ReleaseSavepoint/RollbackToSavepoint issue the standard SQL
// nested-checkpoint statements; the syntax is identical across SQLite,
// MySQL, and PostgreSQL, so it lives here rather than in each dialect.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+t.dialect.Quote(name)); err != nil {
		return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: savepoint %s", name)
	}
	return nil
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+t.dialect.Quote(name)); err != nil {
		return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: release savepoint %s", name)
	}
	return nil
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+t.dialect.Quote(name)); err != nil {
		return ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: rollback to savepoint %s", name)
	}
	return nil
}

func execOn(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	switch op.Kind {
	case driver.OpGetByKey:
		return queryRows(ctx, q, d, s, op.Table, op.Index, op.Keys, op.Filter, nil)

	case driver.OpQueryPk:
		return queryRows(ctx, q, d, s, op.Table, op.Index, op.Keys, op.Filter, op.Returning)

	case driver.OpFindPkByIndex:
		return findKeys(ctx, q, d, s, op)

	case driver.OpDeleteByKey:
		return deleteByKey(ctx, q, d, s, op)

	case driver.OpUpdateByKey:
		return updateByKey(ctx, q, d, s, op)

	case driver.OpInsert:
		return insertStatement(ctx, q, d, s, op)

	case driver.OpQuerySql:
		return execStatement(ctx, q, d, s, op)

	case driver.OpTxControl:
		// Begin/Commit/Rollback are driven through Driver.Begin/Tx.Commit/
		// Tx.Rollback directly; a bare OpTxControl Operation reaching here
		// means an earlier pass tried to route transaction control through
		// the generic Exec path, which is a planner/executor bug.
		return driver.Response{}, ormerr.Bugf("sqlcore: OpTxControl must go through Driver.Begin/Tx.Commit/Tx.Rollback")

	default:
		return driver.Response{}, ormerr.Bugf("sqlcore: unhandled operation kind %v", op.Kind)
	}
}

func tableOf(s *schema.Schema, name string) (*schema.Table, error) {
	return s.DbSchema().Table(name)
}

func queryRows(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, tableName string, idx *schema.DbIndex, keys []ir.Value, filter ir.Expr, returning *ir.Returning) (driver.Response, error) {
	t, err := tableOf(s, tableName)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "sqlcore: unknown table %q", tableName)
	}
	c := sqltext.NewCompiler(d)
	cols := t.Columns
	var sqlText string
	if returning != nil && !returning.Star && returning.Expression != nil {
		// A column-subset returning (e.g. a partition scan discovering
		// primary keys) selects just those columns.
		sub, _, rerr := returningColumns(t, returning)
		if rerr != nil {
			return driver.Response{}, rerr
		}
		names := make([]string, len(sub))
		for i := range sub {
			names[i] = sub[i].Name
		}
		cols = sub
		sqlText, err = sqltext.BuildSelectColumns(c, t, names, idx, keysOrNil(idx, keys), filter)
	} else {
		sqlText, err = c.BuildSelect(t, idx, keysOrNil(idx, keys), filter)
	}
	if err != nil {
		return driver.Response{}, err
	}
	logger.Debug("sqlcore: %s args=%v", sqlText, c.Args())
	rows, err := q.QueryContext(ctx, sqlText, c.Args()...)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: query %s", tableName)
	}
	stream, err := scanToStream(rows, cols)
	if err != nil {
		return driver.Response{}, err
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

// keysOrNil lets a keyless GetByKey-shaped scan (e.g. the find-discovered-
// keys path) still fall through to a filter-only WHERE clause.
func keysOrNil(idx *schema.DbIndex, keys []ir.Value) []ir.Value {
	if idx == nil {
		return nil
	}
	return keys
}

func findKeys(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	t, err := tableOf(s, op.Table)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "sqlcore: unknown table %q", op.Table)
	}
	pk, err := t.PrimaryKeyIndex()
	if err != nil {
		return driver.Response{}, err
	}
	c := sqltext.NewCompiler(d)
	sqlText, err := sqltext.BuildSelectColumns(c, t, pk.ColumnNames(), op.Index, op.Keys, op.Filter)
	if err != nil {
		return driver.Response{}, err
	}
	logger.Debug("sqlcore: %s args=%v", sqlText, c.Args())
	rows, err := q.QueryContext(ctx, sqlText, c.Args()...)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: find keys on %s", op.Table)
	}
	cols := make([]schema.Column, len(pk.Columns))
	for i, ic := range pk.Columns {
		col, err := t.Column(ic.Column)
		if err != nil {
			return driver.Response{}, err
		}
		cols[i] = *col
	}
	stream, err := scanToStream(rows, cols)
	if err != nil {
		return driver.Response{}, err
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

func deleteByKey(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	t, err := tableOf(s, op.Table)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "sqlcore: unknown table %q", op.Table)
	}
	c := sqltext.NewCompiler(d)
	wantReturning := op.Returning != nil
	sqlText, err := c.BuildDelete(t, op.Index, op.Keys, op.Filter, wantReturning)
	if err != nil {
		return driver.Response{}, err
	}
	return execMutation(ctx, q, c, sqlText, wantReturning && d.SupportsReturning(), t)
}

func updateByKey(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	t, err := tableOf(s, op.Table)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "sqlcore: unknown table %q", op.Table)
	}
	c := sqltext.NewCompiler(d)
	filter := op.Filter
	if op.Condition != nil {
		filter = ir.AndOf(nonNilExprs(filter, op.Condition)...)
	}
	wantReturning := op.Returning != nil
	sqlText, err := c.BuildUpdate(t, op.Index, op.Keys, filter, op.Assignments, wantReturning)
	if err != nil {
		return driver.Response{}, err
	}
	return execMutation(ctx, q, c, sqlText, wantReturning && d.SupportsReturning(), t)
}

func nonNilExprs(es ...ir.Expr) []ir.Expr {
	out := make([]ir.Expr, 0, len(es))
	for _, e := range es {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func insertStatement(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	ins := op.Insert
	if ins == nil {
		return driver.Response{}, ormerr.Bugf("sqlcore: OpInsert with nil Insert")
	}
	if ins.Target.Kind != ir.TargetTable {
		return driver.Response{}, ormerr.Bugf("sqlcore: insert target not lowered to a table")
	}
	t, err := tableOf(s, ins.Target.Name)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "sqlcore: unknown table %q", ins.Target.Name)
	}
	values, ok := ins.Source.(*ir.Values)
	if !ok {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "sqlcore: insert source must be a literal row set")
	}
	c := sqltext.NewCompiler(d)
	wantReturning := ins.Returning != nil
	sqlText, err := c.BuildInsert(t, values.Rows, wantReturning, ins.Conflict)
	if err != nil {
		return driver.Response{}, err
	}
	return execMutation(ctx, q, c, sqlText, wantReturning && d.SupportsReturning(), t)
}

// execMutation runs a compiled UPDATE/DELETE/INSERT statement. When the
// dialect can RETURNING the result rows it uses QueryContext and scans
// them; otherwise it falls back to ExecContext's affected-row count, and
// no rows are read back.
func execMutation(ctx context.Context, q querier, c *sqltext.Compiler, sqlText string, returning bool, t *schema.Table) (driver.Response, error) {
	logger.Debug("sqlcore: %s args=%v", sqlText, c.Args())
	if returning {
		rows, err := q.QueryContext(ctx, sqlText, c.Args()...)
		if err != nil {
			return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: mutation on %s", t.Name)
		}
		stream, err := scanToStream(rows, t.Columns)
		if err != nil {
			return driver.Response{}, err
		}
		return driver.Response{Body: driver.StreamRows(stream)}, nil
	}
	res, err := q.ExecContext(ctx, sqlText, c.Args()...)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: mutation on %s", t.Name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: rows affected on %s", t.Name)
	}
	return driver.Response{Body: driver.CountRows(n)}, nil
}

// execStatement handles the OpQuerySql fallback: a full lowered Query or
// Delete the planner could not reduce to a key/index operation (no
// covering index, or a multi-table join).
func execStatement(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	switch st := op.Statement.(type) {
	case *ir.Query:
		return execQuery(ctx, q, d, s, st)
	case *ir.Delete:
		return execDelete(ctx, q, d, s, st)
	default:
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "sqlcore: statement %T cannot be pushed down", st)
	}
}

func execQuery(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, query *ir.Query) (driver.Response, error) {
	sel, ok := query.Body.(*ir.Select)
	if !ok {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "sqlcore: query body %T not supported (no SQL parser in the core)", query.Body)
	}
	if sel.Source.Kind != ir.SourceTable {
		return driver.Response{}, ormerr.Bugf("sqlcore: Select source not lowered to a table")
	}
	for _, cte := range query.CTEs {
		if cte.Name == sel.Source.Name {
			// The scan layer types rows by physical column; a CTE row
			// shape has no backing table to type against.
			return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "sqlcore: selecting directly from CTE %q", cte.Name)
		}
	}
	t, err := tableOf(s, sel.Source.Name)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "sqlcore: unknown table %q", sel.Source.Name)
	}
	c := sqltext.NewCompiler(d)
	withPrefix, err := c.CompileCTEs(query.CTEs, func(name string) (*schema.Table, error) {
		return tableOf(s, name)
	})
	if err != nil {
		return driver.Response{}, err
	}
	sqlText, err := c.CompileQuery(t, sel, query.OrderBy, query.Limit, query.Single, query.Locks)
	if err != nil {
		return driver.Response{}, err
	}
	sqlText = withPrefix + sqlText
	cols, unwrapSingle, err := returningColumns(t, &sel.Returning)
	if err != nil {
		return driver.Response{}, err
	}
	logger.Debug("sqlcore: %s args=%v", sqlText, c.Args())
	rows, err := q.QueryContext(ctx, sqlText, c.Args()...)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: query %s", sel.Source.Name)
	}
	scanned, err := scanRows(rows, cols)
	if err != nil {
		return driver.Response{}, err
	}
	if unwrapSingle {
		for i, r := range scanned {
			scanned[i] = r.Fields[0]
		}
	}
	return driver.Response{Body: driver.StreamRows(ir.NewStream(scanned))}, nil
}

// returningColumns derives the scan column set an explicit (non-star)
// returning selects: a Record of column references scans that subset, an
// aggregate scans a synthesized scalar column. unwrapSingle reports that
// the returning was a single non-record expression, whose stream carries
// bare scalars rather than one-field records.
func returningColumns(t *schema.Table, r *ir.Returning) (cols []schema.Column, unwrapSingle bool, err error) {
	if r == nil || r.Star || r.Expression == nil {
		return t.Columns, false, nil
	}
	exprs := []ir.Expr{r.Expression}
	if rec, ok := r.Expression.(*ir.Record); ok {
		exprs = rec.Elements
	} else {
		unwrapSingle = true
	}
	cols = make([]schema.Column, len(exprs))
	for i, e := range exprs {
		switch n := e.(type) {
		case *ir.Reference:
			if n.Kind != ir.RefColumn {
				return nil, false, ormerr.Bugf("sqlcore: returning Reference{Field/Model} survived lowering")
			}
			col, cerr := t.Column(n.Column)
			if cerr != nil {
				return nil, false, ormerr.Wrap(ormerr.InvalidSchema, cerr, "sqlcore: returning column %q", n.Column)
			}
			cols[i] = *col
		case *ir.Aggregate:
			cols[i] = aggregateColumn(t, n)
		default:
			return nil, false, ormerr.New(ormerr.UnsupportedFeature, "sqlcore: returning expression %T cannot be scanned", e)
		}
	}
	return cols, unwrapSingle, nil
}

func aggregateColumn(t *schema.Table, agg *ir.Aggregate) schema.Column {
	switch agg.Fn {
	case ir.AggCount:
		return schema.Column{Name: "count", AppType: ir.Scalar(ir.TInt64)}
	case ir.AggAvg:
		return schema.Column{Name: "avg", AppType: ir.Scalar(ir.TFloat64)}
	default:
		if ref, ok := agg.Operand.(*ir.Reference); ok && ref.Kind == ir.RefColumn {
			if col, err := t.Column(ref.Column); err == nil {
				return *col
			}
		}
		return schema.Column{Name: "agg", AppType: ir.Scalar(ir.TFloat64)}
	}
}

func execDelete(ctx context.Context, q querier, d sqltext.Dialect, s *schema.Schema, del *ir.Delete) (driver.Response, error) {
	sel, ok := del.Source.(*ir.Select)
	if !ok || sel.Source.Kind != ir.SourceTable {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "sqlcore: delete source %T not supported", del.Source)
	}
	t, err := tableOf(s, sel.Source.Name)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "sqlcore: unknown table %q", sel.Source.Name)
	}
	c := sqltext.NewCompiler(d)
	wantReturning := del.Returning != nil
	sqlText, err := c.BuildDelete(t, nil, nil, del.Filter, wantReturning)
	if err != nil {
		return driver.Response{}, err
	}
	return execMutation(ctx, q, c, sqlText, wantReturning && d.SupportsReturning(), t)
}
