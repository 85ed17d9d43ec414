package mongodoc

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// execOn dispatches one driver.Operation against db, the shared body of
// Driver.Exec and Tx.Exec: the only difference between a pooled and a
// pinned-to-transaction exec path is the session context wrapping, which
// the caller already applied via mongo.NewSessionContext.
func execOn(ctx context.Context, db *mongo.Database, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	switch op.Kind {
	case driver.OpGetByKey:
		return findDocuments(ctx, db, s, op.Table, op.Index, op.Keys, op.Filter)

	case driver.OpQueryPk:
		return queryPartition(ctx, db, s, op)

	case driver.OpFindPkByIndex:
		return findKeys(ctx, db, s, op)

	case driver.OpDeleteByKey:
		return deleteByKey(ctx, db, s, op)

	case driver.OpUpdateByKey:
		return updateByKey(ctx, db, s, op)

	case driver.OpInsert:
		return insertStatement(ctx, db, s, op)

	case driver.OpQuerySql:
		return execStatement(ctx, db, s, op)

	case driver.OpTxControl:
		return driver.Response{}, ormerr.Bugf("mongodoc: OpTxControl must go through Driver.Begin/Tx.Commit/Tx.Rollback")

	default:
		return driver.Response{}, ormerr.Bugf("mongodoc: unhandled operation kind %v", op.Kind)
	}
}

func tableOf(s *schema.Schema, name string) (*schema.Table, error) {
	return s.DbSchema().Table(name)
}

// rowFilter builds the combined key-plus-residual filter for an op whose
// Keys/Index address rows and whose Filter carries any leftover
// post-index condition (mirrors sqlcore's queryRows keys-and-filter
// composition).
func rowFilter(idx *schema.DbIndex, keys []ir.Value, extra ir.Expr) (bson.M, error) {
	parts := bson.A{}
	if idx != nil && len(keys) > 0 {
		parts = append(parts, keyFilter(idx, keys))
	}
	if extra != nil {
		f, err := compileFilter(extra)
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}
	switch len(parts) {
	case 0:
		return bson.M{}, nil
	case 1:
		return parts[0].(bson.M), nil
	default:
		return bson.M{"$and": parts}, nil
	}
}

func findDocuments(ctx context.Context, db *mongo.Database, s *schema.Schema, tableName string, idx *schema.DbIndex, keys []ir.Value, filter ir.Expr) (driver.Response, error) {
	t, err := tableOf(s, tableName)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", tableName)
	}
	f, err := rowFilter(idx, keys, filter)
	if err != nil {
		return driver.Response{}, err
	}
	cur, err := db.Collection(t.Name).Find(ctx, f)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: find on %s", t.Name)
	}
	stream, err := decodeStream(ctx, cur, t.Columns)
	if err != nil {
		return driver.Response{}, err
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

// queryPartition is OpQueryPk: a partition-key scan, optionally narrowed
// to a column subset by the planner's returning (the discovery half of a
// partition-scoped update/delete only wants the primary-key columns
// back).
func queryPartition(ctx context.Context, db *mongo.Database, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	if op.Returning == nil || op.Returning.Star || op.Returning.Expression == nil {
		return findDocuments(ctx, db, s, op.Table, op.Index, op.Keys, op.Filter)
	}
	t, err := tableOf(s, op.Table)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", op.Table)
	}
	exprs := []ir.Expr{op.Returning.Expression}
	if rec, ok := op.Returning.Expression.(*ir.Record); ok {
		exprs = rec.Elements
	}
	cols := make([]schema.Column, len(exprs))
	proj := bson.M{"_id": 0}
	for i, e := range exprs {
		ref, ok := e.(*ir.Reference)
		if !ok || ref.Kind != ir.RefColumn {
			return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: partition-scan returning %T is not a column", e)
		}
		col, cerr := t.Column(ref.Column)
		if cerr != nil {
			return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, cerr, "mongodoc: returning column %q", ref.Column)
		}
		cols[i] = *col
		proj[col.Name] = 1
	}
	f, err := rowFilter(op.Index, op.Keys, op.Filter)
	if err != nil {
		return driver.Response{}, err
	}
	cur, err := db.Collection(t.Name).Find(ctx, f, options.Find().SetProjection(proj))
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: partition scan on %s", op.Table)
	}
	stream, err := decodeStream(ctx, cur, cols)
	if err != nil {
		return driver.Response{}, err
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

func findKeys(ctx context.Context, db *mongo.Database, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	t, err := tableOf(s, op.Table)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", op.Table)
	}
	pk, err := t.PrimaryKeyIndex()
	if err != nil {
		return driver.Response{}, err
	}
	f, err := rowFilter(op.Index, op.Keys, op.Filter)
	if err != nil {
		return driver.Response{}, err
	}
	proj := bson.M{"_id": 0}
	for _, c := range pk.Columns {
		proj[c.Column] = 1
	}
	cur, err := db.Collection(t.Name).Find(ctx, f, options.Find().SetProjection(proj))
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: find keys on %s", op.Table)
	}
	cols := make([]schema.Column, len(pk.Columns))
	for i, ic := range pk.Columns {
		col, err := t.Column(ic.Column)
		if err != nil {
			return driver.Response{}, err
		}
		cols[i] = *col
	}
	stream, err := decodeStream(ctx, cur, cols)
	if err != nil {
		return driver.Response{}, err
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

func deleteByKey(ctx context.Context, db *mongo.Database, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	t, err := tableOf(s, op.Table)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", op.Table)
	}
	f, err := rowFilter(op.Index, op.Keys, op.Filter)
	if err != nil {
		return driver.Response{}, err
	}
	coll := db.Collection(t.Name)
	if op.Returning == nil {
		res, err := coll.DeleteMany(ctx, f)
		if err != nil {
			return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: delete on %s", t.Name)
		}
		return driver.Response{Body: driver.CountRows(res.DeletedCount)}, nil
	}
	// No RETURNING from mutations here, so the deleted rows are read
	// back before the delete executes.
	cur, err := coll.Find(ctx, f)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: pre-delete read on %s", t.Name)
	}
	stream, err := decodeStream(ctx, cur, t.Columns)
	if err != nil {
		return driver.Response{}, err
	}
	if _, err := coll.DeleteMany(ctx, f); err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: delete on %s", t.Name)
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

func updateByKey(ctx context.Context, db *mongo.Database, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	t, err := tableOf(s, op.Table)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", op.Table)
	}
	filter := op.Filter
	if op.Condition != nil {
		filter = ir.AndOf(nonNilExprs(filter, op.Condition)...)
	}
	f, err := rowFilter(op.Index, op.Keys, filter)
	if err != nil {
		return driver.Response{}, err
	}
	update, err := compileAssignments(op.Assignments)
	if err != nil {
		return driver.Response{}, err
	}
	coll := db.Collection(t.Name)
	if op.Returning == nil {
		res, err := coll.UpdateMany(ctx, f, update)
		if err != nil {
			return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: update on %s", t.Name)
		}
		return driver.Response{Body: driver.CountRows(res.ModifiedCount)}, nil
	}
	if _, err := coll.UpdateMany(ctx, f, update); err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: update on %s", t.Name)
	}
	// No RETURNING support: recover the post-update rows with the same
	// key filter.
	cur, err := coll.Find(ctx, f)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: post-update read on %s", t.Name)
	}
	stream, err := decodeStream(ctx, cur, t.Columns)
	if err != nil {
		return driver.Response{}, err
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
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

func insertStatement(ctx context.Context, db *mongo.Database, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	ins := op.Insert
	if ins == nil {
		return driver.Response{}, ormerr.Bugf("mongodoc: OpInsert with nil Insert")
	}
	if ins.Target.Kind != ir.TargetTable {
		return driver.Response{}, ormerr.Bugf("mongodoc: insert target not lowered to a table")
	}
	t, err := tableOf(s, ins.Target.Name)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", ins.Target.Name)
	}
	values, ok := ins.Source.(*ir.Values)
	if !ok {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: insert source must be a literal row set")
	}
	docs := make([]any, len(values.Rows))
	rows := make([]bson.M, len(values.Rows))
	for i, rowExpr := range values.Rows {
		rec, ok := rowExpr.(*ir.Record)
		if !ok || len(rec.Elements) != len(t.Columns) {
			return driver.Response{}, ormerr.Bugf("mongodoc: insert row shape does not match table %s", t.Name)
		}
		doc := bson.M{"_id": newDocumentID()}
		for j, el := range rec.Elements {
			lit, ok := el.(*ir.Literal)
			if !ok {
				return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: insert value must be literal")
			}
			doc[t.Columns[j].Name] = toBSON(lit.Value)
		}
		docs[i] = doc
		rows[i] = doc
	}
	coll := db.Collection(t.Name)
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: insert into %s", t.Name)
	}
	if ins.Returning == nil {
		return driver.Response{Body: driver.CountRows(int64(len(docs)))}, nil
	}
	out := make([]ir.Value, len(rows))
	for i, doc := range rows {
		out[i] = recordFromDoc(doc, t.Columns)
	}
	return driver.Response{Body: driver.StreamRows(ir.NewStream(out))}, nil
}

// execStatement handles the OpQuerySql fallback: a lowered single-table
// Query or Delete the planner could not reduce to a key/index operation.
// mongodoc has no join concept, so only a single-source Select/Delete can
// be pushed down here; a joined Select never reaches this path because
// lowering only ever targets one table per model in the document layout.
func execStatement(ctx context.Context, db *mongo.Database, s *schema.Schema, op driver.Operation) (driver.Response, error) {
	switch st := op.Statement.(type) {
	case *ir.Query:
		return execQuery(ctx, db, s, st)
	case *ir.Delete:
		return execDeleteStmt(ctx, db, s, st)
	default:
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: statement %T cannot be pushed down", st)
	}
}

func execQuery(ctx context.Context, db *mongo.Database, s *schema.Schema, query *ir.Query) (driver.Response, error) {
	sel, ok := query.Body.(*ir.Select)
	if !ok {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: query body %T not supported", query.Body)
	}
	if sel.Source.Kind != ir.SourceTable {
		return driver.Response{}, ormerr.Bugf("mongodoc: Select source not lowered to a table")
	}
	if len(sel.Source.Joins) > 0 {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: joined queries are not supported by this backend")
	}
	if len(query.CTEs) > 0 {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: CTEs are not supported by this backend")
	}
	if len(query.Locks) > 0 {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: row locks are not supported by this backend")
	}
	t, err := tableOf(s, sel.Source.Name)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", sel.Source.Name)
	}
	f := bson.M{}
	if sel.Filter != nil {
		f, err = compileFilter(sel.Filter)
		if err != nil {
			return driver.Response{}, err
		}
	}
	// An aggregate returning folds the matched rows down to one value;
	// fetch and fold here rather than spinning up a $group pipeline for a
	// single-group fold.
	if !sel.Returning.Star && sel.Returning.Expression != nil && ir.ContainsAggregate(sel.Returning.Expression) {
		cur, err := db.Collection(t.Name).Find(ctx, f)
		if err != nil {
			return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: aggregate query %s", t.Name)
		}
		stream, err := decodeStream(ctx, cur, t.Columns)
		if err != nil {
			return driver.Response{}, err
		}
		rows, err := stream.Collect(ctx)
		if err != nil {
			return driver.Response{}, err
		}
		v, err := foldReturning(sel.Returning.Expression, rows, t.Columns)
		if err != nil {
			return driver.Response{}, err
		}
		return driver.Response{Body: driver.StreamRows(ir.NewStream([]ir.Value{v}))}, nil
	}

	// Distinct has no native document-store projection; the executor's
	// in-memory OpFilter/OpProject stage handles the residual dedup.
	opts := options.Find()
	if len(query.OrderBy) > 0 {
		sortDoc := bson.D{}
		for _, ot := range query.OrderBy {
			col, err := columnName(ot.Expr.Expr)
			if err != nil {
				return driver.Response{}, err
			}
			dir := 1
			if ot.Expr.Desc {
				dir = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: col, Value: dir})
		}
		opts = opts.SetSort(sortDoc)
	}
	if query.Limit != nil {
		opts = opts.SetLimit(int64(*query.Limit))
	}
	if query.Single {
		opts = opts.SetLimit(1)
	}
	cur, err := db.Collection(t.Name).Find(ctx, f, opts)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: query %s", t.Name)
	}
	stream, err := decodeStream(ctx, cur, t.Columns)
	if err != nil {
		return driver.Response{}, err
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

func execDeleteStmt(ctx context.Context, db *mongo.Database, s *schema.Schema, del *ir.Delete) (driver.Response, error) {
	sel, ok := del.Source.(*ir.Select)
	if !ok || sel.Source.Kind != ir.SourceTable {
		return driver.Response{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: delete source %T not supported", del.Source)
	}
	t, err := tableOf(s, sel.Source.Name)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.InvalidSchema, err, "mongodoc: unknown table %q", sel.Source.Name)
	}
	f := bson.M{}
	if del.Filter != nil {
		f, err = compileFilter(del.Filter)
		if err != nil {
			return driver.Response{}, err
		}
	}
	coll := db.Collection(t.Name)
	if del.Returning == nil {
		res, err := coll.DeleteMany(ctx, f)
		if err != nil {
			return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: delete on %s", t.Name)
		}
		return driver.Response{Body: driver.CountRows(res.DeletedCount)}, nil
	}
	cur, err := coll.Find(ctx, f)
	if err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: pre-delete read on %s", t.Name)
	}
	stream, err := decodeStream(ctx, cur, t.Columns)
	if err != nil {
		return driver.Response{}, err
	}
	if _, err := coll.DeleteMany(ctx, f); err != nil {
		return driver.Response{}, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: delete on %s", t.Name)
	}
	return driver.Response{Body: driver.StreamRows(stream)}, nil
}

// foldReturning evaluates an aggregate-shaped returning expression over
// the fully-fetched row set: either a single Aggregate, or a Record
// whose elements are each folded independently.
func foldReturning(e ir.Expr, rows []ir.Value, cols []schema.Column) (ir.Value, error) {
	switch n := e.(type) {
	case *ir.Aggregate:
		return foldAggregate(n, rows, cols)
	case *ir.Record:
		fields := make([]ir.Value, len(n.Elements))
		for i, el := range n.Elements {
			v, err := foldReturning(el, rows, cols)
			if err != nil {
				return ir.Value{}, err
			}
			fields[i] = v
		}
		return ir.RecordValue(fields...), nil
	default:
		return ir.Value{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: aggregate returning mixes row-wise expression %T", e)
	}
}

func foldAggregate(agg *ir.Aggregate, rows []ir.Value, cols []schema.Column) (ir.Value, error) {
	var vals []ir.Value
	if agg.Operand == nil {
		if agg.Fn != ir.AggCount {
			return ir.Value{}, ormerr.Bugf("mongodoc: %v aggregate has no operand", agg.Fn)
		}
		return ir.Int64Value(int64(len(rows))), nil
	}
	ref, ok := agg.Operand.(*ir.Reference)
	if !ok || ref.Kind != ir.RefColumn {
		return ir.Value{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: aggregate operand %T is not a column", agg.Operand)
	}
	colIdx := -1
	for i := range cols {
		if cols[i].Name == ref.Column {
			colIdx = i
			break
		}
	}
	if colIdx < 0 {
		return ir.Value{}, ormerr.Bugf("mongodoc: aggregate over unknown column %q", ref.Column)
	}
	for _, row := range rows {
		if row.Kind != ir.ValueRecord || colIdx >= len(row.Fields) {
			return ir.Value{}, ormerr.Bugf("mongodoc: aggregate row is not a full record")
		}
		v := row.Fields[colIdx]
		if v.IsNull() {
			continue
		}
		vals = append(vals, v)
	}

	switch agg.Fn {
	case ir.AggCount:
		return ir.Int64Value(int64(len(vals))), nil
	case ir.AggSum, ir.AggAvg:
		var sum float64
		allInt := true
		for _, v := range vals {
			switch v.Kind {
			case ir.ValueInt64:
				sum += float64(v.Int)
			case ir.ValueFloat64:
				sum += v.Float
				allInt = false
			default:
				return ir.Value{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: %v over non-numeric column %q", agg.Fn, ref.Column)
			}
		}
		if agg.Fn == ir.AggAvg {
			if len(vals) == 0 {
				return ir.NullValue, nil
			}
			return ir.Float64Value(sum / float64(len(vals))), nil
		}
		if allInt {
			return ir.Int64Value(int64(sum)), nil
		}
		return ir.Float64Value(sum), nil
	case ir.AggMin, ir.AggMax:
		if len(vals) == 0 {
			return ir.NullValue, nil
		}
		best := vals[0]
		for _, v := range vals[1:] {
			less, ok := valueLess(v, best)
			if !ok {
				return ir.Value{}, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: %v over unordered column %q", agg.Fn, ref.Column)
			}
			if (agg.Fn == ir.AggMin) == less {
				best = v
			}
		}
		return best, nil
	default:
		return ir.Value{}, ormerr.Bugf("mongodoc: unhandled aggregate fn %v", agg.Fn)
	}
}

func valueLess(a, b ir.Value) (less, ok bool) {
	switch {
	case a.Kind == ir.ValueInt64 && b.Kind == ir.ValueInt64:
		return a.Int < b.Int, true
	case a.Kind == ir.ValueString && b.Kind == ir.ValueString:
		return a.Str < b.Str, true
	}
	af, aok := numericValue(a)
	bf, bok := numericValue(b)
	if aok && bok {
		return af < bf, true
	}
	return false, false
}

func numericValue(v ir.Value) (float64, bool) {
	switch v.Kind {
	case ir.ValueInt64:
		return float64(v.Int), true
	case ir.ValueFloat64:
		return v.Float, true
	default:
		return 0, false
	}
}

// decodeStream drains cur into an ir.Stream of Record values, one field
// per column, projecting each document the same way scanToStream
// projects a database/sql row.
func decodeStream(ctx context.Context, cur *mongo.Cursor, cols []schema.Column) (*ir.Stream, error) {
	defer cur.Close(ctx)
	var out []ir.Value
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: decode document")
		}
		out = append(out, recordFromDoc(doc, cols))
	}
	if err := cur.Err(); err != nil {
		return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: cursor iteration")
	}
	return ir.NewStream(out), nil
}

func recordFromDoc(doc bson.M, cols []schema.Column) ir.Value {
	fields := make([]ir.Value, len(cols))
	for i, col := range cols {
		fields[i] = fromBSON(doc[col.Name], col)
	}
	return ir.RecordValue(fields...)
}
