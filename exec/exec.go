package exec

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/logger"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/plan"
	"github.com/latticeorm/lattice/schema"
)

// Executor runs one plan.Graph against one driver for one schema. It
// owns its Store exclusively and is not reused across graphs.
type Executor struct {
	schema *schema.Schema
	driver driver.Driver
	eval   *Evaluator
}

func New(s *schema.Schema, d driver.Driver) *Executor {
	return &Executor{schema: s, driver: d, eval: NewEvaluator(s.DbSchema())}
}

// Run executes every node of g in topological order, launching nodes
// whose inputs are already satisfied concurrently within the same wave;
// the wave joins before any dependent runs, so completion order never
// affects what a consumer reads. Returns the stream stored in g.Return.
//
// Cancelling ctx aborts any in-flight driver calls and discards the
// variable store; no rollback happens at this layer.
func (ex *Executor) Run(ctx context.Context, g *plan.Graph) (*ir.Stream, error) {
	store := NewStore()
	remaining := make(map[int]*plan.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		remaining[n.ID] = n
	}

	for len(remaining) > 0 {
		wave := readyNodes(remaining, store)
		if len(wave) == 0 {
			return nil, ormerr.Bugf("exec: plan graph has no runnable node (cycle or missing predecessor)")
		}

		g2, gctx := errgroup.WithContext(ctx)
		results := make([]*ir.Stream, len(wave))
		for i, node := range wave {
			i, node := i, node
			g2.Go(func() error {
				s, err := ex.dispatch(gctx, node, store)
				if err != nil {
					return err
				}
				results[i] = s
				return nil
			})
		}
		if err := g2.Wait(); err != nil {
			store.Release()
			return nil, err
		}

		for i, node := range wave {
			store.Put(node.OutputVar, node.UseCount, results[i])
			delete(remaining, node.ID)
		}
	}

	return store.Take(g.Return)
}

// readyNodes returns every not-yet-run node whose predecessor variables
// are all already in the store.
func readyNodes(remaining map[int]*plan.Node, store *Store) []*plan.Node {
	var ready []*plan.Node
	for _, n := range remaining {
		satisfied := true
		for _, in := range n.Inputs {
			if !store.has(in) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, n)
		}
	}
	return ready
}

func (ex *Executor) dispatch(ctx context.Context, n *plan.Node, store *Store) (*ir.Stream, error) {
	logger.Debug("exec: running node %d (%v)", n.ID, n.Op)
	switch n.Op {
	case plan.OpConst:
		return ir.NewStream(append([]ir.Value(nil), n.ConstValues...)), nil

	case plan.OpExecStatement:
		return ex.execStatement(ctx, n)

	case plan.OpGetByKey:
		keys, err := ex.resolveKeys(ctx, n, store)
		if err != nil {
			return nil, err
		}
		resp, err := ex.driver.Exec(ctx, driver.Operation{
			Kind: driver.OpGetByKey, Table: n.Table, Index: n.Index, Keys: keys, Filter: n.Filter,
		})
		if err != nil {
			return nil, wrapDriverErr(err)
		}
		return rowsToStream(resp.Body), nil

	case plan.OpQueryPk:
		var keys []ir.Value
		var err error
		if n.Keys != nil {
			keys, err = evalKeys(ex.eval, n.Keys)
			if err != nil {
				return nil, err
			}
		}
		resp, err := ex.driver.Exec(ctx, driver.Operation{
			Kind: driver.OpQueryPk, Table: n.Table, Index: n.Index, Keys: keys, Filter: n.Filter, Returning: n.Returning,
		})
		if err != nil {
			return nil, wrapDriverErr(err)
		}
		return rowsToStream(resp.Body), nil

	case plan.OpFindPkByIndex:
		var keys []ir.Value
		var err error
		if n.Keys != nil {
			keys, err = evalKeys(ex.eval, n.Keys)
			if err != nil {
				return nil, err
			}
		}
		resp, err := ex.driver.Exec(ctx, driver.Operation{
			Kind: driver.OpFindPkByIndex, Table: n.Table, Index: n.Index, Keys: keys, Filter: n.Filter,
		})
		if err != nil {
			return nil, wrapDriverErr(err)
		}
		return rowsToStream(resp.Body), nil

	case plan.OpDeleteByKey:
		keys, err := ex.resolveKeys(ctx, n, store)
		if err != nil {
			return nil, err
		}
		resp, err := ex.driver.Exec(ctx, driver.Operation{
			Kind: driver.OpDeleteByKey, Table: n.Table, Index: n.Index, Keys: keys, Filter: n.Filter, Returning: n.Returning,
		})
		if err != nil {
			return nil, wrapDriverErr(err)
		}
		return rowsToStream(resp.Body), nil

	case plan.OpUpdateByKey:
		keys, err := ex.resolveKeys(ctx, n, store)
		if err != nil {
			return nil, err
		}
		resp, err := ex.driver.Exec(ctx, driver.Operation{
			Kind: driver.OpUpdateByKey, Table: n.Table, Index: n.Index, Keys: keys, Filter: n.Filter,
			Assignments: n.Assignments, Condition: n.Condition, Returning: n.Returning,
		})
		if err != nil {
			return nil, wrapDriverErr(err)
		}
		return rowsToStream(resp.Body), nil

	case plan.OpReadModifyWrite:
		return ex.readModifyWrite(ctx, n)

	case plan.OpBatchWrite:
		return ex.batchWrite(ctx, n)

	case plan.OpFilter:
		in, err := store.Load(ctx, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		rows, err := in.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := rows[:0:0]
		for _, row := range rows {
			v, err := ex.eval.Eval(n.Predicate, []ir.Value{row}, nil)
			if err != nil {
				return nil, err
			}
			if v.Kind == ir.ValueBool && v.Bool {
				out = append(out, row)
			}
		}
		return ir.NewStream(out), nil

	case plan.OpProject:
		in, err := store.Load(ctx, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		rows, err := in.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]ir.Value, len(rows))
		for i, row := range rows {
			v, err := ex.eval.Eval(n.ProjectFn, []ir.Value{row}, nil)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return ir.NewStream(out), nil

	case plan.OpNestedMerge:
		inputs := make([][]ir.Value, len(n.Inputs))
		for i, varID := range n.Inputs {
			s, err := store.Load(ctx, varID)
			if err != nil {
				return nil, err
			}
			rows, err := s.Collect(ctx)
			if err != nil {
				return nil, err
			}
			inputs[i] = rows
		}
		rows, err := materializeNestedMerge(ex.eval, n.NestedMerge, inputs)
		if err != nil {
			return nil, err
		}
		return ir.NewStream(rows), nil

	default:
		return nil, ormerr.Bugf("exec: unhandled op %v", n.Op)
	}
}

// resolveKeys prefers a planned, literal Keys expression; when the node
// instead depends on a predecessor (FindPkByIndex's discovered keys), it
// drains that input stream.
func (ex *Executor) resolveKeys(ctx context.Context, n *plan.Node, store *Store) ([]ir.Value, error) {
	if n.Keys != nil {
		return evalKeys(ex.eval, n.Keys)
	}
	if len(n.Inputs) == 0 {
		return nil, ormerr.Bugf("exec: node %d has neither a Keys expression nor an input", n.ID)
	}
	s, err := store.Load(ctx, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	return collectKeys(ctx, s)
}

func (ex *Executor) execStatement(ctx context.Context, n *plan.Node) (*ir.Stream, error) {
	resp, err := ex.submitStatement(ctx, n.Statement, n.Returning)
	if err != nil {
		return nil, err
	}
	return rowsToStream(resp.Body), nil
}

func (ex *Executor) submitStatement(ctx context.Context, stmt ir.Statement, returning *ir.Returning) (driver.Response, error) {
	op := driver.Operation{Returning: returning}
	if ins, ok := stmt.(*ir.Insert); ok {
		op.Kind = driver.OpInsert
		op.Insert = ins
	} else {
		op.Kind = driver.OpQuerySql
		op.Statement = stmt
	}
	resp, err := ex.driver.Exec(ctx, op)
	if err != nil {
		return driver.Response{}, wrapDriverErr(err)
	}
	return resp, nil
}

// batchWrite issues the batch's accumulated write statements to the
// driver one after another. Counts sum across the batch; if any
// statement returned rows, the combined row stream wins over the count.
func (ex *Executor) batchWrite(ctx context.Context, n *plan.Node) (*ir.Stream, error) {
	var total int64
	var rows []ir.Value
	for _, stmt := range n.Statements {
		var returning *ir.Returning
		if ins, ok := stmt.(*ir.Insert); ok {
			returning = ins.Returning
		}
		resp, err := ex.submitStatement(ctx, stmt, returning)
		if err != nil {
			return nil, err
		}
		if resp.Body.Kind == driver.RowsStream {
			collected, err := resp.Body.Stream.Collect(ctx)
			if err != nil {
				return nil, err
			}
			rows = append(rows, collected...)
			total += int64(len(collected))
			continue
		}
		total += resp.Body.Count
	}
	if len(rows) > 0 {
		return ir.NewStream(rows), nil
	}
	return ir.NewStream([]ir.Value{ir.Int64Value(total)}), nil
}

// readModifyWrite issues an optimistic Update as a single UpdateByKey
// carrying its Filter and Condition; no separate read precedes the write,
// so the condition is checked only by the driver as part of it. There is
// no retry: a failed condition surfaces to the caller, who decides
// whether to retry.
func (ex *Executor) readModifyWrite(ctx context.Context, n *plan.Node) (*ir.Stream, error) {
	resp, err := ex.driver.Exec(ctx, driver.Operation{
		Kind: driver.OpUpdateByKey, Table: n.Table, Filter: n.Filter,
		Assignments: n.Assignments, Condition: n.Condition, Returning: n.Returning,
	})
	if err != nil {
		return nil, wrapDriverErr(err)
	}
	return rowsToStream(resp.Body), nil
}

func rowsToStream(r driver.Rows) *ir.Stream {
	if r.Kind == driver.RowsStream {
		return r.Stream
	}
	return ir.NewStream([]ir.Value{ir.Int64Value(r.Count)})
}

func wrapDriverErr(err error) error {
	if ormerr.Is(err, ormerr.Bug) {
		return err
	}
	if _, ok := err.(*ormerr.Error); ok {
		return err
	}
	return ormerr.Wrap(ormerr.DriverOperationFailed, err, "driver call failed")
}
