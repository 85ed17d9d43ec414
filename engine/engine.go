// Package engine ties the pipeline together: a statement runs
// Simplify -> Lower -> Plan and the resulting graph is executed against
// the engine's driver. It is the surface a generated model API calls
// into; the packages below it never depend on each other's position in
// the pipeline.
package engine

import (
	"context"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/exec"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/logger"
	"github.com/latticeorm/lattice/lower"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/plan"
	"github.com/latticeorm/lattice/registry"
	"github.com/latticeorm/lattice/schema"
	"github.com/latticeorm/lattice/simplify"
)

// Engine runs statements for one schema against one driver. The schema
// is immutable once built and shared by reference; each Execute call
// owns its own executor and variable store.
type Engine struct {
	schema  *schema.Schema
	drv     driver.Driver
	planner *plan.Planner
}

func New(s *schema.Schema, drv driver.Driver) *Engine {
	return &Engine{schema: s, drv: drv, planner: plan.New(s, drv.Capability())}
}

// Open resolves uri against the driver registry, registers the schema
// on the resulting driver, and returns a ready Engine.
func Open(ctx context.Context, uri string, s *schema.Schema) (*Engine, error) {
	drv, err := registry.Open(uri)
	if err != nil {
		return nil, err
	}
	if err := drv.RegisterSchema(ctx, s); err != nil {
		drv.Close()
		return nil, err
	}
	return New(s, drv), nil
}

func (e *Engine) Schema() *schema.Schema { return e.schema }
func (e *Engine) Driver() driver.Driver  { return e.drv }

func (e *Engine) Close() error { return e.drv.Close() }

// Execute runs one statement through the full pipeline and returns its
// result stream.
func (e *Engine) Execute(ctx context.Context, stmt ir.Statement) (*ir.Stream, error) {
	lowered, err := e.prepare(stmt)
	if err != nil {
		return nil, err
	}
	g, err := e.planner.Plan(lowered)
	if err != nil {
		return nil, err
	}
	return exec.New(e.schema, e.drv).Run(ctx, g)
}

// ExecuteMany runs a batch of write statements as one plan: compatible
// single-row inserts collapse into multi-row inserts before lowering,
// and the remaining writes are emitted together (a single BatchWrite
// action when more than one accumulates).
func (e *Engine) ExecuteMany(ctx context.Context, stmts []ir.Statement) (*ir.Stream, error) {
	if len(stmts) == 0 {
		return ir.NewStream(nil), nil
	}
	simplified := make([]ir.Statement, len(stmts))
	for i, stmt := range stmts {
		s, err := simplify.Simplify(stmt, e.schema)
		if err != nil {
			return nil, err
		}
		simplified[i] = s
	}
	merged := simplify.MergeInserts(simplified)
	logger.Debug("engine: batch of %d statements merged to %d", len(stmts), len(merged))

	lowered := make([]ir.Statement, len(merged))
	for i, stmt := range merged {
		l, err := lower.Lower(stmt, e.schema)
		if err != nil {
			return nil, err
		}
		lowered[i] = l
	}
	g, err := e.planner.PlanBatch(lowered)
	if err != nil {
		return nil, err
	}
	return exec.New(e.schema, e.drv).Run(ctx, g)
}

func (e *Engine) prepare(stmt ir.Statement) (ir.Statement, error) {
	simplified, err := simplify.Simplify(stmt, e.schema)
	if err != nil {
		return nil, err
	}
	return lower.Lower(simplified, e.schema)
}

// CreateMany inserts a batch of rows in one plan, collapsing compatible
// inserts into multi-row statements, and returns the number of rows
// written.
func (e *Engine) CreateMany(ctx context.Context, inserts []*ir.Insert) (int64, error) {
	stmts := make([]ir.Statement, len(inserts))
	for i, ins := range inserts {
		stmts[i] = ins
	}
	stream, err := e.ExecuteMany(ctx, stmts)
	if err != nil {
		return 0, err
	}
	return countOf(ctx, stream)
}

// UpdateMany runs each update and returns the total number of rows
// touched. Unlike inserts, updates never merge: each carries its own
// key discovery.
func (e *Engine) UpdateMany(ctx context.Context, updates []*ir.Update) (int64, error) {
	var total int64
	for _, upd := range updates {
		n, err := e.runCounted(ctx, upd)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DeleteMany runs each delete and returns the total number of rows
// removed.
func (e *Engine) DeleteMany(ctx context.Context, deletes []*ir.Delete) (int64, error) {
	var total int64
	for _, del := range deletes {
		n, err := e.runCounted(ctx, del)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) runCounted(ctx context.Context, stmt ir.Statement) (int64, error) {
	stream, err := e.Execute(ctx, stmt)
	if err != nil {
		return 0, err
	}
	return countOf(ctx, stream)
}

func countOf(ctx context.Context, stream *ir.Stream) (int64, error) {
	rows, err := stream.Collect(ctx)
	if err != nil {
		return 0, err
	}
	if len(rows) == 1 && rows[0].Kind == ir.ValueInt64 {
		return rows[0].Int, nil
	}
	// A returning mutation streams rows; each row is one write.
	return int64(len(rows)), nil
}

// Count returns the number of model rows matching filter (a nil filter
// counts every row).
func (e *Engine) Count(ctx context.Context, model string, filter ir.Expr) (int64, error) {
	v, err := e.aggregate(ctx, model, filter, &ir.Aggregate{Fn: ir.AggCount})
	if err != nil {
		return 0, err
	}
	if v.Kind != ir.ValueInt64 {
		return 0, ormerr.Bugf("engine: count returned %v, not an integer", v.Kind)
	}
	return v.Int, nil
}

// Sum, Avg, Min, and Max fold the named field over the matching rows.
// They return null when no row matches (Sum excepted: its empty fold is
// backend-defined, typically null in SQL).
func (e *Engine) Sum(ctx context.Context, model string, field int, filter ir.Expr) (ir.Value, error) {
	return e.aggregate(ctx, model, filter, &ir.Aggregate{Fn: ir.AggSum, Operand: ir.Field(0, field)})
}

func (e *Engine) Avg(ctx context.Context, model string, field int, filter ir.Expr) (ir.Value, error) {
	return e.aggregate(ctx, model, filter, &ir.Aggregate{Fn: ir.AggAvg, Operand: ir.Field(0, field)})
}

func (e *Engine) Min(ctx context.Context, model string, field int, filter ir.Expr) (ir.Value, error) {
	return e.aggregate(ctx, model, filter, &ir.Aggregate{Fn: ir.AggMin, Operand: ir.Field(0, field)})
}

func (e *Engine) Max(ctx context.Context, model string, field int, filter ir.Expr) (ir.Value, error) {
	return e.aggregate(ctx, model, filter, &ir.Aggregate{Fn: ir.AggMax, Operand: ir.Field(0, field)})
}

func (e *Engine) aggregate(ctx context.Context, model string, filter ir.Expr, agg *ir.Aggregate) (ir.Value, error) {
	stmt := &ir.Query{Body: &ir.Select{
		Source:    ir.Source{Kind: ir.SourceModel, Name: model},
		Filter:    filter,
		Returning: ir.Returning{Expression: agg},
	}}
	stream, err := e.Execute(ctx, stmt)
	if err != nil {
		return ir.Value{}, err
	}
	rows, err := stream.Collect(ctx)
	if err != nil {
		return ir.Value{}, err
	}
	if len(rows) != 1 {
		return ir.Value{}, ormerr.Bugf("engine: aggregate returned %d rows", len(rows))
	}
	return rows[0], nil
}

// Transaction runs fn with an Engine whose every driver call is pinned
// to one transaction. fn returning nil commits; an error rolls back and
// is returned to the caller (a rollback failure is logged, and fn's own
// error is returned unchanged).
func (e *Engine) Transaction(ctx context.Context, opts driver.TxOptions, fn func(txe *Engine) error) error {
	tx, err := e.drv.Begin(ctx, opts)
	if err != nil {
		return err
	}
	txe := &Engine{
		schema:  e.schema,
		drv:     &txDriver{tx: tx, cap: e.drv.Capability()},
		planner: e.planner,
	}
	if err := fn(txe); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Error("engine: rollback after failed transaction: %v", rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}
