// Package exec implements the query engine's executor: the dense
// variable store, topological/concurrent dispatch over a plan.Graph, the
// in-memory expression evaluator used by Filter/Project nodes, and
// nested-merge materialization.
package exec

import (
	"strconv"
	"strings"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// argFrame is one level of Arg bindings, used when evaluating a Map/Any
// lambda body (Arg{0,0} bound to the current element) or a post-
// projection function (Arg{0,0} bound to the backend record).
type argFrame []ir.Value

// Evaluator evaluates a lowered, table-scoped expression against one or
// more in-memory rows. It is the executor's substitute for a driver: the
// planner only ever hands it expressions it has already proven are safe
// to run after the data comes back (post_filter, a non-identity
// returning projection, and NestedMerge qualifications/projections).
type Evaluator struct {
	db *schema.DbSchema
}

func NewEvaluator(db *schema.DbSchema) *Evaluator {
	return &Evaluator{db: db}
}

// Eval evaluates e. rows is the Reference/Key row stack (index 0 is the
// innermost/current scope, matching Reference.Nesting); args is the Arg
// binding stack (index 0 is the innermost Map/Any lambda frame).
func (ev *Evaluator) Eval(e ir.Expr, rows []ir.Value, args []argFrame) (ir.Value, error) {
	switch n := e.(type) {
	case *ir.Literal:
		return n.Value, nil

	case *ir.Reference:
		if n.Nesting < 0 || n.Nesting >= len(rows) {
			return ir.Value{}, ormerr.Bugf("exec: reference nesting %d out of range (have %d rows)", n.Nesting, len(rows))
		}
		row := rows[n.Nesting]
		switch n.Kind {
		case ir.RefModel:
			return row, nil
		case ir.RefColumn:
			idx, err := ev.columnIndex(n.Table, n.Column)
			if err != nil {
				return ir.Value{}, err
			}
			if row.Kind != ir.ValueRecord || idx >= len(row.Fields) {
				return ir.Value{}, ormerr.Bugf("exec: row for table %s is not a matching record", n.Table)
			}
			return row.Fields[idx], nil
		default:
			return ir.Value{}, ormerr.Bugf("exec: Reference{Field} survived lowering")
		}

	case *ir.Arg:
		if n.Nesting < 0 || n.Nesting >= len(args) {
			return ir.Value{}, ormerr.Bugf("exec: arg nesting %d out of range (have %d frames)", n.Nesting, len(args))
		}
		frame := args[n.Nesting]
		if n.Position < 0 || n.Position >= len(frame) {
			return ir.Value{}, ormerr.Bugf("exec: arg position %d out of range", n.Position)
		}
		v := frame[n.Position]
		for _, step := range n.Path {
			if v.Kind != ir.ValueRecord || step < 0 || step >= len(v.Fields) {
				return ir.Value{}, ormerr.Bugf("exec: arg path %v out of range", n.Path)
			}
			v = v.Fields[step]
		}
		return v, nil

	case *ir.Binary:
		l, err := ev.Eval(n.Left, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		r, err := ev.Eval(n.Right, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		return evalBinary(n.Op, l, r)

	case *ir.And:
		for _, op := range n.Operands {
			v, err := ev.Eval(op, rows, args)
			if err != nil {
				return ir.Value{}, err
			}
			if v.Kind != ir.ValueBool {
				return ir.Value{}, ormerr.Bugf("exec: And operand is not boolean")
			}
			if !v.Bool {
				return ir.BoolValue(false), nil
			}
		}
		return ir.BoolValue(true), nil

	case *ir.Or:
		for _, op := range n.Operands {
			v, err := ev.Eval(op, rows, args)
			if err != nil {
				return ir.Value{}, err
			}
			if v.Kind != ir.ValueBool {
				return ir.Value{}, ormerr.Bugf("exec: Or operand is not boolean")
			}
			if v.Bool {
				return ir.BoolValue(true), nil
			}
		}
		return ir.BoolValue(false), nil

	case *ir.Not:
		v, err := ev.Eval(n.Operand, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		return ir.BoolValue(!v.Bool), nil

	case *ir.IsNull:
		v, err := ev.Eval(n.Operand, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		return ir.BoolValue(v.IsNull()), nil

	case *ir.Record:
		fields := make([]ir.Value, len(n.Elements))
		for i, el := range n.Elements {
			v, err := ev.Eval(el, rows, args)
			if err != nil {
				return ir.Value{}, err
			}
			fields[i] = v
		}
		return ir.RecordValue(fields...), nil

	case *ir.List:
		elems := make([]ir.Value, len(n.Elements))
		for i, el := range n.Elements {
			v, err := ev.Eval(el, rows, args)
			if err != nil {
				return ir.Value{}, err
			}
			elems[i] = v
		}
		return ir.ListValue(elems...), nil

	case *ir.InList:
		target, err := ev.Eval(n.Target, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		list, err := ev.Eval(n.List, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		for _, elem := range list.Fields {
			if target.Equal(elem) {
				return ir.BoolValue(true), nil
			}
		}
		return ir.BoolValue(false), nil

	case *ir.InSubquery:
		return ir.Value{}, ormerr.New(ormerr.UnsupportedFeature, "exec: InSubquery cannot be evaluated in memory; the planner should have pushed it to the driver")

	case *ir.Project:
		base, err := ev.Eval(n.Base, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		if base.Kind != ir.ValueRecord || n.Path < 0 || n.Path >= len(base.Fields) {
			return ir.Value{}, ormerr.Bugf("exec: project path %d out of range", n.Path)
		}
		return base.Fields[n.Path], nil

	case *ir.Cast:
		base, err := ev.Eval(n.Base, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		return castValue(base, n.Target), nil

	case *ir.Concat:
		var fields []ir.Value
		for _, op := range n.Operands {
			v, err := ev.Eval(op, rows, args)
			if err != nil {
				return ir.Value{}, err
			}
			if v.Kind != ir.ValueRecord {
				return ir.Value{}, ormerr.Bugf("exec: Concat operand is not a record")
			}
			fields = append(fields, v.Fields...)
		}
		return ir.RecordValue(fields...), nil

	case *ir.ConcatStr:
		var s string
		for _, op := range n.Operands {
			v, err := ev.Eval(op, rows, args)
			if err != nil {
				return ir.Value{}, err
			}
			s += stringOf(v)
		}
		return ir.StringValue(s), nil

	case *ir.Map:
		base, err := ev.Eval(n.Base, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		out := make([]ir.Value, len(base.Fields))
		for i, elem := range base.Fields {
			v, err := ev.Eval(n.Body, rows, append([]argFrame{{elem}}, args...))
			if err != nil {
				return ir.Value{}, err
			}
			out[i] = v
		}
		return ir.ListValue(out...), nil

	case *ir.Any:
		base, err := ev.Eval(n.Base, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		for _, elem := range base.Fields {
			v, err := ev.Eval(n.Pred, rows, append([]argFrame{{elem}}, args...))
			if err != nil {
				return ir.Value{}, err
			}
			if v.Kind == ir.ValueBool && v.Bool {
				return ir.BoolValue(true), nil
			}
		}
		return ir.BoolValue(false), nil

	case *ir.StmtExpr:
		return ir.Value{}, ormerr.New(ormerr.UnsupportedFeature, "exec: a nested statement value must be resolved by the driver, not the in-memory evaluator")

	case *ir.Aggregate:
		return ir.Value{}, ormerr.Bugf("exec: aggregates fold over row sets and are evaluated by the driver, never row-wise")

	case *ir.Key:
		return ir.Value{}, ormerr.Bugf("exec: Key survived lowering")

	case *ir.DecodeEnum:
		base, err := ev.Eval(n.Base, rows, args)
		if err != nil {
			return ir.Value{}, err
		}
		switch {
		case base.Kind == ir.ValueEnumPayload:
			return base, nil
		case base.Kind == ir.ValueString:
			return ir.DecodeEnumWire(base.Str)
		case base.Kind == ir.ValueRecord && len(base.Fields) == 2:
			return ir.EnumPayloadValue(base.Fields[0].Int, base.Fields[1]), nil
		}
		return ir.Value{}, ormerr.Bugf("exec: DecodeEnum operand is not a stored enum form")

	default:
		return ir.Value{}, ormerr.Bugf("exec: unhandled expression type %T", e)
	}
}

func (ev *Evaluator) columnIndex(table, column string) (int, error) {
	t, err := ev.db.Table(table)
	if err != nil {
		return 0, err
	}
	for i := range t.Columns {
		if t.Columns[i].Name == column {
			return i, nil
		}
	}
	return 0, ormerr.Bugf("exec: table %s has no column %q", table, column)
}

func evalBinary(op ir.BinaryOp, l, r ir.Value) (ir.Value, error) {
	switch op {
	case ir.OpEq:
		return ir.BoolValue(l.Equal(r)), nil
	case ir.OpNeq:
		return ir.BoolValue(!l.Equal(r)), nil
	case ir.OpLt, ir.OpLte, ir.OpGt, ir.OpGte:
		cmp, ok := compare(l, r)
		if !ok {
			return ir.Value{}, ormerr.Bugf("exec: cannot compare %v and %v", l.Kind, r.Kind)
		}
		switch op {
		case ir.OpLt:
			return ir.BoolValue(cmp < 0), nil
		case ir.OpLte:
			return ir.BoolValue(cmp <= 0), nil
		case ir.OpGt:
			return ir.BoolValue(cmp > 0), nil
		default:
			return ir.BoolValue(cmp >= 0), nil
		}
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv:
		return arith(op, l, r)
	case ir.OpBeginsWith:
		if r.Kind != ir.ValueString {
			return ir.Value{}, ormerr.Bugf("exec: begins_with prefix is not a string")
		}
		return ir.BoolValue(strings.HasPrefix(wireString(l), r.Str)), nil
	default:
		return ir.Value{}, ormerr.Bugf("exec: unhandled binary op %v", op)
	}
}

// wireString is the stored-form string a value compares against in a
// prefix test: enum payloads render through their wire encoding, so an
// in-memory begins_with agrees with what the backend evaluates on the
// stored column.
func wireString(v ir.Value) string {
	if v.Kind == ir.ValueEnumPayload {
		if wire, err := ir.EncodeEnumWire(v); err == nil {
			return wire
		}
	}
	return stringOf(v)
}

func numeric(v ir.Value) (float64, bool) {
	switch v.Kind {
	case ir.ValueInt64:
		return float64(v.Int), true
	case ir.ValueFloat64:
		return v.Float, true
	default:
		return 0, false
	}
}

func compare(l, r ir.Value) (int, bool) {
	if lf, ok := numeric(l); ok {
		if rf, ok := numeric(r); ok {
			switch {
			case lf < rf:
				return -1, true
			case lf > rf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if l.Kind == ir.ValueString && r.Kind == ir.ValueString {
		switch {
		case l.Str < r.Str:
			return -1, true
		case l.Str > r.Str:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func arith(op ir.BinaryOp, l, r ir.Value) (ir.Value, error) {
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if !lok || !rok {
		return ir.Value{}, ormerr.Bugf("exec: arithmetic on non-numeric operands")
	}
	var out float64
	switch op {
	case ir.OpAdd:
		out = lf + rf
	case ir.OpSub:
		out = lf - rf
	case ir.OpMul:
		out = lf * rf
	case ir.OpDiv:
		out = lf / rf
	}
	if l.Kind == ir.ValueInt64 && r.Kind == ir.ValueInt64 && op != ir.OpDiv {
		return ir.Int64Value(int64(out)), nil
	}
	return ir.Float64Value(out), nil
}

func castValue(v ir.Value, target ir.Type) ir.Value {
	switch target.Kind {
	case ir.TFloat64:
		if f, ok := numeric(v); ok {
			return ir.Float64Value(f)
		}
	case ir.TInt64:
		if f, ok := numeric(v); ok {
			return ir.Int64Value(int64(f))
		}
	case ir.TID:
		if v.Kind == ir.ValueTypedID {
			return *v.IDValue
		}
		return v
	}
	return v
}

func stringOf(v ir.Value) string {
	switch v.Kind {
	case ir.ValueString, ir.ValueUUID:
		return v.Str
	case ir.ValueInt64:
		return strconv.FormatInt(v.Int, 10)
	default:
		return ""
	}
}
