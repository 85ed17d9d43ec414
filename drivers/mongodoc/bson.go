package mongodoc

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// compileFilter renders e as a bson.M query filter. It accepts the same
// primitive set sqltext.Compiler.Compile does (Literal, Reference{Column},
// Binary, And, Or, Not, IsNull, InList) so the planner's residual
// result_filter expressions run unmodified against either backend family.
func compileFilter(e ir.Expr) (bson.M, error) {
	switch n := e.(type) {
	case *ir.And:
		return joinLogical("$and", n.Operands)
	case *ir.Or:
		return joinLogical("$or", n.Operands)
	case *ir.Not:
		inner, err := compileFilter(n.Operand)
		if err != nil {
			return nil, err
		}
		return bson.M{"$nor": bson.A{inner}}, nil
	case *ir.IsNull:
		field, err := columnName(n.Operand)
		if err != nil {
			return nil, err
		}
		return bson.M{field: bson.M{"$eq": nil}}, nil
	case *ir.Binary:
		return compileComparison(n)
	case *ir.InList:
		field, err := columnName(n.Target)
		if err != nil {
			return nil, err
		}
		list, ok := n.List.(*ir.List)
		if !ok {
			return nil, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: InList requires a literal list")
		}
		vals := make(bson.A, len(list.Elements))
		for i, el := range list.Elements {
			lit, ok := el.(*ir.Literal)
			if !ok {
				return nil, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: InList element must be literal")
			}
			vals[i] = toBSON(lit.Value)
		}
		return bson.M{field: bson.M{"$in": vals}}, nil
	default:
		return nil, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: expression %T cannot be pushed down", e)
	}
}

func joinLogical(op string, operands []ir.Expr) (bson.M, error) {
	if len(operands) == 0 {
		if op == "$and" {
			return bson.M{}, nil
		}
		return bson.M{"_id": bson.M{"$exists": false}}, nil // Or([]) == false: match nothing
	}
	parts := make(bson.A, len(operands))
	for i, o := range operands {
		f, err := compileFilter(o)
		if err != nil {
			return nil, err
		}
		parts[i] = f
	}
	return bson.M{op: parts}, nil
}

func compileComparison(b *ir.Binary) (bson.M, error) {
	field, lit, swapped, err := splitComparison(b)
	if err != nil {
		return nil, err
	}
	op := b.Op
	if swapped {
		op = flipOperands(op)
	}
	if op == ir.OpBeginsWith {
		if lit.Value.Kind != ir.ValueString {
			return nil, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: begins_with needs a literal string prefix")
		}
		return bson.M{field: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(lit.Value.Str)}}, nil
	}
	mongoOp, err := comparisonOperator(op)
	if err != nil {
		return nil, err
	}
	if mongoOp == "" {
		return bson.M{field: toBSON(lit.Value)}, nil
	}
	return bson.M{field: bson.M{mongoOp: toBSON(lit.Value)}}, nil
}

// flipOperands mirrors a comparison operator when the column reference
// appeared on the right-hand side (`5 < col` becomes `col > 5`).
func flipOperands(op ir.BinaryOp) ir.BinaryOp {
	switch op {
	case ir.OpLt:
		return ir.OpGt
	case ir.OpLte:
		return ir.OpGte
	case ir.OpGt:
		return ir.OpLt
	case ir.OpGte:
		return ir.OpLte
	default:
		return op
	}
}

func splitComparison(b *ir.Binary) (field string, lit *ir.Literal, swapped bool, err error) {
	if f, ferr := columnName(b.Left); ferr == nil {
		l, ok := b.Right.(*ir.Literal)
		if !ok {
			return "", nil, false, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: comparison against a non-literal is not supported")
		}
		return f, l, false, nil
	}
	f, ferr := columnName(b.Right)
	if ferr != nil {
		return "", nil, false, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: comparison has no column reference")
	}
	l, ok := b.Left.(*ir.Literal)
	if !ok {
		return "", nil, false, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: comparison against a non-literal is not supported")
	}
	return f, l, true, nil
}

func comparisonOperator(op ir.BinaryOp) (string, error) {
	switch op {
	case ir.OpEq:
		return "", nil
	case ir.OpNeq:
		return "$ne", nil
	case ir.OpLt:
		return "$lt", nil
	case ir.OpLte:
		return "$lte", nil
	case ir.OpGt:
		return "$gt", nil
	case ir.OpGte:
		return "$gte", nil
	default:
		return "", ormerr.New(ormerr.UnsupportedFeature, "mongodoc: operator %v cannot be filtered", op)
	}
}

func columnName(e ir.Expr) (string, error) {
	ref, ok := e.(*ir.Reference)
	if !ok || ref.Kind != ir.RefColumn {
		return "", ormerr.Bugf("mongodoc: expected a column reference, got %T", e)
	}
	return ref.Column, nil
}

// keyFilter renders the filter matching the given key values over idx's
// columns: a single-field $in for a scalar index, or an $or of per-row
// $and-equality documents for a composite one (mirrors sqltext's
// KeyPredicate; Mongo has no portable tuple-IN either).
func keyFilter(idx *schema.DbIndex, keys []ir.Value) bson.M {
	if len(keys) == 0 {
		return bson.M{"_id": bson.M{"$exists": false}}
	}
	if len(idx.Columns) == 1 {
		vals := make(bson.A, len(keys))
		for i, k := range keys {
			vals[i] = toBSON(keyField(k, 0))
		}
		return bson.M{idx.Columns[0].Column: bson.M{"$in": vals}}
	}
	rows := make(bson.A, len(keys))
	for i, k := range keys {
		row := bson.M{}
		for j, ic := range idx.Columns {
			row[ic.Column] = toBSON(keyField(k, j))
		}
		rows[i] = row
	}
	return bson.M{"$or": rows}
}

func keyField(k ir.Value, i int) ir.Value {
	if k.Kind == ir.ValueRecord {
		return k.Fields[i]
	}
	return k
}

// compileAssignments renders Update SET/append/remove ops into a mongo
// update document. AssignInsert/AssignRemove map to $push/$pull, the
// native array-mutation mongo offers that the relational drivers reject
// (sqltext.BuildUpdate returns UnsupportedFeature for them); this is
// the one place a document store's capability genuinely exceeds SQL's.
func compileAssignments(assigns []ir.Assignment) (bson.M, error) {
	set := bson.M{}
	push := bson.M{}
	pull := bson.M{}
	for _, a := range assigns {
		if a.TargetKind != ir.AssignColumn {
			return nil, ormerr.Bugf("mongodoc: Assignment{Field} survived lowering")
		}
		lit, ok := a.Value.(*ir.Literal)
		if !ok {
			return nil, ormerr.New(ormerr.UnsupportedFeature, "mongodoc: assignment value must be literal")
		}
		switch a.Op {
		case ir.AssignSet:
			set[a.Column] = toBSON(lit.Value)
		case ir.AssignInsert:
			push[a.Column] = toBSON(lit.Value)
		case ir.AssignRemove:
			pull[a.Column] = toBSON(lit.Value)
		}
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(push) > 0 {
		update["$push"] = push
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	return update, nil
}

// toBSON converts an ir.Value literal to the native Go value the mongo
// driver's bson codec expects.
func toBSON(v ir.Value) any {
	switch v.Kind {
	case ir.ValueNull:
		return nil
	case ir.ValueString, ir.ValueUUID:
		return v.Str
	case ir.ValueInt64:
		return v.Int
	case ir.ValueFloat64:
		return v.Float
	case ir.ValueBool:
		return v.Bool
	case ir.ValueTypedID:
		return toBSON(*v.IDValue)
	case ir.ValueEnumPayload:
		wire, err := ir.EncodeEnumWire(v)
		if err != nil {
			return v.String()
		}
		return wire
	case ir.ValueList:
		out := make(bson.A, len(v.Fields))
		for i, f := range v.Fields {
			out[i] = toBSON(f)
		}
		return out
	case ir.ValueRecord:
		out := make(bson.A, len(v.Fields))
		for i, f := range v.Fields {
			out[i] = toBSON(f)
		}
		return out
	default:
		return v.String()
	}
}

// fromBSON converts a decoded document field back to an ir.Value per
// col's application-level Type, mirroring sqlcore.valueFromSQL; numeric
// widening happens here, at the driver layer, never in the core.
func fromBSON(raw any, col schema.Column) ir.Value {
	if raw == nil {
		return ir.NullValue
	}
	t := col.AppType
	switch t.Kind {
	case ir.TInt64:
		return ir.Int64Value(asInt64(raw))
	case ir.TFloat64, ir.TDecimal:
		return ir.Float64Value(asFloat64(raw))
	case ir.TBool:
		b, _ := raw.(bool)
		return ir.BoolValue(b)
	case ir.TUUID:
		s, _ := raw.(string)
		return ir.UUIDValue(s)
	case ir.TEnum:
		s, _ := raw.(string)
		v, err := ir.DecodeEnumWire(s)
		if err != nil {
			return ir.StringValue(s)
		}
		return v
	case ir.TID:
		if col.Storage.Kind == schema.StoreInteger || col.Storage.Kind == schema.StoreBigInt {
			return ir.TypedIDValue(t.Model, ir.Int64Value(asInt64(raw)))
		}
		s, _ := raw.(string)
		return ir.TypedIDValue(t.Model, ir.StringValue(s))
	case ir.TOption:
		if t.Elem != nil {
			return fromBSON(raw, schema.Column{AppType: *t.Elem, Storage: col.Storage})
		}
		s, _ := raw.(string)
		return ir.StringValue(s)
	default:
		s, _ := raw.(string)
		return ir.StringValue(s)
	}
}

func asInt64(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func asFloat64(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return 0
	}
}
