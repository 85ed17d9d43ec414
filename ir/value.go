package ir

import "fmt"

// ValueKind tags the variant of a Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueString
	ValueInt64
	ValueFloat64
	ValueBool
	ValueUUID
	ValueRecord
	ValueList
	ValueTypedID
	ValueEnumPayload
)

// Value mirrors Expr's Literal payload: the closed set of runtime values
// the engine passes between IR, driver, and value streams. It is never
// constructed with Go's zero value directly outside this package except
// via NullValue, which is also the zero value.
type Value struct {
	Kind   ValueKind
	Str    string
	Int    int64
	Float  float64
	Bool   bool
	Fields []Value // Record, List

	// TypedID
	ModelName string
	IDValue   *Value

	// EnumPayload
	Variant    int64
	PayloadVal *Value
}

// NullValue is the canonical null.
var NullValue = Value{Kind: ValueNull}

func StringValue(s string) Value  { return Value{Kind: ValueString, Str: s} }
func Int64Value(i int64) Value    { return Value{Kind: ValueInt64, Int: i} }
func Float64Value(f float64) Value { return Value{Kind: ValueFloat64, Float: f} }
func BoolValue(b bool) Value      { return Value{Kind: ValueBool, Bool: b} }
func UUIDValue(s string) Value    { return Value{Kind: ValueUUID, Str: s} }

func RecordValue(fields ...Value) Value { return Value{Kind: ValueRecord, Fields: fields} }
func ListValue(elems ...Value) Value    { return Value{Kind: ValueList, Fields: elems} }

func TypedIDValue(model string, id Value) Value {
	return Value{Kind: ValueTypedID, ModelName: model, IDValue: &id}
}

func EnumPayloadValue(variant int64, payload Value) Value {
	return Value{Kind: ValueEnumPayload, Variant: variant, PayloadVal: &payload}
}

func (v Value) IsNull() bool { return v.Kind == ValueNull }

// Equal performs a structural comparison; used by the simplifier's
// constant-folding and by the planner's key-set comparisons.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		// allow numeric cross-kind equality (int literal vs float literal)
		if (v.Kind == ValueInt64 && other.Kind == ValueFloat64) {
			return float64(v.Int) == other.Float
		}
		if v.Kind == ValueFloat64 && other.Kind == ValueInt64 {
			return v.Float == float64(other.Int)
		}
		return false
	}
	switch v.Kind {
	case ValueNull:
		return true
	case ValueString, ValueUUID:
		return v.Str == other.Str
	case ValueInt64:
		return v.Int == other.Int
	case ValueFloat64:
		return v.Float == other.Float
	case ValueBool:
		return v.Bool == other.Bool
	case ValueRecord, ValueList:
		if len(v.Fields) != len(other.Fields) {
			return false
		}
		for i := range v.Fields {
			if !v.Fields[i].Equal(other.Fields[i]) {
				return false
			}
		}
		return true
	case ValueTypedID:
		return v.ModelName == other.ModelName && v.IDValue.Equal(*other.IDValue)
	case ValueEnumPayload:
		return v.Variant == other.Variant && v.PayloadVal.Equal(*other.PayloadVal)
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValueString:
		return fmt.Sprintf("%q", v.Str)
	case ValueUUID:
		return "uuid(" + v.Str + ")"
	case ValueInt64:
		return fmt.Sprintf("%d", v.Int)
	case ValueFloat64:
		return fmt.Sprintf("%g", v.Float)
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueRecord:
		return fmt.Sprintf("record%v", v.Fields)
	case ValueList:
		return fmt.Sprintf("list%v", v.Fields)
	case ValueTypedID:
		return fmt.Sprintf("id(%s, %v)", v.ModelName, *v.IDValue)
	case ValueEnumPayload:
		return fmt.Sprintf("enum(%d, %v)", v.Variant, *v.PayloadVal)
	default:
		return "<unknown value>"
	}
}

// AsBool extracts a boolean literal; used by constant folding to short
// circuit And/Or/Not on fully-literal operands.
func (v Value) AsBool() (bool, bool) {
	if v.Kind == ValueBool {
		return v.Bool, true
	}
	return false, false
}
