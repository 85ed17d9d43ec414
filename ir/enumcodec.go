package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// An embedded enum stores in one column as "<discriminant>#<payload>",
// with the payload JSON-encoded (null for a unit variant). The prefix
// makes a variant-only filter expressible as a plain string prefix
// check on the column, which every backend can evaluate server-side.

// EnumWirePrefix returns the stored-form prefix shared by every value of
// the given variant, the right-hand side of an IsVariant check.
func EnumWirePrefix(variant int64) string {
	return strconv.FormatInt(variant, 10) + "#"
}

// EncodeEnumWire renders an EnumPayload value into its stored form.
func EncodeEnumWire(v Value) (string, error) {
	if v.Kind != ValueEnumPayload {
		return "", fmt.Errorf("ir: cannot wire-encode %v as an enum", v.Kind)
	}
	payload, err := json.Marshal(jsonValue(*v.PayloadVal))
	if err != nil {
		return "", fmt.Errorf("ir: encode enum payload: %w", err)
	}
	return EnumWirePrefix(v.Variant) + string(payload), nil
}

// DecodeEnumWire parses a stored "<discriminant>#<payload>" string back
// into an EnumPayload value.
func DecodeEnumWire(s string) (Value, error) {
	head, rest, ok := strings.Cut(s, "#")
	if !ok {
		return Value{}, fmt.Errorf("ir: %q is not a stored enum (no discriminant separator)", s)
	}
	variant, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("ir: enum discriminant %q: %w", head, err)
	}
	var raw any
	if err := json.Unmarshal([]byte(rest), &raw); err != nil {
		return Value{}, fmt.Errorf("ir: decode enum payload: %w", err)
	}
	return EnumPayloadValue(variant, valueFromJSON(raw)), nil
}

// jsonValue converts a payload Value into the shape encoding/json
// marshals directly. Payloads are scalars or records of scalars.
func jsonValue(v Value) any {
	switch v.Kind {
	case ValueNull:
		return nil
	case ValueString, ValueUUID:
		return v.Str
	case ValueInt64:
		return v.Int
	case ValueFloat64:
		return v.Float
	case ValueBool:
		return v.Bool
	case ValueRecord, ValueList:
		out := make([]any, len(v.Fields))
		for i, f := range v.Fields {
			out[i] = jsonValue(f)
		}
		return out
	default:
		return v.String()
	}
}

func valueFromJSON(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return NullValue
	case string:
		return StringValue(v)
	case float64:
		// JSON has one number shape; an integral payload stays integral.
		if v == float64(int64(v)) {
			return Int64Value(int64(v))
		}
		return Float64Value(v)
	case bool:
		return BoolValue(v)
	case []any:
		fields := make([]Value, len(v))
		for i, el := range v {
			fields[i] = valueFromJSON(el)
		}
		return RecordValue(fields...)
	default:
		return NullValue
	}
}
