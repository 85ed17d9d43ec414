package ir

import "fmt"

// Env resolves the type of a scope-relative reference. Simplify, Lower,
// and Plan each supply an Env backed by the schema/mapping objects
// appropriate to the pass; an expression's inferred type is always
// relative to whatever Env the caller is type-checking against.
type Env interface {
	FieldType(nesting, index int) (Type, error)
	ColumnType(nesting int, table, column string) (Type, error)
	ModelType(nesting int) (Type, error)
	ArgType(position int) (Type, error)
}

// InferType computes e's static type under env. It is intentionally
// permissive about numeric widening (Int64/Float64 compare/combine
// freely) since storage-level widening is a driver concern,
// not a core type-checking concern.
func InferType(e Expr, env Env) (Type, error) {
	switch n := e.(type) {
	case *Literal:
		return literalType(n.Value), nil
	case *Reference:
		switch n.Kind {
		case RefField:
			return env.FieldType(n.Nesting, n.Index)
		case RefColumn:
			return env.ColumnType(n.Nesting, n.Table, n.Column)
		case RefModel:
			return env.ModelType(n.Nesting)
		}
		return Type{}, fmt.Errorf("ir: reference has no kind")
	case *Arg:
		t, err := env.ArgType(n.Position)
		if err != nil {
			return Type{}, err
		}
		for _, step := range n.Path {
			if t.Kind != TRecord || step < 0 || step >= len(t.Fields) {
				return Type{}, fmt.Errorf("ir: arg path %v out of range for %v", n.Path, t)
			}
			t = t.Fields[step]
		}
		return t, nil
	case *Binary:
		switch n.Op {
		case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte, OpBeginsWith:
			return Scalar(TBool), nil
		default:
			return InferType(n.Left, env)
		}
	case *And, *Or, *Not, *IsNull, *InList, *InSubquery, *Any:
		return Scalar(TBool), nil
	case *Record:
		fields := make([]Type, len(n.Elements))
		for i, el := range n.Elements {
			t, err := InferType(el, env)
			if err != nil {
				return Type{}, err
			}
			fields[i] = t
		}
		return RecordType(fields...), nil
	case *List:
		if len(n.Elements) == 0 {
			return ListType(Scalar(TUnknown)), nil
		}
		t, err := InferType(n.Elements[0], env)
		if err != nil {
			return Type{}, err
		}
		return ListType(t), nil
	case *Project:
		base, err := InferType(n.Base, env)
		if err != nil {
			return Type{}, err
		}
		if base.Kind != TRecord || n.Path < 0 || n.Path >= len(base.Fields) {
			return Type{}, fmt.Errorf("ir: project path %d out of range for %v", n.Path, base)
		}
		return base.Fields[n.Path], nil
	case *Cast:
		return n.Target, nil
	case *Concat:
		var fields []Type
		for _, op := range n.Operands {
			t, err := InferType(op, env)
			if err != nil {
				return Type{}, err
			}
			if t.Kind == TRecord {
				fields = append(fields, t.Fields...)
			} else {
				fields = append(fields, t)
			}
		}
		return RecordType(fields...), nil
	case *ConcatStr:
		return Scalar(TString), nil
	case *Map:
		baseT, err := InferType(n.Base, env)
		if err != nil {
			return Type{}, err
		}
		elem := Scalar(TUnknown)
		if baseT.Kind == TList && baseT.Elem != nil {
			elem = *baseT.Elem
		}
		bodyEnv := &elementEnv{parent: env, elem: elem}
		bodyT, err := InferType(n.Body, bodyEnv)
		if err != nil {
			return Type{}, err
		}
		return ListType(bodyT), nil
	case *Aggregate:
		switch n.Fn {
		case AggCount:
			return Scalar(TInt64), nil
		case AggAvg:
			return Scalar(TFloat64), nil
		default:
			// Sum/Min/Max take the operand's own type.
			return InferType(n.Operand, env)
		}
	case *StmtExpr:
		return Scalar(TUnknown), nil
	case *Key:
		return Scalar(TUnknown), nil
	case *DecodeEnum:
		return Scalar(TUnknown), nil
	default:
		return Type{}, fmt.Errorf("ir: infer: unhandled expr %T", e)
	}
}

func literalType(v Value) Type {
	switch v.Kind {
	case ValueNull:
		return OptionType(Scalar(TUnknown))
	case ValueString:
		return Scalar(TString)
	case ValueInt64:
		return Scalar(TInt64)
	case ValueFloat64:
		return Scalar(TFloat64)
	case ValueBool:
		return Scalar(TBool)
	case ValueUUID:
		return Scalar(TUUID)
	case ValueRecord:
		fields := make([]Type, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = literalType(f)
		}
		return RecordType(fields...)
	case ValueList:
		if len(v.Fields) == 0 {
			return ListType(Scalar(TUnknown))
		}
		return ListType(literalType(v.Fields[0]))
	case ValueTypedID:
		return IDType(v.ModelName)
	case ValueEnumPayload:
		return Scalar(TUnknown)
	default:
		return Scalar(TUnknown)
	}
}

// elementEnv shadows Arg{Position: 0} with a Map body's element type
// while delegating everything else, including Args at other positions
// and nested-scope references, to the parent Env.
type elementEnv struct {
	parent Env
	elem   Type
}

func (e *elementEnv) FieldType(nesting, index int) (Type, error) {
	return e.parent.FieldType(nesting, index)
}
func (e *elementEnv) ColumnType(nesting int, table, column string) (Type, error) {
	return e.parent.ColumnType(nesting, table, column)
}
func (e *elementEnv) ModelType(nesting int) (Type, error) { return e.parent.ModelType(nesting) }
func (e *elementEnv) ArgType(position int) (Type, error) {
	if position == 0 {
		return e.elem, nil
	}
	return e.parent.ArgType(position)
}
