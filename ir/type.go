package ir

import "fmt"

// TypeKind is the application-level type system used by InferType and
// by Cast. It is intentionally small: the engine trusts the schema for
// anything richer (e.g. storage-level precision) and only needs enough
// here to type-check expressions and drive Cast/DecodeEnum.
type TypeKind int

const (
	TString TypeKind = iota
	TInt64
	TFloat64
	TBool
	TDateTime
	TJSON
	TDecimal
	TUUID
	TID     // typed id referencing a model
	TEnum   // embedded enum referencing an enum model
	TRecord // fixed-arity tuple
	TList   // homogeneous list
	TOption // nullable wrapper
	TUnknown
)

// Type is a recursive type descriptor: Record types carry field types,
// List/Option carry one element type, Id and Enum carry the referenced
// model name.
type Type struct {
	Kind   TypeKind
	Model  string // TID, TEnum
	Fields []Type // TRecord
	Elem   *Type  // TList, TOption
}

func Scalar(k TypeKind) Type { return Type{Kind: k} }

func IDType(model string) Type { return Type{Kind: TID, Model: model} }

func EnumType(model string) Type { return Type{Kind: TEnum, Model: model} }

func RecordType(fields ...Type) Type { return Type{Kind: TRecord, Fields: fields} }

func ListType(elem Type) Type { return Type{Kind: TList, Elem: &elem} }

func OptionType(elem Type) Type { return Type{Kind: TOption, Elem: &elem} }

func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case TID, TEnum:
		return t.Model == other.Model
	case TRecord:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			if !t.Fields[i].Equal(other.Fields[i]) {
				return false
			}
		}
		return true
	case TList, TOption:
		if t.Elem == nil || other.Elem == nil {
			return t.Elem == other.Elem
		}
		return t.Elem.Equal(*other.Elem)
	default:
		return true
	}
}

func (t Type) String() string {
	switch t.Kind {
	case TID:
		return fmt.Sprintf("Id(%s)", t.Model)
	case TEnum:
		return fmt.Sprintf("Enum(%s)", t.Model)
	case TRecord:
		return fmt.Sprintf("Record%v", t.Fields)
	case TList:
		return fmt.Sprintf("List<%v>", *t.Elem)
	case TOption:
		return fmt.Sprintf("Option<%v>", *t.Elem)
	default:
		names := [...]string{"String", "Int64", "Float64", "Bool", "DateTime", "JSON", "Decimal", "UUID"}
		if int(t.Kind) < len(names) {
			return names[t.Kind]
		}
		return "Unknown"
	}
}
