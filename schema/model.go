// Package schema defines the two-layer application/database schema and
// the bidirectional mapping that bridges them.
package schema

import (
	"fmt"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
)

// ModelKind is the closed tagged union of model variants.
type ModelKind int

const (
	KindRoot ModelKind = iota
	KindEmbeddedStruct
	KindEmbeddedEnum
)

// Model is the sealed interface every model variant satisfies. Callers
// that require a root use ExpectRoot rather than a type switch.
type Model interface {
	Kind() ModelKind
	ModelName() string
}

// Field is one ordered member of a model's field list.
type Field struct {
	Name     string
	Type     ir.Type
	Nullable bool
}

// PrimaryKey is an ordered list of field indices forming the primary key.
type PrimaryKey struct {
	FieldIndices []int
}

func (pk PrimaryKey) Composite() bool { return len(pk.FieldIndices) > 1 }

// AppIndex is an application-level secondary index declaration (distinct
// from the database-level Index, which additionally knows about storage
// scope and per-column operation support).
type AppIndex struct {
	Name         string
	FieldIndices []int
	Unique       bool
}

// RootModel is backed by its own table and has a primary key; it is the
// only kind that may be queried directly.
type RootModel struct {
	ID               int
	Name             string
	Fields           []Field
	PrimaryKey       PrimaryKey
	Indices          []AppIndex
	TableNameOverride string
	Relations        map[string]Relation
}

func (m *RootModel) Kind() ModelKind   { return KindRoot }
func (m *RootModel) ModelName() string { return m.Name }

func (m *RootModel) GetField(index int) (*Field, error) {
	if index < 0 || index >= len(m.Fields) {
		return nil, fmt.Errorf("model %s: field index %d out of range", m.Name, index)
	}
	return &m.Fields[index], nil
}

func (m *RootModel) FieldIndex(name string) (int, error) {
	for i, f := range m.Fields {
		if f.Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("model %s: field %q not found", m.Name, name)
}

// EmbeddedStructModel's fields flatten into a parent model's storage.
type EmbeddedStructModel struct {
	ID     int
	Name   string
	Fields []Field
}

func (m *EmbeddedStructModel) Kind() ModelKind   { return KindEmbeddedStruct }
func (m *EmbeddedStructModel) ModelName() string { return m.Name }

// EnumVariant is one arm of an embedded enum: a discriminant name plus an
// optional struct-shaped payload (a nil Payload means a unit variant).
type EnumVariant struct {
	Name    string
	Payload *EmbeddedStructModel
}

// EmbeddedEnumModel is stored as a discriminant integer plus per-variant
// payload.
type EmbeddedEnumModel struct {
	ID       int
	Name     string
	Variants []EnumVariant
}

func (m *EmbeddedEnumModel) Kind() ModelKind   { return KindEmbeddedEnum }
func (m *EmbeddedEnumModel) ModelName() string { return m.Name }

// ExpectRoot downcasts Model to *RootModel, failing with an InvalidSchema
// error rather than a silent type assertion.
func ExpectRoot(m Model) (*RootModel, error) {
	root, ok := m.(*RootModel)
	if !ok {
		return nil, ormerr.New(ormerr.InvalidSchema, "model %q is not a root model (kind=%v)", m.ModelName(), m.Kind())
	}
	return root, nil
}
