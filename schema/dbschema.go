package schema

import (
	"fmt"

	"github.com/latticeorm/lattice/ir"
)

// StorageKind is the closed set of how a backend physically stores a
// column's value, independent of the application-level ir.Type the
// engine reasons about.
type StorageKind int

const (
	StoreVarchar StorageKind = iota
	StoreText
	StoreInteger
	StoreBigInt
	StoreFloat
	StoreBoolean
	StoreTimestamp
	StoreJSON
	StoreUUID
	StoreBlob
	StoreCustom
)

// StorageType pairs a StorageKind with backend-specific parameters
// (varchar length, a custom type name).
type StorageType struct {
	Kind       StorageKind
	Length     int    // StoreVarchar
	CustomName string // StoreCustom
}

// IndexColumnOp constrains how a column participates in an index scan:
// equality-only (hash/partition-style lookups) or range-capable (sorted
// scans, BETWEEN, comparisons).
type IndexColumnOp int

const (
	OpEquality IndexColumnOp = iota
	OpRange
)

// IndexScope distinguishes a partition-style index column (KV/document
// backends: exact-match routing key) from a local/sort column (ordered
// within a partition, or any column of a plain relational index).
type IndexScope int

const (
	ScopePartition IndexScope = iota
	ScopeLocal
)

// Column is one physical table column.
type Column struct {
	Name          string
	AppType       ir.Type
	Storage       StorageType
	Nullable      bool
	AutoIncrement bool
}

// IndexColumn is one column of a DbIndex plus its operation constraint
// and scope.
type IndexColumn struct {
	Column string
	Op     IndexColumnOp
	Scope  IndexScope
}

// DbIndex is a physical index: an ordered list of columns, uniqueness,
// and whether it is the table's primary key. Exactly one index per table
// has PrimaryKey set.
type DbIndex struct {
	Name       string
	Columns    []IndexColumn
	Unique     bool
	PrimaryKey bool
}

func (idx DbIndex) ColumnNames() []string {
	names := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		names[i] = c.Column
	}
	return names
}

// Table is one physical table: its columns and indices.
type Table struct {
	Name    string
	Columns []Column
	Indices []DbIndex
}

func (t *Table) Column(name string) (*Column, error) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], nil
		}
	}
	return nil, fmt.Errorf("table %s: column %q not found", t.Name, name)
}

// PrimaryKeyIndex returns the table's sole primary-key index.
func (t *Table) PrimaryKeyIndex() (*DbIndex, error) {
	for i := range t.Indices {
		if t.Indices[i].PrimaryKey {
			return &t.Indices[i], nil
		}
	}
	return nil, fmt.Errorf("table %s: no primary key index", t.Name)
}

// DbSchema is the database-level half of the two-layer schema: every
// physical table known to the mapped model set.
type DbSchema struct {
	Tables map[string]*Table
}

func NewDbSchema() *DbSchema {
	return &DbSchema{Tables: make(map[string]*Table)}
}

func (s *DbSchema) AddTable(t *Table) { s.Tables[t.Name] = t }

func (s *DbSchema) Table(name string) (*Table, error) {
	t, ok := s.Tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q not found", name)
	}
	return t, nil
}
