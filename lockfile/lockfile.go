// Package lockfile persists a schema.DbSchema as a TOML document, the
// on-disk record a migration tool diffs against before generating DDL.
// Grounded on the pack's schema-config tools that round-trip a physical
// schema through a structured config file (a TOML "lock file" plays the
// same role here that a BurntSushi/toml-parsed schema file plays for
// those tools), using github.com/pelletier/go-toml/v2 for the encode/
// decode step.
package lockfile

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// CurrentVersion is the lock file format version this package writes and
// the only version it reads without complaint.
const CurrentVersion = 1

// File is the top-level TOML document: a format version plus the
// database-level schema snapshot.
type File struct {
	Version int        `toml:"version"`
	Schema  tomlSchema `toml:"schema"`
}

type tomlSchema struct {
	Tables []tomlTable `toml:"tables"`
}

type tomlTable struct {
	Name    string       `toml:"name"`
	Columns []tomlColumn `toml:"columns"`
	Indices []tomlIndex  `toml:"indices"`
}

type tomlColumn struct {
	Name          string      `toml:"name"`
	AppType       tomlType    `toml:"app_type"`
	Storage       tomlStorage `toml:"storage"`
	Nullable      bool        `toml:"nullable"`
	AutoIncrement bool        `toml:"auto_increment"`
}

// tomlType is a tagged-variant rendering of ir.Type: Kind names the
// variant, and only the fields that variant uses are populated (mirrors
// how the IR's own Value/Type tagged unions are already documented).
type tomlType struct {
	Kind   string     `toml:"kind"`
	Model  string     `toml:"model,omitempty"`  // TID, TEnum
	Fields []tomlType `toml:"fields,omitempty"` // TRecord
	Elem   *tomlType  `toml:"elem,omitempty"`   // TList, TOption
}

type tomlStorage struct {
	Kind       string `toml:"kind"`
	Length     int    `toml:"length,omitempty"`
	CustomName string `toml:"custom_name,omitempty"`
}

type tomlIndex struct {
	Name       string            `toml:"name"`
	Columns    []tomlIndexColumn `toml:"columns"`
	Unique     bool              `toml:"unique"`
	PrimaryKey bool              `toml:"primary_key"`
}

type tomlIndexColumn struct {
	Column string `toml:"column"`
	Op     string `toml:"op"`
	Scope  string `toml:"scope"`
}

// Save encodes db as a version-1 TOML lock file at path.
func Save(path string, db *schema.DbSchema) error {
	f := File{Version: CurrentVersion, Schema: toTomlSchema(db)}
	b, err := toml.Marshal(f)
	if err != nil {
		return ormerr.Wrap(ormerr.InvalidSchema, err, "lockfile: encode")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return ormerr.Wrap(ormerr.InvalidSchema, err, "lockfile: write %s", path)
	}
	return nil
}

// Load decodes the lock file at path into a fresh schema.DbSchema.
// A version other than CurrentVersion is fatal: the engine never
// attempts to interpret an older or newer lock file format.
func Load(path string) (*schema.DbSchema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.InvalidSchema, err, "lockfile: read %s", path)
	}
	var f File
	if err := toml.Unmarshal(b, &f); err != nil {
		return nil, ormerr.Wrap(ormerr.InvalidSchema, err, "lockfile: decode %s", path)
	}
	if f.Version != CurrentVersion {
		return nil, ormerr.New(ormerr.InvalidSchema, "lockfile: %s has version %d, expected %d", path, f.Version, CurrentVersion)
	}
	return fromTomlSchema(f.Schema), nil
}

func toTomlSchema(db *schema.DbSchema) tomlSchema {
	out := tomlSchema{Tables: make([]tomlTable, 0, len(db.Tables))}
	for _, t := range db.Tables {
		out.Tables = append(out.Tables, toTomlTable(t))
	}
	return out
}

func toTomlTable(t *schema.Table) tomlTable {
	tt := tomlTable{Name: t.Name}
	for _, c := range t.Columns {
		tt.Columns = append(tt.Columns, tomlColumn{
			Name:          c.Name,
			AppType:       toTomlType(c.AppType),
			Storage:       toTomlStorage(c.Storage),
			Nullable:      c.Nullable,
			AutoIncrement: c.AutoIncrement,
		})
	}
	for _, idx := range t.Indices {
		ti := tomlIndex{Name: idx.Name, Unique: idx.Unique, PrimaryKey: idx.PrimaryKey}
		for _, ic := range idx.Columns {
			ti.Columns = append(ti.Columns, tomlIndexColumn{
				Column: ic.Column,
				Op:     indexOpName[ic.Op],
				Scope:  indexScopeName[ic.Scope],
			})
		}
		tt.Indices = append(tt.Indices, ti)
	}
	return tt
}

func fromTomlSchema(ts tomlSchema) *schema.DbSchema {
	db := schema.NewDbSchema()
	for _, tt := range ts.Tables {
		db.AddTable(fromTomlTable(tt))
	}
	return db
}

func fromTomlTable(tt tomlTable) *schema.Table {
	t := &schema.Table{Name: tt.Name}
	for _, c := range tt.Columns {
		t.Columns = append(t.Columns, schema.Column{
			Name:          c.Name,
			AppType:       fromTomlType(c.AppType),
			Storage:       fromTomlStorage(c.Storage),
			Nullable:      c.Nullable,
			AutoIncrement: c.AutoIncrement,
		})
	}
	for _, ti := range tt.Indices {
		idx := schema.DbIndex{Name: ti.Name, Unique: ti.Unique, PrimaryKey: ti.PrimaryKey}
		for _, ic := range ti.Columns {
			idx.Columns = append(idx.Columns, schema.IndexColumn{
				Column: ic.Column,
				Op:     indexOpKind[ic.Op],
				Scope:  indexScopeKind[ic.Scope],
			})
		}
		t.Indices = append(t.Indices, idx)
	}
	return t
}

var typeKindName = map[ir.TypeKind]string{
	ir.TString:   "string",
	ir.TInt64:    "int64",
	ir.TFloat64:  "float64",
	ir.TBool:     "bool",
	ir.TDateTime: "datetime",
	ir.TJSON:     "json",
	ir.TDecimal:  "decimal",
	ir.TUUID:     "uuid",
	ir.TID:       "id",
	ir.TEnum:     "enum",
	ir.TRecord:   "record",
	ir.TList:     "list",
	ir.TOption:   "option",
	ir.TUnknown:  "unknown",
}

var typeKindFromName = invertTypeKind(typeKindName)

func invertTypeKind(m map[ir.TypeKind]string) map[string]ir.TypeKind {
	out := make(map[string]ir.TypeKind, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func toTomlType(t ir.Type) tomlType {
	tt := tomlType{Kind: typeKindName[t.Kind]}
	switch t.Kind {
	case ir.TID, ir.TEnum:
		tt.Model = t.Model
	case ir.TRecord:
		for _, f := range t.Fields {
			ft := toTomlType(f)
			tt.Fields = append(tt.Fields, ft)
		}
	case ir.TList, ir.TOption:
		if t.Elem != nil {
			elem := toTomlType(*t.Elem)
			tt.Elem = &elem
		}
	}
	return tt
}

func fromTomlType(tt tomlType) ir.Type {
	kind := typeKindFromName[tt.Kind]
	t := ir.Type{Kind: kind}
	switch kind {
	case ir.TID, ir.TEnum:
		t.Model = tt.Model
	case ir.TRecord:
		for _, ft := range tt.Fields {
			t.Fields = append(t.Fields, fromTomlType(ft))
		}
	case ir.TList, ir.TOption:
		if tt.Elem != nil {
			elem := fromTomlType(*tt.Elem)
			t.Elem = &elem
		}
	}
	return t
}

var storageKindName = map[schema.StorageKind]string{
	schema.StoreVarchar:   "varchar",
	schema.StoreText:      "text",
	schema.StoreInteger:   "integer",
	schema.StoreBigInt:    "bigint",
	schema.StoreFloat:     "float",
	schema.StoreBoolean:   "boolean",
	schema.StoreTimestamp: "timestamp",
	schema.StoreJSON:      "json",
	schema.StoreUUID:      "uuid",
	schema.StoreBlob:      "blob",
	schema.StoreCustom:    "custom",
}

var storageKindFromName = invertStorageKind(storageKindName)

func invertStorageKind(m map[schema.StorageKind]string) map[string]schema.StorageKind {
	out := make(map[string]schema.StorageKind, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func toTomlStorage(s schema.StorageType) tomlStorage {
	return tomlStorage{Kind: storageKindName[s.Kind], Length: s.Length, CustomName: s.CustomName}
}

func fromTomlStorage(ts tomlStorage) schema.StorageType {
	return schema.StorageType{Kind: storageKindFromName[ts.Kind], Length: ts.Length, CustomName: ts.CustomName}
}

var indexOpName = map[schema.IndexColumnOp]string{
	schema.OpEquality: "equality",
	schema.OpRange:    "range",
}
var indexOpKind = invertIndexOp(indexOpName)

func invertIndexOp(m map[schema.IndexColumnOp]string) map[string]schema.IndexColumnOp {
	out := make(map[string]schema.IndexColumnOp, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

var indexScopeName = map[schema.IndexScope]string{
	schema.ScopePartition: "partition",
	schema.ScopeLocal:     "local",
}
var indexScopeKind = invertIndexScope(indexScopeName)

func invertIndexScope(m map[schema.IndexScope]string) map[string]schema.IndexScope {
	out := make(map[string]schema.IndexScope, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}
