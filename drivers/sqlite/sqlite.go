// Package sqlite wires the SQLite embedded-file backend (mattn/go-sqlite3)
// into the query engine core: a sqltext.Dialect for SQLite's SQL text
// quirks plus a registry-registered factory (database/sql on top of the
// cgo sqlite3 driver, a schema-to-DDL type mapper, an init()-time
// registry.Register).
package sqlite

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/drivers/sqlcore"
	"github.com/latticeorm/lattice/drivers/sqltext"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/registry"
	"github.com/latticeorm/lattice/schema"
)

const Scheme = "sqlite"

// Capability reflects SQLite's feature set: it can express OR directly
// inside an index/key predicate, composite primary keys are native, and
// modern SQLite (3.35+) supports RETURNING; it has no partition-key
// storage concept and no CTE-with-update restriction beyond the one its
// RETURNING support already implies.
func Capability() driver.Capability {
	return driver.Capability{
		ORInIndex:             true,
		CompositeKey:          true,
		PartitionKeyStorage:   false,
		CTEUpdate:             true,
		ReturningFromMutation: true,
		Storage: driver.StorageBounds{
			// SQLite has no native UUID or timestamp affinity.
			UUID:      schema.StorageType{Kind: schema.StoreText},
			Timestamp: schema.StorageType{Kind: schema.StoreText},
		},
	}
}

func init() {
	registry.Register(Scheme, Open)
	registry.RegisterCapability(Scheme, Capability())
}

// Open establishes a connection to a SQLite file (or ":memory:") per cfg
// and returns a driver.Driver backed by sqlcore.
func Open(cfg registry.Config) (driver.Driver, error) {
	path := cfg.FilePath
	if path == "" {
		path = ":memory:"
	}
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.InvalidConnectionURL, err, "sqlite: open %s", path)
	}
	conn.SetMaxOpenConns(1) // SQLite serializes writers; avoid SQLITE_BUSY churn
	return sqlcore.New(conn, dialect{}, Capability()), nil
}

// dialect implements sqltext.Dialect for SQLite's SQL text conventions:
// `?` placeholders, double-quoted identifiers, 0/1 booleans.
type dialect struct{}

func (dialect) Quote(name string) string        { return `"` + name + `"` }
func (dialect) Placeholder(int) string          { return "?" }
func (dialect) SupportsReturning() bool         { return true }
func (dialect) AutoIncrementClause() string      { return "AUTOINCREMENT" }
func (dialect) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (dialect) InsertKeyword(ir.ConflictAction) string { return "INSERT" }

func (d dialect) UpsertClause(conflictCols, allCols, updateCols []string, action ir.ConflictAction) string {
	return sqltext.StandardUpsertClause(d, conflictCols, allCols, updateCols, action)
}

func (dialect) ColumnTypeSQL(t schema.StorageType) string {
	switch t.Kind {
	case schema.StoreVarchar, schema.StoreText, schema.StoreUUID:
		return "TEXT"
	case schema.StoreInteger, schema.StoreBigInt:
		return "INTEGER"
	case schema.StoreFloat:
		return "REAL"
	case schema.StoreBoolean:
		return "BOOLEAN"
	case schema.StoreTimestamp:
		return "DATETIME"
	case schema.StoreJSON:
		return "TEXT"
	case schema.StoreBlob:
		return "BLOB"
	case schema.StoreCustom:
		return t.CustomName
	default:
		return "TEXT"
	}
}
