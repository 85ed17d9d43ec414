// Package postgresql wires the networked PostgreSQL backend (lib/pq)
// into the query engine core. Postgres advertises the richest relational
// capability set of the bundled backends: composite keys,
// writable CTEs, and RETURNING from every mutation, so the planner never
// needs the UpdateByKey/GetByKey emulation path MySQL requires.
package postgresql

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/drivers/sqlcore"
	"github.com/latticeorm/lattice/drivers/sqltext"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/registry"
	"github.com/latticeorm/lattice/schema"
)

const Scheme = "postgresql"

func Capability() driver.Capability {
	return driver.Capability{
		ORInIndex:             true,
		CompositeKey:          true,
		PartitionKeyStorage:   false,
		CTEUpdate:             true,
		ReturningFromMutation: true,
		Storage: driver.StorageBounds{
			MaxVarchar: 10485760,
		},
	}
}

func init() {
	registry.Register(Scheme, Open)
	registry.Register("postgres", Open)
	registry.RegisterCapability(Scheme, Capability())
	registry.RegisterCapability("postgres", Capability())
}

// Open builds a lib/pq DSN from cfg and returns a driver.Driver backed by
// sqlcore.
func Open(cfg registry.Config) (driver.Driver, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Host, portOrDefault(cfg.Port), cfg.Database, cfg.User, cfg.Password)
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.InvalidConnectionURL, err, "postgresql: open %s/%s", cfg.Host, cfg.Database)
	}
	return sqlcore.New(conn, dialect{}, Capability()), nil
}

func portOrDefault(p int) int {
	if p == 0 {
		return 5432
	}
	return p
}

// dialect implements sqltext.Dialect for Postgres: `$n` placeholders,
// double-quoted identifiers, native boolean literals.
type dialect struct{}

func (dialect) Quote(name string) string         { return `"` + name + `"` }
func (dialect) Placeholder(n int) string         { return fmt.Sprintf("$%d", n+1) }
func (dialect) SupportsReturning() bool          { return true }
func (dialect) AutoIncrementClause() string       { return "GENERATED BY DEFAULT AS IDENTITY" }
func (dialect) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (dialect) InsertKeyword(ir.ConflictAction) string { return "INSERT" }

func (d dialect) UpsertClause(conflictCols, allCols, updateCols []string, action ir.ConflictAction) string {
	return sqltext.StandardUpsertClause(d, conflictCols, allCols, updateCols, action)
}

func (dialect) ColumnTypeSQL(t schema.StorageType) string {
	switch t.Kind {
	case schema.StoreVarchar:
		n := t.Length
		if n <= 0 {
			n = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", n)
	case schema.StoreText:
		return "TEXT"
	case schema.StoreUUID:
		return "UUID"
	case schema.StoreInteger:
		return "INTEGER"
	case schema.StoreBigInt:
		return "BIGINT"
	case schema.StoreFloat:
		return "DOUBLE PRECISION"
	case schema.StoreBoolean:
		return "BOOLEAN"
	case schema.StoreTimestamp:
		return "TIMESTAMPTZ"
	case schema.StoreJSON:
		return "JSONB"
	case schema.StoreBlob:
		return "BYTEA"
	case schema.StoreCustom:
		return t.CustomName
	default:
		return "TEXT"
	}
}
