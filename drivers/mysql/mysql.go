// Package mysql wires the networked MySQL backend (go-sql-driver/mysql)
// into the query engine core. MySQL's capability set declares no
// CTE-with-update (a MySQL restriction on writable CTEs) and no RETURNING
// support: a mutation that asks for returning rows is answered with an
// affected-row count, and no rows are read back.
package mysql

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/drivers/sqlcore"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/registry"
	"github.com/latticeorm/lattice/schema"
)

const Scheme = "mysql"

func Capability() driver.Capability {
	return driver.Capability{
		ORInIndex:             true,
		CompositeKey:          true,
		PartitionKeyStorage:   false,
		CTEUpdate:             false,
		ReturningFromMutation: false,
		Storage: driver.StorageBounds{
			// utf8mb4 rows cap VARCHAR at 16383 characters; UUIDs are
			// stored in their canonical 36-character text form.
			MaxVarchar: 16383,
			UUID:       schema.StorageType{Kind: schema.StoreVarchar, Length: 36},
		},
	}
}

func init() {
	registry.Register(Scheme, Open)
	registry.RegisterCapability(Scheme, Capability())
}

// Open builds the go-sql-driver/mysql DSN from cfg and returns a
// driver.Driver backed by sqlcore.
func Open(cfg registry.Config) (driver.Driver, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, portOrDefault(cfg.Port), cfg.Database)
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, ormerr.Wrap(ormerr.InvalidConnectionURL, err, "mysql: open %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}
	return sqlcore.New(conn, dialect{}, Capability()), nil
}

func portOrDefault(p int) int {
	if p == 0 {
		return 3306
	}
	return p
}

// dialect implements sqltext.Dialect for MySQL: `?` placeholders,
// backtick-quoted identifiers, and no RETURNING support at all.
type dialect struct{}

func (dialect) Quote(name string) string   { return "`" + name + "`" }
func (dialect) Placeholder(int) string     { return "?" }
func (dialect) SupportsReturning() bool    { return false }
func (dialect) AutoIncrementClause() string { return "AUTO_INCREMENT" }

func (dialect) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// InsertKeyword renders MySQL's ConflictIgnore as "INSERT IGNORE", since
// MySQL has no ON CONFLICT syntax for it; every other action uses a plain
// INSERT, with conflict resolution expressed by UpsertClause instead.
func (dialect) InsertKeyword(action ir.ConflictAction) string {
	if action == ir.ConflictIgnore {
		return "INSERT IGNORE"
	}
	return "INSERT"
}

// UpsertClause renders MySQL's "ON DUPLICATE KEY UPDATE" clause.
// ConflictNone and ConflictIgnore render no clause here (the latter is
// handled entirely by InsertKeyword); ConflictUpdate and ConflictReplace
// both overwrite columns on collision, defaulting to every non-key column
// when updateCols is empty.
func (d dialect) UpsertClause(conflictCols, allCols, updateCols []string, action ir.ConflictAction) string {
	if action == ir.ConflictNone || action == ir.ConflictIgnore {
		return ""
	}
	cols := updateCols
	if len(cols) == 0 {
		keySet := make(map[string]bool, len(conflictCols))
		for _, k := range conflictCols {
			keySet[k] = true
		}
		for _, c := range allCols {
			if !keySet[c] {
				cols = append(cols, c)
			}
		}
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		q := d.Quote(col)
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
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
		return "CHAR(36)"
	case schema.StoreInteger:
		return "INT"
	case schema.StoreBigInt:
		return "BIGINT"
	case schema.StoreFloat:
		return "DOUBLE"
	case schema.StoreBoolean:
		return "TINYINT(1)"
	case schema.StoreTimestamp:
		return "DATETIME"
	case schema.StoreJSON:
		return "JSON"
	case schema.StoreBlob:
		return "BLOB"
	case schema.StoreCustom:
		return t.CustomName
	default:
		return "TEXT"
	}
}
