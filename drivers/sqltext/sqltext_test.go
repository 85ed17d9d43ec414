package sqltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/schema"
)

// fakeDialect is a minimal SQLite-shaped Dialect used only to exercise
// the dialect-agnostic compiler logic in this package.
type fakeDialect struct{}

func (fakeDialect) Quote(name string) string   { return `"` + name + `"` }
func (fakeDialect) Placeholder(int) string     { return "?" }
func (fakeDialect) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
func (fakeDialect) SupportsReturning() bool     { return true }
func (fakeDialect) AutoIncrementClause() string { return "AUTOINCREMENT" }
func (fakeDialect) InsertKeyword(ir.ConflictAction) string { return "INSERT" }
func (d fakeDialect) UpsertClause(conflictCols, allCols, updateCols []string, action ir.ConflictAction) string {
	return StandardUpsertClause(d, conflictCols, allCols, updateCols, action)
}
func (fakeDialect) ColumnTypeSQL(t schema.StorageType) string {
	switch t.Kind {
	case schema.StoreBigInt, schema.StoreInteger:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func usersTable() *schema.Table {
	return &schema.Table{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", AppType: ir.Scalar(ir.TInt64), Storage: schema.StorageType{Kind: schema.StoreBigInt}, AutoIncrement: true},
			{Name: "name", AppType: ir.Scalar(ir.TString), Storage: schema.StorageType{Kind: schema.StoreVarchar}},
		},
		Indices: []schema.DbIndex{
			{Name: "users_pkey", PrimaryKey: true, Columns: []schema.IndexColumn{{Column: "id"}}},
			{Name: "users_name_idx", Unique: true, Columns: []schema.IndexColumn{{Column: "name"}}},
		},
	}
}

func TestBuildCreateTableAndIndex(t *testing.T) {
	d := fakeDialect{}
	table := usersTable()
	stmt := BuildCreateTable(d, table)
	assert.Contains(t, stmt, `"id" INTEGER AUTOINCREMENT NOT NULL`)
	assert.Contains(t, stmt, `PRIMARY KEY ("id")`)

	assert.Equal(t, "", BuildCreateIndex(d, table, table.Indices[0]))
	idxStmt := BuildCreateIndex(d, table, table.Indices[1])
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "users_name_idx" ON "users" ("name")`, idxStmt)
}

func TestCompileQueryWithOrderAndLimit(t *testing.T) {
	table := usersTable()
	sel := &ir.Select{
		Source:    ir.Source{Kind: ir.SourceTable, Name: "users"},
		Filter:    ir.Eq(ir.Col(0, "users", "name"), ir.Lit(ir.StringValue("ada"))),
		Returning: ir.Returning{Star: true},
	}
	limit := 10
	c := NewCompiler(fakeDialect{})
	sqlText, err := c.CompileQuery(table, sel, []ir.OrderTerm{ir.Desc(ir.Col(0, "users", "id"))}, &limit, false, nil)
	require.NoError(t, err)
	assert.Contains(t, sqlText, "SELECT")
	assert.Contains(t, sqlText, `FROM "users"`)
	assert.Contains(t, sqlText, `WHERE ("name" = ?)`)
	assert.Contains(t, sqlText, `ORDER BY "id" DESC`)
	assert.Contains(t, sqlText, "LIMIT 10")
	assert.Equal(t, []any{"ada"}, c.Args())
}

func TestCompileQuerySingleForcesLimitOne(t *testing.T) {
	table := usersTable()
	sel := &ir.Select{
		Source:    ir.Source{Kind: ir.SourceTable, Name: "users"},
		Returning: ir.Returning{Star: true},
	}
	c := NewCompiler(fakeDialect{})
	sqlText, err := c.CompileQuery(table, sel, nil, nil, true, nil)
	require.NoError(t, err)
	assert.Contains(t, sqlText, "LIMIT 1")
}

func TestCompileQueryRendersAggregates(t *testing.T) {
	table := usersTable()
	sel := &ir.Select{
		Source: ir.Source{Kind: ir.SourceTable, Name: "users"},
		Returning: ir.Returning{Expression: &ir.Record{Elements: []ir.Expr{
			&ir.Aggregate{Fn: ir.AggCount},
			&ir.Aggregate{Fn: ir.AggMax, Operand: ir.Col(0, "users", "id")},
		}}},
	}
	c := NewCompiler(fakeDialect{})
	sqlText, err := c.CompileQuery(table, sel, nil, nil, false, nil)
	require.NoError(t, err)
	assert.Contains(t, sqlText, `SELECT COUNT(*), MAX("id") FROM "users"`)
}

func TestCompileVariantCheckRendersPrefixLike(t *testing.T) {
	c := NewCompiler(fakeDialect{})
	sqlText, err := c.Compile(ir.IsVariant(ir.Col(0, "users", "contact"), 2))
	require.NoError(t, err)
	assert.Equal(t, `("contact" LIKE ? ESCAPE '!')`, sqlText)
	assert.Equal(t, []any{"2#%"}, c.Args())
}

func TestCompileBindsEnumLiteralAsWireForm(t *testing.T) {
	c := NewCompiler(fakeDialect{})
	filter := ir.Eq(ir.Col(0, "users", "contact"), ir.Lit(ir.EnumPayloadValue(1, ir.StringValue("a@example.com"))))
	_, err := c.Compile(filter)
	require.NoError(t, err)
	assert.Equal(t, []any{`1#"a@example.com"`}, c.Args())
}

func TestCompileQueryAppendsLockClauses(t *testing.T) {
	table := usersTable()
	sel := &ir.Select{
		Source:    ir.Source{Kind: ir.SourceTable, Name: "users"},
		Returning: ir.Returning{Star: true},
	}
	c := NewCompiler(fakeDialect{})
	sqlText, err := c.CompileQuery(table, sel, nil, nil, false, []ir.LockClause{{ForUpdate: true}})
	require.NoError(t, err)
	assert.Contains(t, sqlText, "FOR UPDATE")
}

func TestCompileCTEsRendersValuesAndSelectBodies(t *testing.T) {
	table := usersTable()
	c := NewCompiler(fakeDialect{})
	ctes := []ir.CTE{
		{Name: "seed", Body: &ir.Values{Rows: []ir.Expr{&ir.Record{Elements: []ir.Expr{
			ir.Lit(ir.Int64Value(1)), ir.Lit(ir.StringValue("ada")),
		}}}}},
		{Name: "named", Body: &ir.Select{
			Source:    ir.Source{Kind: ir.SourceTable, Name: "users"},
			Filter:    ir.Eq(ir.Col(0, "users", "name"), ir.Lit(ir.StringValue("ada"))),
			Returning: ir.Returning{Star: true},
		}},
	}
	withPrefix, err := c.CompileCTEs(ctes, func(string) (*schema.Table, error) { return table, nil })
	require.NoError(t, err)
	assert.Contains(t, withPrefix, `WITH "seed" AS (VALUES (?, ?))`)
	assert.Contains(t, withPrefix, `"named" AS (SELECT`)
	assert.Equal(t, []any{int64(1), "ada", "ada"}, c.Args())
}

func TestBuildSelectColumnsProjectsExplicitSubset(t *testing.T) {
	table := usersTable()
	c := NewCompiler(fakeDialect{})
	sqlText, err := BuildSelectColumns(c, table, []string{"id"}, &table.Indices[1], []ir.Value{ir.StringValue("ada")}, nil)
	require.NoError(t, err)
	assert.Contains(t, sqlText, `SELECT "id" FROM "users"`)
	assert.Equal(t, []any{"ada"}, c.Args())
}
