// Package sqltext holds the SQL-generation helpers shared by the
// relational drivers (sqlite, mysql, postgresql): a small Dialect
// interface capturing the handful of ways those backends' SQL text
// differs (placeholder style, identifier quoting, boolean literal), plus
// an ir.Expr-to-SQL compiler and statement builders for the Operation
// shapes the planner emits.
package sqltext

import (
	"fmt"
	"strings"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// Dialect captures the SQL-text differences between the relational
// backends: quoting, placeholders, boolean literals, DDL types.
type Dialect interface {
	// Quote wraps a bare identifier (table or column name) in the
	// dialect's quoting syntax.
	Quote(name string) string
	// Placeholder returns the parameter marker for the nth (0-based)
	// bound argument in a statement.
	Placeholder(n int) string
	// BoolLiteral renders a boolean constant (some dialects have no
	// native boolean and use 0/1 instead).
	BoolLiteral(b bool) string
	// SupportsReturning reports whether RETURNING can be appended to an
	// INSERT/UPDATE/DELETE to recover affected rows in one round trip.
	SupportsReturning() bool
	// ColumnTypeSQL renders a schema.StorageType as this dialect's DDL
	// column type (e.g. StoreVarchar(255) -> "VARCHAR(255)" or "TEXT").
	ColumnTypeSQL(t schema.StorageType) string
	// AutoIncrementClause returns the DDL fragment marking a column as
	// the backend's native auto-increment primary key ("AUTOINCREMENT",
	// "AUTO_INCREMENT", "GENERATED BY DEFAULT AS IDENTITY", ...).
	AutoIncrementClause() string
	// InsertKeyword returns the leading keyword(s) of an INSERT
	// statement for the given conflict action; MySQL's ConflictIgnore
	// has no ON CONFLICT syntax and instead uses "INSERT IGNORE".
	InsertKeyword(action ir.ConflictAction) string
	// UpsertClause renders the trailing conflict-resolution clause for
	// an INSERT, given the conflict-detection columns (the table's
	// primary key when left unnamed), the full ordered
	// column list, and which of those to overwrite on ConflictUpdate
	// (every non-key column when empty). Returns "" for ConflictNone
	// and for ConflictIgnore on dialects that render it via
	// InsertKeyword instead (MySQL).
	UpsertClause(conflictCols, allCols, updateCols []string, action ir.ConflictAction) string
}

// Compiler renders ir.Expr into SQL text plus a flat arg list, binding
// placeholders as it goes via dialect.Placeholder.
type Compiler struct {
	Dialect Dialect
	args    []any
}

func NewCompiler(d Dialect) *Compiler { return &Compiler{Dialect: d} }

// Args returns every literal bound so far, in placeholder order.
func (c *Compiler) Args() []any { return c.args }

func (c *Compiler) bind(v any) string {
	c.args = append(c.args, v)
	return c.Dialect.Placeholder(len(c.args) - 1)
}

// Compile renders e as a SQL boolean/scalar expression. Column references
// carry their table name on the reference itself.
func (c *Compiler) Compile(e ir.Expr) (string, error) {
	switch n := e.(type) {
	case *ir.Literal:
		return c.bind(goValue(n.Value)), nil

	case *ir.Reference:
		if n.Kind != ir.RefColumn {
			return "", ormerr.Bugf("sqltext: Reference{Field/Model} survived lowering")
		}
		return c.Dialect.Quote(n.Column), nil

	case *ir.Binary:
		if n.Op == ir.OpBeginsWith {
			return c.compileBeginsWith(n)
		}
		l, err := c.Compile(n.Left)
		if err != nil {
			return "", err
		}
		r, err := c.Compile(n.Right)
		if err != nil {
			return "", err
		}
		op, err := sqlOp(n.Op)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, op, r), nil

	case *ir.And:
		return c.joinBool(n.Operands, "AND", "TRUE")
	case *ir.Or:
		return c.joinBool(n.Operands, "OR", "FALSE")

	case *ir.Not:
		inner, err := c.Compile(n.Operand)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT %s)", inner), nil

	case *ir.IsNull:
		inner, err := c.Compile(n.Operand)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IS NULL)", inner), nil

	case *ir.InList:
		target, err := c.Compile(n.Target)
		if err != nil {
			return "", err
		}
		list, ok := n.List.(*ir.List)
		if !ok {
			return "", ormerr.New(ormerr.UnsupportedFeature, "sqltext: InList requires a literal list")
		}
		if len(list.Elements) == 0 {
			return c.Dialect.BoolLiteral(false), nil
		}
		placeholders := make([]string, len(list.Elements))
		for i, el := range list.Elements {
			s, err := c.Compile(el)
			if err != nil {
				return "", err
			}
			placeholders[i] = s
		}
		return fmt.Sprintf("(%s IN (%s))", target, strings.Join(placeholders, ", ")), nil

	case *ir.Aggregate:
		if n.Operand == nil {
			if n.Fn != ir.AggCount {
				return "", ormerr.Bugf("sqltext: %v aggregate has no operand", n.Fn)
			}
			return "COUNT(*)", nil
		}
		inner, err := c.Compile(n.Operand)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s(%s)", n.Fn, inner), nil

	default:
		return "", ormerr.New(ormerr.UnsupportedFeature, "sqltext: expression %T cannot be pushed down to SQL", e)
	}
}

// compileBeginsWith renders a string prefix test as LIKE with the
// wildcard appended to the bound prefix. The escape character is '!'
// rather than backslash, which MySQL would consume as a string escape
// before LIKE ever saw it; % and _ in the prefix match literally.
func (c *Compiler) compileBeginsWith(n *ir.Binary) (string, error) {
	lit, ok := n.Right.(*ir.Literal)
	if !ok || lit.Value.Kind != ir.ValueString {
		return "", ormerr.New(ormerr.UnsupportedFeature, "sqltext: begins_with needs a literal string prefix")
	}
	l, err := c.Compile(n.Left)
	if err != nil {
		return "", err
	}
	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(lit.Value.Str)
	return fmt.Sprintf("(%s LIKE %s ESCAPE '!')", l, c.bind(escaped+"%")), nil
}

func (c *Compiler) joinBool(operands []ir.Expr, sep, identity string) (string, error) {
	if len(operands) == 0 {
		return identity, nil
	}
	parts := make([]string, len(operands))
	for i, op := range operands {
		s, err := c.Compile(op)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, " "+sep+" ") + ")", nil
}

func sqlOp(op ir.BinaryOp) (string, error) {
	switch op {
	case ir.OpEq:
		return "=", nil
	case ir.OpNeq:
		return "<>", nil
	case ir.OpLt:
		return "<", nil
	case ir.OpLte:
		return "<=", nil
	case ir.OpGt:
		return ">", nil
	case ir.OpGte:
		return ">=", nil
	case ir.OpAdd:
		return "+", nil
	case ir.OpSub:
		return "-", nil
	case ir.OpMul:
		return "*", nil
	case ir.OpDiv:
		return "/", nil
	default:
		return "", ormerr.Bugf("sqltext: unhandled binary op %v", op)
	}
}

// goValue converts an ir.Value into the Go value database/sql expects as
// a bind parameter.
func goValue(v ir.Value) any {
	switch v.Kind {
	case ir.ValueNull:
		return nil
	case ir.ValueString, ir.ValueUUID:
		return v.Str
	case ir.ValueInt64:
		return v.Int
	case ir.ValueFloat64:
		return v.Float
	case ir.ValueBool:
		return v.Bool
	case ir.ValueTypedID:
		return goValue(*v.IDValue)
	case ir.ValueEnumPayload:
		wire, err := ir.EncodeEnumWire(v)
		if err != nil {
			return v.String()
		}
		return wire
	default:
		return v.String()
	}
}

// KeyPredicate renders "col IN (...)" for a single-column index, or an
// OR of per-row ANDs for a composite one (no dialect here supports a
// multi-column tuple IN uniformly, so the portable form is used).
func (c *Compiler) KeyPredicate(idx *schema.DbIndex, keys []ir.Value) (string, error) {
	if len(keys) == 0 {
		return c.Dialect.BoolLiteral(false), nil
	}
	if len(idx.Columns) == 1 {
		col := c.Dialect.Quote(idx.Columns[0].Column)
		placeholders := make([]string, len(keys))
		for i, k := range keys {
			placeholders[i] = c.bind(goValue(keyField(k, 0)))
		}
		return fmt.Sprintf("(%s IN (%s))", col, strings.Join(placeholders, ", ")), nil
	}

	rowPreds := make([]string, len(keys))
	for i, k := range keys {
		colPreds := make([]string, len(idx.Columns))
		for j, ic := range idx.Columns {
			ph := c.bind(goValue(keyField(k, j)))
			colPreds[j] = fmt.Sprintf("%s = %s", c.Dialect.Quote(ic.Column), ph)
		}
		rowPreds[i] = "(" + strings.Join(colPreds, " AND ") + ")"
	}
	return "(" + strings.Join(rowPreds, " OR ") + ")", nil
}

// keyField extracts position i from a key value: a Record for composite
// keys, or the value itself (i==0) for a single-column key.
func keyField(k ir.Value, i int) ir.Value {
	if k.Kind == ir.ValueRecord {
		return k.Fields[i]
	}
	return k
}

// SelectColumns returns every column of t in storage order, comma-joined
// and quoted, for a SELECT ... star projection.
func SelectColumns(d Dialect, t *schema.Table) string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = d.Quote(c.Name)
	}
	return strings.Join(names, ", ")
}

// BuildSelect renders "SELECT <cols> FROM <table> WHERE <pred>[ AND <filter>]".
func (c *Compiler) BuildSelect(t *schema.Table, idx *schema.DbIndex, keys []ir.Value, filter ir.Expr) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", SelectColumns(c.Dialect, t), c.Dialect.Quote(t.Name))
	pred, err := c.whereClause(t, idx, keys, filter)
	if err != nil {
		return "", err
	}
	if pred != "" {
		b.WriteString(" WHERE ")
		b.WriteString(pred)
	}
	return b.String(), nil
}

func (c *Compiler) whereClause(t *schema.Table, idx *schema.DbIndex, keys []ir.Value, filter ir.Expr) (string, error) {
	var parts []string
	if idx != nil && keys != nil {
		kp, err := c.KeyPredicate(idx, keys)
		if err != nil {
			return "", err
		}
		parts = append(parts, kp)
	}
	if filter != nil {
		fp, err := c.Compile(filter)
		if err != nil {
			return "", err
		}
		parts = append(parts, fp)
	}
	return strings.Join(parts, " AND "), nil
}

// BuildDelete renders "DELETE FROM <table> WHERE <pred>[ RETURNING <cols>]".
func (c *Compiler) BuildDelete(t *schema.Table, idx *schema.DbIndex, keys []ir.Value, filter ir.Expr, returning bool) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "DELETE FROM %s", c.Dialect.Quote(t.Name))
	pred, err := c.whereClause(t, idx, keys, filter)
	if err != nil {
		return "", err
	}
	if pred != "" {
		b.WriteString(" WHERE ")
		b.WriteString(pred)
	}
	if returning && c.Dialect.SupportsReturning() {
		fmt.Fprintf(&b, " RETURNING %s", SelectColumns(c.Dialect, t))
	}
	return b.String(), nil
}

// BuildUpdate renders "UPDATE <table> SET <assigns> WHERE <pred>[ RETURNING <cols>]".
func (c *Compiler) BuildUpdate(t *schema.Table, idx *schema.DbIndex, keys []ir.Value, filter ir.Expr, assigns []ir.Assignment, returning bool) (string, error) {
	if len(assigns) == 0 {
		return "", ormerr.Bugf("sqltext: update with no assignments")
	}
	setParts := make([]string, len(assigns))
	for i, a := range assigns {
		if a.TargetKind != ir.AssignColumn {
			return "", ormerr.Bugf("sqltext: Assignment{Field} survived lowering")
		}
		val, err := c.Compile(a.Value)
		if err != nil {
			return "", err
		}
		switch a.Op {
		case ir.AssignSet:
			setParts[i] = fmt.Sprintf("%s = %s", c.Dialect.Quote(a.Column), val)
		default:
			return "", ormerr.New(ormerr.UnsupportedFeature, "sqltext: list column Insert/Remove assignment is not supported by the relational drivers")
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s", c.Dialect.Quote(t.Name), strings.Join(setParts, ", "))
	pred, err := c.whereClause(t, idx, keys, filter)
	if err != nil {
		return "", err
	}
	if pred != "" {
		b.WriteString(" WHERE ")
		b.WriteString(pred)
	}
	if returning && c.Dialect.SupportsReturning() {
		fmt.Fprintf(&b, " RETURNING %s", SelectColumns(c.Dialect, t))
	}
	return b.String(), nil
}

// BuildSelectColumns renders "SELECT <cols> FROM <table> WHERE <pred>",
// selecting an explicit column subset instead of the full row (used by
// FindPkByIndex, whose callers only need the primary-key columns back).
func BuildSelectColumns(c *Compiler, t *schema.Table, cols []string, idx *schema.DbIndex, keys []ir.Value, filter ir.Expr) (string, error) {
	quoted := make([]string, len(cols))
	for i, name := range cols {
		quoted[i] = c.Dialect.Quote(name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), c.Dialect.Quote(t.Name))
	pred, err := c.whereClause(t, idx, keys, filter)
	if err != nil {
		return "", err
	}
	if pred != "" {
		b.WriteString(" WHERE ")
		b.WriteString(pred)
	}
	return b.String(), nil
}

// CompileCTEs renders the WITH prefix for ctes ("" when none). tableOf
// resolves a lowered CTE select's source to its physical table.
func (c *Compiler) CompileCTEs(ctes []ir.CTE, tableOf func(string) (*schema.Table, error)) (string, error) {
	if len(ctes) == 0 {
		return "", nil
	}
	parts := make([]string, len(ctes))
	for i, cte := range ctes {
		var body string
		switch v := cte.Body.(type) {
		case *ir.Values:
			rows := make([]string, len(v.Rows))
			for j, row := range v.Rows {
				rendered, err := c.CompileRow(row)
				if err != nil {
					return "", err
				}
				rows[j] = rendered
			}
			body = "VALUES " + strings.Join(rows, ", ")
		case *ir.Select:
			t, err := tableOf(v.Source.Name)
			if err != nil {
				return "", ormerr.Wrap(ormerr.InvalidSchema, err, "sqltext: CTE %q source", cte.Name)
			}
			body, err = c.CompileQuery(t, v, nil, nil, false, nil)
			if err != nil {
				return "", err
			}
		default:
			return "", ormerr.New(ormerr.UnsupportedFeature, "sqltext: CTE body %T cannot be rendered", v)
		}
		parts[i] = fmt.Sprintf("%s AS (%s)", c.Dialect.Quote(cte.Name), body)
	}
	return "WITH " + strings.Join(parts, ", ") + " ", nil
}

// CompileRow renders one VALUES row as a parenthesized list.
func (c *Compiler) CompileRow(row ir.Expr) (string, error) {
	elements := []ir.Expr{row}
	if rec, ok := row.(*ir.Record); ok {
		elements = rec.Elements
	}
	parts := make([]string, len(elements))
	for i, el := range elements {
		s, err := c.Compile(el)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

// CompileQuery renders a full lowered Query whose body is a table-scoped
// Select, including any explicit join graph, ORDER BY, LIMIT/Single, and
// row locks the planner's index/key fast path could not absorb.
func (c *Compiler) CompileQuery(t *schema.Table, sel *ir.Select, orderBy []ir.OrderTerm, limit *int, single bool, locks []ir.LockClause) (string, error) {
	var b strings.Builder
	cols := SelectColumns(c.Dialect, t)
	if !sel.Returning.Star && sel.Returning.Expression != nil {
		// A Record returning is a select list, not a scalar expression.
		if rec, ok := sel.Returning.Expression.(*ir.Record); ok {
			parts := make([]string, len(rec.Elements))
			for i, el := range rec.Elements {
				s, err := c.Compile(el)
				if err != nil {
					return "", err
				}
				parts[i] = s
			}
			cols = strings.Join(parts, ", ")
		} else {
			s, err := c.Compile(sel.Returning.Expression)
			if err != nil {
				return "", err
			}
			cols = s
		}
	}
	if sel.Distinct {
		fmt.Fprintf(&b, "SELECT DISTINCT %s FROM %s", cols, c.Dialect.Quote(t.Name))
	} else {
		fmt.Fprintf(&b, "SELECT %s FROM %s", cols, c.Dialect.Quote(t.Name))
	}

	for _, j := range sel.Source.Joins {
		joinSQL, err := c.compileJoin(j)
		if err != nil {
			return "", err
		}
		b.WriteString(" ")
		b.WriteString(joinSQL)
	}

	if sel.Filter != nil {
		pred, err := c.Compile(sel.Filter)
		if err != nil {
			return "", err
		}
		b.WriteString(" WHERE ")
		b.WriteString(pred)
	}

	if len(orderBy) > 0 {
		terms := make([]string, len(orderBy))
		for i, ot := range orderBy {
			s, err := c.Compile(ot.Expr.Expr)
			if err != nil {
				return "", err
			}
			if ot.Expr.Desc {
				s += " DESC"
			}
			terms[i] = s
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	effectiveLimit := limit
	if single {
		one := 1
		effectiveLimit = &one
	}
	if effectiveLimit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *effectiveLimit)
	}

	for _, l := range locks {
		if l.ForUpdate {
			b.WriteString(" FOR UPDATE")
		}
		if l.ForShare {
			b.WriteString(" FOR SHARE")
		}
	}

	return b.String(), nil
}

func (c *Compiler) compileJoin(j ir.Join) (string, error) {
	if j.Right.Kind != ir.SourceTable {
		return "", ormerr.Bugf("sqltext: join source not lowered to a table")
	}
	kind := "INNER JOIN"
	if j.Kind == ir.JoinLeft {
		kind = "LEFT JOIN"
	}
	on, err := c.Compile(j.On)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s ON %s", kind, c.Dialect.Quote(j.Right.Name), on), nil
}

// BuildCreateTable renders "CREATE TABLE IF NOT EXISTS <table> (<cols>, <constraints>)",
// used by RegisterSchema/ResetDB on every relational driver.
func BuildCreateTable(d Dialect, t *schema.Table) string {
	var parts []string
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", d.Quote(c.Name), d.ColumnTypeSQL(c.Storage))
		if c.AutoIncrement {
			col += " " + d.AutoIncrementClause()
		}
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	for _, idx := range t.Indices {
		cols := make([]string, len(idx.Columns))
		for i, ic := range idx.Columns {
			cols[i] = d.Quote(ic.Column)
		}
		switch {
		case idx.PrimaryKey:
			parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(cols, ", ")))
		case idx.Unique:
			parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.Quote(t.Name), strings.Join(parts, ", "))
}

// BuildCreateIndex renders a non-primary-key index's "CREATE [UNIQUE]
// INDEX" statement (a unique index is emitted here as well as in
// BuildCreateTable's UNIQUE constraint), or "" if idx is the table's
// primary key (already expressed as a table constraint by BuildCreateTable).
func BuildCreateIndex(d Dialect, t *schema.Table, idx schema.DbIndex) string {
	if idx.PrimaryKey {
		return ""
	}
	cols := make([]string, len(idx.Columns))
	for i, ic := range idx.Columns {
		cols[i] = d.Quote(ic.Column)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, d.Quote(idx.Name), d.Quote(t.Name), strings.Join(cols, ", "))
}

// StandardUpsertClause renders the "ON CONFLICT (...) DO NOTHING / DO
// UPDATE SET col = EXCLUDED.col, ..." clause shared by SQLite and
// PostgreSQL (both support the EXCLUDED pseudo-table). MySQL has no
// EXCLUDED table and renders its own "ON DUPLICATE KEY UPDATE" clause
// instead of calling this helper.
func StandardUpsertClause(d Dialect, conflictCols, allCols, updateCols []string, action ir.ConflictAction) string {
	if action == ir.ConflictNone {
		return ""
	}
	quotedConflict := make([]string, len(conflictCols))
	for i, col := range conflictCols {
		quotedConflict[i] = d.Quote(col)
	}
	prefix := fmt.Sprintf("ON CONFLICT (%s) ", strings.Join(quotedConflict, ", "))
	if action == ir.ConflictIgnore {
		return prefix + "DO NOTHING"
	}
	cols := updateCols
	if len(cols) == 0 {
		cols = nonKeyColumns(allCols, conflictCols)
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", d.Quote(col), d.Quote(col))
	}
	return prefix + "DO UPDATE SET " + strings.Join(sets, ", ")
}

func nonKeyColumns(all, keys []string) []string {
	keySet := make(map[string]bool, len(keys))
	for _, k := range keys {
		keySet[k] = true
	}
	out := make([]string, 0, len(all))
	for _, c := range all {
		if !keySet[c] {
			out = append(out, c)
		}
	}
	return out
}

// BuildInsert renders "INSERT INTO <table> (<cols>) VALUES (...), (...)
// [ON CONFLICT ...][ RETURNING <cols>]". conflict carries the upsert
// behavior; a zero-value ConflictSpec renders a plain INSERT.
func (c *Compiler) BuildInsert(t *schema.Table, rows []ir.Expr, returning bool, conflict ir.ConflictSpec) (string, error) {
	if len(rows) == 0 {
		return "", ormerr.Bugf("sqltext: insert with no rows")
	}
	var valueGroups []string
	for _, rowExpr := range rows {
		rec, ok := rowExpr.(*ir.Record)
		if !ok {
			return "", ormerr.Bugf("sqltext: insert row is not a Record")
		}
		placeholders := make([]string, len(rec.Elements))
		for i, el := range rec.Elements {
			s, err := c.Compile(el)
			if err != nil {
				return "", err
			}
			placeholders[i] = s
		}
		valueGroups = append(valueGroups, "("+strings.Join(placeholders, ", ")+")")
	}

	conflictCols := conflict.Columns
	if len(conflictCols) == 0 && conflict.Action != ir.ConflictNone {
		pk, err := t.PrimaryKeyIndex()
		if err != nil {
			return "", err
		}
		conflictCols = pk.ColumnNames()
	}
	allCols := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		allCols[i] = col.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s INTO %s (%s) VALUES %s",
		c.Dialect.InsertKeyword(conflict.Action), c.Dialect.Quote(t.Name), SelectColumns(c.Dialect, t), strings.Join(valueGroups, ", "))
	if clause := c.Dialect.UpsertClause(conflictCols, allCols, conflict.UpdateColumns, conflict.Action); clause != "" {
		b.WriteString(" ")
		b.WriteString(clause)
	}
	if returning && c.Dialect.SupportsReturning() {
		fmt.Fprintf(&b, " RETURNING %s", SelectColumns(c.Dialect, t))
	}
	return b.String(), nil
}
