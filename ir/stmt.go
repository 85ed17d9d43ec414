package ir

// Statement is the closed set of top-level statement kinds that enter
// the pipeline (Simplify -> Lower -> Plan) and are consumed by the
// executor.
type Statement interface {
	stmtNode()
}

type stmtBase struct{}

func (stmtBase) stmtNode() {}

// SetOpKind enumerates the three ExprSet combinators.
type SetOpKind int

const (
	SetOpUnion SetOpKind = iota
	SetOpIntersect
	SetOpExcept
)

// SourceKind distinguishes a model-level source (pre-lowering) from a
// table-level source (post-lowering). Lowering replaces every SourceModel
// with a SourceTable; the planner and executor only ever see SourceTable.
type SourceKind int

const (
	SourceModel SourceKind = iota
	SourceTable
)

// Join describes one edge of a Select's join graph. Via names the
// association (relation) the join traverses, before association
// expansion rewrites it into an explicit filter.
type Join struct {
	Via   string
	Kind  JoinKind
	Right Source
	On    Expr
}

type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
)

// Source is a statement's FROM-equivalent: a model or table name plus any
// joins attached to it.
type Source struct {
	Kind  SourceKind
	Name  string
	Alias string
	Joins []Join
}

// Returning is either the star projection (every column/field in
// table_to_model/model field order) or an explicit expression.
type Returning struct {
	Star       bool
	Expression Expr
}

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Expr descExpr
}

type descExpr struct {
	Expr Expr
	Desc bool
}

func Asc(e Expr) OrderTerm  { return OrderTerm{Expr: descExpr{Expr: e, Desc: false}} }
func Desc(e Expr) OrderTerm { return OrderTerm{Expr: descExpr{Expr: e, Desc: true}} }

// CTE is one entry of a Query's WITH list.
type CTE struct {
	Name string
	Body ExprSet
}

// LockClause represents a SELECT ... FOR UPDATE/SHARE lock request.
type LockClause struct {
	ForUpdate bool
	ForShare  bool
}

// ExprSet is the tagged union of everything a Query's body, an Insert's
// source, a Delete's source, or a CTE can be.
type ExprSet interface {
	exprSetNode()
}

type exprSetBase struct{}

func (exprSetBase) exprSetNode() {}

// Select is the core query shape: a source with its join graph, a
// filter, and a returning clause.
type Select struct {
	exprSetBase
	Source    Source
	Filter    Expr
	Returning Returning
	Includes  []IncludeSpec
	Distinct  bool
}

// IncludeSpec requests that relation Path be batch-loaded and merged
// into this Select's results.
type IncludeSpec struct {
	Path    string // dotted relation path, e.g. "todos" or "todos.comments"
	Filter  Expr
	OrderBy []OrderTerm
	Limit   *int
	Offset  *int
}

// Values is a literal row source, e.g. the simplifier's empty-query
// collapse target Values([]).
type Values struct {
	exprSetBase
	Rows []Expr // each a Record
}

// SetOp combines two ExprSets with Union, Intersect, or Except.
type SetOp struct {
	exprSetBase
	Op          SetOpKind
	Left, Right ExprSet
}

// StmtResult wraps a nested mutating statement (Insert/Update/Delete)
// whose Returning stream is consumed as an ExprSet's rows; this is how a
// CTE-with-update ("WITH t AS (UPDATE ... RETURNING ...)") composes on
// backends whose capability advertises CTEUpdate support.
type StmtResult struct {
	exprSetBase
	Statement Statement
}

// Query is the top-level read statement.
type Query struct {
	stmtBase
	CTEs    []CTE
	Body    ExprSet
	OrderBy []OrderTerm
	Limit   *int
	Single  bool
	Locks   []LockClause
}

// AssignOp enumerates how an Update assignment combines with the
// existing column value.
type AssignOp int

const (
	AssignSet AssignOp = iota
	AssignInsert         // append to a list/array column
	AssignRemove         // remove a value from a list/array column
)

// AssignTargetKind distinguishes a model-field assignment key (pre-
// lowering) from a column assignment key (post-lowering).
type AssignTargetKind int

const (
	AssignField AssignTargetKind = iota
	AssignColumn
)

// Assignment is one Update SET entry.
type Assignment struct {
	TargetKind AssignTargetKind
	FieldIndex int    // AssignField
	Column     string // AssignColumn
	Op         AssignOp
	Value      Expr
}

// MutationTargetKind distinguishes what an Update/Insert is aimed at.
type MutationTargetKind int

const (
	TargetQuery MutationTargetKind = iota
	TargetModel
	TargetTable
	TargetScope
)

// MutationTarget names the destination of a write statement.
type MutationTarget struct {
	Kind  MutationTargetKind
	Name  string // TargetModel, TargetTable, TargetScope
	Query *Query // TargetQuery
}

// ConflictAction enumerates how an Insert resolves a unique/primary-key
// collision with an existing row.
type ConflictAction int

const (
	// ConflictNone means a colliding row is a ConstraintViolation error,
	// the ordinary INSERT behavior.
	ConflictNone ConflictAction = iota
	// ConflictIgnore silently keeps the existing row.
	ConflictIgnore
	// ConflictReplace overwrites every column of the existing row with
	// the inserted values.
	ConflictReplace
	// ConflictUpdate overwrites only the columns named in
	// ConflictSpec.UpdateColumns (every non-key column when empty).
	ConflictUpdate
)

// ConflictSpec is an Insert's optional upsert behavior. Columns names
// the conflict-detection target (empty means "the table's primary
// key"); UpdateColumns narrows ConflictUpdate's SET list (empty means
// "every column not in Columns").
type ConflictSpec struct {
	Action        ConflictAction
	Columns       []string
	UpdateColumns []string
}

// Insert is the insert statement shape.
type Insert struct {
	stmtBase
	Target    MutationTarget
	Source    ExprSet // Values, normally
	Returning *Returning
	Conflict  ConflictSpec
}

// Update is the update statement shape.
type Update struct {
	stmtBase
	Target      MutationTarget
	Assignments []Assignment
	Filter      Expr
	// Condition is the optional optimistic-concurrency predicate
	//.
	Condition Expr
	Returning *Returning
}

// Delete is the delete statement shape.
type Delete struct {
	stmtBase
	Source    ExprSet
	Filter    Expr
	Returning *Returning
}
