// Package ir defines the statement intermediate representation: the
// expression tree, the value and type systems, statement shapes, the
// visitor-based traversal, and argument substitution.
package ir

// BinaryOp enumerates the binary operators Expr's Binary variant carries.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAdd
	OpSub
	OpMul
	OpDiv
	// OpBeginsWith is a string prefix test; backends evaluate it on an
	// index where they support it (DynamoDB-style begins_with, SQL LIKE).
	OpBeginsWith
)

func (op BinaryOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "<>"
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpBeginsWith:
		return "begins_with"
	default:
		return "?"
	}
}

// Negate returns the operator that negates a comparison, used by the
// simplifier and the OR-rewriter's DNF distribution.
func (op BinaryOp) Negate() (BinaryOp, bool) {
	switch op {
	case OpEq:
		return OpNeq, true
	case OpNeq:
		return OpEq, true
	case OpLt:
		return OpGte, true
	case OpLte:
		return OpGt, true
	case OpGt:
		return OpLte, true
	case OpGte:
		return OpLt, true
	default:
		return op, false
	}
}

// RefKind tags a Reference's scope.
type RefKind int

const (
	RefField    RefKind = iota // model scope: Field{Index}
	RefColumn                  // table scope: Column{Table, Column}
	RefModel                   // the self model, as a whole record
	RefRelation                // a named relation of the self model; erased by the simplifier
)

// Expr is the single tagged-union expression type. Every variant embeds
// exprNode so only types declared in this package satisfy Expr
// (a sealed interface, so the variant set is closed).
type Expr interface {
	exprNode()
	// Accept dispatches to the matching Visitor method and returns the
	// (possibly rewritten) expression.
	Accept(v Visitor) (Expr, error)
}

type exprBase struct{}

func (exprBase) exprNode() {}

// Literal is a constant Value.
type Literal struct {
	exprBase
	Value Value
}

func (e *Literal) Accept(v Visitor) (Expr, error) { return v.VisitLiteral(e) }

// Reference resolves an identifier in scope. Nesting > 0 means the
// reference escapes into an enclosing scope (used by nested-merge
// predicates and correlated subqueries).
type Reference struct {
	exprBase
	Nesting  int
	Kind     RefKind
	Index    int    // RefField
	Table    string // RefColumn
	Column   string // RefColumn
	Relation string // RefRelation
}

func (e *Reference) Accept(v Visitor) (Expr, error) { return v.VisitReference(e) }

// Arg is a placeholder substituted by Input when a statement is lowered
// or when a nested-merge predicate is evaluated against a candidate row.
type Arg struct {
	exprBase
	Position int
	Nesting  int
	// Path projects into the substituted value (e.g. Arg(0).field[2]);
	// empty means "the whole value".
	Path []int
}

func (e *Arg) Accept(v Visitor) (Expr, error) { return v.VisitArg(e) }

// Binary is a two-operand comparison or arithmetic expression.
type Binary struct {
	exprBase
	Op          BinaryOp
	Left, Right Expr
}

func (e *Binary) Accept(v Visitor) (Expr, error) { return v.VisitBinary(e) }

// And is n-ary conjunction; And([]) simplifies to literal true.
type And struct {
	exprBase
	Operands []Expr
}

func (e *And) Accept(v Visitor) (Expr, error) { return v.VisitAnd(e) }

// Or is n-ary disjunction; Or([]) simplifies to literal false.
type Or struct {
	exprBase
	Operands []Expr
}

func (e *Or) Accept(v Visitor) (Expr, error) { return v.VisitOr(e) }

// Not negates a boolean expression.
type Not struct {
	exprBase
	Operand Expr
}

func (e *Not) Accept(v Visitor) (Expr, error) { return v.VisitNot(e) }

// IsNull tests nullity.
type IsNull struct {
	exprBase
	Operand Expr
}

func (e *IsNull) Accept(v Visitor) (Expr, error) { return v.VisitIsNull(e) }

// Record is an ordered fixed-arity tuple of expressions (used for
// composite keys and model_to_table/table_to_model templates).
type Record struct {
	exprBase
	Elements []Expr
}

func (e *Record) Accept(v Visitor) (Expr, error) { return v.VisitRecord(e) }

// List is a homogeneous list literal expression (as opposed to Value's
// already-evaluated ValueList).
type List struct {
	exprBase
	Elements []Expr
}

func (e *List) Accept(v Visitor) (Expr, error) { return v.VisitList(e) }

// InList tests membership of Target in the evaluated List expression.
type InList struct {
	exprBase
	Target Expr
	List   Expr
}

func (e *InList) Accept(v Visitor) (Expr, error) { return v.VisitInList(e) }

// InSubquery tests membership of Target in a correlated or uncorrelated
// subquery's returning column.
type InSubquery struct {
	exprBase
	Target   Expr
	Subquery *Query
}

func (e *InSubquery) Accept(v Visitor) (Expr, error) { return v.VisitInSubquery(e) }

// Project extracts field Path from a Base record-valued expression.
type Project struct {
	exprBase
	Base Expr
	Path int
}

func (e *Project) Accept(v Visitor) (Expr, error) { return v.VisitProject(e) }

// Cast converts Base to Target type (e.g. unwrapping a typed id to its
// underlying scalar storage representation).
type Cast struct {
	exprBase
	Base   Expr
	Target Type
}

func (e *Cast) Accept(v Visitor) (Expr, error) { return v.VisitCast(e) }

// Concat concatenates record-shaped operands into a wider record.
type Concat struct {
	exprBase
	Operands []Expr
}

func (e *Concat) Accept(v Visitor) (Expr, error) { return v.VisitConcat(e) }

// ConcatStr concatenates string-valued operands.
type ConcatStr struct {
	exprBase
	Operands []Expr
}

func (e *ConcatStr) Accept(v Visitor) (Expr, error) { return v.VisitConcatStr(e) }

// Map applies Body to every element of the list-valued Base. Within Body,
// Arg{Position: 0, Nesting: 0} refers to the current element.
type Map struct {
	exprBase
	Base Expr
	Body Expr
}

func (e *Map) Accept(v Visitor) (Expr, error) { return v.VisitMap(e) }

// Any is existential quantification of Pred over the elements of Base:
// true iff Pred holds (with Arg{0,0} bound to the element) for at least
// one element of Base. The canonical OR-rewrite output is an Any node
// whose Base is a literal list of key values and whose Pred is the
// per-branch comparison template.
type Any struct {
	exprBase
	Base Expr
	Pred Expr
}

func (e *Any) Accept(v Visitor) (Expr, error) { return v.VisitAny(e) }

// StmtExpr wraps a nested statement used as a scalar or list value (e.g. a
// correlated count subquery appearing in a returning expression).
type StmtExpr struct {
	exprBase
	Statement Statement
}

func (e *StmtExpr) Accept(v Visitor) (Expr, error) { return v.VisitStmtExpr(e) }

// Key is sugar for "the primary key record of the self model"; the
// simplifier never needs to expand it itself, but lowering rewrites it
// using the model's precomputed model_pk_to_table template.
type Key struct {
	exprBase
	Nesting int
}

func (e *Key) Accept(v Visitor) (Expr, error) { return v.VisitKey(e) }

// AggregateFn enumerates the aggregate functions a returning expression
// may apply over a query's matched rows.
type AggregateFn int

const (
	AggCount AggregateFn = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

func (fn AggregateFn) String() string {
	switch fn {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	default:
		return "?"
	}
}

// Aggregate folds Operand over every matched row. A nil Operand is only
// valid for AggCount and counts rows rather than non-null values.
type Aggregate struct {
	exprBase
	Fn      AggregateFn
	Operand Expr
}

func (e *Aggregate) Accept(v Visitor) (Expr, error) { return v.VisitAggregate(e) }

// DecodeEnum unwraps a serialized enum discriminant+payload form back
// into an EnumPayload value, used when reading embedded-enum columns.
type DecodeEnum struct {
	exprBase
	Base Expr
}

func (e *DecodeEnum) Accept(v Visitor) (Expr, error) { return v.VisitDecodeEnum(e) }

// Helper constructors keep call sites terse.
func Lit(v Value) Expr                  { return &Literal{Value: v} }
func Field(nesting, index int) Expr     { return &Reference{Nesting: nesting, Kind: RefField, Index: index} }
func Col(nesting int, table, col string) Expr {
	return &Reference{Nesting: nesting, Kind: RefColumn, Table: table, Column: col}
}
func ModelRef(nesting int) Expr { return &Reference{Nesting: nesting, Kind: RefModel} }
func Rel(nesting int, relation string) Expr {
	return &Reference{Nesting: nesting, Kind: RefRelation, Relation: relation}
}
func ArgAt(pos, nesting int) Expr { return &Arg{Position: pos, Nesting: nesting} }
func Eq(l, r Expr) Expr          { return &Binary{Op: OpEq, Left: l, Right: r} }
func AndOf(ops ...Expr) Expr     { return &And{Operands: ops} }
func OrOf(ops ...Expr) Expr      { return &Or{Operands: ops} }
func NotOf(e Expr) Expr          { return &Not{Operand: e} }

// IsVariant tests that an embedded-enum field holds the given variant,
// regardless of payload: a prefix check against the stored
// "<discriminant>#<payload>" form.
func IsVariant(base Expr, variant int64) Expr {
	return &Binary{Op: OpBeginsWith, Left: base, Right: Lit(StringValue(EnumWirePrefix(variant)))}
}
