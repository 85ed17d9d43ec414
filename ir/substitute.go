package ir

// Input resolves an Arg's position (and optional projection path into the
// value) to a replacement expression. Lowering builds an Input from the
// record being inserted/updated; nested-merge planning builds one from
// the ancestor row stack.
type Input interface {
	// Resolve returns the expression to substitute for Arg{Position,
	// Path}, or ok=false if this Input does not own that position
	// (letting substitution fall through to an enclosing nesting level).
	Resolve(position int, path []int) (Expr, bool)
}

// FuncInput adapts a plain function to the Input interface; used
// throughout the planner and lowering passes for one-off substitutions.
type FuncInput func(position int, path []int) (Expr, bool)

func (f FuncInput) Resolve(position int, path []int) (Expr, bool) { return f(position, path) }

// RecordInput resolves Arg{Position: 0, Path: [i, ...]} against a Record
// expression's i-th element (recursing through Path for nested records).
// This is the Input used when lowering an Insert's row template.
type RecordInput struct {
	Record *Record
}

func (r RecordInput) Resolve(position int, path []int) (Expr, bool) {
	if position != 0 {
		return nil, false
	}
	cur := Expr(r.Record)
	for _, step := range path {
		rec, ok := cur.(*Record)
		if !ok || step < 0 || step >= len(rec.Elements) {
			return nil, false
		}
		cur = rec.Elements[step]
	}
	return cur, true
}

// substituteVisitor rewrites Arg nodes at a target nesting level using
// Input, decrementing Nesting for Args that belong to an enclosing scope
// so a further (outer) Substitute call can resolve them.
type substituteVisitor struct {
	BaseVisitor
	input Input
}

// Substitute rewrites every Arg{Nesting: 0} in e by resolving it against
// input; Args with Nesting > 0 have their Nesting decremented by one so
// they become resolvable by the next enclosing Substitute call. This is
// the mechanism lowering uses to thread an Insert's row or an Update's
// assignment value through a model's table_to_model/model_to_table
// template, and nested-merge planning uses to bind a parent row into a
// child qualification predicate.
func Substitute(e Expr, input Input) (Expr, error) {
	v := &substituteVisitor{input: input}
	v.Self = v
	return Walk(e, v)
}

func (s *substituteVisitor) VisitArg(e *Arg) (Expr, error) {
	if e.Nesting > 0 {
		return &Arg{Position: e.Position, Nesting: e.Nesting - 1, Path: e.Path}, nil
	}
	if repl, ok := s.input.Resolve(e.Position, e.Path); ok {
		return repl, nil
	}
	return e, nil
}

// TakeReplace swaps *slot with a null Literal and returns the original,
// so a visitor mutating a tree in place never holds two aliases of the
// same subtree while descending into it.
func TakeReplace(slot *Expr) Expr {
	taken := *slot
	*slot = &Literal{Value: NullValue}
	return taken
}
