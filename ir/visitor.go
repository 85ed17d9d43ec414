package ir

// Visitor dispatches one method per Expr variant. Implementations that
// only care about a handful of variants should embed BaseVisitor, whose
// default methods recurse into children and rebuild the node, leaving
// leaves (Literal, Reference, Arg, Key) untouched.
type Visitor interface {
	VisitLiteral(e *Literal) (Expr, error)
	VisitReference(e *Reference) (Expr, error)
	VisitArg(e *Arg) (Expr, error)
	VisitBinary(e *Binary) (Expr, error)
	VisitAnd(e *And) (Expr, error)
	VisitOr(e *Or) (Expr, error)
	VisitNot(e *Not) (Expr, error)
	VisitIsNull(e *IsNull) (Expr, error)
	VisitRecord(e *Record) (Expr, error)
	VisitList(e *List) (Expr, error)
	VisitInList(e *InList) (Expr, error)
	VisitInSubquery(e *InSubquery) (Expr, error)
	VisitProject(e *Project) (Expr, error)
	VisitCast(e *Cast) (Expr, error)
	VisitConcat(e *Concat) (Expr, error)
	VisitConcatStr(e *ConcatStr) (Expr, error)
	VisitMap(e *Map) (Expr, error)
	VisitAny(e *Any) (Expr, error)
	VisitStmtExpr(e *StmtExpr) (Expr, error)
	VisitKey(e *Key) (Expr, error)
	VisitAggregate(e *Aggregate) (Expr, error)
	VisitDecodeEnum(e *DecodeEnum) (Expr, error)
}

// Walk visits e with v via its Accept method. Passes nil through
// unchanged (filters are expressed as optional sub-expressions).
func Walk(e Expr, v Visitor) (Expr, error) {
	if e == nil {
		return nil, nil
	}
	return e.Accept(v)
}

// WalkAll maps Walk over a slice, short-circuiting on the first error.
func WalkAll(exprs []Expr, v Visitor) ([]Expr, error) {
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		r, err := Walk(e, v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// BaseVisitor is the default, structure-preserving recursive visitor. Go
// has no virtual dispatch through struct embedding, so a visitor that
// embeds BaseVisitor and overrides only some methods MUST set Self to
// its own outer pointer in its constructor; otherwise default recursion
// recurses through BaseVisitor itself and silently skips the override on
// nested sub-expressions. This is the one sharp edge of the pattern,
// everything else behaves like normal method overriding.
type BaseVisitor struct {
	Self Visitor
}

func (b *BaseVisitor) self() Visitor {
	if b.Self != nil {
		return b.Self
	}
	return b
}

func (b *BaseVisitor) VisitLiteral(e *Literal) (Expr, error)     { return e, nil }
func (b *BaseVisitor) VisitReference(e *Reference) (Expr, error) { return e, nil }
func (b *BaseVisitor) VisitArg(e *Arg) (Expr, error)             { return e, nil }
func (b *BaseVisitor) VisitKey(e *Key) (Expr, error)             { return e, nil }
func (b *BaseVisitor) VisitInSubquery(e *InSubquery) (Expr, error) { return e, nil }
func (b *BaseVisitor) VisitStmtExpr(e *StmtExpr) (Expr, error)   { return e, nil }

func (b *BaseVisitor) VisitBinary(e *Binary) (Expr, error)     { return RecurseBinary(e, b.self()) }
func (b *BaseVisitor) VisitAnd(e *And) (Expr, error)           { return RecurseAnd(e, b.self()) }
func (b *BaseVisitor) VisitOr(e *Or) (Expr, error)             { return RecurseOr(e, b.self()) }
func (b *BaseVisitor) VisitNot(e *Not) (Expr, error)           { return RecurseNot(e, b.self()) }
func (b *BaseVisitor) VisitIsNull(e *IsNull) (Expr, error)     { return RecurseIsNull(e, b.self()) }
func (b *BaseVisitor) VisitRecord(e *Record) (Expr, error)     { return RecurseRecord(e, b.self()) }
func (b *BaseVisitor) VisitList(e *List) (Expr, error)         { return RecurseList(e, b.self()) }
func (b *BaseVisitor) VisitInList(e *InList) (Expr, error)     { return RecurseInList(e, b.self()) }
func (b *BaseVisitor) VisitProject(e *Project) (Expr, error)   { return RecurseProject(e, b.self()) }
func (b *BaseVisitor) VisitCast(e *Cast) (Expr, error)         { return RecurseCast(e, b.self()) }
func (b *BaseVisitor) VisitConcat(e *Concat) (Expr, error)     { return RecurseConcat(e, b.self()) }
func (b *BaseVisitor) VisitConcatStr(e *ConcatStr) (Expr, error) {
	return RecurseConcatStr(e, b.self())
}
func (b *BaseVisitor) VisitMap(e *Map) (Expr, error) { return RecurseMap(e, b.self()) }
func (b *BaseVisitor) VisitAny(e *Any) (Expr, error) { return RecurseAny(e, b.self()) }
func (b *BaseVisitor) VisitAggregate(e *Aggregate) (Expr, error) {
	return RecurseAggregate(e, b.self())
}
func (b *BaseVisitor) VisitDecodeEnum(e *DecodeEnum) (Expr, error) {
	return RecurseDecodeEnum(e, b.self())
}

// The Recurse* helpers rebuild a node from its visited children using the
// supplied Visitor for the recursive calls so overriding visitors can
// reuse default recursion for a node kind while still dispatching
// children polymorphically.
func RecurseBinary(e *Binary, v Visitor) (Expr, error) {
	l, err := Walk(e.Left, v)
	if err != nil {
		return nil, err
	}
	r, err := Walk(e.Right, v)
	if err != nil {
		return nil, err
	}
	return &Binary{Op: e.Op, Left: l, Right: r}, nil
}

func RecurseAnd(e *And, v Visitor) (Expr, error) {
	ops, err := WalkAll(e.Operands, v)
	if err != nil {
		return nil, err
	}
	return &And{Operands: ops}, nil
}

func RecurseOr(e *Or, v Visitor) (Expr, error) {
	ops, err := WalkAll(e.Operands, v)
	if err != nil {
		return nil, err
	}
	return &Or{Operands: ops}, nil
}

func RecurseNot(e *Not, v Visitor) (Expr, error) {
	op, err := Walk(e.Operand, v)
	if err != nil {
		return nil, err
	}
	return &Not{Operand: op}, nil
}

func RecurseIsNull(e *IsNull, v Visitor) (Expr, error) {
	op, err := Walk(e.Operand, v)
	if err != nil {
		return nil, err
	}
	return &IsNull{Operand: op}, nil
}

func RecurseRecord(e *Record, v Visitor) (Expr, error) {
	els, err := WalkAll(e.Elements, v)
	if err != nil {
		return nil, err
	}
	return &Record{Elements: els}, nil
}

func RecurseList(e *List, v Visitor) (Expr, error) {
	els, err := WalkAll(e.Elements, v)
	if err != nil {
		return nil, err
	}
	return &List{Elements: els}, nil
}

func RecurseInList(e *InList, v Visitor) (Expr, error) {
	t, err := Walk(e.Target, v)
	if err != nil {
		return nil, err
	}
	l, err := Walk(e.List, v)
	if err != nil {
		return nil, err
	}
	return &InList{Target: t, List: l}, nil
}

func RecurseProject(e *Project, v Visitor) (Expr, error) {
	base, err := Walk(e.Base, v)
	if err != nil {
		return nil, err
	}
	return &Project{Base: base, Path: e.Path}, nil
}

func RecurseCast(e *Cast, v Visitor) (Expr, error) {
	base, err := Walk(e.Base, v)
	if err != nil {
		return nil, err
	}
	return &Cast{Base: base, Target: e.Target}, nil
}

func RecurseConcat(e *Concat, v Visitor) (Expr, error) {
	ops, err := WalkAll(e.Operands, v)
	if err != nil {
		return nil, err
	}
	return &Concat{Operands: ops}, nil
}

func RecurseConcatStr(e *ConcatStr, v Visitor) (Expr, error) {
	ops, err := WalkAll(e.Operands, v)
	if err != nil {
		return nil, err
	}
	return &ConcatStr{Operands: ops}, nil
}

func RecurseMap(e *Map, v Visitor) (Expr, error) {
	base, err := Walk(e.Base, v)
	if err != nil {
		return nil, err
	}
	body, err := Walk(e.Body, v)
	if err != nil {
		return nil, err
	}
	return &Map{Base: base, Body: body}, nil
}

func RecurseAny(e *Any, v Visitor) (Expr, error) {
	base, err := Walk(e.Base, v)
	if err != nil {
		return nil, err
	}
	pred, err := Walk(e.Pred, v)
	if err != nil {
		return nil, err
	}
	return &Any{Base: base, Pred: pred}, nil
}

func RecurseAggregate(e *Aggregate, v Visitor) (Expr, error) {
	op, err := Walk(e.Operand, v)
	if err != nil {
		return nil, err
	}
	return &Aggregate{Fn: e.Fn, Operand: op}, nil
}

func RecurseDecodeEnum(e *DecodeEnum, v Visitor) (Expr, error) {
	base, err := Walk(e.Base, v)
	if err != nil {
		return nil, err
	}
	return &DecodeEnum{Base: base}, nil
}

// ContainsOr reports whether any sub-expression of e is an *Or node. This
// backs testable property 7: no Any(Map(...)) subtree may contain Or
// after the OR-rewriter runs.
func ContainsOr(e Expr) bool {
	found := false
	finder := &orFinder{found: &found}
	finder.Self = finder
	_, _ = Walk(e, finder)
	return found
}

// ContainsAggregate reports whether any sub-expression of e is an
// *Aggregate node; the planner routes aggregate-returning selects
// straight to the backend instead of the keyed-lookup path.
func ContainsAggregate(e Expr) bool {
	found := false
	finder := &aggFinder{found: &found}
	finder.Self = finder
	_, _ = Walk(e, finder)
	return found
}

type aggFinder struct {
	BaseVisitor
	found *bool
}

func (f *aggFinder) VisitAggregate(e *Aggregate) (Expr, error) {
	*f.found = true
	return RecurseAggregate(e, f)
}

type orFinder struct {
	BaseVisitor
	found *bool
}

func (f *orFinder) VisitOr(e *Or) (Expr, error) {
	*f.found = true
	// still recurse, in case Or nests inside Or's operands through And
	return RecurseOr(e, f)
}
