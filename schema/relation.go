package schema

import "github.com/latticeorm/lattice/ir"

// RelationKind is the closed tagged union of relation variants.
type RelationKind int

const (
	RelBelongsTo RelationKind = iota
	RelHasMany
	RelHasOne
)

// Relation is the sealed interface every relation variant satisfies.
type Relation interface {
	RelationKind() RelationKind
	TargetModelName() string
}

// FKPair pairs a source-model field index with a target-model field
// index, one column each of a (possibly composite) foreign key.
type FKPair struct {
	SourceField int
	TargetField int
}

// BelongsTo holds the foreign key on the source model's own table,
// referencing the target model's primary key (or unique index).
type BelongsTo struct {
	Target       string
	Pairs        []FKPair
	ResolvedPair []FKPair // set once schema build verifies Pairs line up with the target's key
}

func (r *BelongsTo) RelationKind() RelationKind { return RelBelongsTo }
func (r *BelongsTo) TargetModelName() string    { return r.Target }

// HasMany is the inverse of a BelongsTo: the foreign key lives on the
// target model. PairFieldID is the source model's field (usually its
// primary key) that the target's foreign key references.
type HasMany struct {
	Target        string
	PairFieldID   int
	SingularName  string
	TargetFKPairs []FKPair
	// Scope, when non-nil, is an extra filter applied to every query of
	// this relation (a "scoped subquery" restricting which target rows
	// count as related, e.g. a soft-delete flag).
	Scope ir.Expr
}

func (r *HasMany) RelationKind() RelationKind { return RelHasMany }
func (r *HasMany) TargetModelName() string    { return r.Target }

// HasOne is a HasMany with at-most-one-match cardinality enforced by the
// executor; it shares HasMany's shape.
type HasOne struct {
	Target        string
	PairFieldID   int
	TargetFKPairs []FKPair
	Scope         ir.Expr
}

func (r *HasOne) RelationKind() RelationKind { return RelHasOne }
func (r *HasOne) TargetModelName() string    { return r.Target }
