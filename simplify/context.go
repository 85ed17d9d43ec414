package simplify

import "github.com/latticeorm/lattice/schema"

// targetKind tags what an ExprTarget's Name resolves against, so
// association expansion and path-to-foreign-key lifting know whether a
// Reference{Model} inside the current scope is still model-shaped or
// already a lowered table row.
type targetKind int

const (
	targetConst targetKind = iota // no enclosing model scope (e.g. a Values row)
	targetModel
)

// exprTarget carries the enclosing model context through a statement
// walk. It is pushed when entering a Select/Update/Insert/Delete source
// and popped on the way back out, mirroring how the same scope
// information threads through Lower and Plan.
type exprTarget struct {
	kind  targetKind
	model string
}

func constTarget() exprTarget { return exprTarget{kind: targetConst} }

func modelTarget(name string) exprTarget { return exprTarget{kind: targetModel, model: name} }

// relation looks up the named relation on the target's model, returning
// ok=false if the target isn't model-scoped or the schema doesn't carry
// that relation.
func (t exprTarget) relation(s *schema.Schema, name string) (schema.Relation, bool) {
	if t.kind != targetModel {
		return nil, false
	}
	root, err := s.Root(t.model)
	if err != nil {
		return nil, false
	}
	rel, ok := root.Relations[name]
	return rel, ok
}
