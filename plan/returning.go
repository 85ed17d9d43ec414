package plan

import "github.com/latticeorm/lattice/ir"

// partitionReturning splits r into a statement-side record and an
// optional in-memory post-projection. When every field is a
// direct, unwrapped column/record reference the post-projection is
// identity and projectFn is nil, so the executor skips the Project
// node entirely.
func partitionReturning(r *ir.Returning) (statementSide ir.Expr, projectFn ir.Expr) {
	if r == nil {
		return nil, nil
	}
	if r.Star {
		return nil, nil // driver returns every column; no projection needed
	}
	if isIdentityProjection(r.Expression) {
		return r.Expression, nil
	}
	return r.Expression, r.Expression
}

// isIdentityProjection reports whether e is a Record whose every element
// is a bare Reference (column or otherwise unwrapped), meaning the
// backend's natural row shape already matches the requested returning
// shape.
func isIdentityProjection(e ir.Expr) bool {
	switch v := e.(type) {
	case *ir.Reference:
		return true
	case *ir.Record:
		for _, el := range v.Elements {
			if _, ok := el.(*ir.Reference); !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}
