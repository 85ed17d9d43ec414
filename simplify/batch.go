package simplify

import "github.com/latticeorm/lattice/ir"

// MergeInserts collapses adjacent compatible single-row inserts in a
// statement batch into one multi-row insert, before lowering. Two
// inserts are compatible when they target the same model, source literal
// row sets, resolve conflicts the same way, and carry the same returning
// shape (none, or star; an explicit returning expression never merges,
// its per-statement result shape is the caller's contract). Only
// adjacent inserts merge, so the batch's write order is preserved around
// any interleaved non-insert statement.
func MergeInserts(stmts []ir.Statement) []ir.Statement {
	var out []ir.Statement
	for _, stmt := range stmts {
		ins, ok := stmt.(*ir.Insert)
		if !ok {
			out = append(out, stmt)
			continue
		}
		if len(out) > 0 {
			if prev, ok := out[len(out)-1].(*ir.Insert); ok && mergeable(prev, ins) {
				prevRows := prev.Source.(*ir.Values).Rows
				insRows := ins.Source.(*ir.Values).Rows
				rows := make([]ir.Expr, 0, len(prevRows)+len(insRows))
				rows = append(rows, prevRows...)
				rows = append(rows, insRows...)
				out[len(out)-1] = &ir.Insert{
					Target:    prev.Target,
					Source:    &ir.Values{Rows: rows},
					Returning: prev.Returning,
					Conflict:  prev.Conflict,
				}
				continue
			}
		}
		out = append(out, ins)
	}
	return out
}

func mergeable(a, b *ir.Insert) bool {
	if a.Target.Kind != b.Target.Kind || a.Target.Name != b.Target.Name {
		return false
	}
	if _, ok := a.Source.(*ir.Values); !ok {
		return false
	}
	if _, ok := b.Source.(*ir.Values); !ok {
		return false
	}
	if !sameConflict(a.Conflict, b.Conflict) {
		return false
	}
	switch {
	case a.Returning == nil && b.Returning == nil:
		return true
	case a.Returning != nil && b.Returning != nil:
		return a.Returning.Star && b.Returning.Star
	default:
		return false
	}
}

func sameConflict(a, b ir.ConflictSpec) bool {
	if a.Action != b.Action || len(a.Columns) != len(b.Columns) || len(a.UpdateColumns) != len(b.UpdateColumns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	for i := range a.UpdateColumns {
		if a.UpdateColumns[i] != b.UpdateColumns[i] {
			return false
		}
	}
	return true
}
