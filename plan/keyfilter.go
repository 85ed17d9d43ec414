package plan

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/schema"
)

// indexChoice is the output of index selection.
type indexChoice struct {
	index        *schema.DbIndex
	indexFilter  ir.Expr // the sub-expression the backend can evaluate on the index
	resultFilter ir.Expr // residual, evaluable on the matched row server-side
	postFilter   ir.Expr // residual that must run in memory after rows come back
}

// selectIndex scores every index of table by how much of filter it
// covers via conjunctive column=literal equalities, preferring the
// primary key when it fully covers, else the best-covering secondary
// index, else no index at all (the whole filter becomes post_filter and
// the statement is sent to the backend as-is via ExecStatement).
func selectIndex(table *schema.Table, filter ir.Expr) indexChoice {
	if or, ok := filter.(*ir.Or); ok {
		if idx := bestOrCoveringIndex(table, or); idx != nil {
			return indexChoice{index: idx, indexFilter: or}
		}
	}

	conjuncts := flattenAnd(filter)

	var best *schema.DbIndex
	var bestCovered []ir.Expr
	bestScore := -1

	for i := range table.Indices {
		idx := &table.Indices[i]
		covered := coveringConjuncts(idx, conjuncts)
		if len(covered) == 0 {
			continue
		}
		score := len(covered)
		if idx.PrimaryKey {
			score += 1000 // primary key preferred when it suffices
		}
		if score > bestScore {
			bestScore = score
			best = idx
			bestCovered = covered
		}
	}

	if best == nil {
		return indexChoice{postFilter: filter}
	}

	coveredSet := make(map[ir.Expr]bool, len(bestCovered))
	for _, c := range bestCovered {
		coveredSet[c] = true
	}
	var residual []ir.Expr
	for _, c := range conjuncts {
		if !coveredSet[c] {
			residual = append(residual, c)
		}
	}

	return indexChoice{
		index:        best,
		indexFilter:  ir.AndOf(bestCovered...),
		resultFilter: nil,
		postFilter:   ir.AndOf(residual...),
	}
}

// bestOrCoveringIndex handles a top-level OR filter (e.g. an unrolled IN
// list): an index is usable when every branch, independently, equates
// all of that index's columns. Preferring the primary key mirrors
// selectIndex's own scoring.
func bestOrCoveringIndex(table *schema.Table, or *ir.Or) *schema.DbIndex {
	var best *schema.DbIndex
	bestScore := -1
	for i := range table.Indices {
		idx := &table.Indices[i]
		if !orFullyCovers(idx, or) {
			continue
		}
		score := 1
		if idx.PrimaryKey {
			score += 1000
		}
		if score > bestScore {
			bestScore = score
			best = idx
		}
	}
	return best
}

func orFullyCovers(idx *schema.DbIndex, or *ir.Or) bool {
	for _, branch := range or.Operands {
		covered := coveringConjuncts(idx, flattenAnd(branch))
		if len(covered) != len(idx.Columns) {
			return false
		}
	}
	return true
}

// flattenAnd decomposes e into its top-level AND conjuncts (a single
// non-And expression is its own one-element list).
func flattenAnd(e ir.Expr) []ir.Expr {
	if e == nil {
		return nil
	}
	if and, ok := e.(*ir.And); ok {
		var out []ir.Expr
		for _, op := range and.Operands {
			out = append(out, flattenAnd(op)...)
		}
		return out
	}
	return []ir.Expr{e}
}

// coveringConjuncts returns the subset of conjuncts that, together,
// equate every column of idx (in any order) to a literal or an Arg, or
// nil if idx isn't fully covered.
func coveringConjuncts(idx *schema.DbIndex, conjuncts []ir.Expr) []ir.Expr {
	need := idx.ColumnNames()
	found := make(map[string]ir.Expr, len(need))

	for _, c := range conjuncts {
		col, ok := equalityColumn(c)
		if !ok {
			continue
		}
		for _, n := range need {
			if n == col {
				found[col] = c
			}
		}
	}

	if len(found) != len(need) {
		return nil
	}
	out := make([]ir.Expr, 0, len(need))
	for _, n := range need {
		out = append(out, found[n])
	}
	return out
}

// equalityColumn reports whether e is `Reference{Column} = value` (in
// either operand order), returning the referenced column name.
func equalityColumn(e ir.Expr) (string, bool) {
	bin, ok := e.(*ir.Binary)
	if !ok || bin.Op != ir.OpEq {
		return "", false
	}
	if ref, ok := bin.Left.(*ir.Reference); ok && ref.Kind == ir.RefColumn && isValueLike(bin.Right) {
		return ref.Column, true
	}
	if ref, ok := bin.Right.(*ir.Reference); ok && ref.Kind == ir.RefColumn && isValueLike(bin.Left) {
		return ref.Column, true
	}
	return "", false
}

func isValueLike(e ir.Expr) bool {
	switch e.(type) {
	case *ir.Literal, *ir.Arg:
		return true
	default:
		return false
	}
}

// tryBuildKeyFilter attempts to rewrite indexFilter into a list-of-keys
// expression suitable for GetByKey/QueryPk. It handles single-column equality, composite
// AND-of-equalities, `col IN list`, and an OR of branches that each
// independently resolve to a key.
func tryBuildKeyFilter(idx *schema.DbIndex, indexFilter ir.Expr) (ir.Expr, bool) {
	if indexFilter == nil {
		return nil, false
	}
	if and, ok := indexFilter.(*ir.And); ok && len(and.Operands) == 1 {
		indexFilter = and.Operands[0]
	}

	if len(idx.Columns) == 1 {
		col := idx.Columns[0].Column
		if c, ok := equalityColumn(indexFilter); ok && c == col {
			_, v := splitEquality(indexFilter)
			return &ir.List{Elements: []ir.Expr{v}}, true
		}
		if il, ok := indexFilter.(*ir.InList); ok {
			if ref, ok := il.Target.(*ir.Reference); ok && ref.Kind == ir.RefColumn && ref.Column == col {
				if list, ok := il.List.(*ir.List); ok {
					return list, true
				}
			}
		}
	}

	conjuncts := flattenAnd(indexFilter)
	if len(conjuncts) == len(idx.Columns) {
		covered := coveringConjuncts(idx, conjuncts)
		if len(covered) == len(idx.Columns) {
			elements := make([]ir.Expr, len(idx.Columns))
			for i, c := range covered {
				_, v := splitEquality(c)
				elements[i] = v
			}
			return &ir.List{Elements: []ir.Expr{&ir.Record{Elements: elements}}}, true
		}
	}

	if or, ok := indexFilter.(*ir.Or); ok {
		var keys []ir.Expr
		for _, branch := range or.Operands {
			branchKey, ok := tryBuildKeyFilter(idx, branch)
			if !ok {
				return nil, false
			}
			list, ok := branchKey.(*ir.List)
			if !ok {
				return nil, false
			}
			keys = append(keys, list.Elements...)
		}
		return &ir.List{Elements: keys}, true
	}

	return nil, false
}

// tryBuildPartitionKey attempts to rewrite filter into a partition-key
// lookup on idx: every partition-scoped column of idx equated to a
// value, with the rest of the filter left as a residual the backend
// evaluates on the matched partition's rows. It only applies when the
// filter does NOT pin the full key (a fully-pinned key is a GetByKey,
// not a partition scan).
func tryBuildPartitionKey(idx *schema.DbIndex, filter ir.Expr) (keys ir.Expr, residual ir.Expr, ok bool) {
	var partCols []string
	for _, ic := range idx.Columns {
		if ic.Scope == schema.ScopePartition {
			partCols = append(partCols, ic.Column)
		}
	}
	if len(partCols) == 0 || len(partCols) == len(idx.Columns) {
		return nil, nil, false
	}

	conjuncts := flattenAnd(filter)
	found := make(map[string]ir.Expr, len(partCols))
	var rest []ir.Expr
	for _, c := range conjuncts {
		col, isEq := equalityColumn(c)
		if isEq && isPartitionColumn(partCols, col) {
			if _, dup := found[col]; !dup {
				found[col] = c
				continue
			}
		}
		rest = append(rest, c)
	}
	if len(found) != len(partCols) {
		return nil, nil, false
	}

	elements := make([]ir.Expr, len(partCols))
	for i, col := range partCols {
		_, v := splitEquality(found[col])
		elements[i] = v
	}
	var key ir.Expr = elements[0]
	if len(elements) > 1 {
		key = &ir.Record{Elements: elements}
	}
	keys = &ir.List{Elements: []ir.Expr{key}}
	if len(rest) > 0 {
		residual = ir.AndOf(rest...)
		if len(rest) == 1 {
			residual = rest[0]
		}
	}
	return keys, residual, true
}

func isPartitionColumn(partCols []string, col string) bool {
	for _, p := range partCols {
		if p == col {
			return true
		}
	}
	return false
}

// splitEquality returns (column, value) for a `Reference{Column} = value`
// binary in either operand order.
func splitEquality(e ir.Expr) (string, ir.Expr) {
	bin := e.(*ir.Binary)
	if ref, ok := bin.Left.(*ir.Reference); ok && ref.Kind == ir.RefColumn {
		return ref.Column, bin.Right
	}
	ref := bin.Right.(*ir.Reference)
	return ref.Column, bin.Left
}
