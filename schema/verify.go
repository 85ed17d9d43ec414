package schema

import "github.com/latticeorm/lattice/ormerr"

// verify checks the schema's structural invariants, failing fast with a typed
// InvalidSchema error (never a panic) on the first violation found.
func verify(s *Schema) error {
	for name, m := range s.models {
		root, ok := m.(*RootModel)
		if !ok {
			continue
		}

		if err := verifyFieldIndices(root); err != nil {
			return err
		}
		if err := verifyAutoIncrement(root, s); err != nil {
			return err
		}
		if err := verifyRelations(root, s); err != nil {
			return err
		}

		table, err := s.Table(name)
		if err != nil {
			return err
		}
		if err := verifyIndexNames(table); err != nil {
			return err
		}
		if err := verifyNullableMultiColumnIndex(table); err != nil {
			return err
		}
	}
	return nil
}

// verifyFieldIndices checks that every field index referenced by a
// primary key or an application index resolves to a field of its own
// model.
func verifyFieldIndices(root *RootModel) error {
	inRange := func(idx int) bool { return idx >= 0 && idx < len(root.Fields) }

	for _, idx := range root.PrimaryKey.FieldIndices {
		if !inRange(idx) {
			return ormerr.New(ormerr.InvalidSchema, "model %s: primary key references out-of-range field index %d", root.Name, idx)
		}
	}
	for _, appIdx := range root.Indices {
		for _, idx := range appIdx.FieldIndices {
			if !inRange(idx) {
				return ormerr.New(ormerr.InvalidSchema, "model %s: index %s references out-of-range field index %d", root.Name, appIdx.Name, idx)
			}
		}
	}
	return nil
}

// verifyAutoIncrement checks that auto-increment columns occur only on a
// single-column numeric primary key.
func verifyAutoIncrement(root *RootModel, s *Schema) error {
	table, err := s.Table(root.Name)
	if err != nil {
		return err
	}
	autoIncCount := 0
	for _, c := range table.Columns {
		if c.AutoIncrement {
			autoIncCount++
		}
	}
	if autoIncCount > 0 && len(root.PrimaryKey.FieldIndices) != 1 {
		return ormerr.New(ormerr.InvalidSchema, "model %s: auto-increment column requires a single-column primary key", root.Name)
	}
	return nil
}

// verifyRelations checks that every BelongsTo's foreign-key pairs name
// fields that exist on both source and target, and that every
// HasMany/HasOne resolves to a field on the target.
func verifyRelations(root *RootModel, s *Schema) error {
	for relName, rel := range root.Relations {
		switch r := rel.(type) {
		case *BelongsTo:
			targetRoot, err := s.Root(r.Target)
			if err != nil {
				return ormerr.Wrap(ormerr.InvalidSchema, err, "model %s: relation %s targets unknown model %s", root.Name, relName, r.Target)
			}
			for _, pair := range r.Pairs {
				if pair.SourceField < 0 || pair.SourceField >= len(root.Fields) {
					return ormerr.New(ormerr.InvalidSchema, "model %s: belongs-to %s source field index %d out of range", root.Name, relName, pair.SourceField)
				}
				if pair.TargetField < 0 || pair.TargetField >= len(targetRoot.Fields) {
					return ormerr.New(ormerr.InvalidSchema, "model %s: belongs-to %s target field index %d out of range", root.Name, relName, pair.TargetField)
				}
			}
			if len(r.ResolvedPair) == 0 {
				return ormerr.New(ormerr.InvalidSchema, "model %s: belongs-to %s has no resolved pair after schema build", root.Name, relName)
			}
		case *HasMany:
			if _, err := s.Root(r.Target); err != nil {
				return ormerr.Wrap(ormerr.InvalidSchema, err, "model %s: relation %s targets unknown model %s", root.Name, relName, r.Target)
			}
			if len(r.TargetFKPairs) == 0 {
				return ormerr.New(ormerr.InvalidSchema, "model %s: has-many %s has no resolved pair field after schema build", root.Name, relName)
			}
		case *HasOne:
			if _, err := s.Root(r.Target); err != nil {
				return ormerr.Wrap(ormerr.InvalidSchema, err, "model %s: relation %s targets unknown model %s", root.Name, relName, r.Target)
			}
			if len(r.TargetFKPairs) == 0 {
				return ormerr.New(ormerr.InvalidSchema, "model %s: has-one %s has no resolved pair field after schema build", root.Name, relName)
			}
		}
	}
	return nil
}

// verifyIndexNames checks that no two indices on the same table share a
// name.
func verifyIndexNames(table *Table) error {
	seen := make(map[string]bool)
	for _, idx := range table.Indices {
		if seen[idx.Name] {
			return ormerr.New(ormerr.InvalidSchema, "table %s: duplicate index name %q", table.Name, idx.Name)
		}
		seen[idx.Name] = true
	}
	return nil
}

// verifyNullableMultiColumnIndex checks that a nullable column never
// participates in a multi-column index.
func verifyNullableMultiColumnIndex(table *Table) error {
	for _, idx := range table.Indices {
		if len(idx.Columns) < 2 {
			continue
		}
		for _, ic := range idx.Columns {
			col, err := table.Column(ic.Column)
			if err != nil {
				return ormerr.Wrap(ormerr.InvalidSchema, err, "table %s: index %s", table.Name, idx.Name)
			}
			if col.Nullable {
				return ormerr.New(ormerr.InvalidSchema, "table %s: nullable column %q cannot participate in multi-column index %s", table.Name, col.Name, idx.Name)
			}
		}
	}
	return nil
}
