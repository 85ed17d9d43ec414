package schema

import "github.com/latticeorm/lattice/ormerr"

// resolveRelations fills in the derived fields every relation needs
// before verify runs: a BelongsTo's ResolvedPair (defaulting to its
// declared Pairs once those are confirmed to name existing fields) and a
// HasMany/HasOne's TargetFKPairs (found by locating the BelongsTo on the
// target model that points back at the source model, unless the caller
// already supplied them explicitly).
func resolveRelations(s *Schema) error {
	for name, m := range s.models {
		root, ok := m.(*RootModel)
		if !ok {
			continue
		}
		for relName, rel := range root.Relations {
			switch r := rel.(type) {
			case *BelongsTo:
				if len(r.ResolvedPair) == 0 && len(r.Pairs) > 0 {
					r.ResolvedPair = r.Pairs
				}
			case *HasMany:
				if len(r.TargetFKPairs) == 0 {
					pairs, err := inverseBelongsToPairs(s, name, r.Target)
					if err != nil {
						return ormerr.Wrap(ormerr.InvalidSchema, err, "model %s: has-many %s", name, relName)
					}
					r.TargetFKPairs = pairs
				}
			case *HasOne:
				if len(r.TargetFKPairs) == 0 {
					pairs, err := inverseBelongsToPairs(s, name, r.Target)
					if err != nil {
						return ormerr.Wrap(ormerr.InvalidSchema, err, "model %s: has-one %s", name, relName)
					}
					r.TargetFKPairs = pairs
				}
			}
		}
	}
	return nil
}

// inverseBelongsToPairs finds the BelongsTo relation on targetName that
// points back at sourceName and returns its pairs with Source/Target
// swapped, so iterating them from the source model's perspective yields
// (source field, target field) consistent with BelongsTo.Pairs.
func inverseBelongsToPairs(s *Schema, sourceName, targetName string) ([]FKPair, error) {
	targetRoot, err := s.Root(targetName)
	if err != nil {
		return nil, err
	}
	for _, rel := range targetRoot.Relations {
		bt, ok := rel.(*BelongsTo)
		if !ok || bt.Target != sourceName {
			continue
		}
		pairs := make([]FKPair, len(bt.Pairs))
		for i, p := range bt.Pairs {
			pairs[i] = FKPair{SourceField: p.TargetField, TargetField: p.SourceField}
		}
		return pairs, nil
	}
	return nil, ormerr.New(ormerr.InvalidSchema, "no belongs-to on %s points back to %s", targetName, sourceName)
}
