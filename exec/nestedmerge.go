package exec

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/plan"
)

// merger materializes one NestedMerge node: every input stream has
// already been fully buffered before projection starts, so qualification and projection run purely over
// in-memory row slices.
type merger struct {
	eval   *Evaluator
	inputs [][]ir.Value // indexed by NestedLevel.Source / NestedMergeSpec.Inputs position
}

// materializeNestedMerge evaluates spec's root level over every row of
// its source input and returns the merged rows.
func materializeNestedMerge(ev *Evaluator, spec *plan.NestedMergeSpec, inputs [][]ir.Value) ([]ir.Value, error) {
	m := &merger{eval: ev, inputs: inputs}
	rootRows := inputs[spec.Root.Source]
	out := make([]ir.Value, len(rootRows))
	for i, row := range rootRows {
		v, err := m.level(spec.Root, row, nil)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// level materializes one row at one NestedLevel: its own projection,
// plus one merged field per NestedChild holding that child's matching
// rows (a list, or a single scalar/null for a HasOne/BelongsTo include).
// ancestors is the row stack outside this level, innermost first.
func (m *merger) level(lvl plan.NestedLevel, row ir.Value, ancestors []ir.Value) (ir.Value, error) {
	stack := append([]ir.Value{row}, ancestors...)

	base, err := m.eval.Eval(lvl.Projection, stack, nil)
	if err != nil {
		return ir.Value{}, err
	}
	if len(lvl.Nested) == 0 {
		return base, nil
	}

	nestedValues := make([]ir.Value, len(lvl.Nested))
	for i, child := range lvl.Nested {
		candidates := m.inputs[child.Level.Source]
		var matched []ir.Value
		for _, cand := range candidates {
			qualStack := append([]ir.Value{cand}, stack...)
			ok, err := m.eval.Eval(child.Qualification, qualStack, nil)
			if err != nil {
				return ir.Value{}, err
			}
			if ok.Kind == ir.ValueBool && ok.Bool {
				merged, err := m.level(child.Level, cand, stack)
				if err != nil {
					return ir.Value{}, err
				}
				matched = append(matched, merged)
			}
		}
		if child.Single {
			if len(matched) > 1 {
				// A HasOne/BelongsTo include
				// with more than one matching candidate violates the
				// relation's own cardinality invariant, not user input,
				// so it surfaces as a Bug rather than a typed user error.
				return ir.Value{}, ormerr.Bugf("exec: nested include expected at most one match, found %d", len(matched))
			}
			if len(matched) == 1 {
				nestedValues[i] = matched[0]
			} else {
				nestedValues[i] = ir.NullValue
			}
			continue
		}
		nestedValues[i] = ir.ListValue(matched...)
	}

	if base.Kind == ir.ValueRecord {
		fields := append(append([]ir.Value(nil), base.Fields...), nestedValues...)
		return ir.RecordValue(fields...), nil
	}
	return ir.RecordValue(append([]ir.Value{base}, nestedValues...)...), nil
}
