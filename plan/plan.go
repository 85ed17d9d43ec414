package plan

import (
	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// Planner turns lowered statements into plan graphs for one schema and
// one driver's capability set.
type Planner struct {
	schema *schema.Schema
	cap    driver.Capability
}

func New(s *schema.Schema, cap driver.Capability) *Planner {
	return &Planner{schema: s, cap: cap}
}

// Plan dispatches on statement kind.
func (p *Planner) Plan(stmt ir.Statement) (*Graph, error) {
	switch st := stmt.(type) {
	case *ir.Query:
		return p.planQuery(st)
	case *ir.Insert:
		return p.planInsert(st)
	case *ir.Update:
		return p.planUpdate(st)
	case *ir.Delete:
		return p.planDelete(st)
	default:
		return nil, ormerr.Bugf("plan: unhandled statement type %T", stmt)
	}
}

func (p *Planner) planQuery(q *ir.Query) (*Graph, error) {
	b := newBuilder()
	sel, ok := q.Body.(*ir.Select)
	if !ok {
		node := b.add(&Node{Op: OpExecStatement, Statement: q})
		return b.graph(node.OutputVar), nil
	}
	// Ordering and row limits belong to the backend's scan, not a keyed
	// lookup; a query that carries either goes down whole.
	if len(q.OrderBy) > 0 || q.Limit != nil || q.Single {
		node := b.add(&Node{Op: OpExecStatement, Statement: q})
		return b.graph(node.OutputVar), nil
	}
	retVar, err := p.planSelect(b, sel)
	if err != nil {
		return nil, err
	}
	return b.graph(retVar), nil
}

// planSelect plans a single table-scoped Select: index selection and
// key-filter extraction, OR-rewrite when the driver can't express
// disjunction natively, an in-memory Filter for the residual, a Project
// for a non-identity returning clause, and a NestedMerge for any included
// relations. Returns the variable id holding the final row stream.
func (p *Planner) planSelect(b *builder, sel *ir.Select) (int, error) {
	table := sel.Source.Name
	dbTable, err := p.schema.DbSchema().Table(table)
	if err != nil {
		return 0, err
	}

	// An aggregate folds the whole matched row set server-side; the keyed
	// lookup path would only re-buy the rows the backend is about to fold
	// away, so the statement goes down whole.
	if !sel.Returning.Star && sel.Returning.Expression != nil && ir.ContainsAggregate(sel.Returning.Expression) {
		node := b.add(&Node{Op: OpExecStatement, Statement: &ir.Query{Body: sel}})
		return node.OutputVar, nil
	}

	choice := selectIndex(dbTable, sel.Filter)

	var rowsVar int
	usedIndexNatively := false

	if choice.index != nil {
		var keyExpr ir.Expr
		var ok bool
		if ir.ContainsOr(choice.indexFilter) && !p.cap.ORInIndex {
			// This driver can't evaluate a disjunctive key condition
			// directly; canonicalize to Any(Map(values, shape)) so the
			// executor can still use the index one value at a time.
			rewritten, rerr := rewriteOr(choice.indexFilter)
			if rerr != nil {
				return 0, rerr
			}
			keyExpr, ok = rewritten, true
		} else {
			keyExpr, ok = tryBuildKeyFilter(choice.index, choice.indexFilter)
		}

		if ok {
			usedIndexNatively = true
			if choice.index.PrimaryKey {
				node := b.add(&Node{Op: OpGetByKey, Table: table, Index: choice.index, Keys: keyExpr})
				rowsVar = node.OutputVar
			} else {
				pk, perr := dbTable.PrimaryKeyIndex()
				if perr != nil {
					return 0, perr
				}
				findNode := b.add(&Node{Op: OpFindPkByIndex, Table: table, Index: choice.index, Keys: keyExpr})
				getNode := b.add(&Node{Op: OpGetByKey, Table: table, Index: pk, Inputs: []int{findNode.OutputVar}})
				b.use(findNode.OutputVar)
				rowsVar = getNode.OutputVar
			}
		}
	}

	postFilter := choice.postFilter

	// A partition-key-storage backend can still scan one partition
	// natively when the filter pins the partition columns but not the
	// full key; the residual rides along server-side.
	if !usedIndexNatively && p.cap.PartitionKeyStorage {
		if pk, perr := dbTable.PrimaryKeyIndex(); perr == nil {
			if keyExpr, residual, ok := tryBuildPartitionKey(pk, sel.Filter); ok {
				node := b.add(&Node{Op: OpQueryPk, Table: table, Index: pk, Keys: keyExpr, Filter: residual})
				rowsVar = node.OutputVar
				usedIndexNatively = true
				postFilter = nil
			}
		}
	}

	if !usedIndexNatively {
		node := b.add(&Node{Op: OpExecStatement, Statement: &ir.Query{Body: &ir.Select{
			Source:   sel.Source,
			Filter:   sel.Filter,
			Returning: ir.Returning{Star: true},
			Distinct: sel.Distinct,
		}}})
		rowsVar = node.OutputVar
	} else if postFilter != nil && !isAlwaysTrue(postFilter) {
		filterNode := b.add(&Node{Op: OpFilter, Inputs: []int{rowsVar}, Predicate: postFilter})
		b.use(rowsVar)
		rowsVar = filterNode.OutputVar
	}

	_, projectFn := partitionReturning(&sel.Returning)
	if projectFn != nil {
		projNode := b.add(&Node{Op: OpProject, Inputs: []int{rowsVar}, ProjectFn: projectFn})
		b.use(rowsVar)
		rowsVar = projNode.OutputVar
	}

	if len(sel.Includes) > 0 {
		rowsVar, err = p.planNestedMerge(b, table, rowsVar, sel.Includes)
		if err != nil {
			return 0, err
		}
	}

	return rowsVar, nil
}

func isAlwaysTrue(e ir.Expr) bool {
	and, ok := e.(*ir.And)
	return ok && len(and.Operands) == 0
}

// modelForTable reverses a table name back to its root model, needed at
// plan time because lowering already erased the model name from the
// Select source.
func (p *Planner) modelForTable(table string) (*schema.RootModel, error) {
	for _, name := range p.schema.ModelNames() {
		root, err := p.schema.Root(name)
		if err != nil {
			continue
		}
		t, err := p.schema.Table(name)
		if err == nil && t.Name == table {
			return root, nil
		}
	}
	return nil, ormerr.New(ormerr.InvalidSchema, "no model maps to table %q", table)
}

func (p *Planner) planNestedMerge(b *builder, table string, parentVar int, includes []ir.IncludeSpec) (int, error) {
	parentModel, err := p.modelForTable(table)
	if err != nil {
		return 0, err
	}

	inputs := []int{parentVar}
	children := make([]NestedChild, 0, len(includes))

	for _, inc := range includes {
		rel, ok := parentModel.Relations[inc.Path]
		if !ok {
			return 0, ormerr.New(ormerr.InvalidSchema, "model %s: no relation %q to include", parentModel.Name, inc.Path)
		}
		childTable, err := p.schema.Table(rel.TargetModelName())
		if err != nil {
			return 0, err
		}

		childSel := &ir.Select{
			Source:    ir.Source{Kind: ir.SourceTable, Name: childTable.Name},
			Filter:    inc.Filter,
			Returning: ir.Returning{Star: true},
		}
		childVar, err := p.planSelect(b, childSel)
		if err != nil {
			return 0, err
		}
		b.use(childVar)
		inputs = append(inputs, childVar)

		qualification, single, err := p.buildQualification(parentModel.Name, table, childTable.Name, rel)
		if err != nil {
			return 0, err
		}
		children = append(children, NestedChild{
			Level:         NestedLevel{Source: len(inputs) - 1, Projection: ir.ModelRef(0)},
			Qualification: qualification,
			Single:        single,
		})
	}

	node := b.add(&Node{
		Op:     OpNestedMerge,
		Inputs: inputs,
		NestedMerge: &NestedMergeSpec{
			Inputs: inputs,
			Root:   NestedLevel{Source: 0, Projection: ir.ModelRef(0), Nested: children},
		},
	})
	b.use(parentVar)
	return node.OutputVar, nil
}

// buildQualification builds the predicate that decides which child rows
// belong to a given parent row: an AND of column equalities between the
// parent's key columns (nesting 1) and the child's foreign-key columns
// (nesting 0), matching the convention Lower uses for join On-predicates.
func (p *Planner) buildQualification(parentModel, parentTable, childTable string, rel schema.Relation) (ir.Expr, bool, error) {
	var pairs []schema.FKPair
	single := false
	switch r := rel.(type) {
	case *schema.BelongsTo:
		pairs = r.ResolvedPair
		single = true
	case *schema.HasMany:
		pairs = r.TargetFKPairs
	case *schema.HasOne:
		pairs = r.TargetFKPairs
		single = true
	default:
		return nil, false, ormerr.Bugf("buildQualification: unhandled relation type %T", rel)
	}
	if len(pairs) == 0 {
		return nil, false, ormerr.New(ormerr.InvalidSchema, "relation to %s has no resolved key pairs", childTable)
	}

	parentMapping, err := p.schema.Mapping(parentModel)
	if err != nil {
		return nil, false, err
	}
	childModel, err := p.modelForTable(childTable)
	if err != nil {
		return nil, false, err
	}
	childMapping, err := p.schema.Mapping(childModel.Name)
	if err != nil {
		return nil, false, err
	}

	eqs := make([]ir.Expr, len(pairs))
	for i, pair := range pairs {
		pCol, err := parentMapping.ColumnForField(pair.SourceField)
		if err != nil {
			return nil, false, err
		}
		cCol, err := childMapping.ColumnForField(pair.TargetField)
		if err != nil {
			return nil, false, err
		}
		eqs[i] = ir.Eq(ir.Col(1, parentTable, pCol), ir.Col(0, childTable, cCol))
	}
	if len(eqs) == 1 {
		return eqs[0], single, nil
	}
	return ir.AndOf(eqs...), single, nil
}

func (p *Planner) planInsert(ins *ir.Insert) (*Graph, error) {
	b := newBuilder()
	node := b.add(&Node{Op: OpExecStatement, Statement: ins, Returning: ins.Returning})
	return b.graph(node.OutputVar), nil
}

func (p *Planner) planUpdate(upd *ir.Update) (*Graph, error) {
	b := newBuilder()
	retVar, err := p.planUpdateInto(b, upd)
	if err != nil {
		return nil, err
	}
	return b.graph(retVar), nil
}

func (p *Planner) planUpdateInto(b *builder, upd *ir.Update) (int, error) {
	table := upd.Target.Name
	dbTable, err := p.schema.DbSchema().Table(table)
	if err != nil {
		return 0, err
	}
	pk, err := dbTable.PrimaryKeyIndex()
	if err != nil {
		return 0, err
	}

	if upd.Condition != nil {
		node := b.add(&Node{
			Op: OpReadModifyWrite, Table: table, Filter: upd.Filter,
			Assignments: upd.Assignments, Condition: upd.Condition, Returning: upd.Returning,
		})
		return node.OutputVar, nil
	}

	choice := selectIndex(dbTable, upd.Filter)
	if choice.index != nil && choice.index.PrimaryKey {
		if keyExpr, ok := tryBuildKeyFilter(choice.index, choice.indexFilter); ok {
			node := b.add(&Node{
				Op: OpUpdateByKey, Table: table, Index: choice.index, Keys: keyExpr,
				Filter: choice.postFilter, Assignments: upd.Assignments, Returning: upd.Returning,
			})
			return node.OutputVar, nil
		}
	}

	// Partition-scoped update on a backend with no WHERE-driven update:
	// first materialize the matching keys with a partition scan, then
	// update each matched row by key.
	if p.cap.PartitionKeyStorage {
		if keyExpr, residual, ok := tryBuildPartitionKey(pk, upd.Filter); ok {
			qNode := b.add(&Node{
				Op: OpQueryPk, Table: table, Index: pk, Keys: keyExpr, Filter: residual,
				Returning: pkReturning(table, pk),
			})
			updNode := b.add(&Node{
				Op: OpUpdateByKey, Table: table, Index: pk, Inputs: []int{qNode.OutputVar},
				Assignments: upd.Assignments, Returning: upd.Returning,
			})
			b.use(qNode.OutputVar)
			return updNode.OutputVar, nil
		}
	}

	findIdx := pk
	var findKeyExpr ir.Expr
	if choice.index != nil {
		findIdx = choice.index
		findKeyExpr, _ = tryBuildKeyFilter(choice.index, choice.indexFilter)
	}
	findNode := b.add(&Node{Op: OpFindPkByIndex, Table: table, Index: findIdx, Keys: findKeyExpr, Filter: choice.postFilter})
	updNode := b.add(&Node{
		Op: OpUpdateByKey, Table: table, Index: pk, Inputs: []int{findNode.OutputVar},
		Assignments: upd.Assignments, Returning: upd.Returning,
	})
	b.use(findNode.OutputVar)
	return updNode.OutputVar, nil
}

func (p *Planner) planDelete(del *ir.Delete) (*Graph, error) {
	b := newBuilder()
	retVar, err := p.planDeleteInto(b, del)
	if err != nil {
		return nil, err
	}
	return b.graph(retVar), nil
}

func (p *Planner) planDeleteInto(b *builder, del *ir.Delete) (int, error) {
	sel, ok := del.Source.(*ir.Select)
	if !ok || sel.Source.Kind != ir.SourceTable {
		node := b.add(&Node{Op: OpExecStatement, Statement: del})
		return node.OutputVar, nil
	}
	table := sel.Source.Name

	dbTable, err := p.schema.DbSchema().Table(table)
	if err != nil {
		return 0, err
	}
	pk, err := dbTable.PrimaryKeyIndex()
	if err != nil {
		return 0, err
	}

	choice := selectIndex(dbTable, del.Filter)
	if choice.index != nil && choice.index.PrimaryKey {
		if keyExpr, ok := tryBuildKeyFilter(choice.index, choice.indexFilter); ok {
			node := b.add(&Node{Op: OpDeleteByKey, Table: table, Index: choice.index, Keys: keyExpr, Filter: choice.postFilter, Returning: del.Returning})
			return node.OutputVar, nil
		}
	}

	if p.cap.PartitionKeyStorage {
		if keyExpr, residual, ok := tryBuildPartitionKey(pk, del.Filter); ok {
			qNode := b.add(&Node{
				Op: OpQueryPk, Table: table, Index: pk, Keys: keyExpr, Filter: residual,
				Returning: pkReturning(table, pk),
			})
			delNode := b.add(&Node{Op: OpDeleteByKey, Table: table, Index: pk, Inputs: []int{qNode.OutputVar}, Returning: del.Returning})
			b.use(qNode.OutputVar)
			return delNode.OutputVar, nil
		}
	}

	findIdx := pk
	var findKeyExpr ir.Expr
	if choice.index != nil {
		findIdx = choice.index
		findKeyExpr, _ = tryBuildKeyFilter(choice.index, choice.indexFilter)
	}
	findNode := b.add(&Node{Op: OpFindPkByIndex, Table: table, Index: findIdx, Keys: findKeyExpr, Filter: choice.postFilter})
	delNode := b.add(&Node{Op: OpDeleteByKey, Table: table, Index: pk, Inputs: []int{findNode.OutputVar}, Returning: del.Returning})
	b.use(findNode.OutputVar)
	return delNode.OutputVar, nil
}

// pkReturning narrows a discovery scan to the primary-key columns, so
// the following keyed mutation receives exactly the key records it
// needs.
func pkReturning(table string, pk *schema.DbIndex) *ir.Returning {
	elements := make([]ir.Expr, len(pk.Columns))
	for i, ic := range pk.Columns {
		elements[i] = ir.Col(0, table, ic.Column)
	}
	return &ir.Returning{Expression: &ir.Record{Elements: elements}}
}

// PlanBatch plans several lowered statements as one graph. Insert
// statements accumulate in a write batch; when more than one
// accumulates they are emitted as a single BatchWrite action, otherwise
// as an individual statement. Updates and deletes keep their own keyed
// plan shapes inside the shared graph. The graph's return is the last
// statement that produces rows (a returning mutation), else the last
// statement's output.
func (p *Planner) PlanBatch(stmts []ir.Statement) (*Graph, error) {
	if len(stmts) == 1 {
		return p.Plan(stmts[0])
	}
	b := newBuilder()

	var inserts []ir.Statement
	retVar := -1
	flush := func() {
		switch len(inserts) {
		case 0:
		case 1:
			ins := inserts[0].(*ir.Insert)
			node := b.add(&Node{Op: OpExecStatement, Statement: ins, Returning: ins.Returning})
			retVar = node.OutputVar
		default:
			node := b.add(&Node{Op: OpBatchWrite, Statements: inserts})
			retVar = node.OutputVar
		}
		inserts = nil
	}

	for _, stmt := range stmts {
		switch st := stmt.(type) {
		case *ir.Insert:
			inserts = append(inserts, st)
		case *ir.Update:
			flush()
			v, err := p.planUpdateInto(b, st)
			if err != nil {
				return nil, err
			}
			retVar = v
		case *ir.Delete:
			flush()
			v, err := p.planDeleteInto(b, st)
			if err != nil {
				return nil, err
			}
			retVar = v
		default:
			return nil, ormerr.New(ormerr.UnsupportedFeature, "plan: only write statements may be batched, got %T", stmt)
		}
	}
	flush()
	if retVar < 0 {
		return nil, ormerr.Bugf("plan: empty statement batch")
	}
	return b.graph(retVar), nil
}
