// Package plan turns a lowered, table-scoped statement into a directed
// acyclic graph of physical operations the executor runs.
package plan

import (
	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/schema"
)

// Op is the closed operation taxonomy.
type Op int

const (
	OpConst Op = iota
	OpExecStatement
	OpGetByKey
	OpQueryPk
	OpFindPkByIndex
	OpDeleteByKey
	OpUpdateByKey
	OpFilter
	OpProject
	OpNestedMerge
	OpReadModifyWrite
	OpBatchWrite
)

// Node is one vertex of the plan graph: an operation, the predecessor
// node ids it reads from, its assigned output variable, and how many
// times that variable is read by downstream nodes.
type Node struct {
	ID        int
	Op        Op
	Inputs    []int
	OutputVar int
	UseCount  int
	Visited   bool // topological-order bookkeeping, set by the executor

	// Const
	ConstValues []ir.Value

	// GetByKey / QueryPk / FindPkByIndex / DeleteByKey / UpdateByKey
	Table   string
	Index   *schema.DbIndex
	Keys    ir.Expr // list-of-keys expression; nil when keys come from an input variable instead
	Filter  ir.Expr

	Assignments []ir.Assignment // UpdateByKey
	Condition   ir.Expr         // UpdateByKey / ReadModifyWrite optimistic condition
	Returning   *ir.Returning

	// ExecStatement
	Statement ir.Statement

	// BatchWrite: the accumulated write statements, issued to the driver
	// one after another as a single plan action.
	Statements []ir.Statement

	// Filter (in-memory post_filter)
	Predicate ir.Expr

	// Project
	ProjectFn ir.Expr

	// NestedMerge
	NestedMerge *NestedMergeSpec
}

// NestedLevel is one level of a NestedMerge's projection tree (spec
// 4.3.5).
type NestedLevel struct {
	Source     int // index into NestedMergeSpec.Inputs
	Projection ir.Expr
	Nested     []NestedChild
}

// NestedChild attaches a child level to its parent with the predicate
// that qualifies which child rows belong to which parent row.
type NestedChild struct {
	Level         NestedLevel
	Qualification ir.Expr
	Single        bool
}

// NestedMergeSpec is a NestedMerge node's payload.
type NestedMergeSpec struct {
	Inputs []int
	Root   NestedLevel
}

// Graph is the planner's output: every node plus the variable id holding
// the statement's final result.
type Graph struct {
	Nodes  []*Node
	Return int
}

// builder accumulates nodes and assigns variable/node ids while planning
// a single statement.
type builder struct {
	nodes  []*Node
	nextID int
	nextVar int
}

func newBuilder() *builder { return &builder{} }

func (b *builder) add(n *Node) *Node {
	n.ID = b.nextID
	b.nextID++
	n.OutputVar = b.nextVar
	b.nextVar++
	b.nodes = append(b.nodes, n)
	return n
}

func (b *builder) graph(ret int) *Graph {
	return &Graph{Nodes: b.nodes, Return: ret}
}

// use increments the use count of the node producing var, for every
// additional consumer beyond its producer.
func (b *builder) use(varID int) {
	for _, n := range b.nodes {
		if n.OutputVar == varID {
			n.UseCount++
			return
		}
	}
}
