// Package driver defines the boundary between the query engine core and
// a physical backend: the closed Operation set the planner emits, the
// Capability flags the planner consults while choosing a plan shape, and
// the Driver contract every backend adapter implements.
package driver

import (
	"context"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/schema"
)

// Capability advertises what a backend can do natively, so the planner
// never emits an operation shape the backend can't execute. Every flag
// defaults to false (the conservative, least-capable backend), so a new
// driver only needs to set the capabilities it actually has.
type Capability struct {
	// ORInIndex means the backend can evaluate a disjunctive (OR) filter
	// as part of an index/key lookup; when false, the planner rewrites
	// residual ORs into Any(Map(...)) form.
	ORInIndex bool
	// CompositeKey means the backend supports multi-column primary/unique
	// keys natively (GetByKey with a Record key).
	CompositeKey bool
	// PartitionKeyStorage means rows are physically addressed by a
	// partition key distinct from any secondary index (document/KV
	// stores); it affects whether QueryPk is meaningful at all.
	PartitionKeyStorage bool
	// CTEUpdate means a WITH ... AS (UPDATE ... RETURNING ...) can be used
	// as a row source for a subsequent statement.
	CTEUpdate bool
	// ReturningFromMutation means UPDATE/DELETE/INSERT can return rows
	// directly. The planner passes a mutation's Returning to the driver
	// unchanged either way; a driver without native RETURNING either reads
	// the affected rows itself (mongodoc) or answers with an affected-row
	// count (sqlcore).
	ReturningFromMutation bool
	// Storage declares the backend's storage-type bounds, applied when
	// the physical schema is registered.
	Storage StorageBounds
}

// StorageBounds limits how the default storage layout maps onto one
// backend: the widest VARCHAR(n) it accepts (0 means unbounded) and the
// storage types substituted for UUID and timestamp columns on backends
// with no native type for them. A zero StorageType means "keep the
// schema's default".
type StorageBounds struct {
	MaxVarchar int
	UUID       schema.StorageType
	Timestamp  schema.StorageType
}

// Operation is the closed set of physical requests the core ever sends
// to a driver. Every field not relevant to the active Kind is zero.
type Operation struct {
	Kind OperationKind

	// GetByKey, DeleteByKey, UpdateByKey, QueryPk, FindPkByIndex
	Table   string
	Index   *schema.DbIndex
	Keys    []ir.Value
	Filter  ir.Expr
	Assignments []ir.Assignment // UpdateByKey
	Condition   ir.Expr         // UpdateByKey optimistic condition
	Returning   *ir.Returning

	// QuerySql / ExecStatement
	Statement ir.Statement

	// Insert
	Insert *ir.Insert

	// Transaction control
	TxControl TxControl
}

type OperationKind int

const (
	OpGetByKey OperationKind = iota
	OpQueryPk
	OpFindPkByIndex
	OpDeleteByKey
	OpUpdateByKey
	OpQuerySql
	OpInsert
	OpTxControl
)

// TxControl enumerates the transaction-primitive requests a driver must
// support.
type TxControl int

const (
	TxBegin TxControl = iota
	TxCommit
	TxRollback
)

// RowsKind tags a Response's body shape.
type RowsKind int

const (
	RowsCount RowsKind = iota
	RowsStream
)

// Rows is the closed union a driver's Response body can be: either an
// affected-row count (non-returning mutations) or a pulled value stream
// (reads and returning mutations).
type Rows struct {
	Kind   RowsKind
	Count  int64
	Stream *ir.Stream
}

func CountRows(n int64) Rows       { return Rows{Kind: RowsCount, Count: n} }
func StreamRows(s *ir.Stream) Rows { return Rows{Kind: RowsStream, Stream: s} }

// Response is a driver's reply to one Operation.
type Response struct {
	Body Rows
}

// IsolationLevel is the subset of SQL isolation levels a transaction
// start may request; a driver that doesn't
// distinguish levels (e.g. a backend with only one native mode) may
// treat every level equivalently.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// TxOptions carries the isolation level and read-only flag attached to
// the transaction-start primitive.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Driver is the contract every backend adapter implements. RegisterSchema
// is called once per schema (e.g. to create tables on first connect, or
// to validate an existing physical schema matches); Exec dispatches a
// single Operation; ResetDB drops and recreates every table (test-only);
// Begin/Commit/Rollback/Savepoint manage the transaction primitives.
type Driver interface {
	Capability() Capability
	RegisterSchema(ctx context.Context, s *schema.Schema) error
	Exec(ctx context.Context, op Operation) (Response, error)
	ResetDB(ctx context.Context) error
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
	Close() error
}

// Tx is a pinned connection with an active transaction.
// Savepoint/ReleaseSavepoint/RollbackToSavepoint are the
// nested-checkpoint primitives; a backend with no savepoint concept (e.g. a document store) returns
// UnsupportedFeature from all three rather than silently no-opping.
type Tx interface {
	Exec(ctx context.Context, op Operation) (Response, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Savepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
}
