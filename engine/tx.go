package engine

import (
	"context"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
)

// txDriver presents a pinned driver.Tx as a driver.Driver so the
// executor runs unchanged inside a transaction: every Exec goes to the
// one pinned connection. Lifecycle calls that only make sense on the
// pool-owning driver are rejected.
type txDriver struct {
	tx  driver.Tx
	cap driver.Capability
}

func (d *txDriver) Capability() driver.Capability { return d.cap }

func (d *txDriver) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	return d.tx.Exec(ctx, op)
}

func (d *txDriver) RegisterSchema(ctx context.Context, s *schema.Schema) error {
	return ormerr.Bugf("engine: RegisterSchema inside a transaction")
}

func (d *txDriver) ResetDB(ctx context.Context) error {
	return ormerr.Bugf("engine: ResetDB inside a transaction")
}

// Begin inside an active transaction would need savepoint-based nesting,
// which the Tx interface exposes directly to callers that want it.
func (d *txDriver) Begin(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return nil, ormerr.New(ormerr.UnsupportedFeature, "engine: nested transactions; use savepoints on the enclosing Tx")
}

func (d *txDriver) Close() error { return nil }
