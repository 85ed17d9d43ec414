// Package mongodoc wires MongoDB (go.mongodb.org/mongo-driver) into the
// query engine core as its document/KV-style backend: ad-hoc SQL-shaped
// predicates are unavailable, so the planner's capability-gated
// OR-rewrite and partition-key scans exist specifically for backends
// like this one.
package mongodoc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"

	"github.com/latticeorm/lattice/driver"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/registry"
	"github.com/latticeorm/lattice/schema"
)

const Scheme = "mongodb"

// Capability: documents are addressed by a partition-style key and the
// engine cannot push a disjunctive filter into an index lookup natively
// (every OR the planner wants evaluated as a key lookup must first be
// canonicalized to Any(Map(...)) and evaluated as a set of per-value
// lookups); composite keys are supported as compound-field equality,
// not a native tuple key; there is no CTE concept at all, and mutations
// return their modified documents only via a separate find (issued before
// a delete and after an update).
func Capability() driver.Capability {
	return driver.Capability{
		ORInIndex:             false,
		CompositeKey:          true,
		PartitionKeyStorage:   true,
		CTEUpdate:             false,
		ReturningFromMutation: false,
	}
}

func init() {
	registry.Register(Scheme, Open)
	registry.RegisterCapability(Scheme, Capability())
}

// Driver is the driver.Driver implementation backed by one mongo.Database.
type Driver struct {
	client *mongo.Client
	db     *mongo.Database
	schema *schema.Schema
}

// Open connects to cfg's MongoDB instance using its raw URI (the mongo
// driver parses its own connection string rather than reusing registry's
// generic Config fields beyond the database name).
func Open(cfg registry.Config) (driver.Driver, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Raw))
	if err != nil {
		return nil, ormerr.Wrap(ormerr.InvalidConnectionURL, err, "mongodoc: connect %s", cfg.Raw)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: ping")
	}
	if cfg.Database == "" {
		return nil, ormerr.New(ormerr.InvalidConnectionURL, "mongodoc: URI %q has no database name", cfg.Raw)
	}
	return &Driver{client: client, db: client.Database(cfg.Database)}, nil
}

func (d *Driver) Capability() driver.Capability { return Capability() }

func (d *Driver) RegisterSchema(ctx context.Context, s *schema.Schema) error {
	d.schema = s
	for _, name := range s.ModelNames() {
		t, err := s.Table(name)
		if err != nil {
			continue
		}
		coll := d.db.Collection(t.Name)
		for _, idx := range t.Indices {
			model := mongo.IndexModel{
				Keys:    indexKeysDoc(idx),
				Options: options.Index().SetUnique(idx.Unique || idx.PrimaryKey).SetName(idx.Name),
			}
			if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
				return ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: create index %s on %s", idx.Name, t.Name)
			}
		}
	}
	return nil
}

func indexKeysDoc(idx schema.DbIndex) bson.D {
	keys := bson.D{}
	for _, c := range idx.Columns {
		keys = append(keys, bson.E{Key: c.Column, Value: 1})
	}
	return keys
}

func (d *Driver) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	return execOn(ctx, d.db, d.schema, op)
}

func (d *Driver) ResetDB(ctx context.Context) error {
	if d.schema == nil {
		return ormerr.Bugf("mongodoc: ResetDB called before RegisterSchema")
	}
	for _, t := range d.schema.DbSchema().Tables {
		if err := d.db.Collection(t.Name).Drop(ctx); err != nil {
			return ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: drop collection %s", t.Name)
		}
	}
	return d.RegisterSchema(ctx, d.schema)
}

func (d *Driver) Begin(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	sess, err := d.client.StartSession()
	if err != nil {
		return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: start session")
	}
	// Mongo's transaction options carry no isolation-level knob comparable
	// to SQL's; read-only is honored as a snapshot read concern, which is
	// the closest native analog.
	txOpts := options.Transaction()
	if opts.ReadOnly {
		txOpts = txOpts.SetReadConcern(readconcern.Snapshot())
	}
	if err := sess.StartTransaction(txOpts); err != nil {
		sess.EndSession(ctx)
		return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: start transaction")
	}
	return &Tx{sess: sess, db: d.db, schema: d.schema}, nil
}

func (d *Driver) Close() error {
	return d.client.Disconnect(context.Background())
}

// Tx pins one mongo.Session's transaction. On Rollback the session
// itself is always ended, even when AbortTransaction fails, so the
// pooled connection is never leaked.
type Tx struct {
	sess   mongo.Session
	db     *mongo.Database
	schema *schema.Schema
}

func (t *Tx) Exec(ctx context.Context, op driver.Operation) (driver.Response, error) {
	return execOn(mongo.NewSessionContext(ctx, t.sess), t.db, t.schema, op)
}

func (t *Tx) Commit(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	if err := t.sess.CommitTransaction(ctx); err != nil {
		return ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: commit")
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	if err := t.sess.AbortTransaction(ctx); err != nil {
		return ormerr.Wrap(ormerr.DriverOperationFailed, err, "mongodoc: rollback")
	}
	return nil
}

// Mongo has no savepoint concept within a transaction; nested checkpoints
// are surfaced as UnsupportedFeature rather than silently no-opping.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	return ormerr.New(ormerr.UnsupportedFeature, "mongodoc: savepoints are not supported")
}

func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	return ormerr.New(ormerr.UnsupportedFeature, "mongodoc: savepoints are not supported")
}

func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	return ormerr.New(ormerr.UnsupportedFeature, "mongodoc: savepoints are not supported")
}

// newDocumentID mints the Mongo-internal `_id` every inserted document
// needs, independent of the model's own application-level primary key
// columns (which remain ordinary fields so GetByKey/UpdateByKey/
// DeleteByKey keep addressing rows the same way across every backend).
func newDocumentID() string { return uuid.NewString() }
