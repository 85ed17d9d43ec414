package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticeorm/lattice/registry"
	"github.com/latticeorm/lattice/schema"
)

func TestCapabilityReflectsRichestRelationalFeatureSet(t *testing.T) {
	cap := Capability()
	assert.True(t, cap.ORInIndex)
	assert.True(t, cap.CompositeKey)
	assert.True(t, cap.CTEUpdate)
	assert.True(t, cap.ReturningFromMutation)
}

func TestDialectQuotingAndPlaceholders(t *testing.T) {
	d := dialect{}
	assert.Equal(t, `"users"`, d.Quote("users"))
	assert.Equal(t, "$1", d.Placeholder(0))
	assert.Equal(t, "$4", d.Placeholder(3))
	assert.True(t, d.SupportsReturning())
	assert.Equal(t, "GENERATED BY DEFAULT AS IDENTITY", d.AutoIncrementClause())
	assert.Equal(t, "TRUE", d.BoolLiteral(true))
	assert.Equal(t, "FALSE", d.BoolLiteral(false))
}

func TestDialectColumnTypeSQL(t *testing.T) {
	d := dialect{}
	assert.Equal(t, "JSONB", d.ColumnTypeSQL(schema.StorageType{Kind: schema.StoreJSON}))
	assert.Equal(t, "BYTEA", d.ColumnTypeSQL(schema.StorageType{Kind: schema.StoreBlob}))
	assert.Equal(t, "UUID", d.ColumnTypeSQL(schema.StorageType{Kind: schema.StoreUUID}))
	assert.Equal(t, "TIMESTAMPTZ", d.ColumnTypeSQL(schema.StorageType{Kind: schema.StoreTimestamp}))
}

func TestPortOrDefault(t *testing.T) {
	assert.Equal(t, 5432, portOrDefault(0))
	assert.Equal(t, 5433, portOrDefault(5433))
}

func TestInitRegistersBothPostgresSchemes(t *testing.T) {
	_, err1 := registry.Capability(Scheme)
	_, err2 := registry.Capability("postgres")
	assert.NoError(t, err1)
	assert.NoError(t, err2)
}
