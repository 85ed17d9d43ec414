package mongodoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/schema"
)

func TestCompileFilterEqualityAndAnd(t *testing.T) {
	e := ir.AndOf(
		ir.Eq(ir.Col(0, "users", "name"), ir.Lit(ir.StringValue("ada"))),
		ir.Eq(ir.Col(0, "users", "age"), ir.Lit(ir.Int64Value(30))),
	)
	f, err := compileFilter(e)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$and": bson.A{
		bson.M{"name": "ada"},
		bson.M{"age": int64(30)},
	}}, f)
}

func TestCompileFilterOrAndNot(t *testing.T) {
	or := ir.OrOf(
		ir.Eq(ir.Col(0, "users", "id"), ir.Lit(ir.Int64Value(1))),
		ir.Eq(ir.Col(0, "users", "id"), ir.Lit(ir.Int64Value(2))),
	)
	f, err := compileFilter(or)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$or": bson.A{
		bson.M{"id": int64(1)},
		bson.M{"id": int64(2)},
	}}, f)

	not, err := compileFilter(ir.NotOf(ir.Eq(ir.Col(0, "users", "id"), ir.Lit(ir.Int64Value(1)))))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$nor": bson.A{bson.M{"id": int64(1)}}}, not)
}

func TestCompileFilterComparisonFlipsSwappedOperands(t *testing.T) {
	e := &ir.Binary{Op: ir.OpLt, Left: ir.Lit(ir.Int64Value(5)), Right: ir.Col(0, "users", "age")}
	f, err := compileFilter(e)
	require.NoError(t, err)
	assert.Equal(t, bson.M{"age": bson.M{"$gt": int64(5)}}, f)
}

func TestCompileFilterIsNull(t *testing.T) {
	f, err := compileFilter(&ir.IsNull{Operand: ir.Col(0, "users", "deleted_at")})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"deleted_at": bson.M{"$eq": nil}}, f)
}

func TestKeyFilterScalarAndComposite(t *testing.T) {
	scalar := &schema.DbIndex{Columns: []schema.IndexColumn{{Column: "id"}}}
	f := keyFilter(scalar, []ir.Value{ir.Int64Value(1), ir.Int64Value(2)})
	assert.Equal(t, bson.M{"id": bson.M{"$in": bson.A{int64(1), int64(2)}}}, f)

	composite := &schema.DbIndex{Columns: []schema.IndexColumn{{Column: "tenant"}, {Column: "id"}}}
	f2 := keyFilter(composite, []ir.Value{ir.RecordValue(ir.StringValue("acme"), ir.Int64Value(7))})
	assert.Equal(t, bson.M{"$or": bson.A{bson.M{"tenant": "acme", "id": int64(7)}}}, f2)
}

func TestCompileAssignmentsSetPushPull(t *testing.T) {
	assigns := []ir.Assignment{
		{TargetKind: ir.AssignColumn, Column: "name", Op: ir.AssignSet, Value: ir.Lit(ir.StringValue("ada"))},
		{TargetKind: ir.AssignColumn, Column: "tags", Op: ir.AssignInsert, Value: ir.Lit(ir.StringValue("vip"))},
		{TargetKind: ir.AssignColumn, Column: "tags", Op: ir.AssignRemove, Value: ir.Lit(ir.StringValue("trial"))},
	}
	update, err := compileAssignments(assigns)
	require.NoError(t, err)
	assert.Equal(t, bson.M{
		"$set":  bson.M{"name": "ada"},
		"$push": bson.M{"tags": "vip"},
		"$pull": bson.M{"tags": "trial"},
	}, update)
}

func TestFromBSONConvertsByAppType(t *testing.T) {
	col := schema.Column{AppType: ir.Scalar(ir.TInt64)}
	assert.Equal(t, ir.Int64Value(5), fromBSON(int32(5), col))

	idCol := schema.Column{AppType: ir.IDType("User"), Storage: schema.StorageType{Kind: schema.StoreInteger}}
	assert.Equal(t, ir.TypedIDValue("User", ir.Int64Value(9)), fromBSON(int64(9), idCol))

	nullCol := schema.Column{AppType: ir.Scalar(ir.TString)}
	assert.Equal(t, ir.NullValue, fromBSON(nil, nullCol))
}

func TestCompileFilterVariantCheckUsesAnchoredRegex(t *testing.T) {
	f, err := compileFilter(ir.IsVariant(ir.Col(0, "users", "contact"), 2))
	require.NoError(t, err)
	rx, ok := f["contact"].(primitive.Regex)
	require.True(t, ok, "begins_with should compile to an anchored regex")
	assert.Equal(t, "^2#", rx.Pattern)
}

func TestEnumValueRoundTripsThroughBSON(t *testing.T) {
	v := ir.EnumPayloadValue(1, ir.StringValue("a@example.com"))
	wire := toBSON(v)
	assert.Equal(t, `1#"a@example.com"`, wire)

	col := schema.Column{Name: "contact", AppType: ir.EnumType("ContactInfo")}
	back := fromBSON(wire, col)
	assert.True(t, v.Equal(back))
}
