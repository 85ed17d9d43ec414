package sqlcore

import (
	"database/sql"

	"github.com/latticeorm/lattice/ir"
	"github.com/latticeorm/lattice/ormerr"
	"github.com/latticeorm/lattice/schema"
	"github.com/latticeorm/lattice/utils"
)

// scanToStream drains rows into an ir.Stream of Record values, one field
// per column, converted according to each column's application-level
// Type; numeric widening happens here, at the driver layer, never in
// the core.
func scanToStream(rows *sql.Rows, cols []schema.Column) (*ir.Stream, error) {
	out, err := scanRows(rows, cols)
	if err != nil {
		return nil, err
	}
	return ir.NewStream(out), nil
}

func scanRows(rows *sql.Rows, cols []schema.Column) ([]ir.Value, error) {
	defer rows.Close()

	scanTargets := make([]any, len(cols))
	scanPtrs := make([]any, len(cols))
	for i := range scanTargets {
		scanPtrs[i] = &scanTargets[i]
	}

	var out []ir.Value
	for rows.Next() {
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: scan row")
		}
		fields := make([]ir.Value, len(cols))
		for i, col := range cols {
			fields[i] = valueFromSQL(scanTargets[i], col)
		}
		out = append(out, ir.RecordValue(fields...))
	}
	if err := rows.Err(); err != nil {
		return nil, ormerr.Wrap(ormerr.DriverOperationFailed, err, "sqlcore: row iteration")
	}
	return out, nil
}

// valueFromSQL converts a raw database/sql scan result (driver-dependent:
// int64, float64, bool, string, []byte, time.Time, or nil) into the
// ir.Value its application-level Type describes. For a typed-id column,
// the storage kind (integer vs. text) picks the underlying scalar, since
// ir.Type carries only the referenced model name, not the wire shape.
func valueFromSQL(raw any, col schema.Column) ir.Value {
	if raw == nil {
		return ir.NullValue
	}
	t := col.AppType
	switch t.Kind {
	case ir.TInt64:
		return ir.Int64Value(utils.ToInt64(raw))
	case ir.TFloat64, ir.TDecimal:
		return ir.Float64Value(utils.ToFloat64(raw))
	case ir.TBool:
		return ir.BoolValue(utils.ToBool(raw))
	case ir.TUUID:
		return ir.UUIDValue(utils.ToString(raw))
	case ir.TEnum:
		v, err := ir.DecodeEnumWire(utils.ToString(raw))
		if err != nil {
			return ir.StringValue(utils.ToString(raw))
		}
		return v
	case ir.TID:
		return ir.TypedIDValue(t.Model, scalarIDValue(raw, col.Storage.Kind))
	case ir.TOption:
		if t.Elem != nil {
			return valueFromSQL(raw, schema.Column{AppType: *t.Elem, Storage: col.Storage})
		}
		return ir.StringValue(utils.ToString(raw))
	default:
		return ir.StringValue(utils.ToString(raw))
	}
}

func scalarIDValue(raw any, storage schema.StorageKind) ir.Value {
	switch storage {
	case schema.StoreInteger, schema.StoreBigInt:
		return ir.Int64Value(utils.ToInt64(raw))
	default:
		return ir.StringValue(utils.ToString(raw))
	}
}
