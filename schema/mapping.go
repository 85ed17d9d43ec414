package schema

import (
	"fmt"

	"github.com/latticeorm/lattice/ir"
)

// FieldMapping pairs one model field index with the table column that
// stores it.
type FieldMapping struct {
	FieldIndex int
	Column     string
}

// Mapping is the bidirectional bridge between a root model and its
// table, built once per model by Builder.Build and handed out by shared
// immutable reference.
//
// ModelToTable is a Record template whose i-th element is the expression
// that computes column Columns[i]'s value from the model fields; it
// contains Reference{Field} nodes lowering substitutes against an
// insert/update's row input. TableToModel is the inverse: a Record
// template whose i-th element is the expression that reconstructs model
// field i from the row returned by the backend; it contains
// Reference{Column} nodes.
type Mapping struct {
	ModelName      string
	Columns        []string
	FieldMappings  []FieldMapping
	ModelToTable   *ir.Record
	TableToModel   *ir.Record
	ModelPKToTable *ir.Record
}

// ColumnForField returns the column name mapped from a model field index.
func (m *Mapping) ColumnForField(fieldIndex int) (string, error) {
	for _, fm := range m.FieldMappings {
		if fm.FieldIndex == fieldIndex {
			return fm.Column, nil
		}
	}
	return "", fmt.Errorf("mapping %s: no column for field index %d", m.ModelName, fieldIndex)
}

// FieldForColumn returns the model field index mapped from a column name.
func (m *Mapping) FieldForColumn(column string) (int, error) {
	for _, fm := range m.FieldMappings {
		if fm.Column == column {
			return fm.FieldIndex, nil
		}
	}
	return 0, fmt.Errorf("mapping %s: no field for column %q", m.ModelName, column)
}

// ColumnExprForField returns the model_to_table expression for the given
// column name, used by Lowering when building an Insert/Update write.
func (m *Mapping) ColumnExprForField(column string) (ir.Expr, error) {
	for i, c := range m.Columns {
		if c == column {
			return m.ModelToTable.Elements[i], nil
		}
	}
	return nil, fmt.Errorf("mapping %s: column %q not in storage", m.ModelName, column)
}

// FieldExprForIndex returns the table_to_model expression that
// reconstructs model field index, used by Lowering when rewriting a
// filter/returning Reference{Field}.
func (m *Mapping) FieldExprForIndex(fieldIndex int) (ir.Expr, error) {
	for i, fm := range m.FieldMappings {
		if fm.FieldIndex == fieldIndex {
			return m.TableToModel.Elements[i], nil
		}
	}
	return nil, fmt.Errorf("mapping %s: no table_to_model entry for field %d", m.ModelName, fieldIndex)
}

// BuildMapping derives a Mapping from a root model assuming the default
// one-field-one-column layout (every field maps to a column sharing its
// name, in field order); this is what Builder uses unless a caller
// supplies column overrides via WithColumnOverrides.
func BuildMapping(m *RootModel, overrides map[int]string) *Mapping {
	columns := make([]string, len(m.Fields))
	fieldMappings := make([]FieldMapping, len(m.Fields))
	modelToTable := make([]ir.Expr, len(m.Fields))
	tableToModel := make([]ir.Expr, len(m.Fields))

	for i, f := range m.Fields {
		col := f.Name
		if overrides != nil {
			if o, ok := overrides[i]; ok {
				col = o
			}
		}
		columns[i] = col
		fieldMappings[i] = FieldMapping{FieldIndex: i, Column: col}
		modelToTable[i] = ir.Field(0, i)
		tableToModel[i] = ir.Col(0, m.tableNameOrDefault(), col)
	}

	mapping := &Mapping{
		ModelName:     m.Name,
		Columns:       columns,
		FieldMappings: fieldMappings,
		ModelToTable:  &ir.Record{Elements: modelToTable},
		TableToModel:  &ir.Record{Elements: tableToModel},
	}

	pkElements := make([]ir.Expr, len(m.PrimaryKey.FieldIndices))
	for i, idx := range m.PrimaryKey.FieldIndices {
		pkElements[i] = modelToTable[idx]
	}
	mapping.ModelPKToTable = &ir.Record{Elements: pkElements}

	return mapping
}

func (m *RootModel) tableNameOrDefault() string {
	if m.TableNameOverride != "" {
		return m.TableNameOverride
	}
	return ModelNameToTableName(m.Name)
}
