package schema

import "github.com/latticeorm/lattice/ir"

// Builder accumulates model definitions and produces an immutable Schema.
// User code (or, in the full system, the code-generation macro that sits
// outside this core) constructs a Builder and calls AddModel for every
// model before calling Build.
type Builder struct {
	models    map[string]Model
	overrides map[string]map[int]string // modelName -> fieldIndex -> column
}

func NewBuilder() *Builder {
	return &Builder{
		models:    make(map[string]Model),
		overrides: make(map[string]map[int]string),
	}
}

// AddModel registers a model definition (root, embedded struct, or
// embedded enum).
func (b *Builder) AddModel(m Model) *Builder {
	b.models[m.ModelName()] = m
	return b
}

// WithColumnOverride records a @map-style column name override for one
// field of a root model, applied when Build derives that model's Mapping.
func (b *Builder) WithColumnOverride(modelName string, fieldIndex int, column string) *Builder {
	if b.overrides[modelName] == nil {
		b.overrides[modelName] = make(map[int]string)
	}
	b.overrides[modelName][fieldIndex] = column
	return b
}

// Build derives the database schema and mapping for every registered
// root model, verifies the schema invariants, and returns the
// immutable Schema. Once returned, the Schema is never mutated again.
func (b *Builder) Build() (*Schema, error) {
	db := NewDbSchema()
	mappings := make(map[string]*Mapping)

	for name, m := range b.models {
		root, ok := m.(*RootModel)
		if !ok {
			continue
		}
		if err := verifyFieldIndices(root); err != nil {
			return nil, err
		}
		mapping := BuildMapping(root, b.overrides[name])
		mappings[name] = mapping

		table, err := buildTable(root, mapping)
		if err != nil {
			return nil, err
		}
		db.AddTable(table)
	}

	s := &Schema{models: b.models, mappings: mappings, db: db}

	if err := resolveRelations(s); err != nil {
		return nil, err
	}
	if err := verify(s); err != nil {
		return nil, err
	}

	return s, nil
}

func buildTable(root *RootModel, mapping *Mapping) (*Table, error) {
	columns := make([]Column, len(mapping.Columns))
	for i, colName := range mapping.Columns {
		field := root.Fields[mapping.FieldMappings[i].FieldIndex]
		columns[i] = Column{
			Name:     colName,
			AppType:  field.Type,
			Storage:  typeToStorage(field.Type),
			Nullable: field.Nullable,
		}
	}

	if len(root.PrimaryKey.FieldIndices) == 1 {
		pkFieldIdx := root.PrimaryKey.FieldIndices[0]
		pkField := root.Fields[pkFieldIdx]
		pkColumn, err := mapping.ColumnForField(pkFieldIdx)
		if err != nil {
			return nil, err
		}
		if pkField.Type.Kind == ir.TInt64 {
			for i := range columns {
				if columns[i].Name == pkColumn {
					columns[i].AutoIncrement = true
				}
			}
		}
	}

	indices := make([]DbIndex, 0, len(root.Indices)+1)

	// A composite key splits into a partition prefix and sort columns:
	// the first column routes to a partition (equality-only), the rest
	// order rows within it and admit range scans. A single-column key is
	// all partition.
	pkCols := make([]IndexColumn, len(root.PrimaryKey.FieldIndices))
	for i, fieldIdx := range root.PrimaryKey.FieldIndices {
		colName, err := mapping.ColumnForField(fieldIdx)
		if err != nil {
			return nil, err
		}
		op, scope := OpEquality, ScopePartition
		if i > 0 {
			op, scope = OpRange, ScopeLocal
		}
		pkCols[i] = IndexColumn{Column: colName, Op: op, Scope: scope}
	}
	indices = append(indices, DbIndex{
		Name:       root.tableNameOrDefault() + "_pkey",
		Columns:    pkCols,
		Unique:     true,
		PrimaryKey: true,
	})

	for _, appIdx := range root.Indices {
		cols := make([]IndexColumn, len(appIdx.FieldIndices))
		for i, fieldIdx := range appIdx.FieldIndices {
			colName, err := mapping.ColumnForField(fieldIdx)
			if err != nil {
				return nil, err
			}
			cols[i] = IndexColumn{Column: colName, Op: OpEquality, Scope: ScopeLocal}
		}
		name := appIdx.Name
		if name == "" {
			name = root.tableNameOrDefault() + "_idx"
		}
		indices = append(indices, DbIndex{Name: name, Columns: cols, Unique: appIdx.Unique})
	}

	return &Table{Name: root.tableNameOrDefault(), Columns: columns, Indices: indices}, nil
}

// typeToStorage picks a reasonable default storage representation for an
// application type; drivers may override per-column via schema overrides.
func typeToStorage(t ir.Type) StorageType {
	switch t.Kind {
	case ir.TString:
		return StorageType{Kind: StoreVarchar, Length: 255}
	case ir.TInt64:
		return StorageType{Kind: StoreBigInt}
	case ir.TFloat64, ir.TDecimal:
		return StorageType{Kind: StoreFloat}
	case ir.TBool:
		return StorageType{Kind: StoreBoolean}
	case ir.TDateTime:
		return StorageType{Kind: StoreTimestamp}
	case ir.TJSON:
		return StorageType{Kind: StoreJSON}
	case ir.TUUID:
		return StorageType{Kind: StoreUUID}
	case ir.TEnum:
		// One text column holding the discriminant-prefixed wire form.
		return StorageType{Kind: StoreText}
	case ir.TOption:
		if t.Elem != nil {
			return typeToStorage(*t.Elem)
		}
		return StorageType{Kind: StoreVarchar, Length: 255}
	default:
		return StorageType{Kind: StoreText}
	}
}
