package schema

import (
	"github.com/latticeorm/lattice/ormerr"
)

// Schema is the built, immutable aggregate of every registered model, its
// database-level table, and its mapping. It is built once and then
// shared by reference with every planner/executor task.
type Schema struct {
	models   map[string]Model
	mappings map[string]*Mapping
	db       *DbSchema
}

// Root looks up a registered model and downcasts it to *RootModel.
func (s *Schema) Root(name string) (*RootModel, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, ormerr.New(ormerr.InvalidSchema, "model %q not registered", name)
	}
	return ExpectRoot(m)
}

// Model looks up a registered model of any kind.
func (s *Schema) Model(name string) (Model, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, ormerr.New(ormerr.InvalidSchema, "model %q not registered", name)
	}
	return m, nil
}

// Mapping returns the bidirectional mapping for a root model.
func (s *Schema) Mapping(name string) (*Mapping, error) {
	m, ok := s.mappings[name]
	if !ok {
		return nil, ormerr.New(ormerr.InvalidSchema, "no mapping for model %q", name)
	}
	return m, nil
}

// Table returns the physical table for a root model.
func (s *Schema) Table(modelName string) (*Table, error) {
	root, err := s.Root(modelName)
	if err != nil {
		return nil, err
	}
	return s.db.Table(root.tableNameOrDefault())
}

// DbSchema exposes the full database-level schema, e.g. for the driver's
// reset_db implementation or the lock-file encoder.
func (s *Schema) DbSchema() *DbSchema { return s.db }

// ModelNames returns every registered model name, in no particular order.
func (s *Schema) ModelNames() []string {
	names := make([]string, 0, len(s.models))
	for n := range s.models {
		names = append(names, n)
	}
	return names
}
