package schema

import "github.com/latticeorm/lattice/utils"

// ModelNameToTableName converts a model name to its default table name:
// snake_case and pluralized, unless the model carries a TableNameOverride.
func ModelNameToTableName(modelName string) string {
	return utils.Pluralize(utils.ToSnakeCase(modelName))
}

// SingularRelationName derives a HasMany/HasOne relation's default
// singular accessor name from its target model name.
func SingularRelationName(targetModelName string) string {
	return utils.Singularize(utils.ToSnakeCase(targetModelName))
}
