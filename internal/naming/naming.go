package naming

import (
	"log/slog"
	"strings"

	"github.com/jinzhu/inflection"
)

// Namer turns table and column names into entity and relation names.
type Namer struct {
	config   Config
	logger   *slog.Logger
	resolver *CollisionResolver
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		config:   cfg,
		logger:   logger,
		resolver: NewCollisionResolver(logger),
	}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset clears the collision resolver state, allowing the namer to be reused
// for a new catalogue build.
func (n *Namer) Reset() {
	n.resolver = NewCollisionResolver(n.logger)
}

// EntityName converts a table name to a singular PascalCase entity name.
// Example: "order_items" -> "OrderItem"
func (n *Namer) EntityName(tableName string) string {
	parts := strings.Split(tableName, "_")
	if last := len(parts) - 1; last >= 0 && parts[last] != "" {
		parts[last] = n.Singularize(parts[last])
	}
	return toPascalCase(strings.Join(parts, "_"))
}

// SingularRelationName names a relation that follows a foreign key, based on
// the FK column with common suffixes stripped. Composite keys use the last
// column.
// Example: "customer_id" -> "customer", "created_by_user_id" -> "created_by_user"
func (n *Namer) SingularRelationName(fkColumns []string) string {
	if len(fkColumns) == 0 {
		return ""
	}
	name := fkColumns[len(fkColumns)-1]
	for _, suffix := range []string{"_id", "_fk"} {
		if strings.HasSuffix(strings.ToLower(name), suffix) && len(name) > len(suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}
	return strings.ToLower(name)
}

// CollectionRelationName names the reverse side of a foreign key.
// If isOnlyFK is true (single FK from source table to the target), it is the
// pluralized source table. Otherwise it is prefixed with the FK name.
// Example: isOnlyFK=true: "order_items" -> "order_items"
// Example: isOnlyFK=false, fk "author_id": "posts" -> "author_posts"
func (n *Namer) CollectionRelationName(sourceTable string, fkColumns []string, isOnlyFK bool) string {
	parts := strings.Split(strings.ToLower(sourceTable), "_")
	if last := len(parts) - 1; last >= 0 && parts[last] != "" {
		parts[last] = n.Pluralize(parts[last])
	}
	plural := strings.Join(parts, "_")
	if isOnlyFK {
		return plural
	}
	prefix := n.SingularRelationName(fkColumns)
	if prefix == "" {
		return plural
	}
	return prefix + "_" + plural
}

// RegisterEntity records an entity name and returns a collision-free version.
func (n *Namer) RegisterEntity(tableName string) string {
	return n.resolver.RegisterEntity(n.EntityName(tableName), tableName)
}

// RegisterColumn reserves a column name on an entity so relations cannot
// take it.
func (n *Namer) RegisterColumn(entityName, columnName string) {
	n.resolver.RegisterRelation(entityName, columnName, "column")
}

// RegisterRelation records a relation name on an entity and returns a
// collision-free version.
func (n *Namer) RegisterRelation(entityName, relationName, source string) string {
	return n.resolver.RegisterRelation(entityName, relationName, source)
}

// Pluralize returns the plural of a table-name segment. Configured overrides
// match case-insensitively and win over the inflection rules.
func (n *Namer) Pluralize(word string) string {
	return inflect(word, n.config.PluralOverrides, inflection.Plural)
}

// Singularize returns the singular of a table-name segment.
func (n *Namer) Singularize(word string) string {
	return inflect(word, n.config.SingularOverrides, inflection.Singular)
}

func inflect(word string, overrides map[string]string, rule func(string) string) string {
	if override, ok := overrides[word]; ok {
		return override
	}
	if override, ok := overrides[strings.ToLower(word)]; ok {
		return override
	}
	return rule(word)
}

// toPascalCase converts snake_case to PascalCase
func toPascalCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}
