package naming

import (
	"fmt"
	"log/slog"
)

// CollisionResolver tracks registered names and resolves collisions
// by applying numeric suffixes when duplicates are detected.
type CollisionResolver struct {
	seenEntities  map[string]string            // entity name → source table
	seenRelations map[string]map[string]string // entity name → relation name → source
	logger        *slog.Logger
}

// NewCollisionResolver creates a new collision resolver.
func NewCollisionResolver(logger *slog.Logger) *CollisionResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionResolver{
		seenEntities:  make(map[string]string),
		seenRelations: make(map[string]map[string]string),
		logger:        logger,
	}
}

// RegisterEntity registers an entity name and returns the resolved name.
func (c *CollisionResolver) RegisterEntity(entityName, tableName string) string {
	return c.resolveCollision(entityName, c.seenEntities, "table:"+tableName)
}

// RegisterRelation registers a relation name on an entity and returns the
// resolved name. Column names of the entity should be registered first so a
// relation never shadows a column.
func (c *CollisionResolver) RegisterRelation(entityName, relationName, source string) string {
	if c.seenRelations[entityName] == nil {
		c.seenRelations[entityName] = make(map[string]string)
	}
	return c.resolveCollision(relationName, c.seenRelations[entityName], source)
}

// RelationExists checks if a name is already taken on an entity.
func (c *CollisionResolver) RelationExists(entityName, relationName string) bool {
	if names, ok := c.seenRelations[entityName]; ok {
		_, exists := names[relationName]
		return exists
	}
	return false
}

// resolveCollision attempts to register a name in the given map.
// If the name already exists, finds the next available numeric suffix.
func (c *CollisionResolver) resolveCollision(name string, seen map[string]string, source string) string {
	if _, exists := seen[name]; !exists {
		seen[name] = source
		return name
	}

	existingSource := seen[name]
	c.logger.Warn("naming collision detected, applying suffix",
		slog.String("name", name),
		slog.String("existing_source", existingSource),
		slog.String("new_source", source),
	)

	for i := 2; ; i++ {
		suffixed := fmt.Sprintf("%s_%d", name, i)
		if _, exists := seen[suffixed]; !exists {
			seen[suffixed] = source
			return suffixed
		}
	}
}
