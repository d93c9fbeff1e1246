// Package schemafilter applies allow/deny table filters to an entity
// catalogue.
package schemafilter

import (
	"fmt"
	"path"
	"strings"

	"omnifetch/internal/schema"
)

// Config controls which tables are exposed as entities. Patterns use
// path.Match syntax and match case-insensitively against table names.
type Config struct {
	AllowTables []string `mapstructure:"allow_tables"`
	DenyTables  []string `mapstructure:"deny_tables"`
}

// Empty reports whether the config filters nothing.
func (c Config) Empty() bool {
	return len(c.AllowTables) == 0 && len(c.DenyTables) == 0
}

// Validate reports the first malformed pattern.
func (c Config) Validate() error {
	for _, list := range [][]string{c.AllowTables, c.DenyTables} {
		for _, pattern := range list {
			if _, err := path.Match(strings.ToLower(pattern), ""); err != nil {
				return fmt.Errorf("invalid table pattern %q: %w", pattern, err)
			}
		}
	}
	return nil
}

// Apply returns a catalogue without the entities whose tables are filtered
// out. Relations into removed entities are dropped with them. Missing allow
// lists default to allow-all; deny rules always win.
func Apply(catalog *schema.Catalog, cfg Config) (*schema.Catalog, error) {
	if catalog == nil || cfg.Empty() {
		return catalog, nil
	}

	kept := make(map[string]bool)
	var entities []schema.Entity
	for _, e := range catalog.Entities() {
		if !TableAllowed(e.Source, cfg) {
			continue
		}
		kept[e.Name] = true
		entities = append(entities, e)
	}

	for i := range entities {
		relations := make([]schema.Relation, 0, len(entities[i].Relations))
		for _, r := range entities[i].Relations {
			target := r.Entity
			if target == "" {
				target = r.Name
			}
			if kept[target] {
				relations = append(relations, r)
			}
		}
		entities[i].Relations = relations
	}
	return schema.NewCatalog(entities)
}

// TableAllowed reports whether table passes the filters.
func TableAllowed(table string, cfg Config) bool {
	if matchesAny(table, cfg.DenyTables) {
		return false
	}
	if len(cfg.AllowTables) == 0 {
		return true
	}
	return matchesAny(table, cfg.AllowTables)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
