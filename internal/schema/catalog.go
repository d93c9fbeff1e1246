// Package schema holds the entity catalogue: which entities exist, the table
// backing each one, its primary key and the relations it declares. The
// catalogue answers relation lookups for the planner.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"omnifetch/internal/planner"
)

// ErrUnknownEntity is returned for entity names missing from the catalogue.
var ErrUnknownEntity = errors.New("unknown entity")

// Relation is a named hop from one entity to another.
type Relation struct {
	Name             string   `yaml:"name"`
	Entity           string   `yaml:"entity"`
	Fields           []string `yaml:"fields"`
	ReferencedFields []string `yaml:"referenced_fields"`
	Cardinality      string   `yaml:"cardinality"`
}

// Entity describes one fetchable entity.
type Entity struct {
	Name       string     `yaml:"name"`
	Source     string     `yaml:"source"`
	PrimaryKey string     `yaml:"primary_key"`
	Relations  []Relation `yaml:"relations"`
}

// Catalog is an immutable, validated set of entities.
type Catalog struct {
	entities  map[string]Entity
	relations map[string]map[string]planner.Relation
	order     []string
}

// NewCatalog validates entities and indexes their relations. Every relation
// must target a known entity and pair its fields one to one.
func NewCatalog(entities []Entity) (*Catalog, error) {
	c := &Catalog{
		entities:  make(map[string]Entity, len(entities)),
		relations: make(map[string]map[string]planner.Relation, len(entities)),
	}

	for _, e := range entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, errors.New("entity name is required")
		}
		if _, dup := c.entities[name]; dup {
			return nil, fmt.Errorf("entity %s declared twice", name)
		}
		e.Name = name
		if strings.TrimSpace(e.Source) == "" {
			e.Source = name
		}
		c.entities[name] = e
		c.order = append(c.order, name)
	}

	for _, name := range c.order {
		e := c.entities[name]
		byName := make(map[string]planner.Relation, len(e.Relations))
		for _, r := range e.Relations {
			rel, err := c.compileRelation(e.Name, r)
			if err != nil {
				return nil, err
			}
			if _, dup := byName[r.Name]; dup {
				return nil, fmt.Errorf("entity %s: relation %s declared twice", e.Name, r.Name)
			}
			byName[r.Name] = rel
		}
		c.relations[name] = byName
	}
	return c, nil
}

func (c *Catalog) compileRelation(owner string, r Relation) (planner.Relation, error) {
	if strings.TrimSpace(r.Name) == "" {
		return planner.Relation{}, fmt.Errorf("entity %s: relation name is required", owner)
	}
	target := r.Entity
	if target == "" {
		target = r.Name
	}
	if _, ok := c.entities[target]; !ok {
		return planner.Relation{}, fmt.Errorf("entity %s: relation %s targets %s: %w", owner, r.Name, target, ErrUnknownEntity)
	}
	if len(r.Fields) == 0 || len(r.Fields) != len(r.ReferencedFields) {
		return planner.Relation{}, fmt.Errorf("entity %s: relation %s needs matching fields and referenced_fields", owner, r.Name)
	}
	cardinality, err := planner.ParseCardinality(r.Cardinality)
	if err != nil {
		return planner.Relation{}, fmt.Errorf("entity %s: relation %s: %w", owner, r.Name, err)
	}
	return planner.Relation{
		Entity:           target,
		Fields:           append([]string(nil), r.Fields...),
		ReferencedFields: append([]string(nil), r.ReferencedFields...),
		Cardinality:      cardinality,
	}, nil
}

// Entity returns the named entity.
func (c *Catalog) Entity(name string) (Entity, bool) {
	e, ok := c.entities[name]
	return e, ok
}

// Entities returns all entities in declaration order.
func (c *Catalog) Entities() []Entity {
	out := make([]Entity, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entities[name])
	}
	return out
}

// Names returns the sorted entity names.
func (c *Catalog) Names() []string {
	names := append([]string(nil), c.order...)
	sort.Strings(names)
	return names
}

// Source returns the table backing an entity, or "" when it is unknown.
func (c *Catalog) Source(entity string) string {
	return c.entities[entity].Source
}

// ResolveRelation implements planner.RelationResolver.
func (c *Catalog) ResolveRelation(_ context.Context, from, to string) (planner.Relation, error) {
	byName, ok := c.relations[from]
	if !ok {
		return planner.Relation{}, fmt.Errorf("%s: %w", from, ErrUnknownEntity)
	}
	rel, ok := byName[to]
	if !ok {
		return planner.Relation{}, fmt.Errorf("%s.%s: %w", from, to, planner.ErrRelationNotFound)
	}
	return rel, nil
}
