package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrRelationNotFound indicates that a hop of a relation path does not name a
// relation declared by the entity it starts from.
var ErrRelationNotFound = errors.New("relation not found")

// Cardinality tells how many related records a relation yields per owner.
type Cardinality int

const (
	// Singular relations yield at most one related record.
	Singular Cardinality = iota
	// Collection relations yield zero or more related records.
	Collection
)

func (c Cardinality) String() string {
	if c == Collection {
		return "collection"
	}
	return "singular"
}

// ParseCardinality accepts "singular"/"one" and "collection"/"many".
func ParseCardinality(raw string) (Cardinality, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "singular", "one", "":
		return Singular, nil
	case "collection", "many":
		return Collection, nil
	default:
		return Singular, fmt.Errorf("unknown cardinality %q", raw)
	}
}

// Relation describes one hop between two entities. Fields belong to the owning
// entity and ReferencedFields to Entity; they pair up positionally.
type Relation struct {
	Entity           string
	Fields           []string
	ReferencedFields []string
	Cardinality      Cardinality
}

// target returns the entity the relation leads to, defaulting to the hop name.
func (r Relation) target(hop string) string {
	if r.Entity == "" {
		return hop
	}
	return r.Entity
}

// RelationResolver looks up the relation named `to` on entity `from`.
// Implementations return an error wrapping ErrRelationNotFound for unknown hops.
type RelationResolver interface {
	ResolveRelation(ctx context.Context, from, to string) (Relation, error)
}

// ResolveChain walks hops starting at entity and returns the relation that
// decides how the chain merges. The first hop wins initially; each later hop
// replaces it unless a collection has already been seen, so a collection
// anywhere in the chain makes the whole chain a collection.
func ResolveChain(ctx context.Context, resolver RelationResolver, entity string, hops []string) (Relation, error) {
	if len(hops) == 0 {
		return Relation{}, fmt.Errorf("empty relation path: %w", ErrRelationNotFound)
	}

	var winner Relation
	current := entity
	for i, hop := range hops {
		rel, err := resolver.ResolveRelation(ctx, current, hop)
		if err != nil {
			return Relation{}, err
		}
		if i == 0 || winner.Cardinality != Collection {
			winner = rel
		}
		current = rel.target(hop)
	}
	return winner, nil
}

// SplitPath splits a dotted path into trimmed, non-empty segments.
func SplitPath(path string) []string {
	raw := strings.Split(path, ".")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
