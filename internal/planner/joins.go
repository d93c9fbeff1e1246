package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"omnifetch/internal/sqlutil"
)

// Join is one INNER JOIN of a planned query. Alias is the hop name the join was
// reached by and doubles as the SQL alias of the joined entity.
type Join struct {
	Alias     string
	Entity    string
	LeftAlias string
	Relation  Relation
}

// Condition renders the join condition in unquoted form, e.g.
// "Order.customer_id = customer.id".
func (j Join) Condition() string {
	pairs := make([]string, len(j.Relation.Fields))
	for i := range j.Relation.Fields {
		pairs[i] = fmt.Sprintf("%s.%s = %s.%s", j.LeftAlias, j.Relation.Fields[i], j.Alias, j.Relation.ReferencedFields[i])
	}
	return strings.Join(pairs, " AND ")
}

func (j Join) conditionSQL() string {
	pairs := make([]string, len(j.Relation.Fields))
	for i := range j.Relation.Fields {
		pairs[i] = fmt.Sprintf("%s = %s",
			sqlutil.QuoteQualified(j.LeftAlias, j.Relation.Fields[i]),
			sqlutil.QuoteQualified(j.Alias, j.Relation.ReferencedFields[i]),
		)
	}
	return strings.Join(pairs, " AND ")
}

// JoinPlan is the ordered, deduplicated join list of one query build.
type JoinPlan struct {
	Joins []Join
	// CrossesCollection is set when any joined hop has collection cardinality,
	// meaning a main row can match more than once.
	CrossesCollection bool
}

// buildState is the scratch state of a single query build. A fresh one is
// created for every data, count and embed query so joins and parameter
// numbering never leak between builds.
type buildState struct {
	ctx      context.Context
	resolver RelationResolver
	root     string

	joined map[string]string // alias -> entity
	plan   JoinPlan
	params int
}

func newBuildState(ctx context.Context, resolver RelationResolver, root string) *buildState {
	return &buildState{
		ctx:      ctx,
		resolver: resolver,
		root:     root,
		joined:   make(map[string]string),
	}
}

// addPath joins every hop of path that is not joined yet. A hop that does not
// resolve ends the path without error; later hops of that path are skipped.
// Other resolver failures are returned.
func (s *buildState) addPath(path []string) error {
	leftAlias := s.root
	current := s.root
	for _, hop := range path {
		if entity, ok := s.joined[hop]; ok {
			leftAlias = hop
			current = entity
			continue
		}
		if s.resolver == nil {
			return nil
		}
		rel, err := s.resolver.ResolveRelation(s.ctx, current, hop)
		if err != nil {
			if errors.Is(err, ErrRelationNotFound) {
				return nil
			}
			return fmt.Errorf("resolve relation %s.%s: %w", current, hop, err)
		}
		if len(rel.Fields) == 0 || len(rel.Fields) != len(rel.ReferencedFields) {
			return nil
		}

		entity := rel.target(hop)
		s.joined[hop] = entity
		s.plan.Joins = append(s.plan.Joins, Join{
			Alias:     hop,
			Entity:    entity,
			LeftAlias: leftAlias,
			Relation:  rel,
		})
		if rel.Cardinality == Collection {
			s.plan.CrossesCollection = true
		}
		leftAlias = hop
		current = entity
	}
	return nil
}

func (s *buildState) nextParam() string {
	name := fmt.Sprintf("p_%d", s.params)
	s.params++
	return name
}

// PlanJoins plans the joins needed by paths, in first-discovery order, each
// alias joined once.
func PlanJoins(ctx context.Context, resolver RelationResolver, root string, paths [][]string) (JoinPlan, error) {
	state := newBuildState(ctx, resolver, root)
	for _, path := range paths {
		if err := state.addPath(path); err != nil {
			return JoinPlan{}, err
		}
	}
	return state.plan, nil
}

// FilterPaths returns the relation paths referenced by filter fields.
func FilterPaths(filters []Filter) [][]string {
	paths := make([][]string, 0, len(filters))
	for _, f := range filters {
		if path := f.Path(); len(path) > 0 {
			paths = append(paths, path)
		}
	}
	return paths
}
