package fetch

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"omnifetch/internal/planner"
)

type fakeStore struct {
	mu        sync.Mutex
	relations map[[2]string]planner.Relation
	main      []Row
	embedded  map[string][]Row // innermost alias -> rows carrying the parent key
	total     int64

	queries  []planner.Query
	counts   []planner.CountQuery
	queryErr error
	countErr error
	lookups  int
}

func shopRelations() map[[2]string]planner.Relation {
	return map[[2]string]planner.Relation{
		{"Order", "customer"}: {
			Entity: "Customer", Fields: []string{"customer_id"}, ReferencedFields: []string{"id"}, Cardinality: planner.Singular,
		},
		{"Order", "items"}: {
			Entity: "OrderItem", Fields: []string{"id"}, ReferencedFields: []string{"order_id"}, Cardinality: planner.Collection,
		},
		{"OrderItem", "product"}: {
			Entity: "Product", Fields: []string{"product_id"}, ReferencedFields: []string{"id"}, Cardinality: planner.Singular,
		},
	}
}

func newShopStore() *fakeStore {
	return &fakeStore{
		relations: shopRelations(),
		main: []Row{
			{"id": int64(1), "status": "paid", "customer_id": int64(10)},
			{"id": int64(2), "status": "paid", "customer_id": int64(11)},
			{"id": int64(3), "status": "paid", "customer_id": int64(10)},
		},
		embedded: map[string][]Row{
			"items": {
				{planner.ParentKeyAlias: int64(1), "id": int64(100), "order_id": int64(1), "sku": "A"},
				{planner.ParentKeyAlias: int64(1), "id": int64(101), "order_id": int64(1), "sku": "B"},
				{planner.ParentKeyAlias: int64(3), "id": int64(102), "order_id": int64(3), "sku": "C"},
			},
			"customer": {
				{planner.ParentKeyAlias: int64(1), "id": int64(10), "name": "Ada"},
				{planner.ParentKeyAlias: int64(3), "id": int64(10), "name": "Ada"},
			},
			"product": {
				{planner.ParentKeyAlias: int64(1), "id": int64(7), "title": "Lamp"},
				{planner.ParentKeyAlias: int64(1), "id": int64(8), "title": "Desk"},
			},
		},
		total: 3,
	}
}

func (s *fakeStore) ResolveRelation(_ context.Context, from, to string) (planner.Relation, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	rel, ok := s.relations[[2]string{from, to}]
	if !ok {
		return planner.Relation{}, fmt.Errorf("%s.%s: %w", from, to, planner.ErrRelationNotFound)
	}
	return rel, nil
}

func (s *fakeStore) Query(_ context.Context, q planner.Query) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	if len(q.Columns) == 2 && q.Columns[0].Alias == planner.ParentKeyAlias {
		wanted := make(map[string]struct{})
		for _, leaf := range planner.Comparisons(q.Where) {
			for _, key := range leaf.Value.List() {
				wanted[keyOf(key)] = struct{}{}
			}
		}
		var out []Row
		for _, row := range s.embedded[q.Columns[1].Qualifier] {
			if _, ok := wanted[keyOf(row[planner.ParentKeyAlias])]; ok {
				out = append(out, maps.Clone(row))
			}
		}
		return out, nil
	}

	out := make([]Row, 0, len(s.main))
	for _, row := range s.main {
		out = append(out, maps.Clone(row))
	}
	return out, nil
}

func (s *fakeStore) Count(_ context.Context, q planner.CountQuery) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, q)
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.total, nil
}

func (s *fakeStore) embedQueries() []planner.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []planner.Query
	for _, q := range s.queries {
		if len(q.Columns) == 2 && q.Columns[0].Alias == planner.ParentKeyAlias {
			out = append(out, q)
		}
	}
	return out
}
