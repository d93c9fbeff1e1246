package planner

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type relationKey struct {
	from string
	to   string
}

type mapResolver struct {
	relations map[relationKey]Relation
	calls     []relationKey
	failWith  error
}

func (m *mapResolver) ResolveRelation(_ context.Context, from, to string) (Relation, error) {
	m.calls = append(m.calls, relationKey{from, to})
	if m.failWith != nil {
		return Relation{}, m.failWith
	}
	rel, ok := m.relations[relationKey{from, to}]
	if !ok {
		return Relation{}, fmt.Errorf("%s.%s: %w", from, to, ErrRelationNotFound)
	}
	return rel, nil
}

// shopResolver models orders with a customer (who has an address) and a
// collection of items, each pointing at a product.
func shopResolver() *mapResolver {
	return &mapResolver{relations: map[relationKey]Relation{
		{"Order", "customer"}: {
			Entity: "Customer", Fields: []string{"customer_id"}, ReferencedFields: []string{"id"}, Cardinality: Singular,
		},
		{"Order", "items"}: {
			Entity: "OrderItem", Fields: []string{"id"}, ReferencedFields: []string{"order_id"}, Cardinality: Collection,
		},
		{"OrderItem", "product"}: {
			Entity: "Product", Fields: []string{"product_id"}, ReferencedFields: []string{"id"}, Cardinality: Singular,
		},
		{"Customer", "address"}: {
			Entity: "Address", Fields: []string{"address_id"}, ReferencedFields: []string{"id"}, Cardinality: Singular,
		},
		{"Customer", "orders"}: {
			Entity: "Order", Fields: []string{"id"}, ReferencedFields: []string{"customer_id"}, Cardinality: Collection,
		},
	}}
}

func shopSources(entity string) string {
	return map[string]string{
		"Order":     "orders",
		"Customer":  "customers",
		"OrderItem": "order_items",
		"Product":   "products",
		"Address":   "addresses",
	}[entity]
}

func eq(field string, value any) Filter {
	return Filter{Field: field, Comparator: CmpEq, Condition: CondAnd, Value: Scalar(value)}
}

func assertSQLMatches(t *testing.T, got string, candidates ...string) {
	t.Helper()

	gotNorm := normalizeSQL(got)
	for _, candidate := range candidates {
		if gotNorm == normalizeSQL(candidate) {
			return
		}
	}

	assert.Fail(t, "SQL did not match any expected form", "got: %q candidates: %v", gotNorm, candidates)
}

// Accept either bound args or literal LIMIT/OFFSET in SQL.
func assertLimitOffsetArgs(t *testing.T, sql string, args []any, whereArgs []any, limit, offset int) {
	t.Helper()

	if len(args) == len(whereArgs) {
		assert.Contains(t, normalizeSQL(sql), fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset))
		assertArgsEqual(t, args, whereArgs)
		return
	}

	expected := append(append([]any{}, whereArgs...), limit, offset)
	assertArgsEqual(t, args, expected)
}

func assertArgsEqual(t *testing.T, got []any, expected []any) {
	t.Helper()

	if len(got) != len(expected) {
		assert.Equal(t, len(expected), len(got))
		return
	}
	assert.Equal(t, normalizeArgs(expected), normalizeArgs(got))
}

// Normalize args to strings so numeric types compare consistently.
func normalizeArgs(args []any) []string {
	normalized := make([]string, len(args))
	for i, arg := range args {
		normalized[i] = fmt.Sprintf("%v", arg)
	}
	return normalized
}

// Normalize SQL for stable comparisons across whitespace differences.
func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
