package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinAliases(plan JoinPlan) []string {
	aliases := make([]string, len(plan.Joins))
	for i, j := range plan.Joins {
		aliases[i] = j.Alias
	}
	return aliases
}

func TestPlanJoins_SamePathJoinedOnce(t *testing.T) {
	filters := []Filter{
		eq("customer.region", "EU"),
		eq("customer.active", 1),
	}

	plan, err := PlanJoins(context.Background(), shopResolver(), "Order", FilterPaths(filters))
	require.NoError(t, err)
	require.Len(t, plan.Joins, 1)
	assert.Equal(t, "customer", plan.Joins[0].Alias)
	assert.Equal(t, "Customer", plan.Joins[0].Entity)
	assert.Equal(t, "Order.customer_id = customer.id", plan.Joins[0].Condition())
	assert.False(t, plan.CrossesCollection)
}

func TestPlanJoins_FirstDiscoveryOrder(t *testing.T) {
	paths := [][]string{
		{"customer", "address"},
		{"items", "product"},
		{"customer"},
		{"items"},
	}

	plan, err := PlanJoins(context.Background(), shopResolver(), "Order", paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"customer", "address", "items", "product"}, joinAliases(plan))
	assert.Equal(t, "customer.address_id = address.id", plan.Joins[1].Condition())
	assert.Equal(t, "items.product_id = product.id", plan.Joins[3].Condition())
	assert.True(t, plan.CrossesCollection)
}

func TestPlanJoins_UnknownHopEndsPathSilently(t *testing.T) {
	paths := [][]string{
		{"customer", "nickname", "address"},
		{"meta"},
	}

	plan, err := PlanJoins(context.Background(), shopResolver(), "Order", paths)
	require.NoError(t, err)
	assert.Equal(t, []string{"customer"}, joinAliases(plan))
}

func TestPlanJoins_ResolverFailure(t *testing.T) {
	resolver := shopResolver()
	resolver.failWith = errors.New("lookup timed out")

	_, err := PlanJoins(context.Background(), resolver, "Order", [][]string{{"customer"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve relation Order.customer")
}

func TestPlanJoins_MalformedRelationSkipped(t *testing.T) {
	resolver := &mapResolver{relations: map[relationKey]Relation{
		{"Order", "customer"}: {Entity: "Customer", Fields: []string{"customer_id"}},
	}}

	plan, err := PlanJoins(context.Background(), resolver, "Order", [][]string{{"customer"}})
	require.NoError(t, err)
	assert.Empty(t, plan.Joins)
}

func TestJoinCondition_CompositeKey(t *testing.T) {
	j := Join{
		Alias:     "line",
		Entity:    "InvoiceLine",
		LeftAlias: "Invoice",
		Relation: Relation{
			Fields:           []string{"tenant_id", "id"},
			ReferencedFields: []string{"tenant_id", "invoice_id"},
		},
	}
	assert.Equal(t, "Invoice.tenant_id = line.tenant_id AND Invoice.id = line.invoice_id", j.Condition())
	assert.Equal(t, "`Invoice`.`tenant_id` = `line`.`tenant_id` AND `Invoice`.`id` = `line`.`invoice_id`", j.conditionSQL())
}

func TestBuildStateIsolation(t *testing.T) {
	first := newBuildState(context.Background(), shopResolver(), "Order")
	require.NoError(t, first.addPath([]string{"customer"}))
	assert.Equal(t, "p_0", first.nextParam())
	assert.Equal(t, "p_1", first.nextParam())

	second := newBuildState(context.Background(), shopResolver(), "Order")
	assert.Empty(t, second.plan.Joins)
	assert.Equal(t, "p_0", second.nextParam())
}
