package schemafilter

import (
	"context"
	"testing"

	"omnifetch/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shopYAML = `
entities:
  - name: Order
    source: orders
    primary_key: id
    relations:
      - name: customer
        entity: Customer
        fields: [customer_id]
        referenced_fields: [id]
      - name: audit
        entity: AuditIntern
        fields: [id]
        referenced_fields: [order_id]
        cardinality: collection
  - name: Customer
    source: customers
    primary_key: id
  - name: AuditIntern
    source: audit_intern
    primary_key: id
`

func shopCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	catalog, err := schema.Parse([]byte(shopYAML))
	require.NoError(t, err)
	return catalog
}

func TestApply_AllowsAllByDefault(t *testing.T) {
	catalog := shopCatalog(t)
	filtered, err := Apply(catalog, Config{})
	require.NoError(t, err)
	assert.Same(t, catalog, filtered)
}

func TestApply_DenyDropsEntitiesAndRelations(t *testing.T) {
	filtered, err := Apply(shopCatalog(t), Config{
		AllowTables: []string{"*"},
		DenyTables:  []string{"*_INTERN"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Customer", "Order"}, filtered.Names())
	ctx := context.Background()
	_, err = filtered.ResolveRelation(ctx, "Order", "customer")
	assert.NoError(t, err)
	_, err = filtered.ResolveRelation(ctx, "Order", "audit")
	assert.Error(t, err)
}

func TestApply_AllowList(t *testing.T) {
	filtered, err := Apply(shopCatalog(t), Config{AllowTables: []string{"orders"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"Order"}, filtered.Names())
	order, ok := filtered.Entity("Order")
	require.True(t, ok)
	assert.Empty(t, order.Relations)
}

func TestTableAllowed(t *testing.T) {
	tests := []struct {
		name  string
		table string
		cfg   Config
		want  bool
	}{
		{name: "no filters", table: "orders", want: true},
		{name: "deny wins", table: "orders", cfg: Config{AllowTables: []string{"orders"}, DenyTables: []string{"ord*"}}, want: false},
		{name: "allow miss", table: "customers", cfg: Config{AllowTables: []string{"orders"}}, want: false},
		{name: "case insensitive", table: "Orders", cfg: Config{AllowTables: []string{"ORDERS"}}, want: true},
		{name: "bad pattern ignored", table: "orders", cfg: Config{DenyTables: []string{"["}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TableAllowed(tt.table, tt.cfg))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{AllowTables: []string{"*"}, DenyTables: []string{"tmp_?"}}.Validate())
	assert.Error(t, Config{DenyTables: []string{"["}}.Validate())
}
