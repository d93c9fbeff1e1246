package schema

import (
	"context"
	"errors"
	"testing"

	"omnifetch/internal/naming"
	"omnifetch/internal/planner"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectShopSchema(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("customers").
			AddRow("order_items").
			AddRow("orders").
			AddRow("products"))

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME"}).
			AddRow("customers", "id").
			AddRow("customers", "region").
			AddRow("order_items", "id").
			AddRow("order_items", "order_id").
			AddRow("order_items", "product_id").
			AddRow("orders", "id").
			AddRow("orders", "customer_id").
			AddRow("orders", "status").
			AddRow("products", "id"))

	mock.ExpectQuery("CONSTRAINT_NAME = 'PRIMARY'").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "COLUMN_NAME"}).
			AddRow("customers", "id").
			AddRow("order_items", "id").
			AddRow("orders", "id").
			AddRow("products", "id"))

	mock.ExpectQuery("REFERENCED_TABLE_NAME IS NOT NULL").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{
			"TABLE_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION",
		}).
			AddRow("order_items", "order_id", "orders", "id", "fk_item_order", 1).
			AddRow("order_items", "product_id", "products", "id", "fk_item_product", 1).
			AddRow("orders", "customer_id", "customers", "id", "fk_order_customer", 1).
			AddRow("orders", "warehouse_id", "warehouses", "id", "fk_order_warehouse", 1))
}

func TestIntrospect(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectShopSchema(mock)

	catalog, err := Introspect(context.Background(), db, "shop", naming.Default())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"Customer", "Order", "OrderItem", "Product"}, catalog.Names())
	assert.Equal(t, "order_items", catalog.Source("OrderItem"))

	order, ok := catalog.Entity("Order")
	require.True(t, ok)
	assert.Equal(t, "id", order.PrimaryKey)

	ctx := context.Background()
	tests := []struct {
		from, to    string
		entity      string
		fields      []string
		referenced  []string
		cardinality planner.Cardinality
	}{
		{"Order", "customer", "Customer", []string{"customer_id"}, []string{"id"}, planner.Singular},
		{"Order", "order_items", "OrderItem", []string{"id"}, []string{"order_id"}, planner.Collection},
		{"OrderItem", "order", "Order", []string{"order_id"}, []string{"id"}, planner.Singular},
		{"OrderItem", "product", "Product", []string{"product_id"}, []string{"id"}, planner.Singular},
		{"Customer", "orders", "Order", []string{"id"}, []string{"customer_id"}, planner.Collection},
		{"Product", "order_items", "OrderItem", []string{"id"}, []string{"product_id"}, planner.Collection},
	}
	for _, tt := range tests {
		t.Run(tt.from+"."+tt.to, func(t *testing.T) {
			rel, err := catalog.ResolveRelation(ctx, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.entity, rel.Entity)
			assert.Equal(t, tt.fields, rel.Fields)
			assert.Equal(t, tt.referenced, rel.ReferencedFields)
			assert.Equal(t, tt.cardinality, rel.Cardinality)
		})
	}

	_, err = catalog.ResolveRelation(ctx, "Order", "warehouse")
	assert.ErrorIs(t, err, planner.ErrRelationNotFound)
}

func TestIntrospect_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs("shop").
		WillReturnError(errors.New("connection refused"))

	_, err = Introspect(context.Background(), db, "shop", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get tables")
}

func TestGroupForeignKeys_Composite(t *testing.T) {
	rows := []foreignKeyRow{
		{table: "membership", column: "user_id", referencedTable: "users", referencedColumn: "id", constraintName: "fk_user", ordinalPosition: 2},
		{table: "membership", column: "tenant_id", referencedTable: "users", referencedColumn: "tenant_id", constraintName: "fk_user", ordinalPosition: 1},
		{table: "membership", column: "group_id", referencedTable: "groups", referencedColumn: "id", constraintName: "fk_group", ordinalPosition: 1},
	}

	got := groupForeignKeys(rows)
	require.Len(t, got, 2)
	assert.Equal(t, "fk_group", got[0].constraintName)
	assert.Equal(t, []string{"tenant_id", "user_id"}, got[1].columns)
	assert.Equal(t, []string{"tenant_id", "id"}, got[1].referencedColumns)
}

func TestBuildEntities_MultipleForeignKeysToSameTable(t *testing.T) {
	tables := []*tableMeta{
		{name: "posts", columns: []string{"id", "author_id", "editor_id"}, primaryKey: []string{"id"}, foreignKeys: []foreignKey{
			{constraintName: "fk_author", table: "posts", referencedTable: "users", columns: []string{"author_id"}, referencedColumns: []string{"id"}},
			{constraintName: "fk_editor", table: "posts", referencedTable: "users", columns: []string{"editor_id"}, referencedColumns: []string{"id"}},
		}},
		{name: "users", columns: []string{"id"}, primaryKey: []string{"id"}},
	}

	entities := buildEntities(tables, naming.Default())
	require.Len(t, entities, 2)

	names := func(e Entity) []string {
		out := make([]string, len(e.Relations))
		for i, r := range e.Relations {
			out[i] = r.Name
		}
		return out
	}
	assert.Equal(t, []string{"author", "editor"}, names(entities[0]))
	assert.Equal(t, []string{"author_posts", "editor_posts"}, names(entities[1]))
}
