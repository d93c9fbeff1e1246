package naming

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"orders", "Order"},
		{"order_items", "OrderItem"},
		{"addresses", "Address"},
		{"people", "Person"},
		{"customer", "Customer"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.EntityName(tt.input))
		})
	}
}

func TestPluralize(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"user", "users"},
		{"category", "categories"},
		{"person", "people"},
		{"child", "children"},
		{"status", "statuses"},
		{"analysis", "analyses"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.Pluralize(tt.input))
		})
	}
}

func TestSingularize(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"users", "user"},
		{"categories", "category"},
		{"people", "person"},
		{"children", "child"},
		{"statuses", "status"},
		{"analyses", "analysis"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.Singularize(tt.input))
		})
	}
}

func TestOverrides(t *testing.T) {
	cfg := Config{
		PluralOverrides:   map[string]string{"staff": "staff"},
		SingularOverrides: map[string]string{"data": "datum"},
	}
	namer := New(cfg, nil)

	assert.Equal(t, "staff", namer.Pluralize("staff"))
	assert.Equal(t, "users", namer.Pluralize("user"))
	assert.Equal(t, "datum", namer.Singularize("data"))
	assert.Equal(t, "SensorDatum", namer.EntityName("sensor_data"))
}

func TestOverrides_CaseInsensitive(t *testing.T) {
	namer := New(Config{
		PluralOverrides:   map[string]string{"person": "people"},
		SingularOverrides: map[string]string{"data": "datum"},
	}, nil)

	assert.Equal(t, "people", namer.Pluralize("Person"))
	assert.Equal(t, "datum", namer.Singularize("DATA"))
	assert.Equal(t, "SensorDatum", namer.EntityName("Sensor_Data"))
	assert.Equal(t, "author_people", namer.CollectionRelationName("Person", []string{"author_id"}, false))
}

func TestSingularRelationName(t *testing.T) {
	namer := Default()

	tests := []struct {
		fkColumns []string
		expected  string
	}{
		{[]string{"customer_id"}, "customer"},
		{[]string{"created_by_user_id"}, "created_by_user"},
		{[]string{"owner_fk"}, "owner"},
		{[]string{"Parent_ID"}, "parent"},
		{[]string{"tenant_id", "author_id"}, "author"},
		{[]string{"simple"}, "simple"},
		{[]string{"_id"}, "_id"},
		{nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.SingularRelationName(tt.fkColumns))
		})
	}
}

func TestCollectionRelationName(t *testing.T) {
	namer := Default()

	tests := []struct {
		sourceTable string
		fkColumn    string
		isOnlyFK    bool
		expected    string
	}{
		{"comments", "user_id", true, "comments"},
		{"posts", "author_id", false, "author_posts"},
		{"posts", "editor_id", false, "editor_posts"},
		{"order_item", "order_id", true, "order_items"},
	}

	for _, tt := range tests {
		t.Run(tt.sourceTable+"_"+tt.fkColumn, func(t *testing.T) {
			result := namer.CollectionRelationName(tt.sourceTable, []string{tt.fkColumn}, tt.isOnlyFK)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCollision_Entities(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	namer := New(DefaultConfig(), logger)

	assert.Equal(t, "UserProfile", namer.RegisterEntity("user_profiles"))
	assert.Equal(t, "UserProfile_2", namer.RegisterEntity("user_profile"))
	assert.Contains(t, buf.String(), "naming collision detected")
}

func TestCollision_RelationToColumn(t *testing.T) {
	namer := Default()

	namer.RegisterColumn("Order", "customer")
	assert.True(t, namer.resolver.RelationExists("Order", "customer"))

	result := namer.RegisterRelation("Order", "customer", "fk:fk_order_customer")
	assert.Equal(t, "customer_2", result)

	assert.Equal(t, "items", namer.RegisterRelation("Order", "items", "fk:fk_item_order"))
	assert.False(t, namer.resolver.RelationExists("Customer", "items"))
}

func TestReset(t *testing.T) {
	namer := Default()
	namer.RegisterEntity("orders")
	namer.Reset()
	assert.Equal(t, "Order", namer.RegisterEntity("orders"))
}
