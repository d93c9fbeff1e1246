package fetch

import (
	"testing"

	"omnifetch/internal/planner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		pageSize int
		total    int64
		next     *int
		prev     *int
	}{
		{"single page", 0, 20, 3, nil, nil},
		{"exact fit", 0, 10, 10, nil, nil},
		{"first of many", 0, 10, 11, intPtr(1), nil},
		{"middle", 2, 10, 45, intPtr(3), intPtr(1)},
		{"last", 4, 10, 45, nil, intPtr(3)},
		{"past the end", 9, 10, 45, nil, intPtr(8)},
		{"empty", 0, 20, 0, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagination(tt.page, tt.pageSize, tt.total, 0)
			assert.Equal(t, tt.next, p.NextPage)
			assert.Equal(t, tt.prev, p.PreviousPage)
			assert.Equal(t, tt.total, p.TotalCount)
		})
	}
}

func TestNewPagination_Invariant(t *testing.T) {
	for total := int64(0); total <= 30; total++ {
		for pageSize := 1; pageSize <= 7; pageSize++ {
			for page := 0; page <= 8; page++ {
				p := NewPagination(page, pageSize, total, 0)
				hasNext := int64((page+1)*pageSize) < total
				assert.Equal(t, hasNext, p.NextPage != nil, "page=%d size=%d total=%d", page, pageSize, total)
				assert.Equal(t, page > 0, p.PreviousPage != nil, "page=%d size=%d total=%d", page, pageSize, total)
			}
		}
	}
}

func TestResultSet_KeysCompareByText(t *testing.T) {
	rs := newResultSet("id", []Row{
		{"id": int64(1), "name": "a"},
		{"id": []byte("2"), "name": "b"},
	})

	rs.initEmbed("notes", planner.Collection)
	rs.mergeEmbed("notes", planner.Collection, []Row{
		{planner.ParentKeyAlias: "1", "text": "x"},
		{planner.ParentKeyAlias: int32(2), "text": "y"},
		{planner.ParentKeyAlias: int64(99), "text": "orphan"},
		{"text": "no parent"},
	})

	assert.Equal(t, []Row{{"text": "x"}}, rs.rows[0]["notes"])
	assert.Equal(t, []Row{{"text": "y"}}, rs.rows[1]["notes"])
}

func TestResultSet_Truncate(t *testing.T) {
	rs := newResultSet("id", []Row{{"id": 1}, {"id": 2}, {"id": 3}})
	rs.truncate(1)

	require.Equal(t, 1, rs.size())
	assert.Equal(t, []any{1}, rs.primaryKeys())

	rs.mergeEmbed("owner", planner.Singular, []Row{{planner.ParentKeyAlias: 2, "name": "dropped"}})
	assert.NotContains(t, rs.rows[0], "owner")
}

func TestResultSet_SingularLastWins(t *testing.T) {
	rs := newResultSet("id", []Row{{"id": 1}})
	rs.initEmbed("owner", planner.Singular)
	rs.mergeEmbed("owner", planner.Singular, []Row{
		{planner.ParentKeyAlias: 1, "name": "first"},
		{planner.ParentKeyAlias: 1, "name": "second"},
	})
	assert.Equal(t, Row{"name": "second"}, rs.rows[0]["owner"])
}
