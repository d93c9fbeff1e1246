package fetch

import (
	"fmt"

	"omnifetch/internal/planner"
)

// Row is one record keyed by column or embed name.
type Row = map[string]any

// Pagination describes where a page sits in the full result.
type Pagination struct {
	NextPage     *int  `json:"next_page"`
	PreviousPage *int  `json:"previous_page"`
	TotalCount   int64 `json:"total_count"`
	Count        int   `json:"count"`
}

// List is the output of GetAll.
type List struct {
	List       []Row      `json:"list"`
	Pagination Pagination `json:"pagination"`
}

// NewPagination computes paging metadata. There is no next page once the
// current page reaches total, and no previous page on the first page.
func NewPagination(page, pageSize int, total int64, count int) Pagination {
	p := Pagination{TotalCount: total, Count: count}
	if int64(page+1)*int64(pageSize) < total {
		next := page + 1
		p.NextPage = &next
	}
	if page > 0 {
		prev := page - 1
		p.PreviousPage = &prev
	}
	return p
}

// resultSet holds main rows keyed by primary key in first-seen order. Embed
// merges mutate rows in place by key.
type resultSet struct {
	primaryKey string
	keys       []any
	index      map[string]int
	rows       []Row
}

func newResultSet(primaryKey string, rows []Row) *resultSet {
	rs := &resultSet{
		primaryKey: primaryKey,
		index:      make(map[string]int, len(rows)),
	}
	for _, row := range rows {
		rs.put(row)
	}
	return rs
}

// keyOf maps a primary-key value to a comparable index key. Drivers may scan
// the same column as different Go types, so keys compare by text.
func keyOf(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

func (rs *resultSet) put(row Row) {
	pk := row[rs.primaryKey]
	key := keyOf(pk)
	if i, ok := rs.index[key]; ok {
		rs.rows[i] = row
		return
	}
	rs.index[key] = len(rs.rows)
	rs.keys = append(rs.keys, pk)
	rs.rows = append(rs.rows, row)
}

func (rs *resultSet) truncate(n int) {
	if len(rs.rows) <= n {
		return
	}
	for _, pk := range rs.keys[n:] {
		delete(rs.index, keyOf(pk))
	}
	rs.keys = rs.keys[:n]
	rs.rows = rs.rows[:n]
}

func (rs *resultSet) size() int {
	return len(rs.rows)
}

// primaryKeys returns a copy of the keys in row order.
func (rs *resultSet) primaryKeys() []any {
	return append([]any(nil), rs.keys...)
}

// initEmbed gives every row the embed key: an empty list for collections and
// nil for singular relations.
func (rs *resultSet) initEmbed(name string, cardinality planner.Cardinality) {
	for _, row := range rs.rows {
		if cardinality == planner.Collection {
			row[name] = []Row{}
		} else {
			row[name] = nil
		}
	}
}

// mergeEmbed attaches embed rows to their owning main row using the parent
// key column, which is removed from the embedded data.
func (rs *resultSet) mergeEmbed(name string, cardinality planner.Cardinality, rows []Row) {
	for _, embedded := range rows {
		parent, ok := embedded[planner.ParentKeyAlias]
		if !ok {
			continue
		}
		delete(embedded, planner.ParentKeyAlias)

		i, ok := rs.index[keyOf(parent)]
		if !ok {
			continue
		}
		owner := rs.rows[i]
		if cardinality == planner.Collection {
			list, _ := owner[name].([]Row)
			owner[name] = append(list, embedded)
		} else {
			owner[name] = embedded
		}
	}
}
