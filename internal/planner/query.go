package planner

import (
	"context"
	"fmt"
	"strings"

	"omnifetch/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// ParentKeyAlias is the column alias carrying the main entity's primary key in
// embed sub-query rows.
const ParentKeyAlias = "__fetch_parent_key"

// SQLQuery holds a SQL statement and its bound arguments.
type SQLQuery struct {
	SQL  string
	Args []any
}

// SourceLookup maps an entity name to the table (or view) backing it.
// Returning "" means the entity name is the table name.
type SourceLookup func(entity string) string

// Column is one selected column. Name "*" selects every column of Qualifier.
type Column struct {
	Qualifier string
	Name      string
	Alias     string
}

func (c Column) sql() string {
	expr := sqlutil.QuoteQualified(c.Qualifier, c.Name)
	if c.Alias == "" {
		return expr
	}
	return expr + " AS " + sqlutil.QuoteIdentifier(c.Alias)
}

// Query is a planned data or embed query. The main entity is aliased by its
// own name and each join by its hop alias. A zero Limit means unlimited.
type Query struct {
	Entity   string
	Columns  []Column
	Joins    []Join
	Where    Predicate
	Limit    uint64
	Offset   uint64
	OrderBy  string
	Distinct bool
}

// CountQuery counts the main rows matched by Joins and Where. DistinctKey,
// when set, counts distinct values of that main entity column instead of rows.
type CountQuery struct {
	Entity      string
	Joins       []Join
	Where       Predicate
	DistinctKey string
}

// Request describes a main query: the entity, its filters and paging window.
type Request struct {
	Entity string
	// PrimaryKey is used to count distinct main rows when a filter crosses a
	// collection relation.
	PrimaryKey string
	Filters    []Filter
	Limit      uint64
	Offset     uint64
	OrderBy    string
}

// PlanData plans the main data query. Only filter paths are joined; embeds are
// fetched by separate sub-queries. Filtering through a collection relation
// selects distinct main rows.
func PlanData(ctx context.Context, resolver RelationResolver, req Request) (Query, error) {
	state, err := planFilters(ctx, resolver, req.Entity, req.Filters)
	if err != nil {
		return Query{}, err
	}
	return Query{
		Entity:   req.Entity,
		Columns:  []Column{{Qualifier: req.Entity, Name: "*"}},
		Joins:    state.plan.Joins,
		Where:    state.where,
		Limit:    req.Limit,
		Offset:   req.Offset,
		OrderBy:  req.OrderBy,
		Distinct: state.plan.CrossesCollection,
	}, nil
}

// PlanCount plans the count query matching PlanData for the same request,
// without paging or ordering.
func PlanCount(ctx context.Context, resolver RelationResolver, req Request) (CountQuery, error) {
	state, err := planFilters(ctx, resolver, req.Entity, req.Filters)
	if err != nil {
		return CountQuery{}, err
	}
	count := CountQuery{
		Entity: req.Entity,
		Joins:  state.plan.Joins,
		Where:  state.where,
	}
	if state.plan.CrossesCollection {
		count.DistinctKey = req.PrimaryKey
	}
	return count, nil
}

type filterState struct {
	*buildState
	where Predicate
}

func planFilters(ctx context.Context, resolver RelationResolver, entity string, filters []Filter) (filterState, error) {
	state := newBuildState(ctx, resolver, entity)
	for _, f := range filters {
		if !f.Valid() {
			continue
		}
		if err := state.addPath(f.Path()); err != nil {
			return filterState{}, err
		}
	}
	return filterState{buildState: state, where: state.predicate(filters)}, nil
}

// PlanEmbed plans the sub-query for one embed: the main primary key (aliased
// ParentKeyAlias) plus every column of the innermost entity of hops, joined
// along the whole chain and restricted to keys.
func PlanEmbed(ctx context.Context, resolver RelationResolver, entity, primaryKey string, hops []string, keys []any) (Query, error) {
	if len(hops) == 0 {
		return Query{}, fmt.Errorf("empty embed path: %w", ErrRelationNotFound)
	}
	state := newBuildState(ctx, resolver, entity)
	if err := state.addPath(hops); err != nil {
		return Query{}, err
	}
	if len(state.plan.Joins) != len(hops) {
		return Query{}, fmt.Errorf("embed %s on %s: %w", strings.Join(hops, "."), entity, ErrRelationNotFound)
	}

	innermost := hops[len(hops)-1]
	where := &Comparison{
		Qualifier:  entity,
		Column:     primaryKey,
		Comparator: CmpEq,
		Param:      state.nextParam(),
		Value:      List(keys...),
	}
	return Query{
		Entity: entity,
		Columns: []Column{
			{Qualifier: entity, Name: primaryKey, Alias: ParentKeyAlias},
			{Qualifier: innermost, Name: "*"},
		},
		Joins: state.plan.Joins,
		Where: where,
	}, nil
}

func fromClause(lookup SourceLookup, entity, alias string) string {
	source := entity
	if lookup != nil {
		if s := lookup(entity); s != "" {
			source = s
		}
	}
	return sqlutil.QuoteIdentifier(source) + " AS " + sqlutil.QuoteIdentifier(alias)
}

func joinClauses(builder sq.SelectBuilder, lookup SourceLookup, joins []Join) sq.SelectBuilder {
	for _, j := range joins {
		builder = builder.Join(fromClause(lookup, j.Entity, j.Alias) + " ON " + j.conditionSQL())
	}
	return builder
}

// ToSQL renders the query for the given dialect.
func (q Query) ToSQL(lookup SourceLookup, dialect Dialect) (SQLQuery, error) {
	if len(q.Columns) == 0 {
		return SQLQuery{}, fmt.Errorf("query on %s selects no columns", q.Entity)
	}
	columns := make([]string, len(q.Columns))
	for i, col := range q.Columns {
		columns[i] = col.sql()
	}

	builder := sq.Select(columns...).From(fromClause(lookup, q.Entity, q.Entity))
	if q.Distinct {
		builder = builder.Distinct()
	}
	builder = joinClauses(builder, lookup, q.Joins)
	if q.Where != nil {
		builder = builder.Where(Sqlizer(q.Where, dialect))
	}
	if q.OrderBy != "" {
		builder = builder.OrderBy(q.OrderBy)
	}
	if q.Limit > 0 {
		builder = builder.Limit(q.Limit).Offset(q.Offset)
	}

	sqlStr, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, fmt.Errorf("render query on %s: %w", q.Entity, err)
	}
	return SQLQuery{SQL: sqlStr, Args: args}, nil
}

// ToSQL renders the count query for the given dialect.
func (q CountQuery) ToSQL(lookup SourceLookup, dialect Dialect) (SQLQuery, error) {
	countExpr := "COUNT(1)"
	if q.DistinctKey != "" {
		countExpr = "COUNT(DISTINCT " + sqlutil.QuoteQualified(q.Entity, q.DistinctKey) + ")"
	}

	builder := sq.Select(countExpr).From(fromClause(lookup, q.Entity, q.Entity))
	builder = joinClauses(builder, lookup, q.Joins)
	if q.Where != nil {
		builder = builder.Where(Sqlizer(q.Where, dialect))
	}

	sqlStr, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, fmt.Errorf("render count on %s: %w", q.Entity, err)
	}
	return SQLQuery{SQL: sqlStr, Args: args}, nil
}
