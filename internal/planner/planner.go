// Package planner turns declarative fetch descriptions into parameterized SQL.
// It resolves dotted relation paths, plans deduplicated joins, builds predicate
// trees from filters and assembles the data, count and embed queries.
package planner
