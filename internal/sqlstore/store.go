// Package sqlstore runs planned fetch queries against a SQL database.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"omnifetch/internal/dbexec"
	"omnifetch/internal/fetch"
	"omnifetch/internal/logging"
	"omnifetch/internal/planner"
	"omnifetch/internal/schema"

	"github.com/go-sql-driver/mysql"
)

// ErrAccessDenied is returned when the database rejects a query for lack of
// privileges.
var ErrAccessDenied = errors.New("access denied")

const (
	mysqlErrDBAccessDenied     = 1044
	mysqlErrTableAccessDenied  = 1142
	mysqlErrColumnAccessDenied = 1143
)

var _ fetch.Store = (*Store)(nil)

// Store renders planned queries for one dialect, runs them and scans the
// rows into maps keyed by column name.
type Store struct {
	executor dbexec.QueryExecutor
	catalog  *schema.Catalog
	dialect  planner.Dialect
}

// New creates a Store. Entity tables and relations come from catalog.
func New(executor dbexec.QueryExecutor, catalog *schema.Catalog, dialect planner.Dialect) *Store {
	return &Store{
		executor: executor,
		catalog:  catalog,
		dialect:  dialect,
	}
}

// ResolveRelation implements planner.RelationResolver.
func (s *Store) ResolveRelation(ctx context.Context, from, to string) (planner.Relation, error) {
	return s.catalog.ResolveRelation(ctx, from, to)
}

// Query runs a data or embed query.
func (s *Store) Query(ctx context.Context, q planner.Query) ([]map[string]any, error) {
	if err := s.checkEntity(q.Entity); err != nil {
		return nil, err
	}
	rendered, err := q.ToSQL(s.catalog.Source, s.dialect)
	if err != nil {
		return nil, fmt.Errorf("render query: %w", err)
	}
	logging.FromContext(ctx).Debug("running query",
		slog.String("entity", q.Entity),
		slog.String("sql", rendered.SQL),
		slog.Int("args", len(rendered.Args)),
	)

	rows, err := s.executor.QueryContext(ctx, rendered.SQL, rendered.Args...)
	if err != nil {
		return nil, normalizeQueryError(err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, normalizeQueryError(err)
	}
	return results, nil
}

// Count runs a count query.
func (s *Store) Count(ctx context.Context, q planner.CountQuery) (int64, error) {
	if err := s.checkEntity(q.Entity); err != nil {
		return 0, err
	}
	rendered, err := q.ToSQL(s.catalog.Source, s.dialect)
	if err != nil {
		return 0, fmt.Errorf("render count: %w", err)
	}
	logging.FromContext(ctx).Debug("running count",
		slog.String("entity", q.Entity),
		slog.String("sql", rendered.SQL),
	)

	rows, err := s.executor.QueryContext(ctx, rendered.SQL, rendered.Args...)
	if err != nil {
		return 0, normalizeQueryError(err)
	}
	defer rows.Close()

	var total int64
	if rows.Next() {
		if err := rows.Scan(&total); err != nil {
			return 0, normalizeQueryError(err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, normalizeQueryError(err)
	}
	return total, nil
}

func (s *Store) checkEntity(entity string) error {
	if _, ok := s.catalog.Entity(entity); !ok {
		return fmt.Errorf("%s: %w", entity, schema.ErrUnknownEntity)
	}
	return nil
}

func normalizeQueryError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDBAccessDenied, mysqlErrTableAccessDenied, mysqlErrColumnAccessDenied:
			return fmt.Errorf("%w: %s", ErrAccessDenied, mysqlErr.Message)
		}
	}
	return err
}

// scanRows reads every row into a map keyed by the result column names.
// Duplicate column names keep the last value.
func scanRows(rows dbexec.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func convertValue(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
