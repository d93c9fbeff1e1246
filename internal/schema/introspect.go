package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"omnifetch/internal/naming"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Queryer is the subset of *sql.DB used for introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type foreignKeyRow struct {
	table            string
	column           string
	referencedTable  string
	referencedColumn string
	constraintName   string
	ordinalPosition  int
}

type foreignKey struct {
	constraintName    string
	table             string
	referencedTable   string
	columns           []string
	referencedColumns []string
}

type tableMeta struct {
	name        string
	columns     []string
	primaryKey  []string
	foreignKeys []foreignKey
}

// Introspect builds a catalogue from MySQL/TiDB information_schema. Each base
// table becomes an entity; each foreign key yields a singular relation on the
// referencing entity and a collection relation on the referenced one.
func Introspect(ctx context.Context, db Queryer, databaseName string, namer *naming.Namer) (*Catalog, error) {
	ctx, span := startSpan(ctx, "schema.introspect", attribute.String("db.name", databaseName))
	defer span.End()

	if namer == nil {
		namer = naming.Default()
	}
	namer.Reset()

	tables, err := loadTables(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	entities := buildEntities(tables, namer)
	span.SetAttributes(attribute.Int("schema.entities", len(entities)))

	catalog, err := NewCatalog(entities)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return catalog, nil
}

func loadTables(ctx context.Context, db Queryer, databaseName string) ([]*tableMeta, error) {
	names, err := queryStrings(ctx, db, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`, databaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	byName := make(map[string]*tableMeta, len(names))
	tables := make([]*tableMeta, 0, len(names))
	for _, name := range names {
		t := &tableMeta{name: name}
		byName[name] = t
		tables = append(tables, t)
	}

	columns, err := queryPairs(ctx, db, `
		SELECT TABLE_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`, databaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	for _, pair := range columns {
		if t, ok := byName[pair[0]]; ok {
			t.columns = append(t.columns, pair[1])
		}
	}

	primaryKeys, err := queryPairs(ctx, db, `
		SELECT TABLE_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION
	`, databaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}
	for _, pair := range primaryKeys {
		if t, ok := byName[pair[0]]; ok {
			t.primaryKey = append(t.primaryKey, pair[1])
		}
	}

	fkRows, err := getForeignKeys(ctx, db, databaseName)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	for _, fk := range groupForeignKeys(fkRows) {
		t, ok := byName[fk.table]
		if !ok {
			continue
		}
		if _, ok := byName[fk.referencedTable]; !ok {
			continue
		}
		t.foreignKeys = append(t.foreignKeys, fk)
	}
	return tables, nil
}

func getForeignKeys(ctx context.Context, db Queryer, databaseName string) ([]foreignKeyRow, error) {
	ctx, span := startSpan(ctx, "schema.get_foreign_keys", attribute.String("db.name", databaseName))
	defer span.End()

	query := `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME,
			CONSTRAINT_NAME,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var fks []foreignKeyRow
	for rows.Next() {
		var fk foreignKeyRow
		if err := rows.Scan(&fk.table, &fk.column, &fk.referencedTable,
			&fk.referencedColumn, &fk.constraintName, &fk.ordinalPosition); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		fks = append(fks, fk)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return fks, nil
}

// groupForeignKeys folds per-column KEY_COLUMN_USAGE rows into constraints,
// ordered by table then constraint name.
func groupForeignKeys(rows []foreignKeyRow) []foreignKey {
	sorted := append([]foreignKeyRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].table != sorted[j].table {
			return sorted[i].table < sorted[j].table
		}
		if sorted[i].constraintName != sorted[j].constraintName {
			return sorted[i].constraintName < sorted[j].constraintName
		}
		return sorted[i].ordinalPosition < sorted[j].ordinalPosition
	})

	var out []foreignKey
	for _, row := range sorted {
		n := len(out)
		if n == 0 || out[n-1].table != row.table || out[n-1].constraintName != row.constraintName {
			out = append(out, foreignKey{
				constraintName:  row.constraintName,
				table:           row.table,
				referencedTable: row.referencedTable,
			})
			n++
		}
		out[n-1].columns = append(out[n-1].columns, row.column)
		out[n-1].referencedColumns = append(out[n-1].referencedColumns, row.referencedColumn)
	}
	return out
}

func buildEntities(tables []*tableMeta, namer *naming.Namer) []Entity {
	entityNames := make(map[string]string, len(tables))
	entities := make([]Entity, len(tables))
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		name := namer.RegisterEntity(t.name)
		entityNames[t.name] = name
		index[t.name] = i
		for _, col := range t.columns {
			namer.RegisterColumn(name, col)
		}
		entities[i] = Entity{Name: name, Source: t.name}
		if len(t.primaryKey) == 1 {
			entities[i].PrimaryKey = t.primaryKey[0]
		}
	}

	for _, t := range tables {
		targets := make(map[string]int)
		for _, fk := range t.foreignKeys {
			targets[fk.referencedTable]++
		}

		owner := entityNames[t.name]
		for _, fk := range t.foreignKeys {
			target := entityNames[fk.referencedTable]
			source := "fk:" + fk.constraintName

			singular := namer.RegisterRelation(owner, namer.SingularRelationName(fk.columns), source)
			entities[index[t.name]].Relations = append(entities[index[t.name]].Relations, Relation{
				Name:             singular,
				Entity:           target,
				Fields:           fk.columns,
				ReferencedFields: fk.referencedColumns,
				Cardinality:      "singular",
			})

			collectionName := namer.CollectionRelationName(t.name, fk.columns, targets[fk.referencedTable] == 1)
			collection := namer.RegisterRelation(target, collectionName, source)
			entities[index[fk.referencedTable]].Relations = append(entities[index[fk.referencedTable]].Relations, Relation{
				Name:             collection,
				Entity:           owner,
				Fields:           fk.referencedColumns,
				ReferencedFields: fk.columns,
				Cardinality:      "collection",
			})
		}
	}
	return entities
}

func queryStrings(ctx context.Context, db Queryer, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

func queryPairs(ctx context.Context, db Queryer, query string, args ...any) ([][2]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out [][2]string
	for rows.Next() {
		var pair [2]string
		if err := rows.Scan(&pair[0], &pair[1]); err != nil {
			return nil, err
		}
		out = append(out, pair)
	}
	return out, rows.Err()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("omnifetch/schema")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
