package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Column describes one table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
}

// Table describes one table.
type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
}

// ForeignKey is a single-column reference between two tables.
type ForeignKey struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// SchemaInfo is the introspected shape of the database.
type SchemaInfo struct {
	Tables      []Table      `json:"tables"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

// Introspect reads tables, columns, primary keys and foreign keys.
func (e *SQLExecutor) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, span := e.tracer.Start(ctx, "executor.Introspect")
	defer span.End()

	switch e.driver {
	case "sqlite", "sqlite3":
		return introspectSQLite(ctx, e.db)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, e.driver)
	}
}

func introspectSQLite(ctx context.Context, db *sql.DB) (*SchemaInfo, error) {
	names, err := sqliteTables(ctx, db)
	if err != nil {
		return nil, err
	}

	info := &SchemaInfo{Tables: []Table{}, ForeignKeys: []ForeignKey{}}
	for _, name := range names {
		table, err := sqliteTable(ctx, db, name)
		if err != nil {
			return nil, err
		}
		info.Tables = append(info.Tables, table)

		fks, err := sqliteForeignKeys(ctx, db, name)
		if err != nil {
			return nil, err
		}
		info.ForeignKeys = append(info.ForeignKeys, fks...)
	}
	return info, nil
}

func sqliteTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func sqliteTable(ctx context.Context, db *sql.DB, name string) (Table, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return Table{}, fmt.Errorf("table info %s: %w", name, err)
	}
	defer rows.Close()

	table := Table{Name: name, Columns: []Column{}, PrimaryKey: []string{}}
	type pkCol struct {
		pos  int
		name string
	}
	var pks []pkCol
	for rows.Next() {
		var (
			cid     int
			col     Column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return Table{}, fmt.Errorf("scan column of %s: %w", name, err)
		}
		col.Nullable = notNull == 0
		col.Default = dflt.String
		table.Columns = append(table.Columns, col)
		if pk > 0 {
			pks = append(pks, pkCol{pos: pk, name: col.Name})
		}
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}

	// pk holds the 1-based position within a composite key.
	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })
	for _, p := range pks {
		table.PrimaryKey = append(table.PrimaryKey, p.name)
	}
	return table, nil
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, name string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("foreign keys of %s: %w", name, err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var (
			id, seq                   int
			table, from               string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("scan foreign key of %s: %w", name, err)
		}
		fks = append(fks, ForeignKey{
			FromTable:  name,
			FromColumn: from,
			ToTable:    table,
			ToColumn:   to.String,
		})
	}
	return fks, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
