// Package schema introspects a target database's physical structure for
// display alongside the curated semantic context.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/sqlexec"
)

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type ForeignKey struct {
	Column         string `json:"column"`
	ReferredTable  string `json:"referred_table"`
	ReferredColumn string `json:"referred_column"`
}

// Table describes one physical table. RowCount is nil when the count
// query failed; introspection does not fail the whole listing for it.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	RowCount    *int64       `json:"row_count"`
}

type Inspector struct {
	open func(driverName, dsn string) (*sql.DB, error)
}

func NewInspector() *Inspector {
	return &Inspector{open: sql.Open}
}

// Inspect lists the connection's tables over a short-lived connection.
// Postgres and DuckDB are read through information_schema, SQLite
// through its pragma functions.
func (i *Inspector) Inspect(ctx context.Context, conn metastore.Connection) ([]Table, error) {
	driverName, ok := sqlexec.DriverName(conn.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported connection type %q", conn.Type)
	}

	db, err := i.open(driverName, conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	switch driverName {
	case "pgx":
		return inspectInformationSchema(ctx, db, "public", true)
	case "duckdb":
		return inspectInformationSchema(ctx, db, "main", false)
	default:
		return inspectSQLite(ctx, db)
	}
}

func inspectInformationSchema(ctx context.Context, db *sql.DB, schemaName string, withConstraints bool) ([]Table, error) {
	names, err := queryStrings(ctx, db, `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		table := Table{
			Name:        name,
			Columns:     make([]Column, 0),
			PrimaryKey:  make([]string, 0),
			ForeignKeys: make([]ForeignKey, 0),
		}

		rows, err := db.QueryContext(ctx, `
SELECT column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`, schemaName, name)
		if err != nil {
			return nil, fmt.Errorf("list columns for %q: %w", name, err)
		}
		for rows.Next() {
			var column Column
			var nullable string
			if err := rows.Scan(&column.Name, &column.Type, &nullable); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan column for %q: %w", name, err)
			}
			column.Nullable = strings.EqualFold(nullable, "YES")
			table.Columns = append(table.Columns, column)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("iterate columns for %q: %w", name, err)
		}
		_ = rows.Close()

		if withConstraints {
			if table.PrimaryKey, err = queryStrings(ctx, db, `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'PRIMARY KEY'
ORDER BY kcu.ordinal_position`, schemaName, name); err != nil {
				return nil, fmt.Errorf("list primary key for %q: %w", name, err)
			}

			fkRows, err := db.QueryContext(ctx, `
SELECT kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2 AND tc.constraint_type = 'FOREIGN KEY'`, schemaName, name)
			if err != nil {
				return nil, fmt.Errorf("list foreign keys for %q: %w", name, err)
			}
			for fkRows.Next() {
				var fk ForeignKey
				if err := fkRows.Scan(&fk.Column, &fk.ReferredTable, &fk.ReferredColumn); err != nil {
					_ = fkRows.Close()
					return nil, fmt.Errorf("scan foreign key for %q: %w", name, err)
				}
				table.ForeignKeys = append(table.ForeignKeys, fk)
			}
			if err := fkRows.Err(); err != nil {
				_ = fkRows.Close()
				return nil, fmt.Errorf("iterate foreign keys for %q: %w", name, err)
			}
			_ = fkRows.Close()
		}

		table.RowCount = countRows(ctx, db, name)
		tables = append(tables, table)
	}
	return tables, nil
}

func inspectSQLite(ctx context.Context, db *sql.DB) ([]Table, error) {
	names, err := queryStrings(ctx, db, `
SELECT name
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		table := Table{
			Name:        name,
			Columns:     make([]Column, 0),
			PrimaryKey:  make([]string, 0),
			ForeignKeys: make([]ForeignKey, 0),
		}

		rows, err := db.QueryContext(ctx, `
SELECT name, type, "notnull", pk
FROM pragma_table_info(?)
ORDER BY cid`, name)
		if err != nil {
			return nil, fmt.Errorf("table info for %q: %w", name, err)
		}
		for rows.Next() {
			var column Column
			var notNull, pk int
			if err := rows.Scan(&column.Name, &column.Type, &notNull, &pk); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan table info for %q: %w", name, err)
			}
			column.Nullable = notNull == 0
			table.Columns = append(table.Columns, column)
			if pk > 0 {
				table.PrimaryKey = append(table.PrimaryKey, column.Name)
			}
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("iterate table info for %q: %w", name, err)
		}
		_ = rows.Close()

		fkRows, err := db.QueryContext(ctx, `
SELECT "from", "table", "to"
FROM pragma_foreign_key_list(?)
ORDER BY id, seq`, name)
		if err != nil {
			return nil, fmt.Errorf("foreign key list for %q: %w", name, err)
		}
		for fkRows.Next() {
			var fk ForeignKey
			if err := fkRows.Scan(&fk.Column, &fk.ReferredTable, &fk.ReferredColumn); err != nil {
				_ = fkRows.Close()
				return nil, fmt.Errorf("scan foreign key for %q: %w", name, err)
			}
			table.ForeignKeys = append(table.ForeignKeys, fk)
		}
		if err := fkRows.Err(); err != nil {
			_ = fkRows.Close()
			return nil, fmt.Errorf("iterate foreign keys for %q: %w", name, err)
		}
		_ = fkRows.Close()

		table.RowCount = countRows(ctx, db, name)
		tables = append(tables, table)
	}
	return tables, nil
}

// countRows is best effort. A failed count leaves RowCount nil rather
// than failing introspection of the whole connection.
func countRows(ctx context.Context, db *sql.DB, table string) *int64 {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(table))
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return nil
	}
	return &count
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]string, 0)
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
