// Package sqlexec runs validated SELECT statements against a user's
// target database over a short-lived, single-use connection.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/sqlguard"
)

const DefaultMaxRows = 1000

// Result is what callers persist and render. Failure is a value; driver
// faults never escape as Go errors.
type Result struct {
	Success  bool             `json:"success"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Error    string           `json:"error,omitempty"`
}

var driverNames = map[string]string{
	"postgresql": "pgx",
	"postgres":   "pgx",
	"duckdb":     "duckdb",
	"sqlite":     "sqlite",
}

// DriverName maps a stored connection type to the registered driver.
func DriverName(connType string) (string, bool) {
	name, ok := driverNames[strings.ToLower(strings.TrimSpace(connType))]
	return name, ok
}

// Ping opens a short-lived connection to verify the target is reachable
// before its DSN is persisted.
func Ping(ctx context.Context, connType, dsn string) error {
	driverName, ok := DriverName(connType)
	if !ok {
		return fmt.Errorf("unsupported connection type %q", connType)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.PingContext(ctx)
}

type Executor struct {
	maxRows int
	open    func(driverName, dsn string) (*sql.DB, error)
}

func NewExecutor(maxRows int) *Executor {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Executor{maxRows: maxRows, open: sql.Open}
}

// Execute validates the statement, bounds its row count, and runs it
// against the connection's database. Validation failures and driver
// errors both come back as a failure Result without touching callers
// with a Go error.
func (e *Executor) Execute(ctx context.Context, conn metastore.Connection, sqlText string) Result {
	verdict := sqlguard.Validate(sqlText)
	if !verdict.Valid {
		return failure(verdict.Reason)
	}

	driverName, ok := DriverName(conn.Type)
	if !ok {
		return failure(fmt.Sprintf("unsupported connection type %q", conn.Type))
	}

	start := time.Now()
	result := e.run(ctx, driverName, conn.DSN, boundSQL(sqlText, e.maxRows))
	observability.ObserveExecution(result.Success, result.RowCount, time.Since(start))
	return result
}

func (e *Executor) run(ctx context.Context, driverName, dsn, sqlText string) Result {
	db, err := e.open(driverName, dsn)
	if err != nil {
		return failure(fmt.Sprintf("open connection: %v", err))
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return failure(err.Error())
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return failure(err.Error())
	}

	out := make([]map[string]any, 0)
	for len(out) < e.maxRows && rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return failure(err.Error())
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return failure(err.Error())
	}

	return Result{
		Success:  true,
		Columns:  columns,
		Rows:     out,
		RowCount: len(out),
	}
}

// boundSQL appends a LIMIT when the statement does not already declare
// one. The check is textual, matching the validator's level of dialect
// awareness. Trailing semicolons are stripped so the appended clause
// stays inside the statement.
func boundSQL(sqlText string, maxRows int) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	if !strings.Contains(strings.ToUpper(trimmed), "LIMIT") {
		return fmt.Sprintf("%s LIMIT %d", trimmed, maxRows)
	}
	return trimmed
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}

func failure(message string) Result {
	return Result{
		Columns: make([]string, 0),
		Rows:    make([]map[string]any, 0),
		Error:   message,
	}
}
