package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/askdb/askdb/internal/metastore"
)

func newMockExecutor(t *testing.T, maxRows int) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	executor := NewExecutor(maxRows)
	executor.open = func(string, string) (*sql.DB, error) { return db, nil }
	return executor, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func pgConn() metastore.Connection {
	return metastore.Connection{ConnectionID: 1, Name: "warehouse", Type: "postgresql", DSN: "postgres://app@db/warehouse"}
}

func TestExecuteAppendsLimit(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM customers LIMIT 1000")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("acme").AddRow("globex"))

	result := executor.Execute(context.Background(), pgConn(), "SELECT name FROM customers;")
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("Execute() row_count = %d, rows = %d", result.RowCount, len(result.Rows))
	}
	if result.Rows[0]["name"] != "acme" {
		t.Fatalf("Execute() rows[0] = %v", result.Rows[0])
	}
	assertSQLMock(t, mock)
}

func TestExecuteKeepsDeclaredLimit(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM customers LIMIT 5")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("acme"))

	result := executor.Execute(context.Background(), pgConn(), "SELECT name FROM customers LIMIT 5")
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	assertSQLMock(t, mock)
}

func TestExecuteCapsRowsAtMax(t *testing.T) {
	executor, mock := newMockExecutor(t, 2)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM events LIMIT 50")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3)))

	result := executor.Execute(context.Background(), pgConn(), "SELECT id FROM events LIMIT 50")
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("Execute() returned %d rows, want cap of 2", result.RowCount)
	}
}

func TestExecuteInvalidSQLNeverOpensConnection(t *testing.T) {
	executor := NewExecutor(1000)
	executor.open = func(string, string) (*sql.DB, error) {
		t.Fatal("open called for invalid SQL")
		return nil, nil
	}

	result := executor.Execute(context.Background(), pgConn(), "DELETE FROM users")
	if result.Success {
		t.Fatal("Execute() accepted a non-SELECT statement")
	}
	if result.Error != "Only SELECT queries are allowed" {
		t.Fatalf("Execute() error = %q", result.Error)
	}
	if result.Rows == nil || result.Columns == nil {
		t.Fatal("failure result must carry empty, non-nil columns and rows")
	}
}

func TestExecuteDriverErrorBecomesFailure(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT name FROM missing LIMIT 1000")).
		WillReturnError(errors.New(`relation "missing" does not exist`))

	result := executor.Execute(context.Background(), pgConn(), "SELECT name FROM missing")
	if result.Success {
		t.Fatal("Execute() reported success for a driver error")
	}
	if !strings.Contains(result.Error, "does not exist") {
		t.Fatalf("Execute() error = %q", result.Error)
	}
	assertSQLMock(t, mock)
}

func TestExecuteUnsupportedConnectionType(t *testing.T) {
	executor := NewExecutor(1000)
	executor.open = func(string, string) (*sql.DB, error) {
		t.Fatal("open called for unsupported connection type")
		return nil, nil
	}

	conn := metastore.Connection{ConnectionID: 2, Type: "mongodb", DSN: "mongodb://x"}
	result := executor.Execute(context.Background(), conn, "SELECT 1")
	if result.Success {
		t.Fatal("Execute() accepted an unsupported connection type")
	}
	if !strings.Contains(result.Error, "unsupported connection type") {
		t.Fatalf("Execute() error = %q", result.Error)
	}
}

func TestExecuteNormalizesByteColumns(t *testing.T) {
	executor, mock := newMockExecutor(t, 1000)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT note FROM audit LIMIT 1000")).
		WillReturnRows(sqlmock.NewRows([]string{"note"}).AddRow([]byte("raw bytes")))

	result := executor.Execute(context.Background(), pgConn(), "SELECT note FROM audit")
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if got, ok := result.Rows[0]["note"].(string); !ok || got != "raw bytes" {
		t.Fatalf("Execute() note = %#v, want string", result.Rows[0]["note"])
	}
	assertSQLMock(t, mock)
}

func TestBoundSQL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1 LIMIT 100"},
		{"SELECT 1;", "SELECT 1 LIMIT 100"},
		{"SELECT 1 LIMIT 5", "SELECT 1 LIMIT 5"},
		{"select 1 limit 5", "select 1 limit 5"},
		{"SELECT 1;;  ", "SELECT 1 LIMIT 100"},
	}
	for _, tt := range tests {
		if got := boundSQL(tt.in, 100); got != tt.want {
			t.Errorf("boundSQL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
