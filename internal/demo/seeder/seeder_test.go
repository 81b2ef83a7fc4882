package seeder

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSeedsDatabaseAndRegistersConnection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "demo.db")

	var (
		createdConn bool
		modelTables []string
		gotDSN      string
		gotConnType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/connections":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"connections":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/connections":
			createdConn = true
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "k1" {
				t.Errorf("X-API-Key = %q, want k1", apiKey)
			}
			var req connectionCreateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode create connection request: %v", err)
			}
			gotDSN = req.DSN
			gotConnType = req.Type
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"connection_id":7,"name":"demo-warehouse"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/connections/7/semantic-models":
			var req semanticModelRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode semantic model request: %v", err)
			}
			modelTables = append(modelTables, req.TableName)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"model_id":1,"table_name":"` + req.TableName + `"}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIBaseURL = server.URL
	cfg.APIKey = "k1"
	cfg.DatabasePath = dbPath
	cfg.Users = 10
	cfg.Products = 5
	cfg.Orders = 25
	cfg.Seed = 42

	svc, err := NewService(cfg, discardLogger(), server.Client())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !createdConn {
		t.Fatal("connection was not registered")
	}
	if gotConnType != "sqlite" {
		t.Fatalf("connection type = %q, want sqlite", gotConnType)
	}
	if gotDSN != dbPath {
		t.Fatalf("connection dsn = %q, want %q", gotDSN, dbPath)
	}
	wantTables := []string{"users", "products", "orders"}
	if len(modelTables) != len(wantTables) {
		t.Fatalf("semantic models applied = %v", modelTables)
	}
	for i, table := range wantTables {
		if modelTables[i] != table {
			t.Fatalf("semantic model %d = %q, want %q", i, modelTables[i], table)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open seeded database: %v", err)
	}
	defer func() { _ = db.Close() }()

	counts := map[string]int{"users": 10, "products": 5, "orders": 25}
	for table, want := range counts {
		var got int
		if err := db.QueryRow("SELECT count(*) FROM " + table).Scan(&got); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if got != want {
			t.Fatalf("%s rows = %d, want %d", table, got, want)
		}
	}

	var orphans int
	if err := db.QueryRow(`SELECT count(*) FROM orders o LEFT JOIN users u ON u.user_id = o.user_id WHERE u.user_id IS NULL`).Scan(&orphans); err != nil {
		t.Fatalf("count orphan orders: %v", err)
	}
	if orphans != 0 {
		t.Fatalf("orders with unknown user = %d, want 0", orphans)
	}
}

func TestRegisterConnectionReusesExisting(t *testing.T) {
	var postCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/connections":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"connections":[{"connection_id":3,"name":"demo-warehouse"}]}`))
		case r.Method == http.MethodPost:
			postCalls++
			w.WriteHeader(http.StatusCreated)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIBaseURL = server.URL

	svc, err := NewService(cfg, discardLogger(), server.Client())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	connectionID, err := svc.registerConnection(context.Background())
	if err != nil {
		t.Fatalf("registerConnection() error = %v", err)
	}
	if connectionID != 3 {
		t.Fatalf("connectionID = %d, want 3", connectionID)
	}
	if postCalls != 0 {
		t.Fatalf("postCalls = %d, want 0", postCalls)
	}
}

func TestRunReportsRegistrationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/connections":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"connections":[]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error_code":"METASTORE_ERROR","message":"failed"}`))
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIBaseURL = server.URL
	cfg.DatabasePath = filepath.Join(t.TempDir(), "demo.db")
	cfg.Users = 2
	cfg.Products = 2
	cfg.Orders = 2
	cfg.Seed = 1

	svc, err := NewService(cfg, discardLogger(), server.Client())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	err = svc.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Fatalf("error = %v, want status in message", err)
	}
}
