package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/askdb/askdb/internal/metastore"
)

type fakeMetastore struct {
	conn      metastore.Connection
	connErr   error
	models    []metastore.SemanticModel
	modelsErr error
}

func (f *fakeMetastore) GetConnection(ctx context.Context, connectionID int64) (metastore.Connection, error) {
	if f.connErr != nil {
		return metastore.Connection{}, f.connErr
	}
	return f.conn, nil
}

func (f *fakeMetastore) ListSemanticModels(ctx context.Context, connectionID int64) ([]metastore.SemanticModel, error) {
	if f.modelsErr != nil {
		return nil, f.modelsErr
	}
	return f.models, nil
}

func TestContextAssemblesTables(t *testing.T) {
	store := NewStore(&fakeMetastore{
		conn: metastore.Connection{ConnectionID: 3, Name: "warehouse", Type: "postgresql"},
		models: []metastore.SemanticModel{
			{
				ConnectionID:           3,
				TableName:              "users",
				Description:            "Registered users",
				ColumnDescriptionsJSON: []byte(`{"id":"primary key","signup_date":"date of registration"}`),
				RelationshipsJSON:      []byte(`["users.id = orders.user_id"]`),
				GlossaryJSON:           []byte(`{"active user":"logged in within 30 days"}`),
				ExampleQueriesJSON:     []byte(`["SELECT COUNT(*) FROM users"]`),
			},
			{
				ConnectionID: 3,
				TableName:    "orders",
				Description:  "Customer orders",
			},
		},
	})

	got, err := store.Context(context.Background(), 3)
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if got.ConnectionName != "warehouse" || got.ConnectionType != "postgresql" {
		t.Fatalf("connection identity = %q/%q", got.ConnectionName, got.ConnectionType)
	}
	if len(got.Tables) != 2 {
		t.Fatalf("table count = %d, want 2", len(got.Tables))
	}
	users := got.Tables["users"]
	if users.ColumnDescriptions["id"] != "primary key" {
		t.Fatalf("users column descriptions = %#v", users.ColumnDescriptions)
	}
	if len(users.Relationships) != 1 || users.Relationships[0] != "users.id = orders.user_id" {
		t.Fatalf("users relationships = %#v", users.Relationships)
	}
	if got.Tables["orders"].Description != "Customer orders" {
		t.Fatalf("orders description = %q", got.Tables["orders"].Description)
	}
	if !got.HasModels() {
		t.Fatal("HasModels() = false, want true")
	}
}

func TestContextUnknownConnectionIsEmptyNotError(t *testing.T) {
	store := NewStore(&fakeMetastore{connErr: metastore.ErrNotFound})

	got, err := store.Context(context.Background(), 99)
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if got.ConnectionID != 99 {
		t.Fatalf("ConnectionID = %d", got.ConnectionID)
	}
	if got.Tables == nil || len(got.Tables) != 0 {
		t.Fatalf("Tables = %#v, want empty map", got.Tables)
	}
	if got.HasModels() {
		t.Fatal("HasModels() = true for empty context")
	}
}

func TestContextNoModelsIsEmptyTables(t *testing.T) {
	store := NewStore(&fakeMetastore{
		conn: metastore.Connection{ConnectionID: 4, Name: "empty", Type: "sqlite"},
	})

	got, err := store.Context(context.Background(), 4)
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if len(got.Tables) != 0 {
		t.Fatalf("Tables = %#v, want empty", got.Tables)
	}
	if got.ConnectionName != "empty" {
		t.Fatalf("ConnectionName = %q", got.ConnectionName)
	}
}

func TestContextIsIdempotent(t *testing.T) {
	store := NewStore(&fakeMetastore{
		conn: metastore.Connection{ConnectionID: 3, Name: "warehouse", Type: "postgresql"},
		models: []metastore.SemanticModel{
			{ConnectionID: 3, TableName: "users", Description: "Registered users"},
		},
	})

	first, err := store.Context(context.Background(), 3)
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	second, err := store.Context(context.Background(), 3)
	if err != nil {
		t.Fatalf("Context() second call error = %v", err)
	}
	if len(first.Tables) != len(second.Tables) || first.ConnectionName != second.ConnectionName {
		t.Fatalf("repeated calls differ: %#v vs %#v", first, second)
	}
}

func TestContextPropagatesStorageErrors(t *testing.T) {
	wantErr := errors.New("connection refused")
	store := NewStore(&fakeMetastore{
		conn:      metastore.Connection{ConnectionID: 3, Name: "warehouse"},
		modelsErr: wantErr,
	})

	_, err := store.Context(context.Background(), 3)
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want wrapped %v", err, wantErr)
	}
}

func TestContextRejectsMalformedModelJSON(t *testing.T) {
	store := NewStore(&fakeMetastore{
		conn: metastore.Connection{ConnectionID: 3, Name: "warehouse"},
		models: []metastore.SemanticModel{
			{ConnectionID: 3, TableName: "users", ColumnDescriptionsJSON: []byte(`{broken`)},
		},
	})

	_, err := store.Context(context.Background(), 3)
	if err == nil {
		t.Fatal("expected decode error")
	}
}
