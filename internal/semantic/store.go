// Package semantic assembles the curated business context for a connection
// into the shape the prompt builder consumes.
package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/askdb/askdb/internal/metastore"
)

// TableContext is the decoded semantic model for one table.
type TableContext struct {
	Description        string            `json:"business_description"`
	ColumnDescriptions map[string]string `json:"column_descriptions"`
	Relationships      []string          `json:"relationships"`
	Glossary           map[string]string `json:"business_glossary"`
	ExampleQueries     []string          `json:"example_queries"`
}

// ConnectionContext is everything known about a connection's schema
// semantics. Tables is empty, never nil, when nothing is curated yet.
type ConnectionContext struct {
	ConnectionID   int64                   `json:"connection_id"`
	ConnectionName string                  `json:"connection_name"`
	ConnectionType string                  `json:"connection_type"`
	Tables         map[string]TableContext `json:"tables"`
}

// HasModels reports whether any table context has been curated.
func (c ConnectionContext) HasModels() bool {
	return len(c.Tables) > 0
}

// Metastore is the slice of the repository the store reads from.
type Metastore interface {
	GetConnection(ctx context.Context, connectionID int64) (metastore.Connection, error)
	ListSemanticModels(ctx context.Context, connectionID int64) ([]metastore.SemanticModel, error)
}

type Store struct {
	repo Metastore
}

func NewStore(repo Metastore) *Store {
	return &Store{repo: repo}
}

// Context loads the semantic context for a connection. An unknown
// connection or one without semantic models yields an empty context, not
// an error; only storage and decoding failures propagate.
func (s *Store) Context(ctx context.Context, connectionID int64) (ConnectionContext, error) {
	out := ConnectionContext{
		ConnectionID: connectionID,
		Tables:       map[string]TableContext{},
	}

	conn, err := s.repo.GetConnection(ctx, connectionID)
	if errors.Is(err, metastore.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return ConnectionContext{}, fmt.Errorf("load connection %d: %w", connectionID, err)
	}
	out.ConnectionName = conn.Name
	out.ConnectionType = conn.Type

	models, err := s.repo.ListSemanticModels(ctx, connectionID)
	if err != nil {
		return ConnectionContext{}, fmt.Errorf("list semantic models for connection %d: %w", connectionID, err)
	}
	for _, model := range models {
		table, err := decodeTableContext(model)
		if err != nil {
			return ConnectionContext{}, fmt.Errorf("decode semantic model for table %q: %w", model.TableName, err)
		}
		out.Tables[model.TableName] = table
	}
	return out, nil
}

func decodeTableContext(model metastore.SemanticModel) (TableContext, error) {
	table := TableContext{Description: model.Description}
	if err := decodeJSON(model.ColumnDescriptionsJSON, &table.ColumnDescriptions); err != nil {
		return TableContext{}, fmt.Errorf("column descriptions: %w", err)
	}
	if err := decodeJSON(model.RelationshipsJSON, &table.Relationships); err != nil {
		return TableContext{}, fmt.Errorf("relationships: %w", err)
	}
	if err := decodeJSON(model.GlossaryJSON, &table.Glossary); err != nil {
		return TableContext{}, fmt.Errorf("business glossary: %w", err)
	}
	if err := decodeJSON(model.ExampleQueriesJSON, &table.ExampleQueries); err != nil {
		return TableContext{}, fmt.Errorf("example queries: %w", err)
	}
	return table, nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
