package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/schema"
)

type semanticModelRequest struct {
	TableName          string            `json:"table_name"`
	Description        string            `json:"business_description"`
	ColumnDescriptions map[string]string `json:"column_descriptions"`
	Relationships      []string          `json:"relationships"`
	Glossary           map[string]string `json:"business_glossary"`
	ExampleQueries     []string          `json:"example_queries"`
}

type generateContextRequest struct {
	TableName string `json:"table_name"`
}

func handleUpsertSemanticModel(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SEMANTIC_MODELS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	connectionID, err := pathID(r, "connection")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", err.Error(), false, nil)
		return
	}

	var req semanticModelRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid semantic model request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.TableName) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_NAME_REQUIRED", "table_name is required", false, nil)
		return
	}

	if _, err := deps.Repo.GetConnection(r.Context(), connectionID); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
		return
	}

	if req.ColumnDescriptions == nil {
		req.ColumnDescriptions = map[string]string{}
	}
	if req.Relationships == nil {
		req.Relationships = []string{}
	}
	if req.Glossary == nil {
		req.Glossary = map[string]string{}
	}
	if req.ExampleQueries == nil {
		req.ExampleQueries = []string{}
	}
	columnsJSON, _ := json.Marshal(req.ColumnDescriptions)
	relationshipsJSON, _ := json.Marshal(req.Relationships)
	glossaryJSON, _ := json.Marshal(req.Glossary)
	examplesJSON, _ := json.Marshal(req.ExampleQueries)

	model, err := deps.Repo.UpsertSemanticModel(r.Context(), metastore.UpsertSemanticModelInput{
		ConnectionID:           connectionID,
		TableName:              strings.TrimSpace(req.TableName),
		Description:            req.Description,
		ColumnDescriptionsJSON: columnsJSON,
		RelationshipsJSON:      relationshipsJSON,
		GlossaryJSON:           glossaryJSON,
		ExampleQueriesJSON:     examplesJSON,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to save semantic model", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, semanticModelView(model))
}

func handleListSemanticModels(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SEMANTIC_MODELS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	connectionID, err := pathID(r, "connection")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", err.Error(), false, nil)
		return
	}
	models, err := deps.Repo.ListSemanticModels(r.Context(), connectionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to list semantic models", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(models))
	for _, model := range models {
		items = append(items, semanticModelView(model))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": connectionID,
		"models":        items,
	})
}

func handleDeleteSemanticModel(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SEMANTIC_MODELS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	connectionID, err := pathID(r, "connection")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", err.Error(), false, nil)
		return
	}
	tableName := strings.TrimSpace(r.PathValue("table"))
	if tableName == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table path parameter is required", false, nil)
		return
	}
	deleted, err := deps.Repo.DeleteSemanticModel(r.Context(), connectionID, tableName)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to delete semantic model", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "SEMANTIC_MODEL_NOT_FOUND", "Semantic model not found", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "table_name": tableName})
}

func handleGenerateSemanticModel(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil || deps.Drafter == nil || deps.Inspector == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONTEXT_GENERATION_NOT_CONFIGURED", "context generation is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	connectionID, err := pathID(r, "connection")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", err.Error(), false, nil)
		return
	}

	var req generateContextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid generate context request body", false, map[string]any{"details": err.Error()})
		return
	}
	tableName := strings.TrimSpace(req.TableName)
	if tableName == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_NAME_REQUIRED", "table_name is required", false, nil)
		return
	}

	conn, err := deps.Repo.GetConnection(r.Context(), connectionID)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
		return
	}

	tables, err := deps.Inspector.Inspect(r.Context(), conn)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", fmt.Sprintf("Metadata extraction failed: %v", err), true, nil)
		return
	}
	var table schema.Table
	found := false
	for _, candidate := range tables {
		if candidate.Name == tableName {
			table = candidate
			found = true
			break
		}
	}
	if !found {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", fmt.Sprintf("table %q was not found on the connection", tableName), false, nil)
		return
	}

	draft, err := deps.Drafter.Describe(r.Context(), conn, table)
	if err != nil {
		var genErr *llm.GenerationError
		switch {
		case errors.Is(err, metastore.ErrNotFound):
			writeError(r.Context(), w, http.StatusBadRequest, "LLM_CONFIG_MISSING", "No active LLM configuration found. Please configure an LLM provider first.", false, nil)
		case errors.As(err, &genErr):
			writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", fmt.Sprintf("Failed to generate context: %v", err), true, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "CONTEXT_GENERATION_FAILED", fmt.Sprintf("Failed to generate context: %v", err), true, nil)
		}
		return
	}

	columnsJSON, _ := json.Marshal(draft.ColumnDescriptions)
	relationshipsJSON, _ := json.Marshal(draft.Relationships)
	glossaryJSON, _ := json.Marshal(draft.Glossary)
	examplesJSON, _ := json.Marshal(draft.ExampleQueries)
	model, err := deps.Repo.UpsertSemanticModel(r.Context(), metastore.UpsertSemanticModelInput{
		ConnectionID:           connectionID,
		TableName:              draft.TableName,
		Description:            draft.Description,
		ColumnDescriptionsJSON: columnsJSON,
		RelationshipsJSON:      relationshipsJSON,
		GlossaryJSON:           glossaryJSON,
		ExampleQueriesJSON:     examplesJSON,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to save generated context", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Context generated successfully",
		"model_id": model.ModelID,
		"context":  draft,
	})
}

func semanticModelView(model metastore.SemanticModel) map[string]any {
	return map[string]any{
		"model_id":             model.ModelID,
		"connection_id":        model.ConnectionID,
		"table_name":           model.TableName,
		"business_description": model.Description,
		"column_descriptions":  rawOrNull(model.ColumnDescriptionsJSON),
		"relationships":        rawOrNull(model.RelationshipsJSON),
		"business_glossary":    rawOrNull(model.GlossaryJSON),
		"example_queries":      rawOrNull(model.ExampleQueriesJSON),
		"created_at":           model.CreatedAt,
		"updated_at":           model.UpdatedAt,
	}
}

func rawOrNull(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(raw)
}
