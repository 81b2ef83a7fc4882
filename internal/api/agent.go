package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/agent"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/metastore"
)

type chatRequest struct {
	Query        string `json:"query"`
	ConnectionID int64  `json:"connection_id"`
	SessionID    int64  `json:"session_id"`
	ExecuteSQL   *bool  `json:"execute_sql"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil || deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req chatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	if req.ConnectionID <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_ID_REQUIRED", "connection_id is required", false, nil)
		return
	}

	var session metastore.Session
	var err error
	if req.SessionID > 0 {
		session, err = deps.Repo.GetSession(r.Context(), req.SessionID)
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", false, nil)
			return
		}
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load session", true, map[string]any{"details": err.Error()})
			return
		}
	} else {
		connectionID := req.ConnectionID
		session, err = deps.Repo.CreateSession(r.Context(), metastore.CreateSessionInput{
			Name:         "Chat " + time.Now().Format("2006-01-02 15:04"),
			ConnectionID: &connectionID,
		})
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to create session", true, map[string]any{"details": err.Error()})
			return
		}
	}

	if _, err := deps.Repo.GetConnection(r.Context(), req.ConnectionID); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
		return
	}

	if _, err := deps.Repo.GetActiveLLMConfig(r.Context()); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(r.Context(), w, http.StatusBadRequest, "LLM_CONFIG_MISSING", "No active LLM configuration. Please configure an LLM provider in settings.", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load llm configuration", true, map[string]any{"details": err.Error()})
		return
	}

	execute := req.ExecuteSQL == nil || *req.ExecuteSQL
	resp := deps.Agent.Run(r.Context(), agent.Request{
		Question:     req.Query,
		ConnectionID: req.ConnectionID,
		SessionID:    session.SessionID,
		Execute:      execute,
	})
	tablesUsed := resp.TablesUsed
	if tablesUsed == nil {
		tablesUsed = []string{}
	}

	if _, err := deps.Repo.CreateMessage(r.Context(), metastore.CreateMessageInput{
		SessionID: session.SessionID,
		Role:      metastore.RoleUser,
		Content:   req.Query,
	}); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to persist user message", true, map[string]any{"details": err.Error()})
		return
	}

	metadata, _ := json.Marshal(map[string]any{
		"sql":          resp.SQL,
		"explanation":  resp.Explanation,
		"tables_used":  tablesUsed,
		"execution":    resp.Execution,
		"chart_config": resp.ChartConfig,
		"trace":        resp.Trace,
	})
	assistant, err := deps.Repo.CreateMessage(r.Context(), metastore.CreateMessageInput{
		SessionID:    session.SessionID,
		Role:         metastore.RoleAssistant,
		Content:      resp.Explanation,
		MetadataJSON: metadata,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to persist assistant message", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   session.SessionID,
		"message_id":   assistant.MessageID,
		"user_query":   req.Query,
		"sql":          resp.SQL,
		"explanation":  resp.Explanation,
		"tables_used":  tablesUsed,
		"execution":    resp.Execution,
		"chart_config": resp.ChartConfig,
		"trace":        resp.Trace,
	})
}

func handleAgentContext(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Agent == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AGENT_NOT_CONFIGURED", "agent dependency is not configured", false, nil)
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
	preview, err := deps.Agent.PreviewContext(r.Context(), connectionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CONTEXT_ERROR", "failed to assemble semantic context", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s id must be a positive integer", name)
	}
	return id, nil
}
