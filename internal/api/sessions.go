package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/sqlexec"
)

const (
	defaultSessionPageSize = 100
	maxSessionPageSize     = 500
)

type sessionCreateRequest struct {
	Name         string `json:"name"`
	ConnectionID *int64 `json:"connection_id"`
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req sessionCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid create session request body", false, map[string]any{"details": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "New Chat"
	}

	if req.ConnectionID != nil {
		if _, err := deps.Repo.GetConnection(r.Context(), *req.ConnectionID); err != nil {
			if errors.Is(err, metastore.ErrNotFound) {
				writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection not found", false, nil)
				return
			}
			writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
			return
		}
	}

	session, err := deps.Repo.CreateSession(r.Context(), metastore.CreateSessionInput{
		Name:         name,
		ConnectionID: req.ConnectionID,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to create session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(session))
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := defaultSessionPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}
	if limit > maxSessionPageSize {
		limit = maxSessionPageSize
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer", false, nil)
			return
		}
		offset = parsed
	}

	sessions, err := deps.Repo.ListSessions(r.Context(), limit, offset)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to list sessions", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, sessionView(session))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sessionID, err := pathID(r, "session")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", err.Error(), false, nil)
		return
	}
	session, err := deps.Repo.GetSession(r.Context(), sessionID)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sessionID, err := pathID(r, "session")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", err.Error(), false, nil)
		return
	}
	deleted, err := deps.Repo.DeleteSession(r.Context(), sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to delete session", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "session_id": sessionID})
}

func handleListMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sessionID, err := pathID(r, "session")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", err.Error(), false, nil)
		return
	}
	if _, err := deps.Repo.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load session", true, map[string]any{"details": err.Error()})
		return
	}
	messages, err := deps.Repo.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to list messages", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, messageView(msg))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   items,
	})
}

func handleExportResult(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sessionID, err := pathID(r, "session")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", err.Error(), false, nil)
		return
	}
	messageID, err := pathID(r, "message")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MESSAGE_ID", err.Error(), false, nil)
		return
	}

	msg, err := deps.Repo.GetMessage(r.Context(), sessionID, messageID)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "Message not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load message", true, map[string]any{"details": err.Error()})
		return
	}

	var meta struct {
		Execution *sqlexec.Result `json:"execution"`
	}
	if len(msg.MetadataJSON) > 0 {
		_ = json.Unmarshal(msg.MetadataJSON, &meta)
	}
	if meta.Execution == nil || !meta.Execution.Success || meta.Execution.RowCount == 0 {
		writeError(r.Context(), w, http.StatusConflict, "EXPORT_UNAVAILABLE", "message has no successful execution result to export", false, nil)
		return
	}

	info, err := deps.Exporter.Export(r.Context(), sessionID, messageID, *meta.Execution)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to export result", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":           info.Key,
		"size":          info.Size,
		"etag":          info.ETag,
		"last_modified": info.LastModified,
	})
}

func handleDownloadExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	key := strings.TrimSpace(r.PathValue("key"))
	if key == "" {
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export object not found", false, nil)
		return
	}
	rc, err := deps.Exporter.Open(r.Context(), key)
	if errors.Is(err, export.ErrObjectNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export object not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "EXPORT_FAILED", "failed to open export object", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	_, _ = io.Copy(w, rc)
}

func sessionView(session metastore.Session) map[string]any {
	return map[string]any{
		"session_id":    session.SessionID,
		"name":          session.Name,
		"connection_id": session.ConnectionID,
		"created_at":    session.CreatedAt,
	}
}

func messageView(msg metastore.Message) map[string]any {
	return map[string]any{
		"message_id": msg.MessageID,
		"session_id": msg.SessionID,
		"role":       msg.Role,
		"content":    msg.Content,
		"metadata":   rawOrNull(msg.MetadataJSON),
		"created_at": msg.CreatedAt,
	}
}
