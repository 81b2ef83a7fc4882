package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/sqlexec"
)

const connectTestTimeout = 5 * time.Second

type connectionCreateRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DSN         string `json:"dsn"`
	Description string `json:"description"`
}

func handleCreateConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req connectionCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid create connection request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "NAME_REQUIRED", "name is required", false, nil)
		return
	}
	connType := strings.ToLower(strings.TrimSpace(req.Type))
	if connType == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TYPE_REQUIRED", "type is required", false, nil)
		return
	}
	if _, ok := sqlexec.DriverName(connType); !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_TYPE", fmt.Sprintf("unsupported connection type %q", connType), false, nil)
		return
	}

	dsn := strings.TrimSpace(req.DSN)
	if dsn == "" {
		if strings.TrimSpace(req.Host) == "" {
			writeError(r.Context(), w, http.StatusBadRequest, "HOST_REQUIRED", "host is required when dsn is not provided", false, nil)
			return
		}
		if req.Port < 1 || req.Port > 65535 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PORT", "port must be between 1 and 65535", false, nil)
			return
		}
		if strings.TrimSpace(req.Database) == "" {
			writeError(r.Context(), w, http.StatusBadRequest, "DATABASE_REQUIRED", "database is required when dsn is not provided", false, nil)
			return
		}
		dsn = buildDSN(connType, req)
	}

	ping := deps.ConnectionPing
	if ping == nil {
		ping = sqlexec.Ping
	}
	pingCtx, cancel := context.WithTimeout(r.Context(), connectTestTimeout)
	defer cancel()
	if err := ping(pingCtx, connType, dsn); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "CONNECTION_FAILED", fmt.Sprintf("Connection failed: %v", err), true, nil)
		return
	}

	conn, err := deps.Repo.CreateConnection(r.Context(), metastore.CreateConnectionInput{
		Name:        strings.TrimSpace(req.Name),
		Type:        connType,
		DSN:         dsn,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to save connection", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, connectionView(conn))
}

func handleListConnections(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleUser, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	conns, err := deps.Repo.ListConnections(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to list connections", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(conns))
	for _, conn := range conns {
		items = append(items, connectionView(conn))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": items})
}

func handleGetConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
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
	conn, err := deps.Repo.GetConnection(r.Context(), connectionID)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to load connection", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, connectionView(conn))
}

func handleDeleteConnection(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTIONS_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
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
	err = deps.Repo.DeactivateConnection(r.Context(), connectionID)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "Connection not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to deactivate connection", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "connection_id": connectionID})
}

func handleConnectionSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil || deps.Inspector == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema inspection is not configured", false, nil)
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
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": connectionID,
		"tables":        tables,
	})
}

// connectionView renders a connection without its DSN. The DSN embeds
// credentials and never leaves the service.
func connectionView(conn metastore.Connection) map[string]any {
	return map[string]any{
		"connection_id": conn.ConnectionID,
		"name":          conn.Name,
		"type":          conn.Type,
		"description":   conn.Description,
		"active":        conn.Active,
		"created_at":    conn.CreatedAt,
	}
}

func buildDSN(connType string, req connectionCreateRequest) string {
	u := url.URL{
		Scheme: connType,
		Host:   fmt.Sprintf("%s:%d", strings.TrimSpace(req.Host), req.Port),
		Path:   "/" + strings.TrimSpace(req.Database),
	}
	if req.Username != "" {
		u.User = url.UserPassword(req.Username, req.Password)
	}
	return u.String()
}
