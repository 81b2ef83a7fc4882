package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/agent"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/contextgen"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlexec"
)

type ReadinessCheck func(ctx context.Context) error

// Agent runs the question-to-SQL pipeline and previews the semantic
// context it would use.
type Agent interface {
	Run(ctx context.Context, req agent.Request) agent.Response
	PreviewContext(ctx context.Context, connectionID int64) (agent.ContextPreview, error)
}

// SchemaInspector lists the physical structure of a registered target
// database.
type SchemaInspector interface {
	Inspect(ctx context.Context, conn metastore.Connection) ([]schema.Table, error)
}

// ContextDrafter generates a semantic model draft for one table.
type ContextDrafter interface {
	Describe(ctx context.Context, conn metastore.Connection, table schema.Table) (contextgen.Draft, error)
}

// ResultExporter archives successful execution results and streams
// stored exports back.
type ResultExporter interface {
	Export(ctx context.Context, sessionID, messageID int64, result sqlexec.Result) (export.ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Repo              metastore.Repository
	Agent             Agent
	Inspector         SchemaInspector
	Drafter           ContextDrafter
	Exporter          ResultExporter
	ConnectionPing    func(ctx context.Context, connType, dsn string) error
	ProviderPing      func(ctx context.Context, cfg metastore.LLMConfig) error
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/agent/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	protected.HandleFunc("GET /v1/agent/context/{connection}", func(w http.ResponseWriter, r *http.Request) {
		handleAgentContext(deps, w, r)
	})

	protected.HandleFunc("POST /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleCreateConnection(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections", func(w http.ResponseWriter, r *http.Request) {
		handleListConnections(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{connection}", func(w http.ResponseWriter, r *http.Request) {
		handleGetConnection(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/connections/{connection}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteConnection(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{connection}/schema", func(w http.ResponseWriter, r *http.Request) {
		handleConnectionSchema(deps, w, r)
	})

	protected.HandleFunc("POST /v1/connections/{connection}/semantic-models", func(w http.ResponseWriter, r *http.Request) {
		handleUpsertSemanticModel(deps, w, r)
	})
	protected.HandleFunc("GET /v1/connections/{connection}/semantic-models", func(w http.ResponseWriter, r *http.Request) {
		handleListSemanticModels(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/connections/{connection}/semantic-models/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSemanticModel(deps, w, r)
	})
	protected.HandleFunc("POST /v1/connections/{connection}/semantic-models/generate", func(w http.ResponseWriter, r *http.Request) {
		handleGenerateSemanticModel(deps, w, r)
	})

	protected.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleCreateSession(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		handleListSessions(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions/{session}", func(w http.ResponseWriter, r *http.Request) {
		handleGetSession(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/sessions/{session}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteSession(deps, w, r)
	})
	protected.HandleFunc("GET /v1/sessions/{session}/messages", func(w http.ResponseWriter, r *http.Request) {
		handleListMessages(deps, w, r)
	})
	protected.HandleFunc("POST /v1/sessions/{session}/messages/{message}/export", func(w http.ResponseWriter, r *http.Request) {
		handleExportResult(deps, w, r)
	})
	protected.HandleFunc("GET /v1/exports/{key...}", func(w http.ResponseWriter, r *http.Request) {
		handleDownloadExport(deps, w, r)
	})

	protected.HandleFunc("POST /v1/admin/llm-configs", func(w http.ResponseWriter, r *http.Request) {
		handleCreateLLMConfig(deps, w, r)
	})
	protected.HandleFunc("GET /v1/admin/llm-configs", func(w http.ResponseWriter, r *http.Request) {
		handleListLLMConfigs(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/admin/llm-configs/{config}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteLLMConfig(deps, w, r)
	})
	protected.HandleFunc("POST /v1/admin/llm-configs/{config}/activate", func(w http.ResponseWriter, r *http.Request) {
		handleActivateLLMConfig(deps, w, r)
	})
	protected.HandleFunc("POST /v1/admin/llm-configs/{config}/test", func(w http.ResponseWriter, r *http.Request) {
		handleTestLLMConfig(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/agent/chat", protectedHandler)
	mux.Handle("GET /v1/agent/context/{connection}", protectedHandler)
	mux.Handle("POST /v1/connections", protectedHandler)
	mux.Handle("GET /v1/connections", protectedHandler)
	mux.Handle("GET /v1/connections/{connection}", protectedHandler)
	mux.Handle("DELETE /v1/connections/{connection}", protectedHandler)
	mux.Handle("GET /v1/connections/{connection}/schema", protectedHandler)
	mux.Handle("POST /v1/connections/{connection}/semantic-models", protectedHandler)
	mux.Handle("GET /v1/connections/{connection}/semantic-models", protectedHandler)
	mux.Handle("DELETE /v1/connections/{connection}/semantic-models/{table}", protectedHandler)
	mux.Handle("POST /v1/connections/{connection}/semantic-models/generate", protectedHandler)
	mux.Handle("POST /v1/sessions", protectedHandler)
	mux.Handle("GET /v1/sessions", protectedHandler)
	mux.Handle("GET /v1/sessions/{session}", protectedHandler)
	mux.Handle("DELETE /v1/sessions/{session}", protectedHandler)
	mux.Handle("GET /v1/sessions/{session}/messages", protectedHandler)
	mux.Handle("POST /v1/sessions/{session}/messages/{message}/export", protectedHandler)
	mux.Handle("GET /v1/exports/{key...}", protectedHandler)
	mux.Handle("POST /v1/admin/llm-configs", protectedHandler)
	mux.Handle("GET /v1/admin/llm-configs", protectedHandler)
	mux.Handle("DELETE /v1/admin/llm-configs/{config}", protectedHandler)
	mux.Handle("POST /v1/admin/llm-configs/{config}/activate", protectedHandler)
	mux.Handle("POST /v1/admin/llm-configs/{config}/test", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckMetastore(repo metastore.Repository) ReadinessCheck {
	return func(ctx context.Context) error {
		if repo == nil {
			return errors.New("metastore is not configured")
		}
		return repo.HealthCheck(ctx)
	}
}

func CheckExportConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Export.Enabled {
			return nil
		}
		if cfg.Export.Endpoint == "" {
			return errors.New("export endpoint is not configured")
		}
		if cfg.Export.Bucket == "" {
			return errors.New("export bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("missing required role, expected one of %q", strings.Join(roles, ","))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
