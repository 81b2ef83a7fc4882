// Package agent coordinates one chat turn: semantic context assembly,
// prompt construction, SQL generation, safety validation, bounded
// execution, and chart inference. A turn never raises to its caller;
// every failure class collapses into a terminal Response carrying the
// partial trace.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/prompt"
	"github.com/askdb/askdb/internal/semantic"
	"github.com/askdb/askdb/internal/sqlexec"
	"github.com/askdb/askdb/internal/sqlguard"
	"github.com/askdb/askdb/internal/viz"
)

const (
	defaultSQLTemperature    = 0.1
	defaultMaxTokens         = 500
	defaultHistoryLimit      = 5
	defaultGenerationTimeout = 30 * time.Second
	defaultQueryTimeout      = 60 * time.Second
)

// Entry is one trace record. Every entry carries a "step" key; the rest
// is stage-specific.
type Entry map[string]any

// Trace is append-only and returned to the caller even on error paths.
type Trace []Entry

type Request struct {
	Question     string
	ConnectionID int64
	SessionID    int64
	Execute      bool
}

type Response struct {
	SessionID   int64           `json:"session_id"`
	SQL         string          `json:"sql"`
	Explanation string          `json:"explanation"`
	TablesUsed  []string        `json:"tables_used"`
	Execution   *sqlexec.Result `json:"execution,omitempty"`
	Chart       *viz.Suggestion `json:"chart,omitempty"`
	ChartConfig map[string]any  `json:"chart_config,omitempty"`
	Trace       Trace           `json:"trace"`
}

// ContextPreview shows what the agent would know about a connection
// without running the pipeline.
type ContextPreview struct {
	ConnectionID      int64                      `json:"connection_id"`
	Context           semantic.ConnectionContext `json:"context"`
	HasSemanticModels bool                       `json:"has_semantic_models"`
}

// Metastore is the slice of the repository the orchestrator reads.
type Metastore interface {
	GetConnection(ctx context.Context, connectionID int64) (metastore.Connection, error)
	GetActiveLLMConfig(ctx context.Context) (metastore.LLMConfig, error)
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]metastore.Message, error)
}

// ContextStore assembles the semantic context for a connection.
type ContextStore interface {
	Context(ctx context.Context, connectionID int64) (semantic.ConnectionContext, error)
}

// Executor runs a validated statement against the target connection.
type Executor interface {
	Execute(ctx context.Context, conn metastore.Connection, sql string) sqlexec.Result
}

// ClientFactory builds a provider client from the active configuration.
type ClientFactory func(cfg metastore.LLMConfig, opts llm.Options) (llm.Client, error)

type Options struct {
	SQLTemperature    float64
	MaxTokens         int
	HistoryLimit      int
	ExampleQueries    int
	GenerationTimeout time.Duration
	QueryTimeout      time.Duration
	NewClient         ClientFactory
}

type Orchestrator struct {
	repo     Metastore
	contexts ContextStore
	executor Executor
	builder  *prompt.Builder
	logger   *slog.Logger

	sqlTemperature    float64
	maxTokens         int
	historyLimit      int
	generationTimeout time.Duration
	queryTimeout      time.Duration
	newClient         ClientFactory
}

func NewOrchestrator(repo Metastore, contexts ContextStore, executor Executor, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SQLTemperature <= 0 {
		opts.SQLTemperature = defaultSQLTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.NewClient == nil {
		opts.NewClient = llm.New
	}
	return &Orchestrator{
		repo:              repo,
		contexts:          contexts,
		executor:          executor,
		builder:           prompt.NewBuilder(opts.ExampleQueries),
		logger:            logger,
		sqlTemperature:    opts.SQLTemperature,
		maxTokens:         opts.MaxTokens,
		historyLimit:      opts.HistoryLimit,
		generationTimeout: opts.GenerationTimeout,
		queryTimeout:      opts.QueryTimeout,
		newClient:         opts.NewClient,
	}
}

// Run executes one chat turn. It never returns a Go error and never
// panics out; unexpected panics are converted into the same terminal
// Response shape as any other failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	trace := make(Trace, 0, 8)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("chat turn panicked",
				slog.Int64("connection_id", req.ConnectionID),
				slog.Any("panic", r),
			)
			trace = append(trace, Entry{"step": "error", "message": fmt.Sprint(r)})
			resp = o.failed(req, trace, fmt.Sprintf("Unexpected failure: %v", r), "panic")
		}
	}()

	trace = append(trace, Entry{
		"step":          "intake",
		"connection_id": req.ConnectionID,
		"execute":       req.Execute,
	})
	if req.Question == "" {
		trace = append(trace, Entry{"step": "error", "message": "question must not be empty"})
		return o.failed(req, trace, "Question must not be empty", "bad_request")
	}

	cfg, err := o.repo.GetActiveLLMConfig(ctx)
	if errors.Is(err, metastore.ErrNotFound) {
		trace = append(trace, Entry{"step": "error", "message": "No active LLM configuration"})
		return o.failed(req, trace, "No active LLM configuration. Please configure an LLM provider in settings.", "no_config")
	}
	if err != nil {
		trace = append(trace, Entry{"step": "error", "message": err.Error()})
		return o.failed(req, trace, fmt.Sprintf("Failed to load LLM configuration: %v", err), "store_error")
	}

	conn, err := o.repo.GetConnection(ctx, req.ConnectionID)
	if errors.Is(err, metastore.ErrNotFound) {
		trace = append(trace, Entry{"step": "error", "message": "Connection not found"})
		return o.failed(req, trace, "Connection not found", "store_error")
	}
	if err != nil {
		trace = append(trace, Entry{"step": "error", "message": err.Error()})
		return o.failed(req, trace, fmt.Sprintf("Failed to load connection: %v", err), "store_error")
	}

	cctx, err := o.contexts.Context(ctx, req.ConnectionID)
	if err != nil {
		trace = append(trace, Entry{"step": "error", "message": err.Error()})
		return o.failed(req, trace, fmt.Sprintf("Failed to load semantic context: %v", err), "store_error")
	}
	trace = append(trace, Entry{
		"step":         "context_retrieval",
		"tables_found": len(cctx.Tables),
	})

	history, err := o.history(ctx, req.SessionID)
	if err != nil {
		trace = append(trace, Entry{"step": "error", "message": err.Error()})
		return o.failed(req, trace, fmt.Sprintf("Failed to load conversation history: %v", err), "store_error")
	}

	promptReq := o.builder.Build(cctx, req.Question, history)
	trace = append(trace, Entry{
		"step":          "prompt_build",
		"system_length": len(promptReq.System),
		"history_turns": len(history),
	})

	client, err := o.newClient(cfg, llm.Options{Timeout: o.generationTimeout})
	if err != nil {
		trace = append(trace, Entry{"step": "error", "message": err.Error()})
		return o.failed(req, trace, fmt.Sprintf("Failed to initialize provider client: %v", err), "client_error")
	}

	genCtx, cancelGen := context.WithTimeout(ctx, o.generationTimeout)
	genStart := time.Now()
	generated, err := client.Complete(genCtx, llm.Request{
		System:      promptReq.System,
		User:        promptReq.User,
		Temperature: o.sqlTemperature,
		MaxTokens:   o.maxTokens,
	})
	cancelGen()
	observability.ObserveGeneration(cfg.Provider, cfg.ModelName, time.Since(genStart), err != nil)
	if err != nil {
		o.logger.Warn("sql generation failed",
			slog.Int64("connection_id", req.ConnectionID),
			slog.String("provider", cfg.Provider),
			slog.String("error", err.Error()),
		)
		trace = append(trace, Entry{"step": "error", "message": err.Error()})
		return o.failed(req, trace, fmt.Sprintf("Failed to generate SQL: %v", err), "generation_error")
	}

	tokens := generated.Tokens
	if tokens == 0 {
		tokens = prompt.EstimateTokens(promptReq.System + promptReq.User)
	}
	trace = append(trace, Entry{
		"step":     "generation",
		"provider": generated.Provider,
		"model":    generated.Model,
		"tokens":   tokens,
	})

	resp = Response{
		SessionID:   req.SessionID,
		SQL:         generated.SQL,
		Explanation: generated.Explanation,
		TablesUsed:  generated.TablesUsed,
		Trace:       trace,
	}
	if resp.TablesUsed == nil {
		resp.TablesUsed = make([]string, 0)
	}

	verdict := sqlguard.Validate(generated.SQL)
	entry := Entry{"step": "validation", "valid": verdict.Valid}
	if !verdict.Valid {
		entry["reason"] = verdict.Reason
	}
	trace = append(trace, entry)
	resp.Trace = trace

	if !verdict.Valid {
		observability.IncValidationFailure()
		if req.Execute {
			resp.Execution = &sqlexec.Result{
				Columns: make([]string, 0),
				Rows:    make([]map[string]any, 0),
				Error:   verdict.Reason,
			}
		}
		observability.IncChatTurn("validation_failed")
		o.logger.Info("chat turn rejected by validator",
			slog.Int64("connection_id", req.ConnectionID),
			slog.String("reason", verdict.Reason),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return resp
	}

	if !req.Execute {
		observability.IncChatTurn("ok")
		o.logger.Info("chat turn completed without execution",
			slog.Int64("connection_id", req.ConnectionID),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return resp
	}

	execCtx, cancelExec := context.WithTimeout(ctx, o.queryTimeout)
	result := o.executor.Execute(execCtx, conn, generated.SQL)
	cancelExec()

	entry = Entry{"step": "execution", "success": result.Success, "row_count": result.RowCount}
	if !result.Success {
		entry["error"] = result.Error
	}
	trace = append(trace, entry)
	resp.Execution = &result
	resp.Trace = trace

	if !result.Success {
		observability.IncChatTurn("execution_failed")
		o.logger.Warn("query execution failed",
			slog.Int64("connection_id", req.ConnectionID),
			slog.String("error", result.Error),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return resp
	}

	suggestion := viz.Suggest(result.Columns, result.RowCount)
	resp.Chart = &suggestion
	resp.ChartConfig = viz.Config(suggestion, result.Columns, result.Rows)
	trace = append(trace, Entry{"step": "chart_suggestion", "type": string(suggestion.Type)})
	resp.Trace = trace

	observability.IncChatTurn("ok")
	o.logger.Info("chat turn completed",
		slog.Int64("connection_id", req.ConnectionID),
		slog.String("provider", generated.Provider),
		slog.Int("row_count", result.RowCount),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return resp
}

// PreviewContext exposes the assembled semantic context read-only.
func (o *Orchestrator) PreviewContext(ctx context.Context, connectionID int64) (ContextPreview, error) {
	cctx, err := o.contexts.Context(ctx, connectionID)
	if err != nil {
		return ContextPreview{}, err
	}
	return ContextPreview{
		ConnectionID:      connectionID,
		Context:           cctx,
		HasSemanticModels: cctx.HasModels(),
	}, nil
}

// history loads the last turns for the session, oldest first.
func (o *Orchestrator) history(ctx context.Context, sessionID int64) ([]prompt.Turn, error) {
	if sessionID <= 0 || o.historyLimit <= 0 {
		return nil, nil
	}
	messages, err := o.repo.RecentMessages(ctx, sessionID, o.historyLimit)
	if err != nil {
		return nil, err
	}

	turns := make([]prompt.Turn, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		turns = append(turns, prompt.Turn{
			Role:    messages[i].Role,
			Content: messages[i].Content,
		})
	}
	return turns, nil
}

func (o *Orchestrator) failed(req Request, trace Trace, explanation, outcome string) Response {
	observability.IncChatTurn(outcome)
	return Response{
		SessionID:   req.SessionID,
		Explanation: explanation,
		TablesUsed:  make([]string, 0),
		Trace:       trace,
	}
}
