// Package contextgen drafts semantic-model content for a table from its
// introspected structure. Drafts run at a higher temperature than SQL
// generation and are suggestions for operator review, not persisted
// truth.
package contextgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/metastore"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1500
	defaultTimeout     = 60 * time.Second

	analysisSystem = "You are a data analyst expert who understands database schemas and can infer business meaning from table structures. Provide detailed, business-friendly descriptions."
)

// Draft is the model-proposed context for one table. The JSON keys match
// the reply contract the analysis prompt asks for.
type Draft struct {
	TableName          string            `json:"table_name"`
	Description        string            `json:"business_description"`
	ColumnDescriptions map[string]string `json:"column_descriptions"`
	Relationships      []string          `json:"suggested_relationships"`
	ExampleQueries     []string          `json:"example_queries"`
	Glossary           map[string]string `json:"business_glossary"`
}

// ConfigSource yields the active provider configuration.
type ConfigSource interface {
	GetActiveLLMConfig(ctx context.Context) (metastore.LLMConfig, error)
}

// ClientFactory builds the raw-content client for a configuration.
type ClientFactory func(cfg metastore.LLMConfig, opts llm.Options) (llm.TextClient, error)

type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	NewClient   ClientFactory
}

type Generator struct {
	repo        ConfigSource
	logger      *slog.Logger
	temperature float64
	maxTokens   int
	timeout     time.Duration
	newClient   ClientFactory
}

func NewGenerator(repo ConfigSource, logger *slog.Logger, opts Options) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.NewClient == nil {
		opts.NewClient = llm.NewText
	}
	return &Generator{
		repo:        repo,
		logger:      logger,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
		newClient:   opts.NewClient,
	}
}

// Describe asks the active provider for a full context draft of one
// table. Callers map metastore.ErrNotFound to the missing-configuration
// contract.
func (g *Generator) Describe(ctx context.Context, conn metastore.Connection, table schema.Table) (Draft, error) {
	cfg, err := g.repo.GetActiveLLMConfig(ctx)
	if err != nil {
		return Draft{}, fmt.Errorf("load active llm config: %w", err)
	}
	client, err := g.newClient(cfg, llm.Options{Timeout: g.timeout})
	if err != nil {
		return Draft{}, fmt.Errorf("init provider client: %w", err)
	}

	user, err := analysisPrompt(conn, table)
	if err != nil {
		return Draft{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	content, err := client.CompleteText(callCtx, llm.Request{
		System:      analysisSystem,
		User:        user,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	observability.ObserveGeneration(cfg.Provider, cfg.ModelName, time.Since(start), err != nil)
	if err != nil {
		return Draft{}, err
	}

	draft, err := decodeDraft(content)
	if err != nil {
		g.logger.Warn("context draft decode failed",
			slog.String("table", table.Name),
			slog.String("error", err.Error()),
		)
		return Draft{}, err
	}
	draft.TableName = table.Name

	g.logger.Info("context draft generated",
		slog.String("table", table.Name),
		slog.String("provider", cfg.Provider),
		slog.Int("columns_described", len(draft.ColumnDescriptions)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return draft, nil
}

func analysisPrompt(conn metastore.Connection, table schema.Table) (string, error) {
	columns := table.Columns
	if columns == nil {
		columns = make([]schema.Column, 0)
	}
	primaryKey := table.PrimaryKey
	if primaryKey == nil {
		primaryKey = make([]string, 0)
	}
	foreignKeys := table.ForeignKeys
	if foreignKeys == nil {
		foreignKeys = make([]schema.ForeignKey, 0)
	}

	columnsJSON, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal columns: %w", err)
	}
	primaryKeyJSON, err := json.Marshal(primaryKey)
	if err != nil {
		return "", fmt.Errorf("marshal primary key: %w", err)
	}
	foreignKeysJSON, err := json.MarshalIndent(foreignKeys, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal foreign keys: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyze this database table and provide comprehensive business context.\n\n")
	fmt.Fprintf(&b, "Database: %s (%s)\n", conn.Name, conn.Type)
	fmt.Fprintf(&b, "Table Name: %s\n", table.Name)
	fmt.Fprintf(&b, "Columns: %s\n", columnsJSON)
	fmt.Fprintf(&b, "Primary Key: %s\n", primaryKeyJSON)
	fmt.Fprintf(&b, "Foreign Keys: %s\n\n", foreignKeysJSON)
	b.WriteString(`Provide a JSON object with:
{
    "business_description": "What this table represents in business terms",
    "column_descriptions": {"column_name": "business meaning"},
    "suggested_relationships": ["Description of how this table relates to others"],
    "example_queries": ["Sample SQL queries"],
    "business_glossary": {"term": "definition"}
}

Be specific and business-focused. Infer the domain from table/column names.
`)
	return b.String(), nil
}

// decodeDraft tolerates fenced replies but, unlike SQL generation, has
// no bare-text fallback: a draft without a JSON object is an error.
func decodeDraft(content string) (Draft, error) {
	body := llm.ExtractJSONObject(llm.StripMarkdownFences(content))
	if body == "" {
		return Draft{}, fmt.Errorf("model reply carries no JSON object")
	}
	var draft Draft
	if err := json.Unmarshal([]byte(body), &draft); err != nil {
		return Draft{}, fmt.Errorf("decode draft: %w", err)
	}
	if draft.ColumnDescriptions == nil {
		draft.ColumnDescriptions = map[string]string{}
	}
	if draft.Relationships == nil {
		draft.Relationships = make([]string, 0)
	}
	if draft.ExampleQueries == nil {
		draft.ExampleQueries = make([]string, 0)
	}
	if draft.Glossary == nil {
		draft.Glossary = map[string]string{}
	}
	return draft, nil
}
