// Package llm invokes generation providers through one narrow interface.
// The orchestrator never talks to a provider type directly.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/metastore"
)

const defaultTimeout = 15 * time.Second

// Request is one provider-neutral completion call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Result is the parsed provider output. Both the structured and the raw
// fallback shape are untrusted input for the SQL validator.
type Result struct {
	SQL         string
	Explanation string
	TablesUsed  []string
	Provider    string
	Model       string
	Tokens      int
}

type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// TextClient returns the raw reply content for callers that decode a
// payload shape of their own.
type TextClient interface {
	CompleteText(ctx context.Context, req Request) (string, error)
}

// GenerationError carries a provider failure message across the pipeline
// boundary without exposing transport details to callers.
type GenerationError struct {
	Provider string
	Message  string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Options are operator overrides applied on top of the stored
// configuration.
type Options struct {
	Timeout time.Duration
}

// New instantiates the client variant named by the active configuration.
func New(cfg metastore.LLMConfig, opts Options) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.ModelName,
			Timeout: opts.Timeout,
		})
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.ModelName,
			Timeout: opts.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// NewText instantiates the same client variant behind the raw-content
// interface. Both variants implement it.
func NewText(cfg metastore.LLMConfig, opts Options) (TextClient, error) {
	client, err := New(cfg, opts)
	if err != nil {
		return nil, err
	}
	text, ok := client.(TextClient)
	if !ok {
		return nil, fmt.Errorf("provider %q does not expose raw completions", cfg.Provider)
	}
	return text, nil
}

type payload struct {
	SQL         string   `json:"sql"`
	Explanation string   `json:"explanation"`
	TablesUsed  []string `json:"tables_used"`
}

// parseContent decodes a model reply. Models are asked for a JSON object
// but frequently wrap it in Markdown fences or answer with bare SQL; bare
// text becomes candidate SQL for the validator rather than an error.
func parseContent(content string) (payload, error) {
	trimmed := StripMarkdownFences(content)
	if trimmed == "" {
		return payload{}, fmt.Errorf("model returned empty response")
	}

	if body := ExtractJSONObject(trimmed); body != "" {
		var p payload
		if err := json.Unmarshal([]byte(body), &p); err == nil && (p.SQL != "" || p.Explanation != "") {
			return p, nil
		}
	}
	return payload{SQL: trimmed, Explanation: "Generated SQL query"}, nil
}

// StripMarkdownFences removes a surrounding ```json / ```sql / ``` fence.
func StripMarkdownFences(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

// ExtractJSONObject returns the outermost JSON object embedded in a
// reply, or "" when the reply carries none.
func ExtractJSONObject(value string) string {
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start < 0 || end <= start {
		return ""
	}
	return value[start : end+1]
}
