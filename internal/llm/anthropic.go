package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 500
	anthropicVersion          = "2023-06-01"
)

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// AnthropicClient speaks the messages dialect. The messages API requires
// max_tokens on every call, so a missing value falls back to a bound
// suitable for one SQL statement plus commentary.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Result, error) {
	content, tokens, err := c.completeText(ctx, req)
	if err != nil {
		return Result{}, err
	}
	p, err := parseContent(content)
	if err != nil {
		return Result{}, &GenerationError{Provider: "anthropic", Message: err.Error()}
	}
	return Result{
		SQL:         p.SQL,
		Explanation: p.Explanation,
		TablesUsed:  p.TablesUsed,
		Provider:    "anthropic",
		Model:       c.model,
		Tokens:      tokens,
	}, nil
}

// CompleteText returns the reply content without the SQL payload parse.
func (c *AnthropicClient) CompleteText(ctx context.Context, req Request) (string, error) {
	content, _, err := c.completeText(ctx, req)
	return content, err
}

func (c *AnthropicClient) completeText(ctx context.Context, req Request) (string, int, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	messagePayload := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"system":     req.System,
		"messages": []map[string]string{
			{"role": "user", "content": req.User},
		},
		"temperature": req.Temperature,
	}
	body, err := json.Marshal(messagePayload)
	if err != nil {
		return "", 0, &GenerationError{Provider: "anthropic", Message: fmt.Sprintf("marshal message payload: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", 0, &GenerationError{Provider: "anthropic", Message: fmt.Sprintf("build message request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", 0, &GenerationError{Provider: "anthropic", Message: fmt.Sprintf("request message completion: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &GenerationError{Provider: "anthropic", Message: fmt.Sprintf("read message response body: %v", err)}
	}
	if resp.StatusCode >= 400 {
		return "", 0, &GenerationError{Provider: "anthropic", Message: fmt.Sprintf("message completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))}
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", 0, &GenerationError{Provider: "anthropic", Message: fmt.Sprintf("decode message response: %v", err)}
	}
	if parsed.Error != nil {
		return "", 0, &GenerationError{Provider: "anthropic", Message: parsed.Error.Message}
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return "", 0, &GenerationError{Provider: "anthropic", Message: "empty message content"}
	}
	return content.String(), parsed.Usage.InputTokens + parsed.Usage.OutputTokens, nil
}
