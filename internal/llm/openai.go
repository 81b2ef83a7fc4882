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
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAIModel   = "gpt-4"
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIClient speaks the chat-completions dialect, which also covers the
// self-hosted gateways that mirror it.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Result, error) {
	content, tokens, err := c.completeText(ctx, req)
	if err != nil {
		return Result{}, err
	}
	p, err := parseContent(content)
	if err != nil {
		return Result{}, &GenerationError{Provider: "openai", Message: err.Error()}
	}
	return Result{
		SQL:         p.SQL,
		Explanation: p.Explanation,
		TablesUsed:  p.TablesUsed,
		Provider:    "openai",
		Model:       c.model,
		Tokens:      tokens,
	}, nil
}

// CompleteText returns the reply content without the SQL payload parse.
func (c *OpenAIClient) CompleteText(ctx context.Context, req Request) (string, error) {
	content, _, err := c.completeText(ctx, req)
	return content, err
}

func (c *OpenAIClient) completeText(ctx context.Context, req Request) (string, int, error) {
	chatPayload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatPayload["max_tokens"] = req.MaxTokens
	}
	body, err := json.Marshal(chatPayload)
	if err != nil {
		return "", 0, &GenerationError{Provider: "openai", Message: fmt.Sprintf("marshal chat payload: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, &GenerationError{Provider: "openai", Message: fmt.Sprintf("build chat request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", 0, &GenerationError{Provider: "openai", Message: fmt.Sprintf("request chat completion: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, &GenerationError{Provider: "openai", Message: fmt.Sprintf("read chat response body: %v", err)}
	}
	if resp.StatusCode >= 400 {
		return "", 0, &GenerationError{Provider: "openai", Message: fmt.Sprintf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", 0, &GenerationError{Provider: "openai", Message: fmt.Sprintf("decode chat completion response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", 0, &GenerationError{Provider: "openai", Message: "empty chat completion choices"}
	}
	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}
