package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "AskDB API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]

	method := ""
	path := ""
	var requestBody []byte
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "ask":
		askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
		askFlags.SetOutput(stderr)
		connectionID := askFlags.Int64("connection", 0, "connection id to query")
		sessionID := askFlags.Int64("session", 0, "existing session id; omit to start a new session")
		noExec := askFlags.Bool("no-exec", false, "generate SQL without executing it")
		if err := askFlags.Parse(rest); err != nil {
			return 2
		}
		question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
		if *connectionID <= 0 {
			_, _ = fmt.Fprintln(stderr, "ask requires -connection")
			return 2
		}
		if question == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires a question")
			return 2
		}
		payload := map[string]any{
			"query":         question,
			"connection_id": *connectionID,
		}
		if *sessionID > 0 {
			payload["session_id"] = *sessionID
		}
		if *noExec {
			payload["execute_sql"] = false
		}
		requestBody, _ = json.Marshal(payload)
		method, path = http.MethodPost, "/v1/agent/chat"
	case "context":
		connectionID, ok := parseConnectionFlag("context", rest, stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, fmt.Sprintf("/v1/agent/context/%d", connectionID)
	case "schema":
		connectionID, ok := parseConnectionFlag("schema", rest, stderr)
		if !ok {
			return 2
		}
		method, path = http.MethodGet, fmt.Sprintf("/v1/connections/%d/schema", connectionID)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, requestBody)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func parseConnectionFlag(name string, args []string, stderr io.Writer) (int64, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	connectionID := fs.Int64("connection", 0, "connection id")
	if err := fs.Parse(args); err != nil {
		return 0, false
	}
	if *connectionID <= 0 {
		_, _ = fmt.Fprintf(stderr, "%s requires -connection\n", name)
		return 0, false
	}
	return *connectionID, true
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                                GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                 GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  ask -connection <id> [flags] <text>   POST /v1/agent/chat")
	_, _ = fmt.Fprintln(w, "  context -connection <id>              GET /v1/agent/context/{connection}")
	_, _ = fmt.Fprintln(w, "  schema -connection <id>               GET /v1/connections/{connection}/schema")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "schema migrations are handled by the askdb-migrate binary")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
