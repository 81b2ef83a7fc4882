package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/metastore"
)

func TestCreateLLMConfigRedactsKey(t *testing.T) {
	repo := newMemRepo()
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	rr := postJSON(t, h, "/v1/admin/llm-configs", `{
		"provider": "OpenAI",
		"model_name": "gpt-4",
		"api_key": "sk-test-123"
	}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["provider"] != "openai" || body["model_name"] != "gpt-4" || body["active"] != false {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["api_key"]; ok {
		t.Fatalf("response leaks api_key: %v", body)
	}
	if strings.Contains(rr.Body.String(), "sk-test-123") {
		t.Fatalf("response leaks key material: %s", rr.Body.String())
	}
	if repo.configs[1].APIKey != "sk-test-123" {
		t.Fatalf("stored key = %q", repo.configs[1].APIKey)
	}
}

func TestCreateLLMConfigWithActivate(t *testing.T) {
	repo := newMemRepo()
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	rr := postJSON(t, h, "/v1/admin/llm-configs", `{"provider":"openai","model_name":"gpt-4","api_key":"k1","activate":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first status = %d", rr.Code)
	}
	rr = postJSON(t, h, "/v1/admin/llm-configs", `{"provider":"anthropic","model_name":"claude-3-haiku","api_key":"k2","activate":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("second status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["active"] != true {
		t.Fatalf("body = %v", body)
	}

	active, err := repo.GetActiveLLMConfig(context.Background())
	if err != nil {
		t.Fatalf("active config missing: %v", err)
	}
	if active.Provider != "anthropic" {
		t.Fatalf("active provider = %q", active.Provider)
	}
	if repo.configs[1].Active {
		t.Fatalf("first config still active")
	}
}

func TestCreateLLMConfigValidation(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	cases := []struct {
		name string
		body string
		code string
	}{
		{"missing provider", `{"model_name":"gpt-4","api_key":"k"}`, "PROVIDER_REQUIRED"},
		{"missing model", `{"provider":"openai","api_key":"k"}`, "MODEL_NAME_REQUIRED"},
		{"missing key", `{"provider":"openai","model_name":"gpt-4"}`, "API_KEY_REQUIRED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postJSON(t, h, "/v1/admin/llm-configs", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if errorCode(t, rr) != tc.code {
				t.Fatalf("error_code = %s, want %s", errorCode(t, rr), tc.code)
			}
		})
	}
}

func TestActivateLLMConfigSwitchesActive(t *testing.T) {
	repo := newMemRepo()
	h := NewHandler(testConfig(t), Dependencies{Repo: repo})

	for _, body := range []string{
		`{"provider":"openai","model_name":"gpt-4","api_key":"k1"}`,
		`{"provider":"anthropic","model_name":"claude-3-haiku","api_key":"k2"}`,
	} {
		if rr := postJSON(t, h, "/v1/admin/llm-configs", body); rr.Code != http.StatusCreated {
			t.Fatalf("seed status = %d", rr.Code)
		}
	}

	rr := postJSON(t, h, "/v1/admin/llm-configs/2/activate", ``)
	if rr.Code != http.StatusOK {
		t.Fatalf("activate status = %d, body=%s", rr.Code, rr.Body.String())
	}

	listResp := httptest.NewRecorder()
	h.ServeHTTP(listResp, httptest.NewRequest(http.MethodGet, "/v1/admin/llm-configs", nil))
	var body struct {
		Configs []struct {
			ConfigID int64 `json:"config_id"`
			Active   bool  `json:"active"`
		} `json:"configs"`
	}
	if err := json.Unmarshal(listResp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Configs) != 2 || body.Configs[0].Active || !body.Configs[1].Active {
		t.Fatalf("configs = %+v", body.Configs)
	}

	rr = postJSON(t, h, "/v1/admin/llm-configs/1/activate", ``)
	if rr.Code != http.StatusOK {
		t.Fatalf("reactivate status = %d", rr.Code)
	}
	active, err := repo.GetActiveLLMConfig(context.Background())
	if err != nil {
		t.Fatalf("active config missing: %v", err)
	}
	if active.ConfigID != 1 {
		t.Fatalf("active config = %d", active.ConfigID)
	}
}

func TestActivateLLMConfigNotFound(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	rr := postJSON(t, h, "/v1/admin/llm-configs/7/activate", ``)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "LLM_CONFIG_NOT_FOUND" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}

func TestDeleteLLMConfig(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	if rr := postJSON(t, h, "/v1/admin/llm-configs", `{"provider":"openai","model_name":"gpt-4","api_key":"k"}`); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/admin/llm-configs/1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/admin/llm-configs/1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Message != "LLM configuration not found" {
		t.Fatalf("message = %q", body.Message)
	}
}

func TestTestLLMConfigSuccess(t *testing.T) {
	repo := newMemRepo()
	var pinged metastore.LLMConfig
	h := NewHandler(testConfig(t), Dependencies{
		Repo: repo,
		ProviderPing: func(_ context.Context, cfg metastore.LLMConfig) error {
			pinged = cfg
			return nil
		},
	})

	if rr := postJSON(t, h, "/v1/admin/llm-configs", `{"provider":"openai","model_name":"gpt-4","api_key":"sk-test-123"}`); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}

	rr := postJSON(t, h, "/v1/admin/llm-configs/1/test", ``)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Model   string `json:"model"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "success" || body.Message != "openai connection successful" || body.Model != "gpt-4" {
		t.Fatalf("body = %+v", body)
	}
	if pinged.APIKey != "sk-test-123" {
		t.Fatalf("ping received key %q", pinged.APIKey)
	}
}

func TestTestLLMConfigFailure(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{
		Repo: newMemRepo(),
		ProviderPing: func(_ context.Context, _ metastore.LLMConfig) error {
			return errors.New("401 unauthorized")
		},
	})

	if rr := postJSON(t, h, "/v1/admin/llm-configs", `{"provider":"openai","model_name":"gpt-4","api_key":"bad"}`); rr.Code != http.StatusCreated {
		t.Fatalf("seed status = %d", rr.Code)
	}

	rr := postJSON(t, h, "/v1/admin/llm-configs/1/test", ``)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "LLM_TEST_FAILED" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Message != "LLM connection test failed: 401 unauthorized" {
		t.Fatalf("message = %q", body.Message)
	}
}

func TestTestLLMConfigNotFound(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{Repo: newMemRepo()})

	rr := postJSON(t, h, "/v1/admin/llm-configs/3/test", ``)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	if errorCode(t, rr) != "LLM_CONFIG_NOT_FOUND" {
		t.Fatalf("error_code = %s", errorCode(t, rr))
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{
		"ASKDB_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("u1:analytics:user,a1:analytics:admin")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Repo:           newMemRepo(),
	})

	body := `{"provider":"openai","model_name":"gpt-4","api_key":"k"}`

	userReq := httptest.NewRequest(http.MethodPost, "/v1/admin/llm-configs", strings.NewReader(body))
	userReq.Header.Set("X-API-Key", "u1")
	userResp := httptest.NewRecorder()
	h.ServeHTTP(userResp, userReq)
	if userResp.Code != http.StatusForbidden {
		t.Fatalf("user status = %d", userResp.Code)
	}
	if errorCode(t, userResp) != "FORBIDDEN" {
		t.Fatalf("error_code = %s", errorCode(t, userResp))
	}

	adminReq := httptest.NewRequest(http.MethodPost, "/v1/admin/llm-configs", strings.NewReader(body))
	adminReq.Header.Set("X-API-Key", "a1")
	adminResp := httptest.NewRecorder()
	h.ServeHTTP(adminResp, adminReq)
	if adminResp.Code != http.StatusCreated {
		t.Fatalf("admin status = %d, body=%s", adminResp.Code, adminResp.Body.String())
	}
}
