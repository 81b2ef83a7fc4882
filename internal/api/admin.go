package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/metastore"
)

const providerTestTimeout = 15 * time.Second

type llmConfigCreateRequest struct {
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	Activate  bool   `json:"activate"`
}

func handleCreateLLMConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ADMIN_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req llmConfigCreateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid llm config request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROVIDER_REQUIRED", "provider is required", false, nil)
		return
	}
	if strings.TrimSpace(req.ModelName) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MODEL_NAME_REQUIRED", "model_name is required", false, nil)
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "API_KEY_REQUIRED", "api_key is required", false, nil)
		return
	}

	cfg, err := deps.Repo.CreateLLMConfig(r.Context(), metastore.CreateLLMConfigInput{
		Provider:  strings.ToLower(strings.TrimSpace(req.Provider)),
		ModelName: strings.TrimSpace(req.ModelName),
		APIKey:    req.APIKey,
		BaseURL:   strings.TrimSpace(req.BaseURL),
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to save llm config", true, map[string]any{"details": err.Error()})
		return
	}
	if req.Activate {
		if err := deps.Repo.ActivateLLMConfig(r.Context(), cfg.ConfigID); err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to activate llm config", true, map[string]any{"details": err.Error()})
			return
		}
		cfg.Active = true
	}
	writeJSON(w, http.StatusCreated, llmConfigView(cfg))
}

func handleListLLMConfigs(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ADMIN_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	configs, err := deps.Repo.ListLLMConfigs(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to list llm configs", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(configs))
	for _, cfg := range configs {
		items = append(items, llmConfigView(cfg))
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": items})
}

func handleDeleteLLMConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ADMIN_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	configID, err := pathID(r, "config")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONFIG_ID", err.Error(), false, nil)
		return
	}
	deleted, err := deps.Repo.DeleteLLMConfig(r.Context(), configID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to delete llm config", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "LLM_CONFIG_NOT_FOUND", "LLM configuration not found", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "config_id": configID})
}

func handleActivateLLMConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ADMIN_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	configID, err := pathID(r, "config")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONFIG_ID", err.Error(), false, nil)
		return
	}
	err = deps.Repo.ActivateLLMConfig(r.Context(), configID)
	if errors.Is(err, metastore.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "LLM_CONFIG_NOT_FOUND", "LLM configuration not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to activate llm config", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "active", "config_id": configID})
}

func handleTestLLMConfig(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Repo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ADMIN_NOT_CONFIGURED", "metastore dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	configID, err := pathID(r, "config")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONFIG_ID", err.Error(), false, nil)
		return
	}

	configs, err := deps.Repo.ListLLMConfigs(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "METASTORE_ERROR", "failed to list llm configs", true, map[string]any{"details": err.Error()})
		return
	}
	var cfg metastore.LLMConfig
	found := false
	for _, candidate := range configs {
		if candidate.ConfigID == configID {
			cfg = candidate
			found = true
			break
		}
	}
	if !found {
		writeError(r.Context(), w, http.StatusNotFound, "LLM_CONFIG_NOT_FOUND", "LLM configuration not found", false, nil)
		return
	}

	ping := deps.ProviderPing
	if ping == nil {
		ping = pingProvider
	}
	ctx, cancel := context.WithTimeout(r.Context(), providerTestTimeout)
	defer cancel()
	if err := ping(ctx, cfg); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "LLM_TEST_FAILED", fmt.Sprintf("LLM connection test failed: %v", err), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("%s connection successful", cfg.Provider),
		"model":   cfg.ModelName,
	})
}

// pingProvider sends a one-word completion to verify the key and model
// are usable.
func pingProvider(ctx context.Context, cfg metastore.LLMConfig) error {
	client, err := llm.NewText(cfg, llm.Options{})
	if err != nil {
		return err
	}
	_, err = client.CompleteText(ctx, llm.Request{User: "Hello", MaxTokens: 5})
	return err
}

// llmConfigView renders a configuration without its API key.
func llmConfigView(cfg metastore.LLMConfig) map[string]any {
	return map[string]any{
		"config_id":  cfg.ConfigID,
		"provider":   cfg.Provider,
		"model_name": cfg.ModelName,
		"base_url":   cfg.BaseURL,
		"active":     cfg.Active,
		"created_at": cfg.CreatedAt,
	}
}
