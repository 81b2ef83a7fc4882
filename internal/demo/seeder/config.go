package seeder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	APIBaseURL     string
	APIKey         string
	DatabasePath   string
	ConnectionName string
	Users          int
	Products       int
	Orders         int
	Seed           int64
	HTTPTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:     "http://localhost:8080",
		APIKey:         "",
		DatabasePath:   "/tmp/askdb-demo.db",
		ConnectionName: "demo-warehouse",
		Users:          200,
		Products:       50,
		Orders:         1000,
		Seed:           time.Now().UTC().UnixNano(),
		HTTPTimeout:    10 * time.Second,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "ASKDB_DEMO_API_URL", &cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DEMO_API_KEY", &cfg.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DEMO_DB_PATH", &cfg.DatabasePath); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ASKDB_DEMO_CONNECTION_NAME", &cfg.ConnectionName); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DEMO_USERS", &cfg.Users); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DEMO_PRODUCTS", &cfg.Products); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ASKDB_DEMO_ORDERS", &cfg.Orders); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "ASKDB_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ASKDB_DEMO_HTTP_TIMEOUT", &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return Config{}, fmt.Errorf("ASKDB_DEMO_API_URL is required")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return Config{}, fmt.Errorf("ASKDB_DEMO_DB_PATH is required")
	}
	if strings.TrimSpace(cfg.ConnectionName) == "" {
		return Config{}, fmt.Errorf("ASKDB_DEMO_CONNECTION_NAME is required")
	}
	if cfg.Users <= 0 {
		return Config{}, fmt.Errorf("ASKDB_DEMO_USERS must be > 0")
	}
	if cfg.Products <= 0 {
		return Config{}, fmt.Errorf("ASKDB_DEMO_PRODUCTS must be > 0")
	}
	if cfg.Orders <= 0 {
		return Config{}, fmt.Errorf("ASKDB_DEMO_ORDERS must be > 0")
	}
	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("ASKDB_DEMO_HTTP_TIMEOUT must be > 0")
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.DatabasePath = strings.TrimSpace(cfg.DatabasePath)
	cfg.ConnectionName = strings.TrimSpace(cfg.ConnectionName)
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
