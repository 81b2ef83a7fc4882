package seeder

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// Service builds a local SQLite warehouse full of deterministic demo data
// and registers it with a running API instance, including semantic models
// for every table so the agent has context to work with immediately.
type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	generator *Generator
}

type connectionCreateRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DSN         string `json:"dsn"`
	Description string `json:"description"`
}

type connectionResponse struct {
	ConnectionID int64  `json:"connection_id"`
	Name         string `json:"name"`
}

type connectionListResponse struct {
	Connections []connectionResponse `json:"connections"`
}

type semanticModelRequest struct {
	TableName          string            `json:"table_name"`
	Description        string            `json:"business_description"`
	ColumnDescriptions map[string]string `json:"column_descriptions"`
	Relationships      []string          `json:"relationships"`
	Glossary           map[string]string `json:"business_glossary"`
	ExampleQueries     []string          `json:"example_queries"`
}

func NewService(cfg Config, logger *slog.Logger, client *http.Client) (*Service, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if strings.TrimSpace(cfg.ConnectionName) == "" {
		return nil, fmt.Errorf("connection name is required")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed),
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.createDatabase(ctx); err != nil {
		return fmt.Errorf("create demo database: %w", err)
	}

	connectionID, err := s.registerConnection(ctx)
	if err != nil {
		return fmt.Errorf("register demo connection: %w", err)
	}

	if err := s.applySemanticModels(ctx, connectionID); err != nil {
		return fmt.Errorf("apply semantic models: %w", err)
	}

	s.log.Info(
		"demo warehouse ready",
		slog.String("database", s.cfg.DatabasePath),
		slog.String("connection", s.cfg.ConnectionName),
		slog.Int64("connection_id", connectionID),
		slog.Int("users", s.cfg.Users),
		slog.Int("products", s.cfg.Products),
		slog.Int("orders", s.cfg.Orders),
	)
	return nil
}

const demoSchema = `
CREATE TABLE users (
    user_id      INTEGER PRIMARY KEY,
    name         TEXT NOT NULL,
    email        TEXT NOT NULL UNIQUE,
    country      TEXT NOT NULL,
    signed_up_at TIMESTAMP NOT NULL
);

CREATE TABLE products (
    product_id INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    category   TEXT NOT NULL,
    price      REAL NOT NULL
);

CREATE TABLE orders (
    order_id   INTEGER PRIMARY KEY,
    user_id    INTEGER NOT NULL REFERENCES users (user_id),
    product_id INTEGER NOT NULL REFERENCES products (product_id),
    quantity   INTEGER NOT NULL,
    amount     REAL NOT NULL,
    status     TEXT NOT NULL,
    ordered_at TIMESTAMP NOT NULL
);

CREATE INDEX idx_orders_user ON orders (user_id);
CREATE INDEX idx_orders_product ON orders (product_id);
`

func (s *Service) createDatabase(ctx context.Context) error {
	if err := os.Remove(s.cfg.DatabasePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale database: %w", err)
	}

	db, err := sql.Open("sqlite", s.cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, demoSchema); err != nil {
		return fmt.Errorf("apply demo schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	users := make([]User, 0, s.cfg.Users)
	insertUser, err := tx.PrepareContext(ctx, `INSERT INTO users (user_id, name, email, country, signed_up_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = insertUser.Close() }()
	for i := 0; i < s.cfg.Users; i++ {
		user := s.generator.NextUser()
		if _, err := insertUser.ExecContext(ctx, user.UserID, user.Name, user.Email, user.Country, user.SignedUpAt); err != nil {
			return fmt.Errorf("insert user %d: %w", user.UserID, err)
		}
		users = append(users, user)
	}

	products := make([]Product, 0, s.cfg.Products)
	insertProduct, err := tx.PrepareContext(ctx, `INSERT INTO products (product_id, name, category, price) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = insertProduct.Close() }()
	for i := 0; i < s.cfg.Products; i++ {
		product := s.generator.NextProduct()
		if _, err := insertProduct.ExecContext(ctx, product.ProductID, product.Name, product.Category, product.Price); err != nil {
			return fmt.Errorf("insert product %d: %w", product.ProductID, err)
		}
		products = append(products, product)
	}

	insertOrder, err := tx.PrepareContext(ctx, `INSERT INTO orders (order_id, user_id, product_id, quantity, amount, status, ordered_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = insertOrder.Close() }()
	for i := 0; i < s.cfg.Orders; i++ {
		order := s.generator.NextOrder(users, products)
		if _, err := insertOrder.ExecContext(ctx, order.OrderID, order.UserID, order.ProductID, order.Quantity, order.Amount, order.Status, order.OrderedAt); err != nil {
			return fmt.Errorf("insert order %d: %w", order.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	return nil
}

func (s *Service) registerConnection(ctx context.Context) (int64, error) {
	var listed connectionListResponse
	status, body, err := s.doJSON(ctx, http.MethodGet, "/v1/connections", nil, &listed)
	if err != nil {
		return 0, fmt.Errorf("list connections: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("list connections failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}
	for _, conn := range listed.Connections {
		if conn.Name == s.cfg.ConnectionName {
			s.log.Info("demo connection already registered", slog.String("name", conn.Name), slog.Int64("connection_id", conn.ConnectionID))
			return conn.ConnectionID, nil
		}
	}

	req := connectionCreateRequest{
		Name:        s.cfg.ConnectionName,
		Type:        "sqlite",
		DSN:         s.cfg.DatabasePath,
		Description: "Seeded demo warehouse with users, products and orders",
	}
	var created connectionResponse
	status, body, err = s.doJSON(ctx, http.MethodPost, "/v1/connections", req, &created)
	if err != nil {
		return 0, fmt.Errorf("create connection: %w", err)
	}
	if status != http.StatusCreated {
		return 0, fmt.Errorf("create connection failed with status %d: %s", status, strings.TrimSpace(string(body)))
	}
	s.log.Info("registered demo connection", slog.String("name", created.Name), slog.Int64("connection_id", created.ConnectionID))
	return created.ConnectionID, nil
}

func (s *Service) applySemanticModels(ctx context.Context, connectionID int64) error {
	for _, model := range demoModels() {
		path := fmt.Sprintf("/v1/connections/%d/semantic-models", connectionID)
		status, body, err := s.doJSON(ctx, http.MethodPost, path, model, nil)
		if err != nil {
			return fmt.Errorf("upsert semantic model for %s: %w", model.TableName, err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("upsert semantic model for %s failed with status %d: %s", model.TableName, status, strings.TrimSpace(string(body)))
		}
		s.log.Info("applied semantic model", slog.String("table", model.TableName))
	}
	return nil
}

func demoModels() []semanticModelRequest {
	return []semanticModelRequest{
		{
			TableName:   "users",
			Description: "Registered shop customers. One row per account.",
			ColumnDescriptions: map[string]string{
				"user_id":      "Primary key.",
				"name":         "Full display name.",
				"email":        "Unique login email.",
				"country":      "ISO 3166-1 alpha-2 country code.",
				"signed_up_at": "Account creation timestamp in UTC.",
			},
			Relationships: []string{"users.user_id is referenced by orders.user_id"},
			Glossary: map[string]string{
				"active user": "a user with at least one order in the last 90 days",
			},
			ExampleQueries: []string{
				"How many users signed up in each country?",
				"How many new users joined in the last 30 days?",
			},
		},
		{
			TableName:   "products",
			Description: "Product catalog with current list prices.",
			ColumnDescriptions: map[string]string{
				"product_id": "Primary key.",
				"name":       "Product display name.",
				"category":   "Merchandising category.",
				"price":      "List price per unit in USD.",
			},
			Relationships: []string{"products.product_id is referenced by orders.product_id"},
			Glossary: map[string]string{
				"list price": "the undiscounted per-unit price of a product",
			},
			ExampleQueries: []string{
				"What is the average price per category?",
			},
		},
		{
			TableName:   "orders",
			Description: "One row per order line. Amount is quantity times the list price at order time.",
			ColumnDescriptions: map[string]string{
				"order_id":   "Primary key.",
				"user_id":    "Ordering user, references users.user_id.",
				"product_id": "Ordered product, references products.product_id.",
				"quantity":   "Units ordered.",
				"amount":     "Total line amount in USD.",
				"status":     "One of pending, paid, shipped, cancelled.",
				"ordered_at": "Order timestamp in UTC.",
			},
			Relationships: []string{
				"orders.user_id references users.user_id",
				"orders.product_id references products.product_id",
			},
			Glossary: map[string]string{
				"revenue": "sum of amount for orders with status paid or shipped",
			},
			ExampleQueries: []string{
				"What was total revenue in the last 7 days?",
				"Which 5 products generated the most revenue?",
			},
		},
	}
}

func (s *Service) doJSON(ctx context.Context, method, path string, requestBody any, responseBody any) (int, []byte, error) {
	var payload io.Reader
	if requestBody != nil {
		raw, err := json.Marshal(requestBody)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	if responseBody != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}
