package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/askdb/askdb/internal/metastore"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping metastore db: %w", err)
	}
	return nil
}

func (r *Repository) CreateConnection(ctx context.Context, in metastore.CreateConnectionInput) (metastore.Connection, error) {
	query := `
INSERT INTO database_connection (name, conn_type, dsn, description)
VALUES ($1, $2, $3, $4)
RETURNING connection_id, created_at`

	conn := metastore.Connection{
		Name:        in.Name,
		Type:        in.Type,
		DSN:         in.DSN,
		Description: in.Description,
		Active:      true,
	}
	if err := r.db.QueryRowContext(ctx, query, in.Name, in.Type, in.DSN, in.Description).Scan(&conn.ConnectionID, &conn.CreatedAt); err != nil {
		return metastore.Connection{}, fmt.Errorf("create connection: %w", err)
	}
	return conn, nil
}

func (r *Repository) GetConnection(ctx context.Context, connectionID int64) (metastore.Connection, error) {
	query := `
SELECT connection_id, name, conn_type, dsn, description, active, created_at
FROM database_connection
WHERE connection_id = $1`
	return scanConnection(r.db.QueryRowContext(ctx, query, connectionID))
}

func (r *Repository) GetConnectionByName(ctx context.Context, name string) (metastore.Connection, error) {
	query := `
SELECT connection_id, name, conn_type, dsn, description, active, created_at
FROM database_connection
WHERE name = $1 AND active`
	return scanConnection(r.db.QueryRowContext(ctx, query, name))
}

func (r *Repository) ListConnections(ctx context.Context) ([]metastore.Connection, error) {
	query := `
SELECT connection_id, name, conn_type, dsn, description, active, created_at
FROM database_connection
WHERE active
ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conns := make([]metastore.Connection, 0)
	for rows.Next() {
		var conn metastore.Connection
		if err := rows.Scan(
			&conn.ConnectionID,
			&conn.Name,
			&conn.Type,
			&conn.DSN,
			&conn.Description,
			&conn.Active,
			&conn.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return conns, nil
}

func (r *Repository) DeactivateConnection(ctx context.Context, connectionID int64) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE database_connection
SET active = FALSE
WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("deactivate connection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate connection rows affected: %w", err)
	}
	if rows == 0 {
		return metastore.ErrNotFound
	}
	return nil
}

func (r *Repository) UpsertSemanticModel(ctx context.Context, in metastore.UpsertSemanticModelInput) (metastore.SemanticModel, error) {
	columns := in.ColumnDescriptionsJSON
	if len(columns) == 0 {
		columns = []byte("{}")
	}
	relationships := in.RelationshipsJSON
	if len(relationships) == 0 {
		relationships = []byte("[]")
	}
	glossary := in.GlossaryJSON
	if len(glossary) == 0 {
		glossary = []byte("{}")
	}
	examples := in.ExampleQueriesJSON
	if len(examples) == 0 {
		examples = []byte("[]")
	}

	query := `
INSERT INTO semantic_model (connection_id, table_name, description, column_descriptions, relationships, business_glossary, example_queries)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7::jsonb)
ON CONFLICT (connection_id, table_name)
DO UPDATE SET
    description = EXCLUDED.description,
    column_descriptions = EXCLUDED.column_descriptions,
    relationships = EXCLUDED.relationships,
    business_glossary = EXCLUDED.business_glossary,
    example_queries = EXCLUDED.example_queries,
    updated_at = NOW()
RETURNING model_id, created_at, updated_at`

	model := metastore.SemanticModel{
		ConnectionID:           in.ConnectionID,
		TableName:              in.TableName,
		Description:            in.Description,
		ColumnDescriptionsJSON: columns,
		RelationshipsJSON:      relationships,
		GlossaryJSON:           glossary,
		ExampleQueriesJSON:     examples,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ConnectionID,
		in.TableName,
		in.Description,
		string(columns),
		string(relationships),
		string(glossary),
		string(examples),
	).Scan(&model.ModelID, &model.CreatedAt, &model.UpdatedAt); err != nil {
		return metastore.SemanticModel{}, fmt.Errorf("upsert semantic model: %w", err)
	}
	return model, nil
}

func (r *Repository) GetSemanticModel(ctx context.Context, connectionID int64, tableName string) (metastore.SemanticModel, error) {
	query := `
SELECT model_id, connection_id, table_name, description, column_descriptions, relationships, business_glossary, example_queries, created_at, updated_at
FROM semantic_model
WHERE connection_id = $1 AND table_name = $2`

	var model metastore.SemanticModel
	if err := r.db.QueryRowContext(ctx, query, connectionID, tableName).Scan(
		&model.ModelID,
		&model.ConnectionID,
		&model.TableName,
		&model.Description,
		&model.ColumnDescriptionsJSON,
		&model.RelationshipsJSON,
		&model.GlossaryJSON,
		&model.ExampleQueriesJSON,
		&model.CreatedAt,
		&model.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metastore.SemanticModel{}, metastore.ErrNotFound
		}
		return metastore.SemanticModel{}, fmt.Errorf("get semantic model: %w", err)
	}
	return model, nil
}

func (r *Repository) ListSemanticModels(ctx context.Context, connectionID int64) ([]metastore.SemanticModel, error) {
	query := `
SELECT model_id, connection_id, table_name, description, column_descriptions, relationships, business_glossary, example_queries, created_at, updated_at
FROM semantic_model
WHERE connection_id = $1
ORDER BY table_name ASC`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list semantic models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	models := make([]metastore.SemanticModel, 0)
	for rows.Next() {
		var model metastore.SemanticModel
		if err := rows.Scan(
			&model.ModelID,
			&model.ConnectionID,
			&model.TableName,
			&model.Description,
			&model.ColumnDescriptionsJSON,
			&model.RelationshipsJSON,
			&model.GlossaryJSON,
			&model.ExampleQueriesJSON,
			&model.CreatedAt,
			&model.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan semantic model row: %w", err)
		}
		models = append(models, model)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate semantic model rows: %w", err)
	}
	return models, nil
}

func (r *Repository) DeleteSemanticModel(ctx context.Context, connectionID int64, tableName string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM semantic_model
WHERE connection_id = $1 AND table_name = $2`, connectionID, tableName)
	if err != nil {
		return false, fmt.Errorf("delete semantic model: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete semantic model rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) CreateLLMConfig(ctx context.Context, in metastore.CreateLLMConfigInput) (metastore.LLMConfig, error) {
	query := `
INSERT INTO llm_configuration (provider, model_name, api_key, base_url)
VALUES ($1, $2, $3, $4)
RETURNING config_id, created_at`

	cfg := metastore.LLMConfig{
		Provider:  in.Provider,
		ModelName: in.ModelName,
		APIKey:    in.APIKey,
		BaseURL:   in.BaseURL,
		Active:    false,
	}
	if err := r.db.QueryRowContext(ctx, query, in.Provider, in.ModelName, in.APIKey, in.BaseURL).Scan(&cfg.ConfigID, &cfg.CreatedAt); err != nil {
		return metastore.LLMConfig{}, fmt.Errorf("create llm config: %w", err)
	}
	return cfg, nil
}

func (r *Repository) ListLLMConfigs(ctx context.Context) ([]metastore.LLMConfig, error) {
	query := `
SELECT config_id, provider, model_name, api_key, base_url, active, created_at
FROM llm_configuration
ORDER BY config_id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list llm configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	configs := make([]metastore.LLMConfig, 0)
	for rows.Next() {
		var cfg metastore.LLMConfig
		if err := rows.Scan(
			&cfg.ConfigID,
			&cfg.Provider,
			&cfg.ModelName,
			&cfg.APIKey,
			&cfg.BaseURL,
			&cfg.Active,
			&cfg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan llm config row: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate llm config rows: %w", err)
	}
	return configs, nil
}

func (r *Repository) GetActiveLLMConfig(ctx context.Context) (metastore.LLMConfig, error) {
	query := `
SELECT config_id, provider, model_name, api_key, base_url, active, created_at
FROM llm_configuration
WHERE active
LIMIT 1`

	var cfg metastore.LLMConfig
	if err := r.db.QueryRowContext(ctx, query).Scan(
		&cfg.ConfigID,
		&cfg.Provider,
		&cfg.ModelName,
		&cfg.APIKey,
		&cfg.BaseURL,
		&cfg.Active,
		&cfg.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metastore.LLMConfig{}, metastore.ErrNotFound
		}
		return metastore.LLMConfig{}, fmt.Errorf("get active llm config: %w", err)
	}
	return cfg, nil
}

// ActivateLLMConfig flips the active flag to the given config in one
// transaction so readers never observe zero or two active rows.
func (r *Repository) ActivateLLMConfig(ctx context.Context, configID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE llm_configuration
SET active = FALSE
WHERE active`); err != nil {
		return fmt.Errorf("deactivate llm configs: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
UPDATE llm_configuration
SET active = TRUE
WHERE config_id = $1`, configID)
	if err != nil {
		return fmt.Errorf("activate llm config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("activate llm config rows affected: %w", err)
	}
	if rows == 0 {
		return metastore.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activate tx: %w", err)
	}
	return nil
}

func (r *Repository) DeleteLLMConfig(ctx context.Context, configID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM llm_configuration
WHERE config_id = $1`, configID)
	if err != nil {
		return false, fmt.Errorf("delete llm config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete llm config rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) CreateSession(ctx context.Context, in metastore.CreateSessionInput) (metastore.Session, error) {
	query := `
INSERT INTO chat_session (name, connection_id)
VALUES ($1, $2)
RETURNING session_id, created_at`

	session := metastore.Session{
		Name:         in.Name,
		ConnectionID: in.ConnectionID,
	}
	if err := r.db.QueryRowContext(ctx, query, in.Name, in.ConnectionID).Scan(&session.SessionID, &session.CreatedAt); err != nil {
		return metastore.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID int64) (metastore.Session, error) {
	query := `
SELECT session_id, name, connection_id, created_at
FROM chat_session
WHERE session_id = $1`

	var session metastore.Session
	if err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.Name,
		&session.ConnectionID,
		&session.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metastore.Session{}, metastore.ErrNotFound
		}
		return metastore.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (r *Repository) ListSessions(ctx context.Context, limit, offset int) ([]metastore.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
SELECT session_id, name, connection_id, created_at
FROM chat_session
ORDER BY session_id DESC
LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]metastore.Session, 0)
	for rows.Next() {
		var session metastore.Session
		if err := rows.Scan(&session.SessionID, &session.Name, &session.ConnectionID, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM chat_session
WHERE session_id = $1`, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) CreateMessage(ctx context.Context, in metastore.CreateMessageInput) (metastore.Message, error) {
	metadata := in.MetadataJSON
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	query := `
INSERT INTO chat_message (session_id, role, content, metadata)
VALUES ($1, $2, $3, $4::jsonb)
RETURNING message_id, created_at`

	message := metastore.Message{
		SessionID:    in.SessionID,
		Role:         in.Role,
		Content:      in.Content,
		MetadataJSON: metadata,
	}
	if err := r.db.QueryRowContext(ctx, query, in.SessionID, in.Role, in.Content, string(metadata)).Scan(&message.MessageID, &message.CreatedAt); err != nil {
		return metastore.Message{}, fmt.Errorf("create message: %w", err)
	}
	return message, nil
}

func (r *Repository) GetMessage(ctx context.Context, sessionID, messageID int64) (metastore.Message, error) {
	query := `
SELECT message_id, session_id, role, content, metadata, created_at
FROM chat_message
WHERE session_id = $1 AND message_id = $2`

	var message metastore.Message
	if err := r.db.QueryRowContext(ctx, query, sessionID, messageID).Scan(
		&message.MessageID,
		&message.SessionID,
		&message.Role,
		&message.Content,
		&message.MetadataJSON,
		&message.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metastore.Message{}, metastore.ErrNotFound
		}
		return metastore.Message{}, fmt.Errorf("get message: %w", err)
	}
	return message, nil
}

func (r *Repository) ListMessages(ctx context.Context, sessionID int64) ([]metastore.Message, error) {
	query := `
SELECT message_id, session_id, role, content, metadata, created_at
FROM chat_message
WHERE session_id = $1
ORDER BY message_id ASC`
	return r.queryMessages(ctx, query, sessionID)
}

// RecentMessages returns up to limit messages newest first. Callers that
// need chronological order reverse the slice.
func (r *Repository) RecentMessages(ctx context.Context, sessionID int64, limit int) ([]metastore.Message, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
SELECT message_id, session_id, role, content, metadata, created_at
FROM chat_message
WHERE session_id = $1
ORDER BY message_id DESC
LIMIT $2`
	return r.queryMessages(ctx, query, sessionID, limit)
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]metastore.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]metastore.Message, 0)
	for rows.Next() {
		var message metastore.Message
		if err := rows.Scan(
			&message.MessageID,
			&message.SessionID,
			&message.Role,
			&message.Content,
			&message.MetadataJSON,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func scanConnection(row *sql.Row) (metastore.Connection, error) {
	var conn metastore.Connection
	if err := row.Scan(
		&conn.ConnectionID,
		&conn.Name,
		&conn.Type,
		&conn.DSN,
		&conn.Description,
		&conn.Active,
		&conn.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metastore.Connection{}, metastore.ErrNotFound
		}
		return metastore.Connection{}, fmt.Errorf("scan connection: %w", err)
	}
	return conn, nil
}
