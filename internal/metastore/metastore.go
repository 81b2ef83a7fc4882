package metastore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("metastore: not found")

// Message roles stored in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Repository is the persistence surface for application state: registered
// database connections, their semantic models, LLM provider configurations,
// and chat history.
type Repository interface {
	HealthCheck(ctx context.Context) error

	CreateConnection(ctx context.Context, in CreateConnectionInput) (Connection, error)
	GetConnection(ctx context.Context, connectionID int64) (Connection, error)
	GetConnectionByName(ctx context.Context, name string) (Connection, error)
	ListConnections(ctx context.Context) ([]Connection, error)
	DeactivateConnection(ctx context.Context, connectionID int64) error

	UpsertSemanticModel(ctx context.Context, in UpsertSemanticModelInput) (SemanticModel, error)
	GetSemanticModel(ctx context.Context, connectionID int64, tableName string) (SemanticModel, error)
	ListSemanticModels(ctx context.Context, connectionID int64) ([]SemanticModel, error)
	DeleteSemanticModel(ctx context.Context, connectionID int64, tableName string) (bool, error)

	CreateLLMConfig(ctx context.Context, in CreateLLMConfigInput) (LLMConfig, error)
	ListLLMConfigs(ctx context.Context) ([]LLMConfig, error)
	GetActiveLLMConfig(ctx context.Context) (LLMConfig, error)
	ActivateLLMConfig(ctx context.Context, configID int64) error
	DeleteLLMConfig(ctx context.Context, configID int64) (bool, error)

	CreateSession(ctx context.Context, in CreateSessionInput) (Session, error)
	GetSession(ctx context.Context, sessionID int64) (Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]Session, error)
	DeleteSession(ctx context.Context, sessionID int64) (bool, error)

	CreateMessage(ctx context.Context, in CreateMessageInput) (Message, error)
	GetMessage(ctx context.Context, sessionID, messageID int64) (Message, error)
	ListMessages(ctx context.Context, sessionID int64) ([]Message, error)
	RecentMessages(ctx context.Context, sessionID int64, limit int) ([]Message, error)
}

// Connection is a registered target database the agent can query.
type Connection struct {
	ConnectionID int64
	Name         string
	Type         string
	DSN          string
	Description  string
	Active       bool
	CreatedAt    time.Time
}

// SemanticModel captures the business context curated for one table of a
// connection. The JSON columns are stored verbatim; callers decode them.
type SemanticModel struct {
	ModelID                int64
	ConnectionID           int64
	TableName              string
	Description            string
	ColumnDescriptionsJSON []byte
	RelationshipsJSON      []byte
	GlossaryJSON           []byte
	ExampleQueriesJSON     []byte
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// LLMConfig selects one provider/model pair. At most one row is active.
type LLMConfig struct {
	ConfigID  int64
	Provider  string
	ModelName string
	APIKey    string
	BaseURL   string
	Active    bool
	CreatedAt time.Time
}

type Session struct {
	SessionID    int64
	Name         string
	ConnectionID *int64
	CreatedAt    time.Time
}

type Message struct {
	MessageID    int64
	SessionID    int64
	Role         string
	Content      string
	MetadataJSON []byte
	CreatedAt    time.Time
}

type CreateConnectionInput struct {
	Name        string
	Type        string
	DSN         string
	Description string
}

type UpsertSemanticModelInput struct {
	ConnectionID           int64
	TableName              string
	Description            string
	ColumnDescriptionsJSON []byte
	RelationshipsJSON      []byte
	GlossaryJSON           []byte
	ExampleQueriesJSON     []byte
}

type CreateLLMConfigInput struct {
	Provider  string
	ModelName string
	APIKey    string
	BaseURL   string
}

type CreateSessionInput struct {
	Name         string
	ConnectionID *int64
}

type CreateMessageInput struct {
	SessionID    int64
	Role         string
	Content      string
	MetadataJSON []byte
}
