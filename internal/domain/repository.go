package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence: the transaction
// history agents and the scoring engine read, and the final assessments
// that outlive checkpoint retention.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByEntity(ctx context.Context, entityID string, since time.Time) ([]*Transaction, error)

	// Assessment operations
	SaveAssessment(ctx context.Context, a *RiskAssessment) error
	GetAssessment(ctx context.Context, entityID string) (*RiskAssessment, error)
	CountFlaggedAssessments(ctx context.Context, entityID string) (int, error)

	// Heuristic rule configuration
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
