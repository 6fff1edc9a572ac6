// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Implementations encrypt feature and explanation payloads at rest.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) (int64, error)
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	LastTransaction(ctx context.Context, identifier, token string) (*Transaction, error)
	CountTransactionsSince(ctx context.Context, identifier, token string, since time.Time) (int64, error)
	ListTransactions(ctx context.Context) ([]*Transaction, error)
	RecentTransactions(ctx context.Context, limit int) ([]*Transaction, error)
	MarkBlocked(ctx context.Context, id int64, actor string, at time.Time) error
	ClearTransactions(ctx context.Context) (int64, error)

	// Audit log (append-only)
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	// Reputation
	GetReputation(ctx context.Context, token string) (*VPAReputation, error)
	UpsertReputation(ctx context.Context, rep *VPAReputation) error

	// User profiles
	GetProfile(ctx context.Context, identifier string) (*UserProfile, error)
	SaveProfile(ctx context.Context, profile *UserProfile) error
	ListProfileIdentifiers(ctx context.Context) ([]string, error)

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

	// PostgreSQL specific. PostgresURL, when set, overrides the fields below.
	PostgresURL      string
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
