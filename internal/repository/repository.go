// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/security"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrAlreadyBlocked = errors.New("transaction already blocked")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers. Feature and explanation
// payloads pass through the field cipher on the way in and out.
type SQLRepository struct {
	db     *sql.DB
	driver string
	cipher *security.FieldCipher
}

// New creates a new repository based on configuration. A nil cipher stores
// payloads as plaintext.
func New(cfg domain.RepositoryConfig, cipher *security.FieldCipher) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cipher == nil {
		cipher = &security.FieldCipher{}
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		cipher: cipher,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the connection pool for stats collection.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

const transactionColumns = `
	id, timestamp, identifier, identifier_token, amount, merchant, category, location,
	risk_score, status, indicators_json, blocked, blocked_by, blocked_timestamp,
	explanation_encrypted, features_encrypted
`

// SaveTransaction encrypts the payload columns, inserts the row and returns
// the id assigned by the database.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) (int64, error) {
	if tx == nil || tx.Identifier == "" {
		return 0, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}

	indicators := tx.Indicators
	if indicators == nil {
		indicators = []domain.Indicator{}
	}
	indicatorsJSON, err := json.Marshal(indicators)
	if err != nil {
		return 0, fmt.Errorf("failed to encode indicators: %w", err)
	}

	features := tx.Features
	if features == nil {
		features = map[string]any{}
	}
	sealedFeatures, err := r.cipher.SealJSON(features)
	if err != nil {
		return 0, fmt.Errorf("failed to seal features: %w", err)
	}

	var sealedExplanation sql.NullString
	if tx.Explanation != nil {
		s, err := r.cipher.SealJSON(tx.Explanation)
		if err != nil {
			return 0, fmt.Errorf("failed to seal explanation: %w", err)
		}
		sealedExplanation = sql.NullString{String: s, Valid: true}
	}

	var blockedBy sql.NullString
	var blockedAt sql.NullTime
	if tx.Blocked {
		blockedBy = sql.NullString{String: tx.BlockedBy, Valid: tx.BlockedBy != ""}
		if tx.BlockedAt != nil {
			blockedAt = sql.NullTime{Time: dbTime(*tx.BlockedAt), Valid: true}
		}
	}

	query := `
		INSERT INTO transactions (
			timestamp, identifier, identifier_token, amount, merchant, category, location,
			risk_score, status, indicators_json, blocked, blocked_by, blocked_timestamp,
			explanation_encrypted, features_encrypted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`

	var id int64
	err = r.db.QueryRowContext(ctx, r.rebind(query),
		dbTime(tx.Timestamp), tx.Identifier, tx.IdentifierToken, tx.Amount,
		tx.Merchant, tx.Category, tx.Location,
		tx.RiskScore, tx.Status, string(indicatorsJSON), boolToInt(tx.Blocked),
		blockedBy, blockedAt, sealedExplanation, sealedFeatures,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := r.scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// LastTransaction returns the most recent transaction (by descending id)
// matching the identifier or its token. It returns nil, nil when there is none.
func (r *SQLRepository) LastTransaction(ctx context.Context, identifier, token string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE identifier = ? OR identifier_token = ?
		ORDER BY id DESC
		LIMIT 1
	`

	tx, err := r.scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), identifier, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tx, err
}

// CountTransactionsSince counts transactions for the identifier (raw or
// tokenized) strictly after since.
func (r *SQLRepository) CountTransactionsSince(ctx context.Context, identifier, token string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE (identifier = ? OR identifier_token = ?)
		  AND timestamp > ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), identifier, token, dbTime(since)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// ListTransactions returns the full history in ascending id order.
func (r *SQLRepository) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY id ASC`
	return r.queryTransactions(ctx, query)
}

// RecentTransactions returns up to limit transactions, newest first.
func (r *SQLRepository) RecentTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions ORDER BY id DESC LIMIT ?`
	return r.queryTransactions(ctx, query, limit)
}

// MarkBlocked blocks a transaction that is not blocked yet.
// It returns ErrAlreadyBlocked if the row was blocked before, by anyone.
func (r *SQLRepository) MarkBlocked(ctx context.Context, id int64, actor string, at time.Time) error {
	if actor == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	query := `
		UPDATE transactions
		SET blocked = 1, blocked_by = ?, blocked_timestamp = ?
		WHERE id = ? AND blocked = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), actor, dbTime(at), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM transactions WHERE id = ?`), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyBlocked
}

// ClearTransactions deletes every transaction row and returns how many
// were removed.
func (r *SQLRepository) ClearTransactions(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM transactions`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AppendAudit writes an audit entry and sets its ID.
func (r *SQLRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	if entry == nil || entry.Action == "" || entry.Actor == "" {
		return fmt.Errorf("%w: action and actor are required", ErrInvalidInput)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO audit_log (timestamp, action, actor, details_json)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`

	return r.db.QueryRowContext(ctx, r.rebind(query),
		dbTime(entry.Timestamp), entry.Action, entry.Actor, string(detailsJSON),
	).Scan(&entry.ID)
}

// ListAudit returns up to limit audit entries, newest first.
func (r *SQLRepository) ListAudit(ctx context.Context, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidInput)
	}

	query := `
		SELECT id, timestamp, action, actor, details_json
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var details string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Actor, &details); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to parse audit details for %d: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// GetReputation retrieves the stored reputation for a token.
func (r *SQLRepository) GetReputation(ctx context.Context, token string) (*domain.VPAReputation, error) {
	query := `
		SELECT token, flag_count, reputation_score, reasons_json, updated_at
		FROM vpa_reputation
		WHERE token = ?
	`

	var rep domain.VPAReputation
	var reasons string

	err := r.db.QueryRowContext(ctx, r.rebind(query), token).Scan(
		&rep.Token, &rep.FlagCount, &rep.ReputationScore, &reasons, &rep.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reasons), &rep.Reasons); err != nil {
		return nil, fmt.Errorf("failed to parse reputation reasons: %w", err)
	}

	return &rep, nil
}

// UpsertReputation inserts or replaces the reputation for a token.
func (r *SQLRepository) UpsertReputation(ctx context.Context, rep *domain.VPAReputation) error {
	if rep == nil || rep.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	if rep.ReputationScore < 0 || rep.ReputationScore > 1 {
		return fmt.Errorf("%w: reputation_score must be within [0,1]", ErrInvalidInput)
	}

	reasons := rep.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, _ := json.Marshal(reasons)

	if rep.UpdatedAt.IsZero() {
		rep.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO vpa_reputation (token, flag_count, reputation_score, reasons_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			flag_count = excluded.flag_count,
			reputation_score = excluded.reputation_score,
			reasons_json = excluded.reasons_json,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rep.Token, rep.FlagCount, rep.ReputationScore, string(reasonsJSON), dbTime(rep.UpdatedAt),
	)
	return err
}

// GetProfile retrieves a user profile by identifier.
func (r *SQLRepository) GetProfile(ctx context.Context, identifier string) (*domain.UserProfile, error) {
	query := `SELECT profile_json FROM user_profiles WHERE identifier = ?`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), identifier).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var profile domain.UserProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", identifier, err)
	}
	profile.Identifier = identifier

	return &profile, nil
}

// SaveProfile inserts or replaces a user profile.
func (r *SQLRepository) SaveProfile(ctx context.Context, profile *domain.UserProfile) error {
	if profile == nil || profile.Identifier == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if profile.Transactions == nil {
		profile.Transactions = []domain.ProfileEntry{}
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	query := `
		INSERT INTO user_profiles (identifier, profile_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			profile_json = excluded.profile_json,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), profile.Identifier, string(data), dbTime(time.Now()))
	return err
}

// ListProfileIdentifiers returns every identifier that has a profile.
func (r *SQLRepository) ListProfileIdentifiers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT identifier FROM user_profiles ORDER BY identifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// scanTransaction reads one row in transactionColumns order. Payloads that
// fail to decrypt are dropped with a warning rather than failing the read.
func (r *SQLRepository) scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var indicators, features string
	var blocked int
	var blockedBy, explanation sql.NullString
	var blockedAt sql.NullTime

	if err := row.Scan(
		&tx.ID, &tx.Timestamp, &tx.Identifier, &tx.IdentifierToken, &tx.Amount,
		&tx.Merchant, &tx.Category, &tx.Location,
		&tx.RiskScore, &tx.Status, &indicators, &blocked, &blockedBy, &blockedAt,
		&explanation, &features,
	); err != nil {
		return nil, err
	}

	tx.Timestamp = tx.Timestamp.UTC()
	tx.Blocked = blocked == 1
	tx.BlockedBy = blockedBy.String
	if blockedAt.Valid {
		at := blockedAt.Time.UTC()
		tx.BlockedAt = &at
	}

	if err := json.Unmarshal([]byte(indicators), &tx.Indicators); err != nil {
		return nil, fmt.Errorf("failed to parse indicators for %d: %w", tx.ID, err)
	}

	if err := r.cipher.OpenJSON(features, &tx.Features); err != nil {
		slog.Warn("failed to open transaction features", "tx_id", tx.ID, "error", err)
		tx.Features = nil
	}

	if explanation.Valid {
		var exp domain.Explanation
		if err := r.cipher.OpenJSON(explanation.String, &exp); err != nil {
			slog.Warn("failed to open transaction explanation", "tx_id", tx.ID, "error", err)
		} else {
			tx.Explanation = &exp
		}
	}

	return &tx, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// dbTime normalizes timestamps to UTC at microsecond precision, the finest
// resolution PostgreSQL keeps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
