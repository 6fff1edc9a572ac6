package scoring

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

var (
	ErrUnauthorized  = errors.New("admin token required")
	ErrNoExplanation = errors.New("no explanation stored for transaction")
	ErrUnavailable   = errors.New("component not configured")
)

// DefaultOperator is recorded when a block names no operator.
const DefaultOperator = "operator"

// ClearMessage accompanies the clear event.
const ClearMessage = "All transactions cleared by operator"

// Recent list bounds.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Block marks a transaction blocked by an operator. A transaction can be
// blocked only once, so auto-blocked rows are rejected with
// repository.ErrAlreadyBlocked.
func (s *Scorer) Block(ctx context.Context, id int64, actor string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "scoring.Block")
	defer span.End()

	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = DefaultOperator
	}
	if actor == domain.SystemActor {
		return nil, fmt.Errorf("%w: %q is reserved for automatic blocks", ErrInvalidRequest, actor)
	}

	if err := s.repo.MarkBlocked(ctx, id, actor, s.now().UTC()); err != nil {
		return nil, err
	}

	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.BlocksTotal.WithLabelValues("operator").Inc()
	s.audit(ctx, domain.AuditOperatorBlock, actor, map[string]any{
		"tx_id":      id,
		"blocked_by": actor,
	})
	s.publish(ctx, &domain.Event{
		Type:        domain.EventBlocked,
		Transaction: tx,
		Timestamp:   s.now().UTC(),
	})

	span.SetAttributes(attribute.Int64("tx.id", id))
	slog.Info("transaction blocked", "tx_id", id, "blocked_by", actor)
	return tx, nil
}

// Transaction returns one stored transaction.
func (s *Scorer) Transaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// Explanation returns the stored explanation of a transaction.
func (s *Scorer) Explanation(ctx context.Context, id int64) (*domain.Explanation, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Explanation == nil {
		return nil, ErrNoExplanation
	}
	return tx.Explanation, nil
}

// Recent returns the newest transactions first. limit is clamped to
// [1, MaxRecentLimit]; zero or less selects DefaultRecentLimit.
func (s *Scorer) Recent(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)
	return s.repo.RecentTransactions(ctx, limit)
}

// ClearResult reports what a bulk clear removed.
type ClearResult struct {
	Transactions int64 `json:"transactions"`
	Profiles     int   `json:"profiles"`
	Protected    bool  `json:"protected"`
}

// ClearHistory deletes every transaction and empties every profile
// history. When an admin token is configured the caller must present it.
// The analytics snapshot is not rebuilt.
func (s *Scorer) ClearHistory(ctx context.Context, token, remoteAddr string) (*ClearResult, error) {
	ctx, span := tracer.Start(ctx, "scoring.ClearHistory")
	defer span.End()

	protected, err := s.authorize(token)
	if err != nil {
		slog.Warn("clear rejected", "remote_addr", remoteAddr)
		return nil, err
	}

	removed, err := s.repo.ClearTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to clear transactions: %w", err)
	}

	res := &ClearResult{Transactions: removed, Protected: protected}
	if s.profiles != nil {
		n, err := s.profiles.ClearAll(ctx)
		if err != nil {
			slog.Error("failed to clear profiles", "error", err)
		}
		res.Profiles = n
	}

	s.audit(ctx, domain.AuditClear, "admin", map[string]any{
		"remote_addr": remoteAddr,
		"protected":   protected,
	})
	s.publish(ctx, &domain.Event{
		Type:      domain.EventClear,
		Message:   ClearMessage,
		Timestamp: s.now().UTC(),
	})

	slog.Info("transaction history cleared",
		"transactions", res.Transactions,
		"profiles", res.Profiles,
		"protected", protected,
	)
	return res, nil
}

// Heartbeat records that identifier is active.
func (s *Scorer) Heartbeat(ctx context.Context, identifier string) (*domain.UserProfile, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}
	if s.profiles == nil {
		return nil, fmt.Errorf("%w: profile store", ErrUnavailable)
	}
	return s.profiles.Touch(ctx, identifier, s.now().UTC())
}

// Profile returns the identifier's profile; unknown identifiers have an
// empty one.
func (s *Scorer) Profile(ctx context.Context, identifier string) (*domain.UserProfile, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", ErrInvalidRequest)
	}
	if s.profiles == nil {
		return nil, fmt.Errorf("%w: profile store", ErrUnavailable)
	}
	return s.profiles.Get(ctx, identifier)
}

// RefreshAnalytics rebuilds the graph and anomaly snapshot from the
// current history. It is gated like ClearHistory.
func (s *Scorer) RefreshAnalytics(ctx context.Context, token string) (analytics.Stats, error) {
	ctx, span := tracer.Start(ctx, "scoring.RefreshAnalytics")
	defer span.End()

	if _, err := s.authorize(token); err != nil {
		return analytics.Stats{}, err
	}
	if s.analytics == nil {
		return analytics.Stats{}, fmt.Errorf("%w: analytics", ErrUnavailable)
	}

	snap, err := s.analytics.Refresh(ctx)
	if err != nil {
		metrics.AnalyticsRefreshes.WithLabelValues("error").Inc()
		return analytics.Stats{}, err
	}
	metrics.AnalyticsRefreshes.WithLabelValues("ok").Inc()

	stats := snap.Stats()
	s.audit(ctx, domain.AuditAnalyticsRefresh, "admin", map[string]any{
		"rows":    stats.Rows,
		"trained": stats.Trained,
	})
	return stats, nil
}

// authorize checks token against the admin token. It reports whether the
// operation is protected at all.
func (s *Scorer) authorize(token string) (bool, error) {
	if s.adminToken == "" {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return true, ErrUnauthorized
	}
	return true, nil
}
