// Package velocity computes rolling-window transaction counts per identifier.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store is the slice of the repository the velocity service reads.
type Store interface {
	CountTransactionsSince(ctx context.Context, identifier, token string, since time.Time) (int64, error)
	LastTransaction(ctx context.Context, identifier, token string) (*domain.Transaction, error)
}

// Window is a named look-back interval.
type Window struct {
	Feature string
	Span    time.Duration
}

// Windows are the counted look-back intervals, shortest first.
var Windows = []Window{
	{domain.FeatureCount1h, 60 * time.Minute},
	{domain.FeatureCount6h, 360 * time.Minute},
	{domain.FeatureCount24h, 1440 * time.Minute},
	{domain.FeatureCount7d, 10080 * time.Minute},
}

// Result holds the frequency features for one identifier.
type Result struct {
	Counts map[string]int64

	// Last is the most recent prior transaction, nil when there is none.
	Last *domain.Transaction

	// MinutesSinceLast is whole minutes elapsed since Last, -1 without Last.
	MinutesSinceLast int

	Status domain.ComponentStatus
}

// Apply copies the result into a feature map.
func (r *Result) Apply(features map[string]any) {
	for _, w := range Windows {
		features[w.Feature] = int(r.Counts[w.Feature])
	}
	if r.Last != nil {
		features[domain.FeatureLastLocation] = r.Last.Location
		features[domain.FeatureMinutesSinceLast] = r.MinutesSinceLast
	}
}

// Service calculates transaction velocity for identifiers.
type Service struct {
	store Store
}

// NewService creates a new velocity service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Extract counts prior transactions matching the identifier or its token in
// every window ending at now, and looks up the last transaction.
//
// Store failures never propagate: the result falls back to zero counts and
// no last transaction, with a degraded status.
func (s *Service) Extract(ctx context.Context, identifier, token string, now time.Time) *Result {
	res := &Result{
		Counts:           make(map[string]int64, len(Windows)),
		MinutesSinceLast: -1,
		Status:           domain.OK(domain.ComponentFrequency),
	}
	if s == nil || s.store == nil {
		res.Status = domain.Unavailable(domain.ComponentFrequency, "no transaction store")
		return res
	}

	counts := make([]int64, len(Windows))
	var last *domain.Transaction

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range Windows {
		g.Go(func() error {
			n, err := s.store.CountTransactionsSince(gctx, identifier, token, now.Add(-w.Span))
			if err != nil {
				return fmt.Errorf("%s: %w", w.Feature, err)
			}
			counts[i] = n
			return nil
		})
	}
	g.Go(func() error {
		tx, err := s.store.LastTransaction(gctx, identifier, token)
		if err != nil {
			return fmt.Errorf("last transaction: %w", err)
		}
		last = tx
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Warn("frequency extraction failed", "identifier_token", token, "error", err)
		for _, w := range Windows {
			res.Counts[w.Feature] = 0
		}
		res.Status = domain.Degraded(domain.ComponentFrequency, err.Error())
		return res
	}

	for i, w := range Windows {
		res.Counts[w.Feature] = counts[i]
	}
	if last != nil {
		res.Last = last
		res.MinutesSinceLast = max(0, int(now.Sub(last.Timestamp)/time.Minute))
	}
	return res
}
