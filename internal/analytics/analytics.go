// Package analytics derives graph degrees and an isolation-forest anomaly
// score from transaction history.
//
// A Snapshot is built from the full history and never changes afterwards.
// Degrees therefore go stale as new transactions arrive until the Service
// is refreshed.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MinTrainingRows is the history size below which no model is fitted.
const MinTrainingRows = 5

var ErrDataInsufficient = errors.New("insufficient history to fit anomaly model")

// Snapshot is an immutable view of the account-merchant graph and the
// anomaly model fitted on it.
type Snapshot struct {
	graph  *bipartite
	forest *IsolationForest // nil when untrained

	minRaw, maxRaw float64

	rows    int
	builtAt time.Time
	status  domain.ComponentStatus
}

// Stats summarizes a snapshot.
type Stats struct {
	Rows    int                    `json:"rows"`
	Nodes   int                    `json:"nodes"`
	Edges   int                    `json:"edges"`
	Trained bool                   `json:"trained"`
	BuiltAt time.Time              `json:"built_at"`
	Status  domain.ComponentStatus `json:"status"`
}

// Features are the analytics outputs for one transaction.
type Features struct {
	AccountDegree  int
	MerchantDegree int
	AnomalyScore   float64
	Status         domain.ComponentStatus
}

// Apply copies the features into a feature map.
func (f Features) Apply(features map[string]any) {
	features[domain.FeatureAccountDegree] = f.AccountDegree
	features[domain.FeatureMerchantDegree] = f.MerchantDegree
	features[domain.FeatureAnomalyScore] = f.AnomalyScore
}

// historyHour prefers the hour recorded at scoring time over the timestamp.
func historyHour(tx *domain.Transaction) float64 {
	if h, ok := tx.FeatureFloat(domain.FeatureHour); ok {
		return h
	}
	return float64(tx.Timestamp.Hour())
}

// Build constructs a snapshot from history. With fewer than
// MinTrainingRows rows, or when fitting fails, the graph is built but no
// model is fitted and the snapshot status is degraded.
func Build(history []*domain.Transaction, opts ForestOptions, now time.Time) (*Snapshot, error) {
	g := newBipartite()
	for _, tx := range history {
		g.link(AccountKey(tx.Identifier), MerchantKey(tx.Merchant))
	}

	s := &Snapshot{
		graph:   g,
		rows:    len(history),
		builtAt: now,
		status:  domain.OK(domain.ComponentAnalytics),
	}

	if len(history) < MinTrainingRows {
		s.status = domain.Degraded(domain.ComponentAnalytics,
			fmt.Sprintf("%s: %d rows", ErrDataInsufficient, len(history)))
		return s, nil
	}

	// Degrees come from the finished graph, so every row sees final counts.
	rows := make([][]float64, len(history))
	for i, tx := range history {
		rows[i] = []float64{
			tx.Amount,
			historyHour(tx),
			float64(g.degree(AccountKey(tx.Identifier))),
			float64(g.degree(MerchantKey(tx.Merchant))),
		}
	}

	// A failed fit keeps the graph and drops only the anomaly model.
	forest, err := FitIsolationForest(rows, opts)
	if err != nil {
		slog.Warn("isolation forest fit failed, serving graph degrees only", "rows", len(history), "error", err)
		s.status = domain.Degraded(domain.ComponentAnalytics, "failed to fit isolation forest: "+err.Error())
		return s, nil
	}

	s.forest = forest
	s.minRaw, s.maxRaw = math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		raw, _ := forest.Decision(r)
		s.minRaw = math.Min(s.minRaw, raw)
		s.maxRaw = math.Max(s.maxRaw, raw)
	}

	return s, nil
}

// Trained reports whether an anomaly model was fitted.
func (s *Snapshot) Trained() bool {
	return s != nil && s.forest != nil
}

// Stats returns the snapshot summary.
func (s *Snapshot) Stats() Stats {
	return Stats{
		Rows:    s.rows,
		Nodes:   s.graph.nodes(),
		Edges:   s.graph.edges(),
		Trained: s.Trained(),
		BuiltAt: s.builtAt,
		Status:  s.status,
	}
}

// Score computes degrees and the anomaly score of a new transaction
// against the snapshot. The anomaly score is in [0,1], higher meaning more
// anomalous, and exactly 0 when no model is fitted.
func (s *Snapshot) Score(identifier, merchant string, amount float64, hour int) Features {
	f := Features{
		AccountDegree:  s.graph.degree(AccountKey(identifier)),
		MerchantDegree: s.graph.degree(MerchantKey(merchant)),
		Status:         s.status,
	}
	if !s.Trained() {
		return f
	}

	raw, err := s.forest.Decision([]float64{
		amount,
		float64(hour),
		float64(f.AccountDegree),
		float64(f.MerchantDegree),
	})
	if err != nil || math.IsNaN(raw) {
		return Features{Status: domain.Degraded(domain.ComponentAnalytics, "anomaly inference failed")}
	}

	norm := 0.5
	if s.maxRaw > s.minRaw {
		norm = (raw - s.minRaw) / (s.maxRaw - s.minRaw)
	}
	f.AnomalyScore = math.Max(0, math.Min(1, 1-norm))
	return f
}

// HistoryStore lists every persisted transaction in id order.
type HistoryStore interface {
	ListTransactions(ctx context.Context) ([]*domain.Transaction, error)
}

// Service owns the current snapshot. Readers always see a complete
// snapshot; Refresh swaps in a new one atomically.
type Service struct {
	store   HistoryStore
	opts    ForestOptions
	now     func() time.Time
	current atomic.Pointer[Snapshot]
	group   singleflight.Group
}

// NewService creates a service that builds its first snapshot lazily.
func NewService(store HistoryStore, opts ForestOptions) *Service {
	return &Service{
		store: store,
		opts:  opts,
		now:   time.Now,
	}
}

// Snapshot returns the current snapshot, building it on first use.
// Concurrent first callers share a single build. The first build happens
// once: if history cannot be loaded an empty degraded snapshot is
// published and stays until Refresh.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := s.current.Load(); snap != nil {
		return snap, nil
	}

	v, _, _ := s.group.Do("init", func() (any, error) {
		if snap := s.current.Load(); snap != nil {
			return snap, nil
		}
		snap, err := s.build(context.WithoutCancel(ctx))
		if err != nil {
			slog.Warn("analytics history unavailable, serving empty snapshot until refresh", "error", err)
			snap = emptySnapshot(s.now(), err)
		}
		s.current.CompareAndSwap(nil, snap)
		return s.current.Load(), nil
	})
	return v.(*Snapshot), nil
}

func emptySnapshot(now time.Time, cause error) *Snapshot {
	return &Snapshot{
		graph:   newBipartite(),
		builtAt: now,
		status:  domain.Degraded(domain.ComponentAnalytics, cause.Error()),
	}
}

// Refresh rebuilds the snapshot from the current history and publishes it.
// Concurrent refreshes share a single build. The previous snapshot stays
// in place if the build fails.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		snap, err := s.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.current.Store(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (s *Service) build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	history, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	snap, err := Build(history, s.opts, s.now())
	if err != nil {
		return nil, err
	}

	stats := snap.Stats()
	slog.Info("analytics snapshot built",
		"rows", stats.Rows,
		"nodes", stats.Nodes,
		"edges", stats.Edges,
		"trained", stats.Trained,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snap, nil
}

// Score enriches one transaction from the current snapshot. Failures yield
// zero degrees and a zero anomaly score with a degraded status.
func (s *Service) Score(ctx context.Context, identifier, merchant string, amount float64, hour int) Features {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Features{Status: domain.Degraded(domain.ComponentAnalytics, err.Error())}
	}
	return snap.Score(identifier, merchant, amount, hour)
}
