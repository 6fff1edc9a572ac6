package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/security"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

var tracer = otel.Tracer("kestrel-scoring")

// Publisher delivers scoring events to stream subscribers.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// Deps are the components a Scorer wires together. Repo and Tokenizer are
// required; any other nil component is reported as unavailable.
type Deps struct {
	Repo      domain.Repository
	Tokenizer *security.Tokenizer
	Velocity  *velocity.Service
	Analytics *analytics.Service
	Rules     *rules.Engine
	Voter     *ensemble.Voter
	Profiles  *profile.Store
	Publisher Publisher

	// EncryptionEnabled reports whether the repository seals payloads.
	EncryptionEnabled bool

	// AdminToken gates destructive operations. Empty leaves them open.
	AdminToken string
}

// Scorer runs the scoring pipeline and the operator actions around it.
type Scorer struct {
	repo       domain.Repository
	tokenizer  *security.Tokenizer
	velocity   *velocity.Service
	analytics  *analytics.Service
	rules      *rules.Engine
	voter      *ensemble.Voter
	profiles   *profile.Store
	publisher  Publisher
	encryption bool
	adminToken string
	now        func() time.Time
}

// New creates a scorer.
func New(deps Deps) *Scorer {
	voter := deps.Voter
	if voter == nil {
		voter = ensemble.New()
	}
	return &Scorer{
		repo:       deps.Repo,
		tokenizer:  deps.Tokenizer,
		velocity:   deps.Velocity,
		analytics:  deps.Analytics,
		rules:      deps.Rules,
		voter:      voter,
		profiles:   deps.Profiles,
		publisher:  deps.Publisher,
		encryption: deps.EncryptionEnabled,
		adminToken: deps.AdminToken,
		now:        time.Now,
	}
}

// Result is the outcome of scoring one transaction.
type Result struct {
	Transaction *domain.Transaction          `json:"transaction"`
	Predictions map[string]domain.Prediction `json:"predictions"`
	Components  []domain.ComponentStatus     `json:"components"`
	Warnings    []string                     `json:"warnings,omitempty"`
}

func (r *Result) track(status domain.ComponentStatus) {
	r.Components = append(r.Components, status)
	if !status.Healthy() {
		metrics.ComponentDegradations.WithLabelValues(status.Component, string(status.State)).Inc()
	}
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Score validates the request, enriches and scores it, persists the result
// and publishes a transaction event. Only an invalid request is an error;
// enrichment failures degrade to neutral values and a persistence failure
// is reported as a warning on an otherwise complete result.
func (s *Scorer) Score(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Scoring is not cancellable: a caller that gives up does not stop
	// inference or the writes.
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "scoring.Score")
	defer span.End()

	now := s.now().UTC()
	token := s.tokenizer.Token(req.Identifier)
	tx := &domain.Transaction{
		Timestamp:       now,
		Identifier:      req.Identifier,
		IdentifierToken: token,
		Amount:          req.Amount,
		Merchant:        req.Merchant,
		Category:        req.Category,
		Location:        req.Location,
		Features:        req.features(),
		Indicators:      []domain.Indicator{},
	}
	res := &Result{Transaction: tx}

	// 1. Frequency
	freq := s.extractFrequency(ctx, req.Identifier, token, now)
	freq.Apply(tx.Features)
	res.track(freq.Status)

	// 2. Graph and anomaly
	graph := s.scoreAnalytics(ctx, &req)
	graph.Apply(tx.Features)
	res.track(graph.Status)

	// 3. Indicators
	indicators := s.evaluateIndicators(ctx, &req, freq, graph, res)
	tx.Indicators = indicators.Indicators
	res.track(indicators.Status)

	// 4. Ensemble
	x := []float64{req.Amount, float64(req.Hour)}
	ballot := s.vote(ctx, x)
	res.Predictions = ballot.Predictions
	res.track(ballot.Status)

	// 5. Fusion
	decision := Fuse(indicators, ballot, now)
	decision.Apply(tx)

	// 6. Explanation
	tx.Explanation = s.explain(ctx, x, res)

	// 7. Persistence
	persisted := s.persist(ctx, tx, res)

	if ShouldAlert(tx) {
		metrics.BlocksTotal.WithLabelValues("auto").Inc()
		// The audit entry references the stored row.
		if persisted {
			s.audit(ctx, domain.AuditAutoBlock, domain.SystemActor, map[string]any{
				"tx_id":      tx.ID,
				"identifier": tx.Identifier,
				"risk_score": tx.RiskScore,
			})
		} else {
			slog.Warn("auto-block not audited, transaction was not persisted",
				"identifier_token", token,
				"risk_score", tx.RiskScore,
			)
		}
	}

	s.publish(ctx, &domain.Event{
		Type:        domain.EventTransaction,
		Transaction: tx,
		Predictions: ballot.Predictions,
		Timestamp:   now,
	})

	metrics.TransactionsScored.WithLabelValues(tx.Status).Inc()
	metrics.RiskScores.Observe(float64(tx.RiskScore))
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())
	for _, ind := range tx.Indicators {
		metrics.IndicatorHits.WithLabelValues(ind.Name).Inc()
	}

	span.SetAttributes(
		attribute.Int64("tx.id", tx.ID),
		attribute.Int("tx.risk_score", tx.RiskScore),
		attribute.String("tx.status", tx.Status),
	)

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"identifier_token", token,
		"risk_score", tx.RiskScore,
		"status", tx.Status,
		"indicators", len(tx.Indicators),
		"fraud_votes", ballot.FraudVotes,
		"warnings", len(res.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return res, nil
}

func (s *Scorer) extractFrequency(ctx context.Context, identifier, token string, now time.Time) *velocity.Result {
	ctx, span := tracer.Start(ctx, "scoring.frequency")
	defer span.End()
	return s.velocity.Extract(ctx, identifier, token, now)
}

func (s *Scorer) scoreAnalytics(ctx context.Context, req *Request) analytics.Features {
	if s.analytics == nil {
		return analytics.Features{Status: domain.Unavailable(domain.ComponentAnalytics, "analytics not configured")}
	}
	ctx, span := tracer.Start(ctx, "scoring.analytics")
	defer span.End()
	return s.analytics.Score(ctx, req.Identifier, req.Merchant, req.Amount, req.Hour)
}

func (s *Scorer) evaluateIndicators(ctx context.Context, req *Request, freq *velocity.Result, graph analytics.Features, res *Result) *rules.Result {
	if s.rules == nil {
		return &rules.Result{
			Indicators: []domain.Indicator{},
			Status:     domain.Unavailable(domain.ComponentIndicators, "indicator engine not configured"),
		}
	}

	ctx, span := tracer.Start(ctx, "scoring.indicators")
	defer span.End()

	prof := s.loadProfile(ctx, req.Identifier, res)
	paste, backspace, focus := req.behavior()

	out := s.rules.Evaluate(ctx, &rules.Input{
		Identifier:       req.Identifier,
		Amount:           req.Amount,
		Hour:             req.Hour,
		Category:         req.Category,
		Merchant:         req.Merchant,
		Location:         req.Location,
		Profile:          prof,
		AnomalyScore:     graph.AnomalyScore,
		Last:             freq.Last,
		MinutesSinceLast: freq.MinutesSinceLast,
		DeviceID:         req.DeviceID,
		Behavior: rules.Behavior{
			PasteDetected:  paste,
			BackspaceRatio: backspace,
			FocusChanges:   focus,
		},
	})
	for _, e := range out.Errors {
		slog.Warn("indicator rule failed", "rule_id", e.RuleID, "error", e.Error)
	}
	return out
}

// loadProfile never fails: an unreadable profile is treated as empty.
func (s *Scorer) loadProfile(ctx context.Context, identifier string, res *Result) *domain.UserProfile {
	empty := &domain.UserProfile{Identifier: identifier}
	if s.profiles == nil {
		res.track(domain.Unavailable(domain.ComponentProfile, "profile store not configured"))
		return empty
	}

	p, err := s.profiles.Get(ctx, identifier)
	if err != nil {
		slog.Warn("profile lookup failed", "error", err)
		res.track(domain.Degraded(domain.ComponentProfile, err.Error()))
		return empty
	}
	res.track(domain.OK(domain.ComponentProfile))
	return p
}

func (s *Scorer) vote(ctx context.Context, x []float64) ensemble.Ballot {
	_, span := tracer.Start(ctx, "scoring.ensemble")
	defer span.End()

	ballot := s.voter.Vote(x)
	span.SetAttributes(attribute.Int("ensemble.fraud_votes", ballot.FraudVotes))
	return ballot
}

func (s *Scorer) explain(ctx context.Context, x []float64, res *Result) *domain.Explanation {
	primary, ok := s.voter.Primary()
	if !ok {
		res.track(domain.Unavailable(domain.ComponentExplanation, "primary model not loaded"))
		return nil
	}

	_, span := tracer.Start(ctx, "scoring.explanation")
	defer span.End()

	exp, status := explain.Explain(primary, x)
	if !status.Healthy() {
		slog.Warn("explanation degraded", "reason", status.Reason)
	}
	res.track(status)
	return exp
}

// persist stores tx and appends it to the profile. It reports whether the
// row was saved.
func (s *Scorer) persist(ctx context.Context, tx *domain.Transaction, res *Result) bool {
	ctx, span := tracer.Start(ctx, "scoring.persist")
	defer span.End()

	if s.encryption {
		res.track(domain.OK(domain.ComponentEncryption))
	} else {
		res.track(domain.Degraded(domain.ComponentEncryption, "no encryption key configured, payloads stored as plaintext"))
	}

	id, err := s.repo.SaveTransaction(ctx, tx)
	saved := err == nil
	if saved {
		tx.ID = id
		res.track(domain.OK(domain.ComponentPersistence))
	} else {
		span.RecordError(err)
		slog.Error("failed to save transaction", "identifier_token", tx.IdentifierToken, "error", err)
		res.track(domain.Degraded(domain.ComponentPersistence, err.Error()))
		res.warn("transaction was scored but not persisted: %v", err)
	}

	if s.profiles == nil {
		return saved
	}
	if _, err := s.profiles.Append(ctx, tx); err != nil {
		slog.Error("failed to update profile", "identifier_token", tx.IdentifierToken, "error", err)
		res.warn("profile history was not updated: %v", err)
	}
	return saved
}

func (s *Scorer) audit(ctx context.Context, action, actor string, details map[string]any) {
	entry := &domain.AuditEntry{
		Timestamp: s.now().UTC(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	}
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		slog.Error("failed to write audit entry", "action", action, "error", err)
	}
}

func (s *Scorer) publish(ctx context.Context, event *domain.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish event", "type", event.Type, "error", err)
	}
}
