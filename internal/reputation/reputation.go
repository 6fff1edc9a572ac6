// Package reputation serves crowd reputation for tokenized identifiers.
package reputation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// ErrInvalidToken is returned for an empty or malformed token.
var ErrInvalidToken = errors.New("invalid reputation token")

// Store is the persistence the service needs.
type Store interface {
	GetReputation(ctx context.Context, token string) (*domain.VPAReputation, error)
	UpsertReputation(ctx context.Context, rep *domain.VPAReputation) error
}

// Tokenizer maps raw identifiers to tokens.
type Tokenizer interface {
	Token(identifier string) string
}

// Service looks reputations up through the cache, then the store, and
// falls back to a deterministic derived record.
type Service struct {
	store     Store
	cache     domain.Cache
	tokenizer Tokenizer
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a reputation service. cache may be nil.
func NewService(store Store, cache domain.Cache, tokenizer Tokenizer, ttl time.Duration) *Service {
	return &Service{
		store:     store,
		cache:     cache,
		tokenizer: tokenizer,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Lookup returns the reputation for token. It only fails for invalid tokens.
func (s *Service) Lookup(ctx context.Context, token string) (*domain.VPAReputation, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 128 {
		return nil, ErrInvalidToken
	}

	if rep := s.cached(ctx, token); rep != nil {
		return rep, nil
	}

	rep, err := s.store.GetReputation(ctx, token)
	switch {
	case err == nil:
		rep.Source = domain.ReputationStored
		s.remember(ctx, rep)
		return rep, nil
	case !errors.Is(err, repository.ErrNotFound):
		slog.Warn("reputation lookup failed, using derived score", "error", err)
	}

	return Derive(token, s.now()), nil
}

// LookupIdentifier tokenizes a raw identifier and looks it up.
func (s *Service) LookupIdentifier(ctx context.Context, identifier string) (*domain.VPAReputation, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, ErrInvalidToken
	}
	return s.Lookup(ctx, s.tokenizer.Token(identifier))
}

// Upsert stores a reputation record and drops any cached copy.
func (s *Service) Upsert(ctx context.Context, rep *domain.VPAReputation) error {
	if rep == nil || strings.TrimSpace(rep.Token) == "" {
		return ErrInvalidToken
	}
	if rep.UpdatedAt.IsZero() {
		rep.UpdatedAt = s.now().UTC()
	}
	if err := s.store.UpsertReputation(ctx, rep); err != nil {
		return fmt.Errorf("failed to store reputation: %w", err)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, domain.CacheReputation, rep.Token)
	}
	return nil
}

// Derive computes the deterministic fallback reputation for token from
// the first 32 bits of its SHA-256 digest.
func Derive(token string, now time.Time) *domain.VPAReputation {
	sum := sha256.Sum256([]byte(token))
	v, _ := strconv.ParseUint(hex.EncodeToString(sum[:4]), 16, 32)
	v %= 1000

	risk := decimal.New(int64(v), -3)
	riskScore := risk.InexactFloat64()

	reasons := []string{}
	switch {
	case riskScore > 0.75:
		reasons = []string{"crowd_flagged", "high_risk_history"}
	case riskScore > 0.4:
		reasons = []string{"low_reputation"}
	}

	return &domain.VPAReputation{
		Token:           token,
		FlagCount:       int(v % 5),
		ReputationScore: decimal.NewFromInt(1).Sub(risk).InexactFloat64(),
		Reasons:         reasons,
		UpdatedAt:       now.UTC(),
		Source:          domain.ReputationDerived,
		RiskScore:       &riskScore,
	}
}

func (s *Service) cached(ctx context.Context, token string) *domain.VPAReputation {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, domain.CacheReputation, token)
	if err != nil || data == nil {
		return nil
	}
	var rep domain.VPAReputation
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil
	}
	return &rep
}

func (s *Service) remember(ctx context.Context, rep *domain.VPAReputation) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, domain.CacheReputation, rep.Token, data, s.ttl); err != nil {
		slog.Warn("reputation cache write failed", "error", err)
	}
}
