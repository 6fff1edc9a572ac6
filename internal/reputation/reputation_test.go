package reputation

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/security"
)

func newService(t *testing.T) (*Service, *repository.SQLRepository) {
	t.Helper()

	f, err := os.CreateTemp("", "reputation-test-*.db")
	require.NoError(t, err)
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return NewService(repo, cache.NewLRUCache(100), security.NewTokenizer("test-salt"), time.Minute), repo
}

func TestDerive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		token      string
		risk       float64
		reputation float64
		flags      int
		reasons    []string
	}{
		{"abc", 0.319, 0.681, 4, []string{}},
		{"a", 0.61, 0.39, 0, []string{"low_reputation"}},
		{"0000", 0.787, 0.213, 2, []string{"crowd_flagged", "high_risk_history"}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			rep := Derive(tt.token, now)
			require.NotNil(t, rep.RiskScore)
			assert.Equal(t, tt.risk, *rep.RiskScore)
			assert.Equal(t, tt.reputation, rep.ReputationScore)
			assert.Equal(t, tt.flags, rep.FlagCount)
			assert.Equal(t, tt.reasons, rep.Reasons)
			assert.Equal(t, domain.ReputationDerived, rep.Source)
		})
	}

	assert.Equal(t, Derive("abc", now), Derive("abc", now), "derived reputation must be deterministic")
}

func TestLookup(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	t.Run("DerivedWhenMissing", func(t *testing.T) {
		rep, err := svc.Lookup(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, domain.ReputationDerived, rep.Source)
		assert.Equal(t, 0.681, rep.ReputationScore)
	})

	t.Run("StoredWins", func(t *testing.T) {
		require.NoError(t, svc.Upsert(ctx, &domain.VPAReputation{
			Token:           "abc",
			FlagCount:       7,
			ReputationScore: 0.1,
			Reasons:         []string{"chargeback"},
		}))

		rep, err := svc.Lookup(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, domain.ReputationStored, rep.Source)
		assert.Equal(t, 7, rep.FlagCount)
		assert.Equal(t, []string{"chargeback"}, rep.Reasons)
		assert.Nil(t, rep.RiskScore)
	})

	t.Run("UpsertInvalidatesCache", func(t *testing.T) {
		_, err := svc.Lookup(ctx, "abc")
		require.NoError(t, err)

		require.NoError(t, svc.Upsert(ctx, &domain.VPAReputation{Token: "abc", FlagCount: 9, ReputationScore: 0.05}))

		rep, err := svc.Lookup(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, 9, rep.FlagCount)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		_, err := svc.Lookup(ctx, "  ")
		assert.ErrorIs(t, err, ErrInvalidToken)

		_, err = svc.LookupIdentifier(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidToken)

		assert.ErrorIs(t, svc.Upsert(ctx, &domain.VPAReputation{}), ErrInvalidToken)
	})

	t.Run("LookupIdentifierTokenizes", func(t *testing.T) {
		token := security.NewTokenizer("test-salt").Token("Alice@UPI ")
		rep, err := svc.LookupIdentifier(ctx, "alice@upi")
		require.NoError(t, err)
		assert.Equal(t, token, rep.Token)
	})
}

type brokenStore struct{}

func (brokenStore) GetReputation(ctx context.Context, token string) (*domain.VPAReputation, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) UpsertReputation(ctx context.Context, rep *domain.VPAReputation) error {
	return errors.New("connection refused")
}

func TestLookupStoreFailure(t *testing.T) {
	svc := NewService(brokenStore{}, nil, security.NewTokenizer(""), time.Minute)

	rep, err := svc.Lookup(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.ReputationDerived, rep.Source)

	assert.Error(t, svc.Upsert(context.Background(), &domain.VPAReputation{Token: "abc"}))
}
