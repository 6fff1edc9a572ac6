// Package profile keeps the per-identifier transaction history used by the
// indicator rules.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Repository is the persistence the store needs.
type Repository interface {
	GetProfile(ctx context.Context, identifier string) (*domain.UserProfile, error)
	SaveProfile(ctx context.Context, profile *domain.UserProfile) error
	ListProfileIdentifiers(ctx context.Context) ([]string, error)
}

// Store reads and updates profiles. Updates for one identifier are
// serialized; the cache is written after the repository so a failed save
// never leaves a newer profile in the cache.
type Store struct {
	repo  Repository
	cache domain.Cache
	ttl   time.Duration
	locks shardedMutex
}

// NewStore creates a profile store. cache may be nil.
func NewStore(repo Repository, cache domain.Cache, ttl time.Duration) *Store {
	return &Store{repo: repo, cache: cache, ttl: ttl}
}

// Get returns the profile for identifier. A missing profile is returned as
// an empty one.
func (s *Store) Get(ctx context.Context, identifier string) (*domain.UserProfile, error) {
	if p := s.cached(ctx, identifier); p != nil {
		return p, nil
	}

	p, err := s.load(ctx, identifier)
	if err != nil {
		return nil, err
	}
	s.store(ctx, p)
	return p, nil
}

// Append adds a scored transaction to the identifier's history.
func (s *Store) Append(ctx context.Context, tx *domain.Transaction) (*domain.UserProfile, error) {
	return s.update(ctx, tx.Identifier, func(p *domain.UserProfile) {
		p.Transactions = append(p.Transactions, domain.EntryFor(tx))
	})
}

// Touch records that identifier was seen at the given time.
func (s *Store) Touch(ctx context.Context, identifier string, at time.Time) (*domain.UserProfile, error) {
	return s.update(ctx, identifier, func(p *domain.UserProfile) {
		seen := at.UTC()
		p.LastSeen = &seen
	})
}

// ClearAll empties the history of every stored profile. Profiles
// themselves and their last_seen are kept. It returns how many profiles
// were cleared.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	ids, err := s.repo.ListProfileIdentifiers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list profiles: %w", err)
	}

	cleared := 0
	for _, id := range ids {
		_, err := s.update(ctx, id, func(p *domain.UserProfile) {
			p.Transactions = []domain.ProfileEntry{}
		})
		if err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

func (s *Store) update(ctx context.Context, identifier string, mutate func(*domain.UserProfile)) (*domain.UserProfile, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: identifier is required", repository.ErrInvalidInput)
	}

	unlock := s.locks.Lock(identifier)
	defer unlock()

	// The repository is the source of truth under the lock.
	p, err := s.load(ctx, identifier)
	if err != nil {
		return nil, err
	}
	mutate(p)

	if err := s.repo.SaveProfile(ctx, p); err != nil {
		s.invalidate(ctx, identifier)
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	s.store(ctx, p)
	return p, nil
}

func (s *Store) load(ctx context.Context, identifier string) (*domain.UserProfile, error) {
	p, err := s.repo.GetProfile(ctx, identifier)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.UserProfile{Identifier: identifier, Transactions: []domain.ProfileEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if p.Transactions == nil {
		p.Transactions = []domain.ProfileEntry{}
	}
	return p, nil
}

func (s *Store) cached(ctx context.Context, identifier string) *domain.UserProfile {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, domain.CacheProfiles, identifier)
	if err != nil {
		slog.Warn("profile cache read failed", "error", err)
		return nil
	}
	if data == nil {
		return nil
	}
	var p domain.UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		s.invalidate(ctx, identifier)
		return nil
	}
	return &p
}

func (s *Store) store(ctx context.Context, p *domain.UserProfile) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, domain.CacheProfiles, p.Identifier, data, s.ttl); err != nil {
		slog.Warn("profile cache write failed", "error", err)
	}
}

func (s *Store) invalidate(ctx context.Context, identifier string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, domain.CacheProfiles, identifier)
}
