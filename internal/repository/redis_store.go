package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PatternEngine/internal/domain/models"
	domrepo "PatternEngine/internal/domain/repository"
	"PatternEngine/pkg/cache"
)

// RedisStore keeps each pattern as JSON under <kind>:<id> and ranks ids by
// reliability in a sorted set per kind.
type RedisStore struct {
	cache   cache.Service
	ttl     time.Duration
	metrics domrepo.Metrics
}

// NewRedisStore creates a Redis sink. A zero ttl keeps entries forever.
func NewRedisStore(c cache.Service, ttl time.Duration, m domrepo.Metrics) *RedisStore {
	return &RedisStore{cache: c, ttl: ttl, metrics: m}
}

// IndexKey is the sorted set ranking stored patterns of kind.
func IndexKey(kind string) string {
	return cache.Key("index", kind)
}

func (s *RedisStore) StoreEntity(ctx context.Context, kind string, p *models.MarketPattern) error {
	if p == nil {
		return fmt.Errorf("store entity: nil pattern")
	}
	err := s.cache.SetIndexed(ctx, cache.Key(kind, p.PatternID), p, s.ttl, IndexKey(kind), p.PatternID, p.ReliabilityOr(0))
	if err != nil {
		return fmt.Errorf("redis store %s: %w", p.PatternID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordStored("redis", kind)
	}
	return nil
}

// Top returns the most reliable stored patterns of kind.
func (s *RedisStore) Top(ctx context.Context, kind string, n int64) ([]*models.MarketPattern, error) {
	ids, err := s.cache.TopOfIndex(ctx, IndexKey(kind), n)
	if err != nil {
		return nil, fmt.Errorf("redis top %s: %w", kind, err)
	}
	out := make([]*models.MarketPattern, 0, len(ids))
	for _, id := range ids {
		var p models.MarketPattern
		if err := s.cache.Get(ctx, cache.Key(kind, id), &p); err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				continue
			}
			return nil, fmt.Errorf("redis get %s: %w", id, err)
		}
		out = append(out, &p)
	}
	return out, nil
}

// Health pings Redis when the cache supports it.
func (s *RedisStore) Health(ctx context.Context) error {
	if h, ok := s.cache.(interface{ Health(context.Context) error }); ok {
		return h.Health(ctx)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.cache.Close()
}
