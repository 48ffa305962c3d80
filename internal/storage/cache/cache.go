// Package cache keeps the category reference set in redis in front of a store.
package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/storage"
)

const defaultTTL = 10 * time.Minute

type Config struct {
	Store  storage.Store
	Redis  redis.UniversalClient
	Prefix string
	TTL    time.Duration
}

type Store struct {
	storage.Store

	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func New(c Config) *Store {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Store{
		Store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    ttl,
	}
}

type cachedCategory struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// ListCategories serves the category list from redis, filling it from the store on a miss.
// Redis failures fall back to the store.
func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	cs, err := s.getCached(ctx)
	if err == nil {
		return cs, nil
	}
	if !stderrors.Is(err, redis.Nil) {
		slog.WarnContext(ctx, "cache: read categories failed", "error", err)
	}

	cs, err = s.Store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.setCached(ctx, cs); err != nil {
		slog.WarnContext(ctx, "cache: write categories failed", "error", err)
	}

	return cs, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	cs, err := s.ListCategories(ctx)
	if err != nil {
		return domain.Category{}, err
	}

	for _, c := range cs {
		if c.ID == id {
			return c, nil
		}
	}

	return domain.Category{}, storage.ErrNotFound
}

// Close closes the wrapped store when it owns connections. The redis client belongs to the caller.
func (s *Store) Close() {
	if c, ok := s.Store.(storage.Closer); ok {
		c.Close()
	}
}

// Invalidate drops the cached category list.
func (s *Store) Invalidate(ctx context.Context) error {
	return s.redis.Del(ctx, s.key()).Err()
}

func (s *Store) getCached(ctx context.Context) ([]domain.Category, error) {
	b, err := s.redis.Get(ctx, s.key()).Bytes()
	if err != nil {
		return nil, err
	}

	var cached []cachedCategory
	if err := json.Unmarshal(b, &cached); err != nil {
		return nil, fmt.Errorf("unmarshal categories: %w", err)
	}

	cs := make([]domain.Category, 0, len(cached))
	for _, c := range cached {
		cs = append(cs, domain.Category{ID: c.ID, Type: c.Type})
	}
	return cs, nil
}

func (s *Store) setCached(ctx context.Context, cs []domain.Category) error {
	cached := make([]cachedCategory, 0, len(cs))
	for _, c := range cs {
		cached = append(cached, cachedCategory{ID: c.ID, Type: c.Type})
	}

	b, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal categories: %w", err)
	}

	return s.redis.Set(ctx, s.key(), b, s.ttl).Err()
}

func (s *Store) key() string {
	return fmt.Sprintf("%s:categories", s.prefix)
}
