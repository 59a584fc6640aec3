// Package cart keeps a user's pending purchase until a top-up makes it affordable.
package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	ierr "vpn-billing/internal/errors"
)

type Kind string

const (
	KindAddTraffic    Kind = "add_traffic"
	KindSwitchTraffic Kind = "switch_traffic"
)

// Item is a purchase intent. Prices are informational; completion always re-prices.
type Item struct {
	Kind       Kind      `json:"kind"`
	UserID     uint      `json:"user_id"`
	TrafficGB  int       `json:"traffic_gb"`
	TotalPrice int64     `json:"total_price"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store interface {
	Save(ctx context.Context, item *Item) error
	// Get returns nil without error when the user has no cart.
	Get(ctx context.Context, userID uint) (*Item, error)
	Delete(ctx context.Context, userID uint) error
}

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func Key(userID uint) string {
	return fmt.Sprintf("cart:%d", userID)
}

func (s *RedisStore) Save(ctx context.Context, item *Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return ierr.Wrap(err, "failed to encode cart")
	}
	if err := s.rdb.Set(ctx, Key(item.UserID), payload, s.ttl).Err(); err != nil {
		return ierr.Wrapf(err, "failed to save cart for user %d", item.UserID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID uint) (*Item, error) {
	payload, err := s.rdb.Get(ctx, Key(userID)).Bytes()
	if ierr.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, ierr.Wrapf(err, "failed to load cart for user %d", userID)
	}

	var item Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, ierr.Wrapf(err, "corrupt cart for user %d", userID)
	}
	return &item, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID uint) error {
	if err := s.rdb.Del(ctx, Key(userID)).Err(); err != nil {
		return ierr.Wrapf(err, "failed to delete cart for user %d", userID)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and single-instance runs without Redis.
type MemoryStore struct {
	mu    sync.Mutex
	items map[uint]Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uint]Item)}
}

func (s *MemoryStore) Save(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.UserID] = *item
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID uint) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[userID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userID)
	return nil
}
