package webhooksdk

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// LRUGuard keeps recent event ids in process memory. Ids are forgotten after
// ttl or when size is exceeded.
type LRUGuard struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, struct{}]
}

// NewLRUGuard creates a guard holding up to size ids for ttl.
func NewLRUGuard(size int, ttl time.Duration) *LRUGuard {
	return &LRUGuard{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen implements ReplayGuard.
func (g *LRUGuard) Seen(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.lru.Get(id); ok {
		return true, nil
	}
	g.lru.Add(id, struct{}{})
	return false, nil
}

// SetNXer is the slice of the redis client the guard needs.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// DefaultRedisPrefix namespaces guard keys.
const DefaultRedisPrefix = "circulum:webhooks:seen:"

// RedisGuard shares seen ids across receiver replicas with SET NX and a TTL.
type RedisGuard struct {
	client SetNXer
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard on client. An empty prefix uses DefaultRedisPrefix.
func NewRedisGuard(client SetNXer, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

// Seen implements ReplayGuard.
func (g *RedisGuard) Seen(ctx context.Context, id string) (bool, error) {
	set, err := g.client.SetNX(ctx, g.prefix+id, 1, g.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

var (
	_ ReplayGuard = (*LRUGuard)(nil)
	_ ReplayGuard = (*RedisGuard)(nil)
	_ SetNXer     = (*redis.Client)(nil)
)
