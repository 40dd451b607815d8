package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a call is unknown to the registry.
var ErrNotFound = errors.New("call not registered")

// Registry maps a call SID to the caller's phone number. The webhook that
// answers the call registers it; the media stream looks it up.
type Registry interface {
	Put(ctx context.Context, callSid, phone string) error
	Lookup(ctx context.Context, callSid string) (string, error)
	Delete(ctx context.Context, callSid string) error
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu    sync.RWMutex
	calls map[string]string
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{calls: make(map[string]string)}
}

func (r *MemoryRegistry) Put(_ context.Context, callSid, phone string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[callSid] = phone
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, callSid string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	phone, ok := r.calls[callSid]
	if !ok {
		return "", ErrNotFound
	}
	return phone, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, callSid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callSid)
	return nil
}

// Len returns the number of registered calls.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

const (
	redisKeyPrefix = "phone-assistant:call:"
	redisTTL       = 4 * time.Hour
)

// RedisRegistry shares the registry between instances behind a load
// balancer. Entries expire so abandoned calls do not accumulate.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects to url (redis://...) and pings the server.
func NewRedisRegistry(ctx context.Context, url string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRegistry{client: client, ttl: redisTTL}, nil
}

func (r *RedisRegistry) Put(ctx context.Context, callSid, phone string) error {
	return r.client.Set(ctx, redisKeyPrefix+callSid, phone, r.ttl).Err()
}

func (r *RedisRegistry) Lookup(ctx context.Context, callSid string) (string, error) {
	phone, err := r.client.Get(ctx, redisKeyPrefix+callSid).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return phone, err
}

func (r *RedisRegistry) Delete(ctx context.Context, callSid string) error {
	return r.client.Del(ctx, redisKeyPrefix+callSid).Err()
}

// Close closes the connection pool.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
