package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

// InstructionCache is the exact-match tier backed by Redis. Callers
// supply fully formed keys; entries are write-once and each entry keeps
// a hit counter under the ":hits" suffix.
type InstructionCache struct {
	client *redis.Client
	ttl    time.Duration
}

type Config struct {
	Addr     string
	Password string
	DB       int
	// TTL of zero means entries never expire.
	TTL time.Duration
}

func New(cfg Config) (*InstructionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &InstructionCache{client: client, ttl: cfg.TTL}, nil
}

// NewFromClient wires an existing client, used by tests.
func NewFromClient(client *redis.Client, ttl time.Duration) *InstructionCache {
	return &InstructionCache{client: client, ttl: ttl}
}

func (c *InstructionCache) Get(ctx context.Context, key string) (domain.Value, bool, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	value, err := domain.FromJSON([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return value, true, nil
}

// PutIfAbsent writes the answer only when no entry exists for the key.
// The first writer wins; later writes for the same key are no-ops.
func (c *InstructionCache) PutIfAbsent(ctx context.Context, key string, answer domain.Value) error {
	raw, err := domain.ToJSON(answer)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.SetNX(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache setnx: %w", err)
	}
	return nil
}

func (c *InstructionCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key, key+":hits").Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (c *InstructionCache) IncrementHits(ctx context.Context, key string) (int64, error) {
	hits, err := c.client.Incr(ctx, key+":hits").Result()
	if err != nil {
		return 0, fmt.Errorf("cache incr: %w", err)
	}
	return hits, nil
}

func (c *InstructionCache) Close() error {
	return c.client.Close()
}
