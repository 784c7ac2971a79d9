package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the SCAN page size and the number of keys unlinked per round trip.
const scanBatch = 256

// redisCacher stores JSON-encoded values in Redis. Numbers read back into an
// `any` come out as float64.
type redisCacher[T any] struct {
	client *redis.Client
}

// NewRedisCacher creates a Redis-backed cacher. The caller owns client and
// closes it.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisCacher[any](client)
func NewRedisCacher[T any](client *redis.Client) Cacher[T] {
	return &redisCacher[T]{
		client: client,
	}
}

// Get returns the JSON-decoded value stored under key. A missing key is a miss,
// not an error.
func (c *redisCacher[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var result T
	if err := json.Unmarshal(val, &result); err != nil {
		return zero, false, fmt.Errorf("decode %s: %w", key, err)
	}

	return result, true, nil
}

// Set JSON-encodes value and stores it under key. A zero ttl keeps the key
// until it is deleted.
func (c *redisCacher[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

func (c *redisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Unlink(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis unlink %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix walks the keyspace with SCAN and unlinks matching keys a page
// at a time, so a large session never blocks the server with one huge command.
func (c *redisCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	iter := c.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()

	deleted := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Unlink(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis unlink: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan %s: %w", prefix, err)
	}

	if err := flush(); err != nil {
		return deleted, err
	}

	return deleted, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}

	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}
