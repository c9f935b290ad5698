// Package redis implements the key/value store on a Redis server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tarancss/walletlink/lib/store"
)

// Redis stores every key under a common prefix.
type Redis struct {
	c      *redis.Client
	prefix string
}

// New connects to url (ie. redis://localhost:6379/0) and pings the server.
func New(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Ping(ctx).Err(); err != nil {
		_ = c.Close()

		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}

	return &Redis{c: c, prefix: "walletlink:"}, nil
}

var _ store.KV = (*Redis)(nil)

// Get returns the value stored at key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrDataNotFound
	}

	return v, err
}

// Put stores value at key without expiry; staleness is decided by the reader.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	return r.c.Set(ctx, r.prefix+key, value, 0).Err()
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.prefix+key).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.c.Close()
}
