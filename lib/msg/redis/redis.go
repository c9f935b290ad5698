// Package redis implements the message broker interface on Redis lists: each endpoint is a list, publishers RPUSH
// and the consumer BLPOPs, so envelopes published before the consumer starts are not lost.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/msg"
)

const popTimeout = time.Second

// Redis is a list backed broker.
type Redis struct {
	c      *redis.Client
	prefix string
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to the redis server at url (ie. redis://localhost:6379/0) and pings it.
func New(url, prefix string, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

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

	return NewWithClient(c, prefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Redis{c: c, prefix: prefix, log: logger.Named("redis-broker"), ctx: ctx, cancel: cancel}
}

var _ msg.Broker = (*Redis)(nil)

func (r *Redis) key(endpoint string) string {
	return r.prefix + "mb:" + endpoint
}

// Setup is a no-op, lists are created on first push.
func (r *Redis) Setup(...string) error {
	return r.ctx.Err()
}

// Publish appends the envelope to the endpoint list.
func (r *Redis) Publish(ctx context.Context, endpoint string, e msg.Envelope) error {
	if r.ctx.Err() != nil {
		return msg.ErrClosed
	}

	body, err := msg.Encode(e)
	if err != nil {
		return err
	}

	if err = r.c.RPush(ctx, r.key(endpoint), body).Err(); err != nil {
		return fmt.Errorf("[%s] cannot publish %s: %w", endpoint, e.Type, err)
	}

	return nil
}

// Consume pops envelopes from the endpoint list until Close is called.
func (r *Redis) Consume(endpoint string) (<-chan msg.Envelope, <-chan error, error) {
	if r.ctx.Err() != nil {
		return nil, nil, msg.ErrClosed
	}

	envs := make(chan msg.Envelope)
	errs := make(chan error, 1)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(envs)
		defer close(errs)

		for r.ctx.Err() == nil {
			res, err := r.c.BLPop(r.ctx, popTimeout, r.key(endpoint)).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}

			if err != nil {
				if r.ctx.Err() != nil {
					return
				}

				r.report(errs, fmt.Errorf("[%s] pop: %w", endpoint, err))
				time.Sleep(popTimeout)

				continue
			}

			// res is [key, value]
			e, err := msg.Decode([]byte(res[1]))
			if err != nil {
				r.report(errs, fmt.Errorf("[%s] bad envelope: %w", endpoint, err))

				continue
			}

			select {
			case envs <- e:
			case <-r.ctx.Done():
				return
			}
		}
	}()

	return envs, errs, nil
}

func (r *Redis) report(errs chan error, err error) {
	select {
	case errs <- err:
	default:
		r.log.Warn("broker error", zap.Error(err))
	}
}

// Close stops the consumers and closes the client.
func (r *Redis) Close() error {
	r.cancel()
	r.wg.Wait()

	return r.c.Close()
}
