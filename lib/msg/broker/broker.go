// Package broker opens message brokers by product name.
package broker

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/msg"
	"github.com/tarancss/walletlink/lib/msg/amqp"
	"github.com/tarancss/walletlink/lib/msg/memory"
	"github.com/tarancss/walletlink/lib/msg/redis"
)

// Supported broker types.
const (
	AMQP   string = "amqp"
	MEMORY string = "memory"
	REDIS  string = "redis"
)

// ErrUnknownType is returned for an unsupported broker type.
var ErrUnknownType = errors.New("unknown message broker type")

// Retry is how long New waits before its single reconnection attempt.
var Retry = 10 * time.Second //nolint:gochecknoglobals // tests shorten it

// New returns a broker of type mbType connected to conn with the endpoints declared. A broker that is not ready is
// retried once after Retry (ie. a RabbitMQ container still starting).
func New(mbType, conn, prefix string, logger *zap.Logger, endpoints ...string) (msg.Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mb, err := open(mbType, conn, prefix, logger)
	if err != nil && !errors.Is(err, ErrUnknownType) && mbType != MEMORY {
		logger.Warn("broker not ready, retrying", zap.String("type", mbType), zap.Duration("in", Retry), zap.Error(err))
		time.Sleep(Retry)

		mb, err = open(mbType, conn, prefix, logger)
	}

	if err != nil {
		return nil, err
	}

	if err = mb.Setup(endpoints...); err != nil {
		_ = mb.Close()

		return nil, fmt.Errorf("cannot set up %s broker: %w", mbType, err)
	}

	return mb, nil
}

func open(mbType, conn, prefix string, logger *zap.Logger) (msg.Broker, error) {
	switch mbType {
	case AMQP:
		return amqp.New(conn, prefix, logger)
	case REDIS:
		return redis.New(conn, prefix, logger)
	case MEMORY:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, mbType)
}
