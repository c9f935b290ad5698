// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ).
package amqp

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/msg"
)

// Exchange is the direct exchange every endpoint queue is bound to.
const Exchange = "wb"

// Amqp implements a connection to a broker and a channel for reuse by publishers.
type Amqp struct {
	conn   *amqp.Connection
	mu     sync.Mutex // guards ch, amqp channels are not safe for concurrent publishing
	ch     *amqp.Channel
	prefix string
	log    *zap.Logger
	done   chan struct{} // closed by Close, releases consumers blocked on delivery
	once   sync.Once
}

// New instantiates a new amqp broker. Queue names are prefixed with prefix so several deployments can share a vhost.
func New(uri, prefix string, logger *zap.Logger) (*Amqp, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to amqp broker: %w", err)
	}

	logger.Info("connected to amqp broker")

	return &Amqp{conn: conn, prefix: prefix, log: logger.Named("amqp"), done: make(chan struct{})}, nil
}

var _ msg.Broker = (*Amqp)(nil)

func (r *Amqp) queue(endpoint string) string {
	return r.prefix + endpoint
}

// Setup obtains a one-use channel, declares the "wb" exchange and one durable queue per endpoint bound to it with the
// endpoint name as routing key.
func (r *Amqp) Setup(endpoints ...string) error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	if err = channel.ExchangeDeclare(Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return err
	}

	for _, ep := range endpoints {
		if _, err = channel.QueueDeclare(r.queue(ep), true, false, false, false, nil); err != nil {
			return err
		}

		if err = channel.QueueBind(r.queue(ep), ep, Exchange, false, nil); err != nil {
			return err
		}
	}

	return nil
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	r.once.Do(func() { close(r.done) })

	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Warn("error closing amqp channel", zap.Error(err))
		}

		r.ch = nil
	}
	r.mu.Unlock()

	return r.conn.Close()
}

// Publish sends the envelope to the endpoint's routing key.
func (r *Amqp) Publish(ctx context.Context, endpoint string, e msg.Envelope) error {
	body, err := msg.Encode(e)
	if err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return err
		}
	}

	p := amqp.Publishing{
		Headers:       amqp.Table{"x-wb-type": e.Type},
		CorrelationId: e.RequestID,
		Body:          body,
		ContentType:   "application/json",
	}

	if err = r.ch.Publish(Exchange, endpoint, false, false, p); err != nil {
		// drop the channel, the next publish opens a new one
		r.ch = nil

		return fmt.Errorf("[%s] cannot publish %s: %w", endpoint, e.Type, err)
	}

	return nil
}

// Consume reads the endpoint queue on a dedicated channel. Messages are acknowledged once handed to the returned
// channel; undecodable ones are acknowledged and reported on the error channel. Deliveries still pending when the
// broker is closed are requeued.
func (r *Amqp) Consume(endpoint string) (<-chan msg.Envelope, <-chan error, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	if _, err = ch.QueueDeclare(r.queue(endpoint), true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = ch.QueueBind(r.queue(endpoint), endpoint, Exchange, false, nil); err != nil {
		return nil, nil, err
	}

	msgs, err := ch.Consume(r.queue(endpoint), "walletlink-"+endpoint, false, false, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	envs := make(chan msg.Envelope)
	errs := make(chan error, 1)

	go func() {
		defer close(envs)
		defer close(errs)

		for m := range msgs {
			e, err := msg.Decode(m.Body)
			if err != nil {
				_ = m.Ack(false)

				select {
				case errs <- fmt.Errorf("[%s] bad envelope: %w", endpoint, err):
				default:
					r.log.Warn("dropping undecodable envelope", zap.String("endpoint", endpoint), zap.Error(err))
				}

				continue
			}

			select {
			case envs <- e:
				_ = m.Ack(false)
			case <-r.done:
				_ = m.Nack(false, true)
			}
		}
	}()

	return envs, errs, nil
}
