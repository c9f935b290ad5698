// Package memory implements the message broker interface with in-process channels. It connects contexts running in
// the same process and is used by the tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarancss/walletlink/lib/msg"
)

const queueLen = 64

// Memory is an in-process broker. Endpoints are created on first use.
type Memory struct {
	mu     sync.Mutex
	queues map[string]chan msg.Envelope
	errs   map[string]chan error
	taken  map[string]bool
	closed bool
	wg     sync.WaitGroup
	done   chan struct{}
}

// New returns a new in-process broker.
func New() *Memory {
	return &Memory{
		queues: make(map[string]chan msg.Envelope),
		errs:   make(map[string]chan error),
		taken:  make(map[string]bool),
		done:   make(chan struct{}),
	}
}

var _ msg.Broker = (*Memory)(nil)

// Setup declares the endpoints.
func (m *Memory) Setup(endpoints ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return msg.ErrClosed
	}

	for _, ep := range endpoints {
		m.queue(ep)
	}

	return nil
}

// queue must be called with m.mu held.
func (m *Memory) queue(endpoint string) chan msg.Envelope {
	q, ok := m.queues[endpoint]
	if !ok {
		q = make(chan msg.Envelope, queueLen)
		m.queues[endpoint] = q
		m.errs[endpoint] = make(chan error)
	}

	return q
}

// Publish delivers e to endpoint, blocking while the endpoint queue is full.
func (m *Memory) Publish(ctx context.Context, endpoint string, e msg.Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return msg.ErrClosed
	}

	q := m.queue(endpoint)
	m.mu.Unlock()

	select {
	case q <- e:
		return nil
	case <-m.done:
		return msg.ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", endpoint, ctx.Err())
	}
}

// Consume returns the envelopes delivered to endpoint. The channels are closed by Close.
func (m *Memory) Consume(endpoint string) (<-chan msg.Envelope, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, msg.ErrClosed
	}

	if m.taken[endpoint] {
		return nil, nil, fmt.Errorf("endpoint %s already consumed", endpoint)
	}

	m.taken[endpoint] = true
	q := m.queue(endpoint)
	errs := m.errs[endpoint]

	out := make(chan msg.Envelope)

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer close(out)

		for {
			select {
			case e := <-q:
				select {
				case out <- e:
				case <-m.done:
					return
				}
			case <-m.done:
				return
			}
		}
	}()

	return out, errs, nil
}

// Close stops delivery and closes all consumer channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil
	}

	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	for _, e := range m.errs {
		close(e)
	}
	m.mu.Unlock()

	return nil
}
