// Package bridge carries requests between the isolated coordinator context and the page context. Every request gets
// a fresh id, every response is correlated by that id and every request is bounded by a timeout. An optional relay
// sits between both halves when they cannot reach each other directly.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/metrics"
	"github.com/tarancss/walletlink/lib/msg"
	"github.com/tarancss/walletlink/lib/types"
)

// DefaultTimeout bounds requests issued without an explicit timeout.
const DefaultTimeout = 10 * time.Second

// ErrDuplicateID is returned when a request reuses the id of a request still in flight.
var ErrDuplicateID = errors.New("request id already in flight")

// Client is the coordinator half of the bridge.
type Client struct {
	mb      msg.Broker
	self    string // endpoint responses arrive at
	next    string // relay or page endpoint
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pending  map[string]chan msg.Envelope
	handlers map[string]func(msg.Envelope)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient returns a client consuming from self and sending requests to next.
func NewClient(mb msg.Broker, self, next string, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	if m == nil {
		m = metrics.New()
	}

	return &Client{
		mb:       mb,
		self:     self,
		next:     next,
		logger:   logger.Named("bridge.client"),
		metrics:  m,
		pending:  make(map[string]chan msg.Envelope),
		handlers: make(map[string]func(msg.Envelope)),
	}
}

// Handle registers fn for unsolicited messages of type typ, ie. PROVIDERS_CHANGED.
func (c *Client) Handle(typ string, fn func(msg.Envelope)) {
	c.mu.Lock()
	c.handlers[typ] = fn
	c.mu.Unlock()
}

// Start consumes responses and notifications until Stop is called.
func (c *Client) Start(ctx context.Context) error {
	envs, errs, err := c.mb.Consume(c.self)
	if err != nil {
		return fmt.Errorf("cannot consume %s: %w", c.self, err)
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}

				c.logger.Warn("broker error", zap.Error(err))
			case e, ok := <-envs:
				if !ok {
					return
				}

				c.dispatch(e)
			}
		}
	}()

	return nil
}

// Stop stops consuming. Requests in flight end with their timeout.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	c.wg.Wait()
}

func (c *Client) dispatch(e msg.Envelope) {
	c.mu.Lock()

	if e.IsResponse() {
		ch, ok := c.pending[e.RequestID]
		delete(c.pending, e.RequestID)
		c.mu.Unlock()

		if !ok {
			// late (timed out) or foreign response
			c.logger.Debug("dropping uncorrelated response", zap.String("type", e.Type), zap.String("requestId", e.RequestID))

			return
		}

		ch <- e

		return
	}

	fn := c.handlers[e.Type]
	c.mu.Unlock()

	if fn == nil {
		c.logger.Debug("no handler", zap.String("type", e.Type))

		return
	}

	fn(e)
}

// Request sends a request of type typ and waits for its response. A response that does not arrive within timeout
// yields ErrProviderTimeout and is ignored if it arrives later. Unsuccessful responses are returned as the taxonomy
// error of their code.
func (c *Client) Request(ctx context.Context, typ string, payload interface{}, timeout time.Duration) (msg.Envelope, error) {
	return c.request(ctx, uuid.NewString(), typ, payload, timeout)
}

func (c *Client) request(ctx context.Context, id, typ string, payload interface{}, timeout time.Duration) (msg.Envelope, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	req, err := msg.NewRequest(typ, id, payload)
	if err != nil {
		return msg.Envelope{}, err
	}

	ch := make(chan msg.Envelope, 1)

	c.mu.Lock()
	if _, dup := c.pending[id]; dup {
		c.mu.Unlock()

		return msg.Envelope{}, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	start := time.Now()
	defer func() { c.metrics.BridgeDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds()) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err = c.mb.Publish(ctx, c.next, req); err != nil {
		forget()
		c.metrics.BridgeRequests.WithLabelValues(typ, types.CodeRelayUnreachable).Inc()

		return msg.Envelope{}, fmt.Errorf("cannot send %s to %s (%v): %w", typ, c.next, err, types.ErrRelayUnreachable) //nolint:errorlint // broker error is context only
	}

	select {
	case res := <-ch:
		if !res.Succeeded() {
			code := ""
			message := ""

			if res.Error != nil {
				code, message = res.Error.Code, res.Error.Message
			}

			c.metrics.BridgeRequests.WithLabelValues(typ, code).Inc()

			return res, fmt.Errorf("%s %s: %s: %w", typ, id, message, types.FromCode(code))
		}

		c.metrics.BridgeRequests.WithLabelValues(typ, metrics.Outcome("")).Inc()

		return res, nil
	case <-timer.C:
		forget()
		c.metrics.BridgeRequests.WithLabelValues(typ, types.CodeProviderTimeout).Inc()
		c.logger.Info("request timed out", zap.String("type", typ), zap.String("requestId", id), zap.Duration("timeout", timeout))

		return msg.Envelope{}, fmt.Errorf("%s %s after %s: %w", typ, id, timeout, types.ErrProviderTimeout)
	case <-ctx.Done():
		forget()

		return msg.Envelope{}, fmt.Errorf("%s %s: %w", typ, id, ctx.Err())
	}
}

// Detect asks the page for a fresh detection pass.
func (c *Client) Detect(ctx context.Context, timeout time.Duration) ([]types.DetectionResult, error) {
	res, err := c.Request(ctx, msg.TypeDetect, nil, timeout)
	if err != nil {
		return nil, err
	}

	var rs []types.DetectionResult
	if err = json.Unmarshal(res.Data, &rs); err != nil {
		return nil, fmt.Errorf("cannot decode detection results (%v): %w", err, types.ErrProviderResponseInvalid) //nolint:errorlint // decode error is context only
	}

	return rs, nil
}

// Connect asks the page to call the provider's connect method and returns its raw response. The request id of r is
// used on the wire when set. The page drops the request once r.Timeout has elapsed since r.IssuedAt.
func (c *Client) Connect(ctx context.Context, r types.ConnectionRequest) (json.RawMessage, error) {
	id := r.RequestID
	if id == "" {
		id = uuid.NewString()
	}

	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}

	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now()
	}

	res, err := c.request(ctx, id, msg.TypeConnect, r.Payload(), r.Timeout)
	if err != nil {
		return nil, err
	}

	return res.Data, nil
}

// Disconnect asks the page to disconnect from the provider.
func (c *Client) Disconnect(ctx context.Context, providerID string, timeout time.Duration) error {
	_, err := c.Request(ctx, msg.TypeDisconnect, types.DisconnectPayload{ProviderID: providerID}, timeout)

	return err
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}
