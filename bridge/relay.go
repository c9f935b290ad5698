package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/msg"
	"github.com/tarancss/walletlink/lib/types"
)

// Relay forwards coordinator requests to the active page and page responses back to the coordinator. It never
// interprets or rewrites messages beyond routing them.
type Relay struct {
	mb       msg.Broker
	self     string
	upstream string
	logger   *zap.Logger

	mu     sync.Mutex
	active string // endpoint of the active page, empty if none

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay returns a relay consuming from self and answering to upstream.
func NewRelay(mb msg.Broker, self, upstream string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Relay{mb: mb, self: self, upstream: upstream, logger: logger.Named("bridge.relay")}
}

// Active returns the endpoint of the active page.
func (r *Relay) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active
}

// Start relays messages until Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	envs, errs, err := r.mb.Consume(r.self)
	if err != nil {
		return fmt.Errorf("cannot consume %s: %w", r.self, err)
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}

				r.logger.Warn("broker error", zap.Error(err))
			case e, ok := <-envs:
				if !ok {
					return
				}

				r.route(ctx, e)
			}
		}
	}()

	return nil
}

// Stop stops relaying.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}

	r.wg.Wait()
}

func (r *Relay) route(ctx context.Context, e msg.Envelope) {
	switch {
	case e.Type == msg.TypePageActive || e.Type == msg.TypePageInactive:
		r.announce(e)
	case e.IsResponse() || e.Type == msg.TypeProvidersChanged:
		if err := r.mb.Publish(ctx, r.upstream, e); err != nil {
			r.logger.Warn("cannot forward upstream", zap.String("type", e.Type), zap.String("requestId", e.RequestID), zap.Error(err))
		}
	default:
		r.forward(ctx, e)
	}
}

func (r *Relay) announce(e msg.Envelope) {
	var a msg.Announcement
	if err := json.Unmarshal(e.Payload, &a); err != nil || a.Endpoint == "" {
		r.logger.Warn("bad announcement", zap.String("type", e.Type), zap.ByteString("payload", e.Payload))

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case e.Type == msg.TypePageActive:
		r.active = a.Endpoint
	case r.active == a.Endpoint:
		r.active = ""
	default:
		// an inactive page that was not the active one
		return
	}

	r.logger.Info("active page", zap.String("endpoint", r.active))
}

// forward sends a coordinator request to the active page, answering RELAY_UNREACHABLE when there is none.
func (r *Relay) forward(ctx context.Context, e msg.Envelope) {
	active := r.Active()

	var err error
	if active != "" {
		if err = r.mb.Publish(ctx, active, e); err == nil {
			return
		}
	}

	r.logger.Info("no page reachable", zap.String("type", e.Type), zap.String("requestId", e.RequestID), zap.Error(err))

	if err = r.mb.Publish(ctx, r.upstream, e.Fail(types.CodeRelayUnreachable, "no active page")); err != nil {
		r.logger.Warn("cannot answer upstream", zap.String("requestId", e.RequestID), zap.Error(err))
	}
}
