// Package orchestrator turns "connect a wallet" into a sequence of bridge requests: it reuses a fresh persisted
// connection, otherwise detects providers and tries them one at a time in priority order until one succeeds, the
// user rejects, or all of them fail.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tarancss/walletlink/connection"
	"github.com/tarancss/walletlink/lib/metrics"
	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/types"
	"github.com/tarancss/walletlink/probe"
)

// Default timeouts.
const (
	DefaultDetectTimeout  = 5 * time.Second
	DefaultAttemptTimeout = 60 * time.Second // the user may take a while on the wallet prompt
)

// Bridge is the coordinator side of the context bridge.
type Bridge interface {
	Detect(ctx context.Context, timeout time.Duration) ([]types.DetectionResult, error)
	Connect(ctx context.Context, r types.ConnectionRequest) (json.RawMessage, error)
	Disconnect(ctx context.Context, providerID string, timeout time.Duration) error
}

// Attempt is the outcome of trying one provider.
type Attempt struct {
	ProviderID string
	Err        error
}

// AttemptsError is returned when every detected provider failed. It unwraps to the last failure.
type AttemptsError struct {
	Attempts []Attempt
}

func (e *AttemptsError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.ProviderID + ": " + a.Err.Error()
	}

	return fmt.Sprintf("all %d providers failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

func (e *AttemptsError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}

	return e.Attempts[len(e.Attempts)-1].Err
}

// Config holds the timeouts of an orchestration.
type Config struct {
	DetectTimeout  time.Duration
	AttemptTimeout time.Duration
}

// Orchestrator runs connection attempts.
type Orchestrator struct {
	bridge  Bridge
	set     *provider.Set
	store   *connection.Store
	tracker *connection.Tracker
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	last types.ConnectionResult // last successful connection, for disconnect
}

// New returns an orchestrator. Zero timeouts take the defaults.
func New(b Bridge, set *provider.Set, st *connection.Store, tr *connection.Tracker, cfg Config, logger *zap.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = DefaultDetectTimeout
	}

	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if m == nil {
		m = metrics.New()
	}

	return &Orchestrator{bridge: b, set: set, store: st, tracker: tr, cfg: cfg, logger: logger.Named("orchestrator"), metrics: m}
}

// track logs transitions the tracker refused; overlapping runs make them possible and harmless.
func (o *Orchestrator) track(err error) {
	if err != nil {
		o.logger.Debug("state not updated", zap.Error(err))
	}
}

// restore marks the tracker connected with r without any bridge traffic.
func (o *Orchestrator) restore(r types.ConnectionResult) {
	o.mu.Lock()
	o.last = r
	o.mu.Unlock()

	if o.tracker.State() == connection.Connected {
		return
	}

	o.track(o.tracker.Detect())
	o.track(o.tracker.Connect())
	o.track(o.tracker.Succeed(r))
}

// resync walks the tracker into Connected with r from whatever state it is in.
func (o *Orchestrator) resync(r types.ConnectionResult) {
	if o.tracker.State() == connection.Connected {
		o.track(o.tracker.Disconnect())
	}

	o.track(o.tracker.Detect())
	o.track(o.tracker.Connect())
	o.track(o.tracker.Succeed(r))
}

// Resume restores a fresh persisted connection, if any, and reports whether it did.
func (o *Orchestrator) Resume(ctx context.Context) bool {
	p, ok := o.store.Load(ctx)
	if ok {
		o.restore(p.Connection)
		o.logger.Info("resumed connection", zap.String("provider", p.Connection.ProviderID), zap.Time("connectedAt", p.ConnectedAt()))
	}

	return ok
}

// Connect returns a connection, trying preferred first if it is detected. On failure the result carries the error
// code and err is one of the taxonomy errors (possibly inside an *AttemptsError).
func (o *Orchestrator) Connect(ctx context.Context, preferred string) (types.ConnectionResult, error) {
	if p, ok := o.store.Load(ctx); ok {
		o.restore(p.Connection)
		o.metrics.Orchestrations.WithLabelValues("cached").Inc()

		return p.Connection, nil
	}

	if s := o.tracker.Snapshot(); s.Connection != nil {
		if !o.store.Available() {
			// the connection only lives in memory
			return *s.Connection, nil
		}

		// the persisted entry expired
		o.track(o.tracker.Disconnect())
	}

	o.track(o.tracker.Detect())

	rs, err := o.bridge.Detect(ctx, o.cfg.DetectTimeout)
	if err != nil {
		return o.fail("", err)
	}

	ids := o.set.Order(probe.Detected(rs), preferred)
	if len(ids) == 0 {
		return o.fail("", types.ErrNoProviderDetected)
	}

	o.logger.Info("connecting", zap.Strings("order", ids), zap.String("preferred", preferred))
	o.track(o.tracker.Connect())

	agg := &AttemptsError{}

	for _, id := range ids {
		r, err := o.attempt(ctx, id, preferred)
		if err == nil {
			return o.succeed(ctx, r)
		}

		agg.Attempts = append(agg.Attempts, Attempt{ProviderID: id, Err: err})

		if errors.Is(err, types.ErrProviderRejected) {
			// the user said no: do not prompt them with the next wallet
			return o.fail(id, err)
		}

		if ctx.Err() != nil {
			break
		}
	}

	return o.fail(agg.Attempts[len(agg.Attempts)-1].ProviderID, agg)
}

func (o *Orchestrator) attempt(ctx context.Context, id, preferred string) (types.ConnectionResult, error) {
	d, _ := o.set.Get(id)

	req := types.ConnectionRequest{
		RequestID:           uuid.NewString(),
		ProviderID:          id,
		PreferredProviderID: preferred,
		IssuedAt:            time.Now(),
		Timeout:             o.cfg.AttemptTimeout,
	}

	raw, err := o.bridge.Connect(ctx, req)
	if err == nil {
		var r types.ConnectionResult
		if r, err = Normalize(d, raw); err == nil {
			o.metrics.Attempts.WithLabelValues(id, metrics.Outcome("")).Inc()

			return r, nil
		}
	}

	o.metrics.Attempts.WithLabelValues(id, types.Code(err)).Inc()
	o.logger.Info("attempt failed", zap.String("provider", id), zap.String("requestId", req.RequestID), zap.Error(err))

	return types.Failed(id, err), err
}

func (o *Orchestrator) succeed(ctx context.Context, r types.ConnectionResult) (types.ConnectionResult, error) {
	if err := o.store.Save(ctx, r); err != nil {
		o.logger.Warn("connection will not survive a restart", zap.Error(err))
	}

	o.mu.Lock()
	o.last = r
	o.mu.Unlock()

	if err := o.tracker.Succeed(r); err != nil {
		// an overlapping run moved the tracker while this one was prompting; the saved connection wins
		o.logger.Info("resyncing state with the new connection", zap.Error(err))
		o.resync(r)
	}

	o.metrics.Orchestrations.WithLabelValues(metrics.Outcome("")).Inc()
	o.logger.Info("connected", zap.String("provider", r.ProviderID), zap.String("address", r.Address))

	return r, nil
}

func (o *Orchestrator) fail(providerID string, err error) (types.ConnectionResult, error) {
	o.track(o.tracker.Fail(err))
	o.metrics.Orchestrations.WithLabelValues(types.Code(err)).Inc()
	o.logger.Info("connection failed", zap.String("code", types.Code(err)), zap.Error(err))

	return types.Failed(providerID, err), err
}

// Disconnect forgets the connection and asks the provider to disconnect. Only storage errors are returned; the
// provider call is best effort.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	id := o.last.ProviderID
	o.last = types.ConnectionResult{}
	o.mu.Unlock()

	if id == "" {
		if p, ok := o.store.Load(ctx); ok {
			id = p.Connection.ProviderID
		}
	}

	var err error
	if o.store.Available() {
		err = o.store.Clear(ctx)
	}

	if o.tracker.State() == connection.Connected {
		o.track(o.tracker.Disconnect())
	}

	if id != "" {
		if e := o.bridge.Disconnect(ctx, id, o.cfg.DetectTimeout); e != nil {
			o.logger.Info("provider disconnect failed", zap.String("provider", id), zap.Error(e))
		}
	}

	return err
}

// Status returns the current state, moving Connected to Disconnected if the persisted entry has expired.
func (o *Orchestrator) Status(ctx context.Context) connection.Snapshot {
	if o.tracker.State() == connection.Connected && o.store.Available() {
		if _, ok := o.store.Load(ctx); !ok {
			o.track(o.tracker.Disconnect())
		}
	}

	return o.tracker.Snapshot()
}

// Providers returns the configured descriptors in priority order.
func (o *Orchestrator) Providers() []provider.Descriptor {
	return o.set.All()
}

// Detect runs a detection pass through the bridge without touching the state.
func (o *Orchestrator) Detect(ctx context.Context) ([]types.DetectionResult, error) {
	return o.bridge.Detect(ctx, o.cfg.DetectTimeout)
}
