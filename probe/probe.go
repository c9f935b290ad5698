// Package probe detects wallet providers injected into a page. It runs inside the page context, combining direct
// lookups, enumeration of global keys and provider ready events. Polling runs for a bounded window after start;
// page lifecycle and ready events force extra passes for as long as the probe is running.
//
// The probe never connects to a provider. Its results are snapshots and are superseded by every pass.
package probe

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/metrics"
	"github.com/tarancss/walletlink/lib/page"
	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/types"
)

// Default polling parameters.
const (
	DefaultInterval = 500 * time.Millisecond
	DefaultWindow   = 25 * time.Second
)

// ErrStarted is returned when Start is called twice.
var ErrStarted = errors.New("probe already started")

// Config sets the polling cadence.
type Config struct {
	Interval time.Duration
	Window   time.Duration
}

// Probe is a provider detector bound to one page.
type Probe struct {
	win     page.Window
	set     *provider.Set
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	passMu    sync.Mutex // serializes passes
	mu        sync.Mutex
	results   map[string]types.DetectionResult
	signalled map[string]bool
	subs      map[int]func([]types.DetectionResult)
	seq       int

	passes  atomic.Uint64
	trigger chan string
	started atomic.Bool
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
}

// New returns a probe for the providers in set. Zero config values take the defaults.
func New(win page.Window, set *provider.Set, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Probe {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if m == nil {
		m = metrics.New()
	}

	return &Probe{
		win:       win,
		set:       set,
		cfg:       cfg,
		logger:    logger.Named("probe"),
		metrics:   m,
		now:       time.Now,
		results:   make(map[string]types.DetectionResult),
		signalled: make(map[string]bool),
		subs:      make(map[int]func([]types.DetectionResult)),
		trigger:   make(chan string, 1),
	}
}

// events returns the lifecycle events plus the ready events of every event-detected provider, and a map from ready
// event to provider id.
func (p *Probe) events() ([]string, map[string]string) {
	evs := append([]string(nil), provider.LifecycleEvents...)
	ready := make(map[string]string)

	for _, d := range p.set.All() {
		if !d.Has(provider.Event) {
			continue
		}

		for _, ev := range d.ReadyEvents {
			ready[ev] = d.ID
			evs = append(evs, ev)
		}
	}

	return evs, ready
}

// Start subscribes to page events and starts polling. It runs one pass before returning.
func (p *Probe) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	evs, ready := p.events()

	unsub, err := p.win.Subscribe(evs, func(ev string) {
		if id, ok := ready[ev]; ok {
			p.mu.Lock()
			p.signalled[id] = true
			p.mu.Unlock()
		}

		p.Trigger(ev)
	})
	if err != nil {
		p.started.Store(false)

		return err //nolint:wrapcheck // window errors are descriptive
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.unsub = unsub

	p.Pass(ctx)

	p.wg.Add(1)

	go p.loop(ctx)

	return nil
}

// Stop stops polling and unsubscribes from the page. It waits for an ongoing pass to finish.
func (p *Probe) Stop() {
	if !p.started.Load() || p.cancel == nil {
		return
	}

	p.cancel()
	p.unsub()
	p.wg.Wait()
}

// Trigger forces a pass as soon as possible. Triggers arriving while one is queued are coalesced.
func (p *Probe) Trigger(reason string) {
	select {
	case p.trigger <- reason:
	default:
	}
}

func (p *Probe) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	window := time.NewTimer(p.cfg.Window)
	defer window.Stop()

	tick := ticker.C

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			p.Pass(ctx)
		case <-window.C:
			ticker.Stop()
			tick = nil

			p.logger.Debug("polling window closed", zap.Duration("window", p.cfg.Window), zap.Uint64("passes", p.Passes()))
		case reason := <-p.trigger:
			p.logger.Debug("forced pass", zap.String("reason", reason))
			p.Pass(ctx)
		}
	}
}

// Passes returns the number of passes run so far.
func (p *Probe) Passes() uint64 {
	return p.passes.Load()
}

// Pass runs one detection pass and returns its results in priority order. Subscribers are notified if any
// provider's Detected state flipped.
func (p *Probe) Pass(ctx context.Context) []types.DetectionResult {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	found := p.detect(ctx)
	now := p.now()

	p.mu.Lock()

	for id := range p.signalled {
		if _, ok := found[id]; !ok {
			found[id] = nil
		}
	}

	out := make([]types.DetectionResult, 0, p.set.Len())
	changed := false

	for _, d := range p.set.All() {
		prev := p.results[d.ID]
		caps, detected := found[d.ID]

		r := types.DetectionResult{ProviderID: d.ID, Detected: detected, Capabilities: caps, LastSeenAt: prev.LastSeenAt}

		if detected {
			r.LastSeenAt = now
			r.FirstSeenAt = now

			if prev.Detected {
				r.FirstSeenAt = prev.FirstSeenAt
			}
		}

		if detected != prev.Detected {
			changed = true

			p.metrics.ProbeTransitions.WithLabelValues(d.ID, strconv.FormatBool(detected)).Inc()
			p.logger.Info("provider transition", zap.String("provider", d.ID), zap.Bool("detected", detected))
		}

		p.results[d.ID] = r
		out = append(out, r)
	}

	var subs []func([]types.DetectionResult)
	if changed {
		subs = make([]func([]types.DetectionResult), 0, len(p.subs))

		ids := make([]int, 0, len(p.subs))
		for id := range p.subs {
			ids = append(ids, id)
		}

		sort.Ints(ids)

		for _, id := range ids {
			subs = append(subs, p.subs[id])
		}
	}
	p.mu.Unlock()

	p.passes.Add(1)
	p.metrics.ProbePasses.Inc()

	for _, fn := range subs {
		fn(clone(out))
	}

	return out
}

// detect runs direct and enumeration detection. The returned map holds the capabilities of every detected provider.
func (p *Probe) detect(ctx context.Context) map[string][]string {
	found := make(map[string][]string)

	var enumerated []provider.Descriptor

	for _, d := range p.set.All() {
		if d.Has(provider.Enumeration) && len(d.Keywords) > 0 {
			enumerated = append(enumerated, d)
		}

		if !d.Has(provider.Direct) {
			continue
		}

		h, err := p.win.Inspect(ctx, d.Path, d.Methods)
		if err != nil {
			p.logger.Debug("direct lookup failed", zap.String("provider", d.ID), zap.String("path", d.Path), zap.Error(err))

			continue
		}

		if h.Callable(d.Methods) {
			found[d.ID] = h.Capabilities(d.Methods)
		}
	}

	if len(enumerated) == 0 {
		return found
	}

	keys, err := p.win.Keys(ctx)
	if err != nil {
		p.logger.Debug("cannot enumerate globals", zap.Error(err))

		return found
	}

	for _, key := range keys {
		for _, d := range enumerated {
			if _, ok := found[d.ID]; ok || !d.MatchesKey(key) {
				continue
			}

			h, err := p.win.Inspect(ctx, key, d.Methods)
			if err != nil {
				// a throwing getter only hides this key
				p.logger.Debug("skipping global", zap.String("key", key), zap.Error(err))

				break
			}

			if h.Present {
				found[d.ID] = h.Capabilities(d.Methods)
			}
		}
	}

	return found
}

// Snapshot returns the results of the last pass in priority order.
func (p *Probe) Snapshot() []types.DetectionResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.DetectionResult, 0, len(p.results))

	for _, d := range p.set.All() {
		if r, ok := p.results[d.ID]; ok {
			out = append(out, r)
		}
	}

	return clone(out)
}

// Detected returns the ids of the currently detected providers in priority order.
func Detected(rs []types.DetectionResult) []string {
	var ids []string

	for _, r := range rs {
		if r.Detected {
			ids = append(ids, r.ProviderID)
		}
	}

	return ids
}

// OnChange registers fn to be called with the new results whenever a provider's Detected state flips. The returned
// function unregisters it.
func (p *Probe) OnChange(fn func([]types.DetectionResult)) func() {
	p.mu.Lock()
	p.seq++
	id := p.seq
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func clone(rs []types.DetectionResult) []types.DetectionResult {
	out := make([]types.DetectionResult, len(rs))
	for i, r := range rs {
		out[i] = r
		out[i].Capabilities = append([]string(nil), r.Capabilities...)
	}

	return out
}
