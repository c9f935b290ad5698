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

	"github.com/tarancss/walletlink/lib/msg"
	"github.com/tarancss/walletlink/lib/page"
	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/types"
	"github.com/tarancss/walletlink/probe"
)

// PageConfig names the endpoints of a page.
type PageConfig struct {
	Endpoint string // consumed by the page
	Upstream string // relay or coordinator
	Announce bool   // send PAGE_ACTIVE/PAGE_INACTIVE to upstream (when it is a relay)
}

type handler func(ctx context.Context, e msg.Envelope) msg.Envelope

// Page is the page half of the bridge: it serves detection and provider calls from the page context.
type Page struct {
	cfg    PageConfig
	mb     msg.Broker
	win    page.Window
	set    *provider.Set
	probe  *probe.Probe
	logger *zap.Logger
	now    func() time.Time

	handlers map[string]handler

	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPage returns the page half for window win. p must be bound to the same window.
func NewPage(cfg PageConfig, mb msg.Broker, win page.Window, set *provider.Set, p *probe.Probe, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}

	pg := &Page{cfg: cfg, mb: mb, win: win, set: set, probe: p, logger: logger.Named("bridge.page"), now: time.Now}
	pg.handlers = map[string]handler{
		msg.TypeDetect:     pg.detect,
		msg.TypeConnect:    pg.connect,
		msg.TypeDisconnect: pg.disconnect,
	}

	return pg
}

// Start serves requests until Stop is called, and pushes PROVIDERS_CHANGED upstream on every probe transition.
func (p *Page) Start(ctx context.Context) error {
	envs, errs, err := p.mb.Consume(p.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("cannot consume %s: %w", p.cfg.Endpoint, err)
	}

	ctx, p.cancel = context.WithCancel(ctx)

	p.unsub = p.probe.OnChange(func(rs []types.DetectionResult) {
		if err := p.notify(ctx, msg.TypeProvidersChanged, rs); err != nil {
			p.logger.Warn("cannot push providers", zap.Error(err))
		}
	})

	if p.cfg.Announce {
		if err = p.notify(ctx, msg.TypePageActive, msg.Announcement{Endpoint: p.cfg.Endpoint}); err != nil {
			p.logger.Warn("cannot announce page", zap.Error(err))
		}
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}

				p.logger.Warn("broker error", zap.Error(err))
			case e, ok := <-envs:
				if !ok {
					return
				}

				if e.IsResponse() {
					p.logger.Debug("ignoring response", zap.String("type", e.Type))

					continue
				}

				p.wg.Add(1)

				go func() {
					defer p.wg.Done()
					p.serve(ctx, e)
				}()
			}
		}
	}()

	return nil
}

// Stop announces the page as inactive and waits for requests in flight to end.
func (p *Page) Stop(ctx context.Context) {
	if p.cancel == nil {
		return
	}

	p.unsub()

	if p.cfg.Announce {
		if err := p.notify(ctx, msg.TypePageInactive, msg.Announcement{Endpoint: p.cfg.Endpoint}); err != nil {
			p.logger.Warn("cannot announce page", zap.Error(err))
		}
	}

	p.cancel()
	p.wg.Wait()
}

func (p *Page) notify(ctx context.Context, typ string, payload interface{}) error {
	e, err := msg.NewRequest(typ, uuid.NewString(), payload)
	if err != nil {
		return err
	}

	return p.mb.Publish(ctx, p.cfg.Upstream, e) //nolint:wrapcheck // callers log
}

func (p *Page) serve(ctx context.Context, e msg.Envelope) {
	h, ok := p.handlers[e.Type]
	if !ok {
		h = unsupported
	}

	res := h(ctx, e)

	if err := p.mb.Publish(ctx, p.cfg.Upstream, res); err != nil {
		p.logger.Warn("cannot answer", zap.String("type", e.Type), zap.String("requestId", e.RequestID), zap.Error(err))
	}
}

// unsupported answers CANCEL and any unknown type.
func unsupported(_ context.Context, e msg.Envelope) msg.Envelope {
	return e.Fail(types.CodeUnsupportedType, e.Type)
}

// reply answers e with data. An unmarshallable result is answered as PROVIDER_RESPONSE_INVALID by Reply itself.
func reply(e msg.Envelope, data interface{}) msg.Envelope {
	res, _ := e.Reply(data) //nolint:errcheck // res is the failure envelope on error

	return res
}

func (p *Page) detect(ctx context.Context, e msg.Envelope) msg.Envelope {
	return reply(e, p.probe.Pass(ctx))
}

func (p *Page) connect(ctx context.Context, e msg.Envelope) msg.Envelope {
	var cp types.ConnectPayload
	if err := json.Unmarshal(e.Payload, &cp); err != nil {
		return e.Fail(types.CodeUnknownProvider, "bad payload: "+err.Error())
	}

	d, ok := p.set.Get(cp.ProviderID)
	if !ok {
		return e.Fail(types.CodeUnknownProvider, cp.ProviderID)
	}

	if deadline, ok := cp.Deadline(); ok {
		if !p.now().Before(deadline) {
			// the client gave up on this request while it was queued
			p.logger.Info("dropping expired connect", zap.String("provider", d.ID), zap.String("requestId", e.RequestID),
				zap.Time("deadline", deadline))

			return e.Fail(types.CodeProviderTimeout, "request expired before it reached the page")
		}

		var cancel context.CancelFunc

		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	} else if cp.TimeoutMs > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, time.Duration(cp.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	raw, err := p.win.Call(ctx, d.Path, d.ConnectMethod, d.ConnectArgs...)
	if err != nil {
		p.logger.Info("connect failed", zap.String("provider", d.ID), zap.Error(err))

		return e.Fail(callCode(err), err.Error())
	}

	p.logger.Info("connected", zap.String("provider", d.ID), zap.String("requestId", e.RequestID))

	return reply(e, raw)
}

// callCode classifies a provider call error.
func callCode(err error) string {
	switch {
	case page.IsUserRejection(err):
		return types.CodeProviderRejected
	case errors.Is(err, context.DeadlineExceeded):
		return types.CodeProviderTimeout
	default:
		return types.CodeProviderFailed
	}
}

// disconnect is best effort: the response only says whether the provider had something to call.
func (p *Page) disconnect(ctx context.Context, e msg.Envelope) msg.Envelope {
	var dp types.DisconnectPayload
	if err := json.Unmarshal(e.Payload, &dp); err != nil {
		return e.Fail(types.CodeUnknownProvider, "bad payload: "+err.Error())
	}

	d, ok := p.set.Get(dp.ProviderID)
	if !ok {
		return e.Fail(types.CodeUnknownProvider, dp.ProviderID)
	}

	called := false

	if d.DisconnectMethod != "" {
		if _, err := p.win.Call(ctx, d.Path, d.DisconnectMethod); err != nil {
			p.logger.Info("disconnect failed", zap.String("provider", d.ID), zap.Error(err))
		} else {
			called = true
		}
	}

	return reply(e, map[string]bool{"disconnected": called})
}
