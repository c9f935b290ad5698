package main

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/walletlink/bridge"
	"github.com/tarancss/walletlink/lib/msg"
	"github.com/tarancss/walletlink/lib/page"
	"github.com/tarancss/walletlink/lib/page/cdp"
	"github.com/tarancss/walletlink/lib/page/sim"
	"github.com/tarancss/walletlink/probe"
)

// injectAfter is when the simulated page injects its late provider.
const injectAfter = 2 * time.Second

var demoAccount = sim.Account{ //nolint:gochecknoglobals // demo data
	Address:   "1BoatSLRHtKNngkdXEeobR76b53LETtpyT",
	PublicKey: "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
	Network:   "mainnet",
}

func newPageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "page",
		Short: "Run the page host: probe and bridge page end",
		Long: `Run the page host.

With pageurl set a browser tab is opened on it (headless unless configured otherwise) and providers are detected in
that tab. Without it a simulated page is used: RelayX is present from the start and Yours Wallet is injected two
seconds later.

Examples:
  WLB_PAGEURL=https://example.com WLB_HEADLESS=false walletlink page -c conf.json
  walletlink page`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			mb, err := e.broker(e.conf.Endpoints.Page)
			if err != nil {
				return err
			}
			defer closer(e.logger, "broker", mb)

			g, ctx, stop := e.group(cmd.Context())
			defer stop()

			if err = runPage(ctx, g, e, mb); err != nil {
				stop()
			}

			if werr := g.Wait(); err == nil {
				err = werr
			}

			return err
		},
	}
}

func runPage(ctx context.Context, g *errgroup.Group, e *env, mb msg.Broker) error {
	var (
		win page.Window
		tab io.Closer
	)

	if e.conf.PageURL != "" {
		w, err := cdp.New(ctx, e.conf.PageURL, e.conf.Headless, e.logger)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}

		e.logger.Info("page opened", zap.String("url", e.conf.PageURL), zap.Bool("headless", e.conf.Headless))
		win, tab = w, w
	} else {
		win = simulated(ctx, g, e.logger)
	}

	p := probe.New(win, e.set, probe.Config{Interval: e.conf.PollInterval, Window: e.conf.PollWindow}, e.logger, e.m)
	pg := bridge.NewPage(bridge.PageConfig{Endpoint: e.conf.Endpoints.Page, Upstream: e.upstream(), Announce: e.conf.UseRelay},
		mb, win, e.set, p, e.logger)

	// the page end subscribes to probe changes, so it starts first
	if err := pg.Start(ctx); err != nil {
		return err //nolint:wrapcheck // already descriptive
	}

	if err := p.Start(ctx); err != nil {
		pg.Stop(context.Background())

		return err //nolint:wrapcheck // already descriptive
	}

	g.Go(func() error {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		pg.Stop(sctx)
		p.Stop()

		if tab != nil {
			closer(e.logger, "page", tab)
		}

		return nil
	})

	return nil
}

// simulated returns a page with RelayX present and Yours Wallet injected after injectAfter.
func simulated(ctx context.Context, g *errgroup.Group, logger *zap.Logger) *sim.Window {
	w := sim.New()
	w.Set("relayone", sim.RelayOne(demoAccount, sim.Approve))

	g.Go(func() error {
		t := time.NewTimer(injectAfter)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		w.Set("yours", sim.Yours(demoAccount, sim.Approve))
		w.Dispatch("yours#initialized")
		logger.Info("simulated provider injected", zap.String("provider", "yours"))

		return nil
	})

	logger.Info("running simulated page")

	return w
}
