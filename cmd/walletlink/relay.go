package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/walletlink/bridge"
	"github.com/tarancss/walletlink/lib/msg"
)

func newRelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the relay between coordinator and page",
		Long: `Run the relay.

Requests from the coordinator are forwarded to the page that last announced itself active, replies and provider
notifications are forwarded back. Without an active page requests are answered RELAY_UNREACHABLE.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			mb, err := e.broker(e.conf.Endpoints.Relay)
			if err != nil {
				return err
			}
			defer closer(e.logger, "broker", mb)

			g, ctx, stop := e.group(cmd.Context())
			defer stop()

			if err = runRelay(ctx, g, e, mb); err != nil {
				stop()
			}

			if werr := g.Wait(); err == nil {
				err = werr
			}

			return err
		},
	}
}

func runRelay(ctx context.Context, g *errgroup.Group, e *env, mb msg.Broker) error {
	r := bridge.NewRelay(mb, e.conf.Endpoints.Relay, e.conf.Endpoints.Coordinator, e.logger)
	if err := r.Start(ctx); err != nil {
		return err //nolint:wrapcheck // already descriptive
	}

	g.Go(func() error {
		<-ctx.Done()
		r.Stop()

		return nil
	})

	return nil
}
