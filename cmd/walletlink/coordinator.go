package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/walletlink/bridge"
	"github.com/tarancss/walletlink/connection"
	"github.com/tarancss/walletlink/coordinator"
	"github.com/tarancss/walletlink/lib/msg"
	"github.com/tarancss/walletlink/lib/names"
	"github.com/tarancss/walletlink/orchestrator"
)

func newCoordinatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coordinator",
		Short: "Run the RESTful API and connection orchestrator",
		Long: `Run the coordinator.

It serves the RESTful API on endpoint:port and drives detection and connection through the bridge. The last
connection is persisted in the configured database and restored on start while it is fresh.

Examples:
  walletlink coordinator -c conf.json
  WLB_DBTYPE=redis WLB_DBCONN=redis://localhost:6379/0 walletlink coordinator -m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			mb, err := e.broker(e.conf.Endpoints.Coordinator)
			if err != nil {
				return err
			}
			defer closer(e.logger, "broker", mb)

			g, ctx, stop := e.group(cmd.Context())
			defer stop()

			if err = runCoordinator(ctx, g, e, mb); err != nil {
				stop()
			}

			if werr := g.Wait(); err == nil {
				err = werr
			}

			return err
		},
	}
}

func runCoordinator(ctx context.Context, g *errgroup.Group, e *env, mb msg.Broker) error {
	kv := e.kv()

	client := bridge.NewClient(mb, e.conf.Endpoints.Coordinator, e.next(), e.logger, e.m)
	client.Handle(msg.TypeProvidersChanged, func(env msg.Envelope) {
		e.logger.Info("providers changed", zap.ByteString("providers", env.Payload))
	})

	if err := client.Start(ctx); err != nil {
		return err //nolint:wrapcheck // already descriptive
	}

	orch := orchestrator.New(client, e.set, connection.NewStore(kv, e.conf.TTL, e.logger), connection.NewTracker(),
		orchestrator.Config{DetectTimeout: e.conf.RequestTimeout, AttemptTimeout: e.conf.AttemptTimeout}, e.logger, e.m)

	if orch.Resume(ctx) {
		e.logger.Info("restored persisted connection")
	}

	var resolver coordinator.NameResolver
	if e.conf.NamesURL != "" {
		resolver = names.New(e.conf.NamesURL, e.conf.NamesRate, e.conf.RequestTimeout, e.logger, e.m)
	}

	c := coordinator.New(orch, resolver, e.logger)

	g.Go(func() error {
		e.logger.Info("coordinator done", zap.String("result", c.Init(e.conf.RestfulEndpoint, e.conf.Port)))

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		c.Stop(sctx)
		client.Stop()

		if kv != nil {
			closer(e.logger, "database", kv)
		}

		return nil
	})

	return nil
}
