package main

import (
	"github.com/spf13/cobra"

	"github.com/tarancss/walletlink/lib/msg/broker"
)

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run coordinator, relay and page host in one process",
		Long: `Run coordinator, relay (when userelay is set) and page host in one process over the in-memory broker.

Example:
  walletlink all && curl -X POST localhost:3030/connect`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			e.conf.MbType = broker.MEMORY

			eps := []string{e.conf.Endpoints.Coordinator, e.conf.Endpoints.Page}
			if e.conf.UseRelay {
				eps = append(eps, e.conf.Endpoints.Relay)
			}

			mb, err := e.broker(eps...)
			if err != nil {
				return err
			}
			defer closer(e.logger, "broker", mb)

			g, ctx, stop := e.group(cmd.Context())
			defer stop()

			if e.conf.UseRelay {
				err = runRelay(ctx, g, e, mb)
			}

			if err == nil {
				err = runPage(ctx, g, e, mb)
			}

			if err == nil {
				err = runCoordinator(ctx, g, e, mb)
			}

			if err != nil {
				stop()
			}

			if werr := g.Wait(); err == nil {
				err = werr
			}

			return err
		},
	}
}
