// Package main: walletlink services.
//
// The coordinator serves the RESTful API, the relay forwards between the coordinator and the active page and the
// page host runs the probe and answers bridge requests against a browser tab (or a simulated page). Each runs as its
// own process over the configured message broker; "all" runs the three of them in one process over the in-memory
// broker.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "walletlink",
		Short: "Wallet discovery and connection bridge",
		Long: `walletlink - detects wallet providers injected in a page and connects to one of them.

Commands:
  walletlink coordinator   Run the RESTful API and connection orchestrator
  walletlink relay         Run the relay between coordinator and page
  walletlink page          Run the page host: probe and bridge page end
  walletlink all           Run everything in one process`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "configuration JSON file")
	rootCmd.PersistentFlags().BoolP("monitor", "m", false, "serve Prometheus metrics at :9100/metrics")

	rootCmd.AddCommand(newCoordinatorCmd())
	rootCmd.AddCommand(newRelayCmd())
	rootCmd.AddCommand(newPageCmd())
	rootCmd.AddCommand(newAllCmd())

	return rootCmd.ExecuteContext(context.Background())
}
