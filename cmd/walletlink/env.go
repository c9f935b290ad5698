package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tarancss/walletlink/lib/config"
	"github.com/tarancss/walletlink/lib/logging"
	"github.com/tarancss/walletlink/lib/metrics"
	"github.com/tarancss/walletlink/lib/msg"
	"github.com/tarancss/walletlink/lib/msg/broker"
	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/store"
	"github.com/tarancss/walletlink/lib/store/db"
)

const (
	metricsAddr = ":9100"
	grace       = 10 * time.Second
)

// env holds what every command needs: configuration, logger and metrics.
type env struct {
	conf    config.ServiceConfig
	set     *provider.Set
	logger  *zap.Logger
	m       *metrics.Metrics
	monitor bool
}

func newEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	monitor, _ := cmd.Flags().GetBool("monitor")

	conf, err := config.ExtractConfiguration(path)
	if err != nil {
		return nil, err //nolint:wrapcheck // already descriptive
	}

	set, err := conf.ProviderSet()
	if err != nil {
		return nil, err //nolint:wrapcheck // already descriptive
	}

	logger := logging.New(conf.Logger)
	logger.Info("configuration loaded", zap.String("file", path), zap.String("broker", conf.MbType),
		zap.String("db", conf.DbType), zap.Bool("relay", conf.UseRelay), zap.Int("providers", set.Len()))

	return &env{conf: conf, set: set, logger: logger, m: metrics.New(), monitor: monitor}, nil
}

// group returns an errgroup whose context ends on CTRL+C or docker's SIGTERM, serving metrics if requested.
func (e *env) group(ctx context.Context) (*errgroup.Group, context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	g, ctx := errgroup.WithContext(ctx)

	if e.monitor {
		g.Go(func() error {
			e.logger.Info("serving metrics", zap.String("addr", metricsAddr))

			return e.m.Serve(ctx, metricsAddr)
		})
	}

	return g, ctx, stop
}

func (e *env) broker(endpoints ...string) (msg.Broker, error) {
	mb, err := broker.New(e.conf.MbType, e.conf.MbConn, e.conf.Prefix, e.logger, endpoints...)
	if err != nil {
		return nil, fmt.Errorf("cannot open message broker: %w", err)
	}

	return mb, nil
}

// kv opens the connection storage. Storage is optional: a failure is logged and nil returned, so connections are
// only kept in memory.
func (e *env) kv() store.KV {
	if e.conf.DbType == "" {
		return nil
	}

	kv, err := db.New(e.conf.DbType, e.conf.DbConn)
	if err != nil {
		e.logger.Warn("connection storage unavailable", zap.String("db", e.conf.DbType), zap.Error(err))

		return nil
	}

	e.logger.Info("connected to database", zap.String("db", e.conf.DbType))

	return kv
}

// upstream is where the page sends its replies and notifications.
func (e *env) upstream() string {
	if e.conf.UseRelay {
		return e.conf.Endpoints.Relay
	}

	return e.conf.Endpoints.Coordinator
}

// next is where the coordinator sends its requests.
func (e *env) next() string {
	if e.conf.UseRelay {
		return e.conf.Endpoints.Relay
	}

	return e.conf.Endpoints.Page
}

func closer(logger *zap.Logger, what string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		logger.Warn("close", zap.String("what", what), zap.Error(err))
	}
}
