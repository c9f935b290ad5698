// Package coordinator implements the coordinator service: the isolated context the UI talks to.
//
// It exposes a RESTful API to list the supported providers, run a detection, connect, disconnect and read the
// connection status. Every failure is returned with its error code and a user-facing guidance message so the UI can
// tell apart a missing wallet, a declined prompt and a wallet that did not answer.
package coordinator

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/tarancss/walletlink/connection"
	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/types"
)

// Connector runs the connection flow (see package orchestrator).
type Connector interface {
	Connect(ctx context.Context, preferred string) (types.ConnectionResult, error)
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) connection.Snapshot
	Detect(ctx context.Context) ([]types.DetectionResult, error)
	Providers() []provider.Descriptor
}

// NameResolver looks up the display name of an address (see package names).
type NameResolver interface {
	LookupNameByAddress(ctx context.Context, addr string) (string, error)
}

// Coordinator contains the data necessary to deliver the service.
type Coordinator struct {
	conn   Connector
	names  NameResolver // optional
	logger *zap.Logger
	mu     sync.Mutex
	s      *http.Server  // http server
	sc     chan struct{} // http server channel used for graceful shutdowns
	once   sync.Once
}

// New returns a pointer to a new Coordinator service. names may be nil.
func New(conn Connector, names NameResolver, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{conn: conn, names: names, logger: logger.Named("coordinator"), sc: make(chan struct{})}
}

// Stop shuts down the http server implementing the RESTful API. It may be called more than once.
func (c *Coordinator) Stop(ctx context.Context) {
	c.mu.Lock()
	s := c.s
	c.mu.Unlock()

	if s != nil {
		if err := s.Shutdown(ctx); err != nil {
			c.logger.Warn("http server shutdown", zap.Error(err))
		}
	}

	c.once.Do(func() { close(c.sc) }) // close server channel to indicate shutdown has finished
}
