// Package connection persists the last successful connection with a time to live and tracks the connection state
// the UI renders.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tarancss/walletlink/lib/store"
	"github.com/tarancss/walletlink/lib/types"
)

// DefaultTTL is how long a persisted connection stays valid.
const DefaultTTL = 24 * time.Hour

// Key is the storage key of the persisted connection.
const Key = "walletlink.connection"

var codec = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals // stateless codec

// Store keeps a single PersistedConnection in a key/value store. A nil KV means storage is unavailable: saves and
// loads are then logged no-ops and the connection only lives as long as the process.
type Store struct {
	kv     store.KV
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewStore returns a store over kv (which may be nil). A non-positive ttl takes DefaultTTL.
func NewStore(kv store.KV, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{kv: kv, ttl: ttl, now: time.Now, logger: logger.Named("connection")}
}

// TTL returns the time to live of a saved connection.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Available reports whether a storage backend is configured.
func (s *Store) Available() bool {
	return s.kv != nil
}

// Save overwrites the persisted connection with r, stamped now. Errors wrap ErrStorageUnavailable; callers treat
// them as warnings.
func (s *Store) Save(ctx context.Context, r types.ConnectionResult) error {
	if s.kv == nil {
		s.logger.Warn("storage unavailable, connection not saved", zap.String("provider", r.ProviderID))

		return types.ErrStorageUnavailable
	}

	b, err := codec.Marshal(types.PersistedConnection{Connection: r, ConnectedAtEpochMs: s.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("cannot encode connection: %w", err)
	}

	if err = s.kv.Put(ctx, Key, b); err != nil {
		s.logger.Warn("connection not saved", zap.Error(err))

		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err) //nolint:errorlint // backend error is context only
	}

	return nil
}

// Load returns the persisted connection if there is one and it is not older than the TTL. A stale entry is reported
// absent and left in place.
func (s *Store) Load(ctx context.Context) (types.PersistedConnection, bool) {
	var p types.PersistedConnection

	if s.kv == nil {
		s.logger.Debug("storage unavailable, nothing to load")

		return p, false
	}

	b, err := s.kv.Get(ctx, Key)
	if err != nil {
		if !errors.Is(err, store.ErrDataNotFound) {
			s.logger.Warn("cannot load connection", zap.Error(err))
		}

		return p, false
	}

	if err = codec.Unmarshal(b, &p); err != nil {
		s.logger.Warn("discarding unreadable connection", zap.Error(err))

		return types.PersistedConnection{}, false
	}

	if p.Stale(s.now(), s.ttl) {
		s.logger.Info("persisted connection expired", zap.String("provider", p.Connection.ProviderID),
			zap.Time("connectedAt", p.ConnectedAt()))

		return types.PersistedConnection{}, false
	}

	return p, true
}

// Clear removes the persisted connection.
func (s *Store) Clear(ctx context.Context) error {
	if s.kv == nil {
		return types.ErrStorageUnavailable
	}

	if err := s.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageUnavailable, err) //nolint:errorlint // backend error is context only
	}

	return nil
}
