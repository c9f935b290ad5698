package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/walletlink/lib/store"
	"github.com/tarancss/walletlink/lib/store/memory"
	"github.com/tarancss/walletlink/lib/types"
)

var conn = types.ConnectionResult{ //nolint:gochecknoglobals // testdata
	Success: true, ProviderID: "yours", Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", PublicKey: "02abc", Network: "mainnet",
}

// broken fails every operation.
type broken struct{}

var errDown = errors.New("disk on fire")

func (broken) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (broken) Put(context.Context, string, []byte) error   { return errDown }
func (broken) Delete(context.Context, string) error        { return errDown }
func (broken) Close() error                                { return nil }

var _ store.KV = broken{}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	s := NewStore(kv, 0, nil)
	assert.Equal(t, DefaultTTL, s.TTL())

	_, ok := s.Load(ctx)
	assert.False(t, ok)

	t0 := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return t0 }

	require.NoError(t, s.Save(ctx, conn))

	p, ok := s.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, conn, p.Connection)
	assert.Equal(t, t0, p.ConnectedAt())

	// save overwrites
	other := conn
	other.ProviderID, other.Address = "panda", "1Other"
	require.NoError(t, s.Save(ctx, other))
	p, _ = s.Load(ctx)
	assert.Equal(t, other, p.Connection)

	require.NoError(t, s.Clear(ctx))
	_, ok = s.Load(ctx)
	assert.False(t, ok)
	// clearing twice is fine
	require.NoError(t, s.Clear(ctx))
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	s := NewStore(kv, time.Hour, nil)

	t0 := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return t0 }
	require.NoError(t, s.Save(ctx, conn))

	s.now = func() time.Time { return t0.Add(time.Hour) }
	_, ok := s.Load(ctx)
	assert.True(t, ok, "exactly ttl old is still valid")

	s.now = func() time.Time { return t0.Add(time.Hour + time.Millisecond) }
	_, ok = s.Load(ctx)
	assert.False(t, ok)

	// stale entries are not deleted by reads
	b, err := kv.Get(ctx, Key)
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}

func TestUnreadableEntry(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	require.NoError(t, kv.Put(ctx, Key, []byte("{not json")))

	_, ok := NewStore(kv, 0, nil).Load(ctx)
	assert.False(t, ok)
}

func TestStorageUnavailable(t *testing.T) {
	ctx := context.Background()

	for _, s := range []*Store{NewStore(nil, 0, nil), NewStore(broken{}, 0, nil)} {
		assert.ErrorIs(t, s.Save(ctx, conn), types.ErrStorageUnavailable)
		assert.ErrorIs(t, s.Clear(ctx), types.ErrStorageUnavailable)

		_, ok := s.Load(ctx)
		assert.False(t, ok)
	}

	assert.False(t, NewStore(nil, 0, nil).Available())
	assert.True(t, NewStore(broken{}, 0, nil).Available())
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Disconnected, tr.State())

	// happy path
	require.NoError(t, tr.Detect())
	require.NoError(t, tr.Connect())
	require.NoError(t, tr.Succeed(conn))

	s := tr.Snapshot()
	assert.Equal(t, Connected, s.State)
	require.NotNil(t, s.Connection)
	assert.Equal(t, conn, *s.Connection)

	// no reconnecting state
	assert.ErrorIs(t, tr.Detect(), ErrInvalidTransition)
	assert.ErrorIs(t, tr.Fail(types.ErrProviderTimeout), ErrInvalidTransition)

	require.NoError(t, tr.Disconnect())
	assert.Nil(t, tr.Snapshot().Connection)
	assert.ErrorIs(t, tr.Disconnect(), ErrInvalidTransition)

	// failure while connecting
	require.NoError(t, tr.Detect())
	require.NoError(t, tr.Connect())
	require.NoError(t, tr.Fail(types.ErrProviderRejected))
	assert.Equal(t, Disconnected, tr.State())
	assert.Equal(t, types.CodeProviderRejected, tr.Snapshot().LastError)

	// nothing detected
	require.NoError(t, tr.Detect())
	require.NoError(t, tr.Fail(types.ErrNoProviderDetected))
	assert.Equal(t, types.CodeNoProviderDetected, tr.Snapshot().LastError)

	assert.ErrorIs(t, tr.Connect(), ErrInvalidTransition)
	assert.ErrorIs(t, tr.Succeed(conn), ErrInvalidTransition)
}

func TestStateText(t *testing.T) {
	b, err := Connecting.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connecting", string(b))
	assert.Equal(t, "state(9)", State(9).String())
}
