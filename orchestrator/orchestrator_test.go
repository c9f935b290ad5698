package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/walletlink/connection"
	"github.com/tarancss/walletlink/lib/metrics"
	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/store/memory"
	"github.com/tarancss/walletlink/lib/types"
)

type answer func() (json.RawMessage, error)

func ok(raw string) answer {
	return func() (json.RawMessage, error) { return json.RawMessage(raw), nil }
}

func fails(err error) answer {
	return func() (json.RawMessage, error) { return nil, err }
}

// fakeBridge answers from a table and records the traffic.
type fakeBridge struct {
	mu          sync.Mutex
	detected    []string
	detectErr   error
	answers     map[string]answer
	detects     int
	calls       []string
	ids         []string
	disconnects []string
}

func (b *fakeBridge) Detect(context.Context, time.Duration) ([]types.DetectionResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.detects++
	if b.detectErr != nil {
		return nil, b.detectErr
	}

	rs := make([]types.DetectionResult, 0, len(b.detected))
	for _, id := range b.detected {
		rs = append(rs, types.DetectionResult{ProviderID: id, Detected: true})
	}

	return rs, nil
}

func (b *fakeBridge) Connect(_ context.Context, r types.ConnectionRequest) (json.RawMessage, error) {
	b.mu.Lock()
	b.calls = append(b.calls, r.ProviderID)
	b.ids = append(b.ids, r.RequestID)
	a := b.answers[r.ProviderID]
	b.mu.Unlock()

	if a == nil {
		return nil, types.ErrProviderFailed
	}

	return a()
}

func (b *fakeBridge) Disconnect(_ context.Context, id string, _ time.Duration) error {
	b.mu.Lock()
	b.disconnects = append(b.disconnects, id)
	b.mu.Unlock()

	return nil
}

const (
	yoursRaw = `{"address":"1BoatSLRHtKNngkdXEeobR76b53LETtpyT","publicKey":"02abc"}`
	pandaRaw = `{"addresses":["1BoatSLRHtKNngkdXEeobR76b53LETtpyT"],"publicKey":"02abc"}`
)

type fixture struct {
	b  *fakeBridge
	st *connection.Store
	tr *connection.Tracker
	m  *metrics.Metrics
	o  *Orchestrator
}

func newFixture(b *fakeBridge, ttl time.Duration) *fixture {
	f := &fixture{b: b, st: connection.NewStore(memory.New(), ttl, nil), tr: connection.NewTracker(), m: metrics.New()}
	f.o = New(b, provider.MustSet(provider.Defaults), f.st, f.tr, Config{}, nil, f.m)

	return f
}

func TestFallbackOnTimeout(t *testing.T) {
	f := newFixture(&fakeBridge{
		detected: []string{"panda", "yours"},
		answers:  map[string]answer{"yours": fails(types.ErrProviderTimeout), "panda": ok(pandaRaw)},
	}, 0)
	ctx := context.Background()

	r, err := f.o.Connect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "panda", r.ProviderID)
	assert.True(t, r.Success)
	assert.Equal(t, []string{"yours", "panda"}, f.b.calls)
	assert.NotEqual(t, f.b.ids[0], f.b.ids[1])

	p, found := f.st.Load(ctx)
	require.True(t, found)
	assert.Equal(t, r, p.Connection)
	assert.Equal(t, connection.Connected, f.tr.State())

	assert.InDelta(t, 1, testutil.ToFloat64(f.m.Attempts.WithLabelValues("yours", types.CodeProviderTimeout)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.m.Attempts.WithLabelValues("panda", "ok")), 0)
}

func TestStopOnReject(t *testing.T) {
	f := newFixture(&fakeBridge{
		detected: []string{"yours", "panda"},
		answers:  map[string]answer{"yours": fails(types.ErrProviderRejected), "panda": ok(pandaRaw)},
	}, 0)

	r, err := f.o.Connect(context.Background(), "")
	require.ErrorIs(t, err, types.ErrProviderRejected)

	var agg *AttemptsError
	assert.False(t, errors.As(err, &agg), "rejection is surfaced verbatim")
	assert.Equal(t, types.CodeProviderRejected, r.Error)
	assert.Equal(t, []string{"yours"}, f.b.calls)

	s := f.tr.Snapshot()
	assert.Equal(t, connection.Disconnected, s.State)
	assert.Equal(t, types.CodeProviderRejected, s.LastError)
}

func TestNoProviderDetected(t *testing.T) {
	f := newFixture(&fakeBridge{answers: map[string]answer{"yours": ok(yoursRaw)}}, 0)

	r, err := f.o.Connect(context.Background(), "yours")
	require.ErrorIs(t, err, types.ErrNoProviderDetected)
	assert.Equal(t, types.CodeNoProviderDetected, r.Error)
	assert.Empty(t, f.b.calls)
	assert.Equal(t, connection.Disconnected, f.tr.State())
}

func TestDetectFailure(t *testing.T) {
	f := newFixture(&fakeBridge{detectErr: types.ErrRelayUnreachable}, 0)

	r, err := f.o.Connect(context.Background(), "")
	require.ErrorIs(t, err, types.ErrRelayUnreachable)
	assert.Equal(t, types.CodeRelayUnreachable, r.Error)
	assert.Empty(t, f.b.calls)
}

func TestPreferredFirst(t *testing.T) {
	f := newFixture(&fakeBridge{
		detected: []string{"yours", "panda", "relayx"},
		answers:  map[string]answer{"yours": ok(yoursRaw), "relayx": ok(`"1Relay"`)},
	}, 0)

	r, err := f.o.Connect(context.Background(), "relayx")
	require.NoError(t, err)
	assert.Equal(t, "relayx", r.ProviderID)
	assert.Equal(t, "1Relay", r.Address)
	assert.Equal(t, []string{"relayx"}, f.b.calls)
}

func TestPersistedShortCircuit(t *testing.T) {
	f := newFixture(&fakeBridge{detected: []string{"yours"}, answers: map[string]answer{"yours": ok(yoursRaw)}}, 0)
	ctx := context.Background()

	saved := types.ConnectionResult{Success: true, ProviderID: "panda", Address: "1Saved", Network: "mainnet"}
	require.NoError(t, f.st.Save(ctx, saved))

	r, err := f.o.Connect(ctx, "yours")
	require.NoError(t, err)
	assert.Equal(t, saved, r)
	assert.Zero(t, f.b.detects)
	assert.Empty(t, f.b.calls)
	assert.Equal(t, connection.Connected, f.tr.State())

	// a second call does not walk the state machine again
	_, err = f.o.Connect(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, f.b.detects)
}

func TestAllFail(t *testing.T) {
	f := newFixture(&fakeBridge{
		detected: []string{"yours", "panda", "metamask"},
		answers: map[string]answer{
			"yours":    fails(types.ErrProviderTimeout),
			"panda":    fails(types.ErrProviderFailed),
			"metamask": ok(`[]`),
		},
	}, 0)

	r, err := f.o.Connect(context.Background(), "")

	var agg *AttemptsError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Attempts, 3)
	assert.Equal(t, "metamask", agg.Attempts[2].ProviderID)
	assert.ErrorIs(t, err, types.ErrProviderResponseInvalid)
	assert.Equal(t, types.CodeProviderResponseInvalid, types.Code(err))
	assert.Equal(t, types.CodeProviderResponseInvalid, r.Error)
	assert.Contains(t, err.Error(), "all 3 providers failed")
	assert.Equal(t, connection.Disconnected, f.tr.State())
}

func TestDisconnect(t *testing.T) {
	f := newFixture(&fakeBridge{detected: []string{"yours"}, answers: map[string]answer{"yours": ok(yoursRaw)}}, 0)
	ctx := context.Background()

	_, err := f.o.Connect(ctx, "")
	require.NoError(t, err)

	require.NoError(t, f.o.Disconnect(ctx))
	assert.Equal(t, []string{"yours"}, f.b.disconnects)
	assert.Equal(t, connection.Disconnected, f.tr.State())

	_, found := f.st.Load(ctx)
	assert.False(t, found)

	// disconnecting when not connected is harmless
	require.NoError(t, f.o.Disconnect(ctx))
	assert.Len(t, f.b.disconnects, 1)
}

func TestStatusExpires(t *testing.T) {
	f := newFixture(&fakeBridge{detected: []string{"yours"}, answers: map[string]answer{"yours": ok(yoursRaw)}}, 30*time.Millisecond)
	ctx := context.Background()

	_, err := f.o.Connect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, connection.Connected, f.o.Status(ctx).State)

	time.Sleep(50 * time.Millisecond)

	s := f.o.Status(ctx)
	assert.Equal(t, connection.Disconnected, s.State)
	assert.Nil(t, s.Connection)

	// expired: a new connect detects again
	_, err = f.o.Connect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.b.detects)
}

func TestStorageUnavailable(t *testing.T) {
	b := &fakeBridge{detected: []string{"yours"}, answers: map[string]answer{"yours": ok(yoursRaw)}}
	tr := connection.NewTracker()
	o := New(b, provider.MustSet(provider.Defaults), connection.NewStore(nil, 0, nil), tr, Config{}, nil, nil)
	ctx := context.Background()

	r, err := o.Connect(ctx, "")
	require.NoError(t, err)
	assert.True(t, r.Success)

	// the connection is kept in memory
	again, err := o.Connect(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, r, again)
	assert.Equal(t, 1, b.detects)
	assert.Equal(t, connection.Connected, o.Status(ctx).State)

	require.NoError(t, o.Disconnect(ctx))
	assert.Equal(t, connection.Disconnected, tr.State())
}

func TestResume(t *testing.T) {
	f := newFixture(&fakeBridge{}, 0)
	ctx := context.Background()

	assert.False(t, f.o.Resume(ctx))

	require.NoError(t, f.st.Save(ctx, types.ConnectionResult{Success: true, ProviderID: "yours", Address: "1A", Network: "mainnet"}))
	assert.True(t, f.o.Resume(ctx))
	assert.Equal(t, connection.Connected, f.tr.State())
	assert.Zero(t, f.b.detects)
}

func TestOverlappingFailureDoesNotHideSuccess(t *testing.T) {
	release := make(chan struct{})
	prompting := make(chan struct{})

	f := newFixture(&fakeBridge{
		detected: []string{"yours"},
		answers: map[string]answer{"yours": func() (json.RawMessage, error) {
			close(prompting)
			<-release

			return json.RawMessage(yoursRaw), nil
		}},
	}, 0)

	done := make(chan error, 1)

	go func() {
		_, err := f.o.Connect(context.Background(), "")
		done <- err
	}()

	<-prompting

	// another run fails while this one waits on the wallet prompt
	require.NoError(t, f.tr.Fail(types.ErrNoProviderDetected))
	require.Equal(t, connection.Disconnected, f.tr.State())

	close(release)
	require.NoError(t, <-done)

	s := f.o.Status(context.Background())
	assert.Equal(t, connection.Connected, s.State)
	require.NotNil(t, s.Connection)
	assert.Equal(t, "yours", s.Connection.ProviderID)
	assert.Empty(t, s.LastError)

	// a run that succeeds while another already holds a connection takes it over
	other := types.ConnectionResult{Success: true, ProviderID: "panda", Address: "1Other", Network: "mainnet"}
	f.o.resync(other)
	assert.Equal(t, "panda", f.tr.Snapshot().Connection.ProviderID)
}
