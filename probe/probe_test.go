package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tarancss/walletlink/lib/metrics"
	"github.com/tarancss/walletlink/lib/page/sim"
	"github.com/tarancss/walletlink/lib/provider"
	"github.com/tarancss/walletlink/lib/types"
)

var acct = sim.Account{Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", PublicKey: "02abc", Network: "mainnet"} //nolint:gochecknoglobals // testdata

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder counts change notifications.
type recorder struct {
	mu  sync.Mutex
	got [][]types.DetectionResult
}

func (r *recorder) add(rs []types.DetectionResult) {
	r.mu.Lock()
	r.got = append(r.got, rs)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.got)
}

func detected(rs []types.DetectionResult, id string) bool {
	for _, r := range rs {
		if r.ProviderID == id {
			return r.Detected
		}
	}

	return false
}

func TestDirectDetection(t *testing.T) {
	w := sim.New()
	w.Set("yours", sim.Yours(acct, sim.Approve))

	p := New(w, provider.MustSet(provider.Defaults), Config{Interval: 10 * time.Millisecond, Window: time.Second}, nil, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	rs := p.Snapshot()
	require.Len(t, rs, len(provider.Defaults))
	assert.Equal(t, "yours", rs[0].ProviderID)
	assert.True(t, rs[0].Detected)
	assert.Equal(t, []string{"connect", "isReady"}, rs[0].Capabilities)
	assert.Equal(t, []string{"yours"}, Detected(rs))

	assert.ErrorIs(t, p.Start(context.Background()), ErrStarted)
}

func TestLateInjectionDetectedWithinInterval(t *testing.T) {
	w := sim.New()
	rec := &recorder{}

	p := New(w, provider.MustSet(provider.Defaults), Config{Interval: 20 * time.Millisecond, Window: time.Minute}, nil, nil)
	p.OnChange(rec.add)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Empty(t, Detected(p.Snapshot()))

	w.Set("panda", sim.Panda(acct, sim.Approve))

	assert.Eventually(t, func() bool { return detected(p.Snapshot(), "panda") }, 200*time.Millisecond, 5*time.Millisecond)
	// the extra passes that followed did not notify again
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.len())
}

func TestOneNotificationPerTransition(t *testing.T) {
	w := sim.New()
	rec := &recorder{}
	m := metrics.New()
	ctx := context.Background()

	p := New(w, provider.MustSet(provider.Defaults), Config{}, nil, m)
	unsub := p.OnChange(rec.add)

	p.Pass(ctx)
	assert.Equal(t, 0, rec.len())

	w.Set("yours", sim.Yours(acct, sim.Approve))
	p.Pass(ctx)
	p.Pass(ctx)
	assert.Equal(t, 1, rec.len())
	assert.True(t, detected(rec.got[0], "yours"))

	w.Delete("yours")
	p.Pass(ctx)
	p.Pass(ctx)
	assert.Equal(t, 2, rec.len())
	assert.False(t, detected(rec.got[1], "yours"))

	unsub()
	w.Set("yours", sim.Yours(acct, sim.Approve))
	p.Pass(ctx)
	assert.Equal(t, 2, rec.len())

	assert.InDelta(t, 6, testutil.ToFloat64(m.ProbePasses), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ProbeTransitions.WithLabelValues("yours", "true")), 0)
	assert.EqualValues(t, 6, p.Passes())
}

func TestFirstSeenCarriesOver(t *testing.T) {
	w := sim.New()
	w.Set("yours", sim.Yours(acct, sim.Approve))
	ctx := context.Background()

	p := New(w, provider.MustSet(provider.Defaults), Config{}, nil, nil)

	t0 := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time { return t0 }
	first := p.Pass(ctx)[0]

	p.now = func() time.Time { return t0.Add(time.Second) }
	second := p.Pass(ctx)[0]

	assert.Equal(t, t0, second.FirstSeenAt)
	assert.Equal(t, t0.Add(time.Second), second.LastSeenAt)
	assert.Equal(t, first.FirstSeenAt, second.FirstSeenAt)

	w.Delete("yours")
	p.now = func() time.Time { return t0.Add(2 * time.Second) }
	gone := p.Pass(ctx)[0]
	assert.False(t, gone.Detected)
	assert.Equal(t, t0.Add(time.Second), gone.LastSeenAt)
}

func TestThrowingGetterIsIsolated(t *testing.T) {
	set := provider.MustSet([]provider.Descriptor{{
		ID: "relayx", Path: "relayone", ConnectMethod: "authBeta", Shape: provider.ShapeString,
		DetectionMethods: []provider.DetectionMethod{provider.Enumeration},
		Keywords:         []string{"relayone"}, Methods: []string{"authBeta"},
	}})

	w := sim.New()
	// sorts before the real handle so the scan hits it first
	w.SetGetter("aRelayoneShadow", func() *sim.Object { panic("SecurityError: blocked") })
	w.Set("relayone", sim.RelayOne(acct, sim.Approve))

	p := New(w, set, Config{}, nil, nil)
	rs := p.Pass(context.Background())

	require.Len(t, rs, 1)
	assert.True(t, rs[0].Detected)
	assert.Equal(t, []string{"authBeta"}, rs[0].Capabilities)
}

func TestReadyEventForcesPass(t *testing.T) {
	set := provider.MustSet([]provider.Descriptor{{
		ID: "metamask", Path: "ethereum", ConnectMethod: "request", Shape: provider.ShapeAccounts,
		DetectionMethods: []provider.DetectionMethod{provider.Event},
		ReadyEvents:      []string{"ethereum#initialized"},
	}})

	w := sim.New()
	rec := &recorder{}

	// polling effectively disabled
	p := New(w, set, Config{Interval: time.Hour, Window: time.Hour}, nil, nil)
	p.OnChange(rec.add)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Empty(t, Detected(p.Snapshot()))

	w.Dispatch("ethereum#initialized")

	assert.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"metamask"}, Detected(p.Snapshot()))
}

func TestPollingStopsAfterWindow(t *testing.T) {
	w := sim.New()

	p := New(w, provider.MustSet(provider.Defaults), Config{Interval: 5 * time.Millisecond, Window: 30 * time.Millisecond}, nil, nil)
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)

	n := p.Passes()
	assert.Greater(t, n, uint64(1))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, p.Passes())

	// lifecycle events still force passes
	w.Dispatch("load")
	assert.Eventually(t, func() bool { return p.Passes() > n }, time.Second, 5*time.Millisecond)

	w.Set("yours", sim.Yours(acct, sim.Approve))
	p.Trigger("test")
	assert.Eventually(t, func() bool { return detected(p.Snapshot(), "yours") }, time.Second, 5*time.Millisecond)
}
