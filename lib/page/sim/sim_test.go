package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/walletlink/lib/page"
)

var acct = Account{Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", PublicKey: "02abc", Network: "mainnet"} //nolint:gochecknoglobals // testdata

func TestInspectAndKeys(t *testing.T) {
	w := New()
	ctx := context.Background()

	w.Set("yours", Yours(acct, Approve))
	w.Set("nested", &Object{Children: map[string]*Object{"wallet": Panda(acct, Approve)}})
	w.SetGetter("trap", func() *Object { panic("SecurityError") })

	keys, err := w.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"nested", "trap", "yours"}, keys)

	h, err := w.Inspect(ctx, "yours", []string{"connect", "isReady", "signMessage"})
	require.NoError(t, err)
	assert.True(t, h.Present)
	assert.Equal(t, []string{"connect", "isReady"}, h.Capabilities([]string{"connect", "isReady", "signMessage"}))

	h, err = w.Inspect(ctx, "nested.wallet", []string{"connect"})
	require.NoError(t, err)
	assert.True(t, h.Callable([]string{"connect"}))

	h, err = w.Inspect(ctx, "missing.deep", nil)
	require.NoError(t, err)
	assert.False(t, h.Present)

	_, err = w.Inspect(ctx, "trap", nil)
	var se *page.ScriptError
	assert.ErrorAs(t, err, &se)
}

func TestCall(t *testing.T) {
	w := New()
	ctx := context.Background()

	w.Set("yours", Yours(acct, Approve))
	w.Set("panda", Panda(acct, Reject))
	w.Set("ethereum", Ethereum(acct, Hang))

	raw, err := w.Call(ctx, "yours", "connect")
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"1BoatSLRHtKNngkdXEeobR76b53LETtpyT","publicKey":"02abc","network":"mainnet"}`, string(raw))

	_, err = w.Call(ctx, "panda", "connect")
	assert.True(t, page.IsUserRejection(err))

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err = w.Call(tctx, "ethereum", "request")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = w.Call(ctx, "yours", "signMessage")
	assert.ErrorAs(t, err, new(*page.ScriptError))
}

func TestSubscribe(t *testing.T) {
	w := New()

	var got []string
	stop, err := w.Subscribe([]string{"a", "b"}, func(ev string) { got = append(got, ev) })
	require.NoError(t, err)

	w.Dispatch("a")
	w.Dispatch("c")
	w.Dispatch("b")
	stop()
	w.Dispatch("a")

	assert.Equal(t, []string{"a", "b"}, got)
}
