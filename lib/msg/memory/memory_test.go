package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tarancss/walletlink/lib/msg"
)

func TestMemory(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := New()
	require.NoError(t, m.Setup(msg.EndpointPage))

	in, errs, err := m.Consume(msg.EndpointPage)
	require.NoError(t, err)
	require.NotNil(t, errs)

	_, _, err = m.Consume(msg.EndpointPage)
	assert.Error(t, err, "second consumer on the same endpoint")

	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		e, _ := msg.NewRequest(msg.TypeDetect, id, nil)
		require.NoError(t, m.Publish(ctx, msg.EndpointPage, e))
	}

	for _, id := range []string{"1", "2", "3"} {
		select {
		case e := <-in:
			assert.Equal(t, id, e.RequestID, "delivery keeps publish order")
		case <-time.After(time.Second):
			t.Fatal("envelope not delivered")
		}
	}

	// invalid envelopes are refused at publish time
	assert.ErrorIs(t, m.Publish(ctx, msg.EndpointPage, msg.Envelope{}), msg.ErrNoType)

	require.NoError(t, m.Close())

	_, ok := <-in
	assert.False(t, ok, "consumer channel closed")

	e, _ := msg.NewRequest(msg.TypeDetect, "4", nil)
	assert.ErrorIs(t, m.Publish(ctx, msg.EndpointPage, e), msg.ErrClosed)
	assert.NoError(t, m.Close())
}

func TestPublishRespectsContext(t *testing.T) {
	m := New()
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	e, _ := msg.NewRequest(msg.TypeDetect, "x", nil)

	// nobody consumes, fill the queue
	for i := 0; i < queueLen; i++ {
		require.NoError(t, m.Publish(ctx, "nowhere", e))
	}

	cancel()
	assert.ErrorIs(t, m.Publish(ctx, "nowhere", e), context.Canceled)
}
