package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/walletlink/lib/msg"
)

func TestMemory(t *testing.T) {
	mb, err := New(MEMORY, "", "", nil, msg.EndpointCoordinator)
	require.NoError(t, err)

	defer func() { require.NoError(t, mb.Close()) }()

	envs, _, err := mb.Consume(msg.EndpointCoordinator)
	require.NoError(t, err)

	e, err := msg.NewRequest(msg.TypeDetect, "1", nil)
	require.NoError(t, err)
	require.NoError(t, mb.Publish(context.Background(), msg.EndpointCoordinator, e))
	assert.Equal(t, e, <-envs)
}

func TestUnknownType(t *testing.T) {
	_, err := New("kafka", "", "", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}
