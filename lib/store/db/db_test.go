package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/walletlink/lib/store"
)

// TestKV runs the same behaviour against the backends that need no external server.
func TestKV(t *testing.T) {
	for _, c := range []struct{ typ, conn string }{
		{MEMORY, ""},
		{BADGER, ""},          // in-memory badger
		{BADGER, t.TempDir()}, // on disk
	} {
		t.Run(c.typ, func(t *testing.T) {
			kv, err := New(c.typ, c.conn)
			require.NoError(t, err)

			ctx := context.Background()

			_, err = kv.Get(ctx, "conn")
			assert.ErrorIs(t, err, store.ErrDataNotFound)

			require.NoError(t, kv.Put(ctx, "conn", []byte("one")))
			require.NoError(t, kv.Put(ctx, "conn", []byte("two")))

			v, err := kv.Get(ctx, "conn")
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), v)

			require.NoError(t, kv.Delete(ctx, "conn"))
			require.NoError(t, kv.Delete(ctx, "conn"), "deleting a missing key")

			_, err = kv.Get(ctx, "conn")
			assert.ErrorIs(t, err, store.ErrDataNotFound)

			require.NoError(t, kv.Close())

			_, err = kv.Get(ctx, "conn")
			assert.ErrorIs(t, err, store.ErrClosed)
		})
	}
}

func TestUnknownType(t *testing.T) {
	_, err := New("cassandra", "")
	assert.Error(t, err)
}
