package names

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func server(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := strings.TrimPrefix(r.URL.Path, "/api/address/")
		w.Header().Set("Content-Type", "application/json")

		switch addr {
		case "1Known":
			_ = json.NewEncoder(w).Encode(Result{Success: true, Name: "alice"})
		case "1Broken":
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(Result{Error: "database down"})
		default:
			_ = json.NewEncoder(w).Encode(Result{Error: "not registered"})
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestLookup(t *testing.T) {
	srv := server(t)
	c := New(srv.URL+"/api", 100, time.Second, nil, nil)
	ctx := context.Background()

	name, err := c.LookupNameByAddress(ctx, "1Known")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	name, err = c.LookupNameByAddress(ctx, "1Nobody")
	require.NoError(t, err)
	assert.Empty(t, name)

	_, err = c.LookupNameByAddress(ctx, "1Broken")
	require.ErrorIs(t, err, ErrLookupFailed)
	assert.Contains(t, err.Error(), "database down")
}

func TestNotConfigured(t *testing.T) {
	_, err := New("", 1, time.Second, nil, nil).LookupNameByAddress(context.Background(), "1Known")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRateLimited(t *testing.T) {
	srv := server(t)
	c := New(srv.URL+"/api", 0.001, time.Second, nil, nil)

	// the burst allows the first call
	_, err := c.LookupNameByAddress(context.Background(), "1Known")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.LookupNameByAddress(ctx, "1Known")
	assert.ErrorIs(t, err, ErrLookupFailed)
}
