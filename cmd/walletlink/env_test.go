package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/walletlink/lib/config"
)

func TestRouting(t *testing.T) {
	e := &env{conf: config.ServiceConfig{
		UseRelay:  true,
		Endpoints: config.EndpointConfig{Coordinator: "c", Relay: "r", Page: "p"},
	}}

	assert.Equal(t, "r", e.next())
	assert.Equal(t, "r", e.upstream())

	e.conf.UseRelay = false
	assert.Equal(t, "p", e.next())
	assert.Equal(t, "c", e.upstream())
}

func TestNewEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "4040", "dbtype": "", "logger": {"level": "error"}}`), 0o600))

	cmd := &cobra.Command{}
	cmd.Flags().StringP("config", "c", "", "")
	cmd.Flags().BoolP("monitor", "m", false, "")
	require.NoError(t, cmd.Flags().Set("config", path))

	e, err := newEnv(cmd)
	require.NoError(t, err)
	assert.Equal(t, "4040", e.conf.Port)
	assert.False(t, e.monitor)
	assert.NotNil(t, e.m)
	assert.Nil(t, e.kv())

	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.json")))
	_, err = newEnv(cmd)
	assert.Error(t, err)
}
