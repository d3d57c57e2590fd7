package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	chdir(t, t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "hub", cfg.Topology)
	assert.Equal(t, time.Duration(0), cfg.HandshakeTimeout)
	assert.Equal(t, 10*time.Second, cfg.JoinRateWindow)
	assert.True(t, cfg.Trickle)
}

func TestEnvAndFlagsOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing")
	t.Setenv("STAGE_PORT", "9090")
	t.Setenv("STAGE_TOPOLOGY", "mesh")
	chdir(t, t.TempDir())

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse([]string{"--role=host", "--handshake_timeout=5s"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "mesh", cfg.Topology)
	assert.Equal(t, "host", cfg.Role)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
}
