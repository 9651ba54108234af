package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresMasterSecret(t *testing.T) {
	t.Setenv("REVERIE_MASTER_SECRET", "")

	_, err := Load(Overrides{})
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REVERIE_MASTER_SECRET", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("REVERIE_DATA_DIR", "")
	t.Setenv("REVERIE_COMPACT_THRESHOLD", "")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, ":3010", cfg.Addr)
	require.Equal(t, "./adventures", cfg.DataDir)
	require.Equal(t, 20000, cfg.CompactionThreshold)
	require.Equal(t, 20, cfg.CompactionRetain)
	require.Equal(t, 120*time.Second, cfg.TurnTimeout)
}

func TestLoadOverridesBeatEnvironment(t *testing.T) {
	t.Setenv("REVERIE_MASTER_SECRET", "env-secret")
	t.Setenv("REVERIE_DATA_DIR", "/tmp/env-dir")
	t.Setenv("REVERIE_COMPACT_THRESHOLD", "5000")

	dir := "/tmp/override-dir"
	threshold := 1000
	timeout := 5 * time.Second
	cfg, err := Load(Overrides{
		DataDir:             &dir,
		CompactionThreshold: &threshold,
		TurnTimeout:         &timeout,
	})
	require.NoError(t, err)
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, threshold, cfg.CompactionThreshold)
	require.Equal(t, timeout, cfg.TurnTimeout)
	require.Equal(t, "env-secret", cfg.MasterSecret)
}

func TestLoadParsesDurations(t *testing.T) {
	t.Setenv("REVERIE_MASTER_SECRET", "s")
	t.Setenv("REVERIE_TURN_TIMEOUT", "30s")
	t.Setenv("REVERIE_HEARTBEAT_INTERVAL", "5s")

	cfg, err := Load(Overrides{})
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.TurnTimeout)
	require.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
}
