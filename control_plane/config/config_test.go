package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itskum47/tierroute/control_plane/task"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, "http://localhost:8003", cfg.Executors.Endpoints()[task.Accelerator])
	assert.Equal(t, "memory", cfg.History.Driver)
	assert.Equal(t, 0.3, cfg.Telemetry.DecayProbability)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TIERROUTE_DISPATCH_TIMEOUT", "5s")
	t.Setenv("TIERROUTE_HISTORY_DRIVER", "sqlite")
	t.Setenv("TIERROUTE_HISTORY_DSN", "/tmp/h.db")
	t.Setenv("GPU_NODE_URL", "http://gpu:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, "sqlite", cfg.History.Driver)
	assert.Equal(t, "http://gpu:9000", cfg.Executors.Accelerator)
}

func TestPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("EDGE_NODE_URL", "http://legacy:1")
	t.Setenv("TIERROUTE_EXECUTORS_EDGE", "http://new:1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://new:1", cfg.Executors.Edge)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tierroute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9100"
classifier:
  kind: lowest_load
admission:
  max_in_flight: 8
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "lowest_load", cfg.Classifier.Kind)
	assert.Equal(t, 8, cfg.Admission.MaxInFlight)
}

func TestValidate(t *testing.T) {
	t.Setenv("TIERROUTE_HISTORY_DRIVER", "postgres")
	_, err := Load("")
	assert.Error(t, err, "postgres without dsn")

	t.Setenv("TIERROUTE_HISTORY_DRIVER", "mongo")
	_, err = Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHistoryReplayAndAuthDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.History.MaxPending)
	assert.Equal(t, 15*time.Second, cfg.History.ReplayInterval)
	assert.Empty(t, cfg.Auth.Secret)

	t.Setenv("TIERROUTE_AUTH_SECRET", "too-short")
	_, err = Load("")
	assert.Error(t, err)
}
