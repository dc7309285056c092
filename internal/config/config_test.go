package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("hue:\n  bridge: 10.0.0.2\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "./dimmerd.sqlite", cfg.Database.Path)
	assert.Equal(t, 10.0, cfg.Hue.RateLimitRPS)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.DefaultTick.Duration())
	assert.Equal(t, 2*time.Second, cfg.Engine.ApplyTimeout.Duration())

	d := cfg.Engine.Defaults
	assert.Equal(t, 10*time.Second, d.Period.Duration())
	assert.Equal(t, 250*time.Millisecond, d.Tick.Duration())
	assert.Equal(t, Range{Min: 3, Max: 255}, d.Brightness)
	assert.Equal(t, Range{Min: 2700, Max: 6500}, d.ColorTemp)
	assert.Equal(t, "sync_to_current", d.PhaseMode)
	require.NotNil(t, d.SyncGroup)
	assert.True(t, *d.SyncGroup)
	require.NotNil(t, d.MinDelta)
	assert.Equal(t, 1, *d.MinDelta)

	assert.Equal(t, "0.0.0.0:9090", cfg.API.Addr())
	assert.Equal(t, "dimmerd", cfg.MQTT.Prefix)
	assert.Equal(t, 30, cfg.Ledger.RetentionDays)
	assert.Equal(t, 4, cfg.EventBus.GetWorkers())
	assert.Equal(t, 100, cfg.EventBus.GetQueueSize())
	assert.Empty(t, cfg.Script)
}

func TestParseExplicitValues(t *testing.T) {
	yaml := `
engine:
  default_tick: 100ms
  defaults:
    period: 30
    tick: 0.5
    sync_group: false
    min_delta: 0
    brightness:
      min: 10
      max: 200
mqtt:
  enabled: true
  broker: tcp://broker:1883
  prefix: home/dimmer
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Engine.DefaultTick.Duration())
	d := cfg.Engine.Defaults
	assert.Equal(t, 30*time.Second, d.Period.Duration())
	assert.Equal(t, 500*time.Millisecond, d.Tick.Duration())
	assert.False(t, *d.SyncGroup)
	assert.Equal(t, 0, *d.MinDelta)
	assert.Equal(t, Range{Min: 10, Max: 200}, d.Brightness)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "home/dimmer", cfg.MQTT.Prefix)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("engine:\n  default_tick: soon\n"))
	require.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("DIMMERD_TEST_TOKEN", "secret")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "token: ${DIMMERD_TEST_TOKEN}", "token: secret"},
		{"set variable ignores default", "token: ${DIMMERD_TEST_TOKEN:other}", "token: secret"},
		{"unset with default", "bridge: ${DIMMERD_TEST_UNSET:10.0.0.1}", "bridge: 10.0.0.1"},
		{"unset without default", "bridge: ${DIMMERD_TEST_UNSET}", "bridge: "},
		{"no variables", "plain: value", "plain: value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.input))
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: /tmp/x.sqlite\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.sqlite", cfg.Database.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
