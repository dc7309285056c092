package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/dimmerd/internal/config"
	"github.com/dokzlo13/dimmerd/internal/cycle"
	"github.com/dokzlo13/dimmerd/internal/db"
	"github.com/dokzlo13/dimmerd/internal/ledger"
	"github.com/dokzlo13/dimmerd/internal/storage"
)

// fakeBridge serves the subset of the Hue v1 REST API the adapter uses.
type fakeBridge struct {
	mu   sync.Mutex
	puts map[string]int
}

func newFakeBridge(t *testing.T) (*fakeBridge, *httptest.Server) {
	t.Helper()
	b := &fakeBridge{puts: make(map[string]int)}

	light := func(name string) map[string]any {
		return map[string]any{"name": name, "state": map[string]any{"on": true, "bri": 127, "ct": 370}}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/user/lights", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"1": light("Desk"), "2": light("Hall")})
	})
	mux.HandleFunc("GET /api/user/lights/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(light("Light " + r.PathValue("id")))
	})
	mux.HandleFunc("PUT /api/user/lights/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.puts[r.PathValue("id")]++
		b.mu.Unlock()
		fmt.Fprintf(w, `[{"success":{"/lights/%s/state/on":true}}]`, r.PathValue("id"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBridge) applied(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts[id]
}

func testConfig(t *testing.T, bridgeURL, script string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
hue:
  bridge: %q
  token: user
  rate_limit_rps: 1000
database:
  path: %q
engine:
  default_tick: 20ms
ledger:
  enabled: true
script: %q
shutdown_timeout: 1s
`, bridgeURL, filepath.Join(t.TempDir(), "dimmerd.sqlite"), script)))
	require.NoError(t, err)
	return cfg
}

func seed(t *testing.T, path string, entries ...cycle.Entry) {
	t.Helper()
	database, err := db.Open(path)
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, storage.NewCycleStore(storage.NewStore(database.DB)).Save(cycle.KindBrightness, entries))
}

func TestServicesLifecycle(t *testing.T) {
	bridge, srv := newFakeBridge(t)

	script := filepath.Join(t.TempDir(), "boot.lua")
	require.NoError(t, os.WriteFile(script, []byte(`
		local dimmer = require("dimmer")
		local res, err = dimmer.start{targets = {"2"}, phase_mode = "absolute", tick_interval = 0.05}
		assert(err == nil, err)
	`), 0o644))

	cfg := testConfig(t, srv.URL, script)

	p := cycle.Params{Kind: cycle.KindBrightness, Period: 10 * time.Second, Tick: 50 * time.Millisecond, Min: 3, Max: 255, Mode: cycle.PhaseAbsolute, MinDelta: 1}
	seed(t, cfg.Database.Path, p.NewEntry("1", 0, time.Now()))

	s, err := NewServices(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.ready.Load())

	assert.True(t, s.Registry.Contains(cycle.KindBrightness, "1"), "restored")
	assert.True(t, s.Registry.Contains(cycle.KindBrightness, "2"), "started by script")

	require.Eventually(t, func() bool {
		return bridge.applied("1") > 0 && bridge.applied("2") > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Engine.Scheduler.IsRunning())

	cancel()
	require.NoError(t, s.Stop())
	assert.False(t, s.ready.Load())
	assert.False(t, s.Lua.Runtime.Do(context.Background(), func(context.Context) {}), "lua worker stopped")

	database, err := db.Open(cfg.Database.Path)
	require.NoError(t, err)
	defer database.Close()

	loaded, err := storage.NewCycleStore(storage.NewStore(database.DB)).Load()
	require.NoError(t, err)
	require.Len(t, loaded[cycle.KindBrightness], 2)
	for _, e := range loaded[cycle.KindBrightness] {
		assert.NotNil(t, e.LastApplied, "flushed on shutdown: %s", e.TargetID)
	}

	history, err := ledger.New(database.DB).ForTarget("brightness", "2", 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, ledger.EventType("cycle_started"), history[0].EventType)
}

func TestServicesFailWithoutBridge(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	cfg := testConfig(t, srv.URL, "")
	cfg.Hue.Timeout = config.Duration(200 * time.Millisecond)

	s, err := NewServices(cfg)
	require.NoError(t, err)
	defer s.Stop()

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Hue bridge")
	assert.False(t, s.ready.Load())
}

func TestDefaultsFromConfig(t *testing.T) {
	base := func() config.StartDefaults {
		cfg, err := config.Parse([]byte(`{}`))
		require.NoError(t, err)
		return cfg.Engine.Defaults
	}

	d, err := DefaultsFromConfig(base())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d.Period)
	assert.Equal(t, [2]int{3, 255}, d.Brightness)
	assert.Equal(t, [2]int{2700, 6500}, d.ColorTemp)
	assert.Equal(t, cycle.PhaseSyncToCurrent, d.Mode)
	assert.True(t, d.SyncGroup)
	assert.Equal(t, 1, d.MinDelta)

	tests := []struct {
		name   string
		modify func(*config.StartDefaults)
	}{
		{"bad phase mode", func(c *config.StartDefaults) { c.PhaseMode = "sideways" }},
		{"inverted brightness", func(c *config.StartDefaults) { c.Brightness = config.Range{Min: 200, Max: 100} }},
		{"color temp out of range", func(c *config.StartDefaults) { c.ColorTemp = config.Range{Min: 500, Max: 6500} }},
		{"zero period", func(c *config.StartDefaults) { c.Period = config.Duration(-time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.modify(&c)
			_, err := DefaultsFromConfig(c)
			assert.ErrorIs(t, err, cycle.ErrInvalidParameter)
		})
	}
}
