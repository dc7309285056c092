package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/dimmerd/internal/cycle"
)

type fakeApplier struct {
	mu     sync.Mutex
	calls  map[string][]int
	errs   map[string]error
	panics map[string]bool
}

func newFakeApplier() *fakeApplier {
	return &fakeApplier{
		calls:  make(map[string][]int),
		errs:   make(map[string]error),
		panics: make(map[string]bool),
	}
}

func (f *fakeApplier) ApplyValue(_ context.Context, _ cycle.Kind, target string, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panics[target] {
		panic("bridge exploded")
	}
	if err := f.errs[target]; err != nil {
		return err
	}
	f.calls[target] = append(f.calls[target], value)
	return nil
}

func (f *fakeApplier) setErr(target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[target] = err
}

func (f *fakeApplier) count(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[target])
}

type lastSaver struct {
	mu    sync.Mutex
	saves map[cycle.Kind][]cycle.Entry
}

func (s *lastSaver) Save(kind cycle.Kind, entries []cycle.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saves == nil {
		s.saves = make(map[cycle.Kind][]cycle.Entry)
	}
	s.saves[kind] = entries
	return nil
}

func (s *lastSaver) last(kind cycle.Kind) []cycle.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[kind]
}

func entry(target string, start time.Time, tick time.Duration, minDelta int) cycle.Entry {
	return cycle.Entry{
		Kind:        cycle.KindBrightness,
		TargetID:    target,
		Period:      10 * time.Second,
		Tick:        tick,
		Min:         3,
		Max:         255,
		Mode:        cycle.PhaseAbsolute,
		StartTime:   start,
		MinDelta:    minDelta,
		PhaseOrigin: 0,
	}
}

func TestTickSuppressesSmallChanges(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	applier := newFakeApplier()
	s := New(reg, applier, Config{DefaultTick: 10 * time.Millisecond}, nil)

	start := time.Unix(1_700_000_000, 0)
	e := entry("light.a", start, 10*time.Millisecond, 50)
	e.Period = time.Hour
	require.NoError(t, reg.Add(e))

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		s.tick(ctx, start.Add(time.Duration(i)*10*time.Millisecond))
	}

	assert.Equal(t, 1, applier.count("light.a"))
	got, ok := reg.Get(cycle.KindBrightness, "light.a")
	require.True(t, ok)
	require.NotNil(t, got.LastApplied)
	assert.Equal(t, 129, *got.LastApplied)
}

func TestTickAppliesWhenDeltaReached(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	applier := newFakeApplier()
	s := New(reg, applier, Config{}, nil)

	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, reg.Add(entry("light.a", start, 250*time.Millisecond, 1)))

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		s.tick(ctx, start.Add(time.Duration(i)*250*time.Millisecond))
	}

	applier.mu.Lock()
	values := append([]int(nil), applier.calls["light.a"]...)
	applier.mu.Unlock()

	require.Len(t, values, 8)
	for i := 1; i < len(values); i++ {
		assert.Greater(t, values[i], values[i-1], "wave should be rising during the first quarter period")
	}
}

func TestTickRemovesLostTargets(t *testing.T) {
	saver := &lastSaver{}
	reg := cycle.NewRegistry(saver)
	applier := newFakeApplier()
	applier.setErr("light.gone", fmt.Errorf("light 7: %w", cycle.ErrTargetNotFound))
	s := New(reg, applier, Config{}, nil)

	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, reg.Add(entry("light.a", start, time.Second, 1)))
	require.NoError(t, reg.Add(entry("light.gone", start, time.Second, 1)))
	require.NoError(t, reg.Add(entry("light.b", start, time.Second, 1)))

	s.tick(context.Background(), start)

	assert.False(t, reg.Contains(cycle.KindBrightness, "light.gone"))
	assert.True(t, reg.Contains(cycle.KindBrightness, "light.a"))
	assert.True(t, reg.Contains(cycle.KindBrightness, "light.b"))
	assert.Equal(t, 1, applier.count("light.a"))
	assert.Equal(t, 1, applier.count("light.b"))

	saved := saver.last(cycle.KindBrightness)
	require.Len(t, saved, 2)
	for _, e := range saved {
		assert.NotEqual(t, "light.gone", e.TargetID)
	}
}

func TestTickKeepsTransientFailures(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	applier := newFakeApplier()
	applier.setErr("light.a", errors.New("bridge busy"))
	s := New(reg, applier, Config{}, nil)

	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, reg.Add(entry("light.a", start, time.Second, 1)))

	ctx := context.Background()
	s.tick(ctx, start)

	got, ok := reg.Get(cycle.KindBrightness, "light.a")
	require.True(t, ok)
	assert.Nil(t, got.LastApplied)

	applier.setErr("light.a", nil)
	s.tick(ctx, start.Add(time.Second))

	got, ok = reg.Get(cycle.KindBrightness, "light.a")
	require.True(t, ok)
	require.NotNil(t, got.LastApplied)
	assert.Equal(t, 1, applier.count("light.a"))
}

func TestTickRecoversApplierPanic(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	applier := newFakeApplier()
	applier.panics["light.bad"] = true
	s := New(reg, applier, Config{}, nil)

	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, reg.Add(entry("light.bad", start, time.Second, 1)))
	require.NoError(t, reg.Add(entry("light.ok", start, time.Second, 1)))

	require.NotPanics(t, func() { s.tick(context.Background(), start) })

	assert.True(t, reg.Contains(cycle.KindBrightness, "light.bad"))
	assert.Equal(t, 1, applier.count("light.ok"))
}

func TestTickHonorsPerEntryInterval(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	applier := newFakeApplier()
	s := New(reg, applier, Config{}, nil)

	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, reg.Add(entry("light.fast", start, 100*time.Millisecond, 0)))
	require.NoError(t, reg.Add(entry("light.slow", start, 400*time.Millisecond, 0)))

	ctx := context.Background()
	var interval time.Duration
	for i := 0; i <= 8; i++ {
		interval = s.tick(ctx, start.Add(time.Duration(i)*100*time.Millisecond))
	}

	assert.Equal(t, 100*time.Millisecond, interval)
	assert.Equal(t, 9, applier.count("light.fast"))
	assert.Equal(t, 3, applier.count("light.slow"))
}

func TestTickReevaluatesReplacedEntry(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	applier := newFakeApplier()
	s := New(reg, applier, Config{}, nil)

	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, reg.Add(entry("light.a", start, time.Minute, 1)))

	ctx := context.Background()
	s.tick(ctx, start)
	s.tick(ctx, start.Add(time.Second))
	assert.Equal(t, 1, applier.count("light.a"))

	replacement := entry("light.a", start, time.Minute, 1)
	replacement.PhaseOrigin = 1.0
	require.NoError(t, reg.Add(replacement))

	s.tick(ctx, start.Add(2*time.Second))
	assert.Equal(t, 2, applier.count("light.a"))
}

func TestIntervalDefaultsWhenEmpty(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	s := New(reg, newFakeApplier(), Config{DefaultTick: 300 * time.Millisecond}, nil)

	assert.Equal(t, 300*time.Millisecond, s.interval(nil))
}

func TestLifecycle(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	applier := newFakeApplier()
	s := New(reg, applier, Config{DefaultTick: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	assert.False(t, s.IsRunning(), "loop must not run with an empty registry")
	assert.Equal(t, 0, s.Loops())

	now := time.Now()
	require.NoError(t, reg.Add(entry("light.a", now, 5*time.Millisecond, 1)))
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return applier.count("light.a") > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, reg.Add(entry("light.b", now, 5*time.Millisecond, 1)))
	s.EnsureRunning()
	assert.Equal(t, 1, s.Loops(), "starting during a run must not spawn a second loop")

	_, err := reg.Remove(cycle.KindBrightness, "light.a")
	require.NoError(t, err)
	_, err = reg.Remove(cycle.KindBrightness, "light.b")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 5*time.Millisecond)
	<-s.Done()

	require.NoError(t, reg.Add(entry("light.c", time.Now(), 5*time.Millisecond, 1)))
	assert.True(t, s.IsRunning())
	assert.Equal(t, 2, s.Loops())

	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestStopPreventsRestart(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	s := New(reg, newFakeApplier(), Config{DefaultTick: 5 * time.Millisecond}, nil)

	s.Start(context.Background())
	require.NoError(t, reg.Add(entry("light.a", time.Now(), 5*time.Millisecond, 1)))
	require.True(t, s.IsRunning())

	s.Stop()
	assert.False(t, s.IsRunning())

	require.NoError(t, reg.Add(entry("light.b", time.Now(), 5*time.Millisecond, 1)))
	assert.False(t, s.IsRunning())
	assert.Equal(t, 1, s.Loops())
}

func TestNotStartedUntilStart(t *testing.T) {
	reg := cycle.NewRegistry(nil)
	s := New(reg, newFakeApplier(), Config{}, nil)

	require.NoError(t, reg.Add(entry("light.a", time.Now(), time.Second, 1)))
	assert.False(t, s.IsRunning())

	s.Start(context.Background())
	assert.True(t, s.IsRunning())
	s.Stop()
}
