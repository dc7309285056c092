package hue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amimof/huego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/dimmerd/internal/cycle"
)

type fakeBridge struct {
	mu       sync.Mutex
	lights   map[int]*huego.Light
	setErr   error
	sets     map[int][]huego.State
	listings int
}

func newFakeBridge(lights ...huego.Light) *fakeBridge {
	b := &fakeBridge{lights: make(map[int]*huego.Light), sets: make(map[int][]huego.State)}
	for i := range lights {
		l := lights[i]
		b.lights[l.ID] = &l
	}
	return b
}

func (b *fakeBridge) GetLightsContext(context.Context) ([]huego.Light, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listings++
	var out []huego.Light
	for _, l := range b.lights {
		out = append(out, *l)
	}
	return out, nil
}

func (b *fakeBridge) GetLightContext(_ context.Context, id int) (*huego.Light, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lights[id]
	if !ok {
		return nil, &huego.APIError{Type: apiErrorNotAvailable, Description: "resource, /lights, not available"}
	}
	return l, nil
}

func (b *fakeBridge) SetLightStateContext(_ context.Context, id int, state huego.State) (*huego.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setErr != nil {
		return nil, b.setErr
	}
	if _, ok := b.lights[id]; !ok {
		return nil, &huego.APIError{Type: apiErrorNotAvailable, Description: "resource, /lights, not available"}
	}
	b.sets[id] = append(b.sets[id], state)
	return &huego.Response{}, nil
}

func TestReadCurrentValue(t *testing.T) {
	bridge := newFakeBridge(
		huego.Light{ID: 1, Name: "Desk", State: &huego.State{On: true, Bri: 127, Ct: 370}},
		huego.Light{ID: 2, Name: "Hall", State: &huego.State{On: false, Bri: 200}},
		huego.Light{ID: 3, Name: "White", State: &huego.State{On: true, Bri: 254}},
	)
	a := NewAdapter(bridge, 0, 0)
	ctx := context.Background()

	v, err := a.ReadCurrentValue(ctx, cycle.KindBrightness, "1")
	require.NoError(t, err)
	assert.Equal(t, 128, v)

	v, err = a.ReadCurrentValue(ctx, cycle.KindColorTemperature, "Desk")
	require.NoError(t, err)
	assert.Equal(t, 2703, v)

	_, err = a.ReadCurrentValue(ctx, cycle.KindBrightness, "2")
	assert.ErrorIs(t, err, cycle.ErrNoCurrentValue)

	_, err = a.ReadCurrentValue(ctx, cycle.KindColorTemperature, "3")
	assert.ErrorIs(t, err, cycle.ErrNoCurrentValue)

	_, err = a.ReadCurrentValue(ctx, cycle.KindBrightness, "42")
	assert.ErrorIs(t, err, cycle.ErrTargetUnavailable)
}

func TestApplyValue(t *testing.T) {
	bridge := newFakeBridge(huego.Light{ID: 5, Name: "Sofa", State: &huego.State{}})
	a := NewAdapter(bridge, 0, 400*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, a.ApplyValue(ctx, cycle.KindBrightness, "5", 255))
	require.NoError(t, a.ApplyValue(ctx, cycle.KindColorTemperature, "Sofa", 4000))
	require.NoError(t, a.ApplyValue(ctx, cycle.KindBrightness, "Sofa", 3))

	sets := bridge.sets[5]
	require.Len(t, sets, 3)
	assert.True(t, sets[0].On)
	assert.Equal(t, uint8(254), sets[0].Bri)
	assert.Equal(t, uint16(4), sets[0].TransitionTime)
	assert.Equal(t, uint16(250), sets[1].Ct)
	assert.Equal(t, uint8(3), sets[2].Bri)
	assert.Equal(t, 1, bridge.listings, "names are resolved once and cached")
}

func TestApplyValueClassifiesErrors(t *testing.T) {
	bridge := newFakeBridge(huego.Light{ID: 1, Name: "Desk", State: &huego.State{}})
	a := NewAdapter(bridge, 0, 0)
	ctx := context.Background()

	err := a.ApplyValue(ctx, cycle.KindBrightness, "9", 100)
	assert.ErrorIs(t, err, cycle.ErrTargetNotFound)

	err = a.ApplyValue(ctx, cycle.KindBrightness, "Nowhere", 100)
	assert.ErrorIs(t, err, cycle.ErrTargetNotFound)

	bridge.setErr = errors.New("connection reset")
	err = a.ApplyValue(ctx, cycle.KindBrightness, "1", 100)
	require.Error(t, err)
	assert.False(t, cycle.IsNotFound(err))
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"bri floor", int(BrightnessToBri(0)), MinBri},
		{"bri max", int(BrightnessToBri(255)), MaxBri},
		{"bri mid", int(BrightnessToBri(128)), 127},
		{"brightness from bri max", BriToBrightness(254), 255},
		{"brightness from bri min", BriToBrightness(1), 1},
		{"mired 6500K", int(KelvinToMired(6500)), 154},
		{"mired 2700K", int(KelvinToMired(2700)), 370},
		{"mired clamps cold", int(KelvinToMired(20000)), MinMired},
		{"mired clamps warm", int(KelvinToMired(1000)), MaxMired},
		{"kelvin from 250 mired", MiredToKelvin(250), 4000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestReadTimeout(t *testing.T) {
	bridge := newFakeBridge(huego.Light{ID: 1, State: &huego.State{On: true, Bri: 100}})
	a := NewAdapter(bridge, 0.001, 0).WithReadTimeout(20 * time.Millisecond)

	_, err := a.ReadCurrentValue(context.Background(), cycle.KindBrightness, "1")
	require.NoError(t, err)

	start := time.Now()
	_, err = a.ReadCurrentValue(context.Background(), cycle.KindBrightness, "1")
	assert.ErrorIs(t, err, cycle.ErrTargetUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	bridge := newFakeBridge(huego.Light{ID: 1, State: &huego.State{}})
	a := NewAdapter(bridge, 0.001, 0)

	ctx := context.Background()
	require.NoError(t, a.ApplyValue(ctx, cycle.KindBrightness, "1", 10))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := a.ApplyValue(ctx, cycle.KindBrightness, "1", 20)
	require.Error(t, err)
	assert.False(t, cycle.IsNotFound(err))
}
