package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validParams() Params {
	return Params{
		Kind:     KindBrightness,
		Period:   10 * time.Second,
		Tick:     250 * time.Millisecond,
		Min:      3,
		Max:      255,
		Mode:     PhaseSyncToCurrent,
		MinDelta: 1,
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
		valid  bool
	}{
		{"defaults", func(p *Params) {}, true},
		{"zero_min_delta", func(p *Params) { p.MinDelta = 0 }, true},
		{"tick_above_period", func(p *Params) { p.Tick = time.Minute }, true},
		{"color_temp", func(p *Params) { p.Kind = KindColorTemperature; p.Min = 2700; p.Max = 6500 }, true},
		{"zero_period", func(p *Params) { p.Period = 0 }, false},
		{"negative_tick", func(p *Params) { p.Tick = -time.Second }, false},
		{"min_equals_max", func(p *Params) { p.Min = 100; p.Max = 100 }, false},
		{"min_above_max", func(p *Params) { p.Min = 200; p.Max = 100 }, false},
		{"negative_min_delta", func(p *Params) { p.MinDelta = -1 }, false},
		{"unknown_mode", func(p *Params) { p.Mode = "bouncy" }, false},
		{"unknown_kind", func(p *Params) { p.Kind = "hue" }, false},
		{"brightness_above_255", func(p *Params) { p.Max = 300 }, false},
		{"brightness_zero", func(p *Params) { p.Min = 0 }, false},
		{"color_temp_in_brightness_units", func(p *Params) { p.Kind = KindColorTemperature }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.modify(&p)
			err := p.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParameter)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("brightness")
	assert.NoError(t, err)
	assert.Equal(t, KindBrightness, k)

	k, err = ParseKind("ccw")
	assert.NoError(t, err)
	assert.Equal(t, KindColorTemperature, k)

	_, err = ParseKind("saturation")
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
