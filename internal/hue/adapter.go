// Package hue reads and writes light values on a Philips Hue bridge.
package hue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/dimmerd/internal/cycle"
)

// Hue value ranges
const (
	MinBri   = 1
	MaxBri   = 254
	MinMired = 153
	MaxMired = 500
)

// apiErrorNotAvailable is the bridge error type for missing resources.
const apiErrorNotAvailable = 3

// Bridge is the subset of *huego.Bridge used by the adapter.
type Bridge interface {
	GetLightsContext(ctx context.Context) ([]huego.Light, error)
	GetLightContext(ctx context.Context, id int) (*huego.Light, error)
	SetLightStateContext(ctx context.Context, id int, state huego.State) (*huego.Response, error)
}

// Adapter implements value reads and writes against a Hue bridge.
// Targets are light ids ("3") or light names ("Desk lamp").
type Adapter struct {
	bridge     Bridge
	limiter    *rate.Limiter
	transition time.Duration
	timeout    time.Duration

	mu    sync.RWMutex
	names map[string]int
}

// NewAdapter creates an adapter. rps bounds bridge calls per second; 0 disables the limit.
func NewAdapter(bridge Bridge, rps float64, transition time.Duration) *Adapter {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Adapter{
		bridge:     bridge,
		limiter:    limiter,
		transition: transition,
		names:      make(map[string]int),
	}
}

// WithReadTimeout bounds every ReadCurrentValue call. Apply calls are bounded
// by the caller.
func (a *Adapter) WithReadTimeout(d time.Duration) *Adapter {
	a.timeout = d
	return a
}

// Connect creates a huego bridge client for address and user.
func Connect(address, user string) *huego.Bridge {
	return huego.New(address, user)
}

// ReadCurrentValue returns the current brightness (1..255) or color temperature (Kelvin) of target.
func (a *Adapter) ReadCurrentValue(ctx context.Context, kind cycle.Kind, target string) (int, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	id, err := a.resolve(ctx, target)
	if err != nil {
		return 0, err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", cycle.ErrTargetUnavailable, err)
	}

	light, err := a.bridge.GetLightContext(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: light %s: %v", cycle.ErrTargetUnavailable, target, err)
		}
		return 0, fmt.Errorf("%w: failed to read light %s: %v", cycle.ErrTargetUnavailable, target, err)
	}
	if light == nil || light.State == nil || !light.State.On {
		return 0, fmt.Errorf("%w: light %s is off", cycle.ErrNoCurrentValue, target)
	}

	switch kind {
	case cycle.KindBrightness:
		return BriToBrightness(light.State.Bri), nil
	case cycle.KindColorTemperature:
		if light.State.Ct == 0 {
			return 0, fmt.Errorf("%w: light %s reports no color temperature", cycle.ErrNoCurrentValue, target)
		}
		return MiredToKelvin(light.State.Ct), nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", cycle.ErrInvalidParameter, kind)
	}
}

// ApplyValue sets the brightness (1..255) or color temperature (Kelvin) of target.
func (a *Adapter) ApplyValue(ctx context.Context, kind cycle.Kind, target string, value int) error {
	id, err := a.resolve(ctx, target)
	if err != nil {
		return err
	}

	state := huego.State{On: true}
	switch kind {
	case cycle.KindBrightness:
		state.Bri = BrightnessToBri(value)
	case cycle.KindColorTemperature:
		state.Ct = KelvinToMired(value)
	default:
		return fmt.Errorf("%w: unknown kind %q", cycle.ErrInvalidParameter, kind)
	}
	if a.transition > 0 {
		state.TransitionTime = uint16(a.transition / (100 * time.Millisecond))
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if _, err := a.bridge.SetLightStateContext(ctx, id, state); err != nil {
		if isNotFound(err) {
			a.forget(target)
			return fmt.Errorf("%w: light %s: %v", cycle.ErrTargetNotFound, target, err)
		}
		return fmt.Errorf("failed to set light %s: %w", target, err)
	}
	return nil
}

// resolve maps a target to a bridge light id.
func (a *Adapter) resolve(ctx context.Context, target string) (int, error) {
	if id, err := strconv.Atoi(target); err == nil {
		return id, nil
	}

	a.mu.RLock()
	id, ok := a.names[target]
	a.mu.RUnlock()
	if ok {
		return id, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}
	lights, err := a.bridge.GetLightsContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list lights: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, l := range lights {
		a.names[l.Name] = l.ID
	}
	if id, ok := a.names[target]; ok {
		log.Debug().Str("target", target).Int("light_id", id).Msg("Resolved light name")
		return id, nil
	}
	return 0, fmt.Errorf("%w: no light named %q", cycle.ErrTargetNotFound, target)
}

func (a *Adapter) forget(target string) {
	a.mu.Lock()
	delete(a.names, target)
	a.mu.Unlock()
}

func isNotFound(err error) bool {
	var apiErr *huego.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Type == apiErrorNotAvailable
	}
	return strings.Contains(err.Error(), "not available")
}

// BrightnessToBri converts 1..255 brightness to the bridge 1..254 scale.
func BrightnessToBri(v int) uint8 {
	bri := int(math.Round(float64(v) * MaxBri / 255))
	return uint8(clamp(bri, MinBri, MaxBri))
}

// BriToBrightness converts bridge 1..254 brightness to 1..255.
func BriToBrightness(bri uint8) int {
	v := int(math.Round(float64(bri) * 255 / MaxBri))
	return clamp(v, cycle.MinBrightness, cycle.MaxBrightness)
}

// KelvinToMired converts a color temperature to the bridge mired scale.
func KelvinToMired(kelvin int) uint16 {
	if kelvin <= 0 {
		return MaxMired
	}
	return uint16(clamp(int(math.Round(1e6/float64(kelvin))), MinMired, MaxMired))
}

// MiredToKelvin converts a bridge mired value to Kelvin.
func MiredToKelvin(mired uint16) int {
	if mired == 0 {
		return 0
	}
	return int(math.Round(1e6 / float64(mired)))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
