// Package scene defines the pluggable render module contract and the
// registry that maps scene names to modules. Scenes are stateless
// singletons: all per-(device,scene) state lives in the state store and is
// reached through the render Context.
package scene

import (
	"time"

	"github.com/pixelfleet/pixeld/drivers"
)

// Scene is a render module. A scene never owns timers, goroutines or
// transports; it paints into the driver it is handed and tells the
// scheduler when it wants to be called again.
type Scene struct {
	// Name uniquely identifies the scene in the registry.
	Name string

	// WantsLoop arms a render loop after Init. Static scenes render
	// exactly once.
	WantsLoop bool

	// RequiredCapabilities must all be present on a device for the
	// scene to be listed for, or switched onto, that device.
	RequiredCapabilities []drivers.Capability

	// DeviceTypes is an allow-list of device types; empty means any.
	DeviceTypes []string

	// AdaptiveTiming stretches the next delay to at least 105% of the
	// measured render time, avoiding overruns on slow transports.
	AdaptiveTiming bool

	// Schedule, when set, gates the scene to a weekday/time window.
	// The scheduler switches it in and out automatically.
	Schedule *Schedule

	// TimeoutMinutes auto-stops the scene that long after it was
	// switched in. Zero disables the budget.
	TimeoutMinutes int

	// Init prepares per-device scene state. Errors abort the switch.
	Init func(ctx *Context) error

	// Render paints one frame and returns the delay until the next
	// tick, or nil when the scene is complete.
	Render func(ctx *Context) (*time.Duration, error)

	// Cleanup releases per-device scene state. Best effort: errors are
	// logged, never block the next switch, and Cleanup may run multiple
	// times.
	Cleanup func(ctx *Context) error
}

// Delay is a convenience for Render return values.
func Delay(d time.Duration) *time.Duration {
	return &d
}

// CompatibleWith reports whether the scene may run on a device of the
// given type with the given capabilities.
func (s *Scene) CompatibleWith(deviceType string, caps *drivers.Capabilities) bool {
	if len(s.DeviceTypes) > 0 {
		found := false
		for _, t := range s.DeviceTypes {
			if t == deviceType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return caps.HasAll(s.RequiredCapabilities)
}

// Validate checks the module is well formed enough to register.
func (s *Scene) Validate() error {
	if s.Name == "" {
		return errSceneUnnamed
	}
	if s.Render == nil {
		return errSceneNoRender
	}
	if s.Schedule != nil {
		if err := s.Schedule.Compile(); err != nil {
			return err
		}
	}
	return nil
}
