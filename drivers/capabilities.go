package drivers

import (
	"time"
)

// Capability names an optional display feature a scene may require.
type Capability string

const (
	CapText       Capability = "text"
	CapPrimitives Capability = "primitives"
	CapAudio      Capability = "audio"
	CapIcons      Capability = "icons"
	CapBrightness Capability = "brightness"
)

// Capabilities is an immutable description of what a display can do.
// Drivers construct one at build time; nothing mutates it afterwards.
type Capabilities struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	ColorDepth int `json:"colorDepth"`

	HasAudio             bool `json:"hasAudio"`
	HasTextRendering     bool `json:"hasTextRendering"`
	HasPrimitiveDrawing  bool `json:"hasPrimitiveDrawing"`
	HasIconSupport       bool `json:"hasIconSupport"`
	HasBrightnessControl bool `json:"hasBrightnessControl"`

	MinBrightness int `json:"minBrightness"`
	MaxBrightness int `json:"maxBrightness"`

	// MaxFPS bounds how fast the scheduler may tick a scene on this
	// display. Zero means no device-imposed bound.
	MaxFPS int `json:"maxFps"`
}

func (c *Capabilities) Copy() *Capabilities {
	if c == nil {
		return nil
	}
	nc := *c
	return &nc
}

// Has reports whether the display supports the named capability.
func (c *Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapText:
		return c.HasTextRendering
	case CapPrimitives:
		return c.HasPrimitiveDrawing
	case CapAudio:
		return c.HasAudio
	case CapIcons:
		return c.HasIconSupport
	case CapBrightness:
		return c.HasBrightnessControl
	default:
		return false
	}
}

// HasAll reports whether every requirement is satisfied.
func (c *Capabilities) HasAll(reqs []Capability) bool {
	for _, r := range reqs {
		if !c.Has(r) {
			return false
		}
	}
	return true
}

// MinFrameInterval derives the smallest tick delay the display tolerates
// from MaxFPS. Zero MaxFPS yields no bound.
func (c *Capabilities) MinFrameInterval() time.Duration {
	if c.MaxFPS <= 0 {
		return 0
	}
	// ceil(1000/maxFps) in milliseconds
	ms := (1000 + c.MaxFPS - 1) / c.MaxFPS
	return time.Duration(ms) * time.Millisecond
}

// InBounds reports whether p addresses a pixel on the display.
func (c *Capabilities) InBounds(p Point) bool {
	return p.X >= 0 && p.X < c.Width && p.Y >= 0 && p.Y < c.Height
}
