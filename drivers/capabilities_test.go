package drivers

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"
)

func TestCapabilities_Has(t *testing.T) {
	caps := &Capabilities{
		HasTextRendering:    true,
		HasPrimitiveDrawing: true,
	}

	must.True(t, caps.Has(CapText))
	must.True(t, caps.Has(CapPrimitives))
	must.False(t, caps.Has(CapAudio))
	must.False(t, caps.Has(CapIcons))
	must.False(t, caps.Has(CapBrightness))
	must.False(t, caps.Has(Capability("bogus")))
}

func TestCapabilities_HasAll(t *testing.T) {
	caps := &Capabilities{HasTextRendering: true, HasAudio: true}

	must.True(t, caps.HasAll(nil))
	must.True(t, caps.HasAll([]Capability{CapText, CapAudio}))
	must.False(t, caps.HasAll([]Capability{CapText, CapIcons}))
}

func TestCapabilities_MinFrameInterval(t *testing.T) {
	cases := []struct {
		maxFPS int
		exp    time.Duration
	}{
		{0, 0},
		{60, 17 * time.Millisecond}, // ceil(1000/60)
		{30, 34 * time.Millisecond},
		{1, time.Second},
		{1000, time.Millisecond},
	}
	for _, tc := range cases {
		caps := &Capabilities{MaxFPS: tc.maxFPS}
		must.Eq(t, tc.exp, caps.MinFrameInterval(), must.Sprintf("maxFps=%d", tc.maxFPS))
	}
}

func TestCapabilities_InBounds(t *testing.T) {
	caps := &Capabilities{Width: 32, Height: 8}

	must.True(t, caps.InBounds(Point{0, 0}))
	must.True(t, caps.InBounds(Point{31, 7}))
	must.False(t, caps.InBounds(Point{32, 0}))
	must.False(t, caps.InBounds(Point{0, 8}))
	must.False(t, caps.InBounds(Point{-1, 0}))
}

func TestCapabilities_Copy(t *testing.T) {
	orig := &Capabilities{Width: 64, MaxFPS: 60}
	cp := orig.Copy()
	cp.MaxFPS = 10
	must.Eq(t, 60, orig.MaxFPS)

	var nilCaps *Capabilities
	must.Nil(t, nilCaps.Copy())
}
