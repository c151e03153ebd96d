// Package drivers defines the abstract rendering contract a pixel-matrix
// display driver must implement, along with the capability record used to
// gate optional operations.
package drivers

import (
	"context"
	"time"
)

// Kind discriminates driver implementations for a device.
type Kind string

const (
	// KindReal drivers talk to physical hardware over a transport.
	KindReal Kind = "real"

	// KindMock drivers are structurally identical to real ones but
	// perform no I/O. They stand in for offline devices and tests.
	KindMock Kind = "mock"
)

func (k Kind) Valid() bool {
	switch k {
	case KindReal, KindMock:
		return true
	default:
		return false
	}
}

// RGBA is a single pixel color. Drivers for displays with a smaller color
// depth quantize on push.
type RGBA struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// Point addresses a pixel. The origin is the top-left corner.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TextAlign controls horizontal anchoring of drawn text.
type TextAlign string

const (
	AlignLeft   TextAlign = "left"
	AlignCenter TextAlign = "center"
	AlignRight  TextAlign = "right"
)

// HealthResult is the outcome of a liveness probe.
type HealthResult struct {
	Ok      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Err     string        `json:"err,omitempty"`
}

// Metrics is a point-in-time copy of a driver's frame accounting.
type Metrics struct {
	Pushes        uint64        `json:"pushes"`
	Errors        uint64        `json:"errors"`
	Skipped       uint64        `json:"skipped"`
	LastFrameTime time.Duration `json:"lastFrametimeMs"`
	LastSeen      time.Time     `json:"lastSeenTs"`
}

// Driver is the abstract display a scene renders against. Implementations
// buffer draw operations internally and commit the buffer to hardware on
// Push. All operations are capability-gated: invoking an operation the
// driver's Capabilities do not advertise returns ErrNotSupported and leaves
// metrics untouched.
//
// Draw operations mutate only the internal buffer and are safe to call at
// any rate; Push, HealthCheck and the optional device controls may perform
// I/O and honor the passed context's deadline.
type Driver interface {
	// Name returns the driver implementation name, e.g. "pixoo-http".
	Name() string

	// Kind reports whether this driver is real or mock.
	Kind() Kind

	// Capabilities describes what the underlying display can do. The
	// returned value is immutable.
	Capabilities() *Capabilities

	// Initialize prepares the transport. A transport error is returned
	// but the driver remains usable; callers may retry via Push.
	Initialize(ctx context.Context) error

	// Ready reports whether Initialize succeeded at least once.
	Ready() bool

	// Shutdown releases transport resources. Idempotent.
	Shutdown(ctx context.Context) error

	// Clear resets the internal buffer to black. No I/O.
	Clear()

	// Push commits the internal buffer to the hardware and returns the
	// measured frame time. On success the driver's lastSeen timestamp
	// advances.
	Push(ctx context.Context) (time.Duration, error)

	DrawPixel(p Point, c RGBA) error
	DrawLine(p0, p1 Point, c RGBA) error
	FillRect(tl, br Point, c RGBA) error
	DrawText(s string, pos Point, c RGBA, align TextAlign) error

	// Optional operations, each gated by a capability flag.
	SetBrightness(ctx context.Context, pct int) error
	SetDisplayPower(ctx context.Context, on bool) error
	PlayTone(ctx context.Context, freqHz, durationMs int) error
	ShowIcon(ctx context.Context, id string) error

	// MarkSkipped counts a frame the scheduler dropped, typically a
	// stale tick whose generation moved on mid-render.
	MarkSkipped()

	// HealthCheck is a cheap liveness probe independent of frame
	// rendering. On success the driver's lastSeen timestamp advances.
	HealthCheck(ctx context.Context) *HealthResult

	// Metrics returns a copy of the driver's frame accounting.
	Metrics() Metrics
}
