// Package mock implements an in-memory display driver. It is structurally
// identical to the real drivers but performs no I/O, standing in for
// offline devices and backing the test suite.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/pixelfleet/pixeld/drivers"
)

const driverName = "mock"

// simulatedLatency is reported by health checks so watchdog plumbing sees
// a realistic, non-zero probe time.
const simulatedLatency = 2 * time.Millisecond

// Config tunes failure injection for tests. The zero value is a healthy
// always-on display.
type Config struct {
	// Width/Height default to 64x64 when zero.
	Width  int
	Height int

	// FailPushes makes the next N Push calls fail.
	FailPushes int

	// FailHealthChecks makes the next N HealthCheck calls fail.
	FailHealthChecks int

	// PushDelay simulates transport time on Push.
	PushDelay time.Duration
}

type Driver struct {
	logger hclog.Logger
	caps   *drivers.Capabilities
	fb     *drivers.Framebuffer
	rec    *drivers.Recorder

	mu         sync.Mutex
	cfg        Config
	ready      bool
	shutdown   bool
	brightness int
	powered    bool
	lastTone   [2]int
	lastIcon   string
	pushedPix  []drivers.RGBA
}

func New(host string, cfg Config, logger hclog.Logger) *Driver {
	w, h := cfg.Width, cfg.Height
	if w == 0 {
		w = 64
	}
	if h == 0 {
		h = 64
	}
	return &Driver{
		logger: logger.Named(driverName).With("device", host),
		caps: &drivers.Capabilities{
			Width:                w,
			Height:               h,
			ColorDepth:           24,
			HasAudio:             true,
			HasTextRendering:     true,
			HasPrimitiveDrawing:  true,
			HasIconSupport:       true,
			HasBrightnessControl: true,
			MinBrightness:        0,
			MaxBrightness:        100,
			MaxFPS:               60,
		},
		fb:      drivers.NewFramebuffer(w, h),
		rec:     drivers.NewRecorder(host, driverName),
		cfg:     cfg,
		powered: true,
	}
}

func (d *Driver) Name() string                       { return driverName }
func (d *Driver) Kind() drivers.Kind                 { return drivers.KindMock }
func (d *Driver) Capabilities() *drivers.Capabilities { return d.caps }

func (d *Driver) Initialize(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = true
	d.shutdown = false
	return nil
}

func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *Driver) Shutdown(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = false
	d.shutdown = true
	return nil
}

func (d *Driver) Clear() { d.fb.Clear() }

func (d *Driver) Push(ctx context.Context) (time.Duration, error) {
	d.mu.Lock()
	delay := d.cfg.PushDelay
	fail := d.cfg.FailPushes > 0
	if fail {
		d.cfg.FailPushes--
	}
	d.mu.Unlock()

	t0 := time.Now()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			d.rec.RecordError()
			return 0, ctx.Err()
		}
	}
	if fail {
		d.rec.RecordError()
		return 0, errors.New("mock push failure")
	}

	d.mu.Lock()
	d.pushedPix = d.fb.Snapshot()
	d.mu.Unlock()

	frametime := time.Since(t0)
	d.rec.RecordPush(frametime)
	return frametime, nil
}

func (d *Driver) DrawPixel(p drivers.Point, c drivers.RGBA) error {
	return d.fb.Set(p, c)
}

func (d *Driver) DrawLine(p0, p1 drivers.Point, c drivers.RGBA) error {
	d.fb.Line(p0, p1, c)
	return nil
}

func (d *Driver) FillRect(tl, br drivers.Point, c drivers.RGBA) error {
	d.fb.FillRect(tl, br, c)
	return nil
}

func (d *Driver) DrawText(s string, pos drivers.Point, c drivers.RGBA, align drivers.TextAlign) error {
	d.fb.Text(s, pos, c, align)
	return nil
}

func (d *Driver) SetBrightness(_ context.Context, pct int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.brightness = pct
	return nil
}

func (d *Driver) SetDisplayPower(_ context.Context, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powered = on
	return nil
}

func (d *Driver) PlayTone(_ context.Context, freqHz, durationMs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastTone = [2]int{freqHz, durationMs}
	return nil
}

func (d *Driver) ShowIcon(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastIcon = id
	return nil
}

func (d *Driver) MarkSkipped() { d.rec.RecordSkip() }

func (d *Driver) HealthCheck(context.Context) *drivers.HealthResult {
	d.mu.Lock()
	fail := d.cfg.FailHealthChecks > 0
	if fail {
		d.cfg.FailHealthChecks--
	}
	d.mu.Unlock()

	if fail {
		return &drivers.HealthResult{Ok: false, Err: "mock health failure"}
	}
	d.rec.Touch()
	return &drivers.HealthResult{Ok: true, Latency: simulatedLatency}
}

func (d *Driver) Metrics() drivers.Metrics { return d.rec.Snapshot() }

// Recorder exposes the frame accounting for tests that need to age
// lastSeen artificially.
func (d *Driver) Recorder() *drivers.Recorder { return d.rec }

// LastPushed returns the framebuffer contents committed by the most recent
// successful Push.
func (d *Driver) LastPushed() []drivers.RGBA {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]drivers.RGBA, len(d.pushedPix))
	copy(out, d.pushedPix)
	return out
}

// Brightness returns the last applied brightness, for tests.
func (d *Driver) Brightness() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brightness
}

// Powered returns the last applied power state, for tests.
func (d *Driver) Powered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.powered
}

// FailNextPushes arms push failure injection after construction.
func (d *Driver) FailNextPushes(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.FailPushes = n
}
