// Package awtrixmqtt drives Awtrix-style 32x8 clock displays over MQTT.
// Frames are published as a flat hex color array on the device's topic
// prefix; settings and the buzzer ride on their own subtopics.
package awtrixmqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/mqttx"
)

const (
	driverName = "awtrix-mqtt"

	clockWidth  = 32
	clockHeight = 8
	maxFPS      = 20
)

type Driver struct {
	logger hclog.Logger
	host   string
	prefix string
	conn   mqttx.Conn
	caps   *drivers.Capabilities
	fb     *drivers.Framebuffer
	rec    *drivers.Recorder

	mu    sync.Mutex
	ready bool
}

// New builds a clock driver publishing under prefix (e.g. "awtrix_c4a2").
// The MQTT connection is shared across the daemon and injected.
func New(host, prefix string, conn mqttx.Conn, logger hclog.Logger) *Driver {
	if prefix == "" {
		prefix = "awtrix_" + host
	}
	return &Driver{
		logger: logger.Named(driverName).With("device", host),
		host:   host,
		prefix: prefix,
		conn:   conn,
		caps:   TypeCapabilities(),
		fb:     drivers.NewFramebuffer(clockWidth, clockHeight),
		rec:    drivers.NewRecorder(host, driverName),
	}
}

// TypeCapabilities is the capability set every AWTRIX clock shares.
func TypeCapabilities() *drivers.Capabilities {
	return &drivers.Capabilities{
		Width:                clockWidth,
		Height:               clockHeight,
		ColorDepth:           24,
		HasAudio:             true,
		HasTextRendering:     true,
		HasPrimitiveDrawing:  true,
		HasIconSupport:       true,
		HasBrightnessControl: true,
		MinBrightness:        2,
		MaxBrightness:        100,
		MaxFPS:               maxFPS,
	}
}

func (d *Driver) Name() string                        { return driverName }
func (d *Driver) Kind() drivers.Kind                  { return drivers.KindReal }
func (d *Driver) Capabilities() *drivers.Capabilities { return d.caps }

func (d *Driver) Initialize(context.Context) error {
	if !d.conn.Connected() {
		d.rec.RecordError()
		return fmt.Errorf("awtrix %s: mqtt transport not connected", d.host)
	}
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
	return nil
}

func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *Driver) Shutdown(context.Context) error {
	d.mu.Lock()
	d.ready = false
	d.mu.Unlock()
	return nil
}

func (d *Driver) Clear() { d.fb.Clear() }

func (d *Driver) Push(context.Context) (time.Duration, error) {
	pix := d.fb.Snapshot()
	colors := make([]string, len(pix))
	for i, p := range pix {
		colors[i] = fmt.Sprintf("#%02X%02X%02X", p.R, p.G, p.B)
	}

	t0 := time.Now()
	if err := d.publishJSON("draw", map[string]any{"frame": colors}); err != nil {
		d.rec.RecordError()
		return 0, err
	}
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
	if err := d.publishJSON("settings", map[string]any{"BRI": pct}); err != nil {
		d.rec.RecordError()
		return err
	}
	return nil
}

func (d *Driver) SetDisplayPower(_ context.Context, on bool) error {
	if err := d.publishJSON("power", map[string]any{"power": on}); err != nil {
		d.rec.RecordError()
		return err
	}
	return nil
}

func (d *Driver) PlayTone(_ context.Context, freqHz, durationMs int) error {
	if err := d.publishJSON("tone", map[string]any{"freq": freqHz, "ms": durationMs}); err != nil {
		d.rec.RecordError()
		return err
	}
	return nil
}

func (d *Driver) ShowIcon(_ context.Context, id string) error {
	if err := d.publishJSON("icon", map[string]any{"icon": id}); err != nil {
		d.rec.RecordError()
		return err
	}
	return nil
}

func (d *Driver) MarkSkipped() { d.rec.RecordSkip() }

// HealthCheck probes the shared MQTT connection. The clock has no
// request/response primitive, so connection state plus a ping publish is
// the cheapest liveness signal available.
func (d *Driver) HealthCheck(context.Context) *drivers.HealthResult {
	t0 := time.Now()
	if !d.conn.Connected() {
		return &drivers.HealthResult{Ok: false, Err: "mqtt transport not connected"}
	}
	if err := d.publishJSON("ping", map[string]any{"ts": time.Now().UnixMilli()}); err != nil {
		return &drivers.HealthResult{Ok: false, Latency: time.Since(t0), Err: err.Error()}
	}
	d.rec.Touch()
	return &drivers.HealthResult{Ok: true, Latency: time.Since(t0)}
}

func (d *Driver) Metrics() drivers.Metrics { return d.rec.Snapshot() }

func (d *Driver) publishJSON(subtopic string, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.conn.Publish(d.prefix+"/"+subtopic, 0, false, buf)
}
