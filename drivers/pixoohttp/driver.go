// Package pixoohttp drives Divoom Pixoo-64 style panels over their local
// HTTP-JSON endpoint. The device accepts whole frames as base64 RGB blobs
// on a single POST endpoint; draw operations accumulate in the shared
// framebuffer and Push commits one frame per call.
package pixoohttp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/pixelfleet/pixeld/drivers"
)

const (
	driverName = "pixoo-http"

	// requestTimeout bounds every device call so a stuck panel can
	// never wedge its scheduler beyond one transport timeout.
	requestTimeout = 5 * time.Second

	panelSize = 64
	maxFPS    = 30
)

type Driver struct {
	logger hclog.Logger
	host   string
	url    string
	client *http.Client
	caps   *drivers.Capabilities
	fb     *drivers.Framebuffer
	rec    *drivers.Recorder

	picID atomic.Uint32

	mu    sync.Mutex
	ready bool
}

func New(host string, logger hclog.Logger) *Driver {
	return &Driver{
		logger: logger.Named(driverName).With("device", host),
		host:   host,
		url:    fmt.Sprintf("http://%s/post", host),
		client: cleanhttp.DefaultPooledClient(),
		caps:   TypeCapabilities(),
		fb:     drivers.NewFramebuffer(panelSize, panelSize),
		rec:    drivers.NewRecorder(host, driverName),
	}
}

// TypeCapabilities is the capability set every Pixoo 64 panel shares.
func TypeCapabilities() *drivers.Capabilities {
	return &drivers.Capabilities{
		Width:                panelSize,
		Height:               panelSize,
		ColorDepth:           24,
		HasAudio:             true,
		HasTextRendering:     true,
		HasPrimitiveDrawing:  true,
		HasIconSupport:       false,
		HasBrightnessControl: true,
		MinBrightness:        0,
		MaxBrightness:        100,
		MaxFPS:               maxFPS,
	}
}

func (d *Driver) Name() string                        { return driverName }
func (d *Driver) Kind() drivers.Kind                  { return drivers.KindReal }
func (d *Driver) Capabilities() *drivers.Capabilities { return d.caps }

func (d *Driver) Initialize(ctx context.Context) error {
	// Resetting the gif id keeps the panel's internal frame counter in
	// sync after a daemon restart.
	if _, err := d.post(ctx, map[string]any{"Command": "Draw/ResetHttpGifId"}); err != nil {
		d.rec.RecordError()
		return fmt.Errorf("pixoo init failed: %w", err)
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
	d.client.CloseIdleConnections()
	return nil
}

func (d *Driver) Clear() { d.fb.Clear() }

func (d *Driver) Push(ctx context.Context) (time.Duration, error) {
	pix := d.fb.Snapshot()
	raw := make([]byte, 0, len(pix)*3)
	for _, p := range pix {
		raw = append(raw, p.R, p.G, p.B)
	}

	body := map[string]any{
		"Command":   "Draw/SendHttpGif",
		"PicNum":    1,
		"PicWidth":  panelSize,
		"PicOffset": 0,
		"PicID":     d.picID.Add(1),
		"PicSpeed":  1000,
		"PicData":   base64.StdEncoding.EncodeToString(raw),
	}

	t0 := time.Now()
	if _, err := d.post(ctx, body); err != nil {
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

func (d *Driver) SetBrightness(ctx context.Context, pct int) error {
	_, err := d.post(ctx, map[string]any{
		"Command":    "Channel/SetBrightness",
		"Brightness": pct,
	})
	if err != nil {
		d.rec.RecordError()
	}
	return err
}

func (d *Driver) SetDisplayPower(ctx context.Context, on bool) error {
	onOff := 0
	if on {
		onOff = 1
	}
	_, err := d.post(ctx, map[string]any{
		"Command": "Channel/OnOffScreen",
		"OnOff":   onOff,
	})
	if err != nil {
		d.rec.RecordError()
	}
	return err
}

func (d *Driver) PlayTone(ctx context.Context, freqHz, durationMs int) error {
	// The panel only has a fixed buzzer; frequency is accepted for
	// contract parity and ignored by the hardware.
	_, err := d.post(ctx, map[string]any{
		"Command":           "Device/PlayBuzzer",
		"ActiveTimeInCycle": durationMs,
		"OffTimeInCycle":    0,
		"PlayTotalTime":     durationMs,
	})
	if err != nil {
		d.rec.RecordError()
	}
	return err
}

func (d *Driver) ShowIcon(context.Context, string) error {
	return drivers.NotSupportedf("showIcon")
}

func (d *Driver) MarkSkipped() { d.rec.RecordSkip() }

func (d *Driver) HealthCheck(ctx context.Context) *drivers.HealthResult {
	t0 := time.Now()
	_, err := d.post(ctx, map[string]any{"Command": "Device/GetDeviceTime"})
	latency := time.Since(t0)
	if err != nil {
		return &drivers.HealthResult{Ok: false, Latency: latency, Err: err.Error()}
	}
	d.rec.Touch()
	return &drivers.HealthResult{Ok: true, Latency: latency}
}

func (d *Driver) Metrics() drivers.Metrics { return d.rec.Snapshot() }

// post sends one JSON command to the panel and decodes the reply. The
// panel signals failure in-band via a non-zero error_code.
func (d *Driver) post(ctx context.Context, body map[string]any) (map[string]any, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("pixoo returned status %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode pixoo response: %w", err)
	}
	if code, ok := out["error_code"].(float64); ok && code != 0 {
		return nil, fmt.Errorf("pixoo error_code %d", int(code))
	}
	return out, nil
}
