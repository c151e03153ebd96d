package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/helper/testlog"
)

func TestDriver_Lifecycle(t *testing.T) {
	d := New("10.0.0.1", Config{}, testlog.HCLogger(t))

	require.False(t, d.Ready())
	require.NoError(t, d.Initialize(context.Background()))
	require.True(t, d.Ready())
	require.NoError(t, d.Shutdown(context.Background()))
	require.False(t, d.Ready())
}

func TestDriver_PushCommitsFramebuffer(t *testing.T) {
	d := New("10.0.0.1", Config{Width: 4, Height: 4}, testlog.HCLogger(t))
	require.NoError(t, d.Initialize(context.Background()))

	c := drivers.RGBA{G: 0xff, A: 0xff}
	require.NoError(t, d.DrawPixel(drivers.Point{X: 1, Y: 1}, c))

	frametime, err := d.Push(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, frametime, time.Duration(0))

	pushed := d.LastPushed()
	require.Len(t, pushed, 16)
	require.Equal(t, c, pushed[1*4+1])

	m := d.Metrics()
	require.Equal(t, uint64(1), m.Pushes)
	require.Zero(t, m.Errors)
	require.False(t, m.LastSeen.IsZero())
}

func TestDriver_PushFailureInjection(t *testing.T) {
	d := New("10.0.0.1", Config{FailPushes: 2}, testlog.HCLogger(t))
	require.NoError(t, d.Initialize(context.Background()))

	_, err := d.Push(context.Background())
	require.Error(t, err)
	_, err = d.Push(context.Background())
	require.Error(t, err)
	_, err = d.Push(context.Background())
	require.NoError(t, err)

	m := d.Metrics()
	require.Equal(t, uint64(2), m.Errors)
	require.Equal(t, uint64(1), m.Pushes)
}

func TestDriver_PushHonorsContext(t *testing.T) {
	d := New("10.0.0.1", Config{PushDelay: time.Second}, testlog.HCLogger(t))
	require.NoError(t, d.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Push(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, uint64(1), d.Metrics().Errors)
}

func TestDriver_DeviceControls(t *testing.T) {
	d := New("10.0.0.1", Config{}, testlog.HCLogger(t))
	ctx := context.Background()

	require.NoError(t, d.SetBrightness(ctx, 42))
	require.Equal(t, 42, d.Brightness())

	require.True(t, d.Powered())
	require.NoError(t, d.SetDisplayPower(ctx, false))
	require.False(t, d.Powered())

	require.NoError(t, d.PlayTone(ctx, 440, 100))
	require.NoError(t, d.ShowIcon(ctx, "sunny"))
}

func TestDriver_HealthCheck(t *testing.T) {
	d := New("10.0.0.1", Config{FailHealthChecks: 1}, testlog.HCLogger(t))

	res := d.HealthCheck(context.Background())
	require.False(t, res.Ok)
	require.NotEmpty(t, res.Err)
	// Failed probes never advance lastSeen.
	require.True(t, d.Metrics().LastSeen.IsZero())

	res = d.HealthCheck(context.Background())
	require.True(t, res.Ok)
	require.Positive(t, res.Latency)
	require.False(t, d.Metrics().LastSeen.IsZero())
}

func TestDriver_MarkSkipped(t *testing.T) {
	d := New("10.0.0.1", Config{}, testlog.HCLogger(t))
	d.MarkSkipped()
	d.MarkSkipped()
	require.Equal(t, uint64(2), d.Metrics().Skipped)
}

func TestDriver_DimensionsByConfig(t *testing.T) {
	d := New("clock", Config{Width: 32, Height: 8}, testlog.HCLogger(t))
	caps := d.Capabilities()
	require.Equal(t, 32, caps.Width)
	require.Equal(t, 8, caps.Height)

	// Zero config defaults to the 64x64 panel.
	d = New("panel", Config{}, testlog.HCLogger(t))
	require.Equal(t, 64, d.Capabilities().Width)
	require.Equal(t, 64, d.Capabilities().Height)
}
