package scene

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/helper/testlog"
	"github.com/pixelfleet/pixeld/state"
)

func testContext(t *testing.T, payload map[string]any) (*Context, *state.Store) {
	t.Helper()
	store := state.NewStore(testlog.HCLogger(t))
	ctx := NewContext(context.Background(), store, nil, testlog.HCLogger(t),
		"10.0.0.5", "pixoo64", "clock", 1, payload)
	return ctx, store
}

func TestContext_Bag(t *testing.T) {
	ctx, store := testContext(t, nil)

	require.Equal(t, "none", ctx.Get("color", "none"))
	ctx.Set("color", "red")
	require.Equal(t, "red", ctx.Get("color", "none"))

	// The bag is scoped to (device, scene).
	require.Equal(t, "red", store.GetString("scene.10.0.0.5.clock.color", ""))
}

func TestContext_BagIsolation(t *testing.T) {
	store := state.NewStore(testlog.HCLogger(t))
	a := NewContext(context.Background(), store, nil, testlog.HCLogger(t),
		"devA", "pixoo64", "clock", 1, nil)
	b := NewContext(context.Background(), store, nil, testlog.HCLogger(t),
		"devB", "pixoo64", "clock", 1, nil)

	a.Set("color", "red")
	b.Set("color", "blue")
	require.Equal(t, "red", a.Get("color", ""))
	require.Equal(t, "blue", b.Get("color", ""))
}

func TestContext_FrameCount(t *testing.T) {
	ctx, _ := testContext(t, nil)

	require.Zero(t, ctx.FrameCount())
	ctx.AdvanceFrame()
	ctx.AdvanceFrame()
	require.Equal(t, 2, ctx.FrameCount())

	// MarkStarted resets the counter for a fresh switch.
	ctx.MarkStarted(time.Now())
	require.Zero(t, ctx.FrameCount())
}

func TestContext_StartedAt(t *testing.T) {
	ctx, _ := testContext(t, nil)

	now := time.Now()
	ctx.MarkStarted(now)
	require.WithinDuration(t, now, ctx.StartedAt(), time.Millisecond)
	require.GreaterOrEqual(t, ctx.Elapsed(), time.Duration(0))
}

func TestContext_Payload(t *testing.T) {
	ctx, _ := testContext(t, map[string]any{
		"color": "red",
		"speed": float64(3), // JSON numbers arrive as float64
		"count": 7,
	})

	require.Equal(t, "red", ctx.PayloadString("color", ""))
	require.Equal(t, "def", ctx.PayloadString("missing", "def"))
	require.Equal(t, 3, ctx.PayloadInt("speed", 0))
	require.Equal(t, 7, ctx.PayloadInt("count", 0))
	require.Equal(t, 9, ctx.PayloadInt("missing", 9))
}

func TestContext_ClearInstance(t *testing.T) {
	ctx, store := testContext(t, nil)

	ctx.Set("color", "red")
	ctx.AdvanceFrame()
	ctx.ClearInstance()

	require.Equal(t, "none", ctx.Get("color", "none"))
	require.Zero(t, ctx.FrameCount())
	require.Equal(t, "", store.GetString("scene.10.0.0.5.clock.color", ""))

	// Repeated clears are no-ops.
	ctx.ClearInstance()
}
