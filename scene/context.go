package scene

import (
	"context"
	"fmt"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/state"
)

// Framework-managed keys in the per-(device,scene) state bag.
const (
	keyFrameCount = "_frameCount"
	keyStartedAt  = "_startedAtMs"
)

// Context is everything a scene sees during init/render/cleanup: the
// device's driver for draw operations, the switch payload, and a key-value
// bag scoped to this (device, scene) pair in the state store.
type Context struct {
	Ctx        context.Context
	Host       string
	DeviceType string
	SceneName  string
	Generation uint64
	Driver     drivers.Driver
	Logger     hclog.Logger
	Payload    map[string]any

	store *state.Store
}

// NewContext is used by the scheduler; scenes never construct contexts.
func NewContext(ctx context.Context, store *state.Store, drv drivers.Driver,
	logger hclog.Logger, host, deviceType, sceneName string,
	gen uint64, payload map[string]any) *Context {

	return &Context{
		Ctx:        ctx,
		Host:       host,
		DeviceType: deviceType,
		SceneName:  sceneName,
		Generation: gen,
		Driver:     drv,
		Logger:     logger,
		Payload:    payload,
		store:      store,
	}
}

func (c *Context) path(key string) string {
	return fmt.Sprintf("%s.%s.%s.%s", state.NamespaceScene, c.Host, c.SceneName, key)
}

// Get reads from the scene's state bag.
func (c *Context) Get(key string, def any) any {
	return c.store.Get(c.path(key), def)
}

// Set writes to the scene's state bag.
func (c *Context) Set(key string, value any) {
	if err := c.store.Set(c.path(key), value); err != nil {
		c.Logger.Error("scene state write failed", "key", key, "error", err)
	}
}

// FrameCount is the number of completed (non-stale) ticks since the scene
// was switched in. Managed by the scheduler; paused time does not advance it.
func (c *Context) FrameCount() int {
	return c.store.GetInt(c.path(keyFrameCount), 0)
}

// StartedAt is when the scene was switched in.
func (c *Context) StartedAt() time.Time {
	ms := c.store.GetInt(c.path(keyStartedAt), 0)
	return time.UnixMilli(int64(ms))
}

// Elapsed is the wall-clock time since the scene was switched in.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartedAt())
}

// PayloadString reads a string parameter from the switch payload.
func (c *Context) PayloadString(key, def string) string {
	if v, ok := c.Payload[key].(string); ok {
		return v
	}
	return def
}

// PayloadInt reads an int parameter, tolerating float64 from JSON.
func (c *Context) PayloadInt(key string, def int) int {
	switch v := c.Payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// MarkStarted stamps the framework bag at switch time. Scheduler only.
func (c *Context) MarkStarted(now time.Time) {
	c.Set(keyStartedAt, int(now.UnixMilli()))
	c.Set(keyFrameCount, 0)
}

// AdvanceFrame increments the frame counter. Scheduler only; never called
// for stale ticks.
func (c *Context) AdvanceFrame() {
	if err := c.store.Update(c.path(keyFrameCount), func(cur any) any {
		switch v := cur.(type) {
		case int:
			return v + 1
		case float64:
			return int(v) + 1
		default:
			return 1
		}
	}); err != nil {
		c.Logger.Error("frame counter update failed", "error", err)
	}
}

// ClearInstance drops the whole (device, scene) bag. Used on cleanup and
// when a scene is removed from a device; calling it repeatedly is a no-op.
func (c *Context) ClearInstance() {
	path := fmt.Sprintf("%s.%s.%s", state.NamespaceScene, c.Host, c.SceneName)
	if err := c.store.Delete(path); err != nil {
		c.Logger.Error("scene state clear failed", "error", err)
	}
}
