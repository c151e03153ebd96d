package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/helper/testlog"
	"github.com/pixelfleet/pixeld/mqttx"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/scheduler"
	"github.com/pixelfleet/pixeld/state"
	"github.com/pixelfleet/pixeld/testutil"
)

const testHost = "10.0.0.5"

type harness struct {
	store   *state.Store
	broker  *event.Broker
	conn    *mqttx.MemBus
	scenes  *scene.Registry
	manager *scheduler.Manager
	dev     *device.Device
	router  *Router

	// lastColor records the color parameter the test scene saw.
	lastColor atomic.Value
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testlog.HCLogger(t)

	h := &harness{
		store:  state.NewStore(logger),
		broker: event.NewBroker(logger),
		conn:   mqttx.NewMemBus(),
		scenes: scene.NewRegistry(),
	}
	require.NoError(t, h.scenes.Register(&scene.Scene{
		Name:      "clock",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (*time.Duration, error) {
			h.lastColor.Store(ctx.PayloadString("color", ""))
			return scene.Delay(time.Millisecond), nil
		},
	}))

	registry := device.NewRegistry(h.conn, logger)
	h.manager = scheduler.NewManager(context.Background(), h.store, h.broker, h.scenes, logger)
	registry.SetSwapper(h.manager)
	t.Cleanup(func() { h.manager.Shutdown() }) //nolint:errcheck

	dev, err := registry.Add(context.Background(), device.Config{
		Host:   testHost,
		Type:   device.TypePixoo64,
		Driver: drivers.KindMock,
	})
	require.NoError(t, err)
	h.dev = dev
	h.manager.Attach(dev)

	h.router = New(registry, h.manager, h.scenes, h.store, logger)
	return h
}

func (h *harness) runtime(t *testing.T) scheduler.RuntimeState {
	t.Helper()
	s, err := h.manager.Get(testHost)
	require.NoError(t, err)
	return s.Runtime()
}

func (h *harness) waitScene(t *testing.T, name string) {
	t.Helper()
	testutil.WaitForResult(func() (bool, error) {
		rt := h.runtime(t)
		return rt.ActiveScene == name && rt.Status == scheduler.StatusRunning,
			fmt.Errorf("on %q (%s)", rt.ActiveScene, rt.Status)
	}, func(err error) {
		t.Fatalf("scene %q never became active: %v", name, err)
	})
}

func TestRouter_SwitchScene(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.router.SwitchScene(testHost, "clock", map[string]any{"color": "red"}, true))
	h.waitScene(t, "clock")

	testutil.WaitForResult(func() (bool, error) {
		c, _ := h.lastColor.Load().(string)
		return c == "red", fmt.Errorf("color %q", c)
	}, func(err error) {
		t.Fatalf("payload never reached the scene: %v", err)
	})
}

func TestRouter_SwitchSceneValidation(t *testing.T) {
	h := newHarness(t)

	err := h.router.SwitchScene(testHost, "", nil, true)
	require.ErrorIs(t, err, ErrValidation)

	err = h.router.SwitchScene(testHost, "nonsense", nil, true)
	require.ErrorIs(t, err, ErrValidation)

	// Unknown devices are routing errors, not validation errors.
	err = h.router.SwitchScene("10.9.9.9", "clock", nil, true)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrValidation)

	// Validation failures never moved the device.
	require.Empty(t, h.runtime(t).ActiveScene)
}

func TestRouter_PlaybackControls(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.router.SwitchScene(testHost, "clock", nil, true))
	h.waitScene(t, "clock")

	require.NoError(t, h.router.Pause(testHost))
	testutil.WaitForResult(func() (bool, error) {
		return h.runtime(t).PlayState == scheduler.PlayPaused, errors.New("not paused")
	}, func(err error) { t.Fatalf("pause: %v", err) })

	require.NoError(t, h.router.Resume(testHost))
	testutil.WaitForResult(func() (bool, error) {
		return h.runtime(t).PlayState == scheduler.PlayPlaying, errors.New("not playing")
	}, func(err error) { t.Fatalf("resume: %v", err) })

	require.NoError(t, h.router.Stop(testHost))
	testutil.WaitForResult(func() (bool, error) {
		rt := h.runtime(t)
		return rt.Status == scheduler.StatusIdle && rt.ActiveScene == "", errors.New("not stopped")
	}, func(err error) { t.Fatalf("stop: %v", err) })
}

func TestRouter_SetBrightness(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.router.SetBrightness(testHost, -1), ErrValidation)
	require.ErrorIs(t, h.router.SetBrightness(testHost, 101), ErrValidation)

	require.NoError(t, h.router.SetBrightness(testHost, 35))
	testutil.WaitForResult(func() (bool, error) {
		return h.runtime(t).Brightness == 35, fmt.Errorf("brightness %d", h.runtime(t).Brightness)
	}, func(err error) { t.Fatalf("brightness: %v", err) })
}

func TestRouter_SetPower(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.router.SetPower(testHost, false))
	testutil.WaitForResult(func() (bool, error) {
		return !h.runtime(t).DisplayOn, errors.New("still on")
	}, func(err error) { t.Fatalf("power: %v", err) })
}

func TestRouter_SwitchDriver(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.router.SwitchDriver(testHost, "simulated"), ErrValidation)

	old := h.dev.Driver()
	require.NoError(t, h.router.SwitchDriver(testHost, "mock"))
	testutil.WaitForResult(func() (bool, error) {
		return h.dev.Driver() != old, errors.New("driver not replaced")
	}, func(err error) { t.Fatalf("driver switch: %v", err) })
}

func TestRouter_UpdateSceneState(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.router.UpdateSceneState("", "clock", "color", "red"), ErrValidation)
	require.ErrorIs(t, h.router.UpdateSceneState(testHost, "", "color", "red"), ErrValidation)
	require.ErrorIs(t, h.router.UpdateSceneState(testHost, "clock", "", "red"), ErrValidation)
	require.ErrorIs(t, h.router.UpdateSceneState(testHost, "nonsense", "color", "red"), ErrValidation)
	require.Error(t, h.router.UpdateSceneState("10.9.9.9", "clock", "color", "red"))

	require.NoError(t, h.router.UpdateSceneState(testHost, "clock", "color", "green"))
	require.Equal(t, "green", h.store.GetString("scene."+testHost+".clock.color", ""))
}
