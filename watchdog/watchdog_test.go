package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/drivers/mock"
	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/helper/testlog"
	"github.com/pixelfleet/pixeld/mqttx"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/scheduler"
	"github.com/pixelfleet/pixeld/state"
	"github.com/pixelfleet/pixeld/testutil"
)

type harness struct {
	store *state.Store
	conn  *mqttx.MemBus
	dev   *device.Device
	sched *scheduler.DeviceScheduler
	drv   *mock.Driver
	wd    *Watchdog
}

func newHarness(t *testing.T, wcfg *device.WatchdogConfig, scenes ...*scene.Scene) *harness {
	t.Helper()
	logger := testlog.HCLogger(t)

	h := &harness{
		store: state.NewStore(logger),
		conn:  mqttx.NewMemBus(),
	}
	registry := scene.NewRegistry()
	for _, sc := range scenes {
		require.NoError(t, registry.Register(sc))
	}

	reg := device.NewRegistry(h.conn, logger)
	mgr := scheduler.NewManager(context.Background(), h.store, event.NewBroker(logger), registry, logger)
	reg.SetSwapper(mgr)
	t.Cleanup(func() { mgr.Shutdown() }) //nolint:errcheck

	dev, err := reg.Add(context.Background(), device.Config{
		Host:     "10.0.0.5",
		Type:     device.TypePixoo64,
		Driver:   drivers.KindMock,
		Watchdog: wcfg,
	})
	require.NoError(t, err)

	h.dev = dev
	h.sched = mgr.Attach(dev)
	h.drv = dev.Driver().(*mock.Driver)
	h.wd = New(context.Background(), dev, h.sched, h.store, h.conn, logger)
	return h
}

func TestWatchdog_DisabledIsNil(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.wd)

	h = newHarness(t, &device.WatchdogConfig{Enabled: false})
	require.Nil(t, h.wd)
}

func TestWatchdog_ProbeRecordsLatency(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{Enabled: true, Action: device.ActionNotify})

	before := h.dev.Metrics().LastSeen
	h.wd.probe()

	require.Positive(t, h.wd.LastLatency())
	require.Empty(t, h.wd.LastError())
	require.True(t, h.dev.Metrics().LastSeen.After(before) || before.IsZero())
}

func TestWatchdog_ProbeFailureAgesDevice(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{Enabled: true, Action: device.ActionNotify})

	// Install a driver whose next health check fails.
	seen := time.Now().Add(-time.Minute)
	failing := mock.New(h.dev.Host, mock.Config{FailHealthChecks: 1}, testlog.HCLogger(t))
	failing.Recorder().SetLastSeen(seen)
	h.dev.SetDriver(failing)

	h.wd.probe()
	require.NotEmpty(t, h.wd.LastError())
	// A failed probe must not advance lastSeen; aging is the signal.
	require.Equal(t, seen.Unix(), h.dev.Metrics().LastSeen.Unix())
}

func TestWatchdog_SkipsProbeWhenDisplayOff(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{Enabled: true, Action: device.ActionNotify})

	require.NoError(t, h.store.Set("device.10.0.0.5.displayOn", false))
	seen := time.Now().Add(-time.Hour)
	h.drv.Recorder().SetLastSeen(seen)

	h.wd.probe()
	require.Equal(t, seen.Unix(), h.dev.Metrics().LastSeen.Unix())
	require.Zero(t, h.wd.LastLatency())
}

func TestWatchdog_ProbesDarkDisplayWhenConfigured(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{
		Enabled: true, CheckWhenOff: true, Action: device.ActionNotify,
	})

	require.NoError(t, h.store.Set("device.10.0.0.5.displayOn", false))
	h.wd.probe()
	require.Positive(t, h.wd.LastLatency())
}

func TestWatchdog_RestartActionResetsDevice(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{
		Enabled: true, TimeoutMinutes: 5, Action: device.ActionRestart,
	})

	gen := h.sched.Generation()
	h.drv.Recorder().SetLastSeen(time.Now().Add(-10 * time.Minute))
	h.wd.checkAge(time.Now())

	testutil.WaitForResult(func() (bool, error) {
		return h.sched.Generation() == gen+1, fmt.Errorf("generation %d", h.sched.Generation())
	}, func(err error) {
		t.Fatalf("reset never ran: %v", err)
	})
}

func TestWatchdog_FallbackSceneAction(t *testing.T) {
	fallback := &scene.Scene{
		Name:      "safe",
		WantsLoop: true,
		Render: func(*scene.Context) (*time.Duration, error) {
			return scene.Delay(time.Millisecond), nil
		},
	}
	h := newHarness(t, &device.WatchdogConfig{
		Enabled: true, TimeoutMinutes: 5,
		Action: device.ActionFallbackScene, FallbackScene: "safe",
	}, fallback)

	h.drv.Recorder().SetLastSeen(time.Now().Add(-10 * time.Minute))
	h.wd.checkAge(time.Now())

	testutil.WaitForResult(func() (bool, error) {
		return h.sched.Runtime().ActiveScene == "safe", errors.New("fallback not active")
	}, func(err error) {
		t.Fatalf("fallback never switched in: %v", err)
	})
}

func TestWatchdog_MQTTCommandAction(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{
		Enabled: true, TimeoutMinutes: 5, Action: device.ActionMQTTCommand,
		MQTTCommandSequence: []device.MQTTCommand{
			{Topic: "plug/power", Payload: "off"},
			{Topic: "plug/power", Payload: "on"},
		},
	})

	var mu sync.Mutex
	var got []string
	require.NoError(t, h.conn.Subscribe("plug/power", 0, func(m mqttx.Message) {
		mu.Lock()
		got = append(got, string(m.Payload))
		mu.Unlock()
	}))

	h.drv.Recorder().SetLastSeen(time.Now().Add(-10 * time.Minute))
	h.wd.checkAge(time.Now())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"off", "on"}, got)
}

// The recovery action fires once per silence episode: a second age check
// stays quiet until a successful probe re-arms it.
func TestWatchdog_ActionDebounce(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{
		Enabled: true, TimeoutMinutes: 5, Action: device.ActionRestart,
	})

	gen := h.sched.Generation()
	h.drv.Recorder().SetLastSeen(time.Now().Add(-10 * time.Minute))
	h.wd.checkAge(time.Now())
	h.wd.checkAge(time.Now())
	h.wd.checkAge(time.Now())

	testutil.WaitForResult(func() (bool, error) {
		return h.sched.Generation() == gen+1, fmt.Errorf("generation %d", h.sched.Generation())
	}, func(err error) {
		t.Fatalf("reset never ran: %v", err)
	})
	// Settle, then confirm no further resets queued up.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, gen+1, h.sched.Generation())

	// A healthy probe re-arms the action.
	h.wd.probe()
	h.drv.Recorder().SetLastSeen(time.Now().Add(-10 * time.Minute))
	h.wd.checkAge(time.Now())
	testutil.WaitForResult(func() (bool, error) {
		return h.sched.Generation() == gen+2, fmt.Errorf("generation %d", h.sched.Generation())
	}, func(err error) {
		t.Fatalf("re-armed reset never ran: %v", err)
	})
}

func TestWatchdog_ZeroTimeoutNeverFires(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{Enabled: true, Action: device.ActionRestart})

	gen := h.sched.Generation()
	h.drv.Recorder().SetLastSeen(time.Now().Add(-24 * time.Hour))
	h.wd.checkAge(time.Now())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, gen, h.sched.Generation())
}

func TestWatchdog_NeverSeenDeviceGetsGrace(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{
		Enabled: true, TimeoutMinutes: 5, Action: device.ActionRestart,
	})

	// Fresh recorder: lastSeen zero. The age check must not fire.
	gen := h.sched.Generation()
	h.wd.checkAge(time.Now().Add(time.Hour))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, gen, h.sched.Generation())
}

func TestWatchdog_StartStop(t *testing.T) {
	h := newHarness(t, &device.WatchdogConfig{
		Enabled: true, HealthCheckIntervalSeconds: 1, Action: device.ActionNotify,
	})
	h.wd.Start()
	h.wd.Stop()
}
