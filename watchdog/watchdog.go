// Package watchdog runs the per-device liveness monitor: periodic health
// probes independent of the render loop, plus an age check on the
// last-seen timestamp that triggers the configured recovery action.
// Recovery is always issued through the device's scheduler mailbox, never
// applied directly.
package watchdog

import (
	"context"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/mqttx"
	"github.com/pixelfleet/pixeld/scheduler"
	"github.com/pixelfleet/pixeld/state"
)

// ageCheckInterval drives the last-seen age evaluation.
const ageCheckInterval = time.Minute

// probeTimeout bounds a single health check so a stuck device never
// wedges the watchdog beyond one transport timeout.
const probeTimeout = 5 * time.Second

// Watchdog monitors one device.
type Watchdog struct {
	logger hclog.Logger
	dev    *device.Device
	sched  *scheduler.DeviceScheduler
	store  *state.Store
	conn   mqttx.Conn
	cfg    *device.WatchdogConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	lastLatency time.Duration
	lastErr     string
	// actionedAt debounces the recovery action: one firing per silence
	// episode, re-armed when the device is seen again.
	actionedAt time.Time
}

// New builds a watchdog for the device; returns nil when the policy is
// absent or disabled.
func New(ctx context.Context, dev *device.Device, sched *scheduler.DeviceScheduler,
	store *state.Store, conn mqttx.Conn, logger hclog.Logger) *Watchdog {

	cfg := dev.Config().Watchdog
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	wctx, cancel := context.WithCancel(ctx)
	return &Watchdog{
		logger: logger.Named("watchdog").With("device", dev.Host),
		dev:    dev,
		sched:  sched,
		store:  store,
		conn:   conn,
		cfg:    cfg,
		ctx:    wctx,
		cancel: cancel,
	}
}

// Start launches the probe and age-check loops.
func (w *Watchdog) Start() {
	w.wg.Add(2)
	go w.probeLoop()
	go w.ageLoop()
}

// Stop terminates the loops and waits for them.
func (w *Watchdog) Stop() {
	w.cancel()
	w.wg.Wait()
}

// LastLatency reports the most recent successful probe time.
func (w *Watchdog) LastLatency() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLatency
}

// LastError reports the most recent probe failure, if any.
func (w *Watchdog) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Watchdog) probeLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.HealthCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.probe()
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watchdog) probe() {
	if !w.cfg.CheckWhenOff {
		on := w.store.GetBool(state.NamespaceDevice+"."+w.dev.Host+".displayOn", true)
		if !on {
			return
		}
	}

	ctx, cancel := context.WithTimeout(w.ctx, probeTimeout)
	defer cancel()

	res := w.dev.Driver().HealthCheck(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if res.Ok {
		// The driver already advanced lastSeen; just remember latency
		// and re-arm the recovery action.
		w.lastLatency = res.Latency
		w.lastErr = ""
		w.actionedAt = time.Time{}
		metrics.AddSampleWithLabels([]string{"watchdog", "latency_ms"},
			float32(res.Latency.Milliseconds()),
			[]metrics.Label{{Name: "device", Value: w.dev.Host}})
		return
	}
	// Failures never touch lastSeen; aging is the timeout signal.
	w.lastErr = res.Err
	w.logger.Debug("health check failed", "error", res.Err)
}

func (w *Watchdog) ageLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(ageCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.checkAge(time.Now())
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watchdog) checkAge(now time.Time) {
	timeout := w.cfg.Timeout()
	if timeout == 0 {
		return
	}
	lastSeen := w.dev.Metrics().LastSeen
	if lastSeen.IsZero() {
		// Never seen: let the configured timeout run from process
		// start rather than firing immediately.
		return
	}
	age := now.Sub(lastSeen)
	if age <= timeout {
		return
	}

	w.mu.Lock()
	if !w.actionedAt.IsZero() {
		w.mu.Unlock()
		return
	}
	w.actionedAt = now
	w.mu.Unlock()

	w.logger.Warn("device silent past timeout, taking action",
		"age", age, "timeout", timeout, "action", w.cfg.Action)
	metrics.IncrCounterWithLabels([]string{"watchdog", "action"}, 1,
		[]metrics.Label{{Name: "device", Value: w.dev.Host}, {Name: "action", Value: string(w.cfg.Action)}})

	switch w.cfg.Action {
	case device.ActionRestart:
		w.enqueue(scheduler.Command{Op: scheduler.OpReset})
	case device.ActionFallbackScene:
		w.enqueue(scheduler.Command{Op: scheduler.OpSwitch, Scene: w.cfg.FallbackScene, Clear: true})
	case device.ActionMQTTCommand:
		for _, c := range w.cfg.MQTTCommandSequence {
			if err := w.conn.Publish(c.Topic, 0, false, []byte(c.Payload)); err != nil {
				w.logger.Error("recovery publish failed", "topic", c.Topic, "error", err)
			}
		}
	case device.ActionNotify:
		// Log only; the warning above is the notification.
	}
}

func (w *Watchdog) enqueue(cmd scheduler.Command) {
	if err := w.sched.Enqueue(cmd); err != nil {
		w.logger.Error("failed to enqueue recovery command", "op", cmd.Op, "error", err)
	}
}
