// Package scheduler implements the per-device scene scheduler and state
// machine. Each device gets exactly one actor goroutine with a bounded
// command mailbox; a monotonically increasing generation counter
// discriminates stale render ticks from fresh ones after any
// state-altering command, so switching scenes at any moment produces no
// zombie frames.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/state"
	"github.com/pixelfleet/pixeld/version"
)

const (
	// mailboxDepth bounds the per-device command queue. Full mailboxes
	// reject commands with ErrMailboxFull rather than dropping them.
	mailboxDepth = 64

	// hookTimeout bounds scene Init and Cleanup calls. Expired hooks
	// are abandoned, counted and the next command proceeds.
	hookTimeout = 5 * time.Second

	// maxTickDelay is the safety cap on a scene's requested delay.
	maxTickDelay = 60 * time.Second

	// minTickDelay is the floor when the device imposes no MaxFPS.
	minTickDelay = 10 * time.Millisecond

	// housekeepInterval drives schedule-window gating and scene
	// timeout enforcement.
	housekeepInterval = time.Minute
)

// DeviceScheduler is the single actor owning one device's render loop,
// generation counter and status transitions.
type DeviceScheduler struct {
	logger hclog.Logger
	dev    *device.Device
	store  *state.Store
	broker *event.Broker
	scenes *scene.Registry

	mailbox chan Command
	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}

	// gen mirrors rt.Generation for lock-free staleness checks from
	// loop goroutines.
	gen atomic.Uint64

	// mu is the per-device runtime lock. Held briefly; never during a
	// render or push.
	mu          sync.Mutex
	rt          RuntimeState
	lastPayload map[string]any
	// scheduleActive marks the running scene as started by window
	// gating, so leaving the window may stop it.
	scheduleActive bool
	// resumeGate is nil while playing; paused loops park on it until
	// Resume closes it.
	resumeGate chan struct{}
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// failures is the sliding window of recent render/push errors
	// driving the fallback policy.
	failures []time.Time

	baseLabels []metrics.Label
}

func newDeviceScheduler(parent context.Context, dev *device.Device, store *state.Store,
	broker *event.Broker, scenes *scene.Registry, logger hclog.Logger) *DeviceScheduler {

	ctx, cancel := context.WithCancel(parent)
	s := &DeviceScheduler{
		logger:  logger.Named("scheduler").With("device", dev.Host),
		dev:     dev,
		store:   store,
		broker:  broker,
		scenes:  scenes,
		mailbox: make(chan Command, mailboxDepth),
		ctx:     ctx,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
		baseLabels: []metrics.Label{
			{Name: "device", Value: dev.Host},
			{Name: "device_type", Value: dev.Type},
		},
	}
	s.rt.Status = StatusIdle
	s.rt.PlayState = PlayStopped
	s.rt.DisplayOn = true
	s.rt.Brightness = 100

	// Rehydrate the persisted subset if the store was restored before
	// the fleet came up.
	s.rt.Brightness = store.GetInt(s.devicePath("brightness"), s.rt.Brightness)
	s.rt.DisplayOn = store.GetBool(s.devicePath("displayOn"), s.rt.DisplayOn)

	go s.run()
	return s
}

// Enqueue submits a command. It never blocks: a full mailbox returns
// ErrMailboxFull and a stopped actor returns ErrSchedulerClosed.
func (s *DeviceScheduler) Enqueue(cmd Command) error {
	select {
	case <-s.ctx.Done():
		return ErrSchedulerClosed
	default:
	}
	select {
	case s.mailbox <- cmd:
		return nil
	default:
		metrics.IncrCounterWithLabels([]string{"scheduler", "mailbox_full"}, 1, s.baseLabels)
		return ErrMailboxFull
	}
}

// Runtime returns a copy of the current runtime state.
func (s *DeviceScheduler) Runtime() RuntimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt
}

// Generation is read by loop goroutines to detect staleness.
func (s *DeviceScheduler) Generation() uint64 {
	return s.gen.Load()
}

// WaitShutdown blocks until the actor has exited.
func (s *DeviceScheduler) WaitShutdown() <-chan struct{} {
	return s.doneCh
}

// SetLogLevel adjusts this device's scheduler logging at runtime. Level
// isolation between devices requires a root logger created with
// independent sublogger levels; otherwise the change is process-wide.
func (s *DeviceScheduler) SetLogLevel(lvl hclog.Level) {
	s.logger.SetLevel(lvl)
}

// LogLevel reports the scheduler logger's current level.
func (s *DeviceScheduler) LogLevel() hclog.Level {
	return s.logger.GetLevel()
}

// run is the actor goroutine. Commands are handled one at a time in FIFO
// order; housekeeping drives schedule gating and timeout enforcement.
func (s *DeviceScheduler) run() {
	defer close(s.doneCh)

	housekeeper := time.NewTicker(housekeepInterval)
	defer housekeeper.Stop()

	for {
		select {
		case cmd := <-s.mailbox:
			s.handle(cmd)
			if cmd.Op == OpShutdown {
				return
			}
		case <-housekeeper.C:
			s.housekeep(time.Now())
		case <-s.ctx.Done():
			s.handleShutdown()
			return
		}
	}
}

func (s *DeviceScheduler) handle(cmd Command) {
	defer metrics.MeasureSinceWithLabels([]string{"scheduler", "command"}, time.Now(), s.baseLabels)

	switch cmd.Op {
	case OpSwitch:
		if err := s.handleSwitch(cmd.Scene, cmd.Payload, cmd.Clear, cmd.scheduled); err != nil {
			s.logger.Error("scene switch failed", "scene", cmd.Scene, "error", err)
		}
	case OpPause:
		s.handlePause()
	case OpResume:
		s.handleResume()
	case OpStop:
		s.handleStop(cmd.scheduled)
	case OpRestart:
		s.handleRestart()
	case OpSetBrightness:
		s.handleSetBrightness(cmd.Brightness)
	case OpSetPower:
		s.handleSetPower(cmd.On)
	case OpReset:
		s.handleReset()
	case OpSwapDriver:
		s.handleSwapDriver(cmd.NewDriver)
	case OpShutdown:
		s.handleShutdown()
	default:
		s.logger.Warn("unknown scheduler op", "op", cmd.Op)
	}
}

// bumpGeneration advances the monotonic counter and cancels any armed
// loop. The in-flight render, if any, completes but its result is dropped
// by the staleness check. Callers hold mu.
func (s *DeviceScheduler) bumpGenerationLocked() {
	s.rt.Generation++
	s.gen.Store(s.rt.Generation)
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
}

func (s *DeviceScheduler) handleSwitch(name string, payload map[string]any, clear, scheduled bool) error {
	sc, err := s.scenes.Get(name)
	if err != nil {
		s.noteError("router", name, err)
		return err
	}
	caps := s.dev.Capabilities()
	if !sc.CompatibleWith(s.dev.Type, caps) {
		err := fmt.Errorf("scene %q is not compatible with device %q (%s)", name, s.dev.Host, s.dev.Type)
		s.noteError("scheduler", name, err)
		return err
	}

	s.mu.Lock()
	oldScene := s.rt.ActiveScene
	oldPayload := s.lastPayload
	s.rt.Status = StatusSwitching
	s.rt.TargetScene = name
	s.bumpGenerationLocked()
	gen := s.rt.Generation
	s.mu.Unlock()
	s.publishState()

	// Best-effort cleanup of the outgoing scene inside a bounded
	// timeout; errors never block the switch. A restart cleans up its
	// own previous incarnation.
	if oldScene != "" {
		s.cleanupScene(oldScene, oldPayload, gen)
	}

	drv := s.dev.Driver()
	if clear {
		drv.Clear()
	}

	if sc.Init != nil {
		ictx := s.sceneContext(s.ctx, sc.Name, gen, payload)
		if err := s.runHook("init", sc.Name, func() error { return sc.Init(ictx) }); err != nil {
			// Abort: the previous scene's frame stays on the glass,
			// but nothing is running anymore.
			s.mu.Lock()
			s.rt.Status = StatusIdle
			s.rt.TargetScene = ""
			s.rt.PlayState = PlayStopped
			s.mu.Unlock()
			s.noteError("scene-init", sc.Name, err)
			s.publishState()
			return err
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.rt.ActiveScene = name
	s.rt.Status = StatusRunning
	s.rt.PlayState = PlayPlaying
	s.rt.LastSwitch = now
	s.lastPayload = payload
	s.scheduleActive = scheduled
	s.resumeGate = nil
	s.failures = nil
	s.mu.Unlock()

	mctx := s.sceneContext(s.ctx, sc.Name, gen, payload)
	mctx.MarkStarted(now)

	s.publishState()
	s.armLoop(gen, sc, payload, !sc.WantsLoop)
	return nil
}

func (s *DeviceScheduler) handlePause() {
	s.mu.Lock()
	if s.rt.Status != StatusRunning || s.rt.PlayState != PlayPlaying {
		s.mu.Unlock()
		return
	}
	s.rt.PlayState = PlayPaused
	s.resumeGate = make(chan struct{})
	s.mu.Unlock()
	s.publishState()
}

func (s *DeviceScheduler) handleResume() {
	s.mu.Lock()
	if s.rt.PlayState != PlayPaused {
		s.mu.Unlock()
		return
	}
	s.rt.PlayState = PlayPlaying
	if s.resumeGate != nil {
		close(s.resumeGate)
		s.resumeGate = nil
	}
	s.mu.Unlock()
	s.publishState()
}

func (s *DeviceScheduler) handleStop(scheduled bool) {
	s.mu.Lock()
	if scheduled && !s.scheduleActive {
		// A user command superseded the gated scene; leave it alone.
		s.mu.Unlock()
		return
	}
	oldScene := s.rt.ActiveScene
	oldPayload := s.lastPayload
	s.rt.Status = StatusStopping
	s.bumpGenerationLocked()
	gen := s.rt.Generation
	s.mu.Unlock()
	s.publishState()

	if oldScene != "" {
		s.cleanupScene(oldScene, oldPayload, gen)
	}

	// Blank the glass; transport failures are counted by the driver
	// and recovery belongs to the watchdog.
	drv := s.dev.Driver()
	drv.Clear()
	if _, err := drv.Push(s.ctx); err != nil {
		s.logger.Debug("clear push failed during stop", "error", err)
	}

	s.mu.Lock()
	s.rt.ActiveScene = ""
	s.rt.TargetScene = ""
	s.rt.Status = StatusIdle
	s.rt.PlayState = PlayStopped
	s.scheduleActive = false
	s.resumeGate = nil
	s.mu.Unlock()
	s.publishState()
}

func (s *DeviceScheduler) handleRestart() {
	s.mu.Lock()
	name := s.rt.ActiveScene
	payload := s.lastPayload
	s.mu.Unlock()
	if name == "" {
		s.logger.Debug("restart ignored, no active scene")
		return
	}
	if err := s.handleSwitch(name, payload, true, false); err != nil {
		s.logger.Error("restart failed", "scene", name, "error", err)
	}
}

func (s *DeviceScheduler) handleSetBrightness(pct int) {
	if pct < 0 || pct > 100 {
		s.noteError("scheduler", "", fmt.Errorf("brightness %d out of range", pct))
		return
	}
	drv := s.dev.Driver()
	if !drv.Capabilities().Has(drivers.CapBrightness) {
		s.logger.Debug("brightness not supported on this device")
		return
	}
	if err := drv.SetBrightness(s.ctx, pct); err != nil {
		s.noteError("driver", "", err)
		return
	}
	s.mu.Lock()
	s.rt.Brightness = pct
	s.mu.Unlock()
	s.mirrorRuntime()
}

func (s *DeviceScheduler) handleSetPower(on bool) {
	drv := s.dev.Driver()
	if err := drv.SetDisplayPower(s.ctx, on); err != nil && !drivers.IsNotSupported(err) {
		s.noteError("driver", "", err)
		return
	}
	s.mu.Lock()
	s.rt.DisplayOn = on
	s.mu.Unlock()
	s.mirrorRuntime()
}

// handleReset bounces the driver and reinstates the active scene under a
// single generation advance.
func (s *DeviceScheduler) handleReset() {
	s.mu.Lock()
	s.rt.Status = StatusSwitching
	s.bumpGenerationLocked()
	s.mu.Unlock()
	s.publishState()

	drv := s.dev.Driver()
	ctx, cancel := context.WithTimeout(s.ctx, hookTimeout)
	drv.Shutdown(ctx) //nolint:errcheck
	if err := drv.Initialize(ctx); err != nil {
		s.logger.Warn("driver reinitialize failed during reset", "error", err)
	}
	cancel()

	s.rearm(true)
}

// handleSwapDriver installs newDrv, transferring ownership atomically.
// Runtime state survives; the generation advances exactly once.
func (s *DeviceScheduler) handleSwapDriver(newDrv drivers.Driver) {
	if newDrv == nil {
		return
	}
	s.mu.Lock()
	s.rt.Status = StatusSwitching
	s.bumpGenerationLocked()
	s.mu.Unlock()
	s.publishState()

	old := s.dev.SetDriver(newDrv)
	ctx, cancel := context.WithTimeout(s.ctx, hookTimeout)
	if old != nil {
		old.Shutdown(ctx) //nolint:errcheck
	}
	if err := newDrv.Initialize(ctx); err != nil {
		s.logger.Warn("new driver unreachable during swap, installing anyway", "error", err)
	}
	cancel()
	s.logger.Info("driver hot-swapped", "kind", newDrv.Kind(), "driver", newDrv.Name())

	s.rearm(true)
}

// rearm re-initializes and re-arms the active scene at the current
// generation. Callers already bumped the generation and cancelled the old
// loop.
func (s *DeviceScheduler) rearm(clear bool) {
	s.mu.Lock()
	name := s.rt.ActiveScene
	payload := s.lastPayload
	gen := s.rt.Generation
	s.mu.Unlock()

	if name == "" {
		s.mu.Lock()
		s.rt.Status = StatusIdle
		s.mu.Unlock()
		s.publishState()
		return
	}

	sc, err := s.scenes.Get(name)
	if err != nil {
		s.mu.Lock()
		s.rt.Status = StatusIdle
		s.mu.Unlock()
		s.noteError("scheduler", name, err)
		s.publishState()
		return
	}

	if clear {
		s.dev.Driver().Clear()
	}
	if sc.Init != nil {
		ictx := s.sceneContext(s.ctx, sc.Name, gen, payload)
		if err := s.runHook("init", sc.Name, func() error { return sc.Init(ictx) }); err != nil {
			s.mu.Lock()
			s.rt.Status = StatusIdle
			s.rt.PlayState = PlayStopped
			s.mu.Unlock()
			s.noteError("scene-init", sc.Name, err)
			s.publishState()
			return
		}
	}

	s.mu.Lock()
	s.rt.Status = StatusRunning
	if s.rt.PlayState != PlayPaused {
		s.rt.PlayState = PlayPlaying
	}
	s.mu.Unlock()
	s.publishState()
	s.armLoop(gen, sc, payload, !sc.WantsLoop)
}

func (s *DeviceScheduler) handleShutdown() {
	s.mu.Lock()
	name := s.rt.ActiveScene
	payload := s.lastPayload
	s.rt.Status = StatusStopping
	s.bumpGenerationLocked()
	gen := s.rt.Generation
	s.mu.Unlock()

	if name != "" {
		s.cleanupScene(name, payload, gen)
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	s.dev.Driver().Shutdown(ctx) //nolint:errcheck
	cancel()

	s.mu.Lock()
	s.rt.Status = StatusIdle
	s.rt.PlayState = PlayStopped
	s.mu.Unlock()
	s.publishState()
	s.cancel()
}

// cleanupScene runs the scene's Cleanup hook best-effort. Errors are
// swallowed after logging; Cleanup is idempotent by contract.
func (s *DeviceScheduler) cleanupScene(name string, payload map[string]any, gen uint64) {
	sc, err := s.scenes.Get(name)
	if err != nil || sc.Cleanup == nil {
		return
	}
	cctx := s.sceneContext(s.ctx, name, gen, payload)
	if err := s.runHook("cleanup", name, func() error { return sc.Cleanup(cctx) }); err != nil {
		s.logger.Warn("scene cleanup failed", "scene", name, "error", err)
	}
}

// runHook executes fn inside the hook timeout. Expired hooks are
// abandoned; their goroutine finishes in the background.
func (s *DeviceScheduler) runHook(kind, sceneName string, fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(hookTimeout):
		metrics.IncrCounterWithLabels([]string{"scheduler", "hook_timeout"}, 1, s.baseLabels)
		return fmt.Errorf("scene %s %q timed out after %s", kind, sceneName, hookTimeout)
	}
}

// housekeep enforces schedule windows and scene timeouts. Runs inside the
// actor, so it sees a quiesced mailbox slot.
func (s *DeviceScheduler) housekeep(now time.Time) {
	s.mu.Lock()
	active := s.rt.ActiveScene
	status := s.rt.Status
	lastSwitch := s.rt.LastSwitch
	gateActive := s.scheduleActive
	s.mu.Unlock()

	// Scene timeout budget.
	if active != "" && status == StatusRunning {
		if sc, err := s.scenes.Get(active); err == nil && sc.TimeoutMinutes > 0 {
			budget := time.Duration(sc.TimeoutMinutes) * time.Minute
			if now.Sub(lastSwitch) > budget {
				s.logger.Info("scene timeout reached, stopping", "scene", active, "budget", budget)
				s.handleStop(false)
				return
			}
		}
	}

	// Window gating. The gate only displaces idle devices or scenes it
	// started itself; explicit user commands supersede it.
	caps := s.dev.Capabilities()
	var inWindow *scene.Scene
	for _, sc := range s.scenes.Scheduled() {
		if !sc.CompatibleWith(s.dev.Type, caps) {
			continue
		}
		if sc.Schedule.InWindow(now) {
			inWindow = sc
			break
		}
	}

	switch {
	case inWindow != nil && active != inWindow.Name && (status == StatusIdle || gateActive):
		s.logger.Debug("schedule window opened", "scene", inWindow.Name)
		if err := s.handleSwitch(inWindow.Name, nil, true, true); err != nil {
			s.logger.Error("scheduled switch failed", "scene", inWindow.Name, "error", err)
		}
	case inWindow == nil && gateActive:
		s.logger.Debug("schedule window closed", "scene", active)
		s.handleStop(true)
	}
}

// noteRenderFailure records a failure into the sliding window and, past
// the policy threshold, falls back or stops. Called from loop goroutines;
// the fallback command goes through the mailbox like any other.
func (s *DeviceScheduler) noteRenderFailure(gen uint64) {
	pol := s.dev.Config().Failures
	now := time.Now()

	s.mu.Lock()
	if s.rt.Generation != gen {
		s.mu.Unlock()
		return
	}
	cutoff := now.Add(-pol.Window())
	kept := s.failures[:0]
	for _, t := range s.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.failures = append(kept, now)
	over := len(s.failures) >= pol.Limit()
	if over {
		s.failures = nil
	}
	s.mu.Unlock()

	if !over {
		return
	}

	fallback := ""
	if pol != nil {
		fallback = pol.FallbackScene
	}
	var cmd Command
	if fallback != "" {
		s.logger.Warn("render failure threshold reached, switching to fallback", "fallback", fallback)
		cmd = Command{Op: OpSwitch, Scene: fallback, Clear: true}
	} else {
		s.logger.Warn("render failure threshold reached, stopping")
		cmd = Command{Op: OpStop}
	}
	if err := s.Enqueue(cmd); err != nil {
		s.logger.Error("failed to enqueue failure fallback", "error", err)
	}
}

func (s *DeviceScheduler) sceneContext(ctx context.Context, sceneName string, gen uint64, payload map[string]any) *scene.Context {
	return scene.NewContext(ctx, s.store, s.dev.Driver(), s.logger.Named("scene").With("scene", sceneName),
		s.dev.Host, s.dev.Type, sceneName, gen, payload)
}

func (s *DeviceScheduler) devicePath(key string) string {
	return fmt.Sprintf("%s.%s.%s", state.NamespaceDevice, s.dev.Host, key)
}

// mirrorRuntime writes the externally visible runtime fields into the
// state store. Store observers (persistence, WebSocket) hang off these
// paths.
func (s *DeviceScheduler) mirrorRuntime() {
	rt := s.Runtime()
	for key, val := range map[string]any{
		"activeScene":  rt.ActiveScene,
		"targetScene":  rt.TargetScene,
		"status":       string(rt.Status),
		"playState":    string(rt.PlayState),
		"generationId": rt.Generation,
		"brightness":   rt.Brightness,
		"displayOn":    rt.DisplayOn,
		"lastSwitchTs": rt.LastSwitch.UnixMilli(),
	} {
		if err := s.store.Set(s.devicePath(key), val); err != nil {
			s.logger.Error("state mirror failed", "key", key, "error", err)
		}
	}
}

// publishState emits a state transition record and mirrors it into the
// store. Observers see every generation value, in order, without gaps.
func (s *DeviceScheduler) publishState() {
	rt := s.Runtime()
	s.mirrorRuntime()

	info := version.GetVersion()
	s.broker.Publish(event.Event{
		Type: event.TypeState,
		Host: s.dev.Host,
		State: &event.StateEvent{
			Host:         s.dev.Host,
			DeviceType:   s.dev.Type,
			ActiveScene:  rt.ActiveScene,
			TargetScene:  rt.TargetScene,
			Generation:   rt.Generation,
			Status:       string(rt.Status),
			PlayState:    string(rt.PlayState),
			TS:           time.Now(),
			BuildNumber:  info.BuildNumber,
			GitCommit:    info.Revision,
			Version:      info.Version,
			Capabilities: s.dev.Capabilities(),
		},
	})
}

// noteError records a structured failure on the state store and the
// observability channel.
func (s *DeviceScheduler) noteError(source, sceneName string, err error) {
	s.mu.Lock()
	s.rt.LastError = err.Error()
	gen := s.rt.Generation
	s.mu.Unlock()

	if serr := s.store.Set(s.devicePath("lastError"), err.Error()); serr != nil {
		s.logger.Error("state write failed", "error", serr)
	}
	s.broker.Publish(event.Event{
		Type: event.TypeError,
		Host: s.dev.Host,
		Error: &event.ErrorEvent{
			Source:     source,
			Host:       s.dev.Host,
			Scene:      sceneName,
			Generation: gen,
			Cause:      err.Error(),
		},
	})
}
