package scheduler

import (
	"context"
	"time"

	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/scene"
)

// armLoop starts the render loop goroutine for generation gen. Exactly one
// loop is armed per device: arming happens only from the actor goroutine,
// and every arm site first bumped the generation, which forces any older
// loop to exit at its next staleness check. once restricts static scenes
// to a single tick.
func (s *DeviceScheduler) armLoop(gen uint64, sc *scene.Scene, payload map[string]any, once bool) {
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})

	s.mu.Lock()
	if s.rt.Generation != gen {
		// A newer command already superseded this arm.
		s.mu.Unlock()
		cancel()
		close(done)
		return
	}
	s.loopCancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	go s.runLoop(ctx, gen, sc, payload, once, done)
}

// runLoop executes ticks until the scene completes, the generation moves
// on, or the context is cancelled. A tick is valid iff the generation
// observed at its start still matches when it completes; stale ticks are
// discarded and counted as skipped.
func (s *DeviceScheduler) runLoop(ctx context.Context, gen uint64, sc *scene.Scene,
	payload map[string]any, once bool, done chan struct{}) {

	defer close(done)

	for {
		if ctx.Err() != nil || s.Generation() != gen {
			return
		}

		// Park while paused; the gate closes on Resume.
		s.mu.Lock()
		gate := s.resumeGate
		s.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
		}

		t0 := time.Now()
		drv := s.dev.Driver()
		rctx := s.sceneContext(ctx, sc.Name, gen, payload)

		next, err := sc.Render(rctx)
		renderTime := time.Since(t0)

		// Staleness check: a command moved the device on while we were
		// rendering. Drop everything this tick produced.
		if s.Generation() != gen || ctx.Err() != nil {
			drv.MarkSkipped()
			return
		}

		if err != nil {
			s.logger.Error("scene render failed", "scene", sc.Name, "error", err)
			s.noteError("scene-render", sc.Name, err)
			s.noteRenderFailure(gen)
			if once {
				return
			}
			// Keep looping; retry at the scene's floor cadence.
			if !s.sleepTick(ctx, gen, t0, s.minDelay()) {
				return
			}
			continue
		}

		// Commit the frame. Push failures are transport errors: the
		// driver counted them, the watchdog owns recovery, the loop
		// keeps its cadence.
		if _, perr := drv.Push(ctx); perr != nil {
			s.logger.Warn("frame push failed", "scene", sc.Name, "error", perr)
			drv.MarkSkipped()
			s.noteRenderFailure(gen)
		} else if s.Generation() == gen {
			rctx.AdvanceFrame()
			s.recordFrame(sc.Name, gen, renderTime)
		} else {
			drv.MarkSkipped()
			return
		}

		if next == nil {
			// Scene finished on its own terms.
			s.mu.Lock()
			if s.rt.Generation == gen {
				s.rt.PlayState = PlayComplete
				s.rt.Status = StatusIdle
				s.mu.Unlock()
				s.publishState()
			} else {
				s.mu.Unlock()
			}
			return
		}
		if once {
			return
		}

		delay := s.clampDelay(*next)
		if sc.AdaptiveTiming {
			// Avoid overruns on slow transports: never schedule
			// tighter than 105% of the measured render time.
			adaptive := renderTime + renderTime/20
			if adaptive > delay {
				delay = adaptive
			}
		}
		if !s.sleepTick(ctx, gen, t0, delay) {
			return
		}
	}
}

// sleepTick sleeps until t0+delay, returning false when the loop should
// exit instead of ticking again.
func (s *DeviceScheduler) sleepTick(ctx context.Context, gen uint64, t0 time.Time, delay time.Duration) bool {
	remaining := time.Until(t0.Add(delay))
	if remaining <= 0 {
		return s.Generation() == gen && ctx.Err() == nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return s.Generation() == gen && ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}

func (s *DeviceScheduler) minDelay() time.Duration {
	min := s.dev.Capabilities().MinFrameInterval()
	if min < minTickDelay {
		min = minTickDelay
	}
	return min
}

func (s *DeviceScheduler) clampDelay(d time.Duration) time.Duration {
	if min := s.minDelay(); d < min {
		return min
	}
	if d > maxTickDelay {
		return maxTickDelay
	}
	return d
}

// recordFrame augments driver metrics with scene-level counters in the
// state store and emits the per-frame observability tick.
func (s *DeviceScheduler) recordFrame(sceneName string, gen uint64, renderTime time.Duration) {
	m := s.dev.Metrics()
	ms := renderTime.Milliseconds()

	base := "frametime"
	s.store.Update(s.devicePath(base+".emaMs"), func(cur any) any { //nolint:errcheck
		prev, ok := cur.(float64)
		if !ok {
			return float64(ms)
		}
		// EMA with alpha 0.2.
		return prev*0.8 + float64(ms)*0.2
	})
	s.store.Update(s.devicePath(base+".minMs"), func(cur any) any { //nolint:errcheck
		if prev, ok := cur.(int64); ok && prev < ms {
			return prev
		}
		return ms
	})
	s.store.Update(s.devicePath(base+".maxMs"), func(cur any) any { //nolint:errcheck
		if prev, ok := cur.(int64); ok && prev > ms {
			return prev
		}
		return ms
	})

	s.broker.Publish(event.Event{
		Type: event.TypeMetrics,
		Host: s.dev.Host,
		Metrics: &event.MetricsEvent{
			Host:        s.dev.Host,
			SceneName:   sceneName,
			FrametimeMs: m.LastFrameTime.Milliseconds(),
			Pushes:      m.Pushes,
			Errors:      m.Errors,
			LastSeen:    m.LastSeen,
			Generation:  gen,
		},
	})
}
