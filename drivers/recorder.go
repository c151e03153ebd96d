package drivers

import (
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics"
)

// Recorder is the frame accounting shared by driver implementations. The
// scheduler's render loop and the watchdog's health checks touch it from
// different goroutines, so it carries its own lock.
type Recorder struct {
	mu sync.Mutex
	m  Metrics

	baseLabels []metrics.Label
}

func NewRecorder(host, driverName string) *Recorder {
	return &Recorder{
		baseLabels: []metrics.Label{
			{Name: "device", Value: host},
			{Name: "driver", Value: driverName},
		},
	}
}

// RecordPush notes a successful frame commit and advances lastSeen.
func (r *Recorder) RecordPush(frametime time.Duration) {
	r.mu.Lock()
	r.m.Pushes++
	r.m.LastFrameTime = frametime
	r.m.LastSeen = time.Now()
	r.mu.Unlock()

	metrics.IncrCounterWithLabels([]string{"driver", "push"}, 1, r.baseLabels)
	metrics.AddSampleWithLabels([]string{"driver", "frametime_ms"},
		float32(frametime.Milliseconds()), r.baseLabels)
}

// RecordError counts a failed transport or render-side operation.
func (r *Recorder) RecordError() {
	r.mu.Lock()
	r.m.Errors++
	r.mu.Unlock()

	metrics.IncrCounterWithLabels([]string{"driver", "error"}, 1, r.baseLabels)
}

// RecordSkip counts a dropped frame (stale tick or failed push).
func (r *Recorder) RecordSkip() {
	r.mu.Lock()
	r.m.Skipped++
	r.mu.Unlock()

	metrics.IncrCounterWithLabels([]string{"driver", "skipped"}, 1, r.baseLabels)
}

// Touch advances lastSeen without counting a push; used by health checks.
func (r *Recorder) Touch() {
	r.mu.Lock()
	r.m.LastSeen = time.Now()
	r.mu.Unlock()
}

// SetLastSeen overrides lastSeen; used by tests simulating device age.
func (r *Recorder) SetLastSeen(t time.Time) {
	r.mu.Lock()
	r.m.LastSeen = t
	r.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (r *Recorder) Snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}
