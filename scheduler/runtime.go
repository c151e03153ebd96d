package scheduler

import (
	"time"
)

// Status is the scheduler's internal transition label.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSwitching Status = "switching"
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
)

// PlayState is the externally visible lifecycle of a scene on a device.
type PlayState string

const (
	PlayPlaying  PlayState = "playing"
	PlayPaused   PlayState = "paused"
	PlayStopped  PlayState = "stopped"
	PlayComplete PlayState = "complete"
)

// RuntimeState is a point-in-time copy of a device's scheduler state, as
// exposed to the control plane. The scheduler is the only writer.
type RuntimeState struct {
	ActiveScene string    `json:"activeScene"`
	TargetScene string    `json:"targetScene"`
	Generation  uint64    `json:"generationId"`
	Status      Status    `json:"status"`
	PlayState   PlayState `json:"playState"`
	LastSwitch  time.Time `json:"lastSwitchTs"`
	DisplayOn   bool      `json:"displayOn"`
	Brightness  int       `json:"brightness"`
	LastError   string    `json:"lastError,omitempty"`
}
