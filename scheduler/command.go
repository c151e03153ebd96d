package scheduler

import (
	"errors"

	"github.com/pixelfleet/pixeld/drivers"
)

// Op is a scheduler mailbox operation.
type Op string

const (
	OpSwitch        Op = "switch"
	OpPause         Op = "pause"
	OpResume        Op = "resume"
	OpStop          Op = "stop"
	OpRestart       Op = "restart"
	OpSetBrightness Op = "set-brightness"
	OpSetPower      Op = "set-power"
	OpReset         Op = "reset"
	OpSwapDriver    Op = "swap-driver"
	OpShutdown      Op = "shutdown"
)

// Command is one typed mailbox entry. Commands are processed strictly in
// FIFO order per device.
type Command struct {
	Op Op

	// Switch / Restart
	Scene   string
	Payload map[string]any
	Clear   bool

	// SetBrightness
	Brightness int

	// SetPower
	On bool

	// SwapDriver carries the freshly built replacement.
	NewDriver drivers.Driver

	// scheduled marks commands issued by schedule gating, so leaving a
	// window only stops what the gate started.
	scheduled bool
}

// ErrMailboxFull is a transient error: the device's command mailbox is at
// capacity. Callers surface it and may retry; commands are never silently
// dropped.
var ErrMailboxFull = errors.New("device command mailbox full")

// ErrSchedulerClosed is returned after the actor has shut down.
var ErrSchedulerClosed = errors.New("device scheduler is shut down")
