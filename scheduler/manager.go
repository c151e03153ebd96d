package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/event"
	"github.com/pixelfleet/pixeld/scene"
	"github.com/pixelfleet/pixeld/state"
)

// shutdownBudget bounds the total graceful shutdown of all actors.
const shutdownBudget = 5 * time.Second

// Manager owns one DeviceScheduler per registered device. It is the
// device.Swapper for driver hot-swaps and the fan-in point for graceful
// shutdown. Schedulers for different devices share nothing but the state
// store and the broker; commands to one never touch another.
type Manager struct {
	logger hclog.Logger
	store  *state.Store
	broker *event.Broker
	scenes *scene.Registry
	ctx    context.Context

	mu     sync.RWMutex
	scheds map[string]*DeviceScheduler
}

func NewManager(ctx context.Context, store *state.Store, broker *event.Broker,
	scenes *scene.Registry, logger hclog.Logger) *Manager {

	return &Manager{
		logger: logger,
		store:  store,
		broker: broker,
		scenes: scenes,
		ctx:    ctx,
		scheds: make(map[string]*DeviceScheduler),
	}
}

// Attach creates and starts the actor for a device.
func (m *Manager) Attach(dev *device.Device) *DeviceScheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.scheds[dev.Host]; ok {
		return s
	}
	s := newDeviceScheduler(m.ctx, dev, m.store, m.broker, m.scenes, m.logger)
	m.scheds[dev.Host] = s
	return s
}

// Get resolves a host to its scheduler.
func (m *Manager) Get(host string) (*DeviceScheduler, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scheds[host]
	if !ok {
		return nil, fmt.Errorf("no scheduler for device %q", host)
	}
	return s, nil
}

// SwapDriver implements device.Swapper: the swap is enqueued like any
// other command so it serializes with the device's mailbox.
func (m *Manager) SwapDriver(host string, newDriver drivers.Driver) error {
	s, err := m.Get(host)
	if err != nil {
		return err
	}
	return s.Enqueue(Command{Op: OpSwapDriver, NewDriver: newDriver})
}

// SetLogLevel adjusts one device scheduler's logger at runtime.
func (m *Manager) SetLogLevel(host string, lvl hclog.Level) error {
	s, err := m.Get(host)
	if err != nil {
		return err
	}
	s.SetLogLevel(lvl)
	return nil
}

// Hosts returns the attached device hosts.
func (m *Manager) Hosts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.scheds))
	for h := range m.scheds {
		out = append(out, h)
	}
	return out
}

// Shutdown sends Shutdown to every actor and waits out the budget.
// Actors that miss the budget are abandoned; the process is exiting
// anyway.
func (m *Manager) Shutdown() error {
	m.mu.RLock()
	scheds := make([]*DeviceScheduler, 0, len(m.scheds))
	for _, s := range m.scheds {
		scheds = append(scheds, s)
	}
	m.mu.RUnlock()

	var mErr *multierror.Error
	for _, s := range scheds {
		if err := s.Enqueue(Command{Op: OpShutdown}); err != nil {
			// Mailbox full or already closed: force the context path.
			s.cancel()
		}
	}

	deadline := time.After(shutdownBudget)
	for _, s := range scheds {
		select {
		case <-s.WaitShutdown():
		case <-deadline:
			mErr = multierror.Append(mErr, fmt.Errorf("scheduler for %q missed shutdown budget", s.dev.Host))
		}
	}
	return mErr.ErrorOrNil()
}
