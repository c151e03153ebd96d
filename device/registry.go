package device

import (
	"context"
	"fmt"
	"sort"
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/drivers/awtrixmqtt"
	"github.com/pixelfleet/pixeld/drivers/mock"
	"github.com/pixelfleet/pixeld/drivers/pixoohttp"
	"github.com/pixelfleet/pixeld/mqttx"
)

// Swapper hands a freshly built driver to the device's scheduler actor,
// which performs the actual hot-swap under its own serialization. Wired by
// the composition root to avoid a registry/scheduler dependency loop.
type Swapper interface {
	SwapDriver(host string, newDriver drivers.Driver) error
}

// Registry holds the configured device fleet.
type Registry struct {
	logger hclog.Logger
	conn   mqttx.Conn

	mu      sync.RWMutex
	devices map[string]*Device
	swapper Swapper
}

func NewRegistry(conn mqttx.Conn, logger hclog.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("registry"),
		conn:    conn,
		devices: make(map[string]*Device),
	}
}

// SetSwapper wires the scheduler manager after construction.
func (r *Registry) SetSwapper(s Swapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapper = s
}

// Add validates cfg, builds its initial driver and registers the device.
// An unreachable device is still registered: Initialize failures are
// logged and counted, and the scheduler may retry via Push.
func (r *Registry) Add(ctx context.Context, cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	drv, err := r.buildDriver(cfg, cfg.Driver)
	if err != nil {
		return nil, err
	}
	if err := drv.Initialize(ctx); err != nil {
		r.logger.Warn("device unreachable during initialize, registering anyway",
			"device", cfg.Host, "error", err)
	}

	dev := newDevice(cfg, drv)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[cfg.Host]; exists {
		return nil, fmt.Errorf("device %q already registered", cfg.Host)
	}
	r.devices[cfg.Host] = dev
	return dev, nil
}

// Get resolves a host to its device.
func (r *Registry) Get(host string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.devices[host]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", host)
	}
	return dev, nil
}

// List returns all devices sorted by host.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// SetDriver hot-swaps the device onto a driver of the given kind. The
// swap itself runs inside the device's scheduler actor so it serializes
// with commands: the loop is cancelled, the old driver shut down, the new
// one installed and the active scene re-armed. Runtime state survives and
// the generation advances exactly once.
func (r *Registry) SetDriver(host string, kind drivers.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown driver kind %q", kind)
	}
	dev, err := r.Get(host)
	if err != nil {
		return err
	}

	r.mu.RLock()
	swapper := r.swapper
	r.mu.RUnlock()
	if swapper == nil {
		return fmt.Errorf("driver swap unavailable: no scheduler attached")
	}

	newDrv, err := r.buildDriver(dev.Config(), kind)
	if err != nil {
		return err
	}
	return swapper.SwapDriver(host, newDrv)
}

// CapabilitiesForType reports the canonical capability set for a device
// type, usable before any driver has been built.
func CapabilitiesForType(t string) (*drivers.Capabilities, error) {
	switch t {
	case TypePixoo64:
		return pixoohttp.TypeCapabilities(), nil
	case TypeAwtrix:
		return awtrixmqtt.TypeCapabilities(), nil
	default:
		return nil, fmt.Errorf("unknown deviceType %q", t)
	}
}

func (r *Registry) buildDriver(cfg Config, kind drivers.Kind) (drivers.Driver, error) {
	if kind == drivers.KindMock {
		mockCfg := mock.Config{}
		switch cfg.Type {
		case TypeAwtrix:
			mockCfg.Width, mockCfg.Height = 32, 8
		default:
			mockCfg.Width, mockCfg.Height = 64, 64
		}
		return mock.New(cfg.Host, mockCfg, r.logger), nil
	}

	switch cfg.Type {
	case TypePixoo64:
		return pixoohttp.New(cfg.Host, r.logger), nil
	case TypeAwtrix:
		return awtrixmqtt.New(cfg.Host, cfg.MQTTPrefix, r.conn, r.logger), nil
	default:
		return nil, fmt.Errorf("unknown deviceType %q", cfg.Type)
	}
}
