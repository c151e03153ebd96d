// Package device holds the configured display fleet: the Device wrapper
// that owns exactly one driver at a time, and the Registry that resolves
// hosts to devices and performs driver hot-swaps.
package device

import (
	"sync"

	"github.com/pixelfleet/pixeld/drivers"
)

// Device is one configured display. It exclusively owns its current
// driver; swapping drivers transfers ownership atomically under the
// device lock.
type Device struct {
	Host string
	Type string
	Name string

	cfg Config

	mu     sync.Mutex
	driver drivers.Driver
}

func newDevice(cfg Config, drv drivers.Driver) *Device {
	name := cfg.Name
	if name == "" {
		name = cfg.Host
	}
	return &Device{
		Host:   cfg.Host,
		Type:   cfg.Type,
		Name:   name,
		cfg:    cfg,
		driver: drv,
	}
}

// Driver returns the currently installed driver.
func (d *Device) Driver() drivers.Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.driver
}

// SetDriver installs a new driver, returning the previous one so the
// caller can shut it down. Only the device's scheduler actor calls this.
func (d *Device) SetDriver(drv drivers.Driver) drivers.Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	old := d.driver
	d.driver = drv
	return old
}

// Capabilities of the current driver.
func (d *Device) Capabilities() *drivers.Capabilities {
	return d.Driver().Capabilities()
}

// Metrics of the current driver.
func (d *Device) Metrics() drivers.Metrics {
	return d.Driver().Metrics()
}

// Config returns the device's static configuration.
func (d *Device) Config() Config {
	return d.cfg
}
