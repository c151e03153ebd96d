package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/helper/testlog"
	"github.com/pixelfleet/pixeld/mqttx"
)

type captureSwapper struct {
	host string
	drv  drivers.Driver
}

func (c *captureSwapper) SwapDriver(host string, newDriver drivers.Driver) error {
	c.host = host
	c.drv = newDriver
	return nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(mqttx.NewMemBus(), testlog.HCLogger(t))
}

func TestRegistry_Add(t *testing.T) {
	r := testRegistry(t)

	dev, err := r.Add(context.Background(), validConfig())
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", dev.Host)
	require.Equal(t, TypePixoo64, dev.Type)
	require.Equal(t, drivers.KindMock, dev.Driver().Kind())
	require.True(t, dev.Driver().Ready())

	// Name defaults to the host.
	require.Equal(t, "10.0.0.5", dev.Name)

	got, err := r.Get("10.0.0.5")
	require.NoError(t, err)
	require.Same(t, dev, got)
}

func TestRegistry_AddDuplicate(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Add(context.Background(), validConfig())
	require.NoError(t, err)
	_, err = r.Add(context.Background(), validConfig())
	require.ErrorContains(t, err, "already registered")
}

func TestRegistry_AddInvalid(t *testing.T) {
	r := testRegistry(t)
	cfg := validConfig()
	cfg.Type = "lametric"
	_, err := r.Add(context.Background(), cfg)
	require.Error(t, err)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := testRegistry(t)
	_, err := r.Get("10.9.9.9")
	require.ErrorContains(t, err, "unknown device")
}

func TestRegistry_ListSorted(t *testing.T) {
	r := testRegistry(t)
	for _, host := range []string{"10.0.0.9", "10.0.0.1", "10.0.0.5"} {
		cfg := validConfig()
		cfg.Host = host
		_, err := r.Add(context.Background(), cfg)
		require.NoError(t, err)
	}

	var hosts []string
	for _, d := range r.List() {
		hosts = append(hosts, d.Host)
	}
	require.Equal(t, []string{"10.0.0.1", "10.0.0.5", "10.0.0.9"}, hosts)
}

func TestRegistry_SetDriverRoutesThroughSwapper(t *testing.T) {
	r := testRegistry(t)
	swapper := &captureSwapper{}
	r.SetSwapper(swapper)

	dev, err := r.Add(context.Background(), validConfig())
	require.NoError(t, err)

	require.NoError(t, r.SetDriver(dev.Host, drivers.KindMock))
	require.Equal(t, dev.Host, swapper.host)
	require.NotNil(t, swapper.drv)
	require.Equal(t, drivers.KindMock, swapper.drv.Kind())
	// The swap is delegated, never applied directly.
	require.NotSame(t, dev.Driver(), swapper.drv)
}

func TestRegistry_MockDimensionsByType(t *testing.T) {
	r := testRegistry(t)

	clock := validConfig()
	clock.Host = "clock"
	clock.Type = TypeAwtrix
	dev, err := r.Add(context.Background(), clock)
	require.NoError(t, err)
	require.Equal(t, 32, dev.Capabilities().Width)
	require.Equal(t, 8, dev.Capabilities().Height)

	panel := validConfig()
	panel.Host = "panel"
	dev, err = r.Add(context.Background(), panel)
	require.NoError(t, err)
	require.Equal(t, 64, dev.Capabilities().Width)
}

func TestDevice_SetDriverReturnsOld(t *testing.T) {
	r := testRegistry(t)
	dev, err := r.Add(context.Background(), validConfig())
	require.NoError(t, err)

	oldDrv := dev.Driver()
	newDrv, err := r.buildDriver(validConfig(), drivers.KindMock)
	require.NoError(t, err)

	replaced := dev.SetDriver(newDrv)
	require.Same(t, oldDrv, replaced)
	require.Same(t, newDrv, dev.Driver())
}

func TestCapabilitiesForType(t *testing.T) {
	caps, err := CapabilitiesForType(TypePixoo64)
	require.NoError(t, err)
	require.Equal(t, 64, caps.Width)

	caps, err = CapabilitiesForType(TypeAwtrix)
	require.NoError(t, err)
	require.Equal(t, 32, caps.Width)
	require.Equal(t, 8, caps.Height)

	_, err = CapabilitiesForType("lametric")
	require.Error(t, err)
}
