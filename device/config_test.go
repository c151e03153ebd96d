package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixelfleet/pixeld/drivers"
	"github.com/pixelfleet/pixeld/helper/pointer"
)

func validConfig() Config {
	return Config{
		Host:   "10.0.0.5",
		Type:   TypePixoo64,
		Driver: drivers.KindMock,
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateDefaultsDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Driver = ""
	require.NoError(t, cfg.Validate())
	require.Equal(t, drivers.KindReal, cfg.Driver)
}

func TestConfig_ValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"unknown type", func(c *Config) { c.Type = "lametric" }},
		{"unknown driver", func(c *Config) { c.Driver = "simulated" }},
		{"brightness low", func(c *Config) { c.Brightness = pointer.Of(-1) }},
		{"brightness high", func(c *Config) { c.Brightness = pointer.Of(101) }},
		{"unknown watchdog action", func(c *Config) {
			c.Watchdog = &WatchdogConfig{Enabled: true, Action: "explode"}
		}},
		{"fallback without scene", func(c *Config) {
			c.Watchdog = &WatchdogConfig{Enabled: true, Action: ActionFallbackScene}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ValidateDisabledWatchdogSkipsActionCheck(t *testing.T) {
	cfg := validConfig()
	cfg.Watchdog = &WatchdogConfig{Enabled: false, Action: "explode"}
	require.NoError(t, cfg.Validate())
}

func TestWatchdogConfig_Defaults(t *testing.T) {
	var nilCfg *WatchdogConfig
	require.Equal(t, int64(10), int64(nilCfg.HealthCheckInterval().Seconds()))
	require.Zero(t, nilCfg.Timeout())

	cfg := &WatchdogConfig{HealthCheckIntervalSeconds: 30, TimeoutMinutes: 5}
	require.Equal(t, int64(30), int64(cfg.HealthCheckInterval().Seconds()))
	require.Equal(t, int64(300), int64(cfg.Timeout().Seconds()))
}

func TestFailurePolicy_Defaults(t *testing.T) {
	var nilPol *FailurePolicy
	require.Equal(t, 5, nilPol.Limit())
	require.Equal(t, int64(60), int64(nilPol.Window().Seconds()))

	pol := &FailurePolicy{MaxFailures: 3, WindowSeconds: 10}
	require.Equal(t, 3, pol.Limit())
	require.Equal(t, int64(10), int64(pol.Window().Seconds()))
}
