package device

import (
	"fmt"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/pixelfleet/pixeld/drivers"
)

// Known device types.
const (
	TypePixoo64 = "pixoo64"
	TypeAwtrix  = "awtrix"
)

// WatchdogAction is the recovery taken when a device goes silent.
type WatchdogAction string

const (
	ActionRestart       WatchdogAction = "restart"
	ActionFallbackScene WatchdogAction = "fallback-scene"
	ActionMQTTCommand   WatchdogAction = "mqtt-command"
	ActionNotify        WatchdogAction = "notify"
)

// MQTTCommand is one publish of a configured recovery sequence.
type MQTTCommand struct {
	Topic   string `json:"topic" yaml:"topic" mapstructure:"topic"`
	Payload string `json:"payload" yaml:"payload" mapstructure:"payload"`
}

// WatchdogConfig is the per-device liveness policy.
type WatchdogConfig struct {
	Enabled                    bool           `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	HealthCheckIntervalSeconds int            `json:"healthCheckIntervalSeconds" yaml:"healthCheckIntervalSeconds" mapstructure:"healthCheckIntervalSeconds"`
	CheckWhenOff               bool           `json:"checkWhenOff" yaml:"checkWhenOff" mapstructure:"checkWhenOff"`
	TimeoutMinutes             int            `json:"timeoutMinutes" yaml:"timeoutMinutes" mapstructure:"timeoutMinutes"`
	Action                     WatchdogAction `json:"action" yaml:"action" mapstructure:"action"`
	FallbackScene              string         `json:"fallbackScene,omitempty" yaml:"fallbackScene" mapstructure:"fallbackScene"`
	MQTTCommandSequence        []MQTTCommand  `json:"mqttCommandSequence,omitempty" yaml:"mqttCommandSequence" mapstructure:"mqttCommandSequence"`
}

// HealthCheckInterval returns the probe cadence, defaulting to 10s.
func (w *WatchdogConfig) HealthCheckInterval() time.Duration {
	if w == nil || w.HealthCheckIntervalSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(w.HealthCheckIntervalSeconds) * time.Second
}

// Timeout returns the silence budget before the action fires; zero
// disables the age check.
func (w *WatchdogConfig) Timeout() time.Duration {
	if w == nil || w.TimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(w.TimeoutMinutes) * time.Minute
}

// FailurePolicy caps consecutive render failures before falling back.
type FailurePolicy struct {
	// MaxFailures within Window triggers the fallback. Defaults: 5 in 60s.
	MaxFailures   int    `json:"maxFailures" yaml:"maxFailures" mapstructure:"maxFailures"`
	WindowSeconds int    `json:"windowSeconds" yaml:"windowSeconds" mapstructure:"windowSeconds"`
	FallbackScene string `json:"fallbackScene,omitempty" yaml:"fallbackScene" mapstructure:"fallbackScene"`
}

func (f *FailurePolicy) Limit() int {
	if f == nil || f.MaxFailures <= 0 {
		return 5
	}
	return f.MaxFailures
}

func (f *FailurePolicy) Window() time.Duration {
	if f == nil || f.WindowSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(f.WindowSeconds) * time.Second
}

// Config describes one device from the daemon configuration.
type Config struct {
	Host         string          `json:"host" yaml:"host" mapstructure:"host"`
	Type         string          `json:"deviceType" yaml:"deviceType" mapstructure:"deviceType"`
	Name         string          `json:"name,omitempty" yaml:"name" mapstructure:"name"`
	Driver       drivers.Kind    `json:"driver" yaml:"driver" mapstructure:"driver"`
	StartupScene string          `json:"startupScene,omitempty" yaml:"startupScene" mapstructure:"startupScene"`
	Brightness   *int            `json:"brightness,omitempty" yaml:"brightness" mapstructure:"brightness"`
	Watchdog     *WatchdogConfig `json:"watchdog,omitempty" yaml:"watchdog" mapstructure:"watchdog"`
	Failures     *FailurePolicy  `json:"failures,omitempty" yaml:"failures" mapstructure:"failures"`

	// MQTTPrefix overrides the topic prefix an MQTT-driven display
	// listens on; defaults derive from the host.
	MQTTPrefix string `json:"mqttPrefix,omitempty" yaml:"mqttPrefix" mapstructure:"mqttPrefix"`
}

// Validate fails fast on configuration errors; these abort startup.
func (c *Config) Validate() error {
	var mErr *multierror.Error
	if c.Host == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("device host must be set"))
	}
	switch c.Type {
	case TypePixoo64, TypeAwtrix:
	default:
		mErr = multierror.Append(mErr, fmt.Errorf("unknown deviceType %q for host %q", c.Type, c.Host))
	}
	if c.Driver == "" {
		c.Driver = drivers.KindReal
	}
	if !c.Driver.Valid() {
		mErr = multierror.Append(mErr, fmt.Errorf("unknown driver kind %q for host %q", c.Driver, c.Host))
	}
	if c.Brightness != nil && (*c.Brightness < 0 || *c.Brightness > 100) {
		mErr = multierror.Append(mErr, fmt.Errorf("brightness %d out of range for host %q", *c.Brightness, c.Host))
	}
	if w := c.Watchdog; w != nil && w.Enabled {
		switch w.Action {
		case ActionRestart, ActionFallbackScene, ActionMQTTCommand, ActionNotify:
		default:
			mErr = multierror.Append(mErr, fmt.Errorf("unknown watchdog action %q for host %q", w.Action, c.Host))
		}
		if w.Action == ActionFallbackScene && w.FallbackScene == "" {
			mErr = multierror.Append(mErr, fmt.Errorf("watchdog fallback-scene requires fallbackScene for host %q", c.Host))
		}
	}
	return mErr.ErrorOrNil()
}
