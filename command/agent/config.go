package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	multierror "github.com/hashicorp/go-multierror"
	yaml "gopkg.in/yaml.v3"

	"github.com/pixelfleet/pixeld/device"
	"github.com/pixelfleet/pixeld/drivers"
)

const (
	DefaultTopicBase = "/home/pixoo"
	DefaultWebPort   = 10829
	DefaultStateFile = "pixeld-state.json"
)

// MQTTConfig configures the shared broker connection. An empty BrokerURL
// runs the daemon on an in-process bus: MQTT drivers and the command tree
// still work for tests and local development.
type MQTTConfig struct {
	BrokerURL string `json:"brokerUrl" yaml:"brokerUrl" mapstructure:"brokerUrl"`
	Username  string `json:"username,omitempty" yaml:"username" mapstructure:"username"`
	Password  string `json:"password,omitempty" yaml:"password" mapstructure:"password"`
	TopicBase string `json:"topicBase" yaml:"topicBase" mapstructure:"topicBase"`
}

// WebUIConfig configures the HTTP/WebSocket control plane.
type WebUIConfig struct {
	Port int `json:"port" yaml:"port" mapstructure:"port"`
	// Auth is "user:pass" enabling basic auth; empty disables it.
	Auth string `json:"auth,omitempty" yaml:"auth" mapstructure:"auth"`
}

// Config is the daemon configuration document.
type Config struct {
	Devices []device.Config `json:"devices" yaml:"devices" mapstructure:"devices"`
	MQTT    MQTTConfig      `json:"mqtt" yaml:"mqtt" mapstructure:"mqtt"`
	WebUI   WebUIConfig     `json:"webui" yaml:"webui" mapstructure:"webui"`

	// DefaultDriver overrides every device's configured driver kind,
	// the test/development escape hatch.
	DefaultDriver string `json:"defaultDriver,omitempty" yaml:"defaultDriver" mapstructure:"defaultDriver"`

	LogLevel  string `json:"logLevel,omitempty" yaml:"logLevel" mapstructure:"logLevel"`
	StateFile string `json:"stateFile,omitempty" yaml:"stateFile" mapstructure:"stateFile"`
}

// DefaultConfig is the baseline every load starts from.
func DefaultConfig() *Config {
	return &Config{
		MQTT:      MQTTConfig{TopicBase: DefaultTopicBase},
		WebUI:     WebUIConfig{Port: DefaultWebPort},
		LogLevel:  "info",
		StateFile: DefaultStateFile,
	}
}

// LoadConfig reads a JSON or YAML configuration file, keyed by extension,
// and decodes it over the defaults.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(buf, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %q: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(buf, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %q: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}

	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate fails fast; any error here aborts startup with exit code 1.
func (c *Config) Validate() error {
	var mErr *multierror.Error

	if len(c.Devices) == 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("at least one device must be configured"))
	}
	if c.DefaultDriver != "" && !drivers.Kind(c.DefaultDriver).Valid() {
		mErr = multierror.Append(mErr, fmt.Errorf("unknown default driver %q", c.DefaultDriver))
	}
	seen := map[string]bool{}
	for i := range c.Devices {
		d := &c.Devices[i]
		if c.DefaultDriver != "" {
			d.Driver = drivers.Kind(c.DefaultDriver)
		}
		if err := d.Validate(); err != nil {
			mErr = multierror.Append(mErr, err)
		}
		if seen[d.Host] {
			mErr = multierror.Append(mErr, fmt.Errorf("duplicate device host %q", d.Host))
		}
		seen[d.Host] = true
	}
	if c.MQTT.TopicBase == "" {
		mErr = multierror.Append(mErr, fmt.Errorf("mqtt topicBase must be set"))
	}
	if c.WebUI.Port <= 0 || c.WebUI.Port > 65535 {
		mErr = multierror.Append(mErr, fmt.Errorf("webui port %d out of range", c.WebUI.Port))
	}
	if c.WebUI.Auth != "" && !strings.Contains(c.WebUI.Auth, ":") {
		mErr = multierror.Append(mErr, fmt.Errorf("webui auth must be user:pass"))
	}
	return mErr.ErrorOrNil()
}
