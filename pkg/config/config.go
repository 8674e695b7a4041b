package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/backkem/mapper/pkg/value"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the root configuration.
type Config struct {
	Bus       BusConfig       `yaml:"bus"`
	Device    DeviceConfig    `yaml:"device"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BusConfig locates the admin bus.
type BusConfig struct {
	Group     string `yaml:"group"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
}

// DeviceConfig describes the device run by "mapperctl device".
type DeviceConfig struct {
	Name        string         `yaml:"name"`
	Port        int            `yaml:"port"`
	ClaimWindow time.Duration  `yaml:"claim_window"`
	Properties  map[string]any `yaml:"properties"`
	Inputs      []SignalConfig `yaml:"inputs"`
	Outputs     []SignalConfig `yaml:"outputs"`
}

// SignalConfig describes one signal.
type SignalConfig struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	Length int      `yaml:"length"`
	Unit   string   `yaml:"unit"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

// MonitorConfig configures "mapperctl monitor".
type MonitorConfig struct {
	DisableAutoRequest bool `yaml:"disable_auto_request"`
}

// MQTTConfig configures the optional MQTT bridge. The bridge is enabled
// when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DiscoveryConfig configures DNS-SD advertisement of devices.
type DiscoveryConfig struct {
	Advertise bool `yaml:"advertise"`
}

// LoggingConfig sets the log level: disabled, error, warn, info, debug or
// trace.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (if not empty), applies MAPPER_* environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides copies MAPPER_* variables over the file values.
func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("MAPPER_BUS_GROUP", &cfg.Bus.Group)
	num("MAPPER_BUS_PORT", &cfg.Bus.Port)
	str("MAPPER_INTERFACE", &cfg.Bus.Interface)
	str("MAPPER_DEVICE_NAME", &cfg.Device.Name)
	num("MAPPER_DEVICE_PORT", &cfg.Device.Port)
	str("MAPPER_MQTT_BROKER", &cfg.MQTT.Broker)
	str("MAPPER_MQTT_USERNAME", &cfg.MQTT.Username)
	str("MAPPER_MQTT_PASSWORD", &cfg.MQTT.Password)
	str("MAPPER_METRICS_ADDR", &cfg.Metrics.Addr)
	str("MAPPER_LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return fmt.Errorf("%w: environment: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []string

	if c.Bus.Port < 0 || c.Bus.Port > 65535 {
		errs = append(errs, "bus.port must be between 0 and 65535")
	}
	if c.Device.Port < 0 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 0 and 65535")
	}
	if c.Device.ClaimWindow < 0 {
		errs = append(errs, "device.claim_window must not be negative")
	}
	for i, s := range c.Device.Inputs {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("device.inputs[%d]: %v", i, err))
		}
	}
	for i, s := range c.Device.Outputs {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("device.outputs[%d]: %v", i, err))
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks one signal description.
func (s SignalConfig) Validate() error {
	if !strings.HasPrefix(s.Name, "/") {
		return fmt.Errorf("name %q must start with /", s.Name)
	}
	if _, err := s.ValueType(); err != nil {
		return err
	}
	if s.Length < 0 {
		return fmt.Errorf("length %d must be positive", s.Length)
	}
	return nil
}

// ValueType returns the signal type. Empty means float32.
func (s SignalConfig) ValueType() (value.Type, error) {
	if s.Type == "" {
		return value.TypeFloat32, nil
	}
	t, err := value.ParseType(s.Type)
	if err != nil {
		return t, err
	}
	if !t.IsSignalType() {
		return t, fmt.Errorf("type %q is not a signal type", s.Type)
	}
	return t, nil
}

// VectorLength returns the signal length. Zero means 1.
func (s SignalConfig) VectorLength() int {
	if s.Length == 0 {
		return 1
	}
	return s.Length
}

// ParseSignal parses the command-line form name:type[:unit], e.g.
// "/freq:i:Hz". The leading slash is optional.
func ParseSignal(spec string) (SignalConfig, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return SignalConfig{}, fmt.Errorf("%w: signal %q: want name:type[:unit]", ErrInvalid, spec)
	}
	s := SignalConfig{Name: parts[0], Type: parts[1]}
	if !strings.HasPrefix(s.Name, "/") {
		s.Name = "/" + s.Name
	}
	if len(parts) == 3 {
		s.Unit = parts[2]
	}
	if err := s.Validate(); err != nil {
		return SignalConfig{}, fmt.Errorf("%w: signal %q: %v", ErrInvalid, spec, err)
	}
	return s, nil
}

// ParseLogLevel maps a level name to a pion log level. Empty means info.
func ParseLogLevel(level string) (logging.LogLevel, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return logging.LogLevelInfo, nil
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("logging.level %q is not one of disabled, error, warn, info, debug, trace", level)
}

// LoggerFactory returns a pion logger factory at the configured level.
func (c *Config) LoggerFactory() logging.LoggerFactory {
	level, err := ParseLogLevel(c.Logging.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	return f
}
