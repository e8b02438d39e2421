package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config groups the settings used to build a Bus and the components layered on
// top of it. The zero value is usable; Default fills in the recommended values.
type Config struct {
	// Name labels the bus in logs and is used as the sender label for
	// messages emitted by the bus itself (store broadcasts, bridge sends).
	Name string `toml:"name"`

	// Metrics configuration.
	MetricsEnabled bool `toml:"metrics_enabled"`
	// MetricsNamespace prefixes every Prometheus metric. Defaults to "relay".
	MetricsNamespace string `toml:"metrics_namespace"`

	// TracingEnabled wraps every responder invocation in an OpenTelemetry span.
	TracingEnabled bool `toml:"tracing_enabled"`

	// StoreResetClearsReadiness makes Store.Reset also reset the readiness
	// latch. Off by default: a ready store stays ready across resets.
	StoreResetClearsReadiness bool `toml:"store_reset_clears_readiness"`

	// BridgeAckTimeout bounds how long the Watermill subscriber waits for an
	// Ack or Nack before moving on. Zero waits forever.
	BridgeAckTimeout Duration `toml:"bridge_ack_timeout"`
}

// Duration decodes TOML strings such as "5s" into a time.Duration.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration with the recommended defaults.
func Default() *Config {
	return &Config{
		Name:             "relay",
		MetricsNamespace: "relay",
	}
}

// Load reads a TOML file, applies it on top of Default and validates the
// result.
func Load(path string) (*Config, error) {
	conf := Default()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Parse is Load for in-memory TOML documents.
func Parse(data string) (*Config, error) {
	conf := Default()
	if _, err := toml.Decode(data, conf); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c Config) String() string {
	type configAlias Config
	alias := configAlias(c)
	return fmt.Sprintf("%+v", alias)
}

var metricNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks the configuration and returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateBridge()...)

	return errors.Join(errs...)
}

func (c *Config) validateMetrics() []error {
	if c.MetricsNamespace == "" {
		if c.MetricsEnabled {
			return []error{errors.New("metrics: namespace is required when metrics are enabled")}
		}
		return nil
	}
	if !metricNamePattern.MatchString(c.MetricsNamespace) {
		return []error{fmt.Errorf("metrics: invalid namespace %q", c.MetricsNamespace)}
	}
	return nil
}

func (c *Config) validateBridge() []error {
	if c.BridgeAckTimeout.Duration < 0 {
		return []error{errors.New("bridge: ack timeout cannot be negative")}
	}
	return nil
}

// ValidateConfig is a convenience function to validate a config pointer.
// Returns nil if the config is valid.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
