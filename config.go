package qcontrol

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

/*
CalibrationPolicy decides what happens when a gate or measurement targets
a qubit that has not been calibrated yet.
*/
type CalibrationPolicy string

const (
	// PolicyReport returns ErrNotCalibrated to the caller.
	PolicyReport CalibrationPolicy = "report"
	// PolicyDrop silently skips the operation and returns nil.
	PolicyDrop CalibrationPolicy = "drop"
)

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Initial     time.Duration `mapstructure:"initial"`
}

/*
BreakerConfig sets up the per-module driver breaker. It is off unless
MaxFailures is positive. One breaker covers the whole bank, so once it
opens every qubit of the module is rejected until it resets.
*/
type BreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMax  int           `mapstructure:"half_open_max"`
}

type AuditConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

/*
Config holds the tunables shared by modules and clusters. The zero value is
not useful; start from NewConfig or LoadConfig.
*/
type Config struct {
	NumQubits                   int               `mapstructure:"num_qubits"`
	Workers                     int               `mapstructure:"workers"`
	CalibrationPolicy           CalibrationPolicy `mapstructure:"calibration_policy"`
	CrossModuleCalibrationCheck bool              `mapstructure:"cross_module_calibration_check"`
	CalibrationConcurrency      int               `mapstructure:"calibration_concurrency"`
	PulseRate                   float64           `mapstructure:"pulse_rate"`
	PulseBurst                  int               `mapstructure:"pulse_burst"`
	Retry                       RetryConfig       `mapstructure:"retry"`
	Breaker                     BreakerConfig     `mapstructure:"breaker"`
	Audit                       AuditConfig       `mapstructure:"audit"`
}

func NewConfig() *Config {
	return &Config{
		NumQubits:                   100,
		Workers:                     8,
		CalibrationPolicy:           PolicyReport,
		CrossModuleCalibrationCheck: true,
		CalibrationConcurrency:      1,
		PulseBurst:                  1,
		Retry: RetryConfig{
			MaxAttempts: 1,
			Initial:     10 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			MaxFailures:  0,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
		Audit: AuditConfig{
			Driver: "none",
		},
	}
}

/*
LoadConfig reads a config file (any format viper understands) layered over
the defaults from NewConfig. Environment variables prefixed with QCONTROL_
override both, with nested keys joined by underscores, for example
QCONTROL_RETRY_MAX_ATTEMPTS. An empty path loads defaults and environment only.
*/
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QCONTROL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := NewConfig()
	v.SetDefault("num_qubits", def.NumQubits)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("calibration_policy", string(def.CalibrationPolicy))
	v.SetDefault("cross_module_calibration_check", def.CrossModuleCalibrationCheck)
	v.SetDefault("calibration_concurrency", def.CalibrationConcurrency)
	v.SetDefault("pulse_rate", def.PulseRate)
	v.SetDefault("pulse_burst", def.PulseBurst)
	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.initial", def.Retry.Initial)
	v.SetDefault("breaker.max_failures", def.Breaker.MaxFailures)
	v.SetDefault("breaker.reset_timeout", def.Breaker.ResetTimeout)
	v.SetDefault("breaker.half_open_max", def.Breaker.HalfOpenMax)
	v.SetDefault("audit.driver", def.Audit.Driver)
	v.SetDefault("audit.path", def.Audit.Path)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings no module could run with.
func (c *Config) Validate() error {
	switch {
	case c.NumQubits < 1:
		return fmt.Errorf("num_qubits must be positive, got %d", c.NumQubits)
	case c.Workers < 1:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.CalibrationPolicy != PolicyReport && c.CalibrationPolicy != PolicyDrop:
		return fmt.Errorf("unknown calibration_policy %q", c.CalibrationPolicy)
	case c.CalibrationConcurrency < 1:
		return fmt.Errorf("calibration_concurrency must be positive, got %d", c.CalibrationConcurrency)
	case c.PulseRate < 0:
		return fmt.Errorf("pulse_rate must not be negative, got %v", c.PulseRate)
	case c.Retry.MaxAttempts < 1:
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}

	switch c.Audit.Driver {
	case "", "none", "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown audit.driver %q", c.Audit.Driver)
	}

	return nil
}
