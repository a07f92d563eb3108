// Package config loads service configuration from an optional YAML file and
// TIERROUTE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/itskum47/tierroute/control_plane/task"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Executors  ExecutorsConfig  `mapstructure:"executors"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	History    HistoryConfig    `mapstructure:"history"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Admission  AdmissionConfig  `mapstructure:"admission"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ExecutorsConfig struct {
	Edge        string `mapstructure:"edge"`
	Cloud       string `mapstructure:"cloud"`
	Accelerator string `mapstructure:"accelerator"`
}

// Endpoints returns the class to base URL table.
func (e ExecutorsConfig) Endpoints() map[task.Class]string {
	return map[task.Class]string{
		task.Edge:        e.Edge,
		task.Cloud:       e.Cloud,
		task.Accelerator: e.Accelerator,
	}
}

type DispatchConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClassifierConfig struct {
	Kind     string `mapstructure:"kind"`
	Artifact string `mapstructure:"artifact"`
	Fallback string `mapstructure:"fallback"`
}

type HistoryConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite, postgres
	DSN    string `mapstructure:"dsn"`
	// Failed writes are buffered and replayed every ReplayInterval.
	MaxPending     int           `mapstructure:"max_pending"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelemetryConfig struct {
	DecayProbability float64 `mapstructure:"decay_probability"`
	Seed             int64   `mapstructure:"seed"`
}

type AdmissionConfig struct {
	MaxInFlight int     `mapstructure:"max_in_flight"`
	Rate        float64 `mapstructure:"rate"`
	Burst       int     `mapstructure:"burst"`
}

type ProbeConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// AuthConfig enables bearer-token auth on /api/ when Secret is set.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("executors.edge", "http://localhost:8001")
	v.SetDefault("executors.cloud", "http://localhost:8002")
	v.SetDefault("executors.accelerator", "http://localhost:8003")
	v.SetDefault("dispatch.timeout", 30*time.Second)
	v.SetDefault("classifier.kind", "forest")
	v.SetDefault("classifier.artifact", "models/forest-v1.yaml")
	v.SetDefault("classifier.fallback", "")
	v.SetDefault("history.driver", "memory")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.max_pending", 10000)
	v.SetDefault("history.replay_interval", 15*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("telemetry.decay_probability", 0.3)
	v.SetDefault("telemetry.seed", 0)
	v.SetDefault("admission.max_in_flight", 256)
	v.SetDefault("admission.rate", 50.0)
	v.SetDefault("admission.burst", 100)
	v.SetDefault("probe.interval", 10*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("auth.secret", "")
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment apply.
// Example override: TIERROUTE_DISPATCH_TIMEOUT=5s
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TIERROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Executor URLs keep their historical unprefixed names as a fallback.
	for key, legacy := range map[string]string{
		"executors.edge":        "EDGE_NODE_URL",
		"executors.cloud":       "CLOUD_NODE_URL",
		"executors.accelerator": "GPU_NODE_URL",
	} {
		if err := v.BindEnv(key, "TIERROUTE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	for class, url := range c.Executors.Endpoints() {
		if url == "" {
			return fmt.Errorf("executors: no URL for %s", class)
		}
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}
	switch c.History.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required for driver %q", c.History.Driver)
		}
	default:
		return fmt.Errorf("history.driver %q not supported", c.History.Driver)
	}
	if c.History.ReplayInterval <= 0 {
		return fmt.Errorf("history.replay_interval must be positive")
	}
	if p := c.Telemetry.DecayProbability; p < 0 || p > 1 {
		return fmt.Errorf("telemetry.decay_probability must be in [0,1], got %v", p)
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth.secret must be at least 32 bytes")
	}
	if c.Probe.Interval <= 0 {
		return fmt.Errorf("probe.interval must be positive")
	}
	return nil
}
