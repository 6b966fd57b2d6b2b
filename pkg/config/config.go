// Package config loads the YAML configuration shared by the harvester and
// challenger processes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/campuscode/harvest/pkg/security"
)

// tokenEnv overrides the configured API token so secrets stay out of the
// config file.
const tokenEnv = "HARVEST_API_TOKEN"

// Config is the full process configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Rate      RateConfig      `yaml:"rate"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// APIConfig configures the remote GraphQL endpoint.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// RateConfig configures the local rolling-window budget.
type RateConfig struct {
	Capacity  int           `yaml:"capacity"`
	Threshold int           `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// SchedulerConfig configures the drain loop.
type SchedulerConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	SeedOnStart   bool          `yaml:"seed_on_start"`
}

// ConsumerConfig configures stream consumption.
type ConsumerConfig struct {
	StreamKey    string        `yaml:"stream_key"`
	Group        string        `yaml:"group"`
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	RecoveryMax  int           `yaml:"recovery_max"`
}

// DatabaseConfig configures the backing database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "https://api.github.com/graphql",
		},
		Rate: RateConfig{
			Capacity:  5000,
			Threshold: 100,
			Window:    time.Hour,
		},
		Scheduler: SchedulerConfig{
			DrainInterval: time.Second,
			SeedOnStart:   true,
		},
		Consumer: ConsumerConfig{
			StreamKey:    "harvest:recompute",
			Group:        "challenge-workers",
			Name:         "worker-1",
			PollInterval: time.Second,
			BatchSize:    10,
			RecoveryMax:  1000,
		},
		Database: DatabaseConfig{
			DSN: "harvest.db",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file over the defaults. An empty path returns the
// defaults. The API token is taken from HARVEST_API_TOKEN when set.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if token := os.Getenv(tokenEnv); token != "" {
		cfg.API.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the components would refuse at startup.
func (c *Config) Validate() error {
	if c.Rate.Capacity <= 0 {
		return fmt.Errorf("config: rate capacity must be positive, got %d", c.Rate.Capacity)
	}
	if c.Rate.Threshold < 0 || c.Rate.Threshold >= c.Rate.Capacity {
		return fmt.Errorf("config: rate threshold %d must be in [0, capacity)", c.Rate.Threshold)
	}
	if c.Rate.Window <= 0 {
		return fmt.Errorf("config: rate window must be positive, got %v", c.Rate.Window)
	}
	if c.Scheduler.DrainInterval <= 0 {
		return fmt.Errorf("config: drain interval must be positive, got %v", c.Scheduler.DrainInterval)
	}
	if err := security.ValidateStreamKey(c.Consumer.StreamKey); err != nil {
		return fmt.Errorf("config: stream key %q: %w", c.Consumer.StreamKey, err)
	}
	if err := security.ValidateConsumerName(c.Consumer.Group); err != nil {
		return fmt.Errorf("config: consumer group %q: %w", c.Consumer.Group, err)
	}
	if err := security.ValidateConsumerName(c.Consumer.Name); err != nil {
		return fmt.Errorf("config: consumer name %q: %w", c.Consumer.Name, err)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database dsn is required")
	}
	return nil
}
