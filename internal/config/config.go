// Package config loads the multiproc command configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/multiproc/internal/logging"
	"github.com/vnykmshr/multiproc/pkg/common/validation"
)

// Config is the file format read by --config.
type Config struct {
	Pool      PoolConfig      `yaml:"pool"`
	Admission AdmissionConfig `yaml:"admission"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       logging.Config  `yaml:"log"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Name      string        `yaml:"name"`
	Workers   int           `yaml:"workers"`
	ChunkSize int           `yaml:"chunk_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AdmissionConfig enables a throttle in front of the pool. Rate zero
// disables it. With RedisAddr set the budget is shared through Redis and
// the local bucket becomes the fallback.
type AdmissionConfig struct {
	Rate      float64 `yaml:"rate"`
	Burst     int     `yaml:"burst"`
	RedisAddr string  `yaml:"redis_addr"`
	RedisKey  string  `yaml:"redis_key"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Pool: PoolConfig{Name: "multiproc"},
		Admission: AdmissionConfig{
			RedisKey: "multiproc:admission",
		},
		Metrics: MetricsConfig{
			Listen:    ":9090",
			Namespace: "multiproc",
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects negative sizes and an admission rate without a burst.
func (c Config) Validate() error {
	if err := validation.ValidateNonNegative("config", "pool.workers", c.Pool.Workers); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("config", "pool.chunk_size", c.Pool.ChunkSize); err != nil {
		return err
	}
	if err := validation.ValidateDuration("config", "pool.timeout", c.Pool.Timeout); err != nil {
		return err
	}
	if c.Admission.Rate < 0 {
		return validation.ValidatePositiveFloat("config", "admission.rate", c.Admission.Rate)
	}
	if c.Admission.Rate > 0 {
		if err := validation.ValidatePositive("config", "admission.burst", c.Admission.Burst); err != nil {
			return err
		}
	}
	return nil
}
