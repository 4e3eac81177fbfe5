// Package config loads the engine configuration from TOML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// Mount kinds.
const (
	KindMemory    = "memory"
	KindDirectory = "directory"
	KindS3        = "s3"
	KindMinio     = "minio"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Resources ResourcesConfig `toml:"resources"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Engine    EngineConfig    `toml:"engine"`
	Mounts    []MountConfig   `toml:"mount"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error, fatal.
	Level string `toml:"level"`
}

type ResourcesConfig struct {
	QueueCapacity     int `toml:"queue_capacity"`
	MaxRetainedBuffer int `toml:"max_retained_buffer"`
	// IOLimitBytesPerSec throttles worker reads. Zero disables it.
	IOLimitBytesPerSec int `toml:"io_limit_bytes_per_sec"`
	// DefaultCapacity is the unused entry budget of each default cache.
	DefaultCapacity int `toml:"default_capacity"`
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
	// Listen is the address of the /metrics endpoint. Empty keeps the
	// collectors registered without serving them.
	Listen string `toml:"listen"`
}

type EngineConfig struct {
	// TickRate is how many times per second Advance runs.
	TickRate float64 `toml:"tick_rate"`
}

// MountConfig describes one filesystem to mount. Which fields apply depends
// on Kind. AccessKey and SecretKey are expanded from the environment.
type MountConfig struct {
	ID         string `toml:"id"`
	Kind       string `toml:"kind"`
	Root       string `toml:"root"`
	Bucket     string `toml:"bucket"`
	Prefix     string `toml:"prefix"`
	Endpoint   string `toml:"endpoint"`
	Region     string `toml:"region"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
	Secure     bool   `toml:"secure"`
	Compressed bool   `toml:"compressed"`
	Watch      bool   `toml:"watch"`
}

func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Resources: ResourcesConfig{
			QueueCapacity:     resources.DefaultQueueCapacity,
			MaxRetainedBuffer: resources.DefaultMaxRetainedBuffer,
			DefaultCapacity:   64,
		},
		Metrics: MetricsConfig{Namespace: "anima"},
		Engine:  EngineConfig{TickRate: 60},
	}
}

// Parse decodes data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%w: line %d column %d: %s", ErrInvalidConfig, row, col, derr.Error())
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for i := range cfg.Mounts {
		cfg.Mounts[i].AccessKey = os.ExpandEnv(cfg.Mounts[i].AccessKey)
		cfg.Mounts[i].SecretKey = os.ExpandEnv(cfg.Mounts[i].SecretKey)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Resources.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("resources.queue_capacity must be positive, got %d", c.Resources.QueueCapacity))
	}
	if c.Resources.MaxRetainedBuffer < 0 {
		errs = append(errs, fmt.Errorf("resources.max_retained_buffer must not be negative"))
	}
	if c.Resources.IOLimitBytesPerSec < 0 {
		errs = append(errs, fmt.Errorf("resources.io_limit_bytes_per_sec must not be negative"))
	}
	if c.Resources.DefaultCapacity < 0 {
		errs = append(errs, fmt.Errorf("resources.default_capacity must not be negative"))
	}
	if c.Engine.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("engine.tick_rate must be positive, got %g", c.Engine.TickRate))
	}

	seen := make(map[string]bool, len(c.Mounts))
	for i, m := range c.Mounts {
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mount[%d]: %w", i, err))
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Errorf("mount[%d]: duplicate id %q", i, m.ID))
		}
		seen[m.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (m MountConfig) Validate() error {
	if m.ID == "" || strings.ContainsAny(m.ID, ":/") {
		return fmt.Errorf("invalid id %q", m.ID)
	}
	switch m.Kind {
	case KindMemory:
	case KindDirectory:
		if m.Root == "" {
			return fmt.Errorf("%s mount %q needs a root", m.Kind, m.ID)
		}
	case KindS3, KindMinio:
		if m.Bucket == "" {
			return fmt.Errorf("%s mount %q needs a bucket", m.Kind, m.ID)
		}
		if m.Kind == KindMinio && m.Endpoint == "" {
			return fmt.Errorf("minio mount %q needs an endpoint", m.ID)
		}
	default:
		return fmt.Errorf("unknown mount kind %q", m.Kind)
	}
	if m.Watch && m.Kind != KindDirectory {
		return fmt.Errorf("only directory mounts can be watched, %q is %s", m.ID, m.Kind)
	}
	return nil
}
