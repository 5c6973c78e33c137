package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config represents the complete claimd configuration
// Maps config file fields through YAML tags
type Config struct {
	Store struct {
		// API is a Kubo RPC endpoint. Empty selects the local store.
		API     string        `yaml:"api"`
		Dir     string        `yaml:"dir"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"store"`

	Executor struct {
		// Command is the executor program. Empty selects the in-process executor.
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
		Host    string        `yaml:"host"`
		Port    int           `yaml:"port"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"executor"`

	Prober struct {
		// Command is the prober program. Empty selects the in-process prober.
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"prober"`

	MerkleCache struct {
		Enabled bool          `yaml:"enabled"`
		Address string        `yaml:"address"`
		Listen  string        `yaml:"listen"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"merkle_cache"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Verifier struct {
		Workers     int           `yaml:"workers"`
		TaskTimeout time.Duration `yaml:"task_timeout"`
	} `yaml:"verifier"`
}

// DefaultConfig returns the configuration used when no file overrides a field.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Store.Timeout = 30 * time.Second
	cfg.Executor.Host = "localhost"
	cfg.Executor.Port = 8080
	cfg.Executor.Timeout = 10 * time.Minute
	cfg.Prober.Timeout = 120 * time.Second
	cfg.MerkleCache.Address = "localhost:50051"
	cfg.MerkleCache.Listen = ":50051"
	cfg.MerkleCache.Timeout = 10 * time.Second
	cfg.Metrics.Port = 9090
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.Verifier.Workers = 4
	cfg.Verifier.TaskTimeout = 15 * time.Minute
	return cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Store.API != "" && c.Executor.Command == "" {
		problems = append(problems, "store.api requires executor.command: the in-process executor only runs against the local store")
	}
	if c.Executor.Port < 0 || c.Executor.Port > 65535 {
		problems = append(problems, fmt.Sprintf("executor.port %d out of range", c.Executor.Port))
	}
	if c.Prober.Timeout <= 0 {
		problems = append(problems, "prober.timeout must be positive")
	}
	if c.MerkleCache.Enabled && c.MerkleCache.Address == "" {
		problems = append(problems, "merkle_cache.address is required when enabled")
	}
	if c.Verifier.Workers < 1 {
		problems = append(problems, "verifier.workers must be at least 1")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		problems = append(problems, fmt.Sprintf("log.level %q: %v", c.Log.Level, err))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be console or json", c.Log.Format))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
