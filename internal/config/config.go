// Package config provides unified configuration for the hayabusa broker,
// worker, and search tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine names the shard query command a dispatched command runs.
type Engine string

const (
	// EngineSQLite3 runs `parallel sqlite3` over the shard files.
	EngineSQLite3 Engine = "sqlite3"
	// EngineNative runs the hayabusa-search binary over the shard files.
	EngineNative Engine = "native"
)

// Config holds the unified configuration for all hayabusa processes.
type Config struct {
	// General settings shared by every process
	General GeneralConfig `json:"general" yaml:"general"`

	// Broker configuration
	Broker BrokerConfig `json:"broker" yaml:"broker"`

	// Worker configuration
	Worker WorkerConfig `json:"worker" yaml:"worker"`

	// Search configuration (shard layout and command generation)
	Search SearchConfig `json:"search" yaml:"search"`
}

// GeneralConfig holds settings shared by every process.
type GeneralConfig struct {
	// MaxResultLogLength truncates stdout/stderr values in log output
	MaxResultLogLength int `json:"max_result_log_length" yaml:"max_result_log_length"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// BrokerConfig holds request broker configuration.
type BrokerConfig struct {
	// ListenAddr is the gRPC address workers and submitters connect to
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// MetricsAddr is the HTTP address serving /metrics; empty disables it
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// UsersFile is the YAML user list (user -> password hash)
	UsersFile string `json:"users_file" yaml:"users_file"`

	// RequestTimeout is the age after which a pending request times out
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// MonitorInterval is the interval between timeout monitor sweeps
	MonitorInterval time.Duration `json:"monitor_interval" yaml:"monitor_interval"`

	// RequestLifetime is how long terminal records are retained
	RequestLifetime time.Duration `json:"request_lifetime" yaml:"request_lifetime"`

	// MaxStderrLength truncates consolidated stderr
	MaxStderrLength int `json:"max_stderr_length" yaml:"max_stderr_length"`

	// DeliveryProbeTimeout bounds the callback reachability probe
	DeliveryProbeTimeout time.Duration `json:"delivery_probe_timeout" yaml:"delivery_probe_timeout"`

	// DeliveryWriteTimeout bounds writing the final message to the callback
	DeliveryWriteTimeout time.Duration `json:"delivery_write_timeout" yaml:"delivery_write_timeout"`
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// BrokerAddr is the broker's gRPC address
	BrokerAddr string `json:"broker_addr" yaml:"broker_addr"`

	// Processes is the number of parallel executors
	Processes int `json:"processes" yaml:"processes"`

	// BashPath is the shell used to run commands (brace expansion needs bash)
	BashPath string `json:"bash_path" yaml:"bash_path"`

	// Hostname overrides the hostname used in worker labels
	Hostname string `json:"hostname" yaml:"hostname"`

	// MetricsAddr is the HTTP address serving /metrics; empty disables it
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
}

// SearchConfig holds shard layout and command generation settings.
type SearchConfig struct {
	// BaseDir is the shard store root; each user has a subdirectory
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// MaxSearchDays is the longest accepted time span in days
	MaxSearchDays int `json:"max_search_days" yaml:"max_search_days"`

	// Engine selects the shard query command: sqlite3 or native
	Engine Engine `json:"engine" yaml:"engine"`

	// NativeBinary is the hayabusa-search path used by the native engine
	NativeBinary string `json:"native_binary" yaml:"native_binary"`

	// Concurrency is the number of shards the native tool queries at once
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			MaxResultLogLength: 200,
			LogLevel:           "info",
		},
		Broker: BrokerConfig{
			ListenAddr:           ":7700",
			MetricsAddr:          "",
			UsersFile:            "",
			RequestTimeout:       60 * time.Second,
			MonitorInterval:      time.Second,
			RequestLifetime:      time.Hour,
			MaxStderrLength:      1000,
			DeliveryProbeTimeout: time.Second,
			DeliveryWriteTimeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			BrokerAddr: "localhost:7700",
			Processes:  4,
			BashPath:   "/bin/bash",
		},
		Search: SearchConfig{
			BaseDir:       "./data/hayabusa/store",
			MaxSearchDays: 31,
			Engine:        EngineSQLite3,
			NativeBinary:  "hayabusa-search",
			Concurrency:   8,
		},
	}
}

// Resolve fills derived values left empty by the file and environment.
func (c *Config) Resolve() {
	if c.Search.BaseDir == "" {
		c.Search.BaseDir = "./data/hayabusa/store"
	}
	if c.Broker.UsersFile == "" {
		c.Broker.UsersFile = filepath.Join(filepath.Dir(filepath.Clean(c.Search.BaseDir)), "users.yml")
	}
	if c.Worker.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			c.Worker.Hostname = h
		}
	}
	if c.Search.Engine == "" {
		c.Search.Engine = EngineSQLite3
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Broker.RequestTimeout <= 0 {
		return fmt.Errorf("broker.request_timeout must be positive, got %s", c.Broker.RequestTimeout)
	}
	if c.Broker.MonitorInterval <= 0 {
		return fmt.Errorf("broker.monitor_interval must be positive, got %s", c.Broker.MonitorInterval)
	}
	if c.Broker.RequestLifetime <= 0 {
		return fmt.Errorf("broker.request_lifetime must be positive, got %s", c.Broker.RequestLifetime)
	}
	if c.Broker.MaxStderrLength <= 0 {
		return fmt.Errorf("broker.max_stderr_length must be positive, got %d", c.Broker.MaxStderrLength)
	}
	if c.Worker.Processes <= 0 {
		return fmt.Errorf("worker.processes must be positive, got %d", c.Worker.Processes)
	}
	if c.Search.MaxSearchDays <= 0 {
		return fmt.Errorf("search.max_search_days must be positive, got %d", c.Search.MaxSearchDays)
	}
	switch c.Search.Engine {
	case EngineSQLite3:
	case EngineNative:
		if c.Search.NativeBinary == "" {
			return fmt.Errorf("search.native_binary is required when engine is native")
		}
	default:
		return fmt.Errorf("invalid search engine: %s (must be sqlite3 or native)", c.Search.Engine)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the HAYABUSA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("HAYABUSA_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}

	// Broker configuration
	if v := os.Getenv("HAYABUSA_BROKER_LISTEN_ADDR"); v != "" {
		cfg.Broker.ListenAddr = v
	}
	if v := os.Getenv("HAYABUSA_BROKER_METRICS_ADDR"); v != "" {
		cfg.Broker.MetricsAddr = v
	}
	if v := os.Getenv("HAYABUSA_USERS_FILE"); v != "" {
		cfg.Broker.UsersFile = v
	}
	if v := os.Getenv("HAYABUSA_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Broker.RequestTimeout = d
		}
	}
	if v := os.Getenv("HAYABUSA_REQUEST_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Broker.RequestLifetime = d
		}
	}

	// Worker configuration
	if v := os.Getenv("HAYABUSA_WORKER_BROKER_ADDR"); v != "" {
		cfg.Worker.BrokerAddr = v
	}
	if v := os.Getenv("HAYABUSA_WORKER_PROCESSES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Worker.Processes)
	}
	if v := os.Getenv("HAYABUSA_WORKER_BASH_PATH"); v != "" {
		cfg.Worker.BashPath = v
	}

	// Search configuration
	if v := os.Getenv("HAYABUSA_BASE_DIR"); v != "" {
		cfg.Search.BaseDir = v
	}
	if v := os.Getenv("HAYABUSA_MAX_SEARCH_DAYS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Search.MaxSearchDays)
	}
	if v := os.Getenv("HAYABUSA_SEARCH_ENGINE"); v != "" {
		cfg.Search.Engine = Engine(v)
	}
	if v := os.Getenv("HAYABUSA_NATIVE_BINARY"); v != "" {
		cfg.Search.NativeBinary = v
	}
}
