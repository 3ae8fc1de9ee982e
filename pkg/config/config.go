package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Foundry configuration, loaded from a single YAML
// file. Zero values are filled in by Default before validation.
type Config struct {
	// Host is the node identifier used in logs and task claims.
	Host string `yaml:"host"`

	// EnabledHardwareTypes and EnabledWorkerTypes filter the compiled-in
	// driver registry down to what this deployment actually uses.
	EnabledHardwareTypes []string `yaml:"enabled_hardware_types"`
	EnabledWorkerTypes   []string `yaml:"enabled_worker_types"`

	Worker   WorkerConfig   `yaml:"worker"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`

	// Drivers holds per-driver option groups, keyed by driver name. Each
	// driver decodes its own group via DecodeDriver; unknown groups are
	// ignored so operators can stage config for disabled drivers.
	Drivers map[string]yaml.Node `yaml:"drivers"`
}

// WorkerConfig tunes the reconciler.
type WorkerConfig struct {
	// TaskPoolSize bounds how many task executions may be in flight at
	// once. Submissions beyond capacity fail fast.
	TaskPoolSize int `yaml:"task_pool_size"`

	// TaskConcurrency is the maximum chunk size dispatched per wave.
	TaskConcurrency int `yaml:"task_concurrency"`

	// ProcessPendingTaskInterval is the spacing between reconciler ticks,
	// in seconds.
	ProcessPendingTaskInterval int `yaml:"process_pending_task_interval"`
}

// APIConfig tunes the REST API server.
type APIConfig struct {
	HostIP       string `yaml:"host_ip"`
	Port         int    `yaml:"port"`
	MaxLimit     int    `yaml:"max_limit"`
	APIWorkers   int    `yaml:"api_workers"`
	EnableSSLAPI bool   `yaml:"enable_ssl_api"`
	SSLCertFile  string `yaml:"ssl_cert_file"`
	SSLKeyFile   string `yaml:"ssl_key_file"`

	// Tokens maps bearer tokens to identities for the static token
	// validator. Deployments fronted by an external identity service leave
	// this empty and plug in their own validator.
	Tokens map[string]TokenIdentity `yaml:"tokens"`
}

// TokenIdentity is the identity a bearer token resolves to.
type TokenIdentity struct {
	UserID    string   `yaml:"user_id"`
	ProjectID string   `yaml:"project_id"`
	Roles     []string `yaml:"roles"`
}

// DatabaseConfig locates the embedded database.
type DatabaseConfig struct {
	// Path is the directory holding foundry.db.
	Path string `yaml:"path"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		Host:                 hostname,
		EnabledHardwareTypes: []string{"fake-hardware"},
		EnabledWorkerTypes:   []string{"fake-worker"},
		Worker: WorkerConfig{
			TaskPoolSize:               1000,
			TaskConcurrency:            1000,
			ProcessPendingTaskInterval: 60,
		},
		API: APIConfig{
			HostIP:   "0.0.0.0",
			Port:     8001,
			MaxLimit: 1000,
		},
		Database: DatabaseConfig{
			Path: "./foundry-data",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Worker.TaskPoolSize < 1 {
		return fmt.Errorf("worker.task_pool_size must be at least 1")
	}
	if c.Worker.TaskConcurrency < 1 {
		return fmt.Errorf("worker.task_concurrency must be at least 1")
	}
	if c.Worker.ProcessPendingTaskInterval < 1 {
		return fmt.Errorf("worker.process_pending_task_interval must be at least 1")
	}
	if len(c.EnabledHardwareTypes) == 0 {
		return fmt.Errorf("at least one hardware type must be enabled")
	}
	if len(c.EnabledWorkerTypes) == 0 {
		return fmt.Errorf("at least one worker type must be enabled")
	}
	if c.API.EnableSSLAPI && (c.API.SSLCertFile == "" || c.API.SSLKeyFile == "") {
		return fmt.Errorf("api.ssl_cert_file and api.ssl_key_file are required when api.enable_ssl_api is set")
	}
	return nil
}

// ProcessPendingInterval returns the reconciler tick spacing.
func (c *Config) ProcessPendingInterval() time.Duration {
	return time.Duration(c.Worker.ProcessPendingTaskInterval) * time.Second
}

// APIAddr returns the host:port the API server binds to.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.HostIP, c.API.Port)
}

// DecodeDriver decodes the option group for the named driver into out.
// Missing groups leave out untouched so drivers keep their defaults.
func (c *Config) DecodeDriver(name string, out any) error {
	node, ok := c.Drivers[name]
	if !ok {
		return nil
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("failed to parse driver config for %s: %w", name, err)
	}
	return nil
}
