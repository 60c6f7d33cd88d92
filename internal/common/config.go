package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Paths    PathsConfig   `yaml:"paths"`
	Logging  LoggingConfig `yaml:"logging"`
	Flows    FlowsConfig   `yaml:"flows"`
	Vault    VaultConfig   `yaml:"vault"`
	Timezone string        `yaml:"timezone"` // IANA name, e.g. "Europe/Brussels"

	// Flows added to the scheduler at startup. Individual failures are
	// logged and skipped; they never abort service start.
	AutostartFlows []AutostartFlow `yaml:"autostart_flows"`

	location *time.Location
}

type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Token string `yaml:"token"` // bearer token for the API
}

type PathsConfig struct {
	Data      string `yaml:"data"`      // base data directory
	Flows     string `yaml:"flows"`     // flow YAML files
	Templates string `yaml:"templates"` // jinja template files
	Secrets   string `yaml:"secrets"`   // secrets YAML file
	JobsDB    string `yaml:"jobs_db"`   // sqlite job store file
	Logs      string `yaml:"logs"`      // log directory
}

type LoggingConfig struct {
	Level    string   `yaml:"level"`     // "debug", "info", "warn", "error"
	Output   []string `yaml:"output"`    // "stdout", "file"
	FileName string   `yaml:"file_name"` // log file name inside Paths.Logs
}

// FlowsConfig contains flow execution defaults
type FlowsConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"` // default per-run timeout
	MaxWorkers     int `yaml:"max_workers"`     // shared worker pool size
}

// VaultConfig contains Hashicorp Vault access configuration
type VaultConfig struct {
	Token           string `yaml:"token"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// AutostartFlow is one entry of the autostart_flows list in config.yml.
// Exactly one of Cron / EverySeconds must be set.
type AutostartFlow struct {
	Path           string `yaml:"path"`
	Cron           string `yaml:"cron,omitempty"`
	EverySeconds   int    `yaml:"every_seconds,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
}

// NewDefaultConfig creates a configuration with default values.
// Paths derived from the data directory are resolved in LoadFromFiles so a
// DATA_PATH override cascades into them.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:  5000,
			Host:  "localhost",
			Token: "default_token",
		},
		Paths: PathsConfig{
			Data: "./data",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   []string{"stdout", "file"},
			FileName: "flowd.log",
		},
		Flows: FlowsConfig{
			TimeoutSeconds: 600,
			MaxWorkers:     10,
		},
		Vault: VaultConfig{
			CacheTTLSeconds: 60,
		},
		Timezone: "Local",
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	resolveDerivedPaths(config)

	loc, err := resolveLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}
	config.location = loc

	return config, nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Location returns the configured timezone location
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// LogFilePath returns the full path of the active log file
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.Logs, c.Logging.FileName)
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Server configuration
	if port := os.Getenv("API_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("API_HOST"); host != "" {
		config.Server.Host = host
	}
	if token := os.Getenv("API_TOKEN"); token != "" {
		config.Server.Token = token
	}

	// Paths
	if path := os.Getenv("DATA_PATH"); path != "" {
		config.Paths.Data = path
	}
	if path := os.Getenv("FLOWS_PATH"); path != "" {
		config.Paths.Flows = path
	}
	if path := os.Getenv("TEMPLATES_PATH"); path != "" {
		config.Paths.Templates = path
	}
	if path := os.Getenv("SECRETS_PATH"); path != "" {
		config.Paths.Secrets = path
	}
	if path := os.Getenv("JOBS_DB_PATH"); path != "" {
		config.Paths.JobsDB = path
	}
	if path := os.Getenv("LOG_PATH"); path != "" {
		config.Paths.Logs = path
	}

	// Logging
	if name := os.Getenv("LOG_FILE_NAME"); name != "" {
		config.Logging.FileName = name
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Flow execution
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		config.Timezone = tz
	}
	if timeout := os.Getenv("FLOW_TIMEOUT_SECONDS"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			config.Flows.TimeoutSeconds = t
		}
	}
	if workers := os.Getenv("FLOW_MAX_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			config.Flows.MaxWorkers = w
		}
	}

	// Vault
	if token := os.Getenv("HASHICORP_VAULT_TOKEN"); token != "" {
		config.Vault.Token = token
	}
	if ttl := os.Getenv("HASHICORP_VAULT_CACHE_TTL"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil && t > 0 {
			config.Vault.CacheTTLSeconds = t
		}
	}
}

// resolveDerivedPaths fills path defaults that hang off the data directory
func resolveDerivedPaths(config *Config) {
	data := config.Paths.Data
	if config.Paths.Flows == "" {
		config.Paths.Flows = filepath.Join(data, "flows")
	}
	if config.Paths.Templates == "" {
		config.Paths.Templates = filepath.Join(data, "templates")
	}
	if config.Paths.Secrets == "" {
		config.Paths.Secrets = filepath.Join(data, "secrets.yml")
	}
	if config.Paths.JobsDB == "" {
		config.Paths.JobsDB = filepath.Join(data, "jobs.sqlite")
	}
	if config.Paths.Logs == "" {
		config.Paths.Logs = filepath.Join(data, "logs")
	}
}

func resolveLocation(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	default:
		return time.LoadLocation(name)
	}
}

// ConfigFilePath returns the service config file path, honoring CONFIG_FILE.
// The file holds the autostart_flows list and any scalar override.
func ConfigFilePath() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	data := os.Getenv("DATA_PATH")
	if data == "" {
		data = "./data"
	}
	return filepath.Join(data, "config.yml")
}
