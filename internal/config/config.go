package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete roombot configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Local   LocalConfig   `mapstructure:"local" yaml:"local"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Worker  WorkerConfig  `mapstructure:"worker" yaml:"worker"`
	Rooms   RoomsConfig   `mapstructure:"rooms" yaml:"rooms"`
	Status  StatusConfig  `mapstructure:"status" yaml:"status"`
	Sweep   SweepConfig   `mapstructure:"sweep" yaml:"sweep"`
	Prompts PromptsConfig `mapstructure:"prompts" yaml:"prompts"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// PathPrefix is prepended to every route (e.g. "/api")
	PathPrefix string `mapstructure:"path_prefix" yaml:"path_prefix"`
	// APIKeys enables bearer authentication when non-empty
	APIKeys []string `mapstructure:"api_keys" yaml:"api_keys"`
	// CORSOrigins lists browser origins allowed to call the API ("*" for any)
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// MaxBodyBytes bounds the size of a request body
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	// WatchIntervalMs is how often a status watch stream re-reads the status
	WatchIntervalMs int `mapstructure:"watch_interval_ms" yaml:"watch_interval_ms"`
	// ShutdownTimeoutSeconds bounds the graceful drain on shutdown
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
	// URL is where the CLI client reaches a running server
	URL string `mapstructure:"url" yaml:"url"`
}

// BackendConfig selects where bots run
type BackendConfig struct {
	// Default is the backend every spawn uses: "local" or "remote"
	Default string `mapstructure:"default" yaml:"default"`
}

// LocalConfig controls local worker processes
type LocalConfig struct {
	// Command is the worker entry point; bot arguments are appended
	Command []string `mapstructure:"command" yaml:"command"`
	// WorkDir is the directory workers run in (default: current directory)
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir"`
	// SilenceTimeoutMinutes stops a worker that printed nothing for this long (0 = disabled)
	SilenceTimeoutMinutes int `mapstructure:"silence_timeout_minutes" yaml:"silence_timeout_minutes"`
	// MaxRuntimeMinutes stops a worker that has run this long (0 = disabled)
	MaxRuntimeMinutes int `mapstructure:"max_runtime_minutes" yaml:"max_runtime_minutes"`
	// GracefulStopSeconds is how long a worker gets between SIGTERM and SIGKILL
	GracefulStopSeconds int `mapstructure:"graceful_stop_seconds" yaml:"graceful_stop_seconds"`
}

// RemoteConfig controls the remote machines backend
type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// AppName falls back to FLY_APP_NAME
	AppName string `mapstructure:"app_name" yaml:"app_name"`
	// APIToken falls back to FLY_API_KEY
	APIToken string `mapstructure:"api_token" yaml:"api_token"`
	// Image defaults to registry.fly.io/<app_name>:deployment-latest
	Image    string   `mapstructure:"image" yaml:"image"`
	Region   string   `mapstructure:"region" yaml:"region"`
	CPUKind  string   `mapstructure:"cpu_kind" yaml:"cpu_kind"`
	CPUs     int      `mapstructure:"cpus" yaml:"cpus"`
	MemoryMB int      `mapstructure:"memory_mb" yaml:"memory_mb"`
	Command  []string `mapstructure:"command" yaml:"command"`
	// RequestTimeoutSeconds bounds a machine create call
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	// StatusTimeoutSeconds bounds a machine status read
	StatusTimeoutSeconds int `mapstructure:"status_timeout_seconds" yaml:"status_timeout_seconds"`
}

// WorkerConfig controls the environment handed to workers
type WorkerConfig struct {
	// Env is passed to every worker as is
	Env map[string]string `mapstructure:"env" yaml:"env"`
	// Passthrough names variables copied from the server environment when set
	Passthrough []string `mapstructure:"passthrough" yaml:"passthrough"`
	// Required names variables that must be set before serve starts
	Required []string `mapstructure:"required" yaml:"required"`
}

// RoomsConfig controls which rooms bots may join
type RoomsConfig struct {
	// Allow is a list of glob patterns for room URLs; empty allows any room
	Allow []string `mapstructure:"allow" yaml:"allow"`
	// DefaultToken is used when a spawn request carries no token
	DefaultToken string `mapstructure:"default_token" yaml:"default_token"`
}

// StatusConfig controls status polling retries and backoff
type StatusConfig struct {
	Attempts          int `mapstructure:"attempts" yaml:"attempts"`
	RetryDelayMs      int `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	MaxRetryDelayMs   int `mapstructure:"max_retry_delay_ms" yaml:"max_retry_delay_ms"`
	BackoffSeconds    int `mapstructure:"backoff_seconds" yaml:"backoff_seconds"`
	MaxBackoffSeconds int `mapstructure:"max_backoff_seconds" yaml:"max_backoff_seconds"`
}

// SweepConfig controls the background status sweep
type SweepConfig struct {
	// IntervalSeconds between sweeps (0 = disabled)
	IntervalSeconds int `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	// Concurrency bounds parallel status reads during a sweep
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// RetentionMinutes is how long stopped bots stay queryable (0 = forever)
	RetentionMinutes int `mapstructure:"retention_minutes" yaml:"retention_minutes"`
}

// PromptsConfig controls the prompt scenario catalog
type PromptsConfig struct {
	// File is an optional YAML catalog extending or replacing the built-in scenarios
	File string `mapstructure:"file" yaml:"file"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// File writes logs to this path instead of stderr
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 50)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 5)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   7860,
			PathPrefix:             "",
			APIKeys:                []string{},
			CORSOrigins:            []string{"*"},
			MaxBodyBytes:           64 << 10,
			WatchIntervalMs:        2000,
			ShutdownTimeoutSeconds: 15,
			URL:                    "http://127.0.0.1:7860",
		},
		Backend: BackendConfig{
			Default: "remote",
		},
		Local: LocalConfig{
			Command:               []string{"python", "-m", "backend.bot"},
			WorkDir:               "",
			SilenceTimeoutMinutes: 10,
			MaxRuntimeMinutes:     120,
			GracefulStopSeconds:   5,
		},
		Remote: RemoteConfig{
			BaseURL:               "https://api.machines.dev/v1",
			Region:                "",
			CPUKind:               "shared",
			CPUs:                  1,
			MemoryMB:              512,
			Command:               []string{"python", "-m", "backend.bot"},
			RequestTimeoutSeconds: 30,
			StatusTimeoutSeconds:  5,
		},
		Worker: WorkerConfig{
			Env: map[string]string{"DEBUG": "false"},
			Passthrough: []string{
				"DAILY_API_KEY",
				"OPENAI_API_KEY",
				"ELEVENLABS_API_KEY",
				"ELEVENLABS_VOICE_ID",
				"DEEPGRAM_API_KEY",
				"DEBUG",
			},
			Required: []string{
				"OPENAI_API_KEY",
				"DAILY_API_KEY",
				"ELEVENLABS_VOICE_ID",
				"ELEVENLABS_API_KEY",
			},
		},
		Rooms: RoomsConfig{
			Allow: []string{},
		},
		Status: StatusConfig{
			Attempts:          3,
			RetryDelayMs:      100,
			MaxRetryDelayMs:   1000,
			BackoffSeconds:    1,
			MaxBackoffSeconds: 30,
		},
		Sweep: SweepConfig{
			IntervalSeconds:  15,
			Concurrency:      4,
			RetentionMinutes: 60,
		},
		Prompts: PromptsConfig{
			File: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// ShutdownTimeout returns the graceful shutdown bound as a Duration
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// WatchInterval returns the watch poll interval as a Duration
func (c *ServerConfig) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalMs) * time.Millisecond
}

// SilenceTimeout returns the silence timeout as a Duration (0 = disabled)
func (c *LocalConfig) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutMinutes) * time.Minute
}

// MaxRuntime returns the runtime cap as a Duration (0 = disabled)
func (c *LocalConfig) MaxRuntime() time.Duration {
	return time.Duration(c.MaxRuntimeMinutes) * time.Minute
}

// Interval returns the sweep interval as a Duration (0 = disabled)
func (c *SweepConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Retention returns the retention of inert bots as a Duration (0 = forever)
func (c *SweepConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Server defaults
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.path_prefix", defaults.Server.PathPrefix)
	viper.SetDefault("server.api_keys", defaults.Server.APIKeys)
	viper.SetDefault("server.cors_origins", defaults.Server.CORSOrigins)
	viper.SetDefault("server.max_body_bytes", defaults.Server.MaxBodyBytes)
	viper.SetDefault("server.watch_interval_ms", defaults.Server.WatchIntervalMs)
	viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)
	viper.SetDefault("server.url", defaults.Server.URL)

	// Backend defaults
	viper.SetDefault("backend.default", defaults.Backend.Default)

	// Local defaults
	viper.SetDefault("local.command", defaults.Local.Command)
	viper.SetDefault("local.work_dir", defaults.Local.WorkDir)
	viper.SetDefault("local.silence_timeout_minutes", defaults.Local.SilenceTimeoutMinutes)
	viper.SetDefault("local.max_runtime_minutes", defaults.Local.MaxRuntimeMinutes)
	viper.SetDefault("local.graceful_stop_seconds", defaults.Local.GracefulStopSeconds)

	// Remote defaults
	viper.SetDefault("remote.base_url", defaults.Remote.BaseURL)
	viper.SetDefault("remote.app_name", "")
	viper.SetDefault("remote.api_token", "")
	viper.SetDefault("remote.image", defaults.Remote.Image)
	viper.SetDefault("remote.region", defaults.Remote.Region)
	viper.SetDefault("remote.cpu_kind", defaults.Remote.CPUKind)
	viper.SetDefault("remote.cpus", defaults.Remote.CPUs)
	viper.SetDefault("remote.memory_mb", defaults.Remote.MemoryMB)
	viper.SetDefault("remote.command", defaults.Remote.Command)
	viper.SetDefault("remote.request_timeout_seconds", defaults.Remote.RequestTimeoutSeconds)
	viper.SetDefault("remote.status_timeout_seconds", defaults.Remote.StatusTimeoutSeconds)

	// Worker defaults
	viper.SetDefault("worker.env", defaults.Worker.Env)
	viper.SetDefault("worker.passthrough", defaults.Worker.Passthrough)
	viper.SetDefault("worker.required", defaults.Worker.Required)

	// Rooms defaults
	viper.SetDefault("rooms.allow", defaults.Rooms.Allow)
	viper.SetDefault("rooms.default_token", "")

	// Status defaults
	viper.SetDefault("status.attempts", defaults.Status.Attempts)
	viper.SetDefault("status.retry_delay_ms", defaults.Status.RetryDelayMs)
	viper.SetDefault("status.max_retry_delay_ms", defaults.Status.MaxRetryDelayMs)
	viper.SetDefault("status.backoff_seconds", defaults.Status.BackoffSeconds)
	viper.SetDefault("status.max_backoff_seconds", defaults.Status.MaxBackoffSeconds)

	// Sweep defaults
	viper.SetDefault("sweep.interval_seconds", defaults.Sweep.IntervalSeconds)
	viper.SetDefault("sweep.concurrency", defaults.Sweep.Concurrency)
	viper.SetDefault("sweep.retention_minutes", defaults.Sweep.RetentionMinutes)

	// Prompts defaults
	viper.SetDefault("prompts.file", defaults.Prompts.File)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Vendor variable names used by existing deployments
	if cfg.Remote.APIToken == "" {
		cfg.Remote.APIToken = os.Getenv("FLY_API_KEY")
	}
	if cfg.Remote.AppName == "" {
		cfg.Remote.AppName = os.Getenv("FLY_APP_NAME")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "roombot")
	}
	// Fall back to ~/.config/roombot
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roombot"
	}
	return filepath.Join(home, ".config", "roombot")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidBackends returns the list of valid backend.default values
func ValidBackends() []string {
	return []string{"local", "remote"}
}

// RemoteConfigured reports whether the remote backend has the credentials it needs
func (c *Config) RemoteConfigured() bool {
	return strings.TrimSpace(c.Remote.APIToken) != "" && strings.TrimSpace(c.Remote.AppName) != ""
}

// MissingRemoteEnv lists the remote settings that are not set, named by the
// environment variables that can provide them
func (c *Config) MissingRemoteEnv() []string {
	var missing []string
	if strings.TrimSpace(c.Remote.APIToken) == "" {
		missing = append(missing, "FLY_API_KEY")
	}
	if strings.TrimSpace(c.Remote.AppName) == "" {
		missing = append(missing, "FLY_APP_NAME")
	}
	return missing
}
