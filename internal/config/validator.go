package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "server.port")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateBackend()...)
	errors = append(errors, c.validateLocal()...)
	errors = append(errors, c.validateRemote()...)
	errors = append(errors, c.validateRooms()...)
	errors = append(errors, c.validateStatus()...)
	errors = append(errors, c.validateSweep()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		})
	}

	if p := c.Server.PathPrefix; p != "" && (strings.ContainsAny(p, " ?#{}") || strings.Contains(p, "//")) {
		errors = append(errors, ValidationError{
			Field:   "server.path_prefix",
			Value:   p,
			Message: "must be a plain URL path such as /api",
		})
	}

	const minBody = 1024
	if c.Server.MaxBodyBytes < minBody {
		errors = append(errors, ValidationError{
			Field:   "server.max_body_bytes",
			Value:   c.Server.MaxBodyBytes,
			Message: fmt.Sprintf("must be at least %d", minBody),
		})
	}

	const minWatchInterval = 100
	if c.Server.WatchIntervalMs < minWatchInterval {
		errors = append(errors, ValidationError{
			Field:   "server.watch_interval_ms",
			Value:   c.Server.WatchIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minWatchInterval),
		})
	}

	if c.Server.ShutdownTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Value:   c.Server.ShutdownTimeoutSeconds,
			Message: "must be non-negative",
		})
	}

	if c.Server.URL != "" {
		if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "server.url",
				Value:   c.Server.URL,
				Message: "must be an http(s) URL",
			})
		}
	}

	for i, key := range c.Server.APIKeys {
		if strings.TrimSpace(key) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("server.api_keys[%d]", i),
				Value:   key,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validateBackend validates the BackendConfig
func (c *Config) validateBackend() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBackends(), strings.ToLower(c.Backend.Default)) {
		errors = append(errors, ValidationError{
			Field:   "backend.default",
			Value:   c.Backend.Default,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}

	return errors
}

// validateLocal validates the LocalConfig
func (c *Config) validateLocal() []ValidationError {
	var errors []ValidationError

	if len(c.Local.Command) == 0 || strings.TrimSpace(c.Local.Command[0]) == "" {
		errors = append(errors, ValidationError{
			Field:   "local.command",
			Value:   c.Local.Command,
			Message: "must name an executable",
		})
	}
	if c.Local.SilenceTimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "local.silence_timeout_minutes",
			Value:   c.Local.SilenceTimeoutMinutes,
			Message: "must be non-negative (0 disables the check)",
		})
	}
	if c.Local.MaxRuntimeMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "local.max_runtime_minutes",
			Value:   c.Local.MaxRuntimeMinutes,
			Message: "must be non-negative (0 disables the check)",
		})
	}
	if c.Local.GracefulStopSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "local.graceful_stop_seconds",
			Value:   c.Local.GracefulStopSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateRemote validates the RemoteConfig. Missing credentials are not an
// error here; they make the remote backend unavailable instead.
func (c *Config) validateRemote() []ValidationError {
	var errors []ValidationError

	if u, err := url.Parse(c.Remote.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "remote.base_url",
			Value:   c.Remote.BaseURL,
			Message: "must be an http(s) URL",
		})
	}
	if c.Remote.CPUs < 1 {
		errors = append(errors, ValidationError{
			Field:   "remote.cpus",
			Value:   c.Remote.CPUs,
			Message: "must be at least 1",
		})
	}
	if c.Remote.MemoryMB < 256 || c.Remote.MemoryMB%256 != 0 {
		errors = append(errors, ValidationError{
			Field:   "remote.memory_mb",
			Value:   c.Remote.MemoryMB,
			Message: "must be a multiple of 256 and at least 256",
		})
	}
	if len(c.Remote.Command) == 0 {
		errors = append(errors, ValidationError{
			Field:   "remote.command",
			Value:   c.Remote.Command,
			Message: "must not be empty",
		})
	}
	if c.Remote.RequestTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "remote.request_timeout_seconds",
			Value:   c.Remote.RequestTimeoutSeconds,
			Message: "must be positive",
		})
	}
	if c.Remote.StatusTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "remote.status_timeout_seconds",
			Value:   c.Remote.StatusTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateRooms validates the RoomsConfig
func (c *Config) validateRooms() []ValidationError {
	var errors []ValidationError

	for i, pattern := range c.Rooms.Allow {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("rooms.allow[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	return errors
}

// validateStatus validates the StatusConfig
func (c *Config) validateStatus() []ValidationError {
	var errors []ValidationError

	const maxAttempts = 10
	if c.Status.Attempts < 1 || c.Status.Attempts > maxAttempts {
		errors = append(errors, ValidationError{
			Field:   "status.attempts",
			Value:   c.Status.Attempts,
			Message: fmt.Sprintf("must be between 1 and %d", maxAttempts),
		})
	}
	if c.Status.RetryDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "status.retry_delay_ms",
			Value:   c.Status.RetryDelayMs,
			Message: "must be non-negative",
		})
	}
	if c.Status.MaxRetryDelayMs < c.Status.RetryDelayMs {
		errors = append(errors, ValidationError{
			Field:   "status.max_retry_delay_ms",
			Value:   c.Status.MaxRetryDelayMs,
			Message: fmt.Sprintf("must be at least retry_delay_ms (%d)", c.Status.RetryDelayMs),
		})
	}
	if c.Status.BackoffSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "status.backoff_seconds",
			Value:   c.Status.BackoffSeconds,
			Message: "must be non-negative",
		})
	}
	if c.Status.MaxBackoffSeconds < c.Status.BackoffSeconds {
		errors = append(errors, ValidationError{
			Field:   "status.max_backoff_seconds",
			Value:   c.Status.MaxBackoffSeconds,
			Message: fmt.Sprintf("must be at least backoff_seconds (%d)", c.Status.BackoffSeconds),
		})
	}

	return errors
}

// validateSweep validates the SweepConfig
func (c *Config) validateSweep() []ValidationError {
	var errors []ValidationError

	if c.Sweep.IntervalSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "sweep.interval_seconds",
			Value:   c.Sweep.IntervalSeconds,
			Message: "must be non-negative (0 disables the sweep)",
		})
	}

	const maxConcurrency = 64
	if c.Sweep.Concurrency < 1 || c.Sweep.Concurrency > maxConcurrency {
		errors = append(errors, ValidationError{
			Field:   "sweep.concurrency",
			Value:   c.Sweep.Concurrency,
			Message: fmt.Sprintf("must be between 1 and %d", maxConcurrency),
		})
	}
	if c.Sweep.RetentionMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "sweep.retention_minutes",
			Value:   c.Sweep.RetentionMinutes,
			Message: "must be non-negative (0 keeps stopped bots forever)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
