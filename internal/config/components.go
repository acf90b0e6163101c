package config

import (
	"time"

	"github.com/Iron-Ham/roombot/internal/api"
	"github.com/Iron-Ham/roombot/internal/backend/local"
	"github.com/Iron-Ham/roombot/internal/backend/machines"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/logging"
	"github.com/Iron-Ham/roombot/internal/status"
	"github.com/Iron-Ham/roombot/internal/sweeper"
)

// DefaultBackend returns the backend spawns go to.
func (c *Config) DefaultBackend() (bot.BackendKind, error) {
	return bot.ParseBackendKind(c.Backend.Default)
}

// LocalBackend returns the local adapter settings. env is the worker
// environment from WorkerEnv.
func (c *Config) LocalBackend(env map[string]string) local.Config {
	return local.Config{
		Command:             append([]string(nil), c.Local.Command...),
		WorkDir:             c.Local.WorkDir,
		Env:                 env,
		SilenceTimeout:      c.Local.SilenceTimeout(),
		MaxRuntime:          c.Local.MaxRuntime(),
		GracefulStopTimeout: time.Duration(c.Local.GracefulStopSeconds) * time.Second,
	}
}

// RemoteBackend returns the machines adapter settings. env is the worker
// environment from WorkerEnv.
func (c *Config) RemoteBackend(env map[string]string) machines.Config {
	return machines.Config{
		BaseURL:  c.Remote.BaseURL,
		AppName:  c.Remote.AppName,
		APIToken: c.Remote.APIToken,
		Image:    c.Remote.Image,
		Region:   c.Remote.Region,
		Guest: machines.Guest{
			CPUKind:  c.Remote.CPUKind,
			CPUs:     c.Remote.CPUs,
			MemoryMB: c.Remote.MemoryMB,
		},
		Command:        append([]string(nil), c.Remote.Command...),
		Env:            env,
		RequestTimeout: time.Duration(c.Remote.RequestTimeoutSeconds) * time.Second,
		StatusTimeout:  time.Duration(c.Remote.StatusTimeoutSeconds) * time.Second,
	}
}

// StatusResolver returns the status polling settings.
func (c *Config) StatusResolver() status.Config {
	return status.Config{
		Attempts:    c.Status.Attempts,
		BaseDelay:   time.Duration(c.Status.RetryDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.Status.MaxRetryDelayMs) * time.Millisecond,
		BackoffBase: time.Duration(c.Status.BackoffSeconds) * time.Second,
		BackoffMax:  time.Duration(c.Status.MaxBackoffSeconds) * time.Second,
	}
}

// Sweeper returns the background sweep settings.
func (c *Config) Sweeper() sweeper.Config {
	return sweeper.Config{
		Interval:    c.Sweep.Interval(),
		Concurrency: c.Sweep.Concurrency,
		Retention:   c.Sweep.Retention(),
	}
}

// API returns the HTTP server settings for spawns on kind.
func (c *Config) API(kind bot.BackendKind) api.Config {
	return api.Config{
		PathPrefix:     c.Server.PathPrefix,
		DefaultBackend: kind,
		APIKeys:        toSet(c.Server.APIKeys),
		CORSOrigins:    toSet(c.Server.CORSOrigins),
		MaxBodyBytes:   c.Server.MaxBodyBytes,
		WatchInterval:  c.Server.WatchInterval(),
	}
}

// Rotation returns the log file rotation settings.
func (c *Config) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
