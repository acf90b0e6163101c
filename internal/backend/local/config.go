package local

import "time"

// Config holds the settings for launching local workers.
type Config struct {
	// Command is the worker entry point; the worker arguments are appended.
	Command []string

	// WorkDir is the directory workers run in. Empty means the current one.
	WorkDir string

	// Env is added to the inherited environment of every worker.
	Env map[string]string

	// SilenceTimeout stops a worker that produced no output for this long.
	// Zero disables the check.
	SilenceTimeout time.Duration

	// MaxRuntime stops a worker that has been running this long. Zero
	// disables the check.
	MaxRuntime time.Duration

	// GracefulStopTimeout is how long a worker gets to exit after SIGTERM
	// before it is killed.
	GracefulStopTimeout time.Duration

	// CheckInterval is how often the watchdog evaluates its timeouts.
	CheckInterval time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Command:             []string{"python", "-m", "backend.bot"},
		SilenceTimeout:      10 * time.Minute,
		MaxRuntime:          2 * time.Hour,
		GracefulStopTimeout: 5 * time.Second,
		CheckInterval:       time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Command) == 0 {
		c.Command = d.Command
	}
	if c.GracefulStopTimeout <= 0 {
		c.GracefulStopTimeout = d.GracefulStopTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	return c
}
