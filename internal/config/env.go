package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env")
// into the process environment. Variables already set are not overridden
// and missing files are skipped.
func LoadDotEnv(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var loaded []string
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// WorkerEnv builds the environment handed to every worker: the configured
// env map, overridden by passthrough variables that are set in getenv.
// Empty values are dropped.
func (c *Config) WorkerEnv(getenv func(string) string) map[string]string {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := make(map[string]string, len(c.Worker.Env)+len(c.Worker.Passthrough))
	for k, v := range c.Worker.Env {
		// viper lower-cases map keys read from files and the environment
		if v != "" {
			env[strings.ToUpper(k)] = v
		}
	}
	for _, name := range c.Worker.Passthrough {
		if v := getenv(name); v != "" {
			env[name] = v
		}
	}
	return env
}

// MissingRequired returns the required worker variables that getenv does
// not provide, in configuration order.
func (c *Config) MissingRequired(getenv func(string) string) []string {
	if getenv == nil {
		getenv = os.Getenv
	}
	var missing []string
	for _, name := range c.Worker.Required {
		if strings.TrimSpace(getenv(name)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
