package machines

import (
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public machines API endpoint.
	DefaultBaseURL = "https://api.machines.dev/v1"

	userAgent = "roombot"
)

// Guest is the resource shape of a worker machine.
type Guest struct {
	CPUKind  string `json:"cpu_kind"`
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memory_mb"`
}

// Config holds the settings for the remote machines backend.
type Config struct {
	BaseURL  string
	AppName  string
	APIToken string

	// Image defaults to registry.fly.io/<app>:deployment-latest.
	Image  string
	Region string
	Guest  Guest

	// Command is the worker entry point inside the image; the worker
	// arguments are appended.
	Command []string

	// Env is passed to every machine. Empty values are dropped.
	Env map[string]string

	// RequestTimeout bounds a create call; StatusTimeout bounds a status GET.
	RequestTimeout time.Duration
	StatusTimeout  time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Guest:          Guest{CPUKind: "shared", CPUs: 1, MemoryMB: 512},
		Command:        []string{"python", "-m", "backend.bot"},
		RequestTimeout: 30 * time.Second,
		StatusTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	c.AppName = strings.TrimSpace(c.AppName)
	c.APIToken = strings.TrimSpace(c.APIToken)
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = d.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Image == "" && c.AppName != "" {
		c.Image = "registry.fly.io/" + c.AppName + ":deployment-latest"
	}
	if c.Guest.CPUKind == "" {
		c.Guest.CPUKind = d.Guest.CPUKind
	}
	if c.Guest.CPUs <= 0 {
		c.Guest.CPUs = d.Guest.CPUs
	}
	if c.Guest.MemoryMB <= 0 {
		c.Guest.MemoryMB = d.Guest.MemoryMB
	}
	if len(c.Command) == 0 {
		c.Command = d.Command
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.StatusTimeout <= 0 {
		c.StatusTimeout = d.StatusTimeout
	}
	return c
}
