// Package prompt holds the catalog of conversation scenarios a bot can be
// started with. The scenario text itself lives with the worker; the control
// plane only needs to know which selectors are valid.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/roombot/internal/bot"
)

// Scenario describes one selectable prompt.
type Scenario struct {
	Key         string `yaml:"key" json:"key"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// builtin mirrors the scenarios the worker ships with.
var builtin = []Scenario{
	{Key: "default", Title: "Default", Description: "General voice-change conversation"},
	{Key: "it_support", Title: "IT Support", Description: "Help desk agent asking to verify account access"},
	{Key: "corporate", Title: "Corporate", Description: "Executive requesting an urgent favour"},
	{Key: "finance_fraud", Title: "Finance Fraud", Description: "Bank fraud department reporting suspicious charges"},
	{Key: "engineering_breach", Title: "Engineering Breach", Description: "Engineer escalating a production breach"},
	{Key: "security_alert", Title: "Security Alert", Description: "Security team reporting a compromised account"},
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ErrInvalidScenario is returned for a scenario that cannot be added to a
// catalog.
var ErrInvalidScenario = errors.New("invalid prompt scenario")

// Catalog is the set of known scenarios. It is safe for concurrent use and
// can be replaced wholesale when the configuration is reloaded.
type Catalog struct {
	mu        sync.RWMutex
	scenarios map[string]Scenario
}

var _ bot.PromptSet = (*Catalog)(nil)

// Default returns a catalog holding the built-in scenarios.
func Default() *Catalog {
	c, _ := New(builtin)
	return c
}

// New builds a catalog from scenarios. Keys must be unique lowercase
// identifiers and may not be the reserved custom selector.
func New(scenarios []Scenario) (*Catalog, error) {
	m := make(map[string]Scenario, len(scenarios))
	for _, s := range scenarios {
		if err := validate(s); err != nil {
			return nil, err
		}
		if _, dup := m[s.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidScenario, s.Key)
		}
		if s.Title == "" {
			s.Title = s.Key
		}
		m[s.Key] = s
	}
	return &Catalog{scenarios: m}, nil
}

func validate(s Scenario) error {
	if s.Key == bot.CustomPrompt {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidScenario, bot.CustomPrompt)
	}
	if !keyPattern.MatchString(s.Key) {
		return fmt.Errorf("%w: key %q must match %s", ErrInvalidScenario, s.Key, keyPattern)
	}
	return nil
}

// file is the on-disk layout of a scenario file.
type file struct {
	// Replace drops the built-in scenarios instead of extending them.
	Replace   bool       `yaml:"replace"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Parse builds a catalog from YAML. Scenarios in data extend the built-in
// set, overriding entries with the same key, unless data sets replace: true.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompt file: %w", err)
	}

	merged := make([]Scenario, 0, len(builtin)+len(f.Scenarios))
	seen := make(map[string]int)
	if !f.Replace {
		for _, s := range builtin {
			seen[s.Key] = len(merged)
			merged = append(merged, s)
		}
	}
	for _, s := range f.Scenarios {
		if i, ok := seen[s.Key]; ok && !f.Replace {
			merged[i] = s
			continue
		}
		seen[s.Key] = len(merged)
		merged = append(merged, s)
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: prompt file defines no scenarios", ErrInvalidScenario)
	}
	return New(merged)
}

// Load reads a scenario file. An empty path yields the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}
	return Parse(data)
}

// Has reports whether key names a known scenario.
func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.scenarios[key]
	return ok
}

// Get returns the scenario for key.
func (c *Catalog) Get(key string) (Scenario, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.scenarios[key]
	return s, ok
}

// Keys returns the sorted scenario keys.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.scenarios))
	for k := range c.scenarios {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scenarios returns every scenario sorted by key, with "default" first.
func (c *Catalog) Scenarios() []Scenario {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Scenario, 0, len(c.scenarios))
	for _, s := range c.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].Key == "default") != (out[j].Key == "default") {
			return out[i].Key == "default"
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Len returns the number of scenarios.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.scenarios)
}

// Replace swaps in the scenarios of other. Requests validated afterwards see
// the new set.
func (c *Catalog) Replace(other *Catalog) {
	if other == nil || other == c {
		return
	}
	other.mu.RLock()
	next := make(map[string]Scenario, len(other.scenarios))
	for k, v := range other.scenarios {
		next[k] = v
	}
	other.mu.RUnlock()

	c.mu.Lock()
	c.scenarios = next
	c.mu.Unlock()
}
