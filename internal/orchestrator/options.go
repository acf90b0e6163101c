package orchestrator

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/event"
	"github.com/Iron-Ham/roombot/internal/logging"
	"github.com/Iron-Ham/roombot/internal/registry"
	"github.com/Iron-Ham/roombot/internal/status"
)

// Options holds the collaborators of an Orchestrator. Registry and Backends
// are required; everything else has a default.
type Options struct {
	Registry *registry.Registry
	Backends backend.Set

	// Resolver defaults to a status.Resolver over Backends.
	Resolver *status.Resolver

	// Prompts validates prompt selectors.
	Prompts bot.PromptSet

	// RoomPatterns restricts which room URLs may be used. Empty allows all.
	RoomPatterns []string

	// DefaultToken is used when a request carries no token.
	DefaultToken string

	// WorkerEnv is passed to every worker. Empty values are dropped.
	WorkerEnv map[string]string

	// NewID generates provisional bot ids. Defaults to uuid.NewString.
	NewID func() string

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *logging.Logger
	Events *event.Bus
}

// compileRooms compiles the room URL allowlist.
func compileRooms(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid room pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func (o Options) withDefaults() Options {
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.NopLogger()
	}
	return o
}
