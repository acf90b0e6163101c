package bot

import (
	"strings"
	"time"
)

// CustomPrompt is the prompt selector that requires CustomPrompt text.
const CustomPrompt = "custom"

// MaxBotsPerRoom is the number of bots a single room may run at once.
const MaxBotsPerRoom = 1

// PromptSet reports whether a prompt selector names a known scenario.
type PromptSet interface {
	Has(key string) bool
}

// Request holds the inputs to a spawn.
type Request struct {
	RoomURL      string `json:"room_url"`
	Token        string `json:"token,omitempty"`
	Prompt       string `json:"selected_prompt"`
	VoiceID      string `json:"voice_id,omitempty"`
	CustomPrompt string `json:"custom_prompt,omitempty"`
}

// Normalize trims surrounding whitespace from every field.
func (r Request) Normalize() Request {
	return Request{
		RoomURL:      strings.TrimSpace(r.RoomURL),
		Token:        strings.TrimSpace(r.Token),
		Prompt:       strings.TrimSpace(r.Prompt),
		VoiceID:      strings.TrimSpace(r.VoiceID),
		CustomPrompt: strings.TrimSpace(r.CustomPrompt),
	}
}

// Validate checks the request shape. The prompt selector must either be
// known to prompts or be CustomPrompt with non-empty custom text. Token
// requirements depend on the backend and are checked by the orchestrator.
func (r Request) Validate(prompts PromptSet) error {
	if r.RoomURL == "" {
		return &ValidationError{Field: "room_url", Message: "is required"}
	}
	if r.Prompt == "" {
		return &ValidationError{Field: "selected_prompt", Message: "is required"}
	}
	if r.Prompt == CustomPrompt {
		if r.CustomPrompt == "" {
			return &ValidationError{Field: "custom_prompt", Message: "is required when selected_prompt is \"custom\""}
		}
		return nil
	}
	if prompts == nil || !prompts.Has(r.Prompt) {
		return &ValidationError{Field: "selected_prompt", Message: "unknown prompt \"" + r.Prompt + "\""}
	}
	return nil
}

// LaunchSpec is the normalized configuration a backend needs to start one
// worker. Both backends derive the worker command line from Args.
type LaunchSpec struct {
	ProvisionalID string
	RoomURL       string
	Token         string
	Prompt        string
	VoiceID       string
	CustomPrompt  string

	// Env is the flat set of environment variables for the worker. Entries
	// with empty values are never passed on.
	Env map[string]string
}

// NewLaunchSpec builds a LaunchSpec for a validated request.
func NewLaunchSpec(provisionalID string, req Request, env map[string]string) LaunchSpec {
	return LaunchSpec{
		ProvisionalID: provisionalID,
		RoomURL:       req.RoomURL,
		Token:         req.Token,
		Prompt:        req.Prompt,
		VoiceID:       req.VoiceID,
		CustomPrompt:  req.CustomPrompt,
		Env:           env,
	}
}

// Args returns the worker argument vector:
//
//	--room_url <url> [--token <t>] --prompt <selector> [--voice_id <id>] [--custom_prompt <text>]
func (s LaunchSpec) Args() []string {
	args := []string{"--room_url", s.RoomURL}
	if s.Token != "" {
		args = append(args, "--token", s.Token)
	}
	args = append(args, "--prompt", s.Prompt)
	if s.VoiceID != "" {
		args = append(args, "--voice_id", s.VoiceID)
	}
	if s.CustomPrompt != "" {
		args = append(args, "--custom_prompt", s.CustomPrompt)
	}
	return args
}

// CleanEnv returns a copy of Env without empty keys or values.
func (s LaunchSpec) CleanEnv() map[string]string {
	out := make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Handle is the record of a spawned bot.
type Handle struct {
	ID        string      `json:"bot_id"`
	Backend   BackendKind `json:"backend"`
	RoomURL   string      `json:"room_url"`
	CreatedAt time.Time   `json:"created_at"`

	// Status is the last observed canonical status and ObservedAt when it
	// was observed.
	Status     Status    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`

	// Active is true while the handle counts toward its room's capacity.
	Active bool `json:"active"`
}
