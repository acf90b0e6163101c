package bot

import (
	"fmt"
	"strings"
)

// Status is the canonical lifecycle status of a bot, independent of the
// backend that runs it.
type Status int

const (
	// StatusPending means the spawn was accepted but the worker is not yet
	// confirmed alive.
	StatusPending Status = iota

	// StatusRunning means the worker is confirmed alive.
	StatusRunning

	// StatusStopped means the worker terminated normally.
	StatusStopped

	// StatusError means the worker terminated abnormally or the backend
	// reports a failure.
	StatusError

	// StatusUnknown means the backend reports a transitional or unrecognized
	// state. It is not terminal.
	StatusUnknown
)

// String returns the lowercase wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusError
}

// ParseStatus converts a wire name back into a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "stopped":
		return StatusStopped, nil
	case "error":
		return StatusError, nil
	case "unknown":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown bot status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so statuses encode as their
// wire name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Machine lifecycle states reported by the remote machines API.
const (
	MachineStateStarted   = "started"
	MachineStateStopped   = "stopped"
	MachineStateDestroyed = "destroyed"
	MachineStateFailed    = "failed"
)

// StatusFromMachineState maps a remote machine state onto the canonical
// status. Transitional states such as "created" or "starting" map to
// StatusUnknown.
func StatusFromMachineState(state string) Status {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case MachineStateStarted:
		return StatusRunning
	case MachineStateStopped, MachineStateDestroyed:
		return StatusStopped
	case MachineStateFailed:
		return StatusError
	default:
		return StatusUnknown
	}
}

// StatusFromExit maps an observed local process state onto the canonical
// status.
func StatusFromExit(exited bool, exitCode int) Status {
	if !exited {
		return StatusRunning
	}
	if exitCode == 0 {
		return StatusStopped
	}
	return StatusError
}
