package bot

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Typed errors below unwrap to the matching sentinel.
var (
	// ErrValidation is returned when a spawn request is malformed or missing
	// required fields. Never retried.
	ErrValidation = errors.New("invalid bot request")

	// ErrCapacity is returned when a room already runs the maximum number of
	// bots. Callers may retry later.
	ErrCapacity = errors.New("room is at bot capacity")

	// ErrBackendUnavailable is returned when the selected backend is missing
	// the credentials or configuration it needs.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNotFound is returned for a status query on an id that neither the
	// registry nor any backend knows.
	ErrNotFound = errors.New("bot not found")

	// ErrTransient marks a status poll that failed for a reason that says
	// nothing about the worker itself (network failure, timeout, 5xx).
	ErrTransient = errors.New("transient backend fault")

	// ErrStatusUnavailable is returned when a status could not be resolved
	// and no previous observation exists to fall back on.
	ErrStatusUnavailable = errors.New("bot status unavailable")
)

// ValidationError describes a single invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LaunchFailure classifies why a local worker process could not start.
type LaunchFailure string

const (
	LaunchNotFound   LaunchFailure = "not_found"
	LaunchPermission LaunchFailure = "permission"
	LaunchOther      LaunchFailure = "other"
)

// ProcessLaunchError is returned by the local backend when the worker
// executable cannot be started. It is fatal for the spawn and not retried.
type ProcessLaunchError struct {
	Command string
	Reason  LaunchFailure
	Err     error
}

func (e *ProcessLaunchError) Error() string {
	return fmt.Sprintf("launch %q failed (%s): %v", e.Command, e.Reason, e.Err)
}

func (e *ProcessLaunchError) Unwrap() error { return e.Err }

// RemoteCause classifies a failed remote machines API call.
type RemoteCause string

const (
	RemoteAuth           RemoteCause = "auth"
	RemoteRateLimit      RemoteCause = "rate_limit"
	RemoteInvalidPayload RemoteCause = "invalid_payload"
	RemoteServer         RemoteCause = "server"
	RemoteTransport      RemoteCause = "transport"
	RemoteUnexpected     RemoteCause = "unexpected"
)

// ClassifyRemoteStatus maps an HTTP status code from the machines API onto a
// RemoteCause.
func ClassifyRemoteStatus(code int) RemoteCause {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return RemoteAuth
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
		return RemoteRateLimit
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return RemoteInvalidPayload
	case code >= 500:
		return RemoteServer
	default:
		return RemoteUnexpected
	}
}

// RemoteAPIError wraps a failed call to the remote machines API. StatusCode
// is zero when the request never produced a response.
type RemoteAPIError struct {
	Op         string
	StatusCode int
	Body       string
	Cause      RemoteCause
	Err        error
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("machines api %s: %s: %v", e.Op, e.Cause, e.Err)
	}
	return fmt.Sprintf("machines api %s: %s (status %d): %s", e.Op, e.Cause, e.StatusCode, e.Body)
}

func (e *RemoteAPIError) Unwrap() error { return e.Err }

// SpawnError is returned by the orchestrator when the selected backend failed
// to create a worker. Err carries the backend detail.
type SpawnError struct {
	Backend BackendKind
	RoomURL string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn on %s backend failed: %v", e.Backend, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
