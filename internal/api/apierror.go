package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Iron-Ham/roombot/internal/bot"
)

// Error types reported in the error envelope.
const (
	ErrTypeInvalidRequest     = "invalid_request_error"
	ErrTypeAuthentication     = "authentication_error"
	ErrTypeNotFound           = "not_found_error"
	ErrTypeCapacity           = "capacity_error"
	ErrTypeBackendUnavailable = "backend_unavailable_error"
	ErrTypeSpawn              = "spawn_error"
	ErrTypeStatusUnavailable  = "status_unavailable_error"
	ErrTypeAPI                = "api_error"
)

// Error is the body of a failed request.
type Error struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	Param          string `json:"param,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	Backend        string `json:"backend,omitempty"`
	Cause          string `json:"cause,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// Envelope wraps an Error. Detail repeats the message for clients that
// only read a flat detail string.
type Envelope struct {
	Detail string `json:"detail"`
	Error  *Error `json:"error"`
}

// FromError maps err onto an API error and HTTP status.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var vErr *bot.ValidationError
	if errors.As(err, &vErr) {
		return &Error{
			Type:      ErrTypeInvalidRequest,
			Message:   vErr.Error(),
			Param:     vErr.Field,
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	var spawnErr *bot.SpawnError
	if errors.As(err, &spawnErr) {
		out := &Error{
			Type:      ErrTypeSpawn,
			Message:   spawnErr.Error(),
			RequestID: requestID,
			Backend:   spawnErr.Backend.String(),
		}
		var remoteErr *bot.RemoteAPIError
		if errors.As(err, &remoteErr) {
			out.Cause = string(remoteErr.Cause)
			out.UpstreamStatus = remoteErr.StatusCode
		}
		var launchErr *bot.ProcessLaunchError
		if errors.As(err, &launchErr) {
			out.Cause = string(launchErr.Reason)
		}
		return out, http.StatusInternalServerError
	}

	// Backend timeouts inside a spawn are reported above with their detail.
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Type: ErrTypeAPI, Message: "request timeout", RequestID: requestID}, http.StatusGatewayTimeout
	}

	switch {
	case errors.Is(err, bot.ErrValidation):
		return &Error{Type: ErrTypeInvalidRequest, Message: err.Error(), RequestID: requestID}, http.StatusBadRequest
	case errors.Is(err, bot.ErrCapacity):
		return &Error{Type: ErrTypeCapacity, Message: err.Error(), RequestID: requestID}, http.StatusConflict
	case errors.Is(err, bot.ErrNotFound):
		return &Error{Type: ErrTypeNotFound, Message: err.Error(), RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, bot.ErrBackendUnavailable):
		return &Error{Type: ErrTypeBackendUnavailable, Message: err.Error(), RequestID: requestID}, http.StatusInternalServerError
	case errors.Is(err, bot.ErrStatusUnavailable):
		return &Error{Type: ErrTypeStatusUnavailable, Message: err.Error(), RequestID: requestID}, http.StatusServiceUnavailable
	}

	// Do not leak details of unknown errors.
	return &Error{Type: ErrTypeAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, apiErr *Error) {
	writeJSON(w, status, Envelope{Detail: apiErr.Message, Error: apiErr})
}

// writeError maps err and writes the envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := RequestIDFrom(r.Context())
	apiErr, status := FromError(err, reqID)
	writeAPIError(w, status, apiErr)
}
