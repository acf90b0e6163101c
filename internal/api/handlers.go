package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/prompt"
)

// StartResponse is returned by POST /start.
type StartResponse struct {
	BotID   string `json:"bot_id"`
	RoomURL string `json:"room_url"`
}

// StatusResponse is returned by GET /status/{bot_id} and streamed by the
// watch endpoint.
type StatusResponse struct {
	BotID  string     `json:"bot_id"`
	Status bot.Status `json:"status"`
}

// BotsResponse is returned by GET /bots.
type BotsResponse struct {
	Capacity int          `json:"capacity_per_room"`
	Bots     []bot.Handle `json:"bots"`
}

// PromptsResponse is returned by GET /prompts.
type PromptsResponse struct {
	Prompts []prompt.Scenario `json:"prompts"`
	Custom  string            `json:"custom"`
}

// ReadyResponse is returned by GET /readyz.
type ReadyResponse struct {
	OK             bool     `json:"ok"`
	DefaultBackend string   `json:"default_backend"`
	Backends       []string `json:"backends"`
	Issues         []string `json:"issues,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeStart(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h, err := s.svc.Spawn(r.Context(), req, s.cfg.DefaultBackend)
	if err != nil {
		reqID, _ := RequestIDFrom(r.Context())
		if status := errorStatus(err); status >= http.StatusInternalServerError {
			s.logger.WithRoom(req.RoomURL).Error("spawn failed", "request_id", reqID, "error", err.Error())
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StartResponse{BotID: h.ID, RoomURL: h.RoomURL})
}

func (s *Server) decodeStart(w http.ResponseWriter, r *http.Request) (bot.Request, error) {
	var req bot.Request
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return req, &bot.ValidationError{Field: "body", Message: fmt.Sprintf("exceeds %d bytes", maxErr.Limit)}
		case errors.Is(err, io.EOF):
			return req, &bot.ValidationError{Field: "body", Message: "is required"}
		default:
			return req, &bot.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
		}
	}
	return req, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("bot_id"))
	if id == "" {
		writeError(w, r, &bot.ValidationError{Field: "bot_id", Message: "is required"})
		return
	}
	h, err := s.svc.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{BotID: h.ID, Status: h.Status})
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	bots := s.svc.List()
	if room := strings.TrimSpace(r.URL.Query().Get("room_url")); room != "" {
		filtered := bots[:0]
		for _, h := range bots {
			if h.RoomURL == room {
				filtered = append(filtered, h)
			}
		}
		bots = filtered
	}
	if bots == nil {
		bots = []bot.Handle{}
	}
	writeJSON(w, http.StatusOK, BotsResponse{Capacity: s.svc.Capacity(), Bots: bots})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	resp := PromptsResponse{Prompts: []prompt.Scenario{}, Custom: bot.CustomPrompt}
	if s.catalog != nil {
		resp.Prompts = s.catalog.Scenarios()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{DefaultBackend: s.cfg.DefaultBackend.String()}

	configured := false
	for _, k := range s.svc.Backends() {
		resp.Backends = append(resp.Backends, k.String())
		if k == s.cfg.DefaultBackend {
			configured = true
		}
	}
	if !configured {
		resp.Issues = append(resp.Issues, fmt.Sprintf("default backend %s is not configured", s.cfg.DefaultBackend))
	}
	if s.Draining() {
		resp.Issues = append(resp.Issues, "server is draining")
	}

	resp.OK = len(resp.Issues) == 0
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	reqID, _ := RequestIDFrom(r.Context())
	writeAPIError(w, http.StatusNotFound, &Error{Type: ErrTypeNotFound, Message: "not found", RequestID: reqID})
}

func errorStatus(err error) int {
	_, status := FromError(err, "")
	return status
}

// WatchFrame is one message on the status watch stream. Error is set on
// the final frame when the status could no longer be read.
type WatchFrame struct {
	BotID      string     `json:"bot_id"`
	Status     bot.Status `json:"status"`
	Active     bool       `json:"active"`
	ObservedAt time.Time  `json:"observed_at"`
	Error      *Error     `json:"error,omitempty"`
}
