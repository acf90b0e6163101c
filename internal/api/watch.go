package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/roombot/internal/bot"
)

const (
	watchWriteTimeout = 5 * time.Second
	watchPongWait     = 60 * time.Second
	watchPingPeriod   = watchPongWait * 9 / 10
)

// handleWatch streams the status of a bot over a websocket. A frame is sent
// on every status change; the stream closes once the status is terminal,
// the bot is unknown, or the watch times out.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("bot_id"))

	// Fail with a plain HTTP error before upgrading when the id is unknown.
	first, err := s.svc.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	reqID, _ := RequestIDFrom(r.Context())
	logger := s.logger.WithBot(id).With("request_id", reqID)
	logger.Debug("status watch opened")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.WatchTimeout)
	defer cancel()

	// The read pump only handles control frames; any read error means the
	// client went away.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(watchPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(f WatchFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		return conn.WriteJSON(f) == nil
	}
	closeWith := func(code int, text string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(watchWriteTimeout))
	}

	if !send(frameFor(first)) {
		return
	}
	if first.Status.IsTerminal() {
		closeWith(websocket.CloseNormalClosure, first.Status.String())
		return
	}

	last := first.Status
	poll := time.NewTicker(s.cfg.WatchInterval)
	defer poll.Stop()
	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			closeWith(websocket.CloseNormalClosure, "watch ended")
			logger.Debug("status watch closed", "reason", ctx.Err().Error())
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteTimeout)); err != nil {
				return
			}
		case <-poll.C:
			h, err := s.svc.GetStatus(ctx, id)
			if err != nil {
				apiErr, _ := FromError(err, reqID)
				send(WatchFrame{BotID: id, Status: bot.StatusUnknown, Error: apiErr})
				closeWith(websocket.CloseGoingAway, apiErr.Type)
				return
			}
			if h.Status == last {
				continue
			}
			last = h.Status
			if !send(frameFor(h)) {
				return
			}
			if h.Status.IsTerminal() {
				closeWith(websocket.CloseNormalClosure, h.Status.String())
				return
			}
		}
	}
}

func frameFor(h bot.Handle) WatchFrame {
	return WatchFrame{BotID: h.ID, Status: h.Status, Active: h.Active, ObservedAt: h.ObservedAt}
}

// originAllowed accepts non-browser clients and allowlisted origins.
func (s *Server) originAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	if _, ok := s.cfg.CORSOrigins["*"]; ok {
		return true
	}
	_, ok := s.cfg.CORSOrigins[origin]
	return ok
}
