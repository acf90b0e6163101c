package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/roombot/internal/bot"
)

func dialWatch(t *testing.T, url string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func TestWatch_StreamsUntilTerminal(t *testing.T) {
	svc := newFakeService()
	svc.statuses["b1"] = []bot.Status{bot.StatusPending, bot.StatusPending, bot.StatusRunning, bot.StatusRunning, bot.StatusStopped}
	srv := newTestServer(t, Config{WatchInterval: 5 * time.Millisecond}, svc)

	conn, _, err := dialWatch(t, srv.URL+"/status/b1/watch")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var got []bot.Status
	for {
		var f WatchFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		if f.BotID != "b1" {
			t.Errorf("frame bot id = %q", f.BotID)
		}
		got = append(got, f.Status)
	}

	want := []bot.Status{bot.StatusPending, bot.StatusRunning, bot.StatusStopped}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWatch_UnknownBot(t *testing.T) {
	srv := newTestServer(t, Config{}, newFakeService())

	_, resp, err := dialWatch(t, srv.URL+"/status/nope/watch")
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v, want 404", resp)
	}
}

func TestWatch_OriginCheck(t *testing.T) {
	svc := newFakeService()
	svc.statuses["b1"] = []bot.Status{bot.StatusRunning}
	srv := newTestServer(t, Config{CORSOrigins: map[string]struct{}{"https://app.example": {}}}, svc)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/status/b1/watch"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected disallowed origin to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}
