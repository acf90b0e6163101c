package machines

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/logging"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a, err := New(Config{
		BaseURL:       srv.URL + "/v1/",
		AppName:       "voice-bots",
		APIToken:      "fly-token",
		Env:           map[string]string{"DAILY_API_KEY": "daily", "DEEPGRAM_API_KEY": ""},
		StatusTimeout: 200 * time.Millisecond,
	}, srv.Client(), logging.NopLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func testSpec() bot.LaunchSpec {
	return bot.NewLaunchSpec("prov-1", bot.Request{
		RoomURL:      "https://x.example/room1",
		Token:        "tok",
		Prompt:       "custom",
		CustomPrompt: "be nice",
	}, map[string]string{"OPENAI_API_KEY": "sk", "EMPTY": ""})
}

func TestNew_RequiresCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no token", Config{AppName: "app"}, "api token"},
		{"no app", Config{APIToken: "tok"}, "app name"},
		{"whitespace only", Config{AppName: "  ", APIToken: " "}, "api token and app name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil, nil)
			if !errors.Is(err, bot.ErrBackendUnavailable) {
				t.Fatalf("New() error = %v, want ErrBackendUnavailable", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}

	a, err := New(Config{AppName: "app", APIToken: "tok"}, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.cfg.Image != "registry.fly.io/app:deployment-latest" {
		t.Errorf("default image = %q", a.cfg.Image)
	}
	if a.cfg.BaseURL != DefaultBaseURL {
		t.Errorf("default base url = %q", a.cfg.BaseURL)
	}
	if a.Kind() != bot.BackendRemote || a.App() != "app" {
		t.Errorf("Kind/App = %v/%s", a.Kind(), a.App())
	}
}

func TestLaunch_SendsMachinePayload(t *testing.T) {
	var got createRequest
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/apps/voice-bots/machines" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer fly-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("User-Agent") != "roombot" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{"id":"148ed193b95089","state":"created","region":"ord"}`)
	})

	id, err := a.Launch(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if id != "148ed193b95089" {
		t.Errorf("Launch() id = %q, want machine id", id)
	}

	if got.Name != "bot-prov-1" {
		t.Errorf("name = %q", got.Name)
	}
	cfg := got.Config
	if cfg.Image != "registry.fly.io/voice-bots:deployment-latest" {
		t.Errorf("image = %q", cfg.Image)
	}
	if !cfg.AutoDestroy || cfg.Restart.Policy != "no" {
		t.Errorf("auto_destroy/restart = %v/%q", cfg.AutoDestroy, cfg.Restart.Policy)
	}
	if cfg.Guest != (Guest{CPUKind: "shared", CPUs: 1, MemoryMB: 512}) {
		t.Errorf("guest = %+v", cfg.Guest)
	}
	wantEnv := map[string]string{"DAILY_API_KEY": "daily", "OPENAI_API_KEY": "sk"}
	if len(cfg.Env) != len(wantEnv) {
		t.Errorf("env = %v, want %v", cfg.Env, wantEnv)
	}
	for k, v := range wantEnv {
		if cfg.Env[k] != v {
			t.Errorf("env[%s] = %q, want %q", k, cfg.Env[k], v)
		}
	}
	wantCmd := "python -m backend.bot --room_url https://x.example/room1 --token tok --prompt custom --custom_prompt be nice"
	if strings.Join(cfg.Command, " ") != wantCmd {
		t.Errorf("command = %q, want %q", strings.Join(cfg.Command, " "), wantCmd)
	}
}

func TestLaunch_MissingIDRecoveredByName(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"state":`)
		case http.MethodGet:
			if r.URL.Path != "/v1/apps/voice-bots/machines" {
				t.Errorf("list path = %q", r.URL.Path)
			}
			_, _ = io.WriteString(w, `[{"id":"other","name":"bot-prov-9"},{"id":"m-42","name":"bot-prov-1","state":"starting"}]`)
		}
	})
	id, err := a.Launch(context.Background(), testSpec())
	if err != nil || id != "m-42" {
		t.Errorf("Launch() = %q, %v; want machine found by name", id, err)
	}
}

func TestLaunch_MissingIDFails(t *testing.T) {
	tests := []struct {
		name string
		list http.HandlerFunc
	}{
		{"no machine with the name", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `[{"id":"other","name":"bot-prov-9"}]`)
		}},
		{"list fails", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodPost {
					w.WriteHeader(http.StatusCreated)
					_, _ = io.WriteString(w, `{}`)
					return
				}
				tt.list(w, r)
			})
			id, err := a.Launch(context.Background(), testSpec())
			var apiErr *bot.RemoteAPIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Launch() = %q, %v; want *bot.RemoteAPIError", id, err)
			}
			if apiErr.Op != "create" || apiErr.Cause != bot.RemoteUnexpected || apiErr.StatusCode != http.StatusCreated {
				t.Errorf("error = %+v", apiErr)
			}
			if id != "" {
				t.Errorf("id = %q, want empty", id)
			}
		})
	}
}

func TestLaunch_Errors(t *testing.T) {
	tests := []struct {
		status    int
		wantCause bot.RemoteCause
	}{
		{http.StatusUnauthorized, bot.RemoteAuth},
		{http.StatusForbidden, bot.RemoteAuth},
		{http.StatusTooManyRequests, bot.RemoteRateLimit},
		{http.StatusPaymentRequired, bot.RemoteRateLimit},
		{http.StatusUnprocessableEntity, bot.RemoteInvalidPayload},
		{http.StatusBadRequest, bot.RemoteInvalidPayload},
		{http.StatusBadGateway, bot.RemoteServer},
		{http.StatusConflict, bot.RemoteUnexpected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, `{"error":"nope"}`, tt.status)
			})

			_, err := a.Launch(context.Background(), testSpec())
			var apiErr *bot.RemoteAPIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Launch() error = %v, want *bot.RemoteAPIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Cause != tt.wantCause {
				t.Errorf("status/cause = %d/%s, want %d/%s", apiErr.StatusCode, apiErr.Cause, tt.status, tt.wantCause)
			}
			if apiErr.Body != `{"error":"nope"}` {
				t.Errorf("Body = %q", apiErr.Body)
			}
			if calls.Load() != 1 {
				t.Errorf("create was called %d times, must never be retried", calls.Load())
			}
		})
	}
}

func TestLaunch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	a, err := New(Config{BaseURL: srv.URL, AppName: "app", APIToken: "tok"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Launch(context.Background(), testSpec())

	var apiErr *bot.RemoteAPIError
	if !errors.As(err, &apiErr) || apiErr.Cause != bot.RemoteTransport || apiErr.StatusCode != 0 {
		t.Fatalf("Launch() error = %v, want transport RemoteAPIError", err)
	}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		delay         time.Duration
		want          bot.Status
		wantNotFound  bool
		wantTransient bool
		wantAPIError  bool
	}{
		{name: "started", status: 200, body: `{"id":"m1","state":"started"}`, want: bot.StatusRunning},
		{name: "destroyed", status: 200, body: `{"id":"m1","state":"destroyed"}`, want: bot.StatusStopped},
		{name: "stopped", status: 200, body: `{"id":"m1","state":"stopped"}`, want: bot.StatusStopped},
		{name: "failed", status: 200, body: `{"id":"m1","state":"failed"}`, want: bot.StatusError},
		{name: "starting", status: 200, body: `{"id":"m1","state":"starting"}`, want: bot.StatusUnknown},
		{name: "created", status: 200, body: `{"id":"m1","state":"created"}`, want: bot.StatusUnknown},
		{name: "not found", status: 404, body: `{"error":"not found"}`, wantNotFound: true},
		{name: "server error", status: 503, body: "unavailable", wantTransient: true},
		{name: "rate limited", status: 429, body: "slow down", wantTransient: true},
		{name: "garbled body", status: 200, body: "<html>", wantTransient: true},
		{name: "timeout", status: 200, body: `{"state":"started"}`, delay: time.Second, wantTransient: true},
		{name: "unauthorized", status: 401, body: "bad token", wantAPIError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/v1/apps/voice-bots/machines/m1" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if tt.delay > 0 {
					select {
					case <-time.After(tt.delay):
					case <-r.Context().Done():
						return
					}
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			got, err := a.Query(context.Background(), "m1")
			switch {
			case tt.wantNotFound:
				if !errors.Is(err, backend.ErrNotFound) {
					t.Fatalf("Query() error = %v, want backend.ErrNotFound", err)
				}
			case tt.wantTransient:
				if !errors.Is(err, bot.ErrTransient) {
					t.Fatalf("Query() error = %v, want bot.ErrTransient", err)
				}
			case tt.wantAPIError:
				var apiErr *bot.RemoteAPIError
				if !errors.As(err, &apiErr) || errors.Is(err, bot.ErrTransient) {
					t.Fatalf("Query() error = %v, want non-transient RemoteAPIError", err)
				}
				if apiErr.Cause != bot.RemoteAuth {
					t.Errorf("Cause = %s, want auth", apiErr.Cause)
				}
			default:
				if err != nil {
					t.Fatalf("Query() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("Query() = %s, want %s", got, tt.want)
				}
			}
		})
	}
}

func TestEnvKeys(t *testing.T) {
	a, err := New(Config{
		AppName:  "app",
		APIToken: "tok",
		Env:      map[string]string{"B": "1", "A": "2", "EMPTY": ""},
	}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(a.EnvKeys(), ","); got != "A,B" {
		t.Errorf("EnvKeys() = %s, want A,B", got)
	}
}
