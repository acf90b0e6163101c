package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/event"
	"github.com/Iron-Ham/roombot/internal/registry"
	"github.com/Iron-Ham/roombot/internal/status"
)

const room1 = "https://x.example/room1"

type harness struct {
	orch   *Orchestrator
	reg    *registry.Registry
	local  *fakeAdapter
	remote *fakeAdapter
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.EventType())
	}
	return out
}

func (l *eventLog) count(eventType string) int {
	n := 0
	for _, t := range l.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		reg:    registry.New(bot.MaxBotsPerRoom),
		local:  newFakeAdapter(bot.BackendLocal),
		remote: newFakeAdapter(bot.BackendRemote),
		events: &eventLog{},
	}
	set, err := backend.NewSet(h.local, h.remote)
	if err != nil {
		t.Fatal(err)
	}
	bus := event.NewBus()
	bus.SubscribeAll(func(e event.Event) {
		h.events.mu.Lock()
		h.events.events = append(h.events.events, e)
		h.events.mu.Unlock()
	})

	opts := Options{
		Registry: h.reg,
		Backends: set,
		Resolver: status.New(set, status.Config{Attempts: 1, BackoffBase: time.Nanosecond, BackoffMax: time.Nanosecond}, nil),
		Prompts:  prompts{"default": true, "it_support": true},
		NewID:    sequentialIDs(),
		Events:   bus,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.orch, err = New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func validRequest() bot.Request {
	return bot.Request{RoomURL: room1, Token: "tok", Prompt: "default"}
}

func TestNew_Errors(t *testing.T) {
	set, _ := backend.NewSet(newFakeAdapter(bot.BackendLocal))
	tests := []struct {
		name string
		opts Options
	}{
		{"no registry", Options{Backends: set}},
		{"no backends", Options{Registry: registry.New(1)}},
		{"bad room pattern", Options{Registry: registry.New(1), Backends: set, RoomPatterns: []string{"https://[x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSpawn_Validation(t *testing.T) {
	tests := []struct {
		name      string
		req       bot.Request
		kind      bot.BackendKind
		wantField string
	}{
		{"missing room", bot.Request{Prompt: "default"}, bot.BackendLocal, "room_url"},
		{"blank room", bot.Request{RoomURL: "   ", Prompt: "default"}, bot.BackendLocal, "room_url"},
		{"missing prompt", bot.Request{RoomURL: room1}, bot.BackendLocal, "selected_prompt"},
		{"unknown prompt", bot.Request{RoomURL: room1, Prompt: "pirate"}, bot.BackendLocal, "selected_prompt"},
		{"custom without text", bot.Request{RoomURL: room1, Prompt: "custom"}, bot.BackendLocal, "custom_prompt"},
		{"remote without token", bot.Request{RoomURL: room1, Prompt: "default"}, bot.BackendRemote, "token"},
		{"room not allowed", bot.Request{RoomURL: "https://evil.example/room", Prompt: "default"}, bot.BackendLocal, "room_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) {
				o.RoomPatterns = []string{"https://x.example/*"}
			})

			_, err := h.orch.Spawn(context.Background(), tt.req, tt.kind)
			var vErr *bot.ValidationError
			if !errors.As(err, &vErr) || !errors.Is(err, bot.ErrValidation) {
				t.Fatalf("Spawn() error = %v, want ValidationError", err)
			}
			if vErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.wantField)
			}
			if n := len(h.local.launches()) + len(h.remote.launches()); n != 0 {
				t.Errorf("backend called %d times for an invalid request", n)
			}
			if h.reg.Used(tt.req.RoomURL) != 0 {
				t.Error("validation failure must not hold a reservation")
			}
		})
	}
}

func TestSpawn_LocalKeepsProvisionalID(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.WorkerEnv = map[string]string{"DAILY_API_KEY": "daily"}
	})

	got, err := h.orch.Spawn(context.Background(), validRequest(), bot.BackendLocal)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if got.ID != "b1" || got.Backend != bot.BackendLocal || got.RoomURL != room1 {
		t.Errorf("handle = %+v", got)
	}
	if !got.Active || got.Status != bot.StatusPending || got.CreatedAt.IsZero() {
		t.Errorf("new handle should be active and pending: %+v", got)
	}

	specs := h.local.launches()
	if len(specs) != 1 || specs[0].ProvisionalID != "b1" || specs[0].Env["DAILY_API_KEY"] != "daily" {
		t.Errorf("launch specs = %+v", specs)
	}
	if h.events.count(event.TypeBotSpawned) != 1 {
		t.Errorf("events = %v", h.events.types())
	}
}

func TestSpawn_RemoteAdoptsBackendIDAndDefaultToken(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DefaultToken = "fallback" })

	req := validRequest()
	req.Token = ""
	got, err := h.orch.Spawn(context.Background(), req, bot.BackendRemote)
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if got.ID != "m-b1" {
		t.Errorf("ID = %q, want backend-assigned m-b1", got.ID)
	}
	if ids := h.orch.ActiveBots(room1); len(ids) != 1 || ids[0] != "m-b1" {
		t.Errorf("ActiveBots() = %v", ids)
	}
	if _, ok := h.reg.Lookup("b1"); ok {
		t.Error("provisional id must not be tracked once superseded")
	}
	if tok := h.remote.launches()[0].Token; tok != "fallback" {
		t.Errorf("token = %q, want default token", tok)
	}
}

func TestSpawn_BackendUnavailable(t *testing.T) {
	local := newFakeAdapter(bot.BackendLocal)
	set, _ := backend.NewSet(local)
	reg := registry.New(1)
	orch, err := New(Options{Registry: reg, Backends: set, Prompts: prompts{"default": true}})
	if err != nil {
		t.Fatal(err)
	}

	_, err = orch.Spawn(context.Background(), validRequest(), bot.BackendRemote)
	if !errors.Is(err, bot.ErrBackendUnavailable) {
		t.Fatalf("Spawn() error = %v, want ErrBackendUnavailable", err)
	}
	if reg.Used(room1) != 0 {
		t.Error("unavailable backend must not hold a reservation")
	}
}

func TestSpawn_FailureReleasesReservation(t *testing.T) {
	h := newHarness(t, nil)
	apiErr := &bot.RemoteAPIError{Op: "create", StatusCode: 429, Cause: bot.RemoteRateLimit, Body: "quota"}
	h.remote.launchErr = apiErr

	_, err := h.orch.Spawn(context.Background(), validRequest(), bot.BackendRemote)
	var spawnErr *bot.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Spawn() error = %v, want *bot.SpawnError", err)
	}
	if spawnErr.Backend != bot.BackendRemote || spawnErr.RoomURL != room1 {
		t.Errorf("SpawnError = %+v", spawnErr)
	}
	var gotAPI *bot.RemoteAPIError
	if !errors.As(err, &gotAPI) || gotAPI.Cause != bot.RemoteRateLimit {
		t.Errorf("backend detail lost: %v", err)
	}
	if h.reg.Used(room1) != 0 {
		t.Fatal("reservation leaked after failed launch")
	}
	if h.events.count(event.TypeBotSpawnFailed) != 1 {
		t.Errorf("events = %v", h.events.types())
	}

	h.remote.launchErr = nil
	if _, err := h.orch.Spawn(context.Background(), validRequest(), bot.BackendRemote); err != nil {
		t.Errorf("room should be free after the failure, got %v", err)
	}
}

func TestSpawn_Capacity(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.Spawn(ctx, validRequest(), bot.BackendLocal); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Spawn(ctx, validRequest(), bot.BackendRemote); !errors.Is(err, bot.ErrCapacity) {
		t.Fatalf("second spawn error = %v, want ErrCapacity", err)
	}

	other := validRequest()
	other.RoomURL = "https://x.example/room2"
	if _, err := h.orch.Spawn(ctx, other, bot.BackendLocal); err != nil {
		t.Errorf("other room should be unaffected: %v", err)
	}
	if n := len(h.local.launches()) + len(h.remote.launches()); n != 2 {
		t.Errorf("launched %d workers, want 2", n)
	}
}

func TestSpawn_RacingRequestsForOneRoom(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.NewID = nil })
	h.local.gate = make(chan struct{})

	const n = 32
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		capacity  atomic.Int32
	)
	start := make(chan struct{})
	for range n {
		wg.Go(func() {
			<-start
			_, err := h.orch.Spawn(context.Background(), validRequest(), bot.BackendLocal)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, bot.ErrCapacity):
				capacity.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	close(start)

	// Every loser fails without waiting on the backend; only the winner is
	// parked inside Launch.
	deadline := time.Now().Add(5 * time.Second)
	for capacity.Load() != n-1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(h.local.gate)
	wg.Wait()

	if successes.Load() != 1 || capacity.Load() != n-1 {
		t.Fatalf("successes=%d capacity=%d, want 1 and %d", successes.Load(), capacity.Load(), n-1)
	}
	if got := len(h.local.launches()); got != 1 {
		t.Errorf("launched %d workers, want exactly 1", got)
	}
	if got := len(h.orch.ActiveBots(room1)); got != 1 {
		t.Errorf("active bots = %d, want 1", got)
	}
}

func TestSpawn_CallerCancellationDoesNotAbortLaunch(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.orch.Spawn(ctx, validRequest(), bot.BackendLocal); err != nil {
		t.Fatalf("Spawn() with cancelled caller context error = %v", err)
	}
}

func TestGetStatus_LazyEviction(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	hd, err := h.orch.Spawn(ctx, validRequest(), bot.BackendLocal)
	if err != nil {
		t.Fatal(err)
	}

	got, err := h.orch.GetStatus(ctx, hd.ID)
	if err != nil || got.Status != bot.StatusRunning || !got.Active {
		t.Fatalf("GetStatus() = %+v, %v; want running and active", got, err)
	}

	h.local.set(hd.ID, bot.StatusStopped, nil)
	got, err = h.orch.GetStatus(ctx, hd.ID)
	if err != nil || got.Status != bot.StatusStopped || got.Active {
		t.Fatalf("GetStatus() = %+v, %v; want stopped and inert", got, err)
	}
	if len(h.orch.ActiveBots(room1)) != 0 {
		t.Error("terminal bot still counts toward capacity")
	}

	// Inert handles answer from the registry.
	queries := h.local.queryCount(hd.ID)
	got, err = h.orch.GetStatus(ctx, hd.ID)
	if err != nil || got.Status != bot.StatusStopped {
		t.Errorf("GetStatus() after eviction = %+v, %v", got, err)
	}
	if h.local.queryCount(hd.ID) != queries {
		t.Error("inert terminal handle should not be re-polled")
	}

	if _, err := h.orch.Spawn(ctx, validRequest(), bot.BackendLocal); err != nil {
		t.Errorf("spawn after eviction error = %v", err)
	}

	want := []string{event.TypeBotSpawned, event.TypeBotStatusChanged, event.TypeBotStatusChanged, event.TypeBotEvicted, event.TypeBotSpawned}
	if got := h.events.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestGetStatus_ErrorIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	hd, _ := h.orch.Spawn(context.Background(), validRequest(), bot.BackendRemote)

	h.remote.set(hd.ID, bot.StatusError, nil)
	got, err := h.orch.GetStatus(context.Background(), hd.ID)
	if err != nil || got.Status != bot.StatusError || got.Active {
		t.Fatalf("GetStatus() = %+v, %v", got, err)
	}
}

func TestGetStatus_UnknownStateKeepsBotActive(t *testing.T) {
	h := newHarness(t, nil)
	hd, _ := h.orch.Spawn(context.Background(), validRequest(), bot.BackendRemote)

	h.remote.set(hd.ID, bot.StatusUnknown, nil)
	got, err := h.orch.GetStatus(context.Background(), hd.ID)
	if err != nil || got.Status != bot.StatusUnknown || !got.Active {
		t.Fatalf("GetStatus() = %+v, %v", got, err)
	}
}

func TestGetStatus_TransientFailureReturnsLastObservation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	hd, _ := h.orch.Spawn(ctx, validRequest(), bot.BackendRemote)

	if got, _ := h.orch.GetStatus(ctx, hd.ID); got.Status != bot.StatusRunning {
		t.Fatalf("status = %s", got.Status)
	}

	h.remote.set(hd.ID, bot.StatusUnknown, fmt.Errorf("%w: timeout", bot.ErrTransient))
	got, err := h.orch.GetStatus(ctx, hd.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if got.Status != bot.StatusRunning || !got.Active {
		t.Errorf("GetStatus() = %+v, want last observed running", got)
	}
}

func TestGetStatus_TrackedBotVanishedFromBackend(t *testing.T) {
	tests := []struct {
		name     string
		observed bool
		want     bot.Status
	}{
		{"never observed running", false, bot.StatusError},
		{"observed running", true, bot.StatusStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()
			hd, _ := h.orch.Spawn(ctx, validRequest(), bot.BackendRemote)
			if tt.observed {
				_, _ = h.orch.GetStatus(ctx, hd.ID)
			}

			h.remote.mu.Lock()
			delete(h.remote.statuses, hd.ID)
			h.remote.mu.Unlock()

			got, err := h.orch.GetStatus(ctx, hd.ID)
			if err != nil || got.Status != tt.want || got.Active {
				t.Errorf("GetStatus() = %+v, %v; want %s and inert", got, err, tt.want)
			}
		})
	}
}

func TestGetStatus_Untracked(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.GetStatus(ctx, "never-issued"); !errors.Is(err, bot.ErrNotFound) {
		t.Errorf("GetStatus() error = %v, want ErrNotFound", err)
	}
	if h.local.queryCount("never-issued") != 1 || h.remote.queryCount("never-issued") != 1 {
		t.Error("every backend should be asked before answering not found")
	}

	// A machine this process never tracked, e.g. after a restart.
	h.remote.set("m-orphan", bot.StatusRunning, nil)
	got, err := h.orch.GetStatus(ctx, "m-orphan")
	if err != nil || got.Backend != bot.BackendRemote || got.Status != bot.StatusRunning || got.Active {
		t.Errorf("GetStatus() = %+v, %v", got, err)
	}

	h.remote.set("flaky", bot.StatusUnknown, fmt.Errorf("%w: reset", bot.ErrTransient))
	if _, err := h.orch.GetStatus(ctx, "flaky"); !errors.Is(err, bot.ErrStatusUnavailable) {
		t.Errorf("GetStatus() error = %v, want ErrStatusUnavailable", err)
	}
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, func(o *Options) { o.Now = func() time.Time { return now } })
	ctx := context.Background()

	hd, _ := h.orch.Spawn(ctx, validRequest(), bot.BackendLocal)
	h.local.set(hd.ID, bot.StatusStopped, nil)
	_, _ = h.orch.GetStatus(ctx, hd.ID)

	if n := h.orch.Prune(time.Hour); n != 0 {
		t.Fatalf("Prune() = %d, want 0 before retention elapsed", n)
	}
	now = now.Add(2 * time.Hour)
	if n := h.orch.Prune(time.Hour); n != 1 {
		t.Fatalf("Prune() = %d, want 1", n)
	}
	if len(h.local.forgotten) != 1 || h.local.forgotten[0] != hd.ID {
		t.Errorf("backend records not forgotten: %v", h.local.forgotten)
	}
	if len(h.orch.List()) != 0 {
		t.Errorf("List() = %v", h.orch.List())
	}
	got, err := h.orch.GetStatus(ctx, hd.ID)
	if err != nil || got.Status != bot.StatusStopped || got.Active {
		t.Errorf("GetStatus() after prune = %+v, %v; want inactive stopped", got, err)
	}
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, nil)
	_, _ = h.orch.Spawn(context.Background(), validRequest(), bot.BackendLocal)

	if err := h.orch.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(h.orch.List()) != 0 || len(h.orch.ActiveIDs()) != 0 {
		t.Error("registry should be empty after Shutdown")
	}
	if kinds := h.orch.Backends(); len(kinds) != 2 || h.orch.Capacity() != 1 {
		t.Errorf("Backends()=%v Capacity()=%d", kinds, h.orch.Capacity())
	}
}
