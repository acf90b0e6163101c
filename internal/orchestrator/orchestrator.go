// Package orchestrator is the entry point for spawning bots and reading
// their status.
//
// A spawn validates the request, reserves a slot in the room registry,
// launches the worker on the selected backend outside any lock, and commits
// the handle under the id the backend settled on. A failed launch releases
// the slot. A status read resolves the status through the owning backend
// and evicts the bot from its room once the status is terminal.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/event"
	"github.com/Iron-Ham/roombot/internal/logging"
	"github.com/Iron-Ham/roombot/internal/registry"
	"github.com/Iron-Ham/roombot/internal/status"
)

// Orchestrator coordinates the registry, the backends and the status
// resolver. It holds no lock of its own and is safe for concurrent use.
type Orchestrator struct {
	registry *registry.Registry
	backends backend.Set
	resolver *status.Resolver
	prompts  bot.PromptSet
	rooms    []glob.Glob

	defaultToken string
	workerEnv    map[string]string

	newID  func() string
	now    func() time.Time
	logger *logging.Logger
	events *event.Bus
}

// New creates an Orchestrator from opts.
func New(opts Options) (*Orchestrator, error) {
	opts = opts.withDefaults()
	if opts.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if len(opts.Backends) == 0 {
		return nil, fmt.Errorf("orchestrator: %w: no backend configured", bot.ErrBackendUnavailable)
	}
	rooms, err := compileRooms(opts.RoomPatterns)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = status.New(opts.Backends, status.DefaultConfig(), opts.Logger)
	}

	return &Orchestrator{
		registry:     opts.Registry,
		backends:     opts.Backends,
		resolver:     resolver,
		prompts:      opts.Prompts,
		rooms:        rooms,
		defaultToken: opts.DefaultToken,
		workerEnv:    opts.WorkerEnv,
		newID:        opts.NewID,
		now:          opts.Now,
		logger:       opts.Logger,
		events:       opts.Events,
	}, nil
}

// validate normalizes req and checks it for the given backend.
func (o *Orchestrator) validate(req bot.Request, kind bot.BackendKind) (bot.Request, error) {
	req = req.Normalize()
	if req.Token == "" {
		req.Token = o.defaultToken
	}
	if err := req.Validate(o.prompts); err != nil {
		return req, err
	}
	if kind == bot.BackendRemote && req.Token == "" {
		return req, &bot.ValidationError{Field: "token", Message: "is required for the remote backend"}
	}
	if !o.roomAllowed(req.RoomURL) {
		return req, &bot.ValidationError{Field: "room_url", Message: "is not an allowed room"}
	}
	return req, nil
}

func (o *Orchestrator) roomAllowed(roomURL string) bool {
	if len(o.rooms) == 0 {
		return true
	}
	for _, g := range o.rooms {
		if g.Match(roomURL) {
			return true
		}
	}
	return false
}

// Spawn launches a bot for req on the kind backend.
//
// Errors: a *bot.ValidationError for bad requests, bot.ErrBackendUnavailable
// when kind is not configured, bot.ErrCapacity when the room is full, and a
// *bot.SpawnError carrying the backend detail when the launch failed. Spawns
// are never retried.
func (o *Orchestrator) Spawn(ctx context.Context, req bot.Request, kind bot.BackendKind) (bot.Handle, error) {
	req, err := o.validate(req, kind)
	if err != nil {
		return bot.Handle{}, err
	}
	adapter, err := o.backends.Get(kind)
	if err != nil {
		return bot.Handle{}, err
	}

	logger := o.logger.WithRoom(req.RoomURL).WithBackend(kind.String())

	res, err := o.registry.Reserve(req.RoomURL)
	if err != nil {
		logger.Info("spawn rejected", "error", err.Error())
		return bot.Handle{}, err
	}

	provisional := o.newID()
	spec := bot.NewLaunchSpec(provisional, req, o.workerEnv)

	// The caller going away must not abandon a half-created worker; the
	// adapters bound the call with their own timeouts.
	id, err := adapter.Launch(context.WithoutCancel(ctx), spec)
	if err != nil {
		o.registry.Release(res)
		o.events.Publish(event.NewBotSpawnFailedEvent(provisional, kind.String(), req.RoomURL, err))
		return bot.Handle{}, &bot.SpawnError{Backend: kind, RoomURL: req.RoomURL, Err: err}
	}

	created := o.now()
	h := bot.Handle{
		ID:         id,
		Backend:    kind,
		RoomURL:    req.RoomURL,
		CreatedAt:  created,
		Status:     bot.StatusPending,
		ObservedAt: created,
	}
	if err := o.registry.Commit(res, h); err != nil {
		logger.Error("launched worker could not be committed", "bot_id", id, "error", err.Error())
		if s, ok := adapter.(interface{ Stop(string) error }); ok {
			_ = s.Stop(id)
		}
		o.events.Publish(event.NewBotSpawnFailedEvent(provisional, kind.String(), req.RoomURL, err))
		return bot.Handle{}, &bot.SpawnError{Backend: kind, RoomURL: req.RoomURL, Err: err}
	}

	logger.WithBot(id).Info("bot spawned", "provisional_id", provisional)
	o.events.Publish(event.NewBotSpawnedEvent(id, provisional, kind.String(), req.RoomURL))

	committed, _ := o.registry.Lookup(id)
	return committed, nil
}

// GetStatus returns the handle of id with a freshly resolved status.
//
// A tracked bot that reaches Stopped or Error is evicted from its room and
// stays queryable with that status. When the backend cannot be reached the
// last observed status is returned. Ids unknown to the registry are checked
// against every backend, and bot.ErrNotFound is returned only when all of
// them report not-found.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (bot.Handle, error) {
	h, ok := o.registry.Lookup(id)
	if !ok {
		return o.untracked(ctx, id)
	}
	if !h.Active && h.Status.IsTerminal() {
		return h, nil
	}

	logger := o.logger.WithBot(id).WithBackend(h.Backend.String())

	st, err := o.resolver.Resolve(ctx, id, h.Backend)
	switch {
	case errors.Is(err, bot.ErrNotFound):
		// The backend dropped a worker we launched; auto-destroyed machines
		// eventually disappear.
		st = bot.StatusStopped
		if h.Status == bot.StatusPending {
			st = bot.StatusError
		}
		logger.Info("backend no longer knows bot", "assumed_status", st.String())
	case err != nil:
		logger.Debug("status unavailable, returning last observation", "error", err.Error(), "status", h.Status.String())
		return h, nil
	}

	return o.observe(h, st), nil
}

// observe records st for h, publishes the change and evicts terminal bots.
func (o *Orchestrator) observe(h bot.Handle, st bot.Status) bot.Handle {
	prev, changed := o.registry.Observe(h.ID, st, o.now())
	if changed {
		o.events.Publish(event.NewBotStatusChangedEvent(h.ID, h.RoomURL, prev.String(), st.String()))
	}
	if st.IsTerminal() {
		if o.registry.Evict(h.ID) {
			o.logger.WithBot(h.ID).WithRoom(h.RoomURL).Info("bot evicted", "status", st.String())
			o.events.Publish(event.NewBotEvictedEvent(h.ID, h.RoomURL, st.String()))
		}
		o.resolver.Forget(h.ID)
	}
	updated, ok := o.registry.Lookup(h.ID)
	if !ok {
		h.Status = st
		return h
	}
	return updated
}

func (o *Orchestrator) untracked(ctx context.Context, id string) (bot.Handle, error) {
	var unavailable []error
	for _, kind := range o.backends.Kinds() {
		st, err := o.resolver.Resolve(ctx, id, kind)
		switch {
		case err == nil:
			// Untracked ids keep no poll state.
			o.resolver.Forget(id)
			return bot.Handle{ID: id, Backend: kind, Status: st, ObservedAt: o.now()}, nil
		case errors.Is(err, bot.ErrNotFound):
			continue
		default:
			unavailable = append(unavailable, err)
		}
	}
	if len(unavailable) > 0 {
		return bot.Handle{}, fmt.Errorf("%w: %w", bot.ErrStatusUnavailable, errors.Join(unavailable...))
	}
	return bot.Handle{}, fmt.Errorf("%w: %s", bot.ErrNotFound, id)
}

// ActiveBots returns the ids counting toward room's capacity.
func (o *Orchestrator) ActiveBots(room string) []string {
	return o.registry.Active(room)
}

// ActiveIDs returns the ids of every active bot.
func (o *Orchestrator) ActiveIDs() []string {
	return o.registry.ActiveIDs()
}

// List returns every tracked handle, active or inert, oldest first.
func (o *Orchestrator) List() []bot.Handle {
	return o.registry.Handles()
}

// Backends returns the configured backend kinds.
func (o *Orchestrator) Backends() []bot.BackendKind {
	return o.backends.Kinds()
}

// Capacity returns the per-room cap.
func (o *Orchestrator) Capacity() int {
	return o.registry.Capacity()
}

// Prune drops inert handles last observed more than retention ago, and the
// records backends keep for them. Returns the number of handles dropped.
func (o *Orchestrator) Prune(retention time.Duration) int {
	ids := o.registry.Prune(o.now().Add(-retention))
	for _, id := range ids {
		o.resolver.Forget(id)
		for _, kind := range o.backends.Kinds() {
			if f, ok := o.backends[kind].(interface{ Forget(string) bool }); ok {
				f.Forget(id)
			}
		}
	}
	if len(ids) > 0 {
		o.logger.Debug("pruned inert bots", "count", len(ids))
	}
	return len(ids)
}

// Shutdown stops the backends and clears the registry.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	err := o.backends.Close(ctx)
	o.registry.Reset()
	return err
}
