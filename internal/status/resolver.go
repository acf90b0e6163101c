// Package status resolves the canonical status of a bot by querying the
// backend that owns it.
//
// A failed poll never turns into an Error status. Transient failures are
// retried a few times within one call; once those are exhausted the id
// enters a backoff window that doubles with every consecutive failure, and
// calls inside the window return without touching the backend.
package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/logging"
)

// ErrBackoff is returned, wrapped in bot.ErrStatusUnavailable, for calls made
// while an id is inside its backoff window.
var ErrBackoff = errors.New("status poll backing off")

// Config controls retries and backoff.
type Config struct {
	// Attempts is the number of tries per Resolve call for transient errors.
	Attempts int

	// BaseDelay and MaxDelay bound the sleep between tries within a call.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// BackoffBase and BackoffMax bound the window during which an id that
	// exhausted its attempts is not polled again.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Attempts:    3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	return c
}

// PollState tracks consecutive poll failures for one id.
type PollState struct {
	BotID       string    `json:"bot_id"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	NextPoll    time.Time `json:"next_poll"`
	LastSuccess time.Time `json:"last_success"`
}

type pollEntry struct {
	PollState

	// window yields the next backoff window; nil until the first failure.
	window *backoff.ExponentialBackOff
}

// Resolver maps a bot id to its canonical status. It is safe for concurrent
// use; calls for different ids never block each other.
type Resolver struct {
	adapters backend.Set
	cfg      Config
	logger   *logging.Logger

	mu     sync.Mutex
	states map[string]*pollEntry

	now   func() time.Time
	timer func() backoff.Timer
}

// New creates a Resolver over adapters.
func New(adapters backend.Set, cfg Config, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Resolver{
		adapters: adapters,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		states:   make(map[string]*pollEntry),
		now:      time.Now,
	}
}

// doubling returns an exponential policy from base to limit without jitter
// or an elapsed-time cutoff.
func doubling(base, limit time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = limit
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Resolve queries the adapter for kind about id.
//
// It returns bot.ErrNotFound when the backend has no record of id,
// bot.ErrBackendUnavailable when kind is not configured, and an error
// wrapping bot.ErrStatusUnavailable for every other failure.
func (r *Resolver) Resolve(ctx context.Context, id string, kind bot.BackendKind) (bot.Status, error) {
	adapter, err := r.adapters.Get(kind)
	if err != nil {
		return bot.StatusUnknown, err
	}

	if wait := r.backoffRemaining(id); wait > 0 {
		return bot.StatusUnknown, fmt.Errorf("%w: %w (next poll in %s)", bot.ErrStatusUnavailable, ErrBackoff, wait.Round(time.Millisecond))
	}

	logger := r.logger.WithBot(id).WithBackend(kind.String())

	var (
		status  bot.Status
		lastErr error
		attempt int
	)
	query := func() error {
		attempt++
		st, err := adapter.Query(ctx, id)
		switch {
		case err == nil:
			status = st
			return nil
		case errors.Is(err, backend.ErrNotFound):
			return backoff.Permanent(err)
		case !errors.Is(err, bot.ErrTransient):
			lastErr = err
			return backoff.Permanent(err)
		}
		lastErr = err
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("status poll failed, retrying", "attempt", attempt, "error", err.Error(), "retry_in", next.String())
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(doubling(r.cfg.BaseDelay, r.cfg.MaxDelay), uint64(r.cfg.Attempts-1)),
		ctx,
	)
	var timer backoff.Timer
	if r.timer != nil {
		timer = r.timer()
	}
	err = backoff.RetryNotifyWithTimer(query, policy, notify, timer)
	switch {
	case err == nil:
		r.recordSuccess(id)
		return status, nil
	case errors.Is(err, backend.ErrNotFound):
		r.Forget(id)
		return bot.StatusUnknown, fmt.Errorf("%w: %s", bot.ErrNotFound, id)
	}

	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		err = errors.Join(err, cerr)
	}
	if lastErr != nil && !errors.Is(err, lastErr) {
		// Cancelled between tries; keep the poll error too.
		err = errors.Join(lastErr, err)
	}
	window := r.recordFailure(id, err)
	logger.Warn("status poll failed", "error", err.Error(), "backoff", window.String())
	return bot.StatusUnknown, fmt.Errorf("%w: %w", bot.ErrStatusUnavailable, err)
}

func (r *Resolver) backoffRemaining(id string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[id]
	if !ok || s.NextPoll.IsZero() {
		return 0
	}
	return s.NextPoll.Sub(r.now())
}

func (r *Resolver) recordSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entryLocked(id)
	s.Failures = 0
	s.LastError = ""
	s.NextPoll = time.Time{}
	s.LastSuccess = r.now()
	s.window = nil
}

// recordFailure opens the next backoff window for id and returns its length.
func (r *Resolver) recordFailure(id string, err error) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entryLocked(id)
	if s.window == nil {
		s.window = doubling(r.cfg.BackoffBase, r.cfg.BackoffMax)
	}
	s.Failures++
	s.LastError = err.Error()
	window := s.window.NextBackOff()
	s.NextPoll = r.now().Add(window)
	return window
}

func (r *Resolver) entryLocked(id string) *pollEntry {
	s, ok := r.states[id]
	if !ok {
		s = &pollEntry{PollState: PollState{BotID: id}}
		r.states[id] = s
	}
	return s
}

// State returns a copy of the poll state for id.
func (r *Resolver) State(id string) (PollState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	if !ok {
		return PollState{}, false
	}
	return s.PollState, true
}

// Forget drops the poll state for id. Called once a bot is terminal.
func (r *Resolver) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
}
