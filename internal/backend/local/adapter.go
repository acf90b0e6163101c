// Package local runs bot workers as subprocesses of the control plane.
//
// Each launched process is retained until it is forgotten, so its liveness
// and exit code can be queried. A watchdog stops workers that stay silent or
// run too long: they get SIGTERM first and are killed if they do not exit
// within the grace period.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
	"github.com/Iron-Ham/roombot/internal/logging"
)

// ErrClosed is returned by Launch after Close.
var ErrClosed = errors.New("local backend closed")

// worker is the retained record of one launched process.
type worker struct {
	id      string
	room    string
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}

	stdout   *outputWriter
	stderr   *outputWriter
	watchdog *Watchdog

	stopOnce sync.Once

	// Set by the reaper before done is closed.
	exitCode int
	exitErr  error
	exitedAt time.Time
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Adapter is the local subprocess backend. It is safe for concurrent use.
type Adapter struct {
	cfg    Config
	logger *logging.Logger

	mu        sync.Mutex
	workers   map[string]*worker
	launching map[string]struct{}
	forgotten map[string]bot.Status // final status of dropped workers
	closed    bool
}

var _ backend.Adapter = (*Adapter)(nil)

// New creates a local adapter.
func New(cfg Config, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Adapter{
		cfg:       cfg.withDefaults(),
		logger:    logger.WithBackend(bot.BackendLocal.String()),
		workers:   make(map[string]*worker),
		launching: make(map[string]struct{}),
		forgotten: make(map[string]bot.Status),
	}
}

// Kind returns bot.BackendLocal.
func (a *Adapter) Kind() bot.BackendKind { return bot.BackendLocal }

// Launch starts the worker process. The provisional id becomes the worker
// id. Start failures are returned as *bot.ProcessLaunchError.
func (a *Adapter) Launch(ctx context.Context, spec bot.LaunchSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := spec.ProvisionalID
	if id == "" {
		return "", fmt.Errorf("local launch: %w", &bot.ValidationError{Field: "bot_id", Message: "provisional id is required"})
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", ErrClosed
	}
	_, exists := a.workers[id]
	_, starting := a.launching[id]
	if exists || starting {
		a.mu.Unlock()
		return "", fmt.Errorf("local launch: worker %s already exists", id)
	}
	a.launching[id] = struct{}{}
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.launching, id)
		a.mu.Unlock()
	}()

	logger := a.logger.WithBot(id).WithRoom(spec.RoomURL)

	argv := append(append([]string{}, a.cfg.Command[1:]...), spec.Args()...)
	cmd := exec.Command(a.cfg.Command[0], argv...)
	cmd.Dir = a.cfg.WorkDir
	cmd.Env = a.environ(spec)

	w := &worker{
		id:   id,
		room: spec.RoomURL,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	w.watchdog = NewWatchdog(a.cfg.SilenceTimeout, a.cfg.MaxRuntime, func(workerID string, t TimeoutType) {
		logger.Warn("worker timed out, stopping", "timeout", t.String())
		a.stop(w, "timeout")
	})
	w.stdout = newOutputWriter("stdout", logger, w.watchdog.RecordActivity)
	w.stderr = newOutputWriter("stderr", logger, w.watchdog.RecordActivity)
	cmd.Stdout = w.stdout
	cmd.Stderr = w.stderr

	if err := cmd.Start(); err != nil {
		launchErr := &bot.ProcessLaunchError{
			Command: a.cfg.Command[0],
			Reason:  classifyStartError(err),
			Err:     err,
		}
		logger.Error("worker launch failed", "error", launchErr.Error(), "reason", string(launchErr.Reason))
		return "", launchErr
	}
	w.started = time.Now()

	a.mu.Lock()
	a.workers[id] = w
	delete(a.forgotten, id)
	closed := a.closed
	a.mu.Unlock()

	logger.Info("worker started", "pid", cmd.Process.Pid, "command", strings.Join(a.cfg.Command, " "))

	go a.reap(w, logger)
	if w.watchdog.Enabled() {
		go w.watchdog.Run(id, a.cfg.CheckInterval, w.done)
	}

	if closed {
		// Close ran while the process was starting.
		go a.stop(w, "shutdown")
		return "", ErrClosed
	}

	return id, nil
}

// environ builds the worker environment: the inherited one, then the
// configured extras, then the launch values. Empty values are dropped.
func (a *Adapter) environ(spec bot.LaunchSpec) []string {
	env := os.Environ()
	keys := make([]string, 0, len(a.cfg.Env))
	for k := range a.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := a.cfg.Env[k]; k != "" && v != "" {
			env = append(env, k+"="+v)
		}
	}

	clean := spec.CleanEnv()
	keys = keys[:0]
	for k := range clean {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+clean[k])
	}
	return env
}

func classifyStartError(err error) bot.LaunchFailure {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return bot.LaunchNotFound
	case errors.Is(err, fs.ErrPermission):
		return bot.LaunchPermission
	default:
		return bot.LaunchOther
	}
}

// reap waits for the process and records its outcome.
func (a *Adapter) reap(w *worker, logger *logging.Logger) {
	err := w.cmd.Wait()
	w.stdout.flush()
	w.stderr.flush()

	w.exitCode = -1
	if w.cmd.ProcessState != nil {
		w.exitCode = w.cmd.ProcessState.ExitCode()
	}
	w.exitedAt = time.Now()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		w.exitErr = err
	}
	close(w.done)

	attrs := []any{
		"exit_code", w.exitCode,
		"runtime", w.exitedAt.Sub(w.started).Round(time.Millisecond).String(),
	}
	if t := w.watchdog.TimedOut(); t != TimeoutNone {
		attrs = append(attrs, "timeout", t.String())
	}
	if line := w.stderr.last(); line != "" && w.exitCode != 0 {
		attrs = append(attrs, "last_stderr", line)
	}
	if w.exitCode == 0 && w.watchdog.TimedOut() == TimeoutNone {
		logger.Info("worker exited", attrs...)
		return
	}
	last := w.watchdog.LastActivityTime()
	attrs = append(attrs,
		"last_activity", last.UTC().Format(time.RFC3339Nano),
		"silent_for", w.exitedAt.Sub(last).Round(time.Millisecond).String(),
	)
	logger.Warn("worker exited abnormally", attrs...)
}

// stop sends SIGTERM and kills the process if it has not exited after the
// grace period. It blocks until the process is gone or the kill was sent.
func (a *Adapter) stop(w *worker, reason string) {
	w.stopOnce.Do(func() {
		if w.exited() {
			return
		}
		if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			a.logger.WithBot(w.id).Debug("SIGTERM failed, killing", "error", err.Error(), "reason", reason)
			_ = w.cmd.Process.Kill()
			return
		}

		timer := time.NewTimer(a.cfg.GracefulStopTimeout)
		defer timer.Stop()
		select {
		case <-w.done:
		case <-timer.C:
			a.logger.WithBot(w.id).Warn("worker ignored SIGTERM, killing", "reason", reason)
			_ = w.cmd.Process.Kill()
		}
	})
}

// Query reports the status of a worker from the process table:
// running -> Running, exit 0 -> Stopped, anything else -> Error. A worker
// stopped by the watchdog is an Error even if it exited cleanly.
func (a *Adapter) Query(ctx context.Context, id string) (bot.Status, error) {
	if err := ctx.Err(); err != nil {
		return bot.StatusUnknown, fmt.Errorf("%w: %v", bot.ErrTransient, err)
	}

	a.mu.Lock()
	w, ok := a.workers[id]
	final, wasForgotten := a.forgotten[id]
	a.mu.Unlock()

	if !ok {
		if wasForgotten {
			return final, nil
		}
		return bot.StatusUnknown, backend.ErrNotFound
	}
	if !w.exited() {
		return bot.StatusRunning, nil
	}
	return w.finalStatus(), nil
}

// finalStatus maps an exited worker onto its terminal status.
func (w *worker) finalStatus() bot.Status {
	if w.watchdog.TimedOut() != TimeoutNone || w.exitErr != nil {
		return bot.StatusError
	}
	return bot.StatusFromExit(true, w.exitCode)
}

// Forget drops the process record of an exited worker, keeping only its
// terminal status for later queries. Returns false if the worker is unknown
// or still running.
func (a *Adapter) Forget(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.workers[id]
	if !ok || !w.exited() {
		return false
	}
	delete(a.workers, id)
	a.forgotten[id] = w.finalStatus()
	return true
}

// Running returns the ids of workers whose process is still alive.
func (a *Adapter) Running() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var ids []string
	for id, w := range a.workers {
		if !w.exited() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stop terminates one worker. It returns backend.ErrNotFound for unknown
// ids and is a no-op for workers that already exited.
func (a *Adapter) Stop(id string) error {
	a.mu.Lock()
	w, ok := a.workers[id]
	a.mu.Unlock()
	if !ok {
		return backend.ErrNotFound
	}
	a.stop(w, "requested")
	return nil
}

// Close stops every live worker and refuses further launches. It returns
// ctx.Err() if workers are still exiting when ctx is done.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	live := make([]*worker, 0, len(a.workers))
	for _, w := range a.workers {
		if !w.exited() {
			live = append(live, w)
		}
	}
	a.mu.Unlock()

	if len(live) == 0 {
		return nil
	}
	a.logger.Info("stopping local workers", "count", len(live))

	var wg sync.WaitGroup
	for _, w := range live {
		wg.Go(func() {
			a.stop(w, "shutdown")
			<-w.done
		})
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
