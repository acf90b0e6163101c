package local

import (
	"sync"
	"time"
)

// TimeoutType represents the kind of timeout that stopped a worker.
type TimeoutType int

const (
	TimeoutNone    TimeoutType = iota
	TimeoutSilence             // No output for the configured silence window
	TimeoutRuntime             // Total runtime exceeded the limit
)

func (t TimeoutType) String() string {
	switch t {
	case TimeoutSilence:
		return "silence"
	case TimeoutRuntime:
		return "runtime"
	default:
		return "none"
	}
}

// TimeoutCallback is called once when a timeout condition is detected.
type TimeoutCallback func(workerID string, timeoutType TimeoutType)

// Watchdog tracks the activity of one worker and reports when it has been
// silent or alive for too long. A zero duration disables that check.
type Watchdog struct {
	mu sync.Mutex

	silence    time.Duration
	maxRuntime time.Duration

	startTime        time.Time
	lastActivityTime time.Time
	timedOut         TimeoutType

	callback TimeoutCallback
	now      func() time.Time
}

// NewWatchdog creates a Watchdog whose clocks start now.
func NewWatchdog(silence, maxRuntime time.Duration, cb TimeoutCallback) *Watchdog {
	return newWatchdogAt(silence, maxRuntime, cb, time.Now)
}

func newWatchdogAt(silence, maxRuntime time.Duration, cb TimeoutCallback, now func() time.Time) *Watchdog {
	start := now()
	return &Watchdog{
		silence:          silence,
		maxRuntime:       maxRuntime,
		startTime:        start,
		lastActivityTime: start,
		callback:         cb,
		now:              now,
	}
}

// Enabled reports whether any check is configured.
func (w *Watchdog) Enabled() bool {
	return w.silence > 0 || w.maxRuntime > 0
}

// RecordActivity marks the worker as active now.
func (w *Watchdog) RecordActivity() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastActivityTime = w.now()
}

// LastActivityTime returns when the worker last produced output.
func (w *Watchdog) LastActivityTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivityTime
}

// TimedOut returns the timeout that fired, or TimeoutNone.
func (w *Watchdog) TimedOut() TimeoutType {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timedOut
}

// Check evaluates the timeout conditions for workerID and invokes the
// callback the first time one is met. Returns true if a timeout fired on this
// call.
func (w *Watchdog) Check(workerID string) bool {
	w.mu.Lock()
	if w.timedOut != TimeoutNone {
		w.mu.Unlock()
		return false
	}

	now := w.now()
	switch {
	case w.maxRuntime > 0 && now.Sub(w.startTime) > w.maxRuntime:
		w.timedOut = TimeoutRuntime
	case w.silence > 0 && now.Sub(w.lastActivityTime) > w.silence:
		w.timedOut = TimeoutSilence
	}
	fired := w.timedOut
	callback := w.callback
	w.mu.Unlock()

	// Callback runs outside the lock; it may block on process termination.
	if fired != TimeoutNone && callback != nil {
		callback(workerID, fired)
	}
	return fired != TimeoutNone
}

// Run checks the conditions every interval until done is closed or a timeout
// fires.
func (w *Watchdog) Run(workerID string, interval time.Duration, done <-chan struct{}) {
	if !w.Enabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if w.Check(workerID) {
				return
			}
		}
	}
}
