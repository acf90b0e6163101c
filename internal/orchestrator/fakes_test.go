package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/roombot/internal/backend"
	"github.com/Iron-Ham/roombot/internal/bot"
)

// fakeAdapter is a scriptable backend. Remote-style adapters assign their
// own ids by prefixing the provisional id.
type fakeAdapter struct {
	kind     bot.BackendKind
	assignID bool

	mu        sync.Mutex
	launchErr error
	gate      chan struct{} // when non-nil, Launch blocks until closed
	launched  []bot.LaunchSpec
	statuses  map[string]bot.Status
	queryErrs map[string]error
	queries   map[string]int
	stopped   []string
	forgotten []string
}

func newFakeAdapter(kind bot.BackendKind) *fakeAdapter {
	return &fakeAdapter{
		kind:      kind,
		assignID:  kind == bot.BackendRemote,
		statuses:  make(map[string]bot.Status),
		queryErrs: make(map[string]error),
		queries:   make(map[string]int),
	}
}

func (f *fakeAdapter) Kind() bot.BackendKind { return f.kind }

func (f *fakeAdapter) Launch(ctx context.Context, spec bot.LaunchSpec) (string, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return "", f.launchErr
	}
	f.launched = append(f.launched, spec)
	id := spec.ProvisionalID
	if f.assignID {
		id = fmt.Sprintf("m-%s", spec.ProvisionalID)
	}
	f.statuses[id] = bot.StatusRunning
	return id, nil
}

func (f *fakeAdapter) Query(_ context.Context, id string) (bot.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[id]++
	if err := f.queryErrs[id]; err != nil {
		return bot.StatusUnknown, err
	}
	st, ok := f.statuses[id]
	if !ok {
		return bot.StatusUnknown, backend.ErrNotFound
	}
	return st, nil
}

func (f *fakeAdapter) Stop(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeAdapter) Forget(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
	return true
}

func (f *fakeAdapter) set(id string, st bot.Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = st
	if err != nil {
		f.queryErrs[id] = err
	} else {
		delete(f.queryErrs, id)
	}
}

func (f *fakeAdapter) launches() []bot.LaunchSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bot.LaunchSpec(nil), f.launched...)
}

func (f *fakeAdapter) queryCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[id]
}

type prompts map[string]bool

func (p prompts) Has(key string) bool { return p[key] }

// sequentialIDs returns b1, b2, ... on successive calls.
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("b%d", n)
	}
}
