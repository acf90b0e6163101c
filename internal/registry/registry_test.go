package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/roombot/internal/bot"
)

const room = "https://x.example/room1"

func commitNew(t *testing.T, r *Registry, room, id string) {
	t.Helper()
	res, err := r.Reserve(room)
	if err != nil {
		t.Fatalf("Reserve(%q) failed: %v", room, err)
	}
	if err := r.Commit(res, bot.Handle{ID: id, Backend: bot.BackendLocal, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Commit(%q) failed: %v", id, err)
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != bot.MaxBotsPerRoom {
		t.Errorf("Capacity() = %d, want %d", got, bot.MaxBotsPerRoom)
	}
	if got := New(3).Capacity(); got != 3 {
		t.Errorf("Capacity() = %d, want 3", got)
	}
}

func TestReserve_AtCapacity(t *testing.T) {
	r := New(1)

	if _, err := r.Reserve(room); err != nil {
		t.Fatalf("first Reserve failed: %v", err)
	}
	_, err := r.Reserve(room)
	if !errors.Is(err, bot.ErrCapacity) {
		t.Fatalf("second Reserve = %v, want ErrCapacity", err)
	}
	if got := r.Used(room); got != 1 {
		t.Errorf("Used() = %d, want 1 (rejected reserve must not have side effects)", got)
	}

	if _, err := r.Reserve("https://x.example/other"); err != nil {
		t.Errorf("Reserve for another room failed: %v", err)
	}
}

func TestRelease_FreesCapacity(t *testing.T) {
	r := New(1)

	res, err := r.Reserve(room)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	r.Release(res)
	if got := r.Used(room); got != 0 {
		t.Fatalf("Used() after Release = %d, want 0", got)
	}
	if _, err := r.Reserve(room); err != nil {
		t.Errorf("Reserve after Release failed: %v", err)
	}

	// Releasing twice is harmless.
	r.Release(res)
}

func TestCommit(t *testing.T) {
	r := New(1)

	res, err := r.Reserve(room)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := r.Commit(res, bot.Handle{ID: "b1", RoomURL: "ignored"}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	h, ok := r.Lookup("b1")
	if !ok {
		t.Fatal("Lookup(b1) not found after Commit")
	}
	if !h.Active {
		t.Error("committed handle should be active")
	}
	if h.RoomURL != room {
		t.Errorf("RoomURL = %q, want reserved room %q", h.RoomURL, room)
	}
	if got := r.Active(room); len(got) != 1 || got[0] != "b1" {
		t.Errorf("Active() = %v, want [b1]", got)
	}

	if err := r.Commit(res, bot.Handle{ID: "b2"}); !errors.Is(err, ErrReservationClosed) {
		t.Errorf("second Commit = %v, want ErrReservationClosed", err)
	}
	// Release after commit must not free the committed slot.
	r.Release(res)
	if got := r.Used(room); got != 1 {
		t.Errorf("Used() = %d, want 1", got)
	}
}

func TestCommit_DuplicateActiveID(t *testing.T) {
	r := New(2)
	commitNew(t, r, room, "b1")

	res, err := r.Reserve(room)
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := r.Commit(res, bot.Handle{ID: "b1"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("Commit = %v, want ErrDuplicateID", err)
	}
	if got := r.Used(room); got != 1 {
		t.Errorf("Used() = %d, want 1 (duplicate commit must release its slot)", got)
	}
}

func TestEvict(t *testing.T) {
	r := New(1)
	commitNew(t, r, room, "b1")

	if !r.Evict("b1") {
		t.Fatal("Evict(b1) = false, want true")
	}
	if r.Evict("b1") {
		t.Error("second Evict(b1) = true, want false")
	}
	if r.Evict("nope") {
		t.Error("Evict(unknown) = true, want false")
	}

	h, ok := r.Lookup("b1")
	if !ok {
		t.Fatal("evicted handle should stay queryable")
	}
	if h.Active {
		t.Error("evicted handle should be inert")
	}
	if _, err := r.Reserve(room); err != nil {
		t.Errorf("Reserve after Evict failed: %v", err)
	}
}

func TestObserve(t *testing.T) {
	r := New(1)
	commitNew(t, r, room, "b1")

	now := time.Now()
	prev, changed := r.Observe("b1", bot.StatusRunning, now)
	if !changed || prev != bot.StatusPending {
		t.Errorf("Observe = (%s, %v), want (pending, true)", prev, changed)
	}
	if _, changed := r.Observe("b1", bot.StatusRunning, now); changed {
		t.Error("Observe with same status reported a change")
	}
	if _, changed := r.Observe("ghost", bot.StatusRunning, now); changed {
		t.Error("Observe on unknown id reported a change")
	}

	h, _ := r.Lookup("b1")
	if h.Status != bot.StatusRunning || !h.ObservedAt.Equal(now) {
		t.Errorf("handle = %+v", h)
	}
}

func TestPrune(t *testing.T) {
	r := New(2)
	commitNew(t, r, room, "old")
	commitNew(t, r, room, "live")

	r.Observe("old", bot.StatusStopped, time.Now().Add(-2*time.Hour))
	r.Evict("old")

	if ids := r.Prune(time.Now().Add(-time.Hour)); len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("Prune() = %v, want [old]", ids)
	}
	if _, ok := r.Lookup("old"); ok {
		t.Error("pruned handle still present")
	}
	if _, ok := r.Lookup("live"); !ok {
		t.Error("active handle must never be pruned")
	}
}

func TestHandles_Ordered(t *testing.T) {
	r := New(1)
	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		res, _ := r.Reserve(fmt.Sprintf("room-%d", i))
		_ = r.Commit(res, bot.Handle{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	got := r.Handles()
	if len(got) != 3 || got[0].ID != "c" || got[2].ID != "b" {
		t.Errorf("Handles() order = %v", got)
	}
	if ids := r.ActiveIDs(); len(ids) != 3 || ids[0] != "a" {
		t.Errorf("ActiveIDs() = %v", ids)
	}
}

func TestReset(t *testing.T) {
	r := New(1)
	commitNew(t, r, room, "b1")
	r.Reset()
	if _, ok := r.Lookup("b1"); ok {
		t.Error("Reset should drop handles")
	}
	if r.Used(room) != 0 {
		t.Error("Reset should drop reservations")
	}
}

func TestReserve_Concurrent(t *testing.T) {
	const workers = 64
	r := New(1)

	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		rejected atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Reserve(room)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, bot.ErrCapacity):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("wins = %d, want exactly 1", wins.Load())
	}
	if rejected.Load() != workers-1 {
		t.Errorf("rejected = %d, want %d", rejected.Load(), workers-1)
	}
}

func TestCapacityInvariant_UnderChurn(t *testing.T) {
	r := New(1)
	var wg sync.WaitGroup
	var violations atomic.Int32

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res, err := r.Reserve(room)
				if err != nil {
					continue
				}
				if r.Used(room) > 1 {
					violations.Add(1)
				}
				id := fmt.Sprintf("b-%d-%d", i, j)
				if j%2 == 0 {
					r.Release(res)
					continue
				}
				if err := r.Commit(res, bot.Handle{ID: id}); err != nil {
					t.Errorf("Commit failed: %v", err)
					continue
				}
				if len(r.Active(room)) > 1 {
					violations.Add(1)
				}
				r.Evict(id)
			}
		}(i)
	}
	wg.Wait()

	if violations.Load() != 0 {
		t.Errorf("observed %d capacity violations", violations.Load())
	}
}
