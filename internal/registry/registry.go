// Package registry tracks which bots are active in which room and enforces
// the per-room concurrency cap.
//
// Capacity is claimed with [Registry.Reserve] before any backend call and is
// either finalized with [Registry.Commit] or rolled back with
// [Registry.Release]. Each of these, and [Registry.Evict], is a single
// critical section, so two racing reservations for the same room can never
// both observe a free slot. Backend I/O never happens while the lock is held.
//
// Handles stay queryable after eviction; they simply stop counting toward
// capacity. [Registry.Prune] drops inert handles once they are old enough.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/roombot/internal/bot"
)

var (
	// ErrReservationClosed is returned when a reservation is committed after
	// it was already committed or released.
	ErrReservationClosed = errors.New("reservation already closed")

	// ErrDuplicateID is returned when a commit would reuse the id of a bot
	// that is still active.
	ErrDuplicateID = errors.New("bot id already active")
)

// Reservation is a claim on one capacity slot of a room. It is single use.
type Reservation struct {
	id   uint64
	room string
}

// Room returns the room the reservation was taken for.
func (r Reservation) Room() string { return r.room }

// roomSlots holds the occupied slots of one room.
type roomSlots struct {
	reserved map[uint64]struct{}
	active   map[string]struct{}
}

func (s *roomSlots) used() int { return len(s.reserved) + len(s.active) }

// Registry is the in-memory room to bot mapping. It is safe for concurrent
// use.
type Registry struct {
	mu       sync.Mutex
	capacity int
	nextID   uint64

	rooms   map[string]*roomSlots
	open    map[uint64]string // open reservation id -> room
	handles map[string]*bot.Handle
}

// New creates a registry allowing capacity bots per room. A capacity below
// one falls back to bot.MaxBotsPerRoom.
func New(capacity int) *Registry {
	if capacity < 1 {
		capacity = bot.MaxBotsPerRoom
	}
	return &Registry{
		capacity: capacity,
		rooms:    make(map[string]*roomSlots),
		open:     make(map[uint64]string),
		handles:  make(map[string]*bot.Handle),
	}
}

// Capacity returns the per-room cap.
func (r *Registry) Capacity() int { return r.capacity }

// Reserve atomically claims a slot for room. It fails with bot.ErrCapacity
// and no side effect when the room is full.
func (r *Registry) Reserve(room string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := r.rooms[room]
	if slots == nil {
		slots = &roomSlots{
			reserved: make(map[uint64]struct{}),
			active:   make(map[string]struct{}),
		}
		r.rooms[room] = slots
	}
	if slots.used() >= r.capacity {
		return Reservation{}, bot.ErrCapacity
	}

	r.nextID++
	res := Reservation{id: r.nextID, room: room}
	slots.reserved[res.id] = struct{}{}
	r.open[res.id] = room
	return res, nil
}

// Commit turns an open reservation into a tracked, active bot. The handle's
// RoomURL is forced to the reserved room.
func (r *Registry) Commit(res Reservation, h bot.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.open[res.id]
	if !ok {
		return ErrReservationClosed
	}
	slots := r.rooms[room]

	if existing, ok := r.handles[h.ID]; ok && existing.Active {
		r.closeLocked(res.id, room)
		return ErrDuplicateID
	}

	delete(r.open, res.id)
	delete(slots.reserved, res.id)

	h.RoomURL = room
	h.Active = true
	r.handles[h.ID] = &h
	slots.active[h.ID] = struct{}{}
	return nil
}

// Release rolls back an uncommitted reservation. Releasing a reservation
// that is already closed is a no-op.
func (r *Registry) Release(res Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.open[res.id]
	if !ok {
		return
	}
	r.closeLocked(res.id, room)
}

// closeLocked drops an open reservation. The caller must hold the mutex.
func (r *Registry) closeLocked(id uint64, room string) {
	delete(r.open, id)
	if slots := r.rooms[room]; slots != nil {
		delete(slots.reserved, id)
		if slots.used() == 0 {
			delete(r.rooms, room)
		}
	}
}

// Evict removes a committed bot from its room's capacity count. The handle
// remains queryable. Returns false if the id was unknown or already inert.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok || !h.Active {
		return false
	}
	h.Active = false
	if slots := r.rooms[h.RoomURL]; slots != nil {
		delete(slots.active, id)
		if slots.used() == 0 {
			delete(r.rooms, h.RoomURL)
		}
	}
	return true
}

// Lookup returns a copy of the handle for id.
func (r *Registry) Lookup(id string) (bot.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return bot.Handle{}, false
	}
	return *h, true
}

// Observe records a status observation for id and returns the previous
// status. changed is false when the status did not move or id is unknown.
func (r *Registry) Observe(id string, status bot.Status, at time.Time) (prev bot.Status, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[id]
	if !ok {
		return bot.StatusUnknown, false
	}
	prev = h.Status
	h.Status = status
	h.ObservedAt = at
	return prev, prev != status
}

// Used returns the number of occupied slots (reserved and active) in room.
func (r *Registry) Used(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slots := r.rooms[room]; slots != nil {
		return slots.used()
	}
	return 0
}

// Active returns the sorted ids of active bots in room.
func (r *Registry) Active(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots := r.rooms[room]
	if slots == nil {
		return nil
	}
	ids := make([]string, 0, len(slots.active))
	for id := range slots.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveIDs returns the sorted ids of every active bot.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, h := range r.handles {
		if h.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Handles returns copies of every known handle, oldest first.
func (r *Registry) Handles() []bot.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]bot.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Prune drops inert handles whose last observation (or creation, if never
// observed) is before cutoff. Returns the removed ids, sorted.
func (r *Registry) Prune(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, h := range r.handles {
		if h.Active {
			continue
		}
		last := h.ObservedAt
		if last.IsZero() {
			last = h.CreatedAt
		}
		if last.Before(cutoff) {
			delete(r.handles, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Reset drops every reservation and handle.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms = make(map[string]*roomSlots)
	r.open = make(map[uint64]string)
	r.handles = make(map[string]*bot.Handle)
}
