package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "bot.spawned", "config.reloaded").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type names.
const (
	TypeBotSpawned       = "bot.spawned"
	TypeBotSpawnFailed   = "bot.spawn_failed"
	TypeBotStatusChanged = "bot.status_changed"
	TypeBotEvicted       = "bot.evicted"
	TypeConfigReloaded   = "config.reloaded"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Bot Lifecycle Events
// -----------------------------------------------------------------------------

// BotSpawnedEvent is emitted after a bot was launched and committed to the
// registry under its final id.
type BotSpawnedEvent struct {
	baseEvent
	BotID         string
	ProvisionalID string // differs from BotID when the backend assigned the id
	Backend       string
	RoomURL       string
}

// NewBotSpawnedEvent creates a BotSpawnedEvent.
func NewBotSpawnedEvent(botID, provisionalID, backend, roomURL string) BotSpawnedEvent {
	return BotSpawnedEvent{
		baseEvent:     newBaseEvent(TypeBotSpawned),
		BotID:         botID,
		ProvisionalID: provisionalID,
		Backend:       backend,
		RoomURL:       roomURL,
	}
}

// BotSpawnFailedEvent is emitted when a backend failed to launch a worker and
// the room's reservation was released.
type BotSpawnFailedEvent struct {
	baseEvent
	ProvisionalID string
	Backend       string
	RoomURL       string
	Err           error
}

// NewBotSpawnFailedEvent creates a BotSpawnFailedEvent.
func NewBotSpawnFailedEvent(provisionalID, backend, roomURL string, err error) BotSpawnFailedEvent {
	return BotSpawnFailedEvent{
		baseEvent:     newBaseEvent(TypeBotSpawnFailed),
		ProvisionalID: provisionalID,
		Backend:       backend,
		RoomURL:       roomURL,
		Err:           err,
	}
}

// BotStatusChangedEvent is emitted when a status read observes a status
// different from the previous observation.
type BotStatusChangedEvent struct {
	baseEvent
	BotID          string
	RoomURL        string
	PreviousStatus string
	NewStatus      string
}

// NewBotStatusChangedEvent creates a BotStatusChangedEvent.
func NewBotStatusChangedEvent(botID, roomURL, previous, current string) BotStatusChangedEvent {
	return BotStatusChangedEvent{
		baseEvent:      newBaseEvent(TypeBotStatusChanged),
		BotID:          botID,
		RoomURL:        roomURL,
		PreviousStatus: previous,
		NewStatus:      current,
	}
}

// BotEvictedEvent is emitted when a bot reached a terminal status and stopped
// counting toward its room's capacity.
type BotEvictedEvent struct {
	baseEvent
	BotID   string
	RoomURL string
	Status  string // terminal status that triggered the eviction
}

// NewBotEvictedEvent creates a BotEvictedEvent.
func NewBotEvictedEvent(botID, roomURL, status string) BotEvictedEvent {
	return BotEvictedEvent{
		baseEvent: newBaseEvent(TypeBotEvicted),
		BotID:     botID,
		RoomURL:   roomURL,
		Status:    status,
	}
}

// -----------------------------------------------------------------------------
// Configuration Events
// -----------------------------------------------------------------------------

// ConfigReloadedEvent is emitted after the config file changed on disk and
// the reloadable settings were applied.
type ConfigReloadedEvent struct {
	baseEvent
	Path    string
	Prompts int // number of prompt scenarios after the reload
	Err     error
}

// NewConfigReloadedEvent creates a ConfigReloadedEvent. A non-nil err means
// the reload was rejected and the previous settings remain in effect.
func NewConfigReloadedEvent(path string, prompts int, err error) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		baseEvent: newBaseEvent(TypeConfigReloaded),
		Path:      path,
		Prompts:   prompts,
		Err:       err,
	}
}
