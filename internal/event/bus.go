package event

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
)

// Handler is a function that handles an event.
type Handler func(Event)

// PanicHandler receives a recovered handler panic together with its stack.
type PanicHandler func(event Event, recovered any, stack []byte)

type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is a simple synchronous pub-sub event bus.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	onPanic       PanicHandler
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscriptions: make(map[string][]subscription),
	}
}

// OnPanic installs the function that is told about panicking handlers. With
// none installed, panics are recovered silently.
func (b *Bus) OnPanic(fn PanicHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPanic = fn
}

// Subscribe registers a handler for a specific event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := "sub-" + strconv.FormatUint(b.nextID.Add(1), 10)
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers a handler for all event types.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			rest := make([]subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			b.subscriptions[eventType] = rest
			return true
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers.
// Handlers subscribed to the event type run first, then wildcard handlers,
// each group in registration order. A panicking handler is recovered and
// publishing continues with the remaining handlers.
//
// A nil Bus drops the event, so components can publish unconditionally.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	eventType := event.EventType()
	subs := make([]subscription, 0, len(b.subscriptions[eventType])+len(b.subscriptions["*"]))
	subs = append(subs, b.subscriptions[eventType]...)
	subs = append(subs, b.subscriptions["*"]...)
	onPanic := b.onPanic
	b.mu.RUnlock()

	for _, sub := range subs {
		safeCall(sub.handler, event, onPanic)
	}
}

func safeCall(handler Handler, event Event, onPanic PanicHandler) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(event, r, debug.Stack())
		}
	}()
	handler(event)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

// Describe renders an event as a short human-readable line, used when
// events are logged.
func Describe(e Event) string {
	switch ev := e.(type) {
	case BotSpawnedEvent:
		return fmt.Sprintf("bot %s spawned on %s backend", ev.BotID, ev.Backend)
	case BotSpawnFailedEvent:
		return fmt.Sprintf("spawn on %s backend failed: %v", ev.Backend, ev.Err)
	case BotStatusChangedEvent:
		return fmt.Sprintf("bot %s status %s -> %s", ev.BotID, ev.PreviousStatus, ev.NewStatus)
	case BotEvictedEvent:
		return fmt.Sprintf("bot %s evicted (%s)", ev.BotID, ev.Status)
	case ConfigReloadedEvent:
		if ev.Err != nil {
			return fmt.Sprintf("config reload from %s rejected: %v", ev.Path, ev.Err)
		}
		return fmt.Sprintf("config reloaded from %s", ev.Path)
	default:
		return e.EventType()
	}
}
