// Package event provides a pub-sub event bus for bot lifecycle
// notifications.
//
// The orchestrator publishes an event whenever a bot is spawned, fails to
// spawn, changes status, or is evicted from its room. The server subscribes a
// logger, and websocket watchers subscribe to status changes. Publishers never
// know who listens.
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub dispatcher, safe for concurrent use
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Types
//
//   - [BotSpawnedEvent] ("bot.spawned")
//   - [BotSpawnFailedEvent] ("bot.spawn_failed")
//   - [BotStatusChangedEvent] ("bot.status_changed")
//   - [BotEvictedEvent] ("bot.evicted")
//   - [ConfigReloadedEvent] ("config.reloaded")
//
// # Basic Usage
//
//	bus := event.NewBus()
//	id := bus.Subscribe(event.TypeBotEvicted, func(e event.Event) {
//	    ev := e.(event.BotEvictedEvent)
//	    fmt.Printf("room %s is free again\n", ev.RoomURL)
//	})
//	defer bus.Unsubscribe(id)
//
//	bus.Publish(event.NewBotEvictedEvent("b1", roomURL, "stopped"))
//
// Handlers run synchronously on the publishing goroutine and must not block.
// A panicking handler is recovered and reported through [Bus.OnPanic].
package event
