package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventSessionClaimed     EventType = "session.claimed"
	EventSessionRefused     EventType = "session.refused"
	EventSessionActive      EventType = "session.active"
	EventSessionDraining    EventType = "session.draining"
	EventSessionTerminated  EventType = "session.terminated"
	EventSessionFailed      EventType = "session.failed"
	EventAgentMaterialized  EventType = "agent.materialized"
	EventDescriptorRefresh  EventType = "descriptor.refreshed"
	EventPoolCapacityWait   EventType = "pool.capacity.wait"
	EventStoreBreakerOpened EventType = "store.breaker.opened"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type        EventType       `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	SessionName string          `json:"session_name,omitempty"`
	AgentID     string          `json:"agent_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for lifecycle events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
