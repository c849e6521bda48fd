package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents different types of events in the system
type EventType string

const (
	// Plugin lifecycle events
	EventPluginRegistered   EventType = "plugin_registered"
	EventPluginUnregistered EventType = "plugin_unregistered"
	EventPluginEnabled      EventType = "plugin_enabled"
	EventPluginDisabled     EventType = "plugin_disabled"
	EventPluginError        EventType = "plugin_error"

	// Engine events
	EventEngineStarted EventType = "engine_started"
	EventEngineStopped EventType = "engine_stopped"

	// Dispatch events
	EventDispatchHalted EventType = "dispatch_halted"

	// Cache events
	EventCacheHit   EventType = "cache_hit"
	EventCacheMiss  EventType = "cache_miss"
	EventCacheEvict EventType = "cache_evict"
)

// Event represents an event that occurs in the system
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      any            `json:"data"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventListener is a function that handles events
type EventListener func(event Event)

// ListenerID identifies a listener for Off.
type ListenerID uint64

// EventEmitter manages event listeners and emits events
type EventEmitter struct {
	listeners map[EventType][]listenerEntry
	nextID    ListenerID
	mu        sync.RWMutex
	wg        sync.WaitGroup
	closed    bool
}

type listenerEntry struct {
	id       ListenerID
	listener EventListener
	once     bool
}

// NewEventEmitter creates a new event emitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		listeners: make(map[EventType][]listenerEntry),
	}
}

// On adds an event listener for the specified event type
func (ee *EventEmitter) On(eventType EventType, listener EventListener) ListenerID {
	return ee.add(eventType, listener, false)
}

// Once adds an event listener that will only be called once
func (ee *EventEmitter) Once(eventType EventType, listener EventListener) ListenerID {
	return ee.add(eventType, listener, true)
}

func (ee *EventEmitter) add(eventType EventType, listener EventListener, once bool) ListenerID {
	ee.mu.Lock()
	defer ee.mu.Unlock()

	if ee.closed || listener == nil {
		return 0
	}

	ee.nextID++
	ee.listeners[eventType] = append(ee.listeners[eventType], listenerEntry{
		id:       ee.nextID,
		listener: listener,
		once:     once,
	})
	return ee.nextID
}

// Off removes the listener registered under id.
func (ee *EventEmitter) Off(eventType EventType, id ListenerID) {
	ee.mu.Lock()
	defer ee.mu.Unlock()

	ee.removeLocked(eventType, id)
}

func (ee *EventEmitter) removeLocked(eventType EventType, id ListenerID) {
	listeners := ee.listeners[eventType]
	for i, entry := range listeners {
		if entry.id == id {
			kept := make([]listenerEntry, 0, len(listeners)-1)
			kept = append(kept, listeners[:i]...)
			ee.listeners[eventType] = append(kept, listeners[i+1:]...)
			break
		}
	}
	if len(ee.listeners[eventType]) == 0 {
		delete(ee.listeners, eventType)
	}
}

// take snapshots the listeners of an event type and drops the once listeners.
func (ee *EventEmitter) take(eventType EventType) []listenerEntry {
	ee.mu.Lock()
	defer ee.mu.Unlock()

	if ee.closed {
		return nil
	}

	listeners := make([]listenerEntry, len(ee.listeners[eventType]))
	copy(listeners, ee.listeners[eventType])
	for _, entry := range listeners {
		if entry.once {
			ee.removeLocked(eventType, entry.id)
		}
	}
	return listeners
}

// Emit delivers the event to every listener on its own goroutine.
func (ee *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, entry := range ee.take(event.Type) {
		ee.wg.Add(1)
		go func(l EventListener) {
			defer ee.wg.Done()
			call(l, event)
		}(entry.listener)
	}
}

// EmitSync emits an event synchronously (waits for all listeners to complete)
func (ee *EventEmitter) EmitSync(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, entry := range ee.take(event.Type) {
		call(entry.listener, event)
	}
}

func call(l EventListener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Type)).Msg("event listener panicked")
		}
	}()
	l(e)
}

// Wait blocks until every listener started by Emit has returned.
func (ee *EventEmitter) Wait() {
	ee.wg.Wait()
}

// ListenerCount returns the number of listeners for a specific event type
func (ee *EventEmitter) ListenerCount(eventType EventType) int {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	return len(ee.listeners[eventType])
}

// RemoveAllListeners removes all listeners for a specific event type,
// or all listeners if no event type is specified
func (ee *EventEmitter) RemoveAllListeners(eventType ...EventType) {
	ee.mu.Lock()
	defer ee.mu.Unlock()

	if len(eventType) == 0 {
		ee.listeners = make(map[EventType][]listenerEntry)
		return
	}
	for _, et := range eventType {
		delete(ee.listeners, et)
	}
}

// Close drops every listener and waits for in-flight deliveries.
func (ee *EventEmitter) Close() {
	ee.mu.Lock()
	ee.closed = true
	ee.listeners = make(map[EventType][]listenerEntry)
	ee.mu.Unlock()

	ee.wg.Wait()
}

// IsClosed returns whether the event emitter is closed
func (ee *EventEmitter) IsClosed() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	return ee.closed
}

// WaitForEvent waits for a specific event type to be emitted
func (ee *EventEmitter) WaitForEvent(ctx context.Context, eventType EventType) (Event, error) {
	eventChan := make(chan Event, 1)

	id := ee.Once(eventType, func(event Event) {
		select {
		case eventChan <- event:
		default:
		}
	})

	select {
	case event := <-eventChan:
		return event, nil
	case <-ctx.Done():
		ee.Off(eventType, id)
		return Event{}, ctx.Err()
	}
}

// CreateEvent is a helper function to create a new event
func CreateEvent(eventType EventType, data any, source string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Source:    source,
		Metadata:  make(map[string]any),
	}
}
