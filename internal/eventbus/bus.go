// Package eventbus provides the in-process fan-out between the gateway
// transport, the notification store and any other subscriber.
//
// Delivery is synchronous on the emitting goroutine. Handlers see events in
// emit order per event name, a handler registered while an event is being
// delivered does not receive that event, and a panicking handler is
// recovered and logged without affecting its siblings.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog/log"
	"setorin.id/notifclient/internal/domain"
)

// Event names a bus topic.
type Event string

const (
	EventConnectionStatus      Event = "connection_status"
	EventNotification          Event = "notification"
	EventBroadcastNotification Event = "broadcast_notification"
	EventError                 Event = "error"
	EventPong                  Event = "pong"
)

// StatusEvent is the payload of EventConnectionStatus.
type StatusEvent struct {
	State domain.ConnState
}

// ErrorEvent is the payload of EventError. Fatal errors end the transport
// until it is started again.
type ErrorEvent struct {
	Kind      domain.ErrorKind
	Message   string
	CloseCode int
	Fatal     bool
}

// Handler receives an event payload.
type Handler func(payload any)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is a named, synchronous event fan-out.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Event][]subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Event][]subscription)}
}

// On registers h for event and returns a function that removes it.
func (b *Bus) On(event Event, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(event, id) })
	}
}

func (b *Bus) remove(event Event, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[event]
	updated := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			updated = append(updated, s)
		}
	}
	if len(updated) == 0 {
		delete(b.subs, event)
	} else {
		b.subs[event] = updated
	}
}

// Emit delivers payload to every handler registered for event at the time
// of the call.
func (b *Bus) Emit(event Event, payload any) {
	b.mu.RLock()
	subs := b.subs[event]
	b.mu.RUnlock()

	// On only appends past len(subs) and remove copies, so subs is a stable snapshot.
	for _, s := range subs {
		b.deliver(event, s, payload)
	}
}

func (b *Bus) deliver(event Event, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event)).
				Uint64("subscriber", s.id).
				Interface("panic", r).
				Msg("eventbus: handler panicked")
		}
	}()
	s.fn(payload)
}

// Reset drops every subscriber. Called on session teardown.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.subs = make(map[Event][]subscription)
	b.mu.Unlock()
}

// Count returns the number of handlers registered for event.
func (b *Bus) Count(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Handle registers a typed handler. Payloads of another type are logged and
// dropped.
func Handle[T any](b *Bus, event Event, fn func(T)) (unsubscribe func()) {
	return b.On(event, func(payload any) {
		v, ok := payload.(T)
		if !ok {
			log.Warn().
				Str("event", string(event)).
				Type("payload", payload).
				Msg("eventbus: unexpected payload type, dropping")
			return
		}
		fn(v)
	})
}
