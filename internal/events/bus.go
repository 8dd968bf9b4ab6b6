package events

import (
	"sync"
	"time"
)

// EventSource identifies the component that emitted an event
type EventSource string

const EventSourceIRC EventSource = "irc"

// Wildcard subscribes to every event type
const Wildcard = "*"

// Event represents a generic event. Payload carries a typed value whose
// concrete type is determined by Type.
type Event struct {
	Type      string
	Payload   interface{}
	Timestamp time.Time
	Source    EventSource
}

// Subscriber is an interface for event subscribers
type Subscriber interface {
	OnEvent(event Event)
}

// SubscriberFunc adapts a plain function to the Subscriber interface
type SubscriberFunc func(event Event)

// OnEvent calls f(event)
func (f SubscriberFunc) OnEvent(event Event) {
	f(event)
}

type subscription struct {
	id  uint64
	sub Subscriber
}

// EventBus manages event routing. Delivery is synchronous and in emission
// order, so a subscriber observes events exactly as the publisher produced
// them.
type EventBus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]subscription),
	}
}

// Subscribe subscribes a subscriber to a specific event type (or Wildcard).
// The returned function removes the subscription.
func (eb *EventBus) Subscribe(eventType string, subscriber Subscriber) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: id, sub: subscriber})

	var once sync.Once
	return func() {
		once.Do(func() { eb.unsubscribe(eventType, id) })
	}
}

func (eb *EventBus) unsubscribe(eventType string, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[eventType]
	for i, s := range subs {
		if s.id == id {
			eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Emit delivers an event to the subscribers of its type, then to wildcard
// subscribers. No lock is held while subscribers run, so a subscriber may
// call back into the publisher.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	subs := make([]subscription, 0, len(eb.subscribers[event.Type])+len(eb.subscribers[Wildcard]))
	subs = append(subs, eb.subscribers[event.Type]...)
	if event.Type != Wildcard {
		subs = append(subs, eb.subscribers[Wildcard]...)
	}
	eb.mu.RUnlock()

	for _, s := range subs {
		s.sub.OnEvent(event)
	}
}
