package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a registry change event.
type Kind string

const (
	KindInstanceRegistered Kind = "instance.registered"
	KindInstanceCancelled  Kind = "instance.cancelled"
	KindConfigCreated      Kind = "config.created"
	KindConfigRemoved      Kind = "config.removed"
	KindSchemaChanged      Kind = "schema.changed"
)

// Event is one registry change notification. Key identifies the changed
// object: an instance address, a "name/version" config coordinate, or an
// app/zone/servlet path.
type Event struct {
	ID        string
	Kind      Kind
	Key       string
	Timestamp time.Time
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers. The event id and
// timestamp are filled in here.
func (b *Broker) Publish(kind Kind, key string) {
	event := &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Key:       key,
		Timestamp: time.Now(),
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
