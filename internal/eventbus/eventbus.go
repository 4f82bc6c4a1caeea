// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package eventbus implements the in-process publish/subscribe bus that fans tracking state
// changes out to interested observers.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wneessen/geotrack/internal/logger"
)

// Topic is the name of an event stream on the bus.
type Topic string

const (
	TopicLocationUpdate            Topic = "locationUpdate"
	TopicLocationSent              Topic = "locationSent"
	TopicLocationSendError         Topic = "locationSendError"
	TopicLocationSendFailed        Topic = "locationSendFailed"
	TopicServiceStarted            Topic = "serviceStarted"
	TopicServiceStopped            Topic = "serviceStopped"
	TopicError                     Topic = "error"
	TopicBatteryOptimizationStatus Topic = "batteryOptimizationStatus"
	TopicAppStateChange            Topic = "appStateChange"
	TopicInitialized               Topic = "initialized"
	TopicInitializationError       Topic = "initializationError"
)

// Topics lists all topics known to the bus.
var Topics = []Topic{
	TopicLocationUpdate, TopicLocationSent, TopicLocationSendError, TopicLocationSendFailed,
	TopicServiceStarted, TopicServiceStopped, TopicError, TopicBatteryOptimizationStatus,
	TopicAppStateChange, TopicInitialized, TopicInitializationError,
}

// Event is a single message published on the bus.
type Event struct {
	Topic   Topic
	Payload any
	At      time.Time
}

// Handler is a subscriber callback. Handlers run synchronously on the publishing goroutine
// and must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus coordinates publishing events to the subscribers of a topic and to global subscribers.
type Bus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	nextID      uint64
	subscribers map[Topic][]subscription
	globalSubs  []subscription
}

// New initializes and returns a new Bus.
func New(log *logger.Logger) *Bus {
	return &Bus{
		logger:      log,
		subscribers: make(map[Topic][]subscription),
	}
}

// Subscribe registers handler for the given topic and returns a function that removes it again.
// Handlers of a topic are called in registration order.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subscribers[topic] = remove(b.subscribers[topic], id)
			if len(b.subscribers[topic]) == 0 {
				delete(b.subscribers, topic)
			}
		})
	}
}

// SubscribeAll registers handler for every topic and returns a function that removes it again.
// Global handlers run after the topic handlers.
func (b *Bus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.globalSubs = append(b.globalSubs, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.globalSubs = remove(b.globalSubs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeChan returns a buffered channel that receives the events of a topic and a function
// that unsubscribes and closes the channel. Events are dropped if the channel is full.
func (b *Bus) SubscribeChan(topic Topic, size int) (<-chan Event, func()) {
	eventChan := make(chan Event, size)
	var mu sync.Mutex
	closed := false

	unsub := b.Subscribe(topic, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case eventChan <- e:
		default:
		}
	})

	return eventChan, func() {
		unsub()
		mu.Lock()
		if !closed {
			closed = true
			close(eventChan)
		}
		mu.Unlock()
	}
}

// Publish delivers payload to all subscribers of topic and to all global subscribers. A
// panicking handler is logged and does not prevent delivery to the remaining handlers.
func (b *Bus) Publish(topic Topic, payload any) {
	event := Event{Topic: topic, Payload: payload, At: time.Now()}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subscribers[topic])+len(b.globalSubs))
	subs = append(subs, b.subscribers[topic]...)
	subs = append(subs, b.globalSubs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(sub, event)
	}
}

// SubscriberCount returns the number of handlers registered for topic, including global ones.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic]) + len(b.globalSubs)
}

// dispatch invokes a single handler and recovers from potential panics.
func (b *Bus) dispatch(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked", slog.String("topic", string(event.Topic)),
				slog.Uint64("subscriber", sub.id), logger.Err(fmt.Errorf("%v", r)))
		}
	}()
	sub.handler(event)
}

func remove(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.id != id {
			out = append(out, sub)
		}
	}
	return out
}
