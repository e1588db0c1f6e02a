package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	EventQueueSize      = 20
	AsyncQueueSize      = 256
	AsyncWorkerPoolSize = 2
)

type EventType string

type SubscriberID int

type HandlerFunc func(Event)

// Event is a single notification emitted by the engine. Data holds one of
// the typed payloads declared in this package.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

func NewEvent(eventType EventType, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Subscriber receives events from the bus. In-memory channels and network
// relays implement it alike. Close must be idempotent.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

// EventBus fans events out to subscribers by type. Publish blocks on each
// subscriber in turn; PublishAsync hands the event to a small worker pool.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[SubscriberID]Subscriber
	lastID      SubscriberID

	metrics *metrics
	logger  zerolog.Logger

	queue   chan Event
	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopMu  sync.RWMutex
	stopped bool
}

// NewEventBus starts the async worker pool. A nil registerer disables metrics.
func NewEventBus(registry prometheus.Registerer, logger zerolog.Logger) *EventBus {
	b := &EventBus{
		subscribers: make(map[EventType]map[SubscriberID]Subscriber),
		logger:      logger,
		queue:       make(chan Event, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if registry != nil {
		b.metrics = newMetrics(registry)
	}
	for i := 0; i < AsyncWorkerPoolSize; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *EventBus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case evt := <-b.queue:
			b.Publish(evt)
		}
	}
}

type channelSubscriber struct {
	mu     sync.RWMutex
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	closed bool
}

func newChannelSubscriber(buffer int) *channelSubscriber {
	return &channelSubscriber{ch: make(chan Event, buffer), done: make(chan struct{})}
}

// Deliver blocks while the buffer is full, until the subscriber is closed.
func (c *channelSubscriber) Deliver(evt Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
	case <-c.done:
	}
	return nil
}

func (c *channelSubscriber) Close() {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Subscribe returns a buffered channel receiving every event of the given type.
func (b *EventBus) Subscribe(eventType EventType) (SubscriberID, <-chan Event) {
	sub := newChannelSubscriber(EventQueueSize)
	id := b.register(eventType, sub, "in-memory")
	return id, sub.ch
}

// SubscribeFunc invokes fn on its own goroutine for every event of the given
// type until the subscription is removed or the bus is stopped.
func (b *EventBus) SubscribeFunc(eventType EventType, fn HandlerFunc) SubscriberID {
	id, ch := b.Subscribe(eventType)
	go func() {
		for evt := range ch {
			fn(evt)
		}
	}()
	return id
}

// RegisterSubscriber attaches an external subscriber such as a network relay.
func (b *EventBus) RegisterSubscriber(eventType EventType, sub Subscriber) SubscriberID {
	return b.register(eventType, sub, "remote")
}

func (b *EventBus) register(eventType EventType, sub Subscriber, kind string) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	if _, ok := b.subscribers[eventType]; !ok {
		b.subscribers[eventType] = make(map[SubscriberID]Subscriber)
	}
	b.subscribers[eventType][b.lastID] = sub
	if b.metrics != nil {
		b.metrics.subscribers.WithLabelValues(string(eventType), kind).Inc()
	}
	return b.lastID
}

func (b *EventBus) Unsubscribe(eventType EventType, id SubscriberID) {
	b.mu.Lock()
	subs := b.subscribers[eventType]
	sub, ok := subs[id]
	if ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subscribers, eventType)
		}
		if b.metrics != nil {
			b.metrics.subscribers.WithLabelValues(string(eventType), kindOf(sub)).Dec()
		}
	}
	b.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// Publish delivers the event to all current subscribers of its type. A
// subscriber that fails or panics is removed.
func (b *EventBus) Publish(evt Event) {
	b.mu.RLock()
	type item struct {
		id  SubscriberID
		sub Subscriber
	}
	subs := make([]item, 0, len(b.subscribers[evt.Type]))
	for id, sub := range b.subscribers[evt.Type] {
		subs = append(subs, item{id: id, sub: sub})
	}
	b.mu.RUnlock()

	for _, it := range subs {
		if err := deliver(it.sub, evt); err != nil {
			b.Unsubscribe(evt.Type, it.id)
			if b.metrics != nil {
				b.metrics.deliveryErrors.WithLabelValues(string(evt.Type), kindOf(it.sub)).Inc()
			}
			b.logger.Debug().Err(err).Str("type", string(evt.Type)).Msg("event delivery failed")
		}
	}
	if b.metrics != nil {
		b.metrics.events.WithLabelValues(string(evt.Type)).Inc()
	}
}

func deliver(sub Subscriber, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Deliver(evt)
}

// PublishAsync enqueues the event and returns immediately. It reports false
// when the bus is stopped or the queue is full.
func (b *EventBus) PublishAsync(evt Event) bool {
	b.stopMu.RLock()
	defer b.stopMu.RUnlock()
	if b.stopped {
		return false
	}
	select {
	case b.queue <- evt:
		return true
	default:
		b.logger.Warn().Str("type", string(evt.Type)).Msg("event queue full, dropping event")
		if b.metrics != nil {
			b.metrics.deliveryErrors.WithLabelValues(string(evt.Type), "async-dropped").Inc()
		}
		return false
	}
}

// Stop halts the worker pool and closes every subscriber. Events still
// queued are dropped.
func (b *EventBus) Stop() {
	b.stopMu.Lock()
	if b.stopped {
		b.stopMu.Unlock()
		return
	}
	b.stopped = true
	close(b.stopCh)
	b.stopMu.Unlock()

	// closing first releases workers blocked on a full subscriber
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[EventType]map[SubscriberID]Subscriber)
	b.mu.Unlock()
	for _, byID := range subs {
		for _, sub := range byID {
			sub.Close()
		}
	}
	b.wg.Wait()

	if b.metrics != nil {
		b.metrics.subscribers.Reset()
	}
}

func kindOf(sub Subscriber) string {
	if _, ok := sub.(*channelSubscriber); ok {
		return "in-memory"
	}
	return "remote"
}
