package network

import (
	"context"
	"sync"
	"time"

	"github.com/cmwaters/verdict/event"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	relayQueueSize   = 64
	broadcastTimeout = 5 * time.Second
	seenCacheSize    = 1024
)

// RemotePrefix is prepended to the type of events received from peers when
// they are republished on the local bus.
const RemotePrefix = "remote."

func RemoteType(t event.EventType) event.EventType {
	return RemotePrefix + t
}

var (
	_ event.Subscriber = (*Relay)(nil)
	_ Notifiee         = (*Relay)(nil)
)

// Relay bridges an event bus and a gossip topic. Local engine events are
// broadcast to peers; notifications from peers are deduplicated and
// republished on the bus under RemoteType.
type Relay struct {
	origin string
	gossip Gossip
	bus    *event.EventBus
	logger zerolog.Logger

	queue chan event.Event
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

// NewRelay starts forwarding. Call Attach to subscribe it to the bus.
func NewRelay(gossip Gossip, bus *event.EventBus, logger zerolog.Logger) *Relay {
	r := &Relay{
		origin: uuid.NewString(),
		gossip: gossip,
		bus:    bus,
		logger: logger,
		queue:  make(chan event.Event, relayQueueSize),
		done:   make(chan struct{}),
		seen:   make(map[string]struct{}, seenCacheSize),
		ring:   make([]string, seenCacheSize),
	}
	gossip.Notify(r)
	r.wg.Add(1)
	go r.run()
	return r
}

// Origin identifies this node in outgoing notifications.
func (r *Relay) Origin() string {
	return r.origin
}

// Attach subscribes the relay to every engine event type.
func (r *Relay) Attach() {
	for _, t := range event.VotingEventTypes {
		r.bus.RegisterSubscriber(t, r)
	}
}

// Deliver queues a local event for broadcast. It never blocks; events are
// dropped when the queue is full.
func (r *Relay) Deliver(evt event.Event) error {
	select {
	case <-r.done:
		return nil
	default:
	}
	select {
	case r.queue <- evt:
	default:
		r.logger.Warn().Str("type", string(evt.Type)).Msg("relay queue full, dropping event")
	}
	return nil
}

func (r *Relay) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case evt := <-r.queue:
			r.broadcast(evt)
		}
	}
}

func (r *Relay) broadcast(evt event.Event) {
	n, err := NewNotification(r.origin, evt)
	if err != nil {
		r.logger.Err(err).Str("type", string(evt.Type)).Msg("encoding notification")
		return
	}
	r.markSeen(n.ID)
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	if err := r.gossip.Broadcast(ctx, n); err != nil {
		r.logger.Info().Err(err).Str("type", string(evt.Type)).Uint64("instance", n.Instance).
			Msg("broadcasting notification")
	}
}

// OnNotification validates a notification from the topic. Messages sent by
// this relay and repeats are accepted without being republished.
func (r *Relay) OnNotification(_ context.Context, n *Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.Origin == r.origin || !r.markSeen(n.ID) {
		return nil
	}
	evt, err := n.Event()
	if err != nil {
		return err
	}
	r.logger.Debug().Str("type", string(n.Type)).Uint64("instance", n.Instance).
		Str("origin", n.Origin).Msg("received notification")
	evt.Type = RemoteType(evt.Type)
	r.bus.PublishAsync(evt)
	return nil
}

// markSeen records an id and reports whether it was new. The oldest ids are
// forgotten first.
func (r *Relay) markSeen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.next] = id
	r.next = (r.next + 1) % len(r.ring)
	r.seen[id] = struct{}{}
	return true
}

// Close stops forwarding. The gossip itself is left open.
func (r *Relay) Close() {
	r.once.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}
