package network

import (
	"context"
	"io"
)

// Network hands out gossip channels by topic. All nodes of a deployment
// should use the same topic.
type Network interface {
	Gossip(topic string) (Gossip, error)
}

// Gossip broadcasts notifications that should eventually reach every
// non-faulty node subscribed to the same topic, including the sender itself.
// How this is done, by flooding or otherwise, is left to the implementer.
type Gossip interface {
	io.Closer
	Broadcaster
	Notifier
}

type Broadcaster interface {
	Broadcast(context.Context, *Notification) error
}

type Notifier interface {
	// Notify registers a Notifiee wishing to receive notifications. Any
	// non-nil error returned from OnNotification rejects the message as
	// invalid.
	Notify(Notifiee)
}

type Notifiee interface {
	OnNotification(context.Context, *Notification) error
}
