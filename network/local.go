package network

import (
	"context"
	"errors"
	"sync"
)

var _ Network = (*LocalNetwork)(nil)

// LocalNetwork connects gossips within a single process. It is used by tests
// and by single node deployments.
type LocalNetwork struct {
	mu     sync.RWMutex
	topics map[string]map[*LocalGossip]struct{}
}

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{topics: make(map[string]map[*LocalGossip]struct{})}
}

func (n *LocalNetwork) Gossip(topic string) (Gossip, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	g := &LocalGossip{net: n, topic: topic}
	if _, ok := n.topics[topic]; !ok {
		n.topics[topic] = make(map[*LocalGossip]struct{})
	}
	n.topics[topic][g] = struct{}{}
	return g, nil
}

func (n *LocalNetwork) members(topic string) []*LocalGossip {
	n.mu.RLock()
	defer n.mu.RUnlock()
	members := make([]*LocalGossip, 0, len(n.topics[topic]))
	for g := range n.topics[topic] {
		members = append(members, g)
	}
	return members
}

type LocalGossip struct {
	net   *LocalNetwork
	topic string

	mu        sync.RWMutex
	notifiees []Notifiee
	closed    bool
}

var ErrClosed = errors.New("gossip closed")

// Broadcast delivers the notification to every gossip on the topic. Like a
// pubsub publish, it fails only when the sender's own notifiees reject it.
func (l *LocalGossip) Broadcast(ctx context.Context, n *Notification) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := l.deliver(ctx, n); err != nil {
		return err
	}
	for _, peer := range l.net.members(l.topic) {
		if peer == l {
			continue
		}
		_ = peer.deliver(ctx, n)
	}
	return nil
}

func (l *LocalGossip) deliver(ctx context.Context, n *Notification) error {
	l.mu.RLock()
	notifiees := append([]Notifiee(nil), l.notifiees...)
	l.mu.RUnlock()
	for _, nt := range notifiees {
		if err := nt.OnNotification(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalGossip) Notify(notifiee Notifiee) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifiees = append(l.notifiees, notifiee)
}

func (l *LocalGossip) Close() error {
	l.mu.Lock()
	l.closed = true
	l.notifiees = nil
	l.mu.Unlock()

	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	delete(l.net.topics[l.topic], l)
	return nil
}
