package p2p

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cmwaters/verdict/network"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

// TopicPrefix namespaces verdict topics so they cannot collide with other
// applications sharing the pubsub router.
const TopicPrefix = "/verdict/1/"

var _ network.Network = (*Network)(nil)

type Network struct {
	ps *pubsub.PubSub
}

func NewNetwork(ps *pubsub.PubSub) *Network {
	return &Network{
		ps: ps,
	}
}

func (pn *Network) Gossip(topic string) (network.Gossip, error) {
	tp, err := pn.ps.Join(TopicPrefix + topic)
	if err != nil {
		return nil, err
	}

	pg := &Gossip{
		ps: pn.ps,
		tp: tp,
	}
	if err := pg.ensureSubscribed(); err != nil {
		return nil, errors.Join(err, tp.Close())
	}
	return pg, nil
}

type Gossip struct {
	ps  *pubsub.PubSub
	tp  *pubsub.Topic
	sub *pubsub.Subscription
}

func (p *Gossip) Broadcast(ctx context.Context, n *network.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	// so that we publish when we have at least one peer
	opt := pubsub.WithReadiness(pubsub.MinTopicSize(1))
	return p.tp.Publish(ctx, data, opt)
}

func (p *Gossip) Notify(notifiee network.Notifiee) {
	// error can be safely ignored
	_ = p.ps.RegisterTopicValidator(p.tp.String(), func(ctx context.Context, _ peer.ID, pmsg *pubsub.Message) pubsub.ValidationResult {
		var n network.Notification
		if err := json.Unmarshal(pmsg.Data, &n); err != nil {
			return pubsub.ValidationReject
		}
		if err := notifiee.OnNotification(ctx, &n); err != nil {
			return pubsub.ValidationReject
		}
		return pubsub.ValidationAccept
	})
}

func (p *Gossip) Close() (err error) {
	p.sub.Cancel()
	err = errors.Join(err, p.ps.UnregisterTopicValidator(p.tp.String()))
	err = errors.Join(err, p.tp.Close())
	return err
}

// ensureSubscribed maintains one and only subscription for the topic.
// PubSub requires at least one subscription in order to work correctly.
// The Network interface does not need the notion of subscribers and relies
// only on validators.
func (p *Gossip) ensureSubscribed() error {
	sub, err := p.tp.Subscribe()
	if err != nil {
		return err
	}
	p.sub = sub

	go func() {
		for {
			_, err := sub.Next(context.Background())
			if err != nil {
				// happens when subscription is canceled
				return
			}
			// simply ignore messages
		}
	}()
	return nil
}
