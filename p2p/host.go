package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"
)

// Node is a libp2p host running gossipsub.
type Node struct {
	Host host.Host
	*Network
}

// NewNode starts a host listening on listenAddrs and dials every bootstrap
// peer given as a full multiaddr with a /p2p/ component.
func NewNode(ctx context.Context, listenAddrs, bootstrap []string, logger zerolog.Logger) (*Node, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("starting libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("starting gossipsub: %w", err)
	}
	for _, addr := range bootstrap {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("bootstrap peer %q: %w", addr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("bootstrap peer %q: %w", addr, err)
		}
		if err := h.Connect(ctx, *info); err != nil {
			logger.Warn().Err(err).Str("peer", info.ID.String()).Msg("failed to reach bootstrap peer")
		}
	}
	logger.Info().Str("peer", h.ID().String()).Strs("addrs", multiaddrStrings(h.Addrs())).Msg("p2p host started")
	return &Node{Host: h, Network: NewNetwork(ps)}, nil
}

func (n *Node) Close() error {
	return n.Host.Close()
}

func multiaddrStrings(addrs []multiaddr.Multiaddr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
