// Package weight provides in-memory voting weight ledgers and a registry that
// resolves them by address.
package weight

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTokenExists         = errors.New("token already minted")
	ErrUnknownToken        = errors.New("unknown token")
	ErrNotOwner            = errors.New("not the token owner")
)

var _ voting.WeightSources = (*Registry)(nil)

// Registry maps weight source addresses to ledgers.
type Registry struct {
	mu      sync.RWMutex
	sources map[common.Address]voting.WeightSource
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[common.Address]voting.WeightSource)}
}

// Register makes source available under addr, replacing any previous one.
func (r *Registry) Register(addr common.Address, source voting.WeightSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[addr] = source
}

func (r *Registry) Source(addr common.Address) (voting.WeightSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	source, ok := r.sources[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", voting.ErrUnknownWeightSource, addr.Hex())
	}
	return source, nil
}

// Addresses lists the registered sources.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]common.Address, 0, len(r.sources))
	for addr := range r.sources {
		addrs = append(addrs, addr)
	}
	return addrs
}
