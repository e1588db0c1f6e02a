// Package target provides dispatchers that carry out the action call of an
// implemented voting instance.
package target

import (
	"context"
	"fmt"
	"sync"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HandlerFunc executes a call for one target and selector.
type HandlerFunc func(ctx context.Context, call voting.Call) ([]byte, error)

// Selector returns the first four bytes of the keccak256 hash of a function
// signature such as "transfer(address,uint256)".
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature)))
	return sel
}

var _ voting.Dispatcher = (*Router)(nil)

// Router dispatches calls by target address and the selector in the first
// four payload bytes. Calls to an unknown target or selector fail with
// voting.ErrUnsupportedCall.
type Router struct {
	mu       sync.RWMutex
	handlers map[common.Address]map[[4]byte]HandlerFunc
	routes   map[common.Address]voting.Dispatcher
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[common.Address]map[[4]byte]HandlerFunc),
		routes:   make(map[common.Address]voting.Dispatcher),
	}
}

// Handle registers fn for calls to target whose selector matches signature.
func (r *Router) Handle(target common.Address, signature string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[target]; !ok {
		r.handlers[target] = make(map[[4]byte]HandlerFunc)
	}
	r.handlers[target][Selector(signature)] = fn
}

// Route forwards every call to target that has no handler to d.
func (r *Router) Route(target common.Address, d voting.Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[target] = d
}

func (r *Router) Dispatch(ctx context.Context, call voting.Call) ([]byte, error) {
	if len(call.Payload) < voting.MinPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes has no selector", voting.ErrUnsupportedCall, len(call.Payload))
	}
	var sel [4]byte
	copy(sel[:], call.Payload)

	r.mu.RLock()
	fn, hasHandler := r.handlers[call.Target][sel]
	_, knownTarget := r.handlers[call.Target]
	route, hasRoute := r.routes[call.Target]
	r.mu.RUnlock()

	switch {
	case hasHandler:
		return fn(ctx, call)
	case hasRoute:
		return route.Dispatch(ctx, call)
	case knownTarget:
		return nil, fmt.Errorf("%w: %s has no function %x", voting.ErrUnsupportedCall, call.Target.Hex(), sel)
	default:
		return nil, fmt.Errorf("%w: no target at %s", voting.ErrUnsupportedCall, call.Target.Hex())
	}
}
