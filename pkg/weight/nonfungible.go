package weight

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
)

var _ voting.WeightSource = (*NonFungibleLedger)(nil)

// NonFungibleLedger tracks token ownership. A holder's weight is the number
// of tokens it owns and the supply is the number of minted tokens.
type NonFungibleLedger struct {
	mu     sync.RWMutex
	owners map[uint64]common.Address
	counts map[common.Address]uint64
}

func NewNonFungibleLedger() *NonFungibleLedger {
	return &NonFungibleLedger{
		owners: make(map[uint64]common.Address),
		counts: make(map[common.Address]uint64),
	}
}

func (l *NonFungibleLedger) Kind() voting.WeightKind { return voting.NonFungible }

func (l *NonFungibleLedger) Mint(to common.Address, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[tokenID]; ok {
		return fmt.Errorf("%w: %d", ErrTokenExists, tokenID)
	}
	l.owners[tokenID] = to
	l.counts[to]++
	return nil
}

func (l *NonFungibleLedger) Transfer(from, to common.Address, tokenID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	if owner != from {
		return fmt.Errorf("%w: %d belongs to %s", ErrNotOwner, tokenID, owner.Hex())
	}
	l.owners[tokenID] = to
	l.counts[from]--
	l.counts[to]++
	return nil
}

func (l *NonFungibleLedger) OwnerOf(tokenID uint64) (common.Address, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owners[tokenID]
	return owner, ok
}

func (l *NonFungibleLedger) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).SetUint64(l.counts[holder]), nil
}

func (l *NonFungibleLedger) TotalSupply(context.Context) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return big.NewInt(int64(len(l.owners))), nil
}
