package weight

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
)

var _ voting.WeightSource = (*FungibleLedger)(nil)

// FungibleLedger tracks token balances. The total supply always equals the
// sum of all balances.
type FungibleLedger struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	supply   *big.Int
}

func NewFungibleLedger() *FungibleLedger {
	return &FungibleLedger{
		balances: make(map[common.Address]*big.Int),
		supply:   new(big.Int),
	}
}

func (l *FungibleLedger) Kind() voting.WeightKind { return voting.Fungible }

func (l *FungibleLedger) Mint(to common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	l.supply.Add(l.supply, amount)
}

func (l *FungibleLedger) Burn(from common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.supply.Sub(l.supply, amount)
	return nil
}

func (l *FungibleLedger) Transfer(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, sending %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

func (l *FungibleLedger) balance(holder common.Address) *big.Int {
	if bal, ok := l.balances[holder]; ok {
		return bal
	}
	return new(big.Int)
}

func (l *FungibleLedger) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance(holder)), nil
}

func (l *FungibleLedger) TotalSupply(context.Context) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply), nil
}
