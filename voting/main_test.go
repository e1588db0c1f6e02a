package voting_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/cmwaters/verdict/database"
	"github.com/cmwaters/verdict/event"
	"github.com/cmwaters/verdict/pkg/weight"
	"github.com/cmwaters/verdict/tally"
	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testCtx = context.Background()

const period = time.Hour

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	nftAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f7")
	target    = common.HexToAddress("0x000000000000000000000000000000000000beef")

	initiator = addr(0x10)
	voters    = []common.Address{addr(0x21), addr(0x22), addr(0x23), addr(0x24)}
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// dispatcher records every call and answers with fn.
type dispatcher struct {
	mu    sync.Mutex
	calls []voting.Call
	fn    func(ctx context.Context, call voting.Call) ([]byte, error)
}

func (d *dispatcher) Dispatch(ctx context.Context, call voting.Call) ([]byte, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	fn := d.fn
	d.mu.Unlock()
	if fn == nil {
		return []byte{0x01}, nil
	}
	return fn(ctx, call)
}

func (d *dispatcher) setFn(fn func(ctx context.Context, call voting.Call) ([]byte, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fn = fn
}

func (d *dispatcher) Calls() []voting.Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]voting.Call(nil), d.calls...)
}

type harness struct {
	engine     *voting.Engine
	clock      *testClock
	dispatcher *dispatcher
	store      *database.MemoryStore
	bus        *event.EventBus
	weights    *weight.Registry
	tokens     *weight.FungibleLedger
	nfts       *weight.NonFungibleLedger
}

// newHarness gives every voter one token of each ledger.
func newHarness(t *testing.T, opts ...voting.Option) *harness {
	t.Helper()
	h := &harness{
		clock:      &testClock{now: time.Unix(1_700_000_000, 0)},
		dispatcher: &dispatcher{},
		store:      database.NewMemoryStore(),
		bus:        event.NewEventBus(nil, zerolog.Nop()),
		weights:    weight.NewRegistry(),
		tokens:     weight.NewFungibleLedger(),
		nfts:       weight.NewNonFungibleLedger(),
	}
	t.Cleanup(h.bus.Stop)
	for i, v := range voters {
		h.tokens.Mint(v, big.NewInt(1))
		require.NoError(t, h.nfts.Mint(v, uint64(i+1)))
	}
	h.weights.Register(tokenAddr, h.tokens)
	h.weights.Register(nftAddr, h.nfts)
	h.engine = h.newEngine(opts...)
	return h
}

func (h *harness) newEngine(opts ...voting.Option) *voting.Engine {
	base := []voting.Option{
		voting.WithClock(h.clock),
		voting.WithStore(h.store),
		voting.WithEventBus(h.bus),
		voting.WithLogger(zerolog.Nop()),
	}
	return voting.New(h.dispatcher, h.strategies(), append(base, opts...)...)
}

func (h *harness) strategies() []voting.Strategy {
	return []voting.Strategy{
		tally.NewMajority(period),
		tally.NewFungibleQuorum(h.weights),
		tally.NewNonFungibleQuorum(h.weights),
		tally.NewBracket(h.weights),
	}
}

// payload is a selector followed by two argument words.
func payload() []byte {
	data := []byte{0xa9, 0x05, 0x9c, 0xbb}
	data = append(data, common.LeftPadBytes([]byte{0x01}, 32)...)
	return append(data, common.LeftPadBytes([]byte{0x02}, 32)...)
}

func (h *harness) startMajority(t *testing.T, expectReturn bool) uint64 {
	t.Helper()
	params, err := tally.EncodeMajorityParams(tally.MajorityParams{Target: target, ExpectReturn: expectReturn})
	require.NoError(t, err)
	id, err := h.engine.Start(testCtx, initiator, tally.MajorityName, params, payload())
	require.NoError(t, err)
	return id
}

func (h *harness) startQuorum(t *testing.T, name string, source common.Address, quorum uint64, guard voting.GuardMode) uint64 {
	t.Helper()
	params, err := tally.EncodeQuorumParams(tally.QuorumParams{
		WeightSource: source,
		Duration:     period,
		Quorum:       quorum,
		Guard:        guard,
	})
	require.NoError(t, err)
	id, err := h.engine.Start(testCtx, initiator, name, params, payload())
	require.NoError(t, err)
	return id
}

func bracketParams(t *testing.T, rounds uint8, contestants ...common.Address) []byte {
	t.Helper()
	params, err := tally.EncodeBracketParams(tally.BracketParams{
		InsertionOffset: 4,
		Duration:        period,
		Rounds:          rounds,
		WeightSource:    tokenAddr,
		Contestants:     contestants,
	})
	require.NoError(t, err)
	return params
}

func (h *harness) vote(t *testing.T, voter common.Address, id uint64, choice []byte) voting.Status {
	t.Helper()
	status, err := h.engine.Vote(testCtx, voter, id, choice)
	require.NoError(t, err)
	return status
}

func (h *harness) requirePhase(t *testing.T, id uint64, phase voting.Phase) {
	t.Helper()
	require.Equal(t, phase, h.engine.GetStatus(testCtx, id).Phase)
}

// acceptMajority starts a majority instance and moves it to awaitcall.
func (h *harness) acceptMajority(t *testing.T, expectReturn bool) uint64 {
	t.Helper()
	id := h.startMajority(t, expectReturn)
	h.vote(t, voters[0], id, tally.EncodeChoice(tally.For))
	h.clock.Advance(period + time.Second)
	h.requirePhase(t, id, voting.AwaitCall)
	return id
}
