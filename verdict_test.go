package verdict_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cmwaters/verdict"
	"github.com/cmwaters/verdict/database"
	"github.com/cmwaters/verdict/event"
	"github.com/cmwaters/verdict/internal/config"
	"github.com/cmwaters/verdict/network"
	"github.com/cmwaters/verdict/tally"
	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	testCtx  = context.Background()
	token    = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	treasury = common.HexToAddress("0x000000000000000000000000000000000000beef")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() *config.Config {
	return &config.Config{
		StorePlugin:      database.PluginMemory,
		Topic:            "verdict/test",
		MajorityDuration: time.Hour,
		QuorumBasis:      tally.QuorumParticipation.String(),
		Ledgers: []config.LedgerConfig{{
			Address: token.Hex(),
			Kind:    config.LedgerFungible,
			Balances: map[string]string{
				alice.Hex(): "60",
				bob.Hex():   "40",
			},
		}},
	}
}

func newNode(t *testing.T, opts ...verdict.Option) *verdict.Node {
	t.Helper()
	n, err := verdict.New(testCtx, testConfig(), zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, n.Close()) })
	return n
}

func TestQuorumAcrossNodes(t *testing.T) {
	net := network.NewLocalNetwork()
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	a := newNode(t, verdict.WithNetwork(net), verdict.WithClock(c), verdict.WithPromRegistry(prometheus.NewRegistry()))
	b := newNode(t, verdict.WithNetwork(net))

	balance, err := a.Weights.Source(token)
	require.NoError(t, err)
	supply, err := balance.TotalSupply(testCtx)
	require.NoError(t, err)
	require.EqualValues(t, 100, supply.Int64())

	released := make(chan voting.Call, 1)
	a.Router.Handle(treasury, "release(uint256)", func(_ context.Context, call voting.Call) ([]byte, error) {
		released <- call
		return nil, nil
	})
	_, remote := b.Bus.Subscribe(network.RemoteType(event.ImplementedEventType))

	params, err := tally.EncodeQuorumParams(tally.QuorumParams{
		WeightSource: token,
		Duration:     time.Hour,
		Quorum:       5000,
		Guard:        voting.GuardCaller,
	})
	require.NoError(t, err)
	sel := []byte{0x37, 0xbf, 0x2b, 0x87}
	payload := append(sel, common.LeftPadBytes([]byte{0x01}, 32)...)
	id, err := a.Engine.Start(testCtx, treasury, tally.FungibleQuorumName, params, payload)
	require.NoError(t, err)

	_, err = a.Engine.Vote(testCtx, alice, id, tally.EncodeChoice(tally.For))
	require.NoError(t, err)
	c.Advance(time.Hour + time.Second)
	require.Equal(t, voting.AwaitCall, a.Engine.GetStatus(testCtx, id).Phase)

	receipt, err := a.Engine.Implement(testCtx, bob, id, payload)
	require.NoError(t, err)
	require.Equal(t, voting.Completed, receipt.Status.Phase)
	call := <-released
	require.Equal(t, bob, call.Caller)

	select {
	case evt := <-remote:
		got, ok := evt.Data.(event.ImplementedEvent)
		require.True(t, ok)
		require.Equal(t, id, got.Instance)
	case <-time.After(5 * time.Second):
		t.Fatal("peer did not hear about the implementation")
	}
}

func TestRestoreFromStore(t *testing.T) {
	store := database.NewMemoryStore()
	first := newNode(t, verdict.WithStore(store))
	params, err := tally.EncodeMajorityParams(tally.MajorityParams{Target: treasury})
	require.NoError(t, err)
	payload := make([]byte, 4)
	for i := 0; i < 3; i++ {
		_, err := first.Engine.Start(testCtx, alice, tally.MajorityName, params, payload)
		require.NoError(t, err)
	}

	second := newNode(t, verdict.WithStore(store))
	require.EqualValues(t, 3, second.Engine.CurrentIndex(testCtx))
	inst, err := second.Engine.Instance(testCtx, 2)
	require.NoError(t, err)
	require.Equal(t, alice, inst.Initiator)
}

func TestInvalidLedger(t *testing.T) {
	cfg := testConfig()
	cfg.Ledgers[0].Balances[bob.Hex()] = "-1"
	_, err := verdict.New(testCtx, cfg, zerolog.Nop())
	require.Error(t, err)

	cfg = testConfig()
	cfg.QuorumBasis = "turnout"
	_, err = verdict.New(testCtx, cfg, zerolog.Nop())
	require.Error(t, err)
}
