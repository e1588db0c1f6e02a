package tally_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/cmwaters/verdict/pkg/weight"
	"github.com/cmwaters/verdict/tally"
	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var testCtx = context.Background()

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000070c3")
	payload   = make([]byte, 4+64)
)

func addr(b byte) common.Address {
	return common.BytesToAddress([]byte{b})
}

func weights(t *testing.T, balances map[common.Address]int64) (*weight.Registry, *weight.FungibleLedger) {
	t.Helper()
	ledger := weight.NewFungibleLedger()
	for holder, amount := range balances {
		ledger.Mint(holder, big.NewInt(amount))
	}
	registry := weight.NewRegistry()
	registry.Register(tokenAddr, ledger)
	return registry, ledger
}

func TestDecodeChoice(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input []byte
		want  tally.Choice
		valid bool
	}{
		{"for", tally.EncodeChoice(tally.For), tally.For, true},
		{"against", tally.EncodeChoice(tally.Against), tally.Against, true},
		{"abstain", tally.EncodeChoice(tally.Abstain), tally.Abstain, true},
		{"unknown word", common.LeftPadBytes([]byte{0x07}, 32), tally.Abstain, false},
		{"short", []byte{0x01}, tally.Abstain, false},
		{"empty", nil, tally.Abstain, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, valid := tally.DecodeChoice(tc.input)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.valid, valid)
		})
	}
}

func TestQuorumParamsValidation(t *testing.T) {
	for _, quorum := range []uint64{0, tally.BasisPoints + 1} {
		params, err := tally.EncodeQuorumParams(tally.QuorumParams{WeightSource: tokenAddr, Duration: time.Hour, Quorum: quorum})
		require.NoError(t, err)
		_, err = tally.DecodeQuorumParams(params)
		require.ErrorIs(t, err, voting.ErrMalformedParams, "quorum %d", quorum)
	}

	params, err := tally.EncodeQuorumParams(tally.QuorumParams{
		WeightSource: tokenAddr,
		Duration:     90 * time.Minute,
		Quorum:       tally.BasisPoints,
		ExpectReturn: true,
		Guard:        voting.GuardMode(3),
	})
	require.NoError(t, err)
	_, err = tally.DecodeQuorumParams(params)
	require.ErrorIs(t, err, voting.ErrMalformedParams)

	params, err = tally.EncodeQuorumParams(tally.QuorumParams{
		WeightSource: tokenAddr,
		Duration:     90 * time.Minute,
		Quorum:       tally.BasisPoints,
		ExpectReturn: true,
		Guard:        voting.GuardCallerChoice,
	})
	require.NoError(t, err)
	p, err := tally.DecodeQuorumParams(params)
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, p.Duration)
	require.Equal(t, voting.GuardCallerChoice, p.Guard)
	require.True(t, p.ExpectReturn)
}

func TestMaxRounds(t *testing.T) {
	for n, want := range map[int]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4} {
		require.Equal(t, want, tally.MaxRounds(n), "%d contestants", n)
	}
}

func TestMajorityResolve(t *testing.T) {
	m := tally.NewMajority(time.Hour)
	params, err := tally.EncodeMajorityParams(tally.MajorityParams{})
	require.NoError(t, err)
	terms, tl, err := m.Open(testCtx, params, payload)
	require.NoError(t, err)
	require.Equal(t, time.Hour, terms.Duration)
	require.Equal(t, voting.GuardCaller, terms.Guard)

	require.NoError(t, tl.Vote(testCtx, addr(1), tally.EncodeChoice(tally.Against)))
	res, err := tl.Resolve(testCtx)
	require.NoError(t, err)
	require.Equal(t, voting.Rejected, res.Outcome)

	clone := tl.Clone()
	require.NoError(t, clone.Vote(testCtx, addr(2), tally.EncodeChoice(tally.For)))
	require.NoError(t, clone.Vote(testCtx, addr(3), tally.EncodeChoice(tally.For)))
	res, err = clone.Resolve(testCtx)
	require.NoError(t, err)
	require.Equal(t, voting.Accepted, res.Outcome)

	// the original is untouched by votes on its clone
	result, err := tl.Result()
	require.NoError(t, err)
	delta, err := tally.DecodeMajorityResult(result)
	require.NoError(t, err)
	require.EqualValues(t, -1, delta.Int64())

	snapshot, err := clone.Snapshot()
	require.NoError(t, err)
	loaded, err := m.Load(snapshot)
	require.NoError(t, err)
	result, err = loaded.Result()
	require.NoError(t, err)
	delta, err = tally.DecodeMajorityResult(result)
	require.NoError(t, err)
	require.EqualValues(t, 1, delta.Int64())
}

func TestQuorumApprovalBasis(t *testing.T) {
	registry, _ := weights(t, map[common.Address]int64{addr(1): 30, addr(2): 30, addr(3): 40})
	params, err := tally.EncodeQuorumParams(tally.QuorumParams{WeightSource: tokenAddr, Duration: time.Hour, Quorum: 5000})
	require.NoError(t, err)

	for _, tc := range []struct {
		basis tally.QuorumBasis
		want  voting.Outcome
	}{
		// 30 for and 40 abstaining meet half the supply by participation
		{tally.QuorumParticipation, voting.Accepted},
		// but 30 for alone do not meet it by approval
		{tally.QuorumApproval, voting.Pending},
	} {
		t.Run(tc.basis.String(), func(t *testing.T) {
			q := tally.NewFungibleQuorum(registry, tally.WithQuorumBasis(tc.basis))
			_, tl, err := q.Open(testCtx, params, payload)
			require.NoError(t, err)
			require.NoError(t, tl.Vote(testCtx, addr(1), tally.EncodeChoice(tally.For)))
			require.NoError(t, tl.Vote(testCtx, addr(3), tally.EncodeChoice(tally.Abstain)))
			res, err := tl.Resolve(testCtx)
			require.NoError(t, err)
			require.Equal(t, tc.want, res.Outcome)
		})
	}
}

func TestQuorumUnknownSource(t *testing.T) {
	registry, _ := weights(t, nil)
	params, err := tally.EncodeQuorumParams(tally.QuorumParams{WeightSource: addr(0x99), Duration: time.Hour, Quorum: 5000})
	require.NoError(t, err)
	_, _, err = tally.NewFungibleQuorum(registry).Open(testCtx, params, payload)
	require.ErrorIs(t, err, voting.ErrUnknownWeightSource)
}

func openBracket(t *testing.T, registry voting.WeightSources, rounds uint8, contestants ...common.Address) voting.Tally {
	t.Helper()
	params, err := tally.EncodeBracketParams(tally.BracketParams{
		InsertionOffset: 4,
		Duration:        time.Hour,
		Rounds:          rounds,
		WeightSource:    tokenAddr,
		Contestants:     contestants,
	})
	require.NoError(t, err)
	terms, tl, err := tally.NewBracket(registry).Open(testCtx, params, payload)
	require.NoError(t, err)
	require.Equal(t, 4, terms.Offset)
	require.Equal(t, voting.GuardCallerChoice, terms.Guard)
	return tl
}

func TestBracketBye(t *testing.T) {
	a, b, c := addr(0xa), addr(0xb), addr(0xc)
	registry, _ := weights(t, map[common.Address]int64{addr(1): 5, addr(2): 7})
	tl := openBracket(t, registry, 2, a, b, c)

	require.NoError(t, tl.Vote(testCtx, addr(1), tally.EncodeContestant(a)))
	res, err := tl.Resolve(testCtx)
	require.NoError(t, err)
	require.Equal(t, voting.NextRound, res.Outcome)
	require.EqualValues(t, 1, res.RoundsLeft)
	require.Len(t, res.Winners, 1)
	require.Equal(t, a, res.Winners[0].Contestant)
	require.EqualValues(t, 5, res.Winners[0].Weight.Int64())

	// a snapshot carries the promoted contestants
	snapshot, err := tl.Snapshot()
	require.NoError(t, err)
	tl, err = tally.NewBracket(registry).Load(snapshot)
	require.NoError(t, err)

	require.NoError(t, tl.(voting.Rounds).Advance(testCtx))
	_, err = tl.Key(tally.EncodeContestant(b))
	require.ErrorIs(t, err, voting.ErrInvalidChoice)

	require.NoError(t, tl.Vote(testCtx, addr(2), tally.EncodeContestant(c)))
	res, err = tl.Resolve(testCtx)
	require.NoError(t, err)
	require.Equal(t, voting.Accepted, res.Outcome)

	winner, won, ok := tl.(voting.Elector).Winner()
	require.True(t, ok)
	require.Equal(t, c, winner)
	require.EqualValues(t, 7, won.Int64())
}

func TestBracketNoDecidedPairFails(t *testing.T) {
	registry, _ := weights(t, nil)
	tl := openBracket(t, registry, 2, addr(0xa), addr(0xb), addr(0xc))
	res, err := tl.Resolve(testCtx)
	require.NoError(t, err)
	require.Equal(t, voting.Rejected, res.Outcome)
}

func TestBracketSingleSurvivorIsElectedEarly(t *testing.T) {
	a, b, c, d := addr(0xa), addr(0xb), addr(0xc), addr(0xd)
	registry, _ := weights(t, map[common.Address]int64{addr(1): 1, addr(2): 1, addr(3): 4})
	tl := openBracket(t, registry, 2, a, b, c, d)

	require.NoError(t, tl.Vote(testCtx, addr(1), tally.EncodeContestant(a)))
	require.NoError(t, tl.Vote(testCtx, addr(2), tally.EncodeContestant(b)))
	require.NoError(t, tl.Vote(testCtx, addr(3), tally.EncodeContestant(d)))

	res, err := tl.Resolve(testCtx)
	require.NoError(t, err)
	require.Equal(t, voting.Accepted, res.Outcome)

	result, err := tl.Result()
	require.NoError(t, err)
	require.True(t, tally.IsElected(result))
	winner, won, err := tally.DecodeWinner(result)
	require.NoError(t, err)
	require.Equal(t, d, winner)
	require.EqualValues(t, 4, won.Int64())
}

func TestBracketRequiresFungibleSource(t *testing.T) {
	registry := weight.NewRegistry()
	registry.Register(tokenAddr, weight.NewNonFungibleLedger())
	params, err := tally.EncodeBracketParams(tally.BracketParams{
		InsertionOffset: 4,
		Duration:        time.Hour,
		Rounds:          1,
		WeightSource:    tokenAddr,
		Contestants:     []common.Address{addr(1), addr(2)},
	})
	require.NoError(t, err)
	_, _, err = tally.NewBracket(registry).Open(testCtx, params, payload)
	require.ErrorIs(t, err, voting.ErrUnknownWeightSource)
}
