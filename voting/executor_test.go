package voting_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDigestMasksWindow(t *testing.T) {
	a := payload()
	b := payload()
	copy(b[4:36], bytes.Repeat([]byte{0xee}, 32))

	require.NotEqual(t, voting.Digest(a, voting.NoOffset), voting.Digest(b, voting.NoOffset))
	require.Equal(t, voting.Digest(a, 4), voting.Digest(b, 4))

	b[36] ^= 0x01
	require.NotEqual(t, voting.Digest(a, 4), voting.Digest(b, 4))
	// the caller's payload is never modified
	require.Equal(t, byte(0xee), b[4])
}

func TestSubstitute(t *testing.T) {
	who := common.HexToAddress("0x1111111111111111111111111111111111111111")
	in := payload()
	out := voting.Substitute(in, 4, who)

	require.Equal(t, payload(), in)
	require.Equal(t, in[:4], out[:4])
	require.Equal(t, make([]byte, 12), out[4:16])
	require.Equal(t, who.Bytes(), out[16:36])
	require.Equal(t, in[36:], out[36:])
}

func TestGuardKeys(t *testing.T) {
	g := voting.NewGuard()
	voter := addr(0x01)

	_, ok := g.Key(voting.GuardNone, 1, voter, []byte{0x01})
	require.False(t, ok)

	byCaller, ok := g.Key(voting.GuardCaller, 1, voter, []byte{0x01})
	require.True(t, ok)
	other, _ := g.Key(voting.GuardCaller, 1, voter, []byte{0x02})
	require.Equal(t, byCaller, other)

	first, _ := g.Key(voting.GuardCallerChoice, 1, voter, []byte{0x01})
	second, _ := g.Key(voting.GuardCallerChoice, 1, voter, []byte{0x02})
	require.NotEqual(t, first, second)

	require.NoError(t, g.Check(first))
	g.Record(first)
	require.ErrorIs(t, g.Check(first), voting.ErrDuplicateVote)
	require.NoError(t, g.Check(second))

	// records are scoped to their instance
	elsewhere, _ := g.Key(voting.GuardCallerChoice, 2, voter, []byte{0x01})
	require.NoError(t, g.Check(elsewhere))
}

func TestDeadlineIsInclusive(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	d := voting.Deadline{Start: start, Duration: time.Minute}
	require.False(t, d.Elapsed(start))
	require.False(t, d.Elapsed(start.Add(time.Minute)))
	require.True(t, d.Elapsed(start.Add(time.Minute+time.Nanosecond)))
}

func TestStatusText(t *testing.T) {
	for _, phase := range []voting.Phase{voting.Inactive, voting.Active, voting.AwaitCall, voting.Completed, voting.Failed} {
		text, err := phase.MarshalText()
		require.NoError(t, err)
		var got voting.Phase
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, phase, got)
	}
	require.True(t, voting.Status{Phase: voting.AwaitCall}.Resolvable())
	require.False(t, voting.Status{Phase: voting.AwaitCall, RoundsLeft: 1}.Resolvable())
	require.Equal(t, "awaitcall(1 rounds left)", voting.Status{Phase: voting.AwaitCall, RoundsLeft: 1}.String())
	require.True(t, voting.Completed.Terminal())
	require.False(t, voting.AwaitCall.Terminal())
}
