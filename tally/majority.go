package tally

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/cmwaters/verdict/voting"
	"github.com/rs/zerolog"
)

const MajorityName = "majority"

var _ voting.Strategy = (*Majority)(nil)

// Majority counts one vote per caller. It is accepted when, after the
// deadline, strictly more votes are for than against.
type Majority struct {
	duration time.Duration
	logger   zerolog.Logger
}

// NewMajority creates the strategy. Every instance votes for duration.
func NewMajority(duration time.Duration, opts ...Option) *Majority {
	o := applyOptions(opts)
	return &Majority{duration: duration, logger: o.logger}
}

func (m *Majority) Name() string { return MajorityName }

func (m *Majority) Open(_ context.Context, params, _ []byte) (voting.Terms, voting.Tally, error) {
	p, err := DecodeMajorityParams(params)
	if err != nil {
		return voting.Terms{}, nil, err
	}
	terms := voting.Terms{
		Target:       p.Target,
		Duration:     m.duration,
		ExpectReturn: p.ExpectReturn,
		Guard:        voting.GuardCaller,
		Offset:       voting.NoOffset,
	}
	return terms, &majorityTally{logger: m.logger}, nil
}

func (m *Majority) Load(snapshot []byte) (voting.Tally, error) {
	t := &majorityTally{logger: m.logger}
	if err := json.Unmarshal(snapshot, t); err != nil {
		return nil, err
	}
	return t, nil
}

type majorityTally struct {
	For     uint64 `json:"for"`
	Against uint64 `json:"against"`
	Abstain uint64 `json:"abstain"`

	logger zerolog.Logger
}

func (t *majorityTally) Key(choice []byte) ([]byte, error) {
	c, _ := DecodeChoice(choice)
	return []byte{byte(c)}, nil
}

func (t *majorityTally) Vote(_ context.Context, voter voting.Identity, choice []byte) error {
	c, valid := DecodeChoice(choice)
	if !valid {
		t.logger.Debug().Str("voter", voter.Hex()).Bool("abstain_unvalidated", true).
			Msg("unrecognised choice counted as abstention")
	}
	switch c {
	case For:
		t.For++
	case Against:
		t.Against++
	default:
		t.Abstain++
	}
	return nil
}

func (t *majorityTally) Resolve(context.Context) (voting.Resolution, error) {
	if t.For > t.Against {
		return voting.Resolution{Outcome: voting.Accepted}, nil
	}
	return voting.Resolution{Outcome: voting.Rejected}, nil
}

// Delta is for minus against.
func (t *majorityTally) Delta() *big.Int {
	return new(big.Int).Sub(new(big.Int).SetUint64(t.For), new(big.Int).SetUint64(t.Against))
}

func (t *majorityTally) Result() ([]byte, error) {
	return majorityResult.Pack(t.Delta())
}

func (t *majorityTally) Snapshot() ([]byte, error) {
	return json.Marshal(t)
}

func (t *majorityTally) Clone() voting.Tally {
	c := *t
	return &c
}
