package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	FungibleQuorumName    = "quorum"
	NonFungibleQuorumName = "nft-quorum"
)

var _ voting.Strategy = (*Quorum)(nil)

// Quorum weighs each vote by the caller's holdings in a weight source. Once
// the deadline passed, an instance stays active until the counted weight
// reaches the quorum share of the total supply; it is then accepted when
// strictly more weight is for than against.
//
// The total supply is read when the instance is resolved, not when it
// started.
type Quorum struct {
	name    string
	kind    voting.WeightKind
	sources voting.WeightSources
	basis   QuorumBasis
	logger  zerolog.Logger
}

// NewFungibleQuorum weighs votes by token balance.
func NewFungibleQuorum(sources voting.WeightSources, opts ...Option) *Quorum {
	return newQuorum(FungibleQuorumName, voting.Fungible, sources, opts)
}

// NewNonFungibleQuorum weighs votes by the number of tokens held.
func NewNonFungibleQuorum(sources voting.WeightSources, opts ...Option) *Quorum {
	return newQuorum(NonFungibleQuorumName, voting.NonFungible, sources, opts)
}

func newQuorum(name string, kind voting.WeightKind, sources voting.WeightSources, opts []Option) *Quorum {
	o := applyOptions(opts)
	return &Quorum{
		name:    name,
		kind:    kind,
		sources: sources,
		basis:   o.basis,
		logger:  o.logger,
	}
}

func (q *Quorum) Name() string { return q.name }

func (q *Quorum) Open(_ context.Context, params, _ []byte) (voting.Terms, voting.Tally, error) {
	p, err := DecodeQuorumParams(params)
	if err != nil {
		return voting.Terms{}, nil, err
	}
	source, err := q.source(p.WeightSource)
	if err != nil {
		return voting.Terms{}, nil, err
	}
	terms := voting.Terms{
		Duration:     p.Duration,
		ExpectReturn: p.ExpectReturn,
		Guard:        p.Guard,
		Offset:       voting.NoOffset,
	}
	t := &quorumTally{
		For:     new(big.Int),
		Against: new(big.Int),
		Abstain: new(big.Int),
		Source:  p.WeightSource,
		Quorum:  p.Quorum,
		Basis:   q.basis,
		source:  source,
		logger:  q.logger,
	}
	return terms, t, nil
}

func (q *Quorum) Load(snapshot []byte) (voting.Tally, error) {
	t := &quorumTally{logger: q.logger}
	if err := json.Unmarshal(snapshot, t); err != nil {
		return nil, err
	}
	source, err := q.source(t.Source)
	if err != nil {
		return nil, err
	}
	t.source = source
	return t, nil
}

func (q *Quorum) source(addr common.Address) (voting.WeightSource, error) {
	source, err := q.sources.Source(addr)
	if err != nil {
		return nil, err
	}
	if source.Kind() != q.kind {
		return nil, fmt.Errorf("%w: %s is %s, need %s", voting.ErrUnknownWeightSource, addr.Hex(), source.Kind(), q.kind)
	}
	return source, nil
}

type quorumTally struct {
	For     *big.Int       `json:"for"`
	Against *big.Int       `json:"against"`
	Abstain *big.Int       `json:"abstain"`
	Source  common.Address `json:"source"`
	Quorum  uint64         `json:"quorum"`
	Basis   QuorumBasis    `json:"basis"`

	source voting.WeightSource
	logger zerolog.Logger
}

func (t *quorumTally) Key(choice []byte) ([]byte, error) {
	c, _ := DecodeChoice(choice)
	return []byte{byte(c)}, nil
}

func (t *quorumTally) Vote(ctx context.Context, voter voting.Identity, choice []byte) error {
	weight, err := t.source.BalanceOf(ctx, voter)
	if err != nil {
		return fmt.Errorf("weight of %s: %w", voter.Hex(), err)
	}
	c, valid := DecodeChoice(choice)
	if !valid {
		t.logger.Debug().Str("voter", voter.Hex()).Bool("abstain_unvalidated", true).
			Msg("unrecognised choice counted as abstention")
	}
	switch c {
	case For:
		t.For.Add(t.For, weight)
	case Against:
		t.Against.Add(t.Against, weight)
	default:
		t.Abstain.Add(t.Abstain, weight)
	}
	return nil
}

// Resolve compares basis * 10000 against quorum * supply so that no
// precision is lost.
func (t *quorumTally) Resolve(ctx context.Context) (voting.Resolution, error) {
	supply, err := t.source.TotalSupply(ctx)
	if err != nil {
		return voting.Resolution{}, fmt.Errorf("total supply of %s: %w", t.Source.Hex(), err)
	}
	counted := new(big.Int).Set(t.For)
	if t.Basis == QuorumParticipation {
		counted.Add(counted, t.Against).Add(counted, t.Abstain)
	}
	counted.Mul(counted, big.NewInt(BasisPoints))
	required := new(big.Int).Mul(supply, new(big.Int).SetUint64(t.Quorum))
	if counted.Cmp(required) < 0 {
		return voting.Resolution{Outcome: voting.Pending}, nil
	}
	if t.For.Cmp(t.Against) > 0 {
		return voting.Resolution{Outcome: voting.Accepted}, nil
	}
	return voting.Resolution{Outcome: voting.Rejected}, nil
}

func (t *quorumTally) Result() ([]byte, error) {
	return quorumResult.Pack(t.For, t.Against, t.Abstain)
}

func (t *quorumTally) Snapshot() ([]byte, error) {
	return json.Marshal(t)
}

func (t *quorumTally) Clone() voting.Tally {
	c := *t
	c.For = new(big.Int).Set(t.For)
	c.Against = new(big.Int).Set(t.Against)
	c.Abstain = new(big.Int).Set(t.Abstain)
	return &c
}
