package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const BracketName = "bracket"

var (
	_ voting.Strategy = (*Bracket)(nil)
	_ voting.Rounds   = (*bracketTally)(nil)
	_ voting.Elector  = (*bracketTally)(nil)
)

// Bracket elects one contestant through elimination rounds. Votes are
// weighted by fungible holdings. In every round but the last, adjacent
// contestants are paired and the heavier of each pair advances; an unpaired
// last contestant advances on a bye. The last round is a single contest
// between everyone left. Ties eliminate both sides.
type Bracket struct {
	sources voting.WeightSources
	logger  zerolog.Logger
}

func NewBracket(sources voting.WeightSources, opts ...Option) *Bracket {
	o := applyOptions(opts)
	return &Bracket{sources: sources, logger: o.logger}
}

func (b *Bracket) Name() string { return BracketName }

func (b *Bracket) Open(_ context.Context, params, payload []byte) (voting.Terms, voting.Tally, error) {
	p, err := DecodeBracketParams(params)
	if err != nil {
		return voting.Terms{}, nil, err
	}
	if err := validateContestants(p.Contestants); err != nil {
		return voting.Terms{}, nil, err
	}
	if maxRounds := MaxRounds(len(p.Contestants)); p.Rounds < 1 || int(p.Rounds) > maxRounds {
		return voting.Terms{}, nil, fmt.Errorf("%w: %d rounds for %d contestants, allowed 1 to %d",
			voting.ErrInvalidRounds, p.Rounds, len(p.Contestants), maxRounds)
	}
	if p.InsertionOffset > uint64(len(payload)) || p.InsertionOffset+32 > uint64(len(payload)) {
		return voting.Terms{}, nil, fmt.Errorf("%w: %d in %d byte payload",
			voting.ErrOffsetOutOfRange, p.InsertionOffset, len(payload))
	}
	source, err := b.source(p.WeightSource)
	if err != nil {
		return voting.Terms{}, nil, err
	}
	terms := voting.Terms{
		Duration: p.Duration,
		Guard:    voting.GuardCallerChoice,
		Offset:   int(p.InsertionOffset),
	}
	t := &bracketTally{
		Round:       1,
		Rounds:      p.Rounds,
		Contestants: append([]common.Address(nil), p.Contestants...),
		Weights:     zeroWeights(len(p.Contestants)),
		Source:      p.WeightSource,
		source:      source,
		logger:      b.logger,
	}
	return terms, t, nil
}

func (b *Bracket) Load(snapshot []byte) (voting.Tally, error) {
	t := &bracketTally{logger: b.logger}
	if err := json.Unmarshal(snapshot, t); err != nil {
		return nil, err
	}
	source, err := b.source(t.Source)
	if err != nil {
		return nil, err
	}
	t.source = source
	return t, nil
}

func (b *Bracket) source(addr common.Address) (voting.WeightSource, error) {
	source, err := b.sources.Source(addr)
	if err != nil {
		return nil, err
	}
	if source.Kind() != voting.Fungible {
		return nil, fmt.Errorf("%w: %s is %s", voting.ErrUnknownWeightSource, addr.Hex(), source.Kind())
	}
	return source, nil
}

// MaxRounds is the number of rounds needed to reduce n contestants to one
// by pairing, ceil(log2(n)).
func MaxRounds(n int) int {
	if n < 2 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func validateContestants(contestants []common.Address) error {
	if len(contestants) < 2 {
		return fmt.Errorf("%w: need at least 2 contestants, got %d", voting.ErrMalformedParams, len(contestants))
	}
	seen := make(map[common.Address]struct{}, len(contestants))
	for _, c := range contestants {
		if _, ok := seen[c]; ok {
			return fmt.Errorf("%w: %s", voting.ErrDuplicateContestant, c.Hex())
		}
		seen[c] = struct{}{}
	}
	return nil
}

func zeroWeights(n int) []*big.Int {
	weights := make([]*big.Int, n)
	for i := range weights {
		weights[i] = new(big.Int)
	}
	return weights
}

type bracketTally struct {
	// Round is the current round, starting at 1.
	Round       uint8            `json:"round"`
	Rounds      uint8            `json:"rounds"`
	Contestants []common.Address `json:"contestants"`
	Weights     []*big.Int       `json:"weights"`
	// Advancing holds the contestants promoted by the last resolved round.
	Advancing     []common.Address `json:"advancing,omitempty"`
	Elected       *common.Address  `json:"elected,omitempty"`
	ElectedWeight *big.Int         `json:"electedWeight,omitempty"`
	Source        common.Address   `json:"source"`

	source voting.WeightSource
	logger zerolog.Logger
}

func (t *bracketTally) index(who common.Address) int {
	for i, c := range t.Contestants {
		if c == who {
			return i
		}
	}
	return -1
}

// Key folds the round into the choice so that a caller may back the same
// contestant again in a later round.
func (t *bracketTally) Key(choice []byte) ([]byte, error) {
	who, err := DecodeContestant(choice)
	if err != nil {
		return nil, err
	}
	if t.index(who) < 0 {
		return nil, fmt.Errorf("%w: %s is not contesting round %d", voting.ErrInvalidChoice, who.Hex(), t.Round)
	}
	return append([]byte{t.Round}, who.Bytes()...), nil
}

func (t *bracketTally) Vote(ctx context.Context, voter voting.Identity, choice []byte) error {
	who, err := DecodeContestant(choice)
	if err != nil {
		return err
	}
	i := t.index(who)
	if i < 0 {
		return fmt.Errorf("%w: %s is not contesting round %d", voting.ErrInvalidChoice, who.Hex(), t.Round)
	}
	weight, err := t.source.BalanceOf(ctx, voter)
	if err != nil {
		return fmt.Errorf("weight of %s: %w", voter.Hex(), err)
	}
	t.Weights[i] = new(big.Int).Add(t.Weights[i], weight)
	return nil
}

// Resolve decides the current round.
func (t *bracketTally) Resolve(context.Context) (voting.Resolution, error) {
	if t.Round >= t.Rounds {
		i, ok := t.strictMax(0, len(t.Contestants))
		if !ok {
			return voting.Resolution{Outcome: voting.Rejected}, nil
		}
		return t.elect(i), nil
	}

	var (
		winners   []voting.Winner
		advancing []common.Address
		decided   int
	)
	for i := 0; i < len(t.Contestants); i += 2 {
		if i+1 == len(t.Contestants) {
			// bye
			advancing = append(advancing, t.Contestants[i])
			continue
		}
		w, ok := t.strictMax(i, i+2)
		if !ok {
			continue
		}
		decided++
		advancing = append(advancing, t.Contestants[w])
		winners = append(winners, voting.Winner{
			Round:      t.Round,
			Contestant: t.Contestants[w],
			Weight:     new(big.Int).Set(t.Weights[w]),
		})
	}
	if decided == 0 {
		return voting.Resolution{Outcome: voting.Rejected}, nil
	}
	if len(advancing) == 1 {
		return t.elect(t.index(advancing[0])), nil
	}
	t.Advancing = advancing
	return voting.Resolution{
		Outcome:    voting.NextRound,
		RoundsLeft: t.Rounds - t.Round,
		Winners:    winners,
	}, nil
}

func (t *bracketTally) elect(i int) voting.Resolution {
	winner := t.Contestants[i]
	t.Elected = &winner
	t.ElectedWeight = new(big.Int).Set(t.Weights[i])
	return voting.Resolution{
		Outcome: voting.Accepted,
		Winners: []voting.Winner{{Round: t.Round, Contestant: winner, Weight: new(big.Int).Set(t.ElectedWeight)}},
	}
}

// strictMax returns the index in [from, to) holding strictly more weight
// than every other contestant of the range.
func (t *bracketTally) strictMax(from, to int) (int, bool) {
	best, unique := from, true
	for i := from + 1; i < to; i++ {
		switch t.Weights[i].Cmp(t.Weights[best]) {
		case 1:
			best, unique = i, true
		case 0:
			unique = false
		}
	}
	return best, unique
}

// Advance starts the next round with the contestants promoted by Resolve.
func (t *bracketTally) Advance(context.Context) error {
	if len(t.Advancing) == 0 || t.Round >= t.Rounds {
		return fmt.Errorf("bracket round %d of %d has no contestants to advance", t.Round, t.Rounds)
	}
	t.Contestants = t.Advancing
	t.Advancing = nil
	t.Weights = zeroWeights(len(t.Contestants))
	t.Round++
	t.logger.Debug().Uint8("round", t.Round).Int("contestants", len(t.Contestants)).Msg("bracket advanced")
	return nil
}

func (t *bracketTally) Winner() (voting.Identity, *big.Int, bool) {
	if t.Elected == nil {
		return voting.Identity{}, nil, false
	}
	return *t.Elected, new(big.Int).Set(t.ElectedWeight), true
}

// Result encodes the elected contestant and its weight once decided, and
// the standings of the current round before that.
func (t *bracketTally) Result() ([]byte, error) {
	if t.Elected != nil {
		return winnerResult.Pack(*t.Elected, t.ElectedWeight)
	}
	return standingsResult.Pack(t.Contestants, t.Weights)
}

func (t *bracketTally) Snapshot() ([]byte, error) {
	return json.Marshal(t)
}

func (t *bracketTally) Clone() voting.Tally {
	c := *t
	c.Contestants = append([]common.Address(nil), t.Contestants...)
	c.Advancing = append([]common.Address(nil), t.Advancing...)
	c.Weights = make([]*big.Int, len(t.Weights))
	for i, w := range t.Weights {
		c.Weights[i] = new(big.Int).Set(w)
	}
	if t.Elected != nil {
		w := *t.Elected
		c.Elected = &w
		c.ElectedWeight = new(big.Int).Set(t.ElectedWeight)
	}
	return &c
}

// IsElected reports whether a result encodes a decided winner rather than
// round standings.
func IsElected(result []byte) bool {
	// standings carry two dynamic arrays and never fit in two words
	return len(result) == 64
}
