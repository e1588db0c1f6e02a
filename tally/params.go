package tally

import (
	"fmt"
	"math/big"
	"time"

	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Parameters, choices and results are ABI encoded words so that they can be
// produced and consumed by any caller able to encode a contract call.

var (
	addressT      = mustType("address")
	addressSliceT = mustType("address[]")
	boolT         = mustType("bool")
	int256T       = mustType("int256")
	uint8T        = mustType("uint8")
	uint64T       = mustType("uint64")
	uint256T      = mustType("uint256")
	uint256SliceT = mustType("uint256[]")

	majorityArgs = abi.Arguments{{Name: "target", Type: addressT}, {Name: "expectReturn", Type: boolT}}
	quorumArgs   = abi.Arguments{
		{Name: "weightSource", Type: addressT},
		{Name: "duration", Type: uint64T},
		{Name: "quorum", Type: uint256T},
		{Name: "expectReturn", Type: boolT},
		{Name: "guard", Type: uint8T},
	}
	bracketArgs = abi.Arguments{
		{Name: "insertionOffset", Type: uint256T},
		{Name: "duration", Type: uint64T},
		{Name: "rounds", Type: uint8T},
		{Name: "weightSource", Type: addressT},
		{Name: "contestants", Type: addressSliceT},
	}

	choiceArgs      = abi.Arguments{{Type: uint256T}}
	contestantArgs  = abi.Arguments{{Type: addressT}}
	majorityResult  = abi.Arguments{{Name: "delta", Type: int256T}}
	quorumResult    = abi.Arguments{{Name: "for", Type: uint256T}, {Name: "against", Type: uint256T}, {Name: "abstain", Type: uint256T}}
	standingsResult = abi.Arguments{{Name: "contestants", Type: addressSliceT}, {Name: "weights", Type: uint256SliceT}}
	winnerResult    = abi.Arguments{{Name: "winner", Type: addressT}, {Name: "weight", Type: uint256T}}
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// BasisPoints is the denominator of quorum fractions.
const BasisPoints = 10000

// Choice is the decoded form of a majority or quorum vote.
type Choice uint8

const (
	Abstain Choice = iota
	For
	Against
)

func (c Choice) String() string {
	switch c {
	case For:
		return "for"
	case Against:
		return "against"
	default:
		return "abstain"
	}
}

// EncodeChoice encodes a majority or quorum vote as a uint256 word.
func EncodeChoice(c Choice) []byte {
	data, err := choiceArgs.Pack(new(big.Int).SetUint64(uint64(c)))
	if err != nil {
		panic(err)
	}
	return data
}

// DecodeChoice reads a uint256 word: 1 is for, 2 is against and anything
// else, including a payload too short to hold a word, is an abstention.
// valid is false when the input was not a recognised encoding.
func DecodeChoice(data []byte) (c Choice, valid bool) {
	if len(data) < 32 {
		return Abstain, false
	}
	word := new(big.Int).SetBytes(data[:32])
	switch {
	case word.IsUint64() && word.Uint64() == uint64(For):
		return For, true
	case word.IsUint64() && word.Uint64() == uint64(Against):
		return Against, true
	case word.Sign() == 0:
		return Abstain, true
	default:
		return Abstain, false
	}
}

// EncodeContestant encodes a bracket vote.
func EncodeContestant(who common.Address) []byte {
	data, err := contestantArgs.Pack(who)
	if err != nil {
		panic(err)
	}
	return data
}

func DecodeContestant(data []byte) (common.Address, error) {
	vals, err := contestantArgs.Unpack(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", voting.ErrInvalidChoice, err)
	}
	return vals[0].(common.Address), nil
}

// MajorityParams configure a plain majority instance. A zero Target sends the
// call to the initiator.
type MajorityParams struct {
	Target       common.Address
	ExpectReturn bool
}

func EncodeMajorityParams(p MajorityParams) ([]byte, error) {
	return majorityArgs.Pack(p.Target, p.ExpectReturn)
}

func DecodeMajorityParams(data []byte) (MajorityParams, error) {
	vals, err := majorityArgs.Unpack(data)
	if err != nil {
		return MajorityParams{}, fmt.Errorf("%w: %w", voting.ErrMalformedParams, err)
	}
	return MajorityParams{
		Target:       vals[0].(common.Address),
		ExpectReturn: vals[1].(bool),
	}, nil
}

// QuorumParams configure a weighted quorum instance. Quorum is expressed in
// basis points of the total supply of the weight source.
type QuorumParams struct {
	WeightSource common.Address
	Duration     time.Duration
	Quorum       uint64
	ExpectReturn bool
	Guard        voting.GuardMode
}

func EncodeQuorumParams(p QuorumParams) ([]byte, error) {
	return quorumArgs.Pack(
		p.WeightSource,
		uint64(p.Duration/time.Second),
		new(big.Int).SetUint64(p.Quorum),
		p.ExpectReturn,
		uint8(p.Guard),
	)
}

func DecodeQuorumParams(data []byte) (QuorumParams, error) {
	vals, err := quorumArgs.Unpack(data)
	if err != nil {
		return QuorumParams{}, fmt.Errorf("%w: %w", voting.ErrMalformedParams, err)
	}
	quorum := vals[2].(*big.Int)
	if quorum.Sign() <= 0 || quorum.Cmp(big.NewInt(BasisPoints)) > 0 {
		return QuorumParams{}, fmt.Errorf("%w: quorum %s outside (0, %d]", voting.ErrMalformedParams, quorum, BasisPoints)
	}
	guard := voting.GuardMode(vals[4].(uint8))
	if !guard.Valid() {
		return QuorumParams{}, fmt.Errorf("%w: guard mode %d", voting.ErrMalformedParams, guard)
	}
	return QuorumParams{
		WeightSource: vals[0].(common.Address),
		Duration:     seconds(vals[1].(uint64)),
		Quorum:       quorum.Uint64(),
		ExpectReturn: vals[3].(bool),
		Guard:        guard,
	}, nil
}

// BracketParams configure an elimination bracket. The winner is written into
// the payload at InsertionOffset before dispatch.
type BracketParams struct {
	InsertionOffset uint64
	Duration        time.Duration
	Rounds          uint8
	WeightSource    common.Address
	Contestants     []common.Address
}

func EncodeBracketParams(p BracketParams) ([]byte, error) {
	return bracketArgs.Pack(
		new(big.Int).SetUint64(p.InsertionOffset),
		uint64(p.Duration/time.Second),
		p.Rounds,
		p.WeightSource,
		p.Contestants,
	)
}

func DecodeBracketParams(data []byte) (BracketParams, error) {
	vals, err := bracketArgs.Unpack(data)
	if err != nil {
		return BracketParams{}, fmt.Errorf("%w: %w", voting.ErrMalformedParams, err)
	}
	offset := vals[0].(*big.Int)
	if !offset.IsUint64() {
		return BracketParams{}, fmt.Errorf("%w: %s", voting.ErrOffsetOutOfRange, offset)
	}
	return BracketParams{
		InsertionOffset: offset.Uint64(),
		Duration:        seconds(vals[1].(uint64)),
		Rounds:          vals[2].(uint8),
		WeightSource:    vals[3].(common.Address),
		Contestants:     vals[4].([]common.Address),
	}, nil
}

// DecodeMajorityResult returns for minus against.
func DecodeMajorityResult(data []byte) (*big.Int, error) {
	vals, err := majorityResult.Unpack(data)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// DecodeQuorumResult returns the for, against and abstain weights.
func DecodeQuorumResult(data []byte) (forWeight, against, abstain *big.Int, err error) {
	vals, err := quorumResult.Unpack(data)
	if err != nil {
		return nil, nil, nil, err
	}
	return vals[0].(*big.Int), vals[1].(*big.Int), vals[2].(*big.Int), nil
}

// DecodeStandings returns the contestants of the current round and their
// weights.
func DecodeStandings(data []byte) ([]common.Address, []*big.Int, error) {
	vals, err := standingsResult.Unpack(data)
	if err != nil {
		return nil, nil, err
	}
	return vals[0].([]common.Address), vals[1].([]*big.Int), nil
}

// DecodeWinner returns the elected contestant and its final weight.
func DecodeWinner(data []byte) (common.Address, *big.Int, error) {
	vals, err := winnerResult.Unpack(data)
	if err != nil {
		return common.Address{}, nil, err
	}
	return vals[0].(common.Address), vals[1].(*big.Int), nil
}

const maxDurationSeconds = uint64(1<<63-1) / uint64(time.Second)

func seconds(s uint64) time.Duration {
	return time.Duration(min(s, maxDurationSeconds)) * time.Second
}
