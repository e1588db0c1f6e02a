package voting

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Identity is a stable 20 byte participant or target address.
type Identity = common.Address

type (
	// Strategy decodes start parameters into instance terms and a fresh tally.
	// Strategies form a closed set registered with the engine by name.
	Strategy interface {
		Name() string
		// Open validates the encoded parameters against the committed payload.
		Open(ctx context.Context, params, payload []byte) (Terms, Tally, error)
		// Load rebuilds a tally from a Snapshot taken earlier.
		Load(snapshot []byte) (Tally, error)
	}

	// Tally is the strategy-owned vote state of a single instance. The engine
	// serializes access and always mutates a Clone, so a failing call never
	// leaks partial updates.
	Tally interface {
		// Key validates a choice and returns its canonical form, used by
		// GuardCallerChoice to tell two choices apart.
		Key(choice []byte) ([]byte, error)
		// Vote applies the caller's choice with the caller's weight.
		Vote(ctx context.Context, voter Identity, choice []byte) error
		// Resolve decides the outcome once the deadline has elapsed.
		Resolve(ctx context.Context) (Resolution, error)
		// Result returns the ABI encoded current tally.
		Result() ([]byte, error)
		Snapshot() ([]byte, error)
		Clone() Tally
	}

	// Rounds is implemented by tallies that run more than one round. Advance
	// promotes the winners of a resolved round and resets the weights.
	Rounds interface {
		Advance(ctx context.Context) error
	}

	// Elector is implemented by tallies whose outcome is an identity that gets
	// substituted into the payload before dispatch.
	Elector interface {
		Winner() (Identity, *big.Int, bool)
	}

	// WeightSource reports voting weight. For non-fungible sources the
	// balance is the number of tokens held.
	WeightSource interface {
		Kind() WeightKind
		BalanceOf(ctx context.Context, holder Identity) (*big.Int, error)
		TotalSupply(ctx context.Context) (*big.Int, error)
	}

	// WeightSources resolves a weight source by its address.
	WeightSources interface {
		Source(addr Identity) (WeightSource, error)
	}

	// Dispatcher performs the downstream action call. Returning an error that
	// wraps ErrUnsupportedCall marks the call as structurally impossible;
	// any other error is treated as a retryable failure.
	Dispatcher interface {
		Dispatch(ctx context.Context, call Call) ([]byte, error)
	}

	// Store persists instances and guard records. Save must be atomic: either
	// the record and the guard key are both written or neither is.
	Store interface {
		Save(ctx context.Context, rec *Record, guard *GuardKey) error
		Load(ctx context.Context) ([]*Record, []GuardKey, error)
		Close() error
	}

	Clock interface {
		Now() time.Time
	}
)

type WeightKind uint8

const (
	Fungible WeightKind = iota + 1
	NonFungible
)

func (k WeightKind) String() string {
	switch k {
	case Fungible:
		return "fungible"
	case NonFungible:
		return "non-fungible"
	default:
		return "unknown"
	}
}

// NoOffset marks an instance whose payload is dispatched unchanged.
const NoOffset = -1

// Terms are the strategy decided properties of a new instance.
type Terms struct {
	// Target receives the downstream call. The zero address means the
	// initiator.
	Target       Identity
	Duration     time.Duration
	ExpectReturn bool
	Guard        GuardMode
	// Offset is the start of the 32 byte window of the payload that is
	// replaced by the elected identity, or NoOffset.
	Offset int
}

type Outcome uint8

const (
	// Pending keeps the instance active past its deadline.
	Pending Outcome = iota
	Accepted
	Rejected
	// NextRound means the current round produced winners and more rounds
	// remain to be played.
	NextRound
)

type Resolution struct {
	Outcome    Outcome
	RoundsLeft uint8
	Winners    []Winner
}

type Winner struct {
	Round      uint8
	Contestant Identity
	Weight     *big.Int
}

// Call is the single downstream action produced by implementing an instance.
type Call struct {
	Instance uint64
	Caller   Identity
	Target   Identity
	Payload  []byte
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}
