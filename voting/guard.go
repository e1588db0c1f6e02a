package voting

import (
	"encoding/hex"
	"fmt"
)

// GuardMode selects how repeated votes by the same caller are restricted.
type GuardMode uint8

const (
	// GuardNone accepts any number of votes from a caller.
	GuardNone GuardMode = iota
	// GuardCaller accepts a single vote per caller.
	GuardCaller
	// GuardCallerChoice accepts a single vote per caller and choice.
	GuardCallerChoice
)

func (m GuardMode) Valid() bool {
	return m <= GuardCallerChoice
}

func (m GuardMode) String() string {
	switch m {
	case GuardNone:
		return "none"
	case GuardCaller:
		return "caller"
	case GuardCallerChoice:
		return "caller-choice"
	default:
		return fmt.Sprintf("guard(%d)", uint8(m))
	}
}

// GuardKey records that a voter already voted. Choice holds the hex encoded
// canonical choice for GuardCallerChoice and is empty otherwise.
type GuardKey struct {
	Instance uint64
	Voter    Identity
	Choice   string
}

// Guard tracks the vote records of every instance. Records are never cleared.
type Guard struct {
	seen map[GuardKey]struct{}
}

func NewGuard() *Guard {
	return &Guard{seen: make(map[GuardKey]struct{})}
}

// Key derives the record for a vote. ok is false when the mode keeps no
// record.
func (g *Guard) Key(mode GuardMode, instance uint64, voter Identity, choiceKey []byte) (key GuardKey, ok bool) {
	switch mode {
	case GuardCaller:
		return GuardKey{Instance: instance, Voter: voter}, true
	case GuardCallerChoice:
		return GuardKey{Instance: instance, Voter: voter, Choice: hex.EncodeToString(choiceKey)}, true
	default:
		return GuardKey{}, false
	}
}

// Check fails with ErrDuplicateVote when the key was already recorded.
func (g *Guard) Check(key GuardKey) error {
	if _, ok := g.seen[key]; ok {
		return fmt.Errorf("%w: instance %d voter %s", ErrDuplicateVote, key.Instance, key.Voter)
	}
	return nil
}

func (g *Guard) Record(key GuardKey) {
	g.seen[key] = struct{}{}
}
