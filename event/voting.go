package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	InstanceStartedEventType EventType = "voting.instance_started"
	ImplementedEventType     EventType = "voting.implemented"
	NotImplementedEventType  EventType = "voting.not_implemented"
	RoundWinnerEventType     EventType = "voting.round_winner"
)

// VotingEventTypes lists every event the engine emits.
var VotingEventTypes = []EventType{
	InstanceStartedEventType,
	ImplementedEventType,
	NotImplementedEventType,
	RoundWinnerEventType,
}

type InstanceStartedEvent struct {
	Instance  uint64         `json:"instance"`
	Strategy  string         `json:"strategy"`
	Initiator common.Address `json:"initiator"`
}

type ImplementedEvent struct {
	Instance uint64         `json:"instance"`
	Caller   common.Address `json:"caller"`
	Target   common.Address `json:"target"`
}

// NotImplementedEvent is emitted when the downstream target structurally
// rejected the call and the instance failed.
type NotImplementedEvent struct {
	Instance uint64         `json:"instance"`
	Caller   common.Address `json:"caller"`
	Target   common.Address `json:"target"`
	Reason   string         `json:"reason"`
}

type RoundWinnerEvent struct {
	Instance   uint64         `json:"instance"`
	Round      uint8          `json:"round"`
	Contestant common.Address `json:"contestant"`
	Weight     *big.Int       `json:"weight"`
}

// InstanceOf returns the voting instance an event refers to.
func InstanceOf(evt Event) (uint64, bool) {
	switch d := evt.Data.(type) {
	case InstanceStartedEvent:
		return d.Instance, true
	case ImplementedEvent:
		return d.Instance, true
	case NotImplementedEvent:
		return d.Instance, true
	case RoundWinnerEvent:
		return d.Instance, true
	}
	return 0, false
}
