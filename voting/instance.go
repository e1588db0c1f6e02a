package voting

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MinPayloadSize is the smallest accepted action payload: a 4 byte selector.
const MinPayloadSize = 4

// Instance is a read-only view of a voting instance.
type Instance struct {
	ID        uint64   `json:"id"`
	Strategy  string   `json:"strategy"`
	Status    Status   `json:"status"`
	Initiator Identity `json:"initiator"`
	Target    Identity `json:"target"`
	// Opened is when the current voting window started. Multi-round
	// instances reopen it at the start of each round.
	Opened       time.Time     `json:"opened"`
	Duration     time.Duration `json:"duration"`
	ExpectReturn bool          `json:"expectReturn"`
	Guard        GuardMode     `json:"guard"`
	Digest       common.Hash   `json:"digest"`
	PayloadLen   int           `json:"payloadLength"`
	Offset       int           `json:"offset"`
}

func (i *Instance) Deadline() Deadline {
	return Deadline{Start: i.Opened, Duration: i.Duration}
}

// Record is the persisted form of an instance.
type Record struct {
	Instance
	Tally []byte `json:"tally"`
}

type entry struct {
	inst  Instance
	tally Tally
}

func (en *entry) clone() *entry {
	return &entry{inst: en.inst, tally: en.tally.Clone()}
}

func (en *entry) record() (*Record, error) {
	snapshot, err := en.tally.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot of instance %d: %w", en.inst.ID, err)
	}
	return &Record{Instance: en.inst, Tally: snapshot}, nil
}
