package tally

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// QuorumBasis selects which weight counts towards a quorum.
type QuorumBasis uint8

const (
	// QuorumParticipation counts every cast weight, abstentions included.
	QuorumParticipation QuorumBasis = iota
	// QuorumApproval counts only weight cast in favour.
	QuorumApproval
)

func (b QuorumBasis) String() string {
	if b == QuorumApproval {
		return "approval"
	}
	return "participation"
}

func ParseQuorumBasis(s string) (QuorumBasis, error) {
	switch strings.ToLower(s) {
	case "", "participation":
		return QuorumParticipation, nil
	case "approval":
		return QuorumApproval, nil
	}
	return 0, fmt.Errorf("unknown quorum basis %q", s)
}

type options struct {
	logger zerolog.Logger
	basis  QuorumBasis
}

type Option func(o *options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithQuorumBasis(basis QuorumBasis) Option {
	return func(o *options) {
		o.basis = basis
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
