package voting

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedParams     = errors.New("malformed parameters")
	ErrPayloadTooShort     = errors.New("payload too short")
	ErrDuplicateContestant = errors.New("duplicate contestant")
	ErrInvalidRounds       = errors.New("invalid round count")
	ErrOffsetOutOfRange    = errors.New("insertion offset out of range")
	ErrDurationTooShort    = errors.New("duration below minimum")
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrUnknownWeightSource = errors.New("unknown weight source")
	ErrInvalidChoice       = errors.New("invalid choice")

	ErrDuplicateVote = errors.New("duplicate vote")

	ErrStatusMismatch = errors.New("status mismatch")
	ErrInvalidPayload = errors.New("payload does not match commitment")

	ErrCallFailed     = errors.New("downstream call failed")
	ErrExpectedReturn = errors.New("downstream call returned no data")
	// ErrUnsupportedCall is returned by dispatchers when the target or the
	// selector does not exist. The instance fails instead of staying retryable.
	ErrUnsupportedCall = errors.New("unsupported call")

	ErrReentrant = errors.New("reentrant call on instance")
)

// StatusError is returned when an operation is not allowed in the current
// status of an instance.
type StatusError struct {
	ID     uint64
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("instance %d: %s in status %s", e.ID, ErrStatusMismatch, e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatusMismatch
}

func statusError(id uint64, status Status) error {
	return &StatusError{ID: id, Status: status}
}
