package voting

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// Receipt describes the outcome of a resolved Implement call.
type Receipt struct {
	Status Status
	Return []byte
	// Reason is set when the target rejected the call and the instance failed.
	Reason string
}

// Executor turns an accepted instance into exactly one downstream call.
type Executor struct {
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewExecutor(dispatcher Dispatcher, logger zerolog.Logger) *Executor {
	return &Executor{dispatcher: dispatcher, logger: logger}
}

// Digest commits to an action payload. When offset is set, the 32 byte
// window starting there is zeroed first so that any filler may be supplied
// for it.
func Digest(payload []byte, offset int) common.Hash {
	if offset == NoOffset {
		return crypto.Keccak256Hash(payload)
	}
	masked := bytes.Clone(payload)
	clear(masked[offset : offset+32])
	return crypto.Keccak256Hash(masked)
}

// Substitute writes the identity as a left-padded 32 byte word into the
// window at offset.
func Substitute(payload []byte, offset int, who Identity) []byte {
	out := bytes.Clone(payload)
	copy(out[offset:offset+32], common.LeftPadBytes(who.Bytes(), 32))
	return out
}

// Verify checks a supplied payload against the instance commitment.
func (x *Executor) Verify(inst *Instance, payload []byte) error {
	if len(payload) != inst.PayloadLen || Digest(payload, inst.Offset) != inst.Digest {
		return fmt.Errorf("instance %d: %w", inst.ID, ErrInvalidPayload)
	}
	return nil
}

// Execute dispatches the call once and classifies the result. Structural
// rejections keep ErrUnsupportedCall in their chain.
func (x *Executor) Execute(ctx context.Context, call Call, expectReturn bool) ([]byte, error) {
	ret, err := x.dispatcher.Dispatch(withFrame(ctx, call.Instance), call)
	switch {
	case errors.Is(err, ErrUnsupportedCall):
		x.logger.Info().Err(err).Uint64("instance", call.Instance).Str("target", call.Target.Hex()).
			Msg("target rejected call")
		return nil, err
	case err != nil:
		x.logger.Info().Err(err).Uint64("instance", call.Instance).Str("target", call.Target.Hex()).
			Msg("downstream call failed")
		return nil, fmt.Errorf("instance %d: %w: %w", call.Instance, ErrCallFailed, err)
	case expectReturn && len(ret) == 0:
		return nil, fmt.Errorf("instance %d: %w", call.Instance, ErrExpectedReturn)
	}
	return ret, nil
}

// frame marks a context as being inside the dispatch of an instance. Nested
// frames form a chain when a dispatcher implements another instance.
type frame struct {
	instance uint64
	parent   *frame
}

type frameKey struct{}

func withFrame(ctx context.Context, instance uint64) context.Context {
	return context.WithValue(ctx, frameKey{}, &frame{instance: instance, parent: frameFrom(ctx)})
}

func frameFrom(ctx context.Context) *frame {
	f, _ := ctx.Value(frameKey{}).(*frame)
	return f
}

func (f *frame) holds(instance uint64) bool {
	for ; f != nil; f = f.parent {
		if f.instance == instance {
			return true
		}
	}
	return false
}
