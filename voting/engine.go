package voting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cmwaters/verdict/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Engine runs voting instances for a closed set of strategies.
//
// Every operation is serialized by a single lock that is held for the whole
// call, including the downstream dispatch of Implement. A dispatcher may call
// back into the engine with the context it was given: those calls run under
// the lock already held, and any mutation of the instance being implemented
// fails with ErrReentrant.
//
// Deadlines are never polled. The next mutating call on an instance whose
// deadline passed resolves it, persists the resolution and then proceeds.
type Engine struct {
	mu sync.Mutex

	// index is the last allocated instance id. Ids start at 1 and are never
	// reused.
	index     uint64
	instances map[uint64]*entry
	guard     *Guard

	strategies map[string]Strategy
	executor   *Executor

	store       Store
	clock       Clock
	bus         *event.EventBus
	registry    prometheus.Registerer
	metrics     *metrics
	minDuration time.Duration

	logger zerolog.Logger
}

// New creates an engine dispatching accepted calls through dispatcher.
func New(dispatcher Dispatcher, strategies []Strategy, opts ...Option) *Engine {
	e := &Engine{
		instances:  make(map[uint64]*entry),
		guard:      NewGuard(),
		strategies: make(map[string]Strategy, len(strategies)),
		clock:      SystemClock,
		logger:     zerolog.New(os.Stdout),
	}
	for _, s := range strategies {
		e.strategies[s.Name()] = s
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.registry != nil {
		e.metrics = newMetrics(e.registry)
	}
	e.executor = NewExecutor(dispatcher, e.logger)
	return e
}

// Restore loads every persisted instance and guard record. It must run before
// the engine serves any operation.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	records, guards, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading instances: %w", err)
	}
	for _, rec := range records {
		s, ok := e.strategies[rec.Strategy]
		if !ok {
			return fmt.Errorf("instance %d: %w: %q", rec.ID, ErrUnknownStrategy, rec.Strategy)
		}
		tally, err := s.Load(rec.Tally)
		if err != nil {
			return fmt.Errorf("instance %d: loading tally: %w", rec.ID, err)
		}
		e.instances[rec.ID] = &entry{inst: rec.Instance, tally: tally}
		e.index = max(e.index, rec.ID)
	}
	for _, key := range guards {
		e.guard.Record(key)
	}
	e.logger.Info().Uint64("index", e.index).Int("instances", len(records)).Msg("restored voting state")
	return nil
}

// Start opens a new instance using the named strategy and returns its id.
// The payload is committed to and must be resupplied to Implement.
func (e *Engine) Start(ctx context.Context, caller Identity, strategy string, params, payload []byte) (uint64, error) {
	release, err := e.acquire(ctx, 0)
	if err != nil {
		return 0, err
	}
	defer release()

	if len(payload) < MinPayloadSize {
		return 0, fmt.Errorf("%w: got %d bytes, need %d", ErrPayloadTooShort, len(payload), MinPayloadSize)
	}
	s, ok := e.strategies[strategy]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	terms, tally, err := s.Open(ctx, params, payload)
	if err != nil {
		return 0, err
	}
	if terms.Duration < e.minDuration {
		return 0, fmt.Errorf("%w: %s < %s", ErrDurationTooShort, terms.Duration, e.minDuration)
	}
	if !terms.Guard.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrMalformedParams, terms.Guard)
	}
	if terms.Offset != NoOffset && (terms.Offset < 0 || terms.Offset+32 > len(payload)) {
		return 0, fmt.Errorf("%w: %d in %d byte payload", ErrOffsetOutOfRange, terms.Offset, len(payload))
	}

	target := terms.Target
	if target == (Identity{}) {
		target = caller
	}
	en := &entry{
		inst: Instance{
			ID:           e.index + 1,
			Strategy:     strategy,
			Status:       Status{Phase: Active},
			Initiator:    caller,
			Target:       target,
			Opened:       e.clock.Now(),
			Duration:     terms.Duration,
			ExpectReturn: terms.ExpectReturn,
			Guard:        terms.Guard,
			Digest:       Digest(payload, terms.Offset),
			PayloadLen:   len(payload),
			Offset:       terms.Offset,
		},
		tally: tally,
	}
	if err := e.commit(ctx, en, nil, nil); err != nil {
		return 0, err
	}
	e.index = en.inst.ID

	e.logger.Info().Uint64("instance", en.inst.ID).Str("strategy", strategy).
		Str("initiator", caller.Hex()).Time("deadline", en.inst.Deadline().At()).Msg("instance started")
	e.metrics.startedInstance(strategy, e.index)
	e.publish(event.InstanceStartedEventType, event.InstanceStartedEvent{
		Instance:  en.inst.ID,
		Strategy:  strategy,
		Initiator: caller,
	})
	return en.inst.ID, nil
}

// Vote casts the caller's choice and returns the resulting status.
func (e *Engine) Vote(ctx context.Context, caller Identity, id uint64, choice []byte) (Status, error) {
	release, err := e.acquire(ctx, id)
	if err != nil {
		return Status{}, err
	}
	defer release()

	en, err := e.lookup(id)
	if err != nil {
		return Status{}, err
	}
	now := e.clock.Now()
	if en, err = e.settle(ctx, en); err != nil {
		return en.inst.Status, err
	}

	status := en.inst.Status
	if status.Phase != Active && !(status.Phase == AwaitCall && status.RoundsLeft > 0) {
		e.metrics.rejectVote("status")
		return status, statusError(id, status)
	}

	work := en.clone()
	if status.Phase == AwaitCall {
		rounds, ok := work.tally.(Rounds)
		if !ok {
			return status, fmt.Errorf("instance %d: %s tally has no rounds", id, work.inst.Strategy)
		}
		if err := rounds.Advance(ctx); err != nil {
			return status, err
		}
		work.inst.Status = Status{Phase: Active}
		work.inst.Opened = now
	}

	choiceKey, err := work.tally.Key(choice)
	if err != nil {
		e.metrics.rejectVote("choice")
		return status, err
	}
	key, guarded := e.guard.Key(work.inst.Guard, id, caller, choiceKey)
	if guarded {
		if err := e.guard.Check(key); err != nil {
			e.metrics.rejectVote("duplicate")
			return status, err
		}
	}
	if err := work.tally.Vote(ctx, caller, choice); err != nil {
		e.metrics.rejectVote("tally")
		return status, err
	}

	// a vote cast past the deadline can complete a quorum
	resolution, winners, err := e.resolve(ctx, work, now)
	if err != nil {
		return status, err
	}
	if resolution != nil {
		work = resolution
	}
	var guardKey *GuardKey
	if guarded {
		guardKey = &key
	}
	if err := e.commit(ctx, work, guardKey, winners); err != nil {
		return status, err
	}

	e.logger.Debug().Uint64("instance", id).Str("caller", caller.Hex()).
		Stringer("status", work.inst.Status).Msg("vote accepted")
	e.metrics.vote(work.inst.Strategy)
	return work.inst.Status, nil
}

// Implement dispatches the committed call of an accepted instance. The
// payload must match the commitment; for elections the substitution window
// may hold anything and is overwritten with the winner.
//
// A target that rejects the call structurally fails the instance without an
// error. Any other downstream failure is returned and the instance stays
// awaiting its call.
func (e *Engine) Implement(ctx context.Context, caller Identity, id uint64, payload []byte) (*Receipt, error) {
	release, err := e.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	en, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := e.executor.Verify(&en.inst, payload); err != nil {
		return nil, err
	}
	if en, err = e.settle(ctx, en); err != nil {
		return nil, err
	}
	if !en.inst.Status.Resolvable() {
		return nil, statusError(id, en.inst.Status)
	}

	call := Call{
		Instance: id,
		Caller:   caller,
		Target:   en.inst.Target,
		Payload:  payload,
	}
	if en.inst.Offset != NoOffset {
		elector, ok := en.tally.(Elector)
		if !ok {
			return nil, fmt.Errorf("instance %d: %s tally elects no winner", id, en.inst.Strategy)
		}
		winner, _, ok := elector.Winner()
		if !ok {
			return nil, statusError(id, en.inst.Status)
		}
		call.Payload = Substitute(payload, en.inst.Offset, winner)
	}

	ret, err := e.executor.Execute(ctx, call, en.inst.ExpectReturn)
	switch {
	case errors.Is(err, ErrUnsupportedCall):
		receipt := &Receipt{Status: Status{Phase: Failed}, Reason: err.Error()}
		e.metrics.outcome("not_implemented")
		err := e.finish(ctx, en, receipt.Status)
		e.publish(event.NotImplementedEventType, event.NotImplementedEvent{
			Instance: id,
			Caller:   caller,
			Target:   call.Target,
			Reason:   receipt.Reason,
		})
		return receipt, err
	case err != nil:
		e.metrics.outcome("failed")
		return nil, err
	}

	receipt := &Receipt{Status: Status{Phase: Completed}, Return: ret}
	e.metrics.outcome("implemented")
	err = e.finish(ctx, en, receipt.Status)
	e.publish(event.ImplementedEventType, event.ImplementedEvent{
		Instance: id,
		Caller:   caller,
		Target:   call.Target,
	})
	return receipt, err
}

// Result returns the ABI encoded tally of an instance.
func (e *Engine) Result(ctx context.Context, id uint64) ([]byte, error) {
	release, err := e.acquire(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer release()

	en, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, en).tally.Result()
}

// GetStatus returns the status an instance would resolve to now. Unknown ids
// are inactive.
func (e *Engine) GetStatus(ctx context.Context, id uint64) Status {
	release, err := e.acquire(ctx, 0)
	if err != nil {
		return Status{}
	}
	defer release()

	en, ok := e.instances[id]
	if !ok {
		return Status{Phase: Inactive}
	}
	return e.evaluate(ctx, en).inst.Status
}

// Instance returns a snapshot of an instance with its current status.
func (e *Engine) Instance(ctx context.Context, id uint64) (Instance, error) {
	release, err := e.acquire(ctx, 0)
	if err != nil {
		return Instance{}, err
	}
	defer release()

	en, err := e.lookup(id)
	if err != nil {
		return Instance{}, err
	}
	return e.evaluate(ctx, en).inst, nil
}

// CurrentIndex returns the id of the most recently started instance.
func (e *Engine) CurrentIndex(ctx context.Context) uint64 {
	release, err := e.acquire(ctx, 0)
	if err != nil {
		return 0
	}
	defer release()
	return e.index
}

// acquire takes the engine lock unless the context comes from a dispatch
// that already holds it. In that case id, when set, must not be one of the
// instances being implemented.
func (e *Engine) acquire(ctx context.Context, id uint64) (func(), error) {
	if f := frameFrom(ctx); f != nil {
		if id != 0 && f.holds(id) {
			return nil, fmt.Errorf("instance %d: %w", id, ErrReentrant)
		}
		return func() {}, nil
	}
	e.mu.Lock()
	return e.mu.Unlock, nil
}

func (e *Engine) lookup(id uint64) (*entry, error) {
	en, ok := e.instances[id]
	if !ok {
		return nil, statusError(id, Status{Phase: Inactive})
	}
	return en, nil
}

// settle persists the lazy resolution of an elapsed instance, if any, and
// returns the entry to continue with.
func (e *Engine) settle(ctx context.Context, en *entry) (*entry, error) {
	resolution, winners, err := e.resolve(ctx, en, e.clock.Now())
	if err != nil || resolution == nil {
		return en, err
	}
	if err := e.commit(ctx, resolution, nil, winners); err != nil {
		return en, err
	}
	return resolution, nil
}

// evaluate returns the entry as it would look after resolution without
// recording anything.
func (e *Engine) evaluate(ctx context.Context, en *entry) *entry {
	resolution, _, err := e.resolve(ctx, en, e.clock.Now())
	if err != nil {
		e.logger.Warn().Err(err).Uint64("instance", en.inst.ID).Msg("resolving instance")
		return en
	}
	if resolution == nil {
		return en
	}
	return resolution
}

// resolve applies the strategy's decision to a copy of an active instance
// whose deadline elapsed. It returns nil when nothing changes.
func (e *Engine) resolve(ctx context.Context, en *entry, now time.Time) (*entry, []Winner, error) {
	if en.inst.Status.Phase != Active || !en.inst.Deadline().Elapsed(now) {
		return nil, nil, nil
	}
	work := en.clone()
	res, err := work.tally.Resolve(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("instance %d: %w", en.inst.ID, err)
	}
	switch res.Outcome {
	case Pending:
		return nil, nil, nil
	case Accepted:
		work.inst.Status = Status{Phase: AwaitCall}
	case NextRound:
		work.inst.Status = Status{Phase: AwaitCall, RoundsLeft: res.RoundsLeft}
	default:
		work.inst.Status = Status{Phase: Failed}
	}
	return work, res.Winners, nil
}

// commit persists an entry and then makes it current. Nothing changes in
// memory when the store fails.
func (e *Engine) commit(ctx context.Context, en *entry, guardKey *GuardKey, winners []Winner) error {
	if e.store != nil {
		rec, err := en.record()
		if err != nil {
			return err
		}
		if err := e.store.Save(ctx, rec, guardKey); err != nil {
			return fmt.Errorf("instance %d: saving: %w", en.inst.ID, err)
		}
	}

	prev, existed := e.instances[en.inst.ID]
	e.instances[en.inst.ID] = en
	if guardKey != nil {
		e.guard.Record(*guardKey)
	}
	if existed && prev.inst.Status != en.inst.Status {
		e.logger.Info().Uint64("instance", en.inst.ID).Stringer("from", prev.inst.Status).
			Stringer("status", en.inst.Status).Msg("status changed")
	}
	for _, w := range winners {
		e.publish(event.RoundWinnerEventType, event.RoundWinnerEvent{
			Instance:   en.inst.ID,
			Round:      w.Round,
			Contestant: w.Contestant,
			Weight:     w.Weight,
		})
	}
	return nil
}

// finish records the terminal status of an implemented instance. The call
// already happened, so memory is updated even when the store fails.
func (e *Engine) finish(ctx context.Context, en *entry, status Status) error {
	work := en.clone()
	work.inst.Status = status
	e.instances[work.inst.ID] = work
	e.logger.Info().Uint64("instance", work.inst.ID).Stringer("status", status).Msg("instance resolved")

	if e.store == nil {
		return nil
	}
	rec, err := work.record()
	if err == nil {
		err = e.store.Save(ctx, rec, nil)
	}
	if err != nil {
		e.logger.Err(err).Uint64("instance", work.inst.ID).Msg("failed to persist resolved instance")
		return fmt.Errorf("instance %d: saving: %w", work.inst.ID, err)
	}
	return nil
}

func (e *Engine) publish(eventType event.EventType, data any) {
	if e.bus == nil {
		return
	}
	e.bus.PublishAsync(event.NewEvent(eventType, data))
}
