package stream

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultdca/core/events"
	"vaultdca/core/types"
	nativecommon "vaultdca/native/common"
)

var (
	ErrNilState       = errors.New("stream engine: state not configured")
	ErrStreamNotFound = errors.New("stream engine: stream not found")
	ErrInvalidAmount  = errors.New("stream engine: amount must be positive")
	ErrInvalidWindow  = errors.New("stream engine: end must be after start")
	ErrSameParty      = errors.New("stream engine: sender and recipient must differ")
	ErrNotRecipient   = errors.New("stream engine: caller is not the recipient")
	ErrNotSender      = errors.New("stream engine: caller is not the sender")
	ErrNothingVested  = errors.New("stream engine: nothing vested to claim")
	ErrCancelled      = errors.New("stream engine: stream already cancelled")
)

const moduleName = "stream"

type engineState interface {
	StreamGet(id uuid.UUID) (*Stream, error)
	StreamPut(*Stream) error
	StreamDelete(id uuid.UUID) error
}

// Engine manages linear vesting streams. Shares are escrowed by the host
// when a stream is created and released against the amounts this engine
// returns.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs a stream engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the pause switchboard.
func (e *Engine) SetPauses(pauses nativecommon.PauseView) { e.pauses = pauses }

// SetEmitter configures the event emitter. Nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(streamEvent{evt: evt})
}

// Create opens a vesting stream of the given share amount between start and
// end. A zero start begins vesting immediately.
func (e *Engine) Create(sender, recipient [20]byte, shares *big.Int, start, end int64) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if sender == recipient {
		return nil, ErrSameParty
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if start == 0 {
		start = e.now()
	}
	if end <= start {
		return nil, ErrInvalidWindow
	}
	s := &Stream{
		ID:            uuid.New(),
		Sender:        sender,
		Recipient:     recipient,
		TotalShares:   new(big.Int).Set(shares),
		ClaimedShares: big.NewInt(0),
		StartTime:     start,
		EndTime:       end,
	}
	if err := e.state.StreamPut(s); err != nil {
		return nil, err
	}
	e.emit(NewStreamCreatedEvent(s))
	return s.Clone(), nil
}

// Claim releases the vested-but-unclaimed shares to the recipient. The
// stream is removed once fully drained.
func (e *Engine) Claim(caller [20]byte, id uuid.UUID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.StreamGet(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStreamNotFound
	}
	if s.Recipient != caller {
		return nil, ErrNotRecipient
	}
	amount := s.ClaimableAt(e.now())
	if amount.Sign() <= 0 {
		return nil, ErrNothingVested
	}
	s.ClaimedShares = new(big.Int).Add(s.ClaimedShares, amount)

	drained := s.ClaimedShares.Cmp(s.TotalShares) >= 0
	cancelledAndDone := s.CancelledAt > 0 && s.ClaimedShares.Cmp(s.VestedAt(s.CancelledAt)) >= 0
	if drained || cancelledAndDone {
		if err := e.state.StreamDelete(id); err != nil {
			return nil, err
		}
	} else {
		if err := e.state.StreamPut(s); err != nil {
			return nil, err
		}
	}
	e.emit(NewStreamClaimedEvent(s, amount))
	return amount, nil
}

// Cancel stops vesting at the current time and returns the unvested share
// amount to release back to the sender. Already-vested shares stay
// claimable by the recipient.
func (e *Engine) Cancel(caller [20]byte, id uuid.UUID) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.StreamGet(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStreamNotFound
	}
	if s.Sender != caller {
		return nil, ErrNotSender
	}
	if s.CancelledAt > 0 {
		return nil, ErrCancelled
	}
	now := e.now()
	s.CancelledAt = now
	vested := s.VestedAt(now)
	unvested := new(big.Int).Sub(s.TotalShares, vested)

	if s.ClaimedShares.Cmp(vested) >= 0 {
		// Everything vested so far was already claimed; nothing remains.
		if err := e.state.StreamDelete(id); err != nil {
			return nil, err
		}
	} else {
		if err := e.state.StreamPut(s); err != nil {
			return nil, err
		}
	}
	e.emit(NewStreamCancelledEvent(s, unvested))
	return unvested, nil
}

// StreamOf returns a copy of the stream.
func (e *Engine) StreamOf(id uuid.UUID) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.StreamGet(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStreamNotFound
	}
	return s.Clone(), nil
}
