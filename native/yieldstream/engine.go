package yieldstream

import (
	"errors"
	"math/big"
	"sync"

	"vaultdca/core/events"
	"vaultdca/core/types"
	nativecommon "vaultdca/native/common"
	"vaultdca/vault"
)

var (
	ErrNilState       = errors.New("yieldstream engine: state not configured")
	ErrNilVault       = errors.New("yieldstream engine: value source not configured")
	ErrInvalidAmount  = errors.New("yieldstream engine: amount must be positive")
	ErrSameParty      = errors.New("yieldstream engine: streamer and receiver must differ")
	ErrStreamNotFound = errors.New("yieldstream engine: stream not found")
	ErrNoYield        = errors.New("yieldstream engine: no yield accrued")
)

const moduleName = "yieldstream"

type engineState interface {
	YieldStreamGet(streamer, receiver [20]byte) (*YieldStream, error)
	YieldStreamPut(*YieldStream) error
	YieldStreamDelete(streamer, receiver [20]byte) error
}

// Engine tracks yield-only streams over escrowed vault shares. Like the DCA
// engine it is accounting-only: the host escrows shares on Open and releases
// the share amounts returned by ClaimYield and Close.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	source  vault.Source
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine constructs a yield-stream engine over the given value source.
func NewEngine(source vault.Source) *Engine {
	return &Engine{
		source:  source,
		emitter: events.NoopEmitter{},
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

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.source == nil {
		return ErrNilVault
	}
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(yieldStreamEvent{evt: evt})
}

// Open escrows shares from the streamer toward the receiver, recording their
// current asset value as principal. Opening an existing pair tops it up.
func (e *Engine) Open(streamer, receiver [20]byte, shares *big.Int) (*YieldStream, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if streamer == receiver {
		return nil, ErrSameParty
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.YieldStreamGet(streamer, receiver)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = &YieldStream{
			Streamer:        streamer,
			Receiver:        receiver,
			PrincipalShares: big.NewInt(0),
			PrincipalAssets: big.NewInt(0),
		}
	}
	assets := e.source.ConvertToAssets(shares)
	s.PrincipalShares = new(big.Int).Add(s.PrincipalShares, shares)
	s.PrincipalAssets = new(big.Int).Add(s.PrincipalAssets, assets)
	if err := e.state.YieldStreamPut(s); err != nil {
		return nil, err
	}
	e.emit(NewYieldStreamOpenedEvent(s, shares, assets))
	return s.Clone(), nil
}

// ClaimYield strips the shares worth the excess of current value over
// recorded principal and returns that share amount for release to the
// receiver. Principal is untouched; a flat or underwater position claims
// nothing.
func (e *Engine) ClaimYield(receiver, streamer [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.YieldStreamGet(streamer, receiver)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStreamNotFound
	}
	sharesOut := e.yieldShares(s)
	if sharesOut.Sign() <= 0 {
		return nil, ErrNoYield
	}
	s.PrincipalShares = new(big.Int).Sub(s.PrincipalShares, sharesOut)
	if err := e.state.YieldStreamPut(s); err != nil {
		return nil, err
	}
	e.emit(NewYieldClaimedEvent(s, sharesOut))
	return sharesOut, nil
}

// Close tears the stream down. Accrued yield shares go to the receiver one
// last time; everything else returns to the streamer. In a loss the streamer
// absorbs the shortfall and the receiver gets nothing.
func (e *Engine) Close(streamer, receiver [20]byte) (toStreamer, toReceiver *big.Int, err error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.YieldStreamGet(streamer, receiver)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, ErrStreamNotFound
	}
	toReceiver = e.yieldShares(s)
	toStreamer = new(big.Int).Sub(s.PrincipalShares, toReceiver)
	if toStreamer.Sign() < 0 {
		toStreamer = big.NewInt(0)
	}
	if err := e.state.YieldStreamDelete(streamer, receiver); err != nil {
		return nil, nil, err
	}
	e.emit(NewYieldStreamClosedEvent(s, toStreamer, toReceiver))
	return toStreamer, toReceiver, nil
}

// StreamOf returns a copy of the stream for the pair.
func (e *Engine) StreamOf(streamer, receiver [20]byte) (*YieldStream, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.YieldStreamGet(streamer, receiver)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStreamNotFound
	}
	return s.Clone(), nil
}

// PreviewClaim reports the share amount a claim would pay right now.
func (e *Engine) PreviewClaim(receiver, streamer [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.state.YieldStreamGet(streamer, receiver)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrStreamNotFound
	}
	return e.yieldShares(s), nil
}

// yieldShares computes the claimable share amount: the shares worth the
// current value in excess of recorded principal, clamped to the escrow.
func (e *Engine) yieldShares(s *YieldStream) *big.Int {
	value := e.source.ConvertToAssets(s.PrincipalShares)
	yield := new(big.Int).Sub(value, s.PrincipalAssets)
	if yield.Sign() <= 0 {
		return big.NewInt(0)
	}
	shares := e.source.ConvertToShares(yield)
	if shares.Cmp(s.PrincipalShares) > 0 {
		shares = new(big.Int).Set(s.PrincipalShares)
	}
	return shares
}
