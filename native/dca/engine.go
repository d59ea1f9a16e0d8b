package dca

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"vaultdca/core/events"
	"vaultdca/core/types"
	nativecommon "vaultdca/native/common"
	"vaultdca/swap"
	"vaultdca/vault"
)

var (
	ErrNilState            = errors.New("dca engine: state not configured")
	ErrNilVault            = errors.New("dca engine: value source not configured")
	ErrNilConverter        = errors.New("dca engine: converter not configured")
	ErrInvalidAmount       = errors.New("dca engine: amount must be positive")
	ErrPositionNotFound    = errors.New("dca engine: no deposit found for owner")
	ErrInsufficientShares  = errors.New("dca engine: withdrawal exceeds principal shares")
	ErrIntervalNotElapsed  = errors.New("dca engine: epoch interval not elapsed")
	ErrNoPrincipal         = errors.New("dca engine: no principal deposited")
	ErrNoYield             = errors.New("dca engine: no yield to convert")
	ErrAmountTooLow        = errors.New("dca engine: swap output below minimum")
	ErrIntervalOutOfBounds = errors.New("dca engine: epoch interval outside allowed bounds")
	ErrEpochNotFound       = errors.New("dca engine: epoch record not found")
	ErrEpochInFuture       = errors.New("dca engine: epoch has not been executed yet")
)

const moduleName = "dca"

var wad = big.NewInt(1_000_000_000_000_000_000)

// engineState is the persistence surface the engine requires. Positions are
// mutated only through the controller; epoch records are append-only.
type engineState interface {
	GlobalGet() (*GlobalState, error)
	GlobalPut(*GlobalState) error
	PositionGet(owner [20]byte) (*Position, error)
	PositionPut(*Position) error
	PositionDelete(owner [20]byte) error
	EpochGet(epoch uint64) (*EpochRecord, error)
	EpochPut(*EpochRecord) error
	TallyGet(epoch uint64) (*EpochTally, error)
	TallyPut(*EpochTally) error
}

// Engine is the epoch-based yield conversion engine. One instance serves one
// vault; all state flows through the injected engineState so the engine can
// be deployed multiple times with fully isolated ledgers.
//
// Every exported operation runs under the engine mutex. Calls out to the
// value source or converter happen with the lock held, so a collaborator
// that tries to re-enter the engine deadlocks instead of observing
// half-applied state; persisted state only changes after every check and
// external call has succeeded.
type Engine struct {
	mu          sync.Mutex
	state       engineState
	source      vault.Source
	converter   swap.Converter
	emitter     events.Emitter
	roles       nativecommon.RoleView
	pauses      nativecommon.PauseView
	nowFn       func() int64
	custody     [20]byte
	assetToken  string
	targetToken string
}

// NewEngine constructs an engine whose vault shares are held under the given
// custody address.
func NewEngine(custody [20]byte, source vault.Source, converter swap.Converter) *Engine {
	return &Engine{
		source:      source,
		converter:   converter,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
		custody:     custody,
		assetToken:  DefaultAssetToken,
		targetToken: DefaultTargetToken,
	}
}

// SetState wires the engine to its persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRoles wires the access list consulted for admin and keeper calls. A nil
// view disables role checks.
func (e *Engine) SetRoles(roles nativecommon.RoleView) { e.roles = roles }

// SetPauses wires the pause switchboard.
func (e *Engine) SetPauses(pauses nativecommon.PauseView) { e.pauses = pauses }

// SetNowFunc overrides the engine clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetTokenPair configures the asset and target token tickers passed to the
// converter.
func (e *Engine) SetTokenPair(assetToken, targetToken string) {
	if assetToken != "" {
		e.assetToken = assetToken
	}
	if targetToken != "" {
		e.targetToken = targetToken
	}
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(dcaEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil, e.state == nil:
		return ErrNilState
	case e.source == nil:
		return ErrNilVault
	case e.converter == nil:
		return ErrNilConverter
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// ensureGlobal loads the global ledger head, initialising it on first use.
func (e *Engine) ensureGlobal() (*GlobalState, error) {
	g, err := e.state.GlobalGet()
	if err != nil {
		return nil, err
	}
	if g == nil {
		g = &GlobalState{
			CurrentEpoch:   1,
			EpochStartTime: e.now(),
			EpochInterval:  DefaultEpochInterval,
		}
	}
	if g.CurrentEpoch == 0 {
		g.CurrentEpoch = 1
	}
	if g.EpochInterval == 0 {
		g.EpochInterval = DefaultEpochInterval
	}
	if g.TotalPrincipal == nil {
		g.TotalPrincipal = big.NewInt(0)
	}
	if g.TotalShares == nil {
		g.TotalShares = big.NewInt(0)
	}
	if g.TokenBalance == nil {
		g.TokenBalance = big.NewInt(0)
	}
	if g.PendingAllocation == nil {
		g.PendingAllocation = big.NewInt(0)
	}
	return g, nil
}

func (e *Engine) ensurePosition(owner [20]byte, currentEpoch uint64) (*Position, error) {
	pos, err := e.state.PositionGet(owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{Owner: owner, CheckpointEpoch: currentEpoch}
	}
	if pos.PrincipalShares == nil {
		pos.PrincipalShares = big.NewInt(0)
	}
	if pos.PrincipalAssets == nil {
		pos.PrincipalAssets = big.NewInt(0)
	}
	if pos.SettledTokens == nil {
		pos.SettledTokens = big.NewInt(0)
	}
	return pos, nil
}

// Deposit credits sharesIn of vault shares to the owner's position. The
// existing position is settled first at its old principal so the fresh
// deposit cannot claim yield from epochs before it existed. Returns the
// asset-equivalent value credited to principal.
func (e *Engine) Deposit(owner [20]byte, sharesIn *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if sharesIn == nil || sharesIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	pos, err := e.ensurePosition(owner, g.CurrentEpoch)
	if err != nil {
		return nil, err
	}
	if _, err := e.settleTo(g, pos, g.CurrentEpoch); err != nil {
		return nil, err
	}
	e.drainPending(g, pos)

	assets := e.source.ConvertToAssets(sharesIn)
	pos.PrincipalShares = new(big.Int).Add(pos.PrincipalShares, sharesIn)
	pos.PrincipalAssets = new(big.Int).Add(pos.PrincipalAssets, assets)
	pos.CheckpointEpoch = g.CurrentEpoch
	g.TotalPrincipal = new(big.Int).Add(g.TotalPrincipal, assets)
	g.TotalShares = new(big.Int).Add(g.TotalShares, sharesIn)

	if err := e.state.PositionPut(pos); err != nil {
		return nil, err
	}
	if err := e.state.GlobalPut(g); err != nil {
		return nil, err
	}

	e.emit(NewDepositEvent(owner, g.CurrentEpoch, sharesIn, assets))
	return new(big.Int).Set(assets), nil
}

// Withdraw settles the owner's position, pays out the full accrued target
// token balance and releases sharesOut principal shares. A zero sharesOut is
// a claim: only accrued tokens are paid and principal is untouched. The
// returned values are the asset-equivalent principal removed and the target
// tokens paid out.
func (e *Engine) Withdraw(owner [20]byte, sharesOut *big.Int) (*big.Int, *big.Int, error) {
	if sharesOut == nil {
		sharesOut = big.NewInt(0)
	}
	if sharesOut.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	return e.withdraw(owner, sharesOut, false)
}

// WithdrawAll settles the position and releases its entire remaining share
// backing plus the full accrued target token balance.
func (e *Engine) WithdrawAll(owner [20]byte) (*big.Int, *big.Int, error) {
	return e.withdraw(owner, nil, true)
}

func (e *Engine) withdraw(owner [20]byte, sharesOut *big.Int, all bool) (*big.Int, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.ensureGlobal()
	if err != nil {
		return nil, nil, err
	}
	pos, err := e.state.PositionGet(owner)
	if err != nil {
		return nil, nil, err
	}
	if pos == nil {
		return nil, nil, ErrPositionNotFound
	}
	if pos.PrincipalShares == nil {
		pos.PrincipalShares = big.NewInt(0)
	}
	if pos.PrincipalAssets == nil {
		pos.PrincipalAssets = big.NewInt(0)
	}
	if pos.SettledTokens == nil {
		pos.SettledTokens = big.NewInt(0)
	}
	if _, err := e.settleTo(g, pos, g.CurrentEpoch); err != nil {
		return nil, nil, err
	}
	e.drainPending(g, pos)

	// The principal check runs after settlement: replayed epochs may have
	// reduced the share backing.
	if all {
		sharesOut = new(big.Int).Set(pos.PrincipalShares)
	} else if sharesOut.Cmp(pos.PrincipalShares) > 0 {
		return nil, nil, ErrInsufficientShares
	}

	assetsOut := big.NewInt(0)
	if sharesOut.Sign() > 0 {
		// Remove principal pro rata to the share amount leaving custody.
		assetsOut = new(big.Int).Mul(pos.PrincipalAssets, sharesOut)
		assetsOut.Quo(assetsOut, pos.PrincipalShares)
		pos.PrincipalShares = new(big.Int).Sub(pos.PrincipalShares, sharesOut)
		pos.PrincipalAssets = new(big.Int).Sub(pos.PrincipalAssets, assetsOut)
		g.TotalPrincipal = new(big.Int).Sub(g.TotalPrincipal, assetsOut)
		g.TotalShares = new(big.Int).Sub(g.TotalShares, sharesOut)
	} else if all && pos.PrincipalAssets.Sign() > 0 {
		// Deep-loss exit: the share backing was fully consumed by epoch
		// redemptions, but the principal weight must still leave the ledger.
		g.TotalPrincipal = new(big.Int).Sub(g.TotalPrincipal, pos.PrincipalAssets)
		pos.PrincipalAssets = big.NewInt(0)
	}

	tokensPaid := new(big.Int).Set(pos.SettledTokens)
	pos.SettledTokens = big.NewInt(0)
	g.TokenBalance = new(big.Int).Sub(g.TokenBalance, tokensPaid)

	if pos.empty() {
		if err := e.state.PositionDelete(owner); err != nil {
			return nil, nil, err
		}
	} else {
		if err := e.state.PositionPut(pos); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.GlobalPut(g); err != nil {
		return nil, nil, err
	}

	e.emit(NewWithdrawalEvent(owner, g.CurrentEpoch, sharesOut, assetsOut, tokensPaid))
	return assetsOut, tokensPaid, nil
}

// ExecuteDCA advances the epoch: it measures aggregate yield, redeems it
// from the value source, converts it to the target token and appends one
// immutable epoch record. Restricted to the keeper role. The call never
// iterates positions.
func (e *Engine) ExecuteDCA(caller [20]byte, minTokensOut *big.Int, routingData []byte) (*EpochRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleKeeper, caller); err != nil {
		return nil, err
	}
	if minTokensOut == nil {
		minTokensOut = big.NewInt(0)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now < g.EpochStartTime+g.EpochInterval {
		return nil, ErrIntervalNotElapsed
	}
	if g.TotalPrincipal.Sign() == 0 {
		return nil, ErrNoPrincipal
	}

	currentValue := e.source.ConvertToAssets(g.TotalShares)
	yield := new(big.Int).Sub(currentValue, g.TotalPrincipal)
	if yield.Sign() <= 0 {
		return nil, ErrNoYield
	}

	sharesToRedeem := e.source.ConvertToShares(yield)
	if sharesToRedeem.Cmp(g.TotalShares) > 0 {
		sharesToRedeem = new(big.Int).Set(g.TotalShares)
	}
	if sharesToRedeem.Sign() == 0 {
		return nil, ErrNoYield
	}
	assetsOut, err := e.source.Redeem(e.custody, sharesToRedeem)
	if err != nil {
		return nil, err
	}
	if assetsOut.Sign() == 0 {
		return nil, ErrNoYield
	}

	bought, err := e.converter.Execute(e.assetToken, e.targetToken, assetsOut, minTokensOut, routingData)
	if err != nil {
		return nil, err
	}
	if bought == nil || bought.Cmp(minTokensOut) < 0 {
		return nil, ErrAmountTooLow
	}

	conversionRate := new(big.Int).Mul(bought, wad)
	conversionRate.Quo(conversionRate, assetsOut)
	sharePrice := e.source.ConvertToAssets(new(big.Int).Set(wad))

	rec := &EpochRecord{
		Epoch:             g.CurrentEpoch,
		TotalPrincipal:    new(big.Int).Set(g.TotalPrincipal),
		YieldConverted:    yield,
		SharesRedeemed:    new(big.Int).Set(sharesToRedeem),
		TokensBought:      new(big.Int).Set(bought),
		ConversionRateWad: conversionRate,
		SharePriceWad:     sharePrice,
		ExecutedAt:        now,
	}
	if err := e.state.EpochPut(rec); err != nil {
		return nil, err
	}

	g.CurrentEpoch++
	g.EpochStartTime = now
	g.TotalShares = new(big.Int).Sub(g.TotalShares, sharesToRedeem)
	g.TokenBalance = new(big.Int).Add(g.TokenBalance, bought)
	if err := e.state.GlobalPut(g); err != nil {
		return nil, err
	}

	e.emit(NewEpochExecutedEvent(rec))
	return rec.Clone(), nil
}

// UpdateEpochInterval changes the execution interval within the allowed
// bounds. Admin only.
func (e *Engine) UpdateEpochInterval(caller [20]byte, seconds int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	if err := ValidateEpochInterval(seconds); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.ensureGlobal()
	if err != nil {
		return err
	}
	g.EpochInterval = seconds
	return e.state.GlobalPut(g)
}

// UpdateConverter swaps the converter used for future executions. Admin only.
func (e *Engine) UpdateConverter(caller [20]byte, converter swap.Converter) error {
	if converter == nil {
		return ErrNilConverter
	}
	if err := nativecommon.RequireRole(e.roles, nativecommon.RoleAdmin, caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.converter = converter
	return nil
}

// Global returns a copy of the global ledger head.
func (e *Engine) Global() (*GlobalState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// PositionOf returns a copy of the owner's position.
func (e *Engine) PositionOf(owner [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, err := e.state.PositionGet(owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	return pos.Clone(), nil
}

// EpochAt returns a copy of the record for an executed epoch.
func (e *Engine) EpochAt(epoch uint64) (*EpochRecord, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	if epoch >= g.CurrentEpoch {
		return nil, ErrEpochInFuture
	}
	rec, err := e.state.EpochGet(epoch)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrEpochNotFound
	}
	return rec.Clone(), nil
}
