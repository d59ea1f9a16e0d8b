package vault

import (
	"errors"
	"math/big"
	"sync"
)

var (
	ErrInvalidAmount      = errors.New("vault: amount must be positive")
	ErrInvalidSharePrice  = errors.New("vault: share price must be positive")
	ErrInsufficientShares = errors.New("vault: insufficient share balance")
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// SimVault is a deterministic in-process Source used by tests and the
// reference daemon. The share price is set externally; there is no real
// yield strategy behind it.
type SimVault struct {
	mu       sync.RWMutex
	priceWad *big.Int
	balances map[[20]byte]*big.Int
}

// NewSimVault creates a vault with the given wad-scaled share price. A nil
// or non-positive price defaults to 1.0.
func NewSimVault(priceWad *big.Int) *SimVault {
	price := new(big.Int).Set(wad)
	if priceWad != nil && priceWad.Sign() > 0 {
		price = new(big.Int).Set(priceWad)
	}
	return &SimVault{
		priceWad: price,
		balances: make(map[[20]byte]*big.Int),
	}
}

// SharePriceWad returns the current wad-scaled share price.
func (v *SimVault) SharePriceWad() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.priceWad)
}

// SetSharePriceWad replaces the share price. The price may move down as well
// as up; only zero and negative values are rejected.
func (v *SimVault) SetSharePriceWad(priceWad *big.Int) error {
	if priceWad == nil || priceWad.Sign() <= 0 {
		return ErrInvalidSharePrice
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.priceWad = new(big.Int).Set(priceWad)
	return nil
}

// AdjustSharePriceBps moves the share price by the given basis points.
// Positive values appreciate the share, negative values mark a loss.
func (v *SimVault) AdjustSharePriceBps(bps int64) error {
	if bps <= -10_000 {
		return ErrInvalidSharePrice
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	delta := new(big.Int).Mul(v.priceWad, big.NewInt(bps))
	delta.Quo(delta, big.NewInt(10_000))
	v.priceWad = new(big.Int).Add(v.priceWad, delta)
	return nil
}

// ConvertToAssets implements Source.
func (v *SimVault) ConvertToAssets(shares *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	assets := new(big.Int).Mul(shares, v.priceWad)
	return assets.Quo(assets, wad)
}

// ConvertToShares implements Source.
func (v *SimVault) ConvertToShares(assets *big.Int) *big.Int {
	if assets == nil || assets.Sign() <= 0 {
		return big.NewInt(0)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	shares := new(big.Int).Mul(assets, wad)
	return shares.Quo(shares, v.priceWad)
}

// Deposit implements Source. Assets are assumed transferred in by the host;
// the sim only mints shares at the current price.
func (v *SimVault) Deposit(owner [20]byte, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	shares := v.ConvertToShares(assets)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[owner] = new(big.Int).Add(v.balance(owner), shares)
	return shares, nil
}

// Redeem implements Source.
func (v *SimVault) Redeem(owner [20]byte, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	held := v.balance(owner)
	if held.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	v.balances[owner] = new(big.Int).Sub(held, shares)
	assets := new(big.Int).Mul(shares, v.priceWad)
	return assets.Quo(assets, wad), nil
}

// Transfer moves shares between holders. Engines never call this; the host
// (tests, daemon) uses it to hand custody of shares to an engine.
func (v *SimVault) Transfer(from, to [20]byte, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	held := v.balance(from)
	if held.Cmp(shares) < 0 {
		return ErrInsufficientShares
	}
	v.balances[from] = new(big.Int).Sub(held, shares)
	v.balances[to] = new(big.Int).Add(v.balance(to), shares)
	return nil
}

// BalanceOf implements Source.
func (v *SimVault) BalanceOf(owner [20]byte) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.balance(owner))
}

func (v *SimVault) balance(owner [20]byte) *big.Int {
	if bal, ok := v.balances[owner]; ok {
		return bal
	}
	return big.NewInt(0)
}
