package vault

import "math/big"

// Source is the ERC4626-shaped value source the engines draw on. It acts as
// both price oracle (the conversion pair) and custodian (deposit/redeem).
// Share price may fall; callers must tolerate loss.
type Source interface {
	// ConvertToAssets values the given share amount in underlying asset
	// units at the current share price, rounding down.
	ConvertToAssets(shares *big.Int) *big.Int
	// ConvertToShares converts an asset amount into shares at the current
	// share price, rounding down.
	ConvertToShares(assets *big.Int) *big.Int
	// Deposit locks assets for the owner and mints shares.
	Deposit(owner [20]byte, assets *big.Int) (*big.Int, error)
	// Redeem burns the owner's shares and releases the underlying assets.
	Redeem(owner [20]byte, shares *big.Int) (*big.Int, error)
	// BalanceOf reports the owner's share balance.
	BalanceOf(owner [20]byte) *big.Int
}
