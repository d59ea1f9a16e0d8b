package dca

import "math/big"

// Position tracks one depositor's principal and settlement progress.
// Principal is custody-held as vault shares; PrincipalAssets records the
// asset-equivalent value at deposit time and is the weight used when
// attributing epoch conversions.
type Position struct {
	Owner           [20]byte
	PrincipalShares *big.Int
	PrincipalAssets *big.Int
	CheckpointEpoch uint64
	SettledTokens   *big.Int
}

// Clone returns a deep copy so callers cannot mutate engine state through
// shared big.Int pointers.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	out := *p
	out.PrincipalShares = copyBigInt(p.PrincipalShares)
	out.PrincipalAssets = copyBigInt(p.PrincipalAssets)
	out.SettledTokens = copyBigInt(p.SettledTokens)
	return &out
}

func (p *Position) empty() bool {
	return p.PrincipalShares.Sign() == 0 && p.PrincipalAssets.Sign() == 0 && p.SettledTokens.Sign() == 0
}

// EpochRecord is the immutable log entry appended once per successful
// execution. It captures everything settlement needs to replay the epoch.
type EpochRecord struct {
	Epoch             uint64
	TotalPrincipal    *big.Int
	YieldConverted    *big.Int
	SharesRedeemed    *big.Int
	TokensBought      *big.Int
	ConversionRateWad *big.Int
	SharePriceWad     *big.Int
	ExecutedAt        int64
}

// Clone returns a deep copy of the record.
func (r *EpochRecord) Clone() *EpochRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.TotalPrincipal = copyBigInt(r.TotalPrincipal)
	out.YieldConverted = copyBigInt(r.YieldConverted)
	out.SharesRedeemed = copyBigInt(r.SharesRedeemed)
	out.TokensBought = copyBigInt(r.TokensBought)
	out.ConversionRateWad = copyBigInt(r.ConversionRateWad)
	out.SharePriceWad = copyBigInt(r.SharePriceWad)
	return &out
}

// EpochTally accumulates settlement progress for one epoch. It lives next to
// the immutable EpochRecord: once PrincipalSettled reaches the record's
// principal snapshot the floor-division remainder is known exactly and moves
// into the global pending allocation pool.
type EpochTally struct {
	Epoch            uint64
	PrincipalSettled *big.Int
	TokensAttributed *big.Int
	Closed           bool
}

// Clone returns a deep copy of the tally.
func (t *EpochTally) Clone() *EpochTally {
	if t == nil {
		return nil
	}
	out := *t
	out.PrincipalSettled = copyBigInt(t.PrincipalSettled)
	out.TokensAttributed = copyBigInt(t.TokensAttributed)
	return &out
}

// GlobalState is the engine-wide ledger head.
type GlobalState struct {
	CurrentEpoch      uint64
	EpochStartTime    int64
	EpochInterval     int64
	TotalPrincipal    *big.Int
	TotalShares       *big.Int
	TokenBalance      *big.Int
	PendingAllocation *big.Int
}

// Clone returns a deep copy of the global state.
func (g *GlobalState) Clone() *GlobalState {
	if g == nil {
		return nil
	}
	out := *g
	out.TotalPrincipal = copyBigInt(g.TotalPrincipal)
	out.TotalShares = copyBigInt(g.TotalShares)
	out.TokenBalance = copyBigInt(g.TokenBalance)
	out.PendingAllocation = copyBigInt(g.PendingAllocation)
	return &out
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
