package dca

import "math/big"

// settleTo replays epochs [pos.CheckpointEpoch, target) and folds the
// position's proportional share of every conversion into its settled token
// balance. Each epoch's share is
//
//	principalAssets * record.TokensBought / record.TotalPrincipal
//
// with floor division. The per-epoch tally records how much principal has
// settled through the epoch; when it reaches the record's principal snapshot
// the exact aggregate rounding remainder is known and moves into the global
// pending allocation pool.
//
// Cost is O(target - checkpoint). Callers bound the range via SettleTo when
// a position has been neglected for very long stretches.
func (e *Engine) settleTo(g *GlobalState, pos *Position, target uint64) (*big.Int, error) {
	accrued := big.NewInt(0)
	if target > g.CurrentEpoch {
		target = g.CurrentEpoch
	}
	if pos.CheckpointEpoch >= target {
		return accrued, nil
	}
	if pos.PrincipalAssets.Sign() == 0 {
		pos.CheckpointEpoch = target
		return accrued, nil
	}
	for epoch := pos.CheckpointEpoch; epoch < target; epoch++ {
		rec, err := e.state.EpochGet(epoch)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.TotalPrincipal == nil || rec.TotalPrincipal.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(pos.PrincipalAssets, rec.TokensBought)
		share.Quo(share, rec.TotalPrincipal)
		if share.Sign() > 0 {
			pos.SettledTokens = new(big.Int).Add(pos.SettledTokens, share)
			accrued.Add(accrued, share)
		}
		// The executor redeemed pool shares for this epoch's conversion;
		// reduce this position's share backing by its proportional part,
		// rounding up so custody never underflows. PrincipalAssets stays
		// untouched: principal is never spent, only its backing reprices.
		if rec.SharesRedeemed != nil && rec.SharesRedeemed.Sign() > 0 {
			cut := new(big.Int).Mul(rec.SharesRedeemed, pos.PrincipalAssets)
			cut = ceilDiv(cut, rec.TotalPrincipal)
			if cut.Cmp(pos.PrincipalShares) > 0 {
				cut = new(big.Int).Set(pos.PrincipalShares)
			}
			pos.PrincipalShares = new(big.Int).Sub(pos.PrincipalShares, cut)
		}
		if err := e.recordTally(g, rec, pos.PrincipalAssets, share); err != nil {
			return nil, err
		}
	}
	pos.CheckpointEpoch = target
	return accrued, nil
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// recordTally advances the epoch's settlement tally and, when the epoch is
// fully settled, releases its rounding remainder to the pending pool.
func (e *Engine) recordTally(g *GlobalState, rec *EpochRecord, principal, share *big.Int) error {
	tally, err := e.state.TallyGet(rec.Epoch)
	if err != nil {
		return err
	}
	if tally == nil {
		tally = &EpochTally{Epoch: rec.Epoch}
	}
	if tally.PrincipalSettled == nil {
		tally.PrincipalSettled = big.NewInt(0)
	}
	if tally.TokensAttributed == nil {
		tally.TokensAttributed = big.NewInt(0)
	}
	if tally.Closed {
		return nil
	}
	tally.PrincipalSettled = new(big.Int).Add(tally.PrincipalSettled, principal)
	tally.TokensAttributed = new(big.Int).Add(tally.TokensAttributed, share)
	if tally.PrincipalSettled.Cmp(rec.TotalPrincipal) >= 0 {
		remainder := new(big.Int).Sub(rec.TokensBought, tally.TokensAttributed)
		if remainder.Sign() > 0 {
			g.PendingAllocation = new(big.Int).Add(g.PendingAllocation, remainder)
		}
		tally.Closed = true
	}
	return e.state.TallyPut(tally)
}

// drainPending credits the acting position with its pro-rata slice of the
// pending allocation pool, weighted by its share of current total principal.
// This is how rounding dust and under-distribution from loss epochs flow
// back to whichever principals remain in the system.
func (e *Engine) drainPending(g *GlobalState, pos *Position) *big.Int {
	if g.PendingAllocation.Sign() <= 0 || g.TotalPrincipal.Sign() <= 0 || pos.PrincipalAssets.Sign() <= 0 {
		return big.NewInt(0)
	}
	slice := new(big.Int).Mul(g.PendingAllocation, pos.PrincipalAssets)
	slice.Quo(slice, g.TotalPrincipal)
	if slice.Sign() <= 0 {
		return big.NewInt(0)
	}
	g.PendingAllocation = new(big.Int).Sub(g.PendingAllocation, slice)
	pos.SettledTokens = new(big.Int).Add(pos.SettledTokens, slice)
	return slice
}

// Settle flushes the owner's pending entitlement through the current epoch
// and returns the newly accrued target token amount. Settling twice without
// an epoch advance accrues nothing the second time.
func (e *Engine) Settle(owner [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	return e.settleOwner(g, owner, g.CurrentEpoch)
}

// SettleTo flushes the owner's entitlement through the given epoch at most.
// It exists to bound per-call replay work for positions with very long
// checkpoint gaps; repeated calls converge on the current epoch.
func (e *Engine) SettleTo(owner [20]byte, epoch uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	return e.settleOwner(g, owner, epoch)
}

func (e *Engine) settleOwner(g *GlobalState, owner [20]byte, target uint64) (*big.Int, error) {
	pos, err := e.state.PositionGet(owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
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
	accrued, err := e.settleTo(g, pos, target)
	if err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(pos); err != nil {
		return nil, err
	}
	if err := e.state.GlobalPut(g); err != nil {
		return nil, err
	}
	return accrued, nil
}

// PreviewSettle computes the owner's unsettled entitlement through the
// current epoch without mutating any state. The pending pool slice is not
// included; it materialises only on a deposit or withdrawal.
func (e *Engine) PreviewSettle(owner [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	g, err := e.ensureGlobal()
	if err != nil {
		return nil, err
	}
	pos, err := e.state.PositionGet(owner)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	accrued := big.NewInt(0)
	if pos.PrincipalAssets == nil || pos.PrincipalAssets.Sign() == 0 {
		return accrued, nil
	}
	for epoch := pos.CheckpointEpoch; epoch < g.CurrentEpoch; epoch++ {
		rec, err := e.state.EpochGet(epoch)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.TotalPrincipal == nil || rec.TotalPrincipal.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(pos.PrincipalAssets, rec.TokensBought)
		share.Quo(share, rec.TotalPrincipal)
		accrued.Add(accrued, share)
	}
	return accrued, nil
}
