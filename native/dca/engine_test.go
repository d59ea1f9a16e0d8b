package dca

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "vaultdca/native/common"
	"vaultdca/swap"
	"vaultdca/vault"
)

type mockState struct {
	global    *GlobalState
	positions map[[20]byte]*Position
	epochs    map[uint64]*EpochRecord
	tallies   map[uint64]*EpochTally
}

func newMockState() *mockState {
	return &mockState{
		positions: make(map[[20]byte]*Position),
		epochs:    make(map[uint64]*EpochRecord),
		tallies:   make(map[uint64]*EpochTally),
	}
}

func (m *mockState) GlobalGet() (*GlobalState, error)  { return m.global.Clone(), nil }
func (m *mockState) GlobalPut(g *GlobalState) error    { m.global = g.Clone(); return nil }
func (m *mockState) PositionPut(p *Position) error     { m.positions[p.Owner] = p.Clone(); return nil }
func (m *mockState) PositionDelete(a [20]byte) error   { delete(m.positions, a); return nil }
func (m *mockState) EpochPut(r *EpochRecord) error     { m.epochs[r.Epoch] = r.Clone(); return nil }
func (m *mockState) TallyPut(t *EpochTally) error      { m.tallies[t.Epoch] = t.Clone(); return nil }

func (m *mockState) PositionGet(addr [20]byte) (*Position, error) {
	return m.positions[addr].Clone(), nil
}

func (m *mockState) EpochGet(epoch uint64) (*EpochRecord, error) {
	return m.epochs[epoch].Clone(), nil
}

func (m *mockState) TallyGet(epoch uint64) (*EpochTally, error) {
	return m.tallies[epoch].Clone(), nil
}

type testClock struct {
	now int64
}

func (c *testClock) advance(seconds int64) { c.now += seconds }

func addr(suffix byte) [20]byte {
	var out [20]byte
	out[len(out)-1] = suffix
	return out
}

var (
	custodyAddr = addr(0xEE)
	oneEther    = big.NewInt(1_000_000_000_000_000_000)
	rateThree   = big.NewInt(3_000_000_000_000_000_000)
)

type harness struct {
	engine *Engine
	state  *mockState
	vault  *vault.SimVault
	conv   *swap.FixedRateConverter
	clock  *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v := vault.NewSimVault(nil)
	conv := swap.NewFixedRateConverter(DefaultAssetToken, DefaultTargetToken, rateThree)
	state := newMockState()
	clock := &testClock{now: 1_700_000_000}
	engine := NewEngine(custodyAddr, v, conv)
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return clock.now })
	return &harness{engine: engine, state: state, vault: v, conv: conv, clock: clock}
}

// deposit funds the owner in the sim vault, hands custody of the minted
// shares to the engine and records the position.
func (h *harness) deposit(t *testing.T, owner [20]byte, assets *big.Int) *big.Int {
	t.Helper()
	shares, err := h.vault.Deposit(owner, assets)
	if err != nil {
		t.Fatalf("vault deposit: %v", err)
	}
	if err := h.vault.Transfer(owner, custodyAddr, shares); err != nil {
		t.Fatalf("transfer custody: %v", err)
	}
	if _, err := h.engine.Deposit(owner, shares); err != nil {
		t.Fatalf("engine deposit: %v", err)
	}
	return shares
}

func (h *harness) execute(t *testing.T) *EpochRecord {
	t.Helper()
	h.clock.advance(DefaultEpochInterval + 1)
	rec, err := h.engine.ExecuteDCA(addr(0x01), nil, nil)
	if err != nil {
		t.Fatalf("execute dca: %v", err)
	}
	return rec
}

// approxEqual fails unless got is within relative tolerance 1e-5 of want.
func approxEqual(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	diff := new(big.Int).Sub(got, want)
	diff.Abs(diff)
	bound := new(big.Int).Abs(want)
	bound.Quo(bound, big.NewInt(100_000))
	if bound.Sign() == 0 {
		bound = big.NewInt(1)
	}
	if diff.Cmp(bound) > 0 {
		t.Fatalf("%s: got %s want %s (diff %s beyond tolerance %s)", label, got, want, diff, bound)
	}
}

// checkConservation asserts the token ledger identity: engine token balance
// equals outstanding settled balances plus the pending pool plus every
// not-yet-attributed epoch portion.
func checkConservation(t *testing.T, m *mockState) {
	t.Helper()
	if m.global == nil {
		return
	}
	total := new(big.Int).Set(m.global.PendingAllocation)
	for _, pos := range m.positions {
		total.Add(total, pos.SettledTokens)
	}
	for epoch, rec := range m.epochs {
		tally := m.tallies[epoch]
		if tally != nil && tally.Closed {
			continue
		}
		unattributed := new(big.Int).Set(rec.TokensBought)
		if tally != nil {
			unattributed.Sub(unattributed, tally.TokensAttributed)
		}
		total.Add(total, unattributed)
	}
	if total.Cmp(m.global.TokenBalance) != 0 {
		t.Fatalf("conservation broken: accounted %s, token balance %s", total, m.global.TokenBalance)
	}
}

func TestSingleDepositorFiftyPercentYield(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)

	h.deposit(t, alice, oneEther)
	if err := h.vault.SetSharePriceWad(big.NewInt(1_500_000_000_000_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}

	rec := h.execute(t)
	if rec.Epoch != 1 {
		t.Fatalf("unexpected epoch id: %d", rec.Epoch)
	}
	if rec.TotalPrincipal.Cmp(oneEther) != 0 {
		t.Fatalf("principal snapshot: got %s", rec.TotalPrincipal)
	}
	approxEqual(t, "yield", rec.YieldConverted, big.NewInt(500_000_000_000_000_000))
	approxEqual(t, "tokens bought", rec.TokensBought, big.NewInt(1_500_000_000_000_000_000))
	checkConservation(t, h.state)

	assetsOut, tokensPaid, err := h.engine.WithdrawAll(alice)
	if err != nil {
		t.Fatalf("withdraw all: %v", err)
	}
	if assetsOut.Cmp(oneEther) != 0 {
		t.Fatalf("principal returned: got %s want %s", assetsOut, oneEther)
	}
	approxEqual(t, "tokens paid", tokensPaid, big.NewInt(1_500_000_000_000_000_000))

	if _, err := h.engine.PositionOf(alice); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected deleted position, got %v", err)
	}
	g, err := h.engine.Global()
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if g.TotalPrincipal.Sign() != 0 || g.TokenBalance.Sign() != 0 || g.PendingAllocation.Sign() != 0 {
		t.Fatalf("ledger not drained: principal=%s tokens=%s pending=%s", g.TotalPrincipal, g.TokenBalance, g.PendingAllocation)
	}
	checkConservation(t, h.state)
}

func TestExecutePreconditionsAreDistinct(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)

	// Interval gate fires before anything else.
	if _, err := h.engine.ExecuteDCA(addr(0x01), nil, nil); !errors.Is(err, ErrIntervalNotElapsed) {
		t.Fatalf("expected interval error, got %v", err)
	}

	h.clock.advance(DefaultEpochInterval + 1)
	if _, err := h.engine.ExecuteDCA(addr(0x01), nil, nil); !errors.Is(err, ErrNoPrincipal) {
		t.Fatalf("expected no-principal error, got %v", err)
	}

	h.deposit(t, alice, oneEther)
	if _, err := h.engine.ExecuteDCA(addr(0x01), nil, nil); !errors.Is(err, ErrNoYield) {
		t.Fatalf("expected no-yield error on flat price, got %v", err)
	}

	// Aggregate loss is still no-yield, not a distinct failure.
	if err := h.vault.SetSharePriceWad(big.NewInt(800_000_000_000_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if _, err := h.engine.ExecuteDCA(addr(0x01), nil, nil); !errors.Is(err, ErrNoYield) {
		t.Fatalf("expected no-yield error on loss, got %v", err)
	}

	// Slippage guard: demand more than the fixed rate can produce.
	if err := h.vault.SetSharePriceWad(big.NewInt(1_500_000_000_000_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	tooMuch := new(big.Int).Mul(oneEther, big.NewInt(10))
	if _, err := h.engine.ExecuteDCA(addr(0x01), tooMuch, nil); !errors.Is(err, swap.ErrAmountTooLow) {
		t.Fatalf("expected slippage error, got %v", err)
	}

	// The failed attempts must not have advanced the epoch.
	g, err := h.engine.Global()
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if g.CurrentEpoch != 1 {
		t.Fatalf("epoch advanced by failed execution: %d", g.CurrentEpoch)
	}
}

// dishonestConverter reports success but under-delivers; the engine must
// enforce the minimum itself.
type dishonestConverter struct{}

func (dishonestConverter) Execute(_, _ string, amountIn, _ *big.Int, _ []byte) (*big.Int, error) {
	return big.NewInt(1), nil
}

func TestEngineEnforcesMinimumIndependently(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	h.deposit(t, alice, oneEther)
	if err := h.vault.SetSharePriceWad(big.NewInt(1_500_000_000_000_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := h.engine.UpdateConverter(addr(0x00), dishonestConverter{}); err != nil {
		t.Fatalf("update converter: %v", err)
	}
	h.clock.advance(DefaultEpochInterval + 1)
	if _, err := h.engine.ExecuteDCA(addr(0x01), oneEther, nil); !errors.Is(err, ErrAmountTooLow) {
		t.Fatalf("expected engine-level minimum check, got %v", err)
	}
}

func TestEpochsAreMonotonicAndAppendOnly(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	h.deposit(t, alice, oneEther)

	for i := 0; i < 3; i++ {
		if err := h.vault.AdjustSharePriceBps(500); err != nil {
			t.Fatalf("adjust price: %v", err)
		}
		rec := h.execute(t)
		if rec.Epoch != uint64(i+1) {
			t.Fatalf("expected epoch %d, got %d", i+1, rec.Epoch)
		}
	}

	g, err := h.engine.Global()
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if g.CurrentEpoch != 4 {
		t.Fatalf("current epoch: %d", g.CurrentEpoch)
	}
	if _, err := h.engine.EpochAt(2); err != nil {
		t.Fatalf("epoch lookup: %v", err)
	}
	if _, err := h.engine.EpochAt(4); !errors.Is(err, ErrEpochInFuture) {
		t.Fatalf("expected future-epoch error, got %v", err)
	}
}

func TestNoYieldBeforeEntry(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	bob := addr(0xB2)

	h.deposit(t, alice, oneEther)
	if err := h.vault.AdjustSharePriceBps(1000); err != nil {
		t.Fatalf("adjust price: %v", err)
	}
	h.execute(t)

	h.deposit(t, bob, oneEther)
	if pending, err := h.engine.PreviewSettle(bob); err != nil || pending.Sign() != 0 {
		t.Fatalf("fresh deposit must have nothing pending: %s %v", pending, err)
	}

	if err := h.vault.AdjustSharePriceBps(1000); err != nil {
		t.Fatalf("adjust price: %v", err)
	}
	rec2 := h.execute(t)

	accrued, err := h.engine.Settle(bob)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Bob's entitlement derives exclusively from the second record.
	pos, err := h.engine.PositionOf(bob)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	expected := new(big.Int).Mul(pos.PrincipalAssets, rec2.TokensBought)
	expected.Quo(expected, rec2.TotalPrincipal)
	if accrued.Cmp(expected) != 0 {
		t.Fatalf("bob accrued %s, expected %s from epoch 2 only", accrued, expected)
	}
	checkConservation(t, h.state)
}

func TestSettlementIsIdempotent(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	h.deposit(t, alice, oneEther)
	if err := h.vault.AdjustSharePriceBps(500); err != nil {
		t.Fatalf("adjust price: %v", err)
	}
	h.execute(t)

	first, err := h.engine.Settle(alice)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if first.Sign() <= 0 {
		t.Fatalf("expected positive accrual, got %s", first)
	}
	second, err := h.engine.Settle(alice)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.Sign() != 0 {
		t.Fatalf("second settle accrued %s without an epoch advance", second)
	}
}

func TestPartialWithdrawPaysFullAccrued(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	h.deposit(t, alice, new(big.Int).Mul(oneEther, big.NewInt(2)))
	if err := h.vault.AdjustSharePriceBps(500); err != nil {
		t.Fatalf("adjust price: %v", err)
	}
	rec := h.execute(t)

	pos, err := h.engine.PositionOf(alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	// Withdraw roughly half the share backing; PrincipalShares still holds
	// the pre-settlement figure, so halve it conservatively.
	half := new(big.Int).Quo(pos.PrincipalShares, big.NewInt(4))
	_, tokensPaid, err := h.engine.Withdraw(alice, half)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	approxEqual(t, "partial withdraw pays full accrued", tokensPaid, rec.TokensBought)

	pos, err = h.engine.PositionOf(alice)
	if err != nil {
		t.Fatalf("position after withdraw: %v", err)
	}
	if pos.SettledTokens.Sign() != 0 {
		t.Fatalf("settled balance must be flushed, got %s", pos.SettledTokens)
	}
	if pos.PrincipalAssets.Sign() <= 0 {
		t.Fatalf("principal must remain after partial withdraw")
	}
	checkConservation(t, h.state)
}

func TestZeroShareWithdrawIsClaimOnly(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	h.deposit(t, alice, oneEther)
	if err := h.vault.AdjustSharePriceBps(500); err != nil {
		t.Fatalf("adjust price: %v", err)
	}
	rec := h.execute(t)

	before, err := h.engine.PositionOf(alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	assetsOut, tokensPaid, err := h.engine.Withdraw(alice, big.NewInt(0))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if assetsOut.Sign() != 0 {
		t.Fatalf("claim must not move principal, got %s", assetsOut)
	}
	approxEqual(t, "claimed tokens", tokensPaid, rec.TokensBought)

	after, err := h.engine.PositionOf(alice)
	if err != nil {
		t.Fatalf("position after claim: %v", err)
	}
	if after.PrincipalAssets.Cmp(before.PrincipalAssets) != 0 {
		t.Fatalf("principal changed on claim: %s -> %s", before.PrincipalAssets, after.PrincipalAssets)
	}
}

func TestWithdrawGuards(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)

	if _, _, err := h.engine.Withdraw(alice, big.NewInt(1)); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected position-not-found, got %v", err)
	}

	shares := h.deposit(t, alice, oneEther)
	tooMany := new(big.Int).Add(shares, big.NewInt(1))
	if _, _, err := h.engine.Withdraw(alice, tooMany); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected insufficient-shares, got %v", err)
	}
	if _, _, err := h.engine.Withdraw(alice, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestKeeperAndAdminRoles(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	keeper := addr(0xC0)
	admin := addr(0xAD)
	roles := nativecommon.NewRoleSet()
	roles.Grant(nativecommon.RoleKeeper, keeper)
	roles.Grant(nativecommon.RoleAdmin, admin)
	h.engine.SetRoles(roles)

	h.deposit(t, alice, oneEther)
	if err := h.vault.AdjustSharePriceBps(500); err != nil {
		t.Fatalf("adjust price: %v", err)
	}
	h.clock.advance(DefaultEpochInterval + 1)

	if _, err := h.engine.ExecuteDCA(alice, nil, nil); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized keeper call, got %v", err)
	}
	if _, err := h.engine.ExecuteDCA(keeper, nil, nil); err != nil {
		t.Fatalf("keeper execution failed: %v", err)
	}

	if err := h.engine.UpdateEpochInterval(alice, MinEpochInterval); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized admin call, got %v", err)
	}
	if err := h.engine.UpdateEpochInterval(admin, MinEpochInterval-1); !errors.Is(err, ErrIntervalOutOfBounds) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	if err := h.engine.UpdateEpochInterval(admin, MinEpochInterval); err != nil {
		t.Fatalf("admin interval update failed: %v", err)
	}
	g, err := h.engine.Global()
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if g.EpochInterval != MinEpochInterval {
		t.Fatalf("interval not applied: %d", g.EpochInterval)
	}
}

type pausedView struct{}

func (pausedView) IsPaused(module string) bool { return module == moduleName }

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newHarness(t)
	h.engine.SetPauses(pausedView{})
	if _, err := h.engine.Deposit(addr(0xA1), oneEther); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected pause guard, got %v", err)
	}
}
