package dca

import (
	"errors"
	"math/big"
	"testing"
)

func TestTwoHundredEpochAccumulation(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	h.deposit(t, alice, oneEther)

	for i := 0; i < 200; i++ {
		if err := h.vault.AdjustSharePriceBps(500); err != nil {
			t.Fatalf("adjust price: %v", err)
		}
		h.execute(t)
	}

	accrued, err := h.engine.Settle(alice)
	if err != nil {
		t.Fatalf("settle after 200 epochs: %v", err)
	}
	// 200 epochs x 5% yield x 3:1 rate on 1 ether of principal.
	expected := new(big.Int).Mul(oneEther, big.NewInt(30))
	approxEqual(t, "accumulated tokens", accrued, expected)

	pos, err := h.engine.PositionOf(alice)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.PrincipalAssets.Cmp(oneEther) != 0 {
		t.Fatalf("principal drifted: %s", pos.PrincipalAssets)
	}
	if pos.CheckpointEpoch != 201 {
		t.Fatalf("checkpoint: %d", pos.CheckpointEpoch)
	}
	checkConservation(t, h.state)

	// The share backing should still be worth roughly the principal: every
	// epoch stripped only the appreciation.
	backing := h.vault.ConvertToAssets(pos.PrincipalShares)
	approxEqual(t, "principal backing", backing, oneEther)
}

func TestChunkedSettlementMatchesFullReplay(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	h.deposit(t, alice, oneEther)

	for i := 0; i < 40; i++ {
		if err := h.vault.AdjustSharePriceBps(500); err != nil {
			t.Fatalf("adjust price: %v", err)
		}
		h.execute(t)
	}

	total := big.NewInt(0)
	for _, target := range []uint64{11, 21, 31, 41} {
		accrued, err := h.engine.SettleTo(alice, target)
		if err != nil {
			t.Fatalf("settle to %d: %v", target, err)
		}
		total.Add(total, accrued)
		pos, err := h.engine.PositionOf(alice)
		if err != nil {
			t.Fatalf("position: %v", err)
		}
		if pos.CheckpointEpoch != target {
			t.Fatalf("checkpoint after chunk: got %d want %d", pos.CheckpointEpoch, target)
		}
	}

	expected := new(big.Int).Mul(oneEther, big.NewInt(6))
	approxEqual(t, "chunked accrual", total, expected)

	// Nothing further to settle.
	rest, err := h.engine.Settle(alice)
	if err != nil {
		t.Fatalf("final settle: %v", err)
	}
	if rest.Sign() != 0 {
		t.Fatalf("chunked settlement left residue: %s", rest)
	}
}

func TestNegativeYieldCrossSubsidization(t *testing.T) {
	h := newHarness(t)
	alice := addr(0xA1)
	bob := addr(0xB2)

	// Alice enters at par, then the vault marks a 20% loss.
	h.deposit(t, alice, oneEther)
	if err := h.vault.SetSharePriceWad(big.NewInt(800_000_000_000_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	h.clock.advance(DefaultEpochInterval + 1)
	if _, err := h.engine.ExecuteDCA(addr(0x01), nil, nil); !errors.Is(err, ErrNoYield) {
		t.Fatalf("loss epoch must be no-yield, got %v", err)
	}

	// Bob enters at the depressed price, then the vault recovers 50%.
	h.deposit(t, bob, oneEther)
	if err := h.vault.SetSharePriceWad(big.NewInt(1_200_000_000_000_000_000)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	rec := h.execute(t)

	twoEther := new(big.Int).Mul(oneEther, big.NewInt(2))
	if rec.TotalPrincipal.Cmp(twoEther) != 0 {
		t.Fatalf("principal snapshot: %s", rec.TotalPrincipal)
	}
	// Aggregate yield 0.7 ether at 3:1; winners subsidize Alice's recovery.
	approxEqual(t, "tokens bought", rec.TokensBought, big.NewInt(2_100_000_000_000_000_000))
	checkConservation(t, h.state)

	assetsA, tokensA, err := h.engine.WithdrawAll(alice)
	if err != nil {
		t.Fatalf("alice withdraw: %v", err)
	}
	checkConservation(t, h.state)
	assetsB, tokensB, err := h.engine.WithdrawAll(bob)
	if err != nil {
		t.Fatalf("bob withdraw: %v", err)
	}
	checkConservation(t, h.state)

	if assetsA.Cmp(oneEther) != 0 || assetsB.Cmp(oneEther) != 0 {
		t.Fatalf("principal weights: alice %s bob %s", assetsA, assetsB)
	}
	// Equal principal weights received equal epoch shares.
	approxEqual(t, "uniform split", tokensA, tokensB)

	// Every bought token is distributed once both positions have exited:
	// the floor remainder travelled through the pending pool to the last
	// withdrawer.
	distributed := new(big.Int).Add(tokensA, tokensB)
	if distributed.Cmp(rec.TokensBought) != 0 {
		t.Fatalf("distributed %s of %s bought", distributed, rec.TokensBought)
	}
	g, err := h.engine.Global()
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if g.PendingAllocation.Sign() != 0 {
		t.Fatalf("pending allocation not drained: %s", g.PendingAllocation)
	}
	if g.TokenBalance.Sign() != 0 {
		t.Fatalf("token balance not drained: %s", g.TokenBalance)
	}
	if g.TotalPrincipal.Sign() != 0 {
		t.Fatalf("principal not drained: %s", g.TotalPrincipal)
	}
}

func TestConservationAcrossInterleavedActivity(t *testing.T) {
	h := newHarness(t)
	users := [][20]byte{addr(0xA1), addr(0xB2), addr(0xC3)}

	h.deposit(t, users[0], oneEther)
	if err := h.vault.AdjustSharePriceBps(700); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	h.execute(t)
	checkConservation(t, h.state)

	h.deposit(t, users[1], new(big.Int).Mul(oneEther, big.NewInt(3)))
	checkConservation(t, h.state)
	if err := h.vault.AdjustSharePriceBps(400); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	h.execute(t)
	checkConservation(t, h.state)

	if _, _, err := h.engine.Withdraw(users[0], big.NewInt(0)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	checkConservation(t, h.state)

	h.deposit(t, users[2], oneEther)
	if err := h.vault.AdjustSharePriceBps(900); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	h.execute(t)
	checkConservation(t, h.state)

	if _, err := h.engine.Settle(users[1]); err != nil {
		t.Fatalf("settle: %v", err)
	}
	checkConservation(t, h.state)

	for _, u := range users {
		if _, _, err := h.engine.WithdrawAll(u); err != nil {
			t.Fatalf("withdraw %x: %v", u, err)
		}
		checkConservation(t, h.state)
	}

	g, err := h.engine.Global()
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if g.TotalPrincipal.Sign() != 0 {
		t.Fatalf("principal residue: %s", g.TotalPrincipal)
	}
	// Token residue after full exit is bounded by rounding dust: at most one
	// unit per executed epoch.
	if g.TokenBalance.Cmp(big.NewInt(int64(g.CurrentEpoch))) > 0 {
		t.Fatalf("token residue beyond rounding dust: %s", g.TokenBalance)
	}
}
