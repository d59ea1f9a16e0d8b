package dca

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"vaultdca/core/types"
)

const (
	EventTypeDeposit       = "dca.deposit"
	EventTypeWithdrawal    = "dca.withdrawal"
	EventTypeEpochExecuted = "dca.epoch_executed"
)

type dcaEvent struct {
	evt *types.Event
}

func (e dcaEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e dcaEvent) Event() *types.Event { return e.evt }

// NewDepositEvent returns the canonical payload for a principal deposit.
func NewDepositEvent(owner [20]byte, epoch uint64, shares, assets *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposit,
		Attributes: map[string]string{
			"owner":  hex.EncodeToString(owner[:]),
			"epoch":  strconv.FormatUint(epoch, 10),
			"shares": formatAmount(shares),
			"assets": formatAmount(assets),
		},
	}
}

// NewWithdrawalEvent returns the canonical payload for a withdrawal or a
// zero-share claim.
func NewWithdrawalEvent(owner [20]byte, epoch uint64, shares, assets, tokensPaid *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawal,
		Attributes: map[string]string{
			"owner":      hex.EncodeToString(owner[:]),
			"epoch":      strconv.FormatUint(epoch, 10),
			"shares":     formatAmount(shares),
			"assets":     formatAmount(assets),
			"tokensPaid": formatAmount(tokensPaid),
		},
	}
}

// NewEpochExecutedEvent returns the canonical payload for an epoch
// execution; together with the deposit and withdrawal events it is enough to
// reconstruct the epoch store off-process.
func NewEpochExecutedEvent(rec *EpochRecord) *types.Event {
	attrs := make(map[string]string)
	if rec != nil {
		attrs["epoch"] = strconv.FormatUint(rec.Epoch, 10)
		attrs["totalPrincipal"] = formatAmount(rec.TotalPrincipal)
		attrs["yieldConverted"] = formatAmount(rec.YieldConverted)
		attrs["sharesRedeemed"] = formatAmount(rec.SharesRedeemed)
		attrs["tokensBought"] = formatAmount(rec.TokensBought)
		attrs["conversionRateWad"] = formatAmount(rec.ConversionRateWad)
		attrs["sharePriceWad"] = formatAmount(rec.SharePriceWad)
		attrs["executedAt"] = strconv.FormatInt(rec.ExecutedAt, 10)
	}
	return &types.Event{Type: EventTypeEpochExecuted, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
