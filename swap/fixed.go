package swap

import (
	"math/big"
	"strings"
	"sync"
)

var wad = big.NewInt(1_000_000_000_000_000_000)

// FixedRateConverter swaps at a fixed wad-scaled rate (tokenOut units per
// tokenIn unit). It stands in for an external swap executor in tests and the
// reference daemon.
type FixedRateConverter struct {
	mu          sync.RWMutex
	tokenIn     string
	tokenOut    string
	rateWad     *big.Int
	lastRouting []byte
}

// NewFixedRateConverter builds a converter for a single pair. A nil or
// non-positive rate defaults to 1.0.
func NewFixedRateConverter(tokenIn, tokenOut string, rateWad *big.Int) *FixedRateConverter {
	rate := new(big.Int).Set(wad)
	if rateWad != nil && rateWad.Sign() > 0 {
		rate = new(big.Int).Set(rateWad)
	}
	return &FixedRateConverter{
		tokenIn:  strings.TrimSpace(tokenIn),
		tokenOut: strings.TrimSpace(tokenOut),
		rateWad:  rate,
	}
}

// SetRateWad replaces the conversion rate.
func (c *FixedRateConverter) SetRateWad(rateWad *big.Int) {
	if rateWad == nil || rateWad.Sign() <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateWad = new(big.Int).Set(rateWad)
}

// Execute implements Converter.
func (c *FixedRateConverter) Execute(tokenIn, tokenOut string, amountIn, minAmountOut *big.Int, routingData []byte) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.EqualFold(tokenIn, c.tokenIn) || !strings.EqualFold(tokenOut, c.tokenOut) {
		return nil, ErrUnknownPair
	}
	c.lastRouting = append([]byte(nil), routingData...)
	out := new(big.Int).Mul(amountIn, c.rateWad)
	out.Quo(out, wad)
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, ErrAmountTooLow
	}
	return out, nil
}

// LastRoutingData returns the routing payload from the most recent execution.
func (c *FixedRateConverter) LastRoutingData() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.lastRouting...)
}
