package swap

import (
	"errors"
	"math/big"
)

var (
	ErrInvalidAmount = errors.New("swap: amount must be positive")
	ErrAmountTooLow  = errors.New("swap: output below minimum")
	ErrUnknownPair   = errors.New("swap: unsupported token pair")
)

// Converter executes a swap of tokenIn for tokenOut. The routing payload is
// opaque and passed through unmodified; a failure must abort the caller's
// whole operation.
type Converter interface {
	Execute(tokenIn, tokenOut string, amountIn, minAmountOut *big.Int, routingData []byte) (*big.Int, error)
}
