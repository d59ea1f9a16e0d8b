package dca

import "fmt"

// Bounds for the keeper execution interval, in seconds. The interval gate is
// the only scheduling concept the engine has; anything tighter than an hour
// burns conversions on dust and anything beyond thirty days starves
// settlement granularity.
const (
	MinEpochInterval     = int64(60 * 60)
	MaxEpochInterval     = int64(30 * 24 * 60 * 60)
	DefaultEpochInterval = int64(14 * 24 * 60 * 60)
)

// Default token tickers used when the engine is not configured with an
// explicit pair.
const (
	DefaultAssetToken  = "ASSET"
	DefaultTargetToken = "TARGET"
)

// ValidateEpochInterval checks the configured interval against the allowed
// bounds.
func ValidateEpochInterval(seconds int64) error {
	if seconds < MinEpochInterval || seconds > MaxEpochInterval {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrIntervalOutOfBounds, seconds, MinEpochInterval, MaxEpochInterval)
	}
	return nil
}
