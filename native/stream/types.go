package stream

import (
	"math/big"

	"github.com/google/uuid"
)

// Stream is a linear rate-per-second vesting schedule over vault shares.
// There is no epoch replay here: entitlement is a pure function of time.
type Stream struct {
	ID            uuid.UUID
	Sender        [20]byte
	Recipient     [20]byte
	TotalShares   *big.Int
	ClaimedShares *big.Int
	StartTime     int64
	EndTime       int64
	CancelledAt   int64
}

// Clone returns a deep copy of the stream.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	out := *s
	out.TotalShares = copyBigInt(s.TotalShares)
	out.ClaimedShares = copyBigInt(s.ClaimedShares)
	return &out
}

// VestedAt returns the share amount vested at the given timestamp. A
// cancelled stream vests nothing past its cancellation point.
func (s *Stream) VestedAt(now int64) *big.Int {
	if s == nil || s.TotalShares == nil || s.TotalShares.Sign() <= 0 {
		return big.NewInt(0)
	}
	effective := now
	if s.CancelledAt > 0 && s.CancelledAt < effective {
		effective = s.CancelledAt
	}
	if effective <= s.StartTime {
		return big.NewInt(0)
	}
	if effective >= s.EndTime {
		return new(big.Int).Set(s.TotalShares)
	}
	elapsed := big.NewInt(effective - s.StartTime)
	window := big.NewInt(s.EndTime - s.StartTime)
	vested := new(big.Int).Mul(s.TotalShares, elapsed)
	return vested.Quo(vested, window)
}

// ClaimableAt returns the vested-but-unclaimed share amount at now.
func (s *Stream) ClaimableAt(now int64) *big.Int {
	vested := s.VestedAt(now)
	if s.ClaimedShares != nil {
		vested.Sub(vested, s.ClaimedShares)
	}
	if vested.Sign() < 0 {
		return big.NewInt(0)
	}
	return vested
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
