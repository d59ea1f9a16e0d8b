package yieldstream

import "math/big"

// YieldStream routes the appreciation of an escrowed share position to a
// receiver while the streamer retains the principal. Claims strip shares
// worth exactly the excess of current value over recorded principal, so the
// position's asset value snaps back to principal after every claim.
type YieldStream struct {
	Streamer        [20]byte
	Receiver        [20]byte
	PrincipalShares *big.Int
	PrincipalAssets *big.Int
}

// Clone returns a deep copy of the stream.
func (s *YieldStream) Clone() *YieldStream {
	if s == nil {
		return nil
	}
	out := *s
	out.PrincipalShares = copyBigInt(s.PrincipalShares)
	out.PrincipalAssets = copyBigInt(s.PrincipalAssets)
	return &out
}

func (s *YieldStream) empty() bool {
	if s == nil {
		return true
	}
	return (s.PrincipalShares == nil || s.PrincipalShares.Sign() == 0) &&
		(s.PrincipalAssets == nil || s.PrincipalAssets.Sign() == 0)
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
