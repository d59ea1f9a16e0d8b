package yieldstream

import (
	"encoding/hex"
	"math/big"

	"vaultdca/core/types"
)

const (
	EventTypeOpened  = "yieldstream.opened"
	EventTypeClaimed = "yieldstream.claimed"
	EventTypeClosed  = "yieldstream.closed"
)

type yieldStreamEvent struct {
	evt *types.Event
}

func (e yieldStreamEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e yieldStreamEvent) Event() *types.Event { return e.evt }

// NewYieldStreamOpenedEvent returns the canonical payload for an open or
// top-up, carrying the increment rather than the running totals.
func NewYieldStreamOpenedEvent(s *YieldStream, shares, assets *big.Int) *types.Event {
	attrs := map[string]string{
		"shares": formatAmount(shares),
		"assets": formatAmount(assets),
	}
	if s != nil {
		attrs["streamer"] = hex.EncodeToString(s.Streamer[:])
		attrs["receiver"] = hex.EncodeToString(s.Receiver[:])
	}
	return &types.Event{Type: EventTypeOpened, Attributes: attrs}
}

// NewYieldClaimedEvent returns the canonical payload for a yield claim.
func NewYieldClaimedEvent(s *YieldStream, shares *big.Int) *types.Event {
	attrs := map[string]string{"shares": formatAmount(shares)}
	if s != nil {
		attrs["streamer"] = hex.EncodeToString(s.Streamer[:])
		attrs["receiver"] = hex.EncodeToString(s.Receiver[:])
	}
	return &types.Event{Type: EventTypeClaimed, Attributes: attrs}
}

// NewYieldStreamClosedEvent returns the canonical payload for a close.
func NewYieldStreamClosedEvent(s *YieldStream, toStreamer, toReceiver *big.Int) *types.Event {
	attrs := map[string]string{
		"sharesToStreamer": formatAmount(toStreamer),
		"sharesToReceiver": formatAmount(toReceiver),
	}
	if s != nil {
		attrs["streamer"] = hex.EncodeToString(s.Streamer[:])
		attrs["receiver"] = hex.EncodeToString(s.Receiver[:])
	}
	return &types.Event{Type: EventTypeClosed, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
