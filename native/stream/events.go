package stream

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"vaultdca/core/types"
)

const (
	EventTypeCreated   = "stream.created"
	EventTypeClaimed   = "stream.claimed"
	EventTypeCancelled = "stream.cancelled"
)

type streamEvent struct {
	evt *types.Event
}

func (e streamEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e streamEvent) Event() *types.Event { return e.evt }

// NewStreamCreatedEvent returns the canonical payload for a new stream.
func NewStreamCreatedEvent(s *Stream) *types.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["id"] = s.ID.String()
		attrs["sender"] = hex.EncodeToString(s.Sender[:])
		attrs["recipient"] = hex.EncodeToString(s.Recipient[:])
		attrs["shares"] = formatAmount(s.TotalShares)
		attrs["startTime"] = strconv.FormatInt(s.StartTime, 10)
		attrs["endTime"] = strconv.FormatInt(s.EndTime, 10)
	}
	return &types.Event{Type: EventTypeCreated, Attributes: attrs}
}

// NewStreamClaimedEvent returns the canonical payload for a claim.
func NewStreamClaimedEvent(s *Stream, amount *big.Int) *types.Event {
	attrs := map[string]string{"shares": formatAmount(amount)}
	if s != nil {
		attrs["id"] = s.ID.String()
		attrs["recipient"] = hex.EncodeToString(s.Recipient[:])
	}
	return &types.Event{Type: EventTypeClaimed, Attributes: attrs}
}

// NewStreamCancelledEvent returns the canonical payload for a cancellation.
// The amount is the unvested remainder returned to the sender.
func NewStreamCancelledEvent(s *Stream, unvested *big.Int) *types.Event {
	attrs := map[string]string{"unvestedShares": formatAmount(unvested)}
	if s != nil {
		attrs["id"] = s.ID.String()
		attrs["sender"] = hex.EncodeToString(s.Sender[:])
		attrs["cancelledAt"] = strconv.FormatInt(s.CancelledAt, 10)
	}
	return &types.Event{Type: EventTypeCancelled, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
