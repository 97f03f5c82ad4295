package escrow

import (
	"encoding/hex"
	"strconv"

	"swapvault/core/types"
)

const (
	EventTypeOpened    = "escrow.opened"
	EventTypeFulfilled = "escrow.fulfilled"
	EventTypeCancelled = "escrow.cancelled"
)

// NewOpenedEvent returns the canonical event payload for a newly opened
// escrow, including the amount locked into custody.
func NewOpenedEvent(record [32]byte, e *Escrow, locked uint64) *types.Event {
	attrs := baseAttributes(record, e)
	attrs["locked"] = strconv.FormatUint(locked, 10)
	return &types.Event{Type: EventTypeOpened, Attributes: attrs}
}

// NewFulfilledEvent returns the canonical event payload emitted when a taker
// settles the trade.
func NewFulfilledEvent(record [32]byte, e *Escrow, taker [32]byte, released uint64) *types.Event {
	attrs := baseAttributes(record, e)
	attrs["taker"] = hex.EncodeToString(taker[:])
	attrs["released"] = strconv.FormatUint(released, 10)
	return &types.Event{Type: EventTypeFulfilled, Attributes: attrs}
}

// NewCancelledEvent returns the canonical event payload emitted when the
// maker reclaims the custody balance.
func NewCancelledEvent(record [32]byte, e *Escrow, released uint64) *types.Event {
	attrs := baseAttributes(record, e)
	attrs["released"] = strconv.FormatUint(released, 10)
	return &types.Event{Type: EventTypeCancelled, Attributes: attrs}
}

func baseAttributes(record [32]byte, e *Escrow) map[string]string {
	attrs := make(map[string]string)
	attrs["record"] = hex.EncodeToString(record[:])
	if e == nil {
		return attrs
	}
	attrs["nonce"] = strconv.FormatUint(e.Nonce, 10)
	attrs["maker"] = hex.EncodeToString(e.Maker[:])
	attrs["mintA"] = hex.EncodeToString(e.MintA[:])
	attrs["mintB"] = hex.EncodeToString(e.MintB[:])
	attrs["receive"] = strconv.FormatUint(e.Receive, 10)
	return attrs
}
