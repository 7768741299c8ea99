package registry

import (
	"encoding/hex"
	"math/big"

	"comclear/core/types"
)

// EventTypeRegistered is emitted when a principal completes registration.
const EventTypeRegistered = "registry.registered"

// NewRegisteredEvent returns the canonical payload for a registration.
func NewRegisteredEvent(addr [20]byte, fee *big.Int) *types.Event {
	attrs := map[string]string{
		"principal": hex.EncodeToString(addr[:]),
	}
	if fee != nil && fee.Sign() > 0 {
		attrs["fee"] = fee.String()
	}
	return &types.Event{Type: EventTypeRegistered, Attributes: attrs}
}
