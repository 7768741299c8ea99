package reputation

import (
	"encoding/hex"
	"strconv"

	"comclear/core/types"
)

const (
	// EventTypeIncreased is emitted when a principal's score is rewarded.
	EventTypeIncreased = "reputation.increased"
	// EventTypeSlashed is emitted when a principal's score is penalised.
	EventTypeSlashed = "reputation.slashed"
)

// NewIncreasedEvent returns the canonical payload for a reputation reward.
func NewIncreasedEvent(addr [20]byte, old, new uint64) *types.Event {
	return newScoreEvent(EventTypeIncreased, addr, old, new)
}

// NewSlashedEvent returns the canonical payload for a reputation penalty.
func NewSlashedEvent(addr [20]byte, old, new uint64) *types.Event {
	return newScoreEvent(EventTypeSlashed, addr, old, new)
}

func newScoreEvent(eventType string, addr [20]byte, old, new uint64) *types.Event {
	attrs := map[string]string{
		"principal": hex.EncodeToString(addr[:]),
		"old":       strconv.FormatUint(old, 10),
		"new":       strconv.FormatUint(new, 10),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
