package swap

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"comclear/core/types"
)

const (
	EventTypeSwapCreated        = "swap.created"
	EventTypeCollateralToppedUp = "swap.collateralToppedUp"
	EventTypeSettlementExecuted = "swap.settlementExecuted"
	EventTypeDeficitCreated     = "swap.deficitCreated"
	EventTypeDeficitForgiven    = "swap.deficitForgiven"
	EventTypeSwapCompleted      = "swap.completed"
)

// NewSwapCreatedEvent returns the canonical payload for a materialized swap.
func NewSwapCreatedEvent(s *Swap) *types.Event {
	attrs := baseAttrs(s)
	if s != nil {
		attrs["requestId"] = strconv.FormatUint(s.RequestID, 10)
		attrs["commodity"] = s.Commodity
		attrs["mode"] = s.Mode.String()
		attrs["collateralPerParty"] = bigString(s.CollateralPerParty)
		attrs["rounds"] = strconv.Itoa(len(s.SettlementTimes))
	}
	return &types.Event{Type: EventTypeSwapCreated, Attributes: attrs}
}

// NewCollateralToppedUpEvent returns the payload for a collateral top-up. The
// paid attribute is present when part of the top-up cleared a pending deficit.
func NewCollateralToppedUpEvent(s *Swap, payer [20]byte, amount, paid *big.Int) *types.Event {
	attrs := baseAttrs(s)
	attrs["principal"] = hex.EncodeToString(payer[:])
	attrs["amount"] = bigString(amount)
	if paid != nil && paid.Sign() > 0 {
		attrs["deficitPaid"] = bigString(paid)
	}
	return &types.Event{Type: EventTypeCollateralToppedUp, Attributes: attrs}
}

// NewSettlementExecutedEvent returns the payload for an executed round. The
// winner attribute is omitted for zero-difference rounds.
func NewSettlementExecutedEvent(s *Swap, round uint64, diff, paid *big.Int, winner [20]byte) *types.Event {
	attrs := baseAttrs(s)
	attrs["round"] = strconv.FormatUint(round, 10)
	attrs["priceDiff"] = bigString(diff)
	attrs["amountPaid"] = bigString(paid)
	if winner != ([20]byte{}) {
		attrs["winner"] = hex.EncodeToString(winner[:])
	}
	return &types.Event{Type: EventTypeSettlementExecuted, Attributes: attrs}
}

// NewDeficitCreatedEvent returns the payload for a freshly raised margin call.
func NewDeficitCreatedEvent(s *Swap, debtor [20]byte, deficit *Deficit) *types.Event {
	attrs := baseAttrs(s)
	attrs["principal"] = hex.EncodeToString(debtor[:])
	if deficit != nil {
		attrs["shortfall"] = bigString(deficit.Amount)
		attrs["deadline"] = strconv.FormatInt(deficit.Deadline, 10)
		attrs["kind"] = deficit.Kind.String()
	}
	return &types.Event{Type: EventTypeDeficitCreated, Attributes: attrs}
}

// NewDeficitForgivenEvent returns the payload emitted when an expired margin
// call is written off and the debtor penalised.
func NewDeficitForgivenEvent(s *Swap, debtor [20]byte, amount *big.Int, kind DeficitKind, penalty uint64) *types.Event {
	attrs := baseAttrs(s)
	attrs["principal"] = hex.EncodeToString(debtor[:])
	attrs["shortfall"] = bigString(amount)
	attrs["kind"] = kind.String()
	attrs["penalty"] = strconv.FormatUint(penalty, 10)
	return &types.Event{Type: EventTypeDeficitForgiven, Attributes: attrs}
}

// NewSwapCompletedEvent returns the payload for a finalized swap.
func NewSwapCompletedEvent(s *Swap, refundA, refundB *big.Int) *types.Event {
	attrs := baseAttrs(s)
	attrs["refundA"] = bigString(refundA)
	attrs["refundB"] = bigString(refundB)
	return &types.Event{Type: EventTypeSwapCompleted, Attributes: attrs}
}

func baseAttrs(s *Swap) map[string]string {
	attrs := make(map[string]string)
	if s == nil {
		return attrs
	}
	attrs["swapId"] = strconv.FormatUint(s.ID, 10)
	attrs["partyA"] = hex.EncodeToString(s.PartyA[:])
	attrs["partyB"] = hex.EncodeToString(s.PartyB[:])
	return attrs
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
