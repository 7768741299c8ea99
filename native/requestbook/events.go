package requestbook

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"comclear/core/types"
)

const (
	// EventTypeRequestCreated fires when a new request enters the book.
	EventTypeRequestCreated = "request.created"
	// EventTypeRequestAccepted fires when a responder escrows collateral
	// against an open request.
	EventTypeRequestAccepted = "request.accepted"
	// EventTypeRequestSelected fires when the creator matches an acceptor
	// and the request materializes into a swap.
	EventTypeRequestSelected = "request.selected"
	// EventTypeRefundWithdrawn fires when a pull-refund balance is paid.
	EventTypeRefundWithdrawn = "request.refundWithdrawn"
)

func addrString(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewRequestCreatedEvent reports a freshly opened request.
func NewRequestCreatedEvent(r *SwapRequest) *types.Event {
	return &types.Event{
		Type: EventTypeRequestCreated,
		Attributes: map[string]string{
			"requestId":          fmt.Sprintf("%d", r.ID),
			"creator":            addrString(r.Creator),
			"commodity":          r.Commodity,
			"quantity":           amountString(r.Quantity),
			"referencePrice":     amountString(r.ReferencePrice),
			"mode":               r.Mode.String(),
			"collateralPerParty": amountString(r.CollateralPerParty),
			"maturity":           fmt.Sprintf("%d", r.Maturity),
			"acceptDeadline":     fmt.Sprintf("%d", r.AcceptDeadline),
		},
	}
}

// NewRequestAcceptedEvent reports a responder joining the acceptance list.
func NewRequestAcceptedEvent(r *SwapRequest, responder [20]byte, reputation uint64) *types.Event {
	return &types.Event{
		Type: EventTypeRequestAccepted,
		Attributes: map[string]string{
			"requestId":  fmt.Sprintf("%d", r.ID),
			"responder":  addrString(responder),
			"reputation": fmt.Sprintf("%d", reputation),
		},
	}
}

// NewRequestSelectedEvent reports the creator's match and the resulting swap.
func NewRequestSelectedEvent(r *SwapRequest, acceptor [20]byte, swapID uint64) *types.Event {
	return &types.Event{
		Type: EventTypeRequestSelected,
		Attributes: map[string]string{
			"requestId": fmt.Sprintf("%d", r.ID),
			"creator":   addrString(r.Creator),
			"acceptor":  addrString(acceptor),
			"swapId":    fmt.Sprintf("%d", swapID),
		},
	}
}

// NewRefundWithdrawnEvent reports a paid-out pull refund.
func NewRefundWithdrawnEvent(addr [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRefundWithdrawn,
		Attributes: map[string]string{
			"principal": addrString(addr),
			"amount":    amountString(amount),
		},
	}
}
