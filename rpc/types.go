package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"comclear/core/types"
	"comclear/native/requestbook"
	"comclear/native/swap"
)

// EventPayload is the wire form of an engine event.
type EventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func eventPayloads(evts []*types.Event) []EventPayload {
	if len(evts) == 0 {
		return nil
	}
	out := make([]EventPayload, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		out = append(out, EventPayload{Type: evt.Type, Attributes: evt.Attributes})
	}
	return out
}

// DeficitPayload is the wire form of a pending deficit.
type DeficitPayload struct {
	Amount   string `json:"amount"`
	Deadline int64  `json:"deadline"`
	Kind     string `json:"kind"`
}

// SwapPayload is the wire form of a swap record.
type SwapPayload struct {
	ID                 uint64          `json:"id"`
	RequestID          uint64          `json:"requestId"`
	PartyA             string          `json:"partyA"`
	PartyB             string          `json:"partyB"`
	Commodity          string          `json:"commodity"`
	Quantity           string          `json:"quantity"`
	ReferencePrice     string          `json:"referencePrice"`
	Mode               string          `json:"mode"`
	OracleHandle       string          `json:"oracleHandle,omitempty"`
	CollateralA        string          `json:"collateralA"`
	CollateralB        string          `json:"collateralB"`
	SettlementTimes    []int64         `json:"settlementTimes"`
	CurrentRound       uint64          `json:"currentRound"`
	Active             bool            `json:"active"`
	Finished           bool            `json:"finished"`
	DeficitA           *DeficitPayload `json:"deficitA,omitempty"`
	DeficitB           *DeficitPayload `json:"deficitB,omitempty"`
	CreatedAt          int64           `json:"createdAt"`
}

// AcceptancePayload is the wire form of a recorded acceptance.
type AcceptancePayload struct {
	Responder  string `json:"responder"`
	AcceptedAt int64  `json:"acceptedAt"`
	Reputation uint64 `json:"reputation"`
	Selected   bool   `json:"selected"`
	Refunded   bool   `json:"refunded"`
}

// RequestPayload is the wire form of a swap request.
type RequestPayload struct {
	ID                 uint64              `json:"id"`
	Creator            string              `json:"creator"`
	Commodity          string              `json:"commodity"`
	Quantity           string              `json:"quantity"`
	ReferencePrice     string              `json:"referencePrice"`
	Mode               string              `json:"mode"`
	OracleHandle       string              `json:"oracleHandle,omitempty"`
	CollateralPerParty string              `json:"collateralPerParty"`
	Maturity           int64               `json:"maturity"`
	AcceptDeadline     int64               `json:"acceptDeadline"`
	Active             bool                `json:"active"`
	Acceptances        []AcceptancePayload `json:"acceptances"`
	CreatedAt          int64               `json:"createdAt"`
}

// WriteOffPayload is the wire form of a forgiven deficit.
type WriteOffPayload struct {
	Debtor  string `json:"debtor"`
	Amount  string `json:"amount"`
	Kind    string `json:"kind"`
	Penalty uint64 `json:"penalty"`
}

// SettlementPayload is the wire form of a settlement round result.
type SettlementPayload struct {
	SwapID     uint64            `json:"swapId"`
	Round      uint64            `json:"round"`
	PriceDiff  string            `json:"priceDiff"`
	AmountPaid string            `json:"amountPaid"`
	Winner     string            `json:"winner,omitempty"`
	Debtor     string            `json:"debtor,omitempty"`
	NewDeficit *DeficitPayload   `json:"newDeficit,omitempty"`
	WriteOffs  []WriteOffPayload `json:"writeOffs,omitempty"`
	Finished   bool              `json:"finished"`
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address: %w", err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address: expected %d bytes, got %d", len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func deficitPayload(d *swap.Deficit) *DeficitPayload {
	if d == nil {
		return nil
	}
	return &DeficitPayload{
		Amount:   bigString(d.Amount),
		Deadline: d.Deadline,
		Kind:     d.Kind.String(),
	}
}

func swapPayload(s *swap.Swap) *SwapPayload {
	if s == nil {
		return nil
	}
	return &SwapPayload{
		ID:              s.ID,
		RequestID:       s.RequestID,
		PartyA:          formatAddress(s.PartyA),
		PartyB:          formatAddress(s.PartyB),
		Commodity:       s.Commodity,
		Quantity:        bigString(s.Quantity),
		ReferencePrice:  bigString(s.ReferencePrice),
		Mode:            s.Mode.String(),
		OracleHandle:    s.OracleHandle,
		CollateralA:     bigString(s.CollateralA),
		CollateralB:     bigString(s.CollateralB),
		SettlementTimes: append([]int64(nil), s.SettlementTimes...),
		CurrentRound:    s.CurrentRound,
		Active:          s.Active,
		Finished:        s.Finished,
		DeficitA:        deficitPayload(s.DeficitA),
		DeficitB:        deficitPayload(s.DeficitB),
		CreatedAt:       s.CreatedAt,
	}
}

func requestPayload(r *requestbook.SwapRequest) *RequestPayload {
	if r == nil {
		return nil
	}
	acceptances := make([]AcceptancePayload, 0, len(r.Acceptances))
	for _, acceptance := range r.Acceptances {
		acceptances = append(acceptances, AcceptancePayload{
			Responder:  formatAddress(acceptance.Responder),
			AcceptedAt: acceptance.AcceptedAt,
			Reputation: acceptance.Reputation,
			Selected:   acceptance.Selected,
			Refunded:   acceptance.Refunded,
		})
	}
	return &RequestPayload{
		ID:                 r.ID,
		Creator:            formatAddress(r.Creator),
		Commodity:          r.Commodity,
		Quantity:           bigString(r.Quantity),
		ReferencePrice:     bigString(r.ReferencePrice),
		Mode:               r.Mode.String(),
		OracleHandle:       r.OracleHandle,
		CollateralPerParty: bigString(r.CollateralPerParty),
		Maturity:           r.Maturity,
		AcceptDeadline:     r.AcceptDeadline,
		Active:             r.Active,
		Acceptances:        acceptances,
		CreatedAt:          r.CreatedAt,
	}
}

func settlementPayload(result *swap.SettlementResult) *SettlementPayload {
	if result == nil {
		return nil
	}
	payload := &SettlementPayload{
		SwapID:     result.SwapID,
		Round:      result.Round,
		PriceDiff:  bigString(result.PriceDiff),
		AmountPaid: bigString(result.AmountPaid),
		NewDeficit: deficitPayload(result.NewDeficit),
		Finished:   result.Finished,
	}
	if result.Winner != ([20]byte{}) {
		payload.Winner = formatAddress(result.Winner)
	}
	if result.Debtor != ([20]byte{}) {
		payload.Debtor = formatAddress(result.Debtor)
	}
	for _, wo := range result.WriteOffs {
		payload.WriteOffs = append(payload.WriteOffs, WriteOffPayload{
			Debtor:  formatAddress(wo.Debtor),
			Amount:  bigString(wo.Amount),
			Kind:    wo.Kind.String(),
			Penalty: wo.Penalty,
		})
	}
	return payload
}
