package requestbook

import (
	"fmt"
	"math/big"

	"comclear/native/swap"
)

// Acceptance records one responder's offer to take the other side of a swap
// request. Non-selected acceptances are refunded exactly once when the creator
// picks a counterparty.
type Acceptance struct {
	Responder  [20]byte
	AcceptedAt int64
	Reputation uint64
	Selected   bool
	Refunded   bool
}

// SwapRequest is an open offer to enter a fixed-price commodity swap. The
// creator's collateral is escrowed at creation time and each acceptor's at
// acceptance time, so selection only moves balances between ledgers.
type SwapRequest struct {
	ID                 uint64
	Creator            [20]byte
	Commodity          string
	Quantity           *big.Int
	ReferencePrice     *big.Int
	Mode               swap.PricingMode
	OracleHandle       string
	CollateralPerParty *big.Int
	Maturity           int64
	AcceptDeadline     int64
	Active             bool
	CreatedAt          int64
	Acceptances        []Acceptance
}

// Clone returns a deep copy of the request.
func (r *SwapRequest) Clone() *SwapRequest {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Quantity = cloneBigInt(r.Quantity)
	clone.ReferencePrice = cloneBigInt(r.ReferencePrice)
	clone.CollateralPerParty = cloneBigInt(r.CollateralPerParty)
	clone.Acceptances = append([]Acceptance(nil), r.Acceptances...)
	return &clone
}

// AcceptanceFor returns the index of the responder's acceptance, or -1.
func (r *SwapRequest) AcceptanceFor(responder [20]byte) int {
	if r == nil {
		return -1
	}
	for i := range r.Acceptances {
		if r.Acceptances[i].Responder == responder {
			return i
		}
	}
	return -1
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// SanitizeRequest validates and normalises a request record, returning a
// cloned instance. The original is not mutated.
func SanitizeRequest(r *SwapRequest) (*SwapRequest, error) {
	if r == nil {
		return nil, fmt.Errorf("requestbook: nil request")
	}
	clone := r.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("requestbook: id required")
	}
	if clone.Creator == ([20]byte{}) {
		return nil, fmt.Errorf("requestbook: creator required")
	}
	if clone.Commodity == "" {
		return nil, fmt.Errorf("requestbook: commodity required")
	}
	if !clone.Mode.Valid() {
		return nil, fmt.Errorf("requestbook: invalid pricing mode %d", clone.Mode)
	}
	if clone.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("requestbook: quantity must be positive")
	}
	if clone.ReferencePrice.Sign() <= 0 {
		return nil, fmt.Errorf("requestbook: reference price must be positive")
	}
	if clone.CollateralPerParty.Sign() <= 0 {
		return nil, fmt.Errorf("requestbook: collateral must be positive")
	}
	if clone.AcceptDeadline <= 0 || clone.Maturity <= 0 {
		return nil, fmt.Errorf("requestbook: deadlines required")
	}
	if clone.AcceptDeadline > clone.Maturity {
		return nil, fmt.Errorf("requestbook: accept deadline past maturity")
	}
	return clone, nil
}

type storedAcceptance struct {
	Responder  [20]byte
	AcceptedAt uint64
	Reputation uint64
	Selected   bool
	Refunded   bool
}

type storedRequest struct {
	ID                 uint64
	Creator            [20]byte
	Commodity          string
	Quantity           *big.Int
	ReferencePrice     *big.Int
	Mode               uint8
	OracleHandle       string
	CollateralPerParty *big.Int
	Maturity           uint64
	AcceptDeadline     uint64
	Active             bool
	CreatedAt          uint64
	Acceptances        []storedAcceptance
}

func requestToStored(r *SwapRequest) *storedRequest {
	acceptances := make([]storedAcceptance, len(r.Acceptances))
	for i, a := range r.Acceptances {
		acceptances[i] = storedAcceptance{
			Responder:  a.Responder,
			AcceptedAt: uint64(a.AcceptedAt),
			Reputation: a.Reputation,
			Selected:   a.Selected,
			Refunded:   a.Refunded,
		}
	}
	return &storedRequest{
		ID:                 r.ID,
		Creator:            r.Creator,
		Commodity:          r.Commodity,
		Quantity:           cloneBigInt(r.Quantity),
		ReferencePrice:     cloneBigInt(r.ReferencePrice),
		Mode:               uint8(r.Mode),
		OracleHandle:       r.OracleHandle,
		CollateralPerParty: cloneBigInt(r.CollateralPerParty),
		Maturity:           uint64(r.Maturity),
		AcceptDeadline:     uint64(r.AcceptDeadline),
		Active:             r.Active,
		CreatedAt:          uint64(r.CreatedAt),
		Acceptances:        acceptances,
	}
}

func requestFromStored(stored *storedRequest) *SwapRequest {
	acceptances := make([]Acceptance, len(stored.Acceptances))
	for i, a := range stored.Acceptances {
		acceptances[i] = Acceptance{
			Responder:  a.Responder,
			AcceptedAt: int64(a.AcceptedAt),
			Reputation: a.Reputation,
			Selected:   a.Selected,
			Refunded:   a.Refunded,
		}
	}
	return &SwapRequest{
		ID:                 stored.ID,
		Creator:            stored.Creator,
		Commodity:          stored.Commodity,
		Quantity:           cloneBigInt(stored.Quantity),
		ReferencePrice:     cloneBigInt(stored.ReferencePrice),
		Mode:               swap.PricingMode(stored.Mode),
		OracleHandle:       stored.OracleHandle,
		CollateralPerParty: cloneBigInt(stored.CollateralPerParty),
		Maturity:           int64(stored.Maturity),
		AcceptDeadline:     int64(stored.AcceptDeadline),
		Active:             stored.Active,
		CreatedAt:          int64(stored.CreatedAt),
		Acceptances:        acceptances,
	}
}
