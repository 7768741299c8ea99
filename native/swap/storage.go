package swap

import (
	"fmt"
	"math/big"
)

var swapRecordPrefix = []byte("swaps/")

func swapKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", swapRecordPrefix, id))
}

type storedDeficit struct {
	Pending  bool
	Amount   *big.Int
	Deadline uint64
	Kind     uint8
}

type storedSwap struct {
	ID                 uint64
	RequestID          uint64
	PartyA             [20]byte
	PartyB             [20]byte
	Commodity          string
	Quantity           *big.Int
	ReferencePrice     *big.Int
	Mode               uint8
	OracleHandle       string
	CollateralPerParty *big.Int
	CollateralA        *big.Int
	CollateralB        *big.Int
	SettlementTimes    []uint64
	CurrentRound       uint64
	Active             bool
	Finished           bool
	DeficitA           storedDeficit
	DeficitB           storedDeficit
	CreatedAt          uint64
}

func deficitToStored(d *Deficit) storedDeficit {
	if d == nil {
		return storedDeficit{Amount: big.NewInt(0)}
	}
	return storedDeficit{
		Pending:  true,
		Amount:   cloneBigInt(d.Amount),
		Deadline: uint64(d.Deadline),
		Kind:     uint8(d.Kind),
	}
}

func deficitFromStored(d storedDeficit) *Deficit {
	if !d.Pending {
		return nil
	}
	return &Deficit{
		Amount:   cloneBigInt(d.Amount),
		Deadline: int64(d.Deadline),
		Kind:     DeficitKind(d.Kind),
	}
}

func swapToStored(s *Swap) *storedSwap {
	times := make([]uint64, len(s.SettlementTimes))
	for i, ts := range s.SettlementTimes {
		times[i] = uint64(ts)
	}
	return &storedSwap{
		ID:                 s.ID,
		RequestID:          s.RequestID,
		PartyA:             s.PartyA,
		PartyB:             s.PartyB,
		Commodity:          s.Commodity,
		Quantity:           cloneBigInt(s.Quantity),
		ReferencePrice:     cloneBigInt(s.ReferencePrice),
		Mode:               uint8(s.Mode),
		OracleHandle:       s.OracleHandle,
		CollateralPerParty: cloneBigInt(s.CollateralPerParty),
		CollateralA:        cloneBigInt(s.CollateralA),
		CollateralB:        cloneBigInt(s.CollateralB),
		SettlementTimes:    times,
		CurrentRound:       s.CurrentRound,
		Active:             s.Active,
		Finished:           s.Finished,
		DeficitA:           deficitToStored(s.DeficitA),
		DeficitB:           deficitToStored(s.DeficitB),
		CreatedAt:          uint64(s.CreatedAt),
	}
}

func swapFromStored(stored *storedSwap) *Swap {
	times := make([]int64, len(stored.SettlementTimes))
	for i, ts := range stored.SettlementTimes {
		times[i] = int64(ts)
	}
	return &Swap{
		ID:                 stored.ID,
		RequestID:          stored.RequestID,
		PartyA:             stored.PartyA,
		PartyB:             stored.PartyB,
		Commodity:          stored.Commodity,
		Quantity:           cloneBigInt(stored.Quantity),
		ReferencePrice:     cloneBigInt(stored.ReferencePrice),
		Mode:               PricingMode(stored.Mode),
		OracleHandle:       stored.OracleHandle,
		CollateralPerParty: cloneBigInt(stored.CollateralPerParty),
		CollateralA:        cloneBigInt(stored.CollateralA),
		CollateralB:        cloneBigInt(stored.CollateralB),
		SettlementTimes:    times,
		CurrentRound:       stored.CurrentRound,
		Active:             stored.Active,
		Finished:           stored.Finished,
		DeficitA:           deficitFromStored(stored.DeficitA),
		DeficitB:           deficitFromStored(stored.DeficitB),
		CreatedAt:          int64(stored.CreatedAt),
	}
}
