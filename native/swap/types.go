package swap

import (
	"fmt"
	"math/big"
	"strings"
)

// PricingMode selects how a swap's rounds are priced.
type PricingMode uint8

const (
	// PricingFixed settles every round at the reference price itself.
	PricingFixed PricingMode = iota
	// PricingOracle settles each round against the feed observation.
	PricingOracle
)

// Valid reports whether the mode value is within the supported range.
func (m PricingMode) Valid() bool {
	switch m {
	case PricingFixed, PricingOracle:
		return true
	default:
		return false
	}
}

// ParsePricingMode resolves the canonical mode for a string label.
func ParsePricingMode(label string) (PricingMode, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "FIXED":
		return PricingFixed, nil
	case "ORACLE":
		return PricingOracle, nil
	default:
		return 0, fmt.Errorf("swap: unknown pricing mode %q", label)
	}
}

// String renders the canonical label for the mode.
func (m PricingMode) String() string {
	switch m {
	case PricingFixed:
		return "FIXED"
	case PricingOracle:
		return "ORACLE"
	default:
		return fmt.Sprintf("PricingMode(%d)", uint8(m))
	}
}

// DeficitKind distinguishes the two ways a party can fall behind at
// settlement time.
type DeficitKind uint8

const (
	// DeficitFullShortfall marks an obligation that exceeded the party's
	// entire remaining collateral.
	DeficitFullShortfall DeficitKind = iota + 1
	// DeficitUnderCollateral marks a paid round that left the party's
	// collateral below the per-party floor.
	DeficitUnderCollateral
)

// String renders the canonical label for the deficit kind.
func (k DeficitKind) String() string {
	switch k {
	case DeficitFullShortfall:
		return "FULL_SHORTFALL"
	case DeficitUnderCollateral:
		return "UNDER_COLLATERAL"
	default:
		return fmt.Sprintf("DeficitKind(%d)", uint8(k))
	}
}

// Deficit is the pending variant of a party's deficit sub-state. A nil
// *Deficit on the swap record means no deficit is outstanding, so an amount
// without a kind (or vice versa) cannot be represented.
type Deficit struct {
	Amount   *big.Int
	Deadline int64
	Kind     DeficitKind
}

// Clone returns a deep copy of the deficit.
func (d *Deficit) Clone() *Deficit {
	if d == nil {
		return nil
	}
	clone := &Deficit{Deadline: d.Deadline, Kind: d.Kind, Amount: big.NewInt(0)}
	if d.Amount != nil {
		clone.Amount = new(big.Int).Set(d.Amount)
	}
	return clone
}

// Expired reports whether the grace window has elapsed at the supplied time.
func (d *Deficit) Expired(now int64) bool {
	if d == nil || d.Deadline == 0 {
		return false
	}
	return now > d.Deadline
}

// Swap is the authoritative record for one bilateral commodity swap. PartyA is
// the original request creator, PartyB the selected acceptor. Collateral
// balances live on the record; the per-party amount fixed at creation is the
// floor used for under-collateralisation detection.
type Swap struct {
	ID                 uint64
	RequestID          uint64
	PartyA             [20]byte
	PartyB             [20]byte
	Commodity          string
	Quantity           *big.Int
	ReferencePrice     *big.Int
	Mode               PricingMode
	OracleHandle       string
	CollateralPerParty *big.Int
	CollateralA        *big.Int
	CollateralB        *big.Int
	SettlementTimes    []int64
	CurrentRound       uint64
	Active             bool
	Finished           bool
	DeficitA           *Deficit
	DeficitB           *Deficit
	CreatedAt          int64
}

// Clone returns a deep copy of the swap so callers can safely mutate the copy
// without affecting the stored instance.
func (s *Swap) Clone() *Swap {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Quantity = cloneBigInt(s.Quantity)
	clone.ReferencePrice = cloneBigInt(s.ReferencePrice)
	clone.CollateralPerParty = cloneBigInt(s.CollateralPerParty)
	clone.CollateralA = cloneBigInt(s.CollateralA)
	clone.CollateralB = cloneBigInt(s.CollateralB)
	clone.SettlementTimes = append([]int64(nil), s.SettlementTimes...)
	clone.DeficitA = s.DeficitA.Clone()
	clone.DeficitB = s.DeficitB.Clone()
	return &clone
}

// IsParty reports whether the address is one of the swap's two parties.
func (s *Swap) IsParty(addr [20]byte) bool {
	if s == nil {
		return false
	}
	return addr == s.PartyA || addr == s.PartyB
}

// Counterparty returns the other party for the supplied address.
func (s *Swap) Counterparty(addr [20]byte) ([20]byte, error) {
	switch {
	case s == nil:
		return [20]byte{}, fmt.Errorf("swap: nil swap")
	case addr == s.PartyA:
		return s.PartyB, nil
	case addr == s.PartyB:
		return s.PartyA, nil
	default:
		return [20]byte{}, fmt.Errorf("swap: address is not a party")
	}
}

func (s *Swap) collateralOf(addr [20]byte) *big.Int {
	if addr == s.PartyA {
		return s.CollateralA
	}
	return s.CollateralB
}

func (s *Swap) setCollateral(addr [20]byte, amount *big.Int) {
	if addr == s.PartyA {
		s.CollateralA = amount
		return
	}
	s.CollateralB = amount
}

// DeficitOf returns the pending deficit for the address, nil when none.
func (s *Swap) DeficitOf(addr [20]byte) *Deficit {
	if s == nil {
		return nil
	}
	if addr == s.PartyA {
		return s.DeficitA
	}
	return s.DeficitB
}

func (s *Swap) setDeficit(addr [20]byte, d *Deficit) {
	if addr == s.PartyA {
		s.DeficitA = d
		return
	}
	s.DeficitB = d
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// SanitizeSwap validates and normalises the supplied swap record, returning a
// cloned instance with non-nil amount fields. The original is not mutated.
func SanitizeSwap(s *Swap) (*Swap, error) {
	if s == nil {
		return nil, fmt.Errorf("swap: nil swap")
	}
	clone := s.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("swap: id required")
	}
	if clone.PartyA == ([20]byte{}) || clone.PartyB == ([20]byte{}) {
		return nil, fmt.Errorf("swap: both parties required")
	}
	if clone.PartyA == clone.PartyB {
		return nil, fmt.Errorf("swap: parties must differ")
	}
	if !clone.Mode.Valid() {
		return nil, fmt.Errorf("swap: invalid pricing mode %d", clone.Mode)
	}
	if clone.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("swap: quantity must be positive")
	}
	if clone.ReferencePrice.Sign() <= 0 {
		return nil, fmt.Errorf("swap: reference price must be positive")
	}
	if clone.CollateralPerParty.Sign() <= 0 {
		return nil, fmt.Errorf("swap: collateral per party must be positive")
	}
	if clone.CollateralA.Sign() < 0 || clone.CollateralB.Sign() < 0 {
		return nil, fmt.Errorf("swap: collateral must not be negative")
	}
	if len(clone.SettlementTimes) == 0 {
		return nil, fmt.Errorf("swap: settlement times required")
	}
	if clone.CurrentRound > uint64(len(clone.SettlementTimes)) {
		return nil, fmt.Errorf("swap: round cursor out of range")
	}
	for _, deficit := range []*Deficit{clone.DeficitA, clone.DeficitB} {
		if deficit == nil {
			continue
		}
		if deficit.Amount == nil || deficit.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("swap: pending deficit amount must be positive")
		}
		if deficit.Kind != DeficitFullShortfall && deficit.Kind != DeficitUnderCollateral {
			return nil, fmt.Errorf("swap: invalid deficit kind %d", deficit.Kind)
		}
	}
	return clone, nil
}
