package swap

import (
	"errors"
	"fmt"
	"math/big"

	"comclear/native/oracle"
)

var (
	// ErrRoundsExhausted rejects settlement once every round has executed.
	ErrRoundsExhausted = errors.New("swap engine: settlement rounds exhausted")
	// ErrRoundNotDue rejects settlement before the round's scheduled time.
	ErrRoundNotDue = errors.New("swap engine: settlement round not due")
	// ErrDeficitOutstanding rejects settlement while a margin call with an
	// unexpired grace window is pending.
	ErrDeficitOutstanding = errors.New("swap engine: deficit outstanding within grace period")
	// ErrOracleUnavailable marks a missing feed or unknown handle.
	ErrOracleUnavailable = errors.New("swap engine: oracle unavailable")
	// ErrOraclePrice marks a non-positive or invalid oracle price.
	ErrOraclePrice = errors.New("swap engine: oracle price not positive")
	// ErrOracleUnset marks an oracle observation without an update time.
	ErrOracleUnset = errors.New("swap engine: oracle never updated")
	// ErrOracleStale marks an oracle observation older than the staleness
	// bound.
	ErrOracleStale = errors.New("swap engine: oracle price stale")
)

// WriteOff records a deficit whose grace window expired and was forgiven
// during the round's sweep.
type WriteOff struct {
	Debtor  [20]byte
	Amount  *big.Int
	Kind    DeficitKind
	Penalty uint64
}

// SettlementResult summarises one executed settlement round.
type SettlementResult struct {
	SwapID     uint64
	Round      uint64
	PriceDiff  *big.Int
	AmountPaid *big.Int
	Winner     [20]byte
	Debtor     [20]byte
	NewDeficit *Deficit
	WriteOffs  []WriteOff
	Finished   bool
}

type writeOff struct {
	debtor  [20]byte
	amount  *big.Int
	kind    DeficitKind
	penalty uint64
}

// Settle executes the current settlement round for the swap. Expired grace
// windows are swept first (penalising and forgiving the debt), a live margin
// call blocks the round entirely, and the oracle observation must be positive
// and fresh before any funds move. All validation happens before the first
// write so a rejected call leaves no state behind.
func (e *Engine) Settle(id uint64) (*SettlementResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	s, err := e.loadSwap(id)
	if err != nil {
		return nil, err
	}
	if !s.Active || s.Finished {
		return nil, ErrSwapInactive
	}
	rounds := uint64(len(s.SettlementTimes))
	if s.CurrentRound >= rounds {
		return nil, ErrRoundsExhausted
	}
	now := e.now()
	if now < s.SettlementTimes[s.CurrentRound] {
		return nil, ErrRoundNotDue
	}

	// Sweep expired grace windows in memory. The penalties are applied only
	// after the remaining preconditions pass, so an oracle fault leaves the
	// deficits untouched for the retry.
	writeOffs := e.sweepExpired(s, now)

	if s.DeficitA != nil || s.DeficitB != nil {
		return nil, ErrDeficitOutstanding
	}

	price, err := e.roundPrice(s, now)
	if err != nil {
		return nil, err
	}

	for _, wo := range writeOffs {
		if e.reputation != nil {
			if _, _, err := e.reputation.Slash(wo.debtor, wo.penalty); err != nil {
				return nil, err
			}
		}
		e.emit(NewDeficitForgivenEvent(s, wo.debtor, wo.amount, wo.kind, wo.penalty))
	}

	round := s.CurrentRound
	diff := new(big.Int).Sub(price, s.ReferencePrice)
	result := &SettlementResult{
		SwapID:     s.ID,
		Round:      round,
		PriceDiff:  diff,
		AmountPaid: big.NewInt(0),
	}
	for _, wo := range writeOffs {
		result.WriteOffs = append(result.WriteOffs, WriteOff{
			Debtor:  wo.debtor,
			Amount:  cloneBigInt(wo.amount),
			Kind:    wo.kind,
			Penalty: wo.penalty,
		})
	}

	if diff.Sign() == 0 {
		if err := e.rewardParties(s); err != nil {
			return nil, err
		}
		s.CurrentRound++
		finished, err := e.advanceOrFinalize(s)
		if err != nil {
			return nil, err
		}
		result.Finished = finished
		e.emit(NewSettlementExecutedEvent(s, round, diff, result.AmountPaid, [20]byte{}))
		return result, nil
	}

	var winner, loser [20]byte
	if diff.Sign() > 0 {
		winner, loser = s.PartyA, s.PartyB
	} else {
		winner, loser = s.PartyB, s.PartyA
	}
	amountOwed := new(big.Int).Mul(new(big.Int).Abs(diff), s.Quantity)
	loserCollateral := s.collateralOf(loser)

	newDeficit := false
	if amountOwed.Cmp(loserCollateral) > 0 {
		// Full shortfall: the entire remaining collateral is paid out and
		// the unpaid remainder becomes a margin call.
		paid := new(big.Int).Set(loserCollateral)
		if paid.Sign() > 0 {
			if err := e.state.Credit(winner, paid); err != nil {
				return nil, fmt.Errorf("swap: settlement payout failed: %w", err)
			}
		}
		s.setCollateral(loser, big.NewInt(0))
		shortfall := new(big.Int).Sub(amountOwed, paid)
		deficit := &Deficit{
			Amount:   shortfall,
			Deadline: now + e.gracePeriod,
			Kind:     DeficitFullShortfall,
		}
		s.setDeficit(loser, deficit)
		newDeficit = true
		result.AmountPaid = paid
		result.Debtor = loser
		result.NewDeficit = deficit.Clone()
		e.emit(NewDeficitCreatedEvent(s, loser, deficit))
	} else {
		if err := e.state.Credit(winner, amountOwed); err != nil {
			return nil, fmt.Errorf("swap: settlement payout failed: %w", err)
		}
		remaining := new(big.Int).Sub(loserCollateral, amountOwed)
		s.setCollateral(loser, remaining)
		result.AmountPaid = new(big.Int).Set(amountOwed)
		if remaining.Cmp(s.CollateralPerParty) < 0 && s.DeficitOf(loser) == nil {
			deficit := &Deficit{
				Amount:   new(big.Int).Sub(s.CollateralPerParty, remaining),
				Deadline: now + e.gracePeriod,
				Kind:     DeficitUnderCollateral,
			}
			s.setDeficit(loser, deficit)
			newDeficit = true
			result.Debtor = loser
			result.NewDeficit = deficit.Clone()
			e.emit(NewDeficitCreatedEvent(s, loser, deficit))
		}
	}
	result.Winner = winner

	// A round that raised a margin call grants no reward to either party.
	if !newDeficit {
		if err := e.rewardParties(s); err != nil {
			return nil, err
		}
	}

	s.CurrentRound++
	finished, err := e.advanceOrFinalize(s)
	if err != nil {
		return nil, err
	}
	result.Finished = finished
	e.emit(NewSettlementExecutedEvent(s, round, diff, result.AmountPaid, winner))
	return result, nil
}

func (e *Engine) sweepExpired(s *Swap, now int64) []writeOff {
	var writeOffs []writeOff
	for _, addr := range [][20]byte{s.PartyA, s.PartyB} {
		deficit := s.DeficitOf(addr)
		if !deficit.Expired(now) {
			continue
		}
		penalty := penaltyUnderCollateral
		if deficit.Kind == DeficitFullShortfall {
			penalty = penaltyFullShortfall
		}
		writeOffs = append(writeOffs, writeOff{
			debtor:  addr,
			amount:  cloneBigInt(deficit.Amount),
			kind:    deficit.Kind,
			penalty: penalty,
		})
		s.setDeficit(addr, nil)
	}
	return writeOffs
}

func (e *Engine) roundPrice(s *Swap, now int64) (*big.Int, error) {
	if s.Mode == PricingFixed {
		return cloneBigInt(s.ReferencePrice), nil
	}
	if e.feed == nil {
		return nil, ErrOracleUnavailable
	}
	quote, err := e.feed.Read(s.OracleHandle)
	if err != nil {
		if errors.Is(err, oracle.ErrUnknownHandle) || errors.Is(err, oracle.ErrNoFreshQuote) {
			return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}
		return nil, err
	}
	if !quote.Valid || quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, ErrOraclePrice
	}
	if quote.UpdatedAt == 0 {
		return nil, ErrOracleUnset
	}
	if now-quote.UpdatedAt > e.maxOracleDelay {
		return nil, ErrOracleStale
	}
	return cloneBigInt(quote.Price), nil
}

func (e *Engine) rewardParties(s *Swap) error {
	if e.reputation == nil {
		return nil
	}
	for _, addr := range [][20]byte{s.PartyA, s.PartyB} {
		if _, _, err := e.reputation.Reward(addr, roundReward); err != nil {
			return err
		}
	}
	return nil
}

// advanceOrFinalize persists the advanced swap, finalizing it when every round
// has executed or a party's collateral stands at zero with no margin call
// keeping the swap alive through its grace window.
func (e *Engine) advanceOrFinalize(s *Swap) (bool, error) {
	rounds := uint64(len(s.SettlementTimes))
	exhausted := s.CurrentRound >= rounds
	drainedA := s.CollateralA.Sign() == 0 && s.DeficitA == nil
	drainedB := s.CollateralB.Sign() == 0 && s.DeficitB == nil
	if exhausted || drainedA || drainedB {
		if err := e.finalizeSwap(s); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, e.storeSwap(s)
}

// finalizeSwap refunds whatever collateral remains to each party, zeroes the
// balances and marks the swap finished. Calling it on a finished swap is a
// no-op. Deficits never survive finalization: a margin call raised by the
// final round is written off without penalty because its grace window never
// expired.
func (e *Engine) finalizeSwap(s *Swap) error {
	if s == nil {
		return fmt.Errorf("swap: nil swap")
	}
	if s.Finished {
		return nil
	}
	refundA := cloneBigInt(s.CollateralA)
	refundB := cloneBigInt(s.CollateralB)
	if refundA.Sign() > 0 {
		if err := e.state.Credit(s.PartyA, refundA); err != nil {
			return fmt.Errorf("swap: final refund failed: %w", err)
		}
	}
	if refundB.Sign() > 0 {
		if err := e.state.Credit(s.PartyB, refundB); err != nil {
			return fmt.Errorf("swap: final refund failed: %w", err)
		}
	}
	s.CollateralA = big.NewInt(0)
	s.CollateralB = big.NewInt(0)
	s.DeficitA = nil
	s.DeficitB = nil
	s.Active = false
	s.Finished = true
	if err := e.storeSwap(s); err != nil {
		return err
	}
	e.emit(NewSwapCompletedEvent(s, refundA, refundB))
	return nil
}
