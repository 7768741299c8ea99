package swap

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"comclear/core/events"
	"comclear/core/types"
	"comclear/native/oracle"
	"comclear/native/reputation"
)

var (
	errNilState = errors.New("swap engine: state not configured")
	// ErrSwapNotFound marks lookups for unknown swap identifiers.
	ErrSwapNotFound = errors.New("swap engine: swap not found")
	// ErrSwapInactive rejects mutations against inactive or finished swaps.
	ErrSwapInactive = errors.New("swap engine: swap not active")
	// ErrNotParty rejects callers that are neither party to the swap.
	ErrNotParty = errors.New("swap engine: caller is not a party")
	// ErrAmountNotPositive rejects non-positive collateral movements.
	ErrAmountNotPositive = errors.New("swap engine: amount must be positive")
)

const (
	penaltyFullShortfall   uint64 = 5
	penaltyUnderCollateral uint64 = 2
	roundReward            uint64 = 1

	// DefaultGracePeriod is the margin-call window applied when none is
	// configured.
	DefaultGracePeriod = 24 * time.Hour
	// DefaultMaxOracleDelay bounds how stale an oracle observation may be
	// before settlement refuses to trust it.
	DefaultMaxOracleDelay = time.Hour
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	NextID(scope string) (uint64, error)
	Credit(addr [20]byte, amount *big.Int) error
	Debit(addr [20]byte, amount *big.Int) error
}

type swapEvent struct {
	evt *types.Event
}

func (e swapEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e swapEvent) Event() *types.Event { return e.evt }

// Engine owns the swap ledger and the per-round settlement algorithm. It is
// bound to the price feed for oracle-mode swaps and to the reputation ledger
// for round rewards and grace-expiry penalties.
type Engine struct {
	state          engineState
	feed           oracle.PriceFeed
	reputation     *reputation.Ledger
	emitter        events.Emitter
	gracePeriod    int64
	maxOracleDelay int64
	nowFn          func() int64
}

// NewEngine constructs a swap engine with a no-op emitter and default
// grace/staleness windows. Callers override collaborators via the setters.
func NewEngine(rep *reputation.Ledger) *Engine {
	return &Engine{
		reputation:     rep,
		emitter:        events.NoopEmitter{},
		gracePeriod:    int64(DefaultGracePeriod / time.Second),
		maxOracleDelay: int64(DefaultMaxOracleDelay / time.Second),
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeed configures the price feed consulted for oracle-mode swaps.
func (e *Engine) SetFeed(feed oracle.PriceFeed) { e.feed = feed }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetGracePeriod overrides the margin-call window in seconds.
func (e *Engine) SetGracePeriod(seconds int64) {
	if seconds <= 0 {
		e.gracePeriod = int64(DefaultGracePeriod / time.Second)
		return
	}
	e.gracePeriod = seconds
}

// SetMaxOracleDelay overrides the oracle staleness bound in seconds.
func (e *Engine) SetMaxOracleDelay(seconds int64) {
	if seconds <= 0 {
		e.maxOracleDelay = int64(DefaultMaxOracleDelay / time.Second)
		return
	}
	e.maxOracleDelay = seconds
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(swapEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadSwap(id uint64) (*Swap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedSwap
	ok, err := e.state.KVGet(swapKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSwapNotFound
	}
	return swapFromStored(&stored), nil
}

func (e *Engine) storeSwap(s *Swap) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeSwap(s)
	if err != nil {
		return err
	}
	return e.state.KVPut(swapKey(sanitized.ID), swapToStored(sanitized))
}

// GetSwap returns a copy of the stored swap record.
func (e *Engine) GetSwap(id uint64) (*Swap, error) {
	s, err := e.loadSwap(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// MaterializeParams carries the request fields copied into a new swap. The
// collateral seeded for each party must already have been escrowed by the
// caller; the ledger only records it.
type MaterializeParams struct {
	RequestID          uint64
	Creator            [20]byte
	Acceptor           [20]byte
	Commodity          string
	Quantity           *big.Int
	ReferencePrice     *big.Int
	Mode               PricingMode
	OracleHandle       string
	CollateralPerParty *big.Int
	Maturity           int64
	SettlementTimes    []int64
}

// Materialize binds a creator and chosen acceptor into a new swap, copying the
// request terms and seeding both collateral balances at the per-party amount.
func (e *Engine) Materialize(params MaterializeParams) (*Swap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if len(params.SettlementTimes) == 0 {
		return nil, fmt.Errorf("swap: settlement times required")
	}
	for i := 1; i < len(params.SettlementTimes); i++ {
		if params.SettlementTimes[i] <= params.SettlementTimes[i-1] {
			return nil, fmt.Errorf("swap: settlement times must be strictly ascending")
		}
	}
	last := params.SettlementTimes[len(params.SettlementTimes)-1]
	if params.Maturity > 0 && last > params.Maturity {
		return nil, fmt.Errorf("swap: settlement times extend past maturity")
	}
	id, err := e.state.NextID("swap")
	if err != nil {
		return nil, err
	}
	s := &Swap{
		ID:                 id,
		RequestID:          params.RequestID,
		PartyA:             params.Creator,
		PartyB:             params.Acceptor,
		Commodity:          params.Commodity,
		Quantity:           cloneBigInt(params.Quantity),
		ReferencePrice:     cloneBigInt(params.ReferencePrice),
		Mode:               params.Mode,
		OracleHandle:       params.OracleHandle,
		CollateralPerParty: cloneBigInt(params.CollateralPerParty),
		CollateralA:        cloneBigInt(params.CollateralPerParty),
		CollateralB:        cloneBigInt(params.CollateralPerParty),
		SettlementTimes:    append([]int64(nil), params.SettlementTimes...),
		CurrentRound:       0,
		Active:             true,
		Finished:           false,
		CreatedAt:          e.now(),
	}
	if err := e.storeSwap(s); err != nil {
		return nil, err
	}
	e.emit(NewSwapCreatedEvent(s))
	return s.Clone(), nil
}

// TopUpCollateral adds funds to the payer's collateral balance and, when the
// payer owes a pending deficit, immediately routes as much of the top-up as
// possible to the counterparty. The payer debit and counterparty credit are
// validated and applied before the swap record write, which is the commit
// point for the operation.
func (e *Engine) TopUpCollateral(id uint64, payer [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	s, err := e.loadSwap(id)
	if err != nil {
		return err
	}
	if !s.Active || s.Finished {
		return ErrSwapInactive
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountNotPositive
	}
	if !s.IsParty(payer) {
		return ErrNotParty
	}
	counterparty, err := s.Counterparty(payer)
	if err != nil {
		return err
	}
	if err := e.state.Debit(payer, amount); err != nil {
		return fmt.Errorf("swap: collateral deposit failed: %w", err)
	}
	collateral := new(big.Int).Add(s.collateralOf(payer), amount)
	deficit := s.DeficitOf(payer)
	paid := big.NewInt(0)
	if deficit != nil {
		paid = new(big.Int).Set(deficit.Amount)
		if collateral.Cmp(paid) < 0 {
			paid = new(big.Int).Set(collateral)
		}
		if paid.Sign() > 0 {
			if err := e.state.Credit(counterparty, paid); err != nil {
				return fmt.Errorf("swap: deficit payout failed: %w", err)
			}
			collateral = new(big.Int).Sub(collateral, paid)
			remaining := new(big.Int).Sub(deficit.Amount, paid)
			if remaining.Sign() == 0 {
				s.setDeficit(payer, nil)
			} else {
				deficit.Amount = remaining
			}
		}
	}
	s.setCollateral(payer, collateral)
	if err := e.storeSwap(s); err != nil {
		return err
	}
	e.emit(NewCollateralToppedUpEvent(s, payer, amount, paid))
	return nil
}
