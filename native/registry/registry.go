package registry

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"comclear/core/events"
	"comclear/core/types"
	"comclear/native/reputation"
)

var (
	// ErrNilState marks an engine used before its storage was configured.
	ErrNilState = errors.New("registry: state not configured")
	// ErrAlreadyRegistered rejects duplicate registrations.
	ErrAlreadyRegistered = errors.New("registry: principal already registered")
	// ErrNotRegistered marks lookups for unknown principals where
	// registration is a precondition.
	ErrNotRegistered = errors.New("registry: principal not registered")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Transfer(from, to [20]byte, amount *big.Int) error
}

var principalPrefix = []byte("registry/principal/")

func principalKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", principalPrefix, addr))
}

type storedPrincipal struct {
	RegisteredAt uint64
}

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

// Engine gates every other component on principal registration. Registration
// charges a flat fee into the treasury and seeds the principal's reputation.
type Engine struct {
	state      engineState
	reputation *reputation.Ledger
	emitter    events.Emitter
	treasury   [20]byte
	fee        *big.Int
	initialRep uint64
	nowFn      func() int64
}

// NewEngine constructs a registry engine bound to the reputation ledger that
// seeds scores for fresh registrations.
func NewEngine(rep *reputation.Ledger) *Engine {
	return &Engine{
		reputation: rep,
		emitter:    events.NoopEmitter{},
		fee:        big.NewInt(0),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTreasury configures the address that collects registration fees.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// SetRegistrationFee configures the flat fee debited at registration time.
func (e *Engine) SetRegistrationFee(fee *big.Int) {
	if fee == nil || fee.Sign() < 0 {
		e.fee = big.NewInt(0)
		return
	}
	e.fee = new(big.Int).Set(fee)
}

// SetInitialReputation configures the score seeded for new principals.
func (e *Engine) SetInitialReputation(score uint64) { e.initialRep = score }

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
	e.emitter.Emit(registryEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Register enrols the principal, charging the configured fee into the
// treasury. The fee transfer happens before the record write so a failed
// payment leaves no registration behind.
func (e *Engine) Register(addr [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	registered, err := e.IsRegistered(addr)
	if err != nil {
		return err
	}
	if registered {
		return ErrAlreadyRegistered
	}
	if e.fee != nil && e.fee.Sign() > 0 {
		if e.treasury == ([20]byte{}) {
			return fmt.Errorf("registry: fee treasury not configured")
		}
		if err := e.state.Transfer(addr, e.treasury, e.fee); err != nil {
			return fmt.Errorf("registry: fee payment failed: %w", err)
		}
	}
	record := storedPrincipal{RegisteredAt: uint64(e.now())}
	if err := e.state.KVPut(principalKey(addr), &record); err != nil {
		return err
	}
	if e.reputation != nil && e.initialRep > 0 {
		if err := e.reputation.SetScore(addr, e.initialRep); err != nil {
			return err
		}
	}
	e.emit(NewRegisteredEvent(addr, e.fee))
	return nil
}

// IsRegistered reports whether the principal has completed registration.
func (e *Engine) IsRegistered(addr [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.state.KVGet(principalKey(addr), nil)
}

// RequireRegistered returns ErrNotRegistered unless the principal is enrolled.
func (e *Engine) RequireRegistered(addr [20]byte) error {
	registered, err := e.IsRegistered(addr)
	if err != nil {
		return err
	}
	if !registered {
		return ErrNotRegistered
	}
	return nil
}

// Reputation reports the principal's current score via the reputation ledger.
func (e *Engine) Reputation(addr [20]byte) (uint64, error) {
	if e == nil || e.reputation == nil {
		return 0, ErrNilState
	}
	if err := e.RequireRegistered(addr); err != nil {
		return 0, err
	}
	return e.reputation.Score(addr)
}
