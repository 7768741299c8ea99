package reputation

import (
	"errors"
	"fmt"

	"comclear/core/events"
	"comclear/core/types"
)

// DefaultMaxReputation caps scores when no explicit ceiling is configured.
const DefaultMaxReputation uint64 = 100

var (
	// ErrNilState marks a ledger used before its storage was configured.
	ErrNilState = errors.New("reputation: state not configured")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var scorePrefix = []byte("reputation/score/")

func scoreKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", scorePrefix, addr))
}

type reputationEvent struct {
	evt *types.Event
}

func (e reputationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e reputationEvent) Event() *types.Event { return e.evt }

// Ledger is the sole writer of reputation scores. Adjustments are bounded:
// rewards saturate at the configured ceiling and penalties floor at zero.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	maxRep  uint64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{
		state:   state,
		emitter: events.NoopEmitter{},
		maxRep:  DefaultMaxReputation,
	}
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetMaxReputation overrides the score ceiling. Zero restores the default.
func (l *Ledger) SetMaxReputation(max uint64) {
	if l == nil {
		return
	}
	if max == 0 {
		l.maxRep = DefaultMaxReputation
		return
	}
	l.maxRep = max
}

// MaxReputation reports the configured score ceiling.
func (l *Ledger) MaxReputation() uint64 {
	if l == nil {
		return DefaultMaxReputation
	}
	return l.maxRep
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(reputationEvent{evt: evt})
}

// Score reports the current reputation score for the address.
func (l *Ledger) Score(addr [20]byte) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, ErrNilState
	}
	var score uint64
	if _, err := l.state.KVGet(scoreKey(addr), &score); err != nil {
		return 0, err
	}
	return score, nil
}

// SetScore seeds the stored score directly. Reserved for registration; all
// later adjustments go through Reward and Slash.
func (l *Ledger) SetScore(addr [20]byte, score uint64) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if score > l.maxRep {
		score = l.maxRep
	}
	return l.state.KVPut(scoreKey(addr), score)
}

// Reward raises the score by increment, saturating at the ceiling. A score
// already at the ceiling is left untouched. Old and new values are returned
// for observability.
func (l *Ledger) Reward(addr [20]byte, increment uint64) (uint64, uint64, error) {
	if l == nil || l.state == nil {
		return 0, 0, ErrNilState
	}
	old, err := l.Score(addr)
	if err != nil {
		return 0, 0, err
	}
	if increment == 0 || old >= l.maxRep {
		return old, old, nil
	}
	next := old + increment
	if next > l.maxRep || next < old {
		next = l.maxRep
	}
	if err := l.state.KVPut(scoreKey(addr), next); err != nil {
		return 0, 0, err
	}
	l.emit(NewIncreasedEvent(addr, old, next))
	return old, next, nil
}

// Slash lowers the score by penalty, flooring at zero. A score already at zero
// is left untouched. Old and new values are returned for observability.
func (l *Ledger) Slash(addr [20]byte, penalty uint64) (uint64, uint64, error) {
	if l == nil || l.state == nil {
		return 0, 0, ErrNilState
	}
	old, err := l.Score(addr)
	if err != nil {
		return 0, 0, err
	}
	if penalty == 0 || old == 0 {
		return old, old, nil
	}
	next := uint64(0)
	if old > penalty {
		next = old - penalty
	}
	if err := l.state.KVPut(scoreKey(addr), next); err != nil {
		return 0, 0, err
	}
	l.emit(NewSlashedEvent(addr, old, next))
	return old, next, nil
}
