package requestbook

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"comclear/core/events"
	"comclear/core/types"
	"comclear/native/registry"
	"comclear/native/swap"
)

var (
	errNilState = errors.New("requestbook: state not configured")
	// ErrRequestNotFound marks lookups for unknown request identifiers.
	ErrRequestNotFound = errors.New("requestbook: request not found")
	// ErrRequestInactive rejects operations on deactivated requests.
	ErrRequestInactive = errors.New("requestbook: request not active")
	// ErrNotCreator rejects selection attempts by anyone but the creator.
	ErrNotCreator = errors.New("requestbook: caller is not the creator")
	// ErrAlreadyAccepted rejects duplicate acceptances from one responder.
	ErrAlreadyAccepted = errors.New("requestbook: responder already accepted")
	// ErrAcceptClosed rejects acceptances after the deadline.
	ErrAcceptClosed = errors.New("requestbook: acceptance window closed")
	// ErrAcceptorUnknown rejects selection of a responder that never
	// accepted the request.
	ErrAcceptorUnknown = errors.New("requestbook: acceptor has no acceptance")
	// ErrSelfAccept rejects the creator accepting their own request.
	ErrSelfAccept = errors.New("requestbook: creator cannot accept own request")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	NextID(scope string) (uint64, error)
	Debit(addr [20]byte, amount *big.Int) error
	Credit(addr [20]byte, amount *big.Int) error
	RefundCredit(addr [20]byte, amount *big.Int) error
	RefundBalance(addr [20]byte) (*big.Int, error)
	RefundClear(addr [20]byte) error
}

var (
	requestRecordPrefix = []byte("requests/")
	openIndexKey        = []byte("requests/open-index")
)

func requestKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", requestRecordPrefix, id))
}

type requestEvent struct {
	evt *types.Event
}

func (e requestEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e requestEvent) Event() *types.Event { return e.evt }

// Engine owns the open swap requests and their acceptances. Collateral is
// escrowed with the book when a request is created or accepted; selection
// hands the matched pair to the swap ledger and queues pull-style refunds for
// everyone else.
type Engine struct {
	state    engineState
	registry *registry.Engine
	swaps    *swap.Engine
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine constructs a request book bound to the registry gate and the swap
// ledger that materializes selected requests.
func NewEngine(reg *registry.Engine, swaps *swap.Engine) *Engine {
	return &Engine{
		registry: reg,
		swaps:    swaps,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
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
	e.emitter.Emit(requestEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadRequest(id uint64) (*SwapRequest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedRequest
	ok, err := e.state.KVGet(requestKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	return requestFromStored(&stored), nil
}

func (e *Engine) storeRequest(r *SwapRequest) error {
	sanitized, err := SanitizeRequest(r)
	if err != nil {
		return err
	}
	return e.state.KVPut(requestKey(sanitized.ID), requestToStored(sanitized))
}

func (e *Engine) openIndex() ([]uint64, error) {
	var index []uint64
	if _, err := e.state.KVGet(openIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (e *Engine) indexAdd(id uint64) error {
	index, err := e.openIndex()
	if err != nil {
		return err
	}
	for _, existing := range index {
		if existing == id {
			return nil
		}
	}
	return e.state.KVPut(openIndexKey, append(index, id))
}

func (e *Engine) indexRemove(id uint64) error {
	index, err := e.openIndex()
	if err != nil {
		return err
	}
	filtered := index[:0]
	for _, existing := range index {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	return e.state.KVPut(openIndexKey, filtered)
}

// CreateParams carries the terms of a new swap request.
type CreateParams struct {
	Commodity          string
	Quantity           *big.Int
	ReferencePrice     *big.Int
	Mode               swap.PricingMode
	OracleHandle       string
	CollateralPerParty *big.Int
	Maturity           int64
	AcceptDeadline     int64
}

// Create opens a new swap request and escrows the creator's collateral.
func (e *Engine) Create(creator [20]byte, params CreateParams) (*SwapRequest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry != nil {
		if err := e.registry.RequireRegistered(creator); err != nil {
			return nil, err
		}
	}
	now := e.now()
	if params.AcceptDeadline <= now {
		return nil, fmt.Errorf("requestbook: accept deadline before creation time")
	}
	if params.Maturity <= now {
		return nil, fmt.Errorf("requestbook: maturity before creation time")
	}
	if params.Mode == swap.PricingOracle && params.OracleHandle == "" {
		return nil, fmt.Errorf("requestbook: oracle handle required for oracle pricing")
	}
	id, err := e.state.NextID("request")
	if err != nil {
		return nil, err
	}
	request := &SwapRequest{
		ID:                 id,
		Creator:            creator,
		Commodity:          params.Commodity,
		Quantity:           cloneBigInt(params.Quantity),
		ReferencePrice:     cloneBigInt(params.ReferencePrice),
		Mode:               params.Mode,
		OracleHandle:       params.OracleHandle,
		CollateralPerParty: cloneBigInt(params.CollateralPerParty),
		Maturity:           params.Maturity,
		AcceptDeadline:     params.AcceptDeadline,
		Active:             true,
		CreatedAt:          now,
	}
	if _, err := SanitizeRequest(request); err != nil {
		return nil, err
	}
	if err := e.state.Debit(creator, request.CollateralPerParty); err != nil {
		return nil, fmt.Errorf("requestbook: collateral escrow failed: %w", err)
	}
	if err := e.storeRequest(request); err != nil {
		return nil, err
	}
	if err := e.indexAdd(id); err != nil {
		return nil, err
	}
	e.emit(NewRequestCreatedEvent(request))
	return request.Clone(), nil
}

// Accept records the responder's offer to take the other side, escrowing
// their collateral and snapshotting their reputation.
func (e *Engine) Accept(id uint64, responder [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	request, err := e.loadRequest(id)
	if err != nil {
		return err
	}
	if !request.Active {
		return ErrRequestInactive
	}
	if e.now() > request.AcceptDeadline {
		return ErrAcceptClosed
	}
	if responder == request.Creator {
		return ErrSelfAccept
	}
	if e.registry != nil {
		if err := e.registry.RequireRegistered(responder); err != nil {
			return err
		}
	}
	if request.AcceptanceFor(responder) >= 0 {
		return ErrAlreadyAccepted
	}
	var score uint64
	if e.registry != nil {
		score, err = e.registry.Reputation(responder)
		if err != nil {
			return err
		}
	}
	if err := e.state.Debit(responder, request.CollateralPerParty); err != nil {
		return fmt.Errorf("requestbook: collateral escrow failed: %w", err)
	}
	request.Acceptances = append(request.Acceptances, Acceptance{
		Responder:  responder,
		AcceptedAt: e.now(),
		Reputation: score,
	})
	if err := e.storeRequest(request); err != nil {
		return err
	}
	e.emit(NewRequestAcceptedEvent(request, responder, score))
	return nil
}

// Get returns a copy of the stored request.
func (e *Engine) Get(id uint64) (*SwapRequest, error) {
	request, err := e.loadRequest(id)
	if err != nil {
		return nil, err
	}
	return request.Clone(), nil
}

// ListOpen returns every request still accepting counterparties.
func (e *Engine) ListOpen() ([]*SwapRequest, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	index, err := e.openIndex()
	if err != nil {
		return nil, err
	}
	open := make([]*SwapRequest, 0, len(index))
	for _, id := range index {
		request, err := e.loadRequest(id)
		if err != nil {
			return nil, err
		}
		if request.Active {
			open = append(open, request)
		}
	}
	return open, nil
}

// Select binds the creator and the chosen acceptor into a new swap. The
// request is permanently deactivated, every non-selected acceptance is
// credited to the pull-refund ledger exactly once, and the matched collateral
// moves onto the swap record.
func (e *Engine) Select(id uint64, caller, acceptor [20]byte, settlementTimes []int64) (*swap.Swap, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.swaps == nil {
		return nil, fmt.Errorf("requestbook: swap ledger not configured")
	}
	request, err := e.loadRequest(id)
	if err != nil {
		return nil, err
	}
	if !request.Active {
		return nil, ErrRequestInactive
	}
	if caller != request.Creator {
		return nil, ErrNotCreator
	}
	chosen := request.AcceptanceFor(acceptor)
	if chosen < 0 {
		return nil, ErrAcceptorUnknown
	}
	created, err := e.swaps.Materialize(swap.MaterializeParams{
		RequestID:          request.ID,
		Creator:            request.Creator,
		Acceptor:           acceptor,
		Commodity:          request.Commodity,
		Quantity:           request.Quantity,
		ReferencePrice:     request.ReferencePrice,
		Mode:               request.Mode,
		OracleHandle:       request.OracleHandle,
		CollateralPerParty: request.CollateralPerParty,
		Maturity:           request.Maturity,
		SettlementTimes:    settlementTimes,
	})
	if err != nil {
		return nil, err
	}
	request.Acceptances[chosen].Selected = true
	for i := range request.Acceptances {
		if i == chosen || request.Acceptances[i].Refunded {
			continue
		}
		if err := e.state.RefundCredit(request.Acceptances[i].Responder, request.CollateralPerParty); err != nil {
			return nil, err
		}
		request.Acceptances[i].Refunded = true
	}
	request.Active = false
	if err := e.storeRequest(request); err != nil {
		return nil, err
	}
	if err := e.indexRemove(id); err != nil {
		return nil, err
	}
	e.emit(NewRequestSelectedEvent(request, acceptor, created.ID))
	return created, nil
}

// Withdraw pays out the caller's accumulated pull-refund balance. The account
// credit happens before the balance is cleared so a failed payout leaves the
// balance intact.
func (e *Engine) Withdraw(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.RefundBalance(addr)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := e.state.Credit(addr, balance); err != nil {
		return nil, fmt.Errorf("requestbook: refund payout failed: %w", err)
	}
	if err := e.state.RefundClear(addr); err != nil {
		return nil, err
	}
	e.emit(NewRefundWithdrawnEvent(addr, balance))
	return balance, nil
}
