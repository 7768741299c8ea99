package core

import (
	"math/big"
	"sync"
	"time"

	"comclear/core/events"
	"comclear/core/state"
	"comclear/core/types"
	"comclear/native/oracle"
	"comclear/native/registry"
	"comclear/native/reputation"
	"comclear/native/requestbook"
	"comclear/native/swap"
	"comclear/storage"
)

// NodeConfig carries the tunable parameters applied to the engines at
// construction time. Zero values fall back to each engine's defaults.
type NodeConfig struct {
	Treasury              [20]byte
	RegistrationFee       *big.Int
	InitialReputation     uint64
	MaxReputation         uint64
	GracePeriodSeconds    int64
	MaxOracleDelaySeconds int64
}

// Node owns the settlement state and every native engine. All mutating
// operations are serialized behind a single mutex; engines assume they run
// one at a time against the shared state manager.
type Node struct {
	mu sync.Mutex

	db         storage.Database
	state      *state.Manager
	recorder   *events.Recorder
	reputation *reputation.Ledger
	registry   *registry.Engine
	feed       *oracle.ManualFeed
	oracle     *oracle.Aggregator
	swaps      *swap.Engine
	requests   *requestbook.Engine
}

// NewNode wires the engines onto the given database.
func NewNode(db storage.Database, cfg NodeConfig) *Node {
	manager := state.NewManager(db)
	recorder := &events.Recorder{}

	rep := reputation.NewLedger(manager)
	rep.SetEmitter(recorder)
	if cfg.MaxReputation > 0 {
		rep.SetMaxReputation(cfg.MaxReputation)
	}

	reg := registry.NewEngine(rep)
	reg.SetState(manager)
	reg.SetEmitter(recorder)
	reg.SetTreasury(cfg.Treasury)
	if cfg.RegistrationFee != nil {
		reg.SetRegistrationFee(cfg.RegistrationFee)
	}
	if cfg.InitialReputation > 0 {
		reg.SetInitialReputation(cfg.InitialReputation)
	}

	feed := oracle.NewManualFeed()
	maxDelay := time.Duration(cfg.MaxOracleDelaySeconds) * time.Second
	if maxDelay <= 0 {
		maxDelay = swap.DefaultMaxOracleDelay
	}
	agg := oracle.NewAggregator(maxDelay)
	_ = agg.Register("manual", feed)

	swaps := swap.NewEngine(rep)
	swaps.SetState(manager)
	swaps.SetEmitter(recorder)
	swaps.SetFeed(agg)
	if cfg.GracePeriodSeconds > 0 {
		swaps.SetGracePeriod(cfg.GracePeriodSeconds)
	}
	if cfg.MaxOracleDelaySeconds > 0 {
		swaps.SetMaxOracleDelay(cfg.MaxOracleDelaySeconds)
	}

	requests := requestbook.NewEngine(reg, swaps)
	requests.SetState(manager)
	requests.SetEmitter(recorder)

	return &Node{
		db:         db,
		state:      manager,
		recorder:   recorder,
		reputation: rep,
		registry:   reg,
		feed:       feed,
		oracle:     agg,
		swaps:      swaps,
		requests:   requests,
	}
}

// Close releases the underlying database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.db.Close()
}

// ManualFeed exposes the built-in price feed, used when seeding quotes from a
// manifest at startup.
func (n *Node) ManualFeed() *oracle.ManualFeed { return n.feed }

// SwapEngine exposes the swap engine for test clock injection.
func (n *Node) SwapEngine() *swap.Engine { return n.swaps }

// RequestBook exposes the request book for test clock injection.
func (n *Node) RequestBook() *requestbook.Engine { return n.requests }

func (n *Node) drain() []*types.Event {
	return n.recorder.Drain()
}

// Register enrolls a new counterparty, charging the registration fee.
func (n *Node) Register(addr [20]byte) ([]*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.registry.Register(addr); err != nil {
		n.drain()
		return nil, err
	}
	return n.drain(), nil
}

// IsRegistered reports whether the principal has enrolled.
func (n *Node) IsRegistered(addr [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registry.IsRegistered(addr)
}

// Reputation returns the principal's current score.
func (n *Node) Reputation(addr [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registry.Reputation(addr)
}

// CreateRequest opens a new swap request for the creator.
func (n *Node) CreateRequest(creator [20]byte, params requestbook.CreateParams) (*requestbook.SwapRequest, []*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	request, err := n.requests.Create(creator, params)
	if err != nil {
		n.drain()
		return nil, nil, err
	}
	return request, n.drain(), nil
}

// AcceptRequest records the responder's acceptance of an open request.
func (n *Node) AcceptRequest(id uint64, responder [20]byte) ([]*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.requests.Accept(id, responder); err != nil {
		n.drain()
		return nil, err
	}
	return n.drain(), nil
}

// GetRequest returns the stored request.
func (n *Node) GetRequest(id uint64) (*requestbook.SwapRequest, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requests.Get(id)
}

// ListOpenRequests returns all requests still accepting counterparties.
func (n *Node) ListOpenRequests() ([]*requestbook.SwapRequest, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requests.ListOpen()
}

// SelectAcceptor matches the creator with a chosen acceptor, materializing
// the swap and queueing refunds for everyone else.
func (n *Node) SelectAcceptor(id uint64, caller, acceptor [20]byte, settlementTimes []int64) (*swap.Swap, []*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	created, err := n.requests.Select(id, caller, acceptor, settlementTimes)
	if err != nil {
		n.drain()
		return nil, nil, err
	}
	return created, n.drain(), nil
}

// WithdrawRefund pays out the caller's pending refund balance.
func (n *Node) WithdrawRefund(addr [20]byte) (*big.Int, []*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	amount, err := n.requests.Withdraw(addr)
	if err != nil {
		n.drain()
		return nil, nil, err
	}
	return amount, n.drain(), nil
}

// GetSwap returns the stored swap.
func (n *Node) GetSwap(id uint64) (*swap.Swap, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.swaps.GetSwap(id)
}

// TopUpCollateral moves fresh collateral from the payer onto the swap,
// paying down any pending deficit first.
func (n *Node) TopUpCollateral(id uint64, payer [20]byte, amount *big.Int) ([]*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.swaps.TopUpCollateral(id, payer, amount); err != nil {
		n.drain()
		return nil, err
	}
	return n.drain(), nil
}

// Settle executes the swap's next due settlement round.
func (n *Node) Settle(id uint64) (*swap.SettlementResult, []*types.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	result, err := n.swaps.Settle(id)
	if err != nil {
		n.drain()
		return nil, nil, err
	}
	return result, n.drain(), nil
}

// PostPrice publishes a quote on the manual feed.
func (n *Node) PostPrice(handle string, price *big.Int, updatedAt int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.feed.Post(handle, price, updatedAt)
}

// ReadQuote returns the freshest quote for the handle.
func (n *Node) ReadQuote(handle string) (oracle.Quote, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.oracle.Read(handle)
}

// Mint credits an account balance. Exposed through the admin surface only.
func (n *Node) Mint(addr [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Credit(addr, amount)
}

// Balance returns the account's spendable balance.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// RefundBalance returns the caller's pending pull-refund balance.
func (n *Node) RefundBalance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.RefundBalance(addr)
}
