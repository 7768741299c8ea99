package registry

import (
	"errors"
	"math/big"
	"testing"

	"comclear/core/state"
	"comclear/native/reputation"
	"comclear/storage"
)

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func newTestEngine(t *testing.T) (*Engine, *state.Manager) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := NewEngine(reputation.NewLedger(manager))
	engine.SetState(manager)
	return engine, manager
}

func TestRegisterSeedsReputation(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.SetInitialReputation(50)
	addr := testAddr(1)

	if err := engine.Register(addr); err != nil {
		t.Fatalf("register: %v", err)
	}
	registered, err := engine.IsRegistered(addr)
	if err != nil {
		t.Fatalf("is registered: %v", err)
	}
	if !registered {
		t.Fatalf("principal not registered")
	}
	score, err := engine.Reputation(addr)
	if err != nil {
		t.Fatalf("reputation: %v", err)
	}
	if score != 50 {
		t.Fatalf("seeded score = %d, want 50", score)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	engine, _ := newTestEngine(t)
	addr := testAddr(2)
	if err := engine.Register(addr); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := engine.Register(addr); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second register = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegisterChargesFee(t *testing.T) {
	engine, manager := newTestEngine(t)
	treasury := testAddr(9)
	engine.SetTreasury(treasury)
	engine.SetRegistrationFee(big.NewInt(25))
	addr := testAddr(3)

	// Without funds the fee payment fails and no registration happens.
	if err := engine.Register(addr); err == nil {
		t.Fatalf("expected registration to fail with an empty account")
	}
	registered, err := engine.IsRegistered(addr)
	if err != nil {
		t.Fatalf("is registered: %v", err)
	}
	if registered {
		t.Fatalf("failed fee payment left a registration behind")
	}

	if err := manager.Credit(addr, big.NewInt(100)); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := engine.Register(addr); err != nil {
		t.Fatalf("register: %v", err)
	}
	account, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance.Int64() != 75 {
		t.Fatalf("payer balance = %s, want 75", account.Balance)
	}
	collected, err := manager.GetAccount(treasury[:])
	if err != nil {
		t.Fatalf("treasury account: %v", err)
	}
	if collected.Balance.Int64() != 25 {
		t.Fatalf("treasury balance = %s, want 25", collected.Balance)
	}
}

func TestRequireRegistered(t *testing.T) {
	engine, _ := newTestEngine(t)
	addr := testAddr(4)
	if err := engine.RequireRegistered(addr); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("unregistered = %v, want ErrNotRegistered", err)
	}
	if err := engine.Register(addr); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := engine.RequireRegistered(addr); err != nil {
		t.Fatalf("registered principal rejected: %v", err)
	}
}
