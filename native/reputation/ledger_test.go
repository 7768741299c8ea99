package reputation

import (
	"testing"

	"comclear/core/state"
	"comclear/storage"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(state.NewManager(storage.NewMemDB()))
}

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

func TestRewardSaturatesAtCeiling(t *testing.T) {
	ledger := newTestLedger(t)
	addr := testAddr(1)
	if err := ledger.SetScore(addr, 98); err != nil {
		t.Fatalf("seed: %v", err)
	}
	old, next, err := ledger.Reward(addr, 5)
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if old != 98 || next != DefaultMaxReputation {
		t.Fatalf("reward = (%d, %d), want (98, %d)", old, next, DefaultMaxReputation)
	}
	// A score already at the ceiling is a no-op.
	old, next, err = ledger.Reward(addr, 1)
	if err != nil {
		t.Fatalf("reward at cap: %v", err)
	}
	if old != DefaultMaxReputation || next != DefaultMaxReputation {
		t.Fatalf("reward at cap = (%d, %d), want no change", old, next)
	}
}

func TestSlashFloorsAtZero(t *testing.T) {
	ledger := newTestLedger(t)
	addr := testAddr(2)
	if err := ledger.SetScore(addr, 3); err != nil {
		t.Fatalf("seed: %v", err)
	}
	old, next, err := ledger.Slash(addr, 5)
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if old != 3 || next != 0 {
		t.Fatalf("slash = (%d, %d), want (3, 0)", old, next)
	}
	old, next, err = ledger.Slash(addr, 2)
	if err != nil {
		t.Fatalf("slash at floor: %v", err)
	}
	if old != 0 || next != 0 {
		t.Fatalf("slash at floor = (%d, %d), want no change", old, next)
	}
}

func TestSetScoreClampsToCeiling(t *testing.T) {
	ledger := newTestLedger(t)
	ledger.SetMaxReputation(50)
	addr := testAddr(3)
	if err := ledger.SetScore(addr, 200); err != nil {
		t.Fatalf("set score: %v", err)
	}
	score, err := ledger.Score(addr)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 50 {
		t.Fatalf("score = %d, want clamp to 50", score)
	}
}

func TestUnknownAddressScoresZero(t *testing.T) {
	ledger := newTestLedger(t)
	score, err := ledger.Score(testAddr(4))
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0 {
		t.Fatalf("score = %d, want 0", score)
	}
}
