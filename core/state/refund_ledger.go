package state

import (
	"fmt"
	"math/big"
)

var refundLedgerPrefix = []byte("refund/pending/")

// RefundLedger accumulates amounts owed back to principals, most notably the
// collateral of acceptors that were not selected as counterparty. Balances are
// credited eagerly and withdrawn by the owner at will so one principal's
// failed receipt can never block an unrelated state change.
type RefundLedger struct {
	manager *Manager
}

// RefundLedger returns a refund ledger helper bound to the manager.
func (m *Manager) RefundLedger() *RefundLedger {
	if m == nil {
		return nil
	}
	return &RefundLedger{manager: m}
}

func refundLedgerKey(addr [20]byte) []byte {
	key := make([]byte, len(refundLedgerPrefix)+len(addr))
	copy(key, refundLedgerPrefix)
	copy(key[len(refundLedgerPrefix):], addr[:])
	return key
}

// Credit adds the supplied amount to the pending balance for the address.
func (l *RefundLedger) Credit(addr [20]byte, amount *big.Int) error {
	if l == nil || l.manager == nil {
		return fmt.Errorf("refund: ledger unavailable")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("refund: amount must be positive")
	}
	balance, err := l.Balance(addr)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(balance, amount)
	return l.manager.KVPut(refundLedgerKey(addr), next)
}

// Balance reports the pending refund balance for the address.
func (l *RefundLedger) Balance(addr [20]byte) (*big.Int, error) {
	if l == nil || l.manager == nil {
		return nil, fmt.Errorf("refund: ledger unavailable")
	}
	balance := new(big.Int)
	ok, err := l.manager.KVGet(refundLedgerKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Clear zeroes the pending balance. Callers pay out the owed amount first so
// a failed payout leaves the balance intact.
func (l *RefundLedger) Clear(addr [20]byte) error {
	if l == nil || l.manager == nil {
		return fmt.Errorf("refund: ledger unavailable")
	}
	return l.manager.KVPut(refundLedgerKey(addr), big.NewInt(0))
}

// RefundCredit adds to the pending refund balance for the address.
func (m *Manager) RefundCredit(addr [20]byte, amount *big.Int) error {
	return m.RefundLedger().Credit(addr, amount)
}

// RefundBalance reports the pending refund balance for the address.
func (m *Manager) RefundBalance(addr [20]byte) (*big.Int, error) {
	return m.RefundLedger().Balance(addr)
}

// RefundClear zeroes the pending refund balance for the address.
func (m *Manager) RefundClear(addr [20]byte) error {
	return m.RefundLedger().Clear(addr)
}
