package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"comclear/core/types"
	"comclear/storage"
)

// ErrInsufficientBalance rejects debits and transfers that exceed the payer's
// spendable balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var (
	accountPrefix = []byte("account/")
	sequencePref  = []byte("seq/")
)

// Manager mediates every read and write against the backing key-value store.
// Records are RLP encoded; helpers for accounts, identifier allocation and the
// pending-refund ledger live alongside the generic KV accessors so the native
// engines only depend on narrow interfaces.
type Manager struct {
	db storage.Database
}

// NewManager constructs a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager not initialised")
	}
	if len(key) == 0 {
		return false, fmt.Errorf("state: key must not be empty")
	}
	data, err := m.db.Get(key)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// NextID increments and returns the monotonic identifier counter for the given
// scope. The first identifier handed out per scope is 1 so the zero value can
// mark "unset" references.
func (m *Manager) NextID(scope string) (uint64, error) {
	if scope == "" {
		return 0, fmt.Errorf("state: sequence scope required")
	}
	key := append(append([]byte(nil), sequencePref...), scope...)
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.KVPut(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

func accountKey(addr []byte) []byte {
	key := make([]byte, len(accountPrefix)+len(addr))
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr)
	return key
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account record for the supplied address. Missing
// accounts materialise as zero-balance records so callers never observe nil.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("state: address must not be empty")
	}
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		account.Balance = new(big.Int).Set(stored.Balance)
	}
	return account, nil
}

// PutAccount persists the supplied account record.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("state: address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("state: account must not be nil")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must not be negative")
	}
	stored := storedAccount{Nonce: account.Nonce, Balance: new(big.Int).Set(balance)}
	return m.KVPut(accountKey(addr), &stored)
}

// Transfer moves value between two accounts. The debit is validated before any
// write so a failed transfer leaves both accounts untouched.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := m.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := m.GetAccount(to[:])
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to[:], toAcc)
}

// Credit adds value to an account without a matching debit. Used when seeding
// balances and when collateral leaves a swap record at payout or refund time.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative credit amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr[:], account)
}

// Debit removes value from an account, failing when the balance is short.
func (m *Manager) Debit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative debit amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	if account.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	account.Balance = new(big.Int).Sub(account.Balance, amount)
	return m.PutAccount(addr[:], account)
}
