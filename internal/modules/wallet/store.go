// README: Wallet store contract and the in-memory implementation (per-owner locking).
package wallet

import (
	"context"
	"sync"

	"dispatch/internal/types"
)

// Store applies a mutation and its ledger row as one atomic unit.
// Apply must reject a debit larger than the balance and a reused reference without writing.
type Store interface {
	Get(ctx context.Context, owner types.ID) (*Wallet, error)
	Apply(ctx context.Context, m Mutation) (*Transaction, error)
	Transactions(ctx context.Context, owner types.ID, limit int) ([]Transaction, error)
}

type memEntry struct {
	mu     sync.Mutex
	wallet Wallet
	txs    []Transaction
	refs   map[string]struct{}
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[types.ID]*memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[types.ID]*memEntry)}
}

func (s *MemoryStore) lookup(owner types.ID) (*memEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[owner]
	return e, ok
}

func (s *MemoryStore) entry(owner types.ID) *memEntry {
	if e, ok := s.lookup(owner); ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[owner]; ok {
		return e
	}
	e := &memEntry{wallet: Wallet{OwnerID: owner}, refs: make(map[string]struct{})}
	s.entries[owner] = e
	return e
}

func (s *MemoryStore) Get(_ context.Context, owner types.ID) (*Wallet, error) {
	e, ok := s.lookup(owner)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.txs) == 0 {
		return nil, ErrNotFound
	}
	w := e.wallet
	return &w, nil
}

func (s *MemoryStore) Apply(_ context.Context, m Mutation) (*Transaction, error) {
	e := s.entry(m.OwnerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if m.Reference != "" {
		if _, dup := e.refs[m.Reference]; dup {
			return nil, ErrDuplicateReference
		}
	}
	if m.Type == TxDebit && m.Amount > e.wallet.Balance {
		return nil, ErrInsufficientFunds
	}

	e.wallet.Balance += m.delta()
	e.wallet.UpdatedAt = m.At
	if e.wallet.Currency == "" {
		e.wallet.Currency = m.Currency
	}
	tx := Transaction{
		ID:           types.NewID(),
		OwnerID:      m.OwnerID,
		Type:         m.Type,
		Amount:       m.Amount,
		Delta:        m.delta(),
		Description:  m.Description,
		Reference:    m.Reference,
		BalanceAfter: e.wallet.Balance,
		CreatedAt:    m.At,
	}
	e.txs = append(e.txs, tx)
	if m.Reference != "" {
		e.refs[m.Reference] = struct{}{}
	}
	return &tx, nil
}

// Transactions returns the newest rows first.
func (s *MemoryStore) Transactions(_ context.Context, owner types.ID, limit int) ([]Transaction, error) {
	e, ok := s.lookup(owner)
	if !ok {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.txs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Transaction, 0, n)
	for i := len(e.txs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.txs[i])
	}
	return out, nil
}
