package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/fastpayer/internal/domain"
)

var _ Store = (*Memory)(nil)

// Memory keeps everything in process. Units of work run one at a time and their writes
// are staged until commit. It is not durable and does not coordinate across processes,
// so it is only selectable outside production.
type Memory struct {
	// unit serializes units of work; mu guards the maps for readers outside a unit.
	unit sync.Mutex
	mu   sync.RWMutex

	accounts map[string]domain.Account
	markers  map[string]time.Time
	entries  map[string][]domain.JournalEntry
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]domain.Account),
		markers:  make(map[string]time.Time),
		entries:  make(map[string][]domain.JournalEntry),
	}
}

func (s *Memory) Migrate(context.Context) error { return nil }
func (s *Memory) Ping(context.Context) error    { return nil }
func (s *Memory) Close() error                  { return nil }

func (s *Memory) Within(ctx context.Context, fn UnitOfWork) (domain.Outcome, error) {
	s.unit.Lock()
	defer s.unit.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Outcome{}, err
	}

	tx := &memoryTx{
		store:    s,
		accounts: make(map[string]domain.Account),
		markers:  make(map[string]time.Time),
	}
	outcome := fn(ctx, tx)
	if !outcome.Commit() {
		return outcome, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.Outcome{}, err
	}

	s.mu.Lock()
	for id, at := range tx.markers {
		s.markers[id] = at
	}
	for id, acc := range tx.accounts {
		s.accounts[id] = acc
	}
	for _, e := range tx.entries {
		s.entries[e.PaymentID] = append(s.entries[e.PaymentID], e)
	}
	s.mu.Unlock()
	return outcome, nil
}

func (s *Memory) OpenAccount(_ context.Context, acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acc.ID]; exists {
		return domain.ErrAccountExists
	}
	acc.CreatedAt = createdAt(acc.CreatedAt)
	s.accounts[acc.ID] = acc
	return nil
}

func (s *Memory) GetAccount(_ context.Context, id string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, nil
}

func (s *Memory) HasMarker(_ context.Context, paymentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.markers[paymentID]
	return ok, nil
}

func (s *Memory) EntriesForPayment(_ context.Context, paymentID string) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := append([]domain.JournalEntry(nil), s.entries[paymentID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].PostedAt.Before(entries[j].PostedAt) })
	return entries, nil
}

// memoryTx stages writes for one unit of work.
type memoryTx struct {
	store    *Memory
	accounts map[string]domain.Account
	markers  map[string]time.Time
	entries  []domain.JournalEntry
}

func (t *memoryTx) InsertMarker(_ context.Context, paymentID string, at time.Time) (bool, error) {
	if _, staged := t.markers[paymentID]; staged {
		return false, nil
	}
	t.store.mu.RLock()
	_, exists := t.store.markers[paymentID]
	t.store.mu.RUnlock()
	if exists {
		return false, nil
	}
	t.markers[paymentID] = at
	return true, nil
}

func (t *memoryTx) LockAccount(ctx context.Context, id string) (domain.Account, error) {
	if acc, ok := t.accounts[id]; ok {
		return acc, nil
	}
	return t.store.GetAccount(ctx, id)
}

func (t *memoryTx) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	acc, err := t.LockAccount(ctx, id)
	if err != nil {
		return err
	}
	acc.Balance = balance
	t.accounts[id] = acc
	return nil
}

func (t *memoryTx) AppendEntry(_ context.Context, e domain.JournalEntry) error {
	t.entries = append(t.entries, e)
	return nil
}
