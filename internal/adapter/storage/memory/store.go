// Package memory is an in-process ledger store. It honours the same
// contract as the postgres adapter: row locks held until commit or
// rollback, staged writes applied atomically on commit, status writes
// only out of PROCESSING and no negative balances.
package memory

import (
	"context"
	"fmt"
	"sync"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store holds the committed state shared by the repositories.
type Store struct {
	mu           sync.RWMutex
	wallets      map[uuid.UUID]domain.Wallet
	transactions map[uuid.UUID]domain.Transaction

	lockMu sync.Mutex
	locks  map[uuid.UUID]chan struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		wallets:      make(map[uuid.UUID]domain.Wallet),
		transactions: make(map[uuid.UUID]domain.Transaction),
		locks:        make(map[uuid.UUID]chan struct{}),
	}
}

// PutWallet overwrites a committed wallet row as is, bypassing every
// constraint. Used to seed fixtures.
func (s *Store) PutWallet(w domain.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.ID] = w
}

// Begin starts a unit of work. It implements ports.DBTransactor.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{
		store:    s,
		held:     make(map[uuid.UUID]struct{}),
		balances: make(map[uuid.UUID]domain.Wallet),
		statuses: make(map[uuid.UUID]domain.TransactionStatus),
	}, nil
}

// lock blocks until the row lock for id is free or ctx is done.
func (s *Store) lock(ctx context.Context, id uuid.UUID) error {
	s.lockMu.Lock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	s.lockMu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire row lock %s: %w", id, ctx.Err())
	}
}

func (s *Store) unlock(id uuid.UUID) {
	s.lockMu.Lock()
	ch := s.locks[id]
	s.lockMu.Unlock()
	<-ch
}
