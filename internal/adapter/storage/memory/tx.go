package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errNotMemoryTx = errors.New("memory store requires a transaction started by memory.Store")

// memTx is the pgx.Tx handed out by Store.Begin. Only Commit and Rollback
// are meaningful; the embedded interface is nil and panics on any SQL call.
type memTx struct {
	pgx.Tx

	store *Store

	mu       sync.Mutex
	closed   bool
	held     map[uuid.UUID]struct{}
	balances map[uuid.UUID]domain.Wallet
	statuses map[uuid.UUID]domain.TransactionStatus
}

func asMemTx(tx pgx.Tx) (*memTx, error) {
	m, ok := tx.(*memTx)
	if !ok {
		return nil, errNotMemoryTx
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, pgx.ErrTxClosed
	}
	return m, nil
}

// acquire takes the row lock for id unless this transaction already holds it.
func (t *memTx) acquire(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	_, ok := t.held[id]
	t.mu.Unlock()
	if ok {
		return nil
	}
	if err := t.store.lock(ctx, id); err != nil {
		return err
	}
	t.mu.Lock()
	t.held[id] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *memTx) holds(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[id]
	return ok
}

// Commit applies every staged write atomically and releases the row locks.
func (t *memTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true

	now := time.Now().UTC()
	t.store.mu.Lock()
	for id, staged := range t.balances {
		w := t.store.wallets[id]
		w.Balance = staged.Balance
		w.UpdatedAt = now
		t.store.wallets[id] = w
	}
	for id, status := range t.statuses {
		txn := t.store.transactions[id]
		txn.Status = status
		txn.UpdatedAt = now
		settled := now
		txn.SettledAt = &settled
		t.store.transactions[id] = txn
	}
	t.store.mu.Unlock()

	t.releaseLocked()
	return nil
}

// Rollback discards staged writes and releases the row locks.
// Calling it after Commit returns pgx.ErrTxClosed.
func (t *memTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.releaseLocked()
	return nil
}

func (t *memTx) releaseLocked() {
	for id := range t.held {
		t.store.unlock(id)
	}
	t.held = nil
	t.balances = nil
	t.statuses = nil
}

func (t *memTx) stageBalance(w domain.Wallet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.balances[w.ID] = w
	return nil
}

func (t *memTx) stagedWallet(id uuid.UUID) (domain.Wallet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.balances[id]
	return w, ok
}

func (t *memTx) stageStatus(id uuid.UUID, status domain.TransactionStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return pgx.ErrTxClosed
	}
	if _, ok := t.statuses[id]; ok {
		return fmt.Errorf("transaction %s: %w", id, domain.ErrAlreadySettled)
	}
	t.statuses[id] = status
	return nil
}

func (t *memTx) stagedStatus(id uuid.UUID) (domain.TransactionStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[id]
	return s, ok
}
