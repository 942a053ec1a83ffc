package memory

import (
	"context"
	"fmt"
	"sort"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepo implements ports.WalletRepository on a Store.
type WalletRepo struct {
	store *Store
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(store *Store) *WalletRepo {
	return &WalletRepo{store: store}
}

func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.wallets[w.ID]; ok {
		return fmt.Errorf("insert wallet: duplicate id %s", w.ID)
	}
	for _, existing := range r.store.wallets {
		if existing.OwnerID == w.OwnerID && existing.Currency == w.Currency {
			return domain.ErrWalletExists
		}
	}
	if w.Balance.IsNegative() {
		return fmt.Errorf("insert wallet: negative balance")
	}
	r.store.wallets[w.ID] = *w
	return nil
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	w, ok := r.store.wallets[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WalletRepo) GetByOwnerAndCurrency(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Wallet, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, w := range r.store.wallets {
		if w.OwnerID == ownerID && w.Currency == currency {
			return &w, nil
		}
	}
	return nil, nil
}

func (r *WalletRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, page, pageSize int) ([]domain.Wallet, int64, error) {
	r.store.mu.RLock()
	var result []domain.Wallet
	for _, w := range r.store.wallets {
		if w.OwnerID == ownerID {
			result = append(result, w)
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return paginate(result, page, pageSize), int64(len(result)), nil
}

// GetByIDForUpdate blocks until the wallet's row lock is free, then returns
// the wallet as this transaction sees it.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	mtx, err := asMemTx(tx)
	if err != nil {
		return nil, fmt.Errorf("get wallet for update by id: %w", err)
	}
	if err := mtx.acquire(ctx, id); err != nil {
		return nil, fmt.Errorf("get wallet for update by id: %w", err)
	}
	if w, ok := mtx.stagedWallet(id); ok {
		return &w, nil
	}
	return r.GetByID(ctx, id)
}

func (r *WalletRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance decimal.Decimal) error {
	mtx, err := asMemTx(tx)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if !mtx.holds(walletID) {
		return fmt.Errorf("update wallet balance: wallet %s is not locked by this transaction", walletID)
	}
	if balance.IsNegative() {
		return fmt.Errorf("update wallet balance: balance of %s would be negative", walletID)
	}
	if !domain.WithinBalanceLimit(balance) {
		return fmt.Errorf("update wallet balance: balance of %s out of range", walletID)
	}

	w, ok := mtx.stagedWallet(walletID)
	if !ok {
		current, err := r.GetByID(ctx, walletID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("wallet not found: %s", walletID)
		}
		w = *current
	}
	w.Balance = balance
	return mtx.stageBalance(w)
}

func (r *WalletRepo) SetActive(ctx context.Context, walletID uuid.UUID, active bool) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	w, ok := r.store.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet not found: %s", walletID)
	}
	w.IsActive = active
	r.store.wallets[walletID] = w
	return nil
}

func paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 || pageSize < 1 {
		return []T{}
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
