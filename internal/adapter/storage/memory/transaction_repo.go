package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.TransactionRepository on a Store.
type TransactionRepo struct {
	store *Store
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(store *Store) *TransactionRepo {
	return &TransactionRepo{store: store}
}

// Create stores the transaction as PROCESSING.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.transactions[t.ID]; ok {
		return fmt.Errorf("insert transaction: duplicate id %s", t.ID)
	}
	if !t.Amount.LessThan(domain.MaxAmount) {
		return fmt.Errorf("insert transaction: amount %s out of range", t.Amount)
	}
	t.Status = domain.TransactionStatusProcessing
	t.SettledAt = nil
	r.store.transactions[t.ID] = *t
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, ok := r.store.transactions[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	mtx, err := asMemTx(tx)
	if err != nil {
		return nil, fmt.Errorf("get transaction for update: %w", err)
	}
	if err := mtx.acquire(ctx, id); err != nil {
		return nil, fmt.Errorf("get transaction for update: %w", err)
	}
	t, err := r.GetByID(ctx, id)
	if err != nil || t == nil {
		return t, err
	}
	if status, ok := mtx.stagedStatus(id); ok {
		t.Status = status
	}
	return t, nil
}

func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	mtx, err := asMemTx(tx)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if !mtx.holds(id) {
		return fmt.Errorf("update transaction status: transaction %s is not locked by this transaction", id)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("transaction not found: %s", id)
	}
	if current.Status != domain.TransactionStatusProcessing {
		return fmt.Errorf("transaction %s: %w", id, domain.ErrAlreadySettled)
	}
	return mtx.stageStatus(id, status)
}

func (r *TransactionRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	r.store.mu.RLock()
	var result []domain.Transaction
	for _, t := range r.store.transactions {
		if t.Status == domain.TransactionStatusProcessing && t.CreatedAt.Before(olderThan) {
			result = append(result, t)
		}
	}
	r.store.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.store.mu.RLock()
	owned := r.ownedWalletsLocked(params.OwnerID)
	var result []domain.Transaction
	for _, t := range r.store.transactions {
		if !touches(t, owned) {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		result = append(result, t)
	}
	r.store.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID.String() < result[j].ID.String()
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return paginate(result, params.Page, params.PageSize), int64(len(result)), nil
}

func (r *TransactionRepo) GetStats(ctx context.Context, ownerID uuid.UUID) (*ports.TransactionStats, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	owned := r.ownedWalletsLocked(ownerID)
	stats := &ports.TransactionStats{}
	byCurrency := make(map[string]*ports.CurrencyTotals)
	for _, t := range r.store.transactions {
		if !touches(t, owned) {
			continue
		}
		stats.TotalTransactions++
		switch t.Status {
		case domain.TransactionStatusProcessing:
			stats.Processing++
		case domain.TransactionStatusCompleted:
			stats.Completed++
		case domain.TransactionStatusRejected:
			stats.Rejected++
		}
		if t.Status != domain.TransactionStatusCompleted {
			continue
		}

		totals, ok := byCurrency[t.Currency]
		if !ok {
			totals = &ports.CurrencyTotals{
				Currency:    t.Currency,
				Replenished: decimal.Zero,
				Withdrawn:   decimal.Zero,
				Transferred: decimal.Zero,
			}
			byCurrency[t.Currency] = totals
		}
		switch t.Type {
		case domain.TransactionTypeReplenishment:
			totals.Replenished = totals.Replenished.Add(t.Amount)
		case domain.TransactionTypeWithdraw:
			totals.Withdrawn = totals.Withdrawn.Add(t.Amount)
		case domain.TransactionTypeTransfer:
			if _, ok := owned[*t.SourceWalletID]; ok {
				totals.Transferred = totals.Transferred.Add(t.Amount)
			}
		}
	}

	for _, totals := range byCurrency {
		stats.Totals = append(stats.Totals, *totals)
	}
	sort.Slice(stats.Totals, func(i, j int) bool { return stats.Totals[i].Currency < stats.Totals[j].Currency })
	return stats, nil
}

func (r *TransactionRepo) ownedWalletsLocked(ownerID uuid.UUID) map[uuid.UUID]struct{} {
	owned := make(map[uuid.UUID]struct{})
	for id, w := range r.store.wallets {
		if w.OwnerID == ownerID {
			owned[id] = struct{}{}
		}
	}
	return owned
}

func touches(t domain.Transaction, wallets map[uuid.UUID]struct{}) bool {
	for _, id := range t.WalletIDs() {
		if _, ok := wallets[id]; ok {
			return true
		}
	}
	return false
}
