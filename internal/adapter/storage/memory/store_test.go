package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.WalletRepository      = (*WalletRepo)(nil)
	_ ports.TransactionRepository = (*TransactionRepo)(nil)
	_ ports.DBTransactor          = (*Store)(nil)
)

func seedWallet(t *testing.T, repo *WalletRepo, owner uuid.UUID, currency, balance string) *domain.Wallet {
	t.Helper()
	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   owner,
		Currency:  currency,
		Balance:   decimal.RequireFromString(balance),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(context.Background(), w))
	return w
}

func TestWalletRepo_CreateDuplicateCurrency(t *testing.T) {
	repo := NewWalletRepo(NewStore())
	owner := uuid.New()
	seedWallet(t, repo, owner, "USD", "0")

	err := repo.Create(context.Background(), &domain.Wallet{ID: uuid.New(), OwnerID: owner, Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrWalletExists)

	seedWallet(t, repo, owner, "EUR", "0")
	seedWallet(t, repo, uuid.New(), "USD", "0")
}

func TestWalletRepo_GetByID_NotFound(t *testing.T) {
	repo := NewWalletRepo(NewStore())
	w, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, w)
}

func TestWalletRepo_ReturnsCopies(t *testing.T) {
	repo := NewWalletRepo(NewStore())
	w := seedWallet(t, repo, uuid.New(), "USD", "10")

	got, err := repo.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	got.Balance = decimal.NewFromInt(999)

	again, err := repo.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(decimal.NewFromInt(10)))
}

func TestWalletRepo_ListByOwner_Paginates(t *testing.T) {
	repo := NewWalletRepo(NewStore())
	owner := uuid.New()
	for _, c := range []string{"USD", "EUR", "GBP"} {
		seedWallet(t, repo, owner, c, "0")
	}
	seedWallet(t, repo, uuid.New(), "USD", "0")

	page1, total, err := repo.ListByOwner(context.Background(), owner, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page1, 2)

	page2, _, err := repo.ListByOwner(context.Background(), owner, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)

	page3, _, err := repo.ListByOwner(context.Background(), owner, 3, 2)
	require.NoError(t, err)
	assert.Empty(t, page3)
}

func TestTx_CommitAppliesStagedWrites(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	w := seedWallet(t, wallets, uuid.New(), "USD", "10")
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	locked, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	require.NoError(t, wallets.UpdateBalance(ctx, tx, w.ID, locked.Balance.Add(decimal.NewFromInt(5))))

	// Uncommitted writes are invisible outside the transaction.
	outside, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, outside.Balance.Equal(decimal.NewFromInt(10)))

	// ...but visible inside it.
	inside, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	assert.True(t, inside.Balance.Equal(decimal.NewFromInt(15)))

	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Rollback(ctx), pgx.ErrTxClosed)

	after, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(decimal.NewFromInt(15)))
}

func TestTx_RollbackDiscards(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	w := seedWallet(t, wallets, uuid.New(), "USD", "10")
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = wallets.GetByIDForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	require.NoError(t, wallets.UpdateBalance(ctx, tx, w.ID, decimal.Zero))
	require.NoError(t, tx.Rollback(ctx))

	after, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(decimal.NewFromInt(10)))
}

func TestTx_RejectsOutOfRangeBalance(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	w := seedWallet(t, wallets, uuid.New(), "USD", "10")
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = wallets.GetByIDForUpdate(ctx, tx, w.ID)
	require.NoError(t, err)
	assert.Error(t, wallets.UpdateBalance(ctx, tx, w.ID, decimal.RequireFromString("-0.01")))
	assert.Error(t, wallets.UpdateBalance(ctx, tx, w.ID, decimal.RequireFromString("10000000000.00")))
}

func TestTx_UpdateRequiresLock(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	w := seedWallet(t, wallets, uuid.New(), "USD", "10")
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	err = wallets.UpdateBalance(ctx, tx, w.ID, decimal.NewFromInt(1))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not locked")
}

func TestTx_LockBlocksSecondTransaction(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	w := seedWallet(t, wallets, uuid.New(), "USD", "10")
	ctx := context.Background()

	tx1, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = wallets.GetByIDForUpdate(ctx, tx1, w.ID)
	require.NoError(t, err)

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Rollback(ctx) //nolint:errcheck

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = wallets.GetByIDForUpdate(shortCtx, tx2, w.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx1.Rollback(ctx))

	got, err := wallets.GetByIDForUpdate(ctx, tx2, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
}

func TestTx_ConcurrentIncrementsSerialize(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	w := seedWallet(t, wallets, uuid.New(), "USD", "0")
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	var failures atomic.Int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := store.Begin(ctx)
			if err != nil {
				failures.Add(1)
				return
			}
			defer tx.Rollback(ctx) //nolint:errcheck
			cur, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
			if err != nil {
				failures.Add(1)
				return
			}
			if err := wallets.UpdateBalance(ctx, tx, w.ID, cur.Balance.Add(decimal.NewFromInt(1))); err != nil {
				failures.Add(1)
				return
			}
			if err := tx.Commit(ctx); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	final, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, final.Balance.Equal(decimal.NewFromInt(workers)), "got %s", final.Balance)
}

func TestTransactionRepo_StatusWriteOnce(t *testing.T) {
	store := NewStore()
	txns := NewTransactionRepo(store)
	ctx := context.Background()
	dst := uuid.New()

	txn := &domain.Transaction{
		ID:                  uuid.New(),
		Type:                domain.TransactionTypeReplenishment,
		Status:              domain.TransactionStatusCompleted,
		Amount:              decimal.NewFromInt(5),
		Currency:            "USD",
		DestinationWalletID: &dst,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, txns.Create(ctx, txn))
	assert.Equal(t, domain.TransactionStatusProcessing, txn.Status, "create forces PROCESSING")

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	locked, err := txns.GetByIDForUpdate(ctx, tx, txn.ID)
	require.NoError(t, err)
	assert.False(t, locked.IsTerminal())
	require.NoError(t, txns.UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusCompleted))
	assert.ErrorIs(t, txns.UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusRejected), domain.ErrAlreadySettled)
	require.NoError(t, tx.Commit(ctx))

	stored, err := txns.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, stored.Status)
	assert.NotNil(t, stored.SettledAt)

	tx2, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx2.Rollback(ctx) //nolint:errcheck
	_, err = txns.GetByIDForUpdate(ctx, tx2, txn.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, txns.UpdateStatus(ctx, tx2, txn.ID, domain.TransactionStatusRejected), domain.ErrAlreadySettled)
}

func TestTransactionRepo_UpdateStatusRequiresLock(t *testing.T) {
	store := NewStore()
	txns := NewTransactionRepo(store)
	ctx := context.Background()
	dst := uuid.New()

	txn := &domain.Transaction{
		ID:                  uuid.New(),
		Type:                domain.TransactionTypeReplenishment,
		Amount:              decimal.NewFromInt(5),
		Currency:            "USD",
		DestinationWalletID: &dst,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, txns.Create(ctx, txn))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck

	err = txns.UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusCompleted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not locked")

	stored, err := txns.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusProcessing, stored.Status)
}

func TestTransactionRepo_ListAndStats(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	txns := NewTransactionRepo(store)
	ctx := context.Background()

	owner := uuid.New()
	mine := seedWallet(t, wallets, owner, "USD", "0")
	theirs := seedWallet(t, wallets, uuid.New(), "USD", "0")
	stranger := seedWallet(t, wallets, uuid.New(), "EUR", "0")

	base := time.Now().UTC().Add(-time.Hour)
	create := func(typ domain.TransactionType, amount int64, src, dst *uuid.UUID, offset time.Duration) *domain.Transaction {
		txn := &domain.Transaction{
			ID: uuid.New(), Type: typ, Amount: decimal.NewFromInt(amount), Currency: "USD",
			SourceWalletID: src, DestinationWalletID: dst, CreatedAt: base.Add(offset),
		}
		require.NoError(t, txns.Create(ctx, txn))
		return txn
	}

	dep := create(domain.TransactionTypeReplenishment, 100, nil, &mine.ID, 0)
	out := create(domain.TransactionTypeTransfer, 30, &mine.ID, &theirs.ID, time.Minute)
	in := create(domain.TransactionTypeTransfer, 10, &theirs.ID, &mine.ID, 2*time.Minute)
	create(domain.TransactionTypeReplenishment, 7, nil, &stranger.ID, 3*time.Minute)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, id := range []uuid.UUID{dep.ID, out.ID, in.ID} {
		_, err := txns.GetByIDForUpdate(ctx, tx, id)
		require.NoError(t, err)
		require.NoError(t, txns.UpdateStatus(ctx, tx, id, domain.TransactionStatusCompleted))
	}
	require.NoError(t, tx.Commit(ctx))

	list, total, err := txns.List(ctx, ports.TransactionListParams{OwnerID: owner, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, list, 3)
	assert.Equal(t, in.ID, list[0].ID, "newest first")

	transfer := domain.TransactionTypeTransfer
	list, total, err = txns.List(ctx, ports.TransactionListParams{OwnerID: owner, Type: &transfer, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	stats, err := txns.GetStats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTransactions)
	assert.Equal(t, int64(3), stats.Completed)
	require.Len(t, stats.Totals, 1)
	assert.Equal(t, "USD", stats.Totals[0].Currency)
	assert.True(t, stats.Totals[0].Replenished.Equal(decimal.NewFromInt(100)))
	assert.True(t, stats.Totals[0].Transferred.Equal(decimal.NewFromInt(30)))

	stale, err := txns.ListStale(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, stranger.ID, *stale[0].DestinationWalletID)
}

func TestTransactionRepo_StatsKeepCurrenciesApart(t *testing.T) {
	store := NewStore()
	wallets := NewWalletRepo(store)
	txns := NewTransactionRepo(store)
	ctx := context.Background()

	owner := uuid.New()
	usd := seedWallet(t, wallets, owner, "USD", "0")
	jpy := seedWallet(t, wallets, owner, "JPY", "0")

	var ids []uuid.UUID
	for _, dep := range []struct {
		wallet   *domain.Wallet
		amount   string
		currency string
	}{
		{usd, "10.00", "USD"},
		{jpy, "5000", "JPY"},
		{jpy, "250", "JPY"},
	} {
		txn := &domain.Transaction{
			ID: uuid.New(), Type: domain.TransactionTypeReplenishment,
			Amount: decimal.RequireFromString(dep.amount), Currency: dep.currency,
			DestinationWalletID: &dep.wallet.ID, CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, txns.Create(ctx, txn))
		ids = append(ids, txn.ID)
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := txns.GetByIDForUpdate(ctx, tx, id)
		require.NoError(t, err)
		require.NoError(t, txns.UpdateStatus(ctx, tx, id, domain.TransactionStatusCompleted))
	}
	require.NoError(t, tx.Commit(ctx))

	stats, err := txns.GetStats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Completed)
	require.Len(t, stats.Totals, 2)
	assert.Equal(t, "JPY", stats.Totals[0].Currency)
	assert.True(t, stats.Totals[0].Replenished.Equal(decimal.NewFromInt(5250)), "got %s", stats.Totals[0].Replenished)
	assert.Equal(t, "USD", stats.Totals[1].Currency)
	assert.True(t, stats.Totals[1].Replenished.Equal(decimal.NewFromInt(10)), "got %s", stats.Totals[1].Replenished)
}
