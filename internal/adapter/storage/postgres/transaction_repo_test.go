package postgres

import (
	"context"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransfer() *domain.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	src, dst := uuid.New(), uuid.New()
	return &domain.Transaction{
		ID:                  uuid.New(),
		Type:                domain.TransactionTypeTransfer,
		Status:              domain.TransactionStatusProcessing,
		Amount:              decimal.RequireFromString("25.00"),
		Currency:            "USD",
		SourceWalletID:      &src,
		DestinationWalletID: &dst,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func txColumns() []string {
	return []string{"id", "transaction_type", "status", "amount", "currency",
		"from_wallet_id", "to_wallet_id", "created_at", "updated_at", "settled_at"}
}

func txRow(t *domain.Transaction) *pgxmock.Rows {
	return pgxmock.NewRows(txColumns()).AddRow(txValues(t)...)
}

func txValues(t *domain.Transaction) []any {
	return []any{
		t.ID, t.Type, t.Status, t.Amount, t.Currency,
		t.SourceWalletID, t.DestinationWalletID,
		t.CreatedAt, t.UpdatedAt, t.SettledAt,
	}
}

func TestTransactionRepo_Create_ForcesProcessing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransfer()
	txn.Status = domain.TransactionStatusCompleted

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(
			txn.ID, txn.Type, domain.TransactionStatusProcessing, txn.Amount, txn.Currency,
			txn.SourceWalletID, txn.DestinationWalletID,
			txn.CreatedAt, txn.UpdatedAt, (*time.Time)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), txn)
	assert.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusProcessing, txn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransfer()

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(txn.ID).
		WillReturnRows(txRow(txn))

	result, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.Equal(t, domain.TransactionTypeTransfer, result.Type)
	assert.True(t, txn.Amount.Equal(result.Amount))
	require.NotNil(t, result.SourceWalletID)
	assert.Equal(t, *txn.SourceWalletID, *result.SourceWalletID)
	assert.Nil(t, result.SettledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(txColumns()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByIDForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransfer()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id .+ FOR UPDATE").
		WithArgs(txn.ID).
		WillReturnRows(txRow(txn))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByIDForUpdate(context.Background(), dbTx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_UpdateStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status .+ WHERE id .+ AND status = 'PROCESSING'").
		WithArgs(domain.TransactionStatusCompleted, pgxmock.AnyArg(), txID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.UpdateStatus(context.Background(), dbTx, txID, domain.TransactionStatusCompleted)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_UpdateStatus_AlreadyTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.UpdateStatus(context.Background(), dbTx, uuid.New(), domain.TransactionStatusRejected)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestTransactionRepo_ListStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransfer()
	cutoff := time.Now().Add(-10 * time.Minute)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE status = 'PROCESSING' AND created_at").
		WithArgs(cutoff, 50).
		WillReturnRows(txRow(txn))

	result, err := repo.ListStale(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, txn.ID, result[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	owner := uuid.New()
	txn := newTestTransfer()
	status := domain.TransactionStatusProcessing

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(owner, status).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE .+ ORDER BY created_at DESC").
		WithArgs(owner, status, 20, 20).
		WillReturnRows(txRow(txn))

	txns, total, err := repo.List(context.Background(), ports.TransactionListParams{
		OwnerID:  owner,
		Status:   &status,
		Page:     2,
		PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, txns, 1)
	assert.Equal(t, txn.ID, txns[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_List_TypeFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	owner := uuid.New()
	txType := domain.TransactionTypeWithdraw

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM transactions WHERE .+ AND transaction_type").
		WithArgs(owner, txType).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))

	mock.ExpectQuery("SELECT .+ FROM transactions").
		WithArgs(owner, txType, 10, 0).
		WillReturnRows(pgxmock.NewRows(txColumns()))

	txns, total, err := repo.List(context.Background(), ports.TransactionListParams{
		OwnerID:  owner,
		Type:     &txType,
		Page:     1,
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, txns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetStats(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	owner := uuid.New()

	mock.ExpectQuery("SELECT .+ COUNT").
		WithArgs(owner).
		WillReturnRows(pgxmock.NewRows([]string{"total", "processing", "completed", "rejected"}).
			AddRow(int64(6), int64(1), int64(4), int64(1)))
	mock.ExpectQuery("SELECT currency, .+ GROUP BY currency").
		WithArgs(owner).
		WillReturnRows(pgxmock.NewRows([]string{"currency", "replenished", "withdrawn", "transferred"}).
			AddRow("JPY", decimal.RequireFromString("5000.00"), decimal.Zero, decimal.Zero).
			AddRow("USD", decimal.RequireFromString("300.00"), decimal.RequireFromString("50.00"), decimal.RequireFromString("25.00")))

	stats, err := repo.GetStats(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.TotalTransactions)
	assert.Equal(t, int64(4), stats.Completed)
	require.Len(t, stats.Totals, 2)
	assert.Equal(t, "JPY", stats.Totals[0].Currency)
	assert.True(t, stats.Totals[0].Replenished.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "USD", stats.Totals[1].Currency)
	assert.True(t, stats.Totals[1].Replenished.Equal(decimal.NewFromInt(300)))
	assert.True(t, stats.Totals[1].Transferred.Equal(decimal.NewFromInt(25)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
