package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwnerAndCurrency(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Wallet, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, page, pageSize int) ([]domain.Wallet, int64, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, balance decimal.Decimal) error
	SetActive(ctx context.Context, walletID uuid.UUID, active bool) error
}

// TransactionRepository defines persistence operations for transactions.
type TransactionRepository interface {
	// Create stores the transaction with status PROCESSING regardless of the input status.
	Create(ctx context.Context, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	// UpdateStatus moves a PROCESSING transaction to status. It fails when the
	// transaction is already terminal.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error
	// ListStale returns PROCESSING transactions created before olderThan, oldest first.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error)
	// Reporting queries
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, ownerID uuid.UUID) (*TransactionStats, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
// Only transactions touching a wallet owned by OwnerID are returned.
type TransactionListParams struct {
	OwnerID  uuid.UUID
	Status   *domain.TransactionStatus
	Type     *domain.TransactionType
	Page     int
	PageSize int
}

// TransactionStats holds aggregated statistics over an owner's transactions.
type TransactionStats struct {
	TotalTransactions int64
	Processing        int64
	Completed         int64
	Rejected          int64
	Totals            []CurrencyTotals // One entry per currency with completed transactions, sorted by currency
}

// CurrencyTotals sums completed amounts in a single currency. Amounts in
// different currencies are never added together.
type CurrencyTotals struct {
	Currency    string
	Replenished decimal.Decimal // Sum of completed replenishments
	Withdrawn   decimal.Decimal // Sum of completed withdrawals
	Transferred decimal.Decimal // Sum of completed transfers out of the owner's wallets
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
