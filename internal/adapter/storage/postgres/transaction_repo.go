package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, transaction_type, status, amount, currency,
		from_wallet_id, to_wallet_id, created_at, updated_at, settled_at`

// ownedByCondition restricts rows to transactions touching a wallet of owner $n.
func ownedByCondition(argIdx int) string {
	return fmt.Sprintf(`(from_wallet_id IN (SELECT id FROM wallets WHERE owner_id = $%[1]d)
		OR to_wallet_id IN (SELECT id FROM wallets WHERE owner_id = $%[1]d))`, argIdx)
}

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction. The stored status is always PROCESSING.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	t.Status = domain.TransactionStatusProcessing
	t.SettledAt = nil

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.Type, t.Status, t.Amount, t.Currency,
		t.SourceWalletID, t.DestinationWalletID,
		t.CreatedAt, t.UpdatedAt, t.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction and holds its row lock until tx ends.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	return r.scanTransaction(tx.QueryRow(ctx, query, id))
}

// UpdateStatus moves a PROCESSING transaction to status within a database transaction.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	now := time.Now().UTC()
	query := `UPDATE transactions SET status = $1, updated_at = $2, settled_at = $2
		WHERE id = $3 AND status = 'PROCESSING'`

	tag, err := tx.Exec(ctx, query, status, now, id)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", id, domain.ErrAlreadySettled)
	}
	return nil
}

// ListStale returns PROCESSING transactions created before olderThan.
func (r *TransactionRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'PROCESSING' AND created_at < $1
		ORDER BY created_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale transactions: %w", err)
	}
	defer rows.Close()

	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// List fetches the owner's transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, ownedByCondition(argIdx))
	args = append(args, params.OwnerID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("transaction_type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// GetStats retrieves aggregated transaction statistics for an owner.
// Completed amounts are summed per currency.
func (r *TransactionRepo) GetStats(ctx context.Context, ownerID uuid.UUID) (*ports.TransactionStats, error) {
	countQuery := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'PROCESSING') AS processing,
		COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
		COUNT(*) FILTER (WHERE status = 'REJECTED') AS rejected
		FROM transactions WHERE ` + ownedByCondition(1)

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, countQuery, ownerID).Scan(
		&stats.TotalTransactions, &stats.Processing, &stats.Completed, &stats.Rejected,
	)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}

	totalsQuery := `SELECT currency,
		COALESCE(SUM(amount) FILTER (WHERE transaction_type = 'REPLENISHMENT'), 0) AS replenished,
		COALESCE(SUM(amount) FILTER (WHERE transaction_type = 'WITHDRAW'), 0) AS withdrawn,
		COALESCE(SUM(amount) FILTER (WHERE transaction_type = 'TRANSFER'
			AND from_wallet_id IN (SELECT id FROM wallets WHERE owner_id = $1)), 0) AS transferred
		FROM transactions WHERE status = 'COMPLETED' AND ` + ownedByCondition(1) + `
		GROUP BY currency ORDER BY currency`

	rows, err := r.pool.Query(ctx, totalsQuery, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get transaction totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ct ports.CurrencyTotals
		if err := rows.Scan(&ct.Currency, &ct.Replenished, &ct.Withdrawn, &ct.Transferred); err != nil {
			return nil, fmt.Errorf("scan transaction totals: %w", err)
		}
		stats.Totals = append(stats.Totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction totals: %w", err)
	}
	return stats, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(transactionFields(t)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		if err := rows.Scan(transactionFields(&t)...); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

func transactionFields(t *domain.Transaction) []any {
	return []any{
		&t.ID, &t.Type, &t.Status, &t.Amount, &t.Currency,
		&t.SourceWalletID, &t.DestinationWalletID,
		&t.CreatedAt, &t.UpdatedAt, &t.SettledAt,
	}
}
