package service

import (
	"context"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
) ports.ReportingService {
	return &reportingService{
		txRepo:     txRepo,
		walletRepo: walletRepo,
	}
}

// GetTransaction returns a transaction visible to the owner, that is one
// touching at least one of the owner's wallets.
func (s *reportingService) GetTransaction(ctx context.Context, ownerID, transactionID uuid.UUID) (*domain.Transaction, error) {
	txn, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if txn == nil {
		return nil, apperror.ErrTransactionNotFound()
	}

	for _, walletID := range txn.WalletIDs() {
		w, err := s.walletRepo.GetByID(ctx, walletID)
		if err != nil {
			return nil, apperror.InternalError(err)
		}
		if w != nil && w.OwnedBy(ownerID) {
			return txn, nil
		}
	}
	return nil, apperror.ErrTransactionNotFound()
}

// ListTransactions returns a paginated list of transactions.
func (s *reportingService) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.Validation("invalid status: must be PROCESSING, COMPLETED or REJECTED")
	}
	if params.Type != nil && !params.Type.Valid() {
		return nil, 0, apperror.Validation("invalid type: must be REPLENISHMENT, WITHDRAW or TRANSFER")
	}

	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

// GetStats returns aggregated transaction stats over the owner's wallets.
func (s *reportingService) GetStats(ctx context.Context, ownerID uuid.UUID) (*ports.TransactionStats, error) {
	stats, err := s.txRepo.GetStats(ctx, ownerID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}
