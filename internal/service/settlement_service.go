package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	reasonInsufficientFunds = "insufficient funds"
	reasonCurrencyMismatch  = "currency mismatch"
	reasonBalanceLimit      = "balance limit"
)

// settleFunc applies one transaction type inside an open unit of work and
// returns the terminal status to record. A non-empty reason explains a rejection.
type settleFunc func(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction) (domain.TransactionStatus, string, error)

// SettlementServiceImpl implements ports.SettlementService.
type SettlementServiceImpl struct {
	txRepo     ports.TransactionRepository
	walletRepo ports.WalletRepository
	transactor ports.DBTransactor
	metrics    *Metrics
	log        zerolog.Logger
	handlers   map[domain.TransactionType]settleFunc
}

// NewSettlementService creates a new SettlementServiceImpl.
func NewSettlementService(
	txRepo ports.TransactionRepository,
	walletRepo ports.WalletRepository,
	transactor ports.DBTransactor,
	metrics *Metrics,
	log zerolog.Logger,
) *SettlementServiceImpl {
	s := &SettlementServiceImpl{
		txRepo:     txRepo,
		walletRepo: walletRepo,
		transactor: transactor,
		metrics:    metrics,
		log:        log,
	}
	s.handlers = map[domain.TransactionType]settleFunc{
		domain.TransactionTypeReplenishment: s.settleReplenishment,
		domain.TransactionTypeWithdraw:      s.settleWithdraw,
		domain.TransactionTypeTransfer:      s.settleTransfer,
	}
	return s
}

// Settle moves a PROCESSING transaction to COMPLETED or REJECTED in a single
// unit of work. Settling an already terminal transaction is a no-op, so
// redelivered jobs are harmless. Errors are either transient (retry) or
// apperror.IsFatal (drop).
func (s *SettlementServiceImpl) Settle(ctx context.Context, transactionID uuid.UUID) (*ports.SettlementResult, error) {
	start := time.Now()
	result, err := s.settle(ctx, transactionID)

	var outcome string
	switch {
	case err != nil && apperror.IsFatal(err):
		outcome = "fatal"
		s.metrics.SettlementFailures.WithLabelValues(outcome).Inc()
	case err != nil:
		outcome = "transient"
		s.metrics.SettlementFailures.WithLabelValues(outcome).Inc()
	case result.Skipped:
		outcome = "skipped"
	default:
		outcome = string(result.Status)
	}
	s.metrics.SettlementDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	return result, err
}

func (s *SettlementServiceImpl) settle(ctx context.Context, transactionID uuid.UUID) (*ports.SettlementResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, transactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.FatalData(fmt.Errorf("transaction %s does not exist", transactionID))
	}

	if txn.IsTerminal() {
		s.log.Debug().
			Str("tx_id", txn.ID.String()).
			Str("status", string(txn.Status)).
			Msg("transaction already settled, skipping")
		return &ports.SettlementResult{TransactionID: txn.ID, Status: txn.Status, Skipped: true}, nil
	}

	if err := txn.Validate(); err != nil {
		return nil, apperror.FatalData(fmt.Errorf("transaction %s: %w", txn.ID, err))
	}
	handler := s.handlers[txn.Type]

	status, reason, err := handler(ctx, dbTx, txn)
	if err != nil {
		return nil, err
	}

	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, status); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update status: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.metrics.Settlements.WithLabelValues(string(txn.Type), string(status)).Inc()

	evt := s.log.Info()
	if status == domain.TransactionStatusRejected {
		evt = s.log.Warn().Str("reason", reason)
	}
	evt.Str("tx_id", txn.ID.String()).
		Str("type", string(txn.Type)).
		Str("status", string(status)).
		Str("amount", txn.Amount.StringFixed(domain.AmountScale)).
		Msg("transaction settled")

	return &ports.SettlementResult{TransactionID: txn.ID, Status: status, Reason: reason}, nil
}

func (s *SettlementServiceImpl) settleReplenishment(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction) (domain.TransactionStatus, string, error) {
	dst, err := s.lockWallet(ctx, dbTx, *txn.DestinationWalletID)
	if err != nil {
		return "", "", err
	}
	credited := dst.Balance.Add(txn.Amount)
	if !domain.WithinBalanceLimit(credited) {
		return domain.TransactionStatusRejected, reasonBalanceLimit, nil
	}
	if err := s.setBalance(ctx, dbTx, dst.ID, credited); err != nil {
		return "", "", err
	}
	return domain.TransactionStatusCompleted, "", nil
}

func (s *SettlementServiceImpl) settleWithdraw(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction) (domain.TransactionStatus, string, error) {
	src, err := s.lockWallet(ctx, dbTx, *txn.SourceWalletID)
	if err != nil {
		return "", "", err
	}
	if !src.CanCover(txn.Amount) {
		return domain.TransactionStatusRejected, reasonInsufficientFunds, nil
	}
	if err := s.setBalance(ctx, dbTx, src.ID, src.Balance.Sub(txn.Amount)); err != nil {
		return "", "", err
	}
	return domain.TransactionStatusCompleted, "", nil
}

func (s *SettlementServiceImpl) settleTransfer(ctx context.Context, dbTx pgx.Tx, txn *domain.Transaction) (domain.TransactionStatus, string, error) {
	// Lock in ascending id order so opposite transfers cannot deadlock.
	ids := []uuid.UUID{*txn.SourceWalletID, *txn.DestinationWalletID}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	locked := make(map[uuid.UUID]*domain.Wallet, len(ids))
	for _, id := range ids {
		w, err := s.lockWallet(ctx, dbTx, id)
		if err != nil {
			return "", "", err
		}
		locked[id] = w
	}
	src, dst := locked[*txn.SourceWalletID], locked[*txn.DestinationWalletID]

	if !src.CanCover(txn.Amount) {
		return domain.TransactionStatusRejected, reasonInsufficientFunds, nil
	}
	if src.Currency != dst.Currency || src.Currency != txn.Currency {
		return domain.TransactionStatusRejected, reasonCurrencyMismatch, nil
	}
	credited := dst.Balance.Add(txn.Amount)
	if !domain.WithinBalanceLimit(credited) {
		return domain.TransactionStatusRejected, reasonBalanceLimit, nil
	}

	if err := s.setBalance(ctx, dbTx, src.ID, src.Balance.Sub(txn.Amount)); err != nil {
		return "", "", err
	}
	if err := s.setBalance(ctx, dbTx, dst.ID, credited); err != nil {
		return "", "", err
	}
	return domain.TransactionStatusCompleted, "", nil
}

// lockWallet takes the row lock on a wallet the transaction references.
// A wallet that no longer exists can never settle.
func (s *SettlementServiceImpl) lockWallet(ctx context.Context, dbTx pgx.Tx, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByIDForUpdate(ctx, dbTx, walletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.FatalData(fmt.Errorf("wallet %s does not exist", walletID))
	}
	return w, nil
}

func (s *SettlementServiceImpl) setBalance(ctx context.Context, dbTx pgx.Tx, walletID uuid.UUID, balance decimal.Decimal) error {
	if err := s.walletRepo.UpdateBalance(ctx, dbTx, walletID, balance); err != nil {
		return apperror.InternalError(fmt.Errorf("update balance: %w", err))
	}
	return nil
}
