package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultIdempotencyTTL = 24 * time.Hour

// guardFunc checks a request against the current wallet state and returns
// the currency the transaction is recorded in.
type guardFunc func(ctx context.Context, req ports.SubmitRequest) (string, error)

// SubmissionServiceImpl implements ports.SubmissionService.
type SubmissionServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	queue      ports.SettlementQueue
	idempCache ports.IdempotencyCache
	idempTTL   time.Duration
	metrics    *Metrics
	log        zerolog.Logger
	guards     map[domain.TransactionType]guardFunc
}

// NewSubmissionService creates a new SubmissionServiceImpl.
func NewSubmissionService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	queue ports.SettlementQueue,
	idempCache ports.IdempotencyCache,
	idempTTL time.Duration,
	metrics *Metrics,
	log zerolog.Logger,
) *SubmissionServiceImpl {
	if idempTTL <= 0 {
		idempTTL = defaultIdempotencyTTL
	}
	s := &SubmissionServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		queue:      queue,
		idempCache: idempCache,
		idempTTL:   idempTTL,
		metrics:    metrics,
		log:        log,
	}
	s.guards = map[domain.TransactionType]guardFunc{
		domain.TransactionTypeReplenishment: s.guardReplenishment,
		domain.TransactionTypeWithdraw:      s.guardWithdraw,
		domain.TransactionTypeTransfer:      s.guardTransfer,
	}
	return s
}

// Submit validates the request, records a PROCESSING transaction and
// enqueues its settlement. Rejected requests leave no record behind.
func (s *SubmissionServiceImpl) Submit(ctx context.Context, req ports.SubmitRequest) (*domain.Transaction, error) {
	txn, err := s.submit(ctx, req)
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	s.metrics.Submissions.WithLabelValues(string(req.Type), result).Inc()
	return txn, err
}

func (s *SubmissionServiceImpl) submit(ctx context.Context, req ports.SubmitRequest) (*domain.Transaction, error) {
	if !domain.ValidAmount(req.Amount) {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Currency != "" && !domain.ValidCurrency(req.Currency) {
		return nil, apperror.ErrInvalidCurrency()
	}

	txn := &domain.Transaction{
		Type:                req.Type,
		Amount:              req.Amount,
		SourceWalletID:      req.SourceWalletID,
		DestinationWalletID: req.DestinationWalletID,
	}
	if err := txn.Validate(); err != nil {
		return nil, apperror.ErrInvalidTransaction(err.Error())
	}

	var idempKey string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIdempotencyKey(req.RequesterID, req.IdempotencyKey)
		cached, err := s.idempCache.Get(ctx, idempKey)
		if err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("redis idempotency check failed, submitting anyway")
		}
		if cached != nil {
			return unmarshalCachedTransaction(cached)
		}
	}

	currency, err := s.guards[req.Type](ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	txn.ID = uuid.New()
	txn.Currency = currency
	txn.Status = domain.TransactionStatusProcessing
	txn.CreatedAt = now
	txn.UpdatedAt = now

	if err := s.txRepo.Create(ctx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create transaction: %w", err))
	}

	if err := s.queue.Enqueue(ctx, domain.SettlementJob{TransactionID: txn.ID}); err != nil {
		s.metrics.EnqueueFailures.Inc()
		s.log.Error().Err(err).
			Str("tx_id", txn.ID.String()).
			Msg("failed to enqueue settlement, left PROCESSING for the reconciler")
	}

	if idempKey != "" {
		s.cacheResponse(ctx, idempKey, txn)
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("type", string(txn.Type)).
		Str("requester_id", req.RequesterID.String()).
		Str("amount", txn.Amount.StringFixed(domain.AmountScale)).
		Str("currency", txn.Currency).
		Msg("transaction submitted")

	return txn, nil
}

func (s *SubmissionServiceImpl) guardReplenishment(ctx context.Context, req ports.SubmitRequest) (string, error) {
	dst, err := s.ownedWallet(ctx, *req.DestinationWalletID, req.RequesterID)
	if err != nil {
		return "", err
	}
	return resolveCurrency(req.Currency, dst.Currency)
}

func (s *SubmissionServiceImpl) guardWithdraw(ctx context.Context, req ports.SubmitRequest) (string, error) {
	src, err := s.ownedWallet(ctx, *req.SourceWalletID, req.RequesterID)
	if err != nil {
		return "", err
	}
	// Advisory only; settlement re-checks under the wallet lock.
	if !src.CanCover(req.Amount) {
		return "", apperror.ErrInsufficientFunds()
	}
	return resolveCurrency(req.Currency, src.Currency)
}

func (s *SubmissionServiceImpl) guardTransfer(ctx context.Context, req ports.SubmitRequest) (string, error) {
	src, err := s.ownedWallet(ctx, *req.SourceWalletID, req.RequesterID)
	if err != nil {
		return "", err
	}
	if !src.CanCover(req.Amount) {
		return "", apperror.ErrInsufficientFunds()
	}

	dst, err := s.activeWallet(ctx, *req.DestinationWalletID)
	if err != nil {
		return "", err
	}
	if src.Currency != dst.Currency {
		return "", apperror.ErrCurrencyMismatch()
	}
	return resolveCurrency(req.Currency, src.Currency)
}

// ownedWallet loads an active wallet and hides it from anyone but its owner.
func (s *SubmissionServiceImpl) ownedWallet(ctx context.Context, walletID, ownerID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.activeWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !w.OwnedBy(ownerID) {
		return nil, apperror.ErrWalletNotFound()
	}
	return w, nil
}

func (s *SubmissionServiceImpl) activeWallet(ctx context.Context, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	if !w.IsActive {
		return nil, apperror.ErrWalletInactive()
	}
	return w, nil
}

func (s *SubmissionServiceImpl) cacheResponse(ctx context.Context, key string, txn *domain.Transaction) {
	respJSON, err := json.Marshal(txn)
	if err != nil {
		s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("failed to marshal idempotent response")
		return
	}
	if err := s.idempCache.Set(ctx, key, respJSON, s.idempTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

// resolveCurrency defaults an omitted request currency to the wallet's.
func resolveCurrency(requested, walletCurrency string) (string, error) {
	if requested == "" {
		return walletCurrency, nil
	}
	if requested != walletCurrency {
		return "", apperror.ErrCurrencyMismatch()
	}
	return walletCurrency, nil
}

func unmarshalCachedTransaction(data []byte) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal cached transaction: %w", err))
	}
	return &txn, nil
}
