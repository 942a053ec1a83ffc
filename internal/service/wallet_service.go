package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// walletService implements ports.WalletService.
type walletService struct {
	walletRepo ports.WalletRepository
	log        zerolog.Logger
}

// NewWalletService creates a new wallet service.
func NewWalletService(walletRepo ports.WalletRepository, log zerolog.Logger) ports.WalletService {
	return &walletService{
		walletRepo: walletRepo,
		log:        log,
	}
}

// CreateWallet opens an empty wallet. An owner holds at most one wallet per currency.
func (s *walletService) CreateWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Wallet, error) {
	if !domain.ValidCurrency(currency) {
		return nil, apperror.ErrInvalidCurrency()
	}

	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Currency:  currency,
		Balance:   decimal.Zero,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.walletRepo.Create(ctx, w); err != nil {
		if errors.Is(err, domain.ErrWalletExists) {
			return nil, apperror.ErrWalletExists()
		}
		return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
	}

	s.log.Info().
		Str("wallet_id", w.ID.String()).
		Str("owner_id", ownerID.String()).
		Str("currency", currency).
		Msg("wallet created")

	return w, nil
}

func (s *walletService) ListWallets(ctx context.Context, ownerID uuid.UUID, page, pageSize int) ([]domain.Wallet, int64, error) {
	wallets, total, err := s.walletRepo.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return wallets, total, nil
}

// GetWallet returns the wallet if ownerID owns it. Foreign wallets look missing.
func (s *walletService) GetWallet(ctx context.Context, ownerID, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if w == nil || !w.OwnedBy(ownerID) {
		return nil, apperror.ErrWalletNotFound()
	}
	return w, nil
}

// DeactivateWallet stops the wallet from taking part in new submissions.
// Transactions already PROCESSING still settle against it.
func (s *walletService) DeactivateWallet(ctx context.Context, ownerID, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.GetWallet(ctx, ownerID, walletID)
	if err != nil {
		return nil, err
	}
	if !w.IsActive {
		return w, nil
	}

	if err := s.walletRepo.SetActive(ctx, walletID, false); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("deactivate wallet: %w", err))
	}
	w.IsActive = false
	w.UpdatedAt = time.Now().UTC()

	s.log.Info().Str("wallet_id", walletID.String()).Msg("wallet deactivated")
	return w, nil
}
