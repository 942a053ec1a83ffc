package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrWalletExists is returned by stores when an owner already holds a wallet in the currency.
var ErrWalletExists = errors.New("wallet already exists for owner and currency")

// Wallet is a single-currency balance owned by one account.
// Balance is never negative once a settlement has committed.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns the wallet balance as Money.
func (w *Wallet) Total() Money {
	return Money{Amount: w.Balance, Currency: w.Currency}
}

// CanCover reports whether the balance is at least amount.
func (w *Wallet) CanCover(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// OwnedBy reports whether the wallet belongs to ownerID.
func (w *Wallet) OwnedBy(ownerID uuid.UUID) bool {
	return w.OwnerID == ownerID
}
