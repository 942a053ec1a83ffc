package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeReplenishment TransactionType = "REPLENISHMENT"
	TransactionTypeWithdraw      TransactionType = "WITHDRAW"
	TransactionTypeTransfer      TransactionType = "TRANSFER"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeReplenishment, TransactionTypeWithdraw, TransactionTypeTransfer:
		return true
	}
	return false
}

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusRejected   TransactionStatus = "REJECTED"
)

// Valid reports whether s is a known transaction status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusProcessing, TransactionStatusCompleted, TransactionStatusRejected:
		return true
	}
	return false
}

var (
	ErrMissingSource         = errors.New("source wallet is required")
	ErrMissingDestination    = errors.New("destination wallet is required")
	ErrUnexpectedSource      = errors.New("source wallet is not allowed")
	ErrUnexpectedDestination = errors.New("destination wallet is not allowed")
	ErrSameWallet            = errors.New("source and destination must differ")
	ErrUnknownType           = errors.New("unknown transaction type")

	// ErrAlreadySettled is returned by stores on a status write to a terminal transaction.
	ErrAlreadySettled = errors.New("transaction is no longer PROCESSING")
)

// Transaction is a request to move money. It is created PROCESSING and moves
// exactly once to COMPLETED or REJECTED.
type Transaction struct {
	ID                  uuid.UUID         `json:"id"`
	Type                TransactionType   `json:"transaction_type"`
	Status              TransactionStatus `json:"status"`
	Amount              decimal.Decimal   `json:"amount"`
	Currency            string            `json:"currency"`
	SourceWalletID      *uuid.UUID        `json:"from_wallet_id,omitempty"`
	DestinationWalletID *uuid.UUID        `json:"to_wallet_id,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	SettledAt           *time.Time        `json:"settled_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusRejected
}

// Total returns the transaction amount as Money.
func (t *Transaction) Total() Money {
	return Money{Amount: t.Amount, Currency: t.Currency}
}

// Validate checks the wallet references required by the transaction type.
func (t *Transaction) Validate() error {
	switch t.Type {
	case TransactionTypeReplenishment:
		if t.DestinationWalletID == nil {
			return ErrMissingDestination
		}
		if t.SourceWalletID != nil {
			return ErrUnexpectedSource
		}
	case TransactionTypeWithdraw:
		if t.SourceWalletID == nil {
			return ErrMissingSource
		}
		if t.DestinationWalletID != nil {
			return ErrUnexpectedDestination
		}
	case TransactionTypeTransfer:
		if t.SourceWalletID == nil {
			return ErrMissingSource
		}
		if t.DestinationWalletID == nil {
			return ErrMissingDestination
		}
		if *t.SourceWalletID == *t.DestinationWalletID {
			return ErrSameWallet
		}
	default:
		return ErrUnknownType
	}
	return nil
}

// WalletIDs returns every wallet the transaction touches.
func (t *Transaction) WalletIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, 2)
	if t.SourceWalletID != nil {
		ids = append(ids, *t.SourceWalletID)
	}
	if t.DestinationWalletID != nil {
		ids = append(ids, *t.DestinationWalletID)
	}
	return ids
}
