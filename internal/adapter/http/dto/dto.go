package dto

import (
	"github.com/shopspring/decimal"
)

// CreateWalletRequest is the request body for opening a wallet.
type CreateWalletRequest struct {
	Currency string `json:"currency" binding:"required,currency_code"`
}

// ReplenishRequest is the request body for depositing into a wallet.
type ReplenishRequest struct {
	WalletID string           `json:"wallet_id" binding:"required,uuid"`
	Amount   *decimal.Decimal `json:"amount" binding:"required"`
	Currency string           `json:"currency,omitempty" binding:"omitempty,currency_code"`
}

// WithdrawRequest is the request body for withdrawing from a wallet.
type WithdrawRequest struct {
	WalletID string           `json:"wallet_id" binding:"required,uuid"`
	Amount   *decimal.Decimal `json:"amount" binding:"required"`
	Currency string           `json:"currency,omitempty" binding:"omitempty,currency_code"`
}

// TransferRequest is the request body for moving money between wallets.
type TransferRequest struct {
	FromWalletID string           `json:"from_wallet_id" binding:"required,uuid"`
	ToWalletID   string           `json:"to_wallet_id" binding:"required,uuid,nefield=FromWalletID"`
	Amount       *decimal.Decimal `json:"amount" binding:"required"`
	Currency     string           `json:"currency,omitempty" binding:"omitempty,currency_code"`
}

// IdempotencyHeader carries the optional client-chosen submission key.
type IdempotencyHeader struct {
	Key string `header:"Idempotency-Key" binding:"omitempty,max=64,safe_id"`
}

// ListQuery holds the paging and filter query parameters of list endpoints.
type ListQuery struct {
	Page   int    `form:"page,default=1" binding:"min=1"`
	Limit  int    `form:"limit,default=20" binding:"min=1,max=100"`
	Status string `form:"status" binding:"omitempty,oneof=PROCESSING COMPLETED REJECTED"`
	Type   string `form:"type" binding:"omitempty,oneof=REPLENISHMENT WITHDRAW TRANSFER"`
}

// WalletResponse is the response body for a wallet.
type WalletResponse struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// MoneyResponse is an amount with its currency.
type MoneyResponse struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// TransactionResponse is the response body for a transaction.
type TransactionResponse struct {
	ID              string        `json:"id"`
	TransactionType string        `json:"transaction_type"`
	Status          string        `json:"status"`
	Total           MoneyResponse `json:"total"`
	FromWalletID    *string       `json:"from_wallet_id,omitempty"`
	ToWalletID      *string       `json:"to_wallet_id,omitempty"`
	CreatedAt       string        `json:"created_at"`
	SettledAt       *string       `json:"settled_at,omitempty"`
}

// StatsResponse is the response for transaction statistics.
type StatsResponse struct {
	TotalTransactions int64  `json:"total_transactions"`
	Processing        int64  `json:"processing"`
	Completed         int64  `json:"completed"`
	Rejected          int64  `json:"rejected"`
	Totals            []CurrencyTotalsResponse `json:"totals"`
}

// CurrencyTotalsResponse holds completed amounts in one currency.
type CurrencyTotalsResponse struct {
	Currency    string `json:"currency"`
	Replenished string `json:"replenished"`
	Withdrawn   string `json:"withdrawn"`
	Transferred string `json:"transferred"`
}
