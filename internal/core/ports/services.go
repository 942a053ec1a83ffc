package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(ownerID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	OwnerID uuid.UUID
}

// IdempotencyCache is the Redis-layer idempotency check.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SettlementQueue is an at-least-once queue of settlement jobs.
// A fetched delivery stays pending until Ack or DeadLetter is called.
type SettlementQueue interface {
	Enqueue(ctx context.Context, job domain.SettlementJob) error
	Fetch(ctx context.Context, consumer string) ([]domain.Delivery, error)
	// Reclaim takes over deliveries left pending by other consumers for longer than minIdle.
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration) ([]domain.Delivery, error)
	Ack(ctx context.Context, delivery domain.Delivery) error
	// DeadLetter records the delivery on the dead-letter stream and acks it.
	DeadLetter(ctx context.Context, delivery domain.Delivery, cause error, attempts int) error
}

// --- Service Ports (Business Logic) ---

// SubmissionService validates money-movement requests, records them as
// PROCESSING transactions and schedules their settlement.
type SubmissionService interface {
	Submit(ctx context.Context, req SubmitRequest) (*domain.Transaction, error)
}

// SubmitRequest holds validated input for a transaction submission.
type SubmitRequest struct {
	Type                domain.TransactionType
	Amount              decimal.Decimal
	Currency            string // optional, defaults to the wallet currency
	SourceWalletID      *uuid.UUID
	DestinationWalletID *uuid.UUID
	RequesterID         uuid.UUID
	IdempotencyKey      string // optional
}

// SettlementService applies a PROCESSING transaction to the ledger.
type SettlementService interface {
	Settle(ctx context.Context, transactionID uuid.UUID) (*SettlementResult, error)
}

// SettlementResult is the committed outcome of one settlement attempt.
type SettlementResult struct {
	TransactionID uuid.UUID
	Status        domain.TransactionStatus
	Reason        string // set when Status is REJECTED
	Skipped       bool   // transaction was already terminal
}

// WalletService defines wallet management business logic.
type WalletService interface {
	CreateWallet(ctx context.Context, ownerID uuid.UUID, currency string) (*domain.Wallet, error)
	ListWallets(ctx context.Context, ownerID uuid.UUID, page, pageSize int) ([]domain.Wallet, int64, error)
	GetWallet(ctx context.Context, ownerID, walletID uuid.UUID) (*domain.Wallet, error)
	DeactivateWallet(ctx context.Context, ownerID, walletID uuid.UUID) (*domain.Wallet, error)
}

// ReportingService defines read-only transaction queries.
type ReportingService interface {
	GetTransaction(ctx context.Context, ownerID, transactionID uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, ownerID uuid.UUID) (*TransactionStats, error)
}
