package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// ---- Wallet (WAL) ----

func ErrWalletNotFound() *AppError {
	return New("WAL_001", "Wallet does not exist", http.StatusNotFound)
}

func ErrWalletExists() *AppError {
	return New("WAL_002", "Currency wallet already exists", http.StatusConflict)
}

func ErrWalletInactive() *AppError {
	return New("WAL_003", "Wallet is deactivated", http.StatusUnprocessableEntity)
}

func ErrInvalidCurrency() *AppError {
	return New("WAL_004", "Invalid currency code", http.StatusBadRequest)
}

// ---- Transaction submission (TXN) ----

func ErrInsufficientFunds() *AppError {
	return New("TXN_001", "Not enough amount", http.StatusUnprocessableEntity)
}

func ErrCurrencyMismatch() *AppError {
	return New("TXN_002", "Invalid currency", http.StatusUnprocessableEntity)
}

func ErrInvalidAmount() *AppError {
	return New("TXN_003", "Invalid amount", http.StatusBadRequest)
}

func ErrInvalidTransaction(message string) *AppError {
	return New("TXN_004", message, http.StatusBadRequest)
}

func ErrTransactionNotFound() *AppError {
	return New("TXN_005", "Transaction does not exist", http.StatusNotFound)
}

// ---- Settlement (SET) ----

// FatalData marks a settlement job whose referenced records no longer resolve.
// Such jobs are dead-lettered without retry.
func FatalData(err error) *AppError {
	return Wrap("SET_001", "Settlement data no longer resolvable", http.StatusInternalServerError, err)
}

// IsFatal reports whether err must not be retried by the settlement worker.
func IsFatal(err error) bool {
	return HasCode(err, "SET_001")
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrQueueUnavailable(err error) *AppError {
	return Wrap("SYS_002", "Settlement queue unavailable", http.StatusServiceUnavailable, err)
}

func ErrLockTimeout(err error) *AppError {
	return Wrap("SYS_003", "Lock acquisition timeout", http.StatusServiceUnavailable, err)
}

// Validation returns a TXN_004-style validation error.
func Validation(message string) *AppError {
	return ErrInvalidTransaction(message)
}
