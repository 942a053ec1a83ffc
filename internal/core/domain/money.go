package domain

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits stored for every amount.
const AmountScale = 2

// MaxAmount is the exclusive upper bound for amounts and balances, which are
// stored as NUMERIC(12,2).
var MaxAmount = decimal.New(1, 10)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Money pairs an amount with its ISO-4217 currency code.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// ValidCurrency reports whether code is three upper-case letters.
func ValidCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}

// ValidAmount reports whether amount is positive, below MaxAmount and has at
// most two fractional digits.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() || !amount.LessThan(MaxAmount) {
		return false
	}
	return amount.Equal(amount.Truncate(AmountScale))
}

// WithinBalanceLimit reports whether balance can be stored.
func WithinBalanceLimit(balance decimal.Decimal) bool {
	return balance.LessThan(MaxAmount)
}
