package shared

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code.
type Currency string

// Supported currencies. Plans carry a yearly price in each.
const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// AllCurrencies returns the currencies plans are priced in.
func AllCurrencies() []Currency {
	return []Currency{CurrencyUSD, CurrencyEUR}
}

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: unsupported currency %q", ErrValidation, s)
	}
	return c, nil
}

// IsValid checks if the currency is supported.
func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR:
		return true
	default:
		return false
	}
}

func (c Currency) String() string {
	return string(c)
}

// Money is an amount in a currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// NewMoney builds a Money value, rejecting negative amounts and unsupported currencies.
func NewMoney(amount decimal.Decimal, currency Currency) (Money, error) {
	if !currency.IsValid() {
		return Money{}, fmt.Errorf("%w: unsupported currency %q", ErrValidation, currency)
	}
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	return Money{Amount: amount.Round(2), Currency: currency}, nil
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + string(m.Currency)
}
