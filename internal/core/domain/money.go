package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an immutable amount + currency pair. Arithmetic between two Money
// values requires equal currencies; a mismatch is a caller error, never
// silently coerced. Amounts are non-negative; refund deltas are validated
// against the remaining refundable balance instead of being modeled as
// negative Money.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// NewMoney builds a Money value. The amount must be >= 0 and the currency
// must be a non-empty code (normalized to upper case).
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, fmt.Errorf("money: empty currency")
	}
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("money: negative amount %s", amount)
	}
	return Money{amount: amount, currency: currency}, nil
}

// ParseMoney builds a Money value from a decimal string, e.g. ("100.00", "CNY").
func ParseMoney(amount string, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse amount %q: %w", amount, err)
	}
	return NewMoney(d, currency)
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currency string) Money {
	return Money{amount: decimal.Zero, currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// MustMoney is ParseMoney that panics on error. Intended for tests and
// package-level constants.
func MustMoney(amount string, currency string) Money {
	m, err := ParseMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Amount returns the decimal amount.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the upper-case currency code.
func (m Money) Currency() string { return m.currency }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// IsPositive reports whether the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Equal reports value equality (same currency, numerically equal amount).
func (m Money) Equal(o Money) bool {
	return m.currency == o.currency && m.amount.Equal(o.amount)
}

// Add returns m + o. Errors on currency mismatch.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(o.amount), currency: m.currency}, nil
}

// Sub returns m - o. Errors on currency mismatch or a negative result.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	res := m.amount.Sub(o.amount)
	if res.IsNegative() {
		return Money{}, fmt.Errorf("money: %s - %s is negative", m, o)
	}
	return Money{amount: res, currency: m.currency}, nil
}

// Cmp compares amounts: -1 if m < o, 0 if equal, +1 if m > o.
// Errors on currency mismatch.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	return m.amount.Cmp(o.amount), nil
}

func (m Money) sameCurrency(o Money) error {
	if m.currency != o.currency {
		return fmt.Errorf("money: currency mismatch %s vs %s", m.currency, o.currency)
	}
	return nil
}

func (m Money) String() string {
	return m.amount.String() + " " + m.currency
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as a string to avoid float rounding.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount.String(), Currency: m.currency})
}

// UnmarshalJSON decodes and re-validates through NewMoney.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseMoney(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
