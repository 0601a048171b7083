package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts and balances must fit NUMERIC(20, 4) on every backend.
const (
	AmountScale         = 4
	AmountIntegerDigits = 16
)

// Money is a decimal amount tagged with an ISO 4217 currency code.
type Money struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// NewMoney builds a Money value, normalising the currency code to upper case.
func NewMoney(currency string, amount decimal.Decimal) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if !validCurrency(code) {
		return Money{}, fmt.Errorf("invalid currency code %q", currency)
	}
	if err := CheckAmount(amount); err != nil {
		return Money{}, err
	}
	return Money{Currency: code, Amount: amount}, nil
}

// MustMoney is NewMoney for literals; it panics on malformed input.
func MustMoney(currency, amount string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(err)
	}
	m, err := NewMoney(currency, d)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMoney parses the "USD 10.00" form.
func ParseMoney(s string) (Money, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Money{}, fmt.Errorf("money %q: expected \"<CCY> <amount>\"", s)
	}
	d, err := decimal.NewFromString(fields[1])
	if err != nil {
		return Money{}, fmt.Errorf("money %q: %w", s, err)
	}
	return NewMoney(fields[0], d)
}

func (m Money) String() string {
	places := int32(2)
	if e := -m.Amount.Exponent(); e > places {
		places = e
	}
	return m.Currency + " " + m.Amount.StringFixed(places)
}

// UnmarshalJSON accepts either {"currency":"USD","amount":"10.00"} or "USD 10.00".
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := ParseMoney(s)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}

	var raw struct {
		Currency string          `json:"currency"`
		Amount   decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("money: %w", err)
	}
	parsed, err := NewMoney(raw.Currency, raw.Amount)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// CheckAmount rejects values with more than AmountScale fractional digits or more than
// AmountIntegerDigits integer digits. It never formats or rescales d.
func CheckAmount(d decimal.Decimal) error {
	if d.Exponent() < -AmountScale {
		return fmt.Errorf("amount has more than %d decimal places", AmountScale)
	}
	// 2^67 > 10^20, so a longer coefficient cannot fit once the scale is bounded.
	if d.Coefficient().BitLen() > 67 || !d.IsZero() && int64(d.NumDigits())+int64(d.Exponent()) > AmountIntegerDigits {
		return fmt.Errorf("amount has more than %d integer digits", AmountIntegerDigits)
	}
	return nil
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
