package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney("usd 10.00")
	require.NoError(t, err)
	assert.Equal(t, "USD", m.Currency)
	assert.True(t, m.Amount.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, "USD 10.00", m.String())

	for _, bad := range []string{"", "10.00", "USD", "USD ten", "US 1.00", "USD 1.00 extra"} {
		_, err := ParseMoney(bad)
		assert.Error(t, err, bad)
	}
}

func TestMoneyStringKeepsPrecision(t *testing.T) {
	assert.Equal(t, "USD 0.125", MustMoney("USD", "0.125").String())
	assert.Equal(t, "JPY 500.00", MustMoney("JPY", "500").String())
}

func TestMoneyUnmarshalJSON(t *testing.T) {
	cases := map[string]string{
		"string form":        `"EUR 5.50"`,
		"object form":        `{"currency":"eur","amount":"5.50"}`,
		"numeric amount":     `{"currency":"EUR","amount":5.5}`,
		"surrounding spaces": `" EUR   5.50 "`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var m Money
			require.NoError(t, json.Unmarshal([]byte(raw), &m))
			assert.Equal(t, "EUR", m.Currency)
			assert.True(t, m.Amount.Equal(decimal.RequireFromString("5.5")), m.Amount.String())
		})
	}

	var m Money
	assert.Error(t, json.Unmarshal([]byte(`{"currency":"EURO","amount":"1"}`), &m))
	assert.Error(t, json.Unmarshal([]byte(`"5.50"`), &m))
}

func TestAmountBounds(t *testing.T) {
	for _, ok := range []string{"USD 0.0001", "USD 9999999999999999.9999", "USD -9999999999999999", "USD 10.5000", "USD 1e3"} {
		_, err := ParseMoney(ok)
		assert.NoError(t, err, ok)
	}

	for _, bad := range []string{"USD 1e-20000000", "USD 0.00004", "USD 1.00000", "USD 1e16", "USD 1e20000000", "USD 12345678901234567"} {
		_, err := ParseMoney(bad)
		assert.Error(t, err, bad)
	}

	var m Money
	assert.Error(t, json.Unmarshal([]byte(`{"currency":"USD","amount":"1e-20000000"}`), &m))
	assert.NoError(t, CheckAmount(decimal.Decimal{}))
}
