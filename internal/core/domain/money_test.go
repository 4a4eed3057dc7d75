package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney_Valid(t *testing.T) {
	m, err := NewMoney(decimal.NewFromInt(100), "cny")
	require.NoError(t, err)
	assert.Equal(t, "CNY", m.Currency())
	assert.True(t, m.Amount().Equal(decimal.NewFromInt(100)))
}

func TestNewMoney_RejectsNegative(t *testing.T) {
	_, err := NewMoney(decimal.NewFromInt(-1), "CNY")
	assert.Error(t, err)
}

func TestNewMoney_RejectsEmptyCurrency(t *testing.T) {
	_, err := NewMoney(decimal.NewFromInt(1), "  ")
	assert.Error(t, err)
}

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney("100.50", "USD")
	require.NoError(t, err)
	assert.Equal(t, "100.5 USD", m.String())

	_, err = ParseMoney("not-a-number", "USD")
	assert.Error(t, err)
}

func TestMoney_Add(t *testing.T) {
	a := MustMoney("10.25", "CNY")
	b := MustMoney("5.75", "CNY")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Equal(MustMoney("16.00", "CNY")))
}

func TestMoney_Add_CurrencyMismatch(t *testing.T) {
	a := MustMoney("10", "CNY")
	b := MustMoney("10", "USD")

	_, err := a.Add(b)
	assert.Error(t, err)
}

func TestMoney_Sub(t *testing.T) {
	a := MustMoney("100.00", "CNY")
	b := MustMoney("40.00", "CNY")

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Equal(MustMoney("60", "CNY")))
}

func TestMoney_Sub_NegativeResult(t *testing.T) {
	a := MustMoney("40", "CNY")
	b := MustMoney("100", "CNY")

	_, err := a.Sub(b)
	assert.Error(t, err, "subtraction below zero must be rejected")
}

func TestMoney_Cmp(t *testing.T) {
	a := MustMoney("90.00", "CNY")
	b := MustMoney("100.00", "CNY")

	cmp, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = b.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = a.Cmp(MustMoney("90", "CNY"))
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	_, err = a.Cmp(MustMoney("90", "USD"))
	assert.Error(t, err)
}

func TestMoney_JSONRoundTrip(t *testing.T) {
	m := MustMoney("123.45", "EUR")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"123.45","currency":"EUR"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, m.Equal(back))
}

func TestMoney_Unmarshal_RejectsNegative(t *testing.T) {
	var m Money
	err := json.Unmarshal([]byte(`{"amount":"-5","currency":"CNY"}`), &m)
	assert.Error(t, err)
}

func TestZeroMoney(t *testing.T) {
	z := ZeroMoney("CNY")
	assert.True(t, z.IsZero())
	assert.False(t, z.IsPositive())
	assert.Equal(t, "CNY", z.Currency())
}
