package units

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals int32
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 18, "1500000000000000000"},
		{"0.000000000000000001", 18, "1"},
		{"42", 0, "42"},
		{"2.50", 2, "250"},
	}
	for _, tt := range tests {
		got, err := ToBaseUnits(tt.in, tt.decimals)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.String(), tt.in)
	}
}

func TestToBaseUnitsErrors(t *testing.T) {
	_, err := ToBaseUnits("abc", 18)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ToBaseUnits("-1", 18)
	assert.ErrorIs(t, err, ErrNegative)

	_, err = ToBaseUnits("0.001", 2)
	assert.ErrorIs(t, err, ErrPrecision)
}

func TestParseBaseUnits(t *testing.T) {
	got, err := ParseBaseUnits("1000")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1000)))

	_, err = ParseBaseUnits("10.5")
	assert.ErrorIs(t, err, ErrPrecision)
}

func TestFormat(t *testing.T) {
	amount := decimal.RequireFromString("1500000000000000000")
	assert.Equal(t, "1.5 ETH", Format(amount, DefaultDecimals, "ETH"))
	assert.Equal(t, "1.5", Format(amount, DefaultDecimals, ""))
	assert.Equal(t, "0 ETH", Format(decimal.Zero, DefaultDecimals, "ETH"))
}
