package amount

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/blues/escrow/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad fixture " + s)
	}
	return v
}

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0", "0"},
		{"0.6", "600000000000000000"},
		{"0.000001", "1000000000000"},
		{"123456789.123456", "123456789123456000000000000"},
		{" 2.5 ", "2500000000000000000"},
		{"0.1000000", "100000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToBaseUnits(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestToBaseUnits_Rejects(t *testing.T) {
	for _, in := range []string{"-1", "abc", "0.0000001", "", "1e18", "1.2.3", ".5", "+1"} {
		t.Run(in, func(t *testing.T) {
			_, err := ToBaseUnits(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAmount))
			assert.True(t, errors.Is(err, apperr.ErrValidation))
		})
	}
}

func TestToBaseUnits_Range(t *testing.T) {
	_, err := ToBaseUnits("1" + strings.Repeat("0", 70))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAmount))

	// 恰好 2^256-1 个基础单位
	c, err := New(0, 0)
	require.NoError(t, err)
	v, err := c.ToBaseUnits(MaxBaseUnits.String())
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())

	_, err = c.ToBaseUnits(new(big.Int).Add(MaxBaseUnits, big.NewInt(1)).String())
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestRoundTrip(t *testing.T) {
	for _, in := range []string{"1", "0", "0.5", "1.25", "0.000001", "999999999999.999999", "42"} {
		t.Run(in, func(t *testing.T) {
			base, err := ToBaseUnits(in)
			require.NoError(t, err)
			assert.Equal(t, in, ToDisplayUnits(base))
		})
	}
}

func TestToDisplayUnits_PreservesFullPrecision(t *testing.T) {
	assert.Equal(t, "0.000000000000000001", ToDisplayUnits(big.NewInt(1)))
	assert.Equal(t, "1.1", ToDisplayUnits(wei("1100000000000000000")))
	assert.Equal(t, "0", ToDisplayUnits(nil))
}

func TestFormatFixed(t *testing.T) {
	c := Default()

	assert.Equal(t, "1.000000", c.Format(wei("1000000000000000000")))
	assert.Equal(t, "0.600000", c.FormatFixed(wei("600000000000000000"), 6))
	assert.Equal(t, "0.000001", c.Format(wei("500000000000")))
	assert.Equal(t, "0.00", c.FormatFixed(nil, 2))
}

func TestNew(t *testing.T) {
	_, err := New(6, 8)
	assert.Error(t, err)

	c, err := New(6, 2)
	require.NoError(t, err)
	v, err := c.ToBaseUnits("1.25")
	require.NoError(t, err)
	assert.Equal(t, int64(1250000), v.Int64())

	_, err = c.ToBaseUnits("1.255")
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}
