package uniswapv2

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("failed to set string for big.Int")
	}
	return n
}

func TestGetAmountOut(t *testing.T) {
	testCases := []struct {
		name       string
		amountIn   *big.Int
		reserveIn  *big.Int
		reserveOut *big.Int
		feeBps     uint32
		expected   *big.Int
		expectErr  error
	}{
		{
			name:       "token0 to token1",
			amountIn:   big.NewInt(1_000_000),
			reserveIn:  big.NewInt(100_000_000),
			reserveOut: bigFromString("50000000000000000000"),
			feeBps:     30,
			expected:   bigFromString("493579017198530649"),
		},
		{
			name:       "token1 to token0",
			amountIn:   bigFromString("1000000000000000000"),
			reserveIn:  bigFromString("50000000000000000000"),
			reserveOut: big.NewInt(100_000_000),
			feeBps:     30,
			expected:   big.NewInt(1955016),
		},
		{
			name:       "empty reserves quote zero",
			amountIn:   big.NewInt(1),
			reserveIn:  big.NewInt(0),
			reserveOut: big.NewInt(100),
			feeBps:     30,
			expected:   big.NewInt(0),
		},
		{
			name:       "nil amount",
			reserveIn:  big.NewInt(1),
			reserveOut: big.NewInt(1),
			expectErr:  ErrNilAmount,
		},
		{
			name:       "negative amount",
			amountIn:   big.NewInt(-1),
			reserveIn:  big.NewInt(1),
			reserveOut: big.NewInt(1),
			expectErr:  ErrInvalidAmount,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := GetAmountOut(tc.amountIn, tc.reserveIn, tc.reserveOut, tc.feeBps)
			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, tc.expected.Cmp(out), "expected %s, got %s", tc.expected, out)
		})
	}
}

func TestGetAmountIn(t *testing.T) {
	reserveIn := big.NewInt(100_000_000)
	reserveOut := bigFromString("50000000000000000000")

	t.Run("inverts GetAmountOut", func(t *testing.T) {
		want := bigFromString("493579017198530649")
		in, err := GetAmountIn(want, reserveIn, reserveOut, 30)
		require.NoError(t, err)

		out, err := GetAmountOut(in, reserveIn, reserveOut, 30)
		require.NoError(t, err)
		assert.True(t, out.Cmp(want) >= 0, "quote %s below requested %s", out, want)
	})

	t.Run("output at reserve", func(t *testing.T) {
		_, err := GetAmountIn(reserveOut, reserveIn, reserveOut, 30)
		assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	})
}
