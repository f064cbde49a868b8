package uniswapv2

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// basisPointDivisor represents 100% in basis points
	basisPointDivisor = big.NewInt(10000)

	// ErrNilAmount is returned when a nil pointer is passed for an amount
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrInvalidAmount is returned for negative amounts
	ErrInvalidAmount = errors.New("amount must be non-negative")
	// ErrTokenMismatch is returned when the pair does not trade the requested tokens
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrInsufficientLiquidity is returned when amountOut is at least the reserve
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
)

// GetAmountOut applies the constant product formula with a fee in basis points.
// Empty reserves quote zero.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, error) {
	if amountIn == nil {
		return nil, ErrNilAmount
	}
	if amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int), nil
	}

	feeMultiplier := new(big.Int).Sub(basisPointDivisor, big.NewInt(int64(feeBps)))
	amountInWithFee := new(big.Int).Mul(amountIn, feeMultiplier)
	numerator := new(big.Int).Mul(reserveOut, amountInWithFee)
	denominator := new(big.Int).Mul(reserveIn, basisPointDivisor)
	denominator.Add(denominator, amountInWithFee)

	return numerator.Div(numerator, denominator), nil
}

// GetAmountIn is the inverse of GetAmountOut, rounded up by one wei like the router
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint32) (*big.Int, error) {
	if amountOut == nil {
		return nil, ErrNilAmount
	}
	if amountOut.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", ErrInsufficientLiquidity, amountOut, reserveOut)
	}

	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, basisPointDivisor)

	feeMultiplier := new(big.Int).Sub(basisPointDivisor, big.NewInt(int64(feeBps)))
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, feeMultiplier)

	// amountIn = (reserveIn * amountOut * 10000) / ((reserveOut - amountOut) * (10000 - fee)) + 1
	amountIn := numerator.Div(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}
