package swap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/mev-searcher/pkg/types"
)

var (
	// ErrTooManySteps means the iteration cap was reached while still
	// profitable; the best result found is returned with it.
	ErrTooManySteps = errors.New("too many optimization steps")
	// ErrOptimizationFailed means no positive profit was found
	ErrOptimizationFailed = errors.New("optimization failed")
	// ErrCannotMergeSwapStep is returned for lines that cannot share a step
	ErrCannotMergeSwapStep = errors.New("cannot merge swap step")
	// ErrNotCycle is returned when profit is requested for an open path
	ErrNotCycle = errors.New("path is not a cycle")
	// ErrAmountNotSet is returned when a concrete amount is required
	ErrAmountNotSet = errors.New("amount not set")
	// ErrInAmountUnsupported is returned when a hop cannot be inverted
	ErrInAmountUnsupported = types.ErrInAmountUnsupported

	ErrZeroAmount     = errors.New("zero amount")
	ErrAmountTooSmall = errors.New("amount below validity floor")
	ErrInvalidQuote   = errors.New("invalid quote")
)

// SwapError describes a hop that could not be calculated at a given amount
type SwapError struct {
	Message    string
	Pool       common.Address
	TokenFrom  common.Address
	TokenTo    common.Address
	IsInAmount bool
	Amount     *big.Int
	Err        error
}

func (e *SwapError) Error() string {
	side := "out"
	if e.IsInAmount {
		side = "in"
	}
	msg := fmt.Sprintf("%s: pool %s %s -> %s %s amount %s", e.Message, e.Pool.Hex(), e.TokenFrom.Hex(), e.TokenTo.Hex(), side, e.Amount)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SwapError) Unwrap() error { return e.Err }

func newSwapError(message string, pool types.Pool, from, to common.Address, isInAmount bool, amount *big.Int, err error) *SwapError {
	var a *big.Int
	if amount != nil {
		a = new(big.Int).Set(amount)
	}
	return &SwapError{
		Message:    message,
		Pool:       pool.Address(),
		TokenFrom:  from,
		TokenTo:    to,
		IsInAmount: isInAmount,
		Amount:     a,
		Err:        err,
	}
}
