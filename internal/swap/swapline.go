// Package swap calculates and optimizes amounts along swap paths.
package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/mev-searcher/pkg/types"
)

var (
	// MinValidAmount is the smallest hop output treated as a real quote
	MinValidAmount = big.NewInt(256)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// CalculationResult is the trace of one hop
type CalculationResult struct {
	Pool      common.Address
	TokenFrom common.Address
	TokenTo   common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	GasUsed   uint64
}

// SwapLine is a path with mutable simulation state. The path itself is
// shared and never modified.
type SwapLine struct {
	Path        *types.SwapPath
	AmountIn    Amount
	AmountOut   Amount
	Calculation []CalculationResult
	SwapTo      *common.Address
	GasUsed     uint64
}

func NewSwapLine(path *types.SwapPath) *SwapLine {
	return &SwapLine{Path: path}
}

func (l *SwapLine) FirstToken() *types.Token { return l.Path.FirstToken() }
func (l *SwapLine) LastToken() *types.Token  { return l.Path.LastToken() }

// CanFlashSwap reports whether the first hop can pay out before being paid
func (l *SwapLine) CanFlashSwap() bool {
	return l.Path.Pool(0).CanFlashSwap()
}

// CanCalculateInAmount reports whether every hop can be inverted
func (l *SwapLine) CanCalculateInAmount() bool {
	for _, p := range l.Path.Pools() {
		if !p.CanCalculateInAmount() {
			return false
		}
	}
	return true
}

// CalculateWithInAmount walks the path forward from amountIn. It fails on the
// first hop that errors or yields an output below MinValidAmount. The line
// itself is not modified.
func (l *SwapLine) CalculateWithInAmount(ctx context.Context, state types.StateReader, env types.EVMEnv, amountIn *big.Int) (*big.Int, uint64, []CalculationResult, error) {
	n := l.Path.Len()
	trace := make([]CalculationResult, 0, n)
	current := amountIn
	var gas uint64

	for i := 0; i < n; i++ {
		pool := l.Path.Pool(i)
		from, to := l.Path.Token(i).Address, l.Path.Token(i+1).Address

		if current == nil || current.Sign() <= 0 {
			return nil, 0, nil, newSwapError("invalid input", pool, from, to, true, current, ErrZeroAmount)
		}
		out, g, err := pool.CalculateOutAmount(ctx, state, env, from, to, current)
		if err != nil {
			return nil, 0, nil, newSwapError("calculation failed", pool, from, to, true, current, err)
		}
		if out == nil || out.Sign() == 0 {
			return nil, 0, nil, newSwapError("zero output", pool, from, to, true, current, ErrZeroAmount)
		}
		if out.Cmp(MinValidAmount) < 0 {
			return nil, 0, nil, newSwapError("output too small", pool, from, to, true, current, ErrAmountTooSmall)
		}

		trace = append(trace, CalculationResult{
			Pool:      pool.Address(),
			TokenFrom: from,
			TokenTo:   to,
			AmountIn:  new(big.Int).Set(current),
			AmountOut: new(big.Int).Set(out),
			GasUsed:   g,
		})
		gas += g
		current = out
	}
	return new(big.Int).Set(current), gas, trace, nil
}

// CalculateWithOutAmount walks the path backwards and returns the input
// needed to receive amountOut. Every hop must support inverse calculation.
func (l *SwapLine) CalculateWithOutAmount(ctx context.Context, state types.StateReader, env types.EVMEnv, amountOut *big.Int) (*big.Int, uint64, []CalculationResult, error) {
	n := l.Path.Len()
	trace := make([]CalculationResult, n)
	current := amountOut
	var gas uint64

	for i := n - 1; i >= 0; i-- {
		pool := l.Path.Pool(i)
		from, to := l.Path.Token(i).Address, l.Path.Token(i+1).Address

		if !pool.CanCalculateInAmount() {
			return nil, 0, nil, newSwapError("inverse calculation unsupported", pool, from, to, false, current, ErrInAmountUnsupported)
		}
		if current == nil || current.Sign() <= 0 {
			return nil, 0, nil, newSwapError("invalid output", pool, from, to, false, current, ErrZeroAmount)
		}
		in, g, err := pool.CalculateInAmount(ctx, state, env, from, to, current)
		if err != nil {
			return nil, 0, nil, newSwapError("calculation failed", pool, from, to, false, current, err)
		}
		if in == nil || in.Sign() == 0 || in.Cmp(maxUint256) >= 0 {
			return nil, 0, nil, newSwapError("unreachable amount", pool, from, to, false, current, ErrInvalidQuote)
		}

		trace[i] = CalculationResult{
			Pool:      pool.Address(),
			TokenFrom: from,
			TokenTo:   to,
			AmountIn:  new(big.Int).Set(in),
			AmountOut: new(big.Int).Set(current),
			GasUsed:   g,
		}
		gas += g
		current = in
	}
	return new(big.Int).Set(current), gas, trace, nil
}

// ApplyInAmount calculates forward and stores the result on the line
func (l *SwapLine) ApplyInAmount(ctx context.Context, state types.StateReader, env types.EVMEnv, amountIn *big.Int) error {
	out, gas, trace, err := l.CalculateWithInAmount(ctx, state, env, amountIn)
	if err != nil {
		return err
	}
	l.set(amountIn, out, gas, trace)
	return nil
}

// ApplyOutAmount calculates backwards and stores the result on the line
func (l *SwapLine) ApplyOutAmount(ctx context.Context, state types.StateReader, env types.EVMEnv, amountOut *big.Int) error {
	in, gas, trace, err := l.CalculateWithOutAmount(ctx, state, env, amountOut)
	if err != nil {
		return err
	}
	l.set(in, amountOut, gas, trace)
	return nil
}

func (l *SwapLine) set(in, out *big.Int, gas uint64, trace []CalculationResult) {
	l.AmountIn = Fixed(in)
	l.AmountOut = Fixed(out)
	l.GasUsed = gas
	l.Calculation = trace
}

// Profit is out minus in. It is nil unless both amounts are fixed.
func (l *SwapLine) Profit() *big.Int {
	in, out := l.AmountIn.FixedValue(), l.AmountOut.FixedValue()
	if in == nil || out == nil {
		return nil
	}
	return out.Sub(out, in)
}

// Clone copies the simulation state; the path is shared
func (l *SwapLine) Clone() *SwapLine {
	c := *l
	c.AmountIn = cloneAmount(l.AmountIn)
	c.AmountOut = cloneAmount(l.AmountOut)
	c.Calculation = append([]CalculationResult(nil), l.Calculation...)
	if l.SwapTo != nil {
		to := *l.SwapTo
		c.SwapTo = &to
	}
	return &c
}

func cloneAmount(a Amount) Amount {
	if a.Value != nil {
		a.Value = new(big.Int).Set(a.Value)
	}
	return a
}

// Split cuts the line at hop i. Fixed amounts and the trace are carried over
// when the line has been calculated.
func (l *SwapLine) Split(i int) (*SwapLine, *SwapLine, error) {
	headPath, tailPath, err := l.Path.Split(i)
	if err != nil {
		return nil, nil, err
	}
	head, tail := NewSwapLine(headPath), NewSwapLine(tailPath)
	tail.SwapTo = l.SwapTo

	if len(l.Calculation) == l.Path.Len() {
		middle := l.Calculation[i].AmountIn
		head.AmountIn = cloneAmount(l.AmountIn)
		head.AmountOut = Fixed(middle)
		head.Calculation = append([]CalculationResult(nil), l.Calculation[:i]...)
		tail.AmountIn = Fixed(middle)
		tail.AmountOut = cloneAmount(l.AmountOut)
		tail.Calculation = append([]CalculationResult(nil), l.Calculation[i:]...)
		for _, c := range head.Calculation {
			head.GasUsed += c.GasUsed
		}
		for _, c := range tail.Calculation {
			tail.GasUsed += c.GasUsed
		}
	}
	return head, tail, nil
}

func (l *SwapLine) String() string {
	var b strings.Builder
	b.WriteString(l.Path.String())
	fmt.Fprintf(&b, " in=%s out=%s", l.AmountIn, l.AmountOut)
	if p := l.Profit(); p != nil {
		fmt.Fprintf(&b, " profit=%s", p)
	}
	if l.GasUsed > 0 {
		fmt.Fprintf(&b, " gas=%d", l.GasUsed)
	}
	return b.String()
}
