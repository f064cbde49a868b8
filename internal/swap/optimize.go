package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/devlongs/mev-searcher/pkg/types"
)

const (
	// MaxIterations bounds the evaluations of one optimization, baseline included
	MaxIterations = 30

	// steps are expressed in millionths of the current value
	stepScale = 1_000_000
)

var bigStepScale = big.NewInt(stepScale)

// Optimization describes how a search ended
type Optimization struct {
	// Iterations counts evaluations including the baseline
	Iterations int
	// History holds the profit of every accepted point, baseline first
	History []*big.Int
	// Capped is set when the search stopped at MaxIterations
	Capped bool
}

// BestProfit returns the last accepted profit
func (o *Optimization) BestProfit() *big.Int {
	if o == nil || len(o.History) == 0 {
		return nil
	}
	return new(big.Int).Set(o.History[len(o.History)-1])
}

type candidate[S any] struct {
	vars   []*big.Int
	profit *big.Int
	state  S
}

type evalFunc[S any] func(vars []*big.Int) (*big.Int, S, error)

// climb is a coordinate hill climb with a shrinking relative step. Each
// coordinate keeps moving in its direction while profit strictly improves,
// tries the opposite direction once on failure, and the step shrinks tenfold
// after a pass without improvement. It stops when the step reaches zero or
// after MaxIterations evaluations. It finds a local optimum only.
func climb[S any](start candidate[S], eval evalFunc[S], opt *Optimization) candidate[S] {
	best := start
	dirs := make([]int, len(best.vars))
	for i := range dirs {
		dirs[i] = 1
	}

	for step := int64(stepScale); step > 0; {
		improved := false
		for i := range best.vars {
			for attempt := 0; attempt < 2; attempt++ {
				trial := perturb(best.vars[i], dirs[i], step)
				if trial != nil {
					if opt.Iterations >= MaxIterations {
						opt.Capped = true
						return best
					}
					opt.Iterations++
					vars := withVar(best.vars, i, trial)
					profit, state, err := eval(vars)
					if err == nil && profit.Cmp(best.profit) > 0 {
						best = candidate[S]{vars: vars, profit: profit, state: state}
						opt.History = append(opt.History, new(big.Int).Set(profit))
						improved = true
						break
					}
				}
				dirs[i] = -dirs[i]
			}
		}
		if !improved {
			step /= 10
		}
	}
	return best
}

// perturb returns v ± v*step/1e6, or nil when the trial is not a new positive value
func perturb(v *big.Int, dir int, step int64) *big.Int {
	delta := new(big.Int).Mul(v, big.NewInt(step))
	delta.Quo(delta, bigStepScale)
	if delta.Sign() == 0 {
		return nil
	}
	if dir < 0 {
		delta.Neg(delta)
	}
	trial := delta.Add(v, delta)
	if trial.Sign() <= 0 {
		return nil
	}
	return trial
}

func withVar(vars []*big.Int, i int, v *big.Int) []*big.Int {
	out := append([]*big.Int(nil), vars...)
	out[i] = v
	return out
}

type lineResult struct {
	in, out *big.Int
	gas     uint64
	trace   []CalculationResult
}

// OptimizeWithInAmount searches the input amount maximizing out - in of a
// cycle, starting from initial. An error at the initial amount is returned
// as is since there is no valid baseline. Reaching the iteration cap is not
// an error; the line is left at the best point found.
func (l *SwapLine) OptimizeWithInAmount(ctx context.Context, state types.StateReader, env types.EVMEnv, initial *big.Int) (*Optimization, error) {
	if !l.Path.IsCycle() {
		return nil, fmt.Errorf("%w: %s", ErrNotCycle, l.Path)
	}

	eval := func(vars []*big.Int) (*big.Int, lineResult, error) {
		out, gas, trace, err := l.CalculateWithInAmount(ctx, state, env, vars[0])
		if err != nil {
			return nil, lineResult{}, err
		}
		return new(big.Int).Sub(out, vars[0]), lineResult{in: vars[0], out: out, gas: gas, trace: trace}, nil
	}

	if initial == nil {
		initial = new(big.Int)
	}
	start := new(big.Int).Set(initial)
	profit, res, err := eval([]*big.Int{start})
	if err != nil {
		return nil, err
	}

	opt := &Optimization{Iterations: 1, History: []*big.Int{new(big.Int).Set(profit)}}
	best := climb(candidate[lineResult]{vars: []*big.Int{start}, profit: profit, state: res}, eval, opt)
	l.set(best.state.in, best.state.out, best.state.gas, best.state.trace)
	return opt, nil
}
