package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/mev-searcher/pkg/types"
)

// SwapStep groups lines sharing the same first and last token, executed as
// a split of one logical leg.
type SwapStep struct {
	Lines  []*SwapLine
	SwapTo *common.Address
}

func NewSwapStep(lines ...*SwapLine) (*SwapStep, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty step", ErrCannotMergeSwapStep)
	}
	first, last := lines[0].FirstToken().Address, lines[0].LastToken().Address
	for _, l := range lines[1:] {
		if l.FirstToken().Address != first || l.LastToken().Address != last {
			return nil, fmt.Errorf("%w: lines do not share endpoints", ErrCannotMergeSwapStep)
		}
	}
	return &SwapStep{Lines: lines}, nil
}

func (s *SwapStep) FirstToken() *types.Token { return s.Lines[0].FirstToken() }
func (s *SwapStep) LastToken() *types.Token  { return s.Lines[0].LastToken() }

// InAmount sums the fixed inputs, nil if any is not fixed
func (s *SwapStep) InAmount() *big.Int {
	return s.sum(func(l *SwapLine) Amount { return l.AmountIn })
}

// OutAmount sums the fixed outputs, nil if any is not fixed
func (s *SwapStep) OutAmount() *big.Int {
	return s.sum(func(l *SwapLine) Amount { return l.AmountOut })
}

func (s *SwapStep) sum(get func(*SwapLine) Amount) *big.Int {
	total := new(big.Int)
	for _, l := range s.Lines {
		v := get(l).FixedValue()
		if v == nil {
			return nil
		}
		total.Add(total, v)
	}
	return total
}

func (s *SwapStep) GasUsed() uint64 {
	var gas uint64
	for _, l := range s.Lines {
		gas += l.GasUsed
	}
	return gas
}

func (s *SwapStep) CanFlashSwap() bool {
	for _, l := range s.Lines {
		if !l.CanFlashSwap() {
			return false
		}
	}
	return true
}

func (s *SwapStep) CanCalculateInAmount() bool {
	for _, l := range s.Lines {
		if !l.CanCalculateInAmount() {
			return false
		}
	}
	return true
}

func (s *SwapStep) Clone() *SwapStep {
	c := &SwapStep{Lines: make([]*SwapLine, len(s.Lines))}
	for i, l := range s.Lines {
		c.Lines[i] = l.Clone()
	}
	if s.SwapTo != nil {
		to := *s.SwapTo
		c.SwapTo = &to
	}
	return c
}

func (s *SwapStep) String() string {
	parts := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		parts[i] = l.String()
	}
	return "[" + strings.Join(parts, " | ") + "]"
}

// StepsProfit is what step1 returns minus what step0 consumes
func StepsProfit(step0, step1 *SwapStep) *big.Int {
	in, out := step0.InAmount(), step1.OutAmount()
	if in == nil || out == nil {
		return nil
	}
	return out.Sub(out, in)
}

// MergeSwapPaths combines two calculated cycles that share either a common
// prefix or a common suffix into a pair of steps. With a prefix the shared
// head runs once on the combined input and the tails run in parallel; with a
// suffix the heads run in parallel and feed one shared tail. Amounts are
// carried over from each line's calculation trace.
func MergeSwapPaths(a, b *SwapLine) (*SwapStep, *SwapStep, error) {
	for _, l := range []*SwapLine{a, b} {
		if !l.AmountIn.IsFixed() || !l.AmountOut.IsFixed() || len(l.Calculation) != l.Path.Len() {
			return nil, nil, fmt.Errorf("%w: line %s not calculated", ErrCannotMergeSwapStep, l.Path)
		}
	}
	if a.FirstToken().Address != b.FirstToken().Address || a.LastToken().Address != b.LastToken().Address {
		return nil, nil, fmt.Errorf("%w: endpoints differ", ErrCannotMergeSwapStep)
	}
	if a.Path.Key() == b.Path.Key() {
		return nil, nil, fmt.Errorf("%w: identical paths", ErrCannotMergeSwapStep)
	}

	na, nb := a.Path.Len(), b.Path.Len()
	prefix := commonPrefix(a.Path, b.Path)
	suffix := commonSuffix(a.Path, b.Path)

	switch {
	case prefix > 0 && suffix > 0:
		return nil, nil, fmt.Errorf("%w: paths share both a prefix and a suffix", ErrCannotMergeSwapStep)
	case prefix == 0 && suffix == 0:
		return nil, nil, fmt.Errorf("%w: paths share no prefix or suffix", ErrCannotMergeSwapStep)
	case prefix >= na || prefix >= nb || suffix >= na || suffix >= nb:
		return nil, nil, fmt.Errorf("%w: one path contains the other", ErrCannotMergeSwapStep)
	}

	if prefix > 0 {
		aHead, aTail, err := a.Split(prefix)
		if err != nil {
			return nil, nil, err
		}
		bHead, bTail, err := b.Split(prefix)
		if err != nil {
			return nil, nil, err
		}
		head := mergeLines(aHead, bHead)
		step0, _ := NewSwapStep(head)
		step1, err := NewSwapStep(aTail, bTail)
		if err != nil {
			return nil, nil, err
		}
		return step0, step1, nil
	}

	aHead, aTail, err := a.Split(na - suffix)
	if err != nil {
		return nil, nil, err
	}
	bHead, bTail, err := b.Split(nb - suffix)
	if err != nil {
		return nil, nil, err
	}
	step0, err := NewSwapStep(aHead, bHead)
	if err != nil {
		return nil, nil, err
	}
	step1, _ := NewSwapStep(mergeLines(aTail, bTail))
	return step0, step1, nil
}

// mergeLines adds the flows of two lines over the same path. The combined
// trace is unknown until recalculated.
func mergeLines(a, b *SwapLine) *SwapLine {
	merged := NewSwapLine(a.Path)
	merged.AmountIn = Fixed(new(big.Int).Add(a.AmountIn.Value, b.AmountIn.Value))
	merged.AmountOut = Fixed(new(big.Int).Add(a.AmountOut.Value, b.AmountOut.Value))
	merged.GasUsed = a.GasUsed
	merged.SwapTo = a.SwapTo
	return merged
}

func commonPrefix(a, b *types.SwapPath) int {
	n := 0
	for n < a.Len() && n < b.Len() &&
		a.Pool(n).Address() == b.Pool(n).Address() &&
		a.Token(n+1).Address == b.Token(n+1).Address {
		n++
	}
	return n
}

func commonSuffix(a, b *types.SwapPath) int {
	na, nb := a.Len(), b.Len()
	n := 0
	for n < na && n < nb &&
		a.Pool(na-1-n).Address() == b.Pool(nb-1-n).Address() &&
		a.Token(na-1-n).Address == b.Token(nb-1-n).Address {
		n++
	}
	return n
}

type stepsResult struct {
	step0, step1 *SwapStep
}

// OptimizeSwapSteps tunes the amounts of a merged pair of steps. One of the
// two steps must hold a single line. When the first step can be inverted the
// middle amounts are searched and the first step derived from them,
// otherwise the first step's inputs are searched and propagated forward.
//
// ErrTooManySteps is returned together with the best profitable steps when
// the iteration cap is hit; ErrOptimizationFailed when no positive profit exists.
func OptimizeSwapSteps(ctx context.Context, state types.StateReader, env types.EVMEnv, step0, step1 *SwapStep) (*SwapStep, *SwapStep, *Optimization, error) {
	if step0.LastToken().Address != step1.FirstToken().Address || step0.FirstToken().Address != step1.LastToken().Address {
		return nil, nil, nil, fmt.Errorf("%w: steps do not form a cycle", ErrCannotMergeSwapStep)
	}
	if len(step0.Lines) > 1 && len(step1.Lines) > 1 {
		return nil, nil, nil, fmt.Errorf("%w: both steps are split", ErrCannotMergeSwapStep)
	}

	var (
		vars []*big.Int
		eval evalFunc[stepsResult]
		err  error
	)
	middleMode := step0.CanCalculateInAmount()
	if len(step0.Lines) == 1 {
		vars, eval, err = sharedHead(ctx, state, env, step0, step1, middleMode)
	} else {
		vars, eval, err = sharedTail(ctx, state, env, step0, step1, middleMode)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	profit, res, err := eval(vars)
	if err != nil {
		return nil, nil, nil, err
	}
	opt := &Optimization{Iterations: 1, History: []*big.Int{new(big.Int).Set(profit)}}
	best := climb(candidate[stepsResult]{vars: vars, profit: profit, state: res}, eval, opt)

	if best.profit.Sign() <= 0 {
		return nil, nil, opt, fmt.Errorf("%w: best profit %s", ErrOptimizationFailed, best.profit)
	}
	if opt.Capped {
		return best.state.step0, best.state.step1, opt, ErrTooManySteps
	}
	return best.state.step0, best.state.step1, opt, nil
}

// sharedHead handles one head line followed by parallel tails
func sharedHead(ctx context.Context, state types.StateReader, env types.EVMEnv, step0, step1 *SwapStep, middleMode bool) ([]*big.Int, evalFunc[stepsResult], error) {
	head := step0.Lines[0]
	middles := make([]*big.Int, len(step1.Lines))
	for i, l := range step1.Lines {
		if middles[i] = l.AmountIn.FixedValue(); middles[i] == nil {
			return nil, nil, fmt.Errorf("%w: tail %s", ErrAmountNotSet, l.Path)
		}
	}

	runTails := func(s1 *SwapStep, ins []*big.Int) (*big.Int, error) {
		total := new(big.Int)
		for i, l := range s1.Lines {
			if err := l.ApplyInAmount(ctx, state, env, ins[i]); err != nil {
				return nil, err
			}
			total.Add(total, l.AmountOut.Value)
		}
		return total, nil
	}

	if middleMode {
		eval := func(vars []*big.Int) (*big.Int, stepsResult, error) {
			s0, s1 := step0.Clone(), step1.Clone()
			out, err := runTails(s1, vars)
			if err != nil {
				return nil, stepsResult{}, err
			}
			if err := s0.Lines[0].ApplyOutAmount(ctx, state, env, sum(vars)); err != nil {
				return nil, stepsResult{}, err
			}
			return out.Sub(out, s0.Lines[0].AmountIn.Value), stepsResult{s0, s1}, nil
		}
		return middles, eval, nil
	}

	headIn := head.AmountIn.FixedValue()
	if headIn == nil {
		return nil, nil, fmt.Errorf("%w: head %s", ErrAmountNotSet, head.Path)
	}
	weights := middles
	eval := func(vars []*big.Int) (*big.Int, stepsResult, error) {
		s0, s1 := step0.Clone(), step1.Clone()
		if err := s0.Lines[0].ApplyInAmount(ctx, state, env, vars[0]); err != nil {
			return nil, stepsResult{}, err
		}
		out, err := runTails(s1, proportional(s0.Lines[0].AmountOut.Value, weights))
		if err != nil {
			return nil, stepsResult{}, err
		}
		return out.Sub(out, vars[0]), stepsResult{s0, s1}, nil
	}
	return []*big.Int{headIn}, eval, nil
}

// sharedTail handles parallel heads feeding one tail line
func sharedTail(ctx context.Context, state types.StateReader, env types.EVMEnv, step0, step1 *SwapStep, middleMode bool) ([]*big.Int, evalFunc[stepsResult], error) {
	vars := make([]*big.Int, len(step0.Lines))
	for i, l := range step0.Lines {
		a := l.AmountIn
		if middleMode {
			a = l.AmountOut
		}
		if vars[i] = a.FixedValue(); vars[i] == nil {
			return nil, nil, fmt.Errorf("%w: head %s", ErrAmountNotSet, l.Path)
		}
	}

	eval := func(vars []*big.Int) (*big.Int, stepsResult, error) {
		s0, s1 := step0.Clone(), step1.Clone()
		spent, middle := new(big.Int), new(big.Int)
		for i, l := range s0.Lines {
			var err error
			if middleMode {
				err = l.ApplyOutAmount(ctx, state, env, vars[i])
			} else {
				err = l.ApplyInAmount(ctx, state, env, vars[i])
			}
			if err != nil {
				return nil, stepsResult{}, err
			}
			spent.Add(spent, l.AmountIn.Value)
			middle.Add(middle, l.AmountOut.Value)
		}
		tail := s1.Lines[0]
		if err := tail.ApplyInAmount(ctx, state, env, middle); err != nil {
			return nil, stepsResult{}, err
		}
		out := new(big.Int).Sub(tail.AmountOut.Value, spent)
		return out, stepsResult{s0, s1}, nil
	}
	return vars, eval, nil
}

func sum(vs []*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range vs {
		total.Add(total, v)
	}
	return total
}

// proportional splits total by weights; the last share takes the rounding remainder
func proportional(total *big.Int, weights []*big.Int) []*big.Int {
	wsum := sum(weights)
	out := make([]*big.Int, len(weights))
	rest := new(big.Int).Set(total)
	for i, w := range weights {
		if i == len(weights)-1 {
			out[i] = rest
			break
		}
		share := new(big.Int).Mul(total, w)
		if wsum.Sign() > 0 {
			share.Quo(share, wsum)
		}
		out[i] = share
		rest = new(big.Int).Sub(rest, share)
	}
	return out
}
