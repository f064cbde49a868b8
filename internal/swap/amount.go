package swap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AmountKind tells how a swap amount is obtained at execution time
type AmountKind uint8

const (
	AmountNotSet AmountKind = iota
	// AmountFixed is a concrete value known before execution
	AmountFixed
	// AmountStack takes the value left on the multicaller stack by the previous call
	AmountStack
	// AmountBalanceOf reads the token balance of an address at execution time
	AmountBalanceOf
)

// Amount is a concrete or deferred swap amount. Deferred amounts are
// resolved by the calldata encoder, never by the calculation engine.
type Amount struct {
	Kind    AmountKind
	Value   *big.Int
	Address common.Address
}

func NotSet() Amount { return Amount{} }

func Fixed(v *big.Int) Amount {
	if v == nil {
		return Amount{}
	}
	return Amount{Kind: AmountFixed, Value: new(big.Int).Set(v)}
}

func Stack() Amount { return Amount{Kind: AmountStack} }

func BalanceOf(address common.Address) Amount {
	return Amount{Kind: AmountBalanceOf, Address: address}
}

func (a Amount) IsSet() bool   { return a.Kind != AmountNotSet }
func (a Amount) IsFixed() bool { return a.Kind == AmountFixed && a.Value != nil }

// FixedValue returns a copy of the concrete value, or nil
func (a Amount) FixedValue() *big.Int {
	if !a.IsFixed() {
		return nil
	}
	return new(big.Int).Set(a.Value)
}

func (a Amount) String() string {
	switch a.Kind {
	case AmountFixed:
		return a.Value.String()
	case AmountStack:
		return "stack"
	case AmountBalanceOf:
		return fmt.Sprintf("balance(%s)", a.Address.Hex())
	default:
		return "unset"
	}
}
