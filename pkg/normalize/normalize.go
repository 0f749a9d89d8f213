// Package normalize reconciles token amounts across chains with differing
// decimal precision. Normalization happens exactly once, at deposit time,
// into the destination chain's registered decimals; the withdraw side must
// never re-normalize.
package normalize

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/crossgate/crossgate/pkg/transfer"
)

// ErrDecimalsNotRegistered is returned when no decimal count is registered
// for a (token, destination chain) pair. Deposits fail closed on it; assuming
// equal decimals would silently corrupt amounts.
var ErrDecimalsNotRegistered = errors.New("no decimals registered for token on destination chain")

// DecimalSource supplies per-(token, destination chain) decimal counts. The
// token and chain registries are external collaborators; the bridge core only
// performs read-only lookups through this interface.
type DecimalSource interface {
	// Decimals returns (srcDecimals, destDecimals) for a token being moved
	// to destChain, or ErrDecimalsNotRegistered.
	Decimals(token transfer.Address, destChain transfer.ChainID) (uint8, uint8, error)
}

var ten = big.NewInt(10)

// Amount computes amount * 10^destDecimals / 10^srcDecimals with exact
// integer arithmetic and floor division. When destDecimals < srcDecimals the
// excess precision truncates toward zero, never rounds. The argument is not
// mutated.
func Amount(amount *big.Int, srcDecimals uint8, destDecimals uint8) *big.Int {
	if srcDecimals == destDecimals {
		return new(big.Int).Set(amount)
	}

	out := new(big.Int).Mul(amount, pow10(destDecimals))
	return out.Quo(out, pow10(srcDecimals))
}

// ForDeposit normalizes a deposit amount for its destination chain using
// registered decimals, failing closed when the pair is unregistered and when
// the result no longer fits the canonical 32-byte amount field.
func ForDeposit(src DecimalSource, token transfer.Address, destChain transfer.ChainID, amount *big.Int) (*big.Int, error) {
	if err := transfer.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("invalid deposit amount: %w", err)
	}

	srcDec, destDec, err := src.Decimals(token, destChain)
	if err != nil {
		return nil, err
	}

	out := Amount(amount, srcDec, destDec)
	if err := transfer.ValidateAmount(out); err != nil {
		return nil, fmt.Errorf("normalized amount not representable: %w", err)
	}
	return out, nil
}

func pow10(d uint8) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(d)), nil)
}
