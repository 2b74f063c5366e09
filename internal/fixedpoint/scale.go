package fixedpoint

import (
	"math/big"
)

// CanonicalDecimals is the precision every ledger amount is expressed in.
const CanonicalDecimals = 18

// Scale is 10^18, the fixed-point unit of the accumulator.
var Scale = Pow10(CanonicalDecimals)

// Pow10 returns 10^n as a new big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ToCanonical converts a raw amount in the given native precision to 18 decimals.
// Precision above 18 is truncated toward zero; the dropped dust is not credited anywhere.
func ToCanonical(raw *big.Int, decimals uint8) *big.Int {
	if raw == nil {
		return new(big.Int)
	}
	switch {
	case decimals == CanonicalDecimals:
		return new(big.Int).Set(raw)
	case decimals > CanonicalDecimals:
		return new(big.Int).Quo(raw, Pow10(decimals-CanonicalDecimals))
	default:
		return new(big.Int).Mul(raw, Pow10(CanonicalDecimals-decimals))
	}
}

// FromCanonical converts an 18-decimal amount back to the given native precision.
// Converting down to fewer decimals truncates toward zero.
func FromCanonical(value *big.Int, decimals uint8) *big.Int {
	if value == nil {
		return new(big.Int)
	}
	switch {
	case decimals == CanonicalDecimals:
		return new(big.Int).Set(value)
	case decimals > CanonicalDecimals:
		return new(big.Int).Mul(value, Pow10(decimals-CanonicalDecimals))
	default:
		return new(big.Int).Quo(value, Pow10(CanonicalDecimals-decimals))
	}
}

// MulDiv returns a*b/d truncated toward zero. d must be non-zero.
func MulDiv(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, d)
}
