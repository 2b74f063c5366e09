package fixedpoint

import (
	"fmt"
	"math/big"
)

// Format renders a fixed-point integer as a decimal string with the given precision.
func Format(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	rat := new(big.Rat).SetFrac(abs, Pow10(decimals))
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// ParseUnits parses a decimal string such as "1.5" into an integer with the given precision.
// Digits beyond the precision are rejected rather than rounded.
func ParseUnits(input string, decimals uint8) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(input)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", input)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", input)
	}
	rat.Mul(rat, new(big.Rat).SetInt(Pow10(decimals)))
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %s exceeds %d decimals", input, decimals)
	}
	return new(big.Int).Set(rat.Num()), nil
}

// ParseInt parses a base-10 integer string. An empty string is zero.
func ParseInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
