// Package units converts between decimal token amounts and integer base units.
package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Normalize resolves an amount given either as base units or as a decimal
// string, returning both forms. Exactly one input must be set.
func Normalize(baseUnits, decimal string, decimals int) (*big.Int, string, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	decimal = strings.TrimSpace(decimal)
	if baseUnits != "" && decimal != "" {
		return nil, "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return nil, "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if baseUnits != "" {
		n, err := ParseBaseUnits(baseUnits)
		if err != nil {
			return nil, "", err
		}
		return n, Format(n, decimals), nil
	}
	n, err := ToBaseUnits(decimal, decimals)
	if err != nil {
		return nil, "", err
	}
	return n, normalizeDecimal(decimal), nil
}

// ParseBaseUnits parses a non-negative decimal integer.
func ParseBaseUnits(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "-") {
		return nil, clierr.New(clierr.CodeUsage, "--amount must be non-negative")
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "--amount must be a positive integer string")
	}
	return n, nil
}

// ToBaseUnits scales a decimal string such as "1.25" by 10^decimals.
// Precision beyond the token decimals is rejected rather than rounded.
func ToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	decimal = strings.TrimSpace(decimal)
	if !decimalPattern.MatchString(decimal) {
		return nil, clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	intPart, fracPart, _ := strings.Cut(decimal, ".")
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return n, nil
}

// Format renders base units as a decimal string without trailing zeros.
func Format(n *big.Int, decimals int) string {
	if n == nil {
		return "0"
	}
	s := n.String()
	if decimals <= 0 || n.Sign() < 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func normalizeDecimal(v string) string {
	intPart, fracPart, _ := strings.Cut(v, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
