package payment

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/tlb"
)

// ParseTON parses a decimal TON amount into nanotons.
func ParseTON(s string) (*big.Int, error) {
	coins, err := tlb.FromTON(s)
	if err != nil {
		return nil, fmt.Errorf("invalid TON amount %q: %w", s, err)
	}
	return coins.Nano(), nil
}

// FormatNano renders nanotons as a decimal TON string.
func FormatNano(nano *big.Int) string {
	return tlb.FromNanoTON(nano).String()
}

// Percent returns pct percent of a decimal TON amount, truncated to
// nanoton precision.
func Percent(amountTON string, pct int) (string, error) {
	nano, err := ParseTON(amountTON)
	if err != nil {
		return "", err
	}
	part := new(big.Int).Mul(nano, big.NewInt(int64(pct)))
	part.Div(part, big.NewInt(100))
	return FormatNano(part), nil
}

// Remainder returns amount minus part, both decimal TON strings.
func Remainder(amountTON, partTON string) (string, error) {
	total, err := ParseTON(amountTON)
	if err != nil {
		return "", err
	}
	part, err := ParseTON(partTON)
	if err != nil {
		return "", err
	}
	return FormatNano(new(big.Int).Sub(total, part)), nil
}

// IsPositive reports whether a decimal TON amount is strictly greater
// than zero.
func IsPositive(amountTON string) bool {
	nano, err := ParseTON(amountTON)
	if err != nil {
		return false
	}
	return nano.Sign() > 0
}
