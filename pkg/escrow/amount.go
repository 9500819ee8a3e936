package escrow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const etherDecimals = 18

var ErrInvalidAmountFormat = errors.New("invalid amount")

// ParseAmount reads a settlement amount. A bare integer is taken as base
// units (wei); a value suffixed with "ether" or "eth" may carry up to 18
// fractional digits and is scaled by 10^18.
func ParseAmount(s string) (*uint256.Int, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return nil, ErrInvalidAmountFormat
	}

	scaled := false
	for _, unit := range []string{"ether", "eth"} {
		if strings.HasSuffix(raw, unit) {
			raw = strings.TrimSpace(strings.TrimSuffix(raw, unit))
			scaled = true
			break
		}
	}
	if !scaled {
		v, err := uint256.FromDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, s)
		}
		return v, nil
	}

	whole, frac, _ := strings.Cut(raw, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmountFormat, s, etherDecimals)
	}
	digits := whole + frac + strings.Repeat("0", etherDecimals-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, s)
	}
	return v, nil
}
