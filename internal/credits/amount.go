package credits

import (
	"fmt"
	"math"
	"strings"
)

// Amount is a credit quantity in micro-credits. Integer math keeps rounding exact.
type Amount int64

const Micro Amount = 1_000_000

// FromCredits converts a decimal credit value, rounding to the nearest micro-credit.
func FromCredits(v float64) Amount {
	return Amount(math.Round(v * float64(Micro)))
}

func (a Amount) Credits() float64 {
	return float64(a) / float64(Micro)
}

// String renders at least two decimals, e.g. "0.15", "1.00", "0.125".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / int64(Micro)
	frac := fmt.Sprintf("%06d", v%int64(Micro))
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return fmt.Sprintf("%s%d.%s", sign, whole, frac)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// RoundUp rounds a up to the next multiple of increment. A non-positive increment is a no-op.
func RoundUp(a, increment Amount) Amount {
	if increment <= 0 || a <= 0 {
		return a
	}
	if r := a % increment; r != 0 {
		return a + increment - r
	}
	return a
}

func maxAmount(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}
