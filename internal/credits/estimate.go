package credits

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type FormulaKind string

const (
	FormulaFree       FormulaKind = "free"
	FormulaFlatByTier FormulaKind = "flat_by_tier"
	FormulaPerBlock   FormulaKind = "per_block"
	FormulaPerSecond  FormulaKind = "per_second"
)

var (
	ErrUnknownTier = errors.New("unknown resolution tier")
	ErrOutOfRange  = errors.New("pricing parameter out of range")
)

// Ceilings for the driving parameters. Anything larger is rejected rather
// than priced, so the amount arithmetic below cannot overflow.
const (
	MaxUnits   = 10_000_000
	MaxSeconds = 24 * 60 * 60
)

// Formula is the pricing rule for one stage, loaded from the stage catalog.
// Prices are in credits.
type Formula struct {
	Kind      FormulaKind        `yaml:"kind" json:"kind"`
	Tiers     map[string]float64 `yaml:"tiers,omitempty" json:"tiers,omitempty"`
	UnitPrice float64            `yaml:"unit_price,omitempty" json:"unit_price,omitempty"`
	BlockSize int                `yaml:"block_size,omitempty" json:"block_size,omitempty"`
	Minimum   float64            `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Increment float64            `yaml:"increment,omitempty" json:"increment,omitempty"`
}

// Params carries whichever driving parameter the formula reads.
type Params struct {
	Tier    string  `json:"tier,omitempty"`
	Units   int     `json:"units,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
}

const DefaultIncrement = 0.01

// Estimate returns the billable amount. The result is never below the
// formula's minimum and is always rounded up to the increment.
func Estimate(f Formula, p Params) (Amount, error) {
	var raw Amount
	switch f.Kind {
	case FormulaFree, "":
		return 0, nil
	case FormulaFlatByTier:
		price, ok := f.Tiers[strings.ToLower(strings.TrimSpace(p.Tier))]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownTier, p.Tier)
		}
		raw = FromCredits(price)
	case FormulaPerBlock:
		size := f.BlockSize
		if size <= 0 {
			size = 1
		}
		units := p.Units
		if units < 0 {
			units = 0
		}
		if units > MaxUnits {
			return 0, fmt.Errorf("%w: %d units exceeds %d", ErrOutOfRange, units, MaxUnits)
		}
		blocks := (units + size - 1) / size
		if blocks < 1 {
			blocks = 1
		}
		var err error
		if raw, err = times(int64(blocks), FromCredits(f.UnitPrice)); err != nil {
			return 0, err
		}
	case FormulaPerSecond:
		secs := p.Seconds
		if secs < 0 || math.IsNaN(secs) {
			secs = 0
		}
		if secs > MaxSeconds {
			return 0, fmt.Errorf("%w: %g seconds exceeds %d", ErrOutOfRange, secs, MaxSeconds)
		}
		var err error
		if raw, err = times(int64(math.Ceil(secs)), FromCredits(f.UnitPrice)); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unknown pricing formula %q", f.Kind)
	}

	increment := f.Increment
	if increment <= 0 {
		increment = DefaultIncrement
	}
	return RoundUp(maxAmount(raw, FromCredits(f.Minimum)), FromCredits(increment)), nil
}

func times(n int64, unit Amount) (Amount, error) {
	if n <= 0 || unit <= 0 {
		return 0, nil
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %d x %s overflows", ErrOutOfRange, n, unit)
	}
	return Amount(n) * unit, nil
}
