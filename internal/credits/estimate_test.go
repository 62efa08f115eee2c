package credits

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	firstFrame = Formula{Kind: FormulaFlatByTier, Tiers: map[string]float64{"1k": 0.05, "2k": 0.10, "4k": 0.15}, Minimum: 0.05}
	speech     = Formula{Kind: FormulaPerBlock, UnitPrice: 0.03, BlockSize: 100, Minimum: 0.03}
	lipSync    = Formula{Kind: FormulaPerSecond, UnitPrice: 0.05, Minimum: 0.25}
)

func TestEstimateFlatByTier(t *testing.T) {
	got, err := Estimate(firstFrame, Params{Tier: "4K"})
	require.NoError(t, err)
	assert.Equal(t, FromCredits(0.15), got)
	assert.Equal(t, "0.15", got.String())

	_, err = Estimate(firstFrame, Params{Tier: "8k"})
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestEstimatePerBlockRoundsUpBlocks(t *testing.T) {
	cases := map[int]string{0: "0.03", 1: "0.03", 100: "0.03", 101: "0.06", 1000: "0.30", 1001: "0.33"}
	for units, want := range cases {
		got, err := Estimate(speech, Params{Units: units})
		require.NoError(t, err)
		assert.Equal(t, want, got.String(), "units=%d", units)
	}
}

func TestEstimatePerSecondAppliesMinimum(t *testing.T) {
	got, err := Estimate(lipSync, Params{Seconds: 2})
	require.NoError(t, err)
	assert.Equal(t, "0.25", got.String())

	got, err = Estimate(lipSync, Params{Seconds: 10.2})
	require.NoError(t, err)
	assert.Equal(t, "0.55", got.String())
}

func TestEstimateRoundsUpToIncrement(t *testing.T) {
	f := Formula{Kind: FormulaPerSecond, UnitPrice: 0.013, Increment: 0.05}
	got, err := Estimate(f, Params{Seconds: 1})
	require.NoError(t, err)
	assert.Equal(t, "0.05", got.String())
}

func TestEstimateMonotonicAndFloored(t *testing.T) {
	for _, f := range []Formula{speech, lipSync} {
		var prev Amount
		for x := 0; x <= 3000; x += 7 {
			got, err := Estimate(f, Params{Units: x, Seconds: float64(x) / 10})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, int64(got), int64(prev))
			assert.GreaterOrEqual(t, int64(got), int64(FromCredits(f.Minimum)))
			prev = got
		}
	}
	var prev Amount
	for _, tier := range []string{"1k", "2k", "4k"} {
		got, err := Estimate(firstFrame, Params{Tier: tier})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, int64(got), int64(prev))
		prev = got
	}
}

func TestEstimateRejectsDriversBeyondCeiling(t *testing.T) {
	atCap, err := Estimate(speech, Params{Units: MaxUnits})
	require.NoError(t, err)
	assert.Greater(t, int64(atCap), int64(FromCredits(speech.Minimum)))

	for _, units := range []int{MaxUnits + 1, int(^uint(0) >> 1)} {
		_, err := Estimate(speech, Params{Units: units})
		assert.ErrorIs(t, err, ErrOutOfRange, units)
	}

	tenSeconds, err := Estimate(lipSync, Params{Seconds: 10})
	require.NoError(t, err)
	dayLong, err := Estimate(lipSync, Params{Seconds: MaxSeconds})
	require.NoError(t, err)
	assert.Greater(t, int64(dayLong), int64(tenSeconds))

	for _, secs := range []float64{MaxSeconds + 1, 1e15, math.Inf(1)} {
		_, err := Estimate(lipSync, Params{Seconds: secs})
		assert.ErrorIs(t, err, ErrOutOfRange, secs)
	}
}

func TestEstimateDetectsPriceOverflow(t *testing.T) {
	pricey := Formula{Kind: FormulaPerBlock, UnitPrice: 1e12, BlockSize: 1}
	_, err := Estimate(pricey, Params{Units: MaxUnits})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestEstimateFree(t *testing.T) {
	got, err := Estimate(Formula{Kind: FormulaFree}, Params{Units: 5000})
	require.NoError(t, err)
	assert.Equal(t, Amount(0), got)
}

func TestAmountFormatting(t *testing.T) {
	assert.Equal(t, "1.00", FromCredits(1).String())
	assert.Equal(t, "0.125", Amount(125_000).String())
	assert.Equal(t, "-0.05", FromCredits(-0.05).String())

	b, err := json.Marshal(struct {
		Cost Amount `json:"cost"`
	}{Cost: FromCredits(0.1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cost":0.10}`, string(b))
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, Amount(20), RoundUp(11, 10))
	assert.Equal(t, Amount(10), RoundUp(10, 10))
	assert.Equal(t, Amount(7), RoundUp(7, 0))
}
