package anomaly

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// Fixed-point precision carried through scoring and storage.
	pricePlaces      = 2
	zScorePlaces     = 2
	confidencePlaces = 4
)

// maxAnomalyZ is the sentinel z-score used when history has zero spread and
// the new price differs from it. Division by a zero deviation is undefined,
// so the observation is treated as a maximal anomaly.
var maxAnomalyZ = decimal.RequireFromString("99.99")

// Options tune scoring and classification thresholds.
type Options struct {
	MinSampleSize    int
	ZThreshold       decimal.Decimal
	ConfidenceFloor  decimal.Decimal
	ConfidenceCurveK decimal.Decimal
	Direction        DirectionPolicy
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		MinSampleSize:    5,
		ZThreshold:       decimal.NewFromFloat(2.0),
		ConfidenceFloor:  decimal.NewFromFloat(0.3),
		ConfidenceCurveK: decimal.NewFromFloat(4.0),
		Direction:        DirectionDropOnly,
	}
}

// PriceStats summarises a route's history window against a new price.
type PriceStats struct {
	Min        decimal.Decimal
	Max        decimal.Decimal
	Avg        decimal.Decimal
	Current    decimal.Decimal
	Count      int
	ZScore     *decimal.Decimal
	Percentile decimal.Decimal
}

// Result holds the per-observation anomaly score. ZScore and Confidence are
// nil when the history window is below the minimum sample size.
type Result struct {
	ZScore     *decimal.Decimal
	Confidence *decimal.Decimal
}

// Score evaluates a new price against the route's historical prices.
//
// The function is pure: identical inputs produce identical outputs. An
// insufficient history is not an error; it yields nil ZScore/Confidence.
// Confidence maps |z| onto [0,1] via 1 - min(1, |z|/k), so it is 1 at z=0 and
// reaches 0 once |z| >= k.
func Score(price decimal.Decimal, history []decimal.Decimal, opts Options) (PriceStats, Result, error) {
	if price.Sign() <= 0 {
		return PriceStats{}, Result{}, fmt.Errorf("new price must be positive, got %s: %w", price, ErrInvalidInput)
	}
	for i, h := range history {
		if h.Sign() <= 0 {
			return PriceStats{}, Result{}, fmt.Errorf("history[%d] must be positive, got %s: %w", i, h, ErrInvalidInput)
		}
	}

	stats := PriceStats{
		Current: price.Round(pricePlaces),
		Count:   len(history),
	}

	if len(history) == 0 {
		return stats, Result{}, nil
	}

	sum := decimal.Zero
	atOrBelow := 0
	stats.Min = history[0]
	stats.Max = history[0]
	for _, h := range history {
		sum = sum.Add(h)
		if h.LessThan(stats.Min) {
			stats.Min = h
		}
		if h.GreaterThan(stats.Max) {
			stats.Max = h
		}
		if h.LessThanOrEqual(price) {
			atOrBelow++
		}
	}
	count := decimal.NewFromInt(int64(len(history)))
	mean := sum.Div(count)

	stats.Min = stats.Min.Round(pricePlaces)
	stats.Max = stats.Max.Round(pricePlaces)
	stats.Avg = mean.Round(pricePlaces)
	stats.Percentile = decimal.NewFromInt(int64(atOrBelow)).Div(count).Round(confidencePlaces)

	minSample := opts.MinSampleSize
	if minSample <= 0 {
		minSample = DefaultOptions().MinSampleSize
	}
	if len(history) < minSample {
		return stats, Result{}, nil
	}

	z := zScore(price, mean, history)
	confidence := confidenceFor(z, opts)

	stats.ZScore = &z
	return stats, Result{ZScore: &z, Confidence: &confidence}, nil
}

func zScore(price, mean decimal.Decimal, history []decimal.Decimal) decimal.Decimal {
	if allEqual(history) {
		if price.Equal(history[0]) {
			return decimal.Zero.Round(zScorePlaces)
		}
		if price.LessThan(history[0]) {
			return maxAnomalyZ.Neg()
		}
		return maxAnomalyZ
	}

	// Sample standard deviation; sqrt has no decimal form, so the deviation
	// passes through float64 and the quotient is rounded back to fixed
	// precision.
	var ss float64
	for _, h := range history {
		d := h.Sub(mean).InexactFloat64()
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(history)-1))

	z := price.Sub(mean).InexactFloat64() / sigma
	return decimal.NewFromFloat(z).Round(zScorePlaces)
}

func confidenceFor(z decimal.Decimal, opts Options) decimal.Decimal {
	k := opts.ConfidenceCurveK
	if k.Sign() <= 0 {
		k = DefaultOptions().ConfidenceCurveK
	}
	ratio := z.Abs().Div(k)
	one := decimal.NewFromInt(1)
	if ratio.GreaterThanOrEqual(one) {
		return decimal.Zero.Round(confidencePlaces)
	}
	return one.Sub(ratio).Round(confidencePlaces)
}

func allEqual(history []decimal.Decimal) bool {
	for _, h := range history[1:] {
		if !h.Equal(history[0]) {
			return false
		}
	}
	return true
}
