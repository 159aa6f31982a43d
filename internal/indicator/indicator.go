// Package indicator provides technical indicator calculations over bar slices.
//
// All functions are pure and stateless: they take the bar (or value)
// window they need and return the latest value. An indicator that does
// not have enough valid data returns math.NaN() — callers must treat
// NaN as "not ready", never as zero (zero is a valid-looking but wrong
// ATR/EMA value).
package indicator

import (
	"math"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// Ready reports whether v is a usable indicator value.
func Ready(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Closes extracts close prices in chronological order.
func Closes(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Deltas extracts signed volume deltas in chronological order.
func Deltas(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = float64(bars[i].Delta)
	}
	return out
}

// HighestHigh returns the maximum high over the last n bars
// (including the most recent). NaN if fewer than n bars.
func HighestHigh(bars []model.Bar, n int) float64 {
	if n <= 0 || len(bars) < n {
		return math.NaN()
	}
	hh := bars[len(bars)-n].High
	for _, b := range bars[len(bars)-n+1:] {
		if b.High > hh {
			hh = b.High
		}
	}
	return hh
}

// LowestLow returns the minimum low over the last n bars
// (including the most recent). NaN if fewer than n bars.
func LowestLow(bars []model.Bar, n int) float64 {
	if n <= 0 || len(bars) < n {
		return math.NaN()
	}
	ll := bars[len(bars)-n].Low
	for _, b := range bars[len(bars)-n+1:] {
		if b.Low < ll {
			ll = b.Low
		}
	}
	return ll
}
