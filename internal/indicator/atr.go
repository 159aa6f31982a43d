package indicator

import (
	"math"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// ATR computes the Average True Range using Wilder's method: the first
// `period` true-range values are averaged to seed, every subsequent
// bar is smoothed as atr = (atr*(period-1) + tr) / period.
//
// Requires at least period+1 bars with all-finite OHLC in a contiguous
// tail; returns NaN otherwise. Callers must treat NaN as "not ready".
func ATR(bars []model.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN()
	}

	// Indicator windows use the longest contiguous valid tail; a bar
	// with unrecoverable gaps simply truncates the usable history.
	start := len(bars)
	for start > 0 && bars[start-1].Valid() {
		start--
	}
	valid := bars[start:]
	if len(valid) < period+1 {
		return math.NaN()
	}

	// True range needs the prior close, so valid[0] only contributes
	// its close as the reference for the first TR.
	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(&valid[i], valid[i-1].Close)
	}
	atr /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(valid); i++ {
		tr := trueRange(&valid[i], valid[i-1].Close)
		atr = (atr*(p-1) + tr) / p
	}
	return atr
}

// trueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func trueRange(b *model.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if hc := math.Abs(b.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(b.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}
