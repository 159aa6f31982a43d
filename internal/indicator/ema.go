package indicator

import "math"

// EMA computes the Exponential Moving Average of values, seeded with
// the simple mean of the first `period` values and advanced with
// ema = v*k + ema*(1-k), k = 2/(period+1). NaN when fewer than
// `period` values are available.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}

	ema := 0.0
	for _, v := range values[:period] {
		ema += v
	}
	ema /= float64(period)

	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}
