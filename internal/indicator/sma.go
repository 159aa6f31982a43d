package indicator

import "math"

// SMA computes the trailing arithmetic mean of the last `period`
// values. NaN when a full window is not available.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
