package indicator

import "math"

// Slope computes the ordinary least-squares slope of values against
// their indices (0..n-1). NaN when fewer than two values.
func Slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return math.NaN()
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return math.NaN()
	}
	return (fn*sumXY - sumX*sumY) / denom
}
