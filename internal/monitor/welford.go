package monitor

import "math"

// Welford accumulates a running mean and sum of squared deviations.
type Welford struct {
	Count int
	Mean  float64
	M2    float64
}

func (w *Welford) Update(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
}

// StdDev returns the sample standard deviation, or 0 with fewer than two observations.
func (w *Welford) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count-1))
}

// Baseline returns the mean and sample standard deviation of values.
func Baseline(values []float64) (mean, stdev float64) {
	var w Welford
	for _, v := range values {
		w.Update(v)
	}
	return w.Mean, w.StdDev()
}
