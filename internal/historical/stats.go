package historical

import (
	"math"
	"sort"
)

// Percentile returns the nearest-rank percentile p (0-100) of values.
// It returns 0 for an empty slice and does not modify values.
func Percentile(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// Mean returns the arithmetic mean of values, or 0 when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PlanningTimeIndex is the 95th percentile travel time over the mean
// free-flow time. It is 0 when there is no usable baseline.
func PlanningTimeIndex(travelTimes, freeFlowTimes []float64) float64 {
	ff := Mean(freeFlowTimes)
	if len(travelTimes) == 0 || ff <= 0 {
		return 0
	}
	return Percentile(travelTimes, 95) / ff
}

// TravelTimeIndex is the mean travel time over the mean free-flow time,
// floored at 1.0.
func TravelTimeIndex(travelTimes, freeFlowTimes []float64) float64 {
	ff := Mean(freeFlowTimes)
	if len(travelTimes) == 0 || ff <= 0 {
		return 1
	}
	return math.Max(1, Mean(travelTimes)/ff)
}

// CongestionLevel converts a delay ratio to a non-negative percentage.
func CongestionLevel(delayRatio float64) float64 {
	return math.Max(0, (delayRatio-1)*100)
}

func round(v float64, places int) float64 {
	if !finite(v) {
		return 0
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

// round2 is used for seconds and percentages, round4 for ratios and indices.
func round2(v float64) float64 { return round(v, 2) }
func round4(v float64) float64 { return round(v, 4) }

// safeDiv returns num/den, or 0 when den is 0.
func safeDiv(num float64, den int) float64 {
	if den == 0 {
		return 0
	}
	return num / float64(den)
}
