package historical

import "math"

// FreeFlowPolicy decides which free-flow baseline a record contributes.
type FreeFlowPolicy int

const (
	// StrictFreeFlowPolicy drops records whose durations are not finite or
	// whose static duration is not positive.
	StrictFreeFlowPolicy FreeFlowPolicy = iota
	// FallbackFreeFlowPolicy keeps records with a positive duration and uses
	// the duration itself when the static duration is missing or not
	// positive.
	FallbackFreeFlowPolicy
)

func (p FreeFlowPolicy) String() string {
	if p == FallbackFreeFlowPolicy {
		return "fallback"
	}
	return "strict"
}

// Resolve returns the observed duration and free-flow baseline of rec.
func (p FreeFlowPolicy) Resolve(rec HistoricalRecord) (duration, freeFlow float64, err error) {
	duration = rec.DurationSeconds.Float()
	freeFlow = rec.StaticDurationSeconds.Float()

	switch p {
	case FallbackFreeFlowPolicy:
		if !finite(duration) || duration <= 0 {
			return 0, 0, &InvalidNumericError{Field: "durationSeconds", Value: duration}
		}
		if !finite(freeFlow) || freeFlow <= 0 {
			freeFlow = duration
		}
	default:
		if !finite(duration) {
			return 0, 0, &InvalidNumericError{Field: "durationSeconds", Value: duration}
		}
		if !finite(freeFlow) || freeFlow <= 0 {
			return 0, 0, &InvalidNumericError{Field: "staticDurationSeconds", Value: freeFlow}
		}
	}
	return duration, freeFlow, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
