package historical

// Route display colours.
const (
	ColorGreen   = "#13d68f"
	ColorYellow  = "#ffcf44"
	ColorRed     = "#f24d42"
	ColorDarkRed = "#a92727"
	ColorGrey    = "#9e9e9e"
)

// RouteColor buckets a delay ratio into a display colour. A delay of half a
// second or less is always green, whatever the ratio.
func RouteColor(delayRatio, delayTime float64) string {
	if !finite(delayRatio) || delayRatio <= 0 {
		return ColorGrey
	}
	if delayTime <= 0.5 {
		return ColorGreen
	}
	return RouteColorForRatio(delayRatio)
}

// RouteColorForRatio buckets a delay ratio when no delay time is known.
func RouteColorForRatio(delayRatio float64) string {
	switch {
	case !finite(delayRatio) || delayRatio <= 0:
		return ColorGrey
	case delayRatio >= 1.75:
		return ColorDarkRed
	case delayRatio >= 1.5:
		return ColorRed
	case delayRatio > 1.2:
		return ColorYellow
	default:
		return ColorGreen
	}
}
