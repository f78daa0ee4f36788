package historical

import (
	"fmt"
	"sort"
)

// hourBucket accumulates the records of one hour.
type hourBucket struct {
	count       int
	sumRatio    float64
	sumDuration float64
	sumStatic   float64
}

func (b *hourBucket) add(duration, static, ratio float64) {
	b.count++
	b.sumRatio += ratio
	b.sumDuration += duration
	b.sumStatic += static
}

func (b *hourBucket) averageRatio() (float64, bool) {
	if b.count == 0 {
		return 0, false
	}
	return b.sumRatio / float64(b.count), true
}

// routeTotals accumulates the records of one route.
type routeTotals struct {
	totalDuration float64
	totalStatic   float64
	totalRatio    float64
	totalDelay    float64
	count         int
	hours         [24]hourBucket
}

// rangeResult is a labelled hour range and its delay ratio.
type rangeResult struct {
	ratio float64
	label string
}

// hourLabel formats a range of hours as "first-end" where end is exclusive
// and wraps at midnight, so hour 8 reads "8-9" and hour 23 reads "23-0".
func hourLabel(first, last int) string {
	return fmt.Sprintf("%d-%d", first, (last+1)%24)
}

// scanPairs walks consecutive hour pairs and returns the most and the least
// congested pair. A pair's ratio is the mean of the hours that have data,
// or 1.0 when neither has. Ties keep the earliest pair.
func scanPairs(hours []int, ratioAt func(int) (float64, bool)) (peak, best rangeResult) {
	if len(hours) == 0 {
		return rangeResult{}, rangeResult{}
	}
	if len(hours) == 1 {
		r, ok := ratioAt(hours[0])
		if !ok {
			r = 1
		}
		single := rangeResult{ratio: r, label: hourLabel(hours[0], hours[0])}
		return single, single
	}

	for i := 0; i+1 < len(hours); i++ {
		a, b := hours[i], hours[i+1]
		ra, okA := ratioAt(a)
		rb, okB := ratioAt(b)

		var avg float64
		switch {
		case okA && okB:
			avg = (ra + rb) / 2
		case okA:
			avg = ra
		case okB:
			avg = rb
		default:
			avg = 1
		}

		current := rangeResult{ratio: avg, label: hourLabel(a, b)}
		if i == 0 || avg > peak.ratio {
			peak = current
		}
		if i == 0 || avg < best.ratio {
			best = current
		}
	}
	return peak, best
}

// FindBestConsecutiveTimeRange returns the least congested run of
// consecutive hours. A run grows while the next hour's ratio stays within a
// factor of tolerance of the run's average and ends at an hour without data.
// It returns "" when no hour has data.
func FindBestConsecutiveTimeRange(hours []int, ratioAt func(int) (float64, bool), tolerance float64) string {
	type run struct {
		first, last int
		sum         float64
		n           int
	}
	avg := func(r *run) float64 { return r.sum / float64(r.n) }

	var best, cur *run
	finish := func() {
		if cur != nil && (best == nil || avg(cur) < avg(best)) {
			best = cur
		}
		cur = nil
	}

	for _, h := range hours {
		r, ok := ratioAt(h)
		if !ok {
			finish()
			continue
		}
		if cur != nil {
			a := avg(cur)
			if r <= a*tolerance && r >= a/tolerance {
				cur.last = h
				cur.sum += r
				cur.n++
				continue
			}
			finish()
		}
		cur = &run{first: h, last: h, sum: r, n: 1}
	}
	finish()

	if best == nil {
		return ""
	}
	return hourLabel(best.first, best.last)
}

// EmptyHistoricalData returns the zeroed result of a query that matched
// nothing.
func EmptyHistoricalData() UnifiedHistoricalData {
	return UnifiedHistoricalData{
		EnabledSegments: RouteSet{},
		Stats: Stats{
			AverageStats: AverageStats{Hourly: []HourlyStat{}},
			RouteDelays:  []RouteDelaySummary{},
		},
		RouteColors: map[string]RouteColorInfo{},
	}
}

// Aggregate computes congestion statistics for a dashboard query. Records
// failing the filter or the strict free-flow policy are skipped. A query
// missing its city, filters or a usable day selection yields the empty
// result; only invalid time zones, periods or hour ranges return an error.
func Aggregate(q Query, opts Options) (UnifiedHistoricalData, error) {
	p, err := prepare(q, opts)
	if err != nil {
		if isMissingInput(err) {
			opts.Logger.Debug().Err(err).Msg("aggregate: empty result")
			return EmptyHistoricalData(), nil
		}
		return EmptyHistoricalData(), err
	}

	routes := make(map[string]*routeTotals)
	var global [24]hourBucket
	var tally skipTally

	for _, rec := range q.Records {
		hour, ok := p.filter.Match(rec)
		if !ok {
			tally.filtered++
			continue
		}
		duration, static, err := StrictFreeFlowPolicy.Resolve(rec)
		if err != nil {
			tally.numeric++
			continue
		}

		ratio := duration / static
		rt, ok := routes[rec.RouteID]
		if !ok {
			rt = &routeTotals{}
			routes[rec.RouteID] = rt
		}
		rt.totalDuration += duration
		rt.totalStatic += static
		rt.totalRatio += ratio
		rt.totalDelay += duration - static
		rt.count++
		rt.hours[hour].add(duration, static, ratio)
		global[hour].add(duration, static, ratio)
	}

	used := len(q.Records) - tally.filtered - tally.numeric
	tally.log(opts.Logger, "aggregate", used)
	if used == 0 {
		return EmptyHistoricalData(), nil
	}

	hours := hoursToConsider(p.filters.HourRange)
	result := EmptyHistoricalData()

	var sumDuration, sumStatic, sumRatio, sumDelay float64
	var count int
	ids := make([]string, 0, len(routes))
	for id := range routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rt := routes[id]
		summary := summarizeRoute(id, rt, hours)
		result.Stats.RouteDelays = append(result.Stats.RouteDelays, summary)
		result.EnabledSegments.Add(id)
		result.RouteColors[id] = RouteColorInfo{
			Color:      RouteColor(summary.DelayRatio, summary.AverageDelayTime),
			DelayRatio: summary.DelayRatio,
		}

		sumDuration += rt.totalDuration
		sumStatic += rt.totalStatic
		sumRatio += rt.totalRatio
		sumDelay += rt.totalDelay
		count += rt.count
	}

	sort.Slice(result.Stats.RouteDelays, func(i, j int) bool {
		a, b := result.Stats.RouteDelays[i], result.Stats.RouteDelays[j]
		if a.DelayRatio != b.DelayRatio {
			return a.DelayRatio > b.DelayRatio
		}
		return a.RouteID < b.RouteID
	})

	ratioAt := func(h int) (float64, bool) { return global[h].averageRatio() }
	overallRatio := safeDiv(sumRatio, count)

	var peak rangeResult
	var bestLabel string
	if len(hours) == 1 {
		peak = rangeResult{ratio: overallRatio, label: hourLabel(hours[0], hours[0])}
		bestLabel = peak.label
	} else {
		peak, _ = scanPairs(hours, ratioAt)
		bestLabel = FindBestConsecutiveTimeRange(hours, ratioAt, opts.tolerance())
	}
	if bestLabel == "" || peak.ratio < flatDelayRatio {
		bestLabel = peak.label
	}

	stats := &result.Stats.AverageStats
	stats.AverageDelayTime = round2(safeDiv(sumDelay, count))
	stats.AverageDelayRatio = round4(overallRatio)
	stats.AverageDuration = round2(safeDiv(sumDuration, count))
	stats.AverageStaticDuration = round2(safeDiv(sumStatic, count))
	stats.TotalRecords = count
	stats.RouteCount = len(routes)
	stats.MaxHourlyCongestionLevel = round4(peak.ratio)
	stats.MaxHourRange = peak.label
	stats.BestTimeRange = bestLabel
	for _, h := range hours {
		b := global[h]
		if b.count == 0 {
			continue
		}
		stats.Hourly = append(stats.Hourly, HourlyStat{
			Hour:                  h,
			Count:                 b.count,
			AverageDelayRatio:     round4(b.sumRatio / float64(b.count)),
			AverageDuration:       round2(b.sumDuration / float64(b.count)),
			AverageStaticDuration: round2(b.sumStatic / float64(b.count)),
		})
	}
	result.Stats.CongestionLevel = round2(CongestionLevel(peak.ratio))

	return result, nil
}

func summarizeRoute(id string, rt *routeTotals, hours []int) RouteDelaySummary {
	n := float64(rt.count)
	ratio := rt.totalRatio / n

	peak, best := scanPairs(hours, func(h int) (float64, bool) {
		return rt.hours[h].averageRatio()
	})

	return RouteDelaySummary{
		RouteID:                 id,
		AverageDelayTime:        round2(rt.totalDelay / n),
		DelayRatio:              round4(ratio),
		AverageDuration:         round2(rt.totalDuration / n),
		AverageStaticDuration:   round2(rt.totalStatic / n),
		Count:                   rt.count,
		DelayPercentage:         round2(CongestionLevel(ratio)),
		PeakCongestionHourRange: peak.label,
		PeakCongestionLevel:     round2(CongestionLevel(peak.ratio)),
		BestTimeRange:           best.label,
	}
}
