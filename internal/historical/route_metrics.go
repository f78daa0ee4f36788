package historical

import (
	"math"
	"sort"

	"cloud.google.com/go/civil"
)

// staticDurationTolerance is how far, in seconds, a record's static duration
// may differ from the live route geometry before the record is rejected.
const staticDurationTolerance = 1.0

// cell averages the records of one route in one hour of one date.
type cell struct {
	sumDuration float64
	sumFreeFlow float64
	n           int
}

func (c *cell) duration() float64 { return c.sumDuration / float64(c.n) }
func (c *cell) freeFlow() float64 { return c.sumFreeFlow / float64(c.n) }

// cellGrid buckets records by (hour, date, route).
type cellGrid struct {
	hours [24]map[civil.Date]map[string]*cell
	used  int
}

func (g *cellGrid) add(hour int, date civil.Date, routeID string, duration, freeFlow float64) {
	if g.hours[hour] == nil {
		g.hours[hour] = make(map[civil.Date]map[string]*cell)
	}
	byRoute := g.hours[hour][date]
	if byRoute == nil {
		byRoute = make(map[string]*cell)
		g.hours[hour][date] = byRoute
	}
	c := byRoute[routeID]
	if c == nil {
		c = &cell{}
		byRoute[routeID] = c
	}
	c.sumDuration += duration
	c.sumFreeFlow += freeFlow
	c.n++
	g.used++
}

// dates returns the dates with data at hour, in calendar order.
func (g *cellGrid) dates(hour int) []civil.Date {
	dates := make([]civil.Date, 0, len(g.hours[hour]))
	for d := range g.hours[hour] {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// routes returns every route with data, sorted.
func (g *cellGrid) routes() []string {
	set := RouteSet{}
	for _, byDate := range g.hours {
		for _, byRoute := range byDate {
			for id := range byRoute {
				set.Add(id)
			}
		}
	}
	return set.Sorted()
}

// networkTotals returns, per date at hour, the sum over distinct routes of
// their averaged duration and free-flow time.
func (g *cellGrid) networkTotals(hour int) (durations, freeFlows []float64) {
	for _, d := range g.dates(hour) {
		byRoute := g.hours[hour][d]
		ids := make([]string, 0, len(byRoute))
		for id := range byRoute {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		var dur, ff float64
		for _, id := range ids {
			dur += byRoute[id].duration()
			ff += byRoute[id].freeFlow()
		}
		durations = append(durations, dur)
		freeFlows = append(freeFlows, ff)
	}
	return durations, freeFlows
}

// routeValues returns the per-date averages of one route at hour.
func (g *cellGrid) routeValues(hour int, routeID string) (durations, freeFlows []float64) {
	for _, d := range g.dates(hour) {
		if c, ok := g.hours[hour][d][routeID]; ok {
			durations = append(durations, c.duration())
			freeFlows = append(freeFlows, c.freeFlow())
		}
	}
	return durations, freeFlows
}

// selectedDates enumerates the calendar dates of the window that fall on a
// selected weekday.
func (p *preparedQuery) selectedDates() map[civil.Date]bool {
	days := p.filter.days
	selected := make(map[civil.Date]bool)
	for _, d := range p.window.Dates() {
		if days == nil || days[weekdayOf(d)] {
			selected[d] = true
		}
	}
	return selected
}

// collectCells buckets the records of routes into a grid under policy. The
// hour range is not applied: reliability charts always span the full day.
func collectCells(p *preparedQuery, records []HistoricalRecord, routes RouteSet, policy FreeFlowPolicy, enc TimeEncoding) (*cellGrid, skipTally) {
	grid := &cellGrid{}
	var tally skipTally

	dates := p.selectedDates()
	referenceDate := civil.DateOf(p.reference)

	for _, rec := range records {
		if !routes.Has(rec.RouteID) {
			tally.filtered++
			continue
		}
		hour, err := HourOfDay(rec.RecordTime, enc)
		if err != nil {
			tally.filtered++
			continue
		}

		date, dated, err := localDate(rec, enc)
		switch {
		case err != nil, dated && !dates[date]:
			tally.filtered++
			continue
		case !dated:
			date = referenceDate
		}

		duration, freeFlow, err := policy.Resolve(rec)
		if err != nil {
			tally.numeric++
			continue
		}
		grid.add(hour, date, rec.RouteID, duration, freeFlow)
	}
	return grid, tally
}

func zeroHours() HourlyValues {
	v := make(HourlyValues, 24)
	for h := 0; h < 24; h++ {
		v[h] = 0
	}
	return v
}

// EmptyRouteMetrics returns the zeroed reliability result with all 24 hours.
func EmptyRouteMetrics(includePerRoute bool) RouteMetricsData {
	m := RouteMetricsData{
		HourlyPlanningTimeIndex: zeroHours(),
		HourlyTravelTimeIndex:   zeroHours(),
		HourlyAverageTravelTime: zeroHours(),
		HourlyFreeFlowTime:      zeroHours(),
		Hourly95thPercentile:    zeroHours(),
	}
	if includePerRoute {
		m.PerRouteMetrics = &PerRouteMetrics{
			Hourly95thPercentile:    map[string]HourlyValues{},
			HourlyFreeFlowTime:      map[string]HourlyValues{},
			HourlyAverageTravelTime: map[string]HourlyValues{},
		}
	}
	return m
}

// CalculateRouteMetrics computes network reliability indices per hour. Same
// route records within one hour of one date are averaged first; the network
// value of a date is the sum over distinct routes; hour values then
// aggregate those per-date sums. Records with a missing static duration fall
// back to their observed duration.
func CalculateRouteMetrics(q Query, opts Options) (RouteMetricsData, error) {
	p, err := prepare(q, opts)
	if err != nil {
		if isMissingInput(err) {
			opts.Logger.Debug().Err(err).Msg("route metrics: empty result")
			return EmptyRouteMetrics(opts.IncludePerRoute), nil
		}
		return EmptyRouteMetrics(opts.IncludePerRoute), err
	}

	grid, tally := collectCells(p, q.Records, q.ValidRouteIDs, FallbackFreeFlowPolicy, opts.Encoding)
	tally.log(opts.Logger, "route_metrics", grid.used)

	m := EmptyRouteMetrics(opts.IncludePerRoute)
	for h := 0; h < 24; h++ {
		durations, freeFlows := grid.networkTotals(h)
		if len(durations) == 0 {
			continue
		}
		m.HourlyAverageTravelTime[h] = round2(Mean(durations))
		m.HourlyFreeFlowTime[h] = round2(Mean(freeFlows))
		m.Hourly95thPercentile[h] = round2(Percentile(durations, 95))
		m.HourlyPlanningTimeIndex[h] = round4(PlanningTimeIndex(durations, freeFlows))
		m.HourlyTravelTimeIndex[h] = round4(TravelTimeIndex(durations, freeFlows))
	}

	if m.PerRouteMetrics != nil {
		for _, id := range grid.routes() {
			p95, ff, avg := zeroHours(), zeroHours(), zeroHours()
			for h := 0; h < 24; h++ {
				durations, freeFlows := grid.routeValues(h, id)
				if len(durations) == 0 {
					continue
				}
				p95[h] = round2(Percentile(durations, 95))
				ff[h] = round2(Mean(freeFlows))
				avg[h] = round2(Mean(durations))
			}
			m.PerRouteMetrics.Hourly95thPercentile[id] = p95
			m.PerRouteMetrics.HourlyFreeFlowTime[id] = ff
			m.PerRouteMetrics.HourlyAverageTravelTime[id] = avg
		}
	}
	return m, nil
}

// RouteQuery is the input of a single-route reliability query.
type RouteQuery struct {
	Records []HistoricalRecord
	RouteID string
	City    *City
	Filters *TimeFilters
	// StaticDurations maps route IDs to the static duration of the live
	// route geometry. Records of RouteID whose static duration disagrees by
	// more than a second are rejected.
	StaticDurations map[string]float64
}

// EmptyRouteSpecificMetrics returns the zeroed single-route result.
func EmptyRouteSpecificMetrics(routeID string) RouteSpecificMetricsData {
	hourly := make(map[int]RouteHourMetrics, 24)
	for h := 0; h < 24; h++ {
		hourly[h] = RouteHourMetrics{}
	}
	return RouteSpecificMetricsData{RouteID: routeID, Hourly: hourly}
}

// CalculateRouteSpecificMetrics computes reliability indices of one route.
// Only a missing route ID is an error; a missing city or filters yields the
// zeroed result.
func CalculateRouteSpecificMetrics(q RouteQuery, opts Options) (RouteSpecificMetricsData, error) {
	if q.RouteID == "" {
		return RouteSpecificMetricsData{}, ErrMissingRouteID
	}

	base := Query{
		ValidRouteIDs: NewRouteSet(q.RouteID),
		City:          q.City,
		Filters:       q.Filters,
	}
	p, err := prepare(base, opts)
	if err != nil {
		if isMissingInput(err) {
			opts.Logger.Debug().Err(err).Str("route_id", q.RouteID).Msg("route specific metrics: empty result")
			return EmptyRouteSpecificMetrics(q.RouteID), nil
		}
		return EmptyRouteSpecificMetrics(q.RouteID), err
	}

	expected, hasExpected := q.StaticDurations[q.RouteID]
	hasExpected = hasExpected && finite(expected) && expected > 0

	var rejected int
	consistent := make([]HistoricalRecord, 0, len(q.Records))
	for _, rec := range q.Records {
		if rec.RouteID != q.RouteID {
			continue
		}
		static := rec.StaticDurationSeconds.Float()
		if hasExpected && finite(static) && static > 0 && math.Abs(static-expected) > staticDurationTolerance {
			rejected++
			continue
		}
		consistent = append(consistent, rec)
	}

	grid, tally := collectCells(p, consistent, base.ValidRouteIDs, FallbackFreeFlowPolicy, opts.Encoding)
	tally.rejected = rejected
	tally.log(opts.Logger, "route_specific_metrics", grid.used)

	out := EmptyRouteSpecificMetrics(q.RouteID)
	out.AcceptedRecords = grid.used
	out.RejectedRecords = rejected

	var avgs, ffs, ttis, ptis []float64
	fastest, slowest := -1, -1
	for h := 0; h < 24; h++ {
		durations, freeFlows := grid.routeValues(h, q.RouteID)
		if len(durations) == 0 {
			continue
		}
		hm := RouteHourMetrics{
			AverageTravelTime: round2(Mean(durations)),
			FreeFlowTime:      round2(Mean(freeFlows)),
			Percentile95:      round2(Percentile(durations, 95)),
			PlanningTimeIndex: round4(PlanningTimeIndex(durations, freeFlows)),
			TravelTimeIndex:   round4(TravelTimeIndex(durations, freeFlows)),
			Dates:             len(durations),
		}
		out.Hourly[h] = hm

		avgs = append(avgs, hm.AverageTravelTime)
		ffs = append(ffs, hm.FreeFlowTime)
		ttis = append(ttis, hm.TravelTimeIndex)
		ptis = append(ptis, hm.PlanningTimeIndex)
		if fastest < 0 || hm.AverageTravelTime < out.Hourly[fastest].AverageTravelTime {
			fastest = h
		}
		if slowest < 0 || hm.AverageTravelTime > out.Hourly[slowest].AverageTravelTime {
			slowest = h
		}
	}

	if fastest >= 0 {
		out.FastestHour = &fastest
		out.SlowestHour = &slowest
	}
	out.AverageTravelTime = round2(Mean(avgs))
	out.AverageFreeFlowTime = round2(Mean(ffs))
	out.AverageTravelTimeIndex = round4(Mean(ttis))
	out.AveragePlanningTimeIndex = round4(Mean(ptis))
	return out, nil
}
