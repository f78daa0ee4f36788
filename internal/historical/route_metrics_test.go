package historical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routepulse/routepulse/internal/historical"
)

// mondayRecords spans two Mondays (2025-07-07 and 2025-07-14) and one
// Wednesday that the day selection excludes.
func mondayRecords() []historical.HistoricalRecord {
	return []historical.HistoricalRecord{
		record("R1", "2025-07-07T08:10:00+09:00", 100, 80),
		record("R1", "2025-07-07T08:40:00+09:00", 140, 80),
		record("R2", "2025-07-07T08:20:00+09:00", 60, 50),
		record("R1", "2025-07-14T08:10:00+09:00", 100, 0),
		record("R2", "2025-07-14T08:30:00+09:00", 100, 50),
		record("R1", "2025-07-09T08:00:00+09:00", 999, 80),
	}
}

func mondayQuery(t *testing.T) historical.Query {
	start, end := date(t, "2025-07-07"), date(t, "2025-07-14")
	return historical.Query{
		Records:       mondayRecords(),
		ValidRouteIDs: historical.NewRouteSet("R1", "R2"),
		City:          tokyo(t),
		Filters: &historical.TimeFilters{
			TimePeriod: historical.PeriodCustom,
			StartDate:  &start,
			EndDate:    &end,
			Days:       []string{"monday"},
		},
	}
}

func TestCalculateRouteMetrics(t *testing.T) {
	o := opts()
	o.IncludePerRoute = true

	m, err := historical.CalculateRouteMetrics(mondayQuery(t), o)
	require.NoError(t, err)

	// Per date at 08:00 the network sums its route averages:
	// 07-07: R1 120 + R2 60 = 180 (free flow 80 + 50)
	// 07-14: R1 100 + R2 100 = 200 (free flow 100 fallback + 50)
	assert.Equal(t, 190.0, m.HourlyAverageTravelTime[8])
	assert.Equal(t, 140.0, m.HourlyFreeFlowTime[8])
	assert.Equal(t, 200.0, m.Hourly95thPercentile[8])
	assert.Equal(t, 1.4286, m.HourlyPlanningTimeIndex[8])
	assert.Equal(t, 1.3571, m.HourlyTravelTimeIndex[8])

	assert.Len(t, m.HourlyAverageTravelTime, 24)
	assert.Equal(t, 0.0, m.HourlyAverageTravelTime[9])
	assert.Equal(t, 0.0, m.HourlyTravelTimeIndex[9])

	require.NotNil(t, m.PerRouteMetrics)
	assert.Equal(t, 110.0, m.PerRouteMetrics.HourlyAverageTravelTime["R1"][8])
	assert.Equal(t, 120.0, m.PerRouteMetrics.Hourly95thPercentile["R1"][8])
	assert.Equal(t, 90.0, m.PerRouteMetrics.HourlyFreeFlowTime["R1"][8])
	assert.Len(t, m.PerRouteMetrics.HourlyAverageTravelTime["R2"], 24)
}

// liveQuery holds local time strings dated on two Mondays and a Wednesday.
func liveQuery(t *testing.T, days ...string) (historical.Query, historical.Options) {
	t.Helper()
	dated := func(at, day string, duration float64) historical.HistoricalRecord {
		r := record("R1", at, duration, 100)
		d := date(t, day)
		r.LocalDate = &d
		return r
	}
	start, end := date(t, "2025-07-07"), date(t, "2025-07-14")
	q := historical.Query{
		Records: []historical.HistoricalRecord{
			dated("08:10:00", "2025-07-07", 100),
			dated("08:20:00", "2025-07-09", 400),
			dated("08:30:00", "2025-07-14", 100),
		},
		ValidRouteIDs: historical.NewRouteSet("R1"),
		City:          tokyo(t),
		Filters: &historical.TimeFilters{
			TimePeriod: historical.PeriodCustom,
			StartDate:  &start,
			EndDate:    &end,
			Days:       days,
		},
	}
	o := opts()
	o.Encoding = historical.EncodingLocalTimeString
	return q, o
}

func TestCalculateRouteMetrics_LocalTimeStringsAverageByDate(t *testing.T) {
	q, o := liveQuery(t, "Mon", "Wed")

	m, err := historical.CalculateRouteMetrics(q, o)
	require.NoError(t, err)

	assert.Equal(t, 200.0, m.HourlyAverageTravelTime[8])
	assert.Equal(t, 400.0, m.Hourly95thPercentile[8])
	assert.Equal(t, 4.0, m.HourlyPlanningTimeIndex[8])
	assert.Equal(t, 2.0, m.HourlyTravelTimeIndex[8])
}

func TestCalculateRouteMetrics_LocalTimeStringsHonourDays(t *testing.T) {
	q, o := liveQuery(t, "Mon")

	m, err := historical.CalculateRouteMetrics(q, o)
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.HourlyAverageTravelTime[8])
	assert.Equal(t, 1.0, m.HourlyPlanningTimeIndex[8])

	q, o = liveQuery(t, "Sun")
	got, err := historical.Aggregate(q, o)
	require.NoError(t, err)
	assert.Empty(t, got.Stats.RouteDelays)
	assert.Zero(t, got.Stats.AverageStats.TotalRecords)
}

func TestCalculateRouteMetrics_SingleDateIgnoresDays(t *testing.T) {
	q := mondayQuery(t)
	monday := date(t, "2025-07-07")
	q.Filters.StartDate, q.Filters.EndDate = &monday, &monday
	q.Filters.Days = []string{"Sun"}

	m, err := historical.CalculateRouteMetrics(q, opts())
	require.NoError(t, err)
	assert.Equal(t, 180.0, m.HourlyAverageTravelTime[8])

	got, err := historical.Aggregate(q, opts())
	require.NoError(t, err)
	assert.Len(t, got.Stats.RouteDelays, 2)
}

func TestCalculateRouteMetrics_Empty(t *testing.T) {
	q := mondayQuery(t)
	q.Filters.Days = []string{"never"}

	m, err := historical.CalculateRouteMetrics(q, opts())
	require.NoError(t, err)
	assert.Len(t, m.HourlyPlanningTimeIndex, 24)
	for h := 0; h < 24; h++ {
		assert.Equal(t, 0.0, m.HourlyPlanningTimeIndex[h])
	}
	assert.Nil(t, m.PerRouteMetrics)
}

func TestCalculateRouteSpecificMetrics(t *testing.T) {
	q := mondayQuery(t)
	records := append(q.Records, record("R1", "2025-07-14T08:50:00+09:00", 90, 60))

	got, err := historical.CalculateRouteSpecificMetrics(historical.RouteQuery{
		Records:         records,
		RouteID:         "R1",
		City:            q.City,
		Filters:         q.Filters,
		StaticDurations: map[string]float64{"R1": 80.4},
	}, opts())
	require.NoError(t, err)

	assert.Equal(t, "R1", got.RouteID)
	assert.Equal(t, 3, got.AcceptedRecords)
	assert.Equal(t, 1, got.RejectedRecords)

	h := got.Hourly[8]
	assert.Equal(t, 110.0, h.AverageTravelTime)
	assert.Equal(t, 90.0, h.FreeFlowTime)
	assert.Equal(t, 120.0, h.Percentile95)
	assert.Equal(t, 1.3333, h.PlanningTimeIndex)
	assert.Equal(t, 1.2222, h.TravelTimeIndex)
	assert.Equal(t, 2, h.Dates)

	require.NotNil(t, got.FastestHour)
	assert.Equal(t, 8, *got.FastestHour)
	assert.Equal(t, 8, *got.SlowestHour)
	assert.Equal(t, 110.0, got.AverageTravelTime)
}

func TestCalculateRouteSpecificMetrics_MissingRouteID(t *testing.T) {
	_, err := historical.CalculateRouteSpecificMetrics(historical.RouteQuery{City: tokyo(t)}, opts())
	assert.ErrorIs(t, err, historical.ErrMissingRouteID)
}

func TestCalculateRouteSpecificMetrics_MissingCity(t *testing.T) {
	q := mondayQuery(t)

	got, err := historical.CalculateRouteSpecificMetrics(historical.RouteQuery{
		Records: q.Records,
		RouteID: "R1",
		Filters: q.Filters,
	}, opts())
	require.NoError(t, err)
	assert.Equal(t, historical.EmptyRouteSpecificMetrics("R1"), got)
}

func TestAverageTravelTimeByHour(t *testing.T) {
	got, err := historical.AverageTravelTimeByHour(mondayQuery(t), opts())
	require.NoError(t, err)

	// The 07-14 R1 record has no static duration and is dropped here.
	assert.Equal(t, historical.HourTotal{TotalDuration: 140, Count: 2}, got.HourlyTotalAverages[8])
	assert.Equal(t, 120.0, got.RouteHourlyAverages["R1"][8])
	assert.Equal(t, 80.0, got.RouteHourlyAverages["R2"][8])
	_, ok := got.HourlyTotalAverages[9]
	assert.False(t, ok)
}
