package historical_test

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routepulse/routepulse/internal/historical"
)

func tokyo(t *testing.T) *historical.City {
	t.Helper()
	return &historical.City{
		ID:       "tokyo",
		Timezone: "Asia/Tokyo",
		AvailableDateRanges: historical.DateRange{
			StartDate: date(t, "2025-06-01"),
			EndDate:   date(t, "2025-07-14"),
		},
	}
}

func record(route, at string, duration, static float64) historical.HistoricalRecord {
	return historical.HistoricalRecord{
		RouteID:               route,
		RecordTime:            at,
		DurationSeconds:       historical.Seconds(duration),
		StaticDurationSeconds: historical.Seconds(static),
	}
}

func opts() historical.Options {
	return historical.Options{Encoding: historical.EncodingISOWithOffset, Logger: zerolog.Nop()}
}

func TestAggregate_SingleRouteSingleDay(t *testing.T) {
	day := date(t, "2025-07-07")
	q := historical.Query{
		Records: []historical.HistoricalRecord{
			record("R1", "2025-07-07T08:05:00+09:00", 120, 100),
			record("R1", "2025-07-07T08:40:00+09:00", 180, 100),
		},
		ValidRouteIDs: historical.NewRouteSet("R1"),
		City:          tokyo(t),
		Filters: &historical.TimeFilters{
			TimePeriod: historical.PeriodCustom,
			StartDate:  &day,
			EndDate:    &day,
			Days:       []string{"Mon"},
			HourRange:  &historical.HourRange{Start: 8, End: 8},
		},
	}

	got, err := historical.Aggregate(q, opts())
	require.NoError(t, err)
	require.Len(t, got.Stats.RouteDelays, 1)

	r := got.Stats.RouteDelays[0]
	assert.Equal(t, "R1", r.RouteID)
	assert.Equal(t, 150.0, r.AverageDuration)
	assert.Equal(t, 1.5, r.DelayRatio)
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, 50.0, r.DelayPercentage)
	assert.Equal(t, 50.0, r.AverageDelayTime)
	assert.Equal(t, "8-9", r.PeakCongestionHourRange)
	assert.Equal(t, 50.0, r.PeakCongestionLevel)

	assert.True(t, got.EnabledSegments.Has("R1"))
	assert.Equal(t, historical.RouteColorInfo{Color: historical.ColorRed, DelayRatio: 1.5}, got.RouteColors["R1"])
	assert.Equal(t, 50.0, got.Stats.CongestionLevel)
	assert.Equal(t, "8-9", got.Stats.AverageStats.MaxHourRange)
}

func TestAggregate_TimezoneWindow(t *testing.T) {
	q := historical.Query{
		Records: []historical.HistoricalRecord{
			record("R1", "2025-07-06T23:30:00+09:00", 200, 100),
			record("R1", "2025-07-07T00:30:00+09:00", 110, 100),
		},
		ValidRouteIDs: historical.NewRouteSet("R1"),
		City:          tokyo(t),
		Filters:       &historical.TimeFilters{TimePeriod: historical.PeriodLastWeek},
	}

	got, err := historical.Aggregate(q, opts())
	require.NoError(t, err)
	require.Len(t, got.Stats.RouteDelays, 1)
	assert.Equal(t, 1, got.Stats.RouteDelays[0].Count)
	assert.Equal(t, 110.0, got.Stats.RouteDelays[0].AverageDuration)
}

func TestAggregate_EmptyResult(t *testing.T) {
	got, err := historical.Aggregate(historical.Query{
		City:    tokyo(t),
		Filters: &historical.TimeFilters{},
	}, opts())
	require.NoError(t, err)

	assert.Empty(t, got.Stats.RouteDelays)
	assert.NotNil(t, got.Stats.RouteDelays)
	assert.Equal(t, 0.0, got.Stats.CongestionLevel)
	assert.Empty(t, got.RouteColors)
	assert.Empty(t, got.EnabledSegments)
}

func TestAggregate_MissingInputs(t *testing.T) {
	records := []historical.HistoricalRecord{record("R1", "2025-07-07T08:05:00+09:00", 120, 100)}

	t.Run("no city", func(t *testing.T) {
		got, err := historical.Aggregate(historical.Query{Records: records, Filters: &historical.TimeFilters{}}, opts())
		require.NoError(t, err)
		assert.Empty(t, got.Stats.RouteDelays)
	})

	t.Run("no filters", func(t *testing.T) {
		got, err := historical.Aggregate(historical.Query{Records: records, City: tokyo(t)}, opts())
		require.NoError(t, err)
		assert.Empty(t, got.Stats.RouteDelays)
	})

	t.Run("days match nothing", func(t *testing.T) {
		got, err := historical.Aggregate(historical.Query{
			Records:       records,
			ValidRouteIDs: historical.NewRouteSet("R1"),
			City:          tokyo(t),
			Filters:       &historical.TimeFilters{Days: []string{"holiday"}},
		}, opts())
		require.NoError(t, err)
		assert.Empty(t, got.Stats.RouteDelays)
	})

	t.Run("invalid timezone is an error", func(t *testing.T) {
		city := tokyo(t)
		city.Timezone = "Nowhere/Special"
		_, err := historical.Aggregate(historical.Query{Records: records, City: city, Filters: &historical.TimeFilters{}}, opts())
		assert.Error(t, err)
	})

	t.Run("unknown period is an error", func(t *testing.T) {
		_, err := historical.Aggregate(historical.Query{Records: records, City: tokyo(t), Filters: &historical.TimeFilters{TimePeriod: "yesterday"}}, opts())
		assert.Error(t, err)
	})
}

func TestAggregate_DropsInvalidRecords(t *testing.T) {
	valid := record("R1", "2025-07-07T08:05:00+09:00", 120, 100)
	q := historical.Query{
		Records: []historical.HistoricalRecord{
			valid,
			record("R1", "2025-07-07T08:10:00+09:00", 500, 0),
			record("R1", "2025-07-07T08:15:00+09:00", 500, -3),
			record("R1", "2025-07-07T08:20:00+09:00", math.NaN(), 100),
			record("R1", "2025-07-07T08:25:00+09:00", 500, math.NaN()),
		},
		ValidRouteIDs: historical.NewRouteSet("R1"),
		City:          tokyo(t),
		Filters:       &historical.TimeFilters{},
	}

	got, err := historical.Aggregate(q, opts())
	require.NoError(t, err)

	only, err := historical.Aggregate(historical.Query{
		Records:       []historical.HistoricalRecord{valid},
		ValidRouteIDs: q.ValidRouteIDs,
		City:          q.City,
		Filters:       q.Filters,
	}, opts())
	require.NoError(t, err)

	assert.Equal(t, only, got)
	assert.Equal(t, 1, got.Stats.AverageStats.TotalRecords)
}

func TestAggregate_Idempotent(t *testing.T) {
	q := historical.Query{
		Records: []historical.HistoricalRecord{
			record("R1", "2025-07-07T07:05:00+09:00", 130, 100),
			record("R2", "2025-07-07T08:05:00+09:00", 90, 60),
			record("R3", "2025-07-08T09:05:00+09:00", 300, 120),
			record("R2", "2025-07-09T10:05:00+09:00", 75, 60),
			record("R1", "2025-07-10T11:05:00+09:00", 101, 100),
		},
		ValidRouteIDs: historical.NewRouteSet("R1", "R2", "R3"),
		City:          tokyo(t),
		Filters:       &historical.TimeFilters{TimePeriod: historical.PeriodLastWeek, HourRange: &historical.HourRange{Start: 6, End: 12}},
	}

	first, err := historical.Aggregate(q, opts())
	require.NoError(t, err)
	second, err := historical.Aggregate(q, opts())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first.Stats.RouteDelays, 3)
	assert.Equal(t, "R3", first.Stats.RouteDelays[0].RouteID)
}

// hourly builds one record per hour with the given delay ratios.
func hourly(ratios map[int]float64) []historical.HistoricalRecord {
	var out []historical.HistoricalRecord
	for h, r := range ratios {
		at := "2025-07-07T" + twoDigits(h) + ":10:00+09:00"
		out = append(out, record("R1", at, 100*r, 100))
	}
	return out
}

func twoDigits(h int) string {
	return string([]byte{byte('0' + h/10), byte('0' + h%10)})
}

func TestAggregate_BestRangeCollapsesWhenFlat(t *testing.T) {
	q := historical.Query{
		Records:       hourly(map[int]float64{8: 1.05, 9: 1.0, 10: 1.08}),
		ValidRouteIDs: historical.NewRouteSet("R1"),
		City:          tokyo(t),
		Filters:       &historical.TimeFilters{HourRange: &historical.HourRange{Start: 8, End: 10}},
	}

	got, err := historical.Aggregate(q, opts())
	require.NoError(t, err)

	stats := got.Stats.AverageStats
	assert.Less(t, stats.MaxHourlyCongestionLevel, 1.1)
	assert.Equal(t, "9-11", stats.MaxHourRange)
	assert.Equal(t, stats.MaxHourRange, stats.BestTimeRange)
}

func TestAggregate_PeakAndBestRanges(t *testing.T) {
	q := historical.Query{
		Records:       hourly(map[int]float64{8: 2.0, 9: 1.9, 10: 1.0, 11: 1.0}),
		ValidRouteIDs: historical.NewRouteSet("R1"),
		City:          tokyo(t),
		Filters:       &historical.TimeFilters{HourRange: &historical.HourRange{Start: 8, End: 11}},
	}

	got, err := historical.Aggregate(q, opts())
	require.NoError(t, err)

	stats := got.Stats.AverageStats
	assert.Equal(t, "8-10", stats.MaxHourRange)
	assert.Equal(t, 1.95, stats.MaxHourlyCongestionLevel)
	assert.Equal(t, "10-12", stats.BestTimeRange)
	assert.Equal(t, 95.0, got.Stats.CongestionLevel)

	r := got.Stats.RouteDelays[0]
	assert.Equal(t, "8-10", r.PeakCongestionHourRange)
	assert.Equal(t, 95.0, r.PeakCongestionLevel)
	assert.Equal(t, "10-12", r.BestTimeRange)
}

func TestFindBestConsecutiveTimeRange(t *testing.T) {
	ratios := map[int]float64{22: 1.6, 23: 1.1, 0: 1.05, 1: 1.0, 3: 0.9}
	at := func(h int) (float64, bool) {
		r, ok := ratios[h]
		return r, ok
	}

	hours := historical.HourRange{Start: 22, End: 4}.Hours()
	assert.Equal(t, "3-4", historical.FindBestConsecutiveTimeRange(hours, at, 1.1))
	assert.Equal(t, "", historical.FindBestConsecutiveTimeRange(hours, func(int) (float64, bool) { return 0, false }, 1.1))

	delete(ratios, 3)
	assert.Equal(t, "23-2", historical.FindBestConsecutiveTimeRange(hours, at, 1.1))
}

func TestFindBestConsecutiveTimeRange_EndsAtMidnight(t *testing.T) {
	ratios := map[int]float64{22: 1.5, 23: 1.0}
	at := func(h int) (float64, bool) {
		r, ok := ratios[h]
		return r, ok
	}

	assert.Equal(t, "23-0", historical.FindBestConsecutiveTimeRange([]int{22, 23}, at, 1.1))
}

func TestAggregate_LateEveningLabelsWrap(t *testing.T) {
	day := date(t, "2025-07-07")
	q := historical.Query{
		Records: []historical.HistoricalRecord{
			record("R1", "2025-07-07T22:05:00+09:00", 110, 100),
			record("R1", "2025-07-07T23:05:00+09:00", 150, 100),
		},
		ValidRouteIDs: historical.NewRouteSet("R1"),
		City:          tokyo(t),
		Filters: &historical.TimeFilters{
			TimePeriod: historical.PeriodCustom,
			StartDate:  &day,
			EndDate:    &day,
			HourRange:  &historical.HourRange{Start: 23, End: 23},
		},
	}

	got, err := historical.Aggregate(q, opts())
	require.NoError(t, err)
	assert.Equal(t, "23-0", got.Stats.AverageStats.MaxHourRange)
	require.Len(t, got.Stats.RouteDelays, 1)
	assert.Equal(t, "23-0", got.Stats.RouteDelays[0].PeakCongestionHourRange)

	q.Filters.HourRange = &historical.HourRange{Start: 22, End: 23}
	got, err = historical.Aggregate(q, opts())
	require.NoError(t, err)
	assert.Equal(t, "22-0", got.Stats.AverageStats.MaxHourRange)
}
