// Package historical implements the travel-time aggregation engine: timezone
// normalisation, record filtering, congestion statistics and reliability
// indices computed over raw per-route travel-time records.
//
// Every entry point is a pure function of its inputs. Accumulators are built
// fresh on each call, so concurrent callers never share state.
package historical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"cloud.google.com/go/civil"
)

// Seconds is a duration in seconds as delivered by upstream feeds.
// It decodes JSON numbers, numeric strings and null; anything unparseable
// becomes NaN so the record is rejected later instead of failing the batch.
type Seconds float64

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = Seconds(math.NaN())
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			*s = Seconds(math.NaN())
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			*s = Seconds(math.NaN())
			return nil
		}
		*s = Seconds(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*s = Seconds(math.NaN())
		return nil
	}
	*s = Seconds(v)
	return nil
}

// MarshalJSON implements json.Marshaler. Non-finite values encode as null.
func (s Seconds) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// Float returns the value as a float64.
func (s Seconds) Float() float64 {
	return float64(s)
}

// HistoricalRecord is one observed traversal of a route.
type HistoricalRecord struct {
	RouteID               string  `json:"routeId"`
	RecordTime            string  `json:"recordTime"`
	DurationSeconds       Seconds `json:"durationSeconds"`
	StaticDurationSeconds Seconds `json:"staticDurationSeconds"`

	// LocalDate is the city-local calendar date of a record whose
	// RecordTime is a bare time of day. ISO timestamps carry their own date.
	LocalDate *civil.Date `json:"localDate,omitempty"`
}

// TimePeriod selects the absolute window a query covers.
type TimePeriod string

const (
	// PeriodAll covers the city's full available range.
	PeriodAll                TimePeriod = ""
	PeriodLastWeek           TimePeriod = "last-week"
	PeriodLastMonth          TimePeriod = "last-month"
	PeriodLastWeekToLastWeek TimePeriod = "last-week-to-last-week"
	PeriodCustom             TimePeriod = "custom"
)

// Valid reports whether p is a known time period.
func (p TimePeriod) Valid() bool {
	switch p {
	case PeriodAll, PeriodLastWeek, PeriodLastMonth, PeriodLastWeekToLastWeek, PeriodCustom:
		return true
	}
	return false
}

// AllDays is the day-selection sentinel that disables the weekday check.
const AllDays = "all"

// HourRange is an inclusive range of hours. When Start > End the range wraps
// past midnight, so 22-4 covers 22, 23, 0, 1, 2, 3 and 4.
// It encodes in JSON as a two-element array.
type HourRange struct {
	Start int
	End   int
}

// MarshalJSON implements json.Marshaler.
func (h HourRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{h.Start, h.End})
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HourRange) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("hour range must be an array of two hours: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("hour range must have exactly two hours, got %d", len(pair))
	}
	h.Start, h.End = pair[0], pair[1]
	return nil
}

// TimeFilters is the query the engine answers.
type TimeFilters struct {
	TimePeriod TimePeriod  `json:"timePeriod,omitempty"`
	Days       []string    `json:"days,omitempty"`
	HourRange  *HourRange  `json:"hourRange,omitempty"`
	StartDate  *civil.Date `json:"startDate,omitempty"`
	EndDate    *civil.Date `json:"endDate,omitempty"`
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	StartDate civil.Date `json:"startDate"`
	EndDate   civil.Date `json:"endDate"`
}

// City carries the inputs the engine needs about a city.
type City struct {
	ID                  string    `json:"id"`
	Timezone            string    `json:"timezone"`
	AvailableDateRanges DateRange `json:"availableDateRanges"`
}

// RouteSet is a set of route IDs. It encodes in JSON as a sorted array.
type RouteSet map[string]struct{}

// NewRouteSet builds a set from ids.
func NewRouteSet(ids ...string) RouteSet {
	s := make(RouteSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s RouteSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s RouteSet) Add(id string) {
	s[id] = struct{}{}
}

// Sorted returns the members in ascending order.
func (s RouteSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON implements json.Marshaler.
func (s RouteSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RouteSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewRouteSet(ids...)
	return nil
}

// RouteDelaySummary holds per-route delay statistics.
type RouteDelaySummary struct {
	RouteID                 string  `json:"routeId"`
	AverageDelayTime        float64 `json:"averageDelayTime"`
	DelayRatio              float64 `json:"delayRatio"`
	AverageDuration         float64 `json:"averageDuration"`
	AverageStaticDuration   float64 `json:"averageStaticDuration"`
	Count                   int     `json:"count"`
	DelayPercentage         float64 `json:"delayPercentage"`
	PeakCongestionHourRange string  `json:"peakCongestionHourRange"`
	PeakCongestionLevel     float64 `json:"peakCongestionLevel"`
	BestTimeRange           string  `json:"bestTimeRange"`
}

// HourlyStat summarises the global bucket for a single hour.
type HourlyStat struct {
	Hour                  int     `json:"hour"`
	Count                 int     `json:"count"`
	AverageDelayRatio     float64 `json:"averageDelayRatio"`
	AverageDuration       float64 `json:"averageDuration"`
	AverageStaticDuration float64 `json:"averageStaticDuration"`
}

// AverageStats holds network-wide averages for a query.
type AverageStats struct {
	AverageDelayTime      float64 `json:"averageDelayTime"`
	AverageDelayRatio     float64 `json:"averageDelayRatio"`
	AverageDuration       float64 `json:"averageDuration"`
	AverageStaticDuration float64 `json:"averageStaticDuration"`
	TotalRecords          int     `json:"totalRecords"`
	RouteCount            int     `json:"routeCount"`
	// MaxHourlyCongestionLevel is the delay ratio of the most congested
	// hour range (1.0 means free flow).
	MaxHourlyCongestionLevel float64      `json:"maxHourlyCongestionLevel"`
	MaxHourRange             string       `json:"maxHourRange"`
	BestTimeRange            string       `json:"bestTimeRange"`
	Hourly                   []HourlyStat `json:"hourly"`
}

// Stats is the statistics block of UnifiedHistoricalData.
type Stats struct {
	// CongestionLevel is the network congestion percentage of the peak range.
	CongestionLevel float64             `json:"congestionLevel"`
	AverageStats    AverageStats        `json:"averageStats"`
	RouteDelays     []RouteDelaySummary `json:"routeDelays"`
}

// RouteColorInfo is the display colour assigned to a route.
type RouteColorInfo struct {
	Color      string  `json:"color"`
	DelayRatio float64 `json:"delayRatio"`
}

// UnifiedHistoricalData is the result of a dashboard query.
type UnifiedHistoricalData struct {
	EnabledSegments RouteSet                  `json:"enabledSegments"`
	Stats           Stats                     `json:"stats"`
	RouteColors     map[string]RouteColorInfo `json:"routeColors"`
}

// HourlyValues maps hour of day to a value. Reliability results always
// carry all 24 hours.
type HourlyValues map[int]float64

// PerRouteMetrics holds hourly reliability values keyed by route.
type PerRouteMetrics struct {
	Hourly95thPercentile    map[string]HourlyValues `json:"hourly95thPercentile"`
	HourlyFreeFlowTime      map[string]HourlyValues `json:"hourlyFreeFlowTime"`
	HourlyAverageTravelTime map[string]HourlyValues `json:"hourlyAverageTravelTime"`
}

// RouteMetricsData is the network reliability result.
type RouteMetricsData struct {
	HourlyPlanningTimeIndex HourlyValues     `json:"hourlyPlanningTimeIndex"`
	HourlyTravelTimeIndex   HourlyValues     `json:"hourlyTravelTimeIndex"`
	HourlyAverageTravelTime HourlyValues     `json:"hourlyAverageTravelTime"`
	HourlyFreeFlowTime      HourlyValues     `json:"hourlyFreeFlowTime"`
	Hourly95thPercentile    HourlyValues     `json:"hourly95thPercentile"`
	PerRouteMetrics         *PerRouteMetrics `json:"perRouteMetrics,omitempty"`
}

// RouteHourMetrics are the reliability values of one route at one hour.
type RouteHourMetrics struct {
	AverageTravelTime float64 `json:"averageTravelTime"`
	FreeFlowTime      float64 `json:"freeFlowTime"`
	Percentile95      float64 `json:"percentile95"`
	PlanningTimeIndex float64 `json:"planningTimeIndex"`
	TravelTimeIndex   float64 `json:"travelTimeIndex"`
	Dates             int     `json:"dates"`
}

// RouteSpecificMetricsData is the single-route reliability result.
type RouteSpecificMetricsData struct {
	RouteID                  string                   `json:"routeId"`
	Hourly                   map[int]RouteHourMetrics `json:"hourly"`
	AverageTravelTime        float64                  `json:"averageTravelTime"`
	AverageFreeFlowTime      float64                  `json:"averageFreeFlowTime"`
	AverageTravelTimeIndex   float64                  `json:"averageTravelTimeIndex"`
	AveragePlanningTimeIndex float64                  `json:"averagePlanningTimeIndex"`
	FastestHour              *int                     `json:"fastestHour,omitempty"`
	SlowestHour              *int                     `json:"slowestHour,omitempty"`
	AcceptedRecords          int                      `json:"acceptedRecords"`
	RejectedRecords          int                      `json:"rejectedRecords"`
}

// HourTotal is the network travel time for one hour averaged over dates.
type HourTotal struct {
	TotalDuration float64 `json:"totalDuration"`
	Count         int     `json:"count"`
}

// AverageTravelTimeData is the hourly average travel time result.
type AverageTravelTimeData struct {
	RouteHourlyAverages map[string]HourlyValues `json:"routeHourlyAverages"`
	HourlyTotalAverages map[int]HourTotal       `json:"hourlyTotalAverages"`
}
