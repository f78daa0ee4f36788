package historical

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TimeEncoding selects how record timestamps are interpreted.
type TimeEncoding int

const (
	// EncodingISOWithOffset expects full ISO-8601 timestamps carrying a UTC
	// offset, e.g. 2025-07-07T08:15:00+09:00.
	EncodingISOWithOffset TimeEncoding = iota
	// EncodingLocalTimeString expects HH:MM:SS strings already localised to
	// the city's zone upstream.
	EncodingLocalTimeString
)

func (e TimeEncoding) String() string {
	switch e {
	case EncodingISOWithOffset:
		return "iso-with-offset"
	case EncodingLocalTimeString:
		return "local-time-string"
	default:
		return "unknown"
	}
}

// ParseTimeEncoding maps a configuration value onto an encoding. The
// application modes "demo" and "live" are accepted as aliases.
func ParseTimeEncoding(s string) (TimeEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "iso", "iso-with-offset", "demo":
		return EncodingISOWithOffset, nil
	case "local", "local-time-string", "live":
		return EncodingLocalTimeString, nil
	}
	return 0, fmt.Errorf("unknown time encoding %q", s)
}

var isoHourPattern = regexp.MustCompile(`T(\d{2}):`)

// isoLayouts are tried in order when parsing ISO timestamps.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04Z07:00",
}

// HourOfDay extracts the hour bucket from a record timestamp. ISO strings
// are read as written: the hour token is taken verbatim so the offset
// embedded in the string is never applied twice.
func HourOfDay(recordTime string, enc TimeEncoding) (int, error) {
	var token string
	switch enc {
	case EncodingISOWithOffset:
		m := isoHourPattern.FindStringSubmatch(recordTime)
		if m == nil {
			return 0, &FormatError{Value: recordTime, Encoding: enc}
		}
		token = m[1]
	case EncodingLocalTimeString:
		i := strings.IndexByte(recordTime, ':')
		if i <= 0 {
			return 0, &FormatError{Value: recordTime, Encoding: enc}
		}
		token = strings.TrimSpace(recordTime[:i])
	default:
		return 0, &FormatError{Value: recordTime, Encoding: enc}
	}

	hour, err := strconv.Atoi(token)
	if err != nil || hour < 0 || hour > 23 {
		return 0, &FormatError{Value: recordTime, Encoding: enc}
	}
	return hour, nil
}

// TimestampMillis returns the absolute instant of a record in epoch
// milliseconds. Local time strings are combined with the calendar date of
// reference, in reference's location.
func TimestampMillis(recordTime string, enc TimeEncoding, reference time.Time) (int64, error) {
	t, err := parseRecordTime(recordTime, enc, reference)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func parseRecordTime(recordTime string, enc TimeEncoding, reference time.Time) (time.Time, error) {
	switch enc {
	case EncodingISOWithOffset:
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, recordTime); err == nil {
				return t, nil
			}
		}
	case EncodingLocalTimeString:
		for _, layout := range []string{"15:04:05", "15:04:05.999999999", "15:04"} {
			if t, err := time.Parse(layout, strings.TrimSpace(recordTime)); err == nil {
				y, m, d := reference.Date()
				return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), reference.Location()), nil
			}
		}
	}
	return time.Time{}, &FormatError{Value: recordTime, Encoding: enc}
}

// recordDate returns the calendar date written in an ISO timestamp.
func recordDate(recordTime string) (civil.Date, error) {
	if len(recordTime) < 10 {
		return civil.Date{}, &FormatError{Value: recordTime, Encoding: EncodingISOWithOffset}
	}
	d, err := civil.ParseDate(recordTime[:10])
	if err != nil {
		return civil.Date{}, &FormatError{Value: recordTime, Encoding: EncodingISOWithOffset}
	}
	return d, nil
}

// localDate returns the city-local calendar date of rec. dated is false for a
// local time string without LocalDate; such records were date-filtered by
// their source.
func localDate(rec HistoricalRecord, enc TimeEncoding) (d civil.Date, dated bool, err error) {
	if enc == EncodingLocalTimeString {
		if rec.LocalDate == nil {
			return civil.Date{}, false, nil
		}
		return *rec.LocalDate, true, nil
	}
	d, err = recordDate(rec.RecordTime)
	if err != nil {
		return civil.Date{}, false, err
	}
	return d, true, nil
}

func weekdayOf(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// TimezoneOffsetString formats the UTC offset of zone at instant as +HH:MM
// or -HH:MM. The offset follows the zone's daylight rules for that instant.
func TimezoneOffsetString(instant time.Time, zone string) (string, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("load timezone %q: %w", zone, err)
	}
	_, offset := instant.In(loc).Zone()
	return formatOffset(offset), nil
}

func formatOffset(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}

// Window is an absolute, inclusive time window in a city's zone.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartMillis returns the window start in epoch milliseconds.
func (w Window) StartMillis() int64 {
	return w.Start.UnixMilli()
}

// EndMillis returns the window end in epoch milliseconds.
func (w Window) EndMillis() int64 {
	return w.End.UnixMilli()
}

// ContainsMillis reports whether ms falls inside the window.
func (w Window) ContainsMillis(ms int64) bool {
	return ms >= w.StartMillis() && ms <= w.EndMillis()
}

// ContainsDate reports whether the window touches calendar date d.
func (w Window) ContainsDate(d civil.Date) bool {
	return !d.Before(civil.DateOf(w.Start)) && !d.After(civil.DateOf(w.End))
}

// SingleDate reports whether the window covers exactly one calendar date.
func (w Window) SingleDate() bool {
	return !w.Start.IsZero() && civil.DateOf(w.Start) == civil.DateOf(w.End)
}

// Dates returns every calendar date the window touches, in order.
func (w Window) Dates() []civil.Date {
	first := civil.DateOf(w.Start)
	last := civil.DateOf(w.End)
	var dates []civil.Date
	for d := first; !d.After(last); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}

// ResolveWindow derives the absolute window of a query. Relative periods are
// anchored on the end of the city's available data, not on the current time.
// Day bounds are built as wall-clock times in the city's zone, so DST changes
// inside the range are honoured.
func ResolveWindow(period TimePeriod, customStart, customEnd *civil.Date, available DateRange, zone string) (Window, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Window{}, fmt.Errorf("load timezone %q: %w", zone, err)
	}

	end := available.EndDate
	switch period {
	case PeriodCustom:
		if customStart == nil || customEnd == nil {
			return Window{}, &MissingInputError{Input: "custom date range"}
		}
		return dayWindow(*customStart, *customEnd, loc), nil
	case PeriodLastWeek:
		return dayWindow(end.AddDays(-7), end, loc), nil
	case PeriodLastMonth:
		return dayWindow(end.AddDays(-30), end, loc), nil
	case PeriodLastWeekToLastWeek:
		return dayWindow(end.AddDays(-14), end.AddDays(-7), loc), nil
	default:
		return dayWindow(available.StartDate, end, loc), nil
	}
}

func dayWindow(first, last civil.Date, loc *time.Location) Window {
	return Window{
		Start: startOfDay(first, loc),
		End:   endOfDay(last, loc),
	}
}

func startOfDay(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func endOfDay(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 23, 59, 59, int(999*time.Millisecond), loc)
}
