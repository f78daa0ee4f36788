package historical

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// Validate checks that both bounds are valid hours.
func (h HourRange) Validate() error {
	if h.Start < 0 || h.Start > 23 || h.End < 0 || h.End > 23 {
		return fmt.Errorf("hour range %d-%d outside 0-23", h.Start, h.End)
	}
	return nil
}

// Contains reports whether hour lies in the range, wrapping past midnight
// when Start > End.
func (h HourRange) Contains(hour int) bool {
	if h.Start <= h.End {
		return hour >= h.Start && hour <= h.End
	}
	return hour >= h.Start || hour <= h.End
}

// Hours returns the hours of the range in traversal order.
func (h HourRange) Hours() []int {
	var hours []int
	for hour := h.Start; ; hour = (hour + 1) % 24 {
		hours = append(hours, hour)
		if hour == h.End || len(hours) == 24 {
			break
		}
	}
	return hours
}

// hoursToConsider returns the ordered hours implied by an optional range.
func hoursToConsider(h *HourRange) []int {
	if h == nil {
		return HourRange{Start: 0, End: 23}.Hours()
	}
	return h.Hours()
}

var weekdayByPrefix = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekday maps a day name onto a weekday by its first three letters,
// case-insensitively.
func ParseWeekday(name string) (time.Weekday, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < 3 {
		return 0, false
	}
	d, ok := weekdayByPrefix[name[:3]]
	return d, ok
}

// ResolveDays maps day names onto a weekday set. A nil set means every day
// is selected. An empty non-nil set means the names matched nothing.
func ResolveDays(days []string) map[time.Weekday]bool {
	if len(days) == 0 {
		return nil
	}
	set := make(map[time.Weekday]bool, len(days))
	for _, name := range days {
		if strings.EqualFold(strings.TrimSpace(name), AllDays) {
			return nil
		}
		if d, ok := ParseWeekday(name); ok {
			set[d] = true
		}
	}
	return set
}

// SelectedWeekdays lists the weekdays a query keeps in calendar order. It
// returns nil when every day is kept, including a window of a single date.
func SelectedWeekdays(days []string, window Window) []time.Weekday {
	set := ResolveDays(days)
	if set == nil || window.SingleDate() {
		return nil
	}
	out := make([]time.Weekday, 0, len(set))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if set[d] {
			out = append(out, d)
		}
	}
	return out
}

// RecordFilter decides whether a record takes part in a query. It is built
// once per query and applied to every record.
type RecordFilter struct {
	valid     RouteSet
	encoding  TimeEncoding
	days      map[time.Weekday]bool
	hourRange *HourRange
	window    *Window
	reference time.Time
}

// NewRecordFilter prepares a filter for one query. window must be the result
// of ResolveWindow for the same filters; it only applies when a time period
// is selected. reference anchors local time strings.
func NewRecordFilter(valid RouteSet, filters TimeFilters, window Window, enc TimeEncoding, reference time.Time) (*RecordFilter, error) {
	f := &RecordFilter{
		valid:     valid,
		encoding:  enc,
		hourRange: filters.HourRange,
		reference: reference,
	}
	if filters.HourRange != nil {
		if err := filters.HourRange.Validate(); err != nil {
			return nil, err
		}
	}

	f.days = ResolveDays(filters.Days)
	if f.days != nil && len(f.days) == 0 {
		return nil, &MissingInputError{Input: "days"}
	}
	// A single-date window always shows that date, whatever its weekday.
	if window.SingleDate() {
		f.days = nil
	}

	if filters.TimePeriod != PeriodAll {
		w := window
		f.window = &w
	}
	return f, nil
}

// Include reports whether rec passes the filter.
func (f *RecordFilter) Include(rec HistoricalRecord) bool {
	_, ok := f.Match(rec)
	return ok
}

// Match applies the checks in order, stopping at the first failure, and
// returns the record's hour when it passes. A record whose time cannot be
// parsed is excluded.
func (f *RecordFilter) Match(rec HistoricalRecord) (int, bool) {
	if !f.valid.Has(rec.RouteID) {
		return 0, false
	}

	hour, err := HourOfDay(rec.RecordTime, f.encoding)
	if err != nil {
		return 0, false
	}

	if f.days != nil || f.window != nil {
		d, dated, err := localDate(rec, f.encoding)
		if err != nil {
			return 0, false
		}
		if dated && f.days != nil && !f.days[weekdayOf(d)] {
			return 0, false
		}
		if dated && f.window != nil && !f.inWindow(rec, d) {
			return 0, false
		}
	}

	if f.hourRange != nil && !f.hourRange.Contains(hour) {
		return 0, false
	}
	return hour, true
}

// inWindow checks the record's instant for ISO timestamps. A local time
// string is checked by its date; windows span whole days.
func (f *RecordFilter) inWindow(rec HistoricalRecord, d civil.Date) bool {
	if f.encoding == EncodingLocalTimeString {
		return f.window.ContainsDate(d)
	}
	ms, err := TimestampMillis(rec.RecordTime, f.encoding, f.reference)
	return err == nil && f.window.ContainsMillis(ms)
}
