package models

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// DateRange is an inclusive calendar-date window.
type DateRange struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

// NewDateRange parses two YYYY-MM-DD strings into a validated range.
func NewDateRange(start, end string) (DateRange, error) {
	s, err := civil.ParseDate(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := civil.ParseDate(end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	r := DateRange{Start: s, End: e}
	return r, r.Validate()
}

// Validate checks that both ends are valid dates and Start <= End.
func (r DateRange) Validate() error {
	if !r.Start.IsValid() || !r.End.IsValid() {
		return fmt.Errorf("invalid date range %s", r)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range start %s is after end %s", r.Start, r.End)
	}
	return nil
}

// Days returns the number of calendar days covered, both ends included.
func (r DateRange) Days() int {
	return r.End.DaysSince(r.Start) + 1
}

// Contains reports whether d falls within the range.
func (r DateRange) Contains(d civil.Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// Yesterday returns the calendar day before now as observed in loc.
func Yesterday(now time.Time, loc *time.Location) civil.Date {
	return civil.DateOf(now.In(loc)).AddDays(-1)
}

// MonthToDate returns the window from the first day of yesterday's month
// through yesterday, observed in loc.
func MonthToDate(now time.Time, loc *time.Location) DateRange {
	end := Yesterday(now, loc)
	start := civil.DateOf(now.In(loc))
	start.Day = 1
	if end.Before(start) {
		start = end
		start.Day = 1
	}
	return DateRange{Start: start, End: end}
}
