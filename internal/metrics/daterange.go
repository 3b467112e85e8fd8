package metrics

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the wire format for range bounds.
const DateLayout = "2006-01-02"

var ErrInvalidRange = errors.New("invalid date range")

// DateRange is the closed interval [Start, End]. Bounds parsed from dates
// sit at 00:00 UTC and such a range covers the whole of its end day.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	wholeDays bool
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start date %q: expected YYYY-MM-DD", ErrInvalidRange, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end date %q: expected YYYY-MM-DD", ErrInvalidRange, end)
	}
	if e.Before(s) {
		return DateRange{}, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, end, start)
	}
	return DateRange{Start: s, End: e, wholeDays: true}, nil
}

// LastDays is the window ending at now and reaching back days days.
func LastDays(now time.Time, days int) DateRange {
	now = now.UTC()
	return DateRange{Start: now.AddDate(0, 0, -days), End: now}
}

// MonthRange spans the first through the last day of a month.
func MonthRange(year int, month time.Month) DateRange {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return DateRange{Start: first, End: first.AddDate(0, 1, -1), wholeDays: true}
}

// Days is the range length in days, End-Start. It may be fractional.
func (r DateRange) Days() float64 { return r.End.Sub(r.Start).Hours() / 24 }

// Until is the exclusive upper bound: the midnight after End for date ranges,
// otherwise the instant just past End.
func (r DateRange) Until() time.Time {
	if r.wholeDays {
		return r.End.AddDate(0, 0, 1)
	}
	return r.End.Add(time.Nanosecond)
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.Until())
}

func (r DateRange) StartDate() string { return r.Start.UTC().Format(DateLayout) }
func (r DateRange) EndDate() string   { return r.End.UTC().Format(DateLayout) }

// SameMonth reports the month both bounds fall in, if they share one.
func (r DateRange) SameMonth() (int, time.Month, bool) {
	sy, sm, _ := r.Start.UTC().Date()
	ey, em, _ := r.End.UTC().Date()
	return sy, sm, sy == ey && sm == em
}

// FullMonth reports whether r is exactly the first through the last day of
// one month.
func (r DateRange) FullMonth() (int, time.Month, bool) {
	y, m, ok := r.SameMonth()
	if !ok {
		return 0, 0, false
	}
	month := MonthRange(y, m)
	if !r.Start.Equal(month.Start) || !r.End.Equal(month.End) {
		return 0, 0, false
	}
	return y, m, true
}

// FilterDescription renders the applied filter for display. Either bound
// may be nil.
func FilterDescription(start, end *time.Time) string {
	switch {
	case start == nil && end == nil:
		return "All available data"
	case start != nil && end != nil:
		s, e := start.UTC(), end.UTC()
		if s.Year() == e.Year() && s.Month() == e.Month() {
			return fmt.Sprintf("%s (%s → %s)", s.Format("January 2006"), s.Format(DateLayout), e.Format(DateLayout))
		}
		return fmt.Sprintf("%s → %s", s.Format("Jan 02, 2006"), e.Format("Jan 02, 2006"))
	case start != nil:
		return "From " + start.UTC().Format("Jan 02, 2006")
	default:
		return "Until " + end.UTC().Format("Jan 02, 2006")
	}
}
