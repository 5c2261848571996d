package membership

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MONTH KEY - Normalized first-of-month identifying a cohort
// =============================================================================

// MonthKey is midnight on the first day of a month in the reference timezone.
// Obtain one from a Calendar; the zero value means "no month".
type MonthKey struct {
	Time time.Time
}

// Next returns the following month key (exactly one calendar month later).
func (k MonthKey) Next() MonthKey { return MonthKey{Time: k.Time.AddDate(0, 1, 0)} }

// Prev returns the preceding month key.
func (k MonthKey) Prev() MonthKey { return MonthKey{Time: k.Time.AddDate(0, -1, 0)} }

// Comparison
func (k MonthKey) Before(other MonthKey) bool        { return k.Time.Before(other.Time) }
func (k MonthKey) After(other MonthKey) bool         { return k.Time.After(other.Time) }
func (k MonthKey) Equal(other MonthKey) bool         { return k.Time.Equal(other.Time) }
func (k MonthKey) AfterOrEqual(other MonthKey) bool  { return !k.Before(other) }
func (k MonthKey) BeforeOrEqual(other MonthKey) bool { return !k.After(other) }
func (k MonthKey) IsZero() bool                      { return k.Time.IsZero() }

// Contains reports whether ts falls within [k, k.Next()).
func (k MonthKey) Contains(ts time.Time) bool {
	return !ts.Before(k.Time) && ts.Before(k.Next().Time)
}

// String formats the key as YYYY-MM-DD.
func (k MonthKey) String() string {
	if k.IsZero() {
		return ""
	}
	return k.Time.Format("2006-01-02")
}

// =============================================================================
// CALENDAR - Reference timezone and clock
// =============================================================================

// Calendar normalizes timestamps to month keys in a fixed server-side timezone.
// Clients never supply their own offset.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar returns a calendar in loc (UTC when nil) using the wall clock.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, now: time.Now}
}

// LoadCalendar resolves an IANA zone name ("" means UTC).
func LoadCalendar(zone string) (*Calendar, error) {
	if strings.TrimSpace(zone) == "" {
		return NewCalendar(time.UTC), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return NewCalendar(loc), nil
}

// WithClock returns a copy of the calendar that reads time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the current instant in the reference timezone.
func (c *Calendar) Now() time.Time { return c.now().In(c.loc) }

// MonthKey returns first-of-month midnight for ts.
func (c *Calendar) MonthKey(ts time.Time) MonthKey {
	t := ts.In(c.loc)
	return MonthKey{Time: time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, c.loc)}
}

// Current returns the month key of "now".
func (c *Calendar) Current() MonthKey { return c.MonthKey(c.Now()) }

// Month builds a key from year and month.
func (c *Calendar) Month(year int, month time.Month) MonthKey {
	return MonthKey{Time: time.Date(year, month, 1, 0, 0, 0, 0, c.loc)}
}

// Validate fails with ErrInvalidMonthKey unless t is exactly a first-of-month
// midnight in the reference timezone.
func (c *Calendar) Validate(t time.Time) (MonthKey, error) {
	if t.IsZero() {
		return MonthKey{}, &MonthKeyError{Value: "", Reason: "empty"}
	}
	local := t.In(c.loc)
	if local.Day() != 1 || local.Hour() != 0 || local.Minute() != 0 || local.Second() != 0 || local.Nanosecond() != 0 {
		return MonthKey{}, &MonthKeyError{Value: t.Format(time.RFC3339Nano), Reason: "not first-of-month midnight"}
	}
	return c.MonthKey(local), nil
}

// Parse accepts "YYYY-MM", "YYYY-MM-DD" (interpreted in the reference
// timezone) or RFC3339, then validates the result.
func (c *Calendar) Parse(s string) (MonthKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MonthKey{}, &MonthKeyError{Value: s, Reason: "empty"}
	}
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return c.Validate(t)
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return MonthKey{}, &MonthKeyError{Value: s, Reason: "unrecognized format"}
	}
	return c.Validate(t)
}
