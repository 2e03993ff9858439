package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// KeyLayout is the canonical date key format used for every date equality
// check in the module.
const KeyLayout = "2006-01-02"

// Date is a calendar day with no time-of-day and no zone.
// The zero Date is "absent" and is what padding cells carry.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate validates and returns a Date.
func NewDate(year int, month time.Month, day int) (Date, error) {
	d := Date{Year: year, Month: month, Day: day}
	if !d.Valid() {
		return Date{}, invalid("date", fmt.Sprintf("%04d-%02d-%02d", year, int(month), day), "not a calendar date")
	}
	return d, nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current day in loc (time.Local when nil).
func Today(loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	return DateOf(time.Now().In(loc))
}

// dateLayouts are the shapes backends have been seen to send. Order matters:
// the first successful layout wins.
var dateLayouts = []string{
	KeyLayout,
	"2006-1-2",
	"2006/01/02",
	"2006/1/2",
	"20060102",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseDate parses s into a Date. Timestamps keep the calendar day written
// in the string; no zone conversion is applied.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, invalid("date", s, "empty")
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, invalid("date", s, "unrecognised format")
}

// Key formats d as YYYY-MM-DD. Absent dates format as "".
func (d Date) Key() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) String() string { return d.Key() }

func (d Date) IsZero() bool { return d == Date{} }

// Valid reports whether d names a real day in years 1..9999.
func (d Date) Valid() bool {
	if d.Year < 1 || d.Year > 9999 || d.Month < time.January || d.Month > time.December {
		return false
	}
	return d.Day >= 1 && d.Day <= DaysIn(d.Year, d.Month)
}

// Time returns midnight of d in loc (UTC when nil).
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

func (d Date) Before(o Date) bool { return d.Key() < o.Key() }

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Key())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysIn returns the number of days in month of year, using day 0 of the
// following month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
