package calendar

import (
	"fmt"
	"time"
)

// Month identifies the window of a month grid. Month follows time.Month
// (January = 1).
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth validates year in [1,9999] and month in [1,12].
func NewMonth(year, month int) (Month, error) {
	m := Month{Year: year, Month: time.Month(month)}
	if err := m.validate(); err != nil {
		return Month{}, err
	}
	return m, nil
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) validate() error {
	if m.Month < time.January || m.Month > time.December {
		return invalid("month", int(m.Month), "must be in [1,12]")
	}
	if m.Year < 1 || m.Year > 9999 {
		return invalid("year", m.Year, "must be in [1,9999]")
	}
	return nil
}

func (m Month) First() Date { return Date{Year: m.Year, Month: m.Month, Day: 1} }

func (m Month) Days() int { return DaysIn(m.Year, m.Month) }

func (m Month) Next() Month { return m.add(1) }

func (m Month) Prev() Month { return m.add(-1) }

func (m Month) add(n int) Month {
	return MonthOf(time.Date(m.Year, m.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC))
}

// Contains reports whether d falls in m.
func (m Month) Contains(d Date) bool {
	return d.Year == m.Year && d.Month == m.Month
}

// Key formats m as YYYY-MM.
func (m Month) Key() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// String renders the header title, e.g. "April 2025".
func (m Month) String() string {
	return fmt.Sprintf("%s %d", m.Month, m.Year)
}
