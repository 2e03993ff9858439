package calendar

import (
	"sort"
	"time"

	"meetcal/internal/model"
)

// DayCell is one cell of a month grid. Padding cells have a zero Date and an
// empty (non-nil) Events slice.
type DayCell struct {
	Date   Date          `json:"date"`
	Events []model.Event `json:"events"`
}

func (c DayCell) IsPadding() bool { return c.Date.IsZero() }

type gridOptions struct {
	sortByTime bool
	weekStart  time.Weekday
}

// GridOption tunes BuildMonthGrid.
type GridOption func(*gridOptions)

// SortByTime orders each cell's events by their HH:MM time instead of input
// order. Events with unparsable times keep their relative order at the end.
func SortByTime() GridOption {
	return func(o *gridOptions) { o.sortByTime = true }
}

// WeekStart selects the weekday shown in the first column. Default Sunday.
func WeekStart(d time.Weekday) GridOption {
	return func(o *gridOptions) {
		if d >= time.Sunday && d <= time.Saturday {
			o.weekStart = d
		}
	}
}

var weekdayLabels = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// WeekdayHeaders returns the seven column labels starting at start.
func WeekdayHeaders(start time.Weekday) []string {
	out := make([]string, 7)
	for i := range out {
		out[i] = weekdayLabels[(int(start)+i)%7]
	}
	return out
}

// BuildMonthGrid materialises the cells for month m: leading padding so day 1
// sits under its weekday column, then one cell per day in ascending order.
// Each real cell holds exactly the events whose date has the same canonical
// key. Events outside m or with unparsable dates are left out.
func BuildMonthGrid(m Month, events []model.Event, opts ...GridOption) ([]DayCell, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	o := gridOptions{weekStart: time.Sunday}
	for _, opt := range opts {
		opt(&o)
	}

	byKey := make(map[string][]model.Event)
	for _, ev := range events {
		d, err := ParseDate(ev.Date)
		if err != nil || !m.Contains(d) {
			continue
		}
		byKey[d.Key()] = append(byKey[d.Key()], ev)
	}

	padding := (int(m.First().Weekday()) - int(o.weekStart) + 7) % 7
	days := m.Days()
	cells := make([]DayCell, 0, padding+days)
	for i := 0; i < padding; i++ {
		cells = append(cells, DayCell{Events: []model.Event{}})
	}
	for day := 1; day <= days; day++ {
		d := Date{Year: m.Year, Month: m.Month, Day: day}
		evs := byKey[d.Key()]
		if evs == nil {
			evs = []model.Event{}
		}
		if o.sortByTime {
			sortByClock(evs)
		}
		cells = append(cells, DayCell{Date: d, Events: evs})
	}
	return cells, nil
}

// Weeks splits cells into rows of seven for rendering, padding the last row
// with empty cells.
func Weeks(cells []DayCell) [][]DayCell {
	var rows [][]DayCell
	for start := 0; start < len(cells); start += 7 {
		end := start + 7
		row := make([]DayCell, 0, 7)
		if end > len(cells) {
			row = append(row, cells[start:]...)
			for len(row) < 7 {
				row = append(row, DayCell{Events: []model.Event{}})
			}
		} else {
			row = append(row, cells[start:end]...)
		}
		rows = append(rows, row)
	}
	return rows
}

func sortByClock(evs []model.Event) {
	sort.SliceStable(evs, func(i, j int) bool {
		mi, iok := ClockMinutes(evs[i].Time)
		mj, jok := ClockMinutes(evs[j].Time)
		if iok != jok {
			return iok
		}
		return iok && mi < mj
	})
}

// ClockMinutes parses a strict "HH:MM" wall-clock string into minutes since
// midnight.
func ClockMinutes(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, ok := twoDigits(s[0:2])
	if !ok || h > 23 {
		return 0, false
	}
	m, ok := twoDigits(s[3:5])
	if !ok || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}
