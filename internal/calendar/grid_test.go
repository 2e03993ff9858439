package calendar

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"meetcal/internal/model"
)

func TestBuildMonthGridApril2025(t *testing.T) {
	m, err := NewMonth(2025, 4)
	if err != nil {
		t.Fatalf("NewMonth: %v", err)
	}
	ev := model.Event{ID: "e1", Title: "Standup", Date: "2025-04-15", Time: "09:00"}

	cells, err := BuildMonthGrid(m, []model.Event{ev})
	if err != nil {
		t.Fatalf("BuildMonthGrid: %v", err)
	}
	if len(cells) != 32 {
		t.Fatalf("expected 32 cells (2 padding + 30 days), got %d", len(cells))
	}
	for i := 0; i < 2; i++ {
		if !cells[i].IsPadding() {
			t.Errorf("cell %d should be padding", i)
		}
		if cells[i].Events == nil || len(cells[i].Events) != 0 {
			t.Errorf("padding cell %d should have empty non-nil events", i)
		}
	}
	for i, c := range cells[2:] {
		day := i + 1
		if c.Date.Day != day {
			t.Fatalf("cell for day %d has date %s", day, c.Date)
		}
		if day == 15 {
			if len(c.Events) != 1 || c.Events[0].ID != "e1" {
				t.Errorf("day 15 should hold e1, got %+v", c.Events)
			}
			continue
		}
		if len(c.Events) != 0 {
			t.Errorf("day %d should be empty, got %d events", day, len(c.Events))
		}
	}
}

func TestBuildMonthGridLengthAllMonths(t *testing.T) {
	for year := 2023; year <= 2025; year++ {
		for month := 1; month <= 12; month++ {
			m, _ := NewMonth(year, month)
			cells, err := BuildMonthGrid(m, nil)
			if err != nil {
				t.Fatalf("%s: %v", m.Key(), err)
			}
			padding := int(time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Weekday())
			days := DaysIn(year, time.Month(month))
			if len(cells) != padding+days {
				t.Errorf("%s: got %d cells, want %d", m.Key(), len(cells), padding+days)
			}
			for i := 0; i < padding; i++ {
				if !cells[i].IsPadding() {
					t.Errorf("%s: cell %d should be padding", m.Key(), i)
				}
			}
			for i, c := range cells[padding:] {
				if c.Date.Day != i+1 || c.IsPadding() {
					t.Errorf("%s: cell %d has day %d, want %d", m.Key(), padding+i, c.Date.Day, i+1)
				}
			}
		}
	}
}

func TestBuildMonthGridFebruary(t *testing.T) {
	tests := []struct {
		year int
		days int
	}{
		{2024, 29},
		{2025, 28},
		{2000, 29},
		{1900, 28},
	}
	for _, tt := range tests {
		m, _ := NewMonth(tt.year, 2)
		cells, err := BuildMonthGrid(m, nil)
		if err != nil {
			t.Fatal(err)
		}
		n := 0
		for _, c := range cells {
			if !c.IsPadding() {
				n++
			}
		}
		if n != tt.days {
			t.Errorf("February %d: got %d days, want %d", tt.year, n, tt.days)
		}
	}
}

func TestBuildMonthGridEventPlacement(t *testing.T) {
	m, _ := NewMonth(2025, 4)
	events := []model.Event{
		{ID: "a", Date: "2025-04-03", Time: "14:00"},
		{ID: "b", Date: "2025-4-3", Time: "09:30"},
		{ID: "c", Date: "2025-04-03T08:00:00Z", Time: "08:00"},
		{ID: "d", Date: "2025-03-31", Time: "10:00"},
		{ID: "e", Date: "2025-05-01", Time: "10:00"},
		{ID: "f", Date: "garbage", Time: "10:00"},
		{ID: "g", Date: "2025/04/30", Time: "23:30"},
	}

	cells, err := BuildMonthGrid(m, events)
	if err != nil {
		t.Fatal(err)
	}

	seen := map[string]int{}
	for _, c := range cells {
		for _, ev := range c.Events {
			seen[ev.ID]++
		}
	}
	for _, id := range []string{"a", "b", "c", "g"} {
		if seen[id] != 1 {
			t.Errorf("event %s placed %d times, want exactly once", id, seen[id])
		}
	}
	for _, id := range []string{"d", "e", "f"} {
		if seen[id] != 0 {
			t.Errorf("event %s outside the month placed %d times", id, seen[id])
		}
	}

	day3 := cells[2+2]
	if day3.Date.Day != 3 {
		t.Fatalf("expected day 3 at index 4, got %s", day3.Date)
	}
	var ids []string
	for _, ev := range day3.Events {
		ids = append(ids, ev.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("input order should be preserved, got %v", ids)
	}
}

func TestBuildMonthGridSortByTime(t *testing.T) {
	m, _ := NewMonth(2025, 4)
	events := []model.Event{
		{ID: "late", Date: "2025-04-10", Time: "18:00"},
		{ID: "bad", Date: "2025-04-10", Time: "noon"},
		{ID: "early", Date: "2025-04-10", Time: "07:30"},
		{ID: "mid", Date: "2025-04-10", Time: "12:00"},
	}
	cells, err := BuildMonthGrid(m, events, SortByTime())
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, ev := range cells[2+9].Events {
		ids = append(ids, ev.ID)
	}
	want := []string{"early", "mid", "late", "bad"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
	if events[0].ID != "late" {
		t.Error("input slice must not be reordered")
	}
}

func TestBuildMonthGridWeekStartMonday(t *testing.T) {
	m, _ := NewMonth(2025, 4) // April 1 2025 is a Tuesday
	cells, err := BuildMonthGrid(m, nil, WeekStart(time.Monday))
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 31 {
		t.Errorf("expected 1 padding + 30 days, got %d cells", len(cells))
	}

	m, _ = NewMonth(2025, 6) // June 1 2025 is a Sunday
	cells, _ = BuildMonthGrid(m, nil, WeekStart(time.Monday))
	if !cells[6].IsPadding() || cells[7].Date.Day != 1 {
		t.Errorf("Sunday the 1st should sit in the last column when weeks start Monday")
	}
}

func TestBuildMonthGridIdempotent(t *testing.T) {
	m, _ := NewMonth(2024, 2)
	events := []model.Event{{ID: "x", Date: "2024-02-29", Time: "10:00"}}
	a, err := BuildMonthGrid(m, events)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := BuildMonthGrid(m, events)
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs should produce deep-equal grids")
	}
}

func TestBuildMonthGridInvalidMonth(t *testing.T) {
	for _, m := range []Month{{Year: 2025, Month: 0}, {Year: 2025, Month: 13}, {Year: 0, Month: 1}} {
		_, err := BuildMonthGrid(m, nil)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%+v: expected ErrInvalidInput, got %v", m, err)
		}
		var ie *InvalidInputError
		if !errors.As(err, &ie) {
			t.Errorf("%+v: expected *InvalidInputError", m)
		}
	}
}

func TestWeekdayHeaders(t *testing.T) {
	if got := WeekdayHeaders(time.Sunday); !reflect.DeepEqual(got, []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}) {
		t.Errorf("sunday headers: %v", got)
	}
	if got := WeekdayHeaders(time.Monday); got[0] != "Mon" || got[6] != "Sun" {
		t.Errorf("monday headers: %v", got)
	}
}

func TestWeeks(t *testing.T) {
	m, _ := NewMonth(2025, 4)
	cells, _ := BuildMonthGrid(m, nil)
	rows := Weeks(cells)
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows for 32 cells, got %d", len(rows))
	}
	for i, r := range rows {
		if len(r) != 7 {
			t.Errorf("row %d has %d cells", i, len(r))
		}
	}
	if !rows[4][4].IsPadding() {
		t.Error("trailing cells of the last row should be padding")
	}
}

func TestClockMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"09:30", 570, true},
		{"23:59", 1439, true},
		{"24:00", 0, false},
		{"9:30", 0, false},
		{"09:60", 0, false},
		{"ab:cd", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ClockMinutes(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ClockMinutes(%q) = %d,%v want %d,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
