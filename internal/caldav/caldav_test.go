package caldav

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"meetcal/internal/model"
)

const object = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly
DTSTAMP:20250101T000000Z
SUMMARY:1:1
DTSTART:20250401T130000Z
DTEND:20250401T140000Z
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20250408T130000Z
END:VEVENT
BEGIN:VEVENT
UID:once
DTSTAMP:20250101T000000Z
SUMMARY:Dentist
LOCATION:Main St
DTSTART:20250410T080000Z
DTEND:20250410T083000Z
END:VEVENT
BEGIN:VEVENT
UID:gone
DTSTAMP:20250101T000000Z
SUMMARY:Gone
STATUS:CANCELLED
DTSTART:20250411T080000Z
DTEND:20250411T083000Z
END:VEVENT
BEGIN:VEVENT
UID:later
DTSTAMP:20250101T000000Z
SUMMARY:Next month
DTSTART:20250510T080000Z
DTEND:20250510T083000Z
END:VEVENT
END:VCALENDAR
`

func decode(t *testing.T, s string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(strings.ReplaceAll(s, "\n", "\r\n"))).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cal
}

func TestExpand(t *testing.T) {
	cal := decode(t, object)
	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	occs := Expand(cal, from, to, time.UTC)
	sortOccurrences(occs)

	var got []string
	for _, o := range occs {
		got = append(got, o.Start.Format("01-02 15:04")+" "+o.Summary)
	}
	want := []string{
		"04-01 13:00 1:1",
		"04-10 08:00 Dentist",
		"04-15 13:00 1:1",
		"04-22 13:00 1:1",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("occurrences:\n got %v\nwant %v", got, want)
	}
	for _, o := range occs {
		if o.SourceID != SourceID || o.End.Sub(o.Start) <= 0 {
			t.Errorf("occurrence = %+v", o)
		}
	}
	if occs[1].Location != "Main St" {
		t.Errorf("location = %q", occs[1].Location)
	}
}

func TestInRange(t *testing.T) {
	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", from.Add(time.Hour), from.Add(2 * time.Hour), true},
		{"spans start", from.Add(-time.Hour), from.Add(time.Hour), true},
		{"ends at from", from.Add(-time.Hour), from, false},
		{"instant at from", from, from, true},
		{"instant at to", to, to, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := model.Occurrence{Start: tt.start, End: tt.end}
			if got := inRange(o, from, to); got != tt.want {
				t.Errorf("inRange = %v, want %v", got, tt.want)
			}
		})
	}
}
