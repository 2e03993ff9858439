package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"meetcal/internal/model"
)

const sample = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup
SUMMARY:Standup
DTSTART:20250414T090000Z
DTEND:20250414T091500Z
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20250416T090000Z
END:VEVENT
BEGIN:VEVENT
UID:standup
RECURRENCE-ID:20250417T090000Z
SUMMARY:Standup (late)
DTSTART:20250417T100000Z
DTEND:20250417T101500Z
END:VEVENT
BEGIN:VEVENT
UID:offsite
SUMMARY:Offsite
DTSTART;VALUE=DATE:20250422
DTEND;VALUE=DATE:20250424
LOCATION:Lisbon
END:VEVENT
BEGIN:VEVENT
UID:dropped
SUMMARY:Dropped
STATUS:CANCELLED
DTSTART:20250415T120000Z
DTEND:20250415T130000Z
END:VEVENT
BEGIN:VEVENT
SUMMARY:No UID
DTSTART:20250415T120000Z
END:VEVENT
END:VCALENDAR
`

func april() Window {
	return Window{
		From:     time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Location: time.UTC,
	}
}

func TestParse(t *testing.T) {
	entries, err := Parse("team", []byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4 (missing UID skipped)", len(entries))
	}
	base := entries[0]
	if base.RRule != "FREQ=DAILY;COUNT=5" || len(base.ExDates) != 1 || base.AllDay {
		t.Errorf("base = %+v", base)
	}
	if entries[1].RecurrenceID == nil {
		t.Error("override without RecurrenceID")
	}
	if !entries[2].AllDay || entries[2].Location != "Lisbon" {
		t.Errorf("offsite = %+v", entries[2])
	}
	if !entries[3].Cancelled {
		t.Error("STATUS:CANCELLED not detected")
	}

	if _, err := Parse("x", []byte("  ")); err == nil {
		t.Error("empty body should fail")
	}
	if _, err := Parse("x", []byte("not a calendar")); err == nil {
		t.Error("garbage should fail")
	}
}

func TestExpand(t *testing.T) {
	entries, err := Parse("team", []byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	occs, truncated, err := Expand(entries, april())
	if err != nil {
		t.Fatal(err)
	}
	if len(truncated) != 0 {
		t.Errorf("truncated = %v", truncated)
	}

	var got []string
	for _, o := range occs {
		got = append(got, o.Start.Format("01-02 15:04")+" "+o.Summary)
	}
	want := []string{
		"04-14 09:00 Standup",
		"04-15 09:00 Standup",
		"04-17 10:00 Standup (late)",
		"04-18 09:00 Standup",
		"04-22 00:00 Offsite",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("occurrences:\n got %v\nwant %v", got, want)
	}

	offsite := occs[len(occs)-1]
	if !offsite.AllDay || offsite.End.Sub(offsite.Start) != 48*time.Hour {
		t.Errorf("offsite = %+v", offsite)
	}

	if _, _, err := Expand(entries, Window{From: time.Now(), To: time.Now().Add(-time.Hour)}); err == nil {
		t.Error("inverted window should fail")
	}
}

func TestExpandLimit(t *testing.T) {
	entries := []Entry{{
		UID:   "daily",
		Start: time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
		RRule: "FREQ=DAILY",
	}}
	w := april()
	w.Limit = 3
	occs, truncated, err := Expand(entries, w)
	if err != nil {
		t.Fatal(err)
	}
	if len(occs) != 3 || len(truncated) != 1 || truncated[0] != "daily" {
		t.Errorf("occs = %d truncated = %v", len(occs), truncated)
	}
}

func TestToEvents(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	occs := []model.Occurrence{
		{
			SourceID:    "team",
			InstanceKey: "late@2025-04-14T23:30:00Z",
			Summary:     "Late call",
			Start:       time.Date(2025, 4, 14, 23, 30, 0, 0, time.UTC),
			End:         time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			SourceID: "team",
			Summary:  "Offsite",
			AllDay:   true,
			Start:    time.Date(2025, 4, 22, 0, 0, 0, 0, berlin),
			End:      time.Date(2025, 4, 24, 0, 0, 0, 0, berlin),
		},
	}
	evs := ToEvents(occs, berlin)
	if len(evs) != 3 {
		t.Fatalf("events = %+v", evs)
	}
	if evs[0].Date != "2025-04-15" || evs[0].Time != "01:30" || evs[0].Source != "team" {
		t.Errorf("timed = %+v", evs[0])
	}
	if evs[1].Date != "2025-04-22" || evs[2].Date != "2025-04-23" || evs[1].Time != "" {
		t.Errorf("all-day = %+v %+v", evs[1], evs[2])
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	events := []model.Event{
		{ID: "1", Title: "Review", Status: model.StatusConfirmed, Date: "2025-04-15", Time: "14:00", Venue: "Room 4"},
		{Title: "Holiday", Status: model.StatusSent, Date: "2025-04-18"},
		{ID: "bad", Title: "Broken", Date: "someday"},
	}
	stamp := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	out := Encode("Meetings", events, time.UTC, stamp)

	for _, want := range []string{"X-WR-CALNAME:Meetings", "UID:1@meetcal", "STATUS:CONFIRMED", "STATUS:TENTATIVE", "DTSTART:20250415T140000Z", "DTEND:20250415T143000Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Broken") {
		t.Error("event with bad date exported")
	}
	if Encode("", events[1:2], nil, stamp) != Encode("", events[1:2], nil, stamp) {
		t.Error("UIDs should be stable")
	}

	entries, err := Parse("export", []byte(out))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || !entries[1].AllDay {
		t.Errorf("round trip = %+v", entries)
	}
}

func TestFetcherCache(t *testing.T) {
	var hits, conditional atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second)
	feed := Feed{ID: "team", URL: srv.URL + "/cal.ics?token=secret"}
	ctx := context.Background()

	p, err := f.Fetch(ctx, feed)
	if err != nil || p.Cached || len(p.Body) == 0 {
		t.Fatalf("first fetch = %+v, %v", p, err)
	}
	p, err = f.Fetch(ctx, feed)
	if err != nil || !p.Cached || conditional.Load() != 1 {
		t.Fatalf("second fetch = cached %v, conditional %d, %v", p.Cached, conditional.Load(), err)
	}

	fail.Store(true)
	p, err = f.Fetch(ctx, feed)
	if err != nil || !p.Cached {
		t.Fatalf("upstream failure should fall back to cache: %v", err)
	}

	payloads, err := f.FetchAll(ctx, []Feed{feed, {ID: "other", URL: srv.URL + "/other.ics"}})
	if err == nil || len(payloads) != 1 {
		t.Errorf("FetchAll = %d payloads, err %v", len(payloads), err)
	}
	if hits.Load() != 5 {
		t.Errorf("hits = %d", hits.Load())
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/private/abc.ics?token=x"); got != "https://cal.example.com/..." {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("nonsense"); got != "(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}
