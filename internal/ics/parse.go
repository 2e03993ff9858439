package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "meetcal/internal/log"
)

// Entry is one VEVENT before recurrence expansion.
type Entry struct {
	FeedID string

	UID         string
	Summary     string
	Description string
	Location    string
	Cancelled   bool

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time

	// RecurrenceID is set on VEVENTs that replace one instance of a
	// recurring series.
	RecurrenceID *time.Time
}

// Parse decodes an ICS body. VEVENTs that cannot be read are logged and
// skipped; only an unreadable calendar is an error.
func Parse(feedID string, body []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", feedID, err)
	}

	var entries []Entry
	for _, ve := range cal.Events() {
		e, err := parseEvent(feedID, ve)
		if err != nil {
			appLog.Warn("ics skipping vevent", "feed", feedID, "err", err.Error())
			continue
		}
		entries = append(entries, e)
	}
	appLog.Debug("ics parsed", "feed", feedID, "events", len(entries))
	return entries, nil
}

func parseEvent(feedID string, ve *ical.VEvent) (Entry, error) {
	e := Entry{FeedID: feedID}

	e.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if e.UID == "" {
		return e, errors.New("missing UID")
	}
	e.Summary = propValue(ve, ical.ComponentPropertySummary)
	e.Description = propValue(ve, ical.ComponentPropertyDescription)
	e.Location = propValue(ve, ical.ComponentPropertyLocation)
	e.Cancelled = strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED")

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return e, fmt.Errorf("%s: missing DTSTART", e.UID)
	}
	e.AllDay = isDateValue(dtstart)

	var err error
	if e.AllDay {
		e.Start, err = ve.GetAllDayStartAt()
	} else {
		e.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return e, fmt.Errorf("%s: DTSTART: %w", e.UID, err)
	}

	if e.AllDay {
		e.End, err = ve.GetAllDayEndAt()
	} else {
		e.End, err = ve.GetEndAt()
	}
	if err != nil || !e.End.After(e.Start) {
		// No DTEND: all-day events last the day, timed events are instants.
		if e.AllDay {
			e.End = e.Start.AddDate(0, 0, 1)
		} else {
			e.End = e.Start
		}
	}

	e.RRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p, e.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseTimeValue(part, loc); err == nil {
				e.ExDates = append(e.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		t, err := parseTimeValue(p.Value, paramLocation(p, e.Start.Location()))
		if err != nil {
			return e, fmt.Errorf("%s: RECURRENCE-ID: %w", e.UID, err)
		}
		e.RecurrenceID = &t
	}

	return e, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// paramLocation resolves the property's TZID, defaulting to def.
func paramLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz := p.ICalParameters["TZID"]; len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}

// parseTimeValue reads DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseTimeValue(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
