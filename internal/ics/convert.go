package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"meetcal/internal/calendar"
	"meetcal/internal/model"
)

// ToEvents flattens occurrences into calendar events keyed by date in loc.
// Timed occurrences land on their start day with an HH:MM time; all-day
// occurrences get one event per covered day and an empty time.
func ToEvents(occs []model.Occurrence, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.Event, 0, len(occs))
	for _, o := range occs {
		ev := model.Event{
			ID:          o.InstanceKey,
			Title:       o.Summary,
			Status:      model.StatusConfirmed,
			Description: o.Description,
			Venue:       o.Location,
			Attendees:   []string{},
			Source:      o.SourceID,
		}
		if !o.AllDay {
			start := o.Start.In(loc)
			ev.Date = calendar.DateOf(start).Key()
			ev.Time = start.Format("15:04")
			out = append(out, ev)
			continue
		}
		day := calendar.DateOf(o.Start)
		last := calendar.DateOf(o.End).AddDays(-1)
		for {
			ev.Date = day.Key()
			out = append(out, ev)
			if !day.Before(last) {
				break
			}
			day = day.AddDays(1)
		}
	}
	return out
}

// DefaultDuration is the length given to exported meetings, which carry a
// start time only.
const DefaultDuration = 30 * time.Minute

// Encode writes events as a VCALENDAR for subscription clients. Events with
// an unparsable date are skipped; events without a time are all-day.
func Encode(name string, events []model.Event, loc *time.Location, stamp time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	cal := ical.NewCalendarFor("meetcal")
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		d, err := calendar.ParseDate(ev.Date)
		if err != nil {
			continue
		}
		ve := cal.AddEvent(eventUID(ev))
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Venue != "" {
			ve.SetLocation(ev.Venue)
		}
		ve.SetStatus(objectStatus(ev.Status))

		if mins, ok := calendar.ClockMinutes(ev.Time); ok {
			start := time.Date(d.Year, d.Month, d.Day, 0, mins, 0, 0, loc)
			ve.SetStartAt(start)
			ve.SetEndAt(start.Add(DefaultDuration))
		} else {
			ve.SetAllDayStartAt(d.Time(time.UTC))
			ve.SetAllDayEndAt(d.AddDays(1).Time(time.UTC))
		}
	}
	return cal.Serialize()
}

func objectStatus(s model.Status) ical.ObjectStatus {
	switch s {
	case model.StatusConfirmed:
		return ical.ObjectStatusConfirmed
	case model.StatusCanceled:
		return ical.ObjectStatusCancelled
	default:
		return ical.ObjectStatusTentative
	}
}

// eventUID is stable across exports: the backend id when present, otherwise
// a name-based UUID of the event's identifying fields.
func eventUID(ev model.Event) string {
	if ev.ID != "" {
		return ev.ID + "@meetcal"
	}
	key := strings.Join([]string{ev.Owner, ev.Title, ev.Date, ev.Time}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String() + "@meetcal"
}
