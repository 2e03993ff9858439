// Package caldav reads busy times from a CalDAV calendar.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

// SourceID tags occurrences that came from CalDAV.
const SourceID = "caldav"

// Source queries one calendar collection.
type Source struct {
	client   *caldav.Client
	calendar string
	resolved string
}

// New connects to endpoint with basic auth. calendarPath may be empty, a
// collection path, or a display name; it is resolved on first use.
func New(endpoint, username, password, calendarPath string, timeout time.Duration) (*Source, error) {
	if endpoint == "" {
		return nil, errors.New("caldav endpoint is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: timeout}, username, password)
	client, err := caldav.NewClient(hc, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}
	return &Source{client: client, calendar: calendarPath}, nil
}

// Occurrences returns expanded events overlapping [from, to) in loc.
func (s *Source) Occurrences(ctx context.Context, from, to time.Time, loc *time.Location) ([]model.Occurrence, error) {
	path, err := s.calendarPath(ctx)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			Comps:    []caldav.CalendarCompRequest{{Name: "VEVENT", AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name:  "VCALENDAR",
			Comps: []caldav.CompFilter{{Name: "VEVENT", Start: from.UTC(), End: to.UTC()}},
		},
	}
	objects, err := s.client.QueryCalendar(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	var out []model.Occurrence
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		out = append(out, Expand(obj.Data, from, to, loc)...)
	}
	sortOccurrences(out)
	appLog.Debug("caldav query", "calendar", path, "objects", len(objects), "occurrences", len(out))
	return out, nil
}

func (s *Source) calendarPath(ctx context.Context) (string, error) {
	if s.resolved != "" {
		return s.resolved, nil
	}
	if strings.HasPrefix(s.calendar, "/") {
		s.resolved = s.calendar
		return s.resolved, nil
	}

	principal, err := s.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	home, err := s.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find home set: %w", err)
	}
	cals, err := s.client.FindCalendars(ctx, home)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	for _, c := range cals {
		if s.calendar == "" || c.Name == s.calendar {
			s.resolved = c.Path
			appLog.Info("caldav calendar selected", "name", c.Name, "path", c.Path)
			return s.resolved, nil
		}
	}
	return "", fmt.Errorf("no calendar found with name %q", s.calendar)
}

// Expand converts the VEVENTs of cal into occurrences overlapping
// [from, to). Recurring events are expanded with their RRULE/RDATE/EXDATE
// set; cancelled events and events without DTSTART are skipped.
func Expand(cal *ical.Calendar, from, to time.Time, loc *time.Location) []model.Occurrence {
	if loc == nil {
		loc = time.UTC
	}
	var out []model.Occurrence
	for _, ev := range cal.Events() {
		if strings.EqualFold(propText(ev.Component, ical.PropStatus), "CANCELLED") {
			continue
		}
		// Overrides of single instances are reported by the server as part
		// of the same object; the master's set already covers the slot.
		if ev.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}

		start, err := ev.DateTimeStart(loc)
		if err != nil {
			continue
		}
		end, err := ev.DateTimeEnd(loc)
		if err != nil || !end.After(start) {
			end = start
		}
		allDay := false
		if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.Params.Get(ical.ParamValue) == string(ical.ValueDate) {
			allDay = true
			if !end.After(start) {
				end = start.AddDate(0, 0, 1)
			}
		}
		dur := end.Sub(start)

		base := model.Occurrence{
			SourceID:    SourceID,
			UID:         propText(ev.Component, ical.PropUID),
			Summary:     propText(ev.Component, ical.PropSummary),
			Description: propText(ev.Component, ical.PropDescription),
			Location:    propText(ev.Component, ical.PropLocation),
			AllDay:      allDay,
		}

		starts := []time.Time{start}
		if set, err := ev.RecurrenceSet(loc); err != nil {
			appLog.Warn("caldav bad recurrence", "uid", base.UID, "err", err.Error())
		} else if set != nil {
			starts = set.Between(from.Add(-dur), to, true)
		}

		for _, s := range starts {
			occ := base
			occ.Start = s.In(loc)
			occ.End = occ.Start.Add(dur)
			occ.InstanceKey = fmt.Sprintf("%s@%s", occ.UID, occ.Start.Format(time.RFC3339))
			if inRange(occ, from, to) {
				out = append(out, occ)
			}
		}
	}
	return out
}

// inRange treats zero-length occurrences as instants inside [from, to).
func inRange(o model.Occurrence, from, to time.Time) bool {
	if o.Start.Equal(o.End) {
		return !o.Start.Before(from) && o.Start.Before(to)
	}
	return o.Start.Before(to) && o.End.After(from)
}

func propText(c *ical.Component, name string) string {
	if p := c.Props.Get(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func sortOccurrences(occs []model.Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		return occs[i].Start.Before(occs[j].Start)
	})
}
