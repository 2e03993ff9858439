package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

const defaultLimit = 5000

// Window is the range and zone occurrences are produced in.
type Window struct {
	From time.Time
	To   time.Time

	// Location is the display zone; nil means UTC.
	Location *time.Location

	// Limit caps occurrences per series; 0 means defaultLimit.
	Limit int
}

// Expand turns entries into concrete occurrences overlapping the window,
// sorted by start. It applies RRULE, EXDATE and RECURRENCE-ID overrides and
// drops cancelled entries. truncated lists the UIDs whose series hit the
// limit.
func Expand(entries []Entry, w Window) (occs []model.Occurrence, truncated []string, err error) {
	if w.To.Before(w.From) {
		return nil, nil, errors.New("expand: window ends before it starts")
	}
	if w.Location == nil {
		w.Location = time.UTC
	}
	if w.Limit <= 0 {
		w.Limit = defaultLimit
	}

	series := map[string][]Entry{}
	overrides := map[string][]Entry{}
	var uids []string
	for _, e := range entries {
		if e.RecurrenceID != nil {
			overrides[e.UID] = append(overrides[e.UID], e)
			continue
		}
		if _, ok := series[e.UID]; !ok {
			uids = append(uids, e.UID)
		}
		series[e.UID] = append(series[e.UID], e)
	}

	occs = []model.Occurrence{}
	for _, uid := range uids {
		for _, e := range series[uid] {
			got, hit := expandEntry(e, overrides[uid], w)
			occs = append(occs, got...)
			if hit {
				truncated = append(truncated, uid)
				appLog.Warn("expand: series truncated", "uid", uid, "limit", w.Limit)
			}
		}
	}

	sort.SliceStable(occs, func(i, j int) bool {
		if !occs[i].Start.Equal(occs[j].Start) {
			return occs[i].Start.Before(occs[j].Start)
		}
		return occs[i].UID < occs[j].UID
	})
	return occs, truncated, nil
}

func expandEntry(e Entry, overrides []Entry, w Window) ([]model.Occurrence, bool) {
	var out []model.Occurrence
	emit := func(start time.Time) {
		inst := e
		instStart, instEnd := start, start.Add(e.End.Sub(e.Start))
		if o, ok := findOverride(overrides, start); ok {
			inst = o
			instStart, instEnd = o.Start, o.End
		}
		if inst.Cancelled {
			return
		}
		occ := toOccurrence(inst, instStart, instEnd, w.Location)
		if overlaps(occ.Start, occ.End, w.From, w.To) {
			out = append(out, occ)
		}
	}

	if e.RRule == "" {
		emit(e.Start)
		return out, false
	}

	r, err := rrule.StrToRRule(e.RRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", e.UID, "rrule", e.RRule)
		return nil, false
	}
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	// Start the search one duration early so instances already in progress
	// at w.From are kept.
	dur := e.End.Sub(e.Start)
	from := w.From.Add(-dur).In(e.Start.Location())
	starts := set.Between(from, w.To.In(e.Start.Location()), true)

	hit := false
	if len(starts) > w.Limit {
		starts = starts[:w.Limit]
		hit = true
	}
	for _, s := range starts {
		emit(s)
	}
	return out, hit
}

func findOverride(overrides []Entry, start time.Time) (Entry, bool) {
	for _, o := range overrides {
		if o.RecurrenceID.Equal(start) {
			return o, true
		}
		// All-day overrides carry a DATE RECURRENCE-ID.
		if o.AllDay && sameDate(*o.RecurrenceID, start) {
			return o, true
		}
	}
	return Entry{}, false
}

// toOccurrence converts e into loc. All-day instances keep their calendar
// date and span midnight to midnight in loc.
func toOccurrence(e Entry, start, end time.Time, loc *time.Location) model.Occurrence {
	if e.AllDay {
		days := int(end.Sub(start).Hours()/24 + 0.5)
		if days < 1 {
			days = 1
		}
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, days)
	} else {
		start, end = start.In(loc), end.In(loc)
	}
	return model.Occurrence{
		SourceID:    e.FeedID,
		UID:         e.UID,
		InstanceKey: fmt.Sprintf("%s@%s", e.UID, start.Format(time.RFC3339)),
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		AllDay:      e.AllDay,
		Start:       start,
		End:         end,
	}
}

// overlaps treats zero-length occurrences as instants inside [from, to].
func overlaps(start, end, from, to time.Time) bool {
	if start.Equal(end) {
		return !start.Before(from) && !start.After(to)
	}
	return start.Before(to) && end.After(from)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
