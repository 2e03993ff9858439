package availability

import (
	"sort"
	"time"

	"meetcal/internal/calendar"
	"meetcal/internal/model"
)

// BookedSet is the set of "HH:MM" times already taken on one date.
// The zero value is an empty set.
type BookedSet struct {
	times map[string]struct{}
}

// NewBookedSet builds a set from raw time strings. Entries that are not a
// valid "HH:MM" are dropped.
func NewBookedSet(times ...string) BookedSet {
	s := BookedSet{times: make(map[string]struct{}, len(times))}
	for _, t := range times {
		s.Add(t)
	}
	return s
}

// Add inserts t and reports whether it was well-formed.
func (s *BookedSet) Add(t string) bool {
	if _, ok := calendar.ClockMinutes(t); !ok {
		return false
	}
	if s.times == nil {
		s.times = make(map[string]struct{})
	}
	s.times[t] = struct{}{}
	return true
}

func (s BookedSet) Has(t string) bool {
	_, ok := s.times[t]
	return ok
}

func (s BookedSet) Len() int { return len(s.times) }

// Times returns the members in ascending order.
func (s BookedSet) Times() []string {
	out := make([]string, 0, len(s.times))
	for t := range s.times {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Merge returns a new set holding the members of s and o.
func (s BookedSet) Merge(o BookedSet) BookedSet {
	out := BookedSet{times: make(map[string]struct{}, len(s.times)+len(o.times))}
	for t := range s.times {
		out.times[t] = struct{}{}
	}
	for t := range o.times {
		out.times[t] = struct{}{}
	}
	return out
}

// BookedTimes collects the times of the non-canceled events that fall on
// date. Dates are compared through calendar.ParseDate so that "2025-4-5" and
// "2025-04-05" match the same day.
func BookedTimes(events []model.Event, date calendar.Date) BookedSet {
	return collect(events, date, func(model.Event) bool { return true })
}

// BookedTimesFor is BookedTimes restricted to events owned or attended by
// userID, for checking a peer's calendar before inviting them.
func BookedTimesFor(events []model.Event, date calendar.Date, userID string) BookedSet {
	return collect(events, date, func(ev model.Event) bool { return ev.Involves(userID) })
}

func collect(events []model.Event, date calendar.Date, keep func(model.Event) bool) BookedSet {
	set := NewBookedSet()
	key := date.Key()
	for _, ev := range events {
		if ev.Status == model.StatusCanceled || !keep(ev) {
			continue
		}
		d, err := calendar.ParseDate(ev.Date)
		if err != nil || d.Key() != key {
			continue
		}
		set.Add(ev.Time)
	}
	return set
}

// CoverInterval returns the slot times on date that overlap [start, end).
// A zero-length interval books the slot it starts in. Times are read in
// start's location.
func CoverInterval(date calendar.Date, start, end time.Time, step int) BookedSet {
	set := NewBookedSet()
	if step <= 0 || 60%step != 0 {
		return set
	}
	loc := start.Location()
	dayStart := date.Time(loc)
	dayEnd := date.AddDays(1).Time(loc)
	end = end.In(loc)
	if end.Before(start) {
		return set
	}
	if !end.After(start) {
		end = start.Add(time.Minute)
	}
	if !start.Before(dayEnd) || !end.After(dayStart) {
		return set
	}
	for m := 0; m < 24*60; m += step {
		slotStart := time.Date(date.Year, date.Month, date.Day, 0, m, 0, 0, loc)
		slotEnd := time.Date(date.Year, date.Month, date.Day, 0, m+step, 0, 0, loc)
		if slotStart.Before(end) && start.Before(slotEnd) {
			set.Add(formatClock(m))
		}
	}
	return set
}
