package availability

import (
	"fmt"

	"meetcal/internal/calendar"
)

const (
	DefaultStartHour     = 0
	DefaultEndHour       = 23
	DefaultStepMinutes   = 30
	DefaultPreferredHour = 9
)

// TimeSlot is one bookable time of day on the slot picker.
type TimeSlot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// Options bounds the generated window. EndHour is inclusive: every step that
// starts inside EndHour is generated, so 0..23 by 30 covers 00:00..23:30.
type Options struct {
	StartHour     int `json:"start_hour" yaml:"start_hour"`
	EndHour       int `json:"end_hour" yaml:"end_hour"`
	StepMinutes   int `json:"step_minutes" yaml:"step_minutes"`
	PreferredHour int `json:"preferred_hour" yaml:"preferred_hour"`
}

func DefaultOptions() Options {
	return Options{
		StartHour:     DefaultStartHour,
		EndHour:       DefaultEndHour,
		StepMinutes:   DefaultStepMinutes,
		PreferredHour: DefaultPreferredHour,
	}
}

func (o Options) Validate() error {
	switch {
	case o.StartHour < 0 || o.StartHour > 23:
		return &calendar.InvalidInputError{Field: "start_hour", Value: o.StartHour, Reason: "must be in [0,23]"}
	case o.EndHour < 0 || o.EndHour > 23:
		return &calendar.InvalidInputError{Field: "end_hour", Value: o.EndHour, Reason: "must be in [0,23]"}
	case o.StartHour > o.EndHour:
		return &calendar.InvalidInputError{Field: "end_hour", Value: o.EndHour, Reason: fmt.Sprintf("before start_hour %d", o.StartHour)}
	case o.StepMinutes <= 0 || o.StepMinutes > 60 || 60%o.StepMinutes != 0:
		return &calendar.InvalidInputError{Field: "step_minutes", Value: o.StepMinutes, Reason: "must divide 60"}
	case o.PreferredHour < 0 || o.PreferredHour > 23:
		return &calendar.InvalidInputError{Field: "preferred_hour", Value: o.PreferredHour, Reason: "must be in [0,23]"}
	}
	return nil
}

// ResolveTimeSlots lists every slot of opts' window on date in ascending
// order, marking the ones present in booked as unavailable.
func ResolveTimeSlots(date calendar.Date, booked BookedSet, opts Options) ([]TimeSlot, error) {
	if err := checkDate(date); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	times := window(opts.StartHour, opts.EndHour, opts.StepMinutes)
	slots := make([]TimeSlot, 0, len(times))
	for _, t := range times {
		slots = append(slots, TimeSlot{Time: t, Available: !booked.Has(t)})
	}
	return slots, nil
}

// FirstAvailableSlot returns the earliest free slot from PreferredHour to the
// end of the window, falling back to a scan of the whole day from 00:00.
// ok is false when every slot of the day is booked.
func FirstAvailableSlot(date calendar.Date, booked BookedSet, opts Options) (slot string, ok bool, err error) {
	if err := checkDate(date); err != nil {
		return "", false, err
	}
	if err := opts.Validate(); err != nil {
		return "", false, err
	}
	end := opts.EndHour
	if opts.PreferredHour <= end {
		for _, t := range window(opts.PreferredHour, end, opts.StepMinutes) {
			if !booked.Has(t) {
				return t, true, nil
			}
		}
	}
	for _, t := range window(0, 23, opts.StepMinutes) {
		if !booked.Has(t) {
			return t, true, nil
		}
	}
	return "", false, nil
}

// FirstFree picks the slot a picker preselects from an already resolved
// window: the first free slot at or after preferredHour, else the first free
// slot of the window. Unlike FirstAvailableSlot it never leaves the window.
func FirstFree(slots []TimeSlot, preferredHour int) string {
	from := formatClock(preferredHour * 60)
	for _, s := range slots {
		if s.Available && s.Time >= from {
			return s.Time
		}
	}
	for _, s := range slots {
		if s.Available {
			return s.Time
		}
	}
	return ""
}

func checkDate(d calendar.Date) error {
	if !d.Valid() {
		return &calendar.InvalidInputError{Field: "date", Value: d.Key(), Reason: "not a calendar date"}
	}
	return nil
}

func window(startHour, endHour, step int) []string {
	out := make([]string, 0, (endHour-startHour+1)*60/step)
	for m := startHour * 60; m < (endHour+1)*60; m += step {
		out = append(out, formatClock(m))
	}
	return out
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
