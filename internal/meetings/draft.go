package meetings

import (
	"strings"

	"meetcal/internal/availability"
	"meetcal/internal/calendar"
	"meetcal/internal/model"
)

// Draft is a prefilled event form.
type Draft struct {
	Title       string       `json:"title"`
	Date        string       `json:"date"`
	Time        string       `json:"time"`
	Venue       string       `json:"venue"`
	Description string       `json:"description"`
	Guests      []model.User `json:"guests"`
}

// NewDraft opens a form on date with the first free slot preselected. Time
// is left empty when the day is fully booked.
func NewDraft(date calendar.Date, events []model.Event, opts availability.Options) (Draft, error) {
	slot, _, err := availability.FirstAvailableSlot(date, availability.BookedTimes(events, date), opts)
	if err != nil {
		return Draft{}, err
	}
	return Draft{Date: date.Key(), Time: slot, Guests: []model.User{}}, nil
}

// AddGuest appends u unless it is already a guest.
func (d *Draft) AddGuest(u model.User) {
	for _, g := range d.Guests {
		if g.Key() == u.Key() {
			return
		}
	}
	d.Guests = append(d.Guests, u)
}

// RemoveGuest drops the guest with the given key.
func (d *Draft) RemoveGuest(key string) {
	out := d.Guests[:0]
	for _, g := range d.Guests {
		if g.Key() != key {
			out = append(out, g)
		}
	}
	d.Guests = out
}

// Request builds the create-event body. The organiser is listed first and
// duplicate or empty ids are dropped.
func (d Draft) Request(organizer model.User) model.NewEvent {
	seen := map[string]bool{"": true}
	var attendees []string
	for _, id := range append([]string{organizer.Key()}, guestKeys(d.Guests)...) {
		if !seen[id] {
			seen[id] = true
			attendees = append(attendees, id)
		}
	}
	return model.NewEvent{
		Title:       strings.TrimSpace(d.Title),
		Status:      model.StatusSent,
		Description: d.Description,
		Date:        d.Date,
		Time:        d.Time,
		Venue:       d.Venue,
		Attendees:   attendees,
	}
}

func guestKeys(users []model.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Key())
	}
	return out
}

// FilterCandidates drops search results that are already guests or that
// are the current user.
func FilterCandidates(results, guests []model.User, current model.User) []model.User {
	taken := map[string]bool{}
	for _, g := range guests {
		taken[g.Key()] = true
	}
	out := make([]model.User, 0, len(results))
	for _, u := range results {
		if taken[u.Key()] || isSameUser(u, current) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func isSameUser(a, b model.User) bool {
	if (a.ID != "" && a.ID == b.ID) || (a.Sub != "" && a.Sub == b.Sub) {
		return true
	}
	return a.Email != "" && strings.EqualFold(a.Email, b.Email)
}
