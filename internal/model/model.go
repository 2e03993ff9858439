package model

import "time"

// Status is the lifecycle state of a meeting as stored by the backend.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
)

// AttendeeStatus is one invitee's answer to a meeting request.
type AttendeeStatus string

const (
	AttendeeRequested AttendeeStatus = "REQUESTED"
	AttendeeAccepted  AttendeeStatus = "ACCEPTED"
	AttendeeRejected  AttendeeStatus = "REJECTED"
)

// Event is a meeting in the backend's wire shape. Date and Time are kept as
// the strings the backend sent; calendar.ParseDate and availability helpers
// normalise them when they are compared.
type Event struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Status      Status   `json:"meeting_status"`
	Description string   `json:"description,omitempty"`
	Date        string   `json:"date"`
	Time        string   `json:"time"`
	Venue       string   `json:"venue,omitempty"`
	Attendees   []string `json:"attendees"`
	Owner       string   `json:"user"`

	// Source is set for events merged in from external calendars; it is
	// empty for backend meetings.
	Source string `json:"source,omitempty"`
}

// IsOwnedBy reports whether userID created the event.
func (e Event) IsOwnedBy(userID string) bool {
	return userID != "" && e.Owner == userID
}

// Involves reports whether userID owns or attends the event.
func (e Event) Involves(userID string) bool {
	if e.IsOwnedBy(userID) {
		return true
	}
	for _, a := range e.Attendees {
		if a == userID {
			return true
		}
	}
	return false
}

// NewEvent is the request body for creating a meeting.
type NewEvent struct {
	Title       string   `json:"title"`
	Status      Status   `json:"meeting_status"`
	Description string   `json:"description"`
	Date        string   `json:"date"`
	Time        string   `json:"time"`
	Venue       string   `json:"venue"`
	Attendees   []string `json:"attendees"`
}

// User is a backend account. Sub is the identity-provider subject and is the
// identifier used in Event.Owner and Event.Attendees.
type User struct {
	ID      string `json:"id"`
	Sub     string `json:"sub,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture,omitempty"`
}

// Key returns the identifier other records use to refer to the user.
func (u User) Key() string {
	switch {
	case u.Sub != "":
		return u.Sub
	case u.ID != "":
		return u.ID
	default:
		return u.Email
	}
}

// FirstName returns the first word of Name.
func (u User) FirstName() string {
	for i, r := range u.Name {
		if r == ' ' {
			return u.Name[:i]
		}
	}
	return u.Name
}

// Attendee is one row of a meeting's attendance report.
type Attendee struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Email  string         `json:"email,omitempty"`
	Status AttendeeStatus `json:"status,omitempty"`
}

// Occurrence represents a single concrete instance of an external calendar
// event after recurrence expansion and timezone normalisation.
type Occurrence struct {
	SourceID string
	UID      string

	// InstanceKey uniquely identifies one occurrence of a recurring event.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}
