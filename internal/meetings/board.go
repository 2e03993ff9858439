package meetings

import (
	"fmt"
	"strings"

	"meetcal/internal/model"
)

// Board is the three-tab meetings view.
type Board struct {
	// Scheduled holds confirmed meetings, owned or attended.
	Scheduled []model.Event `json:"scheduled"`
	// Requests holds invitations from other users, pending or answered.
	Requests []model.Event `json:"requests"`
	// Sent holds the user's own meetings still awaiting confirmation or canceled.
	Sent []model.Event `json:"sent"`
}

// Partition splits the user's meetings and incoming requests into a Board.
// Input order is kept within each tab.
func Partition(all, requests []model.Event, userID string) Board {
	b := Board{
		Scheduled: []model.Event{},
		Requests:  []model.Event{},
		Sent:      []model.Event{},
	}
	for _, ev := range all {
		if ev.Status == model.StatusConfirmed {
			b.Scheduled = append(b.Scheduled, ev)
		}
		if ev.IsOwnedBy(userID) && (ev.Status == model.StatusSent || ev.Status == model.StatusCanceled) {
			b.Sent = append(b.Sent, ev)
		}
	}
	for _, ev := range requests {
		if !ev.IsOwnedBy(userID) {
			b.Requests = append(b.Requests, ev)
		}
	}
	return b
}

// Action is a state change a user may apply to a meeting.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
)

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAccept, ActionReject, ActionConfirm, ActionCancel:
		return a, nil
	}
	return "", fmt.Errorf("unknown meeting action %q", s)
}

// Actions lists what userID may do with ev. Owners confirm a pending meeting
// or cancel a live one; invitees answer anything not canceled.
func Actions(ev model.Event, userID string) []Action {
	if ev.IsOwnedBy(userID) {
		var out []Action
		switch ev.Status {
		case model.StatusSent:
			out = append(out, ActionCancel, ActionConfirm)
		case model.StatusConfirmed:
			out = append(out, ActionCancel)
		}
		return out
	}
	if ev.Status == model.StatusCanceled {
		return nil
	}
	return []Action{ActionReject, ActionAccept}
}

// Allowed reports whether a is among Actions(ev, userID).
func Allowed(ev model.Event, userID string, a Action) bool {
	for _, x := range Actions(ev, userID) {
		if x == a {
			return true
		}
	}
	return false
}

// StatusLabel is the badge text for a meeting status.
func StatusLabel(s model.Status) string {
	switch s {
	case model.StatusConfirmed:
		return "Confirmed"
	case model.StatusSent:
		return "Pending"
	case model.StatusCanceled:
		return "Canceled"
	case "":
		return "Unknown"
	default:
		return string(s)
	}
}

// FormatWith renders the compact "with" line of a meeting tile.
func FormatWith(names []string) string {
	switch {
	case len(names) == 0:
		return "Just you"
	case len(names) <= 2:
		return strings.Join(names, ", ")
	default:
		return fmt.Sprintf("%s +%d", strings.Join(names[:2], ", "), len(names)-2)
	}
}

// Participants returns the first names of everyone on ev except userID,
// resolving ids through users. Unknown ids render as "Unknown".
func Participants(ev model.Event, userID string, users map[string]model.User) []string {
	var names []string
	for _, id := range ev.Attendees {
		if id == userID {
			continue
		}
		u, ok := users[id]
		if !ok || u.Name == "" {
			names = append(names, "Unknown")
			continue
		}
		names = append(names, u.FirstName())
	}
	return names
}

// Organizer is "You" for the user's own meetings, the owner's name otherwise.
func Organizer(ev model.Event, userID string, users map[string]model.User) string {
	if ev.IsOwnedBy(userID) || ev.Owner == "" {
		return "You"
	}
	if u, ok := users[ev.Owner]; ok && u.Name != "" {
		return u.Name
	}
	return "Unknown"
}

// PeerIDs collects every distinct user id referenced by events other than
// userID, in first-seen order. It is the set of profiles a view must resolve.
func PeerIDs(userID string, events ...[]model.Event) []string {
	seen := map[string]bool{userID: true, "": true}
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, list := range events {
		for _, ev := range list {
			add(ev.Owner)
			for _, a := range ev.Attendees {
				add(a)
			}
		}
	}
	return out
}
