package meetings

import (
	"math"

	"meetcal/internal/model"
)

// Tally is the attendance breakdown shown on a meeting's detail view.
type Tally struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Pending  int `json:"pending"`
}

// CountAttendees tallies attendees by status. A missing or unknown status
// counts as pending.
func CountAttendees(attendees []model.Attendee) Tally {
	var t Tally
	for _, a := range attendees {
		switch a.Status {
		case model.AttendeeAccepted:
			t.Accepted++
		case model.AttendeeRejected:
			t.Rejected++
		default:
			t.Pending++
		}
	}
	return t
}

func (t Tally) Total() int { return t.Accepted + t.Rejected + t.Pending }

// Percent returns n as a rounded share of the total, 0 for an empty tally.
func (t Tally) Percent(n int) int {
	total := t.Total()
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(n) * 100 / float64(total)))
}
