package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"meetcal/internal/calendar"
	appLog "meetcal/internal/log"
	"meetcal/internal/meetings"
	"meetcal/internal/model"
	"meetcal/internal/refresh"
)

type meetingView struct {
	model.Event
	StatusLabel string            `json:"status_label"`
	With        string            `json:"with"`
	Organizer   string            `json:"organizer"`
	VenueInfo   meetings.Venue    `json:"venue_info"`
	Actions     []meetings.Action `json:"actions"`
}

func newMeetingView(ev model.Event, snap *refresh.Snapshot) meetingView {
	actions := meetings.Actions(ev, snap.UserID)
	if actions == nil {
		actions = []meetings.Action{}
	}
	return meetingView{
		Event:       ev,
		StatusLabel: meetings.StatusLabel(ev.Status),
		With:        meetings.FormatWith(meetings.Participants(ev, snap.UserID, snap.Peers)),
		Organizer:   meetings.Organizer(ev, snap.UserID, snap.Peers),
		VenueInfo:   meetings.ClassifyVenue(ev.Venue),
		Actions:     actions,
	}
}

func viewsOf(events []model.Event, snap *refresh.Snapshot) []meetingView {
	out := make([]meetingView, 0, len(events))
	for _, ev := range events {
		out = append(out, newMeetingView(ev, snap))
	}
	return out
}

type boardResponse struct {
	Scheduled []meetingView `json:"scheduled"`
	Requests  []meetingView `json:"requests"`
	Sent      []meetingView `json:"sent"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// handleMeetings returns the three meeting tabs.
//
// GET /api/meetings
func (s *Server) handleMeetings(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	b := snap.Board()
	writeJSON(w, http.StatusOK, boardResponse{
		Scheduled: viewsOf(b.Scheduled, snap),
		Requests:  viewsOf(b.Requests, snap),
		Sent:      viewsOf(b.Sent, snap),
		UpdatedAt: snap.UpdatedAt,
	})
}

// findEvent looks an id up in the user's meetings, then in their requests.
func findEvent(snap *refresh.Snapshot, id string) (model.Event, bool) {
	for _, list := range [][]model.Event{snap.Events, snap.Requests} {
		for _, ev := range list {
			if ev.ID == id {
				return ev, true
			}
		}
	}
	return model.Event{}, false
}

// handleMeetingAction applies accept/reject/confirm/cancel to a meeting the
// user may act on, then refreshes the snapshot.
//
// POST /api/meetings/{id}/{action}
func (s *Server) handleMeetingAction(w http.ResponseWriter, r *http.Request) {
	action, err := meetings.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	id := r.PathValue("id")
	ev, ok := findEvent(snap, id)
	if !ok {
		writeError(w, http.StatusNotFound, "meeting not found")
		return
	}
	if !meetings.Allowed(ev, snap.UserID, action) {
		writeError(w, http.StatusForbidden, "action "+string(action)+" not allowed on this meeting")
		return
	}

	ctx := r.Context()
	switch action {
	case meetings.ActionAccept:
		err = s.backend.AcceptEvent(ctx, id)
	case meetings.ActionReject:
		err = s.backend.RejectEvent(ctx, id)
	case meetings.ActionConfirm:
		err = s.backend.ConfirmEvent(ctx, id)
	case meetings.ActionCancel:
		err = s.backend.CancelEvent(ctx, id)
	}
	if err != nil {
		appLog.Error("meeting action failed", err, "id", id, "action", string(action))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	appLog.Info("meeting action applied", "id", id, "action", string(action))

	s.dropTally(id)
	s.refreshAfterWrite(r)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "action": string(action)})
}

// refreshAfterWrite pulls the backend again so the next read reflects a
// write. A failure only means the snapshot lags until the next tick.
func (s *Server) refreshAfterWrite(r *http.Request) {
	if err := s.snaps.Refresh(r.Context()); err != nil {
		appLog.Warn("refresh after write failed", "err", err.Error())
	}
}

type tallyCache struct {
	resp      attendeesResponse
	expiresAt time.Time
}

type attendeesResponse struct {
	ID        string           `json:"id"`
	Attendees []model.Attendee `json:"attendees"`
	Tally     meetings.Tally   `json:"tally"`
	Percent   map[string]int   `json:"percent"`
}

// handleAttendees reports who answered a meeting request.
//
// GET /api/meetings/{id}/attendees
func (s *Server) handleAttendees(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	now := s.now()
	s.tallyMu.RLock()
	c, ok := s.tallies[id]
	s.tallyMu.RUnlock()
	if ok && now.Before(c.expiresAt) {
		writeJSON(w, http.StatusOK, c.resp)
		return
	}

	attendees, err := s.backend.AttendeeStatus(r.Context(), id)
	if err != nil {
		appLog.Error("attendee status failed", err, "id", id)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if attendees == nil {
		attendees = []model.Attendee{}
	}
	t := meetings.CountAttendees(attendees)
	resp := attendeesResponse{
		ID:        id,
		Attendees: attendees,
		Tally:     t,
		Percent: map[string]int{
			"accepted": t.Percent(t.Accepted),
			"rejected": t.Percent(t.Rejected),
			"pending":  t.Percent(t.Pending),
		},
	}

	s.storeTally(id, resp, now)

	writeJSON(w, http.StatusOK, resp)
}

// storeTally caches resp and evicts every entry that has expired by now, so
// the map only holds meetings polled within the last TTL.
func (s *Server) storeTally(id string, resp attendeesResponse, now time.Time) {
	s.tallyMu.Lock()
	defer s.tallyMu.Unlock()
	for k, c := range s.tallies {
		if !now.Before(c.expiresAt) {
			delete(s.tallies, k)
		}
	}
	s.tallies[id] = tallyCache{resp: resp, expiresAt: now.Add(tallyCacheTTL)}
}

func (s *Server) dropTally(id string) {
	s.tallyMu.Lock()
	delete(s.tallies, id)
	s.tallyMu.Unlock()
}

// handleDraft returns a prefilled new-meeting form for a day.
//
// GET /api/draft?date=2025-04-15
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	d, err := meetings.NewDraft(date, snap.CalendarEvents(), s.cfg.Slots)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type createRequest struct {
	Title       string   `json:"title"`
	Date        string   `json:"date"`
	Time        string   `json:"time"`
	Venue       string   `json:"venue"`
	Description string   `json:"description"`
	Guests      []string `json:"guests"`
}

func (c createRequest) validate() (calendar.Date, error) {
	if strings.TrimSpace(c.Title) == "" {
		return calendar.Date{}, &calendar.InvalidInputError{Field: "title", Value: c.Title, Reason: "required"}
	}
	date, err := calendar.ParseDate(c.Date)
	if err != nil {
		return calendar.Date{}, err
	}
	if _, ok := calendar.ClockMinutes(c.Time); !ok {
		return calendar.Date{}, &calendar.InvalidInputError{Field: "time", Value: c.Time, Reason: "expected HH:MM"}
	}
	return date, nil
}

// handleCreateMeeting sends a new meeting request to the backend.
//
// POST /api/meetings {"title","date","time","venue","description","guests":[ids]}
func (s *Server) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	date, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}

	d := meetings.Draft{
		Title:       req.Title,
		Date:        date.Key(),
		Time:        req.Time,
		Venue:       strings.TrimSpace(req.Venue),
		Description: req.Description,
	}
	for _, id := range req.Guests {
		if u, ok := snap.Peers[id]; ok && u.Key() == id {
			d.AddGuest(u)
			continue
		}
		d.AddGuest(model.User{Sub: id})
	}

	organizer := snap.User
	if organizer.Key() != snap.UserID {
		organizer = model.User{Sub: snap.UserID}
	}
	created, err := s.backend.CreateEvent(r.Context(), d.Request(organizer))
	if err != nil {
		appLog.Error("create meeting failed", err, "date", d.Date, "time", d.Time)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	appLog.Info("meeting created", "id", created.ID, "date", d.Date, "time", d.Time, "guests", len(d.Guests))

	s.refreshAfterWrite(r)
	writeJSON(w, http.StatusCreated, created)
}

// handleSearchUsers proxies a user search, leaving out the current user and
// any ids passed as ?exclude=.
//
// GET /api/users/search?q=ann&exclude=bob,carol
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}

	var guests []model.User
	for _, id := range strings.Split(r.URL.Query().Get("exclude"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			guests = append(guests, model.User{Sub: id})
		}
	}

	results, err := s.backend.SearchUsers(r.Context(), q)
	if err != nil {
		appLog.Error("user search failed", err, "q", q)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": meetings.FilterCandidates(results, guests, currentUser(snap))})
}
