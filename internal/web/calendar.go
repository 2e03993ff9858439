package web

import (
	"bytes"
	"embed"
	"net/http"
	"time"

	"meetcal/internal/availability"
	"meetcal/internal/calendar"
	"meetcal/internal/ics"
	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

//go:embed templates/calendar.html
var templates embed.FS

type monthResponse struct {
	Month     string             `json:"month"`
	Title     string             `json:"title"`
	WeekStart string             `json:"week_start"`
	Headers   []string           `json:"headers"`
	Cells     []calendar.DayCell `json:"cells"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// handleMonth returns the month grid.
//
// GET /api/month?year=2025&month=4&sort=time
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	m, err := s.monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}

	cells, err := calendar.BuildMonthGrid(m, snap.CalendarEvents(), s.gridOptions(r.URL.Query().Get("sort"))...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, monthResponse{
		Month:     m.Key(),
		Title:     m.String(),
		WeekStart: s.cfg.WeekStart,
		Headers:   calendar.WeekdayHeaders(s.cfg.FirstWeekday()),
		Cells:     cells,
		UpdatedAt: snap.UpdatedAt,
	})
}

func (s *Server) gridOptions(sort string) []calendar.GridOption {
	opts := []calendar.GridOption{calendar.WeekStart(s.cfg.FirstWeekday())}
	if sort == "time" {
		opts = append(opts, calendar.SortByTime())
	}
	return opts
}

type slotsResponse struct {
	Date           string                  `json:"date"`
	User           string                  `json:"user,omitempty"`
	Slots          []availability.TimeSlot `json:"slots"`
	FirstAvailable string                  `json:"first_available,omitempty"`
}

// handleSlots lists the slot picker for a day. With ?user= the peer's known
// meetings are merged into the booked set so only mutually free slots stay
// available. first_available is always one of the returned slots.
//
// GET /api/slots?date=2025-04-15&start=9&end=17&step=30&user=bob
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := s.slotOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}

	peer := r.URL.Query().Get("user")
	booked := snap.Booked(date, opts.StepMinutes, peer)

	slots, err := availability.ResolveTimeSlots(date, booked, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{
		Date:           date.Key(),
		User:           peer,
		Slots:          slots,
		FirstAvailable: availability.FirstFree(slots, opts.PreferredHour),
	})
}

type firstSlotResponse struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// handleFirstSlot returns the slot a new meeting form would preselect.
//
// GET /api/first-slot?date=2025-04-15
func (s *Server) handleFirstSlot(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	opts := s.cfg.Slots
	slot, ok, err := availability.FirstAvailableSlot(date, snap.Booked(date, opts.StepMinutes, ""), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, firstSlotResponse{Date: date.Key(), Time: slot, Available: ok})
}

// slotOptions applies start/end/step query overrides to the configured
// window.
func (s *Server) slotOptions(r *http.Request) (availability.Options, error) {
	opts := s.cfg.Slots
	q := r.URL.Query()
	var err error
	if opts.StartHour, err = intParam(q.Get("start"), "start_hour", opts.StartHour); err != nil {
		return opts, err
	}
	if opts.EndHour, err = intParam(q.Get("end"), "end_hour", opts.EndHour); err != nil {
		return opts, err
	}
	if opts.StepMinutes, err = intParam(q.Get("step"), "step_minutes", opts.StepMinutes); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

// handleICS exports the user's meetings for calendar subscriptions.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	body := ics.Encode("Meetings", snap.Events, s.loc, snap.UpdatedAt)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="meetings.ics"`)
	_, _ = w.Write([]byte(body))
}

type pageEvent struct {
	Time     string
	Title    string
	Status   string
	External bool
}

type pageCell struct {
	Day     int
	Key     string
	Padding bool
	Today   bool
	Events  []pageEvent
}

type pageData struct {
	Title     string
	Headers   []string
	Weeks     [][]pageCell
	UpdatedAt string
}

// handleCalendarPage renders the month as static HTML. The root element
// carries data-ready="true" once rendered so the capture command knows when
// to take its screenshot.
//
// GET /calendar?year=2025&month=4
func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	m, err := s.monthParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap := s.snaps.Snapshot()
	if snap == nil {
		http.Error(w, "calendar not loaded yet", http.StatusServiceUnavailable)
		return
	}
	cells, err := calendar.BuildMonthGrid(m, snap.CalendarEvents(), s.gridOptions("time")...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	today := calendar.DateOf(s.now().In(s.loc)).Key()
	data := pageData{
		Title:     m.String(),
		Headers:   calendar.WeekdayHeaders(s.cfg.FirstWeekday()),
		UpdatedAt: snap.UpdatedAt.In(s.loc).Format("2006-01-02 15:04"),
	}
	for _, week := range calendar.Weeks(cells) {
		row := make([]pageCell, 0, len(week))
		for _, c := range week {
			pc := pageCell{Padding: c.IsPadding()}
			if !pc.Padding {
				pc.Day = c.Date.Day
				pc.Key = c.Date.Key()
				pc.Today = pc.Key == today
			}
			for _, ev := range c.Events {
				if ev.Status == model.StatusCanceled {
					continue
				}
				pc.Events = append(pc.Events, pageEvent{
					Time:     ev.Time,
					Title:    ev.Title,
					Status:   string(ev.Status),
					External: ev.Source != "",
				})
			}
			row = append(row, pc)
		}
		data.Weeks = append(data.Weeks, row)
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		appLog.Error("calendar page render failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
