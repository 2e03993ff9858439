package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"meetcal/internal/calendar"
	"meetcal/internal/config"
	appLog "meetcal/internal/log"
	"meetcal/internal/model"
	"meetcal/internal/refresh"
)

// Snapshots is the refresher as seen by the HTTP layer.
type Snapshots interface {
	Snapshot() *refresh.Snapshot
	Refresh(ctx context.Context) error
}

// Backend performs the calls the web API proxies to the
// meeting backend.
type Backend interface {
	CreateEvent(ctx context.Context, ev model.NewEvent) (model.Event, error)
	AttendeeStatus(ctx context.Context, eventID string) ([]model.Attendee, error)
	AcceptEvent(ctx context.Context, eventID string) error
	RejectEvent(ctx context.Context, eventID string) error
	ConfirmEvent(ctx context.Context, eventID string) error
	CancelEvent(ctx context.Context, eventID string) error
	SearchUsers(ctx context.Context, q string) ([]model.User, error)

	Friends(ctx context.Context) ([]model.User, error)
	SuggestedFriends(ctx context.Context, limit int) ([]model.User, error)
	SendFriendRequest(ctx context.Context, userID string) error
	AcceptFriendRequest(ctx context.Context, userID string) error
}

// Server serves the calendar, slot picker and meetings APIs plus the
// server-rendered /calendar page used for snapshots.
type Server struct {
	cfg     *config.Config
	snaps   Snapshots
	backend Backend
	loc     *time.Location
	mux     *http.ServeMux
	page    *template.Template

	// now is swapped in tests.
	now func() time.Time

	// Attendance reports are cached briefly; the detail view polls them.
	tallyMu sync.RWMutex
	tallies map[string]tallyCache
}

const tallyCacheTTL = 30 * time.Second

func NewServer(cfg *config.Config, snaps Snapshots, backend Backend) *Server {
	s := &Server{
		cfg:     cfg,
		snaps:   snaps,
		backend: backend,
		loc:     cfg.Location(),
		mux:     http.NewServeMux(),
		page:    template.Must(template.ParseFS(templates, "templates/calendar.html")),
		now:     time.Now,
		tallies: map[string]tallyCache{},
	}
	s.registerRoutes()
	return s
}

// Handler returns the mux, wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return logRequests(h)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="meetcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).String(),
		)
	})
}

// ListenAndServe runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/month", s.handleMonth)
	s.mux.HandleFunc("GET /api/slots", s.handleSlots)
	s.mux.HandleFunc("GET /api/first-slot", s.handleFirstSlot)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleICS)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)

	s.mux.HandleFunc("GET /api/meetings", s.handleMeetings)
	s.mux.HandleFunc("POST /api/meetings", s.handleCreateMeeting)
	s.mux.HandleFunc("GET /api/meetings/{id}/attendees", s.handleAttendees)
	s.mux.HandleFunc("POST /api/meetings/{id}/{action}", s.handleMeetingAction)
	s.mux.HandleFunc("GET /api/draft", s.handleDraft)
	s.mux.HandleFunc("GET /api/users/search", s.handleSearchUsers)
	s.mux.HandleFunc("GET /api/friends", s.handleFriends)
	s.mux.HandleFunc("GET /api/friends/suggested", s.handleSuggestedFriends)
	s.mux.HandleFunc("POST /api/friends/{id}/{action}", s.handleFriendAction)

	s.mux.HandleFunc("GET /calendar", s.handleCalendarPage)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.snaps.Refresh(r.Context()); err != nil {
		appLog.Error("manual refresh failed", err)
		writeError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
		return
	}
	snap := s.snaps.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"updated_at": snap.UpdatedAt})
}

// handlePreview serves the last PNG written by the capture command.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.Capture.Output)
}

// snapshot writes 503 and returns nil before the first successful refresh.
func (s *Server) snapshot(w http.ResponseWriter) *refresh.Snapshot {
	snap := s.snaps.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar not loaded yet")
	}
	return snap
}

// monthParam reads year/month, defaulting to the current month.
func (s *Server) monthParam(r *http.Request) (calendar.Month, error) {
	now := calendar.MonthOf(s.now().In(s.loc))
	q := r.URL.Query()
	year, err := intParam(q.Get("year"), "year", now.Year)
	if err != nil {
		return calendar.Month{}, err
	}
	month, err := intParam(q.Get("month"), "month", int(now.Month))
	if err != nil {
		return calendar.Month{}, err
	}
	return calendar.NewMonth(year, month)
}

// dateParam reads ?date=, defaulting to today.
func (s *Server) dateParam(r *http.Request) (calendar.Date, error) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return calendar.DateOf(s.now().In(s.loc)), nil
	}
	d, err := calendar.ParseDate(v)
	if err != nil {
		return calendar.Date{}, err
	}
	return d, nil
}

// intParam parses an optional integer query parameter.
func intParam(v, field string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &calendar.InvalidInputError{Field: field, Value: v, Reason: "not an integer"}
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
