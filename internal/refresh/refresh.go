// Package refresh keeps an in-memory snapshot of the user's meetings and
// external calendars up to date.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"meetcal/internal/availability"
	"meetcal/internal/calendar"
	"meetcal/internal/ics"
	appLog "meetcal/internal/log"
	"meetcal/internal/meetings"
	"meetcal/internal/model"
)

// Backend is the part of the API client the refresher reads from.
type Backend interface {
	CurrentUser(ctx context.Context) (model.User, error)
	MyEvents(ctx context.Context) ([]model.Event, error)
	MyEventRequests(ctx context.Context) ([]model.Event, error)
	UsersByID(ctx context.Context, ids []string) (map[string]model.User, error)
}

// Source yields busy occurrences from an external calendar.
type Source interface {
	Occurrences(ctx context.Context, from, to time.Time, loc *time.Location) ([]model.Occurrence, error)
}

// Snapshot is an immutable view of everything the calendar shows.
type Snapshot struct {
	User   model.User `json:"user"`
	UserID string     `json:"user_id"`

	// Events are the backend meetings; Requests are invitations.
	Events   []model.Event `json:"events"`
	Requests []model.Event `json:"requests"`

	// Peers resolves owner and attendee ids to users.
	Peers map[string]model.User `json:"-"`

	// Occurrences are external calendar instances; External is the same
	// data flattened into calendar events.
	Occurrences []model.Occurrence `json:"-"`
	External    []model.Event      `json:"external"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CalendarEvents returns backend meetings followed by external events.
func (s *Snapshot) CalendarEvents() []model.Event {
	out := make([]model.Event, 0, len(s.Events)+len(s.External))
	out = append(out, s.Events...)
	return append(out, s.External...)
}

// Board partitions the snapshot's meetings into tabs.
func (s *Snapshot) Board() meetings.Board {
	return meetings.Partition(s.Events, s.Requests, s.UserID)
}

// Booked merges the user's meetings, their timed external events and, when
// peer is set, the peer's known meetings into one booked set for date. All-day
// external events do not block slots.
func (s *Snapshot) Booked(date calendar.Date, step int, peer string) availability.BookedSet {
	booked := availability.BookedTimes(s.Events, date)
	for _, o := range s.Occurrences {
		if o.AllDay {
			continue
		}
		booked = booked.Merge(availability.CoverInterval(date, o.Start, o.End, step))
	}
	if peer != "" {
		all := make([]model.Event, 0, len(s.Events)+len(s.Requests))
		all = append(append(all, s.Events...), s.Requests...)
		booked = booked.Merge(availability.BookedTimesFor(all, date, peer))
	}
	return booked
}

// Options configures a Refresher.
type Options struct {
	// UserID overrides the id taken from the backend user record.
	UserID   string
	Location *time.Location
	// Horizon is how far ahead of the current month external sources are
	// expanded.
	Horizon time.Duration
	// Now is for tests.
	Now func() time.Time
}

// Refresher owns the current Snapshot.
type Refresher struct {
	backend Backend
	sources []Source
	opts    Options

	mu   sync.RWMutex
	snap *Snapshot
	// external keeps each source's last good result so one failing source
	// does not blank the others.
	external map[int][]model.Occurrence

	runMu sync.Mutex
}

func New(backend Backend, sources []Source, opts Options) *Refresher {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 62 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Refresher{
		backend:  backend,
		sources:  sources,
		opts:     opts,
		external: map[int][]model.Occurrence{},
	}
}

// Snapshot returns the latest snapshot, or nil before the first successful
// refresh.
func (r *Refresher) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Refresh rebuilds the snapshot. A backend failure keeps the previous
// snapshot and is returned; external source failures are logged and the
// source's previous occurrences are reused.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := r.opts.Now()

	user, err := r.backend.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("current user: %w", err)
	}
	events, err := r.backend.MyEvents(ctx)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	requests, err := r.backend.MyEventRequests(ctx)
	if err != nil {
		return fmt.Errorf("event requests: %w", err)
	}

	userID := r.opts.UserID
	if userID == "" {
		userID = user.Key()
	}

	peers, err := r.backend.UsersByID(ctx, meetings.PeerIDs(userID, events, requests))
	if err != nil {
		appLog.Warn("refresh: peer lookup incomplete", "err", err.Error())
	}
	if peers == nil {
		peers = map[string]model.User{}
	}

	loc := r.opts.Location
	from := calendar.MonthOf(start.In(loc)).First().Time(loc)
	to := start.Add(r.opts.Horizon)
	occs := r.collect(ctx, from, to, loc)

	snap := &Snapshot{
		User:        user,
		UserID:      userID,
		Events:      events,
		Requests:    requests,
		Peers:       peers,
		Occurrences: occs,
		External:    ics.ToEvents(occs, loc),
		UpdatedAt:   r.opts.Now(),
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	appLog.Info("refresh completed",
		"events", len(events),
		"requests", len(requests),
		"external", len(occs),
		"elapsed", r.opts.Now().Sub(start).String(),
	)
	return nil
}

func (r *Refresher) collect(ctx context.Context, from, to time.Time, loc *time.Location) []model.Occurrence {
	out := []model.Occurrence{}
	for i, src := range r.sources {
		occs, err := src.Occurrences(ctx, from, to, loc)
		switch {
		case err == nil:
			r.external[i] = occs
		case occs != nil:
			// Partial result, e.g. one ICS feed down.
			appLog.Warn("refresh: external source partially failed", "source", i, "err", err.Error())
			r.external[i] = occs
		default:
			appLog.Error("refresh: external source failed; keeping previous", err, "source", i)
		}
		out = append(out, r.external[i]...)
	}
	return out
}

// Run refreshes once, then on every tick of spec until ctx is done.
func (r *Refresher) Run(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(r.opts.Location))
	if _, err := c.AddFunc(spec, func() { r.refreshLogged(ctx) }); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", spec, err)
	}

	r.refreshLogged(ctx)
	c.Start()
	appLog.Info("refresh scheduler started", "spec", spec)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("refresh scheduler stopped")
	return nil
}

func (r *Refresher) refreshLogged(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		appLog.Error("refresh failed; keeping previous snapshot", err)
	}
}
