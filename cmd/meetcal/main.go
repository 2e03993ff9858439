package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"meetcal/internal/api"
	"meetcal/internal/availability"
	"meetcal/internal/caldav"
	"meetcal/internal/calendar"
	"meetcal/internal/capture"
	"meetcal/internal/config"
	"meetcal/internal/ics"
	appLog "meetcal/internal/log"
	"meetcal/internal/model"
	"meetcal/internal/refresh"
	"meetcal/internal/web"
)

const version = "0.3.0"

// app carries the loaded config from the Before hook into the commands.
type app struct {
	cfg        *config.Config
	configPath string
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	a := &app{}
	cliApp := &cli.App{
		Name:    "meetcal",
		Usage:   "Month calendar and meeting slot picker backed by the meetings API.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./data/config.yaml", EnvVars: []string{"MEETCAL_CONFIG"}, Usage: "Path to config file"},
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Before: a.load,
		Commands: []*cli.Command{
			a.serveCommand(),
			a.monthCommand(),
			a.slotsCommand(),
			a.loginCommand(),
			a.friendsCommand(),
			a.snapshotCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		appLog.Error("meetcal failed", err)
		os.Exit(1)
	}
}

func (a *app) load(c *cli.Context) error {
	a.configPath = c.String("config")
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if v := c.String("listen"); v != "" {
		cfg.Listen = v
	}
	level := appLog.ParseLevel(cfg.LogLevel)
	if c.Bool("debug") {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)
	a.cfg = cfg
	return nil
}

func (a *app) tokenSource() oauth2.TokenSource {
	if a.cfg.API.Token != "" {
		return api.StaticToken(a.cfg.API.Token)
	}
	return api.NewTokenStore(a.cfg.API.TokenFile)
}

func (a *app) client() *api.Client {
	return a.clientWith(a.tokenSource())
}

func (a *app) clientWith(src oauth2.TokenSource) *api.Client {
	return api.New(a.cfg.API.BaseURL, src, a.cfg.API.Timeout())
}

// expireSession deletes a stored session token once the backend rejects it,
// so the next run asks for a fresh login instead of retrying a dead token.
// Tokens from config or the environment are left alone.
func expireSession(src oauth2.TokenSource, err error) error {
	store, ok := src.(*api.TokenStore)
	if !ok || !api.IsUnauthorized(err) {
		return err
	}
	if cerr := store.Clear(); cerr != nil {
		appLog.Warn("could not clear session token", "err", cerr.Error(), "token_file", store.Path())
	}
	return fmt.Errorf("session expired, run `meetcal login` again: %w", err)
}

// sources wires the configured ICS feeds and the optional CalDAV calendar.
func (a *app) sources() ([]refresh.Source, error) {
	var out []refresh.Source
	if len(a.cfg.ICS) > 0 {
		feeds := make([]ics.Feed, 0, len(a.cfg.ICS))
		for _, src := range a.cfg.ICS {
			feeds = append(feeds, ics.Feed{ID: src.SourceID(), URL: src.URL})
		}
		cacheDir := filepath.Join(filepath.Dir(a.cfg.API.TokenFile), "ics-cache")
		out = append(out, &ics.Subscriptions{
			Fetcher: ics.NewFetcher(cacheDir, a.cfg.API.Timeout()),
			Feeds:   feeds,
		})
	}
	if a.cfg.CalDAV.Enabled() {
		dav := a.cfg.CalDAV
		src, err := caldav.New(dav.URL, dav.Username, dav.Password, dav.Calendar, a.cfg.API.Timeout())
		if err != nil {
			return nil, fmt.Errorf("caldav: %w", err)
		}
		out = append(out, src)
	}
	return out, nil
}

func (a *app) refresher(client *api.Client) (*refresh.Refresher, error) {
	sources, err := a.sources()
	if err != nil {
		return nil, err
	}
	return refresh.New(client, sources, refresh.Options{
		UserID:   a.cfg.API.UserID,
		Location: a.cfg.Location(),
		Horizon:  time.Duration(a.cfg.HorizonDays) * 24 * time.Hour,
	}), nil
}

// snapshotOnce refreshes a throwaway refresher for one-shot commands.
func (a *app) snapshotOnce(ctx context.Context) (*refresh.Snapshot, error) {
	src := a.tokenSource()
	r, err := a.refresher(a.clientWith(src))
	if err != nil {
		return nil, err
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, expireSession(src, fmt.Errorf("refresh: %w", err))
	}
	return r.Snapshot(), nil
}

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the refresh loop and the HTTP server.",
		Action: func(c *cli.Context) error {
			cfg := a.cfg
			client := a.client()
			appLog.Info("meetcal starting",
				"version", version,
				"listen", cfg.Listen,
				"api", client.BaseURL(),
				"timezone", cfg.Timezone,
				"refresh", cfg.RefreshCron,
				"horizon_days", cfg.HorizonDays,
				"ics_count", len(cfg.ICS),
				"caldav", cfg.CalDAV.Enabled(),
			)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			r, err := a.refresher(client)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- r.Run(ctx, cfg.RefreshCron) }()

			srv := web.NewServer(cfg, r, client)
			if err := srv.ListenAndServe(ctx); err != nil {
				stop()
				return fmt.Errorf("http server: %w", err)
			}
			if err := <-errCh; err != nil {
				return err
			}
			appLog.Info("meetcal exiting")
			return nil
		},
	}
}

func (a *app) monthCommand() *cli.Command {
	return &cli.Command{
		Name:  "month",
		Usage: "Print a month grid with the user's meetings.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Usage: "Year (default: current)"},
			&cli.IntFlag{Name: "month", Usage: "Month 1-12 (default: current)"},
			&cli.BoolFlag{Name: "sort", Usage: "Sort each day's events by time"},
		},
		Action: func(c *cli.Context) error {
			m := calendar.MonthOf(time.Now().In(a.cfg.Location()))
			if c.IsSet("year") || c.IsSet("month") {
				year, month := m.Year, int(m.Month)
				if c.IsSet("year") {
					year = c.Int("year")
				}
				if c.IsSet("month") {
					month = c.Int("month")
				}
				var err error
				if m, err = calendar.NewMonth(year, month); err != nil {
					return err
				}
			}

			snap, err := a.snapshotOnce(c.Context)
			if err != nil {
				return err
			}
			opts := []calendar.GridOption{calendar.WeekStart(a.cfg.FirstWeekday())}
			if c.Bool("sort") {
				opts = append(opts, calendar.SortByTime())
			}
			cells, err := calendar.BuildMonthGrid(m, snap.CalendarEvents(), opts...)
			if err != nil {
				return err
			}
			printMonth(c.App.Writer, m, calendar.WeekdayHeaders(a.cfg.FirstWeekday()), cells)
			return nil
		},
	}
}

// printMonth writes a cal(1)-style grid, marking days with events, followed
// by the events themselves.
func printMonth(w io.Writer, m calendar.Month, headers []string, cells []calendar.DayCell) {
	fmt.Fprintf(w, "%s\n", m.String())
	for _, h := range headers {
		fmt.Fprintf(w, "%4s", h[:2])
	}
	fmt.Fprintln(w)
	for _, week := range calendar.Weeks(cells) {
		for _, c := range week {
			switch {
			case c.IsPadding():
				fmt.Fprint(w, "    ")
			case len(c.Events) > 0:
				fmt.Fprintf(w, " %2d*", c.Date.Day)
			default:
				fmt.Fprintf(w, " %2d ", c.Date.Day)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	for _, c := range cells {
		for _, ev := range c.Events {
			t := ev.Time
			if t == "" {
				t = "all day"
			}
			line := fmt.Sprintf("%s %-7s %s", c.Date.Key(), t, ev.Title)
			if ev.Status != "" {
				line += " [" + strings.ToLower(string(ev.Status)) + "]"
			}
			if ev.Source != "" {
				line += " (" + ev.Source + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}

func (a *app) slotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "Print the slot picker for a day.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "Day as YYYY-MM-DD (default: today)"},
			&cli.IntFlag{Name: "start", Value: -1, Usage: "First hour of the window"},
			&cli.IntFlag{Name: "end", Value: -1, Usage: "Last hour of the window (inclusive)"},
			&cli.IntFlag{Name: "step", Usage: "Slot length in minutes"},
			&cli.StringFlag{Name: "user", Usage: "Also treat this user's meetings as booked"},
			&cli.BoolFlag{Name: "first", Usage: "Print only the first available slot"},
		},
		Action: func(c *cli.Context) error {
			date := calendar.Today(a.cfg.Location())
			if v := c.String("date"); v != "" {
				d, err := calendar.ParseDate(v)
				if err != nil {
					return err
				}
				date = d
			}
			opts := a.cfg.Slots
			if v := c.Int("start"); v >= 0 {
				opts.StartHour = v
			}
			if v := c.Int("end"); v >= 0 {
				opts.EndHour = v
			}
			if v := c.Int("step"); v > 0 {
				opts.StepMinutes = v
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			snap, err := a.snapshotOnce(c.Context)
			if err != nil {
				return err
			}
			booked := snap.Booked(date, opts.StepMinutes, c.String("user"))

			w := c.App.Writer
			slots, err := availability.ResolveTimeSlots(date, booked, opts)
			if err != nil {
				return err
			}
			if c.Bool("first") {
				// A narrowed window keeps the answer inside it; otherwise the
				// whole day is the fallback.
				slot := availability.FirstFree(slots, opts.PreferredHour)
				if !c.IsSet("start") && !c.IsSet("end") {
					var ok bool
					if slot, ok, err = availability.FirstAvailableSlot(date, booked, opts); err != nil {
						return err
					}
					if !ok {
						slot = ""
					}
				}
				if slot == "" {
					return fmt.Errorf("no free slot on %s", date.Key())
				}
				fmt.Fprintln(w, slot)
				return nil
			}

			fmt.Fprintln(w, date.Key())
			for _, s := range slots {
				mark := "free"
				if !s.Available {
					mark = "booked"
				}
				fmt.Fprintf(w, "  %s  %s\n", s.Time, mark)
			}
			return nil
		},
	}
}

func (a *app) loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Exchange an identity-provider ID token for a backend session token.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id-token", EnvVars: []string{"MEETCAL_ID_TOKEN"}, Required: true, Usage: "ID token from the identity provider"},
		},
		Action: func(c *cli.Context) error {
			client := api.New(a.cfg.API.BaseURL, nil, a.cfg.API.Timeout())
			resp, err := client.VerifyUser(c.Context, c.String("id-token"))
			if err != nil {
				return fmt.Errorf("verify user: %w", err)
			}
			if resp.Token == "" {
				return errors.New("backend returned no session token; set MEETCAL_API_TOKEN instead")
			}

			store := api.NewTokenStore(a.cfg.API.TokenFile)
			if err := store.Save(&oauth2.Token{AccessToken: resp.Token, TokenType: "Bearer"}); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			if a.cfg.API.UserID == "" && resp.User.Key() != "" {
				a.cfg.API.UserID = resp.User.Key()
				if err := a.cfg.Save(a.configPath); err != nil {
					appLog.Warn("could not record user id in config", "err", err.Error())
				}
			}
			appLog.Info("logged in", "user", resp.User.Name, "email", resp.User.Email, "token_file", store.Path())
			return nil
		},
	}
}

func (a *app) friendsCommand() *cli.Command {
	return &cli.Command{
		Name:  "friends",
		Usage: "List friends, show suggestions, or send and accept friend requests.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "suggested", Usage: "List suggested friends instead"},
			&cli.IntFlag{Name: "limit", Value: 10, Usage: "Maximum suggestions"},
			&cli.StringFlag{Name: "request", Usage: "Send a friend request to this user id"},
			&cli.StringFlag{Name: "accept", Usage: "Accept the friend request from this user id"},
		},
		Action: func(c *cli.Context) error {
			src := a.tokenSource()
			client := a.clientWith(src)
			ctx := c.Context

			var err error
			switch {
			case c.String("request") != "":
				err = client.SendFriendRequest(ctx, c.String("request"))
			case c.String("accept") != "":
				err = client.AcceptFriendRequest(ctx, c.String("accept"))
			default:
				var users []model.User
				if c.Bool("suggested") {
					users, err = client.SuggestedFriends(ctx, c.Int("limit"))
				} else {
					users, err = client.Friends(ctx)
				}
				if err == nil {
					printUsers(c.App.Writer, users)
				}
			}
			return expireSession(src, err)
		},
	}
}

func printUsers(w io.Writer, users []model.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	for _, u := range users {
		line := fmt.Sprintf("%-12s %s", u.Key(), u.Name)
		if u.Email != "" {
			line += " <" + u.Email + ">"
		}
		fmt.Fprintln(w, line)
	}
}

func (a *app) snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Capture the /calendar page of a running server to PNG.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Page URL (default: capture.url from config)"},
			&cli.StringFlag{Name: "output", Usage: "PNG path (default: capture.output from config)"},
			&cli.DurationFlag{Name: "timeout", Value: capture.DefaultTimeout, Usage: "Capture timeout"},
		},
		Action: func(c *cli.Context) error {
			opts := capture.FromConfig(a.cfg.Capture)
			if v := c.String("url"); v != "" {
				opts.URL = v
			}
			if v := c.String("output"); v != "" {
				opts.Output = v
			}
			opts.Timeout = c.Duration("timeout")
			return capture.Screenshot(c.Context, opts)
		},
	}
}
