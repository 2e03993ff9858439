package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"meetcal/internal/availability"
)

// ICSConfig describes a single ICS subscription merged into the calendar.
type ICSConfig struct {
	URL  string `yaml:"url" json:"url"`
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// APIConfig points at the meeting backend.
type APIConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TokenFile      string `yaml:"token_file" json:"token_file"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`

	// UserID is the identifier the backend uses for the signed-in user in
	// event owner/attendee lists. Empty means "ask /user".
	UserID string `yaml:"user_id" json:"user_id"`

	// Token is a static session token taken from MEETCAL_API_TOKEN. It is
	// never written to the config file.
	Token string `yaml:"-" json:"-"`
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CalDAVConfig enables an optional CalDAV calendar as a busy-time source.
type CalDAVConfig struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	// Calendar is the calendar path; empty selects the first one discovered.
	Calendar string `yaml:"calendar" json:"calendar"`
}

func (c *CalDAVConfig) Enabled() bool {
	return c != nil && c.URL != "" && c.Username != ""
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CaptureConfig controls the PNG snapshot of the /calendar page.
type CaptureConfig struct {
	URL    string `yaml:"url" json:"url"`
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used to decide "today" and to place external
	// events on calendar days.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a standard five-field cron spec for snapshot refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds how far ahead external calendars are expanded.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	API    APIConfig            `yaml:"api" json:"api"`
	Slots  availability.Options `yaml:"slots" json:"slots"`
	ICS    []ICSConfig          `yaml:"ics" json:"ics"`
	CalDAV *CalDAVConfig        `yaml:"caldav,omitempty" json:"caldav,omitempty"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultRefreshCron = "*/5 * * * *"
	defaultHorizonDays = 62
	defaultAPITimeout  = 15
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero values with defaults so partially written files
// still load.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday":
		c.WeekStart = "monday"
	default:
		c.WeekStart = "sunday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://127.0.0.1:8000"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TokenFile == "" {
		c.API.TokenFile = "./data/token.json"
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = defaultAPITimeout
	}
	if c.Slots == (availability.Options{}) {
		c.Slots = availability.DefaultOptions()
	}
	if c.Slots.StepMinutes == 0 {
		c.Slots.StepMinutes = availability.DefaultStepMinutes
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Capture.URL == "" {
		c.Capture.URL = "http://" + c.Listen + "/calendar"
	}
	if c.Capture.Output == "" {
		c.Capture.Output = "./data/preview.png"
	}
}

// Validate checks the fields Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
	}
	if err := c.Slots.Validate(); err != nil {
		return fmt.Errorf("slots: %w", err)
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("ics[%d]: url is required", i)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// ApplyEnv lets the environment (or a .env file loaded by the CLI) override
// secrets and the log level.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MEETCAL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MEETCAL_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("MEETCAL_API_URL"); v != "" {
		c.API.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("MEETCAL_CALDAV_PASSWORD"); v != "" && c.CalDAV != nil {
		c.CalDAV.Password = v
	}
}

// Load reads the YAML config at path. On first run the defaults are written
// to path (0600) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory as 0700.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".meetcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
