package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "meetcal/internal/log"
)

// Feed is one ICS subscription.
type Feed struct {
	ID  string
	URL string
}

// Payload is the body of a feed, fresh or from the disk cache.
type Payload struct {
	Feed   Feed
	Body   []byte
	Cached bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body on disk so a flaky upstream does not blank the calendar.
type Fetcher struct {
	client *http.Client
	dir    string
}

// NewFetcher returns a Fetcher caching under dir ("./data/ics-cache" when
// empty).
func NewFetcher(dir string, timeout time.Duration) *Fetcher {
	if dir == "" {
		dir = "./data/ics-cache"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, dir: dir}
}

// FetchAll fetches feeds in order. Feeds that fail without a cached body are
// logged and reported in the joined error; the rest are still returned.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []Feed) ([]Payload, error) {
	out := make([]Payload, 0, len(feeds))
	var errs []error
	for _, feed := range feeds {
		p, err := f.Fetch(ctx, feed)
		if err != nil {
			appLog.Error("ics fetch failed", err, "id", feed.ID, "url", redactURL(feed.URL))
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, err))
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// Fetch downloads one feed, sending If-None-Match / If-Modified-Since from
// the cache and falling back to the cached body on network errors, 304 and
// non-2xx responses.
func (f *Fetcher) Fetch(ctx context.Context, feed Feed) (Payload, error) {
	if feed.URL == "" {
		return Payload{}, errors.New("feed url is empty")
	}
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return Payload{}, err
	}

	base := f.cacheBase(feed.URL)
	meta, _ := readMeta(base + ".json")
	cached, _ := os.ReadFile(base + ".ics")
	fallback := func(reason error) (Payload, error) {
		if len(cached) == 0 {
			return Payload{}, reason
		}
		appLog.Warn("ics using cached body", "id", feed.ID, "url", redactURL(feed.URL), "reason", reason.Error())
		return Payload{Feed: feed, Body: cached, Cached: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return Payload{}, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(cached) == 0 {
			return Payload{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "id", feed.ID)
		return Payload{Feed: feed, Body: cached, Cached: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		meta := cacheMeta{
			URL:          feed.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := writeCache(base, meta, body); err != nil {
			appLog.Error("ics cache write failed", err, "id", feed.ID)
		}
		appLog.Info("ics fetched", "id", feed.ID, "url", redactURL(feed.URL), "bytes", len(body))
		return Payload{Feed: feed, Body: body}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cacheBase(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:8]))
}

func readMeta(path string) (cacheMeta, error) {
	var m cacheMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

// writeCache writes the body before the metadata so the metadata never
// refers to a body that is not on disk.
func writeCache(base string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(base+".ics", body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(base+".json", data, 0o600)
}

// redactURL keeps scheme and host only; feed URLs often embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
