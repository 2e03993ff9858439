package ics

import (
	"context"
	"time"

	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

// Subscriptions fetches, parses and expands a set of feeds.
type Subscriptions struct {
	Fetcher *Fetcher
	Feeds   []Feed
}

// Occurrences returns the expanded events of every reachable feed. A feed
// that fails to fetch or parse is logged and left out; the error reports
// fetch failures only.
func (s *Subscriptions) Occurrences(ctx context.Context, from, to time.Time, loc *time.Location) ([]model.Occurrence, error) {
	if len(s.Feeds) == 0 {
		return []model.Occurrence{}, nil
	}
	payloads, fetchErr := s.Fetcher.FetchAll(ctx, s.Feeds)

	var entries []Entry
	for _, p := range payloads {
		got, err := Parse(p.Feed.ID, p.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", p.Feed.ID)
			continue
		}
		entries = append(entries, got...)
	}

	occs, truncated, err := Expand(entries, Window{From: from, To: to, Location: loc})
	if err != nil {
		return nil, err
	}
	if len(truncated) > 0 {
		appLog.Warn("ics series truncated", "uids", truncated)
	}
	return occs, fetchErr
}
