package meetings

import (
	"net/url"
	"strings"
	"unicode"
)

type VenueKind string

const (
	VenueNone    VenueKind = ""
	VenueURL     VenueKind = "url"
	VenueAddress VenueKind = "address"
	VenueText    VenueKind = "text"
)

// Venue is a meeting location classified for display.
type Venue struct {
	Kind VenueKind `json:"kind"`
	Text string    `json:"text"`
	Link string    `json:"link,omitempty"`
}

const mapsSearchURL = "https://www.google.com/maps/search/?api=1&query="

// ClassifyVenue decides whether v is a meeting link, a place that should open
// in a map search, or plain text.
func ClassifyVenue(v string) Venue {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return Venue{Kind: VenueNone}
	case isURL(v):
		return Venue{Kind: VenueURL, Text: v, Link: v}
	case isPlace(v):
		return Venue{Kind: VenueAddress, Text: v, Link: mapsSearchURL + url.QueryEscape(v)}
	default:
		return Venue{Kind: VenueText, Text: v}
	}
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	default:
		// mailto:, tel:, zoommtg: and friends
		return u.Opaque != "" || u.Host != ""
	}
}

// isPlace rejects short strings, email-ish strings and bare numbers (room
// numbers, phone extensions).
func isPlace(s string) bool {
	if len(s) <= 3 || strings.Contains(s, "@") {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
}
