// Package api is a small client for the meeting backend's REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	appLog "meetcal/internal/log"
	"meetcal/internal/model"
)

// Error is returned for any non-2xx response.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is an API 401 or 403.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}

// Client talks to the backend. Credentials come from the TokenSource passed
// to New; a nil source sends unauthenticated requests.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for baseURL. When ts is non-nil every request carries
// its token as a bearer Authorization header.
func New(baseURL string, ts oauth2.TokenSource, timeout time.Duration) *Client {
	var rt http.RoundTripper = http.DefaultTransport
	if ts != nil {
		rt = &oauth2.Transport{Source: ts, Base: rt}
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: rt, Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// do sends one request. body, if non-nil, is JSON encoded; out, if non-nil,
// receives the decoded JSON response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	appLog.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"elapsed", time.Since(start).String(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// LoginResponse is what /login returns for a verified ID token.
type LoginResponse struct {
	User  model.User `json:"user"`
	Token string     `json:"token,omitempty"`
}

// VerifyUser exchanges an identity-provider ID token for the backend user
// record and, if the backend issues one, a session token.
func (c *Client) VerifyUser(ctx context.Context, idToken string) (*LoginResponse, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, errors.New("id token is empty")
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/login", nil, map[string]string{"id_token": idToken}, &raw); err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode login: %w", err)
	}
	// Some deployments return the bare user object.
	if resp.User.Key() == "" {
		if err := json.Unmarshal(raw, &resp.User); err != nil {
			return nil, fmt.Errorf("decode login user: %w", err)
		}
	}
	return &resp, nil
}

func (c *Client) CurrentUser(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, "/user", nil, nil, &u)
	return u, err
}

func (c *Client) UserByID(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := c.do(ctx, http.MethodGet, "/user/"+url.PathEscape(id), nil, nil, &u)
	return u, err
}

// UsersByID resolves ids, skipping ones the backend does not know.
func (c *Client) UsersByID(ctx context.Context, ids []string) (map[string]model.User, error) {
	out := make(map[string]model.User, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}
		u, err := c.UserByID(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return out, err
		}
		out[id] = u
	}
	return out, nil
}

func (c *Client) SearchUsers(ctx context.Context, q string) ([]model.User, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []model.User{}, nil
	}
	var users []model.User
	err := c.do(ctx, http.MethodGet, "/users/search", url.Values{"q": {q}}, nil, &users)
	return nonNilUsers(users), err
}

func (c *Client) Friends(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := c.do(ctx, http.MethodGet, "/friends", nil, nil, &users)
	return nonNilUsers(users), err
}

func (c *Client) SuggestedFriends(ctx context.Context, limit int) ([]model.User, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var users []model.User
	err := c.do(ctx, http.MethodGet, "/friends/suggested", q, nil, &users)
	return nonNilUsers(users), err
}

func (c *Client) SendFriendRequest(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/friends/"+url.PathEscape(userID)+"/request", nil, nil, nil)
}

func (c *Client) AcceptFriendRequest(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "/friends/"+url.PathEscape(userID)+"/accept", nil, nil, nil)
}

// MyEvents lists every meeting the user owns or attends.
func (c *Client) MyEvents(ctx context.Context) ([]model.Event, error) {
	var evs []model.Event
	err := c.do(ctx, http.MethodGet, "/events", nil, nil, &evs)
	return nonNilEvents(evs), err
}

// MyEventRequests lists meetings the user has been invited to.
func (c *Client) MyEventRequests(ctx context.Context) ([]model.Event, error) {
	var evs []model.Event
	err := c.do(ctx, http.MethodGet, "/events/requests", nil, nil, &evs)
	return nonNilEvents(evs), err
}

func (c *Client) CreateEvent(ctx context.Context, ev model.NewEvent) (model.Event, error) {
	var out model.Event
	err := c.do(ctx, http.MethodPost, "/create-event", nil, ev, &out)
	return out, err
}

func (c *Client) AttendeeStatus(ctx context.Context, eventID string) ([]model.Attendee, error) {
	var out []model.Attendee
	err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(eventID)+"/attendees", nil, nil, &out)
	if out == nil {
		out = []model.Attendee{}
	}
	return out, err
}

func (c *Client) AcceptEvent(ctx context.Context, eventID string) error {
	return c.eventAction(ctx, eventID, "accept")
}

func (c *Client) RejectEvent(ctx context.Context, eventID string) error {
	return c.eventAction(ctx, eventID, "reject")
}

func (c *Client) ConfirmEvent(ctx context.Context, eventID string) error {
	return c.eventAction(ctx, eventID, "confirm")
}

func (c *Client) CancelEvent(ctx context.Context, eventID string) error {
	return c.eventAction(ctx, eventID, "cancel")
}

func (c *Client) eventAction(ctx context.Context, eventID, action string) error {
	if eventID == "" {
		return errors.New("event id is empty")
	}
	return c.do(ctx, http.MethodPost, "/events/"+url.PathEscape(eventID)+"/"+action, nil, nil, nil)
}

func nonNilUsers(u []model.User) []model.User {
	if u == nil {
		return []model.User{}
	}
	return u
}

func nonNilEvents(e []model.Event) []model.Event {
	if e == nil {
		return []model.Event{}
	}
	return e
}
