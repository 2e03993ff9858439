package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"meetcal/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc, ts oauth2.TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", ts, time.Second)
}

func TestClientSendsBearerAndRequestID(t *testing.T) {
	var gotAuth, gotReqID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		if r.URL.Path != "/events" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"1","title":"Standup","meeting_status":"CONFIRMED","date":"2025-04-15","time":"09:00","attendees":["bob"],"user":"me"}]`))
	}, StaticToken("secret"))

	evs, err := c.MyEvents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(gotReqID) != 36 {
		t.Errorf("X-Request-ID = %q", gotReqID)
	}
	if len(evs) != 1 || evs[0].Status != model.StatusConfirmed || evs[0].Owner != "me" {
		t.Errorf("events = %+v", evs)
	}
}

func TestClientErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user/missing":
			http.Error(w, "no such user", http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}, nil)

	_, err := c.UserByID(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Method != http.MethodGet || apiErr.Path != "/user/missing" {
		t.Errorf("error = %#v", err)
	}

	_, err = c.CurrentUser(context.Background())
	if !IsUnauthorized(err) || IsNotFound(err) {
		t.Errorf("want unauthorized, got %v", err)
	}
}

func TestVerifyUser(t *testing.T) {
	tests := []struct {
		name      string
		resp      string
		wantName  string
		wantToken string
	}{
		{"wrapped", `{"user":{"id":"1","sub":"g-1","name":"Ann Lee"},"token":"sess"}`, "Ann Lee", "sess"},
		{"bare", `{"id":"1","sub":"g-1","name":"Ann Lee"}`, "Ann Lee", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/login" {
					t.Errorf("%s %s", r.Method, r.URL.Path)
				}
				var body map[string]string
				_ = json.NewDecoder(r.Body).Decode(&body)
				if body["id_token"] != "idt" {
					t.Errorf("body = %v", body)
				}
				_, _ = w.Write([]byte(tt.resp))
			}, nil)

			resp, err := c.VerifyUser(context.Background(), "idt")
			if err != nil {
				t.Fatal(err)
			}
			if resp.User.Name != tt.wantName || resp.Token != tt.wantToken {
				t.Errorf("resp = %+v", resp)
			}
		})
	}

	c := New("http://unused", nil, 0)
	if _, err := c.VerifyUser(context.Background(), " "); err == nil {
		t.Error("empty id token should fail")
	}
}

func TestEventActionsAndCreate(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/create-event" {
			var ev model.NewEvent
			if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
				t.Error(err)
			}
			_ = json.NewEncoder(w).Encode(model.Event{ID: "42", Title: ev.Title, Status: ev.Status, Attendees: ev.Attendees})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}, nil)
	ctx := context.Background()

	ev, err := c.CreateEvent(ctx, model.NewEvent{Title: "Sync", Status: model.StatusSent, Attendees: []string{"me", "bob"}})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != "42" || ev.Status != model.StatusSent {
		t.Errorf("created = %+v", ev)
	}

	for _, fn := range []func(context.Context, string) error{c.AcceptEvent, c.RejectEvent, c.ConfirmEvent, c.CancelEvent} {
		if err := fn(ctx, "42"); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.CancelEvent(ctx, ""); err == nil {
		t.Error("empty id should fail")
	}

	want := []string{
		"POST /create-event",
		"POST /events/42/accept",
		"POST /events/42/reject",
		"POST /events/42/confirm",
		"POST /events/42/cancel",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestUsersEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/search":
			if r.URL.Query().Get("q") != "ann" {
				t.Errorf("q = %q", r.URL.Query().Get("q"))
			}
			_, _ = w.Write([]byte(`[{"id":"2","name":"Ann"}]`))
		case "/friends/suggested":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			_, _ = w.Write([]byte(`null`))
		case "/user/bob":
			_, _ = w.Write([]byte(`{"id":"bob","name":"Bob"}`))
		default:
			http.NotFound(w, r)
		}
	}, nil)
	ctx := context.Background()

	users, err := c.SearchUsers(ctx, " ann ")
	if err != nil || len(users) != 1 {
		t.Fatalf("SearchUsers = %v, %v", users, err)
	}
	if users, _ := c.SearchUsers(ctx, ""); users == nil || len(users) != 0 {
		t.Errorf("empty query = %v", users)
	}
	sugg, err := c.SuggestedFriends(ctx, 5)
	if err != nil || sugg == nil {
		t.Errorf("SuggestedFriends = %v, %v", sugg, err)
	}

	byID, err := c.UsersByID(ctx, []string{"bob", "ghost", "bob", ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 1 || byID["bob"].Name != "Bob" {
		t.Errorf("UsersByID = %v", byID)
	}
}

func TestTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "token.json")
	store := NewTokenStore(path)

	if _, err := store.Token(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("want ErrNoToken, got %v", err)
	}
	if err := store.Save(&oauth2.Token{AccessToken: "abc", TokenType: "Bearer"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %o", info.Mode().Perm())
	}

	fresh := NewTokenStore(path)
	tok, err := fresh.Token()
	if err != nil || tok.AccessToken != "abc" {
		t.Fatalf("Token = %+v, %v", tok, err)
	}

	if err := fresh.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := fresh.Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("after Clear: %v", err)
	}
}
