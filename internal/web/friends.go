package web

import (
	"net/http"
	"strings"

	appLog "meetcal/internal/log"
	"meetcal/internal/meetings"
	"meetcal/internal/model"
	"meetcal/internal/refresh"
)

const (
	defaultSuggestedLimit = 10
	maxSuggestedLimit     = 50
)

func currentUser(snap *refresh.Snapshot) model.User {
	if snap.User.Key() != "" {
		return snap.User
	}
	return model.User{Sub: snap.UserID}
}

// GET /api/friends
func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	friends, err := s.backend.Friends(r.Context())
	if err != nil {
		appLog.Error("friends list failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": meetings.FilterCandidates(friends, nil, currentUser(snap))})
}

// GET /api/friends/suggested?limit=N
//
// limit defaults to 10 and must be within 1..50.
func (s *Server) handleSuggestedFriends(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", defaultSuggestedLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > maxSuggestedLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	suggested, err := s.backend.SuggestedFriends(r.Context(), limit)
	if err != nil {
		appLog.Error("friend suggestions failed", err, "limit", limit)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	users := meetings.FilterCandidates(suggested, nil, currentUser(snap))
	if len(users) > limit {
		users = users[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// POST /api/friends/{id}/{action} where action is request or accept.
func (s *Server) handleFriendAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if action != "request" && action != "accept" {
		writeError(w, http.StatusBadRequest, "unknown friend action: "+action)
		return
	}
	snap := s.snapshot(w)
	if snap == nil {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	me := currentUser(snap)
	if id == "" || id == me.ID || id == me.Sub || id == snap.UserID {
		writeError(w, http.StatusBadRequest, "cannot befriend yourself")
		return
	}

	var err error
	if action == "request" {
		err = s.backend.SendFriendRequest(r.Context(), id)
	} else {
		err = s.backend.AcceptFriendRequest(r.Context(), id)
	}
	if err != nil {
		appLog.Error("friend action failed", err, "id", id, "action", action)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	appLog.Info("friend action applied", "id", id, "action", action)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "action": action})
}
