package matchmaking

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/profile"
)

// ProfileStore is the slice of the profile service the queue endpoints use.
// Energy charging lives in the queue service, not here.
type ProfileStore interface {
	ReadProfile(id string) (*profile.Profile, error)
}

type Handler struct {
	service  *Service
	profiles ProfileStore
}

func NewHandler(service *Service, profiles ProfileStore) *Handler {
	return &Handler{service: service, profiles: profiles}
}

type searchRequest struct {
	ProfileID string `json:"profile_id"`
	MatchType string `json:"match_type"`
	Grade     int    `json:"grade"`
}

type searchResponse struct {
	MatchID string       `json:"match_id"`
	Side    int          `json:"side"`
	Status  string       `json:"status"`
	Words   []match.Word `json:"words,omitempty"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProfileID == "" {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	matchType := match.Type(req.MatchType)
	if matchType != match.TypeRanked && matchType != match.TypeFree {
		http.Error(w, "invalid match_type", http.StatusBadRequest)
		return
	}

	p, err := h.profiles.ReadProfile(req.ProfileID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	handle, err := h.service.FindOrCreateMatch(req.ProfileID, p.EloRating, matchType, req.Grade)
	if errors.Is(err, profile.ErrInsufficientEnergy) {
		http.Error(w, err.Error(), http.StatusPaymentRequired)
		return
	}
	if err != nil {
		log.Printf("Search failed for %s: %v", req.ProfileID, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := searchResponse{MatchID: handle.Match.ID, Side: int(handle.Side), Status: string(handle.Match.Status)}
	if !handle.Waiting {
		resp.Words = handle.Match.Words
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("matchId")
	if matchID == "" {
		http.Error(w, "missing matchId", http.StatusBadRequest)
		return
	}

	m, err := h.service.PollForOpponent(matchID)
	if errors.Is(err, match.ErrStaleMatch) {
		http.Error(w, "search cancelled", http.StatusGone)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := searchResponse{MatchID: m.ID, Status: string(m.Status)}
	if m.Status != match.StatusWaiting {
		resp.Words = m.Words
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) CancelSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MatchID string `json:"match_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.service.CancelSearch(req.MatchID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Search cancelled"))
}
