package matchmaking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wordclash/wordclash-backend/internal/match"
)

const (
	// EloWindow bounds the symmetric opponent search range.
	EloWindow = 200
	// MaxWaitingAge keeps players out of abandoned rows.
	MaxWaitingAge = 5 * time.Minute

	candidateLimit = 10
)

// Store is the slice of the match store the queue needs.
type Store interface {
	Create(m *match.Match) error
	GetByID(id string) (*match.Match, error)
	FindWaiting(q match.WaitingQuery) ([]match.Match, error)
	Claim(id, player2ID string, player2Elo int, words []match.Word) error
	Cancel(id string) error
	CancelWaitingByOwner(profileID string, matchType match.Type) (int64, error)
}

// ContentProvider supplies the fixed word batch attached on claim.
type ContentProvider interface {
	FetchQuizBatch(matchType match.Type, grade, size int) ([]match.Word, error)
}

// Publisher is the push side of the sync layer; failures there are
// tolerated because polling is the source of truth.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// EnergySource charges the ranked entry cost. The queue is the single
// charging site so no caller stacks a second charge on top.
type EnergySource interface {
	SpendEnergy(id string, cost int) error
}

const rankedEnergyCost = 1

// Handle is what a searching player gets back: either a joined match or its
// own waiting row to poll on.
type Handle struct {
	Match   *match.Match
	Side    match.Side
	Waiting bool
}

type Service struct {
	store   Store
	content ContentProvider
	pub     Publisher
	energy  EnergySource
}

func NewService(store Store, content ContentProvider, pub Publisher, energy EnergySource) *Service {
	return &Service{store: store, content: content, pub: pub, energy: energy}
}

// FindOrCreateMatch joins the closest waiting opponent inside the ELO window,
// or publishes a fresh waiting row when nobody fits. Losing a claim race is
// ordinary: the loser just tries the next candidate.
func (s *Service) FindOrCreateMatch(profileID string, elo int, matchType match.Type, grade int) (*Handle, error) {
	if matchType == match.TypeRanked {
		if err := s.energy.SpendEnergy(profileID, rankedEnergyCost); err != nil {
			return nil, err
		}
	}

	// A profile must never own two open rows in the same mode, or it could
	// end up matched against itself.
	if n, err := s.store.CancelWaitingByOwner(profileID, matchType); err != nil {
		return nil, fmt.Errorf("failed to clear previous waiting matches: %w", err)
	} else if n > 0 {
		log.Printf("Cancelled %d stale waiting match(es) for %s", n, profileID)
	}

	candidates, err := s.store.FindWaiting(match.WaitingQuery{
		MatchType:      matchType,
		Grade:          grade,
		Elo:            elo,
		EloWindow:      EloWindow,
		MaxAge:         MaxWaitingAge,
		ExcludeProfile: profileID,
		Limit:          candidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search waiting matches: %w", err)
	}

	var words []match.Word
	for _, candidate := range candidates {
		if words == nil {
			words, err = s.content.FetchQuizBatch(matchType, grade, match.WordCount)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch word batch: %w", err)
			}
		}
		err := s.store.Claim(candidate.ID, profileID, elo, words)
		if errors.Is(err, match.ErrClaimConflict) {
			continue // lost the race, next candidate
		}
		if err != nil {
			return nil, err
		}
		m, err := s.store.GetByID(candidate.ID)
		if err != nil {
			return nil, err
		}
		s.notifyMatchFound(m)
		log.Printf("Player %s joined match %s against %s", profileID, m.ID, m.Player1ID)
		return &Handle{Match: m, Side: match.SidePlayer2}, nil
	}

	m := &match.Match{
		ID:         uuid.NewString(),
		MatchType:  matchType,
		Grade:      grade,
		Player1ID:  profileID,
		Player1Elo: elo,
		Status:     match.StatusWaiting,
		CreatedAt:  time.Now(),
	}
	if err := s.store.Create(m); err != nil {
		return nil, fmt.Errorf("failed to create waiting match: %w", err)
	}
	log.Printf("Player %s waiting on new match %s", profileID, m.ID)
	return &Handle{Match: m, Side: match.SidePlayer1, Waiting: true}, nil
}

// PollForOpponent is the waiting side's safety net: it reports the current
// record, or ErrStaleMatch once the row was cancelled externally so the
// caller surfaces "search cancelled" instead of hanging.
func (s *Service) PollForOpponent(matchID string) (*match.Match, error) {
	m, err := s.store.GetByID(matchID)
	if errors.Is(err, match.ErrNotFound) {
		return nil, match.ErrStaleMatch
	}
	if err != nil {
		return nil, err
	}
	if m.Status == match.StatusCancelled {
		return nil, match.ErrStaleMatch
	}
	return m, nil
}

// CancelSearch abandons the caller's waiting row.
func (s *Service) CancelSearch(matchID string) error {
	return s.store.Cancel(matchID)
}

// Topic scopes push traffic to one match.
func Topic(matchID string) string {
	return "match:" + matchID
}

type matchFoundNotification struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
	Player  string `json:"player"`
}

func (s *Service) notifyMatchFound(m *match.Match) {
	payload, err := json.Marshal(matchFoundNotification{
		Type:    "match_found",
		MatchID: m.ID,
		Player:  m.Player1ID,
	})
	if err != nil {
		log.Printf("Failed to marshal match_found for %s: %v", m.ID, err)
		return
	}
	// Both the per-match topic (for the waiting session) and the
	// player-addressed channel (for the notification socket).
	if err := s.pub.Publish(Topic(m.ID), payload); err != nil {
		log.Printf("Failed to publish match_found to %s: %v", Topic(m.ID), err)
	}
	if err := s.pub.Publish("notifications", payload); err != nil {
		log.Printf("Failed to publish match_found notification: %v", err)
	}
}
