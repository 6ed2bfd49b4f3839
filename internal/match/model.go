package match

import (
	"errors"
	"time"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Type string

const (
	TypeRanked Type = "ranked"
	TypeFree   Type = "free"
)

// WordCount is the fixed battle length. Words are attached exactly once,
// by whoever claims the second slot.
const WordCount = 10

var (
	// ErrClaimConflict means another player claimed the slot first. Callers
	// fall through to the next candidate; this is never fatal.
	ErrClaimConflict = errors.New("match slot already claimed")
	// ErrStaleMatch means a waiting match was cancelled or expired
	// externally while the caller was still counting on it.
	ErrStaleMatch = errors.New("waiting match is stale")
	ErrNotFound   = errors.New("match not found")
)

type Word struct {
	ID               int64  `json:"id"`
	Prompt           string `json:"prompt"`
	Answer           string `json:"answer"`
	DistractorSource string `json:"distractor_source,omitempty"`
}

// Match is the shared durable record both sessions coordinate through.
// Player2ID and WinnerID are empty until set; each score column holds an
// encoded progress int and is written only by its owning player.
type Match struct {
	ID           string
	MatchType    Type
	Grade        int
	Player1ID    string
	Player2ID    string
	Player1Elo   int
	Player2Elo   int
	Words        []Word
	Player1Score int
	Player2Score int
	Status       Status
	WinnerID     string
	CreatedAt    time.Time
	StartedAt    time.Time
	EndedAt      time.Time
}

// Side identifies which slot a session owns.
type Side int

const (
	SidePlayer1 Side = 1
	SidePlayer2 Side = 2
)

func (m *Match) SideOf(profileID string) (Side, bool) {
	switch profileID {
	case m.Player1ID:
		return SidePlayer1, true
	case m.Player2ID:
		return SidePlayer2, true
	}
	return 0, false
}

func (m *Match) OpponentOf(profileID string) string {
	if profileID == m.Player1ID {
		return m.Player2ID
	}
	return m.Player1ID
}

// ScoreOf returns the encoded progress stored for the given side.
func (m *Match) ScoreOf(side Side) int {
	if side == SidePlayer1 {
		return m.Player1Score
	}
	return m.Player2Score
}

// WaitingQuery filters open matches during opponent discovery.
type WaitingQuery struct {
	MatchType      Type
	Grade          int
	Elo            int
	EloWindow      int
	MaxAge         time.Duration
	ExcludeProfile string
	Limit          int
}
