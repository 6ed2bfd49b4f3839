package battle

import (
	"context"
	"encoding/json"
	"log"

	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/matchmaking"
	"github.com/wordclash/wordclash-backend/internal/progress"
)

// Two redundant paths carry opponent state: push messages on the match topic
// for latency, and a periodic read of the match record for correctness. Both
// end up in applyOpponentProgress, whose max-merge makes double delivery and
// reordering harmless.

// wireMessage is the payload exchanged on a match topic.
type wireMessage struct {
	Type          string `json:"type"` // ready | progress | match_found
	PlayerID      string `json:"playerId"`
	Score         int    `json:"score,omitempty"`
	QuestionIndex int    `json:"questionIndex,omitempty"`
	Finished      bool   `json:"finished,omitempty"`
}

// subscribeMatch opens the push subscription for the current match. The
// subscription is scoped to the match, not the session: resetToIdle cancels
// it, so a later search subscribes to its own topic instead of inheriting a
// dead one.
func (s *Session) subscribeMatch() {
	if s.stopSubscribe != nil || s.offline || s.matchID == "" {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopSubscribe = cancel
	s.deps.Broker.Subscribe(ctx, matchmaking.Topic(s.matchID), s.onWirePayload)
}

// onWirePayload runs on the subscription goroutine; it only parses and
// forwards, all state changes happen in the actor loop.
func (s *Session) onWirePayload(payload []byte) {
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("Dropping malformed push message on %s: %v", s.matchID, err)
		return
	}
	switch msg.Type {
	case "match_found":
		s.post(matchFoundMsg{})
	case "ready":
		if msg.PlayerID != s.profileID {
			s.post(opponentReadyMsg{})
		}
	case "progress":
		if msg.PlayerID != s.profileID {
			s.post(opponentProgressMsg{encoded: progress.Encode(msg.Score, msg.QuestionIndex, msg.Finished)})
		}
	}
}

func (s *Session) publishReady() {
	s.publishWire(wireMessage{Type: "ready", PlayerID: s.profileID})
}

func (s *Session) publishProgress(encoded int) {
	score, index, finished := progress.Decode(encoded)
	s.publishWire(wireMessage{
		Type:          "progress",
		PlayerID:      s.profileID,
		Score:         score,
		QuestionIndex: index,
		Finished:      finished,
	})
}

func (s *Session) publishWire(msg wireMessage) {
	if s.offline {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}
	// Publish retries with backoff when the broker is down; that wait must
	// not stall the actor loop. Best effort either way: the opponent's poll
	// picks the update up.
	topic := matchmaking.Topic(s.matchID)
	go func() {
		if err := s.deps.Broker.Publish(topic, payload); err != nil {
			log.Printf("Failed to push %s message on %s: %v", msg.Type, topic, err)
		}
	}()
}

// pollMatch is the authoritative sync path: re-read the shared record and
// reconcile. It also notices terminal states written by the other side or
// the sweeper.
func (s *Session) pollMatch() {
	if s.offline {
		return
	}
	m, err := s.deps.Matches.GetByID(s.matchID)
	if err != nil {
		log.Printf("Match poll failed for %s: %v", s.matchID, err)
		return // transient, next tick is the safety net
	}
	switch m.Status {
	case match.StatusCancelled:
		s.resetToIdle()
		s.emit("match_aborted")
	case match.StatusCompleted:
		s.finalizeFromRecord(m)
	default:
		opponent := match.SidePlayer1
		if s.side == match.SidePlayer1 {
			opponent = match.SidePlayer2
		}
		s.applyOpponentProgress(m.ScoreOf(opponent))
	}
}
