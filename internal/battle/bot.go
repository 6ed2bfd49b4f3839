package battle

import (
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/progress"
)

const (
	botAnswerInterval = 3 * time.Second
	botAccuracy       = 0.6
)

// escalateToBot converts an unmatched search into an offline practice battle
// so the search phase can never block forever. Offline battles skip the
// shared store and pub/sub entirely.
func (s *Session) escalateToBot() {
	if err := s.deps.Matchmaker.CancelSearch(s.matchID); err != nil {
		log.Printf("Failed to cancel search %s before bot fallback: %v", s.matchID, err)
	}
	words, err := s.deps.Content.FetchQuizBatch(s.mode.Type, s.grade, match.WordCount)
	if err != nil {
		s.stopAllTimers()
		s.state = StateIdle
		s.emitError("no opponent found")
		return
	}

	s.offline = true
	s.matchID = "offline-" + uuid.NewString()
	s.side = match.SidePlayer1
	s.opponentID = "bot"
	s.oppElo = s.myElo
	s.words = words
	s.remoteReady = true
	s.stopFunc(&s.stopSearchTick)
	s.stopFunc(&s.stopSubscribe)
	s.state = StateFound
	s.readyTimer = s.after(s.mode.ReadyTimeout, readyTimeoutMsg{})
	log.Printf("Search timed out for %s, falling back to offline opponent", s.profileID)
	s.emit("match_found")
}

// runBot plays the opponent side of an offline battle, feeding progress
// through the same inbox path real push messages use.
func runBot(done <-chan struct{}, post func(Msg), wordCount int) {
	go func() {
		score, index := 0, 0
		ticker := time.NewTicker(botAnswerInterval)
		defer ticker.Stop()
		for index < wordCount {
			select {
			case <-done:
				return
			case <-ticker.C:
				if rand.Float64() < botAccuracy {
					score++
				}
				index++
				post(opponentProgressMsg{encoded: progress.Encode(score, index, index >= wordCount)})
			}
		}
	}()
}
