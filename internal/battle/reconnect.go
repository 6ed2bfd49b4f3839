package battle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/progress"
)

// Resume rebuilds a session from the shared match record after a client
// restart. Local state is entirely derivable: both encoded scores live in
// the record and the remaining countdown follows from startedAt plus the
// mode budget.
func Resume(parent context.Context, deps Deps, profileID, matchID string) (*Session, error) {
	m, err := deps.Matches.GetByID(matchID)
	if err != nil {
		return nil, err
	}
	side, ok := m.SideOf(profileID)
	if !ok {
		return nil, fmt.Errorf("profile %s is not part of match %s", profileID, matchID)
	}
	if m.Status == match.StatusCancelled {
		return nil, match.ErrStaleMatch
	}

	mode := ModeFor(m.MatchType)
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:      make(chan Msg, 64),
		events:     make(chan Event, 32),
		ctx:        ctx,
		cancel:     cancel,
		deps:       deps,
		mode:       mode,
		profileID:  profileID,
		grade:      m.Grade,
		matchID:    matchID,
		side:       side,
		opponentID: m.OpponentOf(profileID),
	}
	if side == match.SidePlayer1 {
		s.myElo, s.oppElo = m.Player1Elo, m.Player2Elo
	} else {
		s.myElo, s.oppElo = m.Player2Elo, m.Player1Elo
	}

	switch m.Status {
	case match.StatusWaiting:
		// Still unclaimed: pick the search back up.
		s.state = StateSearching
		s.searchElapsed = int(time.Since(m.CreatedAt) / time.Second)
		s.stopSearchTick = s.every(time.Second, func() Msg { return searchTickMsg{} })

	default:
		s.words = m.Words
		s.myScore, s.myIndex, s.myFinished = progress.Decode(m.ScoreOf(side))
		opponent := match.SidePlayer1
		if side == match.SidePlayer1 {
			opponent = match.SidePlayer2
		}
		s.opponentProgress = m.ScoreOf(opponent)
		oppScore, _, oppFinished := progress.Decode(s.opponentProgress)
		if oppFinished {
			s.opponentFinished = true
			s.opponentFinalScore = oppScore
		}

		s.state = StatePlaying
		remaining := mode.Countdown - time.Since(m.StartedAt)
		s.countdownRemaining = int(remaining / time.Second)
		if s.countdownRemaining < 1 {
			// Budget already spent offline: let the first tick run the
			// countdown-expiry completion.
			s.countdownRemaining = 1
		}
		s.stopCountdown = s.every(time.Second, func() Msg { return countdownTickMsg{} })
		s.stopMatchPoll = s.every(mode.MatchPollInterval, func() Msg { return matchPollMsg{} })
		if s.myFinished && !s.opponentFinished {
			s.graceTimer = s.after(mode.OpponentGrace, graceTimeoutMsg{})
		}
	}

	s.subscribeMatch()
	go s.loop()

	if m.Status == match.StatusCompleted {
		// The match ended while we were away; settle immediately.
		s.post(matchPollMsg{})
	} else if s.myFinished && s.opponentFinished {
		// Both sides were done before the restart; don't wait out the grace.
		s.post(graceTimeoutMsg{})
	}
	log.Printf("Resumed session for %s in match %s (%s)", profileID, matchID, m.Status)
	return s, nil
}
