// Package battle drives one connected player through search, ready-check,
// play and completion. Every session is a single-goroutine actor: client
// input, push messages, poll results and timer fires all go through one
// inbox, so no handler ever races another and no ad-hoc lock flags exist.
package battle

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/matchmaking"
	"github.com/wordclash/wordclash-backend/internal/profile"
	"github.com/wordclash/wordclash-backend/internal/progress"
	"github.com/wordclash/wordclash-backend/internal/rank"
)

type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateFound     State = "found"
	StatePlaying   State = "playing"
	StateFinished  State = "finished"
)

// MatchStore is the slice of the match store a session touches. A session
// only ever writes its own score column; winner/status writes go through
// the conditional Complete.
type MatchStore interface {
	GetByID(id string) (*match.Match, error)
	RecordScore(id string, side match.Side, encoded int) error
	Complete(id, winnerID string) error
	Cancel(id string) error
}

type Matchmaker interface {
	FindOrCreateMatch(profileID string, elo int, matchType match.Type, grade int) (*matchmaking.Handle, error)
	PollForOpponent(matchID string) (*match.Match, error)
	CancelSearch(matchID string) error
}

type ProfileStore interface {
	ReadProfile(id string) (*profile.Profile, error)
	ApplyMatchOutcome(id string, o profile.Outcome) error
}

type Broker interface {
	Publish(topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(payload []byte))
}

type ContentProvider interface {
	FetchQuizBatch(matchType match.Type, grade, size int) ([]match.Word, error)
}

type Deps struct {
	Matches    MatchStore
	Matchmaker Matchmaker
	Profiles   ProfileStore
	Broker     Broker
	Content    ContentProvider
}

// Msg is anything the session actor consumes.
type Msg interface{ isSessionMsg() }

// Client-facing messages.
type StartSearch struct{ Grade int }
type Ready struct{}
type Answer struct{ Answer string }
type Leave struct{}
type Shutdown struct{}
type GetState struct{ Reply chan Snapshot }

func (StartSearch) isSessionMsg() {}
func (Ready) isSessionMsg()       {}
func (Answer) isSessionMsg()      {}
func (Leave) isSessionMsg()       {}
func (Shutdown) isSessionMsg()    {}
func (GetState) isSessionMsg()    {}

// Internal messages: push payloads, poll ticks and timer fires, all
// funneled through the same inbox.
type opponentProgressMsg struct{ encoded int }
type opponentReadyMsg struct{}
type matchFoundMsg struct{}
type searchTickMsg struct{}
type readyTimeoutMsg struct{}
type countdownTickMsg struct{}
type matchPollMsg struct{}
type graceTimeoutMsg struct{}
type settleTimeoutMsg struct{}

func (opponentProgressMsg) isSessionMsg() {}
func (opponentReadyMsg) isSessionMsg()    {}
func (matchFoundMsg) isSessionMsg()       {}
func (searchTickMsg) isSessionMsg()       {}
func (readyTimeoutMsg) isSessionMsg()     {}
func (countdownTickMsg) isSessionMsg()    {}
func (matchPollMsg) isSessionMsg()        {}
func (graceTimeoutMsg) isSessionMsg()     {}
func (settleTimeoutMsg) isSessionMsg()    {}

// Snapshot is the session's externally visible state, pushed with every
// event so the client never has to reassemble it from deltas.
type Snapshot struct {
	State              State      `json:"state"`
	MatchID            string     `json:"matchId,omitempty"`
	Side               match.Side `json:"side,omitempty"`
	Offline            bool       `json:"offline,omitempty"`
	SearchElapsed      int        `json:"searchElapsed,omitempty"`
	Prompt             string     `json:"prompt,omitempty"`
	QuestionIndex      int        `json:"questionIndex"`
	MyScore            int        `json:"myScore"`
	MyFinished         bool       `json:"myFinished"`
	OpponentScore      int        `json:"opponentScore"`
	OpponentIndex      int        `json:"opponentIndex"`
	OpponentFinished   bool       `json:"opponentFinished"`
	CountdownRemaining int        `json:"countdownRemaining"`
	WinnerID           string     `json:"winnerId,omitempty"`
	Tied               bool       `json:"tied,omitempty"`
	MatchFinished      bool       `json:"matchFinished"`
}

type Event struct {
	Type     string   `json:"type"`
	Correct  bool     `json:"correct,omitempty"`
	Error    string   `json:"error,omitempty"`
	Snapshot Snapshot `json:"snapshot"`
}

type Session struct {
	inbox  chan Msg
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	deps      Deps
	mode      Mode
	profileID string
	grade     int

	state   State
	matchID string
	side    match.Side
	words   []match.Word
	offline bool

	myElo, oppElo int
	opponentID    string

	myScore, myIndex   int
	myFinished         bool
	opponentProgress   int // encoded, max-merged from push and poll
	opponentFinished   bool
	opponentFinalScore int

	localReady, remoteReady bool
	searchElapsed           int
	countdownRemaining      int

	matchFinished  bool // one-shot finalize guard
	rewardsApplied bool
	settleRetried  bool
	winnerID       string
	tied           bool

	readyTimer, graceTimer, settleTimer                         *time.Timer
	stopSearchTick, stopMatchPoll, stopCountdown, stopSubscribe func()
}

func NewSession(parent context.Context, deps Deps, profileID string, mode Mode) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:     make(chan Msg, 64),
		events:    make(chan Event, 32),
		ctx:       ctx,
		cancel:    cancel,
		deps:      deps,
		mode:      mode,
		profileID: profileID,
		state:     StateIdle,
	}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) loop() {
	defer func() {
		s.stopAllTimers()
		s.cancel()
		close(s.events)
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.inbox:
			switch msg := m.(type) {
			case StartSearch:
				s.handleStartSearch(msg.Grade)
			case Ready:
				s.handleReady()
			case Answer:
				s.handleAnswer(msg.Answer)
			case Leave:
				s.handleLeave()
			case GetState:
				msg.Reply <- s.snapshot()
			case Shutdown:
				return

			case opponentProgressMsg:
				if s.state == StateFound || s.state == StatePlaying {
					s.applyOpponentProgress(msg.encoded)
				}
			case opponentReadyMsg:
				s.handleOpponentReady()
			case matchFoundMsg:
				if s.state == StateSearching {
					s.pollSearch()
				}
			case searchTickMsg:
				s.handleSearchTick()
			case readyTimeoutMsg:
				s.handleReadyTimeout()
			case countdownTickMsg:
				s.handleCountdownTick()
			case matchPollMsg:
				if s.state == StatePlaying || s.state == StateFound {
					s.pollMatch()
				}
			case graceTimeoutMsg:
				if s.state == StatePlaying && s.myFinished && !s.matchFinished {
					log.Printf("Match %s: opponent grace elapsed, force completing", s.matchID)
					s.finalize()
				}
			case settleTimeoutMsg:
				s.handleSettleTimeout()
			}
		}
	}
}

// --- search phase ---

func (s *Session) handleStartSearch(grade int) {
	// A finished battle the player never backed out of must not pin the
	// session; a new search reclaims it.
	if s.state == StateFinished {
		s.resetToIdle()
	}
	if s.state != StateIdle {
		s.emitError("search already in progress")
		return
	}
	s.grade = grade

	p, err := s.deps.Profiles.ReadProfile(s.profileID)
	if err != nil {
		s.emitError(err.Error())
		return
	}
	s.myElo = p.EloRating

	handle, err := s.deps.Matchmaker.FindOrCreateMatch(s.profileID, s.myElo, s.mode.Type, grade)
	if err != nil {
		// Includes the energy precondition: surfaced, not retried.
		s.emitError(err.Error())
		return
	}

	s.matchID = handle.Match.ID
	s.side = handle.Side
	s.subscribeMatch()

	if !handle.Waiting {
		s.enterFound(handle.Match)
		return
	}

	s.state = StateSearching
	s.searchElapsed = 0
	s.stopSearchTick = s.every(time.Second, func() Msg { return searchTickMsg{} })
	s.emit("state")
}

func (s *Session) handleSearchTick() {
	if s.state != StateSearching {
		return
	}
	s.searchElapsed++
	if time.Duration(s.searchElapsed)*time.Second >= s.mode.SearchTimeout {
		s.escalateToBot()
		return
	}
	pollEvery := int(s.mode.SearchPollInterval / time.Second)
	if pollEvery <= 1 || s.searchElapsed%pollEvery == 0 {
		s.pollSearch()
		return
	}
	s.emit("search_tick")
}

func (s *Session) pollSearch() {
	m, err := s.deps.Matchmaker.PollForOpponent(s.matchID)
	if errors.Is(err, match.ErrStaleMatch) {
		// Cancelled out from under us by the sweeper or another device.
		s.resetToIdle()
		s.emit("search_cancelled")
		return
	}
	if err != nil {
		log.Printf("Search poll failed for %s: %v", s.matchID, err)
		return // transient, next tick retries
	}
	if m.Status == match.StatusInProgress {
		s.enterFound(m)
		return
	}
	s.emit("search_tick")
}

func (s *Session) enterFound(m *match.Match) {
	if side, ok := m.SideOf(s.profileID); ok {
		s.side = side
	}
	s.state = StateFound
	s.matchID = m.ID
	s.words = m.Words
	s.opponentID = m.OpponentOf(s.profileID)
	if s.side == match.SidePlayer1 {
		s.myElo, s.oppElo = m.Player1Elo, m.Player2Elo
	} else {
		s.myElo, s.oppElo = m.Player2Elo, m.Player1Elo
	}
	s.stopFunc(&s.stopSearchTick)
	s.subscribeMatch()
	s.readyTimer = s.after(s.mode.ReadyTimeout, readyTimeoutMsg{})
	if s.stopMatchPoll == nil {
		s.stopMatchPoll = s.every(s.mode.MatchPollInterval, func() Msg { return matchPollMsg{} })
	}
	s.emit("match_found")
}

// --- ready check ---

func (s *Session) handleReady() {
	if s.state != StateFound || s.localReady {
		return
	}
	s.localReady = true
	s.publishReady()
	if s.remoteReady || s.offline {
		s.startPlaying()
		return
	}
	s.emit("state")
}

func (s *Session) handleOpponentReady() {
	if s.state != StateFound {
		return
	}
	s.remoteReady = true
	if s.localReady {
		s.startPlaying()
	}
}

func (s *Session) handleReadyTimeout() {
	if s.state != StateFound {
		return
	}
	if s.localReady {
		// Opponent's confirmation never arrived; the countdown still
		// bounds the match, so start anyway.
		s.startPlaying()
		return
	}
	if !s.offline {
		if err := s.deps.Matches.Cancel(s.matchID); err != nil {
			log.Printf("Failed to cancel unready match %s: %v", s.matchID, err)
		}
	}
	s.resetToIdle()
	s.emit("match_aborted")
}

func (s *Session) startPlaying() {
	s.stopTimer(s.readyTimer)
	s.state = StatePlaying
	s.countdownRemaining = int(s.mode.Countdown / time.Second)
	s.stopCountdown = s.every(time.Second, func() Msg { return countdownTickMsg{} })
	if s.offline {
		runBot(s.ctx.Done(), s.post, len(s.words))
	}
	log.Printf("Match %s: player %s entered play", s.matchID, s.profileID)
	s.emit("state")
}

// --- play phase ---

func (s *Session) handleAnswer(answer string) {
	if s.state != StatePlaying || s.myFinished || s.matchFinished {
		return
	}
	if s.myIndex >= len(s.words) {
		return
	}
	correct := strings.EqualFold(strings.TrimSpace(answer), s.words[s.myIndex].Answer)
	if correct {
		s.myScore++
	}
	s.myIndex++
	finished := s.myIndex >= len(s.words)
	if finished {
		s.myFinished = true
	}
	s.pushProgress()

	if finished {
		if s.opponentFinished {
			s.finalize()
			return
		}
		s.graceTimer = s.after(s.mode.OpponentGrace, graceTimeoutMsg{})
	}
	s.emitEvent(Event{Type: "answer_result", Correct: correct, Snapshot: s.snapshot()})
}

// pushProgress persists the encoded progress and pushes it to the opponent.
// Persist is the correctness path; the publish is latency only.
func (s *Session) pushProgress() {
	encoded := progress.Encode(s.myScore, s.myIndex, s.myFinished)
	if s.offline {
		return
	}
	if err := s.deps.Matches.RecordScore(s.matchID, s.side, encoded); err != nil {
		log.Printf("Failed to persist progress for %s: %v", s.matchID, err)
	}
	s.publishProgress(encoded)
}

func (s *Session) handleCountdownTick() {
	if s.state != StatePlaying || s.matchFinished {
		return
	}
	s.countdownRemaining--
	if s.countdownRemaining > 0 {
		s.emit("countdown")
		return
	}
	s.stopFunc(&s.stopCountdown)
	// Time is up: whoever has not finished is finished at current score.
	if !s.myFinished {
		s.myFinished = true
		s.pushProgress()
	}
	log.Printf("Match %s: countdown reached zero", s.matchID)
	s.finalize()
}

// applyOpponentProgress is the reducer both sync paths feed. The encoded
// value only grows over a match, so max() makes duplicate or reordered
// delivery harmless.
func (s *Session) applyOpponentProgress(encoded int) {
	if s.matchFinished {
		return
	}
	merged := max(s.opponentProgress, encoded)
	if merged == s.opponentProgress {
		return
	}
	s.opponentProgress = merged
	score, _, finished := progress.Decode(merged)
	if finished && !s.opponentFinished {
		s.opponentFinished = true
		s.opponentFinalScore = score
		if s.myFinished && s.state == StatePlaying {
			s.finalize()
			return
		}
	}
	s.emit("opponent_progress")
}

// --- completion ---

// finalize runs at most once no matter how many signals race to trigger it.
func (s *Session) finalize() {
	if s.matchFinished {
		return
	}
	s.matchFinished = true
	s.state = StateFinished
	s.stopTimer(s.graceTimer)
	s.stopFunc(&s.stopCountdown)
	s.stopFunc(&s.stopMatchPoll)

	oppScore := s.bestKnownOpponentScore()

	if s.offline || s.side == match.SidePlayer1 {
		// Authoritative side: decide the winner and write it exactly once.
		winner := ""
		switch {
		case s.myScore > oppScore:
			winner = s.profileID
		case s.myScore < oppScore:
			winner = s.opponentID
		}
		if !s.offline {
			if err := s.deps.Matches.Complete(s.matchID, winner); err != nil {
				log.Printf("Failed to complete match %s: %v", s.matchID, err)
			}
		}
		s.settleOutcome(winner)
		return
	}

	// Non-authoritative side: our score is persisted; after a short settle
	// delay read back whatever player1 decided rather than recomputing
	// from possibly stale local progress.
	s.settleTimer = s.after(s.mode.SettleDelay, settleTimeoutMsg{})
	s.emit("state")
}

func (s *Session) handleSettleTimeout() {
	if s.rewardsApplied {
		return
	}
	m, err := s.deps.Matches.GetByID(s.matchID)
	if err != nil {
		if !s.settleRetried {
			s.settleRetried = true
			s.settleTimer = s.after(s.mode.SettleDelay, settleTimeoutMsg{})
			return
		}
		log.Printf("Settle read failed twice for %s, recording tie: %v", s.matchID, err)
		s.settleOutcome("")
		return
	}
	switch m.Status {
	case match.StatusCompleted:
		if local := s.localWinnerGuess(); local != m.WinnerID {
			log.Printf("Match %s: local winner %q diverges from authoritative %q, deferring", s.matchID, local, m.WinnerID)
		}
		s.settleOutcome(m.WinnerID)
	case match.StatusCancelled:
		s.resetToIdle()
		s.emit("match_aborted")
	default:
		// Authoritative side never wrote a winner: treated as a tie.
		s.settleOutcome("")
	}
}

func (s *Session) localWinnerGuess() string {
	opp := s.bestKnownOpponentScore()
	switch {
	case s.myScore > opp:
		return s.profileID
	case s.myScore < opp:
		return s.opponentID
	}
	return ""
}

func (s *Session) bestKnownOpponentScore() int {
	if s.opponentFinished {
		return s.opponentFinalScore
	}
	score, _, _ := progress.Decode(s.opponentProgress)
	return score
}

// settleOutcome applies rewards for this profile exactly once and reports
// the result to the client.
func (s *Session) settleOutcome(winnerID string) {
	if s.rewardsApplied {
		return
	}
	s.rewardsApplied = true
	s.stopTimer(s.settleTimer)
	s.winnerID = winnerID
	s.tied = winnerID == ""
	won := winnerID == s.profileID

	outcome := profile.Outcome{}
	switch {
	case s.tied:
		outcome.XPDelta, outcome.CoinDelta = s.mode.XPTie, s.mode.CoinsTie
	case won:
		outcome.XPDelta, outcome.CoinDelta = s.mode.XPWin, s.mode.CoinsWin
		outcome.WinDelta = 1
	default:
		outcome.XPDelta, outcome.CoinDelta = s.mode.XPLoss, s.mode.CoinsLoss
		outcome.LossDelta = 1
	}

	if s.mode.Type == match.TypeRanked && !s.offline {
		eloScore := 0.5
		if won {
			eloScore = 1
		} else if !s.tied {
			eloScore = 0
		}
		outcome.EloDelta = profile.EloDelta(s.myElo, s.oppElo, eloScore)
		outcome.Ranked = true

		p, err := s.deps.Profiles.ReadProfile(s.profileID)
		if err != nil {
			log.Printf("Failed to read profile for rank update: %v", err)
		} else {
			res := rank.ApplyResult(rank.ParseTier(p.RankTier), p.RankStars, won, s.tied)
			outcome.RankTier = res.Tier.String()
			outcome.RankStars = res.Stars
		}
	}

	if err := s.deps.Profiles.ApplyMatchOutcome(s.profileID, outcome); err != nil {
		log.Printf("Failed to apply match outcome for %s: %v", s.profileID, err)
	}
	log.Printf("Match %s settled for %s: winner=%q tied=%v", s.matchID, s.profileID, winnerID, s.tied)
	s.emit("completed")
}

// finalizeFromRecord handles the poll path discovering a completed record
// (opponent forfeited, or the authoritative side force-completed first).
func (s *Session) finalizeFromRecord(m *match.Match) {
	if !s.matchFinished {
		s.matchFinished = true
		s.state = StateFinished
		s.stopTimer(s.graceTimer)
		s.stopTimer(s.readyTimer)
		s.stopFunc(&s.stopCountdown)
		s.stopFunc(&s.stopMatchPoll)
	}
	s.settleOutcome(m.WinnerID)
}

// --- leaving ---

func (s *Session) handleLeave() {
	switch s.state {
	case StateSearching:
		if err := s.deps.Matchmaker.CancelSearch(s.matchID); err != nil {
			log.Printf("Failed to cancel search %s: %v", s.matchID, err)
		}
	case StateFound:
		if !s.offline {
			if err := s.deps.Matches.Cancel(s.matchID); err != nil {
				log.Printf("Failed to cancel match %s: %v", s.matchID, err)
			}
		}
	case StatePlaying:
		if s.matchFinished {
			break
		}
		// Forfeit: the opponent wins, recorded before we go away. Writing
		// the outcome from the non-authoritative side is safe because the
		// conditional update still applies at most once.
		s.matchFinished = true
		s.pushProgress()
		if !s.offline {
			if err := s.deps.Matches.Complete(s.matchID, s.opponentID); err != nil {
				log.Printf("Failed to record forfeit for %s: %v", s.matchID, err)
			}
		}
		s.state = StateFinished
		s.settleOutcome(s.opponentID)
	}
	// Leaving the battle view always frees the session for the next search.
	s.resetToIdle()
	s.emit("state")
}

// resetToIdle clears all per-match state and one-shot guards so the session
// can run another battle. The session itself lives as long as the player.
func (s *Session) resetToIdle() {
	s.stopAllTimers()
	s.state = StateIdle
	s.matchID = ""
	s.side = 0
	s.words = nil
	s.offline = false
	s.opponentID = ""
	s.oppElo = 0
	s.myScore, s.myIndex, s.myFinished = 0, 0, false
	s.opponentProgress = 0
	s.opponentFinished = false
	s.opponentFinalScore = 0
	s.localReady, s.remoteReady = false, false
	s.searchElapsed = 0
	s.countdownRemaining = 0
	s.matchFinished = false
	s.rewardsApplied = false
	s.settleRetried = false
	s.winnerID = ""
	s.tied = false
}

// --- plumbing ---

func (s *Session) snapshot() Snapshot {
	oppScore, oppIndex, _ := progress.Decode(s.opponentProgress)
	snap := Snapshot{
		State:              s.state,
		MatchID:            s.matchID,
		Side:               s.side,
		Offline:            s.offline,
		SearchElapsed:      s.searchElapsed,
		QuestionIndex:      s.myIndex,
		MyScore:            s.myScore,
		MyFinished:         s.myFinished,
		OpponentScore:      oppScore,
		OpponentIndex:      oppIndex,
		OpponentFinished:   s.opponentFinished,
		CountdownRemaining: s.countdownRemaining,
		WinnerID:           s.winnerID,
		Tied:               s.tied,
		MatchFinished:      s.matchFinished,
	}
	if s.state == StatePlaying && !s.myFinished && s.myIndex < len(s.words) {
		snap.Prompt = s.words[s.myIndex].Prompt
	}
	return snap
}

func (s *Session) emit(eventType string) {
	s.emitEvent(Event{Type: eventType, Snapshot: s.snapshot()})
}

func (s *Session) emitError(msg string) {
	s.emitEvent(Event{Type: "error", Error: msg, Snapshot: s.snapshot()})
}

func (s *Session) emitEvent(e Event) {
	select {
	case s.events <- e:
	default:
		// Slow consumer: drop rather than stall the actor.
	}
}

func (s *Session) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func (s *Session) after(d time.Duration, m Msg) *time.Timer {
	return time.AfterFunc(d, func() { s.post(m) })
}

func (s *Session) every(d time.Duration, next func() Msg) func() {
	ctx, cancel := context.WithCancel(s.ctx)
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.post(next())
			}
		}
	}()
	return cancel
}

func (s *Session) stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (s *Session) stopFunc(f *func()) {
	if *f != nil {
		(*f)()
		*f = nil
	}
}

func (s *Session) stopAllTimers() {
	s.stopTimer(s.readyTimer)
	s.stopTimer(s.graceTimer)
	s.stopTimer(s.settleTimer)
	s.stopFunc(&s.stopSearchTick)
	s.stopFunc(&s.stopMatchPoll)
	s.stopFunc(&s.stopCountdown)
	s.stopFunc(&s.stopSubscribe)
}
