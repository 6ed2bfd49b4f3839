package matchmaking

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/profile"
)

// memStore is an in-memory match store with the same conditional-update
// semantics as the SQL one.
type memStore struct {
	mu      sync.Mutex
	matches map[string]*match.Match
}

func newMemStore() *memStore {
	return &memStore{matches: make(map[string]*match.Match)}
}

func (s *memStore) Create(m *match.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.matches[m.ID] = &cp
	return nil
}

func (s *memStore) GetByID(id string) (*match.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, match.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) FindWaiting(q match.WaitingQuery) ([]match.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-q.MaxAge)
	var out []match.Match
	for _, m := range s.matches {
		if m.Status != match.StatusWaiting || m.MatchType != q.MatchType || m.Grade != q.Grade {
			continue
		}
		if m.Player1ID == q.ExcludeProfile || m.CreatedAt.Before(cutoff) {
			continue
		}
		if m.Player1Elo < q.Elo-q.EloWindow || m.Player1Elo > q.Elo+q.EloWindow {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := abs(out[i].Player1Elo-q.Elo), abs(out[j].Player1Elo-q.Elo)
		return di < dj
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) Claim(id, player2ID string, player2Elo int, words []match.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok || m.Player2ID != "" || m.Status != match.StatusWaiting {
		return match.ErrClaimConflict
	}
	m.Player2ID = player2ID
	m.Player2Elo = player2Elo
	m.Words = words
	m.Status = match.StatusInProgress
	m.StartedAt = time.Now()
	return nil
}

func (s *memStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.matches[id]; ok && m.Status != match.StatusCompleted {
		m.Status = match.StatusCancelled
	}
	return nil
}

func (s *memStore) CancelWaitingByOwner(profileID string, matchType match.Type) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.matches {
		if m.Player1ID == profileID && m.MatchType == matchType && m.Status == match.StatusWaiting {
			m.Status = match.StatusCancelled
			n++
		}
	}
	return n, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type fakeContent struct{}

func (fakeContent) FetchQuizBatch(_ match.Type, _, size int) ([]match.Word, error) {
	words := make([]match.Word, size)
	for i := range words {
		words[i] = match.Word{ID: int64(i + 1), Prompt: "prompt", Answer: "answer"}
	}
	return words, nil
}

type fakePub struct {
	mu     sync.Mutex
	topics []string
}

func (p *fakePub) Publish(topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

type fakeEnergy struct {
	mu     sync.Mutex
	spends int
	broke  bool
}

func (f *fakeEnergy) SpendEnergy(string, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broke {
		return profile.ErrInsufficientEnergy
	}
	f.spends++
	return nil
}

func (f *fakeEnergy) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spends
}

func newTestService(store Store) *Service {
	return NewService(store, fakeContent{}, &fakePub{}, &fakeEnergy{})
}

func seedWaiting(store Store, id, owner string, elo int, age time.Duration) {
	store.Create(&match.Match{
		ID:         id,
		MatchType:  match.TypeRanked,
		Player1ID:  owner,
		Player1Elo: elo,
		Status:     match.StatusWaiting,
		CreatedAt:  time.Now().Add(-age),
	})
}

func TestFindOrCreateMatch_CreatesWaitingRowWhenAlone(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	handle, err := svc.FindOrCreateMatch("alice", 1000, match.TypeRanked, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handle.Waiting || handle.Side != match.SidePlayer1 {
		t.Fatalf("expected waiting player1 handle, got %+v", handle)
	}
	m, _ := store.GetByID(handle.Match.ID)
	if m.Status != match.StatusWaiting || m.Player1ID != "alice" {
		t.Fatalf("stored row wrong: %+v", m)
	}
}

func TestFindOrCreateMatch_JoinsClosestEloFirst(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	seedWaiting(store, "far", "bob", 1180, time.Second)
	seedWaiting(store, "near", "carol", 1020, time.Second)

	handle, err := svc.FindOrCreateMatch("alice", 1000, match.TypeRanked, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.Waiting {
		t.Fatalf("expected a join, got a waiting handle")
	}
	if handle.Match.ID != "near" {
		t.Fatalf("expected closest-ELO candidate first, joined %s", handle.Match.ID)
	}
	if handle.Side != match.SidePlayer2 {
		t.Fatalf("joiner must take player2 slot, got side %d", handle.Side)
	}
	if len(handle.Match.Words) != match.WordCount {
		t.Fatalf("claim must attach %d words, got %d", match.WordCount, len(handle.Match.Words))
	}
}

func TestFindOrCreateMatch_IgnoresOutOfWindowAndStale(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	seedWaiting(store, "too-strong", "bob", 1300, time.Second)
	seedWaiting(store, "too-old", "carol", 1000, 6*time.Minute)

	handle, err := svc.FindOrCreateMatch("alice", 1000, match.TypeRanked, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handle.Waiting {
		t.Fatalf("should not have joined %s", handle.Match.ID)
	}
}

func TestFindOrCreateMatch_ReplacesOwnStaleRow(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	seedWaiting(store, "old-own", "alice", 1000, time.Minute)

	handle, err := svc.FindOrCreateMatch("alice", 1000, match.TypeRanked, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.Match.ID == "old-own" {
		t.Fatalf("must not join own waiting row")
	}
	old, _ := store.GetByID("old-own")
	if old.Status != match.StatusCancelled {
		t.Fatalf("previous own row should be cancelled, got %s", old.Status)
	}
}

func TestClaimRace_ExactlyOneWinner(t *testing.T) {
	store := newMemStore()
	seedWaiting(store, "contested", "host", 1000, time.Second)

	const racers = 8
	var wg sync.WaitGroup
	conflicts := make(chan error, racers)
	winners := make(chan string, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Claim("contested", "racer", 1000+i, nil)
			if errors.Is(err, match.ErrClaimConflict) {
				conflicts <- err
				return
			}
			if err != nil {
				t.Errorf("unexpected claim error: %v", err)
				return
			}
			winners <- "racer"
		}(i)
	}
	wg.Wait()
	close(conflicts)
	close(winners)

	if got := len(winners); got != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", got)
	}
	if got := len(conflicts); got != racers-1 {
		t.Fatalf("expected %d claim conflicts, got %d", racers-1, got)
	}
}

func TestPollForOpponent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	seedWaiting(store, "w", "alice", 1000, time.Second)

	m, err := svc.PollForOpponent("w")
	if err != nil || m.Status != match.StatusWaiting {
		t.Fatalf("poll on waiting row: m=%+v err=%v", m, err)
	}

	store.Claim("w", "bob", 1050, nil)
	m, err = svc.PollForOpponent("w")
	if err != nil || m.Status != match.StatusInProgress || m.Player2ID != "bob" {
		t.Fatalf("poll after claim: m=%+v err=%v", m, err)
	}

	store.Cancel("w")
	if _, err := svc.PollForOpponent("w"); !errors.Is(err, match.ErrStaleMatch) {
		t.Fatalf("poll on cancelled row should be ErrStaleMatch, got %v", err)
	}

	if _, err := svc.PollForOpponent("gone"); !errors.Is(err, match.ErrStaleMatch) {
		t.Fatalf("poll on missing row should be ErrStaleMatch, got %v", err)
	}
}

// Two players searching in the same window end up in the same match: the
// first publishes a waiting row, the second claims it.
func TestTwoSearchersShareOneMatch(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)

	a, err := svc.FindOrCreateMatch("alice", 1000, match.TypeRanked, 0)
	if err != nil {
		t.Fatalf("alice search: %v", err)
	}
	b, err := svc.FindOrCreateMatch("bob", 1050, match.TypeRanked, 0)
	if err != nil {
		t.Fatalf("bob search: %v", err)
	}
	if b.Waiting {
		t.Fatalf("bob should have joined alice's match")
	}
	if a.Match.ID != b.Match.ID {
		t.Fatalf("searchers split across matches: %s vs %s", a.Match.ID, b.Match.ID)
	}

	m, err := svc.PollForOpponent(a.Match.ID)
	if err != nil {
		t.Fatalf("alice poll: %v", err)
	}
	if m.Status != match.StatusInProgress || m.Player2ID != "bob" {
		t.Fatalf("alice sees wrong record: %+v", m)
	}
}

func TestRankedSearchChargesEnergyOnce(t *testing.T) {
	store := newMemStore()
	energy := &fakeEnergy{}
	svc := NewService(store, fakeContent{}, &fakePub{}, energy)

	if _, err := svc.FindOrCreateMatch("alice", 1000, match.TypeRanked, 0); err != nil {
		t.Fatalf("ranked search: %v", err)
	}
	if got := energy.count(); got != 1 {
		t.Fatalf("ranked search should charge once, charged %d times", got)
	}

	if _, err := svc.FindOrCreateMatch("bob", 1000, match.TypeFree, 0); err != nil {
		t.Fatalf("free search: %v", err)
	}
	if got := energy.count(); got != 1 {
		t.Fatalf("free search should not charge, total charges %d", got)
	}
}

func TestRankedSearchRejectedWhenEnergyEmpty(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fakeContent{}, &fakePub{}, &fakeEnergy{broke: true})

	_, err := svc.FindOrCreateMatch("alice", 1000, match.TypeRanked, 0)
	if !errors.Is(err, profile.ErrInsufficientEnergy) {
		t.Fatalf("expected insufficient-energy error, got %v", err)
	}
	if len(store.matches) != 0 {
		t.Fatalf("no waiting row should exist after a rejected search, found %d", len(store.matches))
	}
}
