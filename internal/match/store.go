package match

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists matches in Postgres. Cross-session races (slot claiming,
// winner writes) are settled with conditional updates: the WHERE clause is
// the precondition and zero affected rows means somebody else won.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const matchColumns = `id, match_type, grade, player1_id, player2_id, player1_elo, player2_elo,
	words, player1_score, player2_score, status, winner_id, created_at, started_at, ended_at`

func (s *Store) Create(m *Match) error {
	words, err := json.Marshal(m.Words)
	if err != nil {
		return fmt.Errorf("failed to marshal words: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO matches (id, match_type, grade, player1_id, player1_elo, words, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, string(m.MatchType), m.Grade, m.Player1ID, m.Player1Elo, words, string(m.Status), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) GetByID(id string) (*Match, error) {
	row := s.db.QueryRow(`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id)
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read match %s: %w", id, err)
	}
	return m, nil
}

// FindWaiting returns open matches another player created, inside the ELO
// window and recency bound, closest ELO first.
func (s *Store) FindWaiting(q WaitingQuery) ([]Match, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`
		SELECT `+matchColumns+`
		FROM matches
		WHERE status = $1
		  AND match_type = $2
		  AND grade = $3
		  AND player1_id <> $4
		  AND player1_elo BETWEEN $5 AND $6
		  AND created_at > $7
		ORDER BY ABS(player1_elo - $8) ASC, created_at ASC
		LIMIT $9
	`, string(StatusWaiting), string(q.MatchType), q.Grade, q.ExcludeProfile,
		q.Elo-q.EloWindow, q.Elo+q.EloWindow, time.Now().Add(-q.MaxAge), q.Elo, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting matches: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan waiting match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// Claim takes the second slot. The update only lands while the slot is
// still empty and the match is still waiting, so at most one of N racing
// claimants ever succeeds; the rest get ErrClaimConflict.
func (s *Store) Claim(id, player2ID string, player2Elo int, words []Word) error {
	payload, err := json.Marshal(words)
	if err != nil {
		return fmt.Errorf("failed to marshal words: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE matches
		SET player2_id = $1, player2_elo = $2, words = $3, status = $4, started_at = $5
		WHERE id = $6 AND player2_id IS NULL AND status = $7
	`, player2ID, player2Elo, payload, string(StatusInProgress), time.Now(), id, string(StatusWaiting))
	if err != nil {
		return fmt.Errorf("failed to claim match %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result for %s: %w", id, err)
	}
	if n == 0 {
		return ErrClaimConflict
	}
	return nil
}

// RecordScore writes the encoded progress for one side. Each session only
// ever touches its own column.
func (s *Store) RecordScore(id string, side Side, encoded int) error {
	column := "player1_score"
	if side == SidePlayer2 {
		column = "player2_score"
	}
	res, err := s.db.Exec(`UPDATE matches SET `+column+` = $1 WHERE id = $2`, encoded, id)
	if err != nil {
		return fmt.Errorf("failed to record score for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete writes the final outcome. Only the authoritative side calls it;
// the conditional status guard makes duplicate finalize triggers harmless.
// An empty winnerID records a tie.
func (s *Store) Complete(id, winnerID string) error {
	var winner sql.NullString
	if winnerID != "" {
		winner = sql.NullString{String: winnerID, Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE matches SET status = $1, winner_id = $2, ended_at = $3
		WHERE id = $4 AND status = $5
	`, string(StatusCompleted), winner, time.Now(), id, string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to complete match %s: %w", id, err)
	}
	return nil
}

// Cancel abandons a match that has not completed.
func (s *Store) Cancel(id string) error {
	_, err := s.db.Exec(`
		UPDATE matches SET status = $1, ended_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`, string(StatusCancelled), time.Now(), id, string(StatusWaiting), string(StatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to cancel match %s: %w", id, err)
	}
	return nil
}

// CancelWaitingByOwner clears the caller's own open rows before it creates a
// new one, so a profile never owns two waiting entries in the same mode.
func (s *Store) CancelWaitingByOwner(profileID string, matchType Type) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE matches SET status = $1, ended_at = $2
		WHERE player1_id = $3 AND match_type = $4 AND status = $5
	`, string(StatusCancelled), time.Now(), profileID, string(matchType), string(StatusWaiting))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel waiting matches for %s: %w", profileID, err)
	}
	return res.RowsAffected()
}

// CancelStaleWaiting expires waiting rows nobody claimed. Run by the sweeper.
func (s *Store) CancelStaleWaiting(maxAge time.Duration) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE matches SET status = $1, ended_at = $2
		WHERE status = $3 AND created_at < $4
	`, string(StatusCancelled), time.Now(), string(StatusWaiting), time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel stale waiting matches: %w", err)
	}
	return res.RowsAffected()
}

// CancelExpiredInProgress force-cancels battles stuck past their deadline so
// no match can stay in_progress forever.
func (s *Store) CancelExpiredInProgress(maxAge time.Duration) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE matches SET status = $1, ended_at = $2
		WHERE status = $3 AND started_at < $4
	`, string(StatusCancelled), time.Now(), string(StatusInProgress), time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel expired matches: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*Match, error) {
	var (
		m          Match
		matchType  string
		status     string
		player2    sql.NullString
		player2Elo sql.NullInt64
		winner     sql.NullString
		words      []byte
		startedAt  sql.NullTime
		endedAt    sql.NullTime
	)
	err := row.Scan(&m.ID, &matchType, &m.Grade, &m.Player1ID, &player2, &m.Player1Elo, &player2Elo,
		&words, &m.Player1Score, &m.Player2Score, &status, &winner, &m.CreatedAt, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	m.MatchType = Type(matchType)
	m.Status = Status(status)
	m.Player2ID = player2.String
	m.Player2Elo = int(player2Elo.Int64)
	m.WinnerID = winner.String
	m.StartedAt = startedAt.Time
	m.EndedAt = endedAt.Time
	if len(words) > 0 {
		if err := json.Unmarshal(words, &m.Words); err != nil {
			return nil, fmt.Errorf("failed to unmarshal words for %s: %w", m.ID, err)
		}
	}
	return &m, nil
}
