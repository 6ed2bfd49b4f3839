// Package content is the quiz item collaborator: it only hands out
// fixed-size word batches, everything else about authoring lives outside
// the battle core.
package content

import (
	"database/sql"
	"fmt"

	"github.com/wordclash/wordclash-backend/internal/match"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// FetchQuizBatch returns size random words for the grade. Grade 0 draws
// from the whole pool (free mode).
func (s *Service) FetchQuizBatch(matchType match.Type, grade, size int) ([]match.Word, error) {
	query := `SELECT id, prompt, answer, COALESCE(distractor_source, '') FROM words`
	args := []interface{}{size}
	if grade > 0 {
		query += ` WHERE grade = $2`
		args = append(args, grade)
	}
	query += ` ORDER BY RANDOM() LIMIT $1`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	defer rows.Close()

	var words []match.Word
	for rows.Next() {
		var w match.Word
		if err := rows.Scan(&w.ID, &w.Prompt, &w.Answer, &w.DistractorSource); err != nil {
			return nil, fmt.Errorf("failed to scan word: %w", err)
		}
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(words) < size {
		return nil, fmt.Errorf("word pool too small: need %d, have %d", size, len(words))
	}
	return words, nil
}
