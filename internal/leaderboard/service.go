package leaderboard

import (
	"database/sql"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type LeaderboardEntry struct {
	ProfileID string `json:"profile_id"`
	Username  string `json:"username"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
	Elo       int    `json:"elo"`
	RankTier  string `json:"rank_tier"`
	RankStars int    `json:"rank_stars"`
}

func (s *Service) GetLeaderboard(limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.Query(`
		SELECT p.id, u.username, p.wins, p.losses, p.elo_rating, p.rank_tier, p.rank_stars
		FROM profiles p
		JOIN users u ON p.id = u.id::text
		ORDER BY p.elo_rating DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leaderboard []LeaderboardEntry
	for rows.Next() {
		var entry LeaderboardEntry
		if err := rows.Scan(&entry.ProfileID, &entry.Username, &entry.Wins, &entry.Losses,
			&entry.Elo, &entry.RankTier, &entry.RankStars); err != nil {
			return nil, err
		}
		leaderboard = append(leaderboard, entry)
	}
	return leaderboard, rows.Err()
}
