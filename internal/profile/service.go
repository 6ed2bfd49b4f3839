package profile

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInsufficientEnergy is a precondition failure: surfaced to the
	// player, never retried.
	ErrInsufficientEnergy = errors.New("not enough energy")
	ErrNotFound           = errors.New("profile not found")
)

const (
	DefaultElo    = 1500
	DefaultEnergy = 5
	eloK          = 32
)

type Profile struct {
	ID        string `json:"id"`
	XP        int    `json:"xp"`
	Coins     int    `json:"coins"`
	EloRating int    `json:"elo_rating"`
	RankTier  string `json:"rank_tier"`
	RankStars int    `json:"rank_stars"`
	Wins      int    `json:"wins"`
	Losses    int    `json:"losses"`
	Energy    int    `json:"energy"`
}

// Outcome is written exactly once per profile per completed match, by that
// profile's own finalizer.
type Outcome struct {
	XPDelta   int
	CoinDelta int
	WinDelta  int
	LossDelta int
	EloDelta  int
	RankTier  string
	RankStars int
	Ranked    bool
}

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Provision seeds the battle profile for a new account. Safe to call again
// for an existing player.
func (s *Service) Provision(id string) error {
	_, err := s.db.Exec(`
		INSERT INTO profiles (id, xp, coins, elo_rating, rank_tier, rank_stars, wins, losses, energy)
		VALUES ($1, 0, 0, $2, 'bronze', 0, 0, 0, $3)
		ON CONFLICT (id) DO NOTHING
	`, id, DefaultElo, DefaultEnergy)
	if err != nil {
		return fmt.Errorf("failed to provision profile %s: %w", id, err)
	}
	return nil
}

func (s *Service) ReadProfile(id string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(`
		SELECT id, xp, coins, elo_rating, rank_tier, rank_stars, wins, losses, energy
		FROM profiles WHERE id = $1
	`, id).Scan(&p.ID, &p.XP, &p.Coins, &p.EloRating, &p.RankTier, &p.RankStars, &p.Wins, &p.Losses, &p.Energy)
	if err == sql.ErrNoRows {
		// Fresh account that has not battled yet.
		return &Profile{ID: id, EloRating: DefaultElo, RankTier: "bronze", Energy: DefaultEnergy}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", id, err)
	}
	return &p, nil
}

// SpendEnergy charges the battle entry cost. The energy check and the
// decrement are one conditional update so two concurrent starts cannot both
// pass on the same last point.
func (s *Service) SpendEnergy(id string, cost int) error {
	res, err := s.db.Exec(`
		UPDATE profiles SET energy = energy - $1 WHERE id = $2 AND energy >= $1
	`, cost, id)
	if err != nil {
		return fmt.Errorf("failed to spend energy for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read energy update for %s: %w", id, err)
	}
	if n == 0 {
		return ErrInsufficientEnergy
	}
	return nil
}

// ApplyMatchOutcome settles a finished match into the profile row. An empty
// RankTier means no rank movement was computed; the stored tier and stars
// are left untouched in that case.
func (s *Service) ApplyMatchOutcome(id string, o Outcome) error {
	if o.Ranked {
		_, err := s.db.Exec(`
			INSERT INTO profiles (id, xp, coins, elo_rating, rank_tier, rank_stars, wins, losses, energy)
			VALUES ($1, $2, $3, $4, COALESCE(NULLIF($5, ''), 'bronze'), $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				xp = profiles.xp + $2,
				coins = profiles.coins + $3,
				elo_rating = profiles.elo_rating + $10,
				rank_tier = COALESCE(NULLIF($5, ''), profiles.rank_tier),
				rank_stars = CASE WHEN NULLIF($5, '') IS NULL THEN profiles.rank_stars ELSE $6 END,
				wins = profiles.wins + $7,
				losses = profiles.losses + $8
		`, id, o.XPDelta, o.CoinDelta, DefaultElo+o.EloDelta, o.RankTier, o.RankStars,
			o.WinDelta, o.LossDelta, DefaultEnergy, o.EloDelta)
		if err != nil {
			return fmt.Errorf("failed to apply ranked outcome for %s: %w", id, err)
		}
		return nil
	}

	_, err := s.db.Exec(`
		INSERT INTO profiles (id, xp, coins, elo_rating, rank_tier, rank_stars, wins, losses, energy)
		VALUES ($1, $2, $3, $4, 'bronze', 0, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			xp = profiles.xp + $2,
			coins = profiles.coins + $3,
			wins = profiles.wins + $5,
			losses = profiles.losses + $6
	`, id, o.XPDelta, o.CoinDelta, DefaultElo, o.WinDelta, o.LossDelta, DefaultEnergy)
	if err != nil {
		return fmt.Errorf("failed to apply outcome for %s: %w", id, err)
	}
	return nil
}

// EloDelta is the standard expected-score update (K=32). score is 1 for a
// win, 0.5 for a tie, 0 for a loss.
func EloDelta(ownElo, opponentElo int, score float64) int {
	expected := 1 / (1 + math.Pow(10, float64(opponentElo-ownElo)/400))
	return int(math.Round(eloK * (score - expected)))
}
