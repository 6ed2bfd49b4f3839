package main

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/wordclash/wordclash-backend/config"
	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/matchmaking"
)

const (
	sweepInterval = 30 * time.Second

	// Battles get twice the longest countdown before the sweeper gives up on
	// both players ever settling them.
	maxBattleAge = 5 * time.Minute
)

func main() {
	cfg := config.LoadConfig()
	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		log.Fatal("Failed to connect database:", err)
	}
	defer db.Close()

	store := match.NewStore(db)

	log.Println("Sweeper service starting...")
	for {
		if n, err := store.CancelStaleWaiting(matchmaking.MaxWaitingAge); err != nil {
			log.Printf("Failed to sweep waiting matches: %v", err)
		} else if n > 0 {
			log.Printf("Cancelled %d stale waiting matches", n)
		}

		if n, err := store.CancelExpiredInProgress(maxBattleAge); err != nil {
			log.Printf("Failed to sweep expired battles: %v", err)
		} else if n > 0 {
			log.Printf("Cancelled %d expired battles", n)
		}

		time.Sleep(sweepInterval)
	}
}
