package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/wordclash/wordclash-backend/config"
	"github.com/wordclash/wordclash-backend/internal/auth"
	"github.com/wordclash/wordclash-backend/internal/battle"
	"github.com/wordclash/wordclash-backend/internal/content"
	"github.com/wordclash/wordclash-backend/internal/leaderboard"
	"github.com/wordclash/wordclash-backend/internal/match"
	"github.com/wordclash/wordclash-backend/internal/matchmaking"
	"github.com/wordclash/wordclash-backend/internal/profile"
	"github.com/wordclash/wordclash-backend/internal/pubsub"
	"github.com/wordclash/wordclash-backend/internal/ws"
	redisPkg "github.com/wordclash/wordclash-backend/pkg/redis"
	wsPkg "github.com/wordclash/wordclash-backend/pkg/websocket"
)

func main() {
	cfg := config.LoadConfig()
	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		log.Fatal("Failed to connect database:", err)
	}
	defer db.Close()

	rdb := redisPkg.NewRedisClient()
	broker := pubsub.NewBroker(rdb)

	matchStore := match.NewStore(db)
	contentService := content.NewService(db)
	profileService := profile.NewService(db)
	matchmakingService := matchmaking.NewService(matchStore, contentService, broker, profileService)

	authService := auth.NewService(db, cfg, profileService)
	authHandler := auth.NewAuthHandler(authService)

	matchmakingHandler := matchmaking.NewHandler(matchmakingService, profileService)
	leaderboardHandler := leaderboard.NewHandler(leaderboard.NewService(db))

	battleHandler := ws.NewHandler(battle.Deps{
		Matches:    matchStore,
		Matchmaker: matchmakingService,
		Profiles:   profileService,
		Broker:     broker,
		Content:    contentService,
	})

	generalHub := wsPkg.NewGeneralHub()
	generalHandler := ws.NewGeneralHandler(generalHub)
	notificationWorker := ws.NewNotificationWorker(broker, generalHub)
	notificationWorker.Run(context.Background())

	http.HandleFunc("/api/v1/auth/register", authHandler.Register)
	http.HandleFunc("/api/v1/auth/login", authHandler.Login)

	http.HandleFunc("/api/v1/battle/search", matchmakingHandler.Search)
	http.HandleFunc("/api/v1/battle/poll", matchmakingHandler.Poll)
	http.HandleFunc("/api/v1/battle/cancel", matchmakingHandler.CancelSearch)

	http.HandleFunc("/api/v1/leaderboard", leaderboardHandler.GetLeaderboard)

	http.HandleFunc("/ws/battle", battleHandler.ServeWS)
	http.HandleFunc("/ws/notifications", generalHandler.ServeGeneralWS)

	log.Println("Server started at", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, nil))
}
