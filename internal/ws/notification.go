package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/wordclash/wordclash-backend/internal/pubsub"
	wsPkg "github.com/wordclash/wordclash-backend/pkg/websocket"
)

// NotificationWorker relays player-addressed pub/sub messages (match found,
// opponent forfeit) to the player's notification socket.
type NotificationWorker struct {
	Broker     *pubsub.Broker
	GeneralHub *wsPkg.GeneralHub
}

func NewNotificationWorker(broker *pubsub.Broker, hub *wsPkg.GeneralHub) *NotificationWorker {
	return &NotificationWorker{
		Broker:     broker,
		GeneralHub: hub,
	}
}

func (w *NotificationWorker) Run(ctx context.Context) {
	log.Println("Notification worker starting...")
	w.Broker.Subscribe(ctx, "notifications", func(payload []byte) {
		var notification struct {
			Type   string `json:"type"`
			Player string `json:"player"`
		}
		if err := json.Unmarshal(payload, &notification); err != nil {
			log.Printf("Failed to unmarshal notification: %v", err)
			return
		}
		if notification.Player == "" {
			return
		}
		if !w.GeneralHub.SendToClient(notification.Player, payload) {
			log.Printf("Player %s has no notification socket, dropping %s", notification.Player, notification.Type)
		}
	})
}
