package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	wsPkg "github.com/wordclash/wordclash-backend/pkg/websocket"
)

type GeneralHandler struct {
	Hub *wsPkg.GeneralHub
}

func NewGeneralHandler(hub *wsPkg.GeneralHub) *GeneralHandler {
	return &GeneralHandler{
		Hub: hub,
	}
}

func (h *GeneralHandler) ServeGeneralWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsPkg.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("General WS upgrade failed: %v", err)
		return
	}
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		log.Println("Player ID is missing in the request")
		conn.Close()
		return
	}
	client := &wsPkg.GeneralClient{
		ID:   playerID,
		Conn: conn,
		Send: make(chan []byte, 16),
	}
	h.Hub.AddClient(client)

	go h.read(client)
	go h.write(client)
}

func (h *GeneralHandler) read(c *wsPkg.GeneralClient) {
	defer func() {
		h.Hub.RemoveClient(c)
		c.Conn.Close()
	}()
	for {
		// Notification sockets are push-only, drain until the peer goes away.
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *GeneralHandler) write(c *wsPkg.GeneralClient) {
	defer c.Conn.Close()

	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
