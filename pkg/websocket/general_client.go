package websocket

import (
	"github.com/gorilla/websocket"
)

// GeneralClient is a player's notification connection, kept outside any
// battle so match-found pushes reach players who are not mid-game.
type GeneralClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}
