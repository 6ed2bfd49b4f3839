package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/wordclash/wordclash-backend/internal/battle"
	"github.com/wordclash/wordclash-backend/internal/match"
	wsPkg "github.com/wordclash/wordclash-backend/pkg/websocket"
)

// Handler owns one battle session per connected player and bridges its
// websocket to the session's inbox and event stream. The session outlives
// the connection, so a dropped client can reattach to a running battle.
type Handler struct {
	deps battle.Deps

	mu       sync.Mutex
	sessions map[string]*binding
}

type binding struct {
	session *battle.Session

	mu     sync.Mutex
	client *wsPkg.Client
}

func NewHandler(deps battle.Deps) *Handler {
	return &Handler{
		deps:     deps,
		sessions: make(map[string]*binding),
	}
}

type clientMessage struct {
	Type   string `json:"type"`
	Grade  int    `json:"grade,omitempty"`
	Answer string `json:"answer,omitempty"`
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsPkg.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade failed: %v", err)
		return
	}

	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		log.Println("Missing playerId")
		conn.Close()
		return
	}
	matchID := r.URL.Query().Get("matchId")
	mode := battle.ModeFor(match.Type(r.URL.Query().Get("mode")))

	b, err := h.attachSession(playerID, matchID, mode)
	if err != nil {
		log.Printf("Session attach failed for %s: %v", playerID, err)
		writeCloseError(conn, err)
		conn.Close()
		return
	}

	client := wsPkg.NewClient(playerID, conn)
	b.swapClient(client)

	log.Printf("Player %s connected to battle socket", playerID)
	go h.read(b, client)
	go h.write(client)
}

// attachSession reuses the player's live session, resumes one from a stored
// match, or starts a fresh idle session.
func (h *Handler) attachSession(playerID, matchID string, mode battle.Mode) (*binding, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.sessions[playerID]; ok {
		select {
		case <-b.session.Done():
			delete(h.sessions, playerID)
		default:
			return b, nil
		}
	}

	var (
		session *battle.Session
		err     error
	)
	if matchID != "" {
		session, err = battle.Resume(context.Background(), h.deps, playerID, matchID)
		if err != nil {
			return nil, err
		}
	} else {
		session = battle.NewSession(context.Background(), h.deps, playerID, mode)
	}

	b := &binding{session: session}
	h.sessions[playerID] = b
	go h.forward(playerID, b)
	return b, nil
}

// forward copies session events to whichever client is currently attached.
// It is the only reader of the session's event stream.
func (h *Handler) forward(playerID string, b *binding) {
	for {
		select {
		case <-b.session.Done():
			h.mu.Lock()
			if h.sessions[playerID] == b {
				delete(h.sessions, playerID)
			}
			h.mu.Unlock()
			b.closeClient()
			return
		case ev := <-b.session.Events():
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("Failed to marshal event for %s: %v", playerID, err)
				continue
			}
			b.send(payload)
		}
	}
}

func (h *Handler) read(b *binding, c *wsPkg.Client) {
	defer func() {
		b.detach(c)
		c.Conn.Close()
		log.Printf("Player %s disconnected from battle socket", c.ID)
	}()
	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("Failed to unmarshal message from %s: %v", c.ID, err)
			continue
		}

		var sessionMsg battle.Msg
		switch msg.Type {
		case "search":
			sessionMsg = battle.StartSearch{Grade: msg.Grade}
		case "ready":
			sessionMsg = battle.Ready{}
		case "answer":
			sessionMsg = battle.Answer{Answer: msg.Answer}
		case "leave":
			sessionMsg = battle.Leave{}
		default:
			log.Printf("Unknown message type %q from %s", msg.Type, c.ID)
			continue
		}

		select {
		case b.session.Inbox() <- sessionMsg:
		case <-b.session.Done():
			return
		}
	}
}

func (h *Handler) write(c *wsPkg.Client) {
	defer c.Conn.Close()

	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Only one socket per player. Closing the replaced client's Send ends its
// writer; the Send close happens under the same mutex as every send, so the
// forwarder can never write to a closed channel.
func (b *binding) swapClient(c *wsPkg.Client) {
	b.mu.Lock()
	old := b.client
	b.client = c
	if old != nil {
		close(old.Send)
	}
	b.mu.Unlock()

	if old != nil {
		old.Conn.Close()
	}
}

// detach runs when a client's read pump dies. Closing Send here keeps the
// writer from leaking when the player simply disconnects; a client already
// replaced by swapClient was closed there.
func (b *binding) detach(c *wsPkg.Client) {
	b.mu.Lock()
	if b.client == c {
		b.client = nil
		close(c.Send)
	}
	b.mu.Unlock()
}

func (b *binding) send(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return
	}
	select {
	case b.client.Send <- payload:
	default:
	}
}

func (b *binding) closeClient() {
	b.mu.Lock()
	c := b.client
	b.client = nil
	if c != nil {
		close(c.Send)
	}
	b.mu.Unlock()
	if c != nil {
		c.Conn.Close()
	}
}

func writeCloseError(conn *websocket.Conn, err error) {
	msg := struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{Type: "error", Error: err.Error()}
	if payload, mErr := json.Marshal(msg); mErr == nil {
		conn.WriteMessage(websocket.TextMessage, payload)
	}
}
