package realtime

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/regscout/regscout/internal/pkg/subsync"
	"github.com/regscout/regscout/internal/pkg/usercontext"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Message is the envelope written to websocket clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Hub serves the entitlement push channel. Each authenticated connection
// owns one sync session; the session's published projection is written to
// the socket, and disconnect tears everything down.
type Hub struct {
	store subsync.Store
	feed  Feed
}

// NewHub creates a hub over the given store and change feed.
func NewHub(store subsync.Store, feed Feed) *Hub {
	return &Hub{store: store, feed: feed}
}

// UpgradeMiddleware gates the websocket route: only upgrade requests from
// logged-in sessions proceed, and the user id is pinned into Locals before
// the protocol switch (session data is unreachable afterwards).
func (h *Hub) UpgradeMiddleware(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	c.Locals(usercontext.KeyUserID, userCtx.UserID)
	return c.Next()
}

// Handler returns the websocket connection handler.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals(usercontext.KeyUserID).(uint)
		if !ok || userID == 0 {
			_ = conn.Close()
			return
		}
		h.serve(conn, userID)
	})
}

func (h *Hub) serve(conn *websocket.Conn, userID uint) {
	syncer := subsync.New(h.store, subsync.StaticIdentity(userID), h.feed)
	syncer.Start()
	defer syncer.Stop()

	// Reader goroutine: we never act on client frames, but reading drains
	// control messages and detects the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case ent := <-syncer.Updates():
			if err := h.write(conn, Message{Type: "entitlement", Data: ent}); err != nil {
				log.Printf("realtime: write to user %d failed: %v", userID, err)
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
