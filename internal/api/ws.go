package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/session"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

// hub pushes the player status to the websockets of a session on every phase change.
type hub struct {
	qss      *session.Service
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closed  bool
	clients map[int64]map[*client]struct{}
}

type client struct {
	playerID int64
	conn     *websocket.Conn
	send     chan Notification
}

// newHub accepts websockets from the same origins as CORS.
func newHub(qss *session.Service, origins Origins) *hub {
	return &hub{
		qss: qss,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return sameOrigin(r) || origins.Allow(r.Header.Get("Origin"))
			},
		},
		clients: make(map[int64]map[*client]struct{}),
	}
}

func (a *API) serveWS(c *gin.Context) {
	playerID, err := paramInt(c, "playerid")
	if err != nil {
		writeError(c, err)
		return
	}

	sessionID, err := a.qss.PlayerSession(playerID)
	if err != nil {
		writeError(c, err)
		return
	}

	st, err := a.qss.PlayerStatus(c.Request.Context(), playerID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := a.hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "ws: upgrade failed", "player_id", playerID, "error", err)
		return
	}

	cl := &client{
		playerID: playerID,
		conn:     conn,
		send:     make(chan Notification, sendBuffer),
	}
	cl.send <- Notification{Event: domain.EventNamePhaseChanged, Data: st}

	if !a.hub.register(sessionID, cl) {
		_ = conn.Close()
		return
	}
	defer a.hub.unregister(sessionID, cl)

	go cl.writeLoop()

	// Inbound messages are ignored, reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (cl *client) writeLoop() {
	defer cl.conn.Close()

	for n := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteJSON(n); err != nil {
			slog.Debug("ws: write failed", "player_id", cl.playerID, "error", err)
			return
		}
	}

	_ = cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
}

func (h *hub) register(sessionID int64, cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*client]struct{})
	}
	h.clients[sessionID][cl] = struct{}{}
	return true
}

func (h *hub) unregister(sessionID int64, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cs := h.clients[sessionID]
	if _, ok := cs[cl]; !ok {
		return
	}

	delete(cs, cl)
	if len(cs) == 0 {
		delete(h.clients, sessionID)
	}
	close(cl.send)
}

// broadcast sends the current player status. Slow clients miss updates rather than block the bus.
func (h *hub) broadcast(ctx context.Context, e domain.EventPhaseChanged) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n *Notification
	for cl := range h.clients[e.SessionID] {
		if n == nil {
			st, err := h.qss.PlayerStatus(ctx, cl.playerID)
			if err != nil {
				slog.WarnContext(ctx, "ws: get player status failed", "session_id", e.SessionID, "error", err)
				return
			}
			n = &Notification{Event: e.Name(), Data: st}
		}

		select {
		case cl.send <- *n:
		default:
			slog.WarnContext(ctx, "ws: client too slow, update dropped", "player_id", cl.playerID)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sessionID, cs := range h.clients {
		for cl := range cs {
			close(cl.send)
		}
		delete(h.clients, sessionID)
	}
}
