// Package wsnet is the WebSocket transport: it owns the set of connected
// player sockets, pumps inbound frames into the Message Router, and pumps
// outbound GORC/client_event frames back out per player.
package wsnet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/horizon-engine/horizon/internal/gorc"
	"github.com/horizon-engine/horizon/internal/logger"
	"github.com/horizon-engine/horizon/internal/router"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// ErrPlayerNotConnected is returned by Hub.SendFrame when no live socket is
// registered for the given player.
var ErrPlayerNotConnected = errors.New("wsnet: player not connected")

// ErrSendBufferFull is returned when a client's outbound buffer is full; the
// client is disconnected as a consequence (it is considered too slow).
var ErrSendBufferFull = errors.New("wsnet: client send buffer full")

// Hub owns the set of live connections and routes between them and the
// Message Router. It is the concrete gorc.FrameSink this repo wires in.
type Hub struct {
	router *router.Router

	mu       sync.RWMutex
	clients  map[*Client]bool
	byPlayer map[gorc.PlayerID]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// Client is one player's live WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	player gorc.PlayerID
}

// NewHub builds a Hub that routes inbound frames through r.
func NewHub(r *router.Router) *Hub {
	return &Hub{
		router:     r,
		clients:    make(map[*Client]bool),
		byPlayer:   make(map[gorc.PlayerID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run drives registration/unregistration until ctx is canceled or Stop is
// called. It must run in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.byPlayer[c.player] = c
			h.mu.Unlock()
			logger.Net().Info().Str("player", c.player.String()).Int("total", h.ClientCount()).Msg("player connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				if h.byPlayer[c.player] == c {
					delete(h.byPlayer, c.player)
				}
				close(c.send)
			}
			h.mu.Unlock()
			logger.Net().Info().Str("player", c.player.String()).Msg("player disconnected")
		}
	}
}

// Stop terminates Run.
func (h *Hub) Stop() { close(h.done) }

// ClientCount returns the number of currently connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendFrame implements gorc.FrameSink: it queues frame on the named
// player's connection, disconnecting that player if its buffer is already
// full rather than blocking the scheduler tick.
func (h *Hub) SendFrame(player gorc.PlayerID, frame []byte) error {
	h.mu.RLock()
	c, ok := h.byPlayer[player]
	h.mu.RUnlock()
	if !ok {
		return ErrPlayerNotConnected
	}
	return c.enqueue(frame)
}

// enqueue is the common non-blocking send used by both SendFrame and
// Client.Send (the router.Sender path): a full buffer marks the client
// slow and disconnects it rather than stalling the caller.
func (c *Client) enqueue(raw []byte) error {
	select {
	case c.send <- raw:
		return nil
	default:
		c.hub.unregister <- c
		return ErrSendBufferFull
	}
}

// Send implements router.Sender: the router uses this to deliver a
// synthetic client_event/error notification back to the connection that
// triggered a rejection.
func (c *Client) Send(raw []byte) error { return c.enqueue(raw) }

// ServeClient registers conn under player and starts its read/write pumps.
// It returns once the connection closes.
func (h *Hub) ServeClient(ctx context.Context, conn *websocket.Conn, player gorc.PlayerID) {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), player: player}
	h.register <- c

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump(ctx)
	<-done
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Net().Warn().Err(err).Str("player", c.player.String()).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.hub.router.Route(ctx, message, c); err != nil {
			logger.Net().Debug().Err(err).Str("player", c.player.String()).Msg("inbound envelope rejected")
		}
	}
}

var _ gorc.FrameSink = (*Hub)(nil)
var _ router.Sender = (*Client)(nil)
