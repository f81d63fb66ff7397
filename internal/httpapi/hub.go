// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/metrics"
	"github.com/veloroute/veloroute/internal/models"
	"github.com/veloroute/veloroute/internal/routeproc"
	"github.com/veloroute/veloroute/internal/syncmgr"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Websocket message types pushed to progress-stream clients.
const (
	MessageTypeSyncProgress      = "sync_progress"
	MessageTypeRouteProgress     = "route_progress"
	MessageTypeBoundsCacheUpdate = "bounds_cache_update"
	MessageTypeRouteCacheUpdate  = "route_cache_update"
)

// Message is one websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans progress and cache-update events out to websocket clients. It
// subscribes to the sync manager's and route processor's observer subjects
// so clients see the same snapshots in-process observers do.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool

	unsubscribe []func()
}

type wsClient struct {
	conn *websocket.Conn
	send chan Message
}

// NewHub creates a hub attached to the two progress sources. Cache-update
// frames carry counters, not full snapshots; clients re-fetch over the
// REST endpoints, which keeps frames small on large caches.
func NewHub(sync *syncmgr.Manager, routes *routeproc.Processor) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
	}

	h.unsubscribe = append(h.unsubscribe,
		sync.OnProgress(func(p models.SyncProgress) {
			h.Broadcast(Message{Type: MessageTypeSyncProgress, Data: p})
		}),
		routes.OnProgress(func(p models.RouteProgress) {
			h.Broadcast(Message{Type: MessageTypeRouteProgress, Data: p})
		}),
		sync.OnCacheUpdate(func(c *models.ActivityBoundsCache) {
			count := 0
			if c != nil {
				count = len(c.Activities)
			}
			h.Broadcast(Message{Type: MessageTypeBoundsCacheUpdate, Data: map[string]int{"activity_count": count}})
		}),
		routes.OnCacheUpdate(func(c *models.RouteMatchCache) {
			data := map[string]int{}
			if c != nil {
				data["group_count"] = len(c.Groups)
				data["match_count"] = len(c.Matches)
				data["section_count"] = len(c.Sections)
			}
			h.Broadcast(Message{Type: MessageTypeRouteCacheUpdate, Data: data})
		}),
	)
	return h
}

// Broadcast queues a message to every connected client. Clients whose send
// buffer is full drop the frame; progress is a stream of snapshots, so a
// later frame supersedes a lost one.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ServeWS upgrades the request and runs the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan Message, 64)}
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("Progress stream client connected")

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) removeClient(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(total))
}

// readPump discards client frames and watches for disconnect.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.removeClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Msg("Progress stream read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Shutdown detaches the hub from its sources and closes every client.
func (h *Hub) Shutdown(ctx context.Context) {
	for _, unsub := range h.unsubscribe {
		unsub()
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		default:
			h.removeClient(c)
			_ = c.conn.Close()
		}
	}
}
