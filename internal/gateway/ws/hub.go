// Package ws streams task lifecycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/swarm/internal/events"
)

const sendBuffer = 256

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.RWMutex
	filter map[string]struct{} // task ids; empty means all
}

func (c *Client) wants(taskID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	_, ok := c.filter[taskID]
	return ok
}

func (c *Client) setFilter(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c.filter[id] = struct{}{}
	}
}

// Hub bridges the event bus to WebSocket clients.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	unsubscribe func()
}

// NewHub creates a hub fed by every event published on bus.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{clients: make(map[*Client]struct{})}
	h.unsubscribe = bus.Subscribe(h.forward)
	return h
}

func (h *Hub) forward(e events.Event) {
	frame, err := NewEventFrame(string(e.Type), e.TaskID, e)
	if err != nil {
		slog.Error("marshal event frame", "error", err)
		return
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		slog.Error("marshal frame", "error", err)
		return
	}
	h.broadcast(e.TaskID, data)
}

func (h *Hub) broadcast(taskID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(taskID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Debug("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Debug("ws client disconnected", "clients", len(h.clients))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the client leaves.
// The task_id query parameter preselects a single task.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	if id := r.URL.Query().Get("task_id"); id != "" {
		client.setFilter([]string{id})
	}
	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Debug("ws unmarshal frame", "error", err)
			continue
		}
		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(frame)
	}
}

func (c *Client) handleRequest(frame Frame) {
	switch Method(frame.Method) {
	case MethodSubscribe:
		var params SubscribeParams
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.reply(frame.ID, false, nil, "invalid params")
				return
			}
		}
		c.setFilter(params.TaskIDs)
		c.reply(frame.ID, true, map[string]int{"tasks": len(params.TaskIDs)}, "")

	case MethodPing:
		c.reply(frame.ID, true, map[string]string{"status": "pong"}, "")

	default:
		c.reply(frame.ID, false, nil, "unknown method: "+frame.Method)
	}
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// reply queues a response; it is dropped when the client is too slow.
func (c *Client) reply(id string, ok bool, payload any, errMsg string) {
	f, err := NewResponseFrame(id, ok, payload, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, live := c.hub.clients[c]; !live {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close detaches from the bus and closes all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
		close(c.send)
	}
}
