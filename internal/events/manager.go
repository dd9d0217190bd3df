// Package events fans out incident and query-progress notifications to
// WebSocket subscribers: a connection registry plus per-channel
// subscriptions, with no durable event log to catch up from.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ClientMessage is a command sent by a connected client.
type ClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Manager tracks WebSocket connections and their channel subscriptions.
// One Manager instance is shared by every engine that wants to publish
// (the Correlation Engine for incidents, the Query Engine for progress).
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool

	writeTimeout time.Duration
}

type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// New builds a Manager. writeTimeout bounds how long a single send may
// block before the manager gives up on a slow client.
func New(writeTimeout time.Duration) *Manager {
	return &Manager{
		connections:  make(map[string]*connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection owns a single WebSocket connection's lifecycle. Blocks
// until the connection closes or parentCtx is canceled.
func (m *Manager) HandleConnection(parentCtx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:            uuid.New().String(),
		conn:          ws,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": c.id})

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid websocket message", "connection_id", c.id, "error", err)
			continue
		}
		m.handle(c, &msg)
	}
}

func (m *Manager) handle(c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
	case "unsubscribe":
		if msg.Channel != "" {
			m.unsubscribe(c, msg.Channel)
		}
	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (m *Manager) subscribe(c *connection, channel string) {
	m.channelMu.Lock()
	if _, ok := m.channels[channel]; !ok {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.id] = true
	m.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (m *Manager) unsubscribe(c *connection, channel string) {
	m.channelMu.Lock()
	if subs, ok := m.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

// Publish broadcasts v, JSON-encoded, to every connection subscribed to
// channel (e.g. "incidents", or "query."+queryID for progress events).
func (m *Manager) Publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal event payload", "channel", channel, "error", err)
		return
	}

	m.channelMu.RLock()
	subs, ok := m.channels[channel]
	if !ok {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, data); err != nil {
			slog.Warn("failed to send to websocket client", "connection_id", c.id, "error", err)
		}
	}
}

// ActiveConnections reports the current connection count, for diagnostics.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *Manager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *Manager) unregister(c *connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = m.sendRaw(c, data)
}

func (m *Manager) sendRaw(c *connection, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
