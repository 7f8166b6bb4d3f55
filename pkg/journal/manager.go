package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit bounds a single catchup response; a subscriber that
// missed more than this is told to reload via ByWorkflow/BySession
// instead of paginating catchup requests.
const catchupLimit = 200

const listenTimeout = 10 * time.Second

// CatchupEvent is one row returned by a catchup query.
type CatchupEvent struct {
	Sequence int64
	Payload  map[string]any
}

// CatchupQuerier serves events missed between a client's last known
// sequence and the moment its subscription's LISTEN became active.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceSequence int64, limit int) ([]CatchupEvent, error)
}

// ClientMessage is the wire shape of a message sent by a WebSocket
// subscriber: subscribe/unsubscribe a channel, request a catchup replay,
// or ping.
type ClientMessage struct {
	Action      string `json:"action"`
	Channel     string `json:"channel"`
	LastEventID *int64 `json:"last_event_id,omitempty"`
}

// ConnectionManager owns every live WebSocket subscriber in this
// process and the channel → subscriber-set fan-out table Broadcast
// reads from. One instance per process.
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	catchupQuerier CatchupQuerier

	listener   *NotifyListener
	listenerMu sync.RWMutex

	writeTimeout time.Duration
}

// Connection is a single subscriber's WebSocket. subscriptions is
// touched only by the goroutine running HandleConnection's read loop
// (and its deferred cleanup), so it is deliberately unlocked.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager builds a manager that resolves catchup queries
// through querier and bounds every WebSocket write to writeTimeout.
func NewConnectionManager(querier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		channels:       make(map[string]map[string]bool),
		catchupQuerier: querier,
		writeTimeout:   writeTimeout,
	}
}

// SetListener wires the NotifyListener used for dynamic LISTEN/UNLISTEN.
// Called once at startup, after both are constructed.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection drives one upgraded WebSocket connection until it
// closes. Called from the HTTP handler immediately after upgrade.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{ID: connID, Conn: conn, subscriptions: make(map[string]bool), ctx: ctx, cancel: cancel}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": connID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid journal websocket message", "connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(ctx, c, &msg)
	}
}

// HandleWorkflowConnection drives one upgraded WebSocket connection
// scoped to a single workflow: unlike HandleConnection, which waits for
// an explicit client subscribe message, it subscribes the connection to
// WorkflowChannel(workflowID) itself before replaying catchup, so a `WS
// /workflow/{id}/stream` caller starts receiving ExecutionEvent frames
// immediately. The read loop still accepts ping/catchup/unsubscribe
// messages from the client like HandleConnection's.
func (m *ConnectionManager) HandleWorkflowConnection(parentCtx context.Context, conn *websocket.Conn, workflowID string) {
	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{ID: connID, Conn: conn, subscriptions: make(map[string]bool), ctx: ctx, cancel: cancel}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	channel := WorkflowChannel(workflowID)
	if err := m.subscribe(c, channel); err != nil {
		m.sendJSON(c, map[string]string{"type": "subscription.error", "channel": channel, "message": "failed to subscribe to channel"})
	} else {
		m.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": connID})
		m.handleCatchup(ctx, c, channel, 0)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid journal websocket message", "connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(ctx, c, &msg)
	}
}

// Broadcast delivers event to every connection subscribed to channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			slog.Warn("journal websocket send failed", "connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections reports the number of live WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		if err := m.subscribe(c, msg.Channel); err != nil {
			m.sendJSON(c, map[string]string{"type": "subscription.error", "channel": msg.Channel, "message": "failed to subscribe to channel"})
			return
		}
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
		m.handleCatchup(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			m.handleCatchup(ctx, c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// subscribe registers c for channel and LISTENs if c is the first
// subscriber. LISTEN runs synchronously so the auto-catchup that
// follows is guaranteed to run with LISTEN already active, closing the
// gap where an event published between catchup and LISTEN would
// otherwise be lost.
func (m *ConnectionManager) subscribe(c *Connection, channel string) error {
	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if needsListen {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
			defer listenCancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("journal LISTEN failed", "channel", channel, "error", err)
				m.cleanupFailedChannel(c, channel)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	c.subscriptions[channel] = true
	return nil
}

// cleanupFailedChannel evicts every subscriber of channel after a
// failed LISTEN, since any concurrent subscribe() that saw the channel
// already registered would have skipped LISTEN itself and believes it
// succeeded.
func (m *ConnectionManager) cleanupFailedChannel(triggering *Connection, channel string) {
	m.channelMu.Lock()
	affectedIDs := make([]string, 0, len(m.channels[channel]))
	for connID := range m.channels[channel] {
		if connID != triggering.ID {
			affectedIDs = append(affectedIDs, connID)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	if len(affectedIDs) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(affectedIDs))
	for _, id := range affectedIDs {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		slog.Warn("removing orphaned journal subscriber after LISTEN failure", "connection_id", conn.ID, "channel", channel)
		m.sendJSON(conn, map[string]string{"type": "subscription.error", "channel": channel, "message": "channel listen failed; subscription removed"})
	}
}

// unsubscribe removes c from channel and UNLISTENs once it was the last
// subscriber, re-checking membership just before the UNLISTEN to avoid
// dropping coverage on a rapid unsubscribe/resubscribe cycle.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("journal UNLISTEN failed", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// handleCatchup replays events missed since sinceSequence to c.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, sinceSequence int64) {
	if m.catchupQuerier == nil {
		return
	}

	events, err := m.catchupQuerier.GetCatchupEvents(ctx, channel, sinceSequence, catchupLimit+1)
	if err != nil {
		slog.Error("journal catchup query failed", "channel", channel, "error", err)
		return
	}

	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	for _, evt := range events {
		evt.Payload["sequence"] = evt.Sequence
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("journal catchup send failed", "connection_id", c.ID, "error", err)
			return
		}
	}

	if hasMore {
		m.sendJSON(c, map[string]any{"type": "catchup.overflow", "channel": channel, "has_more": true})
	}
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("journal websocket marshal failed", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("journal websocket send failed", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
