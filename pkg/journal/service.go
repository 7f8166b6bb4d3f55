package journal

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Service bundles the durable Journal with the live WebSocket fan-out:
// Append persists and (via Postgres NOTIFY) feeds Manager's subscribers
// without the journal ever holding a reference to a websocket
// connection directly.
type Service struct {
	*Journal
	Manager  *ConnectionManager
	listener *NotifyListener
}

// NewService wires a Journal, its ConnectionManager, and the dedicated
// NotifyListener connection together. connString is a second connection
// to the same database the Journal's pool points at — LISTEN requires a
// connection that is never borrowed for anything else.
func NewService(db *Journal, connString string, writeTimeout time.Duration) *Service {
	manager := NewConnectionManager(db, writeTimeout)
	listener := NewNotifyListener(connString, manager)
	manager.SetListener(listener)
	return &Service{Journal: db, Manager: manager, listener: listener}
}

// Start begins the NOTIFY receive loop. Call once at process startup.
func (s *Service) Start(ctx context.Context) error {
	return s.listener.Start(ctx)
}

// Stop drains the receive loop and closes the dedicated LISTEN
// connection. Call once at process shutdown.
func (s *Service) Stop(ctx context.Context) {
	s.listener.Stop(ctx)
}

// ServeWS upgrades an HTTP request to a WebSocket and blocks for the
// life of the connection, streaming subscribed channels to the client.
// Wired by pkg/api's GET /events/stream handler.
func (s *Service) ServeWS(ctx context.Context, conn *websocket.Conn) {
	s.Manager.HandleConnection(ctx, conn)
}

// ServeWorkflowWS upgrades an HTTP request to a WebSocket pre-subscribed
// to workflowID's channel and blocks for the life of the connection.
// Wired by pkg/api's WS /workflow/{id}/stream handler.
func (s *Service) ServeWorkflowWS(ctx context.Context, conn *websocket.Conn, workflowID string) {
	s.Manager.HandleWorkflowConnection(ctx, conn, workflowID)
}
