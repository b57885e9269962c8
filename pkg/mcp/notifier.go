package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// SessionNotifier pushes notifications to a connected MCP session.
type SessionNotifier interface {
	Notify(ctx context.Context, sessionID string, payload map[string]any) error
}

// MCPNotifier implements SessionNotifier with MCP server notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier over mcpServer.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notifications/message to the session. A session that is
// gone is not an error; its watches are dropped.
func (n *MCPNotifier) Notify(_ context.Context, sessionID string, payload map[string]any) error {
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
