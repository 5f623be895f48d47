// Package room implements the per-room coordinator: a single-writer actor
// that owns a room's live sessions and lock table, sequences every mutation,
// and mirrors transitions to the durable history log.
package room

import (
	"time"

	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

// Conn is the coordinator's view of one agent's duplex connection.
// Send must not block: implementations enqueue the frame or report failure
// immediately. A failed send never aborts a broadcast; the broken connection
// recovers through its own close path.
type Conn interface {
	Send(frame protocol.Frame) error
	Close() error
}

// AgentSession is one live connection. Sessions are ephemeral: they are never
// persisted and every cold start begins with an empty session table.
type AgentSession struct {
	AgentID   string
	AgentName string
	JoinedAt  time.Time
	LastSeen  time.Time

	conn Conn
}

// Info returns the wire-facing description of the session.
func (s *AgentSession) Info() protocol.AgentInfo {
	return protocol.AgentInfo{
		AgentID:   s.AgentID,
		AgentName: s.AgentName,
		JoinedAt:  s.JoinedAt,
		LastSeen:  s.LastSeen,
	}
}
