// Package history is the write path into the durable relational log
// (messages, lock events, presence, room summaries) and the read path for
// historical queries. Every write is best-effort from the coordinator's point
// of view: a failed append never rolls back in-memory room state.
package history

import (
	"context"
	"errors"

	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

// Common errors for history operations.
var (
	// ErrMissingFilter is returned when a query type requires a filter that
	// was not supplied. Raised before any store access.
	ErrMissingFilter = errors.New("file_history query requires a filePath filter")
	// ErrUnknownQuery is returned for unrecognized query types.
	ErrUnknownQuery = errors.New("unknown query type")
	// ErrThreadNotFound is returned when touching a thread that doesn't exist.
	ErrThreadNotFound = errors.New("thread not found")
)

// Lock event statuses.
const (
	LockStatusLocked   = "locked"
	LockStatusReleased = "released"
)

// Presence statuses.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// MessageRecord is one durable chat/system message.
type MessageRecord struct {
	RoomID           string
	AgentID          string
	AgentName        string
	MessageType      string
	Content          string
	Metadata         map[string]any
	ThreadID         string
	ReplyToMessageID string
}

// RoomSummary aggregates per-room counts for the rooms query.
type RoomSummary struct {
	RoomID       string
	Name         string
	Description  string
	MessageCount int
	ActiveAgents int
	ActiveLocks  int
}

// Row is one query result row, shaped for direct JSON encoding.
type Row map[string]any

// DefaultQueryLimit applies when a query supplies no limit.
const DefaultQueryLimit = 100

// ValidateQuery checks a query request for caller errors. The coordinator
// calls this before handing the query to the store, so a missing required
// filter never reaches the database.
func ValidateQuery(req protocol.QueryRequest) error {
	switch req.QueryType {
	case protocol.QueryHistory, protocol.QueryLocks, protocol.QueryAgents, protocol.QueryRooms:
		return nil
	case protocol.QueryFileHistory:
		if req.Filters.FilePath == "" {
			return ErrMissingFilter
		}
		return nil
	default:
		return ErrUnknownQuery
	}
}

// Store abstracts the durable log. Implementations must be safe for
// concurrent use; writes for a single room may be issued concurrently and
// carry no cross-row ordering guarantee.
type Store interface {
	// AppendMessage durably records a message and returns its generated ID.
	AppendMessage(ctx context.Context, rec *MessageRecord) (string, error)

	// AppendLockEvent records a lock transition ("locked" or "released").
	AppendLockEvent(ctx context.Context, roomID string, lock protocol.FileLock, status string) error

	// UpsertPresence records an agent's current presence for a room.
	UpsertPresence(ctx context.Context, roomID, agentID, agentName, status string) error

	// UpsertRoomSummary records aggregate counts for a room.
	UpsertRoomSummary(ctx context.Context, sum RoomSummary) error

	// CreateThread opens a discussion thread and returns its ID.
	CreateThread(ctx context.Context, roomID, subject, createdBy string) (string, error)

	// TouchThread bumps a thread's updated time.
	// Returns ErrThreadNotFound for unknown threads.
	TouchThread(ctx context.Context, roomID, threadID string) error

	// Query runs a read-only historical query scoped to roomID (the rooms
	// query type ignores the scope and reports across all rooms).
	Query(ctx context.Context, roomID string, req protocol.QueryRequest) ([]Row, error)

	// Close releases any resources held by the store.
	Close() error
}
