// Package statestore persists per-room coordinator state across restarts.
// A snapshot carries room metadata and the current lock table; live sessions
// are never serialized and every restore starts with an empty session set.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

// Common errors for snapshot operations.
var (
	// ErrRoomNotFound is returned when no snapshot exists for a room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("state store is closed")
)

// RoomSnapshot is the durable record for one room.
type RoomSnapshot struct {
	// RoomID is the stable room identifier, assigned at creation.
	RoomID string `json:"roomId"`
	// Name is the mutable display name.
	Name string `json:"name"`
	// Description is mutable room metadata.
	Description string `json:"description"`
	// MessageCount is a monotonically increasing message counter.
	MessageCount int `json:"messageCount"`
	// CreatedAt is set once when the room is first created.
	CreatedAt time.Time `json:"createdAt"`
	// Locks holds the current lock table keyed by file path.
	Locks map[string]protocol.FileLock `json:"locks"`
}

// Store abstracts room snapshot persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save creates or replaces the snapshot for snap.RoomID.
	Save(ctx context.Context, snap *RoomSnapshot) error

	// Load retrieves the snapshot for a room.
	// Returns ErrRoomNotFound if no snapshot exists.
	Load(ctx context.Context, roomID string) (*RoomSnapshot, error)

	// Delete removes a room's snapshot. Deleting a missing room is not an error.
	Delete(ctx context.Context, roomID string) error

	// ListRooms returns the IDs of all persisted rooms.
	ListRooms(ctx context.Context) ([]string, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
