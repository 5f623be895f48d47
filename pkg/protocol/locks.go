package protocol

import "time"

// LockType labels the intent behind a file lock. All three types are fully
// exclusive against other agents; the type is descriptive metadata, not a
// sharing mode.
type LockType string

const (
	LockRead   LockType = "read"
	LockWrite  LockType = "write"
	LockCreate LockType = "create"
)

// Valid reports whether the lock type is one of the supported values.
func (t LockType) Valid() bool {
	switch t {
	case LockRead, LockWrite, LockCreate:
		return true
	}
	return false
}

// FileLock is an exclusivity claim on a file path, held by exactly one agent
// until released or until the holder disconnects.
type FileLock struct {
	// FilePath is the locked path and the lock's identity.
	FilePath string `json:"filePath"`
	// LockType is the declared intent (read, write, create).
	LockType LockType `json:"lockType"`
	// AgentID identifies the current holder.
	AgentID string `json:"agentId"`
	// AgentName is the holder's display name, denormalized for display.
	AgentName string `json:"agentName"`
	// Timestamp is the grant or most recent refresh time.
	Timestamp time.Time `json:"timestamp"`
}

// AgentInfo describes a live session, as exposed in welcome frames and the
// room info endpoint.
type AgentInfo struct {
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	JoinedAt  time.Time `json:"joinedAt"`
	LastSeen  time.Time `json:"lastSeen"`
}
