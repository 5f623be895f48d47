// Package protocol defines the wire format spoken between agents and a room:
// inbound frames carry a type discriminator with type-specific top-level fields,
// outbound frames share a uniform {type, data, timestamp} envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// Inbound frame types.
const (
	TypeChat         = "chat"
	TypeFileLock     = "file_lock"
	TypeFileUnlock   = "file_unlock"
	TypeCreateThread = "create_thread"
	TypeThreadReply  = "thread_reply"
	TypeQuery        = "query"
	TypeHelp         = "help"
	TypePing         = "ping"
)

// Outbound frame types.
const (
	TypeWelcome           = "welcome"
	TypeAgentJoined       = "agent_joined"
	TypeAgentLeft         = "agent_left"
	TypeFileLocked        = "file_locked"
	TypeFileLockGranted   = "file_lock_granted"
	TypeFileLockDenied    = "file_lock_denied"
	TypeFileUnlocked      = "file_unlocked"
	TypeFileUnlockConfirm = "file_unlock_confirmed"
	TypeThreadCreated     = "thread_created"
	TypeQueryResponse     = "query_response"
	TypeHelpResponse      = "help_response"
	TypeError             = "error"
	TypePong              = "pong"
)

// ErrInvalidFrame is returned when an inbound payload cannot be decoded.
var ErrInvalidFrame = errors.New("invalid message format")

// ErrUnknownType is returned when an inbound frame carries no recognized type.
var ErrUnknownType = errors.New("unknown message type")

// Frame is the uniform outbound envelope.
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewFrame builds an outbound frame stamped with the current UTC time.
func NewFrame(frameType string, data any) Frame {
	return Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Inbound is the superset of fields an agent may send. Which fields are
// meaningful depends on Type; unused fields are left at their zero values.
type Inbound struct {
	Type string `json:"type"`

	// chat / thread_reply
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// file_lock / file_unlock
	FilePath string   `json:"filePath,omitempty"`
	LockType LockType `json:"lockType,omitempty"`

	// create_thread / thread_reply
	Subject          string `json:"subject,omitempty"`
	ThreadID         string `json:"threadId,omitempty"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`

	// query
	Query *QueryRequest `json:"query,omitempty"`
}

// DecodeInbound parses a raw inbound payload. A payload that is not a JSON
// object, or that carries no type, yields ErrInvalidFrame.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, ErrInvalidFrame
	}
	if in.Type == "" {
		return nil, ErrInvalidFrame
	}
	return &in, nil
}

// QueryRequest selects a read-only view of the durable history log.
type QueryRequest struct {
	QueryType string       `json:"queryType"`
	Filters   QueryFilters `json:"filters"`
}

// QueryFilters narrows a query. Limit defaults to 100 and Offset to 0 when
// left unset.
type QueryFilters struct {
	AgentID  string `json:"agentId,omitempty"`
	FilePath string `json:"filePath,omitempty"`
	Since    string `json:"since,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Supported query types.
const (
	QueryHistory     = "history"
	QueryLocks       = "locks"
	QueryAgents      = "agents"
	QueryFileHistory = "file_history"
	QueryRooms       = "rooms"
)

// ErrorPayload is the data carried by an outbound error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewErrorFrame builds an outbound error frame with the given message.
func NewErrorFrame(message string) Frame {
	return NewFrame(TypeError, ErrorPayload{Message: message})
}
