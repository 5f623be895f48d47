package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/pkg/observability"
	"github.com/agentroom-dev/agentroom/pkg/protocol"
	"github.com/agentroom-dev/agentroom/pkg/statestore"
)

// ErrCoordinatorClosed is returned when operating on a closed coordinator.
var ErrCoordinatorClosed = errors.New("room coordinator is closed")

const storeTimeout = 5 * time.Second

// Options tunes a coordinator.
type Options struct {
	// CommandBuffer is the inbound command queue size (default 64).
	CommandBuffer int
}

// Coordinator is the single point of serialization for one room. Every
// operation runs as a command on the owning goroutine, so sessions and locks
// never see interleaved mutation. The goroutine's first act is the
// initialization barrier: durable state is loaded before any queued command
// is serviced.
type Coordinator struct {
	roomID string
	states statestore.Store
	log    history.Store

	cmds chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once

	// Actor-owned state. Only the run goroutine touches these.
	name         string
	description  string
	createdAt    time.Time
	messageCount int
	sessions     map[string]*AgentSession
	locks        map[string]protocol.FileLock
}

// New creates a coordinator for roomID and starts its owning goroutine.
func New(roomID string, states statestore.Store, logStore history.Store, opts Options) *Coordinator {
	buffer := opts.CommandBuffer
	if buffer <= 0 {
		buffer = 64
	}

	c := &Coordinator{
		roomID:   roomID,
		states:   states,
		log:      logStore,
		cmds:     make(chan func(), buffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		sessions: make(map[string]*AgentSession),
		locks:    make(map[string]protocol.FileLock),
	}

	go c.run()
	return c
}

// RoomID returns the room identifier.
func (c *Coordinator) RoomID() string {
	return c.roomID
}

func (c *Coordinator) run() {
	defer close(c.done)

	c.loadState()

	for {
		select {
		case cmd := <-c.cmds:
			cmd()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

// loadState restores durable room state before the first command is
// serviced. A missing snapshot means a brand-new room; a failing store is
// logged and the room starts from defaults rather than refusing service.
func (c *Coordinator) loadState() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snap, err := c.states.Load(ctx, c.roomID)
	switch {
	case err == nil:
		c.name = snap.Name
		c.description = snap.Description
		c.messageCount = snap.MessageCount
		c.createdAt = snap.CreatedAt
		for path, lock := range snap.Locks {
			c.locks[path] = lock
		}
		observability.LocksRestored(len(c.locks))
		log.Printf("[Room %s] restored state: %d locks, %d messages", c.roomID, len(c.locks), c.messageCount)

	case errors.Is(err, statestore.ErrRoomNotFound):
		c.initDefaults()
		c.persistState()
		log.Printf("[Room %s] created", c.roomID)

	default:
		log.Printf("[Room %s] state load failed, starting fresh: %v", c.roomID, err)
		c.initDefaults()
	}

	// Sessions are never restored.
	c.sessions = make(map[string]*AgentSession)
}

func (c *Coordinator) initDefaults() {
	c.name = "Room " + c.roomID
	c.description = "Multi-agent collaboration room"
	c.createdAt = time.Now().UTC()
}

// do schedules cmd on the owning goroutine without waiting for it.
func (c *Coordinator) do(cmd func()) bool {
	select {
	case c.cmds <- cmd:
		return true
	case <-c.quit:
		return false
	}
}

// doWait schedules cmd and blocks until it has run.
func (c *Coordinator) doWait(ctx context.Context, cmd func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		cmd()
		close(ran)
	}

	select {
	case c.cmds <- wrapped:
	case <-c.quit:
		return ErrCoordinatorClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrCoordinatorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a new agent session and returns the identity it was
// granted. An empty agentID is generated; an empty agentName defaults to the
// agentID. The new session receives a private welcome frame; everyone else
// sees agent_joined.
func (c *Coordinator) Connect(ctx context.Context, agentID, agentName string, conn Conn) (protocol.AgentInfo, error) {
	var info protocol.AgentInfo

	err := c.doWait(ctx, func() {
		if agentID == "" {
			agentID = uuid.New().String()
		}
		if agentName == "" {
			agentName = agentID
		}

		// A reconnect reusing a live agent id: the newcomer wins and the
		// stale socket is closed. Its close handler is ignored later because
		// the registered conn no longer matches.
		if old, ok := c.sessions[agentID]; ok {
			_ = old.conn.Close()
		}

		now := time.Now().UTC()
		sess := &AgentSession{
			AgentID:   agentID,
			AgentName: agentName,
			JoinedAt:  now,
			LastSeen:  now,
			conn:      conn,
		}
		c.sessions[agentID] = sess
		info = sess.Info()

		c.send(sess, protocol.NewFrame(protocol.TypeWelcome, c.welcomePayload(sess)))
		c.broadcast(protocol.NewFrame(protocol.TypeAgentJoined, map[string]any{
			"agentId":   agentID,
			"agentName": agentName,
		}), agentID)

		c.appendSystemMessage(sess, "agent_joined", fmt.Sprintf("%s joined the room", agentName))
		c.upsertPresence(agentID, agentName, history.PresenceOnline)

		log.Printf("[Room %s] agent %s (%s) connected, %d online", c.roomID, agentName, agentID, len(c.sessions))
	})

	return info, err
}

// welcomePayload is built for one freshly connected session: room metadata,
// everyone already here, the live lock table, and the help catalog.
func (c *Coordinator) welcomePayload(sess *AgentSession) map[string]any {
	others := make([]protocol.AgentInfo, 0, len(c.sessions)-1)
	for id, other := range c.sessions {
		if id == sess.AgentID {
			continue
		}
		others = append(others, other.Info())
	}

	return map[string]any{
		"roomId":       c.roomID,
		"name":         c.name,
		"description":  c.description,
		"agentId":      sess.AgentID,
		"agentName":    sess.AgentName,
		"messageCount": c.messageCount,
		"agents":       others,
		"locks":        c.lockList(),
		"help":         protocol.Help(),
	}
}

// Disconnect removes an agent session and releases everything it held. The
// call is idempotent: a second invocation (close firing after error, or a
// stale socket whose agent id was taken over) is a no-op. Passing a non-nil
// conn restricts removal to that exact connection.
func (c *Coordinator) Disconnect(agentID string, conn Conn) {
	c.do(func() {
		sess, ok := c.sessions[agentID]
		if !ok {
			return
		}
		if conn != nil && sess.conn != conn {
			return
		}

		delete(c.sessions, agentID)
		released := c.releaseAllLocks(sess)
		if released > 0 {
			log.Printf("[Room %s] released %d locks held by %s", c.roomID, released, sess.AgentName)
		}
		c.persistState()

		c.broadcast(protocol.NewFrame(protocol.TypeAgentLeft, map[string]any{
			"agentId":   sess.AgentID,
			"agentName": sess.AgentName,
		}), "")

		c.appendSystemMessage(sess, "agent_left", fmt.Sprintf("%s left the room", sess.AgentName))
		c.upsertPresence(sess.AgentID, sess.AgentName, history.PresenceOffline)

		log.Printf("[Room %s] agent %s (%s) disconnected, %d online", c.roomID, sess.AgentName, sess.AgentID, len(c.sessions))
	})
}

// HandleInbound processes one raw frame from a connected agent.
func (c *Coordinator) HandleInbound(agentID string, raw []byte) {
	c.do(func() {
		sess, ok := c.sessions[agentID]
		if !ok {
			return
		}
		sess.LastSeen = time.Now().UTC()

		in, err := protocol.DecodeInbound(raw)
		if err != nil {
			c.send(sess, protocol.NewErrorFrame("invalid message format"))
			return
		}

		observability.RecordFrame("in", in.Type)
		c.dispatch(sess, in)
	})
}

// Snapshot is the live view served by the room info endpoint.
type Snapshot struct {
	RoomID       string               `json:"roomId"`
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	CreatedAt    time.Time            `json:"createdAt"`
	MessageCount int                  `json:"messageCount"`
	Agents       []protocol.AgentInfo `json:"agents"`
	Locks        []protocol.FileLock  `json:"locks"`
}

// Info returns a point-in-time snapshot of the room.
func (c *Coordinator) Info(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.doWait(ctx, func() {
		agents := make([]protocol.AgentInfo, 0, len(c.sessions))
		for _, sess := range c.sessions {
			agents = append(agents, sess.Info())
		}
		snap = Snapshot{
			RoomID:       c.roomID,
			Name:         c.name,
			Description:  c.description,
			CreatedAt:    c.createdAt,
			MessageCount: c.messageCount,
			Agents:       agents,
			Locks:        c.lockList(),
		}
	})
	return snap, err
}

// ActiveLocks returns the in-memory lock table.
func (c *Coordinator) ActiveLocks(ctx context.Context) ([]protocol.FileLock, error) {
	var locks []protocol.FileLock
	err := c.doWait(ctx, func() {
		locks = c.lockList()
	})
	return locks, err
}

// Summary reports aggregate counts for the room summary job.
func (c *Coordinator) Summary(ctx context.Context) (history.RoomSummary, error) {
	var sum history.RoomSummary
	err := c.doWait(ctx, func() {
		sum = history.RoomSummary{
			RoomID:       c.roomID,
			Name:         c.name,
			Description:  c.description,
			MessageCount: c.messageCount,
			ActiveAgents: len(c.sessions),
			ActiveLocks:  len(c.locks),
		}
	})
	return sum, err
}

// Close stops the coordinator: the final snapshot is saved and every live
// connection is closed. Safe to call more than once.
func (c *Coordinator) Close(ctx context.Context) error {
	c.once.Do(func() {
		close(c.quit)
	})

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown runs on the owning goroutine as its last act.
func (c *Coordinator) shutdown() {
	c.persistState()
	for _, sess := range c.sessions {
		c.upsertPresence(sess.AgentID, sess.AgentName, history.PresenceOffline)
		_ = sess.conn.Close()
	}
	c.sessions = make(map[string]*AgentSession)
	log.Printf("[Room %s] coordinator stopped", c.roomID)
}

// send delivers a frame to one session. Send failures are per-recipient and
// never fatal; the broken connection heals through its own close handler.
func (c *Coordinator) send(sess *AgentSession, frame protocol.Frame) {
	if err := sess.conn.Send(frame); err != nil {
		observability.RecordFrameDropped()
		log.Printf("[Room %s] send to %s failed: %v", c.roomID, sess.AgentID, err)
		return
	}
	observability.RecordFrame("out", frame.Type)
}

// broadcast delivers a frame to every session except exceptID (empty string
// excludes nobody).
func (c *Coordinator) broadcast(frame protocol.Frame, exceptID string) {
	for id, sess := range c.sessions {
		if id == exceptID {
			continue
		}
		c.send(sess, frame)
	}
}

// persistState saves the durable snapshot: metadata and locks, never
// sessions. Failures leave the room operating on in-memory truth.
func (c *Coordinator) persistState() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snap := &statestore.RoomSnapshot{
		RoomID:       c.roomID,
		Name:         c.name,
		Description:  c.description,
		MessageCount: c.messageCount,
		CreatedAt:    c.createdAt,
		Locks:        make(map[string]protocol.FileLock, len(c.locks)),
	}
	for path, lock := range c.locks {
		snap.Locks[path] = lock
	}

	if err := c.states.Save(ctx, snap); err != nil {
		log.Printf("[Room %s] state save failed: %v", c.roomID, err)
	}
}

func (c *Coordinator) lockList() []protocol.FileLock {
	locks := make([]protocol.FileLock, 0, len(c.locks))
	for _, lock := range c.locks {
		locks = append(locks, lock)
	}
	return locks
}

// Best-effort history writes. A failed write is logged and counted, never
// surfaced to the agent and never rolled back against in-memory state.

func (c *Coordinator) appendMessage(rec *history.MessageRecord) string {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rec.RoomID = c.roomID
	id, err := c.log.AppendMessage(ctx, rec)
	if err != nil {
		observability.RecordHistoryWriteFailure("append_message")
		log.Printf("[Room %s] history append failed: %v", c.roomID, err)
		return ""
	}
	return id
}

func (c *Coordinator) appendSystemMessage(sess *AgentSession, messageType, content string) {
	c.appendMessage(&history.MessageRecord{
		AgentID:     sess.AgentID,
		AgentName:   sess.AgentName,
		MessageType: messageType,
		Content:     content,
	})
}

func (c *Coordinator) appendLockEvent(lock protocol.FileLock, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.log.AppendLockEvent(ctx, c.roomID, lock, status); err != nil {
		observability.RecordHistoryWriteFailure("append_lock_event")
		log.Printf("[Room %s] lock event append failed: %v", c.roomID, err)
	}
}

func (c *Coordinator) upsertPresence(agentID, agentName, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.log.UpsertPresence(ctx, c.roomID, agentID, agentName, status); err != nil {
		observability.RecordHistoryWriteFailure("upsert_presence")
		log.Printf("[Room %s] presence upsert failed: %v", c.roomID, err)
	}
}
