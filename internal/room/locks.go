package room

import (
	"fmt"
	"time"

	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/pkg/observability"
	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

// Lock release reasons carried on file_unlocked frames.
const (
	unlockReasonReleased     = "released"
	unlockReasonDisconnected = "agent disconnected"
)

// handleFileLock runs the lock request state machine. All lock types are
// fully exclusive against other agents; a repeat request by the current
// holder is reentrant and refreshes type and timestamp. There is no wait
// queue: a denied requester must retry.
func (c *Coordinator) handleFileLock(sess *AgentSession, in *protocol.Inbound) {
	if in.FilePath == "" {
		c.send(sess, protocol.NewErrorFrame("filePath is required"))
		return
	}

	lockType := in.LockType
	if lockType == "" {
		lockType = protocol.LockWrite
	}
	if !lockType.Valid() {
		c.send(sess, protocol.NewErrorFrame(fmt.Sprintf("invalid lock type: %s", lockType)))
		return
	}

	existing, held := c.locks[in.FilePath]
	if held && existing.AgentID != sess.AgentID {
		observability.RecordLockRequest("denied")
		c.send(sess, protocol.NewFrame(protocol.TypeFileLockDenied, map[string]any{
			"filePath":  in.FilePath,
			"agentId":   existing.AgentID,
			"agentName": existing.AgentName,
			"reason":    fmt.Sprintf("locked by %s", existing.AgentName),
		}))
		return
	}

	lock := protocol.FileLock{
		FilePath:  in.FilePath,
		LockType:  lockType,
		AgentID:   sess.AgentID,
		AgentName: sess.AgentName,
		Timestamp: time.Now().UTC(),
	}
	c.locks[in.FilePath] = lock
	c.persistState()

	if held {
		observability.RecordLockRequest("refreshed")
	} else {
		observability.RecordLockRequest("granted")
		observability.LockAcquired()
	}

	c.appendLockEvent(lock, history.LockStatusLocked)
	c.broadcast(protocol.NewFrame(protocol.TypeFileLocked, lock), "")
	c.send(sess, protocol.NewFrame(protocol.TypeFileLockGranted, lock))
	c.appendSystemMessage(sess, "file_lock",
		fmt.Sprintf("%s locked %s (%s)", sess.AgentName, in.FilePath, lockType))
}

// handleFileUnlock releases a lock held by the requester. Releasing an
// unheld path or another agent's lock is a policy violation: reported to the
// caller, no state change.
func (c *Coordinator) handleFileUnlock(sess *AgentSession, in *protocol.Inbound) {
	if in.FilePath == "" {
		c.send(sess, protocol.NewErrorFrame("filePath is required"))
		return
	}

	existing, held := c.locks[in.FilePath]
	if !held {
		c.send(sess, protocol.NewErrorFrame(fmt.Sprintf("no lock found for %s", in.FilePath)))
		return
	}
	if existing.AgentID != sess.AgentID {
		c.send(sess, protocol.NewErrorFrame(
			fmt.Sprintf("%s is locked by %s", in.FilePath, existing.AgentName)))
		return
	}

	delete(c.locks, in.FilePath)
	c.persistState()
	observability.LockReleased()

	c.appendLockEvent(existing, history.LockStatusReleased)
	c.broadcast(protocol.NewFrame(protocol.TypeFileUnlocked, map[string]any{
		"filePath":  existing.FilePath,
		"agentId":   existing.AgentID,
		"agentName": existing.AgentName,
		"reason":    unlockReasonReleased,
	}), "")
	c.send(sess, protocol.NewFrame(protocol.TypeFileUnlockConfirm, map[string]any{
		"filePath": existing.FilePath,
	}))
	c.appendSystemMessage(sess, "file_unlock",
		fmt.Sprintf("%s unlocked %s", sess.AgentName, existing.FilePath))
}

// releaseAllLocks force-releases every lock held by a departing session,
// with the same side effects as a normal release but tagged with the
// disconnect reason. Ownership checks are trivially satisfied. Returns the
// number of locks released; the caller persists afterwards.
func (c *Coordinator) releaseAllLocks(sess *AgentSession) int {
	released := 0
	for path, lock := range c.locks {
		if lock.AgentID != sess.AgentID {
			continue
		}
		delete(c.locks, path)
		released++
		observability.LockReleased()

		c.appendLockEvent(lock, history.LockStatusReleased)
		c.broadcast(protocol.NewFrame(protocol.TypeFileUnlocked, map[string]any{
			"filePath":  lock.FilePath,
			"agentId":   lock.AgentID,
			"agentName": lock.AgentName,
			"reason":    unlockReasonDisconnected,
		}), "")
		c.appendSystemMessage(sess, "file_unlock",
			fmt.Sprintf("%s's lock on %s released (disconnected)", sess.AgentName, lock.FilePath))
	}
	return released
}
