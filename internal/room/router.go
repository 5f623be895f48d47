package room

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentroom-dev/agentroom/internal/history"
	"github.com/agentroom-dev/agentroom/internal/tracing"
	"github.com/agentroom-dev/agentroom/pkg/observability"
	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

// dispatch routes one decoded inbound frame to its handler. Unknown types
// are a protocol error reported to the offending session only.
func (c *Coordinator) dispatch(sess *AgentSession, in *protocol.Inbound) {
	_, span := tracing.StartSpan(context.Background(), "room.dispatch",
		attribute.String("room.id", c.roomID),
		attribute.String("frame.type", in.Type),
		attribute.String("agent.id", sess.AgentID),
	)
	defer span.End()

	switch in.Type {
	case protocol.TypeChat:
		c.handleChat(sess, in)
	case protocol.TypeFileLock:
		c.handleFileLock(sess, in)
	case protocol.TypeFileUnlock:
		c.handleFileUnlock(sess, in)
	case protocol.TypeCreateThread:
		c.handleCreateThread(sess, in)
	case protocol.TypeThreadReply:
		c.handleThreadReply(sess, in)
	case protocol.TypeQuery:
		c.handleQuery(sess, in)
	case protocol.TypeHelp:
		c.send(sess, protocol.NewFrame(protocol.TypeHelpResponse, protocol.Help()))
	case protocol.TypePing:
		c.send(sess, protocol.NewFrame(protocol.TypePong, map[string]any{}))
	default:
		c.send(sess, protocol.NewErrorFrame(fmt.Sprintf("unknown message type: %s", in.Type)))
	}
}

func (c *Coordinator) handleChat(sess *AgentSession, in *protocol.Inbound) {
	if in.Content == "" {
		c.send(sess, protocol.NewErrorFrame("content is required"))
		return
	}

	c.messageCount++
	c.persistState()

	messageID := c.appendMessage(&history.MessageRecord{
		AgentID:     sess.AgentID,
		AgentName:   sess.AgentName,
		MessageType: protocol.TypeChat,
		Content:     in.Content,
		Metadata:    in.Metadata,
	})

	payload := map[string]any{
		"messageId": messageID,
		"agentId":   sess.AgentID,
		"agentName": sess.AgentName,
		"content":   in.Content,
	}
	if len(in.Metadata) > 0 {
		payload["metadata"] = in.Metadata
	}
	c.broadcast(protocol.NewFrame(protocol.TypeChat, payload), "")
}

// handleCreateThread opens a thread in the durable log. Unlike other history
// writes this one is load-bearing: without a thread id there is nothing to
// broadcast, so a store failure is reported to the requester.
func (c *Coordinator) handleCreateThread(sess *AgentSession, in *protocol.Inbound) {
	if in.Subject == "" {
		c.send(sess, protocol.NewErrorFrame("subject is required"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	threadID, err := c.log.CreateThread(ctx, c.roomID, in.Subject, sess.AgentID)
	if err != nil {
		observability.RecordHistoryWriteFailure("create_thread")
		c.send(sess, protocol.NewErrorFrame("failed to create thread"))
		return
	}

	c.appendMessage(&history.MessageRecord{
		AgentID:     sess.AgentID,
		AgentName:   sess.AgentName,
		MessageType: protocol.TypeCreateThread,
		Content:     in.Subject,
		ThreadID:    threadID,
	})

	c.broadcast(protocol.NewFrame(protocol.TypeThreadCreated, map[string]any{
		"threadId":  threadID,
		"subject":   in.Subject,
		"agentId":   sess.AgentID,
		"agentName": sess.AgentName,
	}), "")
}

func (c *Coordinator) handleThreadReply(sess *AgentSession, in *protocol.Inbound) {
	if in.ThreadID == "" {
		c.send(sess, protocol.NewErrorFrame("threadId is required"))
		return
	}
	if in.Content == "" {
		c.send(sess, protocol.NewErrorFrame("content is required"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.log.TouchThread(ctx, c.roomID, in.ThreadID); err != nil {
		if err == history.ErrThreadNotFound {
			c.send(sess, protocol.NewErrorFrame(fmt.Sprintf("thread not found: %s", in.ThreadID)))
			return
		}
		observability.RecordHistoryWriteFailure("touch_thread")
	}

	c.messageCount++
	c.persistState()

	messageID := c.appendMessage(&history.MessageRecord{
		AgentID:          sess.AgentID,
		AgentName:        sess.AgentName,
		MessageType:      protocol.TypeThreadReply,
		Content:          in.Content,
		Metadata:         in.Metadata,
		ThreadID:         in.ThreadID,
		ReplyToMessageID: in.ReplyToMessageID,
	})

	payload := map[string]any{
		"messageId": messageID,
		"threadId":  in.ThreadID,
		"agentId":   sess.AgentID,
		"agentName": sess.AgentName,
		"content":   in.Content,
	}
	if in.ReplyToMessageID != "" {
		payload["replyToMessageId"] = in.ReplyToMessageID
	}
	if len(in.Metadata) > 0 {
		payload["metadata"] = in.Metadata
	}
	c.broadcast(protocol.NewFrame(protocol.TypeThreadReply, payload), "")
}

// handleQuery serves read-only history queries. Caller errors (missing
// required filter, unknown type) are raised before the store is touched.
func (c *Coordinator) handleQuery(sess *AgentSession, in *protocol.Inbound) {
	if in.Query == nil {
		c.send(sess, protocol.NewErrorFrame("query is required"))
		return
	}

	if err := history.ValidateQuery(*in.Query); err != nil {
		c.send(sess, protocol.NewErrorFrame(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rows, err := c.log.Query(ctx, c.roomID, *in.Query)
	if err != nil {
		c.send(sess, protocol.NewErrorFrame("query failed"))
		return
	}
	if rows == nil {
		rows = []history.Row{}
	}

	c.send(sess, protocol.NewFrame(protocol.TypeQueryResponse, map[string]any{
		"queryType": in.Query.QueryType,
		"count":     len(rows),
		"results":   rows,
	}))
}
