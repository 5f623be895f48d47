package gateway

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentroom-dev/agentroom/pkg/observability"
	"github.com/agentroom-dev/agentroom/pkg/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMsgSize = 64 * 1024
)

// wsConn adapts one WebSocket to the coordinator's Conn contract. Send
// enqueues without blocking; a single writePump goroutine owns the socket's
// write side.
type wsConn struct {
	ws   *websocket.Conn
	out  chan protocol.Frame
	done chan struct{}
	once sync.Once
}

func newWSConn(ws *websocket.Conn, sendBuffer int) *wsConn {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	c := &wsConn{
		ws:   ws,
		out:  make(chan protocol.Frame, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send enqueues a frame for delivery. A full buffer means the client is not
// draining; the frame is dropped and the failure reported so the coordinator
// can count it.
func (c *wsConn) Send(frame protocol.Frame) error {
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close shuts down the write side. Safe to call from any goroutine, more
// than once.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				log.Printf("[Gateway] write failed: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// sendError bypasses the coordinator for gateway-level rejections such as
// rate limiting.
func (c *wsConn) sendError(message string) {
	if err := c.Send(protocol.NewErrorFrame(message)); err != nil {
		observability.RecordFrameDropped()
	}
}
