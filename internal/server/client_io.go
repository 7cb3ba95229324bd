package server

import (
	"encoding/json"
	"log"
	"time"

	"fortio.org/safecast"
	"github.com/gorilla/websocket"

	apperrors "github.com/fixdeck/host/internal/errors"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// closeSend safely signals the client to shut down exactly once.
// All senders check done before sending.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// trySend queues msg for this client without blocking.
func (c *Client) trySend(msg Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		log.Printf("server: client send buffer full, dropping %s", msg.Type)
	}
}

// writePump continuously sends messages from the send channel to the WebSocket.
// It also sends periodic pings to keep the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("server: failed to marshal %s: %v", msg.Type, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("server: write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket and dispatches them by type.
// Handlers run on this goroutine, so one client's requests are processed
// in order.
func (c *Client) readPump() {
	defer func() {
		c.server.mu.Lock()
		delete(c.server.clients, c)
		c.server.mu.Unlock()

		// Stop() may have already closed done during shutdown.
		c.closeSend()

		log.Printf("server: client disconnected (%d remaining)", c.server.ClientCount())
	}()

	c.server.mu.RLock()
	maxSize := c.server.maxMessageSize
	c.server.mu.RUnlock()
	limit, err := safecast.Conv[int64](maxSize)
	if err != nil || limit <= 0 {
		limit = DefaultMaxMessageSize
	}
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Printf("server: read error: %v", err)
			}
			return
		}

		var msg struct {
			Type MessageType     `json:"type"`
			ID   string          `json:"id,omitempty"`
			Raw  json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("server: failed to parse message: %v", err)
			c.trySend(Message{
				Type: MessageTypeError,
				Payload: ResultPayload{
					ErrorCode: apperrors.CodeServerInvalidMessage,
					Error:     "invalid message format",
				},
			})
			continue
		}

		c.dispatch(msg.Type, msg.ID, msg.Raw)
	}
}

func (c *Client) dispatch(t MessageType, id string, payload json.RawMessage) {
	switch t {
	case MessageTypePatchApply, MessageTypePatchDecline, MessageTypePatchUndo:
		c.handleDecision(t, id, payload)
	case MessageTypePatchPreview:
		c.handlePreview(id, payload)
	case MessageTypeIssuesList:
		c.handleIssuesList(id, payload)
	case MessageTypeDiagnosticsRequest:
		c.handleDiagnosticsRequest(id, payload)
	case MessageTypeAnalysisRun:
		c.handleAnalysisRun(id, payload)
	default:
		log.Printf("server: unknown message type %q", t)
		c.trySend(NewErrorResultMessage(t, id,
			apperrors.CodeServerInvalidMessage, "unknown message type: "+string(t)))
	}
}

// decodePayload unmarshals raw into v. An absent payload leaves v zero.
func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
