// Package transport maintains the websocket link to the assistant
// backend. It reports connection signals to the degradation manager,
// queues outbound messages while offline, and drains the queue once the
// link recovers.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/marlowe/internal/degradation"
	"github.com/longregen/marlowe/shared/backoff"
	"github.com/longregen/marlowe/shared/id"
	"github.com/longregen/marlowe/shared/protocol"
)

const writeTimeout = 10 * time.Second

// Handlers receive decoded server events. Nil fields are skipped.
type Handlers struct {
	OnStartAnswer   func(ctx context.Context, convID string, msg *protocol.StartAnswer)
	OnAssistantMsg  func(ctx context.Context, convID string, msg *protocol.AssistantMessage)
	OnToolUseResult func(ctx context.Context, convID string, msg *protocol.ToolUseResult)
	OnMemoryTrace   func(ctx context.Context, convID string, msg *protocol.MemoryTrace)
	OnTitleUpdate   func(ctx context.Context, convID string, msg *protocol.TitleUpdate)
	OnStatusUpdate  func(ctx context.Context, msg *protocol.StatusUpdate)
	OnQueueAck      func(ctx context.Context, msg *protocol.QueueAck)
	OnError         func(ctx context.Context, convID string, msg *protocol.Error)
}

// Client is the reconnecting websocket link.
type Client struct {
	url      string
	token    string
	degr     *degradation.Manager
	handlers Handlers

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex
}

func NewClient(url, token string, degr *degradation.Manager, handlers Handlers) *Client {
	return &Client{
		url:      url,
		token:    token,
		degr:     degr,
		handlers: handlers,
	}
}

// Connect dials the backend and starts the read loop. On success the
// degradation manager is told the link is up and the offline queue is
// drained in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			slog.Error("ws: connection failed", "status", resp.StatusCode, "error", err)
		} else {
			slog.Error("ws: connection failed", "error", err)
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.degr.ReportConnected()
	slog.Info("ws: connected to backend", "url", c.url)

	go c.readMessages(ctx)
	go c.drainQueue(ctx)

	return nil
}

// Disconnect closes the link without reporting it as a failure.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	slog.Info("ws: disconnected from backend")
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Reconnect tears down the link and re-dials with backoff.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()

	return backoff.RetryWithCallback(ctx, backoff.Quick, func(ctx context.Context, attempt int) error {
		return c.Connect(ctx)
	}, func(attempt int, err error, delay time.Duration) {
		slog.Warn("ws: reconnect attempt failed", "attempt", attempt, "error", err, "retry_in", delay)
	})
}

// SendUserMessage delivers a user message, or queues it when the link is
// down. The returned queue ID is empty for direct sends.
func (c *Client) SendUserMessage(convID, userID, content string, priority degradation.Priority) (queueID string, err error) {
	state := c.degr.State()
	if !state.IsAvailable {
		if !state.CanSend {
			return "", fmt.Errorf("sending unavailable: %s", state.Reason)
		}
		queueID, err = c.degr.Queue().Enqueue(convID, userID, content, priority)
		if err != nil {
			return "", fmt.Errorf("queue message: %w", err)
		}
		slog.Info("message queued for later delivery",
			"queue_id", queueID, "conversation_id", convID)
		return queueID, nil
	}

	start := time.Now()
	err = c.writeUserMessage(convID, userID, content)
	c.degr.ReportRequest(time.Since(start), err)
	if err != nil {
		return "", err
	}
	return "", nil
}

func (c *Client) writeUserMessage(convID, userID, content string) error {
	env := protocol.NewEnvelope(convID, protocol.TypeUserMessage, protocol.UserMessage{
		ID:             id.NewMessage(),
		ConversationID: convID,
		Content:        content,
	})
	env.UserID = userID
	return c.writeEnvelope(env)
}

func (c *Client) writeEnvelope(env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	return err
}

// drainQueue delivers queued messages after a reconnect, oldest-highest
// priority first. A message that keeps failing is reported as a permanent
// failure through OnQueueAck rather than retried forever.
func (c *Client) drainQueue(ctx context.Context) {
	queue := c.degr.Queue()
	for {
		if ctx.Err() != nil || !c.IsConnected() {
			return
		}

		msg := queue.Dequeue()
		if msg == nil {
			return
		}

		err := c.writeUserMessage(msg.ConversationID, msg.UserID, msg.Content)
		if err == nil {
			slog.InfoContext(ctx, "queued message delivered", "queue_id", msg.ID)
			if c.handlers.OnQueueAck != nil {
				c.handlers.OnQueueAck(ctx, &protocol.QueueAck{
					MessageID: msg.ID,
					Delivered: true,
					Attempts:  msg.Attempts + 1,
				})
			}
			continue
		}

		if queue.Requeue(msg) {
			slog.WarnContext(ctx, "queued message delivery failed, will retry",
				"queue_id", msg.ID, "attempts", msg.Attempts, "error", err)
			return // link is likely bad again; stop draining
		}

		slog.ErrorContext(ctx, "queued message permanently failed",
			"queue_id", msg.ID, "attempts", msg.Attempts, "error", err)
		if c.handlers.OnQueueAck != nil {
			c.handlers.OnQueueAck(ctx, &protocol.QueueAck{
				MessageID: msg.ID,
				Delivered: false,
				Attempts:  msg.Attempts,
				Error:     err.Error(),
			})
		}
	}
}

func (c *Client) readMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws: read error", "error", err)
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			c.degr.ReportDisconnected(err)
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			slog.Error("ws: decode error", "error", err)
			continue
		}

		c.handleMessage(ctx, env)
	}
}

func (c *Client) handleMessage(ctx context.Context, env *protocol.Envelope) {
	slog.Debug("ws: received message", "type", env.Type, "conversation_id", env.ConversationID)

	switch env.Type {
	case protocol.TypeStartAnswer:
		dispatch(ctx, env, c.handlers.OnStartAnswer)
	case protocol.TypeAssistantMsg:
		dispatch(ctx, env, c.handlers.OnAssistantMsg)
	case protocol.TypeToolUseResult:
		dispatch(ctx, env, c.handlers.OnToolUseResult)
	case protocol.TypeMemoryTrace:
		dispatch(ctx, env, c.handlers.OnMemoryTrace)
	case protocol.TypeTitleUpdate:
		dispatch(ctx, env, c.handlers.OnTitleUpdate)
	case protocol.TypeStatusUpdate:
		msg, err := protocol.DecodeBody[protocol.StatusUpdate](env)
		if err != nil {
			slog.Error("ws: decode status update error", "error", err)
			return
		}
		if c.handlers.OnStatusUpdate != nil {
			c.handlers.OnStatusUpdate(ctx, msg)
		}
	case protocol.TypeQueueAck:
		msg, err := protocol.DecodeBody[protocol.QueueAck](env)
		if err != nil {
			slog.Error("ws: decode queue ack error", "error", err)
			return
		}
		if c.handlers.OnQueueAck != nil {
			c.handlers.OnQueueAck(ctx, msg)
		}
	case protocol.TypeError:
		dispatch(ctx, env, c.handlers.OnError)
	}
}

func dispatch[T any](ctx context.Context, env *protocol.Envelope, handler func(context.Context, string, *T)) {
	if handler == nil {
		return
	}
	msg, err := protocol.DecodeBody[T](env)
	if err != nil {
		slog.Error("ws: decode body error", "type", env.Type, "error", err)
		return
	}
	handler(ctx, env.ConversationID, msg)
}
