package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/marlowe/internal/degradation"
	"github.com/longregen/marlowe/shared/id"
	"github.com/longregen/marlowe/shared/protocol"
)

// Session is one connected client on the server side. Writes are
// serialized; a write failure marks the session closed but is otherwise
// the caller's problem to log.
type Session struct {
	ID     string
	UserID string

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewSession(conn *websocket.Conn, userID string) *Session {
	return &Session{
		ID:     id.NewSession(),
		UserID: userID,
		conn:   conn,
		done:   make(chan struct{}),
	}
}

// Send encodes and writes an envelope to the peer.
func (s *Session) Send(env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.conn.Close()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the session ends. Turn contexts are bound to it so
// a severed client cancels what remains of its turn.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ReadEnvelope blocks until the next envelope arrives from the peer.
func (s *Session) ReadEnvelope() (*protocol.Envelope, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeEnvelope(data)
}

// SendStatus pushes the current degradation state to the peer. Wired to
// Manager.Subscribe so clients see mode changes live.
func (s *Session) SendStatus(state degradation.State) {
	upd := protocol.StatusUpdate{
		Mode:        string(state.Mode),
		IsAvailable: state.IsAvailable,
		CanSend:     state.CanSend,
		CanReceive:  state.CanReceive,
		QueuedCount: state.QueuedCount,
		Reason:      state.Reason,
		LatencyMs:   state.LatencyMs,
		SuccessRate: state.SuccessRate,
		ErrorCount:  state.ErrorCount,
	}
	if !state.LastSuccessfulConnection.IsZero() {
		upd.LastSuccess = state.LastSuccessfulConnection.UnixMilli()
	}
	env := protocol.NewEnvelope("", protocol.TypeStatusUpdate, upd)
	if err := s.Send(env); err != nil {
		slog.Debug("ws: status push failed", "session_id", s.ID, "error", err)
	}
}

// SessionNotifier streams turn progress to one session as protocol
// envelopes. Every send is best-effort: a peer that went away must not
// fail the turn, so errors are logged at debug and swallowed.
type SessionNotifier struct {
	sess           *Session
	conversationID string
}

func NewSessionNotifier(sess *Session, conversationID string) *SessionNotifier {
	return &SessionNotifier{sess: sess, conversationID: conversationID}
}

func (n *SessionNotifier) send(ctx context.Context, msgType protocol.MessageType, body any) {
	env := protocol.NewEnvelope(n.conversationID, msgType, body)
	env.UserID = n.sess.UserID
	if err := n.sess.Send(env); err != nil {
		slog.DebugContext(ctx, "ws: event send failed",
			"session_id", n.sess.ID, "type", msgType, "error", err)
	}
}

func (n *SessionNotifier) SendStartAnswer(ctx context.Context, messageID string) {
	n.send(ctx, protocol.TypeStartAnswer, protocol.StartAnswer{
		MessageID:      messageID,
		ConversationID: n.conversationID,
	})
}

func (n *SessionNotifier) SendThinking(ctx context.Context, messageID, text string) {
	n.send(ctx, protocol.TypeThinkingSummary, protocol.ThinkingSummary{
		ID:             id.NewMessage(),
		MessageID:      messageID,
		ConversationID: n.conversationID,
		Content:        text,
	})
}

func (n *SessionNotifier) SendToolStart(ctx context.Context, toolUseID, name string, args map[string]any) {
	n.send(ctx, protocol.TypeToolUseRequest, protocol.ToolUseRequest{
		ID:             toolUseID,
		ConversationID: n.conversationID,
		ToolName:       name,
		Arguments:      args,
	})
}

func (n *SessionNotifier) SendToolComplete(ctx context.Context, toolUseID string, success bool, result any, errText string) {
	n.send(ctx, protocol.TypeToolUseResult, protocol.ToolUseResult{
		ID:             id.NewToolUse(),
		RequestID:      toolUseID,
		ConversationID: n.conversationID,
		Success:        success,
		Result:         result,
		Error:          errText,
	})
}

func (n *SessionNotifier) SendMemoryTrace(ctx context.Context, messageID, memoryID, content string, similarity float32) {
	n.send(ctx, protocol.TypeMemoryTrace, protocol.MemoryTrace{
		ID:             id.NewMemoryUse(),
		MemoryID:       memoryID,
		MessageID:      messageID,
		ConversationID: n.conversationID,
		Content:        content,
		Relevance:      similarity,
	})
}

func (n *SessionNotifier) SendComplete(ctx context.Context, messageID, content string) {
	n.send(ctx, protocol.TypeAssistantMsg, protocol.AssistantMessage{
		ID:             messageID,
		ConversationID: n.conversationID,
		Content:        content,
		Timestamp:      time.Now().UnixMilli(),
	})
}

func (n *SessionNotifier) SendError(ctx context.Context, messageID string, err error) {
	n.send(ctx, protocol.TypeError, protocol.Error{
		Code:           "turn_failed",
		Message:        err.Error(),
		MessageID:      messageID,
		ConversationID: n.conversationID,
	})
}

func (n *SessionNotifier) SendTitleUpdate(ctx context.Context, title string) {
	n.send(ctx, protocol.TypeTitleUpdate, protocol.TitleUpdate{
		ConversationID: n.conversationID,
		Title:          title,
	})
}
