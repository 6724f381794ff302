package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/marlowe/internal/degradation"
	"github.com/longregen/marlowe/internal/transport"
	"github.com/longregen/marlowe/shared/protocol"
)

// turnTimeout bounds one websocket-initiated turn. Detached from the
// connection context so a client that drops mid-turn does not abort tool
// execution, but the severed-transport check in the orchestrator still
// sees the timeout.
const turnTimeout = 5 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.authToken != "" && r.Header.Get("Authorization") != "Bearer "+s.authToken {
		respondError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws: upgrade error", "error", err)
		return
	}

	sess := transport.NewSession(conn, userID)
	defer sess.Close()

	slog.Info("ws: session opened", "session_id", sess.ID, "user_id", userID)

	// Push degradation state on connect and on every change.
	sess.SendStatus(s.degr.State())
	unsubscribe := s.degr.Subscribe(func(state degradation.State) {
		if !sess.Closed() {
			sess.SendStatus(state)
		}
	})
	defer unsubscribe()

	for {
		env, err := sess.ReadEnvelope()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("ws: read error", "session_id", sess.ID, "error", err)
			}
			break
		}

		switch env.Type {
		case protocol.TypeUserMessage:
			s.handleWSUserMessage(sess, env)
		case protocol.TypeHeartbeat:
			// keepalive only
		default:
			slog.Debug("ws: ignoring message", "session_id", sess.ID, "type", env.Type)
		}
	}

	slog.Info("ws: session closed", "session_id", sess.ID)
}

func (s *Server) handleWSUserMessage(sess *transport.Session, env *protocol.Envelope) {
	msg, err := protocol.DecodeBody[protocol.UserMessage](env)
	if err != nil {
		slog.Error("ws: decode user message error", "error", err)
		return
	}
	if msg.Content == "" || env.ConversationID == "" {
		slog.Warn("ws: dropping user message without content or conversation",
			"session_id", sess.ID, "conversation_id", env.ConversationID)
		return
	}

	// Detached from the request context but bound to the session: the turn
	// survives transient delivery failures, yet a severed client cancels
	// what remains so an undelivered answer is never recorded.
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	notifier := transport.NewSessionNotifier(sess, env.ConversationID)
	orch := s.orch.WithNotifier(notifier)

	go func() {
		defer cancel()
		result, err := orch.HandleTurn(ctx, s.turnRequest(env.ConversationID, sess.UserID, msg.Content))
		if err != nil {
			slog.ErrorContext(ctx, "ws: turn failed",
				"conversation_id", env.ConversationID, "error", err)
			return
		}
		s.noteToolsUsed(env.ConversationID, result.ToolsUsed)
	}()
}
