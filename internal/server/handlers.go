package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/marlowe/internal/store"
	"github.com/longregen/marlowe/shared/id"
)

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Pool().Ping(r.Context()); err != nil {
		respondJSON(w, map[string]string{"status": "degraded", "database": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.degr.State(), http.StatusOK)
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
}

// handleChat runs one synchronous turn over HTTP. The websocket endpoint
// is the streaming path; this one blocks until the answer is ready.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Message == "" {
		respondError(w, "user_id and message are required", http.StatusBadRequest)
		return
	}

	convID := req.ConversationID
	if convID == "" {
		conv := &store.Conversation{
			ID:        id.NewConversation(),
			UserID:    req.UserID,
			Title:     "New Chat",
			Status:    "active",
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.store.CreateConversation(r.Context(), conv); err != nil {
			slog.ErrorContext(r.Context(), "conversation create failed", "error", err)
			respondError(w, "could not create conversation", http.StatusInternalServerError)
			return
		}
		convID = conv.ID
	}

	result, err := s.orch.HandleTurn(r.Context(), s.turnRequest(convID, req.UserID, req.Message))
	if err != nil {
		slog.ErrorContext(r.Context(), "turn failed", "conversation_id", convID, "error", err)
		respondError(w, "the assistant could not answer; please try again", http.StatusBadGateway)
		return
	}

	s.noteToolsUsed(convID, result.ToolsUsed)

	respondJSON(w, map[string]any{
		"conversation_id": convID,
		"message_id":      result.MessageID,
		"content":         result.Content,
		"tools_used":      result.ToolsUsed,
		"degraded":        result.Degraded,
	}, http.StatusOK)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit := parseIntQuery(r, "limit", 20)
	offset := parseIntQuery(r, "offset", 0)

	convs, total, err := s.store.ListConversations(r.Context(), userID, limit, offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "list conversations failed", "error", err)
		respondError(w, "could not list conversations", http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"conversations": convs, "total": total}, http.StatusOK)
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	limit := parseIntQuery(r, "limit", 50)

	msgs, err := s.store.RecentMessages(r.Context(), convID, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "list messages failed", "conversation_id", convID, "error", err)
		respondError(w, "could not list messages", http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"messages": msgs}, http.StatusOK)
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")

	interactions, err := s.store.ListInteractionsByConversation(r.Context(), convID)
	if err != nil {
		slog.ErrorContext(r.Context(), "list interactions failed", "conversation_id", convID, "error", err)
		respondError(w, "could not list interactions", http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"interactions": interactions}, http.StatusOK)
}

type feedbackRequest struct {
	Helpful bool `json:"helpful"`
}

// handleFeedback records whether a turn was helpful. Positive feedback on
// an unpromoted interaction triggers memory promotion.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	interactionID := chi.URLParam(r, "id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.SetInteractionFeedback(r.Context(), interactionID, req.Helpful); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, "interaction not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "feedback update failed", "interaction_id", interactionID, "error", err)
		respondError(w, "could not record feedback", http.StatusInternalServerError)
		return
	}

	if req.Helpful && s.recorder != nil {
		in, err := s.store.GetInteraction(r.Context(), interactionID)
		if err != nil {
			slog.WarnContext(r.Context(), "feedback promotion lookup failed", "interaction_id", interactionID, "error", err)
		} else {
			s.recorder.PromoteIfHelpful(r.Context(), in)
		}
	}

	respondJSON(w, map[string]any{"interaction_id": interactionID, "helpful": req.Helpful}, http.StatusOK)
}
