package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/longregen/marlowe/internal/degradation"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mgr := degradation.NewManager(degradation.NewQueue(degradation.DefaultQueueCapacity), nil)
	return New(Config{
		Addr:        ":0",
		Degradation: mgr,
	})
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var state degradation.State
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if state.Mode != degradation.ModeOffline {
		t.Errorf("mode = %q, want offline before any connection", state.Mode)
	}
	if !state.CanSend {
		t.Error("offline mode should report CanSend for queued composition")
	}
}

func TestChatRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing user_id", `{"message":"hello"}`},
		{"missing message", `{"user_id":"usr_1"}`},
		{"invalid json", `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestConversationsRequireUserID(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestWSRequiresAuthToken(t *testing.T) {
	mgr := degradation.NewManager(degradation.NewQueue(degradation.DefaultQueueCapacity), nil)
	srv := New(Config{Addr: ":0", AuthToken: "secret", Degradation: mgr})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?user_id=usr_1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without bearer token", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRecentToolsWindowBounded(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 8; i++ {
		srv.noteToolsUsed("conv_1", []string{"weather_lookup", "memory_search"})
	}

	req := srv.turnRequest("conv_1", "usr_1", "hi")
	if len(req.RecentTools) != recentToolsWindow {
		t.Errorf("recent tools = %d, want capped at %d", len(req.RecentTools), recentToolsWindow)
	}
}
