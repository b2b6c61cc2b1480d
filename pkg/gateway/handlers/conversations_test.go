package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/revlabs/revvoice/pkg/gateway/live/sessions"
)

func newConversationMux(store *sessions.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /conversation/{id}", ConversationHandler{Store: store})
	mux.Handle("GET /active-conversations", ActiveConversationsHandler{Store: store})
	return mux
}

func TestConversationHandler_ReturnsSnapshot(t *testing.T) {
	store := sessions.NewStore()
	last := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	err := store.Create("conv-1", sessions.Handle{
		Snapshot: func() sessions.Snapshot {
			return sessions.Snapshot{
				Status:       "listening",
				Active:       true,
				LastActivity: last,
				History: []sessions.Exchange{
					{User: "User spoke", Assistant: "The RV400 has a range of up to 150 km.", Timestamp: last},
				},
			}
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := httptest.NewRecorder()
	newConversationMux(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversation/conv-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		ConversationID string              `json:"conversationId"`
		Status         string              `json:"status"`
		Active         bool                `json:"active"`
		LastActivity   string              `json:"lastActivity"`
		ExchangeCount  int                 `json:"exchangeCount"`
		History        []sessions.Exchange `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.ConversationID != "conv-1" || body.Status != "listening" || !body.Active {
		t.Fatalf("body=%+v", body)
	}
	if body.ExchangeCount != 1 || len(body.History) != 1 {
		t.Fatalf("history=%+v", body.History)
	}
	if body.LastActivity != "2026-03-14T10:00:00Z" {
		t.Fatalf("lastActivity=%q", body.LastActivity)
	}
}

func TestConversationHandler_NotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	newConversationMux(sessions.NewStore()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversation/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestActiveConversationsHandler(t *testing.T) {
	store := sessions.NewStore()
	if err := store.Create("active", sessions.Handle{
		Snapshot: func() sessions.Snapshot { return sessions.Snapshot{Status: "speaking", Active: true} },
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create("idle", sessions.Handle{
		Snapshot: func() sessions.Snapshot { return sessions.Snapshot{Status: "idle"} },
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := httptest.NewRecorder()
	newConversationMux(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/active-conversations", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var body struct {
		ActiveConversations int `json:"activeConversations"`
		TrackedSessions     int `json:"trackedSessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.ActiveConversations != 1 || body.TrackedSessions != 2 {
		t.Fatalf("body=%+v", body)
	}
}
