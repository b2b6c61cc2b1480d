package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/revlabs/revvoice/pkg/gateway/live/sessions"
	"github.com/revlabs/revvoice/pkg/gateway/mw"
)

// ConversationHandler serves GET /conversation/{id}: the current snapshot of
// one conversation.
type ConversationHandler struct {
	Store *sessions.Store
}

func (h ConversationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeErrorJSON(w, reqID, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeErrorJSON(w, reqID, "conversation id is required", http.StatusBadRequest)
		return
	}
	snap, ok := h.Store.Snapshot(id)
	if !ok {
		writeErrorJSON(w, reqID, "conversation not found", http.StatusNotFound)
		return
	}

	type conversationResp struct {
		ConversationID string              `json:"conversationId"`
		Status         string              `json:"status"`
		Active         bool                `json:"active"`
		LastActivity   string              `json:"lastActivity"`
		ExchangeCount  int                 `json:"exchangeCount"`
		History        []sessions.Exchange `json:"history"`
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(conversationResp{
		ConversationID: id,
		Status:         snap.Status,
		Active:         snap.Active,
		LastActivity:   snap.LastActivity.UTC().Format(time.RFC3339),
		ExchangeCount:  len(snap.History),
		History:        snap.History,
	})
}

// ActiveConversationsHandler serves GET /active-conversations: gauge counts
// for the session store.
type ActiveConversationsHandler struct {
	Store *sessions.Store
}

func (h ActiveConversationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeErrorJSON(w, reqID, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type activeResp struct {
		ActiveConversations int `json:"activeConversations"`
		TrackedSessions     int `json:"trackedSessions"`
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(activeResp{
		ActiveConversations: h.Store.ActiveCount(),
		TrackedSessions:     h.Store.Len(),
	})
}
