package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/revlabs/revvoice/pkg/gateway/config"
	"github.com/revlabs/revvoice/pkg/gateway/live/session"
	"github.com/revlabs/revvoice/pkg/gateway/live/sessions"
	"github.com/revlabs/revvoice/pkg/gateway/mw"
)

// VoiceHandler upgrades /voice requests to websocket and hands the
// connection to a conversation controller.
type VoiceHandler struct {
	Config  config.Config
	Gateway session.CompletionGateway
	Store   *sessions.Store
	Logger  *slog.Logger
	Metrics session.Metrics

	// Draining reports whether the server is shutting down; new connections
	// are refused while it returns true.
	Draining func() bool

	// NewID generates conversation ids. Defaults to uuid.NewString.
	NewID func() string
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeErrorJSON(w, reqID, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Draining != nil && h.Draining() {
		writeErrorJSON(w, reqID, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeErrorJSON(w, reqID, "origin is not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		// Origin was validated above; gorilla's default same-origin check
		// would reject the allowlisted cross-origin browser clients.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	newID := h.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	conversationID := newID()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sess, err := session.New(session.Dependencies{
		Conn:           conn,
		Logger:         logger,
		Gateway:        h.Gateway,
		Store:          h.Store,
		Metrics:        h.Metrics,
		ConversationID: conversationID,
		RequestID:      reqID,
		Config: session.Config{
			SystemInstruction:    h.Config.SystemInstruction,
			Greeting:             h.Config.Greeting,
			GreetingDelay:        h.Config.GreetingDelay,
			TurnTimeout:          h.Config.TurnTimeout,
			IdleTimeout:          h.Config.IdleTimeout,
			SpeakingTimeout:      h.Config.SpeakingTimeout,
			InterruptResumeDelay: h.Config.InterruptResumeDelay,
			HistoryCap:           h.Config.HistoryCap,
			ContextExchanges:     h.Config.ContextExchanges,
			MinAudioBytes:        h.Config.MinAudioBytes,
			MaxAudioBytes:        h.Config.MaxAudioBytes,
			MaxMessageBytes:      h.Config.MaxMessageBytes,
			PingInterval:         h.Config.WSPingInterval,
			WriteTimeout:         h.Config.WSWriteTimeout,
			ReadTimeout:          h.Config.WSReadTimeout,
			StoreTranscript:      h.Config.StoreTranscript,
		},
		Now: time.Now,
	})
	if err != nil {
		logger.Error("failed to create session", "error", err, "request_id", reqID)
		return
	}

	logger.Info("websocket connected", "conversation_id", conversationID, "request_id", reqID)
	if err := sess.Run(); err != nil {
		logger.Error("session terminated", "error", err, "conversation_id", conversationID)
	}
	logger.Info("websocket disconnected", "conversation_id", conversationID)
}

func (h VoiceHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	if len(h.Config.AllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.AllowedOrigins[origin]
	return ok
}
