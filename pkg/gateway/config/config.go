// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemInstruction is the assistant persona sent with every
// generateContent call when REVVOICE_SYSTEM_INSTRUCTION is not set.
const DefaultSystemInstruction = "You are Rev, the voice assistant for Revolt Motors, an Indian electric motorcycle company. " +
	"You help riders and prospective buyers with Revolt's motorcycles (such as the RV400), " +
	"features, pricing, range, charging, booking, and service. " +
	"Keep answers conversational and short, ideally one or two sentences, since they will be spoken aloud. " +
	"If asked about topics unrelated to Revolt Motors or electric vehicles, politely steer the " +
	"conversation back to how you can help with Revolt."

// DefaultGreeting is spoken when a conversation starts.
const DefaultGreeting = "Hi! I'm Rev, your Revolt Motors assistant. How can I help you today?"

type Config struct {
	Addr string

	// Gemini upstream.
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// CORS / websocket origin checks. Empty => same-origin only.
	AllowedOrigins map[string]struct{}

	// Conversation behavior.
	SystemInstruction    string
	Greeting             string
	GreetingDelay        time.Duration
	TurnTimeout          time.Duration
	IdleTimeout          time.Duration
	SpeakingTimeout      time.Duration
	InterruptResumeDelay time.Duration
	HistoryCap           int
	ContextExchanges     int
	StoreTranscript      bool

	// Payload limits.
	MinAudioBytes   int
	MaxAudioBytes   int
	MaxMessageBytes int64

	// Websocket transport.
	WSPingInterval     time.Duration
	WSWriteTimeout     time.Duration
	WSReadTimeout      time.Duration
	WSHandshakeTimeout time.Duration

	// Session store.
	SweepInterval time.Duration
	SessionMaxAge time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("REVVOICE_ADDR", ":5000"),
		GeminiAPIKey:         strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:          envOr("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		GeminiBaseURL:        envOr("GEMINI_BASE_URL", ""),
		AllowedOrigins:       make(map[string]struct{}),
		SystemInstruction:    envOr("REVVOICE_SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		Greeting:             envOr("REVVOICE_GREETING", DefaultGreeting),
		GreetingDelay:        envDurationOr("REVVOICE_GREETING_DELAY", time.Second),
		TurnTimeout:          envDurationOr("REVVOICE_TURN_TIMEOUT", 30*time.Second),
		IdleTimeout:          envDurationOr("REVVOICE_IDLE_TIMEOUT", 2*time.Minute),
		SpeakingTimeout:      envDurationOr("REVVOICE_SPEAKING_TIMEOUT", 45*time.Second),
		InterruptResumeDelay: envDurationOr("REVVOICE_INTERRUPT_RESUME_DELAY", time.Second),
		HistoryCap:           envIntOr("REVVOICE_HISTORY_CAP", 10),
		ContextExchanges:     envIntOr("REVVOICE_CONTEXT_EXCHANGES", 3),
		StoreTranscript:      envBoolOr("REVVOICE_STORE_TRANSCRIPT", false),
		MinAudioBytes:        envIntOr("REVVOICE_MIN_AUDIO_BYTES", 1000),
		MaxAudioBytes:        envIntOr("REVVOICE_MAX_AUDIO_BYTES", 5<<20),     // 5 MiB decoded
		MaxMessageBytes:      envInt64Or("REVVOICE_MAX_MESSAGE_BYTES", 8<<20), // 8 MiB framed
		WSPingInterval:       envDurationOr("REVVOICE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:       envDurationOr("REVVOICE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:        envDurationOr("REVVOICE_WS_READ_TIMEOUT", 0),
		WSHandshakeTimeout:   envDurationOr("REVVOICE_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		SweepInterval:        envDurationOr("REVVOICE_SWEEP_INTERVAL", 5*time.Minute),
		SessionMaxAge:        envDurationOr("REVVOICE_SESSION_MAX_AGE", 30*time.Minute),
		ReadHeaderTimeout:    envDurationOr("REVVOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("REVVOICE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	origins := envOr("REVVOICE_ALLOWED_ORIGINS", "http://localhost:3000")
	for _, origin := range splitCSV(origins) {
		cfg.AllowedOrigins[origin] = struct{}{}
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return Config{}, fmt.Errorf("GEMINI_MODEL must not be empty")
	}
	if cfg.GreetingDelay < 0 {
		return Config{}, fmt.Errorf("REVVOICE_GREETING_DELAY must be >= 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_TURN_TIMEOUT must be > 0")
	}
	if cfg.IdleTimeout <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_IDLE_TIMEOUT must be > 0")
	}
	if cfg.SpeakingTimeout <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_SPEAKING_TIMEOUT must be > 0")
	}
	if cfg.InterruptResumeDelay < 0 {
		return Config{}, fmt.Errorf("REVVOICE_INTERRUPT_RESUME_DELAY must be >= 0")
	}
	if cfg.HistoryCap <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_HISTORY_CAP must be > 0")
	}
	if cfg.ContextExchanges <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_CONTEXT_EXCHANGES must be > 0")
	}
	if cfg.ContextExchanges > cfg.HistoryCap {
		return Config{}, fmt.Errorf("REVVOICE_CONTEXT_EXCHANGES must be <= REVVOICE_HISTORY_CAP")
	}
	if cfg.MinAudioBytes <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_MIN_AUDIO_BYTES must be > 0")
	}
	if cfg.MaxAudioBytes <= cfg.MinAudioBytes {
		return Config{}, fmt.Errorf("REVVOICE_MAX_AUDIO_BYTES must be > REVVOICE_MIN_AUDIO_BYTES")
	}
	if cfg.MaxMessageBytes <= int64(cfg.MaxAudioBytes) {
		return Config{}, fmt.Errorf("REVVOICE_MAX_MESSAGE_BYTES must be > REVVOICE_MAX_AUDIO_BYTES")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("REVVOICE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_SWEEP_INTERVAL must be > 0")
	}
	if cfg.SessionMaxAge <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_SESSION_MAX_AGE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("REVVOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	// Accept bare integers as milliseconds for env ergonomics.
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
