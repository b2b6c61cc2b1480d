// Package session implements the turn-taking conversation controller. One
// Session owns one websocket connection; all conversation state is mutated
// only inside the Run event loop, so the loop needs no locks of its own.
// The small mirror guarded by Session.mu exists for readers outside the
// loop (the store's snapshot/warn/cancel callbacks).
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/revlabs/revvoice/pkg/core/providers/gemini"
	"github.com/revlabs/revvoice/pkg/gateway/live/protocol"
	"github.com/revlabs/revvoice/pkg/gateway/live/sessions"
)

// userPlaceholder is stored as the user side of an exchange when transcript
// retention is disabled or the provider returned no transcript.
const userPlaceholder = "User spoke"

const apologyMessage = "Sorry, I encountered an error processing your request. Please try again."

// Conn is the subset of *websocket.Conn the controller uses. Tests supply
// in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// CompletionGateway produces one assistant reply per user utterance.
type CompletionGateway interface {
	GenerateReply(ctx context.Context, req *gemini.ReplyRequest) (*gemini.Reply, error)
}

// Metrics receives conversation lifecycle observations. Implementations
// must be safe for concurrent use; a nil Metrics disables reporting.
type Metrics interface {
	ConversationStarted()
	ConversationEnded()
	TurnCompleted(outcome string, seconds float64)
}

type Config struct {
	SystemInstruction    string
	Greeting             string
	GreetingDelay        time.Duration
	TurnTimeout          time.Duration
	IdleTimeout          time.Duration
	SpeakingTimeout      time.Duration
	InterruptResumeDelay time.Duration
	HistoryCap           int
	ContextExchanges     int
	MinAudioBytes        int
	MaxAudioBytes        int
	MaxMessageBytes      int64
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	StoreTranscript      bool
}

type Dependencies struct {
	Conn           Conn
	Logger         *slog.Logger
	Gateway        CompletionGateway
	Store          *sessions.Store
	Metrics        Metrics
	ConversationID string
	RequestID      string
	Config         Config
	Now            func() time.Time
}

type Session struct {
	conn      Conn
	logger    *slog.Logger
	gateway   CompletionGateway
	store     *sessions.Store
	metrics   Metrics
	id        string
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu serializes frame writes: the event loop and the store's Warn
	// callback both write to the connection.
	writeMu sync.Mutex

	// mu guards the mirror read by Snapshot from outside the loop.
	mu           sync.Mutex
	status       Status
	hist         *historyManager
	lastActivity time.Time
	cancelReason string
}

type inboundFrame struct {
	data []byte
	err  error
}

type turnResult struct {
	generation int
	reply      *gemini.Reply
	elapsed    time.Duration
	err        error
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("completion gateway is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.ConversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.TurnTimeout <= 0 {
		deps.Config.TurnTimeout = 30 * time.Second
	}
	if deps.Config.IdleTimeout <= 0 {
		deps.Config.IdleTimeout = 2 * time.Minute
	}
	if deps.Config.SpeakingTimeout <= 0 {
		deps.Config.SpeakingTimeout = 45 * time.Second
	}
	if deps.Config.HistoryCap <= 0 {
		deps.Config.HistoryCap = 10
	}
	if deps.Config.ContextExchanges <= 0 {
		deps.Config.ContextExchanges = 3
	}
	if deps.Config.MinAudioBytes <= 0 {
		deps.Config.MinAudioBytes = 1000
	}
	if deps.Config.MaxAudioBytes <= 0 {
		deps.Config.MaxAudioBytes = 5 << 20
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:         deps.Conn,
		logger:       deps.Logger.With("conversation_id", deps.ConversationID),
		gateway:      deps.Gateway,
		store:        deps.Store,
		metrics:      deps.Metrics,
		id:           deps.ConversationID,
		requestID:    deps.RequestID,
		cfg:          deps.Config,
		now:          deps.Now,
		ctx:          ctx,
		cancel:       cancel,
		status:       StatusIdle,
		hist:         newHistoryManager(deps.Config.HistoryCap),
		lastActivity: deps.Now(),
	}, nil
}

// Cancel force-terminates the session. Safe from any goroutine.
func (s *Session) Cancel() {
	s.CancelWithReason(protocol.EndReasonShutdown)
}

// CancelWithReason force-terminates the session and records the end reason
// reported to the client. The first reason wins.
func (s *Session) CancelWithReason(reason string) {
	s.mu.Lock()
	if s.cancelReason == "" {
		s.cancelReason = reason
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) terminationReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelReason == "" {
		return protocol.EndReasonShutdown
	}
	return s.cancelReason
}

// SendWarning delivers an out-of-band warning frame to the client. Safe
// from any goroutine; used by the store during shutdown drains.
func (s *Session) SendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

// Snapshot returns the current conversation view for the HTTP read surface.
func (s *Session) Snapshot() sessions.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]sessions.Exchange, 0, s.hist.len())
	for _, ex := range s.hist.snapshot() {
		history = append(history, sessions.Exchange{
			User:      ex.User,
			Assistant: ex.Assistant,
			Timestamp: ex.Timestamp,
		})
	}
	return sessions.Snapshot{
		Status:       s.status.String(),
		Active:       s.status.Active(),
		LastActivity: s.lastActivity,
		History:      history,
	}
}

// Handle is what the session registers with the store.
func (s *Session) Handle() sessions.Handle {
	return sessions.Handle{
		Cancel:   s.CancelWithReason,
		Warn:     s.SendWarning,
		Snapshot: s.Snapshot,
	}
}

// Run drives the conversation until the connection closes, the session is
// canceled, or the conversation ends and the read loop terminates. It always
// returns with the session deregistered from the store.
func (s *Session) Run() error {
	defer s.cancel()
	defer s.store.Remove(s.id)
	defer func() {
		if s.currentStatus().Active() {
			s.observeConversationEnded()
		}
	}()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 16)
	go s.readLoop(readCh)

	replyCh := make(chan turnResult, 4)

	var wg sync.WaitGroup
	defer wg.Wait()

	var (
		generation int
		turnCancel context.CancelFunc

		greetingTimer  *time.Timer
		greetingActive bool
		idleTimer      *time.Timer
		idleActive     bool
		speakingTimer  *time.Timer
		speakingActive bool
		resumeTimer    *time.Timer
		resumeActive   bool
	)

	defer func() {
		if turnCancel != nil {
			turnCancel()
		}
		for _, t := range []*time.Timer{greetingTimer, idleTimer, speakingTimer, resumeTimer} {
			if t != nil {
				t.Stop()
			}
		}
	}()

	stopTimer := func(t **time.Timer, active *bool) {
		if *t == nil {
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
		*active = false
	}
	resetTimer := func(t **time.Timer, active *bool, d time.Duration) {
		if d < 0 {
			return
		}
		if *t == nil {
			*t = time.NewTimer(d)
			*active = true
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
		(*t).Reset(d)
		*active = true
	}
	timerCh := func(t *time.Timer, active bool) <-chan time.Time {
		if !active || t == nil {
			return nil
		}
		return t.C
	}

	var pingCh <-chan time.Time
	if s.cfg.PingInterval > 0 {
		pingTicker := time.NewTicker(s.cfg.PingInterval)
		defer pingTicker.Stop()
		pingCh = pingTicker.C
	}

	// cancelTurn invalidates any in-flight gateway call: late results carry
	// a stale generation and are discarded on arrival.
	cancelTurn := func() {
		if turnCancel != nil {
			turnCancel()
			turnCancel = nil
		}
		generation++
	}

	startListening := func() error {
		if err := s.transition(StatusListening); err != nil {
			return err
		}
		return s.sendJSON(protocol.ServerListening{Type: "listening", ConversationID: s.id})
	}

	endConversation := func(reason string) error {
		cancelTurn()
		stopTimer(&greetingTimer, &greetingActive)
		stopTimer(&idleTimer, &idleActive)
		stopTimer(&speakingTimer, &speakingActive)
		stopTimer(&resumeTimer, &resumeActive)
		if err := s.transition(StatusEnded); err != nil {
			return err
		}
		s.store.Remove(s.id)
		s.observeConversationEnded()
		s.logger.Info("conversation ended", "reason", reason)
		return s.sendJSON(protocol.ServerEnded{Type: "ended", Reason: reason, ConversationID: s.id})
	}

	startTurn := func(audio []byte, format string) error {
		if err := s.transition(StatusProcessing); err != nil {
			return err
		}
		generation++
		currentGeneration := generation

		req := &gemini.ReplyRequest{
			System: s.cfg.SystemInstruction,
			Audio:  gemini.Audio{Data: audio, MIMEType: format},
		}
		for _, ex := range s.recentExchanges() {
			req.Exchanges = append(req.Exchanges, gemini.Exchange{User: ex.User, Assistant: ex.Assistant})
		}

		turnCtx, cancel := context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
		turnCancel = cancel
		started := s.now()
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := s.gateway.GenerateReply(turnCtx, req)
			select {
			case replyCh <- turnResult{generation: currentGeneration, reply: reply, elapsed: s.now().Sub(started), err: err}:
			case <-s.ctx.Done():
			}
		}()
		return nil
	}

	for {
		select {
		case <-s.ctx.Done():
			if s.currentStatus().Active() {
				_ = s.sendJSON(protocol.ServerEnded{Type: "ended", Reason: s.terminationReason(), ConversationID: s.id})
			}
			return nil

		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				return nil
			}
			msg, decErr := protocol.DecodeClientMessage(frame.data)
			if decErr != nil {
				if err := s.sendError(decErr.Error()); err != nil {
					return err
				}
				continue
			}

			switch m := msg.(type) {
			case protocol.ClientStart:
				if s.currentStatus().Active() {
					if err := s.sendError("Conversation already in progress."); err != nil {
						return err
					}
					continue
				}
				s.resetConversation()
				if err := s.store.Create(s.id, s.Handle()); err != nil && !errors.Is(err, sessions.ErrExists) {
					if err := s.sendError("Failed to start conversation."); err != nil {
						return err
					}
					continue
				}
				if err := s.transition(StatusGreeting); err != nil {
					return err
				}
				s.observeConversationStarted()
				s.logger.Info("conversation started")
				if err := s.sendJSON(protocol.ServerStarted{Type: "started", Message: s.cfg.Greeting, ConversationID: s.id}); err != nil {
					return err
				}
				// The idle clock runs from start and is pushed back only by
				// replies: an utterance that produced no reply does not count
				// as activity.
				resetTimer(&idleTimer, &idleActive, s.cfg.IdleTimeout)
				if s.cfg.GreetingDelay > 0 {
					resetTimer(&greetingTimer, &greetingActive, s.cfg.GreetingDelay)
				} else if err := startListening(); err != nil {
					return err
				}

			case protocol.ClientAudio:
				switch s.currentStatus() {
				case StatusListening:
				case StatusIdle, StatusEnded:
					if err := s.sendError("No active conversation. Send start first."); err != nil {
						return err
					}
					continue
				case StatusProcessing:
					if err := s.sendError("Still processing your last message. Please wait."); err != nil {
						return err
					}
					continue
				default:
					if err := s.sendError("Not listening right now. Interrupt first if I'm speaking."); err != nil {
						return err
					}
					continue
				}
				audio, err := base64.StdEncoding.DecodeString(m.Audio)
				if err != nil {
					if err := s.sendError("Could not decode audio payload."); err != nil {
						return err
					}
					continue
				}
				if len(audio) < s.cfg.MinAudioBytes {
					if err := s.sendError("Audio recording too short. Please speak for a bit longer."); err != nil {
						return err
					}
					continue
				}
				if len(audio) > s.cfg.MaxAudioBytes {
					if err := s.sendError("Audio recording too large. Please record a shorter message."); err != nil {
						return err
					}
					continue
				}
				if err := startTurn(audio, m.Format); err != nil {
					return err
				}

			case protocol.ClientInterrupt:
				switch s.currentStatus() {
				case StatusSpeaking, StatusProcessing:
					cancelTurn()
					stopTimer(&speakingTimer, &speakingActive)
					if err := s.transition(StatusInterrupted); err != nil {
						return err
					}
					s.logger.Debug("interrupted")
					if err := s.sendJSON(protocol.ServerInterrupted{Type: "interrupted", Message: "I'm listening...", ConversationID: s.id}); err != nil {
						return err
					}
					if s.cfg.InterruptResumeDelay > 0 {
						resetTimer(&resumeTimer, &resumeActive, s.cfg.InterruptResumeDelay)
					} else if err := startListening(); err != nil {
						return err
					}
				default:
					s.logger.Debug("interrupt ignored", "status", s.currentStatus().String())
				}

			case protocol.ClientPlaybackDone:
				if s.currentStatus() != StatusSpeaking {
					continue
				}
				stopTimer(&speakingTimer, &speakingActive)
				if err := startListening(); err != nil {
					return err
				}

			case protocol.ClientEnd:
				if !s.currentStatus().Active() {
					continue
				}
				if err := endConversation(protocol.EndReasonClient); err != nil {
					return err
				}
			}

		case res := <-replyCh:
			if res.generation != generation {
				s.logger.Debug("discarding stale reply", "generation", res.generation)
				continue
			}
			if turnCancel != nil {
				turnCancel()
				turnCancel = nil
			}
			if !s.currentStatus().Active() {
				continue
			}
			if res.err != nil {
				outcome := "error"
				if errors.Is(res.err, context.DeadlineExceeded) {
					outcome = "timeout"
					s.logger.Warn("turn timed out", "elapsed", res.elapsed)
				} else {
					s.logger.Error("turn failed", "error", res.err, "elapsed", res.elapsed)
				}
				s.observeTurn(outcome, res.elapsed)
				if err := s.sendError(apologyMessage); err != nil {
					return err
				}
				if s.currentStatus() == StatusProcessing {
					if err := startListening(); err != nil {
						return err
					}
				}
				continue
			}

			userText := userPlaceholder
			if s.cfg.StoreTranscript && res.reply.Transcript != "" {
				userText = res.reply.Transcript
			}
			s.appendExchange(Exchange{User: userText, Assistant: res.reply.Text, Timestamp: s.now()})
			s.store.Touch(s.id)
			s.observeTurn("ok", res.elapsed)
			if err := s.transition(StatusSpeaking); err != nil {
				return err
			}
			if err := s.sendJSON(protocol.ServerAIResponse{Type: "ai_response", Text: res.reply.Text, ConversationID: s.id}); err != nil {
				return err
			}
			resetTimer(&idleTimer, &idleActive, s.cfg.IdleTimeout)
			resetTimer(&speakingTimer, &speakingActive, s.cfg.SpeakingTimeout)

		case <-timerCh(greetingTimer, greetingActive):
			greetingActive = false
			if s.currentStatus() != StatusGreeting {
				continue
			}
			if err := startListening(); err != nil {
				return err
			}

		case <-timerCh(resumeTimer, resumeActive):
			resumeActive = false
			if s.currentStatus() != StatusInterrupted {
				continue
			}
			if err := startListening(); err != nil {
				return err
			}

		case <-timerCh(speakingTimer, speakingActive):
			speakingActive = false
			if s.currentStatus() != StatusSpeaking {
				continue
			}
			s.logger.Debug("playback report missing, resuming listening")
			if err := startListening(); err != nil {
				return err
			}

		case <-timerCh(idleTimer, idleActive):
			idleActive = false
			if !s.currentStatus().Active() {
				continue
			}
			if err := endConversation(protocol.EndReasonIdleTimeout); err != nil {
				return err
			}

		case <-pingCh:
			deadline := s.now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return nil
			}
		}
	}
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) sendError(message string) error {
	return s.sendJSON(protocol.ServerError{Type: "error", Message: message, ConversationID: s.id})
}

func (s *Session) currentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status, to) {
		return fmt.Errorf("invalid transition %s -> %s", s.status, to)
	}
	s.logger.Debug("status transition", "from", s.status.String(), "to", to.String())
	s.status = to
	s.lastActivity = s.now()
	return nil
}

func (s *Session) resetConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist = newHistoryManager(s.cfg.HistoryCap)
	s.lastActivity = s.now()
}

func (s *Session) appendExchange(ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist.append(ex)
	s.lastActivity = s.now()
}

func (s *Session) recentExchanges() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.recent(s.cfg.ContextExchanges)
}

func (s *Session) observeConversationStarted() {
	if s.metrics != nil {
		s.metrics.ConversationStarted()
	}
}

func (s *Session) observeConversationEnded() {
	if s.metrics != nil {
		s.metrics.ConversationEnded()
	}
}

func (s *Session) observeTurn(outcome string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.TurnCompleted(outcome, elapsed.Seconds())
	}
}
