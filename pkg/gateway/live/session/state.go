package session

// Status is the conversation lifecycle state. Transitions are validated by
// canTransition; the event loop never mutates status except through
// (*Session).transition.
type Status int

const (
	// StatusIdle: connection is open, no conversation started yet (or the
	// previous one ended and was torn down).
	StatusIdle Status = iota
	// StatusGreeting: conversation created, greeting sent, waiting for the
	// scheduled transition into listening.
	StatusGreeting
	// StatusListening: the only state that accepts an utterance.
	StatusListening
	// StatusProcessing: one gateway call is in flight.
	StatusProcessing
	// StatusSpeaking: reply delivered, client is rendering speech.
	StatusSpeaking
	// StatusInterrupted: barge-in acknowledged, resume to listening pending.
	StatusInterrupted
	// StatusEnded: conversation over. Terminal until a new start replaces it.
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusGreeting:
		return "greeting"
	case StatusListening:
		return "listening"
	case StatusProcessing:
		return "processing"
	case StatusSpeaking:
		return "speaking"
	case StatusInterrupted:
		return "interrupted"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Active reports whether a conversation is in progress.
func (s Status) Active() bool {
	switch s {
	case StatusGreeting, StatusListening, StatusProcessing, StatusSpeaking, StatusInterrupted:
		return true
	default:
		return false
	}
}

// canTransition is the transition table of the turn-taking state machine.
// Every state may move to StatusEnded; StatusIdle is re-entered only by
// replacing the conversation wholesale (start after end).
func canTransition(from, to Status) bool {
	if to == StatusEnded {
		return from != StatusEnded
	}
	switch from {
	case StatusIdle:
		return to == StatusGreeting
	case StatusGreeting:
		return to == StatusListening
	case StatusListening:
		return to == StatusProcessing
	case StatusProcessing:
		// Back to listening on turn failure, forward to speaking on reply,
		// interrupted on barge-in while the call is still in flight.
		return to == StatusListening || to == StatusSpeaking || to == StatusInterrupted
	case StatusSpeaking:
		return to == StatusListening || to == StatusInterrupted
	case StatusInterrupted:
		return to == StatusListening
	case StatusEnded:
		return to == StatusGreeting
	default:
		return false
	}
}
