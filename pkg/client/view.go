package client

import (
	"github.com/revlabs/revvoice/pkg/gateway/live/protocol"
)

// Phase is the client-side mirror of the conversation state. It is derived
// purely from server frames plus the client's own sends, so it can lag the
// server by at most one frame.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseGreeting
	PhaseListening
	PhaseProcessing
	PhaseSpeaking
	PhaseInterrupted
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseGreeting:
		return "greeting"
	case PhaseListening:
		return "listening"
	case PhaseProcessing:
		return "processing"
	case PhaseSpeaking:
		return "speaking"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Active reports whether the conversation is underway.
func (p Phase) Active() bool {
	return p > PhaseIdle && p < PhaseEnded
}

// View mirrors the server's conversation state on the client. Apply is
// idempotent: replaying the last frame leaves the view unchanged, and frames
// that arrive after the conversation ended are ignored.
type View struct {
	Phase          Phase
	ConversationID string
	Greeting       string
	LastResponse   string
	LastError      string
	LastWarning    string
	EndReason      string
	Responses      int
}

// Apply folds a decoded server frame into the view.
func (v *View) Apply(msg any) {
	if v.Phase == PhaseEnded {
		if _, ok := msg.(protocol.ServerStarted); !ok {
			return
		}
	}

	switch m := msg.(type) {
	case protocol.ServerStarted:
		*v = View{
			Phase:          PhaseGreeting,
			ConversationID: m.ConversationID,
			Greeting:       m.Message,
		}
	case protocol.ServerListening:
		v.Phase = PhaseListening
	case protocol.ServerAIResponse:
		v.Phase = PhaseSpeaking
		if m.Text != v.LastResponse || v.Responses == 0 {
			v.LastResponse = m.Text
			v.Responses++
		}
	case protocol.ServerInterrupted:
		v.Phase = PhaseInterrupted
	case protocol.ServerEnded:
		v.Phase = PhaseEnded
		v.EndReason = m.Reason
	case protocol.ServerWarning:
		v.LastWarning = m.Message
	case protocol.ServerError:
		v.LastError = m.Message
		// The server returns to listening after a failed turn, so a stuck
		// processing phase would be wrong here.
		if v.Phase == PhaseProcessing {
			v.Phase = PhaseListening
		}
	}
}

// NoteAudioSent records a locally sent recording. The server does not echo a
// frame for accepted audio, so the client advances its own mirror.
func (v *View) NoteAudioSent() {
	if v.Phase == PhaseListening {
		v.Phase = PhaseProcessing
	}
}
