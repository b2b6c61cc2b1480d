package client

import (
	"testing"

	"github.com/revlabs/revvoice/pkg/gateway/live/protocol"
)

func TestViewFollowsConversation(t *testing.T) {
	var v View
	if v.Phase != PhaseIdle {
		t.Fatalf("zero view phase = %v, want idle", v.Phase)
	}

	v.Apply(protocol.ServerStarted{Type: "started", Message: "Hi!", ConversationID: "conv-1"})
	if v.Phase != PhaseGreeting || v.ConversationID != "conv-1" || v.Greeting != "Hi!" {
		t.Fatalf("after started: %+v", v)
	}

	v.Apply(protocol.ServerListening{Type: "listening"})
	if v.Phase != PhaseListening {
		t.Fatalf("after listening: phase = %v", v.Phase)
	}

	v.NoteAudioSent()
	if v.Phase != PhaseProcessing {
		t.Fatalf("after audio: phase = %v", v.Phase)
	}

	v.Apply(protocol.ServerAIResponse{Type: "ai_response", Text: "The RV400 has a 150km range."})
	if v.Phase != PhaseSpeaking || v.LastResponse != "The RV400 has a 150km range." || v.Responses != 1 {
		t.Fatalf("after ai_response: %+v", v)
	}

	v.Apply(protocol.ServerInterrupted{Type: "interrupted", Message: "I'm listening..."})
	if v.Phase != PhaseInterrupted {
		t.Fatalf("after interrupted: phase = %v", v.Phase)
	}

	v.Apply(protocol.ServerEnded{Type: "ended", Reason: protocol.EndReasonClient})
	if v.Phase != PhaseEnded || v.EndReason != protocol.EndReasonClient {
		t.Fatalf("after ended: %+v", v)
	}
}

func TestViewApplyIsIdempotent(t *testing.T) {
	var v View
	v.Apply(protocol.ServerStarted{Type: "started", Message: "Hi!", ConversationID: "conv-1"})
	v.Apply(protocol.ServerListening{Type: "listening"})
	v.Apply(protocol.ServerAIResponse{Type: "ai_response", Text: "hello"})

	before := v
	v.Apply(protocol.ServerAIResponse{Type: "ai_response", Text: "hello"})
	if v != before {
		t.Fatalf("replayed ai_response changed view: %+v vs %+v", v, before)
	}

	v.Apply(protocol.ServerEnded{Type: "ended", Reason: protocol.EndReasonIdleTimeout})
	before = v
	v.Apply(protocol.ServerEnded{Type: "ended", Reason: protocol.EndReasonIdleTimeout})
	if v != before {
		t.Fatalf("replayed ended changed view: %+v vs %+v", v, before)
	}
}

func TestViewIgnoresFramesAfterEnded(t *testing.T) {
	var v View
	v.Apply(protocol.ServerStarted{Type: "started", ConversationID: "conv-1"})
	v.Apply(protocol.ServerEnded{Type: "ended", Reason: protocol.EndReasonClient})

	v.Apply(protocol.ServerListening{Type: "listening"})
	v.Apply(protocol.ServerAIResponse{Type: "ai_response", Text: "late"})
	if v.Phase != PhaseEnded || v.LastResponse != "" {
		t.Fatalf("ended view mutated by late frames: %+v", v)
	}

	v.Apply(protocol.ServerStarted{Type: "started", ConversationID: "conv-2", Message: "Hi again"})
	if v.Phase != PhaseGreeting || v.ConversationID != "conv-2" || v.EndReason != "" {
		t.Fatalf("restart did not reset view: %+v", v)
	}
}

func TestViewErrorRecoversProcessing(t *testing.T) {
	var v View
	v.Apply(protocol.ServerStarted{Type: "started", ConversationID: "conv-1"})
	v.Apply(protocol.ServerListening{Type: "listening"})
	v.NoteAudioSent()

	v.Apply(protocol.ServerError{Type: "error", Message: "upstream failed"})
	if v.Phase != PhaseListening || v.LastError != "upstream failed" {
		t.Fatalf("after error: %+v", v)
	}
}

func TestViewNoteAudioSentOnlyWhileListening(t *testing.T) {
	var v View
	v.NoteAudioSent()
	if v.Phase != PhaseIdle {
		t.Fatalf("idle view advanced to %v", v.Phase)
	}
	v.Apply(protocol.ServerStarted{Type: "started", ConversationID: "conv-1"})
	v.NoteAudioSent()
	if v.Phase != PhaseGreeting {
		t.Fatalf("greeting view advanced to %v", v.Phase)
	}
}

func TestViewWarningLeavesPhase(t *testing.T) {
	var v View
	v.Apply(protocol.ServerStarted{Type: "started", ConversationID: "conv-1"})
	v.Apply(protocol.ServerListening{Type: "listening"})
	v.Apply(protocol.ServerWarning{Type: "warning", Code: "draining", Message: "server is shutting down"})
	if v.Phase != PhaseListening || v.LastWarning != "server is shutting down" {
		t.Fatalf("after warning: %+v", v)
	}
}

func TestPhaseStringAndActive(t *testing.T) {
	cases := map[Phase]string{
		PhaseIdle:        "idle",
		PhaseGreeting:    "greeting",
		PhaseListening:   "listening",
		PhaseProcessing:  "processing",
		PhaseSpeaking:    "speaking",
		PhaseInterrupted: "interrupted",
		PhaseEnded:       "ended",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
	if PhaseIdle.Active() || PhaseEnded.Active() {
		t.Error("idle/ended should not be active")
	}
	if !PhaseListening.Active() || !PhaseSpeaking.Active() {
		t.Error("listening/speaking should be active")
	}
}
