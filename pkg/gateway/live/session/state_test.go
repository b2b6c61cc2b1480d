package session

import "testing"

func TestStatus_String(t *testing.T) {
	cases := map[Status]string{
		StatusIdle:        "idle",
		StatusGreeting:    "greeting",
		StatusListening:   "listening",
		StatusProcessing:  "processing",
		StatusSpeaking:    "speaking",
		StatusInterrupted: "interrupted",
		StatusEnded:       "ended",
		Status(99):        "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("String(%d)=%q, want %q", status, got, want)
		}
	}
}

func TestStatus_Active(t *testing.T) {
	for _, status := range []Status{StatusGreeting, StatusListening, StatusProcessing, StatusSpeaking, StatusInterrupted} {
		if !status.Active() {
			t.Fatalf("expected %s to be active", status)
		}
	}
	for _, status := range []Status{StatusIdle, StatusEnded} {
		if status.Active() {
			t.Fatalf("expected %s to be inactive", status)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusIdle, StatusGreeting},
		{StatusGreeting, StatusListening},
		{StatusListening, StatusProcessing},
		{StatusProcessing, StatusListening},
		{StatusProcessing, StatusSpeaking},
		{StatusProcessing, StatusInterrupted},
		{StatusSpeaking, StatusListening},
		{StatusSpeaking, StatusInterrupted},
		{StatusInterrupted, StatusListening},
		{StatusEnded, StatusGreeting},
		{StatusListening, StatusEnded},
		{StatusSpeaking, StatusEnded},
		{StatusIdle, StatusEnded},
	}
	for _, tc := range allowed {
		if !canTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusIdle, StatusListening},
		{StatusIdle, StatusSpeaking},
		{StatusGreeting, StatusProcessing},
		{StatusListening, StatusSpeaking},
		{StatusListening, StatusInterrupted},
		{StatusInterrupted, StatusSpeaking},
		{StatusEnded, StatusEnded},
		{StatusEnded, StatusListening},
	}
	for _, tc := range denied {
		if canTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}
