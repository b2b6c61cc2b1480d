package session

import "time"

// Exchange is one completed user/assistant turn pair. Immutable once
// appended.
type Exchange struct {
	User      string
	Assistant string
	Timestamp time.Time
}

// historyManager keeps a bounded FIFO of exchanges. When the cap is
// exceeded the oldest entries are dropped; there is no secondary archive.
type historyManager struct {
	entries []Exchange
	cap     int
}

func newHistoryManager(cap int) *historyManager {
	if cap <= 0 {
		cap = 10
	}
	return &historyManager{
		entries: make([]Exchange, 0, cap),
		cap:     cap,
	}
}

func (h *historyManager) append(ex Exchange) {
	h.entries = append(h.entries, ex)
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

func (h *historyManager) len() int {
	return len(h.entries)
}

// recent returns up to the last n exchanges, oldest first.
func (h *historyManager) recent(n int) []Exchange {
	if n <= 0 || len(h.entries) == 0 {
		return nil
	}
	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]Exchange, len(h.entries)-start)
	copy(out, h.entries[start:])
	return out
}

func (h *historyManager) snapshot() []Exchange {
	out := make([]Exchange, len(h.entries))
	copy(out, h.entries)
	return out
}
