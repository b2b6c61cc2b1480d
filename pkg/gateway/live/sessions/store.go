// Package sessions implements the conversation session store: a
// concurrency-safe registry keyed by conversation id, with a periodic
// sweep of stale entries and shutdown fanout for draining.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/revlabs/revvoice/pkg/gateway/live/protocol"
)

// ErrExists is returned by Create when the id is already registered.
var ErrExists = errors.New("session already exists")

// Exchange mirrors one retained user/assistant turn pair for the read-only
// HTTP surface.
type Exchange struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time view of one conversation, produced by the
// owning controller.
type Snapshot struct {
	Status       string     `json:"status"`
	Active       bool       `json:"active"`
	LastActivity time.Time  `json:"lastActivity"`
	History      []Exchange `json:"history"`
}

// Handle is the store's grip on a live conversation controller. Cancel
// receives the end reason the controller should report to its client.
type Handle struct {
	Cancel   func(reason string)
	Warn     func(code, message string) error
	Snapshot func() Snapshot
}

type Store struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
	now      func() time.Time
}

type trackedSession struct {
	handle       Handle
	lastActivity time.Time
	once         sync.Once
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*trackedSession),
		now:      time.Now,
	}
}

// Create registers a new conversation. It fails if an entry already exists
// for the id; ids are unique per connection so a collision means a caller
// bug.
func (s *Store) Create(id string, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return ErrExists
	}
	s.sessions[id] = &trackedSession{handle: h, lastActivity: s.now()}
	s.wg.Add(1)
	return nil
}

// Get returns the handle for id.
func (s *Store) Get(id string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return Handle{}, false
	}
	return entry.handle, true
}

// Touch updates the last-activity timestamp used by the sweep. Unknown ids
// are ignored.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.sessions[id]; ok {
		entry.lastActivity = s.now()
	}
}

// Remove deletes the entry for id. It is idempotent; removing an unknown or
// already-removed id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if ok {
		entry.once.Do(s.wg.Done)
	}
}

// Len returns the number of registered conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ActiveCount returns the number of conversations currently in progress.
func (s *Store) ActiveCount() int {
	snapshots := s.collectSnapshots()
	n := 0
	for _, snap := range snapshots {
		if snap != nil && snap().Active {
			n++
		}
	}
	return n
}

// Snapshot returns the current view of one conversation.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || entry.handle.Snapshot == nil {
		return Snapshot{}, false
	}
	return entry.handle.Snapshot(), true
}

// Sweep cancels and removes every conversation whose last activity is older
// than maxAge. It is the safety net for sessions whose disconnect event was
// missed; per-session idle timers end conversations much earlier in the
// normal case. Returns the number of sessions swept.
func (s *Store) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := s.now().Add(-maxAge)

	type stale struct {
		id     string
		cancel func(reason string)
	}
	var expired []stale
	s.mu.Lock()
	for id, entry := range s.sessions {
		if entry.lastActivity.Before(cutoff) {
			expired = append(expired, stale{id: id, cancel: entry.handle.Cancel})
		}
	}
	s.mu.Unlock()

	for _, e := range expired {
		if e.cancel != nil {
			e.cancel(protocol.EndReasonSweep)
		}
		s.Remove(e.id)
	}
	return len(expired)
}

// RunSweeper sweeps at the given interval until ctx is canceled.
func (s *Store) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(maxAge)
		}
	}
}

// WarnAll sends a best-effort warning to every conversation.
func (s *Store) WarnAll(code, message string) (sent int) {
	var warns []func(code, message string) error
	s.mu.Lock()
	for _, entry := range s.sessions {
		if entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	s.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll force-terminates every conversation.
func (s *Store) CancelAll() (canceled int) {
	var cancels []func(reason string)
	s.mu.Lock()
	for _, entry := range s.sessions {
		if entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel(protocol.EndReasonShutdown)
		canceled++
	}
	return canceled
}

// Wait blocks until every registered conversation has been removed, or ctx
// is done. Returns true if the store drained.
func (s *Store) Wait(ctx context.Context) bool {
	if ctx == nil {
		s.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Store) collectSnapshots() []func() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func() Snapshot, 0, len(s.sessions))
	for _, entry := range s.sessions {
		out = append(out, entry.handle.Snapshot)
	}
	return out
}
