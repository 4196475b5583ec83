// Package mock provides a recording test double for the archive package.
package mock

import (
	"context"
	"sync"

	"github.com/sightlinehq/sightline/internal/archive"
)

// SessionMarker records one BeginSession or EndSession call.
type SessionMarker struct {
	SessionID string
	// Mode is set for BeginSession calls, Cause for EndSession calls.
	Mode  string
	Cause string
}

// Store is a mock implementation of archive.Store.
type Store struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every write operation and Ping.
	Err error

	// Begins records BeginSession calls in order.
	Begins []SessionMarker

	// Ends records EndSession calls in order.
	Ends []SessionMarker

	// Entries records AppendEntry calls in order, keyed by session ID.
	Entries map[string][]archive.Entry

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// BeginSession records the call and returns Err.
func (s *Store) BeginSession(_ context.Context, sessionID, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Begins = append(s.Begins, SessionMarker{SessionID: sessionID, Mode: mode})
	return s.Err
}

// EndSession records the call and returns Err.
func (s *Store) EndSession(_ context.Context, sessionID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ends = append(s.Ends, SessionMarker{SessionID: sessionID, Cause: cause})
	return s.Err
}

// AppendEntry records the call and returns Err.
func (s *Store) AppendEntry(_ context.Context, sessionID string, e archive.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Entries == nil {
		s.Entries = make(map[string][]archive.Entry)
	}
	s.Entries[sessionID] = append(s.Entries[sessionID], e)
	return s.Err
}

// Ping returns Err.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Close records the call.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
}

// Begun returns a copy of the recorded BeginSession markers. Thread-safe.
func (s *Store) Begun() []SessionMarker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionMarker, len(s.Begins))
	copy(out, s.Begins)
	return out
}

// Ended returns a copy of the recorded EndSession markers. Thread-safe.
func (s *Store) Ended() []SessionMarker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionMarker, len(s.Ends))
	copy(out, s.Ends)
	return out
}

// EntriesFor returns a copy of the entries recorded for sessionID. Thread-safe.
func (s *Store) EntriesFor(sessionID string) []archive.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]archive.Entry, len(s.Entries[sessionID]))
	copy(out, s.Entries[sessionID])
	return out
}

// Ensure Store implements archive.Store at compile time.
var _ archive.Store = (*Store)(nil)
