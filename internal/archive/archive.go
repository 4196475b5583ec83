// Package archive persists session transcripts and lifecycle markers.
//
// Archiving is strictly best-effort and write-only: entries are appended as
// the session produces them, and nothing is ever replayed into a later
// session. A failed write must never disturb the realtime session, so
// callers log archive errors and move on.
package archive

import (
	"context"
	"time"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is one transcript line.
type Entry struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// Store is the transcript archive. Implementations must be safe for
// concurrent use.
type Store interface {
	// BeginSession records that a session started in the given mode.
	BeginSession(ctx context.Context, sessionID, mode string) error

	// EndSession records that a session ended. cause is free text
	// ("disconnect", "transport error", ...).
	EndSession(ctx context.Context, sessionID, cause string) error

	// AppendEntry appends one transcript line to the session.
	AppendEntry(ctx context.Context, sessionID string, e Entry) error

	// Ping probes the underlying storage. Used by the readiness endpoint.
	Ping(ctx context.Context) error

	// Close releases storage resources.
	Close()
}

// Noop is a Store that discards everything. Used when no DSN is configured.
type Noop struct{}

func (Noop) BeginSession(context.Context, string, string) error      { return nil }
func (Noop) EndSession(context.Context, string, string) error       { return nil }
func (Noop) AppendEntry(context.Context, string, Entry) error       { return nil }
func (Noop) Ping(context.Context) error                             { return nil }
func (Noop) Close()                                                 {}

// Compile-time interface check.
var _ Store = Noop{}
