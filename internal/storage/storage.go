package storage

import "time"

// Event records one completed chat turn for offline analysis.
// It is an audit trail, not the source of truth — the dialog history
// itself lives in the SQLite store. Events are appended in
// chronological order.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	UserMessage  string    `json:"user_message"`
	Response     string    `json:"response"`
	Provider     string    `json:"provider,omitempty"`
	FallbackUsed bool      `json:"fallback_used,omitempty"`
}

// Recorder abstracts persistence of chat turn events.
// LoadInteractions should return events in chronological order.
// AppendInteraction should atomically append a new event.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
