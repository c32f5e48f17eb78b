// Package lifecycle carries recording lifecycle events from capture sessions to
// the finalization worker.
package lifecycle

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a lifecycle event.
type Kind int

const (
	// Created is emitted when the transport connects.
	Created Kind = iota + 1
	// Recording is emitted once, on the session's first video keyframe.
	Recording
	// Completed is emitted when the transport disconnects.
	Completed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "CREATED"
	case Recording:
		return "RECORDING"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Event is one lifecycle transition of a recording.
type Event struct {
	Kind        Kind
	RecordingID uuid.UUID
	PlayerID    string
	AccountID   string
	Timestamp   time.Time
	// AudioOffset is set on Completed: first keyframe time minus first track time.
	AudioOffset time.Duration
}
