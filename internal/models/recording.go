package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingState is the lifecycle state of a recording. States only move forward.
type RecordingState string

const (
	RecordingStateCreated    RecordingState = "CREATED"
	RecordingStateRecording  RecordingState = "RECORDING"
	RecordingStateProcessing RecordingState = "PROCESSING"
	RecordingStateCompleted  RecordingState = "COMPLETED"
)

// RecordingStates lists every state in lifecycle order.
var RecordingStates = []RecordingState{
	RecordingStateCreated,
	RecordingStateRecording,
	RecordingStateProcessing,
	RecordingStateCompleted,
}

// Rank is the position of s in the lifecycle, or 0 for an unknown state.
func (s RecordingState) Rank() int {
	for i, v := range RecordingStates {
		if v == s {
			return i + 1
		}
	}
	return 0
}

// Recording is one captured session.
type Recording struct {
	ID        uuid.UUID      `json:"recording_id"`
	PlayerID  string         `json:"player_id"`
	AccountID string         `json:"account_id"`
	CreatedAt *time.Time     `json:"created_tstamp,omitempty"`
	StartedAt *time.Time     `json:"start_tstamp,omitempty"`
	EndedAt   *time.Time     `json:"end_tstamp,omitempty"`
	State     RecordingState `json:"state"`
}
