package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the status of a game session.
type SessionStatus string

const (
	SessionStatusWaiting    SessionStatus = "WAITING"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusPaused     SessionStatus = "PAUSED"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// GameSession is the collaborator-owned session record. The challenge engine
// reads it for pause state and accumulated pause duration; it never writes it.
type GameSession struct {
	ID                  uuid.UUID     `json:"id"`
	Code                string        `json:"code"`
	Status              SessionStatus `json:"status"`
	PausedDurationTotal time.Duration `json:"paused_duration_total"`
	PausedAt            *time.Time    `json:"paused_at,omitempty"`
	StartedAt           *time.Time    `json:"started_at,omitempty"`
}
