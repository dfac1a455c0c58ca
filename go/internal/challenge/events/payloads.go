// Package events holds the challenge lifecycle event types shared between the
// lifecycle app, the outbox and the gateway, so none of them import each other.
package events

import (
	"time"

	"github.com/mkral/boomtown/go/internal/models"
)

// Type identifies a challenge lifecycle event.
type Type string

const (
	TypeChallengeRequested Type = "ChallengeRequested"
	TypeChallengeAssigned  Type = "ChallengeAssigned"
	TypeChallengeCompleted Type = "ChallengeCompleted"
	TypeChallengeCancelled Type = "ChallengeCancelled"
	TypeChallengeExpired   Type = "ChallengeExpired"
)

// ForStatus maps a post-transition status to its event type. Requested and
// Assigned transitions are distinguished by the status itself; terminal
// statuses each have their own event.
func ForStatus(s models.ChallengeStatus) Type {
	switch s {
	case models.ChallengeStatusRequested:
		return TypeChallengeRequested
	case models.ChallengeStatusAssigned:
		return TypeChallengeAssigned
	case models.ChallengeStatusCompleted:
		return TypeChallengeCompleted
	case models.ChallengeStatusCancelled:
		return TypeChallengeCancelled
	case models.ChallengeStatusExpired:
		return TypeChallengeExpired
	}
	return ""
}

// IsTerminal reports whether the event retires its challenge's lock key.
func (t Type) IsTerminal() bool {
	switch t {
	case TypeChallengeCompleted, TypeChallengeCancelled, TypeChallengeExpired:
		return true
	}
	return false
}

// Envelope is the wire form of a lifecycle event. It always carries the full
// challenge so that clients can treat any event as an authoritative upsert,
// including events for challenges they have never seen.
type Envelope struct {
	ID        string           `json:"id"`
	GameID    string           `json:"game_id"`
	Type      Type             `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Challenge models.Challenge `json:"challenge"`
}
