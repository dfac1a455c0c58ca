package models

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus defines the lifecycle state of a challenge.
type ChallengeStatus string

const (
	ChallengeStatusRequested ChallengeStatus = "REQUESTED"
	ChallengeStatusAssigned  ChallengeStatus = "ASSIGNED"
	ChallengeStatusCompleted ChallengeStatus = "COMPLETED"
	ChallengeStatusCancelled ChallengeStatus = "CANCELLED"
	ChallengeStatusExpired   ChallengeStatus = "EXPIRED"
)

// IsTerminal reports whether the status permits no further transitions.
func (s ChallengeStatus) IsTerminal() bool {
	switch s {
	case ChallengeStatusCompleted, ChallengeStatusCancelled, ChallengeStatusExpired:
		return true
	}
	return false
}

// IsLive reports whether a challenge in this status still holds its lock key.
func (s ChallengeStatus) IsLive() bool {
	return s == ChallengeStatusRequested || s == ChallengeStatusAssigned
}

// ResourceKind identifies the production building a challenge unlocks.
type ResourceKind string

const (
	ResourceKindFarm   ResourceKind = "FARM"
	ResourceKindMine   ResourceKind = "MINE"
	ResourceKindLumber ResourceKind = "LUMBER"
	ResourceKindWell   ResourceKind = "WELL"
)

// Challenge is a time-boxed unlock request gating resource production.
//
// AssignedAt is non-nil exactly while Status == ASSIGNED and is the anchor for
// the deadline calculation. It is the only field rewritten after creation:
// pause adjustment shifts it forward by the pause duration so that reads after
// a resume already reflect the corrected deadline.
type Challenge struct {
	ID                  uuid.UUID       `json:"id"`
	GameID              uuid.UUID       `json:"game_id"`
	PlayerID            uuid.UUID       `json:"player_id"`
	TeamID              uuid.UUID       `json:"team_id"`
	ResourceKind        ResourceKind    `json:"resource_kind"`
	HasSchool           bool            `json:"has_school"`
	Status              ChallengeStatus `json:"status"`
	ActivityKind        string          `json:"activity_kind,omitempty"`
	ActivityDescription string          `json:"activity_description,omitempty"`
	TargetCount         int             `json:"target_count,omitempty"`
	RequestedAt         time.Time       `json:"requested_at"`
	AssignedAt          *time.Time      `json:"assigned_at,omitempty"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
}

// Deadline returns the instant the challenge expires, given the fixed active
// duration. Zero time if the challenge has not been assigned.
func (c *Challenge) Deadline(duration time.Duration) time.Time {
	if c.AssignedAt == nil {
		return time.Time{}
	}
	return c.AssignedAt.Add(duration)
}
