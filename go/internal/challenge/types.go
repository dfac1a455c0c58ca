package challenge

import (
	"github.com/google/uuid"
	"github.com/mkral/boomtown/go/internal/models"
)

// RequestChallengeRequest carries a player's production-unlock request.
// HasSchool is the team's school ownership at request time; it is snapshotted
// onto the challenge and never updated afterwards.
type RequestChallengeRequest struct {
	GameID       uuid.UUID           `json:"game_id"`
	PlayerID     uuid.UUID           `json:"player_id"`
	TeamID       uuid.UUID           `json:"team_id"`
	ResourceKind models.ResourceKind `json:"resource_kind"`
	HasSchool    bool                `json:"has_school"`
}

// AssignChallengeRequest carries the host's activity assignment.
type AssignChallengeRequest struct {
	ActivityKind        string `json:"activity_kind"`
	ActivityDescription string `json:"activity_description"`
	TargetCount         int    `json:"target_count"`
}

// AdjustForPauseRequest shifts every live assigned challenge of a game forward
// by the pause duration, issued by the host on resume.
type AdjustForPauseRequest struct {
	PauseDurationMs int64 `json:"pause_duration_ms"`
}

// AdjustForPauseResponse reports how many challenges were shifted.
type AdjustForPauseResponse struct {
	AdjustedCount int `json:"adjusted_count"`
}
