package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkral/boomtown/go/internal/models"
)

// StateProvider supplies the authoritative state a client needs to rebuild its
// local view from scratch.
type StateProvider interface {
	GetGameState(ctx context.Context, gameID uuid.UUID) (*GameStateResponse, error)
}

// GameStateResponse is the full-reload payload served on connect/reconnect.
// ServerTime lets the client offset its local countdown against server clock
// drift; ChallengeDurationSec is the fixed active time per challenge.
type GameStateResponse struct {
	GameID               string               `json:"game_id"`
	SessionStatus        models.SessionStatus `json:"session_status"`
	PausedDurationMs     int64                `json:"paused_duration_ms"`
	Challenges           []models.Challenge   `json:"challenges"`
	ChallengeDurationSec int                  `json:"challenge_duration_sec"`
	ServerTime           time.Time            `json:"server_time"`
}

// ChallengeApp defines what the state provider needs from the lifecycle app.
type ChallengeApp interface {
	ListActive(ctx context.Context, gameID uuid.UUID, teamID *uuid.UUID) ([]models.Challenge, error)
	Duration() time.Duration
}

// SessionSource reads collaborator-owned game session state.
type SessionSource interface {
	GetSession(ctx context.Context, gameID uuid.UUID) (*models.GameSession, error)
}

// ChallengeStateProvider implements StateProvider over the lifecycle app and
// the session read adapter.
type ChallengeStateProvider struct {
	app      ChallengeApp
	sessions SessionSource
}

// NewChallengeStateProvider creates a new state provider.
func NewChallengeStateProvider(app ChallengeApp, sessions SessionSource) *ChallengeStateProvider {
	return &ChallengeStateProvider{app: app, sessions: sessions}
}

// GetGameState assembles the reconnect-reload payload for a game.
func (p *ChallengeStateProvider) GetGameState(ctx context.Context, gameID uuid.UUID) (*GameStateResponse, error) {
	session, err := p.sessions.GetSession(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	challenges, err := p.app.ListActive(ctx, gameID, nil)
	if err != nil {
		return nil, fmt.Errorf("list active challenges: %w", err)
	}
	if challenges == nil {
		challenges = []models.Challenge{}
	}

	return &GameStateResponse{
		GameID:               gameID.String(),
		SessionStatus:        session.Status,
		PausedDurationMs:     session.PausedDurationTotal.Milliseconds(),
		Challenges:           challenges,
		ChallengeDurationSec: int(p.app.Duration().Seconds()),
		ServerTime:           time.Now().UTC(),
	}, nil
}
