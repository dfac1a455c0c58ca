// Package gamesession is a thin read adapter over the collaborator-owned
// game_sessions table. The challenge engine only ever reads session state;
// writes belong to the game management subsystem.
package gamesession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mkral/boomtown/go/internal/models"
	"github.com/mkral/boomtown/go/internal/sqlutil"
)

// ErrNotFound is returned for an unknown game session id.
var ErrNotFound = errors.New("game session not found")

// Repository reads game session state.
type Repository struct {
	db sqlutil.DB
}

// NewRepository creates a new game session read adapter.
func NewRepository(db sqlutil.DB) *Repository {
	return &Repository{db: db}
}

// GetSession retrieves a session's status and accumulated pause duration.
func (r *Repository) GetSession(ctx context.Context, gameID uuid.UUID) (*models.GameSession, error) {
	var (
		s        models.GameSession
		pausedMs int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, code, status, paused_duration_ms, paused_at, started_at
		FROM game_sessions WHERE id = $1`, gameID,
	).Scan(&s.ID, &s.Code, &s.Status, &pausedMs, &s.PausedAt, &s.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get game session: %w", err)
	}
	s.PausedDurationTotal = time.Duration(pausedMs) * time.Millisecond
	return &s, nil
}
