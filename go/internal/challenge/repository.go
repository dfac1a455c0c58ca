package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mkral/boomtown/go/internal/lockpolicy"
	"github.com/mkral/boomtown/go/internal/models"
	"github.com/mkral/boomtown/go/internal/sqlutil"
)

const pgUniqueViolation = "23505"

const challengeColumns = `id, game_id, player_id, team_id, resource_kind, has_school,
	status, activity_kind, activity_description, target_count,
	requested_at, assigned_at, resolved_at`

// Repository implements challenge data access over Postgres.
type Repository struct {
	db sqlutil.DB
}

// NewRepository creates a new challenge repository.
func NewRepository(db sqlutil.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

// CreateChallenge persists a new challenge. The partial unique index on
// lock_key turns a same-key race into a unique violation for the loser, which
// surfaces as ErrLockConflict.
func (r *Repository) CreateChallenge(ctx context.Context, c *models.Challenge) (*models.Challenge, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO challenges (
			id, game_id, player_id, team_id, resource_kind, has_school,
			lock_key, status, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+challengeColumns,
		c.ID, c.GameID, c.PlayerID, c.TeamID, c.ResourceKind, c.HasSchool,
		lockpolicy.KeyForChallenge(c).String(), c.Status, c.RequestedAt,
	)
	created, err := scanChallenge(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrLockConflict
		}
		return nil, fmt.Errorf("create challenge: %w", err)
	}
	return created, nil
}

// GetChallenge retrieves a challenge by id.
func (r *Repository) GetChallenge(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	c, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	return c, nil
}

// ListLiveByGame returns every REQUESTED or ASSIGNED challenge of a game.
func (r *Repository) ListLiveByGame(ctx context.Context, gameID uuid.UUID) ([]models.Challenge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE game_id = $1 AND status IN ('REQUESTED', 'ASSIGNED')
		ORDER BY requested_at`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list live challenges: %w", err)
	}
	return collectChallenges(rows)
}

// ListLiveByTeam returns a team's live challenges in a game.
func (r *Repository) ListLiveByTeam(ctx context.Context, gameID, teamID uuid.UUID) ([]models.Challenge, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+challengeColumns+` FROM challenges
		WHERE game_id = $1 AND team_id = $2 AND status IN ('REQUESTED', 'ASSIGNED')
		ORDER BY requested_at`, gameID, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team live challenges: %w", err)
	}
	return collectChallenges(rows)
}

// AssignChallenge moves a REQUESTED challenge to ASSIGNED with its activity.
// Returns pgx.ErrNoRows wrapped as ErrStaleWrite when the challenge is not in
// REQUESTED; the app distinguishes missing vs wrong-state with a fresh read.
func (r *Repository) AssignChallenge(ctx context.Context, id uuid.UUID, req AssignChallengeRequest, assignedAt time.Time) (*models.Challenge, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE challenges
		SET status = $2, activity_kind = $3, activity_description = $4,
		    target_count = $5, assigned_at = $6
		WHERE id = $1 AND status = $7
		RETURNING `+challengeColumns,
		id, models.ChallengeStatusAssigned, req.ActivityKind, req.ActivityDescription,
		req.TargetCount, assignedAt, models.ChallengeStatusRequested,
	)
	c, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleWrite
		}
		return nil, fmt.Errorf("assign challenge: %w", err)
	}
	return c, nil
}

// ResolveChallenge moves a challenge into a terminal status, conditional on
// its current status being one of from. The deadline anchor is cleared:
// assigned_at is non-null exactly while the row is ASSIGNED.
func (r *Repository) ResolveChallenge(ctx context.Context, id uuid.UUID, to models.ChallengeStatus, resolvedAt time.Time, from ...models.ChallengeStatus) (*models.Challenge, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	row := r.db.QueryRow(ctx, `
		UPDATE challenges
		SET status = $2, resolved_at = $3, assigned_at = NULL
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+challengeColumns,
		id, to, resolvedAt, fromStrs,
	)
	c, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleWrite
		}
		return nil, fmt.Errorf("resolve challenge: %w", err)
	}
	return c, nil
}

// ShiftAssignedAt adds delta to assigned_at for every live ASSIGNED challenge
// of a game and returns the corrected rows. This is the freeze-and-shift pause
// adjustment: reads after a resume already carry the shifted anchor.
func (r *Repository) ShiftAssignedAt(ctx context.Context, gameID uuid.UUID, delta time.Duration) ([]models.Challenge, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE challenges
		SET assigned_at = assigned_at + ($2::bigint * interval '1 millisecond')
		WHERE game_id = $1 AND status = 'ASSIGNED'
		RETURNING `+challengeColumns,
		gameID, delta.Milliseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("shift assigned_at: %w", err)
	}
	return collectChallenges(rows)
}

// FetchDueForExpiry returns ids of ASSIGNED challenges whose anchor is at or
// before cutoff. The app re-checks pause state before expiring.
func (r *Repository) FetchDueForExpiry(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id FROM challenges
		WHERE status = 'ASSIGNED' AND assigned_at <= $1
		ORDER BY assigned_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due challenges: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due challenge id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanChallenge(row pgx.Row) (*models.Challenge, error) {
	var c models.Challenge
	err := row.Scan(
		&c.ID, &c.GameID, &c.PlayerID, &c.TeamID, &c.ResourceKind, &c.HasSchool,
		&c.Status, &c.ActivityKind, &c.ActivityDescription, &c.TargetCount,
		&c.RequestedAt, &c.AssignedAt, &c.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectChallenges(rows pgx.Rows) ([]models.Challenge, error) {
	defer rows.Close()
	var out []models.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
