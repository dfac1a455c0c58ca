package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mkral/boomtown/go/internal/challenge/events"
	"github.com/mkral/boomtown/go/internal/lockpolicy"
	"github.com/mkral/boomtown/go/internal/models"
)

// DefaultChallengeDuration is the fixed active time a team gets to finish an
// assigned challenge.
const DefaultChallengeDuration = 10 * time.Minute

// ChallengeRepository defines what the app layer needs from the challenge store.
type ChallengeRepository interface {
	CreateChallenge(ctx context.Context, c *models.Challenge) (*models.Challenge, error)
	GetChallenge(ctx context.Context, id uuid.UUID) (*models.Challenge, error)
	ListLiveByGame(ctx context.Context, gameID uuid.UUID) ([]models.Challenge, error)
	ListLiveByTeam(ctx context.Context, gameID, teamID uuid.UUID) ([]models.Challenge, error)
	AssignChallenge(ctx context.Context, id uuid.UUID, req AssignChallengeRequest, assignedAt time.Time) (*models.Challenge, error)
	ResolveChallenge(ctx context.Context, id uuid.UUID, to models.ChallengeStatus, resolvedAt time.Time, from ...models.ChallengeStatus) (*models.Challenge, error)
	ShiftAssignedAt(ctx context.Context, gameID uuid.UUID, delta time.Duration) ([]models.Challenge, error)
	FetchDueForExpiry(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error)
}

// OutboxRepository defines what the app layer needs from the outbox.
type OutboxRepository interface {
	InsertEvent(ctx context.Context, typ events.Type, c *models.Challenge) error
}

// SessionSource reads collaborator-owned game session state.
type SessionSource interface {
	GetSession(ctx context.Context, gameID uuid.UUID) (*models.GameSession, error)
}

// App is the challenge lifecycle manager: the single component allowed to
// mutate challenge rows. Every transition validates against the current state
// and records its broadcast event before returning.
type App struct {
	repo     ChallengeRepository
	outbox   OutboxRepository
	sessions SessionSource
	clock    clockwork.Clock
	duration time.Duration
}

// NewApp creates a new challenge lifecycle App.
func NewApp(repo ChallengeRepository, outbox OutboxRepository, sessions SessionSource) *App {
	return &App{
		repo:     repo,
		outbox:   outbox,
		sessions: sessions,
		clock:    clockwork.NewRealClock(),
		duration: DefaultChallengeDuration,
	}
}

// WithClock overrides the clock, for tests.
func (a *App) WithClock(clock clockwork.Clock) *App {
	a.clock = clock
	return a
}

// WithDuration overrides the fixed challenge duration.
func (a *App) WithDuration(d time.Duration) *App {
	if d > 0 {
		a.duration = d
	}
	return a
}

// Duration returns the fixed active time per challenge.
func (a *App) Duration() time.Duration {
	return a.duration
}

// Now returns the app's current instant. All deadline arithmetic flows
// through the same clock.
func (a *App) Now() time.Time {
	return a.clock.Now().UTC()
}

// Request creates a challenge in REQUESTED, holding its lock key. The policy
// check here also covers cross-key collisions (a team-wide request against a
// live player-keyed challenge); the store's unique index settles same-key
// races by accepting exactly one writer.
func (a *App) Request(ctx context.Context, req RequestChallengeRequest) (*models.Challenge, error) {
	live, err := a.repo.ListLiveByTeam(ctx, req.GameID, req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("check team locks: %w", err)
	}
	if lock := lockpolicy.Evaluate(live, req.TeamID, req.PlayerID, req.HasSchool); lock.Locked {
		return nil, fmt.Errorf("%w: held by player %s (%s scope)", ErrLockConflict, lock.LockedBy, lock.Scope)
	}

	created, err := a.repo.CreateChallenge(ctx, &models.Challenge{
		ID:           uuid.New(),
		GameID:       req.GameID,
		PlayerID:     req.PlayerID,
		TeamID:       req.TeamID,
		ResourceKind: req.ResourceKind,
		HasSchool:    req.HasSchool,
		Status:       models.ChallengeStatusRequested,
		RequestedAt:  a.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	a.recordEvent(ctx, events.TypeChallengeRequested, created)

	log.Info().
		Str("challenge_id", created.ID.String()).
		Str("game_id", created.GameID.String()).
		Str("team_id", created.TeamID.String()).
		Str("resource_kind", string(created.ResourceKind)).
		Bool("has_school", created.HasSchool).
		Msg("challenge requested")
	return created, nil
}

// Assign moves a REQUESTED challenge to ASSIGNED, anchoring its deadline at
// the current instant.
func (a *App) Assign(ctx context.Context, id uuid.UUID, req AssignChallengeRequest) (*models.Challenge, error) {
	updated, err := a.repo.AssignChallenge(ctx, id, req, a.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			return nil, a.explainStaleWrite(ctx, id, models.ChallengeStatusRequested)
		}
		return nil, err
	}

	a.recordEvent(ctx, events.TypeChallengeAssigned, updated)

	log.Info().
		Str("challenge_id", updated.ID.String()).
		Str("activity_kind", updated.ActivityKind).
		Int("target_count", updated.TargetCount).
		Msg("challenge assigned")
	return updated, nil
}

// Complete moves an ASSIGNED challenge to COMPLETED. The resulting broadcast
// is the signal the production subsystem grants resources on; granting is not
// this engine's job.
func (a *App) Complete(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	return a.resolve(ctx, id, models.ChallengeStatusCompleted, models.ChallengeStatusAssigned)
}

// Cancel moves a REQUESTED or ASSIGNED challenge to CANCELLED.
func (a *App) Cancel(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	return a.resolve(ctx, id, models.ChallengeStatusCancelled,
		models.ChallengeStatusRequested, models.ChallengeStatusAssigned)
}

// resolve performs a terminal transition. Repeating a terminal operation on a
// challenge already in that terminal state is a no-op: it returns the existing
// row without error and without a second broadcast.
func (a *App) resolve(ctx context.Context, id uuid.UUID, to models.ChallengeStatus, from ...models.ChallengeStatus) (*models.Challenge, error) {
	updated, err := a.repo.ResolveChallenge(ctx, id, to, a.clock.Now().UTC(), from...)
	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			current, getErr := a.repo.GetChallenge(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == to {
				return current, nil
			}
			return nil, fmt.Errorf("%w: challenge is %s", ErrInvalidTransition, current.Status)
		}
		return nil, err
	}

	a.recordEvent(ctx, events.ForStatus(to), updated)

	log.Info().
		Str("challenge_id", updated.ID.String()).
		Str("status", string(updated.Status)).
		Msg("challenge resolved")
	return updated, nil
}

// ExpireIfDue expires an ASSIGNED challenge whose active time has run out.
// It never fires while the game session is paused, no matter how far past the
// nominal deadline the wall clock is, and it is a safe no-op on challenges
// that are not due or already terminal. The bool reports whether this call
// performed the transition.
func (a *App) ExpireIfDue(ctx context.Context, id uuid.UUID, now time.Time) (*models.Challenge, bool, error) {
	current, err := a.repo.GetChallenge(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if current.Status != models.ChallengeStatusAssigned {
		return current, false, nil
	}

	session, err := a.sessions.GetSession(ctx, current.GameID)
	if err != nil {
		return nil, false, fmt.Errorf("read session for expiry check: %w", err)
	}
	if session.Status == models.SessionStatusPaused {
		return current, false, nil
	}

	if now.Sub(*current.AssignedAt) < a.duration {
		return current, false, nil
	}

	updated, err := a.repo.ResolveChallenge(ctx, id, models.ChallengeStatusExpired, now.UTC(),
		models.ChallengeStatusAssigned)
	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			// Lost a race with Complete/Cancel; the terminal state stands.
			current, getErr := a.repo.GetChallenge(ctx, id)
			return current, false, getErr
		}
		return nil, false, err
	}

	a.recordEvent(ctx, events.TypeChallengeExpired, updated)

	log.Info().
		Str("challenge_id", updated.ID.String()).
		Time("resolved_at", *updated.ResolvedAt).
		Msg("challenge expired")
	return updated, true, nil
}

// AdjustForPause shifts the deadline anchor of every live ASSIGNED challenge
// of the game forward by the pause duration and broadcasts the corrected rows,
// so total active time is invariant under any number of pause/resume cycles.
func (a *App) AdjustForPause(ctx context.Context, gameID uuid.UUID, pauseDuration time.Duration) (int, error) {
	if pauseDuration <= 0 {
		return 0, fmt.Errorf("pause duration must be positive, got %s", pauseDuration)
	}

	adjusted, err := a.repo.ShiftAssignedAt(ctx, gameID, pauseDuration)
	if err != nil {
		return 0, err
	}

	for i := range adjusted {
		a.recordEvent(ctx, events.TypeChallengeAssigned, &adjusted[i])
	}

	log.Info().
		Str("game_id", gameID.String()).
		Dur("pause_duration", pauseDuration).
		Int("adjusted", len(adjusted)).
		Msg("shifted challenge deadlines for pause")
	return len(adjusted), nil
}

// CheckLock runs the advisory lock check a client uses for immediate UI
// feedback before attempting a request. Request repeats the check
// authoritatively; this result is never trusted for correctness.
func (a *App) CheckLock(ctx context.Context, gameID, teamID, playerID uuid.UUID, hasSchool bool) (lockpolicy.Lock, error) {
	live, err := a.repo.ListLiveByTeam(ctx, gameID, teamID)
	if err != nil {
		return lockpolicy.Lock{}, fmt.Errorf("check lock: %w", err)
	}
	return lockpolicy.Evaluate(live, teamID, playerID, hasSchool), nil
}

// ListActive returns every live challenge of a game, optionally filtered to a
// team. This is the full-reload source clients reconcile against.
func (a *App) ListActive(ctx context.Context, gameID uuid.UUID, teamID *uuid.UUID) ([]models.Challenge, error) {
	if teamID != nil {
		return a.repo.ListLiveByTeam(ctx, gameID, *teamID)
	}
	return a.repo.ListLiveByGame(ctx, gameID)
}

// DueForExpiry returns ids of assigned challenges whose active time has run
// out as of now. Used by the expiry sweep; ExpireIfDue re-validates each.
func (a *App) DueForExpiry(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	cutoff := a.clock.Now().Add(-a.duration)
	return a.repo.FetchDueForExpiry(ctx, cutoff, limit)
}

// explainStaleWrite turns a conditional-update miss into the caller-facing
// error: the id is unknown, or the challenge is not in the expected state.
func (a *App) explainStaleWrite(ctx context.Context, id uuid.UUID, want models.ChallengeStatus) error {
	current, err := a.repo.GetChallenge(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: challenge is %s, want %s", ErrInvalidTransition, current.Status, want)
}

// recordEvent writes the broadcast event for a transition. A failed write
// loses one push notification, which reconnect-reload heals; the state change
// itself already committed, so the command must not fail.
func (a *App) recordEvent(ctx context.Context, typ events.Type, c *models.Challenge) {
	if err := a.outbox.InsertEvent(ctx, typ, c); err != nil {
		log.Error().
			Err(err).
			Str("challenge_id", c.ID.String()).
			Str("event_type", string(typ)).
			Msg("failed to record broadcast event")
	}
}
