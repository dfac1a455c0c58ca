package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mkral/boomtown/go/internal/challenge/events"
	"github.com/mkral/boomtown/go/internal/models"
	"github.com/mkral/boomtown/go/internal/sqlutil"
)

// Repository implements outbox data access over Postgres.
type Repository struct {
	db sqlutil.DB
}

// NewRepository creates a new outbox repository.
func NewRepository(db sqlutil.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *Repository) WithTx(tx pgx.Tx) *Repository {
	return &Repository{db: tx}
}

// InsertEvent records a lifecycle event for the given challenge. The payload
// is the full challenge, so consumers can treat the event as an upsert.
func (r *Repository) InsertEvent(ctx context.Context, typ events.Type, c *models.Challenge) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO challenge_outbox (id, game_id, challenge_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), c.GameID, c.ID, typ, payload,
	)
	if err != nil {
		return fmt.Errorf("insert %s outbox event: %w", typ, err)
	}
	return nil
}

// FetchUnsent returns unpublished events oldest-first, locking the rows so
// concurrent workers never double-publish.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, game_id, challenge_id, event_type, payload, created_at, sent_at
		FROM challenge_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.GameID, &e.ChallengeID, &e.EventType, &e.Payload, &e.CreatedAt, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkSent stamps the given events as published.
func (r *Repository) MarkSent(ctx context.Context, ids []uuid.UUID, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE challenge_outbox SET sent_at = $2 WHERE id = ANY($1)`, ids, sentAt)
	if err != nil {
		return fmt.Errorf("mark outbox events sent: %w", err)
	}
	return nil
}
