package challenge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The partial unique index on lock_key is the store-level serialization point:
// when two requests race for the same key, the database accepts exactly one.
const schema = `
CREATE TABLE IF NOT EXISTS challenges (
    id                   UUID PRIMARY KEY,
    game_id              UUID NOT NULL,
    player_id            UUID NOT NULL,
    team_id              UUID NOT NULL,
    resource_kind        TEXT NOT NULL,
    has_school           BOOLEAN NOT NULL,
    lock_key             TEXT NOT NULL,
    status               TEXT NOT NULL,
    activity_kind        TEXT NOT NULL DEFAULT '',
    activity_description TEXT NOT NULL DEFAULT '',
    target_count         INTEGER NOT NULL DEFAULT 0,
    requested_at         TIMESTAMPTZ NOT NULL,
    assigned_at          TIMESTAMPTZ,
    resolved_at          TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS challenges_live_lock_key
    ON challenges (lock_key)
    WHERE status IN ('REQUESTED', 'ASSIGNED');

CREATE INDEX IF NOT EXISTS challenges_game_live
    ON challenges (game_id)
    WHERE status IN ('REQUESTED', 'ASSIGNED');

CREATE INDEX IF NOT EXISTS challenges_due
    ON challenges (assigned_at)
    WHERE status = 'ASSIGNED';

CREATE TABLE IF NOT EXISTS challenge_outbox (
    id           UUID PRIMARY KEY,
    game_id      UUID NOT NULL,
    challenge_id UUID NOT NULL,
    event_type   TEXT NOT NULL,
    payload      JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS challenge_outbox_unsent
    ON challenge_outbox (created_at)
    WHERE sent_at IS NULL;
`

// EnsureSchema creates the challenge tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure challenge schema: %w", err)
	}
	return nil
}
