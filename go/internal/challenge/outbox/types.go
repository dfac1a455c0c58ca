package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mkral/boomtown/go/internal/challenge/events"
)

// Event is a row of the challenge_outbox table: a lifecycle event recorded
// alongside the state change, awaiting publication to the broadcast stream.
type Event struct {
	ID          uuid.UUID
	GameID      uuid.UUID
	ChallengeID uuid.UUID
	EventType   events.Type
	Payload     []byte
	CreatedAt   time.Time
	SentAt      *time.Time
}

// EventPublisher pushes a recorded event onto the broadcast stream.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
