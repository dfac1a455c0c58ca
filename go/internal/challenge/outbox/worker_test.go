package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mkral/boomtown/go/internal/challenge/events"
)

type fakePublisher struct {
	failGames map[uuid.UUID]bool // every publish for the game fails
	failOnce  map[uuid.UUID]bool // one publish fails, then the game recovers
	sent      []uuid.UUID
}

func (p *fakePublisher) Publish(_ context.Context, event Event) error {
	if p.failGames[event.GameID] {
		return errors.New("stream unavailable")
	}
	if p.failOnce[event.GameID] {
		delete(p.failOnce, event.GameID)
		return errors.New("stream unavailable")
	}
	p.sent = append(p.sent, event.ID)
	return nil
}

func TestPublishBatchSkipsOnlyFailedGame(t *testing.T) {
	gameA, gameB := uuid.New(), uuid.New()
	pub := &fakePublisher{failGames: map[uuid.UUID]bool{gameA: true}}
	w := NewWorker(nil, nil, pub, DefaultConfig())

	batch := []Event{
		{ID: uuid.New(), GameID: gameA, EventType: events.TypeChallengeRequested},
		{ID: uuid.New(), GameID: gameB, EventType: events.TypeChallengeRequested},
		{ID: uuid.New(), GameID: gameA, EventType: events.TypeChallengeAssigned},
		{ID: uuid.New(), GameID: gameB, EventType: events.TypeChallengeAssigned},
	}

	sent := w.publishBatch(context.Background(), batch)
	if len(sent) != 2 || sent[0] != batch[1].ID || sent[1] != batch[3].ID {
		t.Fatalf("expected game B's events sent in order, got %v", sent)
	}
}

func TestPublishBatchHoldsGameOrderAfterFailure(t *testing.T) {
	// Once one of a game's events fails, its later events wait for the next
	// cycle even if the stream has recovered; the per-game subject never sees
	// events out of insertion order.
	game := uuid.New()
	pub := &fakePublisher{failOnce: map[uuid.UUID]bool{game: true}}
	w := NewWorker(nil, nil, pub, DefaultConfig())

	batch := []Event{
		{ID: uuid.New(), GameID: game, EventType: events.TypeChallengeRequested},
		{ID: uuid.New(), GameID: game, EventType: events.TypeChallengeAssigned},
	}

	if sent := w.publishBatch(context.Background(), batch); len(sent) != 0 {
		t.Fatalf("expected no events sent this cycle, got %v", sent)
	}

	// The retry cycle drains both, in order.
	sent := w.publishBatch(context.Background(), batch)
	if len(sent) != 2 || sent[0] != batch[0].ID || sent[1] != batch[1].ID {
		t.Fatalf("expected both events sent in order on retry, got %v", sent)
	}
}
