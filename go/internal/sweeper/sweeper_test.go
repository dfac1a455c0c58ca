package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkral/boomtown/go/internal/models"
)

type fakeExpirer struct {
	mu      sync.Mutex
	due     []uuid.UUID
	expired      []uuid.UUID
	shouldExpire map[uuid.UUID]bool
}

func (f *fakeExpirer) DueForExpiry(_ context.Context, limit int32) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int32(len(f.due)) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeExpirer) ExpireIfDue(_ context.Context, id uuid.UUID, _ time.Time) (*models.Challenge, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shouldExpire[id] {
		return &models.Challenge{ID: id, Status: models.ChallengeStatusAssigned}, false, nil
	}
	f.expired = append(f.expired, id)
	return &models.Challenge{ID: id, Status: models.ChallengeStatusExpired}, true, nil
}

func (f *fakeExpirer) expiredIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, len(f.expired))
	copy(out, f.expired)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestSweepExpiresDueChallenges(t *testing.T) {
	dueID := uuid.New()
	notDueID := uuid.New()
	fake := &fakeExpirer{
		due:          []uuid.UUID{dueID, notDueID},
		shouldExpire: map[uuid.UUID]bool{dueID: true},
	}

	s := NewSweeper(fake, DefaultConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Wake()
	waitFor(t, func() bool {
		ids := fake.expiredIDs()
		return len(ids) == 1 && ids[0] == dueID
	})

	cancel()
	<-done
}

func TestSweepRespectsBatchSize(t *testing.T) {
	fake := &fakeExpirer{shouldExpire: map[uuid.UUID]bool{}}
	for i := 0; i < 10; i++ {
		id := uuid.New()
		fake.due = append(fake.due, id)
		fake.shouldExpire[id] = true
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 3
	s := NewSweeper(fake, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Wake()
	waitFor(t, func() bool { return len(fake.expiredIDs()) >= 3 })

	cancel()
	<-done
}

func TestSweepSkipsInFlight(t *testing.T) {
	id := uuid.New()
	fake := &fakeExpirer{
		due:          []uuid.UUID{id},
		shouldExpire: map[uuid.UUID]bool{id: true},
	}

	s := NewSweeper(fake, DefaultConfig(), zerolog.Nop())
	s.inFlightMu.Lock()
	s.inFlight[id] = true
	s.inFlightMu.Unlock()

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(fake.expiredIDs()) != 0 {
		t.Fatalf("expected in-flight challenge to be skipped")
	}
}
