package syncagent

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkral/boomtown/go/internal/challenge/events"
	"github.com/mkral/boomtown/go/internal/lockpolicy"
	"github.com/mkral/boomtown/go/internal/models"
)

func makeChallenge(teamID uuid.UUID, status models.ChallengeStatus, assignedAt *time.Time) models.Challenge {
	return models.Challenge{
		ID:           uuid.New(),
		GameID:       uuid.New(),
		PlayerID:     uuid.New(),
		TeamID:       teamID,
		ResourceKind: models.ResourceKindFarm,
		Status:       status,
		RequestedAt:  time.Now().UTC(),
		AssignedAt:   assignedAt,
	}
}

func envelope(typ events.Type, c models.Challenge) *events.Envelope {
	return &events.Envelope{
		ID:        uuid.NewString(),
		GameID:    c.GameID.String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Challenge: c,
	}
}

func TestApplyEventInsertsAndRemoves(t *testing.T) {
	view := NewView(10 * time.Minute)
	teamID := uuid.New()
	c := makeChallenge(teamID, models.ChallengeStatusRequested, nil)

	view.ApplyEvent(envelope(events.TypeChallengeRequested, c))
	if view.Len() != 1 {
		t.Fatalf("expected 1 challenge after request event, got %d", view.Len())
	}

	key := lockpolicy.KeyForChallenge(&c)
	got, ok := view.Get(key)
	if !ok {
		t.Fatalf("expected challenge under key %s", key)
	}
	if got.ID != c.ID {
		t.Fatalf("expected challenge %s, got %s", c.ID, got.ID)
	}

	c.Status = models.ChallengeStatusCompleted
	view.ApplyEvent(envelope(events.TypeChallengeCompleted, c))
	if view.Len() != 0 {
		t.Fatalf("expected terminal event to remove challenge, got %d entries", view.Len())
	}
}

func TestEventReplayMatchesFullReload(t *testing.T) {
	// A client that replays every event must end up with the same view as a
	// client that only does the final full reload.
	teamA := uuid.New()
	teamB := uuid.New()
	now := time.Now().UTC()

	a := makeChallenge(teamA, models.ChallengeStatusRequested, nil)
	b := makeChallenge(teamB, models.ChallengeStatusRequested, nil)

	replayed := NewView(10 * time.Minute)
	replayed.ApplyEvent(envelope(events.TypeChallengeRequested, a))
	replayed.ApplyEvent(envelope(events.TypeChallengeRequested, b))

	a.Status = models.ChallengeStatusAssigned
	a.AssignedAt = &now
	replayed.ApplyEvent(envelope(events.TypeChallengeAssigned, a))

	b.Status = models.ChallengeStatusCancelled
	replayed.ApplyEvent(envelope(events.TypeChallengeCancelled, b))

	reloaded := NewView(10 * time.Minute)
	reloaded.Replace([]models.Challenge{a}, models.SessionStatusInProgress, 10*time.Minute, now)

	if replayed.Len() != reloaded.Len() {
		t.Fatalf("replayed view has %d entries, reloaded has %d", replayed.Len(), reloaded.Len())
	}
	keyA := lockpolicy.KeyForChallenge(&a)
	fromReplay, ok := replayed.Get(keyA)
	if !ok {
		t.Fatalf("replayed view missing team A challenge")
	}
	fromReload, ok := reloaded.Get(keyA)
	if !ok {
		t.Fatalf("reloaded view missing team A challenge")
	}
	if fromReplay.ID != fromReload.ID || fromReplay.Status != fromReload.Status {
		t.Fatalf("views diverged: replay=%+v reload=%+v", fromReplay, fromReload)
	}
}

func TestRemainingCountsDown(t *testing.T) {
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()
	assignedAt := now.Add(-3 * time.Minute)
	c := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &assignedAt)
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, c))

	remaining := view.Remaining(&c, now)
	if remaining != 7*time.Minute {
		t.Fatalf("expected 7m remaining, got %s", remaining)
	}

	remaining = view.Remaining(&c, now.Add(8*time.Minute))
	if remaining != 0 {
		t.Fatalf("expected remaining clamped to 0, got %s", remaining)
	}
}

func TestRemainingFreezesWhilePaused(t *testing.T) {
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()
	assignedAt := now.Add(-3 * time.Minute)
	c := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &assignedAt)
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, c))

	view.NotePaused(now)
	if !view.Paused() {
		t.Fatalf("expected paused view")
	}

	// Wall clock marches 12 minutes while paused; the countdown must not move.
	remaining := view.Remaining(&c, now.Add(12*time.Minute))
	if remaining != 7*time.Minute {
		t.Fatalf("expected countdown frozen at 7m, got %s", remaining)
	}

	// After resume the 12 paused minutes are excluded from elapsed time.
	view.NoteResumed(now.Add(12 * time.Minute))
	remaining = view.Remaining(&c, now.Add(14*time.Minute))
	if remaining != 5*time.Minute {
		t.Fatalf("expected 5m remaining after resume, got %s", remaining)
	}
}

func TestCorrectedAnchorSupersedesLocalPause(t *testing.T) {
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()
	assignedAt := now.Add(-3 * time.Minute)
	c := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &assignedAt)
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, c))

	view.NotePaused(now)
	view.NoteResumed(now.Add(2 * time.Minute))

	// The server shifts assigned_at by the pause and rebroadcasts; the
	// corrected anchor replaces the local accounting without double counting.
	shifted := assignedAt.Add(2 * time.Minute)
	c.AssignedAt = &shifted
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, c))

	remaining := view.Remaining(&c, now.Add(2*time.Minute))
	if remaining != 7*time.Minute {
		t.Fatalf("expected 7m remaining after anchor correction, got %s", remaining)
	}
}

func TestReplaceResetsPauseAccounting(t *testing.T) {
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()
	view.NotePaused(now)
	view.NoteResumed(now.Add(time.Minute))

	assignedAt := now
	c := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &assignedAt)
	view.Replace([]models.Challenge{c}, models.SessionStatusInProgress, 10*time.Minute, now.Add(time.Minute))

	// Reloaded anchors are already pause-corrected; stale local accounting
	// must not skew them.
	remaining := view.Remaining(&c, now.Add(4*time.Minute))
	if remaining != 6*time.Minute {
		t.Fatalf("expected 6m remaining after reload, got %s", remaining)
	}
}

func TestPauseBeforeAssignmentDoesNotInflate(t *testing.T) {
	// A pause observed while nothing was assigned belongs to nobody. A
	// challenge anchored after the resume runs its plain duration.
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()

	view.NotePaused(now)
	view.NoteResumed(now.Add(5 * time.Minute))

	assignedAt := now.Add(6 * time.Minute)
	c := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &assignedAt)
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, c))

	if remaining := view.Remaining(&c, assignedAt); remaining != 10*time.Minute {
		t.Fatalf("expected full 10m at assignment instant, got %s", remaining)
	}
	if remaining := view.Remaining(&c, assignedAt.Add(4*time.Minute)); remaining != 6*time.Minute {
		t.Fatalf("expected 6m remaining, got %s", remaining)
	}
}

func TestPauseAccountingIsPerChallenge(t *testing.T) {
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()

	beforeAnchor := now.Add(-2 * time.Minute)
	before := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &beforeAnchor)
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, before))

	view.NotePaused(now)
	view.NoteResumed(now.Add(3 * time.Minute))

	afterAnchor := now.Add(4 * time.Minute)
	after := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &afterAnchor)
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, after))

	// The pre-pause challenge carries the 3 paused minutes; the post-resume
	// one never saw them.
	at := now.Add(5 * time.Minute)
	if remaining := view.Remaining(&before, at); remaining != 6*time.Minute {
		t.Fatalf("expected 6m remaining for pre-pause challenge, got %s", remaining)
	}
	if remaining := view.Remaining(&after, at); remaining != 9*time.Minute {
		t.Fatalf("expected 9m remaining for post-resume challenge, got %s", remaining)
	}
}

func TestReplaceWhilePausedFreezesCountdown(t *testing.T) {
	// A reload landing mid-pause returns pre-shift anchors; the snapshot
	// instant becomes the freeze point so the countdown does not drain.
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()
	assignedAt := now.Add(-4 * time.Minute)
	c := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &assignedAt)

	view.Replace([]models.Challenge{c}, models.SessionStatusPaused, 10*time.Minute, now)

	if !view.Paused() {
		t.Fatalf("expected paused view after mid-pause reload")
	}
	if remaining := view.Remaining(&c, now.Add(8*time.Minute)); remaining != 6*time.Minute {
		t.Fatalf("expected countdown frozen at 6m, got %s", remaining)
	}
}

func TestCountdownsSkipUnassigned(t *testing.T) {
	view := NewView(10 * time.Minute)
	now := time.Now().UTC()
	requested := makeChallenge(uuid.New(), models.ChallengeStatusRequested, nil)
	assignedAt := now.Add(-time.Minute)
	assigned := makeChallenge(uuid.New(), models.ChallengeStatusAssigned, &assignedAt)

	view.ApplyEvent(envelope(events.TypeChallengeRequested, requested))
	view.ApplyEvent(envelope(events.TypeChallengeAssigned, assigned))

	countdowns := view.Countdowns(now)
	if len(countdowns) != 1 {
		t.Fatalf("expected 1 countdown, got %d", len(countdowns))
	}
	if countdowns[0].Challenge.ID != assigned.ID {
		t.Fatalf("expected countdown for assigned challenge")
	}
}
