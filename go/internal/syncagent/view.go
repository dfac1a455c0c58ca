// Package syncagent is the client-side half of the challenge protocol: it
// keeps a per-client reconciled view of a game's live challenges, merging
// authoritative full reloads with incremental push events, and recomputes
// countdowns locally so rendering never waits on the network.
package syncagent

import (
	"sync"
	"time"

	"github.com/mkral/boomtown/go/internal/challenge/events"
	"github.com/mkral/boomtown/go/internal/lockpolicy"
	"github.com/mkral/boomtown/go/internal/models"
)

// View is the local challenge cache, keyed the same way the server locks:
// one entry per lock key. It is never authoritative; a full reload replaces
// it wholesale and any event is trusted over the cached row.
type View struct {
	mu         sync.Mutex
	challenges map[lockpolicy.LockKey]models.Challenge
	duration   time.Duration

	sessionStatus models.SessionStatus
	pausedAt      *time.Time
	// pending is locally observed pause time per lock key, accrued only for
	// the span a pause overlapped that challenge's assigned window.
	// Presentation only: it keeps a countdown frozen across a pause until
	// the server's corrected anchor arrives, then drops.
	pending map[lockpolicy.LockKey]time.Duration
}

// NewView creates an empty view with the given challenge duration.
func NewView(duration time.Duration) *View {
	return &View{
		challenges:    make(map[lockpolicy.LockKey]models.Challenge),
		pending:       make(map[lockpolicy.LockKey]time.Duration),
		duration:      duration,
		sessionStatus: models.SessionStatusInProgress,
	}
}

// Replace swaps in the authoritative full-reload state as of asOf (the
// server's timestamp on the snapshot). Local pause accounting resets: the
// reloaded anchors already include every server-side shift. Anchors are only
// shifted on resume, so a reload landing mid-pause still needs a freeze
// point; asOf serves when no earlier one was observed locally.
func (v *View) Replace(challenges []models.Challenge, status models.SessionStatus, duration time.Duration, asOf time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.challenges = make(map[lockpolicy.LockKey]models.Challenge, len(challenges))
	for _, c := range challenges {
		v.challenges[lockpolicy.KeyForChallenge(&c)] = c
	}
	if duration > 0 {
		v.duration = duration
	}
	v.sessionStatus = status
	v.pending = make(map[lockpolicy.LockKey]time.Duration)
	if status == models.SessionStatusPaused {
		if v.pausedAt == nil {
			at := asOf
			v.pausedAt = &at
		}
	} else {
		v.pausedAt = nil
	}
}

// ApplyEvent folds one push event into the view. Unknown challenges are
// inserted as authoritative (events can arrive out of order relative to the
// last reload); terminal events remove the entry and free the lock key.
func (v *View) ApplyEvent(env *events.Envelope) {
	v.mu.Lock()
	defer v.mu.Unlock()

	c := env.Challenge
	key := lockpolicy.KeyForChallenge(&c)

	if env.Type.IsTerminal() {
		delete(v.challenges, key)
		delete(v.pending, key)
		return
	}

	// A fresh anchor — a new challenge at this key, or the server's pause
	// correction landing on a known one — supersedes whatever pause time was
	// accrued locally for the key.
	if prev, ok := v.challenges[key]; !ok || prev.ID != c.ID || !anchorsEqual(prev.AssignedAt, c.AssignedAt) {
		delete(v.pending, key)
	}
	v.challenges[key] = c
}

func anchorsEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// NotePaused records a locally observed pause so countdowns freeze.
func (v *View) NotePaused(at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pausedAt == nil {
		v.pausedAt = &at
	}
	v.sessionStatus = models.SessionStatusPaused
}

// NoteResumed closes the local pause, crediting each assigned challenge with
// the span the pause overlapped its assigned window. A challenge assigned
// after the pause ended accrues nothing; its anchor already postdates the
// pause. Countdowns keep using the credit until the corrected assigned_at
// arrives.
func (v *View) NoteResumed(at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pausedAt != nil {
		for key, c := range v.challenges {
			if c.AssignedAt == nil || !c.AssignedAt.Before(at) {
				continue
			}
			start := *v.pausedAt
			if c.AssignedAt.After(start) {
				start = *c.AssignedAt
			}
			v.pending[key] += at.Sub(start)
		}
		v.pausedAt = nil
	}
	v.sessionStatus = models.SessionStatusInProgress
}

// Paused reports whether the view currently considers the game paused.
func (v *View) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessionStatus == models.SessionStatusPaused
}

// Get returns the challenge holding the given lock key, if any.
func (v *View) Get(key lockpolicy.LockKey) (models.Challenge, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.challenges[key]
	return c, ok
}

// Len returns the number of live challenges in the view.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.challenges)
}

// Countdown pairs a cached challenge with its locally computed remaining
// active time.
type Countdown struct {
	Challenge models.Challenge
	Remaining time.Duration
}

// Countdowns recomputes every assigned challenge's remaining time at now,
// without any server round-trip.
func (v *View) Countdowns(now time.Time) []Countdown {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Countdown, 0, len(v.challenges))
	for _, c := range v.challenges {
		if c.Status != models.ChallengeStatusAssigned || c.AssignedAt == nil {
			continue
		}
		out = append(out, Countdown{Challenge: c, Remaining: v.remainingLocked(&c, now)})
	}
	return out
}

// Remaining computes one challenge's remaining active time at now.
func (v *View) Remaining(c *models.Challenge, now time.Time) time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.remainingLocked(c, now)
}

func (v *View) remainingLocked(c *models.Challenge, now time.Time) time.Duration {
	if c.AssignedAt == nil {
		return 0
	}
	end := now
	if v.pausedAt != nil && v.pausedAt.Before(now) {
		end = *v.pausedAt
	}
	elapsed := end.Sub(*c.AssignedAt) - v.pending[lockpolicy.KeyForChallenge(c)]
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := v.duration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}
