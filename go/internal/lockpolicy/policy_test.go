package lockpolicy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mkral/boomtown/go/internal/models"
)

var (
	teamA   = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	teamB   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	playerA = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	playerB = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
)

func live(teamID, playerID uuid.UUID, school bool, status models.ChallengeStatus) models.Challenge {
	return models.Challenge{
		ID:           uuid.New(),
		TeamID:       teamID,
		PlayerID:     playerID,
		HasSchool:    school,
		ResourceKind: models.ResourceKindFarm,
		Status:       status,
	}
}

func TestKeyForScope(t *testing.T) {
	k := KeyFor(teamA, playerA, false)
	if k.Scope != ScopeTeam || k.TeamID != teamA {
		t.Fatalf("expected team key, got %+v", k)
	}
	k = KeyFor(teamA, playerA, true)
	if k.Scope != ScopePlayer || k.PlayerID != playerA {
		t.Fatalf("expected player key, got %+v", k)
	}
}

func TestKeyStringDistinct(t *testing.T) {
	team := KeyFor(teamA, playerA, false).String()
	player := KeyFor(teamA, playerA, true).String()
	if team == player {
		t.Fatalf("team and player keys must not collide: %q", team)
	}
	if team != "team:"+teamA.String() {
		t.Fatalf("unexpected team key %q", team)
	}
	if player != "player:"+playerA.String() {
		t.Fatalf("unexpected player key %q", player)
	}
}

func TestEvaluateTeamWideLockCrossesResources(t *testing.T) {
	// No school: a live farm challenge blocks the whole team, mine included.
	challenges := []models.Challenge{live(teamA, playerA, false, models.ChallengeStatusRequested)}

	lock := Evaluate(challenges, teamA, playerB, false)
	if !lock.Locked || lock.Scope != ScopeTeam {
		t.Fatalf("expected team-wide lock, got %+v", lock)
	}
	if lock.LockedBy != playerA {
		t.Fatalf("expected lock held by %s, got %s", playerA, lock.LockedBy)
	}

	// A different team is unaffected.
	if l := Evaluate(challenges, teamB, playerB, false); l.Locked {
		t.Fatalf("other team should not be locked: %+v", l)
	}
}

func TestEvaluatePlayerScopeAllowsTeammates(t *testing.T) {
	challenges := []models.Challenge{live(teamA, playerA, true, models.ChallengeStatusAssigned)}

	if l := Evaluate(challenges, teamA, playerB, true); l.Locked {
		t.Fatalf("teammate should be free under school locking: %+v", l)
	}
	l := Evaluate(challenges, teamA, playerA, true)
	if !l.Locked || l.Scope != ScopePlayer || l.LockedBy != playerA {
		t.Fatalf("requester should be self-locked: %+v", l)
	}
}

func TestEvaluatePlayerScopeSeesPreSchoolChallenge(t *testing.T) {
	// Challenge created before the school was built carries a team key, but the
	// player who owns it is still blocked once school locking applies.
	challenges := []models.Challenge{live(teamA, playerA, false, models.ChallengeStatusAssigned)}

	l := Evaluate(challenges, teamA, playerA, true)
	if !l.Locked || l.Scope != ScopePlayer {
		t.Fatalf("owner of pre-school challenge should be locked: %+v", l)
	}
}

func TestEvaluateIgnoresTerminal(t *testing.T) {
	challenges := []models.Challenge{
		live(teamA, playerA, false, models.ChallengeStatusCompleted),
		live(teamA, playerB, false, models.ChallengeStatusExpired),
		live(teamA, playerB, false, models.ChallengeStatusCancelled),
	}
	if l := Evaluate(challenges, teamA, playerA, false); l.Locked {
		t.Fatalf("terminal challenges must release the lock: %+v", l)
	}
}
