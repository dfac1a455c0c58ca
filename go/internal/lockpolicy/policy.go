// Package lockpolicy decides which lock a challenge reserves and whether a new
// request collides with the locks already held.
//
// A team without a school is locked as a whole: one live challenge for any
// resource blocks every member from requesting any other resource. Once the
// team owns a school the lock narrows to the requesting player, still across
// all resource kinds. The school flag is snapshotted onto the challenge at
// request time, so building a school never reshapes an in-flight lock.
package lockpolicy

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mkral/boomtown/go/internal/models"
)

// Scope identifies who a lock applies to.
type Scope string

const (
	ScopeNone   Scope = "NONE"
	ScopeTeam   Scope = "TEAM"
	ScopePlayer Scope = "PLAYER"
)

// LockKey is the tagged lock identity a live challenge reserves exclusively.
// Exactly one of the ID fields is meaningful, selected by Scope.
type LockKey struct {
	Scope    Scope
	TeamID   uuid.UUID
	PlayerID uuid.UUID
}

// KeyFor computes the lock key a new challenge would reserve.
func KeyFor(teamID, playerID uuid.UUID, hasSchool bool) LockKey {
	if hasSchool {
		return LockKey{Scope: ScopePlayer, PlayerID: playerID}
	}
	return LockKey{Scope: ScopeTeam, TeamID: teamID}
}

// KeyForChallenge computes the lock key a persisted challenge holds, from the
// school flag snapshotted at request time.
func KeyForChallenge(c *models.Challenge) LockKey {
	return KeyFor(c.TeamID, c.PlayerID, c.HasSchool)
}

// String renders the durable storage form of the key. A partial unique index
// over this value is the store-level serialization point for racing requests.
func (k LockKey) String() string {
	switch k.Scope {
	case ScopeTeam:
		return fmt.Sprintf("team:%s", k.TeamID)
	case ScopePlayer:
		return fmt.Sprintf("player:%s", k.PlayerID)
	}
	return ""
}

// Lock describes the outcome of an advisory lock check.
type Lock struct {
	Locked   bool      `json:"locked"`
	Scope    Scope     `json:"scope"`
	LockedBy uuid.UUID `json:"locked_by,omitempty"`
}

// Evaluate runs the advisory lock check for a prospective request against the
// game's live challenges. It is pure; the authoritative check happens again
// inside Request against the store.
//
// Without a school the whole team is blocked by any live challenge of the
// team. With a school only the requesting player's own live challenges block,
// including ones created back when the team had no school.
func Evaluate(live []models.Challenge, teamID, playerID uuid.UUID, hasSchool bool) Lock {
	for i := range live {
		c := &live[i]
		if !c.Status.IsLive() {
			continue
		}
		if hasSchool {
			if c.PlayerID == playerID {
				return Lock{Locked: true, Scope: ScopePlayer, LockedBy: c.PlayerID}
			}
			continue
		}
		if c.TeamID == teamID {
			return Lock{Locked: true, Scope: ScopeTeam, LockedBy: c.PlayerID}
		}
	}
	return Lock{Scope: ScopeNone}
}
