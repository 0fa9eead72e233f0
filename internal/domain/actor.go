package domain

import (
	"fmt"
	"strings"
)

// Actor identifies who changed a request's status: a human user id or one
// of the fixed system tags.
type Actor string

const (
	ActorCoordinationAgent Actor = "COORDINATION_AGENT"
	ActorAIAgent           Actor = "AI_AGENT"
	ActorAutoSystem        Actor = "AUTO_SYSTEM"
	ActorEmailProcessor    Actor = "EMAIL_PROCESSOR"
)

var systemActors = []Actor{
	ActorCoordinationAgent,
	ActorAIAgent,
	ActorAutoSystem,
	ActorEmailProcessor,
}

// UserActor returns the actor for a human user id. System tags are reserved.
func UserActor(userID string) (Actor, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if Actor(id).IsSystem() {
		return "", fmt.Errorf("%w: %q is a reserved system actor", ErrValidation, id)
	}
	return Actor(id), nil
}

// ParseActor accepts a system tag or a user id
func ParseActor(s string) (Actor, error) {
	a := Actor(strings.TrimSpace(s))
	if a.IsSystem() {
		return a, nil
	}
	return UserActor(s)
}

// ParseExternalActor is ParseActor for callers outside the process. AUTO_SYSTEM
// is refused: it is the deadline sweep's identity and unlocks escalation.
func ParseExternalActor(s string) (Actor, error) {
	a, err := ParseActor(s)
	if err != nil {
		return "", err
	}
	if a == ActorAutoSystem {
		return "", fmt.Errorf("%w: %s is reserved for the deadline sweep", ErrValidation, a)
	}
	return a, nil
}

// IsSystem reports whether the actor is one of the fixed system tags
func (a Actor) IsSystem() bool {
	for _, sys := range systemActors {
		if a == sys {
			return true
		}
	}
	return false
}

// Kind returns "system" or "user", used as a low-cardinality metric label
func (a Actor) Kind() string {
	if a.IsSystem() {
		return "system"
	}
	return "user"
}
