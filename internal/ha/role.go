package ha

import (
	"fmt"
	"strings"

	"github.com/jittakal/kafhaconsumer/internal/errors"
)

// Role is the cluster role assigned to this instance by the election.
type Role string

const (
	// RoleNotStarted is the state before the first notification arrives.
	RoleNotStarted Role = "NOT_STARTED"
	// RoleLeader consumes the event stream and publishes markers.
	RoleLeader Role = "LEADER"
	// RoleReplica tails both streams to track the leader's position.
	RoleReplica Role = "REPLICA"
	// RoleBecomingLeader is transient; consumption is left as it is.
	RoleBecomingLeader Role = "BECOMING_LEADER"
)

// ParseRole parses a role notification state.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleLeader, RoleReplica, RoleBecomingLeader:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownRole, s)
	}
}

// consumes reports whether the role runs its own consumption.
func (r Role) consumes() bool {
	return r == RoleLeader || r == RoleReplica
}

func (r Role) String() string { return string(r) }

// Notification is an inbound role change from the election collaborator.
type Notification struct {
	Role Role `json:"state"`
}

// Target is the stream a replica is currently receiving from.
type Target string

const (
	TargetEvents  Target = "EVENTS"
	TargetControl Target = "CONTROL"
)
