package domain

// CallStatus is the lifecycle state of a trip-planning call.
type CallStatus string

const (
	CallStatusScheduled CallStatus = "SCHEDULED"
	CallStatusCompleted CallStatus = "COMPLETED"
	CallStatusCancelled CallStatus = "CANCELLED"
)

// IsTerminal reports whether no further lifecycle transitions are accepted.
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusCompleted || s == CallStatusCancelled
}

// Role is a member's capability set on the platform.
type Role string

const (
	RoleAdventurer Role = "ADVENTURER"
	RoleAgent      Role = "AGENT"
	RoleAdmin      Role = "ADMIN"
)
