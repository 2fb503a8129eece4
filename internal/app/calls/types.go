package calls

import (
	"time"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
)

// Optional is a tri-state field used to distinguish:
// - unspecified (omitted)
// - specified as null
// - specified with a value
type Optional[T any] struct {
	specified bool
	isNull    bool
	value     T
}

func Unspecified[T any]() Optional[T] { return Optional[T]{} }
func Null[T any]() Optional[T]        { return Optional[T]{specified: true, isNull: true} }
func Some[T any](v T) Optional[T]     { return Optional[T]{specified: true, value: v} }

func (o Optional[T]) IsSpecified() bool { return o.specified }
func (o Optional[T]) IsNull() bool      { return o.specified && o.isNull }
func (o Optional[T]) Value() T          { return o.value }

// Actor is the authenticated caller as the access layer resolved it.
// Admin actors may operate on any call; non-admin actors only on calls
// where they are a participant.
type Actor struct {
	MemberID domain.MemberID
	Admin    bool
}

type ScheduleInput struct {
	RequesterID domain.MemberID
	AgentID     domain.MemberID

	StartTime time.Time
	EndTime   *time.Time

	// ExtraAttendeeEmails are invited in addition to the requester and
	// agent (e.g. a travel companion).
	ExtraAttendeeEmails []string
}

type RescheduleInput struct {
	StartTime time.Time

	// EndTime: unspecified keeps the current value, null clears it.
	EndTime Optional[time.Time]

	// MeetingLink, when specified with a value, overrides the link stored
	// locally (the calendar event keeps minting its own).
	MeetingLink Optional[string]
}

// Result is the outcome of a mutating lifecycle operation. SyncWarning is
// non-empty when the local write succeeded but the external calendar could
// not be kept in step; the booking itself is never failed for that.
type Result struct {
	Call        callrepo.Call
	SyncWarning string
}

// Page is a platform-wide listing slice plus its unpaginated total.
type Page struct {
	Calls    []callrepo.Call
	Total    int
	Page     int
	PageSize int
}

// AgentStats feeds the dashboard collaborator's per-agent figures.
type AgentStats struct {
	AgentID   domain.MemberID
	Completed int
	Upcoming  int
}
