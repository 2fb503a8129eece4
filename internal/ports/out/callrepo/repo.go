package callrepo

import (
	"context"
	"time"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
)

// Call is the persistence shape used by the call repository.
// It is not an HTTP DTO.
type Call struct {
	ID domain.CallID

	RequesterID domain.MemberID
	AgentID     domain.MemberID

	// StartTime is always stored in UTC. EndTime, when present, is strictly
	// after StartTime.
	StartTime time.Time
	EndTime   *time.Time

	Status domain.CallStatus

	// MeetingLink and CalendarEventID are populated from the external
	// calendar system. Both nil is the degraded-but-valid state of a
	// SCHEDULED call whose sync attempt failed. CalendarEventID is non-nil
	// iff a live event exists externally, and MeetingLink is nil whenever
	// CalendarEventID is nil.
	MeetingLink     *string
	CalendarEventID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListFilter narrows the platform-wide listing.
type ListFilter struct {
	Status *domain.CallStatus

	// Page is 1-based. PageSize bounds the result slice; Total in the
	// response reflects the unpaginated match count.
	Page     int
	PageSize int
}

// Repository provides access to persisted trip-planning calls.
//
// Update is a compare-and-swap: the write applies only if the stored
// UpdatedAt equals expected, otherwise ErrStaleWrite is returned. This is
// the row-level mutual exclusion that keeps two concurrent lifecycle
// transitions on the same call from interleaving incoherently.
type Repository interface {
	Create(ctx context.Context, c Call) error
	GetByID(ctx context.Context, id domain.CallID) (Call, error)
	Update(ctx context.Context, c Call, expected time.Time) error
	Delete(ctx context.Context, id domain.CallID) error

	ListByRequester(ctx context.Context, id domain.MemberID) ([]Call, error)
	ListByAgent(ctx context.Context, id domain.MemberID) ([]Call, error)

	// List returns calls matching the filter ordered by StartTime ascending
	// (CreatedAt, then ID as tie-breakers), plus the total match count.
	List(ctx context.Context, f ListFilter) ([]Call, int, error)

	// ListUpcoming returns SCHEDULED calls with StartTime in [from, to).
	ListUpcoming(ctx context.Context, from, to time.Time) ([]Call, error)

	// ListDegraded returns SCHEDULED calls with no calendar linkage and
	// StartTime at or after from. Used by the reconciliation sweep.
	ListDegraded(ctx context.Context, from time.Time) ([]Call, error)

	CountByAgentAndStatus(ctx context.Context, agent domain.MemberID, status domain.CallStatus) (int, error)
	CountUpcomingByAgent(ctx context.Context, agent domain.MemberID, from time.Time) (int, error)
}
