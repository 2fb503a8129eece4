package calendar

import (
	"context"
	"time"
)

// CreateEventRequest carries the only event fields this service uses.
// External-API shapes never cross this seam.
type CreateEventRequest struct {
	Summary     string
	Description string

	// Start is required; End may be nil for open-ended calls.
	Start time.Time
	End   *time.Time

	AttendeeEmails []string
}

// EventPatch is a partial update. Nil fields are left unchanged on the
// external side. AttendeeEmails == nil means unchanged; an empty non-nil
// slice clears the attendee list.
type EventPatch struct {
	Summary     *string
	Description *string
	Start       *time.Time
	End         *time.Time

	AttendeeEmails []string
}

// EventRef is the external system's handle for a synced event.
type EventRef struct {
	EventID     string
	MeetingLink string
}

// EventSnapshot is a read-only view used for diagnostics and
// reconciliation, never on the hot path of a lifecycle transition.
type EventSnapshot struct {
	EventID     string
	Summary     string
	Description string
	Start       time.Time
	End         *time.Time

	AttendeeEmails []string
	MeetingLink    string
}

// Gateway is the only seam through which the service talks to the external
// calendar system. Implementations request video-conferencing on created
// events and a fixed reminder schedule (email 24h prior, popup 30min
// prior); that configuration is the adapter's concern, not the caller's.
//
// Every failure is reported as a *SyncError. Callers decide per operation
// whether the failure is surfaced as a warning or merely logged; DeleteEvent
// in particular is treated as best-effort by all callers.
type Gateway interface {
	CreateEvent(ctx context.Context, req CreateEventRequest) (EventRef, error)
	UpdateEvent(ctx context.Context, eventID string, patch EventPatch) (EventRef, error)
	DeleteEvent(ctx context.Context, eventID string) error
	GetEvent(ctx context.Context, eventID string) (EventSnapshot, error)
}
