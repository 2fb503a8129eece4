package directory

import (
	"context"
	"errors"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
)

var ErrNotFound = errors.New("participant not found")

// Participant is the slice of the user directory this service needs:
// enough to validate that a requester/agent exists and to address calendar
// invitations.
type Participant struct {
	ID      domain.MemberID
	Subject domain.SubjectID

	DisplayName string
	Email       string
	Role        domain.Role
}

// Directory resolves marketplace members. User/role management itself is an
// external collaborator; this port is read-only.
type Directory interface {
	GetByID(ctx context.Context, id domain.MemberID) (Participant, error)
	GetBySubject(ctx context.Context, sub domain.SubjectID) (Participant, error)
}
