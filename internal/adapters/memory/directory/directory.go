package directory

import (
	"context"
	"sync"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/directory"
)

// Dir is an in-memory implementation of directory.Directory, used in tests
// and in deployments where the user directory is seeded at startup.
type Dir struct {
	mu        sync.RWMutex
	byID      map[domain.MemberID]directory.Participant
	bySubject map[domain.SubjectID]domain.MemberID
}

func NewDir() *Dir {
	return &Dir{
		byID:      make(map[domain.MemberID]directory.Participant),
		bySubject: make(map[domain.SubjectID]domain.MemberID),
	}
}

// Put registers or replaces a participant.
func (d *Dir) Put(p directory.Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[p.ID] = p
	if p.Subject != "" {
		d.bySubject[p.Subject] = p.ID
	}
}

func (d *Dir) GetByID(ctx context.Context, id domain.MemberID) (directory.Participant, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byID[id]
	if !ok {
		return directory.Participant{}, directory.ErrNotFound
	}
	return p, nil
}

func (d *Dir) GetBySubject(ctx context.Context, sub domain.SubjectID) (directory.Participant, error) {
	_ = ctx
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.bySubject[sub]
	if !ok {
		return directory.Participant{}, directory.ErrNotFound
	}
	return d.byID[id], nil
}
