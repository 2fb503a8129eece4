package calendar

import (
	"context"
	"fmt"
	"sync"

	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/calendar"
)

// Gateway is an in-memory calendar.Gateway. It backs tests (failures can be
// scripted per operation) and calendar-less deployments, where it behaves as
// a working calendar that mints placeholder meeting links.
type Gateway struct {
	mu     sync.Mutex
	nextID int
	events map[string]calendar.EventSnapshot

	// Scripted failures; when set, the matching operation fails with a
	// SyncError wrapping the value.
	FailCreate error
	FailUpdate error
	FailDelete error
	FailGet    error

	Creates int
	Updates int
	Deletes int
}

func NewGateway() *Gateway {
	return &Gateway{events: make(map[string]calendar.EventSnapshot)}
}

func (g *Gateway) CreateEvent(ctx context.Context, req calendar.CreateEventRequest) (calendar.EventRef, error) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Creates++
	if g.FailCreate != nil {
		return calendar.EventRef{}, calendar.NewSyncError("createEvent", g.FailCreate)
	}
	g.nextID++
	id := fmt.Sprintf("evt-%d", g.nextID)
	link := fmt.Sprintf("https://meet.example.com/%s", id)
	g.events[id] = calendar.EventSnapshot{
		EventID:        id,
		Summary:        req.Summary,
		Description:    req.Description,
		Start:          req.Start,
		End:            req.End,
		AttendeeEmails: append([]string(nil), req.AttendeeEmails...),
		MeetingLink:    link,
	}
	return calendar.EventRef{EventID: id, MeetingLink: link}, nil
}

func (g *Gateway) UpdateEvent(ctx context.Context, eventID string, patch calendar.EventPatch) (calendar.EventRef, error) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Updates++
	if g.FailUpdate != nil {
		return calendar.EventRef{}, calendar.NewSyncError("updateEvent", g.FailUpdate)
	}
	ev, ok := g.events[eventID]
	if !ok {
		return calendar.EventRef{}, calendar.NewSyncError("updateEvent", fmt.Errorf("event %s not found", eventID))
	}
	if patch.Summary != nil {
		ev.Summary = *patch.Summary
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Start != nil {
		ev.Start = *patch.Start
	}
	if patch.End != nil {
		v := *patch.End
		ev.End = &v
	}
	if patch.AttendeeEmails != nil {
		ev.AttendeeEmails = append([]string(nil), patch.AttendeeEmails...)
	}
	g.events[eventID] = ev
	return calendar.EventRef{EventID: eventID, MeetingLink: ev.MeetingLink}, nil
}

func (g *Gateway) DeleteEvent(ctx context.Context, eventID string) error {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Deletes++
	if g.FailDelete != nil {
		return calendar.NewSyncError("deleteEvent", g.FailDelete)
	}
	delete(g.events, eventID)
	return nil
}

func (g *Gateway) GetEvent(ctx context.Context, eventID string) (calendar.EventSnapshot, error) {
	_ = ctx
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailGet != nil {
		return calendar.EventSnapshot{}, calendar.NewSyncError("getEvent", g.FailGet)
	}
	ev, ok := g.events[eventID]
	if !ok {
		return calendar.EventSnapshot{}, calendar.NewSyncError("getEvent", fmt.Errorf("event %s not found", eventID))
	}
	return ev, nil
}

// HasEvent reports whether an event is currently live, for test assertions.
func (g *Gateway) HasEvent(eventID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.events[eventID]
	return ok
}
