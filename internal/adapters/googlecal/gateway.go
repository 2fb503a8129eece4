package googlecal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	cal "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/calendar"
)

// Config holds everything needed to talk to one Google calendar.
type Config struct {
	// CalendarID is the calendar events are written to, usually a service
	// account's dedicated calendar or "primary".
	CalendarID string

	// CredentialsFile and CredentialsJSON are alternative ways to supply
	// service-account credentials; JSON wins when both are set.
	CredentialsFile string
	CredentialsJSON []byte

	// Timeout bounds each outbound API call. Zero means 10s.
	Timeout time.Duration
}

// Gateway implements calendar.Gateway on top of the Google Calendar API.
// Created events request a Meet conference and carry a fixed reminder
// schedule: an email one day before and a popup 30 minutes before.
type Gateway struct {
	svc        *calendar.Service
	calendarID string
	timeout    time.Duration
}

func NewGateway(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.CalendarID == "" {
		return nil, fmt.Errorf("google calendar: calendar id is required")
	}
	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(calendar.CalendarEventsScope))

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar: create service: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{svc: svc, calendarID: cfg.CalendarID, timeout: timeout}, nil
}

func (g *Gateway) CreateEvent(ctx context.Context, req cal.CreateEventRequest) (cal.EventRef, error) {
	ev := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       eventTime(req.Start),
		End:         eventEndTime(req.Start, req.End),
		Attendees:   attendees(req.AttendeeEmails),
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId: uuid.NewString(),
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{
					Type: "hangoutsMeet",
				},
			},
		},
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "popup", Minutes: 30},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	created, err := g.svc.Events.Insert(g.calendarID, ev).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(callCtx).
		Do()
	if err != nil {
		return cal.EventRef{}, cal.NewSyncError("createEvent", err)
	}
	return cal.EventRef{EventID: created.Id, MeetingLink: meetingLink(created)}, nil
}

func (g *Gateway) UpdateEvent(ctx context.Context, eventID string, patch cal.EventPatch) (cal.EventRef, error) {
	ev := &calendar.Event{}
	if patch.Summary != nil {
		ev.Summary = *patch.Summary
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Start != nil {
		ev.Start = eventTime(*patch.Start)
	}
	if patch.End != nil {
		ev.End = eventTime(*patch.End)
	} else if patch.Start != nil {
		// Google requires end >= start; keep a one-hour slot when the
		// caller moves the start without supplying a new end.
		ev.End = eventTime(patch.Start.Add(time.Hour))
	}
	if patch.AttendeeEmails != nil {
		ev.Attendees = attendees(patch.AttendeeEmails)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	updated, err := g.svc.Events.Patch(g.calendarID, eventID, ev).
		SendUpdates("all").
		Context(callCtx).
		Do()
	if err != nil {
		return cal.EventRef{}, cal.NewSyncError("updateEvent", err)
	}
	return cal.EventRef{EventID: updated.Id, MeetingLink: meetingLink(updated)}, nil
}

func (g *Gateway) DeleteEvent(ctx context.Context, eventID string) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	err := g.svc.Events.Delete(g.calendarID, eventID).
		SendUpdates("all").
		Context(callCtx).
		Do()
	if err != nil {
		return cal.NewSyncError("deleteEvent", err)
	}
	return nil
}

func (g *Gateway) GetEvent(ctx context.Context, eventID string) (cal.EventSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ev, err := g.svc.Events.Get(g.calendarID, eventID).Context(callCtx).Do()
	if err != nil {
		return cal.EventSnapshot{}, cal.NewSyncError("getEvent", err)
	}

	snap := cal.EventSnapshot{
		EventID:     ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		MeetingLink: meetingLink(ev),
	}
	if ev.Start != nil && ev.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, ev.Start.DateTime); err == nil {
			snap.Start = t.UTC()
		}
	}
	if ev.End != nil && ev.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, ev.End.DateTime); err == nil {
			u := t.UTC()
			snap.End = &u
		}
	}
	for _, a := range ev.Attendees {
		if a != nil && a.Email != "" {
			snap.AttendeeEmails = append(snap.AttendeeEmails, a.Email)
		}
	}
	return snap, nil
}

func eventTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{DateTime: t.UTC().Format(time.RFC3339)}
}

// eventEndTime defaults open-ended calls to a one-hour slot; the Google
// API rejects events without an end.
func eventEndTime(start time.Time, end *time.Time) *calendar.EventDateTime {
	if end != nil {
		return eventTime(*end)
	}
	return eventTime(start.Add(time.Hour))
}

func attendees(emails []string) []*calendar.EventAttendee {
	out := make([]*calendar.EventAttendee, 0, len(emails))
	for _, e := range emails {
		out = append(out, &calendar.EventAttendee{Email: e})
	}
	return out
}

// meetingLink prefers the explicit Meet link; HangoutLink is the legacy
// field some calendars still populate instead.
func meetingLink(ev *calendar.Event) string {
	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			if ep != nil && ep.EntryPointType == "video" && ep.Uri != "" {
				return ep.Uri
			}
		}
	}
	return ev.HangoutLink
}
