package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/calendar"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/clock"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/directory"
)

// casRetries bounds the optimistic-concurrency retry loop. The loser of a
// race either re-applies its change after the winner's or observes
// INVALID_TRANSITION if the winner reached a terminal state.
const casRetries = 3

// Service orchestrates the trip-planning-call lifecycle. It is the only
// writer of Status, CalendarEventID and MeetingLink, and it sequences every
// local write against the matching gateway call. The local write is always
// the operation of record: a gateway failure never reverses a local state
// change that has already been decided.
type Service struct {
	calls callrepo.Repository
	dir   directory.Directory
	gw    calendar.Gateway
	clk   clock.Clock
	log   *slog.Logger

	newCallID func() domain.CallID
}

func NewService(calls callrepo.Repository, dir directory.Directory, gw calendar.Gateway, clk clock.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		calls: calls,
		dir:   dir,
		gw:    gw,
		clk:   clk,
		log:   log,
		newCallID: func() domain.CallID {
			return domain.CallID(uuid.NewString())
		},
	}
}

// SetNewCallIDForTest overrides call ID generation for deterministic tests.
// It should not be used in production code.
func (s *Service) SetNewCallIDForTest(fn func() domain.CallID) {
	if fn != nil {
		s.newCallID = fn
	}
}

// Schedule books a new call. The local record is created first; the
// calendar event is an enhancement on top of it. If the external create
// fails the record stays SCHEDULED with no linkage (degraded state) and the
// result carries a sync warning instead of an error.
func (s *Service) Schedule(ctx context.Context, actor Actor, in ScheduleInput) (Result, error) {
	if in.RequesterID == "" || in.AgentID == "" {
		return Result{}, &Error{Status: 422, Code: "VALIDATION_ERROR", Message: "invalid participants", Details: map[string]any{"requesterId": "required", "agentId": "required"}}
	}
	if in.StartTime.IsZero() {
		return Result{}, &Error{Status: 422, Code: "VALIDATION_ERROR", Message: "invalid startTime", Details: map[string]any{"startTime": "required"}}
	}
	start := in.StartTime.UTC()
	end := cloneTimePtr(in.EndTime)
	if end != nil {
		v := end.UTC()
		end = &v
		if !end.After(start) {
			return Result{}, &Error{Status: 422, Code: "VALIDATION_ERROR", Message: "invalid time range", Details: map[string]any{"endTime": "must be after startTime"}}
		}
	}

	if !actor.Admin && actor.MemberID != in.RequesterID && actor.MemberID != in.AgentID {
		return Result{}, errForbidden()
	}

	requester, err := s.lookupParticipant(ctx, in.RequesterID, "requesterId")
	if err != nil {
		return Result{}, err
	}
	agent, err := s.lookupParticipant(ctx, in.AgentID, "agentId")
	if err != nil {
		return Result{}, err
	}

	now := s.clk.Now().UTC()
	c := callrepo.Call{
		ID:          s.newCallID(),
		RequesterID: in.RequesterID,
		AgentID:     in.AgentID,
		StartTime:   start,
		EndTime:     end,
		Status:      domain.CallStatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.calls.Create(ctx, c); err != nil {
		if errors.Is(err, callrepo.ErrAlreadyExists) {
			// Extremely unlikely (UUID collision); treat as conflict.
			return Result{}, &Error{Status: 409, Code: "CALL_ID_CONFLICT", Message: "call id conflict"}
		}
		return Result{}, err
	}

	ref, err := s.gw.CreateEvent(ctx, calendar.CreateEventRequest{
		Summary:        eventSummary(requester, agent),
		Description:    eventDescription(requester, agent),
		Start:          start,
		End:            end,
		AttendeeEmails: attendeeEmails(requester, agent, in.ExtraAttendeeEmails),
	})
	if err != nil {
		if !calendar.IsSyncError(err) {
			return Result{}, err
		}
		s.log.Warn("calendar event create failed; call booked without linkage",
			"callId", c.ID, "error", err)
		return Result{Call: c, SyncWarning: "calendar event could not be created; no meeting link yet"}, nil
	}

	linked := c
	linked.CalendarEventID = &ref.EventID
	if ref.MeetingLink != "" {
		ml := ref.MeetingLink
		linked.MeetingLink = &ml
	}
	linked.UpdatedAt = s.clk.Now().UTC()
	if err := s.calls.Update(ctx, linked, c.UpdatedAt); err != nil {
		// The booking exists either way; a lost race here leaves linkage
		// to the reconciliation sweep.
		s.log.Warn("could not persist calendar linkage", "callId", c.ID, "error", err)
		return Result{Call: c, SyncWarning: "calendar event created but linkage not recorded yet"}, nil
	}
	return Result{Call: linked}, nil
}

// Reschedule moves a SCHEDULED call to a new time. The local record is the
// source of truth for "when is this call" once a user asks for the move:
// the new times are committed regardless of the gateway outcome.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id domain.CallID, in RescheduleInput) (Result, error) {
	c, err := s.getAuthorized(ctx, actor, id)
	if err != nil {
		return Result{}, err
	}
	if c.Status != domain.CallStatusScheduled {
		return Result{}, errInvalidTransition(c, "reschedule")
	}

	if in.StartTime.IsZero() {
		return Result{}, &Error{Status: 422, Code: "VALIDATION_ERROR", Message: "invalid startTime", Details: map[string]any{"startTime": "required"}}
	}
	start := in.StartTime.UTC()
	now := s.clk.Now().UTC()
	if start.Before(now) {
		// No gateway call is made for a rejected reschedule.
		return Result{}, &Error{Status: 409, Code: "INVALID_TRANSITION", Message: "cannot reschedule into the past", Details: map[string]any{"startTime": start.Format(time.RFC3339)}}
	}

	end := cloneTimePtr(c.EndTime)
	if in.EndTime.IsSpecified() {
		if in.EndTime.IsNull() {
			end = nil
		} else {
			v := in.EndTime.Value().UTC()
			end = &v
		}
	}
	if end != nil && !end.After(start) {
		return Result{}, &Error{Status: 422, Code: "VALIDATION_ERROR", Message: "invalid time range", Details: map[string]any{"endTime": "must be after startTime"}}
	}

	warning := ""
	refreshedLink := ""
	if c.CalendarEventID != nil {
		ref, err := s.gw.UpdateEvent(ctx, *c.CalendarEventID, calendar.EventPatch{
			Start: &start,
			End:   end,
		})
		if err != nil {
			if !calendar.IsSyncError(err) {
				return Result{}, err
			}
			s.log.Warn("calendar event update failed; local times committed anyway",
				"callId", c.ID, "eventId", *c.CalendarEventID, "error", err)
			warning = "calendar event could not be updated; invitations may show the old time"
		} else {
			refreshedLink = ref.MeetingLink
		}
	}

	updated, err := s.applyCAS(ctx, id, func(c *callrepo.Call) error {
		if c.Status != domain.CallStatusScheduled {
			return errInvalidTransition(*c, "reschedule")
		}
		c.StartTime = start
		c.EndTime = cloneTimePtr(end)
		if in.MeetingLink.IsSpecified() {
			if in.MeetingLink.IsNull() {
				c.MeetingLink = nil
			} else {
				v := in.MeetingLink.Value()
				c.MeetingLink = &v
			}
		} else if refreshedLink != "" {
			v := refreshedLink
			c.MeetingLink = &v
		}
		if c.CalendarEventID == nil {
			// A degraded call never carries a link.
			c.MeetingLink = nil
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Call: updated, SyncWarning: warning}, nil
}

// Cancel moves a SCHEDULED call to CANCELLED. The external event delete is
// best-effort: its failure never blocks the transition. On a successful
// delete the linkage is cleared; on failure the event is still live
// externally, so the linkage is kept.
func (s *Service) Cancel(ctx context.Context, actor Actor, id domain.CallID) (Result, error) {
	c, err := s.getAuthorized(ctx, actor, id)
	if err != nil {
		return Result{}, err
	}
	if c.Status != domain.CallStatusScheduled {
		return Result{}, errInvalidTransition(c, "cancel")
	}

	warning := ""
	eventRemoved := false
	if c.CalendarEventID != nil {
		if err := s.gw.DeleteEvent(ctx, *c.CalendarEventID); err != nil {
			s.log.Warn("calendar event delete failed; cancelling locally anyway",
				"callId", c.ID, "eventId", *c.CalendarEventID, "error", err)
			warning = "calendar event could not be removed; attendees may not be notified"
		} else {
			eventRemoved = true
		}
	}

	updated, err := s.applyCAS(ctx, id, func(c *callrepo.Call) error {
		if c.Status != domain.CallStatusScheduled {
			return errInvalidTransition(*c, "cancel")
		}
		c.Status = domain.CallStatusCancelled
		if eventRemoved {
			c.CalendarEventID = nil
			c.MeetingLink = nil
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Call: updated, SyncWarning: warning}, nil
}

// Complete marks a SCHEDULED call COMPLETED. No calendar interaction: the
// event simply elapses. Administrative capability required.
func (s *Service) Complete(ctx context.Context, actor Actor, id domain.CallID) (Result, error) {
	if !actor.Admin {
		return Result{}, errForbidden()
	}
	c, err := s.getCall(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if c.Status != domain.CallStatusScheduled {
		return Result{}, errInvalidTransition(c, "complete")
	}

	updated, err := s.applyCAS(ctx, id, func(c *callrepo.Call) error {
		if c.Status != domain.CallStatusScheduled {
			return errInvalidTransition(*c, "complete")
		}
		c.Status = domain.CallStatusCompleted
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Call: updated}, nil
}

// Delete hard-deletes the record regardless of status, removing the
// external event first if one is linked (best-effort). Administrative
// capability required.
func (s *Service) Delete(ctx context.Context, actor Actor, id domain.CallID) error {
	if !actor.Admin {
		return errForbidden()
	}
	c, err := s.getCall(ctx, id)
	if err != nil {
		return err
	}
	if c.CalendarEventID != nil {
		if err := s.gw.DeleteEvent(ctx, *c.CalendarEventID); err != nil {
			s.log.Warn("calendar event delete failed; deleting call anyway",
				"callId", c.ID, "eventId", *c.CalendarEventID, "error", err)
		}
	}
	if err := s.calls.Delete(ctx, c.ID); err != nil {
		if errors.Is(err, callrepo.ErrNotFound) {
			return errNotFound()
		}
		return err
	}
	return nil
}

func (s *Service) Get(ctx context.Context, actor Actor, id domain.CallID) (callrepo.Call, error) {
	return s.getAuthorized(ctx, actor, id)
}

// ListMine returns every call the actor participates in, as requester or as
// agent, ordered by start time.
func (s *Service) ListMine(ctx context.Context, actor Actor) ([]callrepo.Call, error) {
	asRequester, err := s.calls.ListByRequester(ctx, actor.MemberID)
	if err != nil {
		return nil, err
	}
	asAgent, err := s.calls.ListByAgent(ctx, actor.MemberID)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.CallID]struct{}, len(asRequester))
	out := make([]callrepo.Call, 0, len(asRequester)+len(asAgent))
	for _, c := range asRequester {
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	for _, c := range asAgent {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		out = append(out, c)
	}
	sortCalls(out)
	return out, nil
}

// ListAll is the platform-wide listing with status filter and pagination.
// Administrative capability required.
func (s *Service) ListAll(ctx context.Context, actor Actor, status *domain.CallStatus, page, pageSize int) (Page, error) {
	if !actor.Admin {
		return Page{}, errForbidden()
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	cs, total, err := s.calls.List(ctx, callrepo.ListFilter{Status: status, Page: page, PageSize: pageSize})
	if err != nil {
		return Page{}, err
	}
	return Page{Calls: cs, Total: total, Page: page, PageSize: pageSize}, nil
}

// Upcoming returns SCHEDULED calls starting within the window. Non-admin
// actors see only calls they participate in.
func (s *Service) Upcoming(ctx context.Context, actor Actor, window time.Duration) ([]callrepo.Call, error) {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	now := s.clk.Now().UTC()
	cs, err := s.calls.ListUpcoming(ctx, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	if actor.Admin {
		return cs, nil
	}
	out := make([]callrepo.Call, 0, len(cs))
	for _, c := range cs {
		if c.RequesterID == actor.MemberID || c.AgentID == actor.MemberID {
			out = append(out, c)
		}
	}
	return out, nil
}

// AgentStats computes the per-agent dashboard figures: completed calls and
// upcoming (scheduled, starting at or after now) calls.
func (s *Service) AgentStats(ctx context.Context, agentID domain.MemberID) (AgentStats, error) {
	completed, err := s.calls.CountByAgentAndStatus(ctx, agentID, domain.CallStatusCompleted)
	if err != nil {
		return AgentStats{}, err
	}
	upcoming, err := s.calls.CountUpcomingByAgent(ctx, agentID, s.clk.Now().UTC())
	if err != nil {
		return AgentStats{}, err
	}
	return AgentStats{AgentID: agentID, Completed: completed, Upcoming: upcoming}, nil
}

// RepairCalendarLink retries calendar event creation for one degraded
// call. It reports whether a link was established. Used by the background
// sweep; a call that gained a link, reached a terminal state or vanished
// since it was listed is skipped without error.
func (s *Service) RepairCalendarLink(ctx context.Context, id domain.CallID) (bool, error) {
	c, err := s.getCall(ctx, id)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) && ae.Code == "CALL_NOT_FOUND" {
			return false, nil
		}
		return false, err
	}
	if c.Status != domain.CallStatusScheduled || c.CalendarEventID != nil {
		return false, nil
	}

	requester, err := s.dir.GetByID(ctx, c.RequesterID)
	if err != nil {
		return false, err
	}
	agent, err := s.dir.GetByID(ctx, c.AgentID)
	if err != nil {
		return false, err
	}

	ref, err := s.gw.CreateEvent(ctx, calendar.CreateEventRequest{
		Summary:        eventSummary(requester, agent),
		Description:    eventDescription(requester, agent),
		Start:          c.StartTime,
		End:            cloneTimePtr(c.EndTime),
		AttendeeEmails: attendeeEmails(requester, agent, nil),
	})
	if err != nil {
		return false, err
	}

	errSkip := errors.New("skip")
	_, err = s.applyCAS(ctx, id, func(c *callrepo.Call) error {
		if c.Status != domain.CallStatusScheduled || c.CalendarEventID != nil {
			return errSkip
		}
		eventID := ref.EventID
		c.CalendarEventID = &eventID
		c.MeetingLink = nil
		if ref.MeetingLink != "" {
			ml := ref.MeetingLink
			c.MeetingLink = &ml
		}
		return nil
	})
	if err != nil {
		// The linkage was lost; remove the orphan event so no live event
		// exists without a record pointing at it.
		if delErr := s.gw.DeleteEvent(ctx, ref.EventID); delErr != nil {
			s.log.Warn("could not remove orphan calendar event",
				"callId", id, "eventId", ref.EventID, "error", delErr)
		}
		if errors.Is(err, errSkip) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// --- internal helpers ---

func (s *Service) getCall(ctx context.Context, id domain.CallID) (callrepo.Call, error) {
	c, err := s.calls.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, callrepo.ErrNotFound) {
			return callrepo.Call{}, errNotFound()
		}
		return callrepo.Call{}, err
	}
	return c, nil
}

func (s *Service) getAuthorized(ctx context.Context, actor Actor, id domain.CallID) (callrepo.Call, error) {
	c, err := s.getCall(ctx, id)
	if err != nil {
		return callrepo.Call{}, err
	}
	if !actor.Admin && c.RequesterID != actor.MemberID && c.AgentID != actor.MemberID {
		return callrepo.Call{}, errForbidden()
	}
	return c, nil
}

func (s *Service) lookupParticipant(ctx context.Context, id domain.MemberID, field string) (directory.Participant, error) {
	p, err := s.dir.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.Participant{}, &Error{Status: 422, Code: "VALIDATION_ERROR", Message: "invalid " + field, Details: map[string]any{field: "member does not exist"}}
		}
		return directory.Participant{}, err
	}
	return p, nil
}

// applyCAS reloads the call, applies fn and writes it back under the
// compare-and-swap expectation, retrying a bounded number of times on
// ErrStaleWrite. fn runs against fresh state on every attempt, so
// preconditions hold at commit time.
func (s *Service) applyCAS(ctx context.Context, id domain.CallID, fn func(c *callrepo.Call) error) (callrepo.Call, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		c, err := s.getCall(ctx, id)
		if err != nil {
			return callrepo.Call{}, err
		}
		expected := c.UpdatedAt
		if err := fn(&c); err != nil {
			return callrepo.Call{}, err
		}
		c.UpdatedAt = s.clk.Now().UTC()
		err = s.calls.Update(ctx, c, expected)
		if errors.Is(err, callrepo.ErrStaleWrite) {
			continue
		}
		if errors.Is(err, callrepo.ErrNotFound) {
			return callrepo.Call{}, errNotFound()
		}
		if err != nil {
			return callrepo.Call{}, err
		}
		return c, nil
	}
	return callrepo.Call{}, &Error{Status: 409, Code: "CONCURRENT_UPDATE", Message: "call was updated concurrently; please retry"}
}

func errNotFound() *Error {
	return &Error{Status: 404, Code: "CALL_NOT_FOUND", Message: "call not found"}
}

func errForbidden() *Error {
	return &Error{Status: 403, Code: "FORBIDDEN", Message: "caller is not a participant of this call"}
}

func errInvalidTransition(c callrepo.Call, op string) *Error {
	return &Error{
		Status:  409,
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("call is already %s", strings.ToLower(string(c.Status))),
		Details: map[string]any{"status": string(c.Status), "operation": op},
	}
}

func eventSummary(requester, agent directory.Participant) string {
	return fmt.Sprintf("Trip planning call: %s & %s", requester.DisplayName, agent.DisplayName)
}

func eventDescription(requester, agent directory.Participant) string {
	return fmt.Sprintf(
		"Trip planning call between %s (adventurer) and %s (agent), booked on Wildpath Tours.",
		requester.DisplayName, agent.DisplayName,
	)
}

func attendeeEmails(requester, agent directory.Participant, extra []string) []string {
	out := make([]string, 0, 2+len(extra))
	seen := make(map[string]struct{}, 2+len(extra))
	add := func(e string) {
		e = strings.TrimSpace(e)
		if e == "" {
			return
		}
		if _, ok := seen[e]; ok {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	add(requester.Email)
	add(agent.Email)
	for _, e := range extra {
		add(e)
	}
	return out
}

func sortCalls(cs []callrepo.Call) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return string(a.ID) < string(b.ID)
	})
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
