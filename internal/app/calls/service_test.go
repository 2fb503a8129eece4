package calls_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	memcalendar "github.com/wildpath-tours/call-scheduler-api/internal/adapters/memory/calendar"
	memcallrepo "github.com/wildpath-tours/call-scheduler-api/internal/adapters/memory/callrepo"
	memdirectory "github.com/wildpath-tours/call-scheduler-api/internal/adapters/memory/directory"
	"github.com/wildpath-tours/call-scheduler-api/internal/app/calls"
	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	callrepoport "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/directory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	repo *memcallrepo.Repo
	dir  *memdirectory.Dir
	gw   *memcalendar.Gateway
	clk  *fakeClock
	svc  *calls.Service
}

var (
	requester = domain.MemberID("m-requester")
	agent     = domain.MemberID("m-agent")
	stranger  = domain.MemberID("m-stranger")

	asRequester = calls.Actor{MemberID: requester}
	asAgent     = calls.Actor{MemberID: agent}
	asStranger  = calls.Actor{MemberID: stranger}
	asAdmin     = calls.Actor{MemberID: "m-admin", Admin: true}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: memcallrepo.NewRepo(),
		dir:  memdirectory.NewDir(),
		gw:   memcalendar.NewGateway(),
		clk:  &fakeClock{t: time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.dir.Put(directory.Participant{
		ID: requester, Subject: "sub-requester",
		DisplayName: "Ada Li", Email: "ada@example.com", Role: domain.RoleAdventurer,
	})
	f.dir.Put(directory.Participant{
		ID: agent, Subject: "sub-agent",
		DisplayName: "Bo Reyes", Email: "bo@example.com", Role: domain.RoleAgent,
	})
	f.dir.Put(directory.Participant{
		ID: stranger, Subject: "sub-stranger",
		DisplayName: "Cam Cruz", Email: "cam@example.com", Role: domain.RoleAdventurer,
	})
	f.svc = calls.NewService(f.repo, f.dir, f.gw, f.clk, nil)
	n := 0
	f.svc.SetNewCallIDForTest(func() domain.CallID {
		n++
		return domain.CallID([]string{"c1", "c2", "c3", "c4", "c5"}[n-1])
	})
	return f
}

func (f *fixture) schedule(t *testing.T) calls.Result {
	t.Helper()
	start := f.clk.Now().Add(48 * time.Hour)
	end := start.Add(time.Hour)
	res, err := f.svc.Schedule(context.Background(), asRequester, calls.ScheduleInput{
		RequesterID: requester,
		AgentID:     agent,
		StartTime:   start,
		EndTime:     &end,
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	return res
}

func wantCode(t *testing.T, err error, code string) *calls.Error {
	t.Helper()
	var ae *calls.Error
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want *calls.Error %s", err, code)
	}
	if ae.Code != code {
		t.Fatalf("code = %s, want %s (message: %s)", ae.Code, code, ae.Message)
	}
	return ae
}

func TestSchedule_CreatesRecordAndCalendarEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.schedule(t)
	c := res.Call
	if res.SyncWarning != "" {
		t.Errorf("SyncWarning = %q, want empty", res.SyncWarning)
	}
	if c.Status != domain.CallStatusScheduled {
		t.Errorf("Status = %s", c.Status)
	}
	if c.CalendarEventID == nil || c.MeetingLink == nil {
		t.Fatalf("linkage not persisted: %+v", c)
	}
	if !f.gw.HasEvent(*c.CalendarEventID) {
		t.Error("no live calendar event for persisted linkage")
	}

	stored, err := f.repo.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.CalendarEventID == nil || *stored.CalendarEventID != *c.CalendarEventID {
		t.Errorf("stored linkage = %v", stored.CalendarEventID)
	}

	snap, err := f.gw.GetEvent(context.Background(), *c.CalendarEventID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if len(snap.AttendeeEmails) != 2 || snap.AttendeeEmails[0] != "ada@example.com" || snap.AttendeeEmails[1] != "bo@example.com" {
		t.Errorf("attendees = %v", snap.AttendeeEmails)
	}
}

func TestSchedule_ActorMustBeParticipantOrAdmin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	start := f.clk.Now().Add(time.Hour)

	in := calls.ScheduleInput{RequesterID: requester, AgentID: agent, StartTime: start}
	if _, err := f.svc.Schedule(context.Background(), asStranger, in); err == nil {
		t.Fatal("stranger could schedule")
	} else {
		wantCode(t, err, "FORBIDDEN")
	}
	if _, err := f.svc.Schedule(context.Background(), asAdmin, in); err != nil {
		t.Fatalf("admin Schedule: %v", err)
	}
}

func TestSchedule_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	start := f.clk.Now().Add(time.Hour)
	badEnd := start.Add(-time.Minute)

	cases := []struct {
		name string
		in   calls.ScheduleInput
	}{
		{"missing participants", calls.ScheduleInput{StartTime: start}},
		{"missing start", calls.ScheduleInput{RequesterID: requester, AgentID: agent}},
		{"end before start", calls.ScheduleInput{RequesterID: requester, AgentID: agent, StartTime: start, EndTime: &badEnd}},
		{"unknown member", calls.ScheduleInput{RequesterID: requester, AgentID: "m-ghost", StartTime: start}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Schedule(context.Background(), asAdmin, tc.in)
			wantCode(t, err, "VALIDATION_ERROR")
		})
	}
	if f.gw.Creates != 0 {
		t.Errorf("gateway called %d times for rejected input", f.gw.Creates)
	}
}

func TestSchedule_CalendarFailureDegradesGracefully(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gw.FailCreate = errors.New("calendar down")

	res := f.schedule(t)
	if res.SyncWarning == "" {
		t.Error("expected sync warning")
	}
	c := res.Call
	if c.Status != domain.CallStatusScheduled {
		t.Errorf("Status = %s, want SCHEDULED", c.Status)
	}
	if c.CalendarEventID != nil || c.MeetingLink != nil {
		t.Errorf("degraded call carries linkage: %+v", c)
	}

	// The booking is queryable like any other.
	got, err := f.svc.Get(context.Background(), asRequester, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MeetingLink != nil {
		t.Error("meeting link present without calendar event")
	}
}

func TestReschedule_CommitsTimesAndUpdatesEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call

	newStart := c.StartTime.Add(24 * time.Hour)
	res, err := f.svc.Reschedule(context.Background(), asAgent, c.ID, calls.RescheduleInput{
		StartTime: newStart,
	})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if res.SyncWarning != "" {
		t.Errorf("SyncWarning = %q", res.SyncWarning)
	}
	if !res.Call.StartTime.Equal(newStart) {
		t.Errorf("StartTime = %v, want %v", res.Call.StartTime, newStart)
	}
	if res.Call.EndTime == nil || !res.Call.EndTime.Equal(*c.EndTime) {
		t.Errorf("EndTime changed unexpectedly: %v", res.Call.EndTime)
	}
	if f.gw.Updates != 1 {
		t.Errorf("gateway updates = %d, want 1", f.gw.Updates)
	}
}

func TestReschedule_NullEndTimeClearsIt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call

	res, err := f.svc.Reschedule(context.Background(), asRequester, c.ID, calls.RescheduleInput{
		StartTime: c.StartTime.Add(time.Hour),
		EndTime:   calls.Null[time.Time](),
	})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if res.Call.EndTime != nil {
		t.Errorf("EndTime = %v, want nil", res.Call.EndTime)
	}
}

func TestReschedule_GatewayFailureStillCommitsTimes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call
	f.gw.FailUpdate = errors.New("calendar down")

	newStart := c.StartTime.Add(24 * time.Hour)
	res, err := f.svc.Reschedule(context.Background(), asRequester, c.ID, calls.RescheduleInput{
		StartTime: newStart,
	})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if res.SyncWarning == "" {
		t.Error("expected sync warning")
	}
	stored, _ := f.repo.GetByID(context.Background(), c.ID)
	if !stored.StartTime.Equal(newStart) {
		t.Errorf("local StartTime = %v, want %v (committed despite gateway failure)", stored.StartTime, newStart)
	}
	if stored.CalendarEventID == nil {
		t.Error("linkage dropped on update failure; event is still live")
	}
}

func TestReschedule_PastStartRejectedBeforeGateway(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call
	updatesBefore := f.gw.Updates

	_, err := f.svc.Reschedule(context.Background(), asRequester, c.ID, calls.RescheduleInput{
		StartTime: f.clk.Now().Add(-time.Hour),
	})
	wantCode(t, err, "INVALID_TRANSITION")
	if f.gw.Updates != updatesBefore {
		t.Error("gateway called for a rejected reschedule")
	}
}

func TestReschedule_TerminalStateRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call
	if _, err := f.svc.Cancel(context.Background(), asRequester, c.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	updatesBefore := f.gw.Updates

	_, err := f.svc.Reschedule(context.Background(), asRequester, c.ID, calls.RescheduleInput{
		StartTime: f.clk.Now().Add(72 * time.Hour),
	})
	ae := wantCode(t, err, "INVALID_TRANSITION")
	if ae.Details["status"] != "CANCELLED" {
		t.Errorf("details = %v", ae.Details)
	}
	if f.gw.Updates != updatesBefore {
		t.Error("gateway called for a terminal call")
	}
}

func TestCancel_RemovesEventAndClearsLinkage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call
	eventID := *c.CalendarEventID

	res, err := f.svc.Cancel(context.Background(), asAgent, c.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Call.Status != domain.CallStatusCancelled {
		t.Errorf("Status = %s", res.Call.Status)
	}
	if res.Call.CalendarEventID != nil || res.Call.MeetingLink != nil {
		t.Errorf("linkage kept after successful delete: %+v", res.Call)
	}
	if f.gw.HasEvent(eventID) {
		t.Error("calendar event still live after cancel")
	}
}

func TestCancel_DeleteFailureKeepsLinkage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call
	f.gw.FailDelete = errors.New("calendar down")

	res, err := f.svc.Cancel(context.Background(), asRequester, c.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.SyncWarning == "" {
		t.Error("expected sync warning")
	}
	if res.Call.Status != domain.CallStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", res.Call.Status)
	}
	// The event is still live externally, so the handle is preserved.
	if res.Call.CalendarEventID == nil {
		t.Error("linkage cleared although the event was not removed")
	}
}

func TestCancel_AlreadyCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call
	if _, err := f.svc.Cancel(context.Background(), asRequester, c.ID); err != nil {
		t.Fatalf("first Cancel: %v", err)
	}
	deletesBefore := f.gw.Deletes

	_, err := f.svc.Cancel(context.Background(), asRequester, c.ID)
	wantCode(t, err, "INVALID_TRANSITION")
	if f.gw.Deletes != deletesBefore {
		t.Error("gateway delete attempted again")
	}
}

func TestComplete_AdminOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call

	_, err := f.svc.Complete(context.Background(), asAgent, c.ID)
	wantCode(t, err, "FORBIDDEN")

	res, err := f.svc.Complete(context.Background(), asAdmin, c.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Call.Status != domain.CallStatusCompleted {
		t.Errorf("Status = %s", res.Call.Status)
	}
	// Completion leaves the calendar event alone.
	if res.Call.CalendarEventID == nil || !f.gw.HasEvent(*res.Call.CalendarEventID) {
		t.Error("calendar event touched by completion")
	}

	_, err = f.svc.Complete(context.Background(), asAdmin, c.ID)
	wantCode(t, err, "INVALID_TRANSITION")
}

func TestDelete_AdminOnlyAndRemovesEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call
	eventID := *c.CalendarEventID

	err := f.svc.Delete(context.Background(), asRequester, c.ID)
	wantCode(t, err, "FORBIDDEN")

	if err := f.svc.Delete(context.Background(), asAdmin, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.gw.HasEvent(eventID) {
		t.Error("calendar event still live after delete")
	}
	_, err = f.svc.Get(context.Background(), asAdmin, c.ID)
	wantCode(t, err, "CALL_NOT_FOUND")
}

func TestGet_Authorization(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call

	for _, actor := range []calls.Actor{asRequester, asAgent, asAdmin} {
		if _, err := f.svc.Get(context.Background(), actor, c.ID); err != nil {
			t.Errorf("Get as %s: %v", actor.MemberID, err)
		}
	}
	_, err := f.svc.Get(context.Background(), asStranger, c.ID)
	wantCode(t, err, "FORBIDDEN")

	_, err = f.svc.Get(context.Background(), asAdmin, "c-missing")
	wantCode(t, err, "CALL_NOT_FOUND")
}

func TestListMine_MergesRolesWithoutDuplicates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	first := f.schedule(t).Call

	// A second call where the requester of the first acts as agent.
	res, err := f.svc.Schedule(context.Background(), asAdmin, calls.ScheduleInput{
		RequesterID: stranger,
		AgentID:     requester,
		StartTime:   f.clk.Now().Add(12 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	mine, err := f.svc.ListMine(context.Background(), asRequester)
	if err != nil {
		t.Fatalf("ListMine: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("len = %d, want 2", len(mine))
	}
	// Ordered by start time: the second call starts sooner.
	if mine[0].ID != res.Call.ID || mine[1].ID != first.ID {
		t.Errorf("order: %v, %v", mine[0].ID, mine[1].ID)
	}
}

func TestListAll_AdminOnlyWithDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.schedule(t)

	_, err := f.svc.ListAll(context.Background(), asRequester, nil, 0, 0)
	wantCode(t, err, "FORBIDDEN")

	p, err := f.svc.ListAll(context.Background(), asAdmin, nil, 0, 0)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if p.Page != 1 || p.PageSize != 20 || p.Total != 1 || len(p.Calls) != 1 {
		t.Errorf("page = %+v", p)
	}

	p, err = f.svc.ListAll(context.Background(), asAdmin, nil, 1, 1000)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if p.PageSize != 100 {
		t.Errorf("PageSize = %d, want capped at 100", p.PageSize)
	}
}

func TestUpcoming_ScopesNonAdminsToTheirCalls(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mine := f.schedule(t).Call
	other, err := f.svc.Schedule(context.Background(), asAdmin, calls.ScheduleInput{
		RequesterID: stranger,
		AgentID:     agent,
		StartTime:   f.clk.Now().Add(12 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	all, err := f.svc.Upcoming(context.Background(), asAdmin, 0)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d, want 2", len(all))
	}

	scoped, err := f.svc.Upcoming(context.Background(), asRequester, 0)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != mine.ID {
		t.Errorf("scoped = %v", scoped)
	}

	// A one-hour window excludes both calls.
	none, err := f.svc.Upcoming(context.Background(), asAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("short window returned %d calls", len(none))
	}
	_ = other
}

func TestAgentStats_CountsCompletedAndUpcoming(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	done := f.schedule(t).Call
	if _, err := f.svc.Complete(context.Background(), asAdmin, done.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	f.schedule(t)
	f.schedule(t)

	stats, err := f.svc.AgentStats(context.Background(), agent)
	if err != nil {
		t.Fatalf("AgentStats: %v", err)
	}
	if stats.Completed != 1 || stats.Upcoming != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

// staleOnceRepo fails the first Update with ErrStaleWrite to exercise the
// retry loop.
type staleOnceRepo struct {
	callrepoport.Repository
	mu     sync.Mutex
	staled bool
}

func (r *staleOnceRepo) Update(ctx context.Context, c callrepoport.Call, expected time.Time) error {
	r.mu.Lock()
	if !r.staled {
		r.staled = true
		r.mu.Unlock()
		return callrepoport.ErrStaleWrite
	}
	r.mu.Unlock()
	return r.Repository.Update(ctx, c, expected)
}

func TestCancel_RetriesOnStaleWrite(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call

	wrapped := &staleOnceRepo{Repository: f.repo}
	svc := calls.NewService(wrapped, f.dir, f.gw, f.clk, nil)

	res, err := svc.Cancel(context.Background(), asRequester, c.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Call.Status != domain.CallStatusCancelled {
		t.Errorf("Status = %s", res.Call.Status)
	}
}

// alwaysStaleRepo exhausts the retry budget.
type alwaysStaleRepo struct {
	callrepoport.Repository
}

func (r *alwaysStaleRepo) Update(ctx context.Context, c callrepoport.Call, expected time.Time) error {
	return callrepoport.ErrStaleWrite
}

func TestCancel_ConcurrentUpdateAfterRetriesExhausted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call

	svc := calls.NewService(&alwaysStaleRepo{Repository: f.repo}, f.dir, f.gw, f.clk, nil)
	_, err := svc.Cancel(context.Background(), asRequester, c.ID)
	wantCode(t, err, "CONCURRENT_UPDATE")
}

// terminalRaceRepo simulates losing a race to a completing admin: the first
// Update fails stale and the stored call flips to COMPLETED.
type terminalRaceRepo struct {
	callrepoport.Repository
	inner *memcallrepo.Repo
	mu    sync.Mutex
	raced bool
}

func (r *terminalRaceRepo) Update(ctx context.Context, c callrepoport.Call, expected time.Time) error {
	r.mu.Lock()
	if !r.raced {
		r.raced = true
		r.mu.Unlock()
		cur, err := r.inner.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		cur.Status = domain.CallStatusCompleted
		cur.UpdatedAt = cur.UpdatedAt.Add(time.Second)
		if err := r.inner.Update(ctx, cur, expected); err != nil {
			return err
		}
		return callrepoport.ErrStaleWrite
	}
	r.mu.Unlock()
	return r.Repository.Update(ctx, c, expected)
}

func TestCancel_RaceLoserSeesInvalidTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	c := f.schedule(t).Call

	wrapped := &terminalRaceRepo{Repository: f.repo, inner: f.repo}
	svc := calls.NewService(wrapped, f.dir, f.gw, f.clk, nil)

	_, err := svc.Cancel(context.Background(), asRequester, c.ID)
	ae := wantCode(t, err, "INVALID_TRANSITION")
	if ae.Details["status"] != "COMPLETED" {
		t.Errorf("details = %v", ae.Details)
	}
}

func TestRepairCalendarLink(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gw.FailCreate = errors.New("calendar down")
	degraded := f.schedule(t).Call
	f.gw.FailCreate = nil

	ok, err := f.svc.RepairCalendarLink(context.Background(), degraded.ID)
	if err != nil {
		t.Fatalf("RepairCalendarLink: %v", err)
	}
	if !ok {
		t.Fatal("expected repair")
	}
	stored, _ := f.repo.GetByID(context.Background(), degraded.ID)
	if stored.CalendarEventID == nil || stored.MeetingLink == nil {
		t.Fatalf("linkage not persisted: %+v", stored)
	}
	if !f.gw.HasEvent(*stored.CalendarEventID) {
		t.Error("no live event behind the repaired linkage")
	}

	// Second run is a no-op.
	ok, err = f.svc.RepairCalendarLink(context.Background(), degraded.ID)
	if err != nil || ok {
		t.Errorf("second repair: ok=%v err=%v", ok, err)
	}
}
