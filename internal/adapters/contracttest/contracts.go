package contracttest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	callrepoport "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
	idempotencyport "github.com/wildpath-tours/call-scheduler-api/internal/ports/out/idempotency"
)

type CleanupFunc = func()

type CallRepoFactory func(t *testing.T) (callrepoport.Repository, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

func newTestCall(agent, requester domain.MemberID, start time.Time) callrepoport.Call {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	return callrepoport.Call{
		ID:          domain.CallID(uuid.NewString()),
		RequesterID: requester,
		AgentID:     agent,
		StartTime:   start.UTC(),
		Status:      domain.CallStatusScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RunCallRepo exercises the repository semantics every adapter must share:
// sentinel errors, compare-and-swap updates, and the query surface.
func RunCallRepo(t *testing.T, newRepo CallRepoFactory) {
	t.Helper()
	ctx := context.Background()

	agent := domain.MemberID(uuid.NewString())
	requester := domain.MemberID(uuid.NewString())
	other := domain.MemberID(uuid.NewString())
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		c := newTestCall(agent, requester, base)
		end := base.Add(time.Hour)
		c.EndTime = &end
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Create(ctx, c); err != callrepoport.ErrAlreadyExists {
			t.Fatalf("duplicate Create: got %v, want ErrAlreadyExists", err)
		}
		got, err := repo.GetByID(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.ID != c.ID || got.RequesterID != requester || got.AgentID != agent {
			t.Fatalf("unexpected call: %+v", got)
		}
		if got.EndTime == nil || !got.EndTime.Equal(end) {
			t.Fatalf("EndTime = %v, want %v", got.EndTime, end)
		}
		if got.MeetingLink != nil || got.CalendarEventID != nil {
			t.Fatalf("expected nil linkage, got %+v", got)
		}
		if _, err := repo.GetByID(ctx, domain.CallID(uuid.NewString())); err != callrepoport.ErrNotFound {
			t.Fatalf("GetByID missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("compare-and-swap update", func(t *testing.T) {
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		c := newTestCall(agent, requester, base)
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}

		upd := c
		link := "https://meet.example.com/abc"
		evt := "evt-abc"
		upd.MeetingLink = &link
		upd.CalendarEventID = &evt
		upd.UpdatedAt = c.UpdatedAt.Add(time.Second)
		if err := repo.Update(ctx, upd, c.UpdatedAt); err != nil {
			t.Fatalf("Update: %v", err)
		}

		// The first expectation is now stale.
		stale := upd
		stale.UpdatedAt = upd.UpdatedAt.Add(time.Second)
		if err := repo.Update(ctx, stale, c.UpdatedAt); err != callrepoport.ErrStaleWrite {
			t.Fatalf("stale Update: got %v, want ErrStaleWrite", err)
		}

		missing := newTestCall(agent, requester, base)
		if err := repo.Update(ctx, missing, missing.UpdatedAt); err != callrepoport.ErrNotFound {
			t.Fatalf("Update missing: got %v, want ErrNotFound", err)
		}

		got, err := repo.GetByID(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.CalendarEventID == nil || *got.CalendarEventID != evt {
			t.Fatalf("CalendarEventID = %v, want %q", got.CalendarEventID, evt)
		}
	})

	t.Run("delete", func(t *testing.T) {
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		c := newTestCall(agent, requester, base)
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := repo.Delete(ctx, c.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := repo.Delete(ctx, c.ID); err != callrepoport.ErrNotFound {
			t.Fatalf("second Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("participant listings and ordering", func(t *testing.T) {
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		c1 := newTestCall(agent, requester, base.Add(2*time.Hour))
		c2 := newTestCall(agent, other, base)
		c3 := newTestCall(other, requester, base.Add(time.Hour))
		for _, c := range []callrepoport.Call{c1, c2, c3} {
			if err := repo.Create(ctx, c); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		byAgent, err := repo.ListByAgent(ctx, agent)
		if err != nil {
			t.Fatalf("ListByAgent: %v", err)
		}
		if len(byAgent) != 2 || byAgent[0].ID != c2.ID || byAgent[1].ID != c1.ID {
			t.Fatalf("ListByAgent order: %+v", ids(byAgent))
		}

		byRequester, err := repo.ListByRequester(ctx, requester)
		if err != nil {
			t.Fatalf("ListByRequester: %v", err)
		}
		if len(byRequester) != 2 || byRequester[0].ID != c3.ID || byRequester[1].ID != c1.ID {
			t.Fatalf("ListByRequester order: %+v", ids(byRequester))
		}
	})

	t.Run("list with filter and pagination", func(t *testing.T) {
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		var created []callrepoport.Call
		for i := 0; i < 5; i++ {
			c := newTestCall(agent, requester, base.Add(time.Duration(i)*time.Hour))
			if i == 4 {
				c.Status = domain.CallStatusCancelled
			}
			if err := repo.Create(ctx, c); err != nil {
				t.Fatalf("Create: %v", err)
			}
			created = append(created, c)
		}

		scheduled := domain.CallStatusScheduled
		cs, total, err := repo.List(ctx, callrepoport.ListFilter{Status: &scheduled, Page: 1, PageSize: 3})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if total != 4 {
			t.Fatalf("total = %d, want 4", total)
		}
		if len(cs) != 3 || cs[0].ID != created[0].ID {
			t.Fatalf("page 1: %+v", ids(cs))
		}
		cs, _, err = repo.List(ctx, callrepoport.ListFilter{Status: &scheduled, Page: 2, PageSize: 3})
		if err != nil {
			t.Fatalf("List page 2: %v", err)
		}
		if len(cs) != 1 || cs[0].ID != created[3].ID {
			t.Fatalf("page 2: %+v", ids(cs))
		}
	})

	t.Run("upcoming and degraded windows", func(t *testing.T) {
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := base
		inWindow := newTestCall(agent, requester, now.Add(time.Hour))
		pastCall := newTestCall(agent, requester, now.Add(-time.Hour))
		farOut := newTestCall(agent, requester, now.Add(48*time.Hour))
		linked := newTestCall(agent, requester, now.Add(2*time.Hour))
		evt := "evt-linked"
		linked.CalendarEventID = &evt
		cancelled := newTestCall(agent, requester, now.Add(3*time.Hour))
		cancelled.Status = domain.CallStatusCancelled
		for _, c := range []callrepoport.Call{inWindow, pastCall, farOut, linked, cancelled} {
			if err := repo.Create(ctx, c); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		up, err := repo.ListUpcoming(ctx, now, now.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("ListUpcoming: %v", err)
		}
		if len(up) != 2 || up[0].ID != inWindow.ID || up[1].ID != linked.ID {
			t.Fatalf("ListUpcoming: %+v", ids(up))
		}

		deg, err := repo.ListDegraded(ctx, now)
		if err != nil {
			t.Fatalf("ListDegraded: %v", err)
		}
		if len(deg) != 2 || deg[0].ID != inWindow.ID || deg[1].ID != farOut.ID {
			t.Fatalf("ListDegraded: %+v", ids(deg))
		}
	})

	t.Run("agent counters", func(t *testing.T) {
		repo, cleanup := newRepo(t)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := base
		done := newTestCall(agent, requester, now.Add(-24*time.Hour))
		done.Status = domain.CallStatusCompleted
		up1 := newTestCall(agent, requester, now.Add(time.Hour))
		up2 := newTestCall(agent, other, now.Add(2*time.Hour))
		otherAgent := newTestCall(other, requester, now.Add(time.Hour))
		for _, c := range []callrepoport.Call{done, up1, up2, otherAgent} {
			if err := repo.Create(ctx, c); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		completed, err := repo.CountByAgentAndStatus(ctx, agent, domain.CallStatusCompleted)
		if err != nil {
			t.Fatalf("CountByAgentAndStatus: %v", err)
		}
		if completed != 1 {
			t.Fatalf("completed = %d, want 1", completed)
		}
		upcoming, err := repo.CountUpcomingByAgent(ctx, agent, now)
		if err != nil {
			t.Fatalf("CountUpcomingByAgent: %v", err)
		}
		if upcoming != 2 {
			t.Fatalf("upcoming = %d, want 2", upcoming)
		}
	})
}

// RunIdempotencyStore exercises replay and overwrite semantics shared by
// every idempotency store.
func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:      "k-1",
		Subject:  domain.SubjectID("sub-1"),
		Method:   "POST",
		Route:    "/calls",
		BodyHash: "hash-abc",
	}
	rec := idempotencyport.Record{
		StatusCode:  201,
		ContentType: "application/json",
		Body:        []byte(`{"callId":"c-1"}`),
		CreatedAt:   time.Unix(123, 0).UTC(),
	}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if got.StatusCode != 201 || got.ContentType != "application/json" || string(got.Body) != `{"callId":"c-1"}` {
		t.Fatalf("unexpected record: %+v", got)
	}

	// A differing fingerprint component is a miss.
	miss := fp
	miss.BodyHash = "hash-def"
	if _, ok, err := store.Get(ctx, miss); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte(`{"callId":"c-2"}`)
	if err := store.Put(ctx, fp, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, fp)
	if err != nil || !ok || string(got.Body) != `{"callId":"c-2"}` {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}
}

func ids(cs []callrepoport.Call) []domain.CallID {
	out := make([]domain.CallID, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
