package callrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
)

// Repo is an in-memory implementation of callrepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu   sync.RWMutex
	byID map[domain.CallID]callrepo.Call
}

func NewRepo() *Repo {
	return &Repo{
		byID: make(map[domain.CallID]callrepo.Call),
	}
}

func (r *Repo) Create(ctx context.Context, c callrepo.Call) error {
	_ = ctx
	if c.ID == "" {
		return callrepo.ErrAlreadyExists // treat empty ID as invalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; ok {
		return callrepo.ErrAlreadyExists
	}
	r.byID[c.ID] = cloneCall(c)
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.CallID) (callrepo.Call, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return callrepo.Call{}, callrepo.ErrNotFound
	}
	return cloneCall(c), nil
}

func (r *Repo) Update(ctx context.Context, c callrepo.Call, expected time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[c.ID]
	if !ok {
		return callrepo.ErrNotFound
	}
	if !cur.UpdatedAt.Equal(expected) {
		return callrepo.ErrStaleWrite
	}
	r.byID[c.ID] = cloneCall(c)
	return nil
}

func (r *Repo) Delete(ctx context.Context, id domain.CallID) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return callrepo.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *Repo) ListByRequester(ctx context.Context, id domain.MemberID) ([]callrepo.Call, error) {
	return r.listWhere(ctx, func(c callrepo.Call) bool { return c.RequesterID == id })
}

func (r *Repo) ListByAgent(ctx context.Context, id domain.MemberID) ([]callrepo.Call, error) {
	return r.listWhere(ctx, func(c callrepo.Call) bool { return c.AgentID == id })
}

func (r *Repo) List(ctx context.Context, f callrepo.ListFilter) ([]callrepo.Call, int, error) {
	all, err := r.listWhere(ctx, func(c callrepo.Call) bool {
		return f.Status == nil || c.Status == *f.Status
	})
	if err != nil {
		return nil, 0, err
	}
	total := len(all)

	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = total
	}
	lo := (page - 1) * pageSize
	if lo >= total {
		return []callrepo.Call{}, total, nil
	}
	hi := lo + pageSize
	if hi > total {
		hi = total
	}
	return all[lo:hi], total, nil
}

func (r *Repo) ListUpcoming(ctx context.Context, from, to time.Time) ([]callrepo.Call, error) {
	return r.listWhere(ctx, func(c callrepo.Call) bool {
		return c.Status == domain.CallStatusScheduled &&
			!c.StartTime.Before(from) && c.StartTime.Before(to)
	})
}

func (r *Repo) ListDegraded(ctx context.Context, from time.Time) ([]callrepo.Call, error) {
	return r.listWhere(ctx, func(c callrepo.Call) bool {
		return c.Status == domain.CallStatusScheduled &&
			c.CalendarEventID == nil && !c.StartTime.Before(from)
	})
}

func (r *Repo) CountByAgentAndStatus(ctx context.Context, agent domain.MemberID, status domain.CallStatus) (int, error) {
	cs, err := r.listWhere(ctx, func(c callrepo.Call) bool {
		return c.AgentID == agent && c.Status == status
	})
	if err != nil {
		return 0, err
	}
	return len(cs), nil
}

func (r *Repo) CountUpcomingByAgent(ctx context.Context, agent domain.MemberID, from time.Time) (int, error) {
	cs, err := r.listWhere(ctx, func(c callrepo.Call) bool {
		return c.AgentID == agent && c.Status == domain.CallStatusScheduled && !c.StartTime.Before(from)
	})
	if err != nil {
		return 0, err
	}
	return len(cs), nil
}

func (r *Repo) listWhere(ctx context.Context, keep func(callrepo.Call) bool) ([]callrepo.Call, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]callrepo.Call, 0)
	for _, c := range r.byID {
		if keep(c) {
			out = append(out, cloneCall(c))
		}
	}
	sortCalls(out)
	return out, nil
}

func cloneCall(c callrepo.Call) callrepo.Call {
	cp := c
	cp.EndTime = cloneTimePtr(c.EndTime)
	cp.MeetingLink = cloneStringPtr(c.MeetingLink)
	cp.CalendarEventID = cloneStringPtr(c.CalendarEventID)
	return cp
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sortCalls(cs []callrepo.Call) {
	// Ordering rule: startTime ascending, then createdAt, then ID.
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
