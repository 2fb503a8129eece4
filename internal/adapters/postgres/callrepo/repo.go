package callrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/wildpath-tours/call-scheduler-api/internal/adapters/postgres"
	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
)

// Repo is a Postgres implementation of callrepo.Repository.
//
// Schema (migrations live with the deployment):
//
//	CREATE TABLE planning_calls (
//	    id                UUID PRIMARY KEY,
//	    requester_id      UUID        NOT NULL,
//	    agent_id          UUID        NOT NULL,
//	    start_time        TIMESTAMPTZ NOT NULL,
//	    end_time          TIMESTAMPTZ,
//	    status            TEXT        NOT NULL,
//	    meeting_link      TEXT,
//	    calendar_event_id TEXT,
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    updated_at        TIMESTAMPTZ NOT NULL,
//	    CONSTRAINT planning_calls_time_range CHECK (end_time IS NULL OR end_time > start_time)
//	);
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const callColumns = `
	id, requester_id, agent_id, start_time, end_time,
	status, meeting_link, calendar_event_id, created_at, updated_at
`

func (r *Repo) Create(ctx context.Context, c callrepo.Call) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	callUUID, err := uuid.Parse(string(c.ID))
	if err != nil {
		return fmt.Errorf("invalid call id: %w", err)
	}
	requesterUUID, err := uuid.Parse(string(c.RequesterID))
	if err != nil {
		return fmt.Errorf("invalid requester id: %w", err)
	}
	agentUUID, err := uuid.Parse(string(c.AgentID))
	if err != nil {
		return fmt.Errorf("invalid agent id: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO planning_calls (
			id, requester_id, agent_id, start_time, end_time,
			status, meeting_link, calendar_event_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		callUUID,
		requesterUUID,
		agentUUID,
		c.StartTime.UTC(),
		utcPtr(c.EndTime),
		string(c.Status),
		c.MeetingLink,
		c.CalendarEventID,
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	)
	if err != nil {
		if pe, ok := postgres.AsPgError(err); ok && pe.Code == postgres.UniqueViolationCode {
			return callrepo.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id domain.CallID) (callrepo.Call, error) {
	if r.pool == nil {
		return callrepo.Call{}, errors.New("nil postgres pool")
	}
	callUUID, err := uuid.Parse(string(id))
	if err != nil {
		return callrepo.Call{}, callrepo.ErrNotFound
	}

	row := r.pool.QueryRow(ctx, `SELECT `+callColumns+` FROM planning_calls WHERE id = $1`, callUUID)
	c, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return callrepo.Call{}, callrepo.ErrNotFound
		}
		return callrepo.Call{}, err
	}
	return c, nil
}

// Update is the compare-and-swap write: the row is touched only when its
// stored updated_at matches the expectation, which serializes concurrent
// lifecycle transitions on the same call.
func (r *Repo) Update(ctx context.Context, c callrepo.Call, expected time.Time) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	callUUID, err := uuid.Parse(string(c.ID))
	if err != nil {
		return callrepo.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE planning_calls
		SET start_time = $2,
		    end_time = $3,
		    status = $4,
		    meeting_link = $5,
		    calendar_event_id = $6,
		    updated_at = $7
		WHERE id = $1 AND updated_at = $8
	`,
		callUUID,
		c.StartTime.UTC(),
		utcPtr(c.EndTime),
		string(c.Status),
		c.MeetingLink,
		c.CalendarEventID,
		c.UpdatedAt.UTC(),
		expected.UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a stale expectation.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM planning_calls WHERE id = $1)`, callUUID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return callrepo.ErrNotFound
		}
		return callrepo.ErrStaleWrite
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id domain.CallID) error {
	if r.pool == nil {
		return errors.New("nil postgres pool")
	}
	callUUID, err := uuid.Parse(string(id))
	if err != nil {
		return callrepo.ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM planning_calls WHERE id = $1`, callUUID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return callrepo.ErrNotFound
	}
	return nil
}

func (r *Repo) ListByRequester(ctx context.Context, id domain.MemberID) ([]callrepo.Call, error) {
	return r.list(ctx, `WHERE requester_id = $1`, mustMemberUUID(id))
}

func (r *Repo) ListByAgent(ctx context.Context, id domain.MemberID) ([]callrepo.Call, error) {
	return r.list(ctx, `WHERE agent_id = $1`, mustMemberUUID(id))
}

func (r *Repo) List(ctx context.Context, f callrepo.ListFilter) ([]callrepo.Call, int, error) {
	if r.pool == nil {
		return nil, 0, errors.New("nil postgres pool")
	}

	where := ``
	args := []any{}
	if f.Status != nil {
		where = `WHERE status = $1`
		args = append(args, string(*f.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM planning_calls `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = total + 1
	}
	q := `SELECT ` + callColumns + ` FROM planning_calls ` + where +
		fmt.Sprintf(` ORDER BY start_time ASC, created_at ASC, id ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	cs, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return cs, total, nil
}

func (r *Repo) ListUpcoming(ctx context.Context, from, to time.Time) ([]callrepo.Call, error) {
	return r.list(ctx,
		`WHERE status = 'SCHEDULED' AND start_time >= $1 AND start_time < $2`,
		from.UTC(), to.UTC())
}

func (r *Repo) ListDegraded(ctx context.Context, from time.Time) ([]callrepo.Call, error) {
	return r.list(ctx,
		`WHERE status = 'SCHEDULED' AND calendar_event_id IS NULL AND start_time >= $1`,
		from.UTC())
}

func (r *Repo) CountByAgentAndStatus(ctx context.Context, agent domain.MemberID, status domain.CallStatus) (int, error) {
	if r.pool == nil {
		return 0, errors.New("nil postgres pool")
	}
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM planning_calls WHERE agent_id = $1 AND status = $2`,
		mustMemberUUID(agent), string(status),
	).Scan(&n)
	return n, err
}

func (r *Repo) CountUpcomingByAgent(ctx context.Context, agent domain.MemberID, from time.Time) (int, error) {
	if r.pool == nil {
		return 0, errors.New("nil postgres pool")
	}
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM planning_calls WHERE agent_id = $1 AND status = 'SCHEDULED' AND start_time >= $2`,
		mustMemberUUID(agent), from.UTC(),
	).Scan(&n)
	return n, err
}

// --- helpers ---

func (r *Repo) list(ctx context.Context, where string, args ...any) ([]callrepo.Call, error) {
	if r.pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	return r.query(ctx,
		`SELECT `+callColumns+` FROM planning_calls `+where+` ORDER BY start_time ASC, created_at ASC, id ASC`,
		args...)
}

func (r *Repo) query(ctx context.Context, q string, args ...any) ([]callrepo.Call, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]callrepo.Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCall(row pgx.Row) (callrepo.Call, error) {
	var (
		id          uuid.UUID
		requesterID uuid.UUID
		agentID     uuid.UUID
		startTime   time.Time
		endTime     *time.Time
		status      string
		meetingLink *string
		eventID     *string
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(
		&id, &requesterID, &agentID, &startTime, &endTime,
		&status, &meetingLink, &eventID, &createdAt, &updatedAt,
	); err != nil {
		return callrepo.Call{}, err
	}
	return callrepo.Call{
		ID:              domain.CallID(id.String()),
		RequesterID:     domain.MemberID(requesterID.String()),
		AgentID:         domain.MemberID(agentID.String()),
		StartTime:       startTime.UTC(),
		EndTime:         utcPtr(endTime),
		Status:          domain.CallStatus(status),
		MeetingLink:     cloneStringPtr(meetingLink),
		CalendarEventID: cloneStringPtr(eventID),
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       updatedAt.UTC(),
	}, nil
}

// mustMemberUUID degrades an unparsable member id to the zero UUID, which
// matches no rows; list queries for malformed ids return empty results
// rather than an error.
func mustMemberUUID(id domain.MemberID) uuid.UUID {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return uuid.UUID{}
	}
	return u
}

func utcPtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := p.UTC()
	return &v
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
