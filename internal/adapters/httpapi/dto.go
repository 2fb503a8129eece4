package httpapi

import (
	"time"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/wildpath-tours/call-scheduler-api/internal/app/calls"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/callrepo"
)

// callDTO is the wire shape of a planning call. Nullable fields are
// rendered as explicit nulls so clients can distinguish "no meeting link
// yet" from an omitted field.
type callDTO struct {
	CallID          string                         `json:"callId"`
	RequesterID     string                         `json:"requesterId"`
	AgentID         string                         `json:"agentId"`
	StartTime       time.Time                      `json:"startTime"`
	EndTime         nullable.Nullable[time.Time]   `json:"endTime"`
	Status          string                         `json:"status"`
	MeetingLink     nullable.Nullable[string]      `json:"meetingLink"`
	CalendarEventID nullable.Nullable[string]      `json:"calendarEventId"`
	CreatedAt       time.Time                      `json:"createdAt"`
	UpdatedAt       time.Time                      `json:"updatedAt"`
	SyncWarning     nullable.Nullable[string]      `json:"syncWarning,omitempty"`
}

func toCallDTO(c callrepo.Call) callDTO {
	dto := callDTO{
		CallID:          string(c.ID),
		RequesterID:     string(c.RequesterID),
		AgentID:         string(c.AgentID),
		StartTime:       c.StartTime,
		EndTime:         nullable.NewNullNullable[time.Time](),
		Status:          string(c.Status),
		MeetingLink:     nullable.NewNullNullable[string](),
		CalendarEventID: nullable.NewNullNullable[string](),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.EndTime != nil {
		dto.EndTime = nullable.NewNullableWithValue(*c.EndTime)
	}
	if c.MeetingLink != nil {
		dto.MeetingLink = nullable.NewNullableWithValue(*c.MeetingLink)
	}
	if c.CalendarEventID != nil {
		dto.CalendarEventID = nullable.NewNullableWithValue(*c.CalendarEventID)
	}
	return dto
}

func toResultDTO(res calls.Result) callDTO {
	dto := toCallDTO(res.Call)
	if res.SyncWarning != "" {
		dto.SyncWarning = nullable.NewNullableWithValue(res.SyncWarning)
	}
	return dto
}

type callListDTO struct {
	Calls []callDTO `json:"calls"`
}

func toCallListDTO(cs []callrepo.Call) callListDTO {
	out := callListDTO{Calls: make([]callDTO, 0, len(cs))}
	for _, c := range cs {
		out.Calls = append(out.Calls, toCallDTO(c))
	}
	return out
}

type callPageDTO struct {
	Calls    []callDTO `json:"calls"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}

func toCallPageDTO(p calls.Page) callPageDTO {
	out := callPageDTO{
		Calls:    make([]callDTO, 0, len(p.Calls)),
		Total:    p.Total,
		Page:     p.Page,
		PageSize: p.PageSize,
	}
	for _, c := range p.Calls {
		out.Calls = append(out.Calls, toCallDTO(c))
	}
	return out
}

type agentStatsDTO struct {
	AgentID   string `json:"agentId"`
	Completed int    `json:"completed"`
	Upcoming  int    `json:"upcoming"`
}

type scheduleRequest struct {
	RequesterID string     `json:"requesterId"`
	AgentID     string     `json:"agentId"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`

	ExtraAttendeeEmails []openapi_types.Email `json:"extraAttendeeEmails,omitempty"`
}

// rescheduleRequest uses tri-state fields: an omitted endTime keeps the
// stored value, an explicit null clears it.
type rescheduleRequest struct {
	StartTime   time.Time                    `json:"startTime"`
	EndTime     nullable.Nullable[time.Time] `json:"endTime,omitempty"`
	MeetingLink nullable.Nullable[string]    `json:"meetingLink,omitempty"`
}

func (r rescheduleRequest) toInput() calls.RescheduleInput {
	in := calls.RescheduleInput{
		StartTime:   r.StartTime,
		EndTime:     optionalFromNullable(r.EndTime),
		MeetingLink: optionalFromNullable(r.MeetingLink),
	}
	return in
}

func optionalFromNullable[T any](n nullable.Nullable[T]) calls.Optional[T] {
	if !n.IsSpecified() {
		return calls.Unspecified[T]()
	}
	if n.IsNull() {
		return calls.Null[T]()
	}
	v, _ := n.Get()
	return calls.Some(v)
}
