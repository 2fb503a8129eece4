package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wildpath-tours/call-scheduler-api/internal/app/calls"
	"github.com/wildpath-tours/call-scheduler-api/internal/domain"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/directory"
	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/idempotency"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP adapter over the scheduling service. It decodes and
// validates requests, resolves the caller into an Actor, and maps typed
// service errors onto the error envelope.
type Server struct {
	Calls *calls.Service
	Dir   directory.Directory
	Idem  idempotency.Store
}

func NewServer(callsSvc *calls.Service, dir directory.Directory, idem idempotency.Store) *Server {
	return &Server{Calls: callsSvc, Dir: dir, Idem: idem}
}

// resolveActor turns the token identity into a member-backed actor. A
// valid token whose subject has no member record is rejected; membership
// is provisioned out of band.
func (s *Server) resolveActor(w http.ResponseWriter, r *http.Request) (calls.Actor, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing subject", nil)
		return calls.Actor{}, false
	}
	p, err := s.Dir.GetBySubject(r.Context(), id.Subject)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "MEMBER_NOT_PROVISIONED",
				"no member profile exists for the authenticated subject", nil)
			return calls.Actor{}, false
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return calls.Actor{}, false
	}
	return calls.Actor{
		MemberID: p.ID,
		Admin:    id.Role == domain.RoleAdmin,
	}, true
}

func (s *Server) handleScheduleCall(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in := calls.ScheduleInput{
		RequesterID: domain.MemberID(req.RequesterID),
		AgentID:     domain.MemberID(req.AgentID),
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
	for _, e := range req.ExtraAttendeeEmails {
		in.ExtraAttendeeEmails = append(in.ExtraAttendeeEmails, string(e))
	}

	res, err := s.Calls.Schedule(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	c, err := s.Calls.Get(r.Context(), actor, domain.CallID(chi.URLParam(r, "callId")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallDTO(c))
}

func (s *Server) handleRescheduleCall(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.Calls.Reschedule(r.Context(), actor, domain.CallID(chi.URLParam(r, "callId")), req.toInput())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (s *Server) handleCancelCall(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	res, err := s.Calls.Cancel(r.Context(), actor, domain.CallID(chi.URLParam(r, "callId")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (s *Server) handleCompleteCall(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	res, err := s.Calls.Complete(r.Context(), actor, domain.CallID(chi.URLParam(r, "callId")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (s *Server) handleDeleteCall(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	if err := s.Calls.Delete(r.Context(), actor, domain.CallID(chi.URLParam(r, "callId"))); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMyCalls(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	cs, err := s.Calls.ListMine(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallListDTO(cs))
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}

	var status *domain.CallStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := domain.CallStatus(v)
		switch st {
		case domain.CallStatusScheduled, domain.CallStatusCompleted, domain.CallStatusCancelled:
			status = &st
		default:
			writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown status filter", map[string]any{"status": v})
			return
		}
	}
	page, ok := queryInt(w, r, "page", 0)
	if !ok {
		return
	}
	pageSize, ok := queryInt(w, r, "pageSize", 0)
	if !ok {
		return
	}

	p, err := s.Calls.ListAll(r.Context(), actor, status, page, pageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallPageDTO(p))
}

func (s *Server) handleListUpcoming(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.resolveActor(w, r)
	if !ok {
		return
	}
	days, ok := queryInt(w, r, "days", 0)
	if !ok {
		return
	}
	cs, err := s.Calls.Upcoming(r.Context(), actor, time.Duration(days)*24*time.Hour)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCallListDTO(cs))
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.resolveActor(w, r); !ok {
		return
	}
	stats, err := s.Calls.AgentStats(r.Context(), domain.MemberID(chi.URLParam(r, "agentId")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agentStatsDTO{
		AgentID:   string(stats.AgentID),
		Completed: stats.Completed,
		Upcoming:  stats.Upcoming,
	})
}

// withIdempotency adds Idempotency-Key support to a mutating handler:
// a repeated request with the same key, caller, route and payload replays
// the recorded response; the same key with a different payload is a 409.
// Requests without the header pass through untouched.
func (s *Server) withIdempotency(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" || s.Idem == nil {
			next(w, r)
			return
		}
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing subject", nil)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "unreadable request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		sum := sha256.Sum256(body)
		bodyHash := hex.EncodeToString(sum[:])

		// The meta record pins the key to one payload; reuse with a
		// different payload is rejected rather than silently re-executed.
		metaFP := idempotency.Fingerprint{
			Key:     idempotency.Key(key),
			Subject: id.Subject,
			Method:  r.Method,
			Route:   route,
		}
		if meta, found, err := s.Idem.Get(r.Context(), metaFP); err == nil && found {
			if string(meta.Body) != bodyHash {
				writeError(w, r, http.StatusConflict, "IDEMPOTENCY_KEY_REUSE",
					"idempotency key reuse with different payload", nil)
				return
			}
			respFP := metaFP
			respFP.BodyHash = bodyHash
			if rec, found, err := s.Idem.Get(r.Context(), respFP); err == nil && found {
				w.Header().Set("Content-Type", rec.ContentType)
				w.WriteHeader(rec.StatusCode)
				_, _ = w.Write(rec.Body)
				return
			}
		}

		rw := &responseBuffer{header: make(http.Header)}
		next(rw, r)

		// Record only successful outcomes; errors stay retryable.
		if rw.status >= 200 && rw.status < 300 {
			now := time.Now().UTC()
			_ = s.Idem.Put(r.Context(), metaFP, idempotency.Record{
				StatusCode:  http.StatusOK,
				ContentType: "text/plain",
				Body:        []byte(bodyHash),
				CreatedAt:   now,
			})
			respFP := metaFP
			respFP.BodyHash = bodyHash
			_ = s.Idem.Put(r.Context(), respFP, idempotency.Record{
				StatusCode:  rw.status,
				ContentType: rw.header.Get("Content-Type"),
				Body:        rw.body.Bytes(),
				CreatedAt:   now,
			})
		}

		for k, vs := range rw.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(rw.statusOr200())
		_, _ = w.Write(rw.body.Bytes())
	}
}

// responseBuffer captures a handler's response so it can be both sent and
// recorded for replay.
type responseBuffer struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (b *responseBuffer) Header() http.Header { return b.header }

func (b *responseBuffer) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *responseBuffer) statusOr200() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", map[string]any{
			"reason": err.Error(),
		})
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"query parameter must be a non-negative integer", map[string]any{"param": name, "value": v})
		return 0, false
	}
	return n, true
}
