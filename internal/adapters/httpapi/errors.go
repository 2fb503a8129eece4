package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/wildpath-tours/call-scheduler-api/internal/app/calls"
)

// errorResponse is the uniform error envelope for every non-2xx body.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string                             `json:"code"`
	Message   string                             `json:"message"`
	Details   nullable.Nullable[map[string]any]  `json:"details,omitempty"`
	RequestID nullable.Nullable[string]          `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := errorBody{Code: code, Message: message}
	if details != nil {
		body.Details = nullable.NewNullableWithValue(details)
	}
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		body.RequestID = nullable.NewNullableWithValue(rid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: body})
}

// writeServiceError maps application errors onto the envelope; anything
// that is not a typed *calls.Error becomes an opaque 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *calls.Error
	if errors.As(err, &ae) {
		writeError(w, r, ae.Status, ae.Code, ae.Message, ae.Details)
		return
	}
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
